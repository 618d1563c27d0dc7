package netdetect

import "time"

// Stats is a point-in-time snapshot of the detector's rolling counters.
type Stats struct {
	StateChangeCount  int
	OnlineEventCount  int
	OfflineEventCount int

	PingAttemptCount int
	PingSuccessCount int
	PingFailureCount int

	AvgPingLatency    time.Duration
	LastPingLatency   time.Duration
	LastPingTimestamp time.Time

	OnlineTime  time.Duration
	OfflineTime time.Duration
}

// UptimePercentage is onlineTime / (onlineTime + offlineTime) * 100, or 0
// if no time has accumulated in either state yet.
func (s Stats) UptimePercentage() float64 {
	total := s.OnlineTime + s.OfflineTime
	if total == 0 {
		return 0
	}
	return float64(s.OnlineTime) / float64(total) * 100
}

// statsAccumulator tracks the rolling counters behind Detector.Stats. Not
// safe for concurrent use on its own; callers hold Detector.mu.
type statsAccumulator struct {
	stateChangeCount  int
	onlineEventCount  int
	offlineEventCount int

	pingAttemptCount int
	pingSuccessCount int
	pingFailureCount int
	pingLatencySum   time.Duration

	lastPingLatency   time.Duration
	lastPingTimestamp time.Time

	onlineTime  time.Duration
	offlineTime time.Duration
}

func (a *statsAccumulator) recordPingAttempt(success bool, latency time.Duration) {
	a.pingAttemptCount++
	if success {
		a.pingSuccessCount++
	} else {
		a.pingFailureCount++
	}
	a.pingLatencySum += latency
	a.lastPingLatency = latency
	a.lastPingTimestamp = time.Now().UTC()
}

func (a *statsAccumulator) recordTransition(prev State, prevSince time.Time, next State, now time.Time) {
	a.stateChangeCount++
	switch next {
	case StateOnline:
		a.onlineEventCount++
	case StateOffline:
		a.offlineEventCount++
	}

	if !prevSince.IsZero() {
		elapsed := now.Sub(prevSince)
		switch prev {
		case StateOnline:
			a.onlineTime += elapsed
		case StateOffline:
			a.offlineTime += elapsed
		}
	}
}

func (a *statsAccumulator) snapshot() Stats {
	var avg time.Duration
	if a.pingAttemptCount > 0 {
		avg = a.pingLatencySum / time.Duration(a.pingAttemptCount)
	}
	return Stats{
		StateChangeCount:  a.stateChangeCount,
		OnlineEventCount:  a.onlineEventCount,
		OfflineEventCount: a.offlineEventCount,
		PingAttemptCount:  a.pingAttemptCount,
		PingSuccessCount:  a.pingSuccessCount,
		PingFailureCount:  a.pingFailureCount,
		AvgPingLatency:    avg,
		LastPingLatency:   a.lastPingLatency,
		LastPingTimestamp: a.lastPingTimestamp,
		OnlineTime:        a.onlineTime,
		OfflineTime:       a.offlineTime,
	}
}

// GetStats returns a snapshot of the detector's rolling statistics.
func (d *Detector) GetStats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats.snapshot()
}

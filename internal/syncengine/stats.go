package syncengine

import "time"

// Status is the engine's current run state.
type Status struct {
	Initialized bool
	Running     bool
	Paused      bool
}

// Stats accumulates across sync() runs.
type Stats struct {
	TotalSyncs      int
	SuccessfulSyncs int
	FailedSyncs     int
	AvgSyncDuration time.Duration
	LastSyncTime    time.Time
	LastSyncSuccess bool
}

type statsAccumulator struct {
	totalSyncs      int
	successfulSyncs int
	failedSyncs     int
	durationSum     time.Duration
	lastSyncTime    time.Time
	lastSyncSuccess bool
}

func (a *statsAccumulator) record(success bool, duration time.Duration, at time.Time) {
	a.totalSyncs++
	if success {
		a.successfulSyncs++
	} else {
		a.failedSyncs++
	}
	a.durationSum += duration
	a.lastSyncTime = at
	a.lastSyncSuccess = success
}

func (a *statsAccumulator) snapshot() Stats {
	var avg time.Duration
	if a.totalSyncs > 0 {
		avg = a.durationSum / time.Duration(a.totalSyncs)
	}
	return Stats{
		TotalSyncs:      a.totalSyncs,
		SuccessfulSyncs: a.successfulSyncs,
		FailedSyncs:     a.failedSyncs,
		AvgSyncDuration: avg,
		LastSyncTime:    a.lastSyncTime,
		LastSyncSuccess: a.lastSyncSuccess,
	}
}

// rollingETA estimates time remaining from the average duration observed
// so far this run times the number of batches left.
type rollingETA struct {
	sum   time.Duration
	count int
}

func (r *rollingETA) record(d time.Duration) {
	r.sum += d
	r.count++
}

func (r *rollingETA) estimate(remainingBatches int) time.Duration {
	if r.count == 0 || remainingBatches <= 0 {
		return 0
	}
	avg := r.sum / time.Duration(r.count)
	return avg * time.Duration(remainingBatches)
}

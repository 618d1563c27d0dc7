// Package netdetect implements the network reconnection detector: a
// debounced, actively-probed online/offline/transitioning state machine.
package netdetect

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/driftsync/syncore/internal/events"
)

// State is one of the detector's three states.
type State string

const (
	StateOnline        State = "online"
	StateOffline       State = "offline"
	StateTransitioning State = "transitioning"
)

// Event is emitted on every state change, including entry into
// transitioning when a signal arrives.
type Event struct {
	Previous  State
	Current   State
	Timestamp time.Time
}

// Config tunes probe and debounce behavior. Zero values fall back to
// their defaults.
type Config struct {
	HealthEndpoint string
	PingTimeout    time.Duration
	RetryAttempts  int
	RetryBackoff   time.Duration
	DebounceDuration time.Duration
}

const (
	defaultPingTimeout      = 5 * time.Second
	defaultRetryAttempts    = 2
	defaultRetryBackoff     = 500 * time.Millisecond
	defaultDebounceDuration = 2 * time.Second
)

// Detector runs the debounce protocol and owns the timer/probe scoped
// resources released on Stop.
type Detector struct {
	cfg    Config
	client *http.Client

	publisher *events.Publisher[Event]

	mu           sync.Mutex
	inited       bool
	started      bool
	current      State
	lastChangeAt time.Time

	debounceTimer *time.Timer
	pendingTarget State
	generation    int // bumped on every new signal, invalidates in-flight debounce waits

	lastPingLatency time.Duration

	stats statsAccumulator
}

// New constructs a Detector. Call Initialize before use.
func New(cfg Config) *Detector {
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = defaultPingTimeout
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = defaultRetryAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.DebounceDuration <= 0 {
		cfg.DebounceDuration = defaultDebounceDuration
	}
	return &Detector{
		cfg:       cfg,
		client:    &http.Client{},
		publisher: events.NewPublisher[Event]("netdetect"),
	}
}

// Subscribe registers a listener for state-change events (transitioning,
// online, offline).
func (d *Detector) Subscribe(l events.Listener[Event]) *events.Subscription {
	return d.publisher.Subscribe(l)
}

// Initialize runs one probe (no debounce) to establish the initial state.
func (d *Detector) Initialize(ctx context.Context) error {
	d.mu.Lock()
	cfg := d.cfg
	d.mu.Unlock()

	online := d.probe(ctx, cfg)

	d.mu.Lock()
	d.current = stateFromProbe(online)
	d.lastChangeAt = time.Now().UTC()
	d.inited = true
	d.mu.Unlock()
	return nil
}

// Start begins accepting platform signals via Signal. Monitoring state
// (the debounce timer) is torn down on Stop.
func (d *Detector) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.inited {
		return ErrNotInitialized
	}
	d.started = true
	return nil
}

// Stop clears any pending debounce timer and stops accepting signals.
func (d *Detector) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = false
	d.generation++ // invalidate any in-flight debounce wait
	if d.debounceTimer != nil {
		d.debounceTimer.Stop()
		d.debounceTimer = nil
	}
	return nil
}

// Signal reports a platform-provided connectivity suggestion. If the
// detector is not already transitioning, it enters transitioning and
// schedules a debounced probe against the suggested target. A new signal
// during the debounce wait restarts the timer with the new target.
func (d *Detector) Signal(ctx context.Context, suggested State) {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.pendingTarget = suggested
	d.generation++
	gen := d.generation

	if d.current != StateTransitioning {
		d.transitionLocked(StateTransitioning)
	}
	if d.debounceTimer != nil {
		d.debounceTimer.Stop()
	}
	d.debounceTimer = time.AfterFunc(d.cfg.DebounceDuration, func() {
		d.runDebouncedProbe(ctx, gen)
	})
	d.mu.Unlock()
}

func (d *Detector) runDebouncedProbe(ctx context.Context, gen int) {
	d.mu.Lock()
	if gen != d.generation {
		d.mu.Unlock()
		return // superseded by a newer signal
	}
	target := d.pendingTarget
	cfg := d.cfg
	d.mu.Unlock()

	online := d.probe(ctx, cfg)
	probed := stateFromProbe(online)

	if probed == target {
		d.mu.Lock()
		if gen == d.generation {
			d.transitionLocked(target)
		}
		d.mu.Unlock()
		return
	}

	// Probe disagreed with the suggested target: restart debounce with the
	// probe's result as the new suggested target.
	d.Signal(ctx, probed)
}

// CheckConnectivity runs an immediate probe and returns whether the host
// is currently reachable, independent of the debounce state machine.
func (d *Detector) CheckConnectivity(ctx context.Context) (bool, error) {
	d.mu.Lock()
	if !d.inited {
		d.mu.Unlock()
		return false, ErrNotInitialized
	}
	cfg := d.cfg
	d.mu.Unlock()

	return d.probe(ctx, cfg), nil
}

// transitionLocked commits a state change and emits an event only when
// the state actually differs from current.
func (d *Detector) transitionLocked(next State) {
	if next == d.current {
		return
	}
	prev := d.current
	now := time.Now().UTC()

	d.stats.recordTransition(prev, d.lastChangeAt, next, now)

	d.current = next
	d.lastChangeAt = now

	d.publisher.Publish(Event{Previous: prev, Current: next, Timestamp: now})
}

// State returns the detector's current confirmed state.
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

func stateFromProbe(online bool) State {
	if online {
		return StateOnline
	}
	return StateOffline
}

// probe runs the active HTTP HEAD probe with linear backoff retries. cfg is
// a snapshot taken under d.mu by the caller; probe itself runs unlocked so a
// slow or offline endpoint never blocks State, Stop, Signal, or GetStats.
func (d *Detector) probe(ctx context.Context, cfg Config) bool {
	if cfg.HealthEndpoint == "" {
		return false
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(cfg.RetryBackoff * time.Duration(attempt))
		}

		ok, latency, err := d.pingOnce(ctx, cfg)

		d.mu.Lock()
		d.lastPingLatency = latency
		d.stats.recordPingAttempt(ok, latency)
		d.mu.Unlock()

		if ok {
			return true
		}
		lastErr = err
	}
	if lastErr != nil {
		log.Debug().Err(lastErr).Str("endpoint", cfg.HealthEndpoint).Msg("netdetect: probe failed")
	}
	return false
}

func (d *Detector) pingOnce(ctx context.Context, cfg Config) (bool, time.Duration, error) {
	reqCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, cfg.HealthEndpoint, nil)
	if err != nil {
		return false, 0, err
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return false, latency, err
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300, latency, nil
}

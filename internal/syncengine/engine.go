// Package syncengine implements the automatic sync engine: batching
// pending transactions, posting them to the server, interpreting
// per-transaction outcomes, driving retries, and emitting lifecycle
// events for UI observers.
package syncengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/driftsync/syncore/internal/events"
	"github.com/driftsync/syncore/internal/model"
	"github.com/driftsync/syncore/internal/netdetect"
	"github.com/driftsync/syncore/internal/syncclient"
	"github.com/driftsync/syncore/internal/txqueue"
)

// Engine is the automatic sync engine. Construct with New, Initialize
// with a Config, then Start to subscribe to reconnect events.
type Engine struct {
	queue    *txqueue.Queue
	client   *syncclient.Client
	detector *netdetect.Detector

	publisher *events.Publisher[Event]

	mu       sync.Mutex
	inited   bool
	running  bool
	paused   bool
	cfg      Config
	stats    statsAccumulator
	progress Progress

	detectorSub *events.Subscription
}

// New constructs an Engine over a queue and HTTP client. detector may be
// nil if autoSyncOnReconnect is never used.
func New(queue *txqueue.Queue, client *syncclient.Client, detector *netdetect.Detector) *Engine {
	return &Engine{
		queue:     queue,
		client:    client,
		detector:  detector,
		publisher: events.NewPublisher[Event]("syncengine"),
	}
}

// Subscribe registers a listener for lifecycle events.
func (e *Engine) Subscribe(l events.Listener[Event]) *events.Subscription {
	return e.publisher.Subscribe(l)
}

// Initialize validates and stores cfg. Required before Start/Sync.
func (e *Engine) Initialize(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.MaxConcurrentBatches <= 0 {
		cfg.MaxConcurrentBatches = 1
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
	e.inited = true
	return nil
}

// Start subscribes to the network detector's online events when
// autoSyncOnReconnect is enabled; an online event triggers Sync.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if !e.inited {
		e.mu.Unlock()
		return ErrNotInitialized
	}
	autoSync := e.cfg.AutoSyncOnReconnect
	e.mu.Unlock()

	if autoSync && e.detector != nil {
		e.detectorSub = e.detector.Subscribe(func(ev netdetect.Event) {
			if ev.Current == netdetect.StateOnline {
				go func() {
					if _, err := e.Sync(ctx); err != nil {
						log.Warn().Err(err).Msg("syncengine: auto-sync on reconnect failed")
					}
				}()
			}
		})
	}
	return nil
}

// Stop unsubscribes from the network detector.
func (e *Engine) Stop(ctx context.Context) error {
	if e.detectorSub != nil {
		e.detectorSub.Cancel()
		e.detectorSub = nil
	}
	return nil
}

// Pause prevents the next batch in an in-progress run from starting. It
// does not abort an in-flight batch.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused {
		return
	}
	e.paused = true
	e.publish(EventSyncPaused, nil)
}

// Resume allows a paused run to continue with its next batch.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.paused {
		return
	}
	e.paused = false
	e.publish(EventSyncResumed, nil)
}

func (e *Engine) isPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// GetStatus reports the engine's current run state.
func (e *Engine) GetStatus() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{Initialized: e.inited, Running: e.running, Paused: e.paused}
}

// GetProgress reports the most recent sync_progress snapshot.
func (e *Engine) GetProgress() Progress {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.progress
}

// GetStats reports cumulative statistics across all sync() runs.
func (e *Engine) GetStats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats.snapshot()
}

// Sync drains pending transactions in FIFO batches, POSTs them to the
// server, applies outcomes to the queue, and returns every BatchResult
// from this run. A call while a run is already in progress is a no-op
// that returns an empty slice — this is the re-entrancy guard, not an
// error.
func (e *Engine) Sync(ctx context.Context) ([]BatchResult, error) {
	e.mu.Lock()
	if !e.inited {
		e.mu.Unlock()
		return nil, ErrNotInitialized
	}
	if e.running {
		e.mu.Unlock()
		return []BatchResult{}, nil
	}
	e.running = true
	cfg := e.cfg
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	runStart := time.Now()
	e.publish(EventSyncStarted, nil)

	pendingCount, err := e.countPending(ctx)
	if err != nil {
		e.recordStats(false, time.Since(runStart))
		return nil, err
	}
	if pendingCount == 0 {
		e.publish(EventSyncCompleted, nil)
		e.recordStats(true, time.Since(runStart))
		return []BatchResult{}, nil
	}

	totalBatches := ceilDiv(pendingCount, cfg.BatchSize)
	var results []BatchResult
	eta := &rollingETA{}
	batchesDone := 0
	var totalSynced, totalFailed, totalConflicts int

	for {
		if e.isPaused() {
			break
		}

		group, err := e.buildBatchGroup(ctx, cfg)
		if err != nil {
			e.recordStats(false, time.Since(runStart))
			return results, err
		}
		if len(group) == 0 {
			break
		}

		for _, batch := range group {
			e.publish(EventBatchStarted, batchIDsOf(batch))
		}

		groupResults := e.runGroupConcurrently(ctx, cfg, group)

		for _, br := range groupResults {
			batchesDone++

			if br.Err != nil {
				e.publish(EventBatchFailed, &br)
				e.recordStats(false, time.Since(runStart))
				e.publish(EventSyncFailed, &br)
				return append(results, br), SyncError{Err: br.Err}
			}

			e.applyOutcomes(ctx, &br)
			totalSynced += br.SyncedCount
			totalFailed += br.FailedCount
			totalConflicts += br.ConflictCount

			eta.record(br.Duration)
			e.publish(EventBatchCompleted, &br)
			results = append(results, br)

			remaining := totalBatches - batchesDone
			progress := Progress{
				CurrentBatch:           batchesDone,
				TotalBatches:           totalBatches,
				SyncedCount:            totalSynced,
				FailedCount:            totalFailed,
				ConflictCount:          totalConflicts,
				PercentComplete:        percentComplete(batchesDone, totalBatches),
				EstimatedTimeRemaining: eta.estimate(remaining),
			}
			e.mu.Lock()
			e.progress = progress
			e.mu.Unlock()
			e.publish(EventSyncProgress, &progress)
		}
	}

	e.publish(EventSyncCompleted, nil)
	e.recordStats(true, time.Since(runStart))
	return results, nil
}

func (e *Engine) countPending(ctx context.Context) (int, error) {
	result, err := e.queue.Query(ctx, txqueue.Filter{Statuses: []model.Status{model.StatusPending}})
	if err != nil {
		return 0, err
	}
	return result.TotalCount, nil
}

// buildBatchGroup dequeues up to cfg.MaxConcurrentBatches batches of up
// to cfg.BatchSize transactions each, preserving FIFO order within and
// across batches via repeated Queue.Dequeue calls.
func (e *Engine) buildBatchGroup(ctx context.Context, cfg Config) ([][]model.Transaction, error) {
	var group [][]model.Transaction
	for g := 0; g < cfg.MaxConcurrentBatches; g++ {
		var batch []model.Transaction
		for len(batch) < cfg.BatchSize {
			tx, found, err := e.queue.Dequeue(ctx)
			if err != nil {
				return group, err
			}
			if !found {
				break
			}
			batch = append(batch, tx)
		}
		if len(batch) == 0 {
			break
		}
		group = append(group, batch)
	}
	return group, nil
}

// runGroupConcurrently posts each batch in the group concurrently
// (bounded by cfg.MaxConcurrentBatches), but returns results positionally
// so the caller can apply queue outcomes in the original FIFO order
// regardless of which POST completed first.
func (e *Engine) runGroupConcurrently(ctx context.Context, cfg Config, group [][]model.Transaction) []BatchResult {
	results := make([]BatchResult, len(group))

	var g errgroup.Group
	g.SetLimit(cfg.MaxConcurrentBatches)
	for i, batch := range group {
		i, batch := i, batch
		g.Go(func() error {
			results[i] = e.postBatch(ctx, cfg, batch)
			return nil // batch-level failures are carried in BatchResult.Err, not propagated
		})
	}
	g.Wait()
	return results
}

func (e *Engine) postBatch(ctx context.Context, cfg Config, batch []model.Transaction) BatchResult {
	batchID := uuid.NewString()
	start := time.Now()

	req := syncclient.BatchRequest{BatchID: batchID}
	for _, tx := range batch {
		req.Transactions = append(req.Transactions, buildTransactionView(tx, cfg.EnableDeltaSync))
	}

	resp, err := e.client.PostBatch(ctx, req, cfg.SyncTimeout)
	duration := time.Since(start)
	if err != nil {
		return BatchResult{BatchID: batchID, TransactionIDs: batchIDsOf(batch), Duration: duration, Err: err}
	}

	br := BatchResult{BatchID: batchID, TransactionIDs: batchIDsOf(batch), Duration: duration}
	for _, s := range resp.Synced {
		br.synced = append(br.synced, SyncedOutcome{TransactionID: s.TransactionID, ServerTransactionID: s.ServerTransactionID})
	}
	for _, f := range resp.Failed {
		br.failed = append(br.failed, FailedOutcome{TransactionID: f.TransactionID, Error: f.Error})
	}
	for _, c := range resp.Conflicts {
		br.conflicts = append(br.conflicts, ConflictInfo{TransactionID: c.TransactionID, CurrentVersion: c.CurrentVersion, ConflictData: c.ConflictData})
	}
	return br
}

// applyOutcomes commits a batch's server response to the queue and
// drives the per-transaction retry rule for eligible failures.
func (e *Engine) applyOutcomes(ctx context.Context, br *BatchResult) {
	for _, s := range br.synced {
		if _, err := e.queue.UpdateStatus(ctx, s.TransactionID, model.StatusSynced, "", s.ServerTransactionID); err != nil {
			log.Warn().Str("id", s.TransactionID).Err(err).Msg("syncengine: failed to commit synced outcome")
			continue
		}
		br.SyncedCount++
	}

	for _, f := range br.failed {
		tx, err := e.queue.UpdateStatus(ctx, f.TransactionID, model.StatusFailed, f.Error, "")
		if err != nil {
			log.Warn().Str("id", f.TransactionID).Err(err).Msg("syncengine: failed to commit failed outcome")
			continue
		}
		br.FailedCount++

		e.mu.Lock()
		retryEnabled := e.cfg.RetryFailedTransactions
		e.mu.Unlock()
		if retryEnabled && tx.Attempts < tx.MaxAttempts {
			e.retryOnce(ctx, tx)
		}
	}

	for _, c := range br.conflicts {
		reason := fmt.Sprintf("Conflict detected: server at version %d", c.CurrentVersion)
		if _, err := e.queue.UpdateStatus(ctx, c.TransactionID, model.StatusFailed, reason, ""); err != nil {
			log.Warn().Str("id", c.TransactionID).Err(err).Msg("syncengine: failed to commit conflict outcome")
			continue
		}
		br.Conflicts = append(br.Conflicts, ConflictInfo{TransactionID: c.TransactionID, CurrentVersion: c.CurrentVersion, ConflictData: c.ConflictData})
		br.ConflictCount++
	}
}

// retryOnce immediately resends a single failed transaction as a
// one-element batch. It does not loop — no further automatic retry
// happens within the same sync() run once this attempt also fails.
func (e *Engine) retryOnce(ctx context.Context, tx model.Transaction) {
	if _, err := e.queue.Retry(ctx, tx.ID); err != nil {
		log.Warn().Str("id", tx.ID).Err(err).Msg("syncengine: retry precondition failed")
		return
	}
	syncing, err := e.queue.UpdateStatus(ctx, tx.ID, model.StatusSyncing, "", "")
	if err != nil {
		log.Warn().Str("id", tx.ID).Err(err).Msg("syncengine: retry transition to syncing failed")
		return
	}

	e.mu.Lock()
	cfg := e.cfg
	e.mu.Unlock()

	br := e.postBatch(ctx, cfg, []model.Transaction{syncing})
	if br.Err != nil {
		log.Warn().Str("id", tx.ID).Err(br.Err).Msg("syncengine: individual retry transport error")
		return
	}

	for _, s := range br.synced {
		e.queue.UpdateStatus(ctx, s.TransactionID, model.StatusSynced, "", s.ServerTransactionID)
	}
	for _, f := range br.failed {
		e.queue.UpdateStatus(ctx, f.TransactionID, model.StatusFailed, f.Error, "")
	}
	for _, c := range br.conflicts {
		reason := fmt.Sprintf("Conflict detected: server at version %d", c.CurrentVersion)
		e.queue.UpdateStatus(ctx, c.TransactionID, model.StatusFailed, reason, "")
	}
}

// buildTransactionView projects tx into the wire shape the sync endpoint
// expects: a reduced DeltaView when delta sync is enabled, or the complete
// FullTransaction otherwise.
func buildTransactionView(tx model.Transaction, enableDelta bool) syncclient.TransactionView {
	if enableDelta {
		return buildDeltaView(tx)
	}
	return buildFullTransaction(tx)
}

func buildDeltaView(tx model.Transaction) syncclient.DeltaView {
	dv := syncclient.DeltaView{
		ID:          tx.ID,
		Type:        string(tx.Type),
		Payload:     tx.Payload,
		Timestamp:   tx.QueuedAt,
		Version:     tx.Metadata.Version,
		ContentHash: tx.Metadata.ContentHash,
	}
	if tx.Attempts > 1 {
		dv.Attempts = tx.Attempts
		dv.MaxAttempts = tx.MaxAttempts
	}
	return dv
}

func buildFullTransaction(tx model.Transaction) syncclient.FullTransaction {
	return syncclient.FullTransaction{
		ID:                    tx.ID,
		Payload:               tx.Payload,
		Status:                tx.Status,
		Type:                  string(tx.Type),
		Priority:              tx.Priority,
		CreatedAt:             tx.CreatedAt,
		SyncStartedAt:         tx.SyncStartedAt,
		SyncCompletedAt:       tx.SyncCompletedAt,
		Attempts:              tx.Attempts,
		MaxAttempts:           tx.MaxAttempts,
		LastError:             tx.LastError,
		ServerTransactionID:   tx.ServerTransactionID,
		UserID:                tx.UserID,
		DeviceID:              tx.DeviceID,
		RelatedTransactionIDs: tx.RelatedTransactionIDs,
		Metadata:              tx.Metadata,
	}
}

func (e *Engine) recordStats(success bool, duration time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.record(success, duration, time.Now().UTC())
}

func (e *Engine) publish(t EventType, data any) {
	e.publisher.Publish(Event{Type: t, Timestamp: time.Now().UTC(), Data: data})
}

func batchIDsOf(batch []model.Transaction) []string {
	ids := make([]string, len(batch))
	for i, tx := range batch {
		ids[i] = tx.ID
	}
	return ids
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

func percentComplete(done, total int) float64 {
	if total == 0 {
		return 100
	}
	return float64(done) / float64(total) * 100
}


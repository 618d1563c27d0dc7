// Package txqueue implements the durable FIFO transaction queue: the
// status state machine, capacity enforcement, filtered/paginated query,
// and crash recovery over a storage collaborator.
package txqueue

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/driftsync/syncore/internal/metadata"
	"github.com/driftsync/syncore/internal/model"
	"github.com/driftsync/syncore/internal/storage"
)

const collectionName = "transaction_queue"

// Config tunes queue behavior. MaxTransactions and DefaultMaxAttempts fall
// back to their defaults when zero.
type Config struct {
	MaxTransactions   int
	DefaultMaxAttempts int
}

const (
	defaultMaxTransactions   = 10_000
	defaultMaxAttemptsPerTx  = 3
)

// Queue is the durable FIFO transaction queue. All mutating operations
// commit to the storage collaborator before returning; no in-memory state
// is authoritative.
type Queue struct {
	mu     sync.Mutex
	store  storage.Store
	cfg    Config
	inited bool
}

// New constructs a Queue over the given storage collaborator. Call
// Initialize before use.
func New(store storage.Store, cfg Config) *Queue {
	if cfg.MaxTransactions <= 0 {
		cfg.MaxTransactions = defaultMaxTransactions
	}
	if cfg.DefaultMaxAttempts <= 0 {
		cfg.DefaultMaxAttempts = defaultMaxAttemptsPerTx
	}
	return &Queue{store: store, cfg: cfg}
}

// Initialize opens the storage collaborator and recovers any transaction
// left in syncing from a prior crash back to pending, without
// incrementing its attempts count.
func (q *Queue) Initialize(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.Initialize(ctx); err != nil {
		return StorageError{Op: "initialize", Err: err}
	}

	result, err := q.store.Query(ctx, collectionName, storage.QuerySpec{})
	if err != nil {
		return StorageError{Op: "recover:query", Err: err}
	}

	recovered := 0
	for _, rec := range result.Records {
		tx, err := decode(rec)
		if err != nil {
			log.Warn().Str("id", rec.ID).Err(err).Msg("txqueue: skipping unreadable record during recovery")
			continue
		}
		if tx.Status != model.StatusSyncing {
			continue
		}
		tx.Status = model.StatusPending
		tx.SyncStartedAt = nil
		if err := q.persist(ctx, tx); err != nil {
			return err
		}
		recovered++
	}
	if recovered > 0 {
		log.Info().Int("count", recovered).Msg("txqueue: recovered orphaned syncing transactions to pending")
	}

	q.inited = true
	return nil
}

func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inited = false
	return q.store.Close(ctx)
}

// Enqueue appends a new pending transaction. Fails with ErrQueueFull if
// the queue is already at capacity.
func (q *Queue) Enqueue(ctx context.Context, payload model.Payload, opts model.EnqueueOptions) (model.Transaction, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.inited {
		return model.Transaction{}, ErrNotInitialized
	}

	total, err := q.countLocked(ctx, nil)
	if err != nil {
		return model.Transaction{}, err
	}
	if total >= q.cfg.MaxTransactions {
		return model.Transaction{}, ErrQueueFull
	}

	priority := opts.Priority
	if priority == "" {
		priority = model.PriorityNormal
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.cfg.DefaultMaxAttempts
	}
	now := time.Now().UTC()

	tx := model.Transaction{
		ID:                    model.NewID(),
		Payload:               payload,
		Status:                model.StatusPending,
		Type:                  model.ClassifyType(payload.Action),
		Priority:              priority,
		CreatedAt:             now,
		QueuedAt:              now,
		Attempts:              0,
		MaxAttempts:           maxAttempts,
		UserID:                opts.UserID,
		DeviceID:              opts.DeviceID,
		RelatedTransactionIDs: opts.RelatedTransactionIDs,
		Metadata:              metadata.Generate(payload, opts.UserID, opts.DeviceID, nil),
	}

	if err := q.persist(ctx, tx); err != nil {
		return model.Transaction{}, err
	}
	return tx, nil
}

// Dequeue atomically selects the oldest pending transaction in FIFO
// order, transitions it to syncing, and returns it. Returns (_, false, nil)
// if the queue holds no pending transactions.
func (q *Queue) Dequeue(ctx context.Context) (model.Transaction, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.inited {
		return model.Transaction{}, false, ErrNotInitialized
	}

	tx, found, err := q.oldestPendingLocked(ctx)
	if err != nil || !found {
		return model.Transaction{}, false, err
	}

	now := time.Now().UTC()
	tx.Status = model.StatusSyncing
	tx.SyncStartedAt = &now
	tx.Attempts++

	if err := q.persist(ctx, tx); err != nil {
		return model.Transaction{}, false, err
	}
	return tx, true, nil
}

// Peek reports the transaction Dequeue would return, without mutating it.
func (q *Queue) Peek(ctx context.Context) (model.Transaction, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.inited {
		return model.Transaction{}, false, ErrNotInitialized
	}
	return q.oldestPendingLocked(ctx)
}

func (q *Queue) oldestPendingLocked(ctx context.Context) (model.Transaction, bool, error) {
	result, err := q.store.Query(ctx, collectionName, storage.QuerySpec{
		Filter:  func(r storage.Record) bool { return matchStatus(r, model.StatusPending) },
		SortKey: fifoKey,
		Sort:    storage.SortAscending,
		Limit:   1,
	})
	if err != nil {
		return model.Transaction{}, false, StorageError{Op: "query:oldest_pending", Err: err}
	}
	if len(result.Records) == 0 {
		return model.Transaction{}, false, nil
	}
	tx, err := decode(result.Records[0])
	if err != nil {
		return model.Transaction{}, false, StorageError{Op: "decode", Err: err}
	}
	return tx, true, nil
}

// Get returns the transaction with the given id, or found=false if absent.
func (q *Queue) Get(ctx context.Context, id string) (model.Transaction, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.inited {
		return model.Transaction{}, false, ErrNotInitialized
	}
	return q.getLocked(ctx, id)
}

func (q *Queue) getLocked(ctx context.Context, id string) (model.Transaction, bool, error) {
	rec, err := q.store.Get(ctx, collectionName, id)
	if err != nil {
		return model.Transaction{}, false, StorageError{Op: "get", Err: err}
	}
	if rec == nil {
		return model.Transaction{}, false, nil
	}
	tx, err := decode(*rec)
	if err != nil {
		return model.Transaction{}, false, StorageError{Op: "decode", Err: err}
	}
	return tx, true, nil
}

// UpdateStatus applies a single status transition, enforcing the
// transition table. errArg is recorded as LastError on a transition to
// failed; serverID is recorded as ServerTransactionID on a transition to
// synced.
func (q *Queue) UpdateStatus(ctx context.Context, id string, status model.Status, errArg, serverID string) (model.Transaction, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.inited {
		return model.Transaction{}, ErrNotInitialized
	}

	tx, found, err := q.getLocked(ctx, id)
	if err != nil {
		return model.Transaction{}, err
	}
	if !found {
		return model.Transaction{}, ErrTransactionNotFound
	}
	if !model.CanTransition(tx.Status, status) {
		return model.Transaction{}, ErrInvalidStatusTransition
	}

	now := time.Now().UTC()
	tx.Status = status
	switch status {
	case model.StatusSyncing:
		tx.SyncStartedAt = &now
		tx.Attempts++
	case model.StatusSynced:
		tx.SyncCompletedAt = &now
		tx.ServerTransactionID = serverID
	case model.StatusFailed:
		tx.LastError = errArg
	}

	if err := q.persist(ctx, tx); err != nil {
		return model.Transaction{}, err
	}
	return tx, nil
}

// Retry requires the transaction be failed with attempts < maxAttempts; it
// resets it to pending and clears lastError without resetting attempts.
func (q *Queue) Retry(ctx context.Context, id string) (model.Transaction, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.inited {
		return model.Transaction{}, ErrNotInitialized
	}
	tx, found, err := q.getLocked(ctx, id)
	if err != nil {
		return model.Transaction{}, err
	}
	if !found {
		return model.Transaction{}, ErrTransactionNotFound
	}
	if tx.Status != model.StatusFailed || tx.Attempts >= tx.MaxAttempts {
		return model.Transaction{}, ErrInvalidStatusTransition
	}

	tx.Status = model.StatusPending
	tx.LastError = ""
	if err := q.persist(ctx, tx); err != nil {
		return model.Transaction{}, err
	}
	return tx, nil
}

// Cancel requires the transaction be pending.
func (q *Queue) Cancel(ctx context.Context, id string) (model.Transaction, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.inited {
		return model.Transaction{}, ErrNotInitialized
	}
	tx, found, err := q.getLocked(ctx, id)
	if err != nil {
		return model.Transaction{}, err
	}
	if !found {
		return model.Transaction{}, ErrTransactionNotFound
	}
	if !model.CanTransition(tx.Status, model.StatusCancelled) {
		return model.Transaction{}, ErrInvalidStatusTransition
	}

	tx.Status = model.StatusCancelled
	if err := q.persist(ctx, tx); err != nil {
		return model.Transaction{}, err
	}
	return tx, nil
}

func (q *Queue) persist(ctx context.Context, tx model.Transaction) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return StorageError{Op: "encode", Err: err}
	}
	if err := q.store.Set(ctx, collectionName, tx.ID, data, storage.SetOptions{}); err != nil {
		return StorageError{Op: "set", Err: err}
	}
	return nil
}

func decode(rec storage.Record) (model.Transaction, error) {
	var tx model.Transaction
	if err := json.Unmarshal(rec.Data, &tx); err != nil {
		return model.Transaction{}, err
	}
	return tx, nil
}

func matchStatus(r storage.Record, status model.Status) bool {
	tx, err := decode(r)
	if err != nil {
		return false
	}
	return tx.Status == status
}

// fifoKey is a lexicographically sortable encoding of (queuedAt, id),
// fixed-width so string comparison agrees with time then id ordering.
func fifoKey(r storage.Record) string {
	tx, err := decode(r)
	if err != nil {
		return ""
	}
	return tx.QueuedAt.UTC().Format("2006-01-02T15:04:05.000000000Z") + "|" + tx.ID
}

func (q *Queue) countLocked(ctx context.Context, filter func(storage.Record) bool) (int, error) {
	result, err := q.store.Query(ctx, collectionName, storage.QuerySpec{Filter: filter})
	if err != nil {
		return 0, StorageError{Op: "query:count", Err: err}
	}
	return result.TotalCount, nil
}

// sortTransactions orders a decoded slice by (queuedAt, id) ascending.
func sortTransactions(txs []model.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if !txs[i].QueuedAt.Equal(txs[j].QueuedAt) {
			return txs[i].QueuedAt.Before(txs[j].QueuedAt)
		}
		return txs[i].ID < txs[j].ID
	})
}

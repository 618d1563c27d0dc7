package txqueue

import (
	"context"
	"time"

	"github.com/driftsync/syncore/internal/model"
)

// QueueStats summarizes queue occupancy and throughput.
type QueueStats struct {
	CountByStatus       map[model.Status]int
	TotalCount          int
	Capacity            int
	AvailableCapacity   int
	OldestPendingAt     *time.Time
	NewestPendingAt     *time.Time
	AvgSyncDuration     time.Duration
}

// GetStats computes a fresh snapshot of the queue's current occupancy.
func (q *Queue) GetStats(ctx context.Context) (QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.inited {
		return QueueStats{}, ErrNotInitialized
	}

	all, err := q.allLocked(ctx)
	if err != nil {
		return QueueStats{}, err
	}

	stats := QueueStats{
		CountByStatus:     make(map[model.Status]int),
		TotalCount:        len(all),
		Capacity:          q.cfg.MaxTransactions,
		AvailableCapacity: q.cfg.MaxTransactions - len(all),
	}

	var syncDurationTotal time.Duration
	var syncedCount int

	for _, tx := range all {
		stats.CountByStatus[tx.Status]++

		if tx.Status == model.StatusPending {
			qa := tx.QueuedAt
			if stats.OldestPendingAt == nil || qa.Before(*stats.OldestPendingAt) {
				stats.OldestPendingAt = &qa
			}
			if stats.NewestPendingAt == nil || qa.After(*stats.NewestPendingAt) {
				stats.NewestPendingAt = &qa
			}
		}

		if tx.Status == model.StatusSynced && tx.SyncStartedAt != nil && tx.SyncCompletedAt != nil {
			syncDurationTotal += tx.SyncCompletedAt.Sub(*tx.SyncStartedAt)
			syncedCount++
		}
	}

	if syncedCount > 0 {
		stats.AvgSyncDuration = syncDurationTotal / time.Duration(syncedCount)
	}

	return stats, nil
}

func (q *Queue) allLocked(ctx context.Context) ([]model.Transaction, error) {
	result, err := q.store.Query(ctx, collectionName, emptySpec())
	if err != nil {
		return nil, StorageError{Op: "query:all", Err: err}
	}
	txs := make([]model.Transaction, 0, len(result.Records))
	for _, rec := range result.Records {
		tx, err := decode(rec)
		if err != nil {
			continue
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// ClearSynced removes all synced transactions and returns the count removed.
func (q *Queue) ClearSynced(ctx context.Context) (int, error) {
	return q.clearByStatus(ctx, model.StatusSynced)
}

// ClearFailed removes all failed transactions and returns the count removed.
func (q *Queue) ClearFailed(ctx context.Context) (int, error) {
	return q.clearByStatus(ctx, model.StatusFailed)
}

func (q *Queue) clearByStatus(ctx context.Context, status model.Status) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.inited {
		return 0, ErrNotInitialized
	}

	all, err := q.allLocked(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, tx := range all {
		if tx.Status != status {
			continue
		}
		if err := q.store.Delete(ctx, collectionName, tx.ID); err != nil {
			return removed, StorageError{Op: "delete", Err: err}
		}
		removed++
	}
	return removed, nil
}

// ClearAll removes every transaction and returns the count removed.
func (q *Queue) ClearAll(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.inited {
		return 0, ErrNotInitialized
	}

	all, err := q.allLocked(ctx)
	if err != nil {
		return 0, err
	}
	if err := q.store.Clear(ctx, collectionName); err != nil {
		return 0, StorageError{Op: "clear", Err: err}
	}
	return len(all), nil
}

package txqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/driftsync/syncore/internal/model"
	"github.com/driftsync/syncore/internal/storage/memstore"
)

func newQueue(t *testing.T, cfg Config) *Queue {
	t.Helper()
	q := New(memstore.New(), cfg)
	if err := q.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() = %v", err)
	}
	return q
}

func TestFIFOOrder(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t, Config{})

	var ids []string
	for _, name := range []string{"A", "B", "C"} {
		tx, err := q.Enqueue(ctx, model.Payload{Resource: "note", Action: "create", Data: name}, model.EnqueueOptions{})
		if err != nil {
			t.Fatalf("Enqueue(%s) = %v", name, err)
		}
		ids = append(ids, tx.ID)
		time.Sleep(10 * time.Millisecond)
	}

	for i, wantID := range ids {
		tx, found, err := q.Dequeue(ctx)
		if err != nil || !found {
			t.Fatalf("Dequeue() #%d = %v, %v, %v", i, tx, found, err)
		}
		if tx.ID != wantID {
			t.Errorf("Dequeue() #%d = %s, want %s (FIFO order)", i, tx.ID, wantID)
		}
		if tx.Status != model.StatusSyncing {
			t.Errorf("Dequeue() #%d status = %s, want syncing", i, tx.Status)
		}
	}
}

func TestCapacityEnforced(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t, Config{MaxTransactions: 2})

	for i := 0; i < 2; i++ {
		if _, err := q.Enqueue(ctx, model.Payload{Resource: "note", Action: "create"}, model.EnqueueOptions{}); err != nil {
			t.Fatalf("Enqueue() #%d = %v", i, err)
		}
	}

	_, err := q.Enqueue(ctx, model.Payload{Resource: "note", Action: "create"}, model.EnqueueOptions{})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Enqueue() over capacity = %v, want ErrQueueFull", err)
	}
}

func TestDequeueEmptyQueueReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t, Config{})

	_, found, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue() = %v", err)
	}
	if found {
		t.Fatal("Dequeue() on empty queue reported found")
	}
}

func TestInvalidTransitionRejectedAndTransactionUnchanged(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t, Config{})

	tx, err := q.Enqueue(ctx, model.Payload{Resource: "note", Action: "create"}, model.EnqueueOptions{})
	if err != nil {
		t.Fatalf("Enqueue() = %v", err)
	}

	_, err = q.UpdateStatus(ctx, tx.ID, model.StatusSynced, "", "srv-1")
	if !errors.Is(err, ErrInvalidStatusTransition) {
		t.Fatalf("UpdateStatus(pending->synced) = %v, want ErrInvalidStatusTransition", err)
	}

	got, found, err := q.Get(ctx, tx.ID)
	if err != nil || !found {
		t.Fatalf("Get() = %v, %v, %v", got, found, err)
	}
	if got.Status != model.StatusPending {
		t.Errorf("Status after rejected transition = %s, want pending", got.Status)
	}
}

func TestRetryRequiresFailedAndAttemptsBelowMax(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t, Config{})

	tx, _ := q.Enqueue(ctx, model.Payload{Resource: "note", Action: "create"}, model.EnqueueOptions{MaxAttempts: 2})
	dequeued, _, _ := q.Dequeue(ctx)
	if dequeued.Attempts != 1 {
		t.Fatalf("Attempts after Dequeue() = %d, want 1", dequeued.Attempts)
	}

	failed, err := q.UpdateStatus(ctx, tx.ID, model.StatusFailed, "boom", "")
	if err != nil {
		t.Fatalf("UpdateStatus(->failed) = %v", err)
	}
	if failed.LastError != "boom" {
		t.Errorf("LastError = %q, want boom", failed.LastError)
	}

	retried, err := q.Retry(ctx, tx.ID)
	if err != nil {
		t.Fatalf("Retry() = %v", err)
	}
	if retried.Status != model.StatusPending {
		t.Errorf("Status after Retry() = %s, want pending", retried.Status)
	}
	if retried.LastError != "" {
		t.Error("LastError not cleared after Retry()")
	}
	if retried.Attempts != 1 {
		t.Errorf("Attempts after Retry() = %d, want unchanged at 1", retried.Attempts)
	}

	dequeued2, _, _ := q.Dequeue(ctx)
	failed2, _ := q.UpdateStatus(ctx, tx.ID, model.StatusFailed, "boom again", "")
	_ = dequeued2
	if failed2.Attempts != 2 {
		t.Fatalf("Attempts = %d, want 2", failed2.Attempts)
	}

	_, err = q.Retry(ctx, tx.ID)
	if !errors.Is(err, ErrInvalidStatusTransition) {
		t.Errorf("Retry() at maxAttempts = %v, want ErrInvalidStatusTransition", err)
	}
}

func TestCancelRequiresPending(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t, Config{})

	tx, _ := q.Enqueue(ctx, model.Payload{Resource: "note", Action: "create"}, model.EnqueueOptions{})
	q.Dequeue(ctx) // now syncing

	_, err := q.Cancel(ctx, tx.ID)
	if !errors.Is(err, ErrInvalidStatusTransition) {
		t.Errorf("Cancel() on syncing tx = %v, want ErrInvalidStatusTransition", err)
	}
}

func TestOrphanedSyncingRecoveredToPendingWithoutDoubleCountingAttempts(t *testing.T) {
	ctx := context.Background()
	store := newSharedMemstore(ctx, t)

	q1 := New(store, Config{})
	if err := q1.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() = %v", err)
	}
	tx, _ := q1.Enqueue(ctx, model.Payload{Resource: "note", Action: "create"}, model.EnqueueOptions{})
	dequeued, _, _ := q1.Dequeue(ctx)
	if dequeued.Attempts != 1 {
		t.Fatalf("Attempts = %d, want 1", dequeued.Attempts)
	}

	// Simulate a crash: a fresh Queue over the same store re-initializes.
	q2 := New(store, Config{})
	if err := q2.Initialize(ctx); err != nil {
		t.Fatalf("second Initialize() = %v", err)
	}

	recovered, found, err := q2.Get(ctx, tx.ID)
	if err != nil || !found {
		t.Fatalf("Get() after recovery = %v, %v, %v", recovered, found, err)
	}
	if recovered.Status != model.StatusPending {
		t.Errorf("Status after recovery = %s, want pending", recovered.Status)
	}
	if recovered.Attempts != 1 {
		t.Errorf("Attempts after recovery = %d, want unchanged at 1", recovered.Attempts)
	}
}

func TestQueryFiltersByStatusAndPaginates(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t, Config{})

	for i := 0; i < 5; i++ {
		q.Enqueue(ctx, model.Payload{Resource: "note", Action: "create"}, model.EnqueueOptions{})
		time.Sleep(time.Millisecond)
	}

	result, err := q.Query(ctx, Filter{Statuses: []model.Status{model.StatusPending}, Limit: 2})
	if err != nil {
		t.Fatalf("Query() = %v", err)
	}
	if result.TotalCount != 5 {
		t.Errorf("TotalCount = %d, want 5", result.TotalCount)
	}
	if len(result.Transactions) != 2 {
		t.Errorf("len(Transactions) = %d, want 2", len(result.Transactions))
	}
	if !result.HasMore {
		t.Error("HasMore = false, want true")
	}
}

func TestGetStatsCountsByStatus(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t, Config{MaxTransactions: 10})

	tx1, _ := q.Enqueue(ctx, model.Payload{Resource: "note", Action: "create"}, model.EnqueueOptions{})
	q.Enqueue(ctx, model.Payload{Resource: "note", Action: "create"}, model.EnqueueOptions{})

	q.Dequeue(ctx)
	q.UpdateStatus(ctx, tx1.ID, model.StatusSynced, "", "srv-1")

	stats, err := q.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats() = %v", err)
	}
	if stats.TotalCount != 2 {
		t.Errorf("TotalCount = %d, want 2", stats.TotalCount)
	}
	if stats.CountByStatus[model.StatusSynced] != 1 {
		t.Errorf("CountByStatus[synced] = %d, want 1", stats.CountByStatus[model.StatusSynced])
	}
	if stats.AvailableCapacity != 8 {
		t.Errorf("AvailableCapacity = %d, want 8", stats.AvailableCapacity)
	}
}

func TestClearSyncedAndClearAll(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t, Config{})

	tx1, _ := q.Enqueue(ctx, model.Payload{Resource: "note", Action: "create"}, model.EnqueueOptions{})
	q.Enqueue(ctx, model.Payload{Resource: "note", Action: "create"}, model.EnqueueOptions{})
	q.Dequeue(ctx)
	q.UpdateStatus(ctx, tx1.ID, model.StatusSynced, "", "srv-1")

	removed, err := q.ClearSynced(ctx)
	if err != nil || removed != 1 {
		t.Fatalf("ClearSynced() = %d, %v, want 1, nil", removed, err)
	}

	removedAll, err := q.ClearAll(ctx)
	if err != nil || removedAll != 1 {
		t.Fatalf("ClearAll() = %d, %v, want 1, nil", removedAll, err)
	}
}

func newSharedMemstore(ctx context.Context, t *testing.T) *memstore.Store {
	t.Helper()
	return memstore.New()
}

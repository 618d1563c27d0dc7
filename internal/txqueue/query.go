package txqueue

import (
	"context"

	"github.com/driftsync/syncore/internal/model"
	"github.com/driftsync/syncore/internal/storage"
)

// Filter constrains Query. A zero-value field is treated as "don't filter
// on this dimension"; Statuses, if non-empty, matches any of the listed
// statuses.
type Filter struct {
	Statuses []model.Status
	Type     model.Type
	Priority model.Priority
	UserID   string
	DeviceID string
	Resource string

	Limit  int
	Offset int
}

// QueryResult is the page returned by Query.
type QueryResult struct {
	Transactions []model.Transaction
	TotalCount   int
	HasMore      bool
}

// Query returns transactions matching f, sorted by queuedAt ascending and
// paginated by f.Limit/f.Offset.
func (q *Queue) Query(ctx context.Context, f Filter) (QueryResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.inited {
		return QueryResult{}, ErrNotInitialized
	}

	pred := buildPredicate(f)
	result, err := q.store.Query(ctx, collectionName, storage.QuerySpec{Filter: pred})
	if err != nil {
		return QueryResult{}, StorageError{Op: "query", Err: err}
	}

	txs := make([]model.Transaction, 0, len(result.Records))
	for _, rec := range result.Records {
		tx, err := decode(rec)
		if err != nil {
			continue
		}
		txs = append(txs, tx)
	}
	sortTransactions(txs)

	total := len(txs)
	start := f.Offset
	if start > total {
		start = total
	}
	end := total
	if f.Limit > 0 && start+f.Limit < end {
		end = start + f.Limit
	}

	return QueryResult{
		Transactions: txs[start:end],
		TotalCount:   total,
		HasMore:      end < total,
	}, nil
}

func buildPredicate(f Filter) func(storage.Record) bool {
	return func(r storage.Record) bool {
		tx, err := decode(r)
		if err != nil {
			return false
		}
		if len(f.Statuses) > 0 && !containsStatus(f.Statuses, tx.Status) {
			return false
		}
		if f.Type != "" && tx.Type != f.Type {
			return false
		}
		if f.Priority != "" && tx.Priority != f.Priority {
			return false
		}
		if f.UserID != "" && tx.UserID != f.UserID {
			return false
		}
		if f.DeviceID != "" && tx.DeviceID != f.DeviceID {
			return false
		}
		if f.Resource != "" && tx.Payload.Resource != f.Resource {
			return false
		}
		return true
	}
}

func containsStatus(statuses []model.Status, s model.Status) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

// emptySpec matches every record in a collection, unsorted and unpaginated.
func emptySpec() storage.QuerySpec {
	return storage.QuerySpec{}
}

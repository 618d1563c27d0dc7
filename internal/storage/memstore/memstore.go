// Package memstore is an in-memory Store implementation: the reference
// collaborator used by tests and the demo CLI in place of a real on-disk
// or platform-native store.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/driftsync/syncore/internal/storage"
)

// Store is a storage.Store backed by an in-memory map of collections. Safe
// for concurrent use.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]storage.Record
	hook        storage.EncryptionHook
	initialized bool
}

// New constructs an empty Store. Call Initialize before use.
func New() *Store {
	return &Store{collections: make(map[string]map[string]storage.Record)}
}

func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = true
	log.Debug().Msg("memstore initialized")
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = false
	return nil
}

func (s *Store) SetEncryptionHook(hook storage.EncryptionHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = hook
}

func (s *Store) Get(ctx context.Context, collection, id string) (*storage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, storage.ErrNotInitialized
	}
	rec, ok := s.collections[collection][id]
	if !ok {
		return nil, nil
	}
	if s.hook != nil {
		plain, err := s.hook.Decrypt(rec.Data)
		if err != nil {
			return nil, storage.Errorf("decrypt %s/%s: %w", collection, id, err)
		}
		rec.Data = plain
	}
	out := rec
	return &out, nil
}

func (s *Store) Set(ctx context.Context, collection, id string, data []byte, opts storage.SetOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return storage.ErrNotInitialized
	}
	stored := data
	if s.hook != nil {
		cipher, err := s.hook.Encrypt(data)
		if err != nil {
			return storage.Errorf("encrypt %s/%s: %w", collection, id, err)
		}
		stored = cipher
	}
	coll, ok := s.collections[collection]
	if !ok {
		coll = make(map[string]storage.Record)
		s.collections[collection] = coll
	}
	coll[id] = storage.Record{ID: id, Data: stored}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return storage.ErrNotInitialized
	}
	delete(s.collections[collection], id)
	return nil
}

func (s *Store) Clear(ctx context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return storage.ErrNotInitialized
	}
	delete(s.collections, collection)
	return nil
}

func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return storage.ErrNotInitialized
	}
	s.collections = make(map[string]map[string]storage.Record)
	return nil
}

func (s *Store) Query(ctx context.Context, collection string, spec storage.QuerySpec) (storage.QueryResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return storage.QueryResult{}, storage.ErrNotInitialized
	}

	var matched []storage.Record
	for _, rec := range s.collections[collection] {
		if s.hook != nil {
			plain, err := s.hook.Decrypt(rec.Data)
			if err != nil {
				return storage.QueryResult{}, storage.Errorf("decrypt %s/%s: %w", collection, rec.ID, err)
			}
			rec.Data = plain
		}
		if spec.Filter == nil || spec.Filter(rec) {
			matched = append(matched, rec)
		}
	}

	if spec.Sort != storage.SortNone && spec.SortKey != nil {
		sort.SliceStable(matched, func(i, j int) bool {
			ki, kj := spec.SortKey(matched[i]), spec.SortKey(matched[j])
			if spec.Sort == storage.SortDescending {
				return ki > kj
			}
			return ki < kj
		})
	}

	total := len(matched)
	start := spec.Offset
	if start > total {
		start = total
	}
	end := total
	if spec.Limit > 0 && start+spec.Limit < end {
		end = start + spec.Limit
	}

	return storage.QueryResult{
		Records:    matched[start:end],
		TotalCount: total,
		HasMore:    end < total,
	}, nil
}

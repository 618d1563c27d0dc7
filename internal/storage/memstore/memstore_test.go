package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/driftsync/syncore/internal/storage"
)

func TestGetSetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() = %v", err)
	}

	if err := s.Set(ctx, "coll", "id1", []byte("hello"), storage.SetOptions{}); err != nil {
		t.Fatalf("Set() = %v", err)
	}

	rec, err := s.Get(ctx, "coll", "id1")
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if rec == nil || string(rec.Data) != "hello" {
		t.Fatalf("Get() = %+v, want {Data: hello}", rec)
	}
}

func TestGetMissingReturnsNilNotError(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Initialize(ctx)

	rec, err := s.Get(ctx, "coll", "missing")
	if err != nil {
		t.Fatalf("Get() = %v, want nil error", err)
	}
	if rec != nil {
		t.Fatalf("Get() = %+v, want nil", rec)
	}
}

func TestOperationsBeforeInitializeFail(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.Set(ctx, "coll", "id1", []byte("x"), storage.SetOptions{}); !errors.Is(err, storage.ErrNotInitialized) {
		t.Errorf("Set() = %v, want ErrNotInitialized", err)
	}
	if _, err := s.Get(ctx, "coll", "id1"); !errors.Is(err, storage.ErrNotInitialized) {
		t.Errorf("Get() = %v, want ErrNotInitialized", err)
	}
	if _, err := s.Query(ctx, "coll", storage.QuerySpec{}); !errors.Is(err, storage.ErrNotInitialized) {
		t.Errorf("Query() = %v, want ErrNotInitialized", err)
	}
}

func TestDeleteAndClear(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Initialize(ctx)
	s.Set(ctx, "coll", "id1", []byte("a"), storage.SetOptions{})
	s.Set(ctx, "coll", "id2", []byte("b"), storage.SetOptions{})

	if err := s.Delete(ctx, "coll", "id1"); err != nil {
		t.Fatalf("Delete() = %v", err)
	}
	if rec, _ := s.Get(ctx, "coll", "id1"); rec != nil {
		t.Error("Get() after Delete() still returns record")
	}

	if err := s.Clear(ctx, "coll"); err != nil {
		t.Fatalf("Clear() = %v", err)
	}
	result, _ := s.Query(ctx, "coll", storage.QuerySpec{})
	if result.TotalCount != 0 {
		t.Errorf("TotalCount after Clear() = %d, want 0", result.TotalCount)
	}
}

func TestQueryFilterSortPaginate(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Initialize(ctx)
	for _, id := range []string{"c", "a", "e", "b", "d"} {
		s.Set(ctx, "coll", id, []byte(id), storage.SetOptions{})
	}

	result, err := s.Query(ctx, "coll", storage.QuerySpec{
		SortKey: func(r storage.Record) string { return r.ID },
		Sort:    storage.SortAscending,
		Limit:   2,
		Offset:  1,
	})
	if err != nil {
		t.Fatalf("Query() = %v", err)
	}
	if result.TotalCount != 5 {
		t.Errorf("TotalCount = %d, want 5", result.TotalCount)
	}
	if len(result.Records) != 2 || result.Records[0].ID != "b" || result.Records[1].ID != "c" {
		t.Errorf("Records = %+v, want [b c]", result.Records)
	}
	if !result.HasMore {
		t.Error("HasMore = false, want true")
	}
}

func TestQueryFilterExcludesNonMatching(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Initialize(ctx)
	s.Set(ctx, "coll", "keep", []byte("keep"), storage.SetOptions{})
	s.Set(ctx, "coll", "drop", []byte("drop"), storage.SetOptions{})

	result, err := s.Query(ctx, "coll", storage.QuerySpec{
		Filter: func(r storage.Record) bool { return r.ID == "keep" },
	})
	if err != nil {
		t.Fatalf("Query() = %v", err)
	}
	if result.TotalCount != 1 || result.Records[0].ID != "keep" {
		t.Errorf("Query() = %+v, want only 'keep'", result)
	}
}

type fakeHook struct{}

func (fakeHook) Encrypt(p []byte) ([]byte, error) {
	out := make([]byte, len(p))
	for i, b := range p {
		out[i] = b ^ 0xFF
	}
	return out, nil
}

func (fakeHook) Decrypt(c []byte) ([]byte, error) {
	return fakeHook{}.Encrypt(c) // xor is self-inverse
}

func TestEncryptionHookAppliedTransparently(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Initialize(ctx)
	s.SetEncryptionHook(fakeHook{})

	if err := s.Set(ctx, "coll", "id1", []byte("secret"), storage.SetOptions{}); err != nil {
		t.Fatalf("Set() = %v", err)
	}
	rec, err := s.Get(ctx, "coll", "id1")
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if string(rec.Data) != "secret" {
		t.Errorf("Get() = %q, want %q (hook should round-trip transparently)", rec.Data, "secret")
	}
}

// Package storage declares the storage collaborator contract consumed by
// the transaction queue. The core treats storage as an external
// dependency — persistence, query execution, and encryption-at-rest are
// somebody else's implementation — so this package is deliberately thin:
// interfaces and the small value types they pass.
//
// Dynamic string field-path queries are not part of this contract. Query
// takes a typed predicate closure instead, so a statically typed caller
// (the queue) builds its own filter rather than the storage layer parsing
// dotted paths at runtime.
package storage

import "context"

// Record is one stored entity: opaque bytes plus a small set of fields the
// collection needs to support Query's Sort. Encoding of Data is owned by
// the caller (the queue marshals/unmarshals its own Transaction struct).
type Record struct {
	ID   string
	Data []byte
}

// SetOptions customizes a Set call. Reserved for collaborator-specific
// knobs (e.g. a TTL); the core does not set any today.
type SetOptions struct{}

// SortOrder controls Query's result ordering.
type SortOrder int

const (
	SortNone SortOrder = iota
	SortAscending
	SortDescending
)

// QuerySpec constrains a Query call: an optional predicate over each
// candidate Record, an optional ordering key extractor, and pagination.
type QuerySpec struct {
	// Filter returns true to include a record. Nil means "match everything".
	Filter func(Record) bool
	// SortKey extracts the value a record is ordered by when Sort is not
	// SortNone. Required if Sort != SortNone.
	SortKey func(Record) string
	Sort    SortOrder
	Limit   int
	Offset  int
}

// QueryResult is the page returned by Query.
type QueryResult struct {
	Records    []Record
	TotalCount int
	HasMore    bool
}

// EncryptionHook wraps opaque bytes transparently on the read/write path.
// The core never inspects plaintext or ciphertext; tamper detection is the
// hook's responsibility and surfaces to the core as an error from
// Get/Set (propagated as a storage_error).
type EncryptionHook interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Store is the persistent key/value-over-collections contract the queue
// depends on. A collection is a flat namespace of Records identified by
// string id; the queue uses a single collection, "transaction_queue".
type Store interface {
	Initialize(ctx context.Context) error
	Close(ctx context.Context) error

	Get(ctx context.Context, collection, id string) (*Record, error)
	Set(ctx context.Context, collection, id string, data []byte, opts SetOptions) error
	Query(ctx context.Context, collection string, spec QuerySpec) (QueryResult, error)
	Delete(ctx context.Context, collection, id string) error
	Clear(ctx context.Context, collection string) error
	ClearAll(ctx context.Context) error

	SetEncryptionHook(hook EncryptionHook)
}

package store

import (
	"context"
	"encoding/json"
)

// Record is one persisted entity payload keyed by id within a collection.
type Record struct {
	ID      string
	Payload json.RawMessage
}

// Store abstracts the durable on-device persistence layer. Consumers should
// depend on this interface rather than the concrete *SQLite type to
// facilitate testing with mocks.
//
// Writes are durable once the call returns. Writes to the same id are
// last-write-wins at the storage layer; ordering is the caller's concern.
type Store interface {
	List(ctx context.Context, collection string) ([]Record, error)
	Get(ctx context.Context, collection, id string) (Record, error)
	Put(ctx context.Context, collection, id string, payload []byte) error
	Delete(ctx context.Context, collection, id string) error
	Close() error
}

// Verify *SQLite satisfies Store at compile time.
var _ Store = (*SQLite)(nil)

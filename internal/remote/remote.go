// Package remote defines the boundary to the cloud backend: request/response
// CRUD over HTTPS and a realtime change feed over a persistent websocket.
//
// The core tolerates the feed delivering events out of order, more than once,
// or arbitrarily late, and tolerates CRUD calls failing transiently; callers
// resolve both through last-write-wins reconciliation and retry.
package remote

import (
	"context"
	"encoding/json"
)

// ChangeType identifies the kind of row change carried by the feed.
type ChangeType string

// Change feed event types.
const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// Change is one inbound change notification.
type Change struct {
	Type  ChangeType      `json:"eventType"`
	Table string          `json:"table"`
	New   json.RawMessage `json:"new,omitempty"`
	Old   json.RawMessage `json:"old,omitempty"`
}

// Backend abstracts the remote store. Consumers should depend on this
// interface rather than the concrete *Client type to facilitate testing
// with fakes.
type Backend interface {
	// Select returns every row in table belonging to owner.
	Select(ctx context.Context, table, owner string) ([]json.RawMessage, error)

	// Upsert creates or replaces a row. Idempotent by row id; retries must
	// not duplicate.
	Upsert(ctx context.Context, table string, row any) error

	// Delete removes a row by id. Deleting an absent row is not an error.
	Delete(ctx context.Context, table, id string) error

	// Subscribe opens the realtime change feed for one table and owner. The
	// returned channel is closed when ctx is cancelled. The implementation
	// reconnects on transient failures for as long as ctx lives.
	Subscribe(ctx context.Context, table, owner string) (<-chan Change, error)
}

// Verify *Client satisfies Backend at compile time.
var _ Backend = (*Client)(nil)

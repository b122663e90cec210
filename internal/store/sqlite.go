// Package store provides the SQLite-backed local persistence layer holding
// the device's authoritative snapshot of notes, folders, and pending-write
// markers.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/perth/internal/apperr"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS records (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	payload    TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (collection, id)
);

CREATE INDEX IF NOT EXISTS idx_records_collection ON records(collection);
`

// SQLite wraps a sql.DB with record-set operations.
type SQLite struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=FULL")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &SQLite{conn: conn}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.conn.Close()
}

// List returns every record in a collection.
func (s *SQLite) List(ctx context.Context, collection string) ([]Record, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT id, payload FROM records WHERE collection = ?`, collection)
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w: %w", collection, apperr.ErrStorageFailure, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var payload string
		if err := rows.Scan(&r.ID, &payload); err != nil {
			return nil, fmt.Errorf("store: scan %s: %w", collection, err)
		}
		r.Payload = []byte(payload)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Get returns a single record, or apperr.ErrNotFound if the id is absent.
func (s *SQLite) Get(ctx context.Context, collection, id string) (Record, error) {
	var payload string
	err := s.conn.QueryRowContext(ctx,
		`SELECT payload FROM records WHERE collection = ? AND id = ?`, collection, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("store: get %s/%s: %w", collection, id, apperr.ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("store: get %s/%s: %w: %w", collection, id, apperr.ErrStorageFailure, err)
	}
	return Record{ID: id, Payload: []byte(payload)}, nil
}

// Put inserts or replaces a record. The write is durable once Put returns.
func (s *SQLite) Put(ctx context.Context, collection, id string, payload []byte) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO records (collection, id, payload, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(collection, id) DO UPDATE SET
			payload    = excluded.payload,
			updated_at = excluded.updated_at
	`, collection, id, string(payload))
	if err != nil {
		return fmt.Errorf("store: put %s/%s: %w: %w", collection, id, apperr.ErrStorageFailure, err)
	}
	return nil
}

// Delete removes a record. Deleting an absent id is a no-op.
func (s *SQLite) Delete(ctx context.Context, collection, id string) error {
	_, err := s.conn.ExecContext(ctx, `DELETE FROM records WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return fmt.Errorf("store: delete %s/%s: %w: %w", collection, id, apperr.ErrStorageFailure, err)
	}
	return nil
}

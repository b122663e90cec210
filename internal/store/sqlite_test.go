package store

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/starford/perth/internal/apperr"
)

func testStore(t *testing.T) *SQLite {
	t.Helper()
	f, err := os.CreateTemp("", "perth-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	s, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutAndGet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "notes", "n1", []byte(`{"id":"n1","title":"hello"}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	rec, err := s.Get(ctx, "notes", "n1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(rec.Payload) != `{"id":"n1","title":"hello"}` {
		t.Errorf("payload = %s", rec.Payload)
	}
}

func TestGet_NotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.Get(context.Background(), "notes", "missing")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPut_LastWriteWins(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_ = s.Put(ctx, "notes", "n1", []byte(`{"v":1}`))
	_ = s.Put(ctx, "notes", "n1", []byte(`{"v":2}`))

	rec, err := s.Get(ctx, "notes", "n1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(rec.Payload) != `{"v":2}` {
		t.Errorf("payload = %s, want second write", rec.Payload)
	}
}

func TestList_IsolatedByCollection(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_ = s.Put(ctx, "notes", "n1", []byte(`{}`))
	_ = s.Put(ctx, "notes", "n2", []byte(`{}`))
	_ = s.Put(ctx, "folders", "f1", []byte(`{}`))

	notes, err := s.List(ctx, "notes")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(notes) != 2 {
		t.Errorf("notes = %d, want 2", len(notes))
	}
	folders, _ := s.List(ctx, "folders")
	if len(folders) != 1 {
		t.Errorf("folders = %d, want 1", len(folders))
	}
}

func TestDelete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_ = s.Put(ctx, "notes", "n1", []byte(`{}`))
	if err := s.Delete(ctx, "notes", "n1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "notes", "n1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	// Deleting an absent id is a no-op.
	if err := s.Delete(ctx, "notes", "n1"); err != nil {
		t.Errorf("Delete absent: %v", err)
	}
}

func TestConcurrentWritersDistinctIDs(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	done := make(chan error, 2)
	go func() { done <- s.Put(ctx, "notes", "a", []byte(`{"id":"a"}`)) }()
	go func() { done <- s.Put(ctx, "notes", "b", []byte(`{"id":"b"}`)) }()
	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent Put: %v", err)
		}
	}

	for _, id := range []string{"a", "b"} {
		if _, err := s.Get(ctx, "notes", id); err != nil {
			t.Errorf("Get %s: %v", id, err)
		}
	}
}

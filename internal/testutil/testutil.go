// Package testutil provides shared test helpers for setting up stores and
// lifecycle managers.
package testutil

import (
	"os"
	"testing"

	"github.com/starford/perth/internal/lifecycle"
	"github.com/starford/perth/internal/store"
)

// TestStore creates a temporary SQLite store that is automatically cleaned up.
func TestStore(t *testing.T) store.Store {
	t.Helper()
	dbFile, err := os.CreateTemp(t.TempDir(), "perth-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()

	st, err := store.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// TestManager creates a lifecycle manager over a temporary store. An empty
// owner means no linked account.
func TestManager(t *testing.T, owner string) *lifecycle.Manager {
	t.Helper()
	return lifecycle.New(TestStore(t), owner)
}

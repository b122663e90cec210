package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	stdsync "sync"
	"testing"
	"time"

	"github.com/starford/perth/internal/apperr"
	"github.com/starford/perth/internal/lifecycle"
	"github.com/starford/perth/internal/models"
	"github.com/starford/perth/internal/remote"
	"github.com/starford/perth/internal/store"
)

// fakeBackend is an in-memory Backend with scriptable failures and feeds.
type fakeBackend struct {
	mu       stdsync.Mutex
	rows     map[string]map[string]json.RawMessage // table -> id -> row
	feeds    map[string]chan remote.Change         // table -> feed
	failing  bool
	onUpsert func(table string, row any) // runs mid-Upsert, before the row lands
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		rows:  make(map[string]map[string]json.RawMessage),
		feeds: make(map[string]chan remote.Change),
	}
}

func (f *fakeBackend) setFailing(v bool) {
	f.mu.Lock()
	f.failing = v
	f.mu.Unlock()
}

func (f *fakeBackend) seed(table string, row any) {
	payload, _ := json.Marshal(row)
	var probe struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(payload, &probe)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rows[table] == nil {
		f.rows[table] = make(map[string]json.RawMessage)
	}
	f.rows[table][probe.ID] = payload
}

func (f *fakeBackend) has(table, id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.rows[table][id]
	return ok
}

func (f *fakeBackend) Select(_ context.Context, table, _ string) ([]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, fmt.Errorf("fake select: %w", apperr.ErrRemoteFailure)
	}
	var out []json.RawMessage
	for _, row := range f.rows[table] {
		out = append(out, row)
	}
	return out, nil
}

func (f *fakeBackend) Upsert(_ context.Context, table string, row any) error {
	f.mu.Lock()
	failing := f.failing
	hook := f.onUpsert
	f.mu.Unlock()
	if failing {
		return fmt.Errorf("fake upsert: %w", apperr.ErrRemoteFailure)
	}
	if hook != nil {
		hook(table, row)
	}
	f.seed(table, row)
	return nil
}

func (f *fakeBackend) Delete(_ context.Context, table, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return fmt.Errorf("fake delete: %w", apperr.ErrRemoteFailure)
	}
	delete(f.rows[table], id)
	return nil
}

func (f *fakeBackend) Subscribe(ctx context.Context, table, _ string) (<-chan remote.Change, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan remote.Change, 16)
	f.feeds[table] = ch
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

// emit waits for the engine's subscription before delivering, since Enable
// opens feeds asynchronously.
func (f *fakeBackend) emit(table string, change remote.Change) {
	deadline := time.Now().Add(2 * time.Second)
	for {
		f.mu.Lock()
		ch := f.feeds[table]
		f.mu.Unlock()
		if ch != nil {
			ch <- change
			return
		}
		if time.Now().After(deadline) {
			panic("fakeBackend: no subscriber for " + table)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEngine(t *testing.T, owner string) (*Engine, *lifecycle.Manager, *fakeBackend) {
	t.Helper()
	f, err := os.CreateTemp("", "perth-sync-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	st, err := store.Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	life := lifecycle.New(st, owner)
	backend := newFakeBackend()
	engine := NewEngine(life, backend, testLogger())
	t.Cleanup(engine.Disable)
	return engine, life, backend
}

func eventually(t *testing.T, timeout time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestEnable_RequiresLinkedAccount(t *testing.T) {
	engine, _, _ := testEngine(t, models.LocalOwner)
	err := engine.Enable()
	if !errors.Is(err, apperr.ErrAuthRequired) {
		t.Fatalf("expected ErrAuthRequired, got %v", err)
	}
	if engine.Enabled() {
		t.Error("sync must stay disabled without an account")
	}
}

func TestEnable_AdoptsRemoteOnlyEntities(t *testing.T) {
	engine, life, backend := testEngine(t, "alice")
	ctx := context.Background()

	backend.seed(models.CollectionNotes, &models.Note{
		ID: "remote-1", Owner: "alice", Title: "from cloud",
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	})

	if err := engine.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}

	n, err := life.GetNote(ctx, "remote-1")
	if err != nil {
		t.Fatalf("remote note not adopted: %v", err)
	}
	if n.Title != "from cloud" {
		t.Errorf("title = %q", n.Title)
	}
	if engine.State() != StateIdle {
		t.Errorf("state = %s, want idle", engine.State())
	}
}

func TestEnable_PushesOfflineCreations(t *testing.T) {
	engine, life, backend := testEngine(t, "alice")
	ctx := context.Background()

	// Created before sync was ever enabled: fully usable locally.
	n, err := life.CreateNote(ctx, "offline", "draft", "")
	if err != nil {
		t.Fatalf("CreateNote: %v", err)
	}

	if err := engine.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}

	if !backend.has(models.CollectionNotes, n.ID) {
		t.Fatal("offline creation not pushed on enable")
	}
	if life.HasPending(ctx, n.ID) {
		t.Error("pending marker not cleared after acknowledged push")
	}
}

func TestPull_LastWriteWinsBothDirections(t *testing.T) {
	engine, life, backend := testEngine(t, "alice")
	ctx := context.Background()

	local, _ := life.CreateNote(ctx, "n", "local content", "")
	// Simulate the push having been acknowledged so only LWW decides.
	_ = life.ClearPending(ctx, local.ID)

	// Remote copy is older: local content survives the merge.
	older := *local
	older.Content = "stale remote"
	older.UpdatedAt = local.UpdatedAt.Add(-time.Minute)
	backend.seed(models.CollectionNotes, &older)

	if err := engine.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	got, _ := life.GetNote(ctx, local.ID)
	if got.Content != "local content" {
		t.Errorf("content = %q, want local content", got.Content)
	}

	// Remote copy is newer: adopted in full.
	newer := *local
	newer.Content = "fresh remote"
	newer.UpdatedAt = local.UpdatedAt.Add(time.Minute)
	backend.seed(models.CollectionNotes, &newer)
	_ = life.ClearPending(ctx, local.ID)

	engine.Trigger()
	eventually(t, 3*time.Second, func() bool {
		got, _ := life.GetNote(ctx, local.ID)
		return got.Content == "fresh remote"
	}, "newer remote content not adopted")
}

func TestPull_QueuedUpsertYieldsToNewerRemote(t *testing.T) {
	engine, life, backend := testEngine(t, "alice")
	ctx := context.Background()

	// The marker from the local edit is still queued when pull runs.
	local, _ := life.CreateNote(ctx, "n", "local draft", "")
	if !life.HasPending(ctx, local.ID) {
		t.Fatal("local creation must queue a marker")
	}

	newer := *local
	newer.Content = "edited elsewhere"
	newer.UpdatedAt = local.UpdatedAt.Add(time.Minute)
	backend.seed(models.CollectionNotes, &newer)

	if err := engine.pull(ctx); err != nil {
		t.Fatalf("pull: %v", err)
	}

	got, _ := life.GetNote(ctx, local.ID)
	if got.Content != "edited elsewhere" {
		t.Fatalf("content = %q, want the newer remote version", got.Content)
	}
	// The queued upsert is stale now; pushing it would undo the remote edit.
	if life.HasPending(ctx, local.ID) {
		t.Fatal("stale marker survived adoption of a newer remote version")
	}
	if err := engine.push(ctx); err != nil {
		t.Fatalf("push: %v", err)
	}
	var stored models.Note
	backend.mu.Lock()
	_ = json.Unmarshal(backend.rows[models.CollectionNotes][local.ID], &stored)
	backend.mu.Unlock()
	if stored.Content != "edited elsewhere" {
		t.Fatalf("backend content = %q, push resent a stale version", stored.Content)
	}
}

func TestPull_QueuedUpsertBeatsOlderRemote(t *testing.T) {
	engine, life, backend := testEngine(t, "alice")
	ctx := context.Background()

	local, _ := life.CreateNote(ctx, "n", "local edit", "")

	echo := *local
	echo.Content = "stale server read"
	echo.UpdatedAt = local.UpdatedAt.Add(-time.Second)
	backend.seed(models.CollectionNotes, &echo)

	if err := engine.pull(ctx); err != nil {
		t.Fatalf("pull: %v", err)
	}

	got, _ := life.GetNote(ctx, local.ID)
	if got.Content != "local edit" {
		t.Fatalf("content = %q, want the local edit", got.Content)
	}
	if !life.HasPending(ctx, local.ID) {
		t.Fatal("marker must survive so the local edit still goes up")
	}
}

func TestPull_QueuedDeleteNotResurrected(t *testing.T) {
	engine, life, backend := testEngine(t, "alice")
	ctx := context.Background()

	n, _ := life.CreateNote(ctx, "t", "c", "")
	backend.seed(models.CollectionNotes, n)
	if err := life.PurgeNote(ctx, n.ID); err != nil {
		t.Fatalf("PurgeNote: %v", err)
	}

	// The backend still lists the row until the delete is pushed.
	if err := engine.pull(ctx); err != nil {
		t.Fatalf("pull: %v", err)
	}
	if _, err := life.GetNote(ctx, n.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("purged note came back: %v", err)
	}

	if err := engine.push(ctx); err != nil {
		t.Fatalf("push: %v", err)
	}
	if backend.has(models.CollectionNotes, n.ID) {
		t.Fatal("delete not propagated")
	}
}

func TestPush_EditDuringPushKeepsNewerMarker(t *testing.T) {
	engine, life, backend := testEngine(t, "alice")
	ctx := context.Background()

	n, _ := life.CreateNote(ctx, "n", "v1", "")

	// An edit lands while the first version is on the wire. The marker it
	// queues must not be cleared by the acknowledgement of the old one.
	var once stdsync.Once
	backend.mu.Lock()
	backend.onUpsert = func(string, any) {
		once.Do(func() {
			if _, err := life.UpdateNote(ctx, n.ID, lifecycle.NotePatch{Content: strptr("v2")}); err != nil {
				t.Errorf("UpdateNote: %v", err)
			}
		})
	}
	backend.mu.Unlock()

	if err := engine.push(ctx); err != nil {
		t.Fatalf("push: %v", err)
	}
	if !life.HasPending(ctx, n.ID) {
		t.Fatal("marker queued mid-push was lost")
	}

	if err := engine.push(ctx); err != nil {
		t.Fatalf("second push: %v", err)
	}
	var stored models.Note
	backend.mu.Lock()
	_ = json.Unmarshal(backend.rows[models.CollectionNotes][n.ID], &stored)
	backend.mu.Unlock()
	if stored.Content != "v2" {
		t.Fatalf("backend content = %q, want v2", stored.Content)
	}
	if life.HasPending(ctx, n.ID) {
		t.Fatal("marker not cleared after the edit was pushed")
	}
}

func strptr(s string) *string { return &s }

func TestMergeIsIdempotent(t *testing.T) {
	engine, life, backend := testEngine(t, "alice")
	ctx := context.Background()

	backend.seed(models.CollectionNotes, &models.Note{
		ID: "r1", Owner: "alice", Title: "t",
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	})
	if err := engine.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}

	first, _ := life.GetNote(ctx, "r1")

	var mu stdsync.Mutex
	var events []string
	life.SetEvents(func(kind, id string) {
		mu.Lock()
		events = append(events, kind+":"+id)
		mu.Unlock()
	})

	engine.Trigger()
	eventually(t, 3*time.Second, func() bool { return engine.State() == StateIdle }, "cycle did not finish")
	// Give the cycle a moment to have emitted anything it was going to.
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 0 {
		t.Errorf("second merge of the same snapshot changed state: %v", events)
	}
	second, _ := life.GetNote(ctx, "r1")
	if !second.UpdatedAt.Equal(first.UpdatedAt) {
		t.Error("second merge touched updated_at")
	}
}

func TestPushFailure_LeavesMarkerAndErrorState(t *testing.T) {
	engine, life, backend := testEngine(t, "alice")
	ctx := context.Background()

	backend.setFailing(true)
	if err := engine.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if engine.State() != StateError {
		t.Fatalf("state = %s, want error", engine.State())
	}

	n, _ := life.CreateNote(ctx, "t", "c", "")
	eventually(t, 3*time.Second, func() bool { return engine.State() == StateError }, "cycle did not run")
	if !life.HasPending(ctx, n.ID) {
		t.Fatal("marker must survive a failed push")
	}

	// Error is non-terminal: the next trigger after recovery succeeds.
	backend.setFailing(false)
	engine.Trigger()
	eventually(t, 3*time.Second, func() bool { return backend.has(models.CollectionNotes, n.ID) }, "retry did not push")
	eventually(t, 3*time.Second, func() bool { return engine.State() == StateIdle }, "engine stuck in error state")
}

func TestDisable_PreservesPendingMarkers(t *testing.T) {
	engine, life, backend := testEngine(t, "alice")
	ctx := context.Background()

	backend.setFailing(true)
	_ = engine.Enable()
	n, _ := life.CreateNote(ctx, "t", "c", "")

	engine.Disable()
	if engine.Enabled() {
		t.Fatal("still enabled")
	}
	if !life.HasPending(ctx, n.ID) {
		t.Fatal("disable must preserve pending markers")
	}

	// Re-enabling resumes propagation rather than re-queuing from scratch.
	backend.setFailing(false)
	if err := engine.Enable(); err != nil {
		t.Fatalf("re-Enable: %v", err)
	}
	if !backend.has(models.CollectionNotes, n.ID) {
		t.Fatal("pending write not replayed after re-enable")
	}
}

func TestRealtime_EchoSuppressedWhilePending(t *testing.T) {
	engine, life, backend := testEngine(t, "alice")
	ctx := context.Background()

	backend.setFailing(true) // keep the marker alive
	_ = engine.Enable()
	n, _ := life.CreateNote(ctx, "t", "local", "")

	// The backend echoes our own insert with a stale read of itself.
	echo := *n
	echo.Content = "stale echo"
	payload, _ := json.Marshal(&echo)
	backend.emit(models.CollectionNotes, remote.Change{
		Type: remote.ChangeInsert, Table: models.CollectionNotes, New: payload,
	})

	time.Sleep(150 * time.Millisecond)
	got, _ := life.GetNote(ctx, n.ID)
	if got.Content != "local" {
		t.Fatalf("echo clobbered in-flight write: content = %q", got.Content)
	}

	// Once the marker clears, genuinely newer remote changes apply.
	_ = life.ClearPending(ctx, n.ID)
	newer := *n
	newer.Content = "remote edit"
	newer.UpdatedAt = n.UpdatedAt.Add(time.Minute)
	payload, _ = json.Marshal(&newer)
	backend.emit(models.CollectionNotes, remote.Change{
		Type: remote.ChangeUpdate, Table: models.CollectionNotes, New: payload,
	})

	eventually(t, 3*time.Second, func() bool {
		got, _ := life.GetNote(ctx, n.ID)
		return got.Content == "remote edit"
	}, "newer remote change not applied after marker cleared")
}

func TestRealtime_StaleUpdateIgnoredNewerApplied(t *testing.T) {
	engine, life, _ := testEngine(t, "alice")
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	n := &models.Note{
		ID: "a", Owner: "alice", Content: "x",
		CreatedAt: base, UpdatedAt: base.Add(100 * time.Second),
	}
	if _, err := life.ApplyRemoteNote(ctx, n); err != nil {
		t.Fatal(err)
	}

	// Remote update with t=50: local x (t=100) must survive.
	stale := *n
	stale.Content = "y"
	stale.UpdatedAt = base.Add(50 * time.Second)
	payload, _ := json.Marshal(&stale)
	engine.handleChange(ctx, remote.Change{Type: remote.ChangeUpdate, Table: models.CollectionNotes, New: payload})
	got, _ := life.GetNote(ctx, "a")
	if got.Content != "x" {
		t.Fatalf("content = %q, want x", got.Content)
	}

	// Remote update with t=200: becomes y.
	fresh := *n
	fresh.Content = "y"
	fresh.UpdatedAt = base.Add(200 * time.Second)
	payload, _ = json.Marshal(&fresh)
	engine.handleChange(ctx, remote.Change{Type: remote.ChangeUpdate, Table: models.CollectionNotes, New: payload})
	got, _ = life.GetNote(ctx, "a")
	if got.Content != "y" {
		t.Fatalf("content = %q, want y", got.Content)
	}
}

func TestRealtime_RemoteDelete(t *testing.T) {
	engine, life, _ := testEngine(t, "alice")
	ctx := context.Background()

	n, _ := life.CreateNote(ctx, "t", "c", "")
	_ = life.ClearPending(ctx, n.ID)

	payload, _ := json.Marshal(map[string]string{"id": n.ID})
	engine.handleChange(ctx, remote.Change{Type: remote.ChangeDelete, Table: models.CollectionNotes, Old: payload})

	if _, err := life.GetNote(ctx, n.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("note survived remote delete: %v", err)
	}
}

func TestPurge_PropagatesDelete(t *testing.T) {
	engine, life, backend := testEngine(t, "alice")
	ctx := context.Background()

	if err := engine.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	n, _ := life.CreateNote(ctx, "t", "c", "")
	eventually(t, 3*time.Second, func() bool { return backend.has(models.CollectionNotes, n.ID) }, "create not pushed")

	_ = life.PurgeNote(ctx, n.ID)
	eventually(t, 3*time.Second, func() bool { return !backend.has(models.CollectionNotes, n.ID) }, "purge not propagated")
}

// Package sync implements the engine that keeps the local replica converged
// with the remote backend: pull-and-merge, push of pending writes, and
// realtime change ingestion with echo suppression.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	stdsync "sync"

	"github.com/starford/perth/internal/apperr"
	"github.com/starford/perth/internal/lifecycle"
	"github.com/starford/perth/internal/models"
	"github.com/starford/perth/internal/remote"
)

// State is the engine's position in its session state machine. The error
// state is non-terminal: the next trigger runs a fresh cycle.
type State string

// Engine states.
const (
	StateDisabled State = "disabled"
	StatePulling  State = "pulling"
	StatePushing  State = "pushing"
	StateIdle     State = "idle"
	StateError    State = "error"
)

// Engine orchestrates synchronization between the lifecycle manager's local
// replica and the remote backend.
type Engine struct {
	life    *lifecycle.Manager
	backend remote.Backend
	logger  *slog.Logger

	mu      stdsync.Mutex
	state   State
	onState func(State)
	enabled bool
	cancel  context.CancelFunc
	done    chan struct{}

	trigger chan struct{}
}

// NewEngine creates an engine. It registers itself as the manager's
// propagator so local commits schedule a push.
func NewEngine(life *lifecycle.Manager, backend remote.Backend, logger *slog.Logger) *Engine {
	e := &Engine{
		life:    life,
		backend: backend,
		logger:  logger,
		state:   StateDisabled,
		trigger: make(chan struct{}, 1),
	}
	life.SetPropagator(e)
	return e
}

// State returns the engine's current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Enabled reports whether sync is currently on.
func (e *Engine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// SetStateFunc installs an observer invoked on every state transition.
// Must be called before Enable.
func (e *Engine) SetStateFunc(fn func(State)) {
	e.mu.Lock()
	e.onState = fn
	e.mu.Unlock()
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	fn := e.onState
	e.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// EntityChanged implements lifecycle.Propagator. Non-blocking; coalesces
// into at most one queued trigger.
func (e *Engine) EntityChanged(string, string) {
	e.Trigger()
}

// Trigger schedules a push-and-pull cycle. No-op while sync is disabled.
func (e *Engine) Trigger() {
	e.mu.Lock()
	enabled := e.enabled
	e.mu.Unlock()
	if !enabled {
		return
	}
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Enable turns sync on: an initial pull-and-merge plus push, then a realtime
// subscription for the owning account. Returns apperr.ErrAuthRequired when
// no account is linked; remote failures during the initial cycle do not fail
// enablement, they leave the engine in the error state to be retried.
func (e *Engine) Enable() error {
	e.mu.Lock()
	if e.enabled {
		e.mu.Unlock()
		return nil
	}
	if e.life.Owner() == models.LocalOwner {
		e.mu.Unlock()
		return fmt.Errorf("sync: enable: no account linked: %w", apperr.ErrAuthRequired)
	}
	if e.backend == nil {
		e.mu.Unlock()
		return fmt.Errorf("sync: enable: no remote endpoint configured: %w", apperr.ErrRemoteFailure)
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.enabled = true
	e.cancel = cancel
	e.done = make(chan struct{})
	e.mu.Unlock()

	e.cycle(context.Background())

	go e.run(ctx)
	return nil
}

// Disable closes the realtime subscription and stops scheduling new cycles.
// A cycle already in progress completes and its results are applied; pending
// markers are preserved so re-enabling resumes propagation.
func (e *Engine) Disable() {
	e.mu.Lock()
	if !e.enabled {
		e.mu.Unlock()
		return
	}
	e.enabled = false
	cancel := e.cancel
	done := e.done
	e.mu.Unlock()

	cancel()
	<-done
	e.setState(StateDisabled)
	e.logger.Info("sync: disabled")
}

// run consumes the realtime feeds and trigger requests until ctx is
// cancelled. Cycles run on a detached context so disabling mid-cycle never
// leaves the store partially merged.
func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	owner := e.life.Owner()
	noteFeed, err := e.backend.Subscribe(ctx, models.CollectionNotes, owner)
	if err != nil {
		e.logger.Error("sync: subscribe notes", slog.String("error", err.Error()))
		e.setState(StateError)
		noteFeed = nil
	}
	folderFeed, err := e.backend.Subscribe(ctx, models.CollectionFolders, owner)
	if err != nil {
		e.logger.Error("sync: subscribe folders", slog.String("error", err.Error()))
		e.setState(StateError)
		folderFeed = nil
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.trigger:
			e.cycle(context.Background())
		case ch, ok := <-noteFeed:
			if !ok {
				noteFeed = nil
				continue
			}
			e.handleChange(context.Background(), ch)
		case ch, ok := <-folderFeed:
			if !ok {
				folderFeed = nil
				continue
			}
			e.handleChange(context.Background(), ch)
		}
	}
}

// cycle runs one pull-and-merge followed by one push. Remote failures set
// the error state and are retried on the next trigger; they never unwind
// local data.
func (e *Engine) cycle(ctx context.Context) {
	e.setState(StatePulling)
	if err := e.pull(ctx); err != nil {
		e.logger.Warn("sync: pull failed", slog.String("error", err.Error()))
		e.setState(StateError)
		return
	}
	e.setState(StatePushing)
	if err := e.push(ctx); err != nil {
		e.logger.Warn("sync: push failed", slog.String("error", err.Error()))
		e.setState(StateError)
		return
	}
	e.setState(StateIdle)
}

// pull fetches the remote entity lists and merges them entity-by-entity:
// remote-only rows are adopted (unless an in-flight local delete is pending),
// local-only entities are queued for push, and rows present on both sides
// resolve by last-write-wins with the local version winning exact ties.
func (e *Engine) pull(ctx context.Context) error {
	owner := e.life.Owner()

	noteRows, err := e.backend.Select(ctx, models.CollectionNotes, owner)
	if err != nil {
		return err
	}
	remoteNotes := make(map[string]struct{}, len(noteRows))
	for _, row := range noteRows {
		var n models.Note
		if err := json.Unmarshal(row, &n); err != nil {
			e.logger.Warn("sync: bad note row", slog.String("error", err.Error()))
			continue
		}
		remoteNotes[n.ID] = struct{}{}
		pending, hasPending := e.life.PendingFor(ctx, n.ID)
		if hasPending && pending.Op == models.OpDelete {
			continue // local delete in flight; don't resurrect the entity
		}
		applied, err := e.life.ApplyRemoteNote(ctx, &n)
		if err != nil {
			return err
		}
		if applied && hasPending {
			// The remote copy was strictly newer, so the queued upsert is
			// stale; dropping it keeps push from clobbering the backend.
			if err := e.life.ClearPendingIf(ctx, pending); err != nil {
				return err
			}
		}
	}

	folderRows, err := e.backend.Select(ctx, models.CollectionFolders, owner)
	if err != nil {
		return err
	}
	remoteFolders := make(map[string]struct{}, len(folderRows))
	for _, row := range folderRows {
		var f models.Folder
		if err := json.Unmarshal(row, &f); err != nil {
			e.logger.Warn("sync: bad folder row", slog.String("error", err.Error()))
			continue
		}
		remoteFolders[f.ID] = struct{}{}
		pending, hasPending := e.life.PendingFor(ctx, f.ID)
		if hasPending && pending.Op == models.OpDelete {
			continue
		}
		applied, err := e.life.ApplyRemoteFolder(ctx, &f)
		if err != nil {
			return err
		}
		if applied && hasPending {
			if err := e.life.ClearPendingIf(ctx, pending); err != nil {
				return err
			}
		}
	}

	// Entities present locally but unknown to the backend are pending local
	// creations; queue them so the push phase sends them up.
	notes, err := e.life.AllNotes(ctx)
	if err != nil {
		return err
	}
	for _, n := range notes {
		if _, ok := remoteNotes[n.ID]; ok {
			continue
		}
		if err := e.life.EnsurePending(ctx, models.CollectionNotes, n.ID); err != nil {
			return err
		}
	}
	folders, err := e.life.AllFolders(ctx)
	if err != nil {
		return err
	}
	for _, f := range folders {
		if _, ok := remoteFolders[f.ID]; ok {
			continue
		}
		if err := e.life.EnsurePending(ctx, models.CollectionFolders, f.ID); err != nil {
			return err
		}
	}
	return nil
}

// push replays every pending write. Pushes are idempotent by entity id, so a
// marker left over from a failed attempt is safe to retry. Individual
// failures don't stop the pass; the first error is reported at the end.
func (e *Engine) push(ctx context.Context) error {
	pending, err := e.life.PendingWrites(ctx)
	if err != nil {
		return err
	}

	var firstErr error
	for _, p := range pending {
		if err := e.pushOne(ctx, p); err != nil {
			e.logger.Warn("sync: push entity failed, will retry",
				slog.String("collection", p.Collection),
				slog.String("id", p.EntityID),
				slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		// Clear only the exact marker that was pushed. A mutation committed
		// while pushOne was on the wire queues a newer marker for the same
		// entity, and that one has to stay for the next pass.
		if err := e.life.ClearPendingIf(ctx, p); err != nil {
			return err
		}
	}
	return firstErr
}

func (e *Engine) pushOne(ctx context.Context, p models.PendingWrite) error {
	if p.Op == models.OpDelete {
		return e.backend.Delete(ctx, p.Collection, p.EntityID)
	}

	switch p.Collection {
	case models.CollectionNotes:
		n, err := e.life.GetNote(ctx, p.EntityID)
		if err != nil {
			// Entity vanished since the marker was written; stale marker.
			return nil
		}
		return e.backend.Upsert(ctx, p.Collection, n)
	case models.CollectionFolders:
		f, err := e.life.GetFolder(ctx, p.EntityID)
		if err != nil {
			return nil
		}
		return e.backend.Upsert(ctx, p.Collection, f)
	default:
		return nil
	}
}

// handleChange applies one inbound realtime notification. A pending-write
// marker for the entity means the notification is the backend echoing our
// own in-flight write, so it is dropped; the local version stays
// authoritative until the marker clears.
func (e *Engine) handleChange(ctx context.Context, ch remote.Change) {
	row := ch.New
	if ch.Type == remote.ChangeDelete {
		row = ch.Old
	}
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(row, &probe); err != nil || probe.ID == "" {
		e.logger.Warn("sync: change without id", slog.String("table", ch.Table))
		return
	}

	if e.life.HasPending(ctx, probe.ID) {
		e.logger.Debug("sync: ignored echo", slog.String("id", probe.ID))
		return
	}

	var err error
	switch {
	case ch.Type == remote.ChangeDelete:
		err = e.life.ApplyRemoteDelete(ctx, ch.Table, probe.ID)
	case ch.Table == models.CollectionNotes:
		var n models.Note
		if err = json.Unmarshal(ch.New, &n); err == nil {
			_, err = e.life.ApplyRemoteNote(ctx, &n)
		}
	case ch.Table == models.CollectionFolders:
		var f models.Folder
		if err = json.Unmarshal(ch.New, &f); err == nil {
			_, err = e.life.ApplyRemoteFolder(ctx, &f)
		}
	}
	if err != nil {
		e.logger.Warn("sync: apply change failed",
			slog.String("table", ch.Table),
			slog.String("id", probe.ID),
			slog.String("error", err.Error()))
	}
}

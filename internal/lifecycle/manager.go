// Package lifecycle implements the entity lifecycle manager: the single
// mutation path for notes and folders, including the soft-delete trash,
// cascade rules, and pending-write bookkeeping for sync.
//
// Every mutation commits to the local store first. Propagation to the remote
// backend happens only after the local commit succeeds, and never blocks or
// fails the originating operation.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/perth/internal/links"
	"github.com/starford/perth/internal/models"
	"github.com/starford/perth/internal/store"
)

// Propagator is notified after a successful local commit so the sync engine
// can schedule a push. Implementations must return quickly; the manager calls
// them on the mutating goroutine.
type Propagator interface {
	EntityChanged(collection, id string)
}

// EventFunc receives entity change notifications for the UI event stream.
// kind is e.g. "note.created", "folder.trashed".
type EventFunc func(kind, id string)

// Manager owns all note and folder mutations. A single mutex serializes
// mutating operations, which preserves per-entity call ordering when the
// manager is shared across goroutines.
type Manager struct {
	store    store.Store
	owner    string
	notifier links.Notifier

	mu        sync.Mutex
	lastStamp time.Time
	now       func() time.Time

	prop   Propagator
	events EventFunc
}

// New creates a Manager persisting through st. owner identifies the account
// the data belongs to; use models.LocalOwner when no account is linked.
func New(st store.Store, owner string) *Manager {
	if owner == "" {
		owner = models.LocalOwner
	}
	return &Manager{
		store:    st,
		owner:    owner,
		notifier: links.Discard{},
		now:      time.Now,
	}
}

// Owner returns the account id the manager stamps onto new entities.
func (m *Manager) Owner() string { return m.owner }

// SetLinkNotifier attaches the link-index collaborator. Pass nil to detach.
func (m *Manager) SetLinkNotifier(n links.Notifier) {
	if n == nil {
		n = links.Discard{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifier = n
}

// SetPropagator attaches the sync engine. Pass nil to detach.
func (m *Manager) SetPropagator(p Propagator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prop = p
}

// SetEvents attaches the UI event callback.
func (m *Manager) SetEvents(fn EventFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = fn
}

// stamp returns a timestamp strictly greater than any previously issued one.
// Guards against coarse clocks producing equal updated_at values for
// consecutive writes. Callers must hold m.mu.
func (m *Manager) stamp() time.Time {
	now := m.now().UTC()
	if !now.After(m.lastStamp) {
		now = m.lastStamp.Add(time.Millisecond)
	}
	m.lastStamp = now
	return now
}

// observeStamp advances the monotonic guard past a remote timestamp, so the
// next local write to the same entity compares strictly newer.
// Callers must hold m.mu.
func (m *Manager) observeStamp(ts time.Time) {
	if ts.After(m.lastStamp) {
		m.lastStamp = ts
	}
}

func (m *Manager) emit(kind, id string) {
	if m.events != nil {
		m.events(kind, id)
	}
}

func (m *Manager) propagate(collection, id string) {
	if m.prop != nil {
		m.prop.EntityChanged(collection, id)
	}
}

// --- store codec helpers ---

func (m *Manager) getNote(ctx context.Context, id string) (*models.Note, error) {
	rec, err := m.store.Get(ctx, models.CollectionNotes, id)
	if err != nil {
		return nil, err
	}
	var n models.Note
	if err := json.Unmarshal(rec.Payload, &n); err != nil {
		return nil, fmt.Errorf("lifecycle: decode note %s: %w", id, err)
	}
	return &n, nil
}

func (m *Manager) putNote(ctx context.Context, n *models.Note) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("lifecycle: encode note %s: %w", n.ID, err)
	}
	return m.store.Put(ctx, models.CollectionNotes, n.ID, payload)
}

func (m *Manager) getFolder(ctx context.Context, id string) (*models.Folder, error) {
	rec, err := m.store.Get(ctx, models.CollectionFolders, id)
	if err != nil {
		return nil, err
	}
	var f models.Folder
	if err := json.Unmarshal(rec.Payload, &f); err != nil {
		return nil, fmt.Errorf("lifecycle: decode folder %s: %w", id, err)
	}
	return &f, nil
}

func (m *Manager) putFolder(ctx context.Context, f *models.Folder) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("lifecycle: encode folder %s: %w", f.ID, err)
	}
	return m.store.Put(ctx, models.CollectionFolders, f.ID, payload)
}

func (m *Manager) listNotes(ctx context.Context) ([]*models.Note, error) {
	recs, err := m.store.List(ctx, models.CollectionNotes)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Note, 0, len(recs))
	for _, rec := range recs {
		var n models.Note
		if err := json.Unmarshal(rec.Payload, &n); err != nil {
			return nil, fmt.Errorf("lifecycle: decode note %s: %w", rec.ID, err)
		}
		out = append(out, &n)
	}
	return out, nil
}

func (m *Manager) listFolders(ctx context.Context) ([]*models.Folder, error) {
	recs, err := m.store.List(ctx, models.CollectionFolders)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Folder, 0, len(recs))
	for _, rec := range recs {
		var f models.Folder
		if err := json.Unmarshal(rec.Payload, &f); err != nil {
			return nil, fmt.Errorf("lifecycle: decode folder %s: %w", rec.ID, err)
		}
		out = append(out, &f)
	}
	return out, nil
}

// --- note operations ---

// NotePatch is a partial note update. Nil fields are left unchanged.
type NotePatch struct {
	Title    *string
	Content  *string
	FolderID *string
	Pinned   *bool
	Archived *bool
}

// CreateNote allocates a new note, commits it locally, and schedules
// propagation. It returns only after the local commit has succeeded.
func (m *Manager) CreateNote(ctx context.Context, title, content, folderID string) (*models.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if folderID != "" {
		if _, err := m.getFolder(ctx, folderID); err != nil {
			return nil, fmt.Errorf("lifecycle: create note: folder %s: %w", folderID, err)
		}
	}

	now := m.stamp()
	n := &models.Note{
		ID:        uuid.NewString(),
		Owner:     m.owner,
		Title:     title,
		Content:   content,
		FolderID:  folderID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.putNote(ctx, n); err != nil {
		return nil, err
	}
	if err := m.markPending(ctx, models.CollectionNotes, n.ID, models.OpUpsert); err != nil {
		return nil, err
	}

	go m.notifier.NoteLinksChanged(n.ID, links.Extract(content))
	m.propagate(models.CollectionNotes, n.ID)
	m.emit("note.created", n.ID)
	return n, nil
}

// UpdateNote merges patch into the stored note. updated_at is always
// refreshed regardless of caller input. Returns apperr.ErrNotFound when the
// id is absent locally.
func (m *Manager) UpdateNote(ctx context.Context, id string, patch NotePatch) (*models.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.getNote(ctx, id)
	if err != nil {
		return nil, err
	}

	contentChanged := false
	if patch.Title != nil {
		n.Title = *patch.Title
	}
	if patch.Content != nil && *patch.Content != n.Content {
		n.Content = *patch.Content
		contentChanged = true
	}
	if patch.FolderID != nil {
		if *patch.FolderID != "" {
			if _, err := m.getFolder(ctx, *patch.FolderID); err != nil {
				return nil, fmt.Errorf("lifecycle: update note: folder %s: %w", *patch.FolderID, err)
			}
		}
		n.FolderID = *patch.FolderID
	}
	if patch.Pinned != nil {
		n.Pinned = *patch.Pinned
	}
	if patch.Archived != nil {
		n.Archived = *patch.Archived
	}
	n.UpdatedAt = m.stamp()

	if err := m.putNote(ctx, n); err != nil {
		return nil, err
	}
	if err := m.markPending(ctx, models.CollectionNotes, n.ID, models.OpUpsert); err != nil {
		return nil, err
	}

	if contentChanged {
		go m.notifier.NoteLinksChanged(n.ID, links.Extract(n.Content))
	}
	m.propagate(models.CollectionNotes, n.ID)
	m.emit("note.updated", n.ID)
	return n, nil
}

// TrashNote soft-deletes a note. The note stays retrievable through trash
// queries until purged or restored.
func (m *Manager) TrashNote(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trashNoteLocked(ctx, id)
}

func (m *Manager) trashNoteLocked(ctx context.Context, id string) error {
	n, err := m.getNote(ctx, id)
	if err != nil {
		return err
	}
	now := m.stamp()
	n.DeletedAt = &now
	n.UpdatedAt = now
	if err := m.putNote(ctx, n); err != nil {
		return err
	}
	if err := m.markPending(ctx, models.CollectionNotes, id, models.OpUpsert); err != nil {
		return err
	}
	m.propagate(models.CollectionNotes, id)
	m.emit("note.trashed", id)
	return nil
}

// RestoreNote clears a note's trash marker.
func (m *Manager) RestoreNote(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.restoreNoteLocked(ctx, id)
}

func (m *Manager) restoreNoteLocked(ctx context.Context, id string) error {
	n, err := m.getNote(ctx, id)
	if err != nil {
		return err
	}
	n.DeletedAt = nil
	n.UpdatedAt = m.stamp()
	if err := m.putNote(ctx, n); err != nil {
		return err
	}
	if err := m.markPending(ctx, models.CollectionNotes, id, models.OpUpsert); err != nil {
		return err
	}
	m.propagate(models.CollectionNotes, id)
	m.emit("note.restored", id)
	return nil
}

// PurgeNote permanently removes a note from the local store and enqueues a
// remote delete. Irreversible.
func (m *Manager) PurgeNote(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.purgeNoteLocked(ctx, id)
}

func (m *Manager) purgeNoteLocked(ctx context.Context, id string) error {
	if _, err := m.getNote(ctx, id); err != nil {
		return err
	}
	if err := m.store.Delete(ctx, models.CollectionNotes, id); err != nil {
		return err
	}
	if err := m.markPending(ctx, models.CollectionNotes, id, models.OpDelete); err != nil {
		return err
	}
	m.propagate(models.CollectionNotes, id)
	m.emit("note.purged", id)
	go m.notifier.NoteLinksChanged(id, nil)
	return nil
}

// --- note queries ---

// GetNote returns a note by id, trashed or not.
func (m *Manager) GetNote(ctx context.Context, id string) (*models.Note, error) {
	return m.getNote(ctx, id)
}

// ListNotes returns all active (non-trashed) notes.
func (m *Manager) ListNotes(ctx context.Context) ([]*models.Note, error) {
	all, err := m.listNotes(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, n := range all {
		if !n.Deleted() {
			out = append(out, n)
		}
	}
	return out, nil
}

// ListTrashedNotes returns all trashed notes.
func (m *Manager) ListTrashedNotes(ctx context.Context) ([]*models.Note, error) {
	all, err := m.listNotes(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, n := range all {
		if n.Deleted() {
			out = append(out, n)
		}
	}
	return out, nil
}

package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/starford/perth/internal/apperr"
	"github.com/starford/perth/internal/links"
	"github.com/starford/perth/internal/models"
)

// Remote-originated changes flow through the same manager as local calls,
// so both mutation paths share one reconciliation point. The remote-apply
// operations differ from their local counterparts in two ways: they never
// create pending-write markers, and they resolve conflicts by last-write-wins
// on updated_at with the local copy winning ties.

// ApplyRemoteNote adopts a remote note version. Returns true when the local
// store was changed, false when the local copy was newer or equal.
func (m *Manager) ApplyRemoteNote(ctx context.Context, n *models.Note) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.getNote(ctx, n.ID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return false, err
	}
	if existing != nil && !n.UpdatedAt.After(existing.UpdatedAt) {
		return false, nil // local is newer, or tie: local wins
	}

	if err := m.putNote(ctx, n); err != nil {
		return false, err
	}
	m.observeStamp(n.UpdatedAt)

	if existing == nil || existing.Content != n.Content {
		nn := *n
		go m.notifier.NoteLinksChanged(nn.ID, links.Extract(nn.Content))
	}
	switch {
	case existing == nil:
		m.emit("note.created", n.ID)
	case n.Deleted() && !existing.Deleted():
		m.emit("note.trashed", n.ID)
	case !n.Deleted() && existing.Deleted():
		m.emit("note.restored", n.ID)
	default:
		m.emit("note.updated", n.ID)
	}
	return true, nil
}

// ApplyRemoteFolder adopts a remote folder version under the same
// last-write-wins rule as ApplyRemoteNote.
func (m *Manager) ApplyRemoteFolder(ctx context.Context, f *models.Folder) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.getFolder(ctx, f.ID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return false, err
	}
	if existing != nil && !f.UpdatedAt.After(existing.UpdatedAt) {
		return false, nil
	}

	if err := m.putFolder(ctx, f); err != nil {
		return false, err
	}
	m.observeStamp(f.UpdatedAt)

	switch {
	case existing == nil:
		m.emit("folder.created", f.ID)
	case f.Deleted() && !existing.Deleted():
		m.emit("folder.trashed", f.ID)
	case !f.Deleted() && existing.Deleted():
		m.emit("folder.restored", f.ID)
	default:
		m.emit("folder.updated", f.ID)
	}
	return true, nil
}

// ApplyRemoteDelete removes an entity the backend reports as permanently
// deleted. For folders, folder_id references on surviving notes are cleared
// so they are never left dangling.
func (m *Manager) ApplyRemoteDelete(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Delete(ctx, collection, id); err != nil {
		return err
	}

	switch collection {
	case models.CollectionNotes:
		m.emit("note.purged", id)
		go m.notifier.NoteLinksChanged(id, nil)
	case models.CollectionFolders:
		if err := m.clearFolderRefs(ctx, id); err != nil {
			return err
		}
		m.emit("folder.purged", id)
	}
	return nil
}

// clearFolderRefs clears folder_id on every note still referencing a
// permanently deleted folder. Callers must hold m.mu.
func (m *Manager) clearFolderRefs(ctx context.Context, folderID string) error {
	notes, err := m.listNotes(ctx)
	if err != nil {
		return err
	}
	for _, n := range notes {
		if n.FolderID != folderID {
			continue
		}
		n.FolderID = ""
		n.UpdatedAt = m.stamp()
		if err := m.putNote(ctx, n); err != nil {
			return err
		}
		if err := m.markPending(ctx, models.CollectionNotes, n.ID, models.OpUpsert); err != nil {
			return err
		}
		m.emit("note.updated", n.ID)
	}
	return nil
}

// AllNotes returns every note, trashed included. Used by the sync engine's
// pull-and-merge, which reconciles the full replica.
func (m *Manager) AllNotes(ctx context.Context) ([]*models.Note, error) {
	return m.listNotes(ctx)
}

// AllFolders returns every folder, trashed included.
func (m *Manager) AllFolders(ctx context.Context) ([]*models.Folder, error) {
	return m.listFolders(ctx)
}

// EnsurePending queues an outbound upsert for an entity that exists locally
// but is unknown to the backend (a creation that predates sync enablement).
func (m *Manager) EnsurePending(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markPending(ctx, collection, id, models.OpUpsert)
}

// --- pending-write markers ---

// markPending records that an entity has an unconfirmed outbound mutation.
// Markers are persisted so an interrupted session resumes propagation after
// restart. Local-only data never syncs, so no markers are kept for it.
// QueuedAt comes from the monotonic stamp guard, so successive markers for
// the same entity are always distinguishable. Callers must hold m.mu.
func (m *Manager) markPending(ctx context.Context, collection, id, op string) error {
	if m.owner == models.LocalOwner {
		return nil
	}
	p := models.PendingWrite{
		EntityID:   id,
		Collection: collection,
		Op:         op,
		QueuedAt:   m.stamp(),
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("lifecycle: encode pending %s: %w", id, err)
	}
	return m.store.Put(ctx, models.CollectionPending, id, payload)
}

// PendingWrites returns all unacknowledged outbound mutations.
func (m *Manager) PendingWrites(ctx context.Context) ([]models.PendingWrite, error) {
	recs, err := m.store.List(ctx, models.CollectionPending)
	if err != nil {
		return nil, err
	}
	out := make([]models.PendingWrite, 0, len(recs))
	for _, rec := range recs {
		var p models.PendingWrite
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return nil, fmt.Errorf("lifecycle: decode pending %s: %w", rec.ID, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// HasPending reports whether an unacknowledged mutation exists for id.
func (m *Manager) HasPending(ctx context.Context, id string) bool {
	_, err := m.store.Get(ctx, models.CollectionPending, id)
	return err == nil
}

// PendingFor returns the marker for id, if one exists.
func (m *Manager) PendingFor(ctx context.Context, id string) (models.PendingWrite, bool) {
	rec, err := m.store.Get(ctx, models.CollectionPending, id)
	if err != nil {
		return models.PendingWrite{}, false
	}
	var p models.PendingWrite
	if err := json.Unmarshal(rec.Payload, &p); err != nil {
		return models.PendingWrite{}, false
	}
	return p, true
}

// ClearPending removes the marker for id after the backend acknowledged the
// mutation.
func (m *Manager) ClearPending(ctx context.Context, id string) error {
	return m.store.Delete(ctx, models.CollectionPending, id)
}

// ClearPendingIf removes the marker for p.EntityID only while the stored
// marker is still p. A mutation committed after p was read overwrites the
// marker with a later QueuedAt; that newer marker must survive so the
// mutation is still propagated. Serialized against mutations via m.mu.
func (m *Manager) ClearPendingIf(ctx context.Context, p models.PendingWrite) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.PendingFor(ctx, p.EntityID)
	if !ok {
		return nil
	}
	if !cur.QueuedAt.Equal(p.QueuedAt) || cur.Op != p.Op {
		return nil
	}
	return m.store.Delete(ctx, models.CollectionPending, p.EntityID)
}

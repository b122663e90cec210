package lifecycle

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/starford/perth/internal/apperr"
	"github.com/starford/perth/internal/models"
)

// FolderPatch is a partial folder update. Nil fields are left unchanged.
type FolderPatch struct {
	Name     *string
	ParentID *string
}

// CreateFolder allocates a new folder, optionally nested under parentID.
func (m *Manager) CreateFolder(ctx context.Context, name, parentID string) (*models.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var parentPath string
	if parentID != "" {
		parent, err := m.getFolder(ctx, parentID)
		if err != nil {
			return nil, fmt.Errorf("lifecycle: create folder: parent %s: %w", parentID, err)
		}
		parentPath = parent.Path
	}

	now := m.stamp()
	f := &models.Folder{
		ID:        uuid.NewString(),
		Owner:     m.owner,
		Name:      name,
		Path:      joinPath(parentPath, name),
		ParentID:  parentID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.putFolder(ctx, f); err != nil {
		return nil, err
	}
	if err := m.markPending(ctx, models.CollectionFolders, f.ID, models.OpUpsert); err != nil {
		return nil, err
	}
	m.propagate(models.CollectionFolders, f.ID)
	m.emit("folder.created", f.ID)
	return f, nil
}

// UpdateFolder renames or reparents a folder. A reparent that would make the
// parent chain cyclic is rejected with apperr.ErrFolderCycle.
func (m *Manager) UpdateFolder(ctx context.Context, id string, patch FolderPatch) (*models.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := m.getFolder(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		f.Name = *patch.Name
	}
	if patch.ParentID != nil && *patch.ParentID != f.ParentID {
		if *patch.ParentID != "" {
			if _, err := m.getFolder(ctx, *patch.ParentID); err != nil {
				return nil, fmt.Errorf("lifecycle: update folder: parent %s: %w", *patch.ParentID, err)
			}
			if err := m.checkCycle(ctx, id, *patch.ParentID); err != nil {
				return nil, err
			}
		}
		f.ParentID = *patch.ParentID
	}

	f.Path = m.folderPath(ctx, f)
	f.UpdatedAt = m.stamp()

	if err := m.putFolder(ctx, f); err != nil {
		return nil, err
	}
	if err := m.markPending(ctx, models.CollectionFolders, id, models.OpUpsert); err != nil {
		return nil, err
	}
	m.propagate(models.CollectionFolders, id)
	m.emit("folder.updated", id)
	return f, nil
}

// checkCycle rejects a reparent of folder id under newParent when newParent's
// chain already contains id. Callers must hold m.mu.
func (m *Manager) checkCycle(ctx context.Context, id, newParent string) error {
	seen := make(map[string]struct{})
	for cur := newParent; cur != ""; {
		if cur == id {
			return fmt.Errorf("lifecycle: reparent %s under %s: %w", id, newParent, apperr.ErrFolderCycle)
		}
		if _, ok := seen[cur]; ok {
			// Pre-existing cycle in stored data; stop walking.
			return fmt.Errorf("lifecycle: parent chain of %s: %w", newParent, apperr.ErrFolderCycle)
		}
		seen[cur] = struct{}{}
		parent, err := m.getFolder(ctx, cur)
		if err != nil {
			break
		}
		cur = parent.ParentID
	}
	return nil
}

// folderPath derives the display path by walking the parent chain.
func (m *Manager) folderPath(ctx context.Context, f *models.Folder) string {
	path := f.Name
	seen := map[string]struct{}{f.ID: {}}
	for cur := f.ParentID; cur != ""; {
		if _, ok := seen[cur]; ok {
			break
		}
		seen[cur] = struct{}{}
		parent, err := m.getFolder(ctx, cur)
		if err != nil {
			break
		}
		path = joinPath(parent.Name, path)
		cur = parent.ParentID
	}
	return path
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

// TrashFolder soft-deletes a folder and cascades to every active note filed
// in it. The cascade set is captured before any write, so notes moved into
// the folder afterwards are unaffected by a later restore.
func (m *Manager) TrashFolder(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := m.getFolder(ctx, id)
	if err != nil {
		return err
	}

	// Capture, then cascade.
	notes, err := m.listNotes(ctx)
	if err != nil {
		return err
	}
	var captured []string
	for _, n := range notes {
		if n.FolderID == id && !n.Deleted() {
			captured = append(captured, n.ID)
		}
	}

	now := m.stamp()
	f.DeletedAt = &now
	f.UpdatedAt = now
	f.CascadeNoteIDs = captured
	if err := m.putFolder(ctx, f); err != nil {
		return err
	}
	if err := m.markPending(ctx, models.CollectionFolders, id, models.OpUpsert); err != nil {
		return err
	}

	for _, noteID := range captured {
		if err := m.trashNoteLocked(ctx, noteID); err != nil {
			return fmt.Errorf("lifecycle: cascade trash note %s: %w", noteID, err)
		}
	}

	m.propagate(models.CollectionFolders, id)
	m.emit("folder.trashed", id)
	return nil
}

// RestoreFolder restores a folder together with exactly the notes that were
// trashed as part of the same cascade. Notes that were purged in the
// meantime are skipped.
func (m *Manager) RestoreFolder(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := m.getFolder(ctx, id)
	if err != nil {
		return err
	}

	captured := f.CascadeNoteIDs
	f.DeletedAt = nil
	f.CascadeNoteIDs = nil
	f.UpdatedAt = m.stamp()
	if err := m.putFolder(ctx, f); err != nil {
		return err
	}
	if err := m.markPending(ctx, models.CollectionFolders, id, models.OpUpsert); err != nil {
		return err
	}

	for _, noteID := range captured {
		n, err := m.getNote(ctx, noteID)
		if err != nil {
			continue // purged since the cascade; nothing to restore
		}
		if !n.Deleted() {
			continue
		}
		if err := m.restoreNoteLocked(ctx, noteID); err != nil {
			return fmt.Errorf("lifecycle: cascade restore note %s: %w", noteID, err)
		}
	}

	m.propagate(models.CollectionFolders, id)
	m.emit("folder.restored", id)
	return nil
}

// PurgeFolder permanently deletes a folder and every note currently filed in
// it, trashed or not. Irreversible.
func (m *Manager) PurgeFolder(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.getFolder(ctx, id); err != nil {
		return err
	}

	notes, err := m.listNotes(ctx)
	if err != nil {
		return err
	}
	for _, n := range notes {
		if n.FolderID != id {
			continue
		}
		if err := m.purgeNoteLocked(ctx, n.ID); err != nil {
			return fmt.Errorf("lifecycle: purge filed note %s: %w", n.ID, err)
		}
	}

	if err := m.store.Delete(ctx, models.CollectionFolders, id); err != nil {
		return err
	}
	if err := m.markPending(ctx, models.CollectionFolders, id, models.OpDelete); err != nil {
		return err
	}
	m.propagate(models.CollectionFolders, id)
	m.emit("folder.purged", id)
	return nil
}

// --- folder queries ---

// GetFolder returns a folder by id, trashed or not.
func (m *Manager) GetFolder(ctx context.Context, id string) (*models.Folder, error) {
	return m.getFolder(ctx, id)
}

// ListFolders returns all active (non-trashed) folders.
func (m *Manager) ListFolders(ctx context.Context) ([]*models.Folder, error) {
	all, err := m.listFolders(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, f := range all {
		if !f.Deleted() {
			out = append(out, f)
		}
	}
	return out, nil
}

// ListTrashedFolders returns all trashed folders.
func (m *Manager) ListTrashedFolders(ctx context.Context) ([]*models.Folder, error) {
	all, err := m.listFolders(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, f := range all {
		if f.Deleted() {
			out = append(out, f)
		}
	}
	return out, nil
}

// Package models defines the domain types for Perth.
package models

import "time"

// Collection names used by the local store and the remote backend.
// The same names serve as local record-set keys and remote table names.
const (
	CollectionNotes   = "notes"
	CollectionFolders = "folders"
	CollectionPending = "pending_writes"
)

// LocalOwner is the sentinel owner for data created before an account is
// linked. Entities with this owner are never pushed to the remote backend.
const LocalOwner = "local"

// Note is a single note record. A note with DeletedAt set is trashed but
// recoverable; it is excluded from active listings until restored.
type Note struct {
	ID        string     `json:"id"`
	Owner     string     `json:"owner"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	FolderID  string     `json:"folder_id,omitempty"`
	Pinned    bool       `json:"pinned"`
	Archived  bool       `json:"archived"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Deleted reports whether the note is in the trash.
func (n *Note) Deleted() bool { return n.DeletedAt != nil }

// Folder is a container for notes. Folders nest via ParentID; the parent
// chain must stay acyclic.
type Folder struct {
	ID       string `json:"id"`
	Owner    string `json:"owner"`
	Name     string `json:"name"`
	Path     string `json:"path,omitempty"`
	ParentID string `json:"parent_id,omitempty"`

	// CascadeNoteIDs is the set of note ids that were trashed together with
	// this folder. It is captured at trash time and consumed by restore, so
	// notes filed into the folder afterwards are unaffected. Persisting it on
	// the record keeps the cascade correct across restarts and replicas.
	CascadeNoteIDs []string `json:"cascade_note_ids,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Deleted reports whether the folder is in the trash.
func (f *Folder) Deleted() bool { return f.DeletedAt != nil }

// Pending-write operations.
const (
	OpUpsert = "upsert"
	OpDelete = "delete"
)

// PendingWrite marks an entity whose latest local mutation has not yet been
// acknowledged by the remote backend. While a marker exists, inbound realtime
// changes for the entity are treated as echoes and ignored, and the mutation
// is replayed on the next push cycle.
type PendingWrite struct {
	EntityID   string    `json:"entity_id"`
	Collection string    `json:"collection"`
	Op         string    `json:"op"` // upsert or delete
	QueuedAt   time.Time `json:"queued_at"`
}

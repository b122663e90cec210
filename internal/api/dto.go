package api

import (
	"github.com/starford/perth/internal/models"
)

// CreateNoteRequest is the request body for creating a note.
type CreateNoteRequest struct {
	Title    string  `json:"title" example:"Hello" validate:"required"`
	Content  string  `json:"content" example:"# Hello\nWorld"`
	FolderID *string `json:"folder_id,omitempty" example:"5d1cb818-..."`
}

// UpdateNoteRequest is the request body for patching a note. Absent fields
// are left unchanged.
type UpdateNoteRequest struct {
	Title    *string `json:"title,omitempty" example:"Renamed"`
	Content  *string `json:"content,omitempty" example:"# Updated"`
	FolderID *string `json:"folder_id,omitempty"`
	Pinned   *bool   `json:"pinned,omitempty"`
	Archived *bool   `json:"archived,omitempty"`
}

// CreateFolderRequest is the request body for creating a folder.
type CreateFolderRequest struct {
	Name     string  `json:"name" example:"projects" validate:"required"`
	ParentID *string `json:"parent_id,omitempty"`
}

// UpdateFolderRequest is the request body for patching a folder.
type UpdateFolderRequest struct {
	Name     *string `json:"name,omitempty" example:"renamed"`
	ParentID *string `json:"parent_id,omitempty"`
}

// NoteListResponse wraps note listings.
type NoteListResponse struct {
	Notes []models.Note `json:"notes" validate:"required"`
	Total int           `json:"total" example:"42" validate:"required"`
}

// FolderListResponse wraps folder listings.
type FolderListResponse struct {
	Folders []models.Folder `json:"folders" validate:"required"`
	Total   int             `json:"total" example:"7" validate:"required"`
}

// TrashResponse wraps the trash listing (soft-deleted notes and folders).
type TrashResponse struct {
	Notes   []models.Note   `json:"notes" validate:"required"`
	Folders []models.Folder `json:"folders" validate:"required"`
}

// SyncStatusResponse reports the synchronization state.
type SyncStatusResponse struct {
	Enabled bool   `json:"enabled" example:"true" validate:"required"`
	Status  string `json:"status" example:"idle" validate:"required"`
}

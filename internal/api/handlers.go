package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/perth/internal/apperr"
	"github.com/starford/perth/internal/lifecycle"
	"github.com/starford/perth/internal/models"
	syncpkg "github.com/starford/perth/internal/sync"
)

// Handler holds API route handlers.
type Handler struct {
	life *lifecycle.Manager
	ctrl *syncpkg.Controller
}

// NewHandler creates a new Handler.
func NewHandler(life *lifecycle.Manager, ctrl *syncpkg.Controller) *Handler {
	return &Handler{life: life, ctrl: ctrl}
}

func noteID(r *http.Request) string {
	return chi.URLParam(r, "id")
}

// ListNotes handles GET /api/notes.
//
//	@Summary		List active notes
//	@Tags			notes
//	@Produce		json
//	@Success		200	{object}	NoteListResponse
//	@Security		BearerAuth
//	@Router			/notes [get]
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := h.life.ListNotes(r.Context())
	if err != nil {
		slog.Error("api: list notes failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	items := make([]models.Note, len(notes))
	for i, n := range notes {
		items[i] = *n
	}
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: items, Total: len(items)})
}

// GetNote handles GET /api/notes/{id}.
//
//	@Summary		Get a single note by id
//	@Tags			notes
//	@Produce		json
//	@Param			id	path		string	true	"Note id"
//	@Success		200	{object}	models.Note
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id} [get]
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	id := noteID(r)
	note, err := h.life.GetNote(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("api: get note failed", slog.String("id", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// CreateNote handles POST /api/notes.
//
//	@Summary		Create a new note
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateNoteRequest	true	"Note to create"
//	@Success		201		{object}	models.Note
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes [post]
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req CreateNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Title == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("title is required"))
		return
	}
	folderID := ""
	if req.FolderID != nil {
		folderID = *req.FolderID
	}
	note, err := h.life.CreateNote(r.Context(), req.Title, req.Content, folderID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusBadRequest, errorBody("folder does not exist"))
		} else {
			slog.Error("api: create note failed", slog.String("title", req.Title), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

// UpdateNote handles PATCH /api/notes/{id}.
//
//	@Summary		Patch a note; absent fields are left unchanged
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Note id"
//	@Param			body	body		UpdateNoteRequest	true	"Fields to change"
//	@Success		200		{object}	models.Note
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id} [patch]
func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	id := noteID(r)
	var req UpdateNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	note, err := h.life.UpdateNote(r.Context(), id, lifecycle.NotePatch{
		Title:    req.Title,
		Content:  req.Content,
		FolderID: req.FolderID,
		Pinned:   req.Pinned,
		Archived: req.Archived,
	})
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		default:
			slog.Error("api: update note failed", slog.String("id", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// TrashNote handles DELETE /api/notes/{id} (soft delete).
//
//	@Summary		Move a note to the trash
//	@Tags			notes
//	@Param			id	path	string	true	"Note id"
//	@Success		204	"Note trashed"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id} [delete]
func (h *Handler) TrashNote(w http.ResponseWriter, r *http.Request) {
	id := noteID(r)
	if err := h.life.TrashNote(r.Context(), id); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("api: trash note failed", slog.String("id", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RestoreNote handles POST /api/notes/{id}/restore.
//
//	@Summary		Restore a trashed note
//	@Tags			notes
//	@Param			id	path	string	true	"Note id"
//	@Success		204	"Note restored"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id}/restore [post]
func (h *Handler) RestoreNote(w http.ResponseWriter, r *http.Request) {
	id := noteID(r)
	if err := h.life.RestoreNote(r.Context(), id); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("api: restore note failed", slog.String("id", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PurgeNote handles DELETE /api/notes/{id}/purge (permanent delete).
//
//	@Summary		Permanently delete a note
//	@Tags			notes
//	@Param			id	path	string	true	"Note id"
//	@Success		204	"Note purged"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id}/purge [delete]
func (h *Handler) PurgeNote(w http.ResponseWriter, r *http.Request) {
	id := noteID(r)
	if err := h.life.PurgeNote(r.Context(), id); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("api: purge note failed", slog.String("id", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Trash handles GET /api/trash.
//
//	@Summary		List trashed notes and folders
//	@Tags			trash
//	@Produce		json
//	@Success		200	{object}	TrashResponse
//	@Security		BearerAuth
//	@Router			/trash [get]
func (h *Handler) Trash(w http.ResponseWriter, r *http.Request) {
	notes, err := h.life.ListTrashedNotes(r.Context())
	if err != nil {
		slog.Error("api: list trash failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	folders, err := h.life.ListTrashedFolders(r.Context())
	if err != nil {
		slog.Error("api: list trash failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	resp := TrashResponse{Notes: []models.Note{}, Folders: []models.Folder{}}
	for _, n := range notes {
		resp.Notes = append(resp.Notes, *n)
	}
	for _, f := range folders {
		resp.Folders = append(resp.Folders, *f)
	}
	writeJSON(w, http.StatusOK, resp)
}

// SyncStatus handles GET /api/sync.
//
//	@Summary		Report sync state
//	@Tags			sync
//	@Produce		json
//	@Success		200	{object}	SyncStatusResponse
//	@Security		BearerAuth
//	@Router			/sync [get]
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SyncStatusResponse{
		Enabled: h.ctrl.Enabled(),
		Status:  string(h.ctrl.Status()),
	})
}

// EnableSync handles POST /api/sync/enable.
//
//	@Summary		Turn synchronization on
//	@Tags			sync
//	@Produce		json
//	@Success		200	{object}	SyncStatusResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sync/enable [post]
func (h *Handler) EnableSync(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.Enable(); err != nil {
		if errors.Is(err, apperr.ErrAuthRequired) {
			writeJSON(w, http.StatusConflict, errorBody("no linked account"))
		} else {
			slog.Error("api: enable sync failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	h.SyncStatus(w, r)
}

// DisableSync handles POST /api/sync/disable.
//
//	@Summary		Turn synchronization off
//	@Tags			sync
//	@Produce		json
//	@Success		200	{object}	SyncStatusResponse
//	@Security		BearerAuth
//	@Router			/sync/disable [post]
func (h *Handler) DisableSync(w http.ResponseWriter, r *http.Request) {
	h.ctrl.Disable()
	h.SyncStatus(w, r)
}

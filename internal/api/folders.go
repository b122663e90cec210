package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/perth/internal/apperr"
	"github.com/starford/perth/internal/lifecycle"
	"github.com/starford/perth/internal/models"
)

// ListFolders handles GET /api/folders.
//
//	@Summary		List active folders
//	@Tags			folders
//	@Produce		json
//	@Success		200	{object}	FolderListResponse
//	@Security		BearerAuth
//	@Router			/folders [get]
func (h *Handler) ListFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := h.life.ListFolders(r.Context())
	if err != nil {
		slog.Error("api: list folders failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	items := make([]models.Folder, len(folders))
	for i, f := range folders {
		items[i] = *f
	}
	writeJSON(w, http.StatusOK, FolderListResponse{Folders: items, Total: len(items)})
}

// GetFolder handles GET /api/folders/{id}.
//
//	@Summary		Get a single folder by id
//	@Tags			folders
//	@Produce		json
//	@Param			id	path		string	true	"Folder id"
//	@Success		200	{object}	models.Folder
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/folders/{id} [get]
func (h *Handler) GetFolder(w http.ResponseWriter, r *http.Request) {
	id := noteID(r)
	folder, err := h.life.GetFolder(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("api: get folder failed", slog.String("id", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, folder)
}

// CreateFolder handles POST /api/folders.
//
//	@Summary		Create a new folder
//	@Tags			folders
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateFolderRequest	true	"Folder to create"
//	@Success		201		{object}	models.Folder
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/folders [post]
func (h *Handler) CreateFolder(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req CreateFolderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("name is required"))
		return
	}
	parentID := ""
	if req.ParentID != nil {
		parentID = *req.ParentID
	}
	folder, err := h.life.CreateFolder(r.Context(), req.Name, parentID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusBadRequest, errorBody("parent folder does not exist"))
		} else {
			slog.Error("api: create folder failed", slog.String("name", req.Name), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusCreated, folder)
}

// UpdateFolder handles PATCH /api/folders/{id}.
//
//	@Summary		Rename or reparent a folder
//	@Tags			folders
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Folder id"
//	@Param			body	body		UpdateFolderRequest	true	"Fields to change"
//	@Success		200		{object}	models.Folder
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/folders/{id} [patch]
func (h *Handler) UpdateFolder(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	id := noteID(r)
	var req UpdateFolderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	folder, err := h.life.UpdateFolder(r.Context(), id, lifecycle.FolderPatch{
		Name:     req.Name,
		ParentID: req.ParentID,
	})
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		case errors.Is(err, apperr.ErrFolderCycle):
			writeJSON(w, http.StatusConflict, errorBody("reparent would create a cycle"))
		default:
			slog.Error("api: update folder failed", slog.String("id", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, folder)
}

// TrashFolder handles DELETE /api/folders/{id} (soft delete with cascade).
//
//	@Summary		Move a folder and its notes to the trash
//	@Tags			folders
//	@Param			id	path	string	true	"Folder id"
//	@Success		204	"Folder trashed"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/folders/{id} [delete]
func (h *Handler) TrashFolder(w http.ResponseWriter, r *http.Request) {
	id := noteID(r)
	if err := h.life.TrashFolder(r.Context(), id); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("api: trash folder failed", slog.String("id", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RestoreFolder handles POST /api/folders/{id}/restore.
//
//	@Summary		Restore a trashed folder and its cascaded notes
//	@Tags			folders
//	@Param			id	path	string	true	"Folder id"
//	@Success		204	"Folder restored"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/folders/{id}/restore [post]
func (h *Handler) RestoreFolder(w http.ResponseWriter, r *http.Request) {
	id := noteID(r)
	if err := h.life.RestoreFolder(r.Context(), id); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("api: restore folder failed", slog.String("id", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PurgeFolder handles DELETE /api/folders/{id}/purge (permanent delete).
//
//	@Summary		Permanently delete a folder and its filed notes
//	@Tags			folders
//	@Param			id	path	string	true	"Folder id"
//	@Success		204	"Folder purged"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/folders/{id}/purge [delete]
func (h *Handler) PurgeFolder(w http.ResponseWriter, r *http.Request) {
	id := noteID(r)
	if err := h.life.PurgeFolder(r.Context(), id); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("api: purge folder failed", slog.String("id", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/perth/internal/lifecycle"
	syncpkg "github.com/starford/perth/internal/sync"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(life *lifecycle.Manager, ctrl *syncpkg.Controller, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(life, ctrl)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Notes lifecycle.
	r.Get("/notes", h.ListNotes)
	r.Post("/notes", h.CreateNote)
	r.Get("/notes/{id}", h.GetNote)
	r.Patch("/notes/{id}", h.UpdateNote)
	r.Delete("/notes/{id}", h.TrashNote)
	r.Post("/notes/{id}/restore", h.RestoreNote)
	r.Delete("/notes/{id}/purge", h.PurgeNote)

	// Folders lifecycle.
	r.Get("/folders", h.ListFolders)
	r.Post("/folders", h.CreateFolder)
	r.Get("/folders/{id}", h.GetFolder)
	r.Patch("/folders/{id}", h.UpdateFolder)
	r.Delete("/folders/{id}", h.TrashFolder)
	r.Post("/folders/{id}/restore", h.RestoreFolder)
	r.Delete("/folders/{id}/purge", h.PurgeFolder)

	// Trash.
	r.Get("/trash", h.Trash)

	// Sync control.
	r.Get("/sync", h.SyncStatus)
	r.Post("/sync/enable", h.EnableSync)
	r.Post("/sync/disable", h.DisableSync)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}

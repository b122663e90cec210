// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/perth/internal/api"
	"github.com/starford/perth/internal/lifecycle"
	"github.com/starford/perth/internal/links"
	"github.com/starford/perth/internal/mcpserver"
	"github.com/starford/perth/internal/remote"
	"github.com/starford/perth/internal/sse"
	"github.com/starford/perth/internal/store"
	syncpkg "github.com/starford/perth/internal/sync"
	pkgconfig "github.com/starford/perth/pkg/config"
)

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger. The MCP transport owns stdout, so
	// logs go to stderr in that mode.
	logOut := os.Stdout
	if app.mcpStdio {
		logOut = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_path", cfg.Store.Path),
		slog.Bool("sync_enabled", cfg.Sync.Enabled),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Ensure the store directory exists.
	if dir := filepath.Dir(cfg.Store.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create store dir: %w", err)
		}
	}

	// Initialize the local store.
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer st.Close()

	// Entity lifecycle on top of the store.
	life := lifecycle.New(st, cfg.Sync.Owner)

	// Backlink index. Seeded from the store, then kept current by the
	// lifecycle notifications.
	idx := links.NewIndex()
	if notes, err := life.ListNotes(ctx); err == nil {
		for _, n := range notes {
			idx.NoteLinksChanged(n.ID, links.Extract(n.Content))
		}
	}
	life.SetLinkNotifier(idx)

	// Remote backend. Nil when no base URL is configured; the engine only
	// touches it once sync is enabled, which requires a linked account.
	var backend remote.Backend
	var client *remote.Client
	if cfg.Sync.BaseURL != "" {
		client = remote.NewClient(cfg.Sync.BaseURL, cfg.Sync.APIKey, logger)
		backend = client
	}

	engine := syncpkg.NewEngine(life, backend, logger)
	ctrl := syncpkg.NewController(engine)

	// SSE broker. Entity lifecycle events and sync state transitions are
	// fanned out to connected clients.
	broker := sse.NewBroker(time.Second)
	defer broker.Close()
	life.SetEvents(broker.PublishEntityEvent)
	engine.SetStateFunc(func(syncpkg.State) {
		broker.PublishSyncStatus(string(ctrl.Status()))
	})

	if cfg.Sync.Enabled {
		if err := ctrl.Enable(); err != nil {
			logger.Warn("sync enable failed", slog.String("error", err.Error()))
		}
	}

	if app.mcpStdio {
		return runMCP(ctx, life, ctrl, idx, logger)
	}

	// Build API router.
	apiRouter := api.NewRouter(life, ctrl, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Connectivity monitor: when the remote comes back online, schedule a
	// cycle so offline edits drain.
	if client != nil {
		mon := remote.NewMonitor(client, cfg.Sync.ProbeInterval, logger, engine.Trigger)
		g.Go(func() error {
			mon.Run(gCtx)
			return nil
		})
	}

	// Config watcher: re-applies the sync toggle when the config file changes.
	if app.configPath != "" {
		g.Go(func() error {
			watchConfig(gCtx, app.configPath, ctrl, logger)
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")
		ctrl.Disable()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// runMCP serves the MCP tools over stdio until the transport closes.
func runMCP(ctx context.Context, life *lifecycle.Manager, ctrl *syncpkg.Controller, idx *links.Index, logger *slog.Logger) error {
	srv := mcpserver.New(life, ctrl, idx)
	logger.Info("Starting MCP server on stdio")
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ServeStdio() }()

	select {
	case err := <-errCh:
		ctrl.Disable()
		if err != nil {
			return fmt.Errorf("mcp server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		ctrl.Disable()
		return nil
	}
}

// watchConfig watches the config file and flips the sync switch when the
// sync.enabled value changes on disk. Other settings require a restart.
func watchConfig(ctx context.Context, path string, ctrl *syncpkg.Controller, logger *slog.Logger) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("config watcher unavailable", slog.String("error", err.Error()))
		return
	}
	defer watcher.Close()

	// Watch the directory: editors replace files on save, so watching the
	// file itself loses the watch after the first write.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		logger.Warn("config watcher add failed", slog.String("error", err.Error()))
		return
	}

	base := filepath.Base(path)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}

			cfg := NewDefaultConfig()
			if err := pkgconfig.Load(path, cfg); err != nil {
				logger.Warn("config reload failed", slog.String("error", err.Error()))
				continue
			}
			if cfg.Sync.Enabled == ctrl.Enabled() {
				continue
			}
			if cfg.Sync.Enabled {
				if err := ctrl.Enable(); err != nil {
					logger.Warn("sync enable failed", slog.String("error", err.Error()))
					continue
				}
				logger.Info("sync enabled via config reload")
			} else {
				ctrl.Disable()
				logger.Info("sync disabled via config reload")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("config watcher error", slog.String("error", err.Error()))
		}
	}
}

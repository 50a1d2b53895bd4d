// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/octoscope/internal/api"
	"github.com/starford/octoscope/internal/assetcache"
	"github.com/starford/octoscope/internal/assetstore"
	"github.com/starford/octoscope/internal/fetcher"
	"github.com/starford/octoscope/internal/github"
	"github.com/starford/octoscope/internal/mainloop"
	"github.com/starford/octoscope/internal/manifest"
	"github.com/starford/octoscope/internal/mcpserver"
	"github.com/starford/octoscope/internal/prefetch"
	"github.com/starford/octoscope/internal/profile"
	"github.com/starford/octoscope/internal/remote"
	"github.com/starford/octoscope/internal/search"
	"github.com/starford/octoscope/internal/sse"
)

// core holds the components shared by the HTTP and MCP front ends.
type core struct {
	store   *assetstore.Store
	db      *manifest.DB
	cache   *assetcache.Cache
	remote  *remote.Client
	github  *github.Client
	profile *profile.Service
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// openCore opens the asset store and manifest and builds the remote clients.
// The caller closes core.db.
func openCore(cfg *Config, logger *slog.Logger) (*core, error) {
	store, err := assetstore.New(cfg.Assets.Root, logger)
	if err != nil {
		return nil, fmt.Errorf("init asset store: %w", err)
	}

	db, err := manifest.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init manifest: %w", err)
	}

	if dropped, err := manifest.Reconcile(db, store, logger); err != nil {
		logger.Warn("initial reconcile failed", slog.String("error", err.Error()))
	} else if len(dropped) > 0 {
		logger.Info("manifest reconciled", slog.Int("dropped", len(dropped)))
	}

	rc := remote.NewClient(remote.Config{
		Timeout:   cfg.GitHub.Timeout,
		RetryMax:  cfg.GitHub.RetryMax,
		UserAgent: cfg.GitHub.UserAgent,
		Header:    github.Headers(cfg.GitHub.Token),
		Logger:    logger,
	})
	gc := github.NewClient(cfg.GitHub.BaseURL, rc)

	return &core{
		store:   store,
		db:      db,
		cache:   assetcache.New(cfg.Assets.MemoryCapacity),
		remote:  rc,
		github:  gc,
		profile: profile.NewService(gc),
	}, nil
}

func (c *core) fetcher(cfg *Config, logger *slog.Logger, opts ...fetcher.Option) *fetcher.Fetcher {
	opts = append([]fetcher.Option{
		fetcher.WithLogger(logger),
		fetcher.WithManifest(c.db),
		fetcher.WithDefaultHeight(cfg.Assets.DefaultHeight),
		fetcher.WithMaxHeight(cfg.Assets.MaxHeight),
		fetcher.WithDiskLimit(cfg.Assets.DiskMaxBytes),
		fetcher.WithContentMode(cfg.Assets.Mode()),
	}, opts...)
	return fetcher.New(c.cache, c.store, c.remote, opts...)
}

// newHTTPHandler mounts the API under /api next to the health endpoints.
// ready reports whether the service can take traffic.
func newHTTPHandler(apiRouter http.Handler, ready func(context.Context) error) http.Handler {
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
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := ready(req.Context()); err != nil {
			slog.Warn("readiness check failed", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", apiRouter)
	return r
}

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(os.Stdout, opts)
	if err != nil {
		return err
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := newLogger(app.logOutput, cfg.App.LogLevel)
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("assets_root", cfg.Assets.Root),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("github_base_url", cfg.GitHub.BaseURL),
		slog.Bool("github_token", cfg.GitHub.Token != ""),
		slog.String("log_level", cfg.App.LogLevel.String()))

	c, err := openCore(cfg, logger)
	if err != nil {
		return err
	}
	defer c.db.Close()

	loop := mainloop.New(logger)
	defer loop.Close()

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	f := c.fetcher(cfg, logger,
		fetcher.WithLoop(loop),
		fetcher.WithStoredHook(func(s fetcher.Stored) {
			broker.PublishAssetEvent("stored", s)
		}),
	)

	listeners := []search.Option{
		search.WithLogger(logger),
		search.WithDebounce(cfg.Search.Debounce),
		search.WithListener(func(s search.Snapshot) { broker.PublishSearch(s) }),
	}
	if cfg.Assets.Prefetch > 0 {
		pf := prefetch.New(ctx, f, cfg.Assets.Prefetch,
			prefetch.WithLogger(logger),
			prefetch.WithFolder(api.DefaultFolder),
			prefetch.WithHeight(cfg.Assets.DefaultHeight),
			prefetch.WithReady(func(r prefetch.Row) {
				broker.Publish(sse.Event{Type: sse.TypeAvatarReady, Data: r})
			}),
		)
		listeners = append(listeners, search.WithListener(pf.OnSnapshot))
	}
	coord := search.New(c.github, loop, listeners...)
	defer coord.Close()

	apiRouter := api.NewRouter(api.Deps{
		Fetcher:   f,
		Search:    coord,
		Profiles:  c.profile,
		Inventory: c.db,
		Memory:    c.cache,
	}, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           newHTTPHandler(apiRouter, c.db.Ping),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Follow external deletions under the asset root.
	g.Go(func() error {
		err := manifest.Watch(gCtx, c.db, c.store, logger, func(key assetstore.Key, urls []string) {
			f.Forget(urls...)
			broker.PublishAssetEvent("removed", map[string]any{
				"key":  key.String(),
				"urls": urls,
			})
		})
		if err != nil {
			logger.Warn("asset watcher stopped", slog.String("error", err.Error()))
		}
		return nil
	})

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
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the errgroup context so the watcher stops with the server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools over stdio. Logs go to stderr since stdout
// carries the protocol.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(os.Stderr, opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := newLogger(app.logOutput, cfg.App.LogLevel)
	slog.SetDefault(logger)

	c, err := openCore(cfg, logger)
	if err != nil {
		return err
	}
	defer c.db.Close()

	srv := mcpserver.New(c.github, c.profile, c.fetcher(cfg, logger), c.db)
	logger.Info("MCP server starting on stdio")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ServeStdio() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

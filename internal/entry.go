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
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/starford/surveybox/internal/api"
	"github.com/starford/surveybox/internal/ingest"
	"github.com/starford/surveybox/internal/master"
	"github.com/starford/surveybox/internal/mcpserver"
	"github.com/starford/surveybox/internal/metrics"
	"github.com/starford/surveybox/internal/sse"
)

// Run starts the webhook server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := newLogger(app)
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("storage_backend", cfg.Storage.Backend),
		slog.String("box_auth_mode", cfg.Box.AuthMode),
		slog.Bool("journal_enabled", cfg.Journal.Enabled),
		slog.String("timezone", cfg.Webhook.Timezone),
		slog.String("log_level", cfg.App.LogLevel.String()))

	loc, err := cfg.Webhook.Location()
	if err != nil {
		return fmt.Errorf("load timezone: %w", err)
	}

	comps, err := buildComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer comps.Close()

	updater := master.NewUpdater(comps.store, comps.dir, logger)
	pipeline := ingest.New(comps.store, comps.dir, updater,
		ingest.WithDefaultStudyType(cfg.Webhook.DefaultStudyType),
		ingest.WithLocation(loc),
		ingest.WithLogger(logger),
	)

	// SSE broker.
	broker := sse.NewBroker(30 * time.Second)
	defer broker.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics.Register(reg)

	svc := api.NewService(pipeline, comps.journal, broker, cfg.Webhook.Secret, logger)
	apiRouter := api.NewRouter(api.RouterConfig{
		Handler:     api.NewHandler(svc),
		AuthEnabled: cfg.Auth.AuthEnabled(),
		Token:       cfg.Auth.Token,
		Events:      broker,
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
	})

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Mount("/", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	if comps.watchKey != nil {
		g.Go(func() error {
			if err := comps.watchKey(gCtx); err != nil {
				// Rotation stops working but the loaded key stays valid.
				logger.Error("key watcher stopped", slog.String("error", err.Error()))
			}
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
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		// In-flight webhooks run detached from the request context and
		// finish within this window.
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

// errShutdown cancels the group so the key watcher exits with the server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the read-only MCP tools over stdin/stdout. Logs go to
// stderr because stdout carries the protocol.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	if app.logger == nil {
		app.logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: app.config.App.LogLevel,
		}))
	}
	logger := app.logger
	slog.SetDefault(logger)

	comps, err := buildComponents(app.config, logger)
	if err != nil {
		return err
	}
	defer comps.Close()

	srv := mcpserver.New(comps.store, comps.dir, comps.journal, app.version)
	logger.Info("MCP server starting on stdio", slog.String("version", app.version))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ServeStdio() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

package internal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/starford/surveybox/internal/boxauth"
	"github.com/starford/surveybox/internal/directory"
	"github.com/starford/surveybox/internal/journal"
	"github.com/starford/surveybox/internal/retry"
	"github.com/starford/surveybox/internal/storage"
)

// components are the pieces shared by the HTTP server and the MCP server.
type components struct {
	store   storage.Provider
	dir     *directory.Directory
	journal journal.Store
	// watchKey, if set, blocks reloading the JWT signing key on change.
	watchKey func(ctx context.Context) error
	closers  []io.Closer
}

func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		_ = c.closers[i].Close()
	}
}

func buildComponents(cfg *Config, logger *slog.Logger) (*components, error) {
	c := &components{}

	switch cfg.Storage.Backend {
	case BackendLocal:
		if err := os.MkdirAll(cfg.Storage.LocalPath, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
		fs, err := storage.NewFS(cfg.Storage.LocalPath)
		if err != nil {
			return nil, fmt.Errorf("init storage: %w", err)
		}
		c.store = fs
	default:
		if err := buildBox(c, &cfg.Box, logger); err != nil {
			return nil, err
		}
	}

	probe := retry.Probe(cfg.Box.Probe.Delay, logger)
	if cfg.Box.Probe.Attempts > 0 {
		probe.MaxAttempts = cfg.Box.Probe.Attempts
	}
	defaultFolder := cfg.Box.DefaultFolderID
	if defaultFolder == "" {
		defaultFolder = storage.RootFolderID
	}
	c.dir = directory.New(c.store, defaultFolder, probe, logger)

	// A nil *journal.Journal must not leak into the interface.
	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("init journal: %w", err)
		}
		c.journal = j
		c.closers = append(c.closers, j)
	}

	return c, nil
}

func buildBox(c *components, cfg *BoxConfig, logger *slog.Logger) error {
	httpClient := &http.Client{}

	var grant boxauth.Grant
	var assertion *boxauth.AssertionGrant
	switch cfg.AuthMode {
	case BoxAuthStatic:
		grant = boxauth.StaticGrant{AccessToken: cfg.AccessToken}
	case BoxAuthRefresh:
		g := boxauth.NewRefreshTokenGrant(cfg.TokenURL, cfg.ClientID, cfg.ClientSecret, cfg.RefreshToken, httpClient, cfg.TokenTimeout)
		g.OnRotate = func(string) {
			logger.Info("box: refresh token rotated")
		}
		grant = g
	case BoxAuthJWT:
		subType, subID := cfg.JWT.Subject()
		g, err := boxauth.NewAssertionGrant(boxauth.AssertionConfig{
			TokenURL:     cfg.TokenURL,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			SubjectType:  subType,
			SubjectID:    subID,
			KeyID:        cfg.JWT.KeyID,
			KeyPath:      cfg.JWT.PrivateKeyPath,
			Timeout:      cfg.TokenTimeout,
		}, httpClient)
		if err != nil {
			return fmt.Errorf("init jwt grant: %w", err)
		}
		grant, assertion = g, g
	default:
		return fmt.Errorf("unknown box auth mode %q", cfg.AuthMode)
	}

	broker := boxauth.NewBroker(grant, boxauth.WithLogger(logger))
	c.store = storage.NewBox(httpClient, broker, storage.BoxOptions{
		APIURL:          cfg.APIURL,
		UploadURL:       cfg.UploadURL,
		ListTimeout:     cfg.ListTimeout,
		TransferTimeout: cfg.TransferTimeout,
		Logger:          logger,
	})

	if assertion != nil && cfg.JWT.WatchKey {
		c.watchKey = func(ctx context.Context) error {
			return boxauth.WatchKey(ctx, assertion.KeyPath(), logger, func() {
				if err := assertion.ReloadKey(); err != nil {
					logger.Error("box: reload signing key", slog.String("error", err.Error()))
					return
				}
				broker.Invalidate()
				logger.Info("box: signing key reloaded")
			})
		}
	}
	return nil
}

func newLogger(app *application) *slog.Logger {
	if app.logger != nil {
		return app.logger
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: app.config.App.LogLevel,
	}))
}

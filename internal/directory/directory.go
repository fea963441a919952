// Package directory resolves target folders and looks up files in folder
// listings.
package directory

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/starford/surveybox/internal/apperr"
	"github.com/starford/surveybox/internal/models"
	"github.com/starford/surveybox/internal/retry"
	"github.com/starford/surveybox/internal/storage"
)

// Directory wraps a storage.Provider with folder resolution and
// retried existence probes.
type Directory struct {
	store         storage.Provider
	defaultFolder string
	probe         retry.Policy
	logger        *slog.Logger
}

// New creates a Directory. defaultFolder is used whenever the caller names
// no folder or names one that cannot be listed.
func New(store storage.Provider, defaultFolder string, probe retry.Policy, logger *slog.Logger) *Directory {
	if defaultFolder == "" {
		defaultFolder = storage.RootFolderID
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{store: store, defaultFolder: defaultFolder, probe: probe, logger: logger}
}

// DefaultFolder returns the fallback folder id.
func (d *Directory) DefaultFolder() string {
	return d.defaultFolder
}

// ListEntries returns the direct children of folderID. A folder the
// backend refuses to list yields an error wrapping apperr.ErrNotFound;
// throttling and server errors wrap apperr.ErrTransport.
func (d *Directory) ListEntries(ctx context.Context, folderID string) ([]models.DirectoryEntry, error) {
	return d.store.ListFolder(ctx, folderID)
}

// ResolveFolder returns requested if it can be listed (even when empty)
// and the default folder otherwise. Only apperr.ErrAuth is returned as an
// error; every other listing failure falls back.
func (d *Directory) ResolveFolder(ctx context.Context, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if requested == "" {
		return d.defaultFolder, nil
	}
	if _, err := d.store.ListFolder(ctx, requested); err != nil {
		if errors.Is(err, apperr.ErrAuth) {
			return "", err
		}
		d.logger.Warn("requested folder unavailable, using default",
			slog.String("requested", requested),
			slog.String("default", d.defaultFolder),
			slog.String("error", err.Error()))
		return d.defaultFolder, nil
	}
	return requested, nil
}

// Snapshot lists folderID for an existence check, retrying transport
// failures under the probe policy. Exhaustion is apperr.ErrConnectivity. A
// folder reported as not found yields an empty snapshot.
func (d *Directory) Snapshot(ctx context.Context, folderID string) ([]models.DirectoryEntry, error) {
	var entries []models.DirectoryEntry
	err := d.probe.Do(ctx, "list "+folderID, func(ctx context.Context) error {
		var err error
		entries, err = d.store.ListFolder(ctx, folderID)
		return err
	})
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return []models.DirectoryEntry{}, nil
		}
		return nil, err
	}
	return entries, nil
}

// FindByName returns the id of the first file called name.
func FindByName(entries []models.DirectoryEntry, name string) (string, bool) {
	for _, e := range entries {
		if e.IsFile() && e.Name == name {
			return e.ID, true
		}
	}
	return "", false
}

// FindByPrefix returns the first file whose name starts with prefix.
func FindByPrefix(entries []models.DirectoryEntry, prefix string) (models.DirectoryEntry, bool) {
	for _, e := range entries {
		if e.IsFile() && strings.HasPrefix(e.Name, prefix) {
			return e, true
		}
	}
	return models.DirectoryEntry{}, false
}

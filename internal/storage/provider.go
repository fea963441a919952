// Package storage defines the remote file-store contract the ingest core
// depends on, with a Box implementation and a local directory
// implementation.
package storage

import (
	"context"

	"github.com/starford/surveybox/internal/models"
)

// RootFolderID names the top-level folder in every backend.
const RootFolderID = "0"

// Provider is a folder-and-file store addressed by opaque ids. It offers no
// transactions and no conditional writes.
type Provider interface {
	// ListFolder returns the direct children of folderID. A folder the
	// backend refuses to list yields an error wrapping apperr.ErrNotFound.
	ListFolder(ctx context.Context, folderID string) ([]models.DirectoryEntry, error)
	// Upload creates a new file named name in folderID and returns its id.
	// A name already taken yields apperr.ErrConflict.
	Upload(ctx context.Context, folderID, name string, content []byte) (string, error)
	// Download returns the raw content of fileID.
	Download(ctx context.Context, fileID string) ([]byte, error)
	// UpdateContent replaces the content of fileID, keeping its id.
	UpdateContent(ctx context.Context, fileID, name string, content []byte) error
	// Rename changes the name of fileID within its folder.
	Rename(ctx context.Context, fileID, newName string) error
}

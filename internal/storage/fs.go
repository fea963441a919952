package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/starford/surveybox/internal/apperr"
	"github.com/starford/surveybox/internal/models"
)

const tmpPrefix = ".surveybox-tmp-"

// Compile-time interface satisfaction check.
var _ Provider = (*FS)(nil)

// FS implements Provider on a local directory. Folder and file ids are
// slash-separated paths relative to the root; RootFolderID (or "") is the
// root itself. A rename changes the file's id.
type FS struct {
	root string // absolute path to the storage directory
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// safePath resolves an id against the root and rejects any result that
// escapes it (directory traversal).
func (f *FS) safePath(id string) (string, error) {
	if id == "" || id == RootFolderID {
		return f.root, nil
	}
	cleaned := filepath.Clean(filepath.FromSlash(id))
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("storage: absolute paths not allowed: %s", id)
	}
	abs, err := filepath.Abs(filepath.Join(f.root, cleaned))
	if err != nil {
		return "", fmt.Errorf("storage: resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) && abs != f.root {
		return "", fmt.Errorf("storage: path escapes root: %s", id)
	}
	return abs, nil
}

func (f *FS) idOf(abs string) string {
	rel, err := filepath.Rel(f.root, abs)
	if err != nil || rel == "." {
		return RootFolderID
	}
	return filepath.ToSlash(rel)
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("storage: invalid file name %q", name)
	}
	return nil
}

// ListFolder lists the direct children of a directory.
func (f *FS) ListFolder(_ context.Context, folderID string) ([]models.DirectoryEntry, error) {
	dir, err := f.safePath(folderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrNotFound, err)
	}
	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("storage: list %s: %w: %v", folderID, apperr.ErrNotFound, err)
	}
	out := make([]models.DirectoryEntry, 0, len(des))
	for _, d := range des {
		if strings.HasPrefix(d.Name(), tmpPrefix) {
			continue
		}
		kind := models.KindOther
		switch {
		case d.IsDir():
			kind = models.KindFolder
		case d.Type().IsRegular():
			kind = models.KindFile
		}
		out = append(out, models.DirectoryEntry{
			ID:   f.idOf(filepath.Join(dir, d.Name())),
			Name: d.Name(),
			Kind: kind,
		})
	}
	return out, nil
}

// Upload writes a new file, failing with apperr.ErrConflict when the name is
// taken. The temp file is hard-linked into place so creation never
// overwrites a concurrent writer.
func (f *FS) Upload(_ context.Context, folderID, name string, content []byte) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	dir, err := f.safePath(folderID)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return "", fmt.Errorf("storage: folder %s: %w", folderID, apperr.ErrNotFound)
	}
	target := filepath.Join(dir, name)

	tmpName, err := writeTemp(dir, content)
	if err != nil {
		return "", err
	}
	defer os.Remove(tmpName)

	if err := os.Link(tmpName, target); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("storage: upload %s: %w", name, apperr.ErrConflict)
		}
		return "", fmt.Errorf("storage: link: %w", err)
	}
	return f.idOf(target), nil
}

// Download returns the raw bytes of a file.
func (f *FS) Download(_ context.Context, fileID string) ([]byte, error) {
	abs, err := f.safePath(fileID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("storage: download %s: %w", fileID, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("storage: download %s: %w", fileID, err)
	}
	return data, nil
}

// UpdateContent atomically replaces an existing file: tmp file → fsync →
// rename. The name argument is ignored; the file keeps its current name.
func (f *FS) UpdateContent(_ context.Context, fileID, _ string, content []byte) error {
	abs, err := f.safePath(fileID)
	if err != nil {
		return err
	}
	if info, err := os.Stat(abs); err != nil || !info.Mode().IsRegular() {
		return fmt.Errorf("storage: update %s: %w", fileID, apperr.ErrNotFound)
	}
	tmpName, err := writeTemp(filepath.Dir(abs), content)
	if err != nil {
		return err
	}
	if err := os.Rename(tmpName, abs); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("storage: rename: %w", err)
	}
	return nil
}

// Rename moves a file to newName in the same directory without clobbering
// an existing file.
func (f *FS) Rename(_ context.Context, fileID, newName string) error {
	if err := validName(newName); err != nil {
		return err
	}
	abs, err := f.safePath(fileID)
	if err != nil {
		return err
	}
	target := filepath.Join(filepath.Dir(abs), newName)
	if target == abs {
		return nil
	}
	if err := os.Link(abs, target); err != nil {
		switch {
		case errors.Is(err, fs.ErrExist):
			return fmt.Errorf("storage: rename to %s: %w", newName, apperr.ErrConflict)
		case errors.Is(err, fs.ErrNotExist):
			return fmt.Errorf("storage: rename %s: %w", fileID, apperr.ErrNotFound)
		}
		return fmt.Errorf("storage: rename: %w", err)
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("storage: remove old name %s: %w", path.Base(fileID), err)
	}
	return nil
}

func writeTemp(dir string, content []byte) (string, error) {
	tmp, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return "", fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return "", fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("storage: close temp: %w", err)
	}
	success = true
	return tmpName, nil
}

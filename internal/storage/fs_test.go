package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/surveybox/internal/apperr"
	"github.com/starford/surveybox/internal/models"
)

func tempStore(t *testing.T) *FS {
	t.Helper()
	fs, err := NewFS(t.TempDir())
	require.NoError(t, err)
	return fs
}

func TestFS_UploadAndDownload(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	id, err := s.Upload(ctx, RootFolderID, "a.csv", []byte("x,y\n"))
	require.NoError(t, err)
	assert.Equal(t, "a.csv", id)

	got, err := s.Download(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "x,y\n", string(got))
}

func TestFS_UploadConflict(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	_, err := s.Upload(ctx, RootFolderID, "dup.csv", []byte("1"))
	require.NoError(t, err)
	_, err = s.Upload(ctx, RootFolderID, "dup.csv", []byte("2"))
	assert.ErrorIs(t, err, apperr.ErrConflict)

	got, err := s.Download(ctx, "dup.csv")
	require.NoError(t, err)
	assert.Equal(t, "1", string(got), "conflicting upload must not overwrite")
}

func TestFS_UploadIntoMissingFolder(t *testing.T) {
	s := tempStore(t)
	_, err := s.Upload(context.Background(), "nope", "a.csv", []byte("1"))
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestFS_ListFolder(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	require.NoError(t, os.Mkdir(filepath.Join(s.root, "sub"), 0o755))
	_, err := s.Upload(ctx, "sub", "inner.csv", []byte("1"))
	require.NoError(t, err)
	_, err = s.Upload(ctx, RootFolderID, "top.csv", []byte("1"))
	require.NoError(t, err)

	entries, err := s.ListFolder(ctx, RootFolderID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []models.DirectoryEntry{
		{ID: "sub", Name: "sub", Kind: models.KindFolder},
		{ID: "top.csv", Name: "top.csv", Kind: models.KindFile},
	}, entries)

	entries, err = s.ListFolder(ctx, "sub")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "sub/inner.csv", entries[0].ID)
}

func TestFS_ListMissingFolder(t *testing.T) {
	s := tempStore(t)
	_, err := s.ListFolder(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestFS_UpdateContent(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	id, err := s.Upload(ctx, RootFolderID, "m.csv", []byte("v1"))
	require.NoError(t, err)

	require.NoError(t, s.UpdateContent(ctx, id, "m.csv", []byte("v2")))
	got, err := s.Download(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))

	// Confirm no leftover temp files.
	matches, _ := filepath.Glob(filepath.Join(s.root, tmpPrefix+"*"))
	assert.Empty(t, matches)

	assert.ErrorIs(t, s.UpdateContent(ctx, "ghost.csv", "ghost.csv", []byte("x")), apperr.ErrNotFound)
}

func TestFS_Rename(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	id, err := s.Upload(ctx, RootFolderID, "old.csv", []byte("data"))
	require.NoError(t, err)
	_, err = s.Upload(ctx, RootFolderID, "taken.csv", []byte("other"))
	require.NoError(t, err)

	assert.ErrorIs(t, s.Rename(ctx, id, "taken.csv"), apperr.ErrConflict)

	require.NoError(t, s.Rename(ctx, id, "new.csv"))
	got, err := s.Download(ctx, "new.csv")
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))
	_, err = s.Download(ctx, "old.csv")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestFS_TraversalBlocked(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	for _, p := range []string{"../../etc/passwd", "../outside.csv", "/etc/shadow"} {
		_, err := s.Download(ctx, p)
		assert.Error(t, err, p)
		_, err = s.ListFolder(ctx, p)
		assert.Error(t, err, p)
	}
	_, err := s.Upload(ctx, RootFolderID, "../escape.csv", []byte("x"))
	assert.Error(t, err)
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Error(t, err)
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "surveybox-test-*")
	require.NoError(t, err)
	_ = f.Close()
	_, err = NewFS(f.Name())
	assert.Error(t, err)
}

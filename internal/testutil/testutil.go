// Package testutil provides shared test helpers: an in-memory storage
// backend with failure injection, temp journals and local stores.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/starford/surveybox/internal/apperr"
	"github.com/starford/surveybox/internal/journal"
	"github.com/starford/surveybox/internal/models"
	"github.com/starford/surveybox/internal/storage"
)

// TestJournal opens a journal in a temp directory that is closed on cleanup.
func TestJournal(t *testing.T) *journal.Journal {
	t.Helper()
	j, err := journal.Open(t.TempDir() + "/journal.db")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

// TestLocalStore creates a temporary directory with a local storage.FS.
func TestLocalStore(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// Operation names used by MemStore for call logging and fault injection.
const (
	OpList     = "list"
	OpUpload   = "upload"
	OpDownload = "download"
	OpUpdate   = "update"
	OpRename   = "rename"
)

// MemFile is a file held by MemStore.
type MemFile struct {
	ID      string
	Folder  string
	Name    string
	Content []byte
	seq     int
}

// MemStore is an in-memory storage.Provider. Folders must be created with
// AddFolder (the root "0" exists from the start). Faults queued with
// FailNext are returned by the next matching calls, in order.
type MemStore struct {
	mu      sync.Mutex
	seq     int
	folders map[string]string // folder id -> parent id
	names   map[string]string // folder id -> name
	files   map[string]*MemFile
	faults  map[string][]error
	calls   []string

	// BeforeCall, if set, runs before every operation with the store
	// unlocked. Tests use it to interleave concurrent changes.
	BeforeCall func(op, target string)
}

var _ storage.Provider = (*MemStore)(nil)

// NewMemStore returns an empty store containing only the root folder.
func NewMemStore() *MemStore {
	return &MemStore{
		folders: map[string]string{storage.RootFolderID: ""},
		names:   map[string]string{storage.RootFolderID: "All Files"},
		files:   map[string]*MemFile{},
		faults:  map[string][]error{},
	}
}

// AddFolder creates folder id with the given name under parent.
func (m *MemStore) AddFolder(parent, id, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.folders[id] = parent
	m.names[id] = name
}

// Put stores a file directly, bypassing conflict checks and call logging.
func (m *MemStore) Put(folderID, name string, content []byte) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.put(folderID, name, content)
}

func (m *MemStore) put(folderID, name string, content []byte) string {
	m.seq++
	id := "f" + strconv.Itoa(m.seq)
	m.files[id] = &MemFile{ID: id, Folder: folderID, Name: name, Content: append([]byte(nil), content...), seq: m.seq}
	return id
}

// FailNext queues errors to be returned by the next calls of op.
func (m *MemStore) FailNext(op string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[op] = append(m.faults[op], errs...)
}

// Calls returns the operations performed so far, as "op target".
func (m *MemStore) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Files returns the files in folderID ordered by creation.
func (m *MemStore) Files(folderID string) []MemFile {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MemFile
	for _, f := range m.files {
		if f.Folder == folderID {
			out = append(out, *f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// File returns a copy of the file with the given name in folderID.
func (m *MemStore) File(folderID, name string) (MemFile, bool) {
	for _, f := range m.Files(folderID) {
		if f.Name == name {
			return f, true
		}
	}
	return MemFile{}, false
}

// enter logs the call and pops a queued fault. The caller holds no lock.
func (m *MemStore) enter(op, target string) error {
	if m.BeforeCall != nil {
		m.BeforeCall(op, target)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, op+" "+target)
	if q := m.faults[op]; len(q) > 0 {
		m.faults[op] = q[1:]
		if q[0] != nil {
			return q[0]
		}
	}
	return nil
}

func (m *MemStore) nameTaken(folderID, name string) bool {
	for _, f := range m.files {
		if f.Folder == folderID && f.Name == name {
			return true
		}
	}
	return false
}

// ListFolder implements storage.Provider.
func (m *MemStore) ListFolder(_ context.Context, folderID string) ([]models.DirectoryEntry, error) {
	if err := m.enter(OpList, folderID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.folders[folderID]; !ok {
		return nil, fmt.Errorf("mem: list %s: %w", folderID, apperr.ErrNotFound)
	}

	out := []models.DirectoryEntry{}
	var subs []string
	for id, parent := range m.folders {
		if parent == folderID && id != folderID {
			subs = append(subs, id)
		}
	}
	sort.Strings(subs)
	for _, id := range subs {
		out = append(out, models.DirectoryEntry{ID: id, Name: m.names[id], Kind: models.KindFolder})
	}

	var files []*MemFile
	for _, f := range m.files {
		if f.Folder == folderID {
			files = append(files, f)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].seq < files[j].seq })
	for _, f := range files {
		out = append(out, models.DirectoryEntry{ID: f.ID, Name: f.Name, Kind: models.KindFile})
	}
	return out, nil
}

// Upload implements storage.Provider.
func (m *MemStore) Upload(_ context.Context, folderID, name string, content []byte) (string, error) {
	if err := m.enter(OpUpload, name); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.folders[folderID]; !ok {
		return "", fmt.Errorf("mem: upload to %s: %w", folderID, apperr.ErrNotFound)
	}
	if m.nameTaken(folderID, name) {
		return "", fmt.Errorf("mem: upload %s: %w", name, apperr.ErrConflict)
	}
	return m.put(folderID, name, content), nil
}

// Download implements storage.Provider.
func (m *MemStore) Download(_ context.Context, fileID string) ([]byte, error) {
	if err := m.enter(OpDownload, fileID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[fileID]
	if !ok {
		return nil, fmt.Errorf("mem: download %s: %w", fileID, apperr.ErrNotFound)
	}
	return append([]byte(nil), f.Content...), nil
}

// UpdateContent implements storage.Provider.
func (m *MemStore) UpdateContent(_ context.Context, fileID, _ string, content []byte) error {
	if err := m.enter(OpUpdate, fileID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[fileID]
	if !ok {
		return fmt.Errorf("mem: update %s: %w", fileID, apperr.ErrNotFound)
	}
	f.Content = append([]byte(nil), content...)
	return nil
}

// Rename implements storage.Provider.
func (m *MemStore) Rename(_ context.Context, fileID, newName string) error {
	if err := m.enter(OpRename, fileID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[fileID]
	if !ok {
		return fmt.Errorf("mem: rename %s: %w", fileID, apperr.ErrNotFound)
	}
	if f.Name != newName && m.nameTaken(f.Folder, newName) {
		return fmt.Errorf("mem: rename %s to %s: %w", fileID, newName, apperr.ErrConflict)
	}
	f.Name = newName
	return nil
}

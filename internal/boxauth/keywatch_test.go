package boxauth

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchKeyFiresOnWrite(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(keyPath, []byte("v1"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var fired atomic.Int32
	done := make(chan error, 1)
	go func() { done <- WatchKey(ctx, keyPath, quietLogger(), func() { fired.Add(1) }) }()

	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)

	// Unrelated files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(keyPath, []byte("v2"), 0o600))
	require.NoError(t, os.WriteFile(keyPath, []byte("v3"), 0o600))

	assert.Eventually(t, func() bool { return fired.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(2 * keyReloadDebounce)
	assert.EqualValues(t, 1, fired.Load(), "burst should be debounced")

	cancel()
	assert.NoError(t, <-done)
}

package boxauth

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const keyReloadDebounce = 200 * time.Millisecond

// WatchKey watches the directory holding keyPath and calls onChange after
// the key file is written, created or swapped in by rename. Bursts of
// events are debounced. It blocks until ctx is cancelled.
//
// The parent directory is watched rather than the file itself because
// editors and secret mounts replace the file instead of writing in place.
func WatchKey(ctx context.Context, keyPath string, logger *slog.Logger, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	abs, err := filepath.Abs(keyPath)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := w.Add(dir); err != nil {
		return err
	}
	logger.Info("keywatch: started", slog.String("path", abs))

	var timer *time.Timer
	var fire <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(keyReloadDebounce)
			fire = timer.C
		} else {
			timer.Reset(keyReloadDebounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("keywatch: stopped")
			return nil

		case <-fire:
			logger.Info("keywatch: private key changed", slog.String("path", abs))
			onChange()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				schedule()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("keywatch: error", slog.String("error", watchErr.Error()))
		}
	}
}

package host

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
)

// watchDebounce batches the events of a single save
const watchDebounce = 200 * time.Millisecond

// WatchStatic reloads the configuration whenever the file at path changes.
// The parent directory is watched so that editors replacing the file are
// noticed. It blocks until ctx is done.
func (h *Host) WatchStatic(ctx context.Context, path string) error {
	log := logf.FromContext(ctx).WithName("watch")

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			log.Error(err, "Failed to close watcher")
		}
	}()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	log.Info("Watching static manifest", "path", abs)

	debounce := time.NewTimer(watchDebounce)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs || !event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			log.V(1).Info("Static manifest changed", "op", event.Op.String())
			debounce.Reset(watchDebounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error(err, "Watcher error")

		case <-debounce.C:
			if _, err := h.Reload(ctx); err != nil {
				log.Error(err, "Failed to reload configuration")
			}
		}
	}
}

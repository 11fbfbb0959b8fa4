package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/campaign-runner/internal/logging"
)

// Watcher reloads a catalog when its file changes on disk
type Watcher struct {
	catalog  *Catalog
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu    sync.Mutex
	timer *time.Timer
	done  chan struct{}
}

// NewWatcher watches the directory holding the catalog file, so editors that
// replace the file by rename are still noticed
func NewWatcher(c *Catalog, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(c.Path())); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to watch catalog directory: %w", err)
	}
	return &Watcher{
		catalog:  c,
		watcher:  fw,
		debounce: debounce,
		done:     make(chan struct{}),
	}, nil
}

// Run processes file events until ctx ends
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.done)
	logger := logging.FromContext(ctx).WithField("path", w.catalog.Path())
	target := filepath.Clean(w.catalog.Path())

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			_ = w.watcher.Close()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload(logger)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.WithError(err).Warn("Catalog watcher error")
		}
	}
}

// Done is closed once Run has returned
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) scheduleReload(logger *logging.Logger) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if err := w.catalog.Reload(); err != nil {
			logger.WithError(err).Error("Catalog reload failed, keeping previous services")
			return
		}
		logger.Info("Catalog reloaded")
	})
}

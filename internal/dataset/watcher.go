package dataset

import (
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads dataset files in place when they change on disk, so a
// refreshed original.json does not require a server restart.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	registry  *Registry
	done      chan struct{}
	logger    *slog.Logger
}

// NewWatcher creates a watcher over the registry's dataset directory. Call
// Start to begin processing events.
func NewWatcher(registry *Registry, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	w := &Watcher{
		fsWatcher: fsw,
		registry:  registry,
		done:      make(chan struct{}),
		logger:    logger.With("component", "dataset.Watcher"),
	}

	if err := fsw.Add(registry.Dir()); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// Start begins watching in a background goroutine and returns immediately.
func (w *Watcher) Start() {
	go w.loop()
}

// Stop shuts down the watcher and releases resources.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fsWatcher.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			name := strings.TrimSuffix(filepath.Base(event.Name), ".json")
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			if !w.registry.known(name) {
				continue // not a configured dataset (e.g. the trace store file)
			}
			w.logger.Info("dataset file changed, reloading", "name", name)
			w.registry.reload(name)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

package dataset

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Registry holds the read-only base task datasets (e.g. "original",
// "augmented"), loaded from <dir>/<name>.json. A dataset that fails to load
// is registered as absent: startup continues and requests for it get a
// not-found answer.
type Registry struct {
	dir    string
	logger *slog.Logger

	mu       sync.RWMutex
	datasets map[string]json.RawMessage // nil value = failed to load
}

// NewRegistry loads each named dataset from dir. Load failures are logged,
// never fatal.
func NewRegistry(dir string, names []string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		dir:      dir,
		logger:   logger.With("component", "dataset.Registry"),
		datasets: make(map[string]json.RawMessage),
	}
	for _, name := range names {
		r.reload(name)
	}
	return r
}

// Get returns the raw JSON for a dataset. ok is false when the dataset is
// unknown or failed to load.
func (r *Registry) Get(name string) (json.RawMessage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	data, exists := r.datasets[name]
	return data, exists && data != nil
}

// Names returns the configured dataset names, loaded or not.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.datasets))
	for name := range r.datasets {
		names = append(names, name)
	}
	return names
}

// Dir returns the dataset directory.
func (r *Registry) Dir() string { return r.dir }

// known reports whether name is a configured dataset.
func (r *Registry) known(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.datasets[name]
	return ok
}

// path returns the file backing a dataset name.
func (r *Registry) path(name string) string {
	return filepath.Join(r.dir, name+".json")
}

// reload (re-)reads one dataset file into the registry.
func (r *Registry) reload(name string) {
	data, err := load(r.path(name))
	if err != nil {
		r.logger.Error("failed to load dataset", "name", name, "error", err)
	} else {
		r.logger.Info("loaded dataset", "name", name, "bytes", len(data))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.datasets[name] = data // nil on error, marking the dataset absent
}

func load(path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("invalid JSON in %s", path)
	}
	return data, nil
}

package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/traceboard/traceboard/internal/trace"
)

// Backend persists trace store snapshots. Load tolerates a missing file by
// returning an empty snapshot with no error; corrupt data returns an empty
// snapshot plus the parse error so the caller can log it and start anyway.
type Backend interface {
	Load() (trace.Snapshot, error)
	Save(trace.Snapshot) error
	Close() error
}

// FileBackend stores the snapshot as a single JSON document and keeps
// timestamped byte-for-byte copies in a backups/ directory next to it.
type FileBackend struct {
	path    string
	planner *backupPlanner
	logger  *slog.Logger

	mu sync.Mutex // serializes file writes
}

// NewFileBackend creates the store and backup directories if needed.
func NewFileBackend(path string, backupInterval time.Duration, logger *slog.Logger) (*FileBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "storage.FileBackend")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	backupDir := filepath.Join(dir, "backups")
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	base := filepath.Base(path)
	ext := filepath.Ext(base)
	prefix := base[:len(base)-len(ext)] + "_"

	return &FileBackend{
		path:    path,
		planner: newBackupPlanner(backupDir, prefix, ext, backupInterval, logger),
		logger:  logger,
	}, nil
}

// Load reads and parses the store file.
func (b *FileBackend) Load() (trace.Snapshot, error) {
	data, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		b.logger.Info("no store file, starting empty", "path", b.path)
		return trace.Snapshot{}, nil
	}
	if err != nil {
		return trace.Snapshot{}, fmt.Errorf("failed to read store file: %w", err)
	}

	var snap trace.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return trace.Snapshot{}, fmt.Errorf("invalid store file %s: %w", b.path, err)
	}
	return snap, nil
}

// Save rewrites the store file in full: write a temp file in the same
// directory, then rename over the target, so a crash mid-write can never
// leave a truncated store behind. On success it schedules a backup when one
// is due.
func (b *FileBackend) Save(snap trace.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(b.path), ".traces_store-*")
	if err != nil {
		return fmt.Errorf("failed to create temp store file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write temp store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp store file: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace store file: %w", err)
	}

	if target, ok := b.planner.due(time.Now()); ok {
		// The copy runs off the write path; a slow disk must not stall the
		// store lock or the client-facing reply. data is the exact bytes
		// just renamed into place.
		go b.writeBackup(target, data)
	}
	return nil
}

// writeBackup is best-effort: failures degrade durability, never the save
// that triggered them.
func (b *FileBackend) writeBackup(target string, data []byte) {
	if err := os.WriteFile(target, data, 0o644); err != nil {
		b.logger.Error("backup failed", "target", target, "error", err)
		return
	}
	b.logger.Info("created backup", "target", target)
}

// Close is a no-op for the file backend.
func (b *FileBackend) Close() error { return nil }

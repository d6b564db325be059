package storage

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// tsLayout is the sortable timestamp embedded in backup filenames,
// e.g. traces_store_20260829_143000.json.
const tsLayout = "20060102_150405"

// backupPlanner decides when the next interval-throttled backup is due and
// what to name it. The decision is cheap and synchronous; the actual copy is
// the caller's job and runs off the write path. The most recent backup time
// is recovered from existing filenames on first use, so restarts do not
// reset the cadence.
type backupPlanner struct {
	dir      string
	prefix   string
	ext      string
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	last    time.Time
	scanned bool
}

func newBackupPlanner(dir, prefix, ext string, interval time.Duration, logger *slog.Logger) *backupPlanner {
	return &backupPlanner{
		dir:      dir,
		prefix:   prefix,
		ext:      ext,
		interval: interval,
		logger:   logger,
	}
}

// due returns the path for a new backup file and true when one should be
// created now. It records the decision immediately, so a slow in-flight copy
// cannot cause a second backup for the same interval.
func (p *backupPlanner) due(now time.Time) (string, bool) {
	if p.interval <= 0 {
		return "", false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.scanned {
		p.last = p.scanLatest()
		p.scanned = true
	}

	if !p.last.IsZero() && now.Sub(p.last) < p.interval {
		return "", false
	}

	p.last = now
	name := p.prefix + now.Format(tsLayout) + p.ext
	return filepath.Join(p.dir, name), true
}

// scanLatest finds the newest backup time from existing filenames. Files
// whose names do not parse are skipped with a warning.
func (p *backupPlanner) scanLatest() time.Time {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return time.Time{}
	}

	var latest time.Time
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, p.prefix) || !strings.HasSuffix(name, p.ext) {
			continue
		}
		ts := strings.TrimSuffix(strings.TrimPrefix(name, p.prefix), p.ext)
		t, err := time.ParseInLocation(tsLayout, ts, time.Local)
		if err != nil {
			p.logger.Warn("unparseable backup filename", "file", name)
			continue
		}
		if t.After(latest) {
			latest = t
		}
	}
	return latest
}

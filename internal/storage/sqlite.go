package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/traceboard/traceboard/internal/trace"
)

// SQLiteBackend persists snapshots in a SQLite database. It honors the same
// contract as FileBackend: full rewrite per save, interval-throttled
// timestamped backups (via VACUUM INTO), tolerant load.
type SQLiteBackend struct {
	db      *sql.DB
	path    string
	planner *backupPlanner
	logger  *slog.Logger

	mu sync.Mutex // serializes save transactions
}

// NewSQLiteBackend opens (creating if absent) the database at path and
// ensures the schema exists.
func NewSQLiteBackend(path string, backupInterval time.Duration, logger *slog.Logger) (*SQLiteBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "storage.SQLiteBackend")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	backupDir := filepath.Join(dir, "backups")
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS traces (
		trace_id   TEXT PRIMARY KEY,
		task_id    TEXT NOT NULL,
		username   TEXT NOT NULL,
		text       TEXT NOT NULL,
		score      INTEGER NOT NULL DEFAULT 0,
		timestamp  REAL NOT NULL,
		voters     TEXT NOT NULL DEFAULT '{}',
		seq        INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_traces_task ON traces(task_id, seq);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	base := filepath.Base(path)
	ext := filepath.Ext(base)
	prefix := base[:len(base)-len(ext)] + "_"

	return &SQLiteBackend{
		db:      db,
		path:    path,
		planner: newBackupPlanner(backupDir, prefix, ext, backupInterval, logger),
		logger:  logger,
	}, nil
}

// Load reads all traces ordered by task and insertion sequence.
func (b *SQLiteBackend) Load() (trace.Snapshot, error) {
	rows, err := b.db.Query(
		`SELECT trace_id, task_id, username, text, score, timestamp, voters
		 FROM traces ORDER BY task_id, seq`)
	if err != nil {
		return trace.Snapshot{}, fmt.Errorf("failed to query traces: %w", err)
	}
	defer rows.Close()

	snap := trace.Snapshot{}
	for rows.Next() {
		var t trace.Trace
		var voters string
		if err := rows.Scan(&t.ID, &t.TaskID, &t.Username, &t.Text, &t.Score, &t.Timestamp, &voters); err != nil {
			return trace.Snapshot{}, fmt.Errorf("failed to scan trace: %w", err)
		}
		t.Voters = make(map[string]int)
		if err := json.Unmarshal([]byte(voters), &t.Voters); err != nil {
			return trace.Snapshot{}, fmt.Errorf("invalid voters for trace %s: %w", t.ID, err)
		}
		snap[t.TaskID] = append(snap[t.TaskID], &t)
	}
	if err := rows.Err(); err != nil {
		return trace.Snapshot{}, fmt.Errorf("failed to read traces: %w", err)
	}
	return snap, nil
}

// Save replaces the full table contents in one transaction, then schedules
// a backup when one is due.
func (b *SQLiteBackend) Save(snap trace.Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	tx, err := b.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin save transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM traces`); err != nil {
		return fmt.Errorf("failed to clear traces: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO traces (trace_id, task_id, username, text, score, timestamp, voters, seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for taskID, traces := range snap {
		for seq, t := range traces {
			voters, err := json.Marshal(t.Voters)
			if err != nil {
				return fmt.Errorf("failed to marshal voters for trace %s: %w", t.ID, err)
			}
			if _, err := stmt.Exec(t.ID, taskID, t.Username, t.Text, t.Score, t.Timestamp, string(voters), seq); err != nil {
				return fmt.Errorf("failed to insert trace %s: %w", t.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit save: %w", err)
	}

	if target, ok := b.planner.due(time.Now()); ok {
		go b.writeBackup(target)
	}
	return nil
}

// writeBackup snapshots the database into a standalone file. Best-effort.
func (b *SQLiteBackend) writeBackup(target string) {
	if _, err := b.db.Exec(`VACUUM INTO ?`, target); err != nil {
		b.logger.Error("backup failed", "target", target, "error", err)
		return
	}
	b.logger.Info("created backup", "target", target)
}

// Close shuts down the database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

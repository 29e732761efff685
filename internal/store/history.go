// Package store persists finished runs to a local SQLite database so past
// results stay inspectable after in-memory job state is evicted.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"qaprobe/internal/logging"
)

// RunRecord is the durable summary of one finished run.
type RunRecord struct {
	RunID      string `json:"runId"`
	JobID      string `json:"jobId,omitempty"`
	Project    string `json:"project"`
	Status     string `json:"status"` // done or error
	Rows       int    `json:"rows"`
	Pass       int    `json:"pass"`
	Fail       int    `json:"fail"`
	Blocked    int    `json:"blocked"`
	SheetPath  string `json:"sheetPath,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"durationMs"`
	CreatedAt  int64  `json:"createdAt"` // unix milliseconds
}

// History is the run archive. Safe for concurrent use; database/sql pools
// connections and the schema uses a single writer-friendly table.
type History struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT NOT NULL,
	job_id      TEXT NOT NULL DEFAULT '',
	project     TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	rows        INTEGER NOT NULL DEFAULT 0,
	pass        INTEGER NOT NULL DEFAULT 0,
	fail        INTEGER NOT NULL DEFAULT 0,
	blocked     INTEGER NOT NULL DEFAULT 0,
	sheet_path  TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
`

// Open opens (or creates) the archive at path.
func Open(path string) (*History, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	logging.Store("history archive open at %s", path)
	return &History{db: db}, nil
}

// SaveRun appends one finished run.
func (h *History) SaveRun(ctx context.Context, r RunRecord) error {
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, job_id, project, status, rows, pass, fail, blocked, sheet_path, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.JobID, r.Project, r.Status, r.Rows, r.Pass, r.Fail, r.Blocked,
		r.SheetPath, r.Error, r.DurationMs, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("save run %s: %w", r.RunID, err)
	}
	logging.Store("archived run %s (%s)", r.RunID, r.Status)
	return nil
}

// Recent lists the newest runs, newest first.
func (h *History) Recent(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := h.db.QueryContext(ctx, `
		SELECT run_id, job_id, project, status, rows, pass, fail, blocked, sheet_path, error, duration_ms, created_at
		FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.RunID, &r.JobID, &r.Project, &r.Status, &r.Rows, &r.Pass, &r.Fail,
			&r.Blocked, &r.SheetPath, &r.Error, &r.DurationMs, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close releases the database.
func (h *History) Close() error {
	if h == nil || h.db == nil {
		return nil
	}
	return h.db.Close()
}

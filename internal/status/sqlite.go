package status

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// historySchema is executed on every open; IF NOT EXISTS keeps it idempotent.
const historySchema = `
CREATE TABLE IF NOT EXISTS task_history (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    task_key    TEXT NOT NULL,
    state       TEXT NOT NULL,
    message     TEXT NOT NULL DEFAULT '',
    reported_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_task_history_key ON task_history(task_key, id);
`

// reportTimeout bounds a single history insert so a locked database cannot
// stall the queue worker that reports into it.
const reportTimeout = 2 * time.Second

// History persists status reports to a local SQLite database in WAL mode so
// that `weft status`, running in another process, can read them while a
// watcher is writing. It is diagnostic only; nothing reads it back for
// correctness.
type History struct {
	db     *sql.DB
	logger io.Writer
}

// OpenHistory opens (or creates) the history database at dbPath. Insert
// failures during Report are written to logger; a nil logger discards them.
func OpenHistory(ctx context.Context, dbPath string, logger io.Writer) (*History, error) {
	if logger == nil {
		logger = io.Discard
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("status: create history dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("status: open history: %w", err)
	}
	// SQLite has a single writer; one pooled connection keeps PRAGMAs in effect.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("status: %s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("status: create history schema: %w", err)
	}
	return &History{db: db, logger: logger}, nil
}

// Report appends one transition. Errors are logged, never returned.
func (h *History) Report(key string, st Status, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()
	if err := h.Append(ctx, Report{Key: key, Status: st, Message: message, At: time.Now().UTC()}); err != nil {
		fmt.Fprintf(h.logger, "warning: %v\n", err)
	}
}

// Append inserts r into the history table.
func (h *History) Append(ctx context.Context, r Report) error {
	const q = `INSERT INTO task_history (task_key, state, message, reported_at) VALUES (?, ?, ?, ?)`
	at := r.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	if _, err := h.db.ExecContext(ctx, q, r.Key, r.Status.String(), r.Message, at.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("status: append %q=%s: %w", r.Key, r.Status, err)
	}
	return nil
}

// Recent returns up to limit reports, newest first.
func (h *History) Recent(ctx context.Context, limit int) ([]Report, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `SELECT task_key, state, message, reported_at FROM task_history ORDER BY id DESC LIMIT ?`
	return h.query(ctx, q, limit)
}

// LatestPerKey returns the newest report of each key, ordered by key.
func (h *History) LatestPerKey(ctx context.Context) ([]Report, error) {
	const q = `
		SELECT h.task_key, h.state, h.message, h.reported_at
		FROM task_history h
		JOIN (SELECT task_key, MAX(id) AS id FROM task_history GROUP BY task_key) m ON m.id = h.id
		ORDER BY h.task_key`
	return h.query(ctx, q)
}

// Prune deletes all but the newest keep rows.
func (h *History) Prune(ctx context.Context, keep int) error {
	const q = `DELETE FROM task_history WHERE id NOT IN (SELECT id FROM task_history ORDER BY id DESC LIMIT ?)`
	if _, err := h.db.ExecContext(ctx, q, keep); err != nil {
		return fmt.Errorf("status: prune history: %w", err)
	}
	return nil
}

func (h *History) query(ctx context.Context, q string, args ...any) ([]Report, error) {
	rows, err := h.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("status: query history: %w", err)
	}
	defer rows.Close()

	var out []Report
	for rows.Next() {
		var (
			r     Report
			state string
			ts    string
		)
		if err := rows.Scan(&r.Key, &state, &r.Message, &ts); err != nil {
			return nil, fmt.Errorf("status: scan history: %w", err)
		}
		if r.Status, err = Parse(state); err != nil {
			return nil, err
		}
		if r.At, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("status: parse timestamp %q: %w", ts, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("status: iterate history: %w", err)
	}
	return out, nil
}

// Close releases the database handle.
func (h *History) Close() error {
	return h.db.Close()
}

var _ Sink = (*History)(nil)

// Package store persists processed-issue markers in SQLite so deduplication
// survives restarts.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/apeks827/JiraTasksUpdate/internal/pipeline"
)

// Store is a SQLite-backed pipeline.Backend. One database holds the markers
// of every watch; each watch gets a namespaced view via Watch.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path. ":memory:" is accepted for tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set database pragmas: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("processed store migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS processed_issues (
			watch TEXT NOT NULL,
			issue_id TEXT NOT NULL,
			processed_at INTEGER NOT NULL, -- unix nanoseconds, UTC
			PRIMARY KEY (watch, issue_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_processed_issues_at ON processed_issues(watch, processed_at)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping() error {
	return s.db.Ping()
}

// Watch returns the backend for one watch name.
func (s *Store) Watch(name string) *WatchStore {
	return &WatchStore{db: s.db, watch: name}
}

// WatchSummary is a per-watch row count used by the status command.
type WatchSummary struct {
	Watch  string
	Count  int
	Oldest time.Time
	Newest time.Time
}

// Summaries returns marker counts per watch.
func (s *Store) Summaries() ([]WatchSummary, error) {
	rows, err := s.db.Query(`SELECT watch, COUNT(*), MIN(processed_at), MAX(processed_at)
		FROM processed_issues GROUP BY watch ORDER BY watch`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []WatchSummary
	for rows.Next() {
		var ws WatchSummary
		var oldest, newest int64
		if err := rows.Scan(&ws.Watch, &ws.Count, &oldest, &newest); err != nil {
			return nil, err
		}
		ws.Oldest = fromNanos(oldest)
		ws.Newest = fromNanos(newest)
		out = append(out, ws)
	}
	return out, rows.Err()
}

// WatchStore implements pipeline.Backend for a single watch.
type WatchStore struct {
	db    *sql.DB
	watch string
}

var _ pipeline.Backend = (*WatchStore)(nil)

// Load returns every stored marker of the watch.
func (w *WatchStore) Load() ([]pipeline.ProcessedRecord, error) {
	rows, err := w.db.Query(`SELECT issue_id, processed_at FROM processed_issues
		WHERE watch = ? ORDER BY processed_at ASC`, w.watch)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []pipeline.ProcessedRecord
	for rows.Next() {
		var id string
		var at int64
		if err := rows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("read %s marker: %w", w.watch, err)
		}
		out = append(out, pipeline.ProcessedRecord{IssueID: id, ProcessedAt: fromNanos(at)})
	}
	return out, rows.Err()
}

// Persist stores a marker. Re-inserting an existing issue keeps the original
// timestamp.
func (w *WatchStore) Persist(r pipeline.ProcessedRecord) error {
	_, err := w.db.Exec(`INSERT OR IGNORE INTO processed_issues (watch, issue_id, processed_at)
		VALUES (?, ?, ?)`, w.watch, r.IssueID, r.ProcessedAt.UnixNano())
	return err
}

// Delete removes markers, used by cache eviction.
func (w *WatchStore) Delete(issueIDs []string) error {
	if len(issueIDs) == 0 {
		return nil
	}
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`DELETE FROM processed_issues WHERE watch = ? AND issue_id = ?`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, id := range issueIDs {
		if _, err := stmt.Exec(w.watch, id); err != nil {
			return fmt.Errorf("delete %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

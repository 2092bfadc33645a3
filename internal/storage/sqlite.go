// Package storage opens the SQLite journal database.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mattjoyce/sttgw/internal/log"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist. Paths on network filesystems are refused.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := CheckLocalFilesystem(path); err != nil {
		if errors.Is(err, ErrNetworkFilesystem) {
			return nil, err
		}
		log.Warn("could not verify journal filesystem", "path", path, "error", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA journal_mode = WAL;",
	} {
		if _, err := db.ExecContext(pctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transcriptions (
  id            TEXT PRIMARY KEY,
  payload       TEXT NOT NULL,
  status        TEXT NOT NULL,
  generation    INTEGER NOT NULL DEFAULT 0,
  submitted_at  TEXT NOT NULL,
  dispatched_at TEXT,
  completed_at  TEXT NOT NULL,
  text          TEXT,
  language      TEXT,
  last_error    TEXT
);`,
		`CREATE TABLE IF NOT EXISTS worker_events (
  id         INTEGER PRIMARY KEY AUTOINCREMENT,
  generation INTEGER NOT NULL,
  state      TEXT NOT NULL,
  at         TEXT NOT NULL,
  detail     TEXT
);`,
		`CREATE INDEX IF NOT EXISTS transcriptions_completed_at_idx ON transcriptions(completed_at);`,
		`CREATE INDEX IF NOT EXISTS worker_events_at_idx ON worker_events(at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Basic health check + apply a few safe pragmas.
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
//
// permission_rules.kind uses -1 as the wildcard marker so the primary key
// stays total (sqlite treats NULLs in a PK as distinct rows).
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS permission_rules (
  caller     TEXT NOT NULL,
  operation  TEXT NOT NULL,
  kind       INTEGER NOT NULL DEFAULT -1,
  allow      INTEGER NOT NULL,
  created_at TEXT NOT NULL,
  PRIMARY KEY(caller, operation, kind)
);`,
		`CREATE TABLE IF NOT EXISTS outcome_log (
  id           TEXT PRIMARY KEY,
  caller       TEXT NOT NULL,
  operation    TEXT NOT NULL,
  kind         INTEGER NOT NULL DEFAULT -1,
  code         TEXT NOT NULL,
  error        TEXT,
  received_at  TEXT NOT NULL,
  completed_at TEXT NOT NULL,
  latency_ms   INTEGER NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS permission_rules_caller_idx ON permission_rules(caller, operation);`,
		`CREATE INDEX IF NOT EXISTS outcome_log_completed_at_idx ON outcome_log(completed_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}

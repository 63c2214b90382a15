// Package store implements the durable notification-persistence layer:
// messages, aliases, notifications, and per-thread read state, plus the
// mention parser, alias resolver, state machine, and claim query that sit
// on top of them.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DefaultDBPath is used when no explicit path is given and the
// MISSION_CONTROL_DB_PATH environment variable is unset.
const DefaultDBPath = "./data/mission_control.db"

// EnvDBPath is the environment variable consulted when Open is called
// with an empty path.
const EnvDBPath = "MISSION_CONTROL_DB_PATH"

// ResolvePath returns the effective database path: the explicit path if
// non-empty, else the environment override, else DefaultDBPath.
func ResolvePath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv(EnvDBPath); env != "" {
		return env
	}
	return DefaultDBPath
}

// Open opens a SQLite database at the given path and configures it for
// concurrent use (WAL mode, foreign keys enabled). Use ":memory:" for an
// in-memory database (useful for testing). An empty path resolves via
// ResolvePath, creating the parent directory if it doesn't exist.
func Open(path string) (*sql.DB, error) {
	resolved := ResolvePath(path)

	dsn := resolved
	if resolved != ":memory:" {
		if dir := filepath.Dir(resolved); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
		dsn = resolved + "?_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	// SQLite only supports a single writer at a time.
	db.SetMaxOpenConns(1)

	return db, nil
}

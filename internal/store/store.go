package store

import "database/sql"

// Store is the notification-persistence layer: messages, aliases,
// notifications, and thread read state, all backed by a single SQLite
// connection opened with Open and migrated with Migrate.
type Store struct {
	db *sql.DB
}

// New wraps an already-open, already-migrated database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying connection, for callers (tests, the CLI) that
// need to manage its lifecycle directly.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

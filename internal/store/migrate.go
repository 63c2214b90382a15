package store

import (
	"database/sql"
	"embed"
	"fmt"
	"strings"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// backfillStatements is a fixed, forward-only, ordered list of additive
// schema changes applied on every open, independent of goose's versioned
// migrations. Each statement is idempotent in intent (ADD COLUMN / CREATE
// INDEX); failures caused by the object already existing are swallowed so
// that running an older binary's backfill against a newer database (or
// re-running it on every open) is always safe. No statement here may ever
// drop or rename a column.
var backfillStatements = []string{
	`ALTER TABLE notifications ADD COLUMN busy_reason TEXT`,
	`ALTER TABLE notifications ADD COLUMN eta_at INTEGER`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_claim ON notifications(state, retry_at, next_check_at, created_at)`,
}

// Migrate runs all pending goose migrations and then applies the
// forward-only backfill statements. It is idempotent and may be invoked
// on every process start.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	applyBackfills(db)

	return nil
}

// applyBackfills runs the additive backfill statements, silently ignoring
// errors that indicate the column or index already exists. Any other error
// is swallowed too, without logging: a backfill step failing must never abort
// startup, per the schema/migrator's fatal-vs-swallowed error contract.
func applyBackfills(db *sql.DB) {
	for _, stmt := range backfillStatements {
		if _, err := db.Exec(stmt); err != nil && !isAlreadyPresent(err) {
			// Non-fatal: a backfill failure for reasons other than
			// "already present" is still swallowed, matching the
			// documented contract that only schema creation itself
			// is fatal at open.
			continue
		}
	}
}

func isAlreadyPresent(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column name") ||
		strings.Contains(msg, "already exists") ||
		strings.Contains(msg, "index") && strings.Contains(msg, "exists")
}

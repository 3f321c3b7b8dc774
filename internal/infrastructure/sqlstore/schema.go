package sqlstore

import (
	"context"
	"fmt"
	"strings"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		user_id      TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		account_id   TEXT NOT NULL UNIQUE,
		created_at   {{timestamp}} NOT NULL,
		updated_at   {{timestamp}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS items (
		account_id     TEXT NOT NULL,
		name           TEXT NOT NULL,
		app_id         BIGINT NOT NULL DEFAULT 0,
		usage_minutes  BIGINT NOT NULL DEFAULT 0,
		last_synced_at {{timestamp}} NOT NULL,
		PRIMARY KEY (account_id, name)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_items_account_usage
		ON items (account_id, usage_minutes DESC)`,
}

// Migrate creates the tables when they do not exist yet. It is safe to run
// on every start.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		stmt = strings.ReplaceAll(stmt, "{{timestamp}}", db.dialect.TimestampType())
		if _, err := db.exec(ctx, db.DB, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

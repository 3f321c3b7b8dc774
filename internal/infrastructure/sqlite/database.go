// Package sqlite opens the embedded SQLite store used for local runs and
// tests. It uses the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"catalogsync/internal/infrastructure/sqlstore"
	"catalogsync/internal/shared/logging"
)

// Dialect implements sqlstore.Dialect for modernc.org/sqlite.
type Dialect struct{}

func (Dialect) Name() string           { return "sqlite" }
func (Dialect) Placeholder(int) string { return "?" }
func (Dialect) TimestampType() string  { return "DATETIME" }

func (Dialect) IsUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

// Open creates (if needed) and opens the database file at path. Parent
// directories are created. SQLite allows one writer, so the pool is capped
// at a single connection.
func Open(ctx context.Context, path string) (*sqlstore.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	dsn := "file:" + path + "?" + q.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logging.Info().Str("path", path).Msg("SQLite store opened")
	return sqlstore.New(db, Dialect{}), nil
}

// Package storage opens the configured database driver and brings its
// schema up to date.
package storage

import (
	"context"
	"fmt"

	"catalogsync/internal/infrastructure/postgres"
	"catalogsync/internal/infrastructure/sqlite"
	"catalogsync/internal/infrastructure/sqlstore"
	"catalogsync/internal/shared/config"
)

// Open connects using cfg.Driver and runs the migrations.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sqlstore.DB, error) {
	var (
		db  *sqlstore.DB
		err error
	)
	switch cfg.Driver {
	case "sqlite":
		db, err = sqlite.Open(ctx, cfg.Path)
	case "postgres":
		db, err = postgres.Open(ctx, cfg.ConnectionString(), postgres.Options{MaxOpenConns: cfg.MaxOpenConns})
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

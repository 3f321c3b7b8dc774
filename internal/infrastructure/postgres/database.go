package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/lib/pq"

	"catalogsync/internal/infrastructure/sqlstore"
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Dialect implements sqlstore.Dialect for lib/pq.
type Dialect struct{}

func (Dialect) Name() string             { return "postgresql" }
func (Dialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }
func (Dialect) TimestampType() string    { return "TIMESTAMPTZ" }

func (Dialect) IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

type Options struct {
	MaxOpenConns int
}

// Open connects to Postgres, configures the pool and verifies the connection.
func Open(ctx context.Context, connStr string, opts Options) (*sqlstore.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxOpen := opts.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(max(maxOpen/5, 1))
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return sqlstore.New(db, Dialect{}), nil
}

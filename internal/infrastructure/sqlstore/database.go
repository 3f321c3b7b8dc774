// Package sqlstore implements the item and link repositories on
// database/sql. Queries are written with '?' placeholders and rebound for
// the driver's Dialect, so the same code serves Postgres and SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var dbTracer = otel.Tracer("catalogsync.db")

// Dialect isolates the driver-specific parts of SQL.
type Dialect interface {
	// Name is the otel db.system value, e.g. "postgresql".
	Name() string
	// Placeholder returns the n-th (1-based) bind parameter.
	Placeholder(n int) string
	// TimestampType is the column type used for timestamps.
	TimestampType() string
	IsUniqueViolation(err error) bool
}

type DB struct {
	*sql.DB
	dialect Dialect
}

func New(db *sql.DB, dialect Dialect) *DB {
	return &DB{DB: db, dialect: dialect}
}

func (db *DB) Dialect() Dialect {
	return db.dialect
}

func (db *DB) Close() error {
	return db.DB.Close()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (db *DB) startSpan(ctx context.Context, name, query string) (context.Context, trace.Span) {
	return dbTracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", db.dialect.Name()),
		attribute.String("db.operation", extractSQLVerb(query)),
		attribute.String("db.statement", sanitizeQuery(query)),
	))
}

func (db *DB) query(ctx context.Context, q querier, query string, args ...any) (*sql.Rows, error) {
	query = db.rebind(query)
	ctx, span := db.startSpan(ctx, "db.Query", query)
	defer span.End()

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return rows, err
}

// tracedRow ends its span on the first Scan. A missing row is not recorded
// as a span error.
type tracedRow struct {
	row  *sql.Row
	span trace.Span
}

func (r *tracedRow) Scan(dest ...any) error {
	err := r.row.Scan(dest...)
	if r.span != nil {
		if err != nil && err != sql.ErrNoRows {
			r.span.RecordError(err)
			r.span.SetStatus(codes.Error, err.Error())
		}
		r.span.End()
		r.span = nil
	}
	return err
}

func (db *DB) queryRow(ctx context.Context, q querier, query string, args ...any) *tracedRow {
	query = db.rebind(query)
	ctx, span := db.startSpan(ctx, "db.QueryRow", query)
	return &tracedRow{
		row:  q.QueryRowContext(ctx, query, args...),
		span: span,
	}
}

func (db *DB) exec(ctx context.Context, q querier, query string, args ...any) (sql.Result, error) {
	query = db.rebind(query)
	ctx, span := db.startSpan(ctx, "db.Exec", query)
	defer span.End()

	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

// inTx runs fn in a transaction, committing on nil and rolling back
// otherwise.
func (db *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	ctx, span := dbTracer.Start(ctx, "db.Tx", trace.WithAttributes(
		attribute.String("db.system", db.dialect.Name()),
	))
	defer span.End()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// rebind rewrites '?' placeholders outside string literals for the dialect.
func (db *DB) rebind(query string) string {
	if db.dialect.Placeholder(1) == "?" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	inString := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case ch == '\'':
			inString = !inString
			b.WriteByte(ch)
		case ch == '?' && !inString:
			n++
			b.WriteString(db.dialect.Placeholder(n))
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

// sanitizeQuery masks quoted and numeric literals for the db.statement
// attribute. Placeholders pass through unchanged; the result is capped at
// 256 bytes.
func sanitizeQuery(q string) string {
	var b strings.Builder
	b.Grow(len(q))

	i := 0
	for i < len(q) {
		ch := q[i]

		if ch == '\'' {
			b.WriteString("'?'")
			i++
			for i < len(q) {
				if q[i] == '\'' {
					if i+1 < len(q) && q[i+1] == '\'' {
						i += 2 // escaped quote ''
						continue
					}
					i++
					break
				}
				i++
			}
			continue
		}

		if unicode.IsDigit(rune(ch)) && (i == 0 || !isIdentChar(q[i-1])) {
			b.WriteByte('?')
			for i < len(q) && (unicode.IsDigit(rune(q[i])) || q[i] == '.') {
				i++
			}
			continue
		}

		b.WriteByte(ch)
		i++
	}

	s := strings.Join(strings.Fields(b.String()), " ")
	if len(s) > 256 {
		return s[:256] + "..."
	}
	return s
}

func isIdentChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == '$'
}

// extractSQLVerb names the span's db.operation: the statement's first word,
// upper-cased.
func extractSQLVerb(q string) string {
	q = strings.TrimSpace(q)
	if idx := strings.IndexAny(q, " \n\t"); idx > 0 {
		return strings.ToUpper(q[:idx])
	}
	return strings.ToUpper(q)
}

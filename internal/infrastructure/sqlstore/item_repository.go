package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"catalogsync/internal/domain/library"
)

// upsertChunkSize bounds the rows per INSERT so large libraries stay under
// driver bind-parameter limits.
const upsertChunkSize = 200

// ItemRepository implements the library.Repository interface
type ItemRepository struct {
	db *DB
}

var _ library.Repository = (*ItemRepository)(nil)

// NewItemRepository creates a new item repository
func NewItemRepository(db *DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// UpsertItems writes the batch in a single transaction. Usage is
// overwritten, never accumulated. Repeated names collapse to the last row.
func (r *ItemRepository) UpsertItems(ctx context.Context, accountID string, items []library.UpsertItem, syncedAt time.Time) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	if accountID == "" {
		return 0, fmt.Errorf("%w: account id is required", library.ErrInvalidInput)
	}
	for _, it := range items {
		if err := it.Validate(); err != nil {
			return 0, err
		}
	}

	rows := library.CollapseDuplicates(items)
	syncedAt = syncedAt.UTC()

	err := r.db.inTx(ctx, func(tx *sql.Tx) error {
		for start := 0; start < len(rows); start += upsertChunkSize {
			chunk := rows[start:min(start+upsertChunkSize, len(rows))]
			query, args := buildUpsert(accountID, chunk, syncedAt)
			if _, err := r.db.exec(ctx, tx, query, args...); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, &library.PersistenceError{Op: "upsert items", Err: err}
	}

	return len(rows), nil
}

func buildUpsert(accountID string, chunk []library.UpsertItem, syncedAt time.Time) (string, []any) {
	var b strings.Builder
	b.WriteString(`INSERT INTO items (account_id, name, app_id, usage_minutes, last_synced_at) VALUES `)

	args := make([]any, 0, len(chunk)*5)
	for i, it := range chunk {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?, ?, ?)")
		args = append(args, accountID, it.Name, it.AppID, it.UsageMinutes, syncedAt)
	}

	b.WriteString(` ON CONFLICT (account_id, name) DO UPDATE SET
		app_id = excluded.app_id,
		usage_minutes = excluded.usage_minutes,
		last_synced_at = excluded.last_synced_at`)

	return b.String(), args
}

// ListItems returns an account's items, most-used first.
func (r *ItemRepository) ListItems(ctx context.Context, accountID string) ([]library.Item, error) {
	query := `
		SELECT account_id, name, app_id, usage_minutes, last_synced_at
		FROM items
		WHERE account_id = ?
		ORDER BY usage_minutes DESC, name ASC
	`
	items, err := r.list(ctx, query, accountID)
	if err != nil {
		return nil, &library.PersistenceError{Op: "list items", Err: err}
	}
	return items, nil
}

// TopItems returns the limit most-used items of an account.
func (r *ItemRepository) TopItems(ctx context.Context, accountID string, limit int) ([]library.Item, error) {
	if limit <= 0 {
		limit = library.DefaultTopLimit
	}
	query := `
		SELECT account_id, name, app_id, usage_minutes, last_synced_at
		FROM items
		WHERE account_id = ?
		ORDER BY usage_minutes DESC, name ASC
		LIMIT ?
	`
	items, err := r.list(ctx, query, accountID, limit)
	if err != nil {
		return nil, &library.PersistenceError{Op: "top items", Err: err}
	}
	return items, nil
}

func (r *ItemRepository) list(ctx context.Context, query string, args ...any) ([]library.Item, error) {
	rows, err := r.db.query(ctx, r.db.DB, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []library.Item{}
	for rows.Next() {
		var it library.Item
		if err := rows.Scan(&it.AccountID, &it.Name, &it.AppID, &it.UsageMinutes, &it.LastSyncedAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it.LastSyncedAt = it.LastSyncedAt.UTC()
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

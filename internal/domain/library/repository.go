package library

import (
	"context"
	"time"
)

// Repository defines the interface for item data access
// This interface is defined in the domain layer, but implemented in the infrastructure layer
type Repository interface {
	// UpsertItems writes the whole batch in one transaction: every row lands
	// or none does. An empty batch is a no-op. Returns the rows written.
	UpsertItems(ctx context.Context, accountID string, items []UpsertItem, syncedAt time.Time) (int, error)

	// ListItems returns the stored items of an account, empty when none.
	ListItems(ctx context.Context, accountID string) ([]Item, error)

	// TopItems returns the limit most-used items of an account.
	TopItems(ctx context.Context, accountID string, limit int) ([]Item, error)
}

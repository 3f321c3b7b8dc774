package catalog

import (
	"context"
)

// ClientInterface defines the methods required from the catalog API client
type ClientInterface interface {
	FetchLibrary(ctx context.Context, accountID string) ([]Item, error)
	FetchProfile(ctx context.Context, accountID string) (*Profile, error)
}

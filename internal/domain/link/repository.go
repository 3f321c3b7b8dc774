package link

import "context"

// Repository defines the interface for user/account link data access
type Repository interface {
	// Link creates or replaces the link of params.UserID. Returns
	// ErrAccountAlreadyLinked when the account belongs to another user.
	Link(ctx context.Context, params LinkParams) (*LinkedUser, error)

	// GetAccountForUser returns ErrNotLinked when the user has no link.
	GetAccountForUser(ctx context.Context, userID string) (string, error)

	IsAccountLinked(ctx context.Context, accountID string) (bool, error)

	// ListAllAccounts returns every linked account in a stable order.
	ListAllAccounts(ctx context.Context) ([]string, error)
}

package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"catalogsync/internal/domain/library"
	"catalogsync/internal/domain/link"
)

// LinkRepository implements the link.Repository interface
type LinkRepository struct {
	db  *DB
	now func() time.Time
}

var _ link.Repository = (*LinkRepository)(nil)

// NewLinkRepository creates a new link repository
func NewLinkRepository(db *DB) *LinkRepository {
	return &LinkRepository{db: db, now: time.Now}
}

// Link creates the user's link or replaces it. The UNIQUE constraint on
// account_id rejects an account already held by someone else.
func (r *LinkRepository) Link(ctx context.Context, params link.LinkParams) (*link.LinkedUser, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO users (user_id, display_name, account_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			display_name = excluded.display_name,
			account_id = excluded.account_id,
			updated_at = excluded.updated_at
	`

	now := r.now().UTC()
	var u *link.LinkedUser
	err := r.db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := r.db.exec(ctx, tx, query, params.UserID, params.DisplayName, params.AccountID, now, now); err != nil {
			return err
		}
		var err error
		u, err = r.getUser(ctx, tx, params.UserID)
		return err
	})

	if err != nil {
		if r.db.dialect.IsUniqueViolation(err) {
			return nil, link.ErrAccountAlreadyLinked
		}
		return nil, &library.PersistenceError{Op: "link account", Err: err}
	}
	return u, nil
}

func (r *LinkRepository) GetAccountForUser(ctx context.Context, userID string) (string, error) {
	var accountID string
	err := r.db.queryRow(ctx, r.db.DB, `SELECT account_id FROM users WHERE user_id = ?`, userID).Scan(&accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", link.ErrNotLinked
	}
	if err != nil {
		return "", &library.PersistenceError{Op: "get account for user", Err: err}
	}
	return accountID, nil
}

func (r *LinkRepository) IsAccountLinked(ctx context.Context, accountID string) (bool, error) {
	var exists bool
	err := r.db.queryRow(ctx, r.db.DB,
		`SELECT EXISTS (SELECT 1 FROM users WHERE account_id = ?)`, accountID,
	).Scan(&exists)
	if err != nil {
		return false, &library.PersistenceError{Op: "check account linked", Err: err}
	}
	return exists, nil
}

// ListAllAccounts returns linked accounts oldest link first.
func (r *LinkRepository) ListAllAccounts(ctx context.Context) ([]string, error) {
	rows, err := r.db.query(ctx, r.db.DB, `SELECT account_id FROM users ORDER BY created_at ASC, account_id ASC`)
	if err != nil {
		return nil, &library.PersistenceError{Op: "list accounts", Err: err}
	}
	defer rows.Close()

	accounts := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &library.PersistenceError{Op: "list accounts", Err: fmt.Errorf("scan: %w", err)}
		}
		accounts = append(accounts, id)
	}
	if err := rows.Err(); err != nil {
		return nil, &library.PersistenceError{Op: "list accounts", Err: err}
	}
	return accounts, nil
}

// GetUser returns the full link row of a user.
func (r *LinkRepository) GetUser(ctx context.Context, userID string) (*link.LinkedUser, error) {
	u, err := r.getUser(ctx, r.db.DB, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, link.ErrNotLinked
	}
	if err != nil {
		return nil, &library.PersistenceError{Op: "get user", Err: err}
	}
	return u, nil
}

func (r *LinkRepository) getUser(ctx context.Context, q querier, userID string) (*link.LinkedUser, error) {
	var u link.LinkedUser
	err := r.db.queryRow(ctx, q, `
		SELECT user_id, display_name, account_id, created_at, updated_at
		FROM users WHERE user_id = ?`, userID,
	).Scan(&u.UserID, &u.DisplayName, &u.AccountID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

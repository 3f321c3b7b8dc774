package link

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Domain errors
var (
	ErrNotLinked            = errors.New("user has no linked account")
	ErrAccountAlreadyLinked = errors.New("account is already linked to another user")
	ErrInvalidInput         = errors.New("invalid input")
)

// LinkedUser maps a local user onto exactly one upstream account.
type LinkedUser struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	AccountID   string    `json:"accountId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type LinkParams struct {
	UserID      string
	DisplayName string
	AccountID   string
}

// Validate trims and checks the params in place.
func (p *LinkParams) Validate() error {
	p.UserID = strings.TrimSpace(p.UserID)
	p.AccountID = strings.TrimSpace(p.AccountID)
	p.DisplayName = strings.TrimSpace(p.DisplayName)

	if p.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if p.AccountID == "" {
		return fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}
	return nil
}

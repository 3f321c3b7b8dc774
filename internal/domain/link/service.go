package link

import (
	"context"
	"errors"
	"fmt"

	"catalogsync/internal/infrastructure/catalog"
	"catalogsync/internal/shared/logging"
)

// ErrUnknownAccount is returned when the upstream has no profile for the
// account being linked.
var ErrUnknownAccount = errors.New("upstream account does not exist")

// ProfileFetcher is the subset of the catalog client used to validate links.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, accountID string) (*catalog.Profile, error)
}

// Service contains the business logic for linking users to accounts
type Service struct {
	repo     Repository
	profiles ProfileFetcher
}

// NewService creates a new link service. profiles may be nil, in which case
// accounts are linked without checking the upstream.
func NewService(repo Repository, profiles ProfileFetcher) *Service {
	return &Service{repo: repo, profiles: profiles}
}

// Link validates and stores a user/account link. An account held by another
// user is refused before the upstream is contacted. When DisplayName is
// empty the upstream persona name is used.
func (s *Service) Link(ctx context.Context, params LinkParams) (*LinkedUser, *catalog.Profile, error) {
	if err := params.Validate(); err != nil {
		return nil, nil, err
	}

	current, err := s.repo.GetAccountForUser(ctx, params.UserID)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotLinked):
		current = ""
	default:
		return nil, nil, err
	}

	if current != params.AccountID {
		linked, err := s.repo.IsAccountLinked(ctx, params.AccountID)
		if err != nil {
			return nil, nil, err
		}
		if linked {
			return nil, nil, ErrAccountAlreadyLinked
		}
	}

	var profile *catalog.Profile
	if s.profiles != nil {
		profile, err = s.profiles.FetchProfile(ctx, params.AccountID)
		if errors.Is(err, catalog.ErrProfileNotFound) {
			return nil, nil, fmt.Errorf("%w: %s", ErrUnknownAccount, params.AccountID)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to fetch profile: %w", err)
		}
		if params.DisplayName == "" {
			params.DisplayName = profile.DisplayName
		}
	}

	user, err := s.repo.Link(ctx, params)
	if err != nil {
		return nil, nil, err
	}

	logging.Info().
		Str("user_id", user.UserID).
		Str("account_id", user.AccountID).
		Bool("relink", current != "" && current != user.AccountID).
		Msg("account linked")

	return user, profile, nil
}

// AccountForUser resolves the linked account of a user.
func (s *Service) AccountForUser(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.repo.GetAccountForUser(ctx, userID)
}

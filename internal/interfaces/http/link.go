package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"catalogsync/internal/domain/catalogsync"
	"catalogsync/internal/domain/link"
	"catalogsync/internal/infrastructure/catalog"
	"catalogsync/internal/shared/logging"
)

// Linker is the link service surface the handlers use.
type Linker interface {
	Link(ctx context.Context, params link.LinkParams) (*link.LinkedUser, *catalog.Profile, error)
	AccountForUser(ctx context.Context, userID string) (string, error)
}

// LinkHandler maps local users onto upstream accounts.
type LinkHandler struct {
	links   Linker
	catalog *CatalogHandler
}

func NewLinkHandler(links Linker, catalog *CatalogHandler) *LinkHandler {
	return &LinkHandler{links: links, catalog: catalog}
}

// LinkRequest is the body of PUT /api/users/{userID}/link.
type LinkRequest struct {
	AccountID   string `json:"accountId" validate:"required,max=64"`
	DisplayName string `json:"displayName" validate:"max=100"`
}

// LinkResponse carries the stored link and the initial sync outcome. A
// failed initial sync does not undo the link.
type LinkResponse struct {
	User    *link.LinkedUser `json:"user"`
	Profile *catalog.Profile `json:"profile,omitempty"`
	Sync    SyncResponse     `json:"sync"`
}

// HandleLink links the user to an account and syncs that account once.
func (h *LinkHandler) HandleLink(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req LinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid request body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", validationMessage(err))
		return
	}

	user, profile, err := h.links.Link(r.Context(), link.LinkParams{
		UserID:      userID,
		DisplayName: req.DisplayName,
		AccountID:   req.AccountID,
	})
	if err != nil {
		status, code, msg := linkErrorStatus(err)
		if status >= http.StatusInternalServerError {
			logging.Error().Err(err).Str("user_id", userID).Str("account_id", req.AccountID).Msg("link failed")
		}
		respondError(w, status, code, msg)
		return
	}

	res := h.catalog.syncer.SyncWithTrigger(r.Context(), user.AccountID, catalogsync.TriggerLink)
	if res.Err != nil {
		logging.Warn().Err(res.Err).Str("user_id", user.UserID).Str("account_id", user.AccountID).Msg("initial sync after link failed")
	}

	respondJSON(w, http.StatusOK, LinkResponse{User: user, Profile: profile, Sync: toSyncResponse(res)})
}

// HandleUserItems serves the items of the user's linked account.
func (h *LinkHandler) HandleUserItems(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	accountID, err := h.links.AccountForUser(r.Context(), userID)
	if err != nil {
		status, code, msg := linkErrorStatus(err)
		respondError(w, status, code, msg)
		return
	}

	h.catalog.serveItems(w, r, accountID)
}

func linkErrorStatus(err error) (int, string, string) {
	var (
		unexpected *catalog.UnexpectedStatusError
		transient  *catalog.TransientUpstreamError
	)
	switch {
	case errors.Is(err, link.ErrInvalidInput):
		return http.StatusBadRequest, "VALIDATION_ERROR", err.Error()
	case errors.Is(err, link.ErrNotLinked):
		return http.StatusNotFound, "NOT_LINKED", "No account is linked to this user"
	case errors.Is(err, link.ErrAccountAlreadyLinked):
		return http.StatusConflict, "ACCOUNT_ALREADY_LINKED", "Account is already linked to another user"
	case errors.Is(err, link.ErrUnknownAccount):
		return http.StatusNotFound, "UNKNOWN_ACCOUNT", "Account does not exist upstream"
	case errors.As(err, &unexpected), errors.As(err, &transient):
		return http.StatusBadGateway, "UPSTREAM_ERROR", "Could not verify account upstream"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to process request"
	}
}

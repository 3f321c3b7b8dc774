package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"catalogsync/internal/domain/catalogsync"
	"catalogsync/internal/domain/library"
	"catalogsync/internal/infrastructure/catalog"
	"catalogsync/internal/shared/logging"
)

// Syncer is the orchestrator surface the handlers use.
type Syncer interface {
	SyncWithTrigger(ctx context.Context, accountID string, trigger catalogsync.Trigger) *catalogsync.SyncResult
	Refresh(ctx context.Context, accountID string) ([]library.Item, error)
	Items(ctx context.Context, accountID string) ([]library.Item, error)
	TopItems(ctx context.Context, accountID string, limit int) ([]library.Item, error)
}

// BulkTrigger queues a bulk run outside the daily schedule.
type BulkTrigger interface {
	TriggerNow() bool
}

// CatalogHandler serves per-account sync and item reads.
type CatalogHandler struct {
	syncer Syncer
	bulk   BulkTrigger
}

// NewCatalogHandler creates the handler. bulk may be nil when the scheduler
// is disabled.
func NewCatalogHandler(syncer Syncer, bulk BulkTrigger) *CatalogHandler {
	return &CatalogHandler{syncer: syncer, bulk: bulk}
}

// SyncResponse reports one account's sync.
type SyncResponse struct {
	AccountID    string         `json:"accountId"`
	Trigger      string         `json:"trigger"`
	ItemsFetched int            `json:"itemsFetched"`
	ItemsWritten int            `json:"itemsWritten"`
	DurationMs   int64          `json:"durationMs"`
	Items        []library.Item `json:"items,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// ItemsResponse lists stored items of one account, most-used first.
type ItemsResponse struct {
	AccountID string         `json:"accountId"`
	Count     int            `json:"count"`
	Items     []library.Item `json:"items"`
}

func toSyncResponse(res *catalogsync.SyncResult) SyncResponse {
	out := SyncResponse{
		AccountID:    res.AccountID,
		Trigger:      string(res.Trigger),
		ItemsFetched: res.ItemsFetched,
		ItemsWritten: res.ItemsWritten,
		DurationMs:   res.Duration().Milliseconds(),
		Items:        res.Items,
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

// HandleSync runs an on-demand sync of one account and waits for it.
func (h *CatalogHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	if accountID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_ACCOUNT", "Account ID is required")
		return
	}

	res := h.syncer.SyncWithTrigger(r.Context(), accountID, catalogsync.TriggerOnDemand)
	if res.Err != nil {
		status, code := syncErrorStatus(res.Err)
		respondJSON(w, status, struct {
			ErrorResponse
			Sync SyncResponse `json:"sync"`
		}{ErrorResponse{Code: code, Message: "Sync failed"}, toSyncResponse(res)})
		return
	}

	respondJSON(w, http.StatusOK, toSyncResponse(res))
}

// HandleItems returns the stored items of an account. ?refresh=true syncs
// first unless the freshness window still holds; ?top=N limits the list.
func (h *CatalogHandler) HandleItems(w http.ResponseWriter, r *http.Request) {
	h.serveItems(w, r, chi.URLParam(r, "accountID"))
}

func (h *CatalogHandler) serveItems(w http.ResponseWriter, r *http.Request, accountID string) {
	if accountID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_ACCOUNT", "Account ID is required")
		return
	}
	top, ok := intQuery(r, "top", 0)
	if !ok {
		respondError(w, http.StatusBadRequest, "INVALID_TOP", "top must be a positive integer")
		return
	}

	var (
		items []library.Item
		err   error
	)
	switch {
	case boolQuery(r, "refresh"):
		items, err = h.syncer.Refresh(r.Context(), accountID)
		if err == nil && top > 0 {
			items = library.Top(items, top)
		}
	case top > 0:
		items, err = h.syncer.TopItems(r.Context(), accountID, top)
	default:
		items, err = h.syncer.Items(r.Context(), accountID)
	}
	if err != nil {
		status, code := syncErrorStatus(err)
		logging.Warn().Err(err).Str("account_id", accountID).Msg("item read failed")
		respondError(w, status, code, "Failed to load items")
		return
	}
	if items == nil {
		items = []library.Item{}
	}

	respondJSON(w, http.StatusOK, ItemsResponse{AccountID: accountID, Count: len(items), Items: items})
}

// HandleBulkSync queues a bulk run of every linked account.
func (h *CatalogHandler) HandleBulkSync(w http.ResponseWriter, r *http.Request) {
	if h.bulk == nil {
		respondError(w, http.StatusServiceUnavailable, "SCHEDULER_DISABLED", "Bulk sync is not available")
		return
	}
	queued := h.bulk.TriggerNow()
	respondJSON(w, http.StatusAccepted, map[string]any{
		"queued":      queued,
		"requestedAt": time.Now().UTC(),
	})
}

// syncErrorStatus maps orchestrator and store errors onto HTTP status codes.
func syncErrorStatus(err error) (int, string) {
	var (
		se        *catalogsync.SyncError
		permanent *catalog.PermanentUpstreamError
		exhausted *catalog.ExhaustedRetriesError
		perr      *library.PersistenceError
	)
	switch {
	case errors.As(err, &permanent):
		return http.StatusBadGateway, "UPSTREAM_REJECTED"
	case errors.As(err, &exhausted):
		return http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE"
	case errors.As(err, &se) && se.Kind == catalogsync.KindCancelled,
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "CANCELLED"
	case errors.As(err, &perr):
		return http.StatusInternalServerError, "STORE_ERROR"
	case errors.As(err, &se) && se.Kind == catalogsync.KindFetch:
		return http.StatusBadGateway, "UPSTREAM_ERROR"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

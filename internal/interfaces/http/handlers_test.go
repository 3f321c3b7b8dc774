package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalogsync/internal/domain/catalogsync"
	"catalogsync/internal/domain/library"
	"catalogsync/internal/domain/link"
	"catalogsync/internal/infrastructure/catalog"
)

// MockSyncer implements Syncer for testing
type MockSyncer struct {
	SyncWithTriggerFunc func(ctx context.Context, accountID string, trigger catalogsync.Trigger) *catalogsync.SyncResult
	RefreshFunc         func(ctx context.Context, accountID string) ([]library.Item, error)
	ItemsFunc           func(ctx context.Context, accountID string) ([]library.Item, error)
	TopItemsFunc        func(ctx context.Context, accountID string, limit int) ([]library.Item, error)
}

func (m *MockSyncer) SyncWithTrigger(ctx context.Context, accountID string, trigger catalogsync.Trigger) *catalogsync.SyncResult {
	if m.SyncWithTriggerFunc != nil {
		return m.SyncWithTriggerFunc(ctx, accountID, trigger)
	}
	return &catalogsync.SyncResult{AccountID: accountID, Trigger: trigger}
}

func (m *MockSyncer) Refresh(ctx context.Context, accountID string) ([]library.Item, error) {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, accountID)
	}
	return nil, nil
}

func (m *MockSyncer) Items(ctx context.Context, accountID string) ([]library.Item, error) {
	if m.ItemsFunc != nil {
		return m.ItemsFunc(ctx, accountID)
	}
	return nil, nil
}

func (m *MockSyncer) TopItems(ctx context.Context, accountID string, limit int) ([]library.Item, error) {
	if m.TopItemsFunc != nil {
		return m.TopItemsFunc(ctx, accountID, limit)
	}
	return nil, nil
}

// MockLinker implements Linker for testing
type MockLinker struct {
	LinkFunc           func(ctx context.Context, params link.LinkParams) (*link.LinkedUser, *catalog.Profile, error)
	AccountForUserFunc func(ctx context.Context, userID string) (string, error)
}

func (m *MockLinker) Link(ctx context.Context, params link.LinkParams) (*link.LinkedUser, *catalog.Profile, error) {
	if m.LinkFunc != nil {
		return m.LinkFunc(ctx, params)
	}
	return &link.LinkedUser{UserID: params.UserID, AccountID: params.AccountID}, nil, nil
}

func (m *MockLinker) AccountForUser(ctx context.Context, userID string) (string, error) {
	if m.AccountForUserFunc != nil {
		return m.AccountForUserFunc(ctx, userID)
	}
	return "", link.ErrNotLinked
}

type mockTrigger struct{ queued bool }

func (m *mockTrigger) TriggerNow() bool { return m.queued }

func newTestRouter(syncer Syncer, linker Linker, bulk BulkTrigger) http.Handler {
	catalogHandler := NewCatalogHandler(syncer, bulk)
	r := chi.NewRouter()
	MountAPI(r, catalogHandler, NewLinkHandler(linker, catalogHandler))
	return r
}

func sampleItems() []library.Item {
	return []library.Item{
		{AccountID: "acct-1", Name: "Dota 2", AppID: 570, UsageMinutes: 1200},
		{AccountID: "acct-1", Name: "Portal", AppID: 400, UsageMinutes: 30},
	}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandleSync(t *testing.T) {
	tests := []struct {
		name           string
		result         func(accountID string) *catalogsync.SyncResult
		expectedStatus int
		expectedCode   string
	}{
		{
			name: "Success",
			result: func(id string) *catalogsync.SyncResult {
				return &catalogsync.SyncResult{AccountID: id, ItemsFetched: 2, ItemsWritten: 2, Items: sampleItems()}
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "Permanent Upstream Error",
			result: func(id string) *catalogsync.SyncResult {
				return &catalogsync.SyncResult{AccountID: id, Err: &catalogsync.SyncError{
					AccountID: id, Kind: catalogsync.KindFetch, Err: &catalog.PermanentUpstreamError{StatusCode: 403},
				}}
			},
			expectedStatus: http.StatusBadGateway,
			expectedCode:   "UPSTREAM_REJECTED",
		},
		{
			name: "Retries Exhausted",
			result: func(id string) *catalogsync.SyncResult {
				return &catalogsync.SyncResult{AccountID: id, Err: &catalogsync.SyncError{
					AccountID: id, Kind: catalogsync.KindFetch, Err: &catalog.ExhaustedRetriesError{Attempts: 5, LastStatus: 500},
				}}
			},
			expectedStatus: http.StatusServiceUnavailable,
			expectedCode:   "UPSTREAM_UNAVAILABLE",
		},
		{
			name: "Persistence Error",
			result: func(id string) *catalogsync.SyncResult {
				return &catalogsync.SyncResult{AccountID: id, Err: &catalogsync.SyncError{
					AccountID: id, Kind: catalogsync.KindPersistence, Err: &library.PersistenceError{Op: "upsert items", Err: errors.New("disk")},
				}}
			},
			expectedStatus: http.StatusInternalServerError,
			expectedCode:   "STORE_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotTrigger catalogsync.Trigger
			syncer := &MockSyncer{
				SyncWithTriggerFunc: func(ctx context.Context, accountID string, trigger catalogsync.Trigger) *catalogsync.SyncResult {
					gotTrigger = trigger
					return tt.result(accountID)
				},
			}

			rr := do(t, newTestRouter(syncer, &MockLinker{}, nil), http.MethodPost, "/api/accounts/acct-1/sync", "")

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.Equal(t, catalogsync.TriggerOnDemand, gotTrigger)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

			if tt.expectedCode == "" {
				var resp SyncResponse
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
				assert.Equal(t, "acct-1", resp.AccountID)
				assert.Equal(t, 2, resp.ItemsWritten)
				assert.Len(t, resp.Items, 2)
				return
			}
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, tt.expectedCode, resp.Code)
		})
	}
}

func TestHandleItems(t *testing.T) {
	var called string
	syncer := &MockSyncer{
		ItemsFunc: func(ctx context.Context, accountID string) ([]library.Item, error) {
			called = "items"
			return sampleItems(), nil
		},
		TopItemsFunc: func(ctx context.Context, accountID string, limit int) ([]library.Item, error) {
			called = "top"
			return library.Top(sampleItems(), limit), nil
		},
		RefreshFunc: func(ctx context.Context, accountID string) ([]library.Item, error) {
			called = "refresh"
			return sampleItems(), nil
		},
	}
	router := newTestRouter(syncer, &MockLinker{}, nil)

	tests := []struct {
		name          string
		path          string
		expectedCall  string
		expectedCount int
	}{
		{name: "Stored", path: "/api/accounts/acct-1/items", expectedCall: "items", expectedCount: 2},
		{name: "Top", path: "/api/accounts/acct-1/items?top=1", expectedCall: "top", expectedCount: 1},
		{name: "Refresh", path: "/api/accounts/acct-1/items?refresh=true", expectedCall: "refresh", expectedCount: 2},
		{name: "Refresh Top", path: "/api/accounts/acct-1/items?refresh=1&top=1", expectedCall: "refresh", expectedCount: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called = ""
			rr := do(t, router, http.MethodGet, tt.path, "")

			require.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, tt.expectedCall, called)

			var resp ItemsResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, tt.expectedCount, resp.Count)
			assert.Equal(t, "Dota 2", resp.Items[0].Name)
		})
	}
}

func TestHandleItems_InvalidTop(t *testing.T) {
	router := newTestRouter(&MockSyncer{}, &MockLinker{}, nil)

	for _, q := range []string{"top=0", "top=-3", "top=abc"} {
		rr := do(t, router, http.MethodGet, "/api/accounts/acct-1/items?"+q, "")
		assert.Equal(t, http.StatusBadRequest, rr.Code, q)
	}
}

func TestHandleItems_EmptyIsArray(t *testing.T) {
	rr := do(t, newTestRouter(&MockSyncer{}, &MockLinker{}, nil), http.MethodGet, "/api/accounts/acct-1/items", "")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"items":[]`)
}

func TestHandleLink(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		linkErr        error
		syncErr        error
		expectedStatus int
		expectedCode   string
	}{
		{name: "Success", body: `{"accountId":"7656","displayName":"gabe"}`, expectedStatus: http.StatusOK},
		{name: "Initial Sync Fails", body: `{"accountId":"7656"}`, syncErr: errors.New("upstream down"), expectedStatus: http.StatusOK},
		{name: "Invalid JSON", body: `{`, expectedStatus: http.StatusBadRequest, expectedCode: "INVALID_BODY"},
		{name: "Missing Account", body: `{"displayName":"gabe"}`, expectedStatus: http.StatusBadRequest, expectedCode: "VALIDATION_ERROR"},
		{name: "Already Linked", body: `{"accountId":"7656"}`, linkErr: link.ErrAccountAlreadyLinked, expectedStatus: http.StatusConflict, expectedCode: "ACCOUNT_ALREADY_LINKED"},
		{name: "Unknown Account", body: `{"accountId":"7656"}`, linkErr: link.ErrUnknownAccount, expectedStatus: http.StatusNotFound, expectedCode: "UNKNOWN_ACCOUNT"},
		{name: "Upstream Error", body: `{"accountId":"7656"}`, linkErr: &catalog.UnexpectedStatusError{StatusCode: 503}, expectedStatus: http.StatusBadGateway, expectedCode: "UPSTREAM_ERROR"},
		{name: "Store Error", body: `{"accountId":"7656"}`, linkErr: &library.PersistenceError{Op: "link", Err: errors.New("db")}, expectedStatus: http.StatusInternalServerError, expectedCode: "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var synced []catalogsync.Trigger
			syncer := &MockSyncer{
				SyncWithTriggerFunc: func(ctx context.Context, accountID string, trigger catalogsync.Trigger) *catalogsync.SyncResult {
					synced = append(synced, trigger)
					res := &catalogsync.SyncResult{AccountID: accountID, Trigger: trigger, ItemsWritten: 2}
					if tt.syncErr != nil {
						res.ItemsWritten = 0
						res.Err = &catalogsync.SyncError{AccountID: accountID, Kind: catalogsync.KindFetch, Err: tt.syncErr}
					}
					return res
				},
			}
			linker := &MockLinker{
				LinkFunc: func(ctx context.Context, params link.LinkParams) (*link.LinkedUser, *catalog.Profile, error) {
					if tt.linkErr != nil {
						return nil, nil, tt.linkErr
					}
					assert.Equal(t, "user-1", params.UserID)
					return &link.LinkedUser{UserID: params.UserID, AccountID: params.AccountID, DisplayName: params.DisplayName, CreatedAt: time.Now()}, nil, nil
				},
			}

			rr := do(t, newTestRouter(syncer, linker, nil), http.MethodPut, "/api/users/user-1/link", tt.body)
			require.Equal(t, tt.expectedStatus, rr.Code, rr.Body.String())

			if tt.expectedCode != "" {
				var resp ErrorResponse
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
				assert.Equal(t, tt.expectedCode, resp.Code)
				assert.Empty(t, synced, "no sync without a link")
				return
			}

			var resp LinkResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, "7656", resp.User.AccountID)
			assert.Equal(t, []catalogsync.Trigger{catalogsync.TriggerLink}, synced)
			if tt.syncErr != nil {
				assert.NotEmpty(t, resp.Sync.Error)
			} else {
				assert.Equal(t, 2, resp.Sync.ItemsWritten)
			}
		})
	}
}

func TestHandleUserItems(t *testing.T) {
	syncer := &MockSyncer{
		TopItemsFunc: func(ctx context.Context, accountID string, limit int) ([]library.Item, error) {
			assert.Equal(t, "acct-1", accountID)
			return library.Top(sampleItems(), limit), nil
		},
	}
	linker := &MockLinker{
		AccountForUserFunc: func(ctx context.Context, userID string) (string, error) {
			if userID == "user-1" {
				return "acct-1", nil
			}
			return "", link.ErrNotLinked
		},
	}
	router := newTestRouter(syncer, linker, nil)

	rr := do(t, router, http.MethodGet, "/api/users/user-1/items?top=5", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var resp ItemsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "acct-1", resp.AccountID)
	assert.Equal(t, 2, resp.Count)

	rr = do(t, router, http.MethodGet, "/api/users/ghost/items", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "NOT_LINKED")
}

func TestHandleBulkSync(t *testing.T) {
	rr := do(t, newTestRouter(&MockSyncer{}, &MockLinker{}, nil), http.MethodPost, "/api/sync", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = do(t, newTestRouter(&MockSyncer{}, &MockLinker{}, &mockTrigger{queued: true}), http.MethodPost, "/api/sync", "")
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Contains(t, rr.Body.String(), `"queued":true`)
}

type mockPinger struct{ err error }

func (m mockPinger) PingContext(ctx context.Context) error { return m.err }

func TestHandleHealth(t *testing.T) {
	rr := httptest.NewRecorder()
	NewHealthHandler(mockPinger{}).HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	NewHealthHandler(mockPinger{err: errors.New("down")}).HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

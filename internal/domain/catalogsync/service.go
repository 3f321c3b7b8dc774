package catalogsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"catalogsync/internal/domain/library"
	"catalogsync/internal/infrastructure/catalog"
	"catalogsync/internal/shared/cache"
	"catalogsync/internal/shared/logging"
	"catalogsync/internal/shared/metrics"
	"catalogsync/internal/shared/workerpool"
)

// LibraryFetcher is the subset of the catalog client the sync needs.
type LibraryFetcher interface {
	FetchLibrary(ctx context.Context, accountID string) ([]catalog.Item, error)
}

// AccountLister enumerates every linked account.
type AccountLister interface {
	ListAllAccounts(ctx context.Context) ([]string, error)
}

const defaultRefreshTimeout = 5 * time.Minute

type Config struct {
	// Workers bounds concurrent accounts in a bulk run. 1 keeps the run
	// sequential in enumeration order.
	Workers    int
	JobDelay   time.Duration
	JobTimeout time.Duration
	// RefreshTimeout bounds a shared on-demand refresh. It runs detached
	// from the caller that started it. Defaults to five minutes.
	RefreshTimeout time.Duration
}

// Service runs account syncs. One account is never synced by two callers at
// once, whether they come from the scheduler or the request path.
type Service struct {
	fetcher  LibraryFetcher
	items    library.Repository
	accounts AccountLister
	fresh    *cache.Freshness[[]library.Item]
	pool     *workerpool.Pool[*SyncResult]

	locks          *keyedMutex
	flight         singleflight.Group
	refreshTimeout time.Duration
	now            func() time.Time
}

// NewService wires the orchestrator. fresh may be nil to disable the
// freshness cache.
func NewService(
	fetcher LibraryFetcher,
	items library.Repository,
	accounts AccountLister,
	fresh *cache.Freshness[[]library.Item],
	cfg Config,
) *Service {
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = defaultRefreshTimeout
	}
	return &Service{
		fetcher:  fetcher,
		items:    items,
		accounts: accounts,
		fresh:    fresh,
		pool: workerpool.New[*SyncResult](workerpool.Config{
			WorkerCount: cfg.Workers,
			JobDelay:    cfg.JobDelay,
			JobTimeout:  cfg.JobTimeout,
		}),
		locks:          newKeyedMutex(),
		refreshTimeout: cfg.RefreshTimeout,
		now:            time.Now,
	}
}

// SyncOne fetches the account's library and stores it. The returned result
// carries a *SyncError on failure; it never panics on upstream or store
// errors.
func (s *Service) SyncOne(ctx context.Context, accountID string) *SyncResult {
	return s.sync(ctx, accountID, TriggerOnDemand)
}

// SyncWithTrigger is SyncOne with an explicit trigger label.
func (s *Service) SyncWithTrigger(ctx context.Context, accountID string, trigger Trigger) *SyncResult {
	return s.sync(ctx, accountID, trigger)
}

func (s *Service) sync(ctx context.Context, accountID string, trigger Trigger) *SyncResult {
	log := logging.Component("catalogsync")

	unlock := s.locks.Lock(accountID)
	defer unlock()

	result := &SyncResult{AccountID: accountID, Trigger: trigger, StartedAt: s.now()}
	defer func() {
		result.FinishedAt = s.now()
		outcome := "success"
		if result.Err != nil {
			var se *SyncError
			if errors.As(result.Err, &se) {
				outcome = string(se.Kind) + "_failed"
			}
		}
		metrics.SyncTotal.WithLabelValues(string(trigger), outcome).Inc()
		metrics.SyncDuration.WithLabelValues(string(trigger)).Observe(result.Duration().Seconds())
	}()

	fetched, err := s.fetcher.FetchLibrary(ctx, accountID)
	if err != nil {
		result.Err = &SyncError{AccountID: accountID, Kind: KindFetch, Err: err}
		log.Error().Err(err).
			Str("account_id", accountID).
			Str("trigger", string(trigger)).
			Bool("permanent", catalog.IsPermanent(err)).
			Msg("library fetch failed")
		return result
	}
	result.ItemsFetched = len(fetched)

	batch := make([]library.UpsertItem, 0, len(fetched))
	for _, it := range fetched {
		if strings.TrimSpace(it.Name) == "" {
			log.Debug().Str("account_id", accountID).Int64("app_id", it.AppID).Msg("skipping item without a name")
			continue
		}
		batch = append(batch, library.UpsertItem{Name: it.Name, AppID: it.AppID, UsageMinutes: it.UsageMinutes})
	}
	batch = library.CollapseDuplicates(batch)

	syncedAt := s.now().UTC()
	written, err := s.items.UpsertItems(ctx, accountID, batch, syncedAt)
	if err != nil {
		result.Err = &SyncError{AccountID: accountID, Kind: KindPersistence, Err: err}
		log.Error().Err(err).
			Str("account_id", accountID).
			Str("trigger", string(trigger)).
			Int("items", len(batch)).
			Msg("library upsert failed")
		return result
	}
	result.ItemsWritten = written
	metrics.ItemsUpserted.Add(float64(written))

	result.Items = make([]library.Item, 0, len(batch))
	for _, it := range batch {
		result.Items = append(result.Items, library.Item{
			AccountID:    accountID,
			Name:         it.Name,
			AppID:        it.AppID,
			UsageMinutes: it.UsageMinutes,
			LastSyncedAt: syncedAt,
		})
	}
	library.SortByUsage(result.Items)

	if s.fresh != nil {
		s.fresh.Mark(accountID, result.Items)
	}

	log.Info().
		Str("account_id", accountID).
		Str("trigger", string(trigger)).
		Int("fetched", result.ItemsFetched).
		Int("written", written).
		Msg("account synced")

	return result
}

// Refresh returns the account's items, syncing only when the freshness
// window has lapsed. Concurrent refreshes of one account share a single
// upstream call. The shared call does not depend on any one caller staying
// connected; a caller whose ctx ends stops waiting without cancelling it.
func (s *Service) Refresh(ctx context.Context, accountID string) ([]library.Item, error) {
	if s.fresh != nil {
		if items, ok := s.fresh.Get(accountID); ok {
			return items, nil
		}
	}

	ch := s.flight.DoChan(accountID, func() (any, error) {
		// A sync that finished while we waited for the flight counts.
		if s.fresh != nil {
			if items, ok := s.fresh.Get(accountID); ok {
				return items, nil
			}
		}
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.refreshTimeout)
		defer cancel()

		res := s.sync(sctx, accountID, TriggerOnDemand)
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Items, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.([]library.Item), nil
	}
}

// Items reads the stored items of an account without contacting the
// upstream.
func (s *Service) Items(ctx context.Context, accountID string) ([]library.Item, error) {
	return s.items.ListItems(ctx, accountID)
}

// TopItems reads the limit most-used stored items of an account.
func (s *Service) TopItems(ctx context.Context, accountID string, limit int) ([]library.Item, error) {
	return s.items.TopItems(ctx, accountID, limit)
}

// BulkSync attempts a sync of every linked account. Only a failure to
// enumerate accounts is returned as an error; per-account failures are in
// the result.
func (s *Service) BulkSync(ctx context.Context) (*BulkResult, error) {
	runID := uuid.NewString()
	log := logging.Component("catalogsync").With().Str("run_id", runID).Logger()

	run := &BulkResult{RunID: runID, StartedAt: s.now()}

	accounts, err := s.accounts.ListAllAccounts(ctx)
	if err != nil {
		metrics.BulkRuns.WithLabelValues("aborted").Inc()
		log.Error().Err(err).Msg("bulk sync aborted: cannot list accounts")
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	accounts = dedupe(accounts)

	log.Info().Int("accounts", len(accounts)).Msg("bulk sync started")

	jobs := make([]workerpool.Job[*SyncResult], len(accounts))
	for i, id := range accounts {
		jobs[i] = &syncJob{accountID: id, service: s}
	}

	for i, r := range s.pool.Run(ctx, jobs) {
		res := r.Value
		if res == nil {
			// Never started, or the job panicked before producing a result.
			kind := KindCancelled
			if ctx.Err() == nil {
				kind = KindFetch
			}
			res = &SyncResult{
				AccountID: accounts[i],
				Trigger:   TriggerScheduled,
				Err:       &SyncError{AccountID: accounts[i], Kind: kind, Err: r.Err},
			}
		}
		run.Results = append(run.Results, res)
	}
	run.FinishedAt = s.now()

	succeeded, failed := len(run.Succeeded()), len(run.Failed())
	metrics.BulkRuns.WithLabelValues("completed").Inc()
	metrics.BulkLastRunAccounts.WithLabelValues("succeeded").Set(float64(succeeded))
	metrics.BulkLastRunAccounts.WithLabelValues("failed").Set(float64(failed))

	log.Info().
		Int("succeeded", succeeded).
		Int("failed", failed).
		Dur("duration", run.FinishedAt.Sub(run.StartedAt)).
		Msg("bulk sync finished")

	return run, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

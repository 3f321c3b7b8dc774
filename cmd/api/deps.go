package main

import (
	"context"
	"time"

	"catalogsync/internal/domain/catalogsync"
	"catalogsync/internal/domain/library"
	"catalogsync/internal/domain/link"
	"catalogsync/internal/infrastructure/catalog"
	"catalogsync/internal/infrastructure/sqlstore"
	"catalogsync/internal/infrastructure/storage"
	"catalogsync/internal/interfaces/scheduler"
	"catalogsync/internal/shared/cache"
	"catalogsync/internal/shared/config"
	"catalogsync/internal/shared/logging"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	DB *sqlstore.DB

	Catalog     *catalog.Client
	Freshness   *cache.Freshness[[]library.Item]
	SyncService *catalogsync.Service
	LinkService *link.Service

	// Scheduler is nil when scheduling is disabled.
	Scheduler *scheduler.Scheduler
}

// NewDependencies initializes all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	db, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	itemRepo := sqlstore.NewItemRepository(db)
	linkRepo := sqlstore.NewLinkRepository(db)

	client := catalog.NewClientFromConfig(cfg.Upstream)

	var fresh *cache.Freshness[[]library.Item]
	if cfg.Cache.Enabled {
		fresh = cache.NewFreshness[[]library.Item](cfg.Cache.TTL, cache.WithShards(cfg.Cache.Shards))
	}

	syncService := catalogsync.NewService(client, itemRepo, linkRepo, fresh, catalogsync.Config{
		Workers:        cfg.Scheduler.WorkerCount,
		JobDelay:       cfg.Scheduler.JobDelay,
		RefreshTimeout: syncBudget(client),
	})

	deps := &Dependencies{
		DB:          db,
		Catalog:     client,
		Freshness:   fresh,
		SyncService: syncService,
		LinkService: link.NewService(linkRepo, client),
	}

	if cfg.Scheduler.Enabled {
		deps.Scheduler, err = scheduler.New(syncService, scheduler.Config{
			ScheduleTimes: scheduler.SplitTimes(cfg.Scheduler.ScheduleTime),
			RunOnStartup:  cfg.Scheduler.RunOnStartup,
		})
		if err != nil {
			deps.Close()
			return nil, err
		}
	}

	return deps, nil
}

// persistAllowance covers the store write that follows a fetch.
const persistAllowance = 30 * time.Second

// syncBudget is the longest one on-demand sync may take: a fully retried
// fetch plus the upsert.
func syncBudget(client *catalog.Client) time.Duration {
	return client.MaxFetchDuration() + persistAllowance
}

// Close releases all resources held by dependencies.
func (d *Dependencies) Close() {
	if d.Freshness != nil {
		d.Freshness.Close()
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			logging.Warn().Err(err).Msg("error closing database")
		}
	}
}

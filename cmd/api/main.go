package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"catalogsync/internal/shared/config"
	"catalogsync/internal/shared/logging"
	"catalogsync/internal/shared/telemetry"
)

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("application error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:      cfg.Telemetry.Enabled,
		ServiceName:  cfg.Telemetry.ServiceName,
		Environment:  cfg.Telemetry.Environment,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			logging.Warn().Err(err).Msg("telemetry shutdown")
		}
	}()

	deps, err := NewDependencies(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	sup := newSupervisor(cfg.Server.ShutdownTimeout)
	sup.Add(NewHTTPServerService(newHTTPServer(addr, SetupRoutes(deps), syncBudget(deps.Catalog)), cfg.Server.ShutdownTimeout))

	if deps.Scheduler != nil {
		sup.Add(deps.Scheduler)
		logging.Info().
			Str("times", cfg.Scheduler.ScheduleTime).
			Time("next_run", deps.Scheduler.GetNextScheduledTime()).
			Msg("scheduler enabled")
	} else {
		logging.Info().Msg("scheduler is disabled")
	}

	logging.Info().Str("addr", addr).Str("driver", cfg.Database.Driver).Msg("server starting")

	if err := sup.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logging.Info().Msg("server stopped")
	return nil
}

package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httphandlers "catalogsync/internal/interfaces/http"
	"catalogsync/internal/shared/middleware"
)

// SetupRoutes configures all HTTP routes and returns the final handler with middleware.
func SetupRoutes(deps *Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logging)
	r.Use(middleware.Telemetry)
	r.Use(middleware.Tracing)

	r.Get("/health", httphandlers.NewHealthHandler(deps.DB).HandleHealth)
	r.Handle("/metrics", promhttp.Handler())

	var bulk httphandlers.BulkTrigger
	if deps.Scheduler != nil {
		bulk = deps.Scheduler
	}
	catalogHandler := httphandlers.NewCatalogHandler(deps.SyncService, bulk)
	linkHandler := httphandlers.NewLinkHandler(deps.LinkService, catalogHandler)
	httphandlers.MountAPI(r, catalogHandler, linkHandler)

	return r
}

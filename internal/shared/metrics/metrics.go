// Package metrics holds the Prometheus collectors shared across the sync engine.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogsync_sync_total",
			Help: "Per-account sync attempts by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalogsync_sync_duration_seconds",
			Help:    "Duration of a single account sync (fetch + upsert)",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"trigger"},
	)

	ItemsUpserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catalogsync_items_upserted_total",
			Help: "Item rows written by successful upserts",
		},
	)

	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogsync_upstream_requests_total",
			Help: "HTTP requests issued to the upstream catalog API",
		},
		[]string{"endpoint", "status"},
	)

	UpstreamRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogsync_upstream_retries_total",
			Help: "Upstream retries by reason (rate_limited, server_error, transport)",
		},
		[]string{"reason"},
	)

	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogsync_cache_requests_total",
			Help: "Freshness cache lookups by result",
		},
		[]string{"result"},
	)

	BulkRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogsync_bulk_runs_total",
			Help: "Bulk sync runs by outcome (completed, aborted)",
		},
		[]string{"outcome"},
	)

	BulkLastRunAccounts = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "catalogsync_bulk_last_run_accounts",
			Help: "Accounts processed by the most recent bulk run, by outcome",
		},
		[]string{"outcome"},
	)
)

// RecordUpstreamRequest counts one upstream HTTP attempt. status 0 means the
// request never produced a response.
func RecordUpstreamRequest(endpoint string, status int) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	UpstreamRequests.WithLabelValues(endpoint, label).Inc()
}

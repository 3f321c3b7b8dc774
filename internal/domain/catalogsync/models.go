// Package catalogsync composes the catalog client and the item store into
// per-account and bulk sync operations.
package catalogsync

import (
	"fmt"
	"time"

	"catalogsync/internal/domain/library"
)

// Kind classifies what part of a sync failed.
type Kind string

const (
	KindFetch       Kind = "fetch"
	KindPersistence Kind = "persistence"
	// KindCancelled marks bulk entries that never started because the run's
	// context ended first.
	KindCancelled Kind = "cancelled"
)

// Trigger records who asked for a sync. Used for metrics and logs.
type Trigger string

const (
	TriggerOnDemand  Trigger = "on_demand"
	TriggerScheduled Trigger = "scheduled"
	TriggerLink      Trigger = "link"
)

// SyncError is the failure of one account's sync.
type SyncError struct {
	AccountID string
	Kind      Kind
	Err       error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s: %s failed: %v", e.AccountID, e.Kind, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// SyncResult is the outcome of one account's fetch+upsert.
type SyncResult struct {
	AccountID    string
	Trigger      Trigger
	ItemsFetched int
	ItemsWritten int
	// Items is the fetched library as it was stored, most-used first.
	Items      []library.Item
	StartedAt  time.Time
	FinishedAt time.Time
	// Err is nil or a *SyncError.
	Err error
}

func (r *SyncResult) Succeeded() bool { return r.Err == nil }

func (r *SyncResult) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// BulkResult summarizes one pass over every linked account. Partial success
// is the normal case.
type BulkResult struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []*SyncResult
}

func (b *BulkResult) Succeeded() []string {
	out := []string{}
	for _, r := range b.Results {
		if r.Succeeded() {
			out = append(out, r.AccountID)
		}
	}
	return out
}

func (b *BulkResult) Failed() []*SyncResult {
	out := []*SyncResult{}
	for _, r := range b.Results {
		if !r.Succeeded() {
			out = append(out, r)
		}
	}
	return out
}

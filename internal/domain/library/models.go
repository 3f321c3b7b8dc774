package library

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// DefaultTopLimit is how many items the "top" view shows when no limit is given.
const DefaultTopLimit = 5

var ErrInvalidInput = errors.New("invalid input")

// Item is one owned catalog item as stored for an account.
// UsageMinutes is the cumulative upstream figure and is overwritten on every
// sync.
type Item struct {
	AccountID    string    `json:"accountId"`
	Name         string    `json:"name"`
	AppID        int64     `json:"appId"`
	UsageMinutes int64     `json:"usageMinutes"`
	LastSyncedAt time.Time `json:"lastSyncedAt"`
}

// UsageHours rounds usage down to whole hours.
func (i Item) UsageHours() int64 {
	return i.UsageMinutes / 60
}

// UpsertItem is one row of a sync batch.
type UpsertItem struct {
	Name         string
	AppID        int64
	UsageMinutes int64
}

// Validate checks a single batch row.
func (u UpsertItem) Validate() error {
	if strings.TrimSpace(u.Name) == "" {
		return fmt.Errorf("%w: item name is required", ErrInvalidInput)
	}
	if u.UsageMinutes < 0 {
		return fmt.Errorf("%w: negative usage for %q", ErrInvalidInput, u.Name)
	}
	return nil
}

// CollapseDuplicates keeps one row per name. The last occurrence wins but
// keeps the position of the first, so upstream order is otherwise preserved.
func CollapseDuplicates(items []UpsertItem) []UpsertItem {
	index := make(map[string]int, len(items))
	out := make([]UpsertItem, 0, len(items))
	for _, it := range items {
		if i, ok := index[it.Name]; ok {
			out[i] = it
			continue
		}
		index[it.Name] = len(out)
		out = append(out, it)
	}
	return out
}

// SortByUsage orders items most-used first, breaking ties by name.
func SortByUsage(items []Item) {
	sort.SliceStable(items, func(a, b int) bool {
		if items[a].UsageMinutes != items[b].UsageMinutes {
			return items[a].UsageMinutes > items[b].UsageMinutes
		}
		return items[a].Name < items[b].Name
	})
}

// Top returns the n most-used items without modifying items.
func Top(items []Item, n int) []Item {
	if n <= 0 {
		n = DefaultTopLimit
	}
	sorted := append([]Item(nil), items...)
	SortByUsage(sorted)
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// PersistenceError wraps any store failure. Op names the store operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

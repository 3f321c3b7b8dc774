// Package cache provides a sharded, TTL-bounded freshness cache.
//
// An entry records that a key was refreshed at a point in time together with
// the value produced by that refresh. Get returns the value only while the
// entry is younger than the TTL. Stale entries are dropped lazily on read and
// periodically by a janitor goroutine; call Close to stop it.
package cache

import (
	"hash/fnv"
	"sync"
	"time"

	"catalogsync/internal/shared/metrics"
)

const janitorInterval = time.Minute

type entry[V any] struct {
	value     V
	refreshed time.Time
}

type shard[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
}

// Freshness is safe for concurrent use. Keys hash onto independent shards so
// unrelated keys never contend on the same lock.
type Freshness[V any] struct {
	shards []*shard[V]
	ttl    time.Duration
	now    func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// Option customizes a Freshness cache.
type Option func(*options)

type options struct {
	shards int
	now    func() time.Time
}

// WithShards sets the shard count. Values below 1 are ignored.
func WithShards(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.shards = n
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// NewFreshness creates a cache whose entries stay fresh for ttl.
func NewFreshness[V any](ttl time.Duration, opts ...Option) *Freshness[V] {
	o := options{shards: 16, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Freshness[V]{
		shards: make([]*shard[V], o.shards),
		ttl:    ttl,
		now:    o.now,
		done:   make(chan struct{}),
	}
	for i := range c.shards {
		c.shards[i] = &shard[V]{entries: make(map[string]entry[V])}
	}

	go c.janitor()
	return c
}

func (c *Freshness[V]) shardFor(key string) *shard[V] {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

// Get returns the cached value when the key was refreshed less than ttl ago.
func (c *Freshness[V]) Get(key string) (V, bool) {
	s := c.shardFor(key)

	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if ok && c.now().Sub(e.refreshed) < c.ttl {
		metrics.CacheRequests.WithLabelValues("hit").Inc()
		return e.value, true
	}

	if ok {
		s.mu.Lock()
		// Re-check under the write lock; a concurrent Mark may have won.
		if cur, still := s.entries[key]; still && c.now().Sub(cur.refreshed) >= c.ttl {
			delete(s.entries, key)
		}
		s.mu.Unlock()
	}

	metrics.CacheRequests.WithLabelValues("miss").Inc()
	var zero V
	return zero, false
}

// Mark records a refresh of key at the current time.
func (c *Freshness[V]) Mark(key string, value V) {
	s := c.shardFor(key)
	s.mu.Lock()
	s.entries[key] = entry[V]{value: value, refreshed: c.now()}
	s.mu.Unlock()
}

// Invalidate forgets key so the next Get misses.
func (c *Freshness[V]) Invalidate(key string) {
	s := c.shardFor(key)
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// Len counts entries still held, including stale ones the janitor has not
// swept yet.
func (c *Freshness[V]) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

func (c *Freshness[V]) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

func (c *Freshness[V]) sweep() {
	now := c.now()
	for _, s := range c.shards {
		s.mu.Lock()
		for key, e := range s.entries {
			if now.Sub(e.refreshed) >= c.ttl {
				delete(s.entries, key)
			}
		}
		s.mu.Unlock()
	}
}

// Close stops the janitor. Safe to call more than once.
func (c *Freshness[V]) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

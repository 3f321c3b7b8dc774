package cache

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestCache(t *testing.T, ttl time.Duration) (*Freshness[int], *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	c := NewFreshness[int](ttl, WithClock(clock.Now), WithShards(4))
	t.Cleanup(c.Close)
	return c, clock
}

func TestFreshness_HitWithinTTL(t *testing.T) {
	c, clock := newTestCache(t, 600*time.Second)

	c.Mark("acct-1", 12)
	clock.Advance(599 * time.Second)

	v, ok := c.Get("acct-1")
	require.True(t, ok)
	assert.Equal(t, 12, v)
}

func TestFreshness_MissAtTTL(t *testing.T) {
	c, clock := newTestCache(t, 600*time.Second)

	c.Mark("acct-1", 12)
	clock.Advance(600 * time.Second)

	_, ok := c.Get("acct-1")
	assert.False(t, ok)
	assert.Zero(t, c.Len(), "stale entry removed on read")
}

func TestFreshness_MarkResetsAge(t *testing.T) {
	c, clock := newTestCache(t, time.Minute)

	c.Mark("acct-1", 1)
	clock.Advance(50 * time.Second)
	c.Mark("acct-1", 2)
	clock.Advance(50 * time.Second)

	v, ok := c.Get("acct-1")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestFreshness_Invalidate(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)

	c.Mark("acct-1", 1)
	c.Invalidate("acct-1")

	_, ok := c.Get("acct-1")
	assert.False(t, ok)
}

func TestFreshness_SweepDropsOnlyStale(t *testing.T) {
	c, clock := newTestCache(t, time.Minute)

	c.Mark("old", 1)
	clock.Advance(2 * time.Minute)
	c.Mark("new", 2)

	c.sweep()

	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("new")
	assert.True(t, ok)
}

func TestFreshness_ConcurrentAccess(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)

	var hits atomic.Int64
	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("acct-%d", i%8)
			c.Mark(key, i)
			if _, ok := c.Get(key); ok {
				hits.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(32), hits.Load())
	assert.Equal(t, 8, c.Len())
}

func TestFreshness_CloseIdempotent(t *testing.T) {
	c := NewFreshness[string](time.Minute)
	c.Close()
	assert.NotPanics(t, c.Close)
}

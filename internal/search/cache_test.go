package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/kinomirror/internal/adapter"
	"github.com/mmcdole/kinomirror/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeRemote struct {
	mu      sync.Mutex
	entries map[string]CachedResult
	fail    bool
	purged  int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{entries: make(map[string]CachedResult)}
}

func (f *fakeRemote) Get(_ context.Context, key string) (CachedResult, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return CachedResult{}, false, errors.New("connection refused")
	}
	e, ok := f.entries[key]
	return e, ok, nil
}

func (f *fakeRemote) Set(_ context.Context, key string, entry CachedResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("connection refused")
	}
	f.entries[key] = entry
	return nil
}

func (f *fakeRemote) Purge(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = make(map[string]CachedResult)
	f.purged++
	return nil
}

func resultFor(keyword string) domain.SearchResult {
	return domain.SearchResult{
		Items:      []domain.CatalogRecord{{Slug: keyword + "-1"}},
		TotalItems: 1,
		TotalPages: 1,
		Page:       1,
		Limit:      20,
		Tier:       domain.TierInstant,
		Keyword:    keyword,
	}
}

func instantKey(keyword string) CacheKey {
	return BuildCacheKey(domain.TierInstant, keyword, domain.SearchOptions{})
}

func newTestCache(clock *fakeClock, opts ...CacheOption) *QueryCache {
	opts = append([]CacheOption{WithCacheClock(clock.Now), WithCacheLogger(adapter.NullLogger())}, opts...)
	return NewQueryCache(opts...)
}

func TestCacheHitWithinTTL(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := newTestCache(clock)

	c.Set(ctx, instantKey("love"), resultFor("love"), 2*time.Minute)
	clock.Advance(time.Minute)

	got, ok := c.Get(ctx, instantKey("love"))
	require.True(t, ok)
	assert.Equal(t, "love-1", got.Items[0].Slug)
}

func TestCacheExpiresAtTTL(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := newTestCache(clock)

	c.Set(ctx, instantKey("love"), resultFor("love"), 2*time.Minute)
	clock.Advance(2 * time.Minute)

	_, ok := c.Get(ctx, instantKey("love"))
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entry dropped on lookup")
}

func TestCacheReturnsCopies(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(newFakeClock())

	c.Set(ctx, instantKey("love"), resultFor("love"), time.Minute)
	got, ok := c.Get(ctx, instantKey("love"))
	require.True(t, ok)
	got.Items[0].Slug = "mutated"

	again, _ := c.Get(ctx, instantKey("love"))
	assert.Equal(t, "love-1", again.Items[0].Slug)
}

func TestCacheNonPositiveTTLIsNoop(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(newFakeClock())
	c.Set(ctx, instantKey("x"), resultFor("x"), 0)
	assert.Equal(t, 0, c.Len())
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(newFakeClock(), WithMaxEntries(2))

	c.Set(ctx, instantKey("a"), resultFor("a"), time.Hour)
	c.Set(ctx, instantKey("b"), resultFor("b"), time.Hour)
	_, ok := c.Get(ctx, instantKey("a"))
	require.True(t, ok)

	c.Set(ctx, instantKey("c"), resultFor("c"), time.Hour)

	assert.Equal(t, 2, c.Len())
	_, ok = c.Get(ctx, instantKey("b"))
	assert.False(t, ok, "b was least recently used")
	_, ok = c.Get(ctx, instantKey("a"))
	assert.True(t, ok)
	_, ok = c.Get(ctx, instantKey("c"))
	assert.True(t, ok)
}

func TestCacheOverwriteRefreshesEntry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := newTestCache(clock)

	c.Set(ctx, instantKey("a"), resultFor("a"), time.Minute)
	clock.Advance(50 * time.Second)
	c.Set(ctx, instantKey("a"), resultFor("a2"), time.Minute)
	clock.Advance(50 * time.Second)

	got, ok := c.Get(ctx, instantKey("a"))
	require.True(t, ok)
	assert.Equal(t, "a2", got.Keyword)
	assert.Equal(t, 1, c.Len())
}

func TestCacheSweep(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := newTestCache(clock)

	c.Set(ctx, instantKey("short"), resultFor("short"), time.Minute)
	c.Set(ctx, instantKey("long"), resultFor("long"), time.Hour)
	clock.Advance(2 * time.Minute)

	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 0, c.Sweep())
}

func TestCachePurge(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	c := newTestCache(newFakeClock(), WithRemote(remote))

	c.Set(ctx, instantKey("a"), resultFor("a"), time.Hour)
	c.Set(ctx, instantKey("b"), resultFor("b"), time.Hour)
	c.Purge(ctx)

	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 1, remote.purged)
	_, ok := c.Get(ctx, instantKey("a"))
	assert.False(t, ok)
}

func TestCacheRemoteSecondLevel(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	remote := newFakeRemote()

	writer := newTestCache(clock, WithRemote(remote))
	writer.Set(ctx, instantKey("shared"), resultFor("shared"), time.Minute)
	require.Contains(t, remote.entries, instantKey("shared").Canonical)

	reader := newTestCache(clock, WithRemote(remote))
	got, ok := reader.Get(ctx, instantKey("shared"))
	require.True(t, ok)
	assert.Equal(t, "shared", got.Keyword)
	assert.Equal(t, 1, reader.Len(), "remote hit promoted to memory")

	clock.Advance(time.Minute)
	other := newTestCache(clock, WithRemote(remote))
	_, ok = other.Get(ctx, instantKey("shared"))
	assert.False(t, ok, "expired remote entries are ignored")
}

func TestCacheRemoteFailureDegradesToMemory(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.fail = true
	c := newTestCache(newFakeClock(), WithRemote(remote))

	c.Set(ctx, instantKey("a"), resultFor("a"), time.Minute)
	_, ok := c.Get(ctx, instantKey("a"))
	assert.True(t, ok)

	_, ok = c.Get(ctx, instantKey("missing"))
	assert.False(t, ok)
}

func TestRunSweeperStopsOnCancel(t *testing.T) {
	c := newTestCache(newFakeClock())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.RunSweeper(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

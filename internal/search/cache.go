package search

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mmcdole/kinomirror/internal/domain"
	"github.com/mmcdole/kinomirror/internal/metrics"
)

const defaultCacheMaxEntries = 500

// RemoteCache is an optional shared second level behind the memory cache.
type RemoteCache interface {
	Get(ctx context.Context, key string) (CachedResult, bool, error)
	Set(ctx context.Context, key string, entry CachedResult) error
	Purge(ctx context.Context) error
}

// CachedResult is a stored answer with its capture time and lifetime.
type CachedResult struct {
	Result   domain.SearchResult `json:"result"`
	CachedAt time.Time           `json:"cachedAt"`
	TTL      time.Duration       `json:"ttl"`
}

func (c CachedResult) expired(now time.Time) bool {
	return !now.Before(c.CachedAt.Add(c.TTL))
}

type cacheEntry struct {
	key string
	CachedResult
}

// QueryCache is a bounded LRU of query results with per-entry TTLs.
// Expired entries are dropped lazily on lookup and by the periodic sweep.
type QueryCache struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List // front is most recently used
	maxEntries int
	remote     RemoteCache
	now        func() time.Time
	logger     *slog.Logger
}

// CacheOption configures a QueryCache.
type CacheOption func(*QueryCache)

// WithMaxEntries bounds the number of in-memory entries.
func WithMaxEntries(n int) CacheOption {
	return func(c *QueryCache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithRemote adds a shared second-level cache.
func WithRemote(r RemoteCache) CacheOption {
	return func(c *QueryCache) {
		c.remote = r
	}
}

// WithCacheClock overrides time.Now.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *QueryCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithCacheLogger sets the cache logger.
func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *QueryCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewQueryCache creates an empty cache.
func NewQueryCache(opts ...CacheOption) *QueryCache {
	c := &QueryCache{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: defaultCacheMaxEntries,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a copy of the live entry under key.
func (c *QueryCache) Get(ctx context.Context, key CacheKey) (domain.SearchResult, bool) {
	tier := string(key.Tier)
	now := c.now()

	c.mu.Lock()
	if el, ok := c.entries[key.Canonical]; ok {
		e := el.Value.(*cacheEntry)
		if !e.expired(now) {
			c.order.MoveToFront(el)
			result := e.Result.Clone()
			c.mu.Unlock()
			metrics.QueryCacheHitsTotal.WithLabelValues(tier, "memory").Inc()
			return result, true
		}
		c.removeLocked(el)
		metrics.QueryCacheEvictionsTotal.WithLabelValues("expired").Inc()
	}
	c.mu.Unlock()

	if c.remote != nil {
		entry, found, err := c.remote.Get(ctx, key.Canonical)
		if err != nil {
			c.logger.Warn("remote query cache read failed", "error", err)
		} else if found && !entry.expired(now) {
			c.storeLocal(key.Canonical, entry)
			metrics.QueryCacheHitsTotal.WithLabelValues(tier, "redis").Inc()
			return entry.Result.Clone(), true
		}
	}

	metrics.QueryCacheMissesTotal.WithLabelValues(tier).Inc()
	return domain.SearchResult{}, false
}

// Set stores result under key for ttl. A non-positive ttl is a no-op.
func (c *QueryCache) Set(ctx context.Context, key CacheKey, result domain.SearchResult, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	entry := CachedResult{Result: result.Clone(), CachedAt: c.now(), TTL: ttl}
	c.storeLocal(key.Canonical, entry)

	if c.remote != nil {
		if err := c.remote.Set(ctx, key.Canonical, entry); err != nil {
			c.logger.Warn("remote query cache write failed", "error", err)
		}
	}
}

func (c *QueryCache) storeLocal(key string, entry CachedResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).CachedResult = entry
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, CachedResult: entry})

	for c.order.Len() > c.maxEntries {
		c.removeLocked(c.order.Back())
		metrics.QueryCacheEvictionsTotal.WithLabelValues("capacity").Inc()
	}
}

func (c *QueryCache) removeLocked(el *list.Element) {
	c.order.Remove(el)
	delete(c.entries, el.Value.(*cacheEntry).key)
}

// Purge drops every entry, remote ones included.
func (c *QueryCache) Purge(ctx context.Context) {
	c.mu.Lock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
	c.mu.Unlock()

	if c.remote != nil {
		if err := c.remote.Purge(ctx); err != nil {
			c.logger.Warn("remote query cache purge failed", "error", err)
		}
	}
}

// Len reports the number of in-memory entries, expired ones included.
func (c *QueryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Sweep removes expired in-memory entries and returns how many.
func (c *QueryCache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if el.Value.(*cacheEntry).expired(now) {
			c.removeLocked(el)
			removed++
		}
		el = prev
	}
	if removed > 0 {
		metrics.QueryCacheEvictionsTotal.WithLabelValues("expired").Add(float64(removed))
	}
	return removed
}

// RunSweeper sweeps every interval until ctx is done.
func (c *QueryCache) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Debug("query cache swept", "removed", n, "remaining", c.Len())
			}
		}
	}
}

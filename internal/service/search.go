// Package service exposes the catalog mirror to callers: startup, tiered
// search, full loads and snapshot housekeeping.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/mmcdole/kinomirror/internal/domain"
	"github.com/mmcdole/kinomirror/internal/loader"
	"github.com/mmcdole/kinomirror/internal/metrics"
	"github.com/mmcdole/kinomirror/internal/search"
)

var tracer = otel.Tracer("github.com/mmcdole/kinomirror/internal/service")

const (
	defaultInstantTTL    = 2 * time.Minute
	defaultExtendedTTL   = 5 * time.Minute
	defaultFullTTL       = 10 * time.Minute
	defaultExtendedPages = 5
	defaultWorkers       = 5
	defaultStaleAfter    = 6 * time.Hour
	defaultSuggestLimit  = 10
	didYouMeanLimit      = 3
)

// Config tunes the orchestrator.
type Config struct {
	InstantTTL      time.Duration
	ExtendedTTL     time.Duration
	FullTTL         time.Duration
	ExtendedPages   int // extra remote pages per extended search
	ExtendedWorkers int
	StaleAfter      time.Duration
	PreloadPages    int
	SuggestLimit    int
}

func (c Config) withDefaults() Config {
	if c.InstantTTL <= 0 {
		c.InstantTTL = defaultInstantTTL
	}
	if c.ExtendedTTL <= 0 {
		c.ExtendedTTL = defaultExtendedTTL
	}
	if c.FullTTL <= 0 {
		c.FullTTL = defaultFullTTL
	}
	if c.ExtendedPages <= 0 {
		c.ExtendedPages = defaultExtendedPages
	}
	if c.ExtendedWorkers <= 0 {
		c.ExtendedWorkers = defaultWorkers
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = defaultStaleAfter
	}
	if c.SuggestLimit <= 0 {
		c.SuggestLimit = defaultSuggestLimit
	}
	return c
}

// Orchestrator answers queries from the mirror, escalating through the
// instant, extended and full tiers and finally a direct remote fetch.
// Failures are absorbed: every call returns a valid, possibly empty, result.
type Orchestrator struct {
	repo     domain.CatalogRepository
	store    domain.SnapshotStore
	mirror   *Mirror
	loader   *loader.Loader
	cache    *search.QueryCache
	pipeline *search.Pipeline
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	loads singleflight.Group
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithClock overrides time.Now for staleness checks and capture times.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// NewOrchestrator wires the mirror, loader and query cache together. A nil
// cache gets a default in-memory one.
func NewOrchestrator(
	repo domain.CatalogRepository,
	store domain.SnapshotStore,
	cache *search.QueryCache,
	cfg Config,
	loaderCfg loader.Config,
	logger *slog.Logger,
	opts ...OrchestratorOption,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cache == nil {
		cache = search.NewQueryCache(search.WithCacheLogger(logger))
	}
	mirror := NewMirror()
	o := &Orchestrator{
		repo:     repo,
		store:    store,
		mirror:   mirror,
		cache:    cache,
		pipeline: search.NewPipeline(logger),
		cfg:      cfg.withDefaults(),
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.loader = loader.New(repo, store, mirror, loaderCfg, logger.With("component", "loader"), loader.WithClock(o.now))
	// a new mirror invalidates every cached answer
	mirror.OnReplace(func() { cache.Purge(context.Background()) })
	return o
}

// Mirror exposes the underlying mirror.
func (o *Orchestrator) Mirror() *Mirror {
	return o.mirror
}

// Cache exposes the query cache.
func (o *Orchestrator) Cache() *search.QueryCache {
	return o.cache
}

func (o *Orchestrator) snapshotKey() string {
	return o.loader.Config().SnapshotKey
}

// Initialize seeds the mirror: from the persisted snapshot when one exists,
// otherwise from a full load when autoLoadFull is set, otherwise from a quick
// preload of the newest pages.
func (o *Orchestrator) Initialize(ctx context.Context, autoLoadFull bool) domain.Stats {
	ctx, span := tracer.Start(ctx, "service.Initialize")
	defer span.End()

	if snap, ok := o.store.Load(o.snapshotKey()); ok && len(snap.Records) > 0 {
		o.mirror.Seed(*snap)
		stats := o.Stats()
		o.logger.Info("mirror seeded from snapshot",
			"records", stats.Movies,
			"capturedAt", stats.CapturedAt,
			"stale", stats.Stale,
		)
		span.SetAttributes(attribute.Bool("mirror.from_cache", true))
		return stats
	}

	if autoLoadFull {
		o.logger.Info("no snapshot, starting full load")
		return o.LoadFullDatabaseWithProgress(ctx, nil)
	}

	added := o.loader.Preload(ctx, o.cfg.PreloadPages)
	o.logger.Info("no snapshot, preloaded newest pages", "records", added)
	return o.Stats()
}

// LoadFullDatabaseWithProgress runs a full load now. onProgress, when set, is
// called once per batch.
func (o *Orchestrator) LoadFullDatabaseWithProgress(ctx context.Context, onProgress domain.ProgressFunc) domain.Stats {
	_, stats := o.loader.LoadFull(ctx, onProgress)
	return stats
}

// InstantSearch queries only what the mirror already holds.
func (o *Orchestrator) InstantSearch(ctx context.Context, keyword string, opts domain.SearchOptions) domain.SearchResult {
	return o.search(ctx, domain.TierInstant, keyword, opts)
}

// ExtendedSearch queries the mirror plus a few extra remote pages.
func (o *Orchestrator) ExtendedSearch(ctx context.Context, keyword string, opts domain.SearchOptions) domain.SearchResult {
	return o.search(ctx, domain.TierExtended, keyword, opts)
}

// FullSearch completes the mirror first if needed, then queries all of it.
func (o *Orchestrator) FullSearch(ctx context.Context, keyword string, opts domain.SearchOptions) domain.SearchResult {
	return o.search(ctx, domain.TierFull, keyword, opts)
}

// GetAllMovies browses the mirror without a keyword.
func (o *Orchestrator) GetAllMovies(ctx context.Context, opts domain.SearchOptions) domain.SearchResult {
	return o.search(ctx, domain.TierInstant, "", opts)
}

func (o *Orchestrator) search(ctx context.Context, requested domain.Tier, keyword string, opts domain.SearchOptions) domain.SearchResult {
	ctx, span := tracer.Start(ctx, "service.search."+string(requested))
	defer span.End()

	start := o.now()
	opts = opts.WithDefaults()
	key := search.BuildCacheKey(requested, keyword, opts)

	if cached, ok := o.cache.Get(ctx, key); ok {
		span.SetAttributes(attribute.Bool("search.cache_hit", true))
		metrics.SearchRequestsTotal.WithLabelValues(string(requested), string(cached.Tier)).Inc()
		return cached
	}

	result := o.resolve(ctx, requested, keyword, opts)
	o.writeThrough(ctx, requested, keyword, opts, result)

	span.SetAttributes(
		attribute.String("search.resolved_tier", string(result.Tier)),
		attribute.Int("search.total_items", result.TotalItems),
	)
	metrics.SearchRequestsTotal.WithLabelValues(string(requested), string(result.Tier)).Inc()
	metrics.SearchDuration.WithLabelValues(string(requested)).Observe(o.now().Sub(start).Seconds())

	o.logger.Debug("search",
		"requested", requested,
		"resolved", result.Tier,
		"keyword", keyword,
		"items", len(result.Items),
		"total", result.TotalItems,
	)
	return result
}

// resolve walks down the tiers from requested until one succeeds.
func (o *Orchestrator) resolve(ctx context.Context, requested domain.Tier, keyword string, opts domain.SearchOptions) domain.SearchResult {
	tiers := []struct {
		tier domain.Tier
		run  func(context.Context, string, domain.SearchOptions) (domain.SearchResult, bool)
	}{
		{domain.TierFull, o.fullTier},
		{domain.TierExtended, o.extendedTier},
		{domain.TierInstant, o.instantTier},
		{domain.TierDirect, o.directTier},
	}

	started := false
	for _, t := range tiers {
		if t.tier == requested {
			started = true
		}
		if !started {
			continue
		}
		if result, ok := t.run(ctx, keyword, opts); ok {
			return result
		}
		o.logger.Warn("search tier failed, falling back", "tier", t.tier, "keyword", keyword)
	}
	return domain.EmptyResult(keyword, opts)
}

// writeThrough stores result under its resolved tier, and also under the
// requested tier with the instant TTL when the two differ.
func (o *Orchestrator) writeThrough(ctx context.Context, requested domain.Tier, keyword string, opts domain.SearchOptions, result domain.SearchResult) {
	if result.Tier == domain.TierNone {
		return
	}
	o.cache.Set(ctx, search.BuildCacheKey(result.Tier, keyword, opts), result, o.ttlFor(result.Tier))
	if result.Tier != requested {
		o.cache.Set(ctx, search.BuildCacheKey(requested, keyword, opts), result, o.cfg.InstantTTL)
	}
}

func (o *Orchestrator) ttlFor(tier domain.Tier) time.Duration {
	switch tier {
	case domain.TierFull:
		return o.cfg.FullTTL
	case domain.TierExtended:
		return o.cfg.ExtendedTTL
	default:
		return o.cfg.InstantTTL
	}
}

// answer runs the filter, sort and paginate stages over candidates.
func (o *Orchestrator) answer(tier domain.Tier, candidates []domain.CatalogRecord, keyword string, opts domain.SearchOptions) domain.SearchResult {
	matched, _ := o.pipeline.Apply(candidates, search.Query{Keyword: keyword, Filters: opts.Filters()})
	field, dir := search.ParseSort(opts.Sort, opts.SortType)
	page := search.Paginate(search.Sort(matched, field, dir), opts.Page, opts.Limit)

	result := domain.SearchResult{
		Items:      page.Items,
		TotalItems: page.TotalItems,
		TotalPages: page.TotalPages,
		Page:       page.Page,
		Limit:      page.Limit,
		Tier:       tier,
		Keyword:    keyword,
	}
	if page.TotalItems == 0 && keyword != "" {
		result.Suggestions = search.DidYouMean(candidates, keyword, didYouMeanLimit)
	}
	return result
}

// instantTier fails only when the mirror is empty.
func (o *Orchestrator) instantTier(_ context.Context, keyword string, opts domain.SearchOptions) (domain.SearchResult, bool) {
	records := o.mirror.Records()
	if len(records) == 0 {
		return domain.SearchResult{}, false
	}
	return o.answer(domain.TierInstant, records, keyword, opts), true
}

// extendedTier merges the mirror with extra remote pages: filtered listings
// when a category, country or year filter is set, otherwise the newest pages
// past what the mirror already holds. It fails when every fetch failed.
func (o *Orchestrator) extendedTier(ctx context.Context, keyword string, opts domain.SearchOptions) (domain.SearchResult, bool) {
	ctx, span := tracer.Start(ctx, "service.extendedFetch")
	defer span.End()

	fetched, ok := o.fetchExtra(ctx, opts.Filters())
	if !ok {
		return domain.SearchResult{}, false
	}

	mirrored := o.mirror.Records()
	candidates := make([]domain.CatalogRecord, 0, len(mirrored)+len(fetched))
	candidates = append(candidates, mirrored...)
	seen := make(map[string]struct{}, len(mirrored))
	for _, r := range mirrored {
		seen[r.Slug] = struct{}{}
	}
	var fresh []domain.CatalogRecord
	for _, r := range fetched {
		if _, dup := seen[r.Slug]; dup {
			continue
		}
		seen[r.Slug] = struct{}{}
		candidates = append(candidates, r)
		fresh = append(fresh, r)
	}
	span.SetAttributes(attribute.Int("extended.fresh", len(fresh)))

	if len(fresh) > 0 {
		o.mirror.Extend(fresh, 0)
	}
	return o.answer(domain.TierExtended, candidates, keyword, opts), true
}

// fetchExtra fetches the extra pages concurrently, bounded by the worker
// count. ok is false when no page could be fetched at all.
func (o *Orchestrator) fetchExtra(ctx context.Context, f domain.Filters) ([]domain.CatalogRecord, bool) {
	n := o.cfg.ExtendedPages

	dim, value := filterDimension(f)
	first := 1
	if dim == "" {
		first = o.mirror.PagesLoaded() + 1
	}

	pages := make([][]domain.CatalogRecord, n)
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		lastPage  int
	)
	sem := semaphore.NewWeighted(int64(o.cfg.ExtendedWorkers))

	for i := range n {
		page := first + i
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			var (
				p   domain.CatalogPage
				err error
			)
			if dim == "" {
				p, err = o.repo.FetchPage(ctx, page)
			} else {
				p, err = o.repo.FetchFiltered(ctx, dim, value, page)
			}
			if err != nil {
				o.logger.Debug("extended fetch failed", "page", page, "dimension", dim, "error", err)
				return
			}

			mu.Lock()
			pages[i] = p.Records
			succeeded++
			if dim == "" && len(p.Records) > 0 {
				lastPage = max(lastPage, page)
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if succeeded == 0 {
		return nil, false
	}
	if lastPage > 0 {
		o.mirror.Extend(nil, lastPage)
	}

	var out []domain.CatalogRecord
	for _, records := range pages {
		out = append(out, records...)
	}
	return out, true
}

// filterDimension picks the remote listing that best narrows f. Category is
// preferred, then country, then year.
func filterDimension(f domain.Filters) (domain.FilterDimension, string) {
	switch {
	case f.Category != "":
		return domain.DimensionCategory, f.Category
	case f.Country != "":
		return domain.DimensionCountry, remoteCountry(f.Country)
	case f.Year != "":
		return domain.DimensionYear, f.Year
	}
	return "", ""
}

// remoteCountry maps a country term to the catalog's own slug, the first
// name of its alias group. Unknown terms pass through unchanged.
func remoteCountry(term string) string {
	if aliases := search.CountryAliases(term); len(aliases) > 0 {
		return aliases[0]
	}
	return term
}

// fullTier makes sure the mirror is complete, loading it when it is not.
// Concurrent callers share a single load. It fails when the mirror is still
// not loaded afterwards.
func (o *Orchestrator) fullTier(ctx context.Context, keyword string, opts domain.SearchOptions) (domain.SearchResult, bool) {
	if !o.mirror.Loaded() {
		if err := o.ensureLoaded(ctx); err != nil {
			o.logger.Warn("full tier unavailable", "error", err)
			return domain.SearchResult{}, false
		}
	}
	if !o.mirror.Loaded() {
		return domain.SearchResult{}, false
	}
	return o.answer(domain.TierFull, o.mirror.Records(), keyword, opts), true
}

func (o *Orchestrator) ensureLoaded(ctx context.Context) error {
	// the load outlives a caller that gives up waiting
	ch := o.loads.DoChan("full-load", func() (any, error) {
		if o.mirror.Loaded() {
			return nil, nil
		}
		_, stats := o.loader.LoadFull(context.WithoutCancel(ctx), nil)
		if stats.Error != "" {
			return nil, domain.ErrEmptyCatalog
		}
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// directTier searches the newest remote page on its own.
func (o *Orchestrator) directTier(ctx context.Context, keyword string, opts domain.SearchOptions) (domain.SearchResult, bool) {
	page, err := o.repo.FetchPage(ctx, 1)
	if err != nil {
		o.logger.Warn("direct fetch failed", "error", err)
		return domain.SearchResult{}, false
	}
	if len(page.Records) == 0 {
		return domain.SearchResult{}, false
	}
	return o.answer(domain.TierDirect, page.Records, keyword, opts), true
}

// GetCacheStatus describes the persisted snapshot.
func (o *Orchestrator) GetCacheStatus() domain.CacheStatus {
	status := o.store.StatusOf(o.snapshotKey())
	out := domain.CacheStatus{FromCache: o.mirror.FromCache()}
	if !status.Present {
		return out
	}
	age := status.Age
	out.HasCache = true
	out.CacheAge = &age
	out.Stale = age > o.cfg.StaleAfter
	return out
}

// ClearPersistentCache deletes the snapshot and every cached query answer.
// The in-memory mirror is kept.
func (o *Orchestrator) ClearPersistentCache(ctx context.Context) bool {
	if err := o.store.Clear(); err != nil {
		o.logger.Error("failed to clear snapshot store", "error", err)
		return false
	}
	o.cache.Purge(ctx)
	o.logger.Info("persistent cache cleared")
	return true
}

// Stats describes the mirror, including snapshot staleness.
func (o *Orchestrator) Stats() domain.Stats {
	stats := o.mirror.Stats()
	if !stats.CapturedAt.IsZero() {
		stats.Stale = o.now().Sub(stats.CapturedAt) > o.cfg.StaleAfter
	}
	return stats
}

// Progress returns the progress of the current or last full load.
func (o *Orchestrator) Progress() domain.LoadProgress {
	return o.mirror.Progress()
}

// Suggest completes a partially typed title from the mirror.
func (o *Orchestrator) Suggest(prefix string, limit int) []string {
	if limit <= 0 {
		limit = o.cfg.SuggestLimit
	}
	return search.Suggest(o.mirror.Records(), prefix, limit)
}

// Package loader pulls the remote catalog into the mirror in concurrent
// page batches.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/mmcdole/kinomirror/internal/domain"
	"github.com/mmcdole/kinomirror/internal/metrics"
)

const (
	DefaultBatchSize            = 20
	DefaultMaxPages             = 1000
	DefaultMaxConsecutiveErrors = 10
	DefaultSnapshotKey          = "catalog-snapshot"
)

var tracer = otel.Tracer("github.com/mmcdole/kinomirror/internal/loader")

// Config bounds a full load.
type Config struct {
	BatchSize            int    // pages requested concurrently per batch
	MaxPages             int    // estimated page ceiling
	MaxConsecutiveErrors int    // failed or empty pages in a row before giving up
	SnapshotKey          string // persisted snapshot key
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxPages <= 0 {
		c.MaxPages = DefaultMaxPages
	}
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}
	if c.SnapshotKey == "" {
		c.SnapshotKey = DefaultSnapshotKey
	}
	return c
}

// Mirror is where loaded records are published.
type Mirror interface {
	Loaded() bool
	SetProgress(domain.LoadProgress)
	// Extend adds records not yet present; used while a cold load is running.
	Extend(records []domain.CatalogRecord, pagesLoaded int) int
	// Replace swaps in a completed load and marks the mirror loaded.
	Replace(records []domain.CatalogRecord, meta domain.SnapshotMetadata)
}

// Loader runs full and partial catalog loads.
type Loader struct {
	repo   domain.CatalogRepository
	store  domain.SnapshotStore
	mirror Mirror
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Loader.
type Option func(*Loader)

// WithClock overrides time.Now for snapshot capture times.
func WithClock(now func() time.Time) Option {
	return func(l *Loader) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a Loader. A nil logger uses slog.Default().
func New(repo domain.CatalogRepository, store domain.SnapshotStore, mirror Mirror, cfg Config, logger *slog.Logger, opts ...Option) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{
		repo:   repo,
		store:  store,
		mirror: mirror,
		cfg:    cfg.withDefaults(),
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Config returns the effective configuration.
func (l *Loader) Config() Config {
	return l.cfg
}

type pageResult struct {
	page domain.CatalogPage
	err  error
}

// LoadFull fetches the catalog from page 1 until a stop condition, then
// dedups, persists and publishes the result. Page failures never surface as
// errors: a load that finds nothing reports Stats{Movies: 0, Error: ...}.
func (l *Loader) LoadFull(ctx context.Context, onProgress domain.ProgressFunc) (domain.Snapshot, domain.Stats) {
	ctx, span := tracer.Start(ctx, "loader.LoadFull")
	defer span.End()

	start := l.now()
	estimate := l.cfg.MaxPages
	cold := !l.mirror.Loaded()

	l.mirror.SetProgress(domain.NewLoadProgress(0, estimate))
	l.logger.Info("full load started",
		"batchSize", l.cfg.BatchSize,
		"maxPages", estimate,
		"cold", cold,
	)

	var (
		records     []domain.CatalogRecord
		seen        = make(map[string]struct{})
		consecutive int
		lastUseful  int
		next        = 1
		stopErr     error
	)

	for next <= estimate {
		if ctx.Err() != nil {
			stopErr = domain.ErrLoadCancelled
			break
		}

		end := min(next+l.cfg.BatchSize-1, estimate)
		results := l.fetchBatch(ctx, next, end)
		metrics.LoaderBatchesTotal.Inc()

		batchRecords := 0
		var fresh []domain.CatalogRecord
		for _, res := range results {
			switch {
			case res.err != nil:
				metrics.LoaderPagesTotal.WithLabelValues("error").Inc()
				consecutive++
				continue
			case len(res.page.Records) == 0:
				metrics.LoaderPagesTotal.WithLabelValues("empty").Inc()
				consecutive++
				continue
			}
			metrics.LoaderPagesTotal.WithLabelValues("ok").Inc()
			consecutive = 0
			lastUseful = max(lastUseful, res.page.Page)
			batchRecords += len(res.page.Records)

			if total := res.page.TotalPages; total > 0 && total < estimate {
				estimate = total
			}

			for _, rec := range res.page.Records {
				if _, dup := seen[rec.Slug]; dup {
					continue
				}
				seen[rec.Slug] = struct{}{}
				records = append(records, rec)
				fresh = append(fresh, rec)
			}
		}

		progress := domain.NewLoadProgress(end, max(estimate, end))
		l.mirror.SetProgress(progress)
		if onProgress != nil {
			onProgress(progress)
		}
		if cold && len(fresh) > 0 {
			l.mirror.Extend(fresh, lastUseful)
		}

		l.logger.Debug("batch complete",
			"pages", fmt.Sprintf("%d-%d", next, end),
			"records", batchRecords,
			"total", len(records),
			"consecutiveErrors", consecutive,
			"estimate", estimate,
		)

		next = end + 1

		if consecutive >= l.cfg.MaxConsecutiveErrors {
			stopErr = fmt.Errorf("%d consecutive failed or empty pages", consecutive)
			break
		}
		if batchRecords == 0 {
			stopErr = errors.New("batch returned no records")
			break
		}
	}

	span.SetAttributes(
		attribute.Int("loader.records", len(records)),
		attribute.Int("loader.pages", lastUseful),
	)

	if errors.Is(stopErr, domain.ErrLoadCancelled) {
		metrics.LoadDuration.WithLabelValues("cancelled").Observe(l.now().Sub(start).Seconds())
		l.logger.Warn("full load cancelled", "records", len(records), "pages", next-1)
		return domain.Snapshot{Records: records}, domain.Stats{
			Movies: len(records),
			Error:  domain.ErrLoadCancelled.Error(),
		}
	}

	if len(records) == 0 {
		reason := "no pages fetched"
		if stopErr != nil {
			reason = stopErr.Error()
		}
		err := fmt.Errorf("%w: %s", domain.ErrEmptyCatalog, reason)
		metrics.LoadDuration.WithLabelValues("empty").Observe(l.now().Sub(start).Seconds())
		l.logger.Error("full load produced no records", "error", err)
		return domain.Snapshot{Records: []domain.CatalogRecord{}}, domain.Stats{Movies: 0, Error: err.Error()}
	}

	meta := domain.NewSnapshotMetadata(records, lastUseful, l.now())
	if err := l.store.Save(l.cfg.SnapshotKey, records, meta); err != nil {
		l.logger.Error("failed to save snapshot", "error", err, "key", l.cfg.SnapshotKey)
	}
	l.mirror.Replace(records, meta)

	metrics.LoadDuration.WithLabelValues("ok").Observe(l.now().Sub(start).Seconds())
	l.logger.Info("full load finished",
		"records", meta.Count,
		"pages", lastUseful,
		"stoppedBy", stopReason(stopErr),
		"duration", l.now().Sub(start),
	)

	stats := meta.Stats()
	stats.Loaded = true
	return domain.Snapshot{Records: records, Metadata: meta}, stats
}

// Preload fetches the first pages in one concurrent batch and publishes
// them without persisting. Used for a quick cold start.
func (l *Loader) Preload(ctx context.Context, pages int) int {
	if pages <= 0 {
		return 0
	}
	var records []domain.CatalogRecord
	lastUseful := 0
	for _, res := range l.fetchBatch(ctx, 1, pages) {
		if res.err != nil || len(res.page.Records) == 0 {
			continue
		}
		lastUseful = max(lastUseful, res.page.Page)
		records = append(records, res.page.Records...)
	}
	added := l.mirror.Extend(records, lastUseful)
	l.logger.Info("preload finished", "pages", pages, "added", added)
	return added
}

// fetchBatch requests pages [from, to] concurrently and returns the results
// in page order once every request has settled.
func (l *Loader) fetchBatch(ctx context.Context, from, to int) []pageResult {
	results := make([]pageResult, to-from+1)
	var g errgroup.Group
	for page := from; page <= to; page++ {
		g.Go(func() error {
			p, err := l.repo.FetchPage(ctx, page)
			if err != nil {
				l.logger.Debug("page fetch failed", "page", page, "error", err)
			}
			if p.Page == 0 {
				p.Page = page
			}
			results[page-from] = pageResult{page: p, err: err}
			return nil
		})
	}
	g.Wait()
	return results
}

func stopReason(err error) string {
	if err == nil {
		return "page ceiling"
	}
	return err.Error()
}

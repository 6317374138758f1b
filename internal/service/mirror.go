package service

import (
	"sync"
	"time"

	"github.com/mmcdole/kinomirror/internal/domain"
	"github.com/mmcdole/kinomirror/internal/metrics"
)

// Mirror is the in-memory copy of the remote catalog. It is the single owner
// of the record list, its slug index, the load progress and the load state.
//
// Slices handed out by Records are never written again: Extend and Replace
// build new slices, so readers see a consistent, possibly partial, view.
type Mirror struct {
	mu          sync.RWMutex
	records     []domain.CatalogRecord
	bySlug      map[string]int
	loaded      bool
	fromCache   bool
	capturedAt  time.Time
	pagesLoaded int
	progress    domain.LoadProgress

	onReplace []func()
}

// NewMirror creates an empty, unloaded mirror.
func NewMirror() *Mirror {
	return &Mirror{bySlug: make(map[string]int)}
}

// OnReplace registers fn to run after every Replace or Seed.
func (m *Mirror) OnReplace(fn func()) {
	m.mu.Lock()
	m.onReplace = append(m.onReplace, fn)
	m.mu.Unlock()
}

// Records returns the current record list. Callers must not modify it.
func (m *Mirror) Records() []domain.CatalogRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.records
}

func (m *Mirror) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Has reports whether a record with slug is present.
func (m *Mirror) Has(slug string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.bySlug[slug]
	return ok
}

// Loaded reports whether a full load (or a snapshot) has populated the mirror.
func (m *Mirror) Loaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded
}

func (m *Mirror) FromCache() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fromCache
}

func (m *Mirror) PagesLoaded() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pagesLoaded
}

func (m *Mirror) SetProgress(p domain.LoadProgress) {
	m.mu.Lock()
	m.progress = p
	m.mu.Unlock()
}

func (m *Mirror) Progress() domain.LoadProgress {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.progress
}

// Extend appends records whose slug is not yet present and returns how many
// were added. pagesLoaded only ever grows.
func (m *Mirror) Extend(records []domain.CatalogRecord, pagesLoaded int) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pagesLoaded = max(m.pagesLoaded, pagesLoaded)

	var fresh []domain.CatalogRecord
	pending := make(map[string]struct{})
	for _, r := range records {
		if r.Slug == "" {
			continue
		}
		if _, ok := m.bySlug[r.Slug]; ok {
			continue
		}
		if _, ok := pending[r.Slug]; ok {
			continue
		}
		pending[r.Slug] = struct{}{}
		fresh = append(fresh, r)
	}
	if len(fresh) == 0 {
		return 0
	}

	next := make([]domain.CatalogRecord, 0, len(m.records)+len(fresh))
	next = append(next, m.records...)
	for _, r := range fresh {
		m.bySlug[r.Slug] = len(next)
		next = append(next, r)
	}
	m.records = next
	metrics.MirrorRecords.Set(float64(len(next)))
	return len(fresh)
}

// Replace swaps in the result of a completed load and marks the mirror loaded.
func (m *Mirror) Replace(records []domain.CatalogRecord, meta domain.SnapshotMetadata) {
	m.replace(records, meta, false)
}

// Seed installs a persisted snapshot.
func (m *Mirror) Seed(snap domain.Snapshot) {
	m.replace(snap.Records, snap.Metadata, true)
}

func (m *Mirror) replace(records []domain.CatalogRecord, meta domain.SnapshotMetadata, fromCache bool) {
	index := make(map[string]int, len(records))
	kept := make([]domain.CatalogRecord, 0, len(records))
	for _, r := range records {
		if _, dup := index[r.Slug]; dup || r.Slug == "" {
			continue
		}
		index[r.Slug] = len(kept)
		kept = append(kept, r)
	}

	m.mu.Lock()
	m.records = kept
	m.bySlug = index
	m.loaded = true
	m.fromCache = fromCache
	m.capturedAt = meta.CapturedAt
	m.pagesLoaded = meta.PagesLoaded
	hooks := append([]func(){}, m.onReplace...)
	m.mu.Unlock()

	metrics.MirrorRecords.Set(float64(len(kept)))
	for _, fn := range hooks {
		fn()
	}
}

// Stats derives counts from the current records.
func (m *Mirror) Stats() domain.Stats {
	m.mu.RLock()
	records, pages, capturedAt := m.records, m.pagesLoaded, m.capturedAt
	loaded, fromCache := m.loaded, m.fromCache
	m.mu.RUnlock()

	stats := domain.NewSnapshotMetadata(records, pages, capturedAt).Stats()
	stats.Loaded = loaded
	stats.FromCache = fromCache
	return stats
}

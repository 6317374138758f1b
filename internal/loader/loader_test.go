package loader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/kinomirror/internal/adapter"
	"github.com/mmcdole/kinomirror/internal/domain"
	"github.com/mmcdole/kinomirror/internal/store"
)

// fakeRepo serves pages from a map; missing pages are empty.
type fakeRepo struct {
	pages  map[int][]domain.CatalogRecord
	fail   map[int]bool
	total  int
	called atomic.Int32
}

func (f *fakeRepo) FetchPage(ctx context.Context, page int) (domain.CatalogPage, error) {
	f.called.Add(1)
	if f.fail[page] {
		return domain.CatalogPage{}, errors.New("boom")
	}
	return domain.CatalogPage{Page: page, TotalPages: f.total, Records: f.pages[page]}, nil
}

func (f *fakeRepo) FetchFiltered(ctx context.Context, dim domain.FilterDimension, value string, page int) (domain.CatalogPage, error) {
	return domain.CatalogPage{}, errors.New("not supported")
}

type fakeMirror struct {
	mu       sync.Mutex
	loaded   bool
	records  []domain.CatalogRecord
	progress []domain.LoadProgress
	extended int
}

func (m *fakeMirror) Loaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded
}

func (m *fakeMirror) SetProgress(p domain.LoadProgress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress = append(m.progress, p)
}

func (m *fakeMirror) Extend(records []domain.CatalogRecord, pages int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extended++
	m.records = append(m.records, records...)
	return len(records)
}

func (m *fakeMirror) Replace(records []domain.CatalogRecord, meta domain.SnapshotMetadata) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = records
	m.loaded = true
}

func rec(slug string, year int) domain.CatalogRecord {
	return domain.CatalogRecord{Slug: slug, Name: slug, Year: year}
}

func newLoader(t *testing.T, repo domain.CatalogRepository, cfg Config) (*Loader, *fakeMirror, *store.SnapshotStore) {
	t.Helper()
	s, err := store.NewSnapshotStore("")
	require.NoError(t, err)
	m := &fakeMirror{}
	return New(repo, s, m, cfg, adapter.NullLogger()), m, s
}

func TestLoadFullDedupsFirstSeenWins(t *testing.T) {
	repo := &fakeRepo{pages: map[int][]domain.CatalogRecord{
		1: {rec("a", 2020)},
		2: {rec("a", 2021), rec("b", 2022)},
	}}
	l, m, s := newLoader(t, repo, Config{BatchSize: 1, MaxPages: 2})

	snap, stats := l.LoadFull(context.Background(), nil)

	require.Empty(t, stats.Error)
	assert.True(t, stats.Loaded)
	assert.Equal(t, 2, stats.Movies)
	require.Len(t, snap.Records, 2)
	assert.Equal(t, "a", snap.Records[0].Slug)
	assert.Equal(t, 2020, snap.Records[0].Year)

	assert.True(t, m.Loaded())
	assert.Len(t, m.records, 2)

	persisted, ok := s.Load(DefaultSnapshotKey)
	require.True(t, ok)
	assert.Len(t, persisted.Records, 2)
}

func TestLoadFullNoDuplicateSlugs(t *testing.T) {
	pages := make(map[int][]domain.CatalogRecord)
	for p := 1; p <= 7; p++ {
		// every page overlaps with the previous one
		pages[p] = []domain.CatalogRecord{rec(string(rune('a'+p)), 2000+p), rec(string(rune('a'+p-1)), 1990)}
	}
	l, _, _ := newLoader(t, &fakeRepo{pages: pages}, Config{BatchSize: 3, MaxPages: 7})

	snap, _ := l.LoadFull(context.Background(), nil)

	seen := make(map[string]bool)
	for _, r := range snap.Records {
		assert.False(t, seen[r.Slug], "duplicate slug %s", r.Slug)
		seen[r.Slug] = true
	}
	assert.Len(t, snap.Records, 8)
}

func TestLoadFullAllEmptyTerminates(t *testing.T) {
	repo := &fakeRepo{}
	l, m, s := newLoader(t, repo, Config{BatchSize: 20, MaxPages: 5})

	snap, stats := l.LoadFull(context.Background(), nil)

	assert.Equal(t, 0, stats.Movies)
	assert.NotEmpty(t, stats.Error)
	assert.Empty(t, snap.Records)
	assert.Equal(t, int32(5), repo.called.Load())
	assert.False(t, m.Loaded())
	assert.False(t, s.StatusOf(DefaultSnapshotKey).Present, "empty loads are not persisted")
}

func TestLoadFullStopsOnConsecutiveErrors(t *testing.T) {
	repo := &fakeRepo{
		pages: map[int][]domain.CatalogRecord{1: {rec("a", 2020)}},
		fail:  map[int]bool{2: true, 3: true, 4: true},
	}
	for p := 5; p <= 20; p++ {
		repo.pages[p] = []domain.CatalogRecord{rec("late", 2020)}
	}
	l, _, _ := newLoader(t, repo, Config{BatchSize: 4, MaxPages: 20, MaxConsecutiveErrors: 3})

	snap, stats := l.LoadFull(context.Background(), nil)

	assert.Empty(t, stats.Error)
	assert.Len(t, snap.Records, 1)
	assert.Equal(t, int32(4), repo.called.Load(), "stops after the batch that reached the threshold")
}

func TestLoadFullSuccessResetsErrorCount(t *testing.T) {
	repo := &fakeRepo{
		pages: map[int][]domain.CatalogRecord{1: {rec("a", 1)}, 3: {rec("b", 1)}, 5: {rec("c", 1)}},
		fail:  map[int]bool{2: true, 4: true},
	}
	l, _, _ := newLoader(t, repo, Config{BatchSize: 5, MaxPages: 5, MaxConsecutiveErrors: 2})

	snap, _ := l.LoadFull(context.Background(), nil)
	assert.Len(t, snap.Records, 3)
}

func TestLoadFullReportsProgressPerBatch(t *testing.T) {
	pages := make(map[int][]domain.CatalogRecord)
	for p := 1; p <= 10; p++ {
		pages[p] = []domain.CatalogRecord{rec(string(rune('a'+p)), 2000)}
	}
	l, m, _ := newLoader(t, &fakeRepo{pages: pages}, Config{BatchSize: 4, MaxPages: 10})

	var reports []domain.LoadProgress
	l.LoadFull(context.Background(), func(p domain.LoadProgress) {
		reports = append(reports, p)
	})

	require.Len(t, reports, 3)
	assert.Equal(t, 4, reports[0].PagesDone)
	assert.Equal(t, 8, reports[1].PagesDone)
	assert.Equal(t, 10, reports[2].PagesDone)
	assert.InDelta(t, 100.0, reports[2].Percentage, 0.001)

	// initial reset plus one update per batch
	require.Len(t, m.progress, 4)
	assert.Equal(t, 0, m.progress[0].PagesDone)
}

func TestLoadFullNarrowsCeilingToRemoteTotal(t *testing.T) {
	pages := map[int][]domain.CatalogRecord{
		1: {rec("a", 1)}, 2: {rec("b", 1)}, 3: {rec("c", 1)},
	}
	repo := &fakeRepo{pages: pages, total: 3}
	l, _, _ := newLoader(t, repo, Config{BatchSize: 2, MaxPages: 100})

	snap, stats := l.LoadFull(context.Background(), nil)
	assert.Len(t, snap.Records, 3)
	assert.Equal(t, 3, stats.PagesLoaded)
	assert.Equal(t, int32(3), repo.called.Load(), "second batch is cut at the remote total")
}

func TestLoadFullPublishesPartialResultsWhenCold(t *testing.T) {
	pages := map[int][]domain.CatalogRecord{1: {rec("a", 1)}, 2: {rec("b", 1)}}
	l, m, _ := newLoader(t, &fakeRepo{pages: pages}, Config{BatchSize: 1, MaxPages: 2})

	l.LoadFull(context.Background(), nil)
	assert.Equal(t, 2, m.extended)
}

func TestLoadFullCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l, m, _ := newLoader(t, &fakeRepo{}, Config{MaxPages: 5})

	_, stats := l.LoadFull(ctx, nil)
	assert.Equal(t, domain.ErrLoadCancelled.Error(), stats.Error)
	assert.False(t, m.Loaded())
}

func TestPreload(t *testing.T) {
	pages := map[int][]domain.CatalogRecord{1: {rec("a", 1)}, 2: {rec("b", 1)}}
	l, m, s := newLoader(t, &fakeRepo{pages: pages, fail: map[int]bool{3: true}}, Config{})

	added := l.Preload(context.Background(), 3)
	assert.Equal(t, 2, added)
	assert.Len(t, m.records, 2)
	assert.False(t, m.Loaded())
	assert.False(t, s.StatusOf(DefaultSnapshotKey).Present)
}

package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/mmcdole/kinomirror/internal/domain"
)

const key = "catalog-snapshot"

func sampleRecords() []domain.CatalogRecord {
	return []domain.CatalogRecord{
		{Slug: "a", Name: "A", Year: 2020, Categories: []domain.NamedRef{{Name: "Drama", Slug: "drama"}}},
		{Slug: "b", Name: "B", Year: 2021, Countries: []domain.NamedRef{{Name: "Japan"}}},
	}
}

func newDiskStore(t *testing.T, now func() time.Time) (*SnapshotStore, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewSnapshotStore(dir, WithClock(now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, dir
}

func TestSaveLoadRoundTrip(t *testing.T) {
	captured := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s, _ := newDiskStore(t, func() time.Time { return captured.Add(90 * time.Minute) })

	recs := sampleRecords()
	meta := domain.NewSnapshotMetadata(recs, 2, captured)
	require.NoError(t, s.Save(key, recs, meta))

	snap, ok := s.Load(key)
	require.True(t, ok)
	assert.Len(t, snap.Records, 2)
	assert.Equal(t, 2, snap.Metadata.Count)
	assert.Equal(t, 1, snap.Metadata.CategoryCount)
	assert.Equal(t, 1, snap.Metadata.CountryCount)
	assert.Equal(t, 2, snap.Metadata.YearCount)

	status := s.StatusOf(key)
	assert.True(t, status.Present)
	assert.Equal(t, 90*time.Minute, status.Age)
}

func TestSnapshotSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSnapshotStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Save(key, sampleRecords(), domain.NewSnapshotMetadata(sampleRecords(), 1, time.Now())))
	require.NoError(t, s.Close())

	reopened, err := NewSnapshotStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	snap, ok := reopened.Load(key)
	require.True(t, ok)
	assert.Len(t, snap.Records, 2)
}

func TestMissingSnapshot(t *testing.T) {
	s, _ := newDiskStore(t, time.Now)

	_, ok := s.Load(key)
	assert.False(t, ok)
	assert.False(t, s.StatusOf(key).Present)
}

func TestCorruptSnapshotReadsAsAbsent(t *testing.T) {
	s, _ := newDiskStore(t, time.Now)
	require.NoError(t, s.Save(key, sampleRecords(), domain.NewSnapshotMetadata(sampleRecords(), 1, time.Now())))

	require.NoError(t, s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Put([]byte(key), []byte("{not json"))
	}))

	_, ok := s.Load(key)
	assert.False(t, ok)
	assert.False(t, s.StatusOf(key).Present, "corrupt entry is dropped with its header")
}

func TestClear(t *testing.T) {
	s, _ := newDiskStore(t, time.Now)
	require.NoError(t, s.Save(key, sampleRecords(), domain.NewSnapshotMetadata(sampleRecords(), 1, time.Now())))
	require.NoError(t, s.Save("other", sampleRecords(), domain.NewSnapshotMetadata(sampleRecords(), 1, time.Now())))

	require.NoError(t, s.Clear())

	_, ok := s.Load(key)
	assert.False(t, ok)
	assert.False(t, s.StatusOf("other").Present)
}

func TestMemoryOnlyMode(t *testing.T) {
	s, err := NewSnapshotStore("")
	require.NoError(t, err)

	require.NoError(t, s.Save(key, sampleRecords(), domain.NewSnapshotMetadata(sampleRecords(), 1, time.Now())))
	snap, ok := s.Load(key)
	require.True(t, ok)
	assert.Len(t, snap.Records, 2)

	require.NoError(t, s.Clear())
	_, ok = s.Load(key)
	assert.False(t, ok)
	assert.NoError(t, s.Close())
}

func TestLastWriteWins(t *testing.T) {
	s, _ := newDiskStore(t, time.Now)
	recs := sampleRecords()
	require.NoError(t, s.Save(key, recs, domain.NewSnapshotMetadata(recs, 1, time.Now())))
	require.NoError(t, s.Save(key, recs[:1], domain.NewSnapshotMetadata(recs[:1], 1, time.Now())))

	snap, ok := s.Load(key)
	require.True(t, ok)
	assert.Len(t, snap.Records, 1)
}

func TestFailedSaveLeavesNoStatus(t *testing.T) {
	s, _ := newDiskStore(t, time.Now)
	require.NoError(t, s.Close())

	recs := sampleRecords()
	err := s.Save(key, recs, domain.NewSnapshotMetadata(recs, 1, time.Now()))
	require.Error(t, err)

	assert.False(t, s.StatusOf(key).Present)
	_, ok := s.Load(key)
	assert.False(t, ok)
}

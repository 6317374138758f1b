package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/mmcdole/kinomirror/internal/domain"
)

// Bucket names
var (
	bucketSnapshots = []byte("snapshots")
	bucketMeta      = []byte("snapshot_meta")
)

const dbFileName = "kinomirror.db"

// SnapshotStore implements domain.SnapshotStore using BoltDB.
type SnapshotStore struct {
	db     *bolt.DB
	mu     sync.RWMutex // Protects memory cache
	logger *slog.Logger
	now    func() time.Time

	// Metadata headers are small and read on every status call, so they live
	// in memory too. Payloads are only kept here in memory-only mode.
	cache map[string][]byte
}

// Option configures a SnapshotStore.
type Option func(*SnapshotStore)

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *SnapshotStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides time.Now for age calculations.
func WithClock(now func() time.Time) Option {
	return func(s *SnapshotStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSnapshotStore opens (or creates) the snapshot database under dir.
// An empty dir selects memory-only mode.
func NewSnapshotStore(dir string, opts ...Option) (*SnapshotStore, error) {
	s := &SnapshotStore{
		logger: slog.Default(),
		now:    time.Now,
		cache:  make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(s)
	}

	if dir == "" {
		return s, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dir, dbFileName)
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketSnapshots, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	s.db = db
	return s, nil
}

func (s *SnapshotStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// === Generic helpers ===

func (s *SnapshotStore) read(bucket []byte, key string) []byte {
	cacheKey := string(bucket) + ":" + key

	s.mu.RLock()
	if data, ok := s.cache[cacheKey]; ok {
		s.mu.RUnlock()
		return data
	}
	s.mu.RUnlock()

	if s.db == nil {
		return nil
	}

	var data []byte
	s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})
	return data
}

func (s *SnapshotStore) promote(bucket []byte, key string, data []byte) {
	s.mu.Lock()
	s.cache[string(bucket)+":"+key] = data
	s.mu.Unlock()
}

func (s *SnapshotStore) forget(key string) {
	s.mu.Lock()
	delete(s.cache, string(bucketSnapshots)+":"+key)
	delete(s.cache, string(bucketMeta)+":"+key)
	s.mu.Unlock()

	if s.db == nil {
		return
	}
	s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketSnapshots, bucketMeta} {
			if b := tx.Bucket(bucket); b != nil {
				b.Delete([]byte(key))
			}
		}
		return nil
	})
}

// === Snapshots ===

// Save writes records and metadata under key. Last write wins.
func (s *SnapshotStore) Save(key string, records []domain.CatalogRecord, meta domain.SnapshotMetadata) error {
	if records == nil {
		records = []domain.CatalogRecord{}
	}
	payload, err := json.Marshal(domain.Snapshot{Records: records, Metadata: meta})
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	header, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot metadata: %w", err)
	}

	if s.db == nil {
		s.promote(bucketSnapshots, key, payload)
		s.promote(bucketMeta, key, header)
		return nil
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketSnapshots).Put([]byte(key), payload); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put([]byte(key), header)
	})
	if err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	s.promote(bucketMeta, key, header)
	return nil
}

// Load returns the snapshot under key. Corrupt entries are dropped and
// reported as absent.
func (s *SnapshotStore) Load(key string) (*domain.Snapshot, bool) {
	data := s.read(bucketSnapshots, key)
	if data == nil {
		return nil, false
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.logger.Warn("dropping unreadable snapshot",
			"key", key,
			"error", fmt.Errorf("%w: %v", domain.ErrSnapshotCorrupt, err),
		)
		s.forget(key)
		return nil, false
	}
	if snap.Metadata.Count == 0 {
		snap.Metadata.Count = len(snap.Records)
	}
	return &snap, true
}

// StatusOf reports presence and age without decoding the records.
func (s *SnapshotStore) StatusOf(key string) domain.SnapshotStatus {
	data := s.read(bucketMeta, key)
	if data == nil {
		return domain.SnapshotStatus{}
	}

	var meta domain.SnapshotMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		s.logger.Warn("snapshot metadata unreadable", "key", key, "error", err)
		return domain.SnapshotStatus{}
	}
	s.promote(bucketMeta, key, data)

	age := s.now().Sub(meta.CapturedAt)
	if age < 0 {
		age = 0
	}
	return domain.SnapshotStatus{Present: true, Age: age}
}

// Clear wipes every snapshot.
func (s *SnapshotStore) Clear() error {
	s.mu.Lock()
	s.cache = make(map[string][]byte)
	s.mu.Unlock()

	if s.db == nil {
		return nil
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketSnapshots, bucketMeta} {
			if err := tx.DeleteBucket(bucket); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
				return err
			}
			if _, err := tx.CreateBucket(bucket); err != nil {
				return err
			}
		}
		return nil
	})
}

package domain

import (
	"context"
)

// FilterDimension selects a filtered remote listing.
type FilterDimension string

const (
	DimensionCategory FilterDimension = "category"
	DimensionCountry  FilterDimension = "country"
	DimensionYear     FilterDimension = "year"
)

// CatalogRepository provides access to the remote paginated catalog
type CatalogRepository interface {
	// FetchPage returns one page of the newest-updated listing (1-based)
	FetchPage(ctx context.Context, page int) (CatalogPage, error)

	// FetchFiltered returns one page of a listing restricted to a category,
	// country or year
	FetchFiltered(ctx context.Context, dim FilterDimension, value string, page int) (CatalogPage, error)
}

// SnapshotStore persists the mirror between runs.
// Corrupt entries read as absent. No entry ever expires on its own.
type SnapshotStore interface {
	Save(key string, records []CatalogRecord, meta SnapshotMetadata) error
	Load(key string) (*Snapshot, bool)
	StatusOf(key string) SnapshotStatus
	Clear() error
	Close() error
}

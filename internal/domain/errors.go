package domain

import "errors"

// Sentinel errors for domain operations
var (
	// ErrCatalogUnavailable indicates the remote catalog could not be reached
	ErrCatalogUnavailable = errors.New("remote catalog is unreachable")

	// ErrUpstreamStatus indicates the remote catalog answered with a non-success status
	ErrUpstreamStatus = errors.New("remote catalog returned an error status")

	// ErrEmptyCatalog indicates a load finished without any usable record
	ErrEmptyCatalog = errors.New("no usable records loaded")

	// ErrLoadCancelled indicates a load was stopped by its context
	ErrLoadCancelled = errors.New("load cancelled")

	// ErrSnapshotCorrupt indicates a persisted snapshot could not be decoded
	ErrSnapshotCorrupt = errors.New("snapshot is corrupt")
)

package domain

import "time"

// SnapshotMetadata is derived from the records at capture time.
type SnapshotMetadata struct {
	Count         int       `json:"count"`
	CategoryCount int       `json:"categoryCount"`
	CountryCount  int       `json:"countryCount"`
	YearCount     int       `json:"yearCount"`
	PagesLoaded   int       `json:"pagesLoaded"`
	CapturedAt    time.Time `json:"capturedAt"`
}

// Snapshot is the persisted form of a completed full load.
type Snapshot struct {
	Records  []CatalogRecord  `json:"records"`
	Metadata SnapshotMetadata `json:"metadata"`
}

// SnapshotStatus answers "is there a snapshot, and how old".
type SnapshotStatus struct {
	Present bool
	Age     time.Duration
}

// NewSnapshotMetadata counts distinct categories, countries and years.
func NewSnapshotMetadata(records []CatalogRecord, pages int, capturedAt time.Time) SnapshotMetadata {
	categories := make(map[string]struct{})
	countries := make(map[string]struct{})
	years := make(map[int]struct{})
	for _, r := range records {
		for _, c := range r.Categories {
			categories[refKey(c)] = struct{}{}
		}
		for _, c := range r.Countries {
			countries[refKey(c)] = struct{}{}
		}
		if r.Year > 0 {
			years[r.Year] = struct{}{}
		}
	}
	return SnapshotMetadata{
		Count:         len(records),
		CategoryCount: len(categories),
		CountryCount:  len(countries),
		YearCount:     len(years),
		PagesLoaded:   pages,
		CapturedAt:    capturedAt,
	}
}

func refKey(r NamedRef) string {
	if r.Slug != "" {
		return r.Slug
	}
	return r.Name
}

// Stats converts metadata into caller-facing stats.
func (m SnapshotMetadata) Stats() Stats {
	return Stats{
		Movies:      m.Count,
		Categories:  m.CategoryCount,
		Countries:   m.CountryCount,
		Years:       m.YearCount,
		PagesLoaded: m.PagesLoaded,
		CapturedAt:  m.CapturedAt,
	}
}

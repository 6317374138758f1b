package domain

import (
	"encoding/json"
	"time"
)

// LoadProgress reports how far a full load has come.
// Reset to zero whenever a new full load starts.
type LoadProgress struct {
	PagesDone      int     `json:"pagesDone"`
	PagesEstimated int     `json:"pagesEstimated"`
	Percentage     float64 `json:"percentage"`
}

// NewLoadProgress computes the percentage, capped at 100.
func NewLoadProgress(done, estimated int) LoadProgress {
	p := LoadProgress{PagesDone: done, PagesEstimated: estimated}
	if estimated > 0 {
		p.Percentage = float64(done) / float64(estimated) * 100
		if p.Percentage > 100 {
			p.Percentage = 100
		}
	}
	return p
}

// ProgressFunc is called once per completed batch.
type ProgressFunc func(LoadProgress)

// Stats summarizes the mirror after an initialize or load.
// A total load failure is Movies == 0 with Error set.
type Stats struct {
	Movies      int       `json:"movies"`
	Categories  int       `json:"categories"`
	Countries   int       `json:"countries"`
	Years       int       `json:"years"`
	Loaded      bool      `json:"loaded"`
	FromCache   bool      `json:"fromCache"`
	Stale       bool      `json:"stale"`
	PagesLoaded int       `json:"pagesLoaded"`
	CapturedAt  time.Time `json:"capturedAt,omitzero"`
	Error       string    `json:"error,omitempty"`
}

// CacheStatus describes the persisted snapshot.
type CacheStatus struct {
	HasCache  bool           `json:"hasCache"`
	CacheAge  *time.Duration `json:"-"` // nil when no snapshot exists
	FromCache bool           `json:"fromCache"`
	Stale     bool           `json:"stale"`
}

// MarshalJSON renders CacheAge as milliseconds, or null when absent.
func (s CacheStatus) MarshalJSON() ([]byte, error) {
	var age *int64
	if s.CacheAge != nil {
		ms := s.CacheAge.Milliseconds()
		age = &ms
	}
	return json.Marshal(struct {
		HasCache  bool   `json:"hasCache"`
		CacheAge  *int64 `json:"cacheAge"`
		FromCache bool   `json:"fromCache"`
		Stale     bool   `json:"stale"`
	}{s.HasCache, age, s.FromCache, s.Stale})
}

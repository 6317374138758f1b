package domain

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Epoch is the fallback timestamp for records without modified/created times.
var Epoch = time.Unix(0, 0).UTC()

// MediaKind is the coarse content bucket used by the type filter.
type MediaKind string

const (
	KindUnknown   MediaKind = ""
	KindSingle    MediaKind = "single"
	KindSeries    MediaKind = "series"
	KindAnimation MediaKind = "animation"
)

// Valid reports whether k is one of the three concrete buckets.
func (k MediaKind) Valid() bool {
	return k == KindSingle || k == KindSeries || k == KindAnimation
}

// Confidence says how a record's kind was established.
type Confidence int

const (
	ConfidenceUnknown Confidence = iota
	ConfidenceInferred
	ConfidenceExplicit
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceExplicit:
		return "explicit"
	case ConfidenceInferred:
		return "inferred"
	default:
		return "unknown"
	}
}

func (c Confidence) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Confidence) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "explicit":
		*c = ConfidenceExplicit
	case "inferred":
		*c = ConfidenceInferred
	default:
		*c = ConfidenceUnknown
	}
	return nil
}

// NamedRef is a category or country tag attached to a record.
type NamedRef struct {
	Name string `json:"name"`
	Slug string `json:"slug,omitempty"`
}

// CatalogRecord is one normalized entry of the remote catalog.
type CatalogRecord struct {
	Slug         string     `json:"slug"`                   // Dedup identity
	Name         string     `json:"name"`                   // Display title
	OriginalName string     `json:"originalName,omitempty"` // Title in original language
	Year         int        `json:"year,omitempty"`         // 0 when unknown
	Categories   []NamedRef `json:"categories,omitempty"`
	Countries    []NamedRef `json:"countries,omitempty"`

	// Type is the kind the remote record declares, empty if it declares none
	// or declares something unrecognized (kept in TypeRaw).
	Type    MediaKind `json:"type,omitempty"`
	TypeRaw string    `json:"typeRaw,omitempty"`

	// InferredType is the heuristic classification; advisory only.
	InferredType   MediaKind  `json:"inferredType,omitempty"`
	TypeConfidence Confidence `json:"typeConfidence"`

	// Episode counters are loosely typed upstream: "12", "Tập 5/12", "Full".
	EpisodeCurrent string `json:"episodeCurrent,omitempty"`
	EpisodeTotal   string `json:"episodeTotal,omitempty"`

	ModifiedTime time.Time `json:"modifiedTime"`
	CreatedTime  time.Time `json:"createdTime"`

	Synopsis  string   `json:"synopsis,omitempty"`
	Cast      []string `json:"cast,omitempty"`
	Directors []string `json:"directors,omitempty"`

	PosterURL string `json:"posterUrl,omitempty"`
	ThumbURL  string `json:"thumbUrl,omitempty"`
	Quality   string `json:"quality,omitempty"`
	Language  string `json:"language,omitempty"`
}

var episodeNumbers = regexp.MustCompile(`\d+`)

// EpisodeCounts parses the loosely typed episode fields.
// Missing values are returned as 0.
func (r CatalogRecord) EpisodeCounts() (current, total int) {
	cur := episodeNumbers.FindAllString(r.EpisodeCurrent, -1)
	if len(cur) > 0 {
		current, _ = strconv.Atoi(cur[0])
	}
	// "5/12" carries the total inside the current field
	if len(cur) > 1 && strings.Contains(r.EpisodeCurrent, "/") {
		total, _ = strconv.Atoi(cur[1])
	}
	if tot := episodeNumbers.FindString(r.EpisodeTotal); tot != "" {
		total, _ = strconv.Atoi(tot)
	}
	return current, total
}

// ModifiedOrEpoch returns the modification time, falling back to Epoch.
func (r CatalogRecord) ModifiedOrEpoch() time.Time {
	if r.ModifiedTime.IsZero() {
		return Epoch
	}
	return r.ModifiedTime
}

// CreatedOrEpoch returns the creation time, falling back to Epoch.
func (r CatalogRecord) CreatedOrEpoch() time.Time {
	if r.CreatedTime.IsZero() {
		return Epoch
	}
	return r.CreatedTime
}

// Clone returns a deep copy so cached values cannot be mutated by callers.
func (r CatalogRecord) Clone() CatalogRecord {
	c := r
	c.Categories = append([]NamedRef(nil), r.Categories...)
	c.Countries = append([]NamedRef(nil), r.Countries...)
	c.Cast = append([]string(nil), r.Cast...)
	c.Directors = append([]string(nil), r.Directors...)
	return c
}

// CatalogPage is one page of the remote listing.
type CatalogPage struct {
	Page       int
	TotalPages int // 0 when the response does not say
	Records    []CatalogRecord
}

package search

import (
	"sort"
	"strings"

	"github.com/mmcdole/kinomirror/internal/domain"
)

// SortField represents the field to sort by
type SortField int

const (
	SortModified SortField = iota
	SortCreated
	SortYear
)

// String returns the query-parameter name of the field
func (f SortField) String() string {
	switch f {
	case SortCreated:
		return "createdTime"
	case SortYear:
		return "year"
	default:
		return "modifiedTime"
	}
}

// SortDirection represents ascending or descending order
type SortDirection int

const (
	SortDesc SortDirection = iota
	SortAsc
)

func (d SortDirection) String() string {
	if d == SortAsc {
		return "asc"
	}
	return "desc"
}

var sortFieldNames = map[string]SortField{
	"modifiedtime":  SortModified,
	"modified_time": SortModified,
	"modified":      SortModified,
	"updated":       SortModified,
	"createdtime":   SortCreated,
	"created_time":  SortCreated,
	"created":       SortCreated,
	"year":          SortYear,
}

// ParseSort resolves the sort options. Unknown or absent fields default to
// modifiedTime, unknown or absent directions to descending.
func ParseSort(field, direction string) (SortField, SortDirection) {
	f, ok := sortFieldNames[strings.ToLower(strings.TrimSpace(field))]
	if !ok {
		f = SortModified
	}
	d := SortDesc
	if strings.EqualFold(strings.TrimSpace(direction), "asc") {
		d = SortAsc
	}
	return f, d
}

func sortKey(r domain.CatalogRecord, f SortField) int64 {
	switch f {
	case SortCreated:
		return r.CreatedOrEpoch().UnixMilli()
	case SortYear:
		return int64(r.Year)
	default:
		return r.ModifiedOrEpoch().UnixMilli()
	}
}

// Sort returns a stably sorted copy of records. Ties keep input order.
func Sort(records []domain.CatalogRecord, f SortField, d SortDirection) []domain.CatalogRecord {
	out := append([]domain.CatalogRecord(nil), records...)
	keys := make([]int64, len(out))
	for i := range out {
		keys[i] = sortKey(out[i], f)
	}

	sort.Stable(byKey{records: out, keys: keys, desc: d == SortDesc})
	return out
}

type byKey struct {
	records []domain.CatalogRecord
	keys    []int64
	desc    bool
}

func (b byKey) Len() int { return len(b.records) }

func (b byKey) Less(i, j int) bool {
	if b.desc {
		return b.keys[i] > b.keys[j]
	}
	return b.keys[i] < b.keys[j]
}

func (b byKey) Swap(i, j int) {
	b.records[i], b.records[j] = b.records[j], b.records[i]
	b.keys[i], b.keys[j] = b.keys[j], b.keys[i]
}

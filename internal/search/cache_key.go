package search

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/mmcdole/kinomirror/internal/domain"
)

// CacheKey identifies one cached query answer.
type CacheKey struct {
	Tier      domain.Tier
	Canonical string
}

func (k CacheKey) String() string {
	return k.Canonical
}

// BuildCacheKey derives the canonical key for a query. Fields appear in a
// fixed order, values are trimmed, lower-cased and escaped, and defaults are
// filled in, so equivalent calls share a key and distinct ones never collide.
func BuildCacheKey(tier domain.Tier, keyword string, opts domain.SearchOptions) CacheKey {
	opts = opts.WithDefaults()
	field, dir := ParseSort(opts.Sort, opts.SortType)

	parts := []string{
		"tier=" + string(tier),
		"q=" + keyPart(keyword),
		"cat=" + keyPart(opts.Category),
		"country=" + keyPart(opts.Country),
		"year=" + keyPart(opts.Year),
		"type=" + keyPart(opts.Type),
		"sort=" + field.String(),
		"dir=" + dir.String(),
		"page=" + strconv.Itoa(opts.Page),
		"limit=" + strconv.Itoa(opts.Limit),
	}
	return CacheKey{Tier: tier, Canonical: strings.Join(parts, "|")}
}

func keyPart(s string) string {
	return url.QueryEscape(strings.ToLower(strings.TrimSpace(s)))
}

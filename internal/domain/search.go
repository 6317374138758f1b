package domain

// Tier is a search depth. Each tier trades latency for completeness.
type Tier string

const (
	TierInstant  Tier = "instant"  // mirror only
	TierExtended Tier = "extended" // mirror plus a few extra remote pages
	TierFull     Tier = "full"     // complete mirror, loading it if needed
	TierDirect   Tier = "direct"   // last resort: newest remote page
	TierNone     Tier = "none"     // every tier failed
)

// SearchOptions are the caller-supplied query parameters.
// Empty strings mean "no constraint".
type SearchOptions struct {
	Page     int    `json:"page"`
	Limit    int    `json:"limit"`
	Category string `json:"category,omitempty"`
	Country  string `json:"country,omitempty"`
	Year     string `json:"year,omitempty"`
	Type     string `json:"type,omitempty"`
	Sort     string `json:"sort,omitempty"`
	SortType string `json:"sortType,omitempty"`
}

const (
	DefaultPage  = 1
	DefaultLimit = 20
)

// WithDefaults fills page and limit.
func (o SearchOptions) WithDefaults() SearchOptions {
	if o.Page == 0 {
		o.Page = DefaultPage
	}
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	return o
}

// Filters extracts the filter part of the options.
func (o SearchOptions) Filters() Filters {
	return Filters{Category: o.Category, Country: o.Country, Year: o.Year, Type: o.Type}
}

// Filters is the input to the filter pipeline.
type Filters struct {
	Category string
	Country  string
	Year     string
	Type     string
}

// SearchResult is one page of a query answer.
type SearchResult struct {
	Items       []CatalogRecord `json:"items"`
	TotalItems  int             `json:"totalItems"`
	TotalPages  int             `json:"totalPages"`
	Page        int             `json:"page"`
	Limit       int             `json:"limit"`
	Tier        Tier            `json:"tier"`
	Keyword     string          `json:"keyword,omitempty"`
	Suggestions []string        `json:"suggestions,omitempty"`
}

// EmptyResult is the explicit answer when every tier failed.
func EmptyResult(keyword string, opts SearchOptions) SearchResult {
	opts = opts.WithDefaults()
	return SearchResult{
		Items:      []CatalogRecord{},
		TotalPages: 1,
		Page:       opts.Page,
		Limit:      opts.Limit,
		Tier:       TierNone,
		Keyword:    keyword,
	}
}

// Clone deep-copies the result.
func (r SearchResult) Clone() SearchResult {
	c := r
	c.Items = make([]CatalogRecord, len(r.Items))
	for i, item := range r.Items {
		c.Items[i] = item.Clone()
	}
	c.Suggestions = append([]string(nil), r.Suggestions...)
	return c
}

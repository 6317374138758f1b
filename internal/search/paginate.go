package search

import "github.com/mmcdole/kinomirror/internal/domain"

// Page is one window over a result list.
type Page struct {
	Items      []domain.CatalogRecord
	TotalItems int
	TotalPages int
	Page       int
	Limit      int
}

// Paginate slices records into 1-based pages of size limit.
// Out-of-range pages are empty but still carry correct totals.
func Paginate(records []domain.CatalogRecord, page, limit int) Page {
	if limit <= 0 {
		limit = domain.DefaultLimit
	}
	total := len(records)
	totalPages := max(1, (total+limit-1)/limit)

	p := Page{
		Items:      []domain.CatalogRecord{},
		TotalItems: total,
		TotalPages: totalPages,
		Page:       page,
		Limit:      limit,
	}
	if page < 1 || page > totalPages || total == 0 {
		return p
	}

	start := (page - 1) * limit
	end := min(start+limit, total)
	p.Items = append(p.Items, records[start:end]...)
	return p
}

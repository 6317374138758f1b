package catalog

import "math"

// Extractor pulls the record list out of one response envelope shape.
// It reports false when the shape does not apply.
type Extractor struct {
	Name    string
	Extract func(body any) ([]map[string]any, bool)
}

// DefaultExtractors lists the known envelope shapes, tried in order.
var DefaultExtractors = []Extractor{
	{Name: "items", Extract: func(body any) ([]map[string]any, bool) {
		return objectList(field(body, "items"))
	}},
	{Name: "data.items", Extract: func(body any) ([]map[string]any, bool) {
		return objectList(field(field(body, "data"), "items"))
	}},
	{Name: "data", Extract: func(body any) ([]map[string]any, bool) {
		return objectList(field(body, "data"))
	}},
	{Name: "root", Extract: func(body any) ([]map[string]any, bool) {
		return objectList(body)
	}},
	{Name: "movies", Extract: func(body any) ([]map[string]any, bool) {
		return objectList(field(body, "movies"))
	}},
	{Name: "results", Extract: func(body any) ([]map[string]any, bool) {
		return objectList(field(body, "results"))
	}},
}

// ExtractItems runs the extractors in order; first match wins.
// A body matching none of them yields no records.
func ExtractItems(body any, extractors []Extractor) ([]map[string]any, string) {
	for _, e := range extractors {
		if items, ok := e.Extract(body); ok {
			return items, e.Name
		}
	}
	return nil, ""
}

// ExtractTotalPages probes the pagination envelopes. 0 means unknown.
func ExtractTotalPages(body any) int {
	for _, p := range []any{
		field(body, "pagination"),
		field(field(body, "data"), "pagination"),
		field(field(field(body, "data"), "params"), "pagination"),
		body,
	} {
		if n := intValue(field(p, "totalPages")); n > 0 {
			return n
		}
		if n := intValue(field(p, "total_pages")); n > 0 {
			return n
		}
		items := intValue(field(p, "totalItems"))
		per := intValue(field(p, "totalItemsPerPage"))
		if items > 0 && per > 0 {
			return int(math.Ceil(float64(items) / float64(per)))
		}
	}
	return 0
}

func field(v any, key string) any {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return m[key]
}

func objectList(v any) ([]map[string]any, bool) {
	arr, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]map[string]any, 0, len(arr))
	for _, el := range arr {
		if m, ok := el.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out, true
}

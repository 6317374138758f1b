package catalog

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/kinomirror/internal/domain"
)

// Field aliases, probed in order.
var (
	slugKeys         = []string{"slug", "movie_slug", "Slug"}
	nameKeys         = []string{"name", "title", "Name"}
	originalNameKeys = []string{"origin_name", "original_name", "originalName", "original_title"}
	yearKeys         = []string{"year", "release_year", "releaseYear"}
	categoryKeys     = []string{"category", "categories", "genres", "genre"}
	countryKeys      = []string{"country", "countries"}
	typeKeys         = []string{"type", "kind", "media_type"}
	episodeCurKeys   = []string{"episode_current", "episodeCurrent", "current_episode"}
	episodeTotalKeys = []string{"episode_total", "episodeTotal", "total_episodes"}
	modifiedKeys     = []string{"modified", "modified_time", "modifiedTime", "updated_at", "updatedAt"}
	createdKeys      = []string{"created", "created_time", "createdTime", "created_at", "createdAt"}
	synopsisKeys     = []string{"content", "description", "overview", "synopsis"}
	castKeys         = []string{"actor", "actors", "cast"}
	directorKeys     = []string{"director", "directors"}
	posterKeys       = []string{"poster_url", "posterUrl", "poster"}
	thumbKeys        = []string{"thumb_url", "thumbUrl", "thumb"}
	qualityKeys      = []string{"quality"}
	languageKeys     = []string{"lang", "language"}
)

// Normalize maps one raw remote record to a CatalogRecord.
// It never fails on odd shapes; it returns false only when no slug exists.
func Normalize(raw map[string]any) (domain.CatalogRecord, bool) {
	// Some listings wrap the record: {"movie": {...}}
	if inner, ok := raw["movie"].(map[string]any); ok && firstString(raw, slugKeys) == "" {
		raw = inner
	}

	rec := domain.CatalogRecord{
		Slug:           firstString(raw, slugKeys),
		Name:           firstString(raw, nameKeys),
		OriginalName:   firstString(raw, originalNameKeys),
		Year:           firstInt(raw, yearKeys),
		Categories:     firstRefs(raw, categoryKeys),
		Countries:      firstRefs(raw, countryKeys),
		EpisodeCurrent: firstString(raw, episodeCurKeys),
		EpisodeTotal:   firstString(raw, episodeTotalKeys),
		ModifiedTime:   firstTime(raw, modifiedKeys),
		CreatedTime:    firstTime(raw, createdKeys),
		Synopsis:       firstString(raw, synopsisKeys),
		Cast:           firstStrings(raw, castKeys),
		Directors:      firstStrings(raw, directorKeys),
		PosterURL:      firstString(raw, posterKeys),
		ThumbURL:       firstString(raw, thumbKeys),
		Quality:        firstString(raw, qualityKeys),
		Language:       firstString(raw, languageKeys),
	}
	if rec.Slug == "" {
		return rec, false
	}
	if rec.Name == "" {
		rec.Name = rec.OriginalName
	}

	rec.TypeRaw = firstString(raw, typeKeys)
	rec.Type = ExplicitKind(rec.TypeRaw)
	if rec.Type.Valid() {
		rec.InferredType = rec.Type
		rec.TypeConfidence = domain.ConfidenceExplicit
	} else {
		rec.InferredType, rec.TypeConfidence = InferKind(rec)
	}
	return rec, true
}

// NormalizeAll keeps every record that has a slug, in input order.
func NormalizeAll(raws []map[string]any) []domain.CatalogRecord {
	out := make([]domain.CatalogRecord, 0, len(raws))
	for _, raw := range raws {
		if rec, ok := Normalize(raw); ok {
			out = append(out, rec)
		}
	}
	return out
}

func firstString(m map[string]any, keys []string) string {
	for _, k := range keys {
		if s := stringValue(m[k]); s != "" {
			return s
		}
	}
	return ""
}

func firstInt(m map[string]any, keys []string) int {
	for _, k := range keys {
		if n := intValue(m[k]); n != 0 {
			return n
		}
	}
	return 0
}

func firstRefs(m map[string]any, keys []string) []domain.NamedRef {
	for _, k := range keys {
		if refs := refsValue(m[k]); len(refs) > 0 {
			return refs
		}
	}
	return nil
}

func firstStrings(m map[string]any, keys []string) []string {
	for _, k := range keys {
		if list := stringsValue(m[k]); len(list) > 0 {
			return list
		}
	}
	return nil
}

func firstTime(m map[string]any, keys []string) time.Time {
	for _, k := range keys {
		if t := timeValue(m[k]); !t.IsZero() {
			return t
		}
	}
	return time.Time{}
}

func stringValue(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		if x == math.Trunc(x) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	}
	return ""
}

func intValue(v any) int {
	switch x := v.(type) {
	case float64:
		return int(x)
	case int:
		return x
	case json.Number:
		n, _ := x.Int64()
		return int(n)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}

// refsValue accepts [{name,slug}], ["a","b"], or "a, b".
func refsValue(v any) []domain.NamedRef {
	var out []domain.NamedRef
	switch x := v.(type) {
	case []any:
		for _, el := range x {
			switch e := el.(type) {
			case map[string]any:
				ref := domain.NamedRef{Name: stringValue(e["name"]), Slug: stringValue(e["slug"])}
				if ref.Name == "" {
					ref.Name = ref.Slug
				}
				if ref.Name != "" {
					out = append(out, ref)
				}
			default:
				if s := stringValue(e); s != "" {
					out = append(out, domain.NamedRef{Name: s})
				}
			}
		}
	case map[string]any:
		if name := stringValue(x["name"]); name != "" {
			out = append(out, domain.NamedRef{Name: name, Slug: stringValue(x["slug"])})
		}
	case string:
		for _, part := range strings.Split(x, ",") {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, domain.NamedRef{Name: s})
			}
		}
	}
	return out
}

func stringsValue(v any) []string {
	var out []string
	switch x := v.(type) {
	case []any:
		for _, el := range x {
			if s := stringValue(el); s != "" {
				out = append(out, s)
			}
		}
	case string:
		for _, part := range strings.Split(x, ",") {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// timeValue accepts {"time": ...}, RFC3339-ish strings and epoch numbers
// (seconds or milliseconds).
func timeValue(v any) time.Time {
	switch x := v.(type) {
	case map[string]any:
		return timeValue(x["time"])
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC()
			}
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return epochTime(n)
		}
	case float64:
		return epochTime(int64(x))
	}
	return time.Time{}
}

func epochTime(n int64) time.Time {
	if n <= 0 {
		return time.Time{}
	}
	if n > 1e12 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

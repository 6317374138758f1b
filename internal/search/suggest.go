package search

import (
	"sort"
	"strings"

	lfuzzy "github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/sahilm/fuzzy"

	"github.com/mmcdole/kinomirror/internal/domain"
	"github.com/mmcdole/kinomirror/internal/textnorm"
)

// titleIndex implements fuzzy.Source over record titles.
type titleIndex struct {
	titles []string
}

func (t titleIndex) String(i int) string { return t.titles[i] }
func (t titleIndex) Len() int            { return len(t.titles) }

// distinctTitles returns each display and original title once, folded for
// matching alongside the original text for display.
func distinctTitles(records []domain.CatalogRecord) (display, folded []string) {
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		for _, title := range []string{r.Name, r.OriginalName} {
			if title == "" {
				continue
			}
			if _, ok := seen[title]; ok {
				continue
			}
			seen[title] = struct{}{}
			display = append(display, title)
			folded = append(folded, textnorm.Fold(title))
		}
	}
	return display, folded
}

// Suggest ranks titles that fuzzily match a typed prefix, best first.
func Suggest(records []domain.CatalogRecord, query string, limit int) []string {
	q := textnorm.Fold(query)
	if q == "" || limit <= 0 {
		return nil
	}
	display, folded := distinctTitles(records)
	matches := fuzzy.FindFrom(q, titleIndex{titles: folded})

	out := make([]string, 0, min(limit, len(matches)))
	for _, m := range matches {
		out = append(out, display[m.Index])
		if len(out) == limit {
			break
		}
	}
	return out
}

// DidYouMean proposes titles close to a keyword that matched nothing. The
// keyword is compared to every same-length word window of each title.
func DidYouMean(records []domain.CatalogRecord, keyword string, limit int) []string {
	kwTokens := textnorm.Tokens(keyword)
	if len(kwTokens) == 0 || limit <= 0 {
		return nil
	}
	kw := strings.Join(kwTokens, " ")
	threshold := max(1, len(kw)/4)

	type candidate struct {
		title    string
		distance int
	}
	var candidates []candidate

	display, _ := distinctTitles(records)
	for _, title := range display {
		tokens := textnorm.Tokens(title)
		best := -1
		for i := 0; i+len(kwTokens) <= len(tokens); i++ {
			window := strings.Join(tokens[i:i+len(kwTokens)], " ")
			d := lfuzzy.LevenshteinDistance(kw, window)
			if best < 0 || d < best {
				best = d
			}
		}
		if best >= 0 && best <= threshold {
			candidates = append(candidates, candidate{title: title, distance: best})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].distance != candidates[j].distance {
			return candidates[i].distance < candidates[j].distance
		}
		return candidates[i].title < candidates[j].title
	})

	out := make([]string, 0, min(limit, len(candidates)))
	for _, c := range candidates[:min(limit, len(candidates))] {
		out = append(out, c.title)
	}
	return out
}

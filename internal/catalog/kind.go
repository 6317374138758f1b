package catalog

import (
	"strconv"
	"strings"

	"github.com/mmcdole/kinomirror/internal/domain"
	"github.com/mmcdole/kinomirror/internal/textnorm"
)

var explicitKinds = map[string]domain.MediaKind{
	"single":    domain.KindSingle,
	"movie":     domain.KindSingle,
	"phim-le":   domain.KindSingle,
	"phimle":    domain.KindSingle,
	"series":    domain.KindSeries,
	"tvshows":   domain.KindSeries,
	"tvshow":    domain.KindSeries,
	"tv":        domain.KindSeries,
	"show":      domain.KindSeries,
	"phim-bo":   domain.KindSeries,
	"phimbo":    domain.KindSeries,
	"hoathinh":  domain.KindAnimation,
	"hoat-hinh": domain.KindAnimation,
	"animation": domain.KindAnimation,
	"anime":     domain.KindAnimation,
}

// ExplicitKind maps a declared type value to a bucket.
// Unrecognized values yield KindUnknown.
func ExplicitKind(raw string) domain.MediaKind {
	return explicitKinds[textnorm.Slugify(raw)]
}

// Name and slug tokens that, followed by a number, mark a multi-part release.
var seriesCues = map[string]struct{}{
	"tap":     {},
	"phan":    {},
	"mua":     {},
	"season":  {},
	"episode": {},
	"part":    {},
}

var animationTags = []string{"hoat hinh", "hoat-hinh", "animation", "anime", "cartoon"}

// InferKind classifies a record from indirect cues.
// Order: animation tag, series cues, single cues, unknown.
func InferKind(r domain.CatalogRecord) (domain.MediaKind, domain.Confidence) {
	if HasAnimationTag(r) {
		return domain.KindAnimation, domain.ConfidenceInferred
	}

	current, total := r.EpisodeCounts()
	if total > 1 || current > 1 {
		return domain.KindSeries, domain.ConfidenceInferred
	}
	if hasSeriesCue(r.Name) || hasSeriesCue(r.Slug) || hasSeriesCue(r.OriginalName) {
		return domain.KindSeries, domain.ConfidenceInferred
	}

	if total == 1 || strings.Contains(textnorm.Fold(r.EpisodeCurrent), "full") {
		return domain.KindSingle, domain.ConfidenceInferred
	}
	return domain.KindUnknown, domain.ConfidenceUnknown
}

// HasAnimationTag reports whether any category names the animation genre.
func HasAnimationTag(r domain.CatalogRecord) bool {
	for _, c := range r.Categories {
		name, slug := textnorm.Fold(c.Name), textnorm.Fold(c.Slug)
		for _, tag := range animationTags {
			if strings.Contains(name, tag) || strings.Contains(slug, tag) {
				return true
			}
		}
	}
	return false
}

func hasSeriesCue(s string) bool {
	tokens := textnorm.Tokens(s)
	for i := 0; i+1 < len(tokens); i++ {
		if _, ok := seriesCues[tokens[i]]; !ok {
			continue
		}
		if _, err := strconv.Atoi(tokens[i+1]); err == nil {
			return true
		}
	}
	return false
}

// Package search filters, sorts, paginates and caches queries over the
// in-memory catalog mirror.
package search

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/mmcdole/kinomirror/internal/catalog"
	"github.com/mmcdole/kinomirror/internal/domain"
	"github.com/mmcdole/kinomirror/internal/textnorm"
)

// Query is the pipeline input.
type Query struct {
	Keyword string
	Filters domain.Filters
}

// Predicate decides whether a record survives a stage.
type Predicate func(domain.CatalogRecord) bool

// Stage is one narrowing step. Build returns the predicate for q, or false
// when the stage has nothing to filter on and passes everything through.
type Stage struct {
	Name  string
	Build func(q Query) (Predicate, bool)
}

// StageReport records how many records survived a stage.
type StageReport struct {
	Stage     string `json:"stage"`
	Active    bool   `json:"active"`
	Survivors int    `json:"survivors"`
}

// DefaultStages is the fixed stage order: keyword, category, country, year, type.
var DefaultStages = []Stage{
	{Name: "keyword", Build: keywordStage},
	{Name: "category", Build: categoryStage},
	{Name: "country", Build: countryStage},
	{Name: "year", Build: yearStage},
	{Name: "type", Build: typeStage},
}

// Pipeline applies stages in order. Output is always a subset of the input.
type Pipeline struct {
	stages []Stage
	logger *slog.Logger
}

// NewPipeline creates a pipeline over DefaultStages.
func NewPipeline(logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{stages: DefaultStages, logger: logger}
}

// Apply runs every stage. The input slice is never modified; when no stage
// is active the input itself is returned.
func (p *Pipeline) Apply(records []domain.CatalogRecord, q Query) ([]domain.CatalogRecord, []StageReport) {
	current := records
	reports := make([]StageReport, 0, len(p.stages))

	for _, stage := range p.stages {
		keep, active := stage.Build(q)
		if !active {
			reports = append(reports, StageReport{Stage: stage.Name, Survivors: len(current)})
			continue
		}

		next := make([]domain.CatalogRecord, 0, len(current)/2)
		for _, r := range current {
			if keep(r) {
				next = append(next, r)
			}
		}
		current = next

		reports = append(reports, StageReport{Stage: stage.Name, Active: true, Survivors: len(current)})
		p.logger.Debug("filter stage", "stage", stage.Name, "survivors", len(current))
	}

	return current, reports
}

func keywordStage(q Query) (Predicate, bool) {
	kw := textnorm.Lower(q.Keyword)
	if kw == "" {
		return nil, false
	}
	folded := textnorm.Fold(q.Keyword)

	return func(r domain.CatalogRecord) bool {
		for _, field := range []string{r.Name, r.OriginalName, r.Slug, r.Synopsis} {
			if strings.Contains(strings.ToLower(field), kw) {
				return true
			}
		}
		for _, list := range [][]string{r.Cast, r.Directors} {
			for _, name := range list {
				if strings.Contains(strings.ToLower(name), kw) {
					return true
				}
			}
		}
		// diacritic-insensitive fallback on titles only
		for _, field := range []string{r.Name, r.OriginalName, r.Slug} {
			if strings.Contains(textnorm.Fold(field), folded) {
				return true
			}
		}
		return false
	}, true
}

func categoryStage(q Query) (Predicate, bool) {
	term := textnorm.Slugify(q.Filters.Category)
	if term == "" {
		return nil, false
	}
	return func(r domain.CatalogRecord) bool {
		return anyRef(r.Categories, func(ref string) bool {
			return textnorm.SlugContainsEither(ref, term)
		})
	}, true
}

func countryStage(q Query) (Predicate, bool) {
	term := textnorm.Slugify(q.Filters.Country)
	if term == "" {
		return nil, false
	}
	// known names match whole slug tokens only: "us" must not hit "russia"
	if aliases, known := countryAliases[term]; known {
		return func(r domain.CatalogRecord) bool {
			return anyRef(r.Countries, func(ref string) bool {
				for _, alias := range aliases {
					if containsTokens(ref, alias) || containsTokens(alias, ref) {
						return true
					}
				}
				return false
			})
		}, true
	}

	return func(r domain.CatalogRecord) bool {
		return anyRef(r.Countries, func(ref string) bool {
			return textnorm.SlugContainsEither(ref, term)
		})
	}, true
}

// containsTokens reports whether slug b appears in slug a on token
// boundaries.
func containsTokens(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains("-"+a+"-", "-"+b+"-")
}

// anyRef tests the slug form of every ref name and slug.
func anyRef(refs []domain.NamedRef, match func(string) bool) bool {
	for _, ref := range refs {
		if match(textnorm.Slugify(ref.Name)) {
			return true
		}
		if ref.Slug != "" && match(textnorm.Slugify(ref.Slug)) {
			return true
		}
	}
	return false
}

func yearStage(q Query) (Predicate, bool) {
	raw := strings.TrimSpace(q.Filters.Year)
	if raw == "" {
		return nil, false
	}
	year, err := strconv.Atoi(raw)
	if err != nil || year <= 0 {
		return func(domain.CatalogRecord) bool { return false }, true
	}
	return func(r domain.CatalogRecord) bool {
		return r.Year == year
	}, true
}

func typeStage(q Query) (Predicate, bool) {
	if strings.TrimSpace(q.Filters.Type) == "" {
		return nil, false
	}
	want := catalog.ExplicitKind(q.Filters.Type)
	if !want.Valid() {
		return func(domain.CatalogRecord) bool { return false }, true
	}
	return func(r domain.CatalogRecord) bool {
		return Classify(r) == want
	}, true
}

// Classify puts a record into exactly one bucket. Explicit type fields win;
// otherwise the stored inference is used, recomputed if absent. Records with
// no usable cue fall into the single-release bucket.
func Classify(r domain.CatalogRecord) domain.MediaKind {
	if r.Type.Valid() {
		return r.Type
	}
	if kind := catalog.ExplicitKind(r.TypeRaw); kind.Valid() {
		return kind
	}
	if r.TypeConfidence == domain.ConfidenceInferred && r.InferredType.Valid() {
		return r.InferredType
	}
	if kind, conf := catalog.InferKind(r); conf != domain.ConfidenceUnknown && kind.Valid() {
		return kind
	}
	return domain.KindSingle
}

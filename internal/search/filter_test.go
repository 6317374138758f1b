package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/kinomirror/internal/adapter"
	"github.com/mmcdole/kinomirror/internal/domain"
)

func fixtures() []domain.CatalogRecord {
	return []domain.CatalogRecord{
		{
			Slug: "ha-canh-noi-anh", Name: "Hạ Cánh Nơi Anh", OriginalName: "Crash Landing on You", Year: 2019,
			Type: domain.KindSeries, TypeConfidence: domain.ConfidenceExplicit,
			Categories: []domain.NamedRef{{Name: "Tình Cảm", Slug: "tinh-cam"}},
			Countries:  []domain.NamedRef{{Name: "Hàn Quốc", Slug: "han-quoc"}},
		},
		{
			Slug: "your-name", Name: "Your Name", Year: 2016,
			Categories: []domain.NamedRef{{Name: "Hoạt Hình", Slug: "hoat-hinh"}},
			Countries:  []domain.NamedRef{{Name: "Nhật Bản", Slug: "nhat-ban"}},
			Cast:       []string{"Ryunosuke Kamiki"},
		},
		{
			Slug: "john-wick", Name: "John Wick", Year: 2014, EpisodeCurrent: "Full",
			Categories: []domain.NamedRef{{Name: "Hành Động", Slug: "hanh-dong"}},
			Countries:  []domain.NamedRef{{Name: "Âu Mỹ", Slug: "au-my"}},
			Directors:  []string{"Chad Stahelski"},
		},
		{
			Slug: "tay-du-ky", Name: "Tây Du Ký", Year: 1986, EpisodeCurrent: "Tập 25/25",
			Categories: []domain.NamedRef{{Name: "Cổ Trang", Slug: "co-trang"}},
			Countries:  []domain.NamedRef{{Name: "Trung Quốc", Slug: "trung-quoc"}},
		},
		{
			Slug: "mystery", Name: "Mystery Box",
		},
	}
}

func slugs(records []domain.CatalogRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Slug
	}
	return out
}

func apply(q Query) ([]domain.CatalogRecord, []StageReport) {
	return NewPipeline(adapter.NullLogger()).Apply(fixtures(), q)
}

func TestPipelineNoFiltersPassesEverything(t *testing.T) {
	out, reports := apply(Query{})
	assert.Len(t, out, 5)
	require.Len(t, reports, 5)
	for _, r := range reports {
		assert.False(t, r.Active)
		assert.Equal(t, 5, r.Survivors)
	}
}

func TestKeywordStage(t *testing.T) {
	tests := []struct {
		keyword string
		want    []string
	}{
		{"crash landing", []string{"ha-canh-noi-anh"}},
		{"HẠ CÁNH", []string{"ha-canh-noi-anh"}},
		{"ha canh", []string{"ha-canh-noi-anh"}},
		{"kamiki", []string{"your-name"}},
		{"stahelski", []string{"john-wick"}},
		{"wick", []string{"john-wick"}},
		{"nothing-like-this", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.keyword, func(t *testing.T) {
			out, _ := apply(Query{Keyword: tt.keyword})
			assert.Equal(t, tt.want, slugs(out))
		})
	}
}

func TestCategoryStageIsBidirectional(t *testing.T) {
	out, _ := apply(Query{Filters: domain.Filters{Category: "hành"}})
	assert.Equal(t, []string{"john-wick"}, slugs(out))

	out, _ = apply(Query{Filters: domain.Filters{Category: "Phim Hành Động Mỹ"}})
	assert.Equal(t, []string{"john-wick"}, slugs(out), "term containing the category name")

	out, _ = apply(Query{Filters: domain.Filters{Category: "kinh dị"}})
	assert.Empty(t, out)
}

func TestCountryStageAliases(t *testing.T) {
	tests := []struct {
		country string
		want    []string
	}{
		{"Korea", []string{"ha-canh-noi-anh"}},
		{"hàn quốc", []string{"ha-canh-noi-anh"}},
		{"japan", []string{"your-name"}},
		{"China", []string{"tay-du-ky"}},
		{"USA", []string{"john-wick"}},
		{"Brazil", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.country, func(t *testing.T) {
			out, _ := apply(Query{Filters: domain.Filters{Country: tt.country}})
			assert.Equal(t, tt.want, slugs(out))
		})
	}
}

func TestCountryStageKnownNamesMatchWholeTokens(t *testing.T) {
	records := []domain.CatalogRecord{
		{Slug: "brother", Countries: []domain.NamedRef{{Name: "Nga", Slug: "russia"}}},
		{Slug: "gomorrah", Countries: []domain.NamedRef{{Name: "Ý", Slug: "y"}}},
		{Slug: "john-wick", Countries: []domain.NamedRef{{Name: "Âu Mỹ", Slug: "au-my"}}},
	}
	match := func(country string) []string {
		out, _ := NewPipeline(adapter.NullLogger()).Apply(records, Query{Filters: domain.Filters{Country: country}})
		return slugs(out)
	}

	assert.Equal(t, []string{"john-wick"}, match("us"))
	assert.Equal(t, []string{"gomorrah"}, match("Italy"))
	assert.Equal(t, []string{"brother"}, match("russia"))
	assert.Equal(t, []string{"brother"}, match("rus"), "unknown terms keep substring matching")
}

func TestYearStage(t *testing.T) {
	out, _ := apply(Query{Filters: domain.Filters{Year: " 2016 "}})
	assert.Equal(t, []string{"your-name"}, slugs(out))

	out, reports := apply(Query{Filters: domain.Filters{Year: "twenty"}})
	assert.Empty(t, out)
	assert.True(t, reports[3].Active)
}

func TestTypeStageBucketsAreExclusive(t *testing.T) {
	buckets := map[string][]string{
		"series":    {"ha-canh-noi-anh", "tay-du-ky"},
		"animation": {"your-name"},
		"single":    {"john-wick", "mystery"},
	}
	total := 0
	for kind, want := range buckets {
		out, _ := apply(Query{Filters: domain.Filters{Type: kind}})
		assert.Equal(t, want, slugs(out), kind)
		total += len(out)
	}
	assert.Equal(t, len(fixtures()), total, "every record lands in exactly one bucket")

	out, _ := apply(Query{Filters: domain.Filters{Type: "documentary"}})
	assert.Empty(t, out)

	out, _ = apply(Query{Filters: domain.Filters{Type: "hoathinh"}})
	assert.Equal(t, []string{"your-name"}, slugs(out))
}

func TestClassifyPrefersExplicitType(t *testing.T) {
	r := domain.CatalogRecord{
		Type:       domain.KindSeries,
		Categories: []domain.NamedRef{{Name: "Hoạt Hình"}},
	}
	assert.Equal(t, domain.KindSeries, Classify(r))

	r = domain.CatalogRecord{TypeRaw: "hoathinh"}
	assert.Equal(t, domain.KindAnimation, Classify(r))
}

func TestPipelineOutputIsSubsetAndReportsShrink(t *testing.T) {
	input := fixtures()
	q := Query{Keyword: "a", Filters: domain.Filters{Country: "korea", Type: "series"}}
	out, reports := NewPipeline(adapter.NullLogger()).Apply(input, q)

	inputSlugs := make(map[string]bool)
	for _, r := range input {
		inputSlugs[r.Slug] = true
	}
	for _, r := range out {
		assert.True(t, inputSlugs[r.Slug])
	}

	prev := len(input)
	for _, r := range reports {
		assert.LessOrEqual(t, r.Survivors, prev, r.Stage)
		prev = r.Survivors
	}
	assert.Equal(t, len(out), reports[len(reports)-1].Survivors)
	assert.Equal(t, fixtures(), input, "input not modified")
}

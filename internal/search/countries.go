package search

import "github.com/mmcdole/kinomirror/internal/textnorm"

// countryGroups lists equivalent country names in slug form. The catalog uses
// local-language names; callers often use English ones.
var countryGroups = [][]string{
	{"han-quoc", "korea", "south-korea", "korean"},
	{"trung-quoc", "china", "chinese", "mainland-china"},
	{"nhat-ban", "japan", "japanese"},
	{"thai-lan", "thailand", "thai"},
	{"dai-loan", "taiwan", "taiwanese"},
	{"hong-kong", "hongkong"},
	{"an-do", "india", "indian"},
	{"au-my", "western", "us", "usa", "united-states", "america", "american"},
	{"au-my", "anh", "uk", "united-kingdom", "england", "britain", "british"},
	{"phap", "france", "french"},
	{"duc", "germany", "german"},
	{"nga", "russia", "russian"},
	{"uc", "australia", "australian"},
	{"tay-ban-nha", "spain", "spanish"},
	{"y", "italy", "italian"},
	{"viet-nam", "vietnam", "vietnamese"},
	{"canada", "canadian"},
	{"philippines", "filipino"},
	{"indonesia", "indonesian"},
	{"malaysia", "malaysian"},
	{"quoc-gia-khac", "other"},
}

var countryAliases = buildCountryAliases()

func buildCountryAliases() map[string][]string {
	out := make(map[string][]string)
	for _, group := range countryGroups {
		for _, name := range group {
			out[name] = appendUnique(out[name], group...)
		}
	}
	return out
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		dup := false
		for _, d := range dst {
			if d == v {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, v)
		}
	}
	return dst
}

// CountryAliases returns the slug-form names equivalent to term, including
// term itself. Unknown terms map to themselves.
func CountryAliases(term string) []string {
	slug := textnorm.Slugify(term)
	if slug == "" {
		return nil
	}
	if group, ok := countryAliases[slug]; ok {
		return group
	}
	return []string{slug}
}

// Package textnorm folds catalog text for tolerant comparisons.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// đ/Đ is a separate letter, not d plus a combining mark, so NFD leaves it alone.
var letterFold = strings.NewReplacer("đ", "d", "Đ", "d")

// Fold lower-cases s and strips diacritics: "Hàn Quốc" -> "han quoc".
func Fold(s string) string {
	if s == "" {
		return ""
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, letterFold.Replace(s))
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}

// Lower is the plain case-insensitive form, diacritics kept.
func Lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Tokens splits folded text into alphanumeric words.
func Tokens(s string) []string {
	return strings.FieldsFunc(Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Slugify produces the remote API's path form: "Hàn Quốc" -> "han-quoc".
func Slugify(s string) string {
	return strings.Join(Tokens(s), "-")
}

// ContainsEither reports whether a contains b or b contains a, compared in
// slug form so "Hành Động", "hanh dong" and "hanh-dong" are equal.
// Empty strings never match.
func ContainsEither(a, b string) bool {
	return SlugContainsEither(Slugify(a), Slugify(b))
}

// SlugContainsEither is ContainsEither for values already in slug form.
func SlugContainsEither(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// Package textnorm normalizes text for block extraction, token overlap and anchor comparison.
package textnorm

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Space collapses whitespace runs (including non-breaking spaces) to one space and trims
func Space(s string) string {
	// strings.Fields treats U+00A0 as space
	return strings.Join(strings.Fields(s), " ")
}

// Cap truncates s to at most n runes
func Cap(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n]))
}

// Fold returns the comparison form of a phrase: NFC, lowercased, whitespace collapsed
func Fold(s string) string {
	return Space(toLower(norm.NFC.String(s)))
}

// Words counts whitespace separated words
func Words(s string) int {
	return len(strings.Fields(s))
}

// Tokens lowercases s, strips punctuation and returns the purely alphabetic
// tokens (diacritics allowed) longer than two runes, in order of appearance.
func Tokens(s string) []string {
	s = toLower(norm.NFC.String(s))
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !isWordRune(r)
	})

	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if utf8.RuneCountInString(f) <= 2 || !alphabetic(f) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// TokenSet returns the distinct tokens of s
func TokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range Tokens(s) {
		set[t] = struct{}{}
	}
	return set
}

// Overlap counts the distinct tokens present in both sets
func Overlap(a, b map[string]struct{}) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	n := 0
	for t := range a {
		if _, ok := b[t]; ok {
			n++
		}
	}
	return n
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}

func alphabetic(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.Is(unicode.Mn, r) {
			return false
		}
	}
	return true
}

// toLower builds a fresh Caser per call; Casers are stateful and not safe to share.
func toLower(s string) string {
	return cases.Lower(language.Und).String(s)
}

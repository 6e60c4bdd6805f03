// Package slug builds URL and filesystem friendly names for stored runs.
package slug

import (
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxLength = 100

var (
	invalidChars = regexp.MustCompile("[^a-z0-9-]+")
	hyphenRuns   = regexp.MustCompile("-+")
	fileExt      = regexp.MustCompile(`\.[a-z0-9]{1,5}$`)
)

// Generate creates a URL-friendly slug from a string
func Generate(s string) string {
	if s == "" {
		return ""
	}

	// Convert to lowercase
	s = strings.ToLower(s)

	// Transliterate unicode to ASCII
	s = transliterate(s)

	// Replace separators with hyphens
	s = strings.ReplaceAll(s, " ", "-")
	s = strings.ReplaceAll(s, "_", "-")
	s = strings.ReplaceAll(s, "/", "-")

	// Remove all non-alphanumeric characters except hyphens
	s = invalidChars.ReplaceAllString(s, "")

	// Remove consecutive hyphens
	s = hyphenRuns.ReplaceAllString(s, "-")

	// Trim hyphens from start and end
	s = strings.Trim(s, "-")

	// Limit length to 100 characters
	if len(s) > maxLength {
		s = strings.TrimRight(s[:maxLength], "-")
	}
	return s
}

// GenerateWithFallback generates a slug, falling back to a default if the input produces an empty slug
func GenerateWithFallback(s, fallback string) string {
	slug := Generate(s)
	if slug == "" {
		return Generate(fallback)
	}
	return slug
}

// transliterate strips diacritics
func transliterate(s string) string {
	// Strip nonspacing marks from the decomposed form
	t := transform.Chain(norm.NFD, transform.RemoveFunc(isMn), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

func isMn(r rune) bool {
	return unicode.Is(unicode.Mn, r)
}

// MakeUnique appends a number to a slug to make it unique
func MakeUnique(slug string, counter int) string {
	if counter == 0 {
		return slug
	}
	return slug + "-" + strconv.Itoa(counter)
}

// FromURL slugs the last path segment of a page URL, without extension.
// A bare host slugs the host.
func FromURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return Generate(rawURL)
	}

	// Take the last path segment
	segment := path.Base(strings.TrimRight(u.Path, "/"))
	if segment == "." || segment == "/" || segment == "" {
		// Bare host: slug the host without www
		return Generate(strings.TrimPrefix(u.Hostname(), "www."))
	}

	// Remove file extension
	return Generate(fileExt.ReplaceAllString(strings.ToLower(segment), ""))
}

// ForRun names a run's stored artifacts: the title slug, or the URL slug when
// the title is empty, followed by the first eight characters of the run id.
func ForRun(title, pageURL, runID string) string {
	base := GenerateWithFallback(title, FromURL(pageURL))
	if base == "" {
		base = "run"
	}
	// Leave room for the id suffix
	if len(base) > 60 {
		base = strings.TrimRight(base[:60], "-")
	}

	// Append the first eight characters of the run id
	id := Generate(runID)
	if len(id) > 8 {
		id = id[:8]
	}
	if id == "" {
		return base
	}
	return base + "-" + id
}

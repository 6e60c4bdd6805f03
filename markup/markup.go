// Package markup converts block-level markdown produced by the generator into inline HTML.
package markup

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/renderer/html"
)

// LinkPattern matches one markdown [anchor](url) construct
var LinkPattern = regexp.MustCompile(`\[([^\[\]]+)\]\(([^()\s]+)\)`)

var (
	// Raw HTML is allowed so that highlight marks placed in the markdown survive rendering
	converter = goldmark.New(goldmark.WithRendererOptions(html.WithUnsafe()))
	// Generator output never passes raw HTML or dangerous URLs through
	safeConverter = goldmark.New()
)

// Link is one markdown link found in a text
type Link struct {
	Anchor string
	URL    string
	Start  int // Byte offset of '['
	End    int // Byte offset just past ')'
}

// FindLinks returns every markdown link in s in order
func FindLinks(s string) []Link {
	matches := LinkPattern.FindAllStringSubmatchIndex(s, -1)
	links := make([]Link, 0, len(matches))
	for _, m := range matches {
		links = append(links, Link{
			Anchor: s[m[2]:m[3]],
			URL:    s[m[4]:m[5]],
			Start:  m[0],
			End:    m[1],
		})
	}
	return links
}

// Inline renders markdown built by this module and drops the paragraph wrapper
// when the result is a single paragraph. Raw HTML in src is kept.
func Inline(src string) (string, error) {
	return inline(converter, src)
}

// RenderLinks renders untrusted text in which only [anchor](url) constructs are
// markup. Everything else, including HTML tags and emphasis characters, is
// escaped and displays literally.
func RenderLinks(src string) (string, error) {
	var b strings.Builder
	prev := 0
	for _, l := range FindLinks(src) {
		b.WriteString(EscapeText(src[prev:l.Start]))
		b.WriteString("[" + EscapeText(l.Anchor) + "](" + l.URL + ")")
		prev = l.End
	}
	b.WriteString(EscapeText(src[prev:]))
	return inline(safeConverter, b.String())
}

func inline(c goldmark.Markdown, src string) (string, error) {
	var buf bytes.Buffer
	if err := c.Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	out := strings.TrimSpace(buf.String())
	if strings.HasPrefix(out, "<p>") && strings.HasSuffix(out, "</p>") && strings.Count(out, "<p>") == 1 {
		out = out[len("<p>") : len(out)-len("</p>")]
	}
	return out, nil
}

// EscapeText backslash-escapes ASCII punctuation so plain text renders literally
func EscapeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 128 && isASCIIPunct(byte(r)) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isASCIIPunct(c byte) bool {
	return (c >= '!' && c <= '/') || (c >= ':' && c <= '@') || (c >= '[' && c <= '`') || (c >= '{' && c <= '~')
}

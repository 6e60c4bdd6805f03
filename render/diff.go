package render

import (
	"strings"
	"unicode"

	"github.com/docutag/interlinker/markup"
	"github.com/docutag/interlinker/textnorm"
)

// NewExcerptSentinel marks an edit whose block had no prior text
const NewExcerptSentinel = "[new excerpt]"

// Token is one whitespace-delimited word of a modified block
type Token struct {
	Text        string
	Link        int  // Index into the link list, or -1 outside any link
	SpaceBefore bool // Whitespace separated this token from the previous one
	Changed     bool // Not part of the alignment with the original text
}

// Tokenize splits normalized text on whitespace
func Tokenize(s string) []string {
	return strings.Fields(textnorm.Space(s))
}

// tokenizeMarkdown splits modified markdown into words, keeping the words of each
// [anchor](url) construct tied to their link.
func tokenizeMarkdown(s string) ([]Token, []markup.Link) {
	links := markup.FindLinks(s)
	var tokens []Token

	pending := false // whitespace seen since the last token
	add := func(segment string, link int) {
		words := strings.Fields(segment)
		if len(words) == 0 {
			pending = pending || segment != ""
			return
		}
		lead := pending || strings.TrimLeftFunc(segment, unicode.IsSpace) != segment
		for i, w := range words {
			tokens = append(tokens, Token{Text: w, Link: link, SpaceBefore: len(tokens) > 0 && (i > 0 || lead)})
		}
		pending = strings.TrimRightFunc(segment, unicode.IsSpace) != segment
	}

	prev := 0
	for i, l := range links {
		add(s[prev:l.Start], -1)
		add(l.Anchor, i)
		prev = l.End
	}
	add(s[prev:], -1)
	return tokens, links
}

// Diff aligns the words of original and modified by longest common subsequence and
// flags every modified word outside the alignment. An empty original or the
// new-excerpt sentinel flags every word.
func Diff(original, modified string) []Token {
	tokens, _ := tokenizeMarkdown(modified)
	markChanged(original, tokens)
	return tokens
}

func markChanged(original string, tokens []Token) {
	orig := strings.TrimSpace(original)
	if orig == "" || orig == NewExcerptSentinel {
		for i := range tokens {
			tokens[i].Changed = true
		}
		return
	}

	a := Tokenize(orig)
	b := make([]string, len(tokens))
	for i, t := range tokens {
		b[i] = t.Text
	}
	aligned := lcsAligned(a, b)
	for i := range tokens {
		tokens[i].Changed = !aligned[i]
	}
}

// lcsAligned reports, for each element of b, whether it belongs to an LCS of a and b
func lcsAligned(a, b []string) []bool {
	n, m := len(a), len(b)
	// dp[i][j] is the LCS length of a[i:] and b[j:]
	dp := make([][]int, n+1)
	for i := range dp {
		dp[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				dp[i][j] = dp[i+1][j+1] + 1
			} else if dp[i+1][j] >= dp[i][j+1] {
				dp[i][j] = dp[i+1][j]
			} else {
				dp[i][j] = dp[i][j+1]
			}
		}
	}

	aligned := make([]bool, m)
	for i, j := 0, 0; i < n && j < m; {
		switch {
		case a[i] == b[j]:
			aligned[j] = true
			i++
			j++
		case dp[i+1][j] >= dp[i][j+1]:
			i++
		default:
			j++
		}
	}
	return aligned
}

// ChangedCount returns how many tokens are flagged
func ChangedCount(tokens []Token) int {
	n := 0
	for _, t := range tokens {
		if t.Changed {
			n++
		}
	}
	return n
}

// diffMarkdown rebuilds the modified block as markdown with changed runs wrapped in
// highlight marks. Plain words are escaped so only the link construct and the marks
// are interpreted when rendered.
func diffMarkdown(tokens []Token, links []markup.Link) string {
	var b strings.Builder
	inMark := false
	closeMark := func() {
		if inMark {
			b.WriteString(markClose)
			inMark = false
		}
	}

	for i, t := range tokens {
		prevLink := -1
		if i > 0 {
			prevLink = tokens[i-1].Link
		}

		// a mark never crosses a link boundary
		if inMark && (!t.Changed || t.Link != prevLink) {
			closeMark()
		}
		if prevLink >= 0 && prevLink != t.Link {
			b.WriteString("](" + links[prevLink].URL + ")")
		}
		if t.SpaceBefore {
			b.WriteByte(' ')
		}
		if t.Link >= 0 && prevLink != t.Link {
			b.WriteByte('[')
		}

		if t.Changed && !inMark {
			b.WriteString(diffMarkOpen)
			inMark = true
		}
		b.WriteString(markup.EscapeText(t.Text))
	}
	closeMark()
	if n := len(tokens); n > 0 && tokens[n-1].Link >= 0 {
		b.WriteString("](" + links[tokens[n-1].Link].URL + ")")
	}
	return b.String()
}

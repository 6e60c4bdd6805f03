package propose

import (
	"regexp"
	"strings"

	"github.com/docutag/interlinker/textnorm"
)

const (
	minAnchorWords = 2
	maxAnchorWords = 6
)

// genericAnchors are call-to-action phrases that say nothing about the target
var genericAnchors = map[string]struct{}{
	"aqui":             {},
	"clique aqui":      {},
	"clique":           {},
	"saiba mais":       {},
	"leia mais":        {},
	"veja mais":        {},
	"confira":          {},
	"confira aqui":     {},
	"veja":             {},
	"veja aqui":        {},
	"acesse":           {},
	"acesse aqui":      {},
	"entenda":          {},
	"descubra":         {},
	"este link":        {},
	"neste link":       {},
	"este artigo":      {},
	"nesse artigo":     {},
	"click here":       {},
	"read more":        {},
	"learn more":       {},
	"see more":         {},
	"find out more":    {},
	"here":             {},
	"this link":        {},
	"this article":     {},
	"more info":        {},
	"mais informações": {},
}

var vagueAnchorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\d+$`),
	regexp.MustCompile(`^(em|in|de|of)?\s*(19|20)\d{2}$`),
	regexp.MustCompile(`^modelos? \d{4}$`),
	regexp.MustCompile(`^lista completa\b`),
	regexp.MustCompile(`^(full|complete) list\b`),
	regexp.MustCompile(`^(clique|click) (aqui|here)\b`),
	regexp.MustCompile(`^(saiba|leia|veja|read|learn|see) mais\b`),
	regexp.MustCompile(`^\d+ (dicas|passos|itens|tips|steps|items)$`),
}

// stopwords are ignored when measuring how topical an anchor is
var stopwords = map[string]struct{}{
	// pt
	"para": {}, "com": {}, "uma": {}, "uns": {}, "umas": {}, "dos": {}, "das": {}, "nos": {},
	"nas": {}, "que": {}, "como": {}, "mais": {}, "por": {}, "pelo": {}, "pela": {}, "seu": {},
	"sua": {}, "seus": {}, "suas": {}, "este": {}, "esta": {}, "esse": {}, "essa": {}, "isso": {},
	"aqui": {}, "sobre": {}, "entre": {}, "quando": {}, "onde": {}, "qual": {}, "quais": {},
	"muito": {}, "também": {}, "ainda": {}, "sem": {}, "até": {}, "você": {}, "melhor": {}, "melhores": {},
	// en
	"the": {}, "and": {}, "for": {}, "with": {}, "your": {}, "you": {}, "this": {}, "that": {},
	"from": {}, "are": {}, "how": {}, "what": {}, "our": {}, "about": {}, "into": {}, "best": {},
	"more": {}, "all": {}, "its": {}, "their": {}, "here": {}, "why": {}, "when": {}, "which": {},
}

// normalizeAnchor returns the comparison form of an anchor
func normalizeAnchor(anchor string) string {
	return strings.Trim(textnorm.Fold(anchor), " .,;:!?\"'()[]")
}

// anchorProblem reports why an anchor is generic, vague or badly sized; "" means acceptable
func anchorProblem(anchor string) string {
	norm := normalizeAnchor(anchor)
	if _, ok := genericAnchors[norm]; ok {
		return "generic anchor text"
	}
	for _, re := range vagueAnchorPatterns {
		if re.MatchString(norm) {
			return "vague anchor text"
		}
	}
	switch n := textnorm.Words(norm); {
	case n < minAnchorWords:
		return "anchor has fewer than 2 words"
	case n > maxAnchorWords:
		return "anchor has more than 6 words"
	}
	return ""
}

// contentTokens returns the distinct non-stopword tokens of s in order
func contentTokens(s string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, t := range textnorm.Tokens(s) {
		if _, stop := stopwords[t]; stop {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// requiredOverlap is the number of anchor tokens that must appear in the target content
func requiredOverlap(anchorTokens int) int {
	switch {
	case anchorTokens >= 4:
		return 2
	case anchorTokens >= 2:
		return 1
	default:
		return 0
	}
}

// topical reports whether the anchor shares enough vocabulary with the target content
func topical(anchor string, content map[string]struct{}) bool {
	tokens := contentTokens(anchor)
	hits := 0
	for _, t := range tokens {
		if _, ok := content[t]; ok {
			hits++
		}
	}
	return hits >= requiredOverlap(len(tokens))
}

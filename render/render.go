// Package render produces the original, linked and diff-highlighted views of a
// document from a set of committed edits. Each view is built from its own parse
// of the input, so the three trees never share nodes.
package render

import (
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	nethtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/docutag/interlinker/blocks"
	"github.com/docutag/interlinker/logger"
	"github.com/docutag/interlinker/markup"
	"github.com/docutag/interlinker/metrics"
	"github.com/docutag/interlinker/models"
	"github.com/docutag/interlinker/textnorm"
)

// Marker classes, one per view
const (
	ClassAnchor   = "interlink-anchor"
	ClassInserted = "interlink-inserted"
	ClassDiff     = "interlink-diff"
)

const (
	diffMarkOpen = `<mark class="` + ClassDiff + `">`
	markClose    = `</mark>`
)

// View names used in metrics labels
const (
	ViewOriginal = "original"
	ViewLinked   = "linked"
	ViewModified = "modified"
)

// Options controls rendering
type Options struct {
	// SkipAlreadyLinked leaves a block untouched in the linked view when it already
	// has a link whose text matches the anchor
	SkipAlreadyLinked bool
	Log               *logger.Logger
	Metrics           *metrics.Metrics
}

// DefaultOptions returns the default rendering options
func DefaultOptions() Options {
	return Options{SkipAlreadyLinked: true}
}

// parseDocument is replaced in tests to simulate a missing root
var parseDocument = blocks.Parse

// Render applies edits to three independent parses of src
func Render(src string, edits []models.Edit, opts Options) models.RenderedViews {
	log := logger.OrNop(opts.Log)
	stats := models.RenderStats{Total: len(edits), Outcomes: make([]models.EditOutcome, 0, len(edits))}

	docs := make([]*blocks.Document, 3)
	for i := range docs {
		d, err := parseDocument(src)
		if err != nil {
			log.Warn("render parse failed, passing input through", "error", err)
			return passThrough(src, edits, opts.Metrics)
		}
		docs[i] = d
	}
	original, linked, modified := docs[0], docs[1], docs[2]

	for _, e := range edits {
		out := models.EditOutcome{BlockID: e.BlockID, TargetURL: e.TargetURL}

		out.Original = highlightOriginal(original, e)
		out.Linked = applyLinked(linked, e, opts.SkipAlreadyLinked)
		out.Modified = applyModified(modified, e)

		tally(&stats, out, opts.Metrics)
		if out.Original != models.StatusApplied || out.Linked != models.StatusApplied || out.Modified != models.StatusApplied {
			log.Debug("edit not fully applied",
				"block_id", e.BlockID,
				"original", out.Original,
				"linked", out.Linked,
				"modified", out.Modified,
			)
		}
		stats.Outcomes = append(stats.Outcomes, out)
	}

	if n := stats.BlockNotFound; n.Original+n.Linked+n.Modified > 0 {
		log.Warn("edits referenced unresolvable blocks",
			"original", n.Original, "linked", n.Linked, "modified", n.Modified)
	}
	if n := stats.BlockTruncated; n.Linked+n.Modified > 0 {
		log.Warn("edits skipped on blocks longer than the text cap",
			"linked", n.Linked, "modified", n.Modified)
	}

	return models.RenderedViews{
		OriginalHTML: original.HTML(),
		LinkedHTML:   linked.HTML(),
		ModifiedHTML: modified.HTML(),
		Stats:        stats,
	}
}

func passThrough(src string, edits []models.Edit, m *metrics.Metrics) models.RenderedViews {
	stats := models.RenderStats{Total: len(edits), Outcomes: make([]models.EditOutcome, 0, len(edits))}
	for _, e := range edits {
		out := models.EditOutcome{
			BlockID:   e.BlockID,
			TargetURL: e.TargetURL,
			Original:  models.StatusBlockNotFound,
			Linked:    models.StatusBlockNotFound,
			Modified:  models.StatusBlockNotFound,
		}
		tally(&stats, out, m)
		stats.Outcomes = append(stats.Outcomes, out)
	}
	return models.RenderedViews{OriginalHTML: src, LinkedHTML: src, ModifiedHTML: src, Stats: stats}
}

func tally(stats *models.RenderStats, out models.EditOutcome, m *metrics.Metrics) {
	count := func(view string, status models.ViewStatus, applied, notFound, truncated *int) {
		switch status {
		case models.StatusApplied:
			*applied++
			return
		case models.StatusBlockNotFound:
			*notFound++
		case models.StatusBlockTruncated:
			*truncated++
		case models.StatusAlreadyLinked:
			stats.SkippedAlreadyLinked++
		case models.StatusAnchorNotFound:
			stats.AnchorNotFound++
		}
		m.ObserveRenderSkip(view, string(status))
	}
	count(ViewOriginal, out.Original, &stats.Applied.Original, &stats.BlockNotFound.Original, &stats.BlockTruncated.Original)
	count(ViewLinked, out.Linked, &stats.Applied.Linked, &stats.BlockNotFound.Linked, &stats.BlockTruncated.Linked)
	count(ViewModified, out.Modified, &stats.Applied.Modified, &stats.BlockNotFound.Modified, &stats.BlockTruncated.Modified)
}

// applyLinked replaces the block with the rendered edit and marks the inserted link
func applyLinked(d *blocks.Document, e models.Edit, skipAlreadyLinked bool) models.ViewStatus {
	sel, ok := d.Selection(e.BlockID)
	if !ok {
		return models.StatusBlockNotFound
	}
	if d.Truncated(e.BlockID) {
		return models.StatusBlockTruncated
	}

	anchor := textnorm.Fold(e.Anchor)
	if skipAlreadyLinked && anchor != "" {
		linked := sel.Find("a").FilterFunction(func(_ int, a *goquery.Selection) bool {
			return textnorm.Fold(a.Text()) == anchor
		})
		if linked.Length() > 0 {
			return models.StatusAlreadyLinked
		}
	}

	inner, err := markup.RenderLinks(e.ModifiedBlockText)
	if err != nil {
		inner = html.EscapeString(e.ModifiedBlockText)
	}
	sel.SetHtml(inner)

	links := sel.Find("a")
	inserted := links.FilterFunction(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		return href == e.TargetURL
	})
	if inserted.Length() == 0 {
		// the renderer may have escaped the href
		inserted = links.FilterFunction(func(_ int, a *goquery.Selection) bool {
			return textnorm.Fold(a.Text()) == anchor
		})
	}
	inserted.First().WrapHtml(`<mark class="` + ClassInserted + `"></mark>`)
	return models.StatusApplied
}

// applyModified replaces the block with the diff-highlighted edit
func applyModified(d *blocks.Document, e models.Edit) models.ViewStatus {
	sel, ok := d.Selection(e.BlockID)
	if !ok {
		return models.StatusBlockNotFound
	}
	if d.Truncated(e.BlockID) {
		return models.StatusBlockTruncated
	}

	tokens, links := tokenizeMarkdown(e.ModifiedBlockText)
	markChanged(e.OriginalBlockText, tokens)
	inner, err := markup.Inline(diffMarkdown(tokens, links))
	if err != nil {
		inner = html.EscapeString(e.ModifiedBlockText)
	}
	sel.SetHtml(inner)
	return models.StatusApplied
}

// highlightOriginal wraps the first case and whitespace insensitive occurrence of
// the anchor in the block's text. Link text is never touched.
func highlightOriginal(d *blocks.Document, e models.Edit) models.ViewStatus {
	n, ok := d.Node(e.BlockID)
	if !ok {
		return models.StatusBlockNotFound
	}
	if !wrapFirst(n, e.Anchor, ClassAnchor) {
		return models.StatusAnchorNotFound
	}
	return models.StatusApplied
}

// span maps one rune of the folded haystack back to its text node
type span struct {
	node       int
	start, end int // Byte range in the node's Data
}

func wrapFirst(root *nethtml.Node, phrase, class string) bool {
	needle := foldForSearch(phrase)
	if needle == "" {
		return false
	}

	var nodes []*nethtml.Node
	var hay strings.Builder
	var spans []span
	lastSpace := true

	var walk func(*nethtml.Node)
	walk = func(n *nethtml.Node) {
		if n.Type == nethtml.ElementNode && n.DataAtom == atom.A {
			// a link breaks the running text so matches cannot span it
			hay.WriteRune(0)
			spans = append(spans, span{node: -1})
			lastSpace = true
			return
		}
		if n.Type == nethtml.TextNode {
			idx := len(nodes)
			nodes = append(nodes, n)
			for i, r := range n.Data {
				size := utf8.RuneLen(r)
				if unicode.IsSpace(r) {
					if lastSpace {
						continue
					}
					hay.WriteByte(' ')
					spans = append(spans, span{node: idx, start: i, end: i + size})
					lastSpace = true
					continue
				}
				lower := unicode.ToLower(r)
				hay.WriteRune(lower)
				spans = append(spans, span{node: idx, start: i, end: i + size})
				lastSpace = false
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	// spans are per rune; convert the byte match to rune positions
	h := hay.String()
	at := strings.Index(h, needle)
	if at < 0 {
		return false
	}
	first := utf8.RuneCountInString(h[:at])
	last := first + utf8.RuneCountInString(needle) - 1

	// byte range to wrap within each touched node, in document order
	type cut struct{ start, end int }
	cuts := make(map[int]*cut)
	var order []int
	for _, s := range spans[first : last+1] {
		if s.node < 0 {
			continue
		}
		c, ok := cuts[s.node]
		if !ok {
			cuts[s.node] = &cut{start: s.start, end: s.end}
			order = append(order, s.node)
			continue
		}
		c.end = s.end
	}

	for _, idx := range order {
		c := cuts[idx]
		splitAndWrap(nodes[idx], c.start, c.end, class)
	}
	return true
}

// splitAndWrap replaces text node t with before, <mark>match</mark>, after
func splitAndWrap(t *nethtml.Node, start, end int, class string) {
	parent := t.Parent
	if parent == nil {
		return
	}
	data := t.Data
	mark := &nethtml.Node{
		Type:     nethtml.ElementNode,
		Data:     "mark",
		DataAtom: atom.Mark,
		Attr:     []nethtml.Attribute{{Key: "class", Val: class}},
	}
	mark.AppendChild(&nethtml.Node{Type: nethtml.TextNode, Data: data[start:end]})

	if start > 0 {
		parent.InsertBefore(&nethtml.Node{Type: nethtml.TextNode, Data: data[:start]}, t)
	}
	parent.InsertBefore(mark, t)
	if end < len(data) {
		parent.InsertBefore(&nethtml.Node{Type: nethtml.TextNode, Data: data[end:]}, t)
	}
	parent.RemoveChild(t)
}

// foldForSearch lowercases per rune and collapses whitespace, matching the haystack
func foldForSearch(s string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.TrimSpace(s) {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteByte(' ')
			}
			lastSpace = true
			continue
		}
		b.WriteRune(unicode.ToLower(r))
		lastSpace = false
	}
	return b.String()
}

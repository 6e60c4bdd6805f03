// Package blocks splits an HTML fragment into ordered, addressable content blocks.
//
// A block id has the form b:{ordinal}:{tag}:{path}, where path lists every element
// from just below the synthetic root down to the block as tag[index], index being the
// element's position among same-tag siblings. Ids depend only on the parsed tree, so
// two parses of the same input agree on every id.
package blocks

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/docutag/interlinker/markup"
	"github.com/docutag/interlinker/models"
	"github.com/docutag/interlinker/textnorm"
)

// MaxTextRunes caps the extracted text of a single block
const MaxTextRunes = 2000

// Selector lists the block-level elements, matched in document order
const Selector = "h1, h2, h3, h4, h5, h6, p, li, blockquote, pre, figcaption, dt, dd, td"

// ErrNoRoot is returned when the fragment cannot be parsed into a root container
var ErrNoRoot = errors.New("blocks: root container not found")

// Document is one parse of a fragment. Apply mutates its tree, so a Document
// must not be shared between independent rendering passes.
type Document struct {
	root      *html.Node
	doc       *goquery.Document
	nodes     []*html.Node // Every matched element, by ordinal
	ids       []string
	byID      map[string]*html.Node
	truncated map[string]bool
	Blocks    []models.ContentBlock // Matched elements with non-empty text
}

// Parse parses fragment under a synthetic root and indexes its blocks
func Parse(fragment string) (*Document, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	children, err := html.ParseFragment(strings.NewReader(fragment), body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoRoot, err)
	}

	root := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	for _, c := range children {
		root.AppendChild(c)
	}

	d := &Document{
		root:      root,
		doc:       goquery.NewDocumentFromNode(root),
		byID:      make(map[string]*html.Node),
		truncated: make(map[string]bool),
	}

	d.doc.Find(Selector).Each(func(i int, s *goquery.Selection) {
		n := s.Get(0)
		id := blockID(i, n, root)
		d.nodes = append(d.nodes, n)
		d.ids = append(d.ids, id)
		d.byID[id] = n

		full := textnorm.Space(s.Text())
		if full == "" {
			return
		}
		truncated := utf8.RuneCountInString(full) > MaxTextRunes
		if truncated {
			d.truncated[id] = true
		}
		inner, _ := s.Html()
		d.Blocks = append(d.Blocks, models.ContentBlock{
			ID:           id,
			Type:         blockType(n.Data),
			Text:         textnorm.Cap(full, MaxTextRunes),
			HTML:         inner,
			ContainsLink: s.Find("a").Length() > 0,
			Container:    s.Find(Selector).Length() > 0,
			Truncated:    truncated,
		})
	})

	return d, nil
}

// Extract returns the blocks of fragment; a fragment that cannot be parsed yields none
func Extract(fragment string) []models.ContentBlock {
	d, err := Parse(fragment)
	if err != nil {
		return nil
	}
	return d.Blocks
}

// Node returns the element addressed by id
func (d *Document) Node(id string) (*html.Node, bool) {
	n, ok := d.byID[id]
	return n, ok
}

// Selection wraps the element addressed by id for goquery manipulation
func (d *Document) Selection(id string) (*goquery.Selection, bool) {
	n, ok := d.byID[id]
	if !ok {
		return nil, false
	}
	return d.doc.FindNodes(n), true
}

// Truncated reports whether the block's text exceeds MaxTextRunes. Its Text is
// a prefix, so an edit written against it cannot replace the whole block.
func (d *Document) Truncated(id string) bool {
	return d.truncated[id]
}

// HTML serializes the fragment under the synthetic root
func (d *Document) HTML() string {
	var b strings.Builder
	for c := d.root.FirstChild; c != nil; c = c.NextSibling {
		_ = html.Render(&b, c)
	}
	return b.String()
}

// IDs returns the id of every matched element, including those dropped for empty text
func (d *Document) IDs() []string {
	return append([]string(nil), d.ids...)
}

// Apply replaces the inner markup of every addressed block in place and serializes
// the result. Ids that do not resolve are returned ordered by ordinal.
func (d *Document) Apply(replacements map[string]string) (string, []string) {
	applied := make(map[string]bool, len(replacements))
	for i, n := range d.nodes {
		id := d.ids[i]
		inner, ok := replacements[id]
		if !ok {
			continue
		}
		d.doc.FindNodes(n).SetHtml(inner)
		applied[id] = true
	}

	var missing []string
	for id := range replacements {
		if !applied[id] {
			missing = append(missing, id)
		}
	}
	sortIDs(missing)
	return d.HTML(), missing
}

// ApplyBlockEdits renders each edit's markdown and writes it into its block. The
// returned ids were not applied: they do not resolve or address a truncated block.
func ApplyBlockEdits(d *Document, edits []models.Edit) (string, []string, error) {
	replacements := make(map[string]string, len(edits))
	var skipped []string
	for _, e := range edits {
		if d.Truncated(e.BlockID) {
			skipped = append(skipped, e.BlockID)
			continue
		}
		inner, err := markup.RenderLinks(e.ModifiedBlockText)
		if err != nil {
			return "", nil, fmt.Errorf("failed to render edit for %s: %w", e.BlockID, err)
		}
		replacements[e.BlockID] = inner
	}
	out, missing := d.Apply(replacements)
	skipped = append(skipped, missing...)
	sortIDs(skipped)
	return out, skipped, nil
}

func sortIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		oi, oj := ordinalOf(ids[i]), ordinalOf(ids[j])
		if oi != oj {
			return oi < oj
		}
		return ids[i] < ids[j]
	})
}

// ordinalOf extracts the ordinal of a well-formed id, or -1
func ordinalOf(id string) int {
	parts := strings.SplitN(id, ":", 3)
	if len(parts) < 3 || parts[0] != "b" {
		return -1
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil {
		return -1
	}
	return n
}

func blockID(ordinal int, n, root *html.Node) string {
	return fmt.Sprintf("b:%d:%s:%s", ordinal, n.Data, nodePath(n, root))
}

// nodePath encodes the element chain from just below root down to n
func nodePath(n, root *html.Node) string {
	var parts []string
	for cur := n; cur != nil && cur != root; cur = cur.Parent {
		if cur.Type != html.ElementNode {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s[%d]", cur.Data, sameTagIndex(cur)))
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/")
}

func sameTagIndex(n *html.Node) int {
	idx := 0
	for s := n.PrevSibling; s != nil; s = s.PrevSibling {
		if s.Type == html.ElementNode && s.Data == n.Data {
			idx++
		}
	}
	return idx
}

func blockType(tag string) models.BlockType {
	switch tag {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		return models.BlockHeading
	case "p":
		return models.BlockParagraph
	case "li":
		return models.BlockListItem
	case "blockquote":
		return models.BlockBlockquote
	case "pre":
		return models.BlockCode
	default:
		return models.BlockOther
	}
}

package interlinker

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/docutag/interlinker/fetch"
	"github.com/docutag/interlinker/logger"
	"github.com/docutag/interlinker/textnorm"
)

// chrome lists elements stripped before content extraction
const chrome = "script, style, noscript, template, iframe, svg, nav, header, footer, aside, form"

// Page is a fetched and cleaned document
type Page struct {
	URL   string
	Title string
	HTML  string // Inner HTML of the main content container
	Text  string // Whitespace-normalized text of the main content
}

// Extractor fetches documents and reduces them to their main content
type Extractor struct {
	client      *fetch.Client
	concurrency int
	log         *logger.Logger
}

// NewExtractor creates an Extractor; concurrency bounds ExtractTexts
func NewExtractor(client *fetch.Client, concurrency int, log *logger.Logger) *Extractor {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Extractor{client: client, concurrency: concurrency, log: logger.OrNop(log)}
}

// Extract fetches targetURL and cleans it
func (x *Extractor) Extract(ctx context.Context, targetURL string) (*Page, error) {
	body, err := x.client.Get(ctx, targetURL)
	if err != nil {
		return nil, err
	}
	page, err := ParsePage(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", targetURL, err)
	}
	page.URL = targetURL
	if page.Title == "" {
		page.Title = targetURL
	}
	return page, nil
}

// ExtractText returns the cleaned text of targetURL
func (x *Extractor) ExtractText(ctx context.Context, targetURL string) (string, error) {
	page, err := x.Extract(ctx, targetURL)
	if err != nil {
		return "", err
	}
	return page.Text, nil
}

// ExtractHTML returns the cleaned main-content markup of targetURL
func (x *Extractor) ExtractHTML(ctx context.Context, targetURL string) (string, error) {
	page, err := x.Extract(ctx, targetURL)
	if err != nil {
		return "", err
	}
	return page.HTML, nil
}

// ExtractTexts extracts every url with bounded concurrency. Failures yield empty
// text in that slot; results are in input order.
func (x *Extractor) ExtractTexts(ctx context.Context, urls []string) []string {
	results := fetch.RunPool(ctx, urls, x.concurrency, func(ctx context.Context, _ int, u string) (string, error) {
		return x.ExtractText(ctx, u)
	})

	texts := make([]string, len(urls))
	for i, r := range results {
		if r.Err != nil {
			x.log.Warn("text extraction failed", "url", urls[i], "error", r.Err)
			continue
		}
		texts[i] = r.Value
	}
	return texts
}

// ParsePage strips page chrome and picks the main content container:
// article, then main, then body.
func ParsePage(body []byte) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	title := extractTitle(doc)
	doc.Find(chrome).Remove()

	root := doc.Find("article").First()
	if root.Length() == 0 {
		root = doc.Find("main").First()
	}
	if root.Length() == 0 {
		root = doc.Find("body").First()
	}

	page := &Page{Title: title}
	if root.Length() == 0 {
		return page, nil
	}

	inner, err := root.Html()
	if err != nil {
		return nil, fmt.Errorf("failed to render content: %w", err)
	}
	page.HTML = strings.TrimSpace(inner)
	page.Text = textnorm.Space(extractText(firstNode(root)))
	return page, nil
}

// extractTitle returns the first available of og:title, twitter:title, h1 and title
func extractTitle(doc *goquery.Document) string {
	candidates := []string{
		doc.Find(`meta[property="og:title"]`).First().AttrOr("content", ""),
		doc.Find(`meta[name="twitter:title"]`).First().AttrOr("content", ""),
		textnorm.Space(extractText(firstNode(doc.Find("h1")))),
		doc.Find("title").First().Text(),
	}
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			return c
		}
	}
	return ""
}

func firstNode(s *goquery.Selection) *html.Node {
	if s.Length() == 0 {
		return nil
	}
	return s.Get(0)
}

// extractText joins every text node under n with single spaces, so adjacent
// blocks do not run together.
func extractText(n *html.Node) string {
	if n == nil {
		return ""
	}
	var parts []string
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.TextNode {
			if trimmed := strings.TrimSpace(n.Data); trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return strings.Join(parts, " ")
}

package interlinker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docutag/interlinker/fetch"
)

func TestExtractTitle(t *testing.T) {
	tests := []struct {
		name     string
		head     string
		body     string
		expected string
	}{
		{
			name:     "og:title wins over title tag",
			head:     `<meta property="og:title" content="Best Trail Shoes of the Year" /><title>Gear Shop</title>`,
			expected: "Best Trail Shoes of the Year",
		},
		{
			name:     "twitter:title wins over title tag",
			head:     `<meta name="twitter:title" content="Hydration Vest Guide" /><title>Gear Shop</title>`,
			expected: "Hydration Vest Guide",
		},
		{
			name:     "og:title wins over twitter:title",
			head:     `<meta property="og:title" content="OG" /><meta name="twitter:title" content="Twitter" />`,
			expected: "OG",
		},
		{
			name:     "empty og:title falls through",
			head:     `<meta property="og:title" content="" /><meta name="twitter:title" content="Fallback" />`,
			expected: "Fallback",
		},
		{
			name:     "h1 before title tag",
			head:     `<title>Gear Shop</title>`,
			body:     `<h1>Recovery <em>after</em> a marathon</h1>`,
			expected: "Recovery after a marathon",
		},
		{
			name:     "title tag last",
			head:     `<title>  Gear Shop  </title>`,
			body:     `<p>no heading</p>`,
			expected: "Gear Shop",
		},
		{
			name:     "nothing available",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := "<html><head>" + tt.head + "</head><body>" + tt.body + "</body></html>"
			doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, extractTitle(doc))
		})
	}
}

func TestParsePage_PrefersArticleAndStripsChrome(t *testing.T) {
	src := `<html><head><title>Shop</title><script>var x = 1;</script></head><body>
<nav><a href="/">Home</a></nav>
<main><p>Main text</p><article><p>Article  text</p><aside>Related</aside><script>track()</script></article></main>
<footer>Copyright</footer></body></html>`

	page, err := ParsePage([]byte(src))
	require.NoError(t, err)

	assert.Equal(t, "Shop", page.Title)
	assert.Equal(t, "Article text", page.Text)
	assert.Equal(t, "<p>Article  text</p>", page.HTML)
}

func TestParsePage_Fallbacks(t *testing.T) {
	page, err := ParsePage([]byte(`<html><body><header>Top</header><main><p>In main</p></main><p>Outside</p></body></html>`))
	require.NoError(t, err)
	assert.Equal(t, "In main", page.Text)

	page, err = ParsePage([]byte(`<html><body><p>First</p><p>Second</p></body></html>`))
	require.NoError(t, err)
	assert.Equal(t, "First Second", page.Text)
	assert.Equal(t, "<p>First</p><p>Second</p>", page.HTML)
}

func newTestExtractor(t *testing.T) (*Extractor, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>A</title></head><body><article><p>Alpha page</p></article></body></html>`))
	})
	mux.HandleFunc("/untitled", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><p>No title</p></body></html>`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := fetch.DefaultClientConfig()
	cfg.Retry.MaxAttempts = 1
	return NewExtractor(fetch.NewClient(cfg), 2, nil), srv
}

func TestExtractor_Extract(t *testing.T) {
	x, srv := newTestExtractor(t)
	ctx := context.Background()

	page, err := x.Extract(ctx, srv.URL+"/a")
	require.NoError(t, err)
	assert.Equal(t, "A", page.Title)
	assert.Equal(t, srv.URL+"/a", page.URL)

	page, err = x.Extract(ctx, srv.URL+"/untitled")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/untitled", page.Title, "url stands in for a missing title")

	html, err := x.ExtractHTML(ctx, srv.URL+"/a")
	require.NoError(t, err)
	assert.Equal(t, "<p>Alpha page</p>", html)

	_, err = x.Extract(ctx, srv.URL+"/missing")
	require.Error(t, err)
	var se *fetch.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
}

func TestExtractor_ExtractTextsKeepsOrder(t *testing.T) {
	x, srv := newTestExtractor(t)

	texts := x.ExtractTexts(context.Background(), []string{srv.URL + "/untitled", srv.URL + "/missing", srv.URL + "/a"})
	assert.Equal(t, []string{"No title", "", "Alpha page"}, texts)
}

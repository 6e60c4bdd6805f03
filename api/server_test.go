package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docutag/interlinker"
	"github.com/docutag/interlinker/db"
	"github.com/docutag/interlinker/llm"
	"github.com/docutag/interlinker/metrics"
	"github.com/docutag/interlinker/models"
	"github.com/docutag/interlinker/storage"
)

// memRuns is an in-memory RunStore
type memRuns struct {
	mu    sync.Mutex
	runs  map[string]*models.RunResult
	views map[string]string
}

func newMemRuns() *memRuns {
	return &memRuns{runs: map[string]*models.RunResult{}, views: map[string]string{}}
}

func (m *memRuns) SaveRun(run *models.RunResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
	return nil
}

func (m *memRuns) GetRun(id string) (*models.RunResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[id], nil
}

func (m *memRuns) DeleteRun(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[id]; !ok {
		return db.ErrNotFound
	}
	delete(m.runs, id)
	delete(m.views, id)
	return nil
}

func (m *memRuns) ListRuns(limit, offset int) ([]db.RunSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []db.RunSummary{}
	for _, r := range m.runs {
		out = append(out, db.RunSummary{ID: r.ID, PrincipalURL: r.PrincipalURL, TotalLinks: len(r.Edits), ViewsPath: m.views[r.ID], CreatedAt: r.CreatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return []db.RunSummary{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRuns) CountRuns() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs), nil
}

func (m *memRuns) SetViewsPath(id, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[id]; !ok {
		return db.ErrNotFound
	}
	m.views[id] = path
	return nil
}

func (m *memRuns) GetViewsPath(id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[id]; !ok {
		return "", db.ErrNotFound
	}
	return m.views[id], nil
}

func (m *memRuns) LinksToURL(target string) ([]db.LinkRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []db.LinkRecord{}
	for _, r := range m.runs {
		for _, e := range r.Edits {
			if e.TargetURL == target {
				out = append(out, db.LinkRecord{RunID: r.ID, PrincipalURL: r.PrincipalURL, BlockID: e.BlockID, TargetURL: e.TargetURL, Anchor: e.Anchor})
			}
		}
	}
	return out, nil
}

func (m *memRuns) LatestRunForURL(principalURL string) (*models.RunResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.RunResult
	for _, r := range m.runs {
		if r.PrincipalURL == principalURL && (latest == nil || r.CreatedAt.After(latest.CreatedAt)) {
			latest = r
		}
	}
	return latest, nil
}

func (m *memRuns) GetStats() (*db.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &db.Stats{TotalRuns: len(m.runs)}
	pages := map[string]bool{}
	for _, r := range m.runs {
		stats.TotalLinks += len(r.Edits)
		pages[r.PrincipalURL] = true
	}
	stats.DistinctPages = len(pages)
	if stats.TotalRuns > 0 {
		stats.AvgLinksPerRun = float64(stats.TotalLinks) / float64(stats.TotalRuns)
	}
	return stats, nil
}

func (m *memRuns) Close() error { return nil }

const article = `<p>Choosing trail running shoes matters for rocky terrain and long distances.</p>` +
	`<p>Our store sells <a href="/gear">trail gear</a> for every runner.</p>`

const (
	shoesBlock = "b:0:p:p[0]"
	shoesText  = "Choosing trail running shoes matters for rocky terrain and long distances."
)

// newSite serves a principal article and one candidate
func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	pages := map[string]string{
		"/article": `<html><head><title>Trail Running</title></head><body><article>` + article + `</article></body></html>`,
		"/shoes":   `<html><body><article><p>A review of trail running shoes for rocky terrain.</p></article></body></html>`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func shoesMock(target string) *llm.Mock {
	reply, _ := json.Marshal(map[string]any{
		"ok":                  true,
		"url":                 target,
		"block_id":            shoesBlock,
		"anchor":              "trail running shoes",
		"original_block_text": shoesText,
		"modified_block_text": strings.Replace(shoesText, "trail running shoes", "[trail running shoes]("+target+")", 1),
		"reason":              "topical",
	})
	return llm.NewMock(string(reply))
}

type testEnv struct {
	server *Server
	site   *httptest.Server
	runs   *memRuns
	views  *storage.Storage
	reg    *prometheus.Registry
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	site := newSite(t)

	cfg := interlinker.DefaultConfig()
	cfg.Retry.MaxAttempts = 1
	cfg.SimilarityThreshold = -1
	cfg.LLM = interlinker.LLMConfig{Provider: interlinker.ProviderMock}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	mock := shoesMock(site.URL + "/shoes")
	linker, err := interlinker.New(cfg, interlinker.WithGenerator(mock), interlinker.WithEmbedder(mock), interlinker.WithMetrics(m))
	require.NoError(t, err)

	views, err := storage.New(storage.Config{BasePath: t.TempDir()})
	require.NoError(t, err)

	runs := newMemRuns()
	server := NewServer(Config{Addr: ":0"}, linker,
		WithRunStore(runs),
		WithViewStore(views),
		WithGatherer(reg),
	)
	return &testEnv{server: server, site: site, runs: runs, views: views, reg: reg}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHandleHealth(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[map[string]interface{}](t, w)
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, float64(0), resp["runs"])

	w = env.do(t, http.MethodPost, "/health", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleBlocks(t *testing.T) {
	env := setupTestServer(t)

	tests := []struct {
		name       string
		body       interface{}
		wantStatus int
		wantBlocks int
	}{
		{"inline html", BlocksRequest{HTML: article}, http.StatusOK, 2},
		{"fetched url", BlocksRequest{URL: env.site.URL + "/article"}, http.StatusOK, 2},
		{"missing page", BlocksRequest{URL: env.site.URL + "/gone"}, http.StatusBadGateway, 0},
		{"empty request", BlocksRequest{}, http.StatusBadRequest, 0},
		{"bad json", "not an object", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/blocks", tt.body)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantStatus != http.StatusOK {
				assert.Contains(t, decode[map[string]string](t, w), "error")
				return
			}
			resp := decode[BlocksResponse](t, w)
			assert.Len(t, resp.Blocks, tt.wantBlocks)
			assert.Equal(t, 1, resp.Eligible)
			assert.Equal(t, shoesBlock, resp.Blocks[0].ID)
		})
	}
}

func TestHandleLink_SavesAndServesRun(t *testing.T) {
	env := setupTestServer(t)
	target := env.site.URL + "/shoes"

	w := env.do(t, http.MethodPost, "/api/link", LinkRequest{
		PrincipalURL:  env.site.URL + "/article",
		CandidateURLs: []string{target},
		Render:        true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[LinkResponse](t, w)
	require.NotNil(t, resp.RunResult)
	require.Len(t, resp.Edits, 1)
	assert.Equal(t, shoesBlock, resp.Edits[0].BlockID)
	require.NotNil(t, resp.Views)
	assert.Contains(t, resp.Views.LinkedHTML, `<a href="`+target+`">trail running shoes</a>`)
	require.NotEmpty(t, resp.ViewsPath)
	assert.Contains(t, resp.ViewsPath, "trail-running-")

	id := resp.ID

	// stored
	w = env.do(t, http.MethodGet, "/api/runs/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, decode[models.RunResult](t, w).ID)

	// view served from storage
	w = env.do(t, http.MethodGet, "/api/runs/"+id+"/views/original", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), `<mark class="interlink-anchor">trail running shoes</mark>`)

	w = env.do(t, http.MethodGet, "/api/runs/"+id+"/views/diff", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// listed and indexed by target
	w = env.do(t, http.MethodGet, "/api/runs?limit=500", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[RunListResponse](t, w)
	assert.Equal(t, 100, list.Limit)
	assert.Equal(t, 1, list.Total)
	require.Len(t, list.Runs, 1)
	assert.Equal(t, resp.ViewsPath, list.Runs[0].ViewsPath)

	w = env.do(t, http.MethodGet, "/api/links?target="+target, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode[map[string]interface{}](t, w)["count"])

	w = env.do(t, http.MethodGet, "/api/runs?url="+env.site.URL+"/article", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, decode[models.RunResult](t, w).ID)

	w = env.do(t, http.MethodGet, "/api/runs?url="+env.site.URL+"/other", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[db.Stats](t, w)
	assert.Equal(t, 1, stats.TotalRuns)
	assert.Equal(t, 1, stats.TotalLinks)

	// deleted with its views
	w = env.do(t, http.MethodDelete, "/api/runs/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	_, err := env.views.ReadView(t.Context(), resp.ViewsPath, "original")
	assert.Error(t, err)

	w = env.do(t, http.MethodGet, "/api/runs/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(t, http.MethodDelete, "/api/runs/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleLink_ViewRenderedWhenNotStored(t *testing.T) {
	env := setupTestServer(t)
	noSave := false

	w := env.do(t, http.MethodPost, "/api/link", LinkRequest{
		PrincipalURL:  env.site.URL + "/article",
		CandidateURLs: []string{env.site.URL + "/shoes"},
		Save:          &noSave,
	})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[LinkResponse](t, w)
	assert.Nil(t, resp.Views)
	assert.Empty(t, resp.ViewsPath)

	count, _ := env.runs.CountRuns()
	assert.Equal(t, 0, count)

	// store without views, then serve by rendering
	run := resp.RunResult
	require.NoError(t, env.runs.SaveRun(run))
	w = env.do(t, http.MethodGet, "/api/runs/"+run.ID+"/views/modified", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `trail running shoes</a>`)
}

func TestHandleLink_Errors(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, http.MethodGet, "/api/link", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = env.do(t, http.MethodPost, "/api/link", LinkRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/link", LinkRequest{PrincipalURL: env.site.URL + "/gone"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, decode[map[string]string](t, w)["error"], "principal page")
}

func TestHandleRender(t *testing.T) {
	env := setupTestServer(t)

	edit := models.Edit{
		BlockID:           shoesBlock,
		TargetURL:         "https://example.com/shoes",
		Anchor:            "trail running shoes",
		OriginalBlockText: shoesText,
		ModifiedBlockText: strings.Replace(shoesText, "trail running shoes", "[trail running shoes](https://example.com/shoes)", 1),
	}
	w := env.do(t, http.MethodPost, "/api/render", RenderRequest{HTML: article, Edits: []models.Edit{edit}})
	require.Equal(t, http.StatusOK, w.Code)

	views := decode[models.RenderedViews](t, w)
	assert.Equal(t, 1, views.Stats.Applied.Linked)
	assert.Contains(t, views.LinkedHTML, `class="interlink-inserted"`)

	w = env.do(t, http.MethodPost, "/api/render", RenderRequest{HTML: "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunRoutesWithoutStore(t *testing.T) {
	env := setupTestServer(t)
	bare := NewServer(Config{}, env.server.linker)

	for _, path := range []string{"/api/runs", "/api/runs/x", "/api/links?target=x", "/api/stats"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		bare.Handler().ServeHTTP(w, req)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	bare.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORSAndMetrics(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, http.MethodGet, "/health", nil)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	cors := NewServer(Config{CORSEnabled: true}, env.server.linker)
	req := httptest.NewRequest(http.MethodOptions, "/api/link", nil)
	rec := httptest.NewRecorder()
	cors.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	// a run populates the registry
	env.do(t, http.MethodPost, "/api/link", LinkRequest{
		PrincipalURL:  env.site.URL + "/article",
		CandidateURLs: []string{env.site.URL + "/shoes"},
	})
	w = env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "interlinker_")
}

func TestShutdown(t *testing.T) {
	env := setupTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, env.server.Shutdown(ctx))
}

// Package api exposes the link insertion engine over a JSON HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/docutag/interlinker"
	"github.com/docutag/interlinker/blocks"
	"github.com/docutag/interlinker/db"
	"github.com/docutag/interlinker/logger"
	"github.com/docutag/interlinker/models"
	"github.com/docutag/interlinker/slug"
	"github.com/docutag/interlinker/storage"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 10 << 20

// RunStore persists runs; *db.DB implements it
type RunStore interface {
	SaveRun(run *models.RunResult) error
	GetRun(id string) (*models.RunResult, error)
	DeleteRun(id string) error
	ListRuns(limit, offset int) ([]db.RunSummary, error)
	CountRuns() (int, error)
	SetViewsPath(id, path string) error
	GetViewsPath(id string) (string, error)
	LinksToURL(targetURL string) ([]db.LinkRecord, error)
	LatestRunForURL(principalURL string) (*models.RunResult, error)
	GetStats() (*db.Stats, error)
	Close() error
}

// Server represents the API server
type Server struct {
	linker      *interlinker.Linker
	runs        RunStore          // nil disables run persistence
	views       storage.ViewStore // nil disables view storage
	gatherer    prometheus.Gatherer
	log         *logger.Logger
	addr        string
	server      *http.Server
	mux         *http.ServeMux
	corsEnabled bool
}

// Config contains server configuration
type Config struct {
	Addr        string
	CORSEnabled bool
}

// DefaultConfig returns default server configuration
func DefaultConfig() Config {
	return Config{
		Addr:        ":8080",
		CORSEnabled: true,
	}
}

// Option customizes a Server
type Option func(*Server)

// WithRunStore enables run persistence
func WithRunStore(r RunStore) Option {
	return func(s *Server) { s.runs = r }
}

// WithViewStore enables storage of rendered views
func WithViewStore(v storage.ViewStore) Option {
	return func(s *Server) { s.views = v }
}

// WithGatherer serves the given registry on /metrics
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithLogger sets the request logger
func WithLogger(l *logger.Logger) Option {
	return func(s *Server) { s.log = l }
}

// NewServer creates a new API server
func NewServer(config Config, linker *interlinker.Linker, opts ...Option) *Server {
	s := &Server{
		linker:      linker,
		addr:        config.Addr,
		mux:         http.NewServeMux(),
		corsEnabled: config.CORSEnabled,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logger.OrNop(s.log)

	s.registerRoutes()

	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute, // Allow time for long link runs
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler returns the fully wrapped handler
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.middleware(s.mux), "interlinker.api")
}

// registerRoutes sets up all API routes
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/blocks", s.handleBlocks)
	s.mux.HandleFunc("/api/link", s.handleLink)
	s.mux.HandleFunc("/api/render", s.handleRender)
	s.mux.HandleFunc("/api/runs", s.handleListRuns)
	s.mux.HandleFunc("/api/runs/", s.handleRun) // Handles /api/runs/{id} and /api/runs/{id}/views/{view}
	s.mux.HandleFunc("/api/links", s.handleLinksTo)
	s.mux.HandleFunc("/api/stats", s.handleStats)
	if s.gatherer != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

// Start starts the API server
func (s *Server) Start() error {
	s.log.Info("starting API server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down API server")
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	var errs []error
	if s.runs != nil {
		errs = append(errs, s.runs.Close())
	}
	errs = append(errs, s.linker.Close())
	return errors.Join(errs...)
}

// middleware applies common middleware to all routes
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.corsEnabled {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

		// skip health and metrics to reduce noise
		start := time.Now()
		next.ServeHTTP(w, r)
		if r.URL.Path != "/health" && r.URL.Path != "/metrics" {
			s.log.Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"duration", time.Since(start).String(),
			)
		}
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resp := map[string]interface{}{
		"status": "healthy",
		"time":   time.Now(),
	}
	if s.runs != nil {
		count, err := s.runs.CountRuns()
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to get count")
			return
		}
		resp["runs"] = count
	}
	respondJSON(w, http.StatusOK, resp)
}

// BlocksRequest asks for the blocks of a page or of supplied markup
type BlocksRequest struct {
	URL  string `json:"url,omitempty"`
	HTML string `json:"html,omitempty"` // Takes precedence over URL
}

// BlocksResponse lists extracted blocks
type BlocksResponse struct {
	Blocks   []models.ContentBlock `json:"blocks"`
	Eligible int                   `json:"eligible"`
	HTML     string                `json:"html"` // Markup the block ids refer to
}

// handleBlocks extracts addressable blocks
func (s *Server) handleBlocks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req BlocksRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	src := req.HTML
	if src == "" {
		if req.URL == "" {
			respondError(w, http.StatusBadRequest, "url or html is required")
			return
		}
		html, err := s.linker.Extractor().ExtractHTML(r.Context(), req.URL)
		if err != nil {
			s.log.Warn("block extraction fetch failed", "url", req.URL, "error", err)
			respondError(w, http.StatusBadGateway, fmt.Sprintf("failed to fetch page: %v", err))
			return
		}
		src = html
	}

	bs := blocks.Extract(src)
	eligible := 0
	for _, b := range bs {
		if b.Eligible() {
			eligible++
		}
	}
	respondJSON(w, http.StatusOK, BlocksResponse{Blocks: bs, Eligible: eligible, HTML: src})
}

// LinkRequest starts a link insertion run
type LinkRequest struct {
	PrincipalURL  string                `json:"principal_url"`
	CandidateURLs []string              `json:"candidate_urls"`
	Blocks        []models.ContentBlock `json:"blocks,omitempty"`
	Render        bool                  `json:"render"` // Include rendered views in the response
	Save          *bool                 `json:"save,omitempty"`
}

// LinkResponse is a run plus optional views
type LinkResponse struct {
	*models.RunResult
	Views     *models.RenderedViews `json:"views,omitempty"`
	ViewsPath string                `json:"views_path,omitempty"`
}

// handleLink runs link insertion
func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req LinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PrincipalURL == "" {
		respondError(w, http.StatusBadRequest, "principal_url is required")
		return
	}

	run, err := s.linker.RunLinkInsertion(r.Context(), req.PrincipalURL, req.CandidateURLs, req.Blocks)
	if err != nil {
		s.log.Error("link run failed", "url", req.PrincipalURL, "error", err)
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	resp := LinkResponse{RunResult: run}
	save := req.Save == nil || *req.Save
	if save && s.runs != nil {
		if err := s.runs.SaveRun(run); err != nil {
			s.log.Error("failed to save run", "run_id", run.ID, "error", err)
			run.Warnings = append(run.Warnings, "Run could not be saved")
		}
	}

	if req.Render || (save && s.views != nil) {
		views := s.linker.RenderRun(run)
		if req.Render {
			resp.Views = &views
		}
		if save && s.views != nil {
			resp.ViewsPath = s.storeViews(r.Context(), run, views)
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// storeViews saves rendered views and records their location; failures are logged
func (s *Server) storeViews(ctx context.Context, run *models.RunResult, views models.RenderedViews) string {
	prefix, err := s.views.SaveViews(ctx, slug.ForRun(run.Title, run.PrincipalURL, run.ID), views)
	if err != nil {
		s.log.Error("failed to store views", "run_id", run.ID, "error", err)
		return ""
	}
	if s.runs != nil {
		if err := s.runs.SetViewsPath(run.ID, prefix); err != nil {
			s.log.Warn("failed to record views path", "run_id", run.ID, "error", err)
		}
	}
	return prefix
}

// RenderRequest renders supplied edits over supplied markup
type RenderRequest struct {
	HTML   string                `json:"html"`
	Blocks []models.ContentBlock `json:"blocks,omitempty"`
	Edits  []models.Edit         `json:"edits"`
}

// handleRender produces the three views
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req RenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.HTML) == "" {
		respondError(w, http.StatusBadRequest, "html is required")
		return
	}

	respondJSON(w, http.StatusOK, s.linker.ApplyEditsToHTML(req.HTML, req.Blocks, req.Edits))
}

// handleRun handles /api/runs/{id} and /api/runs/{id}/views/{view}
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		respondError(w, http.StatusServiceUnavailable, "run storage is not configured")
		return
	}

	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/runs/"), "/")
	if path == "" {
		respondError(w, http.StatusBadRequest, "id is required")
		return
	}

	if id, view, ok := strings.Cut(path, "/views/"); ok {
		if r.Method != http.MethodGet {
			respondError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleServeView(w, r, id, view)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGetRun(w, r, path)
	case http.MethodDelete:
		s.handleDeleteRun(w, r, path)
	default:
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request, id string) {
	run, err := s.runs.GetRun(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}
	if run == nil {
		respondError(w, http.StatusNotFound, "run not found")
		return
	}
	respondJSON(w, http.StatusOK, run)
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request, id string) {
	viewsPath, err := s.runs.GetViewsPath(id)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}

	if err := s.runs.DeleteRun(id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(w, http.StatusNotFound, "run not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to delete run")
		return
	}

	if viewsPath != "" && s.views != nil {
		if err := s.views.DeleteViews(r.Context(), viewsPath); err != nil {
			s.log.Warn("failed to delete stored views", "run_id", id, "path", viewsPath, "error", err)
		}
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "run deleted successfully",
	})
}

// handleServeView serves one view of a run from storage, rendering it on the
// fly when none was stored
func (s *Server) handleServeView(w http.ResponseWriter, r *http.Request, id, view string) {
	if view != "original" && view != "linked" && view != "modified" {
		respondError(w, http.StatusNotFound, "unknown view")
		return
	}

	content, err := s.storedView(r.Context(), id, view)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(w, http.StatusNotFound, "run not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load view")
		return
	}

	if content == "" {
		run, err := s.runs.GetRun(id)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "database error")
			return
		}
		if run == nil {
			respondError(w, http.StatusNotFound, "run not found")
			return
		}
		views := s.linker.RenderRun(run)
		content = map[string]string{
			"original": views.OriginalHTML,
			"linked":   views.LinkedHTML,
			"modified": views.ModifiedHTML,
		}[view]
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(content))
}

// storedView reads a stored view; "" means nothing was stored
func (s *Server) storedView(ctx context.Context, id, view string) (string, error) {
	if s.views == nil {
		return "", nil
	}
	viewsPath, err := s.runs.GetViewsPath(id)
	if err != nil || viewsPath == "" {
		return "", err
	}
	content, err := s.views.ReadView(ctx, viewsPath, view)
	if err != nil {
		s.log.Warn("stored view unreadable, rendering", "run_id", id, "path", viewsPath, "error", err)
		return "", nil
	}
	return content, nil
}

// RunListResponse pages stored runs
type RunListResponse struct {
	Runs   []db.RunSummary `json:"runs"`
	Count  int             `json:"count"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.runs == nil {
		respondError(w, http.StatusServiceUnavailable, "run storage is not configured")
		return
	}

	// ?url= returns the most recent run for that page instead of a listing
	if pageURL := r.URL.Query().Get("url"); pageURL != "" {
		run, err := s.runs.LatestRunForURL(pageURL)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "database error")
			return
		}
		if run == nil {
			respondError(w, http.StatusNotFound, "no run for url")
			return
		}
		respondJSON(w, http.StatusOK, run)
		return
	}

	limit := 20
	offset := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		fmt.Sscanf(limitStr, "%d", &limit)
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		fmt.Sscanf(offsetStr, "%d", &offset)
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	runs, err := s.runs.ListRuns(limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	total, err := s.runs.CountRuns()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get count")
		return
	}

	respondJSON(w, http.StatusOK, RunListResponse{
		Runs:   runs,
		Count:  len(runs),
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// handleLinksTo lists stored edits pointing at ?target=
func (s *Server) handleLinksTo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.runs == nil {
		respondError(w, http.StatusServiceUnavailable, "run storage is not configured")
		return
	}
	target := r.URL.Query().Get("target")
	if target == "" {
		respondError(w, http.StatusBadRequest, "target is required")
		return
	}

	links, err := s.runs.LinksToURL(target)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"links": links,
		"count": len(links),
	})
}

// handleStats returns aggregate run statistics
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.runs == nil {
		respondError(w, http.StatusServiceUnavailable, "run storage is not configured")
		return
	}
	stats, err := s.runs.GetStats()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

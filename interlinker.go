// Package interlinker inserts internal links into an article. It splits the article
// into addressable blocks, ranks candidate pages by embedding similarity, lets a
// text generator propose one link per block under strict validation, and renders
// the accepted edits as original, linked and diff-highlighted views.
package interlinker

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/docutag/interlinker/blocks"
	"github.com/docutag/interlinker/fetch"
	"github.com/docutag/interlinker/llm"
	"github.com/docutag/interlinker/logger"
	"github.com/docutag/interlinker/metrics"
	"github.com/docutag/interlinker/models"
	"github.com/docutag/interlinker/propose"
	"github.com/docutag/interlinker/rank"
	"github.com/docutag/interlinker/render"
	"github.com/docutag/interlinker/textnorm"
)

const tracerName = "github.com/docutag/interlinker"

// Linker runs link insertion end to end
type Linker struct {
	config    Config
	client    *fetch.Client
	extractor *Extractor
	ranker    *rank.Ranker
	proposer  *propose.Proposer
	log       *logger.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	closers   []func() error
}

// Option customizes a Linker
type Option func(*options)

type options struct {
	generator  llm.Generator
	embedder   llm.Embedder
	cache      fetch.Cache
	httpClient *http.Client
	log        *logger.Logger
	metrics    *metrics.Metrics
}

// WithGenerator overrides the configured generation backend
func WithGenerator(g llm.Generator) Option {
	return func(o *options) { o.generator = g }
}

// WithEmbedder overrides the configured embedding backend
func WithEmbedder(e llm.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithCache overrides the fetch cache
func WithCache(c fetch.Cache) Option {
	return func(o *options) { o.cache = c }
}

// WithHTTPClient overrides the HTTP client used for document fetches
func WithHTTPClient(h *http.Client) Option {
	return func(o *options) { o.httpClient = h }
}

// WithLogger sets the logger
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// New creates a Linker from config. Backends not supplied through options are built
// from config.LLM; a Redis cache that cannot be reached falls back to memory.
func New(config Config, opts ...Option) (*Linker, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	log := logger.OrNop(o.log)

	l := &Linker{
		config:  config,
		log:     log,
		metrics: o.metrics,
		tracer:  otel.Tracer(tracerName),
	}

	cache := o.cache
	if cache == nil && config.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rc, err := fetch.NewRedisCache(ctx, config.RedisURL, config.CacheTTL, log)
		cancel()
		if err != nil {
			log.Warn("redis cache unavailable, using in-memory cache", "error", err)
		} else {
			cache = rc
			l.closers = append(l.closers, rc.Close)
		}
	}
	if cache == nil {
		cache = fetch.NewMemoryCache(config.CacheEntries, config.CacheTTL)
	}

	clientOpts := []fetch.Option{fetch.WithCache(cache), fetch.WithLogger(log), fetch.WithMetrics(o.metrics)}
	if o.httpClient != nil {
		clientOpts = append(clientOpts, fetch.WithHTTPClient(o.httpClient))
	}
	clientConfig := fetch.DefaultClientConfig()
	clientConfig.Retry = config.fetchPolicy(config.HTTPTimeout)
	l.client = fetch.NewClient(clientConfig, clientOpts...)
	l.extractor = NewExtractor(l.client, config.EnrichConcurrency, log)

	generator, embedder := o.generator, o.embedder
	if generator == nil || embedder == nil {
		g, e, err := newBackends(config.LLM)
		if err != nil {
			return nil, err
		}
		if generator == nil {
			generator = g
		}
		if embedder == nil {
			embedder = e
		}
	}

	policy := config.fetchPolicy(config.GenerateTimeout)
	generator = llm.NewLimited(generator, config.LLM.MaxConcurrent, policy, log, o.metrics)
	embedder = llm.NewRetryingEmbedder(embedder, policy)

	l.ranker = rank.New(l.extractor, embedder, config.FetchConcurrency, log, o.metrics)
	l.proposer = propose.New(generator, log, o.metrics)
	return l, nil
}

// newBackends builds the configured generator and embedder
func newBackends(c LLMConfig) (llm.Generator, llm.Embedder, error) {
	switch c.Provider {
	case ProviderOpenAI:
		o, err := llm.NewOpenAI(llm.OpenAIConfig{
			APIKey:         c.APIKey,
			BaseURL:        c.BaseURL,
			ChatModel:      c.ChatModel,
			EmbeddingModel: c.EmbeddingModel,
			HTTPClient:     &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		})
		if err != nil {
			return nil, nil, err
		}
		return o, o, nil
	case ProviderOllama:
		o := llm.NewOllama(c.BaseURL, c.ChatModel, c.EmbeddingModel)
		return o, o, nil
	case ProviderMock:
		m := llm.NewMock(`{"ok":false,"reason":"mock generator"}`)
		return m, m, nil
	default:
		return nil, nil, fmt.Errorf("unknown llm provider %q", c.Provider)
	}
}

// Extractor returns the document extractor
func (l *Linker) Extractor() *Extractor {
	return l.extractor
}

// Close releases the shared cache connection, if any
func (l *Linker) Close() error {
	var first error
	for _, c := range l.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// RunLinkInsertion proposes link edits for the page at principalURL. When
// principalBlocks is empty the blocks are extracted from the fetched page.
// Per-candidate failures are recorded as rejections; only an unreachable
// principal without blocks or a failed batch embedding aborts the run.
func (l *Linker) RunLinkInsertion(ctx context.Context, principalURL string, candidateURLs []string, principalBlocks []models.ContentBlock) (*models.RunResult, error) {
	start := time.Now()
	ctx, span := l.tracer.Start(ctx, "interlinker.run", trace.WithAttributes(
		attribute.String("principal_url", principalURL),
		attribute.Int("candidates", len(candidateURLs)),
	))
	defer span.End()

	warnings := []string{}
	result := &models.RunResult{
		ID:           uuid.New().String(),
		PrincipalURL: principalURL,
		CreatedAt:    start,
	}

	page, err := l.extractor.Extract(ctx, principalURL)
	switch {
	case err != nil && len(principalBlocks) == 0:
		span.RecordError(err)
		return nil, fmt.Errorf("failed to extract principal page: %w", err)
	case err != nil:
		l.log.Warn("principal fetch failed, using supplied blocks", "url", principalURL, "error", err)
		warnings = append(warnings, "Principal page unavailable, using supplied blocks")
	default:
		result.Title = page.Title
		result.HTML = page.HTML
	}

	blockList := principalBlocks
	if len(blockList) == 0 {
		blockList = blocks.Extract(page.HTML)
		if len(blockList) == 0 {
			warnings = append(warnings, "No content blocks found in principal page")
		}
	}
	result.Blocks = blockList

	principalText := blockText(blockList)
	words := textnorm.Words(principalText)
	maxLinks := l.config.MaxLinks
	if maxLinks <= 0 {
		maxLinks = propose.MaxLinks(words)
	}

	urls := dedupeCandidates(principalURL, candidateURLs)
	if dropped := len(candidateURLs) - len(urls); dropped > 0 {
		warnings = append(warnings, fmt.Sprintf("Ignored %d duplicate or self-referencing candidate URLs", dropped))
	}

	rankCtx, rankSpan := l.tracer.Start(ctx, "interlinker.rank")
	accepted, rankRejected, err := l.ranker.Rank(rankCtx, principalText, urls, l.config.SimilarityThreshold, l.config.MaxCandidates)
	rankSpan.End()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to rank candidates: %w", err)
	}
	if n := countGate(rankRejected, rank.GateEmptyContent); n > 0 {
		warnings = append(warnings, fmt.Sprintf("%d candidate pages had no retrievable content", n))
	}

	proposeCtx, proposeSpan := l.tracer.Start(ctx, "interlinker.propose", trace.WithAttributes(
		attribute.Int("ranked", len(accepted)),
		attribute.Int("max_links", maxLinks),
	))
	edits, proposeRejected := l.proposer.Propose(proposeCtx, accepted, blockList, maxLinks)
	proposeSpan.End()

	result.Edits = edits
	if result.Edits == nil {
		result.Edits = []models.Edit{}
	}
	result.Rejected = append(append([]models.Rejection{}, rankRejected...), proposeRejected...)
	result.Metrics = models.RunMetrics{
		TotalLinks:         len(edits),
		DensityPer1000:     density(len(edits), words),
		CandidatesAnalyzed: len(urls),
		EligibleBlocks:     countEligible(blockList),
		WordCount:          words,
		MaxLinks:           maxLinks,
	}
	if len(warnings) > 0 {
		result.Warnings = warnings
	}
	result.ProcessingTime = time.Since(start).Seconds()

	span.SetAttributes(attribute.Int("edits", len(edits)), attribute.Int("rejected", len(result.Rejected)))
	l.metrics.ObserveRun(result.ProcessingTime)
	l.log.Info("link insertion complete",
		"run_id", result.ID,
		"url", principalURL,
		"edits", len(edits),
		"rejected", len(result.Rejected),
		"duration", result.ProcessingTime,
	)
	return result, nil
}

// ApplyEditsToHTML renders the original, linked and diff-highlighted views.
// Edits naming blocks absent from blockList are still attempted; the render
// stats report whether their ids resolved.
func (l *Linker) ApplyEditsToHTML(src string, blockList []models.ContentBlock, edits []models.Edit) models.RenderedViews {
	if len(blockList) > 0 {
		known := make(map[string]bool, len(blockList))
		for _, b := range blockList {
			known[b.ID] = true
		}
		for _, e := range edits {
			if !known[e.BlockID] {
				l.log.Warn("edit references a block outside the supplied list", "block_id", e.BlockID)
			}
		}
	}

	return render.Render(src, edits, render.Options{
		SkipAlreadyLinked: l.config.SkipAlreadyLinked,
		Log:               l.log,
		Metrics:           l.metrics,
	})
}

// RenderRun renders a completed run's edits over its principal HTML
func (l *Linker) RenderRun(r *models.RunResult) models.RenderedViews {
	return l.ApplyEditsToHTML(r.HTML, r.Blocks, r.Edits)
}

func blockText(bs []models.ContentBlock) string {
	parts := make([]string, 0, len(bs))
	for _, b := range bs {
		parts = append(parts, b.Text)
	}
	return strings.Join(parts, "\n")
}

func countEligible(bs []models.ContentBlock) int {
	n := 0
	for _, b := range bs {
		if b.Eligible() {
			n++
		}
	}
	return n
}

func countGate(rs []models.Rejection, gate string) int {
	n := 0
	for _, r := range rs {
		if r.Gate == gate {
			n++
		}
	}
	return n
}

// density is links per 1,000 words
func density(links, words int) float64 {
	if words == 0 {
		return 0
	}
	return float64(links) / float64(words) * 1000
}

// dedupeCandidates drops blanks, repeats and the principal itself, keeping order
func dedupeCandidates(principal string, urls []string) []string {
	seen := map[string]bool{strings.TrimSpace(principal): true}
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

// Package rank scores candidate documents against the principal document by
// embedding cosine similarity and keeps the best of them.
package rank

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/docutag/interlinker/fetch"
	"github.com/docutag/interlinker/llm"
	"github.com/docutag/interlinker/logger"
	"github.com/docutag/interlinker/metrics"
	"github.com/docutag/interlinker/models"
)

const (
	DefaultThreshold   = 0.2
	DefaultCap         = 30
	DefaultConcurrency = 5
)

// Gate codes for ranker rejections
const (
	GateEmptyContent   = "empty_content"
	GateBelowThreshold = "below_threshold"
)

const (
	reasonEmptyContent   = "empty or unavailable content"
	reasonBelowThreshold = "below threshold or outside top-N"
)

// TextFetcher returns the extracted body text of a document
type TextFetcher interface {
	ExtractText(ctx context.Context, url string) (string, error)
}

// Ranker fetches and embeds candidates
type Ranker struct {
	fetcher     TextFetcher
	embedder    llm.Embedder
	concurrency int
	log         *logger.Logger
	metrics     *metrics.Metrics
}

// New creates a Ranker fetching with the given concurrency (<= 0 uses the default)
func New(fetcher TextFetcher, embedder llm.Embedder, concurrency int, log *logger.Logger, m *metrics.Metrics) *Ranker {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Ranker{
		fetcher:     fetcher,
		embedder:    embedder,
		concurrency: concurrency,
		log:         logger.OrNop(log),
		metrics:     m,
	}
}

// Rank fetches every url, embeds the principal text and all non-empty candidates
// in one batch, and selects by threshold and cap. Fetch failures degrade to empty
// content; only a failed batch embedding is returned as an error.
func (r *Ranker) Rank(ctx context.Context, principalText string, urls []string, threshold float64, limit int) ([]models.Candidate, []models.Rejection, error) {
	results := fetch.RunPool(ctx, urls, r.concurrency, func(ctx context.Context, _ int, u string) (string, error) {
		return r.fetcher.ExtractText(ctx, u)
	})

	contents := make([]string, len(urls))
	for i, res := range results {
		if res.Err != nil {
			r.log.Warn("candidate fetch failed, treating as empty", "url", urls[i], "error", res.Err)
			continue
		}
		contents[i] = res.Value
	}

	return r.Score(ctx, principalText, urls, contents, threshold, limit)
}

// Score embeds already fetched contents and selects candidates
func (r *Ranker) Score(ctx context.Context, principalText string, urls, contents []string, threshold float64, limit int) ([]models.Candidate, []models.Rejection, error) {
	var rejected []models.Rejection
	var candidates []models.Candidate
	texts := []string{principalText}

	for i, u := range urls {
		if strings.TrimSpace(contents[i]) == "" {
			rejected = append(rejected, models.Rejection{URL: u, Gate: GateEmptyContent, Reason: reasonEmptyContent})
			r.metrics.ObserveRejection(GateEmptyContent)
			continue
		}
		candidates = append(candidates, models.Candidate{URL: u, Content: contents[i]})
		texts = append(texts, contents[i])
	}

	if len(candidates) == 0 {
		return nil, rejected, nil
	}

	vecs, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, rejected, fmt.Errorf("failed to embed candidates: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, rejected, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
	}

	for i := range candidates {
		candidates[i].Score = Cosine(vecs[0], vecs[i+1])
	}

	accepted, below := Select(candidates, threshold, limit)
	for _, rej := range below {
		r.metrics.ObserveRejection(rej.Gate)
	}
	return accepted, append(rejected, below...), nil
}

// Select keeps candidates scoring at least threshold, sorted by descending score
// (input order on ties) and truncated to limit. Everything else is rejected with its score.
func Select(candidates []models.Candidate, threshold float64, limit int) ([]models.Candidate, []models.Rejection) {
	sorted := make([]models.Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	var accepted []models.Candidate
	var rejected []models.Rejection
	for _, c := range sorted {
		if c.Score >= threshold && (limit <= 0 || len(accepted) < limit) {
			accepted = append(accepted, c)
			continue
		}
		score := c.Score
		rejected = append(rejected, models.Rejection{
			URL:    c.URL,
			Gate:   GateBelowThreshold,
			Reason: reasonBelowThreshold,
			Score:  &score,
		})
	}
	return accepted, rejected
}

// Cosine returns dot(a,b)/(|a||b|). A zero-norm or mismatched input yields 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if math.IsNaN(sim) {
		return 0
	}
	return math.Max(-1, math.Min(1, sim))
}

// Package llm defines the text generation and embedding contracts used by the
// link insertion pipeline, along with the OpenAI and Ollama backends.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/docutag/interlinker/fetch"
	"github.com/docutag/interlinker/logger"
	"github.com/docutag/interlinker/metrics"
)

// Generator produces raw text for a system and user prompt. The output is untrusted.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// Embedder turns texts into fixed-dimension vectors, one per input, in input order
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Limited wraps a Generator with a concurrency limit and the retry policy
type Limited struct {
	next    Generator
	policy  fetch.Policy
	slots   chan struct{} // Semaphore bounding concurrent generation calls
	log     *logger.Logger
	metrics *metrics.Metrics
}

// NewLimited allows at most maxConcurrent generation calls in flight
func NewLimited(next Generator, maxConcurrent int, policy fetch.Policy, log *logger.Logger, m *metrics.Metrics) *Limited {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Limited{
		next:    next,
		policy:  policy,
		slots:   make(chan struct{}, maxConcurrent),
		log:     logger.OrNop(log),
		metrics: m,
	}
}

// acquire takes a slot or returns the context error
func (l *Limited) acquire(ctx context.Context) error {
	select {
	case l.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Limited) release() {
	<-l.slots
}

// Generate calls the wrapped generator, retrying transient failures
func (l *Limited) Generate(ctx context.Context, system, user string) (string, error) {
	if err := l.acquire(ctx); err != nil {
		return "", fmt.Errorf("waiting for generation slot: %w", err)
	}
	defer l.release()

	p := l.policy
	p.OnRetry = func(attempt int, wait time.Duration, err error) {
		l.metrics.ObserveRetry()
		l.log.Warn("generation attempt failed, retrying", "attempt", attempt, "wait", wait.String(), "error", err)
	}

	var out string
	err := fetch.Do(ctx, p, func(ctx context.Context) error {
		text, err := l.next.Generate(ctx, system, user)
		if err != nil {
			return err
		}
		out = text
		return nil
	})
	if err != nil {
		l.metrics.ObserveGeneration("error")
		return "", err
	}
	l.metrics.ObserveGeneration("ok")
	return out, nil
}

// RetryingEmbedder retries a batch embedding call under the policy
type RetryingEmbedder struct {
	next   Embedder
	policy fetch.Policy
}

// NewRetryingEmbedder wraps next with the retry policy
func NewRetryingEmbedder(next Embedder, policy fetch.Policy) *RetryingEmbedder {
	return &RetryingEmbedder{next: next, policy: policy}
}

// Embed retries transient failures of the whole batch
func (r *RetryingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := fetch.Do(ctx, r.policy, func(ctx context.Context) error {
		v, err := r.next.Embed(ctx, texts)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

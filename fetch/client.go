package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/docutag/interlinker/logger"
	"github.com/docutag/interlinker/metrics"
)

const defaultUserAgent = "Mozilla/5.0 (compatible; Interlinker/1.0)"

// ClientConfig contains HTTP fetch configuration
type ClientConfig struct {
	Retry        Policy
	UserAgent    string
	MaxBodyBytes int64 // Bodies larger than this are truncated
}

// DefaultClientConfig returns default fetch configuration
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Retry:        DefaultPolicy(),
		UserAgent:    defaultUserAgent,
		MaxBodyBytes: 5 * 1024 * 1024, // 5MB
	}
}

// Client performs GET requests with per-attempt timeouts, retries and an optional cache
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	cache      Cache
	log        *logger.Logger
	metrics    *metrics.Metrics
}

// Option customizes a Client
type Option func(*Client)

// WithCache enables response caching
func WithCache(c Cache) Option {
	return func(cl *Client) { cl.cache = c }
}

// WithLogger sets the client logger
func WithLogger(l *logger.Logger) Option {
	return func(cl *Client) { cl.log = logger.OrNop(l) }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(cl *Client) { cl.metrics = m }
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(h *http.Client) Option {
	return func(cl *Client) { cl.httpClient = h }
}

// NewClient creates a fetch client whose transport propagates trace context
func NewClient(config ClientConfig, opts ...Option) *Client {
	if config.UserAgent == "" {
		config.UserAgent = defaultUserAgent
	}
	c := &Client{
		config: config,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		log: logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HTTPClient returns the underlying HTTP client
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Policy returns the client's retry policy with logging and metrics hooks attached
func (c *Client) Policy() Policy {
	p := c.config.Retry
	p.OnRetry = func(attempt int, wait time.Duration, err error) {
		c.metrics.ObserveRetry()
		c.log.Warn("fetch attempt failed, retrying",
			"attempt", attempt,
			"max_attempts", p.MaxAttempts,
			"wait", wait.String(),
			"error", err,
		)
	}
	return p
}

// Get fetches targetURL and returns the response body
func (c *Client) Get(ctx context.Context, targetURL string) ([]byte, error) {
	parsedURL, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("URL must be http or https")
	}

	if c.cache != nil {
		if body, ok := c.cache.Get(ctx, targetURL); ok {
			c.metrics.ObserveFetch("cache_hit")
			return body, nil
		}
	}

	var body []byte
	err = Do(ctx, c.Policy(), func(ctx context.Context) error {
		b, err := c.getOnce(ctx, targetURL)
		if err != nil {
			c.metrics.ObserveFetch("error")
			return err
		}
		c.metrics.ObserveFetch("ok")
		body = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", targetURL, err)
	}

	if c.cache != nil {
		c.cache.Set(ctx, targetURL, body)
	}
	return body, nil
}

func (c *Client) getOnce(ctx context.Context, targetURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if c.config.MaxBodyBytes > 0 {
		reader = io.LimitReader(resp.Body, c.config.MaxBodyBytes)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			URL:        targetURL,
			Body:       truncate(strings.TrimSpace(string(data)), 200),
		}
	}
	return data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

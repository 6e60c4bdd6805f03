package interlinker

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/docutag/interlinker/fetch"
	"github.com/docutag/interlinker/llm"
	"github.com/docutag/interlinker/rank"
)

// LLM providers
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderMock   = "mock"
)

// LLMConfig selects and configures the generation and embedding backend
type LLMConfig struct {
	Provider       string `yaml:"provider"`
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	ChatModel      string `yaml:"chat_model"`
	EmbeddingModel string `yaml:"embedding_model"`
	MaxConcurrent  int    `yaml:"max_concurrent"` // Generation calls in flight
}

// RetryConfig mirrors fetch.Policy for configuration files
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// Config contains link insertion configuration
type Config struct {
	HTTPTimeout       time.Duration `yaml:"http_timeout"`       // Per-attempt fetch deadline
	GenerateTimeout   time.Duration `yaml:"generate_timeout"`   // Per-attempt generation deadline
	FetchConcurrency  int           `yaml:"fetch_concurrency"`  // Candidate document fetches in flight
	EnrichConcurrency int           `yaml:"enrich_concurrency"` // Batch text extraction fetches in flight
	Retry             RetryConfig   `yaml:"retry"`

	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	MaxCandidates       int     `yaml:"max_candidates"`
	MaxLinks            int     `yaml:"max_links"` // 0 derives the limit from word count
	SkipAlreadyLinked   bool    `yaml:"skip_already_linked"`

	CacheEntries int           `yaml:"cache_entries"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
	RedisURL     string        `yaml:"redis_url"` // Shared fetch cache; empty uses memory

	LLM LLMConfig `yaml:"llm"`
}

// DefaultConfig returns default link insertion configuration
func DefaultConfig() Config {
	return Config{
		HTTPTimeout:       30 * time.Second,
		GenerateTimeout:   60 * time.Second,
		FetchConcurrency:  rank.DefaultConcurrency,
		EnrichConcurrency: 6,
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 1 * time.Second,
			MaxBackoff:     8 * time.Second,
		},
		SimilarityThreshold: rank.DefaultThreshold,
		MaxCandidates:       rank.DefaultCap,
		SkipAlreadyLinked:   true,
		CacheEntries:        512,
		CacheTTL:            15 * time.Minute,
		LLM: LLMConfig{
			Provider:      ProviderOllama,
			BaseURL:       llm.DefaultOllamaBaseURL,
			ChatModel:     llm.DefaultOllamaModel,
			MaxConcurrent: 3,
		},
	}
}

// LoadConfig reads a YAML file over the defaults and validates the result
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate fails fast on configuration a run cannot start with
func (c Config) Validate() error {
	var errs []error
	switch c.LLM.Provider {
	case ProviderOpenAI:
		if c.LLM.APIKey == "" {
			errs = append(errs, errors.New("llm.api_key is required for the openai provider"))
		}
		if c.LLM.EmbeddingModel == "" {
			errs = append(errs, errors.New("llm.embedding_model is required for the openai provider"))
		}
	case ProviderOllama:
		if c.LLM.BaseURL == "" {
			errs = append(errs, errors.New("llm.base_url is required for the ollama provider"))
		}
	case ProviderMock:
	default:
		errs = append(errs, fmt.Errorf("unknown llm.provider %q", c.LLM.Provider))
	}
	if c.LLM.ChatModel == "" && c.LLM.Provider != ProviderMock {
		errs = append(errs, errors.New("llm.chat_model is required"))
	}
	if c.SimilarityThreshold < -1 || c.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("similarity_threshold %.2f outside [-1,1]", c.SimilarityThreshold))
	}
	if c.MaxCandidates < 0 || c.MaxLinks < 0 {
		errs = append(errs, errors.New("max_candidates and max_links must not be negative"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be at least 1"))
	}
	return errors.Join(errs...)
}

// fetchPolicy builds the retry policy for a call site with the given deadline
func (c Config) fetchPolicy(timeout time.Duration) fetch.Policy {
	return fetch.Policy{
		MaxAttempts:    c.Retry.MaxAttempts,
		InitialBackoff: c.Retry.InitialBackoff,
		MaxBackoff:     c.Retry.MaxBackoff,
		Timeout:        timeout,
	}
}

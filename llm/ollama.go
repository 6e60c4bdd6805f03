package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/docutag/interlinker/fetch"
	"github.com/docutag/interlinker/models"
)

const (
	// DefaultOllamaBaseURL is the default Ollama API endpoint
	DefaultOllamaBaseURL = "http://localhost:11434"
	// DefaultOllamaModel is the default generation model
	DefaultOllamaModel = "gpt-oss:20b"
	// DefaultOllamaEmbedModel is the default embedding model
	DefaultOllamaEmbedModel = "nomic-embed-text"
)

// Ollama talks to an Ollama server over its HTTP API
type Ollama struct {
	baseURL    string
	model      string
	embedModel string
	httpClient *http.Client
}

// NewOllama creates an Ollama backend; empty arguments fall back to the defaults
func NewOllama(baseURL, model, embedModel string) *Ollama {
	if baseURL == "" {
		baseURL = DefaultOllamaBaseURL
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	if embedModel == "" {
		embedModel = DefaultOllamaEmbedModel
	}
	return &Ollama{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		embedModel: embedModel,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

// Generate calls /api/generate with JSON output requested
func (o *Ollama) Generate(ctx context.Context, system, user string) (string, error) {
	var resp models.OllamaResponse
	err := o.post(ctx, "/api/generate", models.OllamaRequest{
		Model:  o.model,
		System: system,
		Prompt: user,
		Stream: false,
		Format: "json",
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Response, nil
}

// Embed calls /api/embed with the whole batch
func (o *Ollama) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var resp models.OllamaEmbedResponse
	if err := o.post(ctx, "/api/embed", models.OllamaEmbedRequest{Model: o.embedModel, Input: texts}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama: got %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}
	return resp.Embeddings, nil
}

func (o *Ollama) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := o.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &fetch.StatusError{StatusCode: resp.StatusCode, URL: endpoint, Body: strings.TrimSpace(string(data))}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode ollama response: %w", err)
	}
	return nil
}

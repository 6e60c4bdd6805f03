package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/docutag/interlinker/fetch"
)

// OpenAIConfig configures the OpenAI backend
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string // Optional, for compatible gateways
	ChatModel      string
	EmbeddingModel string
	HTTPClient     *http.Client // Optional; retries are handled by the caller
}

// OpenAI implements Generator and Embedder on the official SDK
type OpenAI struct {
	client     openai.Client
	chatModel  string
	embedModel string
}

// NewOpenAI validates cfg and builds the client
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key missing")
	}
	if cfg.ChatModel == "" {
		return nil, errors.New("openai chat model is required")
	}

	// The SDK's own retries are disabled so the fetch policy is the only one in effect
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &OpenAI{
		client:     openai.NewClient(opts...),
		chatModel:  cfg.ChatModel,
		embedModel: cfg.EmbeddingModel,
	}, nil
}

// Generate runs a single-turn chat completion
func (o *OpenAI) Generate(ctx context.Context, system, user string) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.chatModel),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed embeds all texts in one request
func (o *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if o.embedModel == "" {
		return nil, errors.New("openai embedding model is required")
	}

	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(o.embedModel),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai: got %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		idx := int(d.Index)
		if idx < 0 || idx >= len(out) {
			return nil, fmt.Errorf("openai: embedding index %d out of range", idx)
		}
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		out[idx] = vec
	}
	return out, nil
}

// classify surfaces the API status so the retry policy can tell 429/5xx from other 4xx
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &fetch.StatusError{StatusCode: apiErr.StatusCode, URL: "openai", Body: apiErr.Error()}
	}
	return err
}

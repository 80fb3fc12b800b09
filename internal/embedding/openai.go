package embedding

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const (
	// DefaultOpenAIModel is the default OpenAI embedding model.
	DefaultOpenAIModel = "text-embedding-3-small"

	// DefaultOpenAIRequestsPerSecond keeps well inside the API's rate limits.
	DefaultOpenAIRequestsPerSecond = 5
)

// ErrMissingAPIKey is returned when no OpenAI API key is configured.
var ErrMissingAPIKey = errors.New("OpenAI API key not set (OPENAI_API_KEY)")

// OpenAIProvider generates embeddings with the OpenAI embeddings API.
type OpenAIProvider struct {
	client     *openai.Client
	model      string
	dimensions int
	limiter    *rate.Limiter
}

// OpenAIOption configures an OpenAIProvider.
type OpenAIOption func(*openAISettings)

type openAISettings struct {
	baseURL    string
	model      string
	dimensions int
	perSecond  float64
}

// WithOpenAIBaseURL points the client at a compatible endpoint.
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(s *openAISettings) {
		s.baseURL = url
	}
}

// WithOpenAIModel sets the embedding model.
func WithOpenAIModel(model string) OpenAIOption {
	return func(s *openAISettings) {
		s.model = model
	}
}

// WithOpenAIDimensions sets the expected vector dimensions.
func WithOpenAIDimensions(dims int) OpenAIOption {
	return func(s *openAISettings) {
		s.dimensions = dims
	}
}

// WithOpenAIRateLimit caps requests per second.
func WithOpenAIRateLimit(perSecond float64) OpenAIOption {
	return func(s *openAISettings) {
		s.perSecond = perSecond
	}
}

// NewOpenAIProvider creates a provider authenticated with apiKey.
func NewOpenAIProvider(apiKey string, opts ...OpenAIOption) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	s := openAISettings{
		model:     DefaultOpenAIModel,
		perSecond: DefaultOpenAIRequestsPerSecond,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.dimensions == 0 {
		s.dimensions = openAIModelDimensions(s.model)
	}

	cfg := openai.DefaultConfig(apiKey)
	if s.baseURL != "" {
		cfg.BaseURL = s.baseURL
	}

	limit := rate.Inf
	if s.perSecond > 0 {
		limit = rate.Limit(s.perSecond)
	}

	return &OpenAIProvider{
		client:     openai.NewClientWithConfig(cfg),
		model:      s.model,
		dimensions: s.dimensions,
		limiter:    rate.NewLimiter(limit, 1),
	}, nil
}

func openAIModelDimensions(model string) int {
	switch model {
	case "text-embedding-3-large":
		return 3072
	case "text-embedding-3-small", "text-embedding-ada-002":
		return 1536
	}
	return 0
}

// Embed generates an embedding for the given text.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) (Embedding, error) {
	out, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return Embedding{}, err
	}
	return out[0], nil
}

// EmbedBatch embeds texts with one API request. The response order is
// restored from each item's index.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([]Embedding, error) {
	for i, text := range texts {
		if text == "" {
			return nil, fmt.Errorf("cannot embed empty text (input %d)", i)
		}
	}
	if len(texts) == 0 {
		return nil, nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(p.model),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	out := make([]Embedding, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(texts) {
			return nil, fmt.Errorf("openai returned embedding index %d for %d inputs", item.Index, len(texts))
		}
		vec := make([]float32, len(item.Embedding))
		copy(vec, item.Embedding)
		if err := checkDimensions(len(vec), p.dimensions); err != nil {
			return nil, err
		}
		out[item.Index] = Embedding{Vector: vec}
	}
	return out, nil
}

// ModelName returns the name of the embedding model.
func (p *OpenAIProvider) ModelName() string {
	return "openai/" + p.model
}

// Dimensions returns the expected vector dimensions.
func (p *OpenAIProvider) Dimensions() int {
	return p.dimensions
}

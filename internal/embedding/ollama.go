package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultOllamaURL is the default Ollama API endpoint.
	DefaultOllamaURL = "http://localhost:11434"

	// DefaultOllamaModel is the default baseline model served by Ollama.
	DefaultOllamaModel = "all-minilm:l6-v2"

	// DefaultOllamaDimensions is the output size of DefaultOllamaModel.
	DefaultOllamaDimensions = 384

	// DefaultTimeout bounds one embedding request.
	DefaultTimeout = 30 * time.Second

	// DefaultRequestsPerSecond bounds the request rate to a local Ollama.
	DefaultRequestsPerSecond = 20

	// ollamaMaxInputs caps the texts sent in one /api/embed request.
	ollamaMaxInputs = 64

	apiPathTags  = "/api/tags"
	apiPathEmbed = "/api/embed"
)

// OllamaProvider embeds text with a model served by a local Ollama.
type OllamaProvider struct {
	baseURL    string
	model      string
	dimensions int
	client     *http.Client
	limiter    *rate.Limiter
}

// OllamaOption configures an OllamaProvider.
type OllamaOption func(*ollamaSettings)

type ollamaSettings struct {
	baseURL    string
	model      string
	dimensions int
	timeout    time.Duration
	perSecond  float64
}

// WithBaseURL points the provider at another Ollama server.
func WithBaseURL(url string) OllamaOption {
	return func(s *ollamaSettings) { s.baseURL = strings.TrimRight(url, "/") }
}

// WithModel selects the embedding model.
func WithModel(model string) OllamaOption {
	return func(s *ollamaSettings) { s.model = model }
}

// WithDimensions sets the expected vector size. Zero accepts any size.
func WithDimensions(dims int) OllamaOption {
	return func(s *ollamaSettings) { s.dimensions = dims }
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) OllamaOption {
	return func(s *ollamaSettings) { s.timeout = timeout }
}

// WithRateLimit caps requests per second. A non-positive value removes the
// cap.
func WithRateLimit(perSecond float64) OllamaOption {
	return func(s *ollamaSettings) { s.perSecond = perSecond }
}

// NewOllamaProvider creates a provider for DefaultOllamaModel on
// DefaultOllamaURL unless options say otherwise.
func NewOllamaProvider(opts ...OllamaOption) *OllamaProvider {
	s := ollamaSettings{
		baseURL:    DefaultOllamaURL,
		model:      DefaultOllamaModel,
		dimensions: DefaultOllamaDimensions,
		timeout:    DefaultTimeout,
		perSecond:  DefaultRequestsPerSecond,
	}
	for _, opt := range opts {
		opt(&s)
	}

	limit := rate.Inf
	if s.perSecond > 0 {
		limit = rate.Limit(s.perSecond)
	}
	return &OllamaProvider{
		baseURL:    s.baseURL,
		model:      s.model,
		dimensions: s.dimensions,
		client:     &http.Client{Timeout: s.timeout},
		limiter:    rate.NewLimiter(limit, 1),
	}
}

// Embed embeds one text.
func (p *OllamaProvider) Embed(ctx context.Context, text string) (Embedding, error) {
	out, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return Embedding{}, err
	}
	return out[0], nil
}

// EmbedBatch embeds texts in order, sending at most ollamaMaxInputs texts
// per request.
func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([]Embedding, error) {
	out := make([]Embedding, 0, len(texts))
	for start := 0; start < len(texts); start += ollamaMaxInputs {
		end := min(start+ollamaMaxInputs, len(texts))
		vectors, err := p.embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		for _, vec := range vectors {
			out = append(out, Embedding{Vector: vec})
		}
	}
	return out, nil
}

func (p *OllamaProvider) embed(ctx context.Context, inputs []string) ([][]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: p.model, Input: inputs})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+apiPathEmbed, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var result ollamaEmbedResponse
	if err := p.send(req, &result); err != nil {
		return nil, err
	}
	if len(result.Embeddings) != len(inputs) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(result.Embeddings), len(inputs))
	}
	for _, vec := range result.Embeddings {
		if err := checkDimensions(len(vec), p.dimensions); err != nil {
			return nil, err
		}
	}
	return result.Embeddings, nil
}

// send waits for the limiter, performs req and decodes a 200 response into
// v. Other statuses become errors carrying the response body.
func (p *OllamaProvider) send(req *http.Request, v any) error {
	if err := p.limiter.Wait(req.Context()); err != nil {
		return fmt.Errorf("waiting for rate limiter: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, formatErrorBody(resp.Body))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// formatErrorBody reads and formats the response body for error messages.
func formatErrorBody(body io.Reader) string {
	respBody, err := io.ReadAll(body)
	if err != nil {
		return fmt.Sprintf("(failed to read response body: %v)", err)
	}
	return strings.TrimSpace(string(respBody))
}

// ModelName returns the Ollama model name.
func (p *OllamaProvider) ModelName() string {
	return p.model
}

// Dimensions returns the expected vector size.
func (p *OllamaProvider) Dimensions() int {
	return p.dimensions
}

// HasModel reports whether the model is pulled. A model configured without
// a tag matches its ":latest" tag. It fails when Ollama is not reachable.
func (p *OllamaProvider) HasModel(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+apiPathTags, nil)
	if err != nil {
		return false, fmt.Errorf("creating request: %w", err)
	}

	var result ollamaTagsResponse
	if err := p.send(req, &result); err != nil {
		return false, fmt.Errorf("checking models: %w", err)
	}

	for _, m := range result.Models {
		if m.Name == p.model || (!strings.Contains(p.model, ":") && m.Name == p.model+":latest") {
			return true, nil
		}
	}
	return false, nil
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

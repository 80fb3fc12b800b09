package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewOllamaProvider_Defaults(t *testing.T) {
	provider := NewOllamaProvider()

	if provider.baseURL != DefaultOllamaURL {
		t.Errorf("baseURL = %s, want %s", provider.baseURL, DefaultOllamaURL)
	}
	if provider.ModelName() != DefaultOllamaModel {
		t.Errorf("ModelName() = %s, want %s", provider.ModelName(), DefaultOllamaModel)
	}
	if provider.Dimensions() != DefaultOllamaDimensions {
		t.Errorf("Dimensions() = %d, want %d", provider.Dimensions(), DefaultOllamaDimensions)
	}
	if provider.limiter == nil {
		t.Error("limiter should not be nil")
	}
}

func TestNewOllamaProvider_WithOptions(t *testing.T) {
	provider := NewOllamaProvider(
		WithBaseURL("http://custom:8080"),
		WithModel("nomic-embed-text"),
		WithDimensions(768),
		WithTimeout(60*time.Second),
		WithRateLimit(0),
	)

	if provider.baseURL != "http://custom:8080" {
		t.Errorf("baseURL = %s", provider.baseURL)
	}
	if provider.model != "nomic-embed-text" {
		t.Errorf("model = %s", provider.model)
	}
	if provider.dimensions != 768 {
		t.Errorf("dimensions = %d, want 768", provider.dimensions)
	}
	if provider.client.Timeout != 60*time.Second {
		t.Errorf("timeout = %v", provider.client.Timeout)
	}
}

func newOllamaServer(t *testing.T, vectors map[string][]float32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(ollamaHandler(vectors))
}

func ollamaHandler(vectors map[string][]float32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case apiPathEmbed:
			var req ollamaEmbedRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			resp := ollamaEmbedResponse{Model: req.Model}
			for _, input := range req.Input {
				vec, ok := vectors[input]
				if !ok {
					http.Error(w, "unknown prompt", http.StatusInternalServerError)
					return
				}
				resp.Embeddings = append(resp.Embeddings, vec)
			}
			json.NewEncoder(w).Encode(resp)
		case apiPathTags:
			w.Write([]byte(`{"models":[{"name":"all-minilm:l6-v2"},{"name":"nomic-embed-text:latest"}]}`))
		default:
			http.NotFound(w, r)
		}
	}
}

func TestOllamaProvider_Embed(t *testing.T) {
	server := newOllamaServer(t, map[string][]float32{
		"cats purr": {1, 0, 0},
		"dogs bark": {0, 1, 0},
	})
	defer server.Close()

	provider := NewOllamaProvider(WithBaseURL(server.URL), WithDimensions(3), WithRateLimit(0))

	t.Run("returns vector", func(t *testing.T) {
		emb, err := provider.Embed(context.Background(), "cats purr")
		if err != nil {
			t.Fatalf("Embed() error = %v", err)
		}
		if emb.Dimensions() != 3 || emb.Vector[0] != 1 {
			t.Errorf("unexpected embedding %v", emb.Vector)
		}
	})

	t.Run("reports server errors with body", func(t *testing.T) {
		_, err := provider.Embed(context.Background(), "unknown")
		if err == nil || !strings.Contains(err.Error(), "unknown prompt") {
			t.Errorf("expected error carrying body, got %v", err)
		}
	})

	t.Run("rejects wrong dimensions", func(t *testing.T) {
		p := NewOllamaProvider(WithBaseURL(server.URL), WithDimensions(4), WithRateLimit(0))
		if _, err := p.Embed(context.Background(), "cats purr"); err == nil {
			t.Error("expected dimension error")
		}
	})

	t.Run("similarity", func(t *testing.T) {
		sim, err := Similarity(context.Background(), provider, "cats purr", "dogs bark")
		if err != nil {
			t.Fatalf("Similarity() error = %v", err)
		}
		if sim != 0 {
			t.Errorf("Similarity() = %v, want 0", sim)
		}
	})
}

func TestOllamaProvider_HasModel(t *testing.T) {
	server := newOllamaServer(t, nil)
	defer server.Close()

	tests := []struct {
		model string
		want  bool
	}{
		{"all-minilm:l6-v2", true},
		{"nomic-embed-text", true}, // untagged matches :latest
		{"all-minilm", false},
		{"other", false},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			ok, err := NewOllamaProvider(WithBaseURL(server.URL), WithModel(tt.model)).HasModel(context.Background())
			if err != nil {
				t.Fatalf("HasModel() error = %v", err)
			}
			if ok != tt.want {
				t.Errorf("HasModel() = %v, want %v", ok, tt.want)
			}
		})
	}
}

func TestOllamaProvider_HasModelUnreachable(t *testing.T) {
	server := newOllamaServer(t, nil)
	server.Close()

	if _, err := NewOllamaProvider(WithBaseURL(server.URL)).HasModel(context.Background()); err == nil {
		t.Error("expected error when Ollama is not running")
	}
}

func TestOllamaProvider_EmbedBatch(t *testing.T) {
	vectors := make(map[string][]float32)
	texts := make([]string, ollamaMaxInputs+6)
	for i := range texts {
		texts[i] = fmt.Sprintf("text %d", i)
		vectors[texts[i]] = []float32{float32(i), 1}
	}

	var requests atomic.Int32
	handler := ollamaHandler(vectors)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == apiPathEmbed {
			requests.Add(1)
		}
		handler(w, r)
	}))
	defer server.Close()

	p := NewOllamaProvider(WithBaseURL(server.URL), WithDimensions(2), WithRateLimit(0))
	got, err := EmbedAll(context.Background(), p, texts)
	if err != nil {
		t.Fatalf("EmbedAll() error = %v", err)
	}
	if len(got) != len(texts) {
		t.Fatalf("got %d embeddings, want %d", len(got), len(texts))
	}
	for i, e := range got {
		if e.Vector[0] != float32(i) {
			t.Errorf("embedding %d = %v, out of order", i, e.Vector)
		}
	}
	if n := requests.Load(); n != 2 {
		t.Errorf("sent %d requests, want 2", n)
	}
}

func TestOllamaProvider_CancelledContext(t *testing.T) {
	server := newOllamaServer(t, map[string][]float32{"x": {1, 0, 0}})
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewOllamaProvider(WithBaseURL(server.URL)).Embed(ctx, "x"); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestFormatErrorBody(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple error message", "error occurred", "error occurred"},
		{"empty body", "", ""},
		{"json error", `{"error": "not found"}`, `{"error": "not found"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := formatErrorBody(strings.NewReader(tt.input))
			if result != tt.expected {
				t.Errorf("formatErrorBody() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestProvidersImplementProvider(t *testing.T) {
	var _ Provider = (*OllamaProvider)(nil)
	var _ Provider = (*OpenAIProvider)(nil)
	var _ Provider = (*MeanVectors)(nil)
	var _ BatchProvider = (*OllamaProvider)(nil)
	var _ BatchProvider = (*OpenAIProvider)(nil)
}

// Package embedding provides pretrained text embedding models. They serve as
// the baseline the document tower is compared against during training.
package embedding

import (
	"context"
	"fmt"
	"math"
)

// Embedding represents a vector embedding of text.
type Embedding struct {
	Vector []float32
}

// Dimensions returns the dimensionality of the embedding.
func (e Embedding) Dimensions() int {
	return len(e.Vector)
}

// Provider generates embeddings from text.
type Provider interface {
	// Embed generates an embedding for the given text.
	Embed(ctx context.Context, text string) (Embedding, error)

	// ModelName returns the name of the embedding model.
	ModelName() string

	// Dimensions returns the expected vector dimensions, or 0 when the
	// provider accepts whatever the model returns.
	Dimensions() int
}

// BatchProvider is a Provider that can embed several texts per request.
type BatchProvider interface {
	Provider

	// EmbedBatch returns one embedding per text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([]Embedding, error)
}

// EmbedAll embeds texts in order, in batches when p supports it.
func EmbedAll(ctx context.Context, p Provider, texts []string) ([]Embedding, error) {
	if bp, ok := p.(BatchProvider); ok {
		out, err := bp.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(out) != len(texts) {
			return nil, fmt.Errorf("%s returned %d embeddings for %d texts", p.ModelName(), len(out), len(texts))
		}
		return out, nil
	}

	out := make([]Embedding, len(texts))
	for i, text := range texts {
		e, err := p.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		out[i] = e
	}
	return out, nil
}

// Cosine returns the cosine similarity of two embeddings, or 0 when either
// is the zero vector or their dimensions differ.
func Cosine(a, b Embedding) float64 {
	if len(a.Vector) != len(b.Vector) || len(a.Vector) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a.Vector {
		x, y := float64(a.Vector[i]), float64(b.Vector[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Similarity embeds both texts with p and returns their cosine similarity.
func Similarity(ctx context.Context, p Provider, a, b string) (float64, error) {
	ea, err := p.Embed(ctx, a)
	if err != nil {
		return 0, fmt.Errorf("embedding first text: %w", err)
	}
	eb, err := p.Embed(ctx, b)
	if err != nil {
		return 0, fmt.Errorf("embedding second text: %w", err)
	}
	return Cosine(ea, eb), nil
}

// checkDimensions validates a returned vector against the expected size.
func checkDimensions(got, want int) error {
	if want > 0 && got != want {
		return fmt.Errorf("unexpected embedding dimensions: got %d, want %d", got, want)
	}
	return nil
}

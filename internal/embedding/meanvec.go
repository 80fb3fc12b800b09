package embedding

import (
	"context"

	"github.com/matsen/twotower/internal/wordvec"
)

// MeanVectors embeds a text as the average of its token vectors. It needs no
// network access and is the default baseline.
type MeanVectors struct {
	lookup wordvec.Lookup
}

// NewMeanVectors creates a provider over lookup.
func NewMeanVectors(lookup wordvec.Lookup) *MeanVectors {
	return &MeanVectors{lookup: lookup}
}

// Embed returns the mean token vector. Texts without tokens embed to the
// zero vector.
func (m *MeanVectors) Embed(_ context.Context, text string) (Embedding, error) {
	dim := m.lookup.Dimensions()
	sum := make([]float64, dim)
	seq := m.lookup.Embed(text)
	for _, vec := range seq {
		for k, v := range vec {
			sum[k] += float64(v)
		}
	}

	out := make([]float32, dim)
	if n := seq.Len(); n > 0 {
		for k := range sum {
			out[k] = float32(sum[k] / float64(n))
		}
	}
	return Embedding{Vector: out}, nil
}

// ModelName returns a fixed name for the word-vector baseline.
func (m *MeanVectors) ModelName() string {
	return "word-vectors/mean"
}

// Dimensions returns the word-vector size.
func (m *MeanVectors) Dimensions() int {
	return m.lookup.Dimensions()
}

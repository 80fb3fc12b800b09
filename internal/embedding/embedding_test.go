package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/matsen/twotower/internal/wordvec"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 1}, []float32{-1, -1}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"dimension mismatch", []float32{1}, []float32{1, 0}, 0},
		{"empty", nil, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cosine(Embedding{Vector: tt.a}, Embedding{Vector: tt.b})
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("Cosine() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMeanVectors(t *testing.T) {
	table, err := wordvec.NewTable(map[string][]float32{
		"cats": {1, 0},
		"purr": {0, 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	m := NewMeanVectors(table)

	emb, err := m.Embed(context.Background(), "Cats purr")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if emb.Vector[0] != 0.5 || emb.Vector[1] != 0.5 {
		t.Errorf("Embed() = %v, want [0.5 0.5]", emb.Vector)
	}

	empty, _ := m.Embed(context.Background(), "...")
	if empty.Dimensions() != 2 || empty.Vector[0] != 0 {
		t.Errorf("empty text should embed to zero vector, got %v", empty.Vector)
	}
	if m.Dimensions() != 2 {
		t.Errorf("Dimensions() = %d, want 2", m.Dimensions())
	}

	sim, err := Similarity(context.Background(), m, "cats", "cats purr")
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(sim-1/math.Sqrt2) > 1e-6 {
		t.Errorf("Similarity() = %v, want %v", sim, 1/math.Sqrt2)
	}
}

func TestEmbedAll_FallsBackToEmbed(t *testing.T) {
	table, err := wordvec.NewTable(map[string][]float32{
		"cats": {1, 0},
		"purr": {0, 1},
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := EmbedAll(context.Background(), NewMeanVectors(table), []string{"cats", "purr", "cats purr"})
	if err != nil {
		t.Fatalf("EmbedAll() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d embeddings, want 3", len(got))
	}
	if got[1].Vector[1] != 1 || got[2].Vector[0] != 0.5 {
		t.Errorf("unexpected embeddings %v", got)
	}
}

package train

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/matsen/twotower/internal/embedding"
	"github.com/matsen/twotower/internal/inference"
	"github.com/matsen/twotower/internal/wordvec"
)

// Seeds of the two samples that are zipped into diagnostic pairs.
const (
	firstSampleSeed  = 1
	secondSampleSeed = 2
)

// DocPair is two document texts compared by the baseline diagnostic.
type DocPair struct {
	A string `json:"a"`
	B string `json:"b"`
}

// SamplePairs draws two seeded samples of up to n texts and zips them into
// pairs. Texts without tokens are left out before sampling.
func SamplePairs(texts []string, n int, lookup wordvec.Lookup) []DocPair {
	usable := make([]string, 0, len(texts))
	for _, text := range texts {
		if len(lookup.Tokenize(text)) > 0 {
			usable = append(usable, text)
		}
	}

	first := sample(usable, n, firstSampleSeed)
	second := sample(usable, n, secondSampleSeed)
	pairs := make([]DocPair, len(first))
	for i := range first {
		pairs[i] = DocPair{A: first[i], B: second[i]}
	}
	return pairs
}

func sample(items []string, n int, seed int64) []string {
	if n > len(items) {
		n = len(items)
	}
	perm := rand.New(rand.NewSource(seed)).Perm(len(items))
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = items[perm[i]]
	}
	return out
}

// diagnostic compares the document tower's pairwise similarities with a
// baseline provider's.
type diagnostic struct {
	baseline embedding.Provider
	doc      inference.Encoder
	lookup   wordvec.Lookup
	pairs    []DocPair

	// baselineSims is filled on the first successful measurement.
	baselineSims []float64
}

// measure returns the mean absolute difference between tower and baseline
// cosine similarity over the sampled pairs. The doc tower must be in
// evaluation mode.
func (d *diagnostic) measure(ctx context.Context) (*float64, error) {
	if len(d.pairs) == 0 {
		return nil, nil
	}

	if d.baselineSims == nil {
		sims, err := d.baselineSimilarities(ctx)
		if err != nil {
			return nil, fmt.Errorf("baseline %s: %w", d.baseline.ModelName(), err)
		}
		d.baselineSims = sims
	}

	var total float64
	for i, pair := range d.pairs {
		a, err := inference.Encode(d.doc, d.lookup, pair.A)
		if err != nil {
			return nil, err
		}
		b, err := inference.Encode(d.doc, d.lookup, pair.B)
		if err != nil {
			return nil, err
		}
		sim := embedding.Cosine(embedding.Embedding{Vector: a}, embedding.Embedding{Vector: b})
		total += math.Abs(sim - d.baselineSims[i])
	}

	diff := total / float64(len(d.pairs))
	return &diff, nil
}

// baselineSimilarities embeds every pair text with the baseline in one
// pass and returns the cosine similarity of each pair.
func (d *diagnostic) baselineSimilarities(ctx context.Context) ([]float64, error) {
	texts := make([]string, 0, 2*len(d.pairs))
	for _, pair := range d.pairs {
		texts = append(texts, pair.A, pair.B)
	}
	embs, err := embedding.EmbedAll(ctx, d.baseline, texts)
	if err != nil {
		return nil, err
	}

	sims := make([]float64, len(d.pairs))
	for i := range d.pairs {
		sims[i] = embedding.Cosine(embs[2*i], embs[2*i+1])
	}
	return sims, nil
}

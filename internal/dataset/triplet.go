// Package dataset turns training rows into (query, relevant, irrelevant)
// triplets and serves them as padded batches.
package dataset

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/matsen/twotower/internal/corpus"
)

// Errors returned when deriving or splitting triplets.
var (
	ErrNoNegatives   = errors.New("need at least two distinct documents to draw negatives")
	ErrSplitTooSmall = errors.New("too few items to split")
)

// Triplet is one training example: a query, a document relevant to it, and
// a document that is not.
type Triplet struct {
	Query      string `json:"query"`
	Relevant   string `json:"relevant"`
	Irrelevant string `json:"irrelevant"`
}

// Triplets derives one triplet per row. The irrelevant document is drawn
// uniformly from the distinct documents whose doc_ref differs from the
// row's, using a generator seeded with seed.
func Triplets(rows []corpus.TrainingRow, seed int64) ([]Triplet, error) {
	docs := corpus.DocumentsFromRows(rows)
	if len(docs) < 2 {
		return nil, fmt.Errorf("%w: found %d", ErrNoNegatives, len(docs))
	}

	position := make(map[string]int, len(docs))
	for i, d := range docs {
		position[d.DocRef] = i
	}

	rng := rand.New(rand.NewSource(seed))
	triplets := make([]Triplet, len(rows))
	for i, row := range rows {
		own := position[row.DocRef]
		k := rng.Intn(len(docs) - 1)
		if k >= own {
			k++
		}
		triplets[i] = Triplet{
			Query:      row.Query,
			Relevant:   row.DocText,
			Irrelevant: docs[k].DocText,
		}
	}
	return triplets, nil
}

// Split shuffles items with a generator seeded with seed and splits them
// into train and test sets. The test set has ceil(len(items)*testFraction)
// items. Both sets must end up non-empty.
func Split[T any](items []T, testFraction float64, seed int64) (train, test []T, err error) {
	if testFraction <= 0 || testFraction >= 1 {
		return nil, nil, fmt.Errorf("test fraction %v must be in (0, 1)", testFraction)
	}

	n := len(items)
	nTest := int(math.Ceil(float64(n) * testFraction))
	if nTest < 1 || n-nTest < 1 {
		return nil, nil, fmt.Errorf("%w: %d items with test fraction %v", ErrSplitTooSmall, n, testFraction)
	}

	shuffled := make([]T, n)
	copy(shuffled, items)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(n, func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	return shuffled[nTest:], shuffled[:nTest], nil
}

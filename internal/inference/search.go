package inference

import (
	"context"
	"fmt"

	"github.com/matsen/twotower/internal/index"
	"github.com/matsen/twotower/internal/wordvec"
)

// DefaultK is the number of results a search returns.
const DefaultK = 10

// Querier finds the nearest stored vectors. *index.Collection implements it.
type Querier interface {
	Query(embedding []float32, k int) ([]index.Match, error)
}

// Searcher answers text queries with the query tower and a document index.
type Searcher struct {
	Query  Encoder
	Lookup wordvec.Lookup
	Index  Querier
	K      int
}

// Search returns the references of the closest documents, nearest first.
func (s *Searcher) Search(ctx context.Context, text string) ([]string, error) {
	matches, err := s.SearchWithDistances(ctx, text)
	if err != nil {
		return nil, err
	}
	refs := make([]string, len(matches))
	for i, m := range matches {
		refs[i] = m.ID
	}
	return refs, nil
}

// SearchWithDistances is Search but also reports each document's distance.
func (s *Searcher) SearchWithDistances(ctx context.Context, text string) ([]index.Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec, err := Encode(s.Query, s.Lookup, text)
	if err != nil {
		return nil, err
	}

	k := s.K
	if k <= 0 {
		k = DefaultK
	}
	matches, err := s.Index.Query(vec, k)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}
	return matches, nil
}

package index

import (
	"fmt"
	"math"
	"sort"
)

// Match is one query result.
type Match struct {
	ID       string  `json:"doc_ref"`
	Distance float64 `json:"distance"`
}

// Query returns the k entries closest to embedding in ascending distance
// order. Ties are broken by id. A k of zero or less returns every entry.
func (c *Collection) Query(embedding []float32, k int) ([]Match, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.data.IDs) == 0 {
		return nil, nil
	}
	if len(embedding) != c.data.Dimensions {
		return nil, fmt.Errorf("%w: query has %d values, collection has %d",
			ErrDimensionMismatch, len(embedding), c.data.Dimensions)
	}

	distance := distanceFunc(c.data.Space)
	matches := make([]Match, len(c.data.IDs))
	for i, id := range c.data.IDs {
		matches[i] = Match{ID: id, Distance: distance(embedding, c.data.Vectors[i])}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].ID < matches[j].ID
	})

	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func distanceFunc(space Space) func(a, b []float32) float64 {
	switch space {
	case L2:
		return squaredL2
	case InnerProduct:
		return func(a, b []float32) float64 { return 1 - dot(a, b) }
	default:
		return cosineDistance
	}
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func squaredL2(a, b []float32) float64 {
	var s float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		s += d * d
	}
	return s
}

// cosineDistance returns 1 - cos(a, b). A zero vector is at distance 1 from
// everything.
func cosineDistance(a, b []float32) float64 {
	var d, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		d += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - d/(math.Sqrt(na)*math.Sqrt(nb))
}

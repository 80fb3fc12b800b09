package dataset

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/matsen/twotower/internal/batch"
	"github.com/matsen/twotower/internal/wordvec"
)

// DefaultBatchSize is the number of triplets per training batch.
const DefaultBatchSize = 64

// Example is an embedded triplet.
type Example struct {
	Query      batch.Sequence
	Relevant   batch.Sequence
	Irrelevant batch.Sequence
}

// Batch holds three independently padded batches of equal size.
type Batch struct {
	Query      batch.Padded
	Relevant   batch.Padded
	Irrelevant batch.Padded
}

// Size returns the number of triplets in the batch.
func (b Batch) Size() int {
	return b.Query.Size()
}

// Dataset is an indexed collection of triplets embedded on demand.
type Dataset struct {
	triplets []Triplet
	lookup   wordvec.Lookup
	dropped  int
}

// New builds a dataset over triplets. Triplets with any text that tokenizes
// to nothing cannot be encoded and are dropped; see Dropped.
func New(triplets []Triplet, lookup wordvec.Lookup) *Dataset {
	d := &Dataset{lookup: lookup}
	for _, t := range triplets {
		if len(lookup.Tokenize(t.Query)) == 0 ||
			len(lookup.Tokenize(t.Relevant)) == 0 ||
			len(lookup.Tokenize(t.Irrelevant)) == 0 {
			d.dropped++
			continue
		}
		d.triplets = append(d.triplets, t)
	}
	return d
}

// Len returns the number of usable triplets.
func (d *Dataset) Len() int {
	return len(d.triplets)
}

// Dropped returns how many input triplets were discarded by New.
func (d *Dataset) Dropped() int {
	return d.dropped
}

// Triplet returns the raw triplet at index i.
func (d *Dataset) Triplet(i int) Triplet {
	return d.triplets[i]
}

// Get embeds the triplet at index i.
func (d *Dataset) Get(i int) (Example, error) {
	if i < 0 || i >= len(d.triplets) {
		return Example{}, fmt.Errorf("index %d out of range [0, %d)", i, len(d.triplets))
	}
	t := d.triplets[i]
	ex := Example{
		Query:      d.lookup.Embed(t.Query),
		Relevant:   d.lookup.Embed(t.Relevant),
		Irrelevant: d.lookup.Embed(t.Irrelevant),
	}
	if ex.Query.Len() == 0 || ex.Relevant.Len() == 0 || ex.Irrelevant.Len() == 0 {
		return Example{}, fmt.Errorf("triplet %d: %w", i, batch.ErrEmptySequence)
	}
	return ex, nil
}

// Collate pads queries, relevant documents and irrelevant documents
// independently.
func Collate(examples []Example) (Batch, error) {
	queries := make([]batch.Sequence, len(examples))
	relevant := make([]batch.Sequence, len(examples))
	irrelevant := make([]batch.Sequence, len(examples))
	for i, ex := range examples {
		queries[i] = ex.Query
		relevant[i] = ex.Relevant
		irrelevant[i] = ex.Irrelevant
	}

	var (
		b   Batch
		err error
	)
	if b.Query, err = batch.Pad(queries); err != nil {
		return Batch{}, fmt.Errorf("padding queries: %w", err)
	}
	if b.Relevant, err = batch.Pad(relevant); err != nil {
		return Batch{}, fmt.Errorf("padding relevant documents: %w", err)
	}
	if b.Irrelevant, err = batch.Pad(irrelevant); err != nil {
		return Batch{}, fmt.Errorf("padding irrelevant documents: %w", err)
	}
	return b, nil
}

// Loader iterates a dataset in batches. The final batch may be smaller than
// the batch size.
type Loader struct {
	ds      *Dataset
	size    int
	shuffle bool
	rng     *rand.Rand
}

// NewLoader creates a loader. When shuffle is set, every call to Each visits
// the dataset in a fresh order drawn from a generator seeded with seed.
func NewLoader(ds *Dataset, batchSize int, shuffle bool, seed int64) (*Loader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	return &Loader{
		ds:      ds,
		size:    batchSize,
		shuffle: shuffle,
		rng:     rand.New(rand.NewSource(seed)),
	}, nil
}

// NumBatches returns the number of batches per pass.
func (l *Loader) NumBatches() int {
	return (l.ds.Len() + l.size - 1) / l.size
}

// Each makes one pass over the dataset, calling fn with the zero-based batch
// number and the collated batch. It stops at the first error from fn or when
// ctx is cancelled.
func (l *Loader) Each(ctx context.Context, fn func(i int, b Batch) error) error {
	order := make([]int, l.ds.Len())
	for i := range order {
		order[i] = i
	}
	if l.shuffle {
		l.rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}

	for bi, chunk := range batch.Batchify(order, l.size) {
		if err := ctx.Err(); err != nil {
			return err
		}

		examples := make([]Example, len(chunk))
		for k, idx := range chunk {
			ex, err := l.ds.Get(idx)
			if err != nil {
				return err
			}
			examples[k] = ex
		}

		b, err := Collate(examples)
		if err != nil {
			return fmt.Errorf("batch %d: %w", bi, err)
		}
		if err := fn(bi, b); err != nil {
			return err
		}
	}
	return nil
}

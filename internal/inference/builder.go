package inference

import (
	"context"
	"fmt"
	"time"

	"github.com/matsen/twotower/internal/batch"
	"github.com/matsen/twotower/internal/corpus"
	"github.com/matsen/twotower/internal/index"
	"github.com/matsen/twotower/internal/projector"
	"github.com/matsen/twotower/internal/wordvec"
)

const (
	// DefaultCollection is the index collection documents are stored in.
	DefaultCollection = "docs"

	// DefaultBuildBatchSize is the number of documents encoded and added
	// per step.
	DefaultBuildBatchSize = 1000
)

// ProgressReporter receives progress updates during index building.
type ProgressReporter interface {
	// OnProgress is called after each batch with the number of batches done.
	OnProgress(current, total int)
}

// ProgressFunc is a function adapter for ProgressReporter.
type ProgressFunc func(current, total int)

// OnProgress implements ProgressReporter.
func (f ProgressFunc) OnProgress(current, total int) {
	f(current, total)
}

// BuildStats contains statistics from index building.
type BuildStats struct {
	DocsIndexed    int           `json:"docs_indexed"`
	DocsSkipped    int           `json:"docs_skipped"`
	SkippedReason  string        `json:"skipped_reason"`
	Duplicates     int           `json:"duplicates"`
	Batches        int           `json:"batches"`
	Duration       time.Duration `json:"duration"`
	IndexSizeBytes int64         `json:"index_size_bytes"`
}

// Builder populates the document index with the document tower.
type Builder struct {
	doc        *projector.Projector
	lookup     wordvec.Lookup
	store      *index.Store
	collection string
	batchSize  int
	workers    int
	progress   ProgressReporter
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithCollection sets the collection name.
func WithCollection(name string) BuilderOption {
	return func(b *Builder) {
		b.collection = name
	}
}

// WithBatchSize sets how many documents are encoded per step.
func WithBatchSize(n int) BuilderOption {
	return func(b *Builder) {
		b.batchSize = n
	}
}

// WithWorkers sets the encoding parallelism. Zero means one per CPU.
func WithWorkers(n int) BuilderOption {
	return func(b *Builder) {
		b.workers = n
	}
}

// NewBuilder creates an index builder.
func NewBuilder(doc *projector.Projector, lookup wordvec.Lookup, store *index.Store, opts ...BuilderOption) *Builder {
	b := &Builder{
		doc:        doc,
		lookup:     lookup,
		store:      store,
		collection: DefaultCollection,
		batchSize:  DefaultBuildBatchSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetProgressReporter sets the progress reporter for the builder.
func (b *Builder) SetProgressReporter(reporter ProgressReporter) {
	b.progress = reporter
}

// Build replaces the collection with encodings of docs and saves it.
// Documents are deduplicated by reference, keeping the first. Documents with
// no tokens are skipped.
func (b *Builder) Build(ctx context.Context, docs []corpus.Document) (*index.Collection, *BuildStats, error) {
	startTime := time.Now()
	if b.batchSize <= 0 {
		return nil, nil, fmt.Errorf("batch size must be positive, got %d", b.batchSize)
	}

	stats := &BuildStats{SkippedReason: "no_tokens"}
	unique := corpus.DedupeDocuments(docs)
	stats.Duplicates = len(docs) - len(unique)

	encodable := make([]corpus.Document, 0, len(unique))
	for _, d := range unique {
		if len(b.lookup.Tokenize(d.DocText)) == 0 {
			stats.DocsSkipped++
			continue
		}
		encodable = append(encodable, d)
	}

	coll, err := b.store.CreateOrReplace(b.collection, index.Cosine)
	if err != nil {
		return nil, nil, fmt.Errorf("creating collection: %w", err)
	}

	b.doc.Eval()
	batches := batch.Batchify(encodable, b.batchSize)
	stats.Batches = len(batches)

	for i, docBatch := range batches {
		vectors, err := batch.ParallelMap(ctx, docBatch, b.workers,
			func(_ context.Context, d corpus.Document) ([]float32, error) {
				return Encode(b.doc, b.lookup, d.DocText)
			})
		if err != nil {
			return nil, nil, fmt.Errorf("encoding batch %d of %d: %w", i+1, len(batches), err)
		}

		ids := make([]string, len(docBatch))
		for k, d := range docBatch {
			ids[k] = d.DocRef
		}
		if err := coll.Add(ids, vectors); err != nil {
			return nil, nil, fmt.Errorf("adding batch %d: %w", i+1, err)
		}
		stats.DocsIndexed += len(ids)

		if b.progress != nil {
			b.progress.OnProgress(i+1, len(batches))
		}
	}

	if err := coll.Save(); err != nil {
		return nil, nil, fmt.Errorf("saving collection: %w", err)
	}
	if size, err := coll.Size(); err == nil {
		stats.IndexSizeBytes = size
	}
	stats.Duration = time.Since(startTime)

	return coll, stats, nil
}

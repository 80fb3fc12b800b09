package train

import (
	"context"
	"fmt"
	"time"

	"github.com/matsen/twotower/internal/artifact"
	"github.com/matsen/twotower/internal/corpus"
	"github.com/matsen/twotower/internal/dataset"
	"github.com/matsen/twotower/internal/embedding"
	"github.com/matsen/twotower/internal/metrics"
	"github.com/matsen/twotower/internal/nn"
	"github.com/matsen/twotower/internal/projector"
	"github.com/matsen/twotower/internal/wordvec"
)

// Trainer fits a query tower and a document tower together with one AdamW
// optimizer.
type Trainer struct {
	cfg    Config
	query  *projector.Projector
	doc    *projector.Projector
	lookup wordvec.Lookup
	loss   TripletLoss
	opt    *nn.AdamW

	reporter Reporter
	sink     metrics.Sink
	runID    string
	store    artifact.Store
	baseline embedding.Provider

	trainLoader *dataset.Loader
	valLoader   *dataset.Loader
	diag        *diagnostic
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithReporter sets the progress reporter.
func WithReporter(r Reporter) Option {
	return func(t *Trainer) {
		t.reporter = r
	}
}

// WithMetrics sends run and epoch metrics to sink.
func WithMetrics(sink metrics.Sink) Option {
	return func(t *Trainer) {
		t.sink = sink
	}
}

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(t *Trainer) {
		t.runID = id
	}
}

// WithArtifactStore stores the final weights as artifacts.
func WithArtifactStore(store artifact.Store) Option {
	return func(t *Trainer) {
		t.store = store
	}
}

// WithBaseline sets the provider the diagnostic compares against. Without
// one the diagnostic uses mean word vectors.
func WithBaseline(p embedding.Provider) Option {
	return func(t *Trainer) {
		t.baseline = p
	}
}

// New creates a trainer. Both towers must read lookup's vectors and share
// an output size.
func New(cfg Config, query, doc *projector.Projector, lookup wordvec.Lookup, opts ...Option) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if query.Role() != projector.RoleQuery || doc.Role() != projector.RoleDoc {
		return nil, fmt.Errorf("towers must be (query, doc), got (%s, %s)", query.Role(), doc.Role())
	}
	qc, dc := query.Config(), doc.Config()
	if qc.OutputDim != dc.OutputDim {
		return nil, fmt.Errorf("%w: query tower outputs %d values, doc tower %d",
			projector.ErrShapeMismatch, qc.OutputDim, dc.OutputDim)
	}
	if dim := lookup.Dimensions(); qc.EmbeddingDim != dim || dc.EmbeddingDim != dim {
		return nil, fmt.Errorf("%w: word vectors have %d dimensions, towers expect (%d, %d)",
			projector.ErrShapeMismatch, dim, qc.EmbeddingDim, dc.EmbeddingDim)
	}

	adam := nn.DefaultAdamWConfig(cfg.LearningRate)
	adam.WeightDecay = cfg.WeightDecay
	params := append(query.Parameters(), doc.Parameters()...)

	t := &Trainer{
		cfg:      cfg,
		query:    query,
		doc:      doc,
		lookup:   lookup,
		loss:     TripletLoss{Margin: cfg.Margin},
		opt:      nn.NewAdamW(params, adam),
		reporter: nopReporter{},
		sink:     metrics.Discard{},
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.runID == "" {
		t.runID = metrics.NewRunID()
	}
	if t.baseline == nil {
		t.baseline = embedding.NewMeanVectors(lookup)
	}
	return t, nil
}

// RunID returns the id metrics are recorded under.
func (t *Trainer) RunID() string {
	return t.runID
}

// Prepare splits rows into training and validation sets, then builds
// triplets for each. Negatives are drawn within each split.
func Prepare(rows []corpus.TrainingRow, lookup wordvec.Lookup, cfg Config) (trainSet, valSet *dataset.Dataset, err error) {
	trainRows, valRows, err := dataset.Split(rows, cfg.TestFraction, cfg.Seed)
	if err != nil {
		return nil, nil, fmt.Errorf("splitting rows: %w", err)
	}

	trainTriplets, err := dataset.Triplets(trainRows, cfg.Seed)
	if err != nil {
		return nil, nil, fmt.Errorf("training triplets: %w", err)
	}
	valTriplets, err := dataset.Triplets(valRows, cfg.Seed)
	if err != nil {
		return nil, nil, fmt.Errorf("validation triplets: %w", err)
	}

	return dataset.New(trainTriplets, lookup), dataset.New(valTriplets, lookup), nil
}

// Run trains until the epochs run out or validation loss stops improving,
// then writes and stores the best weights.
func (t *Trainer) Run(ctx context.Context, trainSet, valSet *dataset.Dataset) (*Result, error) {
	if trainSet.Len() == 0 {
		return nil, fmt.Errorf("training set: %w", ErrEmptyDataset)
	}
	if valSet.Len() == 0 {
		return nil, fmt.Errorf("validation set: %w", ErrEmptyDataset)
	}

	var err error
	if t.trainLoader, err = dataset.NewLoader(trainSet, t.cfg.BatchSize, true, t.cfg.Seed); err != nil {
		return nil, err
	}
	if t.valLoader, err = dataset.NewLoader(valSet, t.cfg.BatchSize, false, 0); err != nil {
		return nil, err
	}

	t.diag = nil
	if t.cfg.Diagnostic {
		texts := make([]string, valSet.Len())
		for i := range texts {
			texts[i] = valSet.Triplet(i).Relevant
		}
		t.diag = &diagnostic{
			baseline: t.baseline,
			doc:      t.doc,
			lookup:   t.lookup,
			pairs:    SamplePairs(texts, t.cfg.DiagnosticSamples, t.lookup),
		}
	}

	run := metrics.Run{
		ID:        t.runID,
		StartedAt: time.Now(),
		Config:    t.runConfig(trainSet.Len(), valSet.Len()),
	}
	if err := t.sink.StartRun(ctx, run); err != nil {
		t.reporter.OnWarning(fmt.Errorf("recording run start: %w", err))
	}

	l := &loop{
		cfg:      t.cfg,
		runner:   t,
		reporter: t.reporter,
		sink:     t.sink,
		store:    t.store,
		runID:    t.runID,
	}
	res, runErr := l.run(ctx)

	status := metrics.StatusFinished
	if runErr != nil {
		status = metrics.StatusFailed
	}
	// The run context may already be cancelled.
	if err := t.sink.Finish(context.WithoutCancel(ctx), t.runID, status); err != nil {
		t.reporter.OnWarning(fmt.Errorf("recording run finish: %w", err))
	}
	return res, runErr
}

func (t *Trainer) runConfig(trainSize, valSize int) map[string]any {
	cfg := map[string]any{
		"training_data_size":            trainSize,
		"validation_data_size":          valSize,
		"learning_rate":                 t.cfg.LearningRate,
		"weight_decay":                  t.cfg.WeightDecay,
		"margin":                        t.cfg.Margin,
		"batch_size":                    t.cfg.BatchSize,
		"epochs":                        t.cfg.Epochs,
		"early_stop_after":              t.cfg.EarlyStopAfter,
		"seed":                          t.cfg.Seed,
		"query_hidden_layer_dimensions": t.query.Config().HiddenDim,
		"doc_hidden_layer_dimensions":   t.doc.Config().HiddenDim,
		"output_dimensions":             t.query.Config().OutputDim,
		"doc_dropout":                   t.doc.Config().Dropout,
	}
	if t.cfg.Diagnostic {
		cfg["baseline"] = t.baseline.ModelName()
	}
	return cfg
}

func (t *Trainer) trainEpoch(ctx context.Context, epoch int) (float64, error) {
	t.query.Train()
	t.doc.Train()

	var total float64
	batches := t.trainLoader.NumBatches()
	err := t.trainLoader.Each(ctx, func(i int, b dataset.Batch) error {
		loss, err := t.step(b)
		if err != nil {
			return fmt.Errorf("batch %d: %w", i+1, err)
		}
		total += loss
		t.reporter.OnBatch(epoch, i+1, batches, loss)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total / float64(batches), nil
}

// step runs one optimizer update on a batch and returns its loss.
func (t *Trainer) step(b dataset.Batch) (float64, error) {
	t.opt.ZeroGrad()

	q, p, n, err := t.forward(b)
	if err != nil {
		return 0, err
	}
	loss, dq, dp, dn, err := t.loss.Compute(q.Projected, p.Projected, n.Projected)
	if err != nil {
		return 0, err
	}

	if err := t.query.Backward(q, dq); err != nil {
		return 0, err
	}
	if err := t.doc.Backward(p, dp); err != nil {
		return 0, err
	}
	if err := t.doc.Backward(n, dn); err != nil {
		return 0, err
	}
	t.opt.Step()
	return loss, nil
}

func (t *Trainer) forward(b dataset.Batch) (q, p, n *projector.Output, err error) {
	if q, err = t.query.Forward(b.Query); err != nil {
		return nil, nil, nil, err
	}
	if p, err = t.doc.Forward(b.Relevant); err != nil {
		return nil, nil, nil, err
	}
	if n, err = t.doc.Forward(b.Irrelevant); err != nil {
		return nil, nil, nil, err
	}
	return q, p, n, nil
}

func (t *Trainer) validate(ctx context.Context) (float64, error) {
	t.query.Eval()
	t.doc.Eval()

	var total float64
	err := t.valLoader.Each(ctx, func(i int, b dataset.Batch) error {
		q, p, n, err := t.forward(b)
		if err != nil {
			return fmt.Errorf("batch %d: %w", i+1, err)
		}
		loss, err := t.loss.Value(q.Projected, p.Projected, n.Projected)
		if err != nil {
			return err
		}
		total += loss
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total / float64(t.valLoader.NumBatches()), nil
}

func (t *Trainer) diagnose(ctx context.Context) (*float64, error) {
	if t.diag == nil {
		return nil, nil
	}
	t.doc.Eval()
	return t.diag.measure(ctx)
}

func (t *Trainer) snapshot() (projector.Weights, projector.Weights) {
	return t.query.Weights(), t.doc.Weights()
}

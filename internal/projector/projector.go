// Package projector implements the query and document towers: a
// single-layer LSTM over an embedded token sequence followed by a dense
// projection into the shared retrieval space.
package projector

import (
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"github.com/matsen/twotower/internal/batch"
	"github.com/matsen/twotower/internal/nn"
)

const (
	// OutputDimension is the size of the shared vector space. Both towers
	// must use it so cosine similarity between them is defined.
	OutputDimension = 256

	// DefaultHiddenDimension is the LSTM hidden size of each tower.
	DefaultHiddenDimension = 128

	// DefaultDocDropout is the dropout applied to the document tower's
	// final hidden state during training.
	DefaultDocDropout = 0.1
)

// Errors returned by projector operations.
var (
	ErrShapeMismatch = errors.New("shape mismatch")
	ErrNoTape        = errors.New("forward pass was not recorded in training mode")
)

// Role names a tower.
type Role string

// Tower roles. The values are used in artifact and checkpoint names.
const (
	RoleQuery Role = "query"
	RoleDoc   Role = "doc"
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleQuery, RoleDoc:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown projector role %q (valid: query, doc)", s)
}

// ArtifactName returns the name final weights are stored under, such as
// "query-projector-weights".
func (r Role) ArtifactName() string {
	return string(r) + "-projector-weights"
}

// Config describes one tower.
type Config struct {
	Role         Role    `yaml:"-"`
	EmbeddingDim int     `yaml:"-"`
	HiddenDim    int     `yaml:"hidden"`
	OutputDim    int     `yaml:"output"`
	Dropout      float64 `yaml:"dropout"`
}

// DefaultConfig returns the reference configuration for a tower reading
// embeddingDim-dimensional word vectors.
func DefaultConfig(role Role, embeddingDim int) Config {
	cfg := Config{
		Role:         role,
		EmbeddingDim: embeddingDim,
		HiddenDim:    DefaultHiddenDimension,
		OutputDim:    OutputDimension,
	}
	if role == RoleDoc {
		cfg.Dropout = DefaultDocDropout
	}
	return cfg
}

// Validate checks that the dimensions are usable.
func (c Config) Validate() error {
	if _, err := ParseRole(string(c.Role)); err != nil {
		return err
	}
	if c.EmbeddingDim <= 0 || c.HiddenDim <= 0 || c.OutputDim <= 0 {
		return fmt.Errorf("%s projector: dimensions must be positive (embedding %d, hidden %d, output %d)",
			c.Role, c.EmbeddingDim, c.HiddenDim, c.OutputDim)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("%s projector: dropout %v must be in [0, 1)", c.Role, c.Dropout)
	}
	return nil
}

// Projector encodes padded batches of embedded sequences into fixed-size
// vectors.
//
// In evaluation mode Forward only reads weights and is safe for concurrent
// use. Training mode records a tape for Backward and applies dropout, and is
// not.
type Projector struct {
	cfg      Config
	rnn      *nn.LSTM
	project  *nn.Linear
	training bool
	rng      *rand.Rand
}

// New creates a tower with weights initialised from seed. The tower starts
// in evaluation mode.
func New(cfg Config, seed int64) (*Projector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(seed))
	return &Projector{
		cfg:     cfg,
		rnn:     nn.NewLSTM("rnn", cfg.EmbeddingDim, cfg.HiddenDim, rng),
		project: nn.NewLinear("project", cfg.HiddenDim, cfg.OutputDim, rng),
		rng:     rng,
	}, nil
}

// Config returns the tower configuration.
func (p *Projector) Config() Config {
	return p.cfg
}

// Role returns the tower role.
func (p *Projector) Role() Role {
	return p.cfg.Role
}

// Parameters returns every trainable tensor of the tower.
func (p *Projector) Parameters() []*nn.Param {
	return append(p.rnn.Parameters(), p.project.Parameters()...)
}

// Train switches to training mode.
func (p *Projector) Train() {
	p.training = true
}

// Eval switches to evaluation mode.
func (p *Projector) Eval() {
	p.training = false
}

// Training reports whether the tower is in training mode.
func (p *Projector) Training() bool {
	return p.training
}

// Output is the result of a forward pass.
type Output struct {
	// Projected holds one OutputDim vector per input sequence.
	Projected [][]float64
	// Hidden and Cell hold the final recurrent state per sequence.
	Hidden [][]float64
	Cell   [][]float64

	tape *tape
}

// Len returns the number of encoded sequences.
func (o *Output) Len() int {
	return len(o.Projected)
}

type tape struct {
	traces []*nn.LSTMTrace
	inputs [][]float64 // projection inputs after dropout
	masks  [][]float64 // nil when dropout is off
}

// Forward encodes the batch. Each sequence is run only up to its true
// length, so padding never reaches the recurrence. In training mode the
// pass is recorded for Backward and dropout is applied.
func (p *Projector) Forward(b batch.Padded) (*Output, error) {
	return p.forward(b, p.training)
}

// Infer encodes the batch as in evaluation mode whatever the current mode:
// no dropout and nothing recorded. It only reads weights, so concurrent
// calls are safe as long as no optimizer step runs alongside them.
func (p *Projector) Infer(b batch.Padded) (*Output, error) {
	return p.forward(b, false)
}

func (p *Projector) forward(b batch.Padded, record bool) (*Output, error) {
	if err := p.checkShape(b); err != nil {
		return nil, err
	}

	n := b.Size()
	out := &Output{
		Projected: make([][]float64, n),
		Hidden:    make([][]float64, n),
		Cell:      make([][]float64, n),
	}
	if record {
		out.tape = &tape{
			traces: make([]*nn.LSTMTrace, n),
			inputs: make([][]float64, n),
			masks:  make([][]float64, n),
		}
	}

	for i := 0; i < n; i++ {
		h, c, trace := p.rnn.Run(b.Values[i], b.Lengths[i], record)
		out.Hidden[i] = h
		out.Cell[i] = c

		x := h
		if record && p.cfg.Dropout > 0 {
			mask := nn.DropoutMask(p.rng, len(h), p.cfg.Dropout)
			x = make([]float64, len(h))
			for k := range h {
				x[k] = h[k] * mask[k]
			}
			out.tape.masks[i] = mask
		}
		if record {
			out.tape.traces[i] = trace
			out.tape.inputs[i] = x
		}

		out.Projected[i] = p.project.Forward(x)
	}

	return out, nil
}

// Backward accumulates parameter gradients given dL/dProjected for an output
// produced by Forward in training mode.
func (p *Projector) Backward(out *Output, grad [][]float64) error {
	if out == nil || out.tape == nil {
		return ErrNoTape
	}
	if len(grad) != out.Len() {
		return fmt.Errorf("%w: gradient has %d rows, output has %d", ErrShapeMismatch, len(grad), out.Len())
	}

	for i, g := range grad {
		if len(g) != p.cfg.OutputDim {
			return fmt.Errorf("%w: gradient row %d has %d values, want %d", ErrShapeMismatch, i, len(g), p.cfg.OutputDim)
		}
		dh := p.project.Backward(out.tape.inputs[i], g)
		if mask := out.tape.masks[i]; mask != nil {
			for k := range dh {
				dh[k] *= mask[k]
			}
		}
		p.rnn.Backward(out.tape.traces[i], dh)
	}
	return nil
}

// checkShape verifies the batch is [N, max(lengths), EmbeddingDim].
func (p *Projector) checkShape(b batch.Padded) error {
	maxLen := b.MaxLen()
	expected := fmt.Sprintf("[<batch size (any)>, %d, %d]", maxLen, p.cfg.EmbeddingDim)

	if len(b.Values) == 0 || len(b.Values) != len(b.Lengths) {
		return fmt.Errorf("%w: %s embedding shape %s with %d lengths did not match expected shape %s",
			ErrShapeMismatch, p.cfg.Role, formatShape(b.Shape()), len(b.Lengths), expected)
	}

	for i, row := range b.Values {
		if b.Lengths[i] <= 0 {
			return fmt.Errorf("%w: %s sequence %d has length %d", ErrShapeMismatch, p.cfg.Role, i, b.Lengths[i])
		}
		if len(row) != maxLen {
			return fmt.Errorf("%w: %s embedding shape %s did not match expected shape %s",
				ErrShapeMismatch, p.cfg.Role, formatShape([]int{len(b.Values), len(row), dimOf(row)}), expected)
		}
		for _, vec := range row {
			if len(vec) != p.cfg.EmbeddingDim {
				return fmt.Errorf("%w: %s embedding shape %s did not match expected shape %s",
					ErrShapeMismatch, p.cfg.Role, formatShape([]int{len(b.Values), len(row), len(vec)}), expected)
			}
		}
	}
	return nil
}

func dimOf(row [][]float32) int {
	if len(row) == 0 {
		return 0
	}
	return len(row[0])
}

func formatShape(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.Itoa(d)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Package inference encodes text with trained towers, answers queries
// against the document index and builds that index.
package inference

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/matsen/twotower/internal/artifact"
	"github.com/matsen/twotower/internal/batch"
	"github.com/matsen/twotower/internal/projector"
	"github.com/matsen/twotower/internal/wordvec"
)

// ErrEncodingCount is returned when a tower does not produce exactly one
// vector for a single text.
var ErrEncodingCount = errors.New("unexpected number of encodings")

// Encoder runs an inference pass: no dropout and no recorded tape,
// whatever mode the tower is in. *projector.Projector implements it.
type Encoder interface {
	Infer(b batch.Padded) (*projector.Output, error)
}

// Encode embeds text, runs it through p as a batch of one and returns the
// projected vector. The result does not depend on p's training mode.
func Encode(p Encoder, lookup wordvec.Lookup, text string) ([]float32, error) {
	seq := lookup.Embed(text)
	if seq.Len() == 0 {
		return nil, fmt.Errorf("encoding %q: %w", truncate(text, 40), batch.ErrEmptySequence)
	}

	padded, err := batch.Pad([]batch.Sequence{seq})
	if err != nil {
		return nil, err
	}

	out, err := p.Infer(padded)
	if err != nil {
		return nil, err
	}
	if out.Len() != 1 {
		return nil, fmt.Errorf("%w: expected 1, got %d", ErrEncodingCount, out.Len())
	}

	vec := make([]float32, len(out.Projected[0]))
	for i, v := range out.Projected[0] {
		vec[i] = float32(v)
	}
	return vec, nil
}

// LoadProjector fetches the newest weights for role from store and returns a
// tower in evaluation mode. Hidden and output sizes are taken from the
// stored weights; cfg supplies the embedding size, which must match.
func LoadProjector(ctx context.Context, store artifact.Store, role projector.Role, cfg projector.Config) (*projector.Projector, error) {
	data, err := store.Load(ctx, role.ArtifactName(), artifact.RoleModel)
	if err != nil {
		return nil, err
	}
	w, err := projector.ReadWeights(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", role.ArtifactName(), err)
	}
	return fromWeights(w, role, cfg)
}

// LoadProjectorFile is LoadProjector for a weights file on disk.
func LoadProjectorFile(path string, role projector.Role, cfg projector.Config) (*projector.Projector, error) {
	w, err := projector.LoadWeightsFile(path)
	if err != nil {
		return nil, err
	}
	return fromWeights(w, role, cfg)
}

func fromWeights(w projector.Weights, role projector.Role, cfg projector.Config) (*projector.Projector, error) {
	if w.Role != role {
		return nil, fmt.Errorf("weights are for the %s tower, want %s", w.Role, role)
	}

	cfg.Role = role
	cfg.HiddenDim = w.HiddenDim
	cfg.OutputDim = w.OutputDim
	p, err := projector.New(cfg, 0)
	if err != nil {
		return nil, err
	}
	if err := p.LoadWeights(w); err != nil {
		return nil, fmt.Errorf("loading %s weights: %w", role, err)
	}
	p.Eval()
	return p, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

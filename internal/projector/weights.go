package projector

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Errors returned by weight persistence.
var (
	ErrWeightsNotFound    = errors.New("projector weights not found")
	ErrUnsupportedVersion = errors.New("unsupported weights version")
)

// CurrentWeightsVersion is the format version for compatibility checking.
// Increment this when making breaking changes to the weights format.
const CurrentWeightsVersion = 1

// Tensor is one named parameter in a weights file.
type Tensor struct {
	Name  string
	Shape []int
	Data  []float64
}

// Weights is the serialisable state of a tower. Loading it into a tower of
// the same configuration restores identical forward behaviour.
type Weights struct {
	Version      int
	Role         Role
	EmbeddingDim int
	HiddenDim    int
	OutputDim    int
	Tensors      []Tensor
}

// Weights returns a deep copy of the tower's current parameters.
func (p *Projector) Weights() Weights {
	w := Weights{
		Version:      CurrentWeightsVersion,
		Role:         p.cfg.Role,
		EmbeddingDim: p.cfg.EmbeddingDim,
		HiddenDim:    p.cfg.HiddenDim,
		OutputDim:    p.cfg.OutputDim,
	}
	for _, param := range p.Parameters() {
		w.Tensors = append(w.Tensors, Tensor{
			Name:  param.Name,
			Shape: append([]int(nil), param.Shape...),
			Data:  append([]float64(nil), param.Data...),
		})
	}
	return w
}

// LoadWeights replaces the tower's parameters. The dimensions recorded in w
// must match the tower configuration and every parameter must be present.
func (p *Projector) LoadWeights(w Weights) error {
	if w.Version != CurrentWeightsVersion {
		return fmt.Errorf("%w: got %d, want %d", ErrUnsupportedVersion, w.Version, CurrentWeightsVersion)
	}
	if w.EmbeddingDim != p.cfg.EmbeddingDim || w.HiddenDim != p.cfg.HiddenDim || w.OutputDim != p.cfg.OutputDim {
		return fmt.Errorf("%w: weights are (embedding %d, hidden %d, output %d), %s projector is (embedding %d, hidden %d, output %d)",
			ErrShapeMismatch, w.EmbeddingDim, w.HiddenDim, w.OutputDim,
			p.cfg.Role, p.cfg.EmbeddingDim, p.cfg.HiddenDim, p.cfg.OutputDim)
	}

	byName := make(map[string]Tensor, len(w.Tensors))
	for _, t := range w.Tensors {
		byName[t.Name] = t
	}

	params := p.Parameters()
	for _, param := range params {
		t, ok := byName[param.Name]
		if !ok {
			return fmt.Errorf("%w: weights missing tensor %q", ErrShapeMismatch, param.Name)
		}
		// Validate everything before mutating anything.
		if err := checkTensor(param.Name, param.Shape, t); err != nil {
			return err
		}
	}
	for _, param := range params {
		if err := param.CopyFrom(byName[param.Name].Shape, byName[param.Name].Data); err != nil {
			return err
		}
	}
	return nil
}

func checkTensor(name string, shape []int, t Tensor) error {
	size := 1
	for _, d := range shape {
		size *= d
	}
	if len(t.Shape) != len(shape) || len(t.Data) != size {
		return fmt.Errorf("%w: tensor %q has shape %s, want %s", ErrShapeMismatch, name, formatShape(t.Shape), formatShape(shape))
	}
	for i := range shape {
		if t.Shape[i] != shape[i] {
			return fmt.Errorf("%w: tensor %q has shape %s, want %s", ErrShapeMismatch, name, formatShape(t.Shape), formatShape(shape))
		}
	}
	return nil
}

// Encode writes w to wr using GOB encoding.
func (w Weights) Encode(wr io.Writer) error {
	if err := gob.NewEncoder(wr).Encode(w); err != nil {
		return fmt.Errorf("encoding weights: %w", err)
	}
	return nil
}

// Bytes returns the GOB encoding of w.
func (w Weights) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := w.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadWeights reads a GOB-encoded weights value.
func ReadWeights(r io.Reader) (Weights, error) {
	var w Weights
	if err := gob.NewDecoder(r).Decode(&w); err != nil {
		return Weights{}, fmt.Errorf("decoding weights: %w", err)
	}
	if w.Version != CurrentWeightsVersion {
		return Weights{}, fmt.Errorf("%w: got %d, want %d", ErrUnsupportedVersion, w.Version, CurrentWeightsVersion)
	}
	return w, nil
}

// SaveWeights persists w to path, creating parent directories as needed.
// The file is written to a temp path and renamed into place.
func SaveWeights(path string, w Weights) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating weights directory: %w", err)
	}

	tempPath := path + ".tmp"
	f, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	if err := w.Encode(f); err != nil {
		f.Close()
		os.Remove(tempPath)
		return err
	}

	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("closing file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// LoadWeightsFile reads weights saved by SaveWeights.
func LoadWeightsFile(path string) (Weights, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Weights{}, fmt.Errorf("%w: %s", ErrWeightsNotFound, path)
		}
		return Weights{}, fmt.Errorf("opening weights file: %w", err)
	}
	defer f.Close()

	return ReadWeights(f)
}

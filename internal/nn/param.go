// Package nn implements the small set of differentiable layers the projector
// towers are built from: a single-layer LSTM, a dense layer, dropout, and
// the AdamW optimizer. Tensors are flat row-major float64 slices.
package nn

import (
	"fmt"
	"math/rand"
)

// Param is a named trainable tensor together with its gradient.
type Param struct {
	Name  string
	Shape []int
	Data  []float64
	Grad  []float64
}

// NewParam allocates a zeroed parameter with the given shape.
func NewParam(name string, shape ...int) *Param {
	size := 1
	for _, d := range shape {
		size *= d
	}
	return &Param{
		Name:  name,
		Shape: append([]int(nil), shape...),
		Data:  make([]float64, size),
		Grad:  make([]float64, size),
	}
}

// Size returns the number of elements.
func (p *Param) Size() int {
	return len(p.Data)
}

// ZeroGrad clears the accumulated gradient.
func (p *Param) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// InitUniform fills the parameter with values drawn from U(-bound, bound).
func (p *Param) InitUniform(rng *rand.Rand, bound float64) {
	for i := range p.Data {
		p.Data[i] = (rng.Float64()*2 - 1) * bound
	}
}

// CopyFrom overwrites the parameter data. The shapes must match.
func (p *Param) CopyFrom(shape []int, data []float64) error {
	if !sameShape(p.Shape, shape) || len(data) != len(p.Data) {
		return fmt.Errorf("parameter %s: shape %v does not match %v", p.Name, shape, p.Shape)
	}
	copy(p.Data, data)
	return nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ZeroGrads clears the gradients of all params.
func ZeroGrads(params []*Param) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

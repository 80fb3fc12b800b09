package nn

import (
	"math"
	"math/rand"
)

// Linear is a dense layer y = Wx + b with W shaped [Out, In].
type Linear struct {
	In     int
	Out    int
	Weight *Param
	Bias   *Param
}

// NewLinear creates a dense layer initialised from U(-1/sqrt(in), 1/sqrt(in)).
func NewLinear(name string, in, out int, rng *rand.Rand) *Linear {
	l := &Linear{
		In:     in,
		Out:    out,
		Weight: NewParam(name+".weight", out, in),
		Bias:   NewParam(name+".bias", out),
	}
	bound := 1 / math.Sqrt(float64(in))
	l.Weight.InitUniform(rng, bound)
	l.Bias.InitUniform(rng, bound)
	return l
}

// Parameters returns the trainable tensors.
func (l *Linear) Parameters() []*Param {
	return []*Param{l.Weight, l.Bias}
}

// Forward computes Wx + b.
func (l *Linear) Forward(x []float64) []float64 {
	y := make([]float64, l.Out)
	w := l.Weight.Data
	for o := 0; o < l.Out; o++ {
		sum := l.Bias.Data[o]
		row := w[o*l.In : (o+1)*l.In]
		for i, xi := range x {
			sum += row[i] * xi
		}
		y[o] = sum
	}
	return y
}

// Backward accumulates dL/dW and dL/db for the input x and upstream
// gradient dy, and returns dL/dx.
func (l *Linear) Backward(x, dy []float64) []float64 {
	dx := make([]float64, l.In)
	w := l.Weight.Data
	gw := l.Weight.Grad
	for o := 0; o < l.Out; o++ {
		g := dy[o]
		if g == 0 {
			continue
		}
		l.Bias.Grad[o] += g
		off := o * l.In
		for i := 0; i < l.In; i++ {
			gw[off+i] += g * x[i]
			dx[i] += g * w[off+i]
		}
	}
	return dx
}

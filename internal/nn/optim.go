package nn

import (
	"math"
	"math/rand"
)

// AdamWConfig holds the optimizer hyperparameters.
type AdamWConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Eps          float64
	WeightDecay  float64
}

// DefaultAdamWConfig returns the usual AdamW defaults for the given
// learning rate.
func DefaultAdamWConfig(lr float64) AdamWConfig {
	return AdamWConfig{
		LearningRate: lr,
		Beta1:        0.9,
		Beta2:        0.999,
		Eps:          1e-8,
		WeightDecay:  0.01,
	}
}

// AdamW implements Adam with decoupled weight decay over a fixed set of
// parameters.
type AdamW struct {
	cfg    AdamWConfig
	params []*Param
	m      [][]float64
	v      [][]float64
	step   int
}

// NewAdamW creates an optimizer covering params.
func NewAdamW(params []*Param, cfg AdamWConfig) *AdamW {
	a := &AdamW{
		cfg:    cfg,
		params: params,
		m:      make([][]float64, len(params)),
		v:      make([][]float64, len(params)),
	}
	for i, p := range params {
		a.m[i] = make([]float64, p.Size())
		a.v[i] = make([]float64, p.Size())
	}
	return a
}

// ZeroGrad clears the gradients of every covered parameter.
func (a *AdamW) ZeroGrad() {
	ZeroGrads(a.params)
}

// Steps returns the number of updates applied so far.
func (a *AdamW) Steps() int {
	return a.step
}

// Step applies one update using the accumulated gradients.
func (a *AdamW) Step() {
	a.step++
	c := a.cfg
	bc1 := 1 - math.Pow(c.Beta1, float64(a.step))
	bc2 := 1 - math.Pow(c.Beta2, float64(a.step))

	for pi, p := range a.params {
		m, v := a.m[pi], a.v[pi]
		for i, g := range p.Grad {
			p.Data[i] -= c.LearningRate * c.WeightDecay * p.Data[i]
			m[i] = c.Beta1*m[i] + (1-c.Beta1)*g
			v[i] = c.Beta2*v[i] + (1-c.Beta2)*g*g
			mHat := m[i] / bc1
			vHat := v[i] / bc2
			p.Data[i] -= c.LearningRate * mHat / (math.Sqrt(vHat) + c.Eps)
		}
	}
}

// DropoutMask returns an inverted-dropout mask of length n: each entry is 0
// with probability p and 1/(1-p) otherwise.
func DropoutMask(rng *rand.Rand, n int, p float64) []float64 {
	mask := make([]float64, n)
	scale := 1 / (1 - p)
	for i := range mask {
		if rng.Float64() >= p {
			mask[i] = scale
		}
	}
	return mask
}

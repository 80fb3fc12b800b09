package nn

import (
	"math"
	"math/rand"
)

// LSTM is a single-layer long short-term memory cell unrolled over a
// sequence. Gate rows are ordered input, forget, cell, output.
type LSTM struct {
	Input    int
	Hidden   int
	WeightIH *Param // [4*Hidden, Input]
	WeightHH *Param // [4*Hidden, Hidden]
	BiasIH   *Param // [4*Hidden]
	BiasHH   *Param // [4*Hidden]
}

// NewLSTM creates an LSTM initialised from U(-1/sqrt(hidden), 1/sqrt(hidden)).
func NewLSTM(name string, input, hidden int, rng *rand.Rand) *LSTM {
	l := &LSTM{
		Input:    input,
		Hidden:   hidden,
		WeightIH: NewParam(name+".weight_ih", 4*hidden, input),
		WeightHH: NewParam(name+".weight_hh", 4*hidden, hidden),
		BiasIH:   NewParam(name+".bias_ih", 4*hidden),
		BiasHH:   NewParam(name+".bias_hh", 4*hidden),
	}
	bound := 1 / math.Sqrt(float64(hidden))
	for _, p := range l.Parameters() {
		p.InitUniform(rng, bound)
	}
	return l
}

// Parameters returns the trainable tensors.
func (l *LSTM) Parameters() []*Param {
	return []*Param{l.WeightIH, l.WeightHH, l.BiasIH, l.BiasHH}
}

// lstmStep holds the activations of one time step needed for backprop.
type lstmStep struct {
	x     []float64
	hPrev []float64
	cPrev []float64
	i     []float64
	f     []float64
	g     []float64
	o     []float64
	tanhC []float64
}

// LSTMTrace records a forward pass over one sequence.
type LSTMTrace struct {
	steps []lstmStep
}

// Steps returns the number of recorded time steps.
func (t *LSTMTrace) Steps() int {
	return len(t.steps)
}

// Run feeds the first length vectors of seq through the cell starting from a
// zero state and returns the final hidden and cell state. Positions at or
// after length are never read. When record is true the returned trace can be
// passed to Backward.
func (l *LSTM) Run(seq [][]float32, length int, record bool) (h, c []float64, trace *LSTMTrace) {
	hid := l.Hidden
	h = make([]float64, hid)
	c = make([]float64, hid)
	if record {
		trace = &LSTMTrace{steps: make([]lstmStep, 0, length)}
	}

	gates := make([]float64, 4*hid)
	for t := 0; t < length; t++ {
		x := make([]float64, l.Input)
		for k, v := range seq[t] {
			x[k] = float64(v)
		}

		copy(gates, l.BiasIH.Data)
		for r := range gates {
			gates[r] += l.BiasHH.Data[r]
			wi := l.WeightIH.Data[r*l.Input : (r+1)*l.Input]
			sum := 0.0
			for k, xv := range x {
				sum += wi[k] * xv
			}
			wh := l.WeightHH.Data[r*hid : (r+1)*hid]
			for k, hv := range h {
				sum += wh[k] * hv
			}
			gates[r] += sum
		}

		ig := make([]float64, hid)
		fg := make([]float64, hid)
		gg := make([]float64, hid)
		og := make([]float64, hid)
		nc := make([]float64, hid)
		nh := make([]float64, hid)
		tc := make([]float64, hid)
		for k := 0; k < hid; k++ {
			ig[k] = sigmoid(gates[k])
			fg[k] = sigmoid(gates[hid+k])
			gg[k] = math.Tanh(gates[2*hid+k])
			og[k] = sigmoid(gates[3*hid+k])
			nc[k] = fg[k]*c[k] + ig[k]*gg[k]
			tc[k] = math.Tanh(nc[k])
			nh[k] = og[k] * tc[k]
		}

		if record {
			trace.steps = append(trace.steps, lstmStep{
				x: x, hPrev: h, cPrev: c,
				i: ig, f: fg, g: gg, o: og, tanhC: tc,
			})
		}
		h, c = nh, nc
	}

	return h, c, trace
}

// Backward back-propagates dh, the gradient of the loss with respect to the
// final hidden state, through the recorded steps and accumulates parameter
// gradients. The final cell state is assumed not to feed the loss.
func (l *LSTM) Backward(trace *LSTMTrace, dh []float64) {
	hid := l.Hidden
	dhNext := append([]float64(nil), dh...)
	dcNext := make([]float64, hid)
	da := make([]float64, 4*hid)

	for t := len(trace.steps) - 1; t >= 0; t-- {
		s := trace.steps[t]
		for k := 0; k < hid; k++ {
			do := dhNext[k] * s.tanhC[k]
			dc := dcNext[k] + dhNext[k]*s.o[k]*(1-s.tanhC[k]*s.tanhC[k])
			di := dc * s.g[k]
			dg := dc * s.i[k]
			df := dc * s.cPrev[k]
			dcNext[k] = dc * s.f[k]

			da[k] = di * s.i[k] * (1 - s.i[k])
			da[hid+k] = df * s.f[k] * (1 - s.f[k])
			da[2*hid+k] = dg * (1 - s.g[k]*s.g[k])
			da[3*hid+k] = do * s.o[k] * (1 - s.o[k])
		}

		for k := range dhNext {
			dhNext[k] = 0
		}
		for r, g := range da {
			if g == 0 {
				continue
			}
			l.BiasIH.Grad[r] += g
			l.BiasHH.Grad[r] += g

			gi := l.WeightIH.Grad[r*l.Input : (r+1)*l.Input]
			for k, xv := range s.x {
				gi[k] += g * xv
			}
			gh := l.WeightHH.Grad[r*hid : (r+1)*hid]
			wh := l.WeightHH.Data[r*hid : (r+1)*hid]
			for k := 0; k < hid; k++ {
				gh[k] += g * s.hPrev[k]
				dhNext[k] += g * wh[k]
			}
		}
	}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

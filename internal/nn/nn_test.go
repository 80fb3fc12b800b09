package nn

import (
	"math"
	"math/rand"
	"testing"
)

// numericGrad estimates dLoss/dp.Data[i] by central differences.
func numericGrad(p *Param, i int, loss func() float64) float64 {
	const h = 1e-6
	orig := p.Data[i]
	p.Data[i] = orig + h
	up := loss()
	p.Data[i] = orig - h
	down := loss()
	p.Data[i] = orig
	return (up - down) / (2 * h)
}

func assertClose(t *testing.T, name string, got, want float64) {
	t.Helper()
	diff := math.Abs(got - want)
	scale := math.Max(1, math.Max(math.Abs(got), math.Abs(want)))
	if diff/scale > 1e-5 {
		t.Errorf("%s: analytic %.8f, numeric %.8f", name, got, want)
	}
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func TestLinear_Forward(t *testing.T) {
	l := NewLinear("proj", 2, 2, rand.New(rand.NewSource(1)))
	copy(l.Weight.Data, []float64{1, 2, 3, 4})
	copy(l.Bias.Data, []float64{0.5, -0.5})

	y := l.Forward([]float64{1, 1})
	if y[0] != 3.5 || y[1] != 6.5 {
		t.Errorf("Forward() = %v, want [3.5 6.5]", y)
	}
}

func TestLinear_GradientCheck(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	l := NewLinear("proj", 5, 3, rng)
	x := []float64{0.3, -0.2, 0.9, 0.1, -0.7}
	w := []float64{0.5, -1.5, 2}

	loss := func() float64 { return dot(w, l.Forward(x)) }

	ZeroGrads(l.Parameters())
	l.Backward(x, w)

	for _, p := range l.Parameters() {
		for i := range p.Data {
			assertClose(t, p.Name, p.Grad[i], numericGrad(p, i, loss))
		}
	}
}

func testSequence(rng *rand.Rand, length, dim int) [][]float32 {
	seq := make([][]float32, length)
	for i := range seq {
		seq[i] = make([]float32, dim)
		for d := range seq[i] {
			seq[i][d] = float32(rng.NormFloat64())
		}
	}
	return seq
}

func TestLSTM_GradientCheck(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	l := NewLSTM("rnn", 4, 3, rng)
	seq := testSequence(rng, 5, 4)
	w := []float64{1, -2, 0.5}

	loss := func() float64 {
		h, _, _ := l.Run(seq, len(seq), false)
		return dot(w, h)
	}

	ZeroGrads(l.Parameters())
	_, _, trace := l.Run(seq, len(seq), true)
	if trace.Steps() != len(seq) {
		t.Fatalf("trace has %d steps, want %d", trace.Steps(), len(seq))
	}
	l.Backward(trace, w)

	for _, p := range l.Parameters() {
		for i := 0; i < p.Size(); i += 3 {
			assertClose(t, p.Name, p.Grad[i], numericGrad(p, i, loss))
		}
	}
}

func TestLSTM_IgnoresPositionsPastLength(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	l := NewLSTM("rnn", 2, 4, rng)
	seq := testSequence(rng, 3, 2)

	h1, c1, _ := l.Run(seq, 3, false)

	padded := append(seq, []float32{9, 9}, []float32{-9, 9})
	h2, c2, _ := l.Run(padded, 3, false)

	for k := range h1 {
		if h1[k] != h2[k] || c1[k] != c2[k] {
			t.Fatalf("state differs at %d: %v vs %v", k, h1, h2)
		}
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2}, []float64{1, 2}, 1},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0},
		{"opposite", []float64{1, 0}, []float64{-3, 0}, -1},
		{"zero vector", []float64{0, 0}, []float64{1, 0}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("CosineSimilarity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCosineSimilarityGrad(t *testing.T) {
	a := []float64{0.4, -1.2, 0.7}
	b := []float64{1.1, 0.3, -0.5}

	_, da, db := CosineSimilarityGrad(a, b)

	pa := &Param{Name: "a", Data: a}
	pb := &Param{Name: "b", Data: b}
	loss := func() float64 { return CosineSimilarity(pa.Data, pb.Data) }
	for i := range a {
		assertClose(t, "da", da[i], numericGrad(pa, i, loss))
		assertClose(t, "db", db[i], numericGrad(pb, i, loss))
	}
}

func TestAdamW_MinimisesQuadratic(t *testing.T) {
	p := NewParam("x", 2)
	p.Data[0], p.Data[1] = 3, -2

	cfg := DefaultAdamWConfig(0.1)
	cfg.WeightDecay = 0
	opt := NewAdamW([]*Param{p}, cfg)

	for i := 0; i < 500; i++ {
		opt.ZeroGrad()
		p.Grad[0] = 2 * p.Data[0]
		p.Grad[1] = 2 * p.Data[1]
		opt.Step()
	}

	if math.Abs(p.Data[0]) > 5e-2 || math.Abs(p.Data[1]) > 5e-2 {
		t.Errorf("expected parameters near zero, got %v", p.Data)
	}
	if opt.Steps() != 500 {
		t.Errorf("Steps() = %d, want 500", opt.Steps())
	}
}

func TestAdamW_WeightDecayWithoutGradient(t *testing.T) {
	p := NewParam("x", 1)
	p.Data[0] = 1
	opt := NewAdamW([]*Param{p}, DefaultAdamWConfig(0.1))
	opt.Step()

	if want := 1 - 0.1*0.01; math.Abs(p.Data[0]-want) > 1e-12 {
		t.Errorf("after decay x = %v, want %v", p.Data[0], want)
	}
}

func TestDropoutMask(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	mask := DropoutMask(rng, 10000, 0.25)

	zeros := 0
	for _, m := range mask {
		switch m {
		case 0:
			zeros++
		case 1 / 0.75:
		default:
			t.Fatalf("unexpected mask value %v", m)
		}
	}
	if zeros < 2200 || zeros > 2800 {
		t.Errorf("dropped %d of 10000, expected about 2500", zeros)
	}
}

func TestParam_CopyFrom(t *testing.T) {
	p := NewParam("w", 2, 3)
	if err := p.CopyFrom([]int{3, 2}, make([]float64, 6)); err == nil {
		t.Error("expected shape mismatch error")
	}
	if err := p.CopyFrom([]int{2, 3}, []float64{1, 2, 3, 4, 5, 6}); err != nil {
		t.Fatalf("CopyFrom() error = %v", err)
	}
	if p.Data[5] != 6 {
		t.Errorf("Data[5] = %v, want 6", p.Data[5])
	}
}

package train

import (
	"math"
	"math/rand"
	"testing"
)

func randomRows(rng *rand.Rand, n, dim int) [][]float64 {
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, dim)
		for k := range rows[i] {
			rows[i][k] = rng.NormFloat64()
		}
	}
	return rows
}

func TestTripletLoss_NonNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for _, margin := range []float64{0, 0.15, 0.2, 1} {
		loss := TripletLoss{Margin: margin}
		for trial := 0; trial < 20; trial++ {
			q, p, n := randomRows(rng, 5, 4), randomRows(rng, 5, 4), randomRows(rng, 5, 4)
			v, err := loss.Value(q, p, n)
			if err != nil {
				t.Fatalf("Value() error = %v", err)
			}
			if v < 0 {
				t.Fatalf("margin %v: loss %v is negative", margin, v)
			}
		}
	}
}

func TestTripletLoss_ZeroWhenSeparated(t *testing.T) {
	loss := TripletLoss{Margin: 0.2}
	q := [][]float64{{1, 0}}
	p := [][]float64{{2, 0.1}}
	n := [][]float64{{-1, 0}}

	v, dq, dp, dn, err := loss.Compute(q, p, n)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	if v != 0 {
		t.Errorf("loss = %v, want 0", v)
	}
	for _, g := range [][]float64{dq[0], dp[0], dn[0]} {
		for _, x := range g {
			if x != 0 {
				t.Fatalf("expected zero gradients, got %v %v %v", dq, dp, dn)
			}
		}
	}
}

func TestTripletLoss_Values(t *testing.T) {
	tests := []struct {
		name    string
		q, p, n []float64
		margin  float64
		want    float64
	}{
		{"identical docs give margin", []float64{1, 0}, []float64{1, 0}, []float64{1, 0}, 0.2, 0.2},
		{"swapped docs", []float64{1, 0}, []float64{0, 1}, []float64{1, 0}, 0.2, 1.2},
		{"exactly at margin", []float64{1, 0}, []float64{1, 0}, []float64{0.8, 0.6}, 0.2, 0},
		{"zero margin", []float64{1, 0}, []float64{1, 1}, []float64{1, 1}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TripletLoss{Margin: tt.margin}.Value([][]float64{tt.q}, [][]float64{tt.p}, [][]float64{tt.n})
			if err != nil {
				t.Fatalf("Value() error = %v", err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("loss = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTripletLoss_MeanOverBatch(t *testing.T) {
	loss := TripletLoss{Margin: 0.2}
	q := [][]float64{{1, 0}, {1, 0}}
	p := [][]float64{{1, 0}, {1, 0}}
	n := [][]float64{{1, 0}, {-1, 0}}

	got, err := loss.Value(q, p, n)
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}
	if math.Abs(got-0.1) > 1e-9 {
		t.Errorf("loss = %v, want 0.1", got)
	}
}

func TestTripletLoss_Errors(t *testing.T) {
	loss := TripletLoss{Margin: 0.2}
	if _, err := loss.Value(nil, nil, nil); err == nil {
		t.Error("expected error for empty batch")
	}
	if _, err := loss.Value([][]float64{{1}}, [][]float64{{1}, {1}}, [][]float64{{1}}); err == nil {
		t.Error("expected error for mismatched batch sizes")
	}
	if _, _, _, _, err := loss.Compute([][]float64{{1, 0}}, [][]float64{{1}}, [][]float64{{1, 0}}); err == nil {
		t.Error("expected error for mismatched encoding sizes")
	}
}

func TestTripletLoss_GradientCheck(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	// A margin above the largest possible distance difference keeps every
	// term active, away from the hinge.
	loss := TripletLoss{Margin: 2.5}
	q, p, n := randomRows(rng, 3, 4), randomRows(rng, 3, 4), randomRows(rng, 3, 4)

	_, dq, dp, dn, err := loss.Compute(q, p, n)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}

	const h = 1e-6
	check := func(name string, rows, grad [][]float64) {
		for i := range rows {
			for k := range rows[i] {
				old := rows[i][k]
				rows[i][k] = old + h
				plus, _ := loss.Value(q, p, n)
				rows[i][k] = old - h
				minus, _ := loss.Value(q, p, n)
				rows[i][k] = old

				numeric := (plus - minus) / (2 * h)
				if math.Abs(numeric-grad[i][k]) > 1e-6 {
					t.Errorf("%s[%d][%d]: analytic %v, numeric %v", name, i, k, grad[i][k], numeric)
				}
			}
		}
	}
	check("dq", q, dq)
	check("dp", p, dp)
	check("dn", n, dn)
}

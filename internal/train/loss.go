package train

import (
	"fmt"

	"github.com/matsen/twotower/internal/nn"
)

// Distance is the cosine distance 1 - cos(a, b).
func Distance(a, b []float64) float64 {
	return 1 - nn.CosineSimilarity(a, b)
}

// TripletLoss is the margin ranking loss
// mean_i max(0, d(q_i, p_i) - d(q_i, n_i) + Margin) with cosine distance.
type TripletLoss struct {
	Margin float64
}

// Value returns the loss of a batch without gradients.
func (l TripletLoss) Value(q, p, n [][]float64) (float64, error) {
	if err := checkTriplet(q, p, n); err != nil {
		return 0, err
	}
	var total float64
	for i := range q {
		if term := Distance(q[i], p[i]) - Distance(q[i], n[i]) + l.Margin; term > 0 {
			total += term
		}
	}
	return total / float64(len(q)), nil
}

// Compute returns the loss of a batch and its gradients with respect to the
// query, relevant and irrelevant encodings. Rows whose term is clamped to
// zero get zero gradients.
func (l TripletLoss) Compute(q, p, n [][]float64) (loss float64, dq, dp, dn [][]float64, err error) {
	if err := checkTriplet(q, p, n); err != nil {
		return 0, nil, nil, nil, err
	}

	size := float64(len(q))
	dq = make([][]float64, len(q))
	dp = make([][]float64, len(q))
	dn = make([][]float64, len(q))

	for i := range q {
		simPos, dqPos, dpPos := nn.CosineSimilarityGrad(q[i], p[i])
		simNeg, dqNeg, dnNeg := nn.CosineSimilarityGrad(q[i], n[i])

		dq[i] = make([]float64, len(q[i]))
		dp[i] = make([]float64, len(p[i]))
		dn[i] = make([]float64, len(n[i]))

		// d(q,p) - d(q,n) = cos(q,n) - cos(q,p)
		term := simNeg - simPos + l.Margin
		if term <= 0 {
			continue
		}
		loss += term / size
		for k := range dq[i] {
			dq[i][k] = (dqNeg[k] - dqPos[k]) / size
			dp[i][k] = -dpPos[k] / size
			dn[i][k] = dnNeg[k] / size
		}
	}
	return loss, dq, dp, dn, nil
}

func checkTriplet(q, p, n [][]float64) error {
	if len(q) == 0 {
		return fmt.Errorf("empty batch")
	}
	if len(p) != len(q) || len(n) != len(q) {
		return fmt.Errorf("batch sizes differ: %d queries, %d relevant, %d irrelevant", len(q), len(p), len(n))
	}
	for i := range q {
		if len(p[i]) != len(q[i]) || len(n[i]) != len(q[i]) {
			return fmt.Errorf("row %d: encoding sizes differ (%d, %d, %d)", i, len(q[i]), len(p[i]), len(n[i]))
		}
	}
	return nil
}

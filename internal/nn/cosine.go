package nn

import "math"

// cosineEps bounds vector norms away from zero.
const cosineEps = 1e-8

// CosineSimilarity returns a·b / (max(|a|, eps) * max(|b|, eps)).
func CosineSimilarity(a, b []float64) float64 {
	sim, _, _ := cosine(a, b, false)
	return sim
}

// CosineSimilarityGrad returns the cosine similarity of a and b and its
// gradients with respect to each argument.
func CosineSimilarityGrad(a, b []float64) (sim float64, da, db []float64) {
	return cosine(a, b, true)
}

func cosine(a, b []float64, grad bool) (float64, []float64, []float64) {
	var dot, sa, sb float64
	for i := range a {
		dot += a[i] * b[i]
		sa += a[i] * a[i]
		sb += b[i] * b[i]
	}
	na, nb := math.Sqrt(sa), math.Sqrt(sb)
	aClamped, bClamped := na < cosineEps, nb < cosineEps
	if aClamped {
		na = cosineEps
	}
	if bClamped {
		nb = cosineEps
	}

	sim := dot / (na * nb)
	if !grad {
		return sim, nil, nil
	}

	da := make([]float64, len(a))
	db := make([]float64, len(b))
	for i := range a {
		da[i] = b[i] / (na * nb)
		if !aClamped {
			da[i] -= sim * a[i] / (na * na)
		}
		db[i] = a[i] / (na * nb)
		if !bClamped {
			db[i] -= sim * b[i] / (nb * nb)
		}
	}
	return sim, da, db
}

package similarity

import "math"

const normEpsilon = 1e-8

// CosineSimilarity re-normalizes both vectors before taking the dot product, so it
// is safe on inputs that are not unit length. The epsilon keeps all-zero vectors
// from dividing by zero (they score 0). Mismatched or empty vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}

	return dot / ((math.Sqrt(normA) + normEpsilon) * (math.Sqrt(normB) + normEpsilon))
}

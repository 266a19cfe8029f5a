// Package vecmath provides vector operations for embedding post-processing.
package vecmath

import (
	"math"
)

// DotProduct computes inner product between two float32 vectors.
func DotProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var sum float64
	n := len(a)

	// Process 4 elements at a time for better CPU pipelining
	i := 0
	for ; i <= n-4; i += 4 {
		sum += float64(a[i])*float64(b[i]) +
			float64(a[i+1])*float64(b[i+1]) +
			float64(a[i+2])*float64(b[i+2]) +
			float64(a[i+3])*float64(b[i+3])
	}

	for ; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}

	return sum
}

// Norm returns the L2 norm of a vector.
func Norm(v []float32) float64 {
	return math.Sqrt(DotProduct(v, v))
}

// NormalizeInPlace normalizes a vector to unit length in-place.
// A zero vector is left unchanged.
func NormalizeInPlace(v []float32) {
	if len(v) == 0 {
		return
	}

	mag := Norm(v)
	if mag == 0 {
		return
	}

	invMag := float32(1.0 / mag)
	for i := range v {
		v[i] *= invMag
	}
}

// IsFinite reports whether every element is a finite number.
// Embeddings containing NaN or Inf must be rejected before storage.
func IsFinite(v []float32) bool {
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// CosineSimilarity computes cosine similarity between two vectors.
// Returns a value in [-1, 1] where 1 = identical, -1 = opposite.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(a) != len(b) {
		if len(a) > len(b) {
			a = a[:len(b)]
		} else {
			b = b[:len(a)]
		}
	}

	dot := DotProduct(a, b)
	denom := Norm(a) * Norm(b)
	if denom == 0 {
		return 0
	}

	sim := dot / denom
	// Clamp to handle floating point errors
	if sim > 1.0 {
		sim = 1.0
	} else if sim < -1.0 {
		sim = -1.0
	}
	return sim
}

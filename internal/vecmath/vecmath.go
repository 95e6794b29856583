// Package vecmath implements the vector distance primitives used by the
// IVF codec and shard search path.
package vecmath

import "math"

// DotProduct computes the dot product of two equal-length vectors.
func DotProduct(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// SquaredL2 computes the squared Euclidean distance between a and b.
// Range search and centroid assignment both compare against a squared
// radius, so this avoids a sqrt on the hot path.
func SquaredL2(a, b []float32) float32 {
	if len(a) != len(b) {
		return float32(math.MaxFloat32)
	}
	var sum float32
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return sum
}

// L2Distance is the square root of SquaredL2, kept for callers that need
// an actual Euclidean distance (e.g. reporting).
func L2Distance(a, b []float32) float32 {
	return float32(math.Sqrt(float64(SquaredL2(a, b))))
}

// Magnitude computes the L2 norm of v.
func Magnitude(v []float32) float32 {
	var sum float32
	for _, val := range v {
		sum += val * val
	}
	return float32(math.Sqrt(float64(sum)))
}

// Normalize returns a unit-length copy of v. A zero vector is returned
// unchanged.
func Normalize(v []float32) []float32 {
	mag := Magnitude(v)
	if mag == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i := range v {
		out[i] = v[i] / mag
	}
	return out
}

// Validate reports whether v has the expected dimension.
func Validate(v []float32, dimension int) bool {
	return len(v) == dimension
}

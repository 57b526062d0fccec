package utils

import "math"

// SparseNorm returns the L2 norm of a sparse token-weight vector.
func SparseNorm(v map[string]float64) float64 {
	var sum float64
	for _, w := range v {
		sum += w * w
	}
	return math.Sqrt(sum)
}

// SparseDot returns the dot product of two sparse token-weight vectors,
// iterating the smaller map.
func SparseDot(a, b map[string]float64) float64 {
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot float64
	for k, wa := range a {
		if wb, ok := b[k]; ok {
			dot += wa * wb
		}
	}
	return dot
}

// NormalizeL2 normalizes the slice in place to unit L2 norm.
// If the norm is zero, the slice is unchanged.
func NormalizeL2(x []float32) {
	var sum float32
	for _, v := range x {
		sum += v * v
	}
	if sum == 0 {
		return
	}
	norm := float32(1.0 / math.Sqrt(float64(sum)))
	for i := range x {
		x[i] *= norm
	}
}

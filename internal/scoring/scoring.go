// Package scoring computes similarity between spectra and sparse vectors.
//
// Three metrics are supported: greedy cosine over matched peaks, modified
// cosine (peak matching tolerant of the precursor mass difference), and
// cosine over precomputed sparse vectors. All metrics are symmetric and
// return 0 for empty inputs.
package scoring

import (
	"errors"
	"math"
	"sort"

	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/pkg/utils"
)

// ErrMissingPrecursor is returned when modified cosine is requested but a
// precursor m/z is unknown for either spectrum.
var ErrMissingPrecursor = errors.New("scoring: modified cosine requires precursor m/z on both spectra")

// DefaultTolerance is the fragment matching tolerance in m/z units.
const DefaultTolerance = 0.005

// Metric names a similarity metric.
type Metric string

const (
	MetricCosine         Metric = "cosine"
	MetricModifiedCosine Metric = "modified_cosine"
	MetricVectorCosine   Metric = "vector_cosine"
)

// Cosine computes greedy cosine similarity between two spectra. Peaks are
// matched when their m/z differ by at most tolerance; matches are taken
// highest intensity-product first so each peak is used at most once.
// Returns 0 when either spectrum has no peaks.
func Cosine(a, b *models.Spectrum, tolerance float64) float64 {
	return matchedCosine(a.Peaks, b.Peaks, tolerance, 0)
}

// ModifiedCosine is Cosine with an additional allowed match offset: a peak
// at m/z x in a may match a peak at x or x+delta in b, where delta is the
// precursor m/z difference. Both precursor masses must be known.
func ModifiedCosine(a, b *models.Spectrum, tolerance float64) (float64, error) {
	pa, okA := a.Precursor()
	pb, okB := b.Precursor()
	if !okA || !okB {
		return 0, ErrMissingPrecursor
	}
	return matchedCosine(a.Peaks, b.Peaks, tolerance, pb-pa), nil
}

// VectorCosine computes cosine similarity between two sparse token-weight
// vectors. Returns 0 when either vector has zero magnitude.
func VectorCosine(a, b models.SparseVector) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	denom := utils.SparseNorm(a) * utils.SparseNorm(b)
	if denom == 0 {
		return 0
	}
	return clamp01(utils.SparseDot(a, b) / denom)
}

// Score dispatches on metric. Peak metrics read spectra; vector_cosine
// reads the precomputed vectors (both arguments must carry one).
func Score(a, b *models.Spectrum, vecA, vecB models.SparseVector, metric Metric, tolerance float64) (float64, error) {
	switch metric {
	case MetricCosine:
		return Cosine(a, b, tolerance), nil
	case MetricModifiedCosine:
		return ModifiedCosine(a, b, tolerance)
	case MetricVectorCosine:
		return VectorCosine(vecA, vecB), nil
	default:
		return 0, errors.New("scoring: unknown metric " + string(metric))
	}
}

// candidate is a potential peak pairing with its intensity product.
type candidate struct {
	i, j    int
	product float64
}

// matchedCosine runs the shared greedy matching. shift is the extra
// allowed offset (0 for plain cosine, precursor difference for modified).
func matchedCosine(peaksA, peaksB []models.Peak, tolerance, shift float64) float64 {
	if len(peaksA) == 0 || len(peaksB) == 0 {
		return 0
	}

	var candidates []candidate
	for i, pa := range peaksA {
		for j, pb := range peaksB {
			direct := math.Abs(pa.MZ-pb.MZ) <= tolerance
			shifted := shift != 0 && math.Abs(pa.MZ+shift-pb.MZ) <= tolerance
			if !direct && !shifted {
				continue
			}
			candidates = append(candidates, candidate{i: i, j: j, product: pa.Intensity * pb.Intensity})
		}
	}
	if len(candidates) == 0 {
		return 0
	}

	// Highest product first; index order breaks ties so scores are
	// reproducible across runs.
	sort.Slice(candidates, func(x, y int) bool {
		cx, cy := candidates[x], candidates[y]
		if cx.product != cy.product {
			return cx.product > cy.product
		}
		if cx.i != cy.i {
			return cx.i < cy.i
		}
		return cx.j < cy.j
	})

	usedA := make([]bool, len(peaksA))
	usedB := make([]bool, len(peaksB))
	var matched float64
	for _, c := range candidates {
		if usedA[c.i] || usedB[c.j] {
			continue
		}
		usedA[c.i] = true
		usedB[c.j] = true
		matched += c.product
	}

	var normA, normB float64
	for _, p := range peaksA {
		normA += p.Intensity * p.Intensity
	}
	for _, p := range peaksB {
		normB += p.Intensity * p.Intensity
	}
	denom := math.Sqrt(normA * normB)
	if denom == 0 {
		return 0
	}
	return clamp01(matched / denom)
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

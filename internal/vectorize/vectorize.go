// Package vectorize turns cleaned spectra into sparse token-weight vectors.
//
// Two strategies are provided: binned peaks (token per rounded m/z) and a
// hashed embedding that buckets binned tokens into a fixed dimension. An
// ONNX-backed embedding is available when built with CGO; the hashed
// embedding is its dependency-free fallback. All strategies are
// deterministic: the same spectrum always yields the same vector.
package vectorize

import (
	"fmt"
	"math"

	"github.com/hyperjump/ruiji/internal/models"
	"go.uber.org/zap"
)

// Metadata keys under which peak statistics are recorded at vectorization
// time. Raw peaks are not persisted, so curation reads these instead.
const (
	MetaPeakCount       = "peak_count"
	MetaTotalIonCurrent = "total_ion_current"
	MetaMaxPeakFraction = "max_peak_fraction"
)

// PeakStats summarizes the raw peak list of a spectrum. Captured once
// during vectorization because the vector alone cannot reproduce it.
type PeakStats struct {
	PeakCount       int     `json:"peak_count"`
	TotalIntensity  float64 `json:"total_intensity"`
	MaxPeakFraction float64 `json:"max_peak_fraction"`
}

// Vectorizer converts a spectrum into a sparse vector plus peak stats.
type Vectorizer interface {
	Vectorize(s *models.Spectrum) (models.SparseVector, PeakStats)
	Name() string
}

// Normalization selects how intensities are scaled before binning.
type Normalization string

const (
	// NormBasePeak divides intensities by the most intense peak.
	NormBasePeak Normalization = "base_peak"
	// NormTIC divides intensities by the total ion current.
	NormTIC Normalization = "tic"
	// NormNone uses raw intensities.
	NormNone Normalization = "none"
)

// Binned discretizes each peak into a token at a fixed m/z resolution.
// Colliding bins sum their weights. A zero-peak spectrum yields the
// empty vector.
type Binned struct {
	// Decimals is the m/z rounding precision (default 2).
	Decimals int
	// IntensityPower is applied to normalized intensities (default 0.5,
	// damping dominant peaks).
	IntensityPower float64
	// Normalization defaults to NormBasePeak.
	Normalization Normalization
}

// NewBinned returns a binned vectorizer with default settings.
func NewBinned() *Binned {
	return &Binned{Decimals: 2, IntensityPower: 0.5, Normalization: NormBasePeak}
}

// Name returns the strategy identifier.
func (b *Binned) Name() string { return "binned" }

// Vectorize produces peak@<mz> tokens weighted by scaled intensity.
func (b *Binned) Vectorize(s *models.Spectrum) (models.SparseVector, PeakStats) {
	stats := ComputeStats(s)
	vec := make(models.SparseVector, len(s.Peaks))
	if stats.PeakCount == 0 {
		return vec, stats
	}

	decimals := b.Decimals
	if decimals <= 0 {
		decimals = 2
	}
	power := b.IntensityPower
	if power == 0 {
		power = 0.5
	}

	scale := 1.0
	switch b.Normalization {
	case NormTIC:
		if stats.TotalIntensity > 0 {
			scale = 1.0 / stats.TotalIntensity
		}
	case NormNone:
	default:
		if base := basePeakIntensity(s.Peaks); base > 0 {
			scale = 1.0 / base
		}
	}

	for _, p := range s.Peaks {
		token := fmt.Sprintf("peak@%.*f", decimals, p.MZ)
		vec[token] += math.Pow(p.Intensity*scale, power)
	}
	return vec.Prune(), stats
}

// ComputeStats derives peak statistics from the raw peak list.
func ComputeStats(s *models.Spectrum) PeakStats {
	stats := PeakStats{PeakCount: len(s.Peaks)}
	var maxIntensity float64
	for _, p := range s.Peaks {
		stats.TotalIntensity += p.Intensity
		if p.Intensity > maxIntensity {
			maxIntensity = p.Intensity
		}
	}
	if stats.TotalIntensity > 0 {
		stats.MaxPeakFraction = maxIntensity / stats.TotalIntensity
	}
	return stats
}

// StatsToMetadata writes stats into an entry metadata map.
func StatsToMetadata(stats PeakStats, metadata map[string]interface{}) {
	metadata[MetaPeakCount] = stats.PeakCount
	metadata[MetaTotalIonCurrent] = stats.TotalIntensity
	metadata[MetaMaxPeakFraction] = stats.MaxPeakFraction
}

func basePeakIntensity(peaks []models.Peak) float64 {
	var max float64
	for _, p := range peaks {
		if p.Intensity > max {
			max = p.Intensity
		}
	}
	return max
}

// New creates a vectorizer by kind: "binned" (default), "embedding", or
// "onnx". The ONNX strategy requires CGO and a model file; when it cannot
// be initialized the hashed embedding is substituted with a warning so
// vectorization never hard-fails on a missing optional backend.
func New(kind, modelPath string, dimension int, logger *zap.Logger) (Vectorizer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch kind {
	case "binned", "":
		return NewBinned(), nil
	case "embedding":
		return NewEmbedding(dimension), nil
	case "onnx":
		v, err := NewONNX(modelPath, dimension)
		if err != nil {
			logger.Warn("ONNX vectorizer unavailable, using hashed embedding",
				zap.String("model", modelPath), zap.Error(err))
			return NewEmbedding(dimension), nil
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown vectorizer kind: %s (supported: binned, embedding, onnx)", kind)
	}
}

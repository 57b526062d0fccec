// Package models defines core data structures for spectra, library entries, and search hits.
package models

// Peak is a single fragment peak: m/z and intensity.
type Peak struct {
	MZ        float64 `json:"mz"`
	Intensity float64 `json:"intensity"`
}

// Spectrum is a cleaned MS/MS spectrum handed in by an external parser.
// The core reads it once and never stores the raw peaks.
type Spectrum struct {
	Peaks       []Peak                 `json:"peaks"`
	PrecursorMZ *float64               `json:"precursor_mz,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Precursor returns the precursor m/z and whether it is known.
func (s *Spectrum) Precursor() (float64, bool) {
	if s.PrecursorMZ == nil {
		return 0, false
	}
	return *s.PrecursorMZ, true
}

// SparseVector maps tokens (binned peaks or hashed features) to weights.
// Absent keys imply weight zero.
type SparseVector map[string]float64

// Prune removes zero-weight entries so that equality and persistence
// never depend on them.
func (v SparseVector) Prune() SparseVector {
	for k, w := range v {
		if w == 0 {
			delete(v, k)
		}
	}
	return v
}

// Clone returns a copy of the vector.
func (v SparseVector) Clone() SparseVector {
	out := make(SparseVector, len(v))
	for k, w := range v {
		out[k] = w
	}
	return out
}

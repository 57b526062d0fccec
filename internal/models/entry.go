package models

// LibraryEntry is the stored representation of a spectrum: identifier,
// optional precursor, metadata, and the precomputed sparse vector.
// Raw peaks are never persisted.
type LibraryEntry struct {
	Identifier  string                 `json:"identifier" db:"identifier"`
	PrecursorMZ *float64               `json:"precursor_mz,omitempty" db:"precursor_mz"`
	Metadata    map[string]interface{} `json:"metadata" db:"metadata"`
	Vector      SparseVector           `json:"vector" db:"vector"`
}

// Precursor returns the precursor m/z and whether it is known.
func (e *LibraryEntry) Precursor() (float64, bool) {
	if e.PrecursorMZ == nil {
		return 0, false
	}
	return *e.PrecursorMZ, true
}

// SearchHit is a single similarity search result. Ephemeral: produced per
// query, never persisted.
type SearchHit struct {
	Identifier  string                 `json:"identifier"`
	Score       float64                `json:"score"`
	PrecursorMZ *float64               `json:"precursor_mz,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

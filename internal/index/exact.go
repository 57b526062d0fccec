package index

import (
	"fmt"

	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/scoring"
)

// Exact is a brute-force backend computing vector cosine against every
// indexed entry. Always correct.
type Exact struct {
	entries []*models.LibraryEntry
}

// NewExact builds an exact index over a snapshot of entries.
func NewExact(entries []*models.LibraryEntry) *Exact {
	snapshot := make([]*models.LibraryEntry, len(entries))
	copy(snapshot, entries)
	return &Exact{entries: snapshot}
}

// Kind returns the backend identifier.
func (e *Exact) Kind() Kind { return KindExact }

// Size returns the number of indexed entries.
func (e *Exact) Size() int { return len(e.entries) }

// Search scans all entries.
func (e *Exact) Search(query models.SparseVector, topN int, minScore float64) ([]models.SearchHit, error) {
	if topN < 1 {
		return nil, fmt.Errorf("index: topN must be >= 1, got %d", topN)
	}
	hits := make([]models.SearchHit, 0, len(e.entries))
	for _, entry := range e.entries {
		hits = append(hits, hitFromEntry(entry, scoring.VectorCosine(query, entry.Vector)))
	}
	return rankHits(hits, topN, minScore), nil
}

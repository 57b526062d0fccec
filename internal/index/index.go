// Package index provides nearest-neighbor search over library vectors.
//
// Two backends implement the same contract: an exact linear scan and an
// approximate random-hyperplane tree forest. Both are built from an entry
// snapshot, so a removed entry can never surface from an index built
// after the removal; callers needing freshness rebuild after mutating
// the library.
package index

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/hyperjump/ruiji/internal/models"
)

// ErrBackendUnavailable is returned when an approximate backend cannot be
// constructed; the factory degrades to the exact scan instead of failing
// the whole operation.
var ErrBackendUnavailable = errors.New("index: approximate backend unavailable")

// Kind identifies a search backend.
type Kind string

const (
	// KindExact scans every vector; always correct, O(n) per query.
	KindExact Kind = "exact"
	// KindAnnoy uses a tree forest; approximate candidate recall, exact
	// scores on the candidates it returns.
	KindAnnoy Kind = "annoy"
)

// Index answers top-N similarity queries over a fixed entry snapshot.
type Index interface {
	// Search returns hits with score >= minScore, sorted by score
	// descending with ties broken by identifier ascending, truncated to
	// topN after filtering. topN must be >= 1.
	Search(query models.SparseVector, topN int, minScore float64) ([]models.SearchHit, error)
	// Size returns the number of indexed entries.
	Size() int
	// Kind reports which backend answered.
	Kind() Kind
}

// New builds an index of the requested kind over the entries. When the
// approximate backend is unavailable (too few entries, empty vocabulary)
// it falls back to the exact scan with a warning rather than erroring.
func New(kind Kind, entries []*models.LibraryEntry, logger *zap.Logger) (Index, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch kind {
	case KindExact, "":
		return NewExact(entries), nil
	case KindAnnoy:
		idx, err := NewAnnoy(entries)
		if err != nil {
			if errors.Is(err, ErrBackendUnavailable) {
				logger.Warn("approximate index unavailable, using exact scan",
					zap.Int("entries", len(entries)), zap.Error(err))
				return NewExact(entries), nil
			}
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unknown index kind: %s (supported: exact, annoy)", kind)
	}
}

// rankHits applies the shared filter/sort/truncate contract.
func rankHits(hits []models.SearchHit, topN int, minScore float64) []models.SearchHit {
	filtered := hits[:0]
	for _, h := range hits {
		if h.Score >= minScore {
			filtered = append(filtered, h)
		}
	}
	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].Score != filtered[j].Score {
			return filtered[i].Score > filtered[j].Score
		}
		return filtered[i].Identifier < filtered[j].Identifier
	})
	if len(filtered) > topN {
		filtered = filtered[:topN]
	}
	return filtered
}

func hitFromEntry(e *models.LibraryEntry, score float64) models.SearchHit {
	return models.SearchHit{
		Identifier:  e.Identifier,
		Score:       score,
		PrecursorMZ: e.PrecursorMZ,
		Metadata:    e.Metadata,
	}
}

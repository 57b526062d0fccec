package vectorize

import (
	"crypto/sha1"
	"encoding/binary"
	"fmt"

	"github.com/hyperjump/ruiji/internal/models"
)

// DefaultEmbeddingDimension is the hashed bucket count when unset.
const DefaultEmbeddingDimension = 64

// Embedding maps binned peak tokens into a fixed number of hashed buckets,
// emitting <model>:<bucket> tokens. It satisfies the same cosine contract
// as Binned and stays a pure function so it can stand in whenever a
// learned-model backend is unavailable.
type Embedding struct {
	Model     string
	Dimension int

	binned *Binned
}

// NewEmbedding returns a hashed embedding vectorizer.
func NewEmbedding(dimension int) *Embedding {
	if dimension <= 0 {
		dimension = DefaultEmbeddingDimension
	}
	return &Embedding{Model: "spec-hash", Dimension: dimension, binned: NewBinned()}
}

// Name returns the strategy identifier.
func (e *Embedding) Name() string { return "embedding" }

// Vectorize bins the spectrum first, then folds tokens into hashed buckets.
func (e *Embedding) Vectorize(s *models.Spectrum) (models.SparseVector, PeakStats) {
	binnedVec, stats := e.binned.Vectorize(s)
	dense := make([]float64, e.Dimension)
	for token, weight := range binnedVec {
		dense[bucketIndex(token, e.Dimension)] += weight
	}
	vec := make(models.SparseVector)
	for i, w := range dense {
		if w != 0 {
			vec[fmt.Sprintf("%s:%d", e.Model, i)] = w
		}
	}
	return vec, stats
}

// bucketIndex hashes a token into [0, dimension). SHA-1 keeps bucket
// assignment stable across runs and platforms.
func bucketIndex(token string, dimension int) int {
	digest := sha1.Sum([]byte(token))
	if dimension < 1 {
		dimension = 1
	}
	return int(binary.BigEndian.Uint32(digest[:4]) % uint32(dimension))
}

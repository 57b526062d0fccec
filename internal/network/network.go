// Package network builds similarity graphs over spectra or library
// entries. Exactly one edge policy applies per build: a score threshold
// or per-node k nearest neighbors.
package network

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/scoring"
	"github.com/hyperjump/ruiji/internal/vectorize"
)

// ErrInvalidPolicy is returned when both or neither of threshold and knn
// are specified. Caught before any scoring begins.
var ErrInvalidPolicy = errors.New("network: specify exactly one of threshold or knn")

// Node is a spectrum in the similarity graph. Spectrum is present when
// the node came from raw spectra (required for peak metrics); Vector is
// present when it came from a library or a vectorizer.
type Node struct {
	Identifier  string                 `json:"identifier"`
	PrecursorMZ *float64               `json:"precursor_mz,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Spectrum    *models.Spectrum       `json:"-"`
	Vector      models.SparseVector    `json:"-"`
}

// Edge connects two nodes with their similarity score. For undirected
// graphs at most one edge exists per unordered pair.
type Edge struct {
	Source string         `json:"source"`
	Target string         `json:"target"`
	Score  float64        `json:"score"`
	Metric scoring.Metric `json:"metric"`
}

// Policy selects the edge construction rule.
type Policy struct {
	Threshold  *float64
	KNN        *int
	Undirected bool
}

// ThresholdPolicy keeps edges with score >= t.
func ThresholdPolicy(t float64, undirected bool) Policy {
	return Policy{Threshold: &t, Undirected: undirected}
}

// KNNPolicy keeps each node's k highest-scoring neighbors.
func KNNPolicy(k int, undirected bool) Policy {
	return Policy{KNN: &k, Undirected: undirected}
}

func (p Policy) validate() error {
	if (p.Threshold == nil) == (p.KNN == nil) {
		return ErrInvalidPolicy
	}
	if p.KNN != nil && *p.KNN <= 0 {
		return fmt.Errorf("%w: knn requires k > 0", ErrInvalidPolicy)
	}
	return nil
}

// Builder constructs similarity graphs.
type Builder struct {
	tolerance float64
	workers   int
	logger    *zap.Logger
}

// NewBuilder returns a builder with the given fragment tolerance for peak
// metrics and worker count for pairwise scoring (<= 0 uses GOMAXPROCS).
func NewBuilder(tolerance float64, workers int, logger *zap.Logger) *Builder {
	if tolerance <= 0 {
		tolerance = scoring.DefaultTolerance
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{tolerance: tolerance, workers: workers, logger: logger}
}

// Build scores all node pairs under metric and applies the policy.
// The policy is validated before any scoring begins.
func (b *Builder) Build(ctx context.Context, nodes []*Node, metric scoring.Metric, policy Policy) ([]*Node, []Edge, error) {
	if err := policy.validate(); err != nil {
		return nil, nil, err
	}

	scores, err := b.pairwiseScores(ctx, nodes, metric)
	if err != nil {
		return nil, nil, err
	}

	var edges []Edge
	if policy.Threshold != nil {
		edges = thresholdEdges(nodes, scores, metric, *policy.Threshold, policy.Undirected)
	} else {
		edges = knnEdges(nodes, scores, metric, *policy.KNN, policy.Undirected)
	}
	b.logger.Info("built similarity network",
		zap.Int("nodes", len(nodes)),
		zap.Int("edges", len(edges)),
		zap.String("metric", string(metric)))
	return nodes, edges, nil
}

// NodesFromEntries wraps library entries as graph nodes.
func NodesFromEntries(entries []*models.LibraryEntry) []*Node {
	nodes := make([]*Node, len(entries))
	for i, e := range entries {
		nodes[i] = &Node{
			Identifier:  e.Identifier,
			PrecursorMZ: e.PrecursorMZ,
			Metadata:    e.Metadata,
			Vector:      e.Vector,
		}
	}
	return nodes
}

// NodesFromSpectra wraps spectra as graph nodes, vectorizing each so both
// peak and vector metrics work. Identifiers come from metadata, falling
// back to the position in the input.
func NodesFromSpectra(ctx context.Context, spectra []*models.Spectrum, v vectorize.Vectorizer, workers int) ([]*Node, error) {
	results, err := vectorize.Batch(ctx, spectra, v, workers)
	if err != nil {
		return nil, err
	}
	nodes := make([]*Node, len(spectra))
	for i, s := range spectra {
		nodes[i] = &Node{
			Identifier:  spectrumIdentifier(s, i),
			PrecursorMZ: s.PrecursorMZ,
			Metadata:    s.Metadata,
			Spectrum:    s,
			Vector:      results[i].Vector,
		}
	}
	return nodes, nil
}

func spectrumIdentifier(s *models.Spectrum, position int) string {
	for _, key := range []string{"name", "compound_name", "spectrum_id"} {
		if v, ok := s.Metadata[key]; ok {
			if str, ok := v.(string); ok && str != "" {
				return str
			}
		}
	}
	return fmt.Sprintf("spectrum-%d", position)
}

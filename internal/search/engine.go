// Package search wires the library, vectorizer, similarity index, and
// keyword index into the operations the server and CLI expose.
package search

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/ruiji/internal/config"
	"github.com/hyperjump/ruiji/internal/curation"
	"github.com/hyperjump/ruiji/internal/index"
	"github.com/hyperjump/ruiji/internal/keyword"
	"github.com/hyperjump/ruiji/internal/library"
	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/network"
	"github.com/hyperjump/ruiji/internal/scoring"
	"github.com/hyperjump/ruiji/internal/vectorize"
)

// Engine coordinates the library and its derived indexes. The similarity
// index is immutable once built; writes go to the library and the index
// is rebuilt and swapped under a lock.
type Engine struct {
	cfg        *config.Config
	library    *library.Library
	vectorizer vectorize.Vectorizer
	keyword    *keyword.BleveIndex
	logger     *zap.Logger

	mu  sync.RWMutex
	idx index.Index
}

// NewEngine builds an engine and its initial similarity index from the
// current library contents. The keyword index may be nil.
func NewEngine(cfg *config.Config, lib *library.Library, v vectorize.Vectorizer, kw *keyword.BleveIndex, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:        cfg,
		library:    lib,
		vectorizer: v,
		keyword:    kw,
		logger:     logger,
	}
	if err := e.Rebuild(context.Background()); err != nil {
		return nil, err
	}
	return e, nil
}

// Rebuild reconstructs the similarity index from a library snapshot and
// swaps it in atomically.
func (e *Engine) Rebuild(ctx context.Context) error {
	entries, err := e.library.Entries(ctx)
	if err != nil {
		return fmt.Errorf("load entries: %w", err)
	}
	idx, err := index.New(index.Kind(e.cfg.Search.IndexKind), entries, e.logger)
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}
	e.mu.Lock()
	e.idx = idx
	e.mu.Unlock()
	e.logger.Debug("similarity index rebuilt",
		zap.Int("entries", idx.Size()),
		zap.String("kind", string(idx.Kind())))
	return nil
}

// AddSpectrum stores a spectrum and refreshes the derived indexes.
func (e *Engine) AddSpectrum(ctx context.Context, s *models.Spectrum, overwrite bool) (*models.LibraryEntry, error) {
	entry, err := e.library.AddSpectrum(ctx, s, e.vectorizer, overwrite)
	if err != nil {
		return nil, err
	}
	if e.keyword != nil {
		if err := e.keyword.Index(ctx, entry); err != nil {
			e.logger.Warn("keyword indexing failed", zap.String("identifier", entry.Identifier), zap.Error(err))
		}
	}
	if err := e.Rebuild(ctx); err != nil {
		return nil, err
	}
	return entry, nil
}

// GetEntry returns a stored entry by identifier.
func (e *Engine) GetEntry(ctx context.Context, identifier string) (*models.LibraryEntry, error) {
	return e.library.Get(ctx, identifier)
}

// RemoveEntry deletes an entry and refreshes the derived indexes.
// Returns false when the identifier was absent.
func (e *Engine) RemoveEntry(ctx context.Context, identifier string) (bool, error) {
	removed, err := e.library.Remove(ctx, identifier)
	if err != nil || !removed {
		return removed, err
	}
	if e.keyword != nil {
		if err := e.keyword.Delete(ctx, identifier); err != nil {
			e.logger.Warn("keyword delete failed", zap.String("identifier", identifier), zap.Error(err))
		}
	}
	if err := e.Rebuild(ctx); err != nil {
		return true, err
	}
	return true, nil
}

// Search vectorizes the query spectrum and runs a similarity search.
func (e *Engine) Search(ctx context.Context, query *models.Spectrum, topN int, minScore float64) ([]models.SearchHit, error) {
	vector, _ := e.vectorizer.Vectorize(query)
	return e.SearchVector(ctx, vector, topN, minScore)
}

// SearchVector searches with an already-vectorized query.
func (e *Engine) SearchVector(ctx context.Context, query models.SparseVector, topN int, minScore float64) ([]models.SearchHit, error) {
	if topN <= 0 {
		topN = e.cfg.Search.DefaultTopN
	}
	if topN > e.cfg.Search.MaxTopN {
		topN = e.cfg.Search.MaxTopN
	}
	e.mu.RLock()
	idx := e.idx
	e.mu.RUnlock()
	return idx.Search(query, topN, minScore)
}

// KeywordSearch finds entries by metadata text.
func (e *Engine) KeywordSearch(ctx context.Context, query string, limit int) ([]*keyword.Result, error) {
	if e.keyword == nil {
		return nil, fmt.Errorf("keyword index not configured")
	}
	return e.keyword.Search(ctx, query, limit)
}

// ParseMetric maps a metric name from a request or config to its type.
func ParseMetric(name string) (scoring.Metric, error) {
	switch scoring.Metric(name) {
	case scoring.MetricCosine, scoring.MetricModifiedCosine, scoring.MetricVectorCosine:
		return scoring.Metric(name), nil
	case "":
		return scoring.MetricVectorCosine, nil
	default:
		return "", fmt.Errorf("unknown metric %q", name)
	}
}

// BuildNetwork builds a similarity network over the whole library. Stored
// entries carry vectors but not raw peaks, so only the vector metric is
// available here; peak metrics need BuildNetworkFromSpectra.
func (e *Engine) BuildNetwork(ctx context.Context, metric scoring.Metric, policy network.Policy) ([]*network.Node, []network.Edge, error) {
	if metric != scoring.MetricVectorCosine {
		return nil, nil, fmt.Errorf("metric %q requires raw spectra, library networks use %q", metric, scoring.MetricVectorCosine)
	}
	entries, err := e.library.Entries(ctx)
	if err != nil {
		return nil, nil, err
	}
	b := network.NewBuilder(e.cfg.Search.FragmentTolerance, e.cfg.Network.Workers, e.logger)
	return b.Build(ctx, network.NodesFromEntries(entries), metric, policy)
}

// BuildNetworkFromSpectra builds a network over caller-supplied spectra,
// supporting peak metrics.
func (e *Engine) BuildNetworkFromSpectra(ctx context.Context, spectra []*models.Spectrum, metric scoring.Metric, policy network.Policy) ([]*network.Node, []network.Edge, error) {
	nodes, err := network.NodesFromSpectra(ctx, spectra, e.vectorizer, e.cfg.Vectorizer.Workers)
	if err != nil {
		return nil, nil, err
	}
	b := network.NewBuilder(e.cfg.Search.FragmentTolerance, e.cfg.Network.Workers, e.logger)
	return b.Build(ctx, nodes, metric, policy)
}

// Curate runs the quality and duplicate analysis over the library. With
// apply=true, dropped and collapsed entries are removed from the library
// and the indexes are rebuilt; otherwise the report is a dry run.
func (e *Engine) Curate(ctx context.Context, apply bool) (curation.Report, error) {
	entries, err := e.library.Entries(ctx)
	if err != nil {
		return curation.Report{}, err
	}
	thresholds := curation.QualityThresholds{
		MinPeaks:           e.cfg.Curation.MinPeaks,
		MinTotalIonCurrent: e.cfg.Curation.MinTotalIonCurrent,
		MaxPeakDominance:   e.cfg.Curation.MaxPeakDominance,
	}
	criteria := curation.DuplicateCriteria{
		PrecursorTolerance: e.cfg.Curation.PrecursorTolerance,
		MinSimilarity:      e.cfg.Curation.MinSimilarity,
	}
	report := curation.Curate(entries, thresholds, criteria, e.logger)
	if !apply {
		return report, nil
	}

	keep := make(map[string]bool, len(report.KeptIDs))
	for _, id := range report.KeptIDs {
		keep[id] = true
	}
	for _, entry := range entries {
		if keep[entry.Identifier] {
			continue
		}
		if _, err := e.library.Remove(ctx, entry.Identifier); err != nil {
			return report, fmt.Errorf("remove %s: %w", entry.Identifier, err)
		}
		if e.keyword != nil {
			if err := e.keyword.Delete(ctx, entry.Identifier); err != nil {
				e.logger.Warn("keyword delete failed", zap.String("identifier", entry.Identifier), zap.Error(err))
			}
		}
	}
	if err := e.Rebuild(ctx); err != nil {
		return report, err
	}
	return report, nil
}

// Status summarizes the engine state for health reporting.
type Status struct {
	Entries       int64  `json:"entries"`
	IndexKind     string `json:"index_kind"`
	IndexSize     int    `json:"index_size"`
	SchemaVersion string `json:"schema_version"`
	Vectorizer    string `json:"vectorizer"`
	LibraryPath   string `json:"library_path"`
}

// Status reports entry counts and index state.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	count, err := e.library.Count(ctx)
	if err != nil {
		return Status{}, err
	}
	version, err := e.library.SchemaVersion(ctx)
	if err != nil {
		return Status{}, err
	}
	e.mu.RLock()
	idx := e.idx
	e.mu.RUnlock()
	return Status{
		Entries:       count,
		IndexKind:     string(idx.Kind()),
		IndexSize:     idx.Size(),
		SchemaVersion: version,
		Vectorizer:    e.vectorizer.Name(),
		LibraryPath:   e.library.Path(),
	}, nil
}

// Close releases the engine's resources.
func (e *Engine) Close() error {
	var firstErr error
	if e.keyword != nil {
		if err := e.keyword.Close(); err != nil {
			firstErr = err
		}
	}
	if err := e.library.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Package curation assesses library entry quality, groups near-duplicate
// entries, and produces a curated entry set.
package curation

import (
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/scoring"
	"github.com/hyperjump/ruiji/internal/vectorize"
)

// Quality issue labels attached to entries that fail a check.
const (
	IssueMissingPrecursorMZ  = "missing_precursor_mz"
	IssueTooFewPeaks         = "too_few_peaks"
	IssueLowTotalIonCurrent  = "low_total_ion_current"
	IssueSinglePeakDominance = "single_peak_dominance"
)

// QualityThresholds parameterize the per-entry checks. Zero values fall
// back to the defaults below.
type QualityThresholds struct {
	MinPeaks           int     `yaml:"min_peaks"`
	MinTotalIonCurrent float64 `yaml:"min_total_ion_current"`
	MaxPeakDominance   float64 `yaml:"max_peak_dominance"`
}

// DefaultThresholds mirror typical reference-library hygiene settings.
func DefaultThresholds() QualityThresholds {
	return QualityThresholds{
		MinPeaks:           5,
		MinTotalIonCurrent: 1e-6,
		MaxPeakDominance:   0.99,
	}
}

func (t QualityThresholds) normalized() QualityThresholds {
	d := DefaultThresholds()
	if t.MinPeaks <= 0 {
		t.MinPeaks = d.MinPeaks
	}
	if t.MinTotalIonCurrent <= 0 {
		t.MinTotalIonCurrent = d.MinTotalIonCurrent
	}
	if t.MaxPeakDominance <= 0 {
		t.MaxPeakDominance = d.MaxPeakDominance
	}
	return t
}

// QualityResult reports the outcome of the quality checks for one entry,
// together with the measured statistics the checks ran against. Score is
// the fraction of checks passed, in [0,1].
type QualityResult struct {
	Identifier      string   `json:"identifier"`
	PeakCount       int      `json:"peak_count"`
	TotalIntensity  float64  `json:"total_intensity"`
	MaxPeakFraction float64  `json:"max_peak_fraction"`
	HasPrecursor    bool     `json:"has_precursor"`
	Score           float64  `json:"score"`
	Issues          []string `json:"issues,omitempty"`
}

// Passed reports whether every check succeeded.
func (r QualityResult) Passed() bool { return len(r.Issues) == 0 }

// AssessQuality runs the quality checks on a single entry. Peak stats
// are read from the metadata written at vectorization time, falling back
// to values derived from the sparse vector.
func AssessQuality(e *models.LibraryEntry, thresholds QualityThresholds) QualityResult {
	t := thresholds.normalized()
	stats := entryStats(e)

	_, hasPrecursor := e.Precursor()
	result := QualityResult{
		Identifier:      e.Identifier,
		PeakCount:       stats.PeakCount,
		TotalIntensity:  stats.TotalIntensity,
		MaxPeakFraction: stats.MaxPeakFraction,
		HasPrecursor:    hasPrecursor,
	}
	checks := 0
	fail := func(issue string) {
		result.Issues = append(result.Issues, issue)
	}

	checks++
	if !hasPrecursor {
		fail(IssueMissingPrecursorMZ)
	}
	checks++
	if stats.PeakCount < t.MinPeaks {
		fail(IssueTooFewPeaks)
	}
	checks++
	if stats.TotalIntensity < t.MinTotalIonCurrent {
		fail(IssueLowTotalIonCurrent)
	}
	checks++
	if stats.MaxPeakFraction > t.MaxPeakDominance {
		fail(IssueSinglePeakDominance)
	}

	result.Score = float64(checks-len(result.Issues)) / float64(checks)
	return result
}

// entryStats recovers peak statistics for an entry. Metadata written by
// the vectorizer wins; otherwise the sparse vector stands in for the
// peak list, which is exact for unnormalized vectors and a usable
// approximation otherwise.
func entryStats(e *models.LibraryEntry) vectorize.PeakStats {
	stats := vectorize.PeakStats{}
	fromMeta := false
	if v, ok := metaFloat(e.Metadata, vectorize.MetaPeakCount); ok {
		stats.PeakCount = int(v)
		fromMeta = true
	}
	if v, ok := metaFloat(e.Metadata, vectorize.MetaTotalIonCurrent); ok {
		stats.TotalIntensity = v
		fromMeta = true
	}
	if v, ok := metaFloat(e.Metadata, vectorize.MetaMaxPeakFraction); ok {
		stats.MaxPeakFraction = v
		fromMeta = true
	}
	if fromMeta {
		return stats
	}

	var total, max float64
	for _, w := range e.Vector {
		total += w
		if w > max {
			max = w
		}
	}
	stats.PeakCount = len(e.Vector)
	stats.TotalIntensity = total
	if total > 0 {
		stats.MaxPeakFraction = max / total
	}
	return stats
}

// metaFloat reads a numeric metadata value. JSON decoding widens ints to
// float64, so both forms appear in practice.
func metaFloat(meta map[string]interface{}, key string) (float64, bool) {
	if meta == nil {
		return 0, false
	}
	switch v := meta[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// DuplicateGroup collects entries judged to be the same spectrum. The
// representative is the member with the highest quality score, ties
// broken by identifier.
type DuplicateGroup struct {
	Representative string   `json:"representative"`
	Members        []string `json:"members"`
}

// DuplicateCriteria control when two entries count as duplicates: their
// precursors must agree within PrecursorTolerance (or both be absent)
// and their vectors must score at least MinSimilarity.
type DuplicateCriteria struct {
	PrecursorTolerance float64 `yaml:"precursor_tolerance"`
	MinSimilarity      float64 `yaml:"min_similarity"`
}

// DefaultCriteria returns the standard duplicate-detection settings.
func DefaultCriteria() DuplicateCriteria {
	return DuplicateCriteria{PrecursorTolerance: 0.01, MinSimilarity: 0.95}
}

// DetectDuplicateGroups partitions entries into duplicate groups of two
// or more members using a union-find over entry positions. Singleton
// entries are not reported.
func DetectDuplicateGroups(entries []*models.LibraryEntry, criteria DuplicateCriteria, thresholds QualityThresholds) []DuplicateGroup {
	uf := newUnionFind(len(entries))
	for i := range entries {
		for j := i + 1; j < len(entries); j++ {
			if areDuplicates(entries[i], entries[j], criteria) {
				uf.union(i, j)
			}
		}
	}

	components := map[int][]int{}
	for i := range entries {
		root := uf.find(i)
		components[root] = append(components[root], i)
	}

	groups := []DuplicateGroup{}
	for _, member := range components {
		if len(member) < 2 {
			continue
		}
		ids := make([]string, len(member))
		for k, idx := range member {
			ids[k] = entries[idx].Identifier
		}
		sort.Strings(ids)
		groups = append(groups, DuplicateGroup{
			Representative: pickRepresentative(entries, member, thresholds),
			Members:        ids,
		})
	}
	sort.Slice(groups, func(a, b int) bool {
		return groups[a].Representative < groups[b].Representative
	})
	return groups
}

func areDuplicates(a, b *models.LibraryEntry, criteria DuplicateCriteria) bool {
	pa, okA := a.Precursor()
	pb, okB := b.Precursor()
	switch {
	case okA && okB:
		if math.Abs(pa-pb) > criteria.PrecursorTolerance {
			return false
		}
	case okA != okB:
		return false
	}
	return scoring.VectorCosine(a.Vector, b.Vector) >= criteria.MinSimilarity
}

func pickRepresentative(entries []*models.LibraryEntry, member []int, thresholds QualityThresholds) string {
	best := ""
	bestScore := -1.0
	for _, idx := range member {
		r := AssessQuality(entries[idx], thresholds)
		if r.Score > bestScore || (r.Score == bestScore && r.Identifier < best) {
			best = r.Identifier
			bestScore = r.Score
		}
	}
	return best
}

// unionFind over a fixed index arena with path halving and union by size.
type unionFind struct {
	parent []int
	size   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), size: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
		uf.size[i] = 1
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	if uf.size[ra] < uf.size[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	uf.size[ra] += uf.size[rb]
}

// Curation actions recorded per entry.
const (
	ActionKeep  = "keep"
	ActionDrop  = "drop"
	ActionMerge = "merge"
)

// Reasons attached to non-trivial decisions.
const (
	ReasonDuplicate      = "duplicate"
	ReasonRepresentative = "representative_duplicate"
)

// CurationDecision records the action taken on a single entry. Merge
// decisions name the representative they were folded into; the
// representative's own keep decision lists the folded identifiers.
type CurationDecision struct {
	Identifier     string   `json:"identifier"`
	Action         string   `json:"action"`
	Reason         string   `json:"reason,omitempty"`
	Representative string   `json:"representative,omitempty"`
	MergedIDs      []string `json:"merged_ids,omitempty"`
	Score          float64  `json:"score"`
}

// Report is the outcome of a curation run.
type Report struct {
	Kept      []*models.LibraryEntry `json:"-"`
	KeptIDs   []string               `json:"kept"`
	Dropped   []QualityResult        `json:"dropped"`
	Merged    []DuplicateGroup       `json:"merged"`
	Decisions []CurationDecision     `json:"decisions"`
}

// Curate drops entries that fail the quality checks, then collapses
// duplicate groups among the survivors to their representatives. Dropped
// entries never participate in duplicate detection.
func Curate(entries []*models.LibraryEntry, thresholds QualityThresholds, criteria DuplicateCriteria, logger *zap.Logger) Report {
	if logger == nil {
		logger = zap.NewNop()
	}

	report := Report{}
	quality := make(map[string]QualityResult, len(entries))
	survivors := make([]*models.LibraryEntry, 0, len(entries))
	for _, e := range entries {
		r := AssessQuality(e, thresholds)
		quality[e.Identifier] = r
		if r.Passed() {
			survivors = append(survivors, e)
			continue
		}
		report.Dropped = append(report.Dropped, r)
		report.Decisions = append(report.Decisions, CurationDecision{
			Identifier: e.Identifier,
			Action:     ActionDrop,
			Reason:     strings.Join(r.Issues, ";"),
			Score:      r.Score,
		})
	}

	report.Merged = DetectDuplicateGroups(survivors, criteria, thresholds)
	collapsed := map[string]string{}
	merged := map[string][]string{}
	for _, g := range report.Merged {
		for _, id := range g.Members {
			if id != g.Representative {
				collapsed[id] = g.Representative
				merged[g.Representative] = append(merged[g.Representative], id)
			}
		}
	}

	for _, e := range survivors {
		if rep, ok := collapsed[e.Identifier]; ok {
			report.Decisions = append(report.Decisions, CurationDecision{
				Identifier:     e.Identifier,
				Action:         ActionMerge,
				Reason:         ReasonDuplicate,
				Representative: rep,
				Score:          quality[e.Identifier].Score,
			})
			continue
		}
		report.Kept = append(report.Kept, e)
		report.KeptIDs = append(report.KeptIDs, e.Identifier)
		decision := CurationDecision{
			Identifier: e.Identifier,
			Action:     ActionKeep,
			Score:      quality[e.Identifier].Score,
		}
		if folded := merged[e.Identifier]; len(folded) > 0 {
			sort.Strings(folded)
			decision.Reason = ReasonRepresentative
			decision.Representative = e.Identifier
			decision.MergedIDs = folded
		}
		report.Decisions = append(report.Decisions, decision)
	}

	logger.Info("curation complete",
		zap.Int("input", len(entries)),
		zap.Int("kept", len(report.Kept)),
		zap.Int("dropped", len(report.Dropped)),
		zap.Int("merged_groups", len(report.Merged)))
	return report
}

package curation

import (
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/vectorize"
)

func fptr(v float64) *float64 { return &v }

func goodMetadata(peaks int, tic, dominance float64) map[string]interface{} {
	return map[string]interface{}{
		vectorize.MetaPeakCount:       float64(peaks),
		vectorize.MetaTotalIonCurrent: tic,
		vectorize.MetaMaxPeakFraction: dominance,
	}
}

func TestAssessQuality_AllChecksPass(t *testing.T) {
	e := &models.LibraryEntry{
		Identifier:  "good",
		PrecursorMZ: fptr(250.0),
		Metadata:    goodMetadata(12, 5.0, 0.4),
		Vector:      models.SparseVector{"peak@100.00": 1},
	}
	r := AssessQuality(e, QualityThresholds{})
	if !r.Passed() || r.Score != 1.0 {
		t.Fatalf("expected clean pass, got %+v", r)
	}
}

func TestAssessQuality_ReportsMeasuredStats(t *testing.T) {
	e := &models.LibraryEntry{
		Identifier:  "measured",
		PrecursorMZ: fptr(250.0),
		Metadata:    goodMetadata(12, 5.0, 0.4),
		Vector:      models.SparseVector{"peak@100.00": 1},
	}
	r := AssessQuality(e, QualityThresholds{})
	if r.PeakCount != 12 || r.TotalIntensity != 5.0 || r.MaxPeakFraction != 0.4 {
		t.Fatalf("stats not carried through, got %+v", r)
	}
	if !r.HasPrecursor {
		t.Fatalf("expected HasPrecursor, got %+v", r)
	}

	e.PrecursorMZ = nil
	if r := AssessQuality(e, QualityThresholds{}); r.HasPrecursor {
		t.Fatalf("expected HasPrecursor false, got %+v", r)
	}
}

func TestAssessQuality_ScoreIsFractionOfChecks(t *testing.T) {
	e := &models.LibraryEntry{
		Identifier: "poor",
		Metadata:   goodMetadata(2, 5.0, 0.4),
		Vector:     models.SparseVector{"peak@100.00": 1},
	}
	r := AssessQuality(e, QualityThresholds{})
	if r.Score != 0.5 {
		t.Fatalf("two of four checks failed, want score 0.5, got %f", r.Score)
	}
	wantIssues := map[string]bool{IssueMissingPrecursorMZ: true, IssueTooFewPeaks: true}
	if len(r.Issues) != 2 || !wantIssues[r.Issues[0]] || !wantIssues[r.Issues[1]] {
		t.Fatalf("unexpected issues %v", r.Issues)
	}
}

func TestAssessQuality_DominanceAndTIC(t *testing.T) {
	e := &models.LibraryEntry{
		Identifier:  "dominated",
		PrecursorMZ: fptr(100.0),
		Metadata:    goodMetadata(10, 1e-9, 0.995),
	}
	r := AssessQuality(e, QualityThresholds{})
	if r.Score != 0.5 {
		t.Fatalf("want score 0.5, got %+v", r)
	}
}

func TestAssessQuality_FallsBackToVector(t *testing.T) {
	e := &models.LibraryEntry{
		Identifier:  "no-meta",
		PrecursorMZ: fptr(100.0),
		Vector: models.SparseVector{
			"peak@100.00": 0.5, "peak@101.00": 0.5, "peak@102.00": 0.5,
			"peak@103.00": 0.5, "peak@104.00": 0.5, "peak@105.00": 0.5,
		},
	}
	r := AssessQuality(e, QualityThresholds{})
	if !r.Passed() {
		t.Fatalf("vector-derived stats should pass, got %+v", r)
	}
}

func TestDetectDuplicateGroups_NearPrecursorHighSimilarity(t *testing.T) {
	entries := []*models.LibraryEntry{
		{Identifier: "A", PrecursorMZ: fptr(100.0), Vector: models.SparseVector{"m1": 1.0}},
		{Identifier: "B", PrecursorMZ: fptr(100.05), Vector: models.SparseVector{"m1": 0.98, "m2": 0.2}},
	}
	criteria := DuplicateCriteria{PrecursorTolerance: 0.1, MinSimilarity: 0.95}
	groups := DetectDuplicateGroups(entries, criteria, QualityThresholds{})
	if len(groups) != 1 {
		t.Fatalf("expected one duplicate group, got %+v", groups)
	}
	if len(groups[0].Members) != 2 {
		t.Fatalf("expected both entries grouped, got %+v", groups[0])
	}
}

func TestDetectDuplicateGroups_PrecursorGapSeparates(t *testing.T) {
	entries := []*models.LibraryEntry{
		{Identifier: "A", PrecursorMZ: fptr(100.0), Vector: models.SparseVector{"m1": 1.0}},
		{Identifier: "B", PrecursorMZ: fptr(105.0), Vector: models.SparseVector{"m1": 1.0}},
	}
	groups := DetectDuplicateGroups(entries, DefaultCriteria(), QualityThresholds{})
	if len(groups) != 0 {
		t.Fatalf("distant precursors must not group, got %+v", groups)
	}
}

func TestDetectDuplicateGroups_BothMissingPrecursor(t *testing.T) {
	entries := []*models.LibraryEntry{
		{Identifier: "A", Vector: models.SparseVector{"m1": 1.0}},
		{Identifier: "B", Vector: models.SparseVector{"m1": 1.0}},
		{Identifier: "C", PrecursorMZ: fptr(100.0), Vector: models.SparseVector{"m1": 1.0}},
	}
	groups := DetectDuplicateGroups(entries, DefaultCriteria(), QualityThresholds{})
	if len(groups) != 1 {
		t.Fatalf("expected one group, got %+v", groups)
	}
	if len(groups[0].Members) != 2 || groups[0].Members[0] != "A" || groups[0].Members[1] != "B" {
		t.Fatalf("present precursor must not join absent pair, got %+v", groups[0])
	}
}

func TestDetectDuplicateGroups_TransitiveChain(t *testing.T) {
	// A~B and B~C links merge all three into one group even if A and C
	// alone would not qualify.
	entries := []*models.LibraryEntry{
		{Identifier: "A", PrecursorMZ: fptr(100.00), Vector: models.SparseVector{"m1": 1.0, "m2": 0.3}},
		{Identifier: "B", PrecursorMZ: fptr(100.005), Vector: models.SparseVector{"m1": 1.0}},
		{Identifier: "C", PrecursorMZ: fptr(100.008), Vector: models.SparseVector{"m1": 1.0, "m3": 0.3}},
	}
	groups := DetectDuplicateGroups(entries, DefaultCriteria(), QualityThresholds{})
	if len(groups) != 1 || len(groups[0].Members) != 3 {
		t.Fatalf("expected single transitive group of 3, got %+v", groups)
	}
}

func TestDetectDuplicateGroups_RepresentativeByQuality(t *testing.T) {
	entries := []*models.LibraryEntry{
		{
			Identifier:  "worse",
			PrecursorMZ: fptr(100.0),
			Metadata:    goodMetadata(2, 5.0, 0.4),
			Vector:      models.SparseVector{"m1": 1.0},
		},
		{
			Identifier:  "better",
			PrecursorMZ: fptr(100.001),
			Metadata:    goodMetadata(12, 5.0, 0.4),
			Vector:      models.SparseVector{"m1": 1.0},
		},
	}
	groups := DetectDuplicateGroups(entries, DefaultCriteria(), QualityThresholds{})
	if len(groups) != 1 || groups[0].Representative != "better" {
		t.Fatalf("expected representative 'better', got %+v", groups)
	}
}

func TestDetectDuplicateGroups_RepresentativeTieByIdentifier(t *testing.T) {
	entries := []*models.LibraryEntry{
		{Identifier: "zeta", PrecursorMZ: fptr(100.0), Metadata: goodMetadata(10, 5, 0.4), Vector: models.SparseVector{"m1": 1.0}},
		{Identifier: "alpha", PrecursorMZ: fptr(100.0), Metadata: goodMetadata(10, 5, 0.4), Vector: models.SparseVector{"m1": 1.0}},
	}
	groups := DetectDuplicateGroups(entries, DefaultCriteria(), QualityThresholds{})
	if len(groups) != 1 || groups[0].Representative != "alpha" {
		t.Fatalf("tie should pick lexicographically smaller id, got %+v", groups)
	}
}

func TestCurate_DropsBeforeDeduplicating(t *testing.T) {
	// "broken" is a near-duplicate of "keeper" but fails quality checks;
	// it must be dropped, never merged.
	entries := []*models.LibraryEntry{
		{
			Identifier:  "keeper",
			PrecursorMZ: fptr(100.0),
			Metadata:    goodMetadata(12, 5.0, 0.4),
			Vector:      models.SparseVector{"m1": 1.0},
		},
		{
			Identifier: "broken",
			Metadata:   goodMetadata(2, 5.0, 0.4),
			Vector:     models.SparseVector{"m1": 1.0},
		},
	}
	report := Curate(entries, QualityThresholds{}, DefaultCriteria(), zap.NewNop())
	if len(report.Dropped) != 1 || report.Dropped[0].Identifier != "broken" {
		t.Fatalf("expected 'broken' dropped, got %+v", report.Dropped)
	}
	if len(report.Merged) != 0 {
		t.Fatalf("dropped entries must not form duplicate groups, got %+v", report.Merged)
	}
	if len(report.KeptIDs) != 1 || report.KeptIDs[0] != "keeper" {
		t.Fatalf("expected only 'keeper' kept, got %v", report.KeptIDs)
	}
}

func TestCurate_CollapsesDuplicatesToRepresentative(t *testing.T) {
	entries := []*models.LibraryEntry{
		{Identifier: "a1", PrecursorMZ: fptr(100.0), Metadata: goodMetadata(12, 5, 0.4), Vector: models.SparseVector{"m1": 1.0}},
		{Identifier: "a2", PrecursorMZ: fptr(100.001), Metadata: goodMetadata(12, 5, 0.4), Vector: models.SparseVector{"m1": 1.0}},
		{Identifier: "solo", PrecursorMZ: fptr(300.0), Metadata: goodMetadata(12, 5, 0.4), Vector: models.SparseVector{"m9": 1.0}},
	}
	report := Curate(entries, QualityThresholds{}, DefaultCriteria(), zap.NewNop())
	if len(report.KeptIDs) != 2 {
		t.Fatalf("expected representative plus solo, got %v", report.KeptIDs)
	}
	kept := map[string]bool{}
	for _, id := range report.KeptIDs {
		kept[id] = true
	}
	if !kept["a1"] || !kept["solo"] || kept["a2"] {
		t.Fatalf("expected a1 and solo kept, a2 collapsed, got %v", report.KeptIDs)
	}
	if len(report.Merged) != 1 || report.Merged[0].Representative != "a1" {
		t.Fatalf("unexpected merge report %+v", report.Merged)
	}
}

func TestCurate_EmitsDecisionPerEntry(t *testing.T) {
	entries := []*models.LibraryEntry{
		{Identifier: "a1", PrecursorMZ: fptr(100.0), Metadata: goodMetadata(12, 5, 0.4), Vector: models.SparseVector{"m1": 1.0}},
		{Identifier: "a2", PrecursorMZ: fptr(100.001), Metadata: goodMetadata(12, 5, 0.4), Vector: models.SparseVector{"m1": 1.0}},
		{Identifier: "solo", PrecursorMZ: fptr(300.0), Metadata: goodMetadata(12, 5, 0.4), Vector: models.SparseVector{"m9": 1.0}},
		{Identifier: "broken", Metadata: goodMetadata(2, 5, 0.4), Vector: models.SparseVector{"m7": 1.0}},
	}
	report := Curate(entries, QualityThresholds{}, DefaultCriteria(), zap.NewNop())
	if len(report.Decisions) != len(entries) {
		t.Fatalf("want one decision per entry, got %+v", report.Decisions)
	}
	byID := map[string]CurationDecision{}
	for _, d := range report.Decisions {
		byID[d.Identifier] = d
	}

	rep := byID["a1"]
	if rep.Action != ActionKeep || rep.Reason != ReasonRepresentative || rep.Representative != "a1" {
		t.Fatalf("unexpected representative decision %+v", rep)
	}
	if len(rep.MergedIDs) != 1 || rep.MergedIDs[0] != "a2" {
		t.Fatalf("representative should list folded ids, got %+v", rep)
	}

	folded := byID["a2"]
	if folded.Action != ActionMerge || folded.Reason != ReasonDuplicate || folded.Representative != "a1" {
		t.Fatalf("unexpected merge decision %+v", folded)
	}

	if d := byID["solo"]; d.Action != ActionKeep || d.Reason != "" || d.Score != 1.0 {
		t.Fatalf("unexpected keep decision %+v", d)
	}

	dropped := byID["broken"]
	if dropped.Action != ActionDrop || dropped.Reason == "" {
		t.Fatalf("unexpected drop decision %+v", dropped)
	}
	if dropped.Score != 0.5 {
		t.Fatalf("drop decision should carry quality score, got %+v", dropped)
	}
}

package index

import (
	"fmt"
	"math"
	"reflect"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/ruiji/internal/models"
)

func libEntry(id string, vector models.SparseVector) *models.LibraryEntry {
	return &models.LibraryEntry{
		Identifier: id,
		Metadata:   map[string]interface{}{"name": id},
		Vector:     vector,
	}
}

func smallLibrary() []*models.LibraryEntry {
	return []*models.LibraryEntry{
		libEntry("a", models.SparseVector{"m1": 1.0}),
		libEntry("b", models.SparseVector{"m1": 0.9, "m2": 0.1}),
		libEntry("c", models.SparseVector{"m3": 1.0}),
	}
}

func TestExact_Ordering(t *testing.T) {
	idx := NewExact(smallLibrary())
	hits, err := idx.Search(models.SparseVector{"m1": 1.0}, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 3 {
		t.Fatalf("got %d hits, want 3", len(hits))
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[i-1].Score {
			t.Errorf("hits not sorted descending at %d: %v", i, hits)
		}
	}
	if hits[0].Identifier != "a" {
		t.Errorf("best hit=%s, want a", hits[0].Identifier)
	}
	if hits[2].Identifier != "c" || hits[2].Score != 0 {
		t.Errorf("worst hit=%+v, want c with score 0", hits[2])
	}
}

func TestExact_TieBreakByIdentifier(t *testing.T) {
	entries := []*models.LibraryEntry{
		libEntry("zz", models.SparseVector{"m1": 2.0}),
		libEntry("aa", models.SparseVector{"m1": 1.0}),
	}
	idx := NewExact(entries)
	// Both have cosine 1 against the query: tie broken by identifier.
	hits, err := idx.Search(models.SparseVector{"m1": 5.0}, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if hits[0].Identifier != "aa" || hits[1].Identifier != "zz" {
		t.Errorf("tie-break order wrong: %v, %v", hits[0].Identifier, hits[1].Identifier)
	}
}

func TestExact_MinScoreBeforeTruncation(t *testing.T) {
	idx := NewExact(smallLibrary())
	// minScore filters c (score 0) before topN is applied.
	hits, err := idx.Search(models.SparseVector{"m1": 1.0}, 2, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	for _, h := range hits {
		if h.Score < 0.5 {
			t.Errorf("hit below minScore: %+v", h)
		}
	}
}

func TestExact_TopNValidation(t *testing.T) {
	idx := NewExact(smallLibrary())
	if _, err := idx.Search(models.SparseVector{"m1": 1.0}, 0, 0); err == nil {
		t.Error("expected error for topN=0")
	}
}

func TestExact_EmptyQuery(t *testing.T) {
	idx := NewExact(smallLibrary())
	hits, err := idx.Search(models.SparseVector{}, 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, h := range hits {
		if h.Score != 0 {
			t.Errorf("empty query should score 0, got %+v", h)
		}
	}
}

func TestNew_FallbackOnSmallLibrary(t *testing.T) {
	entries := smallLibrary()[:2]
	idx, err := New(KindAnnoy, entries, zap.NewNop())
	if err != nil {
		t.Fatalf("factory must degrade, got error: %v", err)
	}
	if idx.Kind() != KindExact {
		t.Errorf("Kind=%s, want exact fallback", idx.Kind())
	}

	// Degraded backend returns identical hits to the exact backend.
	exact := NewExact(entries)
	query := models.SparseVector{"m1": 1.0}
	got, err := idx.Search(query, 5, 0)
	if err != nil {
		t.Fatal(err)
	}
	want, err := exact.Search(query, 5, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("fallback hits differ:\n got %v\nwant %v", got, want)
	}
}

func TestNew_UnknownKind(t *testing.T) {
	if _, err := New(Kind("faiss"), smallLibrary(), zap.NewNop()); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func largeLibrary(n int) []*models.LibraryEntry {
	entries := make([]*models.LibraryEntry, n)
	for i := range entries {
		base := 100.0 + float64(i)
		entries[i] = libEntry(fmt.Sprintf("spec-%03d", i), models.SparseVector{
			fmt.Sprintf("peak@%.2f", base):    1.0,
			fmt.Sprintf("peak@%.2f", base+50): 0.5,
		})
	}
	return entries
}

func TestAnnoy_FindsIndexedVector(t *testing.T) {
	entries := largeLibrary(64)
	idx, err := NewAnnoy(entries)
	if err != nil {
		t.Fatal(err)
	}
	if idx.Kind() != KindAnnoy {
		t.Fatalf("Kind=%s", idx.Kind())
	}
	if idx.Size() != 64 {
		t.Fatalf("Size=%d", idx.Size())
	}

	// Querying with an indexed vector must surface that entry at score 1.
	for _, probe := range []int{0, 17, 63} {
		hits, err := idx.Search(entries[probe].Vector, 3, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(hits) == 0 {
			t.Fatalf("no hits for probe %d", probe)
		}
		if hits[0].Identifier != entries[probe].Identifier {
			t.Errorf("probe %d: best hit=%s, want %s", probe, hits[0].Identifier, entries[probe].Identifier)
		}
		if math.Abs(hits[0].Score-1.0) > 1e-9 {
			t.Errorf("probe %d: score=%v, want 1", probe, hits[0].Score)
		}
	}
}

func TestAnnoy_Deterministic(t *testing.T) {
	entries := largeLibrary(48)
	a, err := NewAnnoy(entries)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewAnnoy(entries)
	if err != nil {
		t.Fatal(err)
	}
	query := models.SparseVector{"peak@110.00": 1.0, "peak@160.00": 0.4}
	hitsA, err := a.Search(query, 5, 0)
	if err != nil {
		t.Fatal(err)
	}
	hitsB, err := b.Search(query, 5, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(hitsA, hitsB) {
		t.Errorf("annoy search not deterministic:\n%v\n%v", hitsA, hitsB)
	}
}

func TestAnnoy_RemovedEntriesNeverReturned(t *testing.T) {
	entries := largeLibrary(40)
	idx, err := NewAnnoy(entries)
	if err != nil {
		t.Fatal(err)
	}
	// Rebuild from a snapshot without the first entry.
	rebuilt, err := NewAnnoy(entries[1:])
	if err != nil {
		t.Fatal(err)
	}
	hits, err := rebuilt.Search(entries[0].Vector, 40, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, h := range hits {
		if h.Identifier == entries[0].Identifier {
			t.Errorf("removed entry surfaced from rebuilt index")
		}
	}
	// The stale index still knows it; that is why callers rebuild.
	hits, err = idx.Search(entries[0].Vector, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Identifier != entries[0].Identifier {
		t.Errorf("pre-removal index lost an entry it was built with")
	}
}

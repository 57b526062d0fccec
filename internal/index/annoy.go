package index

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/scoring"
	"github.com/hyperjump/ruiji/pkg/utils"
)

const (
	// annoyMinEntries is the entry count below which tree search cannot
	// beat a linear scan; construction reports ErrBackendUnavailable and
	// the factory substitutes the exact backend.
	annoyMinEntries = 32

	annoyNumTrees    = 10
	annoyMaxLeafSize = 16
	annoySeed        = 1
)

// Annoy is an approximate backend: sparse vectors are densified through a
// vocabulary built at construction, then partitioned by a forest of
// random-hyperplane trees. Queries collect candidate leaves best-first
// and re-score candidates with the exact sparse cosine, so returned
// scores match the exact backend; only recall is approximate.
type Annoy struct {
	entries []*models.LibraryEntry
	vocab   map[string]int
	vectors [][]float32
	trees   []*treeNode
}

type treeNode struct {
	leaf       bool
	indices    []int
	hyperplane []float32
	threshold  float32
	left       *treeNode
	right      *treeNode
}

// NewAnnoy builds the tree forest over a snapshot of entries. The build
// is deterministic: a fixed seed drives hyperplane sampling.
func NewAnnoy(entries []*models.LibraryEntry) (*Annoy, error) {
	if len(entries) < annoyMinEntries {
		return nil, fmt.Errorf("%w: %d entries is below the minimum of %d",
			ErrBackendUnavailable, len(entries), annoyMinEntries)
	}

	snapshot := make([]*models.LibraryEntry, len(entries))
	copy(snapshot, entries)

	vocab := make(map[string]int)
	for _, e := range snapshot {
		for token := range e.Vector {
			if _, ok := vocab[token]; !ok {
				vocab[token] = len(vocab)
			}
		}
	}
	if len(vocab) == 0 {
		return nil, fmt.Errorf("%w: no non-empty vectors to index", ErrBackendUnavailable)
	}

	a := &Annoy{
		entries: snapshot,
		vocab:   vocab,
		vectors: make([][]float32, len(snapshot)),
	}
	for i, e := range snapshot {
		a.vectors[i] = a.densify(e.Vector)
	}

	indices := make([]int, len(snapshot))
	for i := range indices {
		indices[i] = i
	}
	a.trees = make([]*treeNode, annoyNumTrees)
	for t := 0; t < annoyNumTrees; t++ {
		rng := rand.New(rand.NewSource(annoySeed + int64(t)*7919))
		a.trees[t] = buildTreeNode(indices, a.vectors, rng)
	}
	return a, nil
}

// Kind returns the backend identifier.
func (a *Annoy) Kind() Kind { return KindAnnoy }

// Size returns the number of indexed entries.
func (a *Annoy) Size() int { return len(a.entries) }

// Search collects candidates from the forest and ranks them exactly.
func (a *Annoy) Search(query models.SparseVector, topN int, minScore float64) ([]models.SearchHit, error) {
	if topN < 1 {
		return nil, fmt.Errorf("index: topN must be >= 1, got %d", topN)
	}
	dense := a.densify(query)
	searchK := annoyNumTrees * topN
	candidates := a.collectCandidates(dense, searchK)
	if len(candidates) < topN {
		// Too few candidates to honor topN; widen to a full scan.
		candidates = candidates[:0]
		for i := range a.entries {
			candidates = append(candidates, i)
		}
	}

	hits := make([]models.SearchHit, 0, len(candidates))
	for _, i := range candidates {
		entry := a.entries[i]
		hits = append(hits, hitFromEntry(entry, scoring.VectorCosine(query, entry.Vector)))
	}
	return rankHits(hits, topN, minScore), nil
}

func (a *Annoy) densify(v models.SparseVector) []float32 {
	dense := make([]float32, len(a.vocab))
	for token, weight := range v {
		if pos, ok := a.vocab[token]; ok {
			dense[pos] = float32(weight)
		}
	}
	utils.NormalizeL2(dense)
	return dense
}

func buildTreeNode(indices []int, vectors [][]float32, rng *rand.Rand) *treeNode {
	if len(indices) <= annoyMaxLeafSize {
		leaf := make([]int, len(indices))
		copy(leaf, indices)
		return &treeNode{leaf: true, indices: leaf}
	}

	// Two sampled points define a splitting hyperplane.
	aIdx := indices[rng.Intn(len(indices))]
	bIdx := indices[rng.Intn(len(indices))]
	if aIdx == bIdx {
		bIdx = indices[(rng.Intn(len(indices)-1)+1)%len(indices)]
	}

	vecA, vecB := vectors[aIdx], vectors[bIdx]
	normal := make([]float32, len(vecA))
	for i := range normal {
		normal[i] = vecB[i] - vecA[i]
	}
	if denseNorm(normal) == 0 {
		for i := range normal {
			normal[i] = rng.Float32()*2 - 1
		}
	}
	utils.NormalizeL2(normal)

	var threshold float32
	for i := range normal {
		threshold += normal[i] * (vecA[i] + vecB[i]) * 0.5
	}

	left := make([]int, 0, len(indices)/2)
	right := make([]int, 0, len(indices)/2)
	for _, idx := range indices {
		if denseDot(normal, vectors[idx]) <= threshold {
			left = append(left, idx)
		} else {
			right = append(right, idx)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		leaf := make([]int, len(indices))
		copy(leaf, indices)
		return &treeNode{leaf: true, indices: leaf}
	}

	return &treeNode{
		hyperplane: normal,
		threshold:  threshold,
		left:       buildTreeNode(left, vectors, rng),
		right:      buildTreeNode(right, vectors, rng),
	}
}

// collectCandidates walks all trees best-first until searchK leaves have
// been visited, deduplicating entry indices.
func (a *Annoy) collectCandidates(query []float32, searchK int) []int {
	seen := make(map[int]struct{})
	pq := make(nodeQueue, len(a.trees))
	for i, tree := range a.trees {
		pq[i] = nodeEntry{node: tree}
	}
	heap.Init(&pq)

	visits := 0
	for pq.Len() > 0 && visits < searchK {
		entry := heap.Pop(&pq).(nodeEntry)
		n := entry.node
		if n == nil {
			continue
		}
		if n.leaf {
			visits++
			for _, idx := range n.indices {
				seen[idx] = struct{}{}
			}
			continue
		}
		diff := denseDot(n.hyperplane, query) - n.threshold
		near, far := n.left, n.right
		if diff > 0 {
			near, far = n.right, n.left
		}
		priority := float32(math.Abs(float64(diff)))
		heap.Push(&pq, nodeEntry{node: near, priority: priority})
		heap.Push(&pq, nodeEntry{node: far, priority: priority + 1e-6})
	}

	out := make([]int, 0, len(seen))
	for idx := range seen {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

func denseDot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func denseNorm(v []float32) float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x * x)
	}
	return float32(math.Sqrt(sum))
}

type nodeEntry struct {
	node     *treeNode
	priority float32
}

type nodeQueue []nodeEntry

func (h nodeQueue) Len() int            { return len(h) }
func (h nodeQueue) Less(i, j int) bool  { return h[i].priority < h[j].priority }
func (h nodeQueue) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *nodeQueue) Push(x interface{}) { *h = append(*h, x.(nodeEntry)) }
func (h *nodeQueue) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

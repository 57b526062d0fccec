package network

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/hyperjump/ruiji/internal/scoring"
)

// pairwiseScores computes the upper-triangular score matrix. Rows fan
// out across a worker pool; each worker owns whole rows so no locking is
// needed on the result.
func (b *Builder) pairwiseScores(ctx context.Context, nodes []*Node, metric scoring.Metric) ([][]float64, error) {
	n := len(nodes)
	scores := make([][]float64, n)
	for i := range scores {
		scores[i] = make([]float64, n)
	}
	if n < 2 {
		return scores, nil
	}

	workers := b.workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > n {
		workers = n
	}

	rows := make(chan int)
	errCh := make(chan error, workers)
	quit := make(chan struct{})
	var quitOnce sync.Once
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range rows {
				for j := i + 1; j < n; j++ {
					score, err := b.scorePair(nodes[i], nodes[j], metric)
					if err != nil {
						errCh <- fmt.Errorf("score %s vs %s: %w", nodes[i].Identifier, nodes[j].Identifier, err)
						quitOnce.Do(func() { close(quit) })
						return
					}
					scores[i][j] = score
					scores[j][i] = score
				}
			}
		}()
	}

	var ctxErr error
feed:
	for i := 0; i < n-1; i++ {
		if err := ctx.Err(); err != nil {
			ctxErr = err
			break feed
		}
		select {
		case rows <- i:
		case <-quit:
			break feed
		case <-ctx.Done():
			ctxErr = ctx.Err()
			break feed
		}
	}
	close(rows)
	wg.Wait()
	close(errCh)

	if err := <-errCh; err != nil {
		return nil, err
	}
	if ctxErr != nil {
		return nil, ctxErr
	}
	return scores, nil
}

func (b *Builder) scorePair(a, c *Node, metric scoring.Metric) (float64, error) {
	if metric == scoring.MetricVectorCosine {
		return scoring.VectorCosine(a.Vector, c.Vector), nil
	}
	if a.Spectrum == nil || c.Spectrum == nil {
		return 0, fmt.Errorf("metric %q requires raw spectra", metric)
	}
	return scoring.Score(a.Spectrum, c.Spectrum, a.Vector, c.Vector, metric, b.tolerance)
}

func thresholdEdges(nodes []*Node, scores [][]float64, metric scoring.Metric, threshold float64, undirected bool) []Edge {
	edges := []Edge{}
	for i := range nodes {
		for j := i + 1; j < len(nodes); j++ {
			if scores[i][j] < threshold {
				continue
			}
			src, dst := nodes[i].Identifier, nodes[j].Identifier
			if undirected && dst < src {
				src, dst = dst, src
			}
			edges = append(edges, Edge{Source: src, Target: dst, Score: scores[i][j], Metric: metric})
		}
	}
	return edges
}

func knnEdges(nodes []*Node, scores [][]float64, metric scoring.Metric, k int, undirected bool) []Edge {
	type neighbor struct {
		index int
		score float64
	}
	edges := []Edge{}
	seen := map[[2]string]bool{}
	for i := range nodes {
		candidates := make([]neighbor, 0, len(nodes)-1)
		for j := range nodes {
			if j == i {
				continue
			}
			candidates = append(candidates, neighbor{index: j, score: scores[i][j]})
		}
		sort.Slice(candidates, func(a, b int) bool {
			if candidates[a].score != candidates[b].score {
				return candidates[a].score > candidates[b].score
			}
			return nodes[candidates[a].index].Identifier < nodes[candidates[b].index].Identifier
		})
		if len(candidates) > k {
			candidates = candidates[:k]
		}
		for _, c := range candidates {
			src, dst := nodes[i].Identifier, nodes[c.index].Identifier
			if undirected {
				if dst < src {
					src, dst = dst, src
				}
				key := [2]string{src, dst}
				if seen[key] {
					continue
				}
				seen[key] = true
			}
			edges = append(edges, Edge{Source: src, Target: dst, Score: c.score, Metric: metric})
		}
	}
	return edges
}

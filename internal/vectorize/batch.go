package vectorize

import (
	"context"
	"runtime"
	"sync"

	"github.com/hyperjump/ruiji/internal/models"
)

// BatchResult pairs a vector with the peak stats captured alongside it.
type BatchResult struct {
	Vector models.SparseVector
	Stats  PeakStats
}

// Batch vectorizes spectra in parallel with a worker pool, preserving
// input order. Spectra are read-only; each result slot is written by
// exactly one worker. workers <= 0 uses GOMAXPROCS.
func Batch(ctx context.Context, spectra []*models.Spectrum, v Vectorizer, workers int) ([]BatchResult, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(spectra) {
		workers = len(spectra)
	}
	results := make([]BatchResult, len(spectra))
	if len(spectra) == 0 {
		return results, nil
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				vec, stats := v.Vectorize(spectra[i])
				results[i] = BatchResult{Vector: vec, Stats: stats}
			}
		}()
	}

	var ctxErr error
feed:
	for i := range spectra {
		if err := ctx.Err(); err != nil {
			ctxErr = err
			break feed
		}
		select {
		case <-ctx.Done():
			ctxErr = ctx.Err()
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	if ctxErr != nil {
		return nil, ctxErr
	}
	return results, nil
}

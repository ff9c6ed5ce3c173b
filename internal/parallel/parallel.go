// Package parallel fans independent examples out across workers, each
// with a private gradient accumulator, and reduces the results.
package parallel

import (
	"sync"

	"github.com/codeaudit/ml-1/linalg"
)

// MapReduce calls fn for each item in [0, n) using the given number of
// workers. Each worker owns a gradient accumulator of dimension dim
// and sums the losses fn returns; the reducer adds accumulators and
// losses in worker order. Items are split into contiguous blocks, so
// accumulation within a worker is deterministic; across workers only
// floating-point associativity varies with the worker count.
func MapReduce(n, workers, dim int, fn func(item int, grad linalg.Dense) float64) (float64, linalg.Dense) {
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		grad := linalg.NewDense(dim)
		var loss float64
		for i := range n {
			loss += fn(i, grad)
		}
		return loss, grad
	}

	grads := make([]linalg.Dense, workers)
	losses := make([]float64, workers)
	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			grad := linalg.NewDense(dim)
			lo, hi := w*n/workers, (w+1)*n/workers
			var loss float64
			for i := lo; i < hi; i++ {
				loss += fn(i, grad)
			}
			grads[w] = grad
			losses[w] = loss
		}()
	}
	wg.Wait()

	total := linalg.NewDense(dim)
	var loss float64
	for w := range workers {
		loss += losses[w]
		for i, v := range grads[w] {
			total[i] += v
		}
	}
	return loss, total
}

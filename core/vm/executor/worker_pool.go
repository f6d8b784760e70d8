package executor

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// WorkerPool bounds the concurrency of Parallel opcodes: Map runs fn over
// every element of items, capped at the pool's weight, and aborts the
// whole group (cancelling ctx for every in-flight worker) the moment any
// invocation returns an error.
type WorkerPool struct {
	sem *semaphore.Weighted
}

// NewWorkerPool builds a pool that runs at most maxConcurrent invocations
// of Map's fn at once.
func NewWorkerPool(maxConcurrent int64) *WorkerPool {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &WorkerPool{sem: semaphore.NewWeighted(maxConcurrent)}
}

// Map applies fn to every element of in, returning the results in input
// order. The first error cancels every still-running invocation and is
// returned to the caller; partial results are discarded.
func (p *WorkerPool) Map(ctx context.Context, in [][]byte, fn func(ctx context.Context, item []byte) ([]byte, error)) ([][]byte, error) {
	out := make([][]byte, len(in))
	g, gctx := errgroup.WithContext(ctx)

	for i, item := range in {
		i, item := i, item
		if err := p.sem.Acquire(gctx, 1); err != nil {
			return nil, err
		}
		g.Go(func() error {
			defer p.sem.Release(1)
			res, err := fn(gctx, item)
			if err != nil {
				return err
			}
			out[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

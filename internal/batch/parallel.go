package batch

import (
	"context"
	"fmt"
	"runtime"
	"sync"
)

// Batchify splits items into consecutive batches of at most size elements.
// Panics if size is not positive.
func Batchify[T any](items []T, size int) [][]T {
	if size <= 0 {
		panic("batch size must be positive")
	}

	batches := make([][]T, 0, (len(items)+size-1)/size)
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[i:end])
	}
	return batches
}

// ParallelMap applies fn to every item on a pool of workers and returns the
// results in input order. fn must be safe for concurrent use. A workers
// value of zero or less means runtime.NumCPU().
//
// The first error stops the remaining work and is returned together with
// the index of the failing item.
func ParallelMap[T any, R any](
	ctx context.Context,
	items []T,
	workers int,
	fn func(ctx context.Context, item T) (R, error),
) ([]R, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(items) {
		workers = len(items)
	}

	results := make([]R, len(items))
	if len(items) == 0 {
		return results, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan int)
	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					continue
				}
				res, err := fn(ctx, items[i])
				if err != nil {
					errOnce.Do(func() {
						firstErr = fmt.Errorf("item %d failed: %w", i, err)
						cancel()
					})
					continue
				}
				results[i] = res
			}
		}()
	}

feed:
	for i := range items {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

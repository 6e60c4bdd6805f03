package fetch

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Result holds the outcome of one pool task
type Result[R any] struct {
	Value R
	Err   error
}

// RunPool calls fn for every item with at most limit calls in flight.
// The next item starts as soon as a slot frees. A failing item never cancels
// its siblings; each result is written once into its own slot, so the
// returned slice is in input order.
func RunPool[T, R any](ctx context.Context, items []T, limit int, fn func(ctx context.Context, i int, item T) (R, error)) []Result[R] {
	results := make([]Result[R], len(items))
	if len(items) == 0 {
		return results
	}
	if limit <= 0 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, item := range items {
		g.Go(func() error {
			v, err := fn(ctx, i, item)
			results[i] = Result[R]{Value: v, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

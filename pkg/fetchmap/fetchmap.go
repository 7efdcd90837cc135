// Package fetchmap runs independent resolution tasks concurrently while
// keeping results in input order.
//
// Every converter needs the same property: per-dependency metadata fetches
// are side-effect-free and may run in parallel, but the final manifest must
// follow lockfile declaration order. Map provides that join once, so no
// ecosystem reimplements it.
package fetchmap

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DefaultLimit bounds the fan-out when callers pass a non-positive limit.
const DefaultLimit = 16

// Map applies fn to every item with at most limit concurrent calls and
// returns the results indexed by input position. The first error cancels the
// remaining work and fails the whole call; no partial results are returned.
func Map[T, R any](ctx context.Context, items []T, limit int, fn func(context.Context, T) (R, error)) ([]R, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	results := make([]R, len(items))
	for i, item := range items {
		g.Go(func() error {
			r, err := fn(ctx, item)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Flatten concatenates per-item result slices, preserving item order. The
// common shape is one dependency producing several manifest entries.
func Flatten[R any](lists [][]R) []R {
	var n int
	for _, l := range lists {
		n += len(l)
	}
	out := make([]R, 0, n)
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

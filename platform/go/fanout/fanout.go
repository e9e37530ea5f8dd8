// Package fanout runs independent remote operations concurrently and collects
// every failure instead of cancelling siblings on the first one.
package fanout

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// Each calls fn for every item with at most limit calls in flight (limit <= 0 means unbounded)
// and returns one error slot per item, nil where the call succeeded.
func Each[T any](ctx context.Context, limit int, items []T, fn func(ctx context.Context, item T) error) []error {
	errs := make([]error, len(items))
	if len(items) == 0 {
		return errs
	}

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, item := range items {
		g.Go(func() error {
			errs[i] = fn(ctx, item)
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// All runs fn over items and joins every failure into one error.
func All[T any](ctx context.Context, limit int, items []T, fn func(ctx context.Context, item T) error) error {
	return errors.Join(Each(ctx, limit, items, fn)...)
}

// Both runs a and b concurrently and waits for both; the error joins whichever failed.
func Both(ctx context.Context, a, b func(context.Context) error) error {
	return All(ctx, 0, []func(context.Context) error{a, b}, func(ctx context.Context, fn func(context.Context) error) error {
		return fn(ctx)
	})
}

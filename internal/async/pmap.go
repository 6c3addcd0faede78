// Package async provides small concurrency helpers shared across the SDK.
package async

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// MapOptions configures Map.
type MapOptions struct {
	// Concurrency bounds the number of in-flight calls; values < 1 mean 1.
	Concurrency int
	// StopOnError cancels remaining work on the first error. When false, all
	// items run and errors are aggregated into a MapError.
	StopOnError bool
	// Delay is an optional pause before each item starts, spacing out
	// dispatches.
	Delay time.Duration
}

// MapError aggregates per-item failures when StopOnError is false.
type MapError struct {
	Total  int
	Errors []error
}

func (e *MapError) Error() string {
	return fmt.Sprintf("%d of %d items failed: %v", len(e.Errors), e.Total, errors.Join(e.Errors...))
}

func (e *MapError) Unwrap() []error { return e.Errors }

// Map applies fn to every item with bounded parallelism. Results preserve
// input order independent of completion order. Cancellation of ctx propagates
// to all in-flight items.
func Map[T, R any](ctx context.Context, items []T, opts MapOptions, fn func(ctx context.Context, item T, index int) (R, error)) ([]R, error) {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	results := make([]R, len(items))
	itemErrs := make([]error, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			if opts.Delay > 0 {
				timer := time.NewTimer(opts.Delay)
				select {
				case <-gctx.Done():
					timer.Stop()
					return gctx.Err()
				case <-timer.C:
				}
			}
			r, err := fn(gctx, item, i)
			if err != nil {
				if opts.StopOnError {
					return err
				}
				itemErrs[i] = err
				return nil
			}
			results[i] = r
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var failed []error
	for _, err := range itemErrs {
		if err != nil {
			failed = append(failed, err)
		}
	}
	if len(failed) > 0 {
		return results, &MapError{Total: len(items), Errors: failed}
	}
	return results, nil
}

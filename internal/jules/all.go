package jules

import (
	"context"
	"time"

	"github.com/julesfleet/julesfleet/internal/async"
)

// AllOptions configures All.
type AllOptions struct {
	// Concurrency bounds in-flight dispatches; defaults to 3.
	Concurrency int
	// StopOnError aborts on the first failure (default). When explicitly
	// disabled, all items run and failures are aggregated.
	StopOnError *bool
	// Delay spaces out dispatches.
	Delay time.Duration
}

// All maps every item to a session config and runs them with bounded
// parallelism. Result order matches input order independent of completion
// order.
func All[T any](ctx context.Context, c *Client, items []T, fn func(item T) SessionConfig, opts AllOptions) ([]*AutomatedSession, error) {
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 3
	}
	stopOnError := true
	if opts.StopOnError != nil {
		stopOnError = *opts.StopOnError
	}
	return async.Map(ctx, items, async.MapOptions{
		Concurrency: concurrency,
		StopOnError: stopOnError,
		Delay:       opts.Delay,
	}, func(ctx context.Context, item T, _ int) (*AutomatedSession, error) {
		return c.Run(ctx, fn(item))
	})
}

package jules

import (
	"context"
	"sync"

	v1 "github.com/julesfleet/julesfleet/pkg/api/v1"
)

// ActivityStream is a lazy, cancellable sequence of activities. The channel
// closes when the producer finishes or fails; Err reports why. Stopping the
// consumer (Stop or cancelling the parent context) closes the upstream
// poller and releases its HTTP resources.
type ActivityStream struct {
	ch     chan *v1.Activity
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

func newActivityStream(parent context.Context, buffer int) (*ActivityStream, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	return &ActivityStream{
		ch:     make(chan *v1.Activity, buffer),
		cancel: cancel,
	}, ctx
}

// C is the stream channel. Ranging over it drains the stream.
func (s *ActivityStream) C() <-chan *v1.Activity { return s.ch }

// Err returns the terminal error, valid once C is closed. A nil error with a
// closed channel means the stream completed (finite streams) or was stopped.
func (s *ActivityStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop cancels the producer. Safe to call multiple times.
func (s *ActivityStream) Stop() { s.cancel() }

// fail records the terminal error; the producer closes the channel after.
func (s *ActivityStream) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// emit delivers one activity, returning false when the consumer is gone.
func (s *ActivityStream) emit(ctx context.Context, a *v1.Activity) bool {
	select {
	case s.ch <- a:
		return true
	case <-ctx.Done():
		return false
	}
}

// Package poll provides bounded ticker-driven waits for remote completion.
package poll

import (
	"context"
	"time"

	"github.com/cuemby/burrow/pkg/fault"
)

// Condition reports whether the wait is over. A non-nil error ends the
// wait immediately and is returned as is.
type Condition func(ctx context.Context) (bool, error)

// Waiter polls a condition at a fixed interval until a timeout elapses
type Waiter struct {
	timeout  time.Duration
	interval time.Duration
}

// NewWaiter creates a Waiter with the given timeout and polling interval
func NewWaiter(timeout, interval time.Duration) *Waiter {
	if interval <= 0 {
		interval = time.Second
	}
	return &Waiter{
		timeout:  timeout,
		interval: interval,
	}
}

// Timeout returns the wait bound
func (w *Waiter) Timeout() time.Duration {
	return w.timeout
}

// WaitFor checks condition immediately and then on every tick. Exceeding
// the timeout returns a fault.KindTimeout error; cancelling ctx returns
// ctx's error.
func (w *Waiter) WaitFor(ctx context.Context, condition Condition, description string) error {
	waitCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		done, err := condition(waitCtx)
		if err != nil {
			if waitCtx.Err() != nil && ctx.Err() == nil {
				return fault.Wrap(fault.KindTimeout, err, "timeout waiting for %s (timeout: %v)", description, w.timeout)
			}
			return err
		}
		if done {
			return nil
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fault.New(fault.KindTimeout, "timeout waiting for %s (timeout: %v)", description, w.timeout)
		case <-ticker.C:
		}
	}
}

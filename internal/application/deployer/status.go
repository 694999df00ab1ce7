package deployer

import (
	"context"
	"time"

	"github.com/aescanero/flowdeploy/pkg/domain"
)

// poll calls check every interval until it reports done. It fails with a
// *domain.TimeoutError once timeout has elapsed without check succeeding.
func poll(ctx context.Context, interval, timeout time.Duration, op string, check func(context.Context) (bool, error)) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		wait := interval
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return &domain.TimeoutError{Op: op, Bound: timeout}
			}
			if remaining < wait {
				wait = remaining
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

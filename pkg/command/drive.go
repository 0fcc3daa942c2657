package command

import (
	"context"
	"time"
)

// DefaultPollInterval is how often Drive polls when no interval is given
const DefaultPollInterval = 200 * time.Millisecond

// Result is the outcome of a driven command
type Result struct {
	Accepted bool
	Err      error
}

// Drive polls cmd on a ticker in a new goroutine until it finishes or ctx is
// done. The returned channel receives exactly one Result. Cancelling ctx only
// stops polling; the command itself is left as it is.
func Drive(ctx context.Context, cmd Command, interval time.Duration) <-chan Result {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	out := make(chan Result, 1)
	go func() {
		bell := NewBell()
		attachBell(cmd, bell)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			if err := cmd.Poll(); err != nil {
				out <- Result{Err: err}
				return
			}
			if cmd.Finished() {
				out <- Result{Accepted: cmd.Accepted(), Err: cmd.Err()}
				return
			}

			select {
			case <-ctx.Done():
				out <- Result{Err: ctx.Err()}
				return
			case <-ticker.C:
			case <-bell.C():
			}
		}
	}()
	return out
}

// WaitFor drives cmd to completion and returns its outcome
func WaitFor(ctx context.Context, cmd Command, interval time.Duration) (bool, error) {
	res := <-Drive(ctx, cmd, interval)
	return res.Accepted, res.Err
}

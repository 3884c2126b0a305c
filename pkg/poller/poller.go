// Package poller implements the repeated-check-with-timeout scheduling
// shared by the linking, session and agent-pairing flows.
package poller

import (
	"context"
	"time"

	"github.com/getodyssey/odyssey-companion-go/pkg/flowerr"
)

// ErrTimeout is returned when the hard deadline elapses before the check
// reports completion.
var ErrTimeout = flowerr.New(flowerr.CategoryTimeout, "polling deadline exceeded")

// CheckFunc performs one poll attempt. Returning done stops the loop; the
// accompanying error becomes Run's result. A transient error with done
// false is tolerated and polling continues until the deadline.
type CheckFunc func(ctx context.Context) (done bool, err error)

// Config bounds a polling loop.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Run invokes check immediately and then on every interval tick until the
// check completes, the timeout fires, or ctx is cancelled. Once any of
// those happen no further checks run.
func Run(ctx context.Context, cfg Config, check CheckFunc) error {
	if done, err := check(ctx); done {
		return err
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	deadline := time.NewTimer(cfg.Timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return ErrTimeout
		case <-ticker.C:
			if done, err := check(ctx); done {
				return err
			}
		}
	}
}

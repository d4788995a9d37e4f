package orchestrator

import (
	"context"
	"time"
)

// Clock paces the polling loop.
type Clock interface {
	// Wait blocks for d or until ctx is done.
	Wait(ctx context.Context, d time.Duration) error
}

// RealClock waits on a timer.
type RealClock struct{}

func (RealClock) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NoDelay returns immediately. Used by tests and dry runs.
type NoDelay struct{}

func (NoDelay) Wait(ctx context.Context, _ time.Duration) error { return ctx.Err() }

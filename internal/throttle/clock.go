package throttle

import (
	"context"
	"time"
)

// Clock abstracts wall-clock reads so the entirely time-driven throttle
// algorithm can run against a simulated clock in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }

// SleepFunc blocks for the given duration or until the context is done.
// Implementations must return ctx.Err() when interrupted.
type SleepFunc func(ctx context.Context, d time.Duration) error

func systemSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package delivery

import (
	"context"
	"time"
)

// Clock is the worker's source of time. Every pause in the delivery loop goes through it.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

// sleep waits for d, returning early with nil when wake fires or with ctx's error on cancellation.
func sleep(ctx context.Context, clock Clock, d time.Duration, wake <-chan struct{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clock.After(d):
		return nil
	case <-wake:
		return nil
	}
}

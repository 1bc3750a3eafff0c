package async

import (
	"context"
	"time"
)

// Suspender is implemented by executors running tasks on a bounded number of
// workers. A task gives its worker away with Suspend before waiting on
// something, and gets a worker back with Resume. Both are called from the
// task's own go routine only.
type Suspender interface {
	Suspend()
	Resume()
}

type suspenderKey struct{}

type nopSuspender struct{}

func (nopSuspender) Suspend() {}

func (nopSuspender) Resume() {}

// WithSuspender returns a task context bound to s.
func WithSuspender(ctx context.Context, s Suspender) context.Context {
	return context.WithValue(ctx, suspenderKey{}, s)
}

// Detach returns a context for a go routine started by a task. Waiting on it
// never suspends the task, so the task keeps its worker while the go routine
// waits. Any go routine other than the task's own must wait through Detach:
// waiting on the task context from there would hand the worker to another
// task while this one is still running.
func Detach(ctx context.Context) context.Context {
	return WithSuspender(ctx, nopSuspender{})
}

func suspenderFrom(ctx context.Context) Suspender {
	if s, ok := ctx.Value(suspenderKey{}).(Suspender); ok {
		return s
	}
	return nopSuspender{}
}

// Wait waits for ch to be closed (or receive) or ctx done, suspending the
// calling task meanwhile. It never suspends if ch is ready already.
func Wait(ctx context.Context, ch <-chan struct{}) error {
	select {
	case <-ch:
		return nil
	default:
	}

	s := suspenderFrom(ctx)
	s.Suspend()
	defer s.Resume()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sleep pauses the calling task for at least d, or until ctx done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	s := suspenderFrom(ctx)
	s.Suspend()
	defer s.Resume()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Yield lets other ready tasks run before the calling task continues.
func Yield(ctx context.Context) {
	s := suspenderFrom(ctx)
	s.Suspend()
	s.Resume()
}

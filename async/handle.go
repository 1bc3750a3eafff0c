package async

import (
	"context"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
)

// Handle represents the eventual outcome of a submitted task.
//
// Dropping a Handle does not cancel the task.
type Handle struct {
	id    string
	done  chan struct{}
	value interface{}
	err   error
}

// NewHandle creates an unresolved handle with a fresh id. The returned resolve
// function must be called exactly once, by the Spawner implementation.
func NewHandle() (*Handle, func(value interface{}, err error)) {
	h := &Handle{
		id:   uuid.NewV4().String(),
		done: make(chan struct{}),
	}
	return h, h.resolve
}

func (h *Handle) resolve(value interface{}, err error) {
	h.value = value
	h.err = err
	close(h.done)
}

// ID returns the task id.
func (h *Handle) ID() string {
	return h.id
}

// Done is closed once the task resolved.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Poll returns the outcome without waiting. ok is false if the task is still running.
func (h *Handle) Poll() (value interface{}, ok bool, err error) {
	select {
	case <-h.done:
		return h.value, true, h.err
	default:
		return nil, false, nil
	}
}

// Await waits for the outcome. If ctx belongs to a task, the task is
// suspended while waiting. Returns ctx.Err() if ctx is done first; the awaited
// task keeps running in that case.
func (h *Handle) Await(ctx context.Context) (interface{}, error) {
	if err := Wait(ctx, h.done); err != nil {
		return nil, err
	}
	return h.value, h.err
}

// Future is a Handle with a typed result.
type Future[T any] struct {
	*Handle
}

// Await waits for the typed outcome, see Handle.Await. A value of another
// type than T (possible with a custom Spawner) is reported as an error.
func (f Future[T]) Await(ctx context.Context) (T, error) {
	var zero T
	v, err := f.Handle.Await(ctx)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	ret, ok := v.(T)
	if !ok {
		return zero, errors.Errorf("async: task %s resolved %T, want %T", f.ID(), v, zero)
	}
	return ret, nil
}

// Go spawns fn on s with a typed result.
func Go[T any](s Spawner, fn func(ctx context.Context) (T, error)) (Future[T], error) {
	h, err := s.Spawn(func(ctx context.Context) (interface{}, error) {
		return fn(ctx)
	})
	return Future[T]{h}, err
}

// GoBlocking spawns blocking fn on s with a typed result.
func GoBlocking[T any](s Spawner, fn func() (T, error)) (Future[T], error) {
	h, err := s.SpawnBlocking(func() (interface{}, error) {
		return fn()
	})
	return Future[T]{h}, err
}

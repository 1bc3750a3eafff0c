// Package taskrunner defines fire-and-forget pools of goroutines.
//
// The executor package uses a TaskRunner as its blocking pool: synchronous
// work that would otherwise hold one of the executor's worker slots for a long
// time is handed to a TaskRunner instead.
package taskrunner

import (
	"errors"
)

// TaskRunner is an interface to run tasks.
type TaskRunner interface {
	// Submit submits a task to run. The call must not block.
	// Return an error if the task can't be run.
	Submit(task func()) error

	// Close stops the TaskRunner and waits for all tasks finish.
	// Any Submit after Close should return an error.
	Close()
}

// Func adapts a plain "go f()" to TaskRunner. It never rejects a task and
// Close does not wait, suitable for tests and hosts that manage goroutines
// themselves.
type Func func(task func())

var (
	_ TaskRunner = Func(nil)
)

// Go is a TaskRunner running each task in a new go routine.
var Go = Func(func(task func()) { go task() })

// Submit implements TaskRunner.
func (f Func) Submit(task func()) error {
	f(task)
	return nil
}

// Close implements TaskRunner.
func (f Func) Close() {}

var (
	// ErrClosed is returned when task is submitted after closed.
	ErrClosed = errors.New("TaskRunner: Closed")

	// ErrTooBusy is returned when task is submitted but the task runner is too busy to handle.
	ErrTooBusy = errors.New("TaskRunner: Too busy")
)

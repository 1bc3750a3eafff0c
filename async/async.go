// Package async defines the Spawner capability: submitting asynchronous work
// and blocking work, and observing its outcome through a Handle.
//
// Work submitted with Spawn receives a context. Waiting through that context
// (Handle.Await, Wait, Sleep, Yield, RWLock) suspends the task: an executor
// multiplexing tasks over a bounded number of workers is free to run another
// task meanwhile. Long synchronous work should go through SpawnBlocking, which
// runs it on a pool separated from those workers.
package async

import (
	"context"
	"errors"
)

var (
	// ErrShutdown is returned when work is submitted after the spawner was shut down.
	// Tasks abandoned by a shutdown before they started resolve with it as well.
	ErrShutdown = errors.New("async: Shutdown")

	// ErrTooBusy is returned when the blocking pool can't accept more work.
	ErrTooBusy = errors.New("async: Too busy")
)

// Task is a unit of asynchronous work.
//
// It must own everything it captures: it may run on another go routine long
// after the submitter returned.
type Task func(ctx context.Context) (interface{}, error)

// BlockingTask is a unit of synchronous work which may occupy its go routine
// for a long time.
type BlockingTask func() (interface{}, error)

// Spawner is the capability to run work concurrently with the caller.
// Implementations must be safe for concurrent use.
type Spawner interface {
	// Spawn starts task and returns a handle to its outcome. A failure of task
	// (an error or a panic) is delivered through the handle, not returned here.
	Spawn(task Task) (*Handle, error)

	// SpawnBlocking runs fn on a go routine dedicated to blocking work, never
	// on one of the workers serving Spawn.
	SpawnBlocking(fn BlockingTask) (*Handle, error)
}

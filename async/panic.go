package async

import (
	"fmt"

	"github.com/pkg/errors"
)

// PanicError is the failure delivered through a Handle when the task panicked.
// It is recovered on the task's own go routine, so the go routine (and the
// worker it ran on) stays usable.
type PanicError struct {
	// TaskID is the id of the handle of the task.
	TaskID string

	// Value is the value passed to panic.
	Value interface{}

	// err carries the stack at the point of recovery.
	err error
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("async: task %s panic: %v", e.TaskID, e.Value)
}

// Unwrap returns the panic value if it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Format supports %+v to print the stack.
func (e *PanicError) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') {
		fmt.Fprintf(s, "%s%+v", e.Error(), e.err)
		return
	}
	fmt.Fprint(s, e.Error())
}

// IsPanic reports whether err (or its cause) is a *PanicError.
func IsPanic(err error) bool {
	_, ok := errors.Cause(err).(*PanicError)
	return ok
}

// Guard runs fn and converts a panic into a *PanicError tagged with taskID.
func Guard(taskID string, fn func() (interface{}, error)) (value interface{}, err error) {
	defer func() {
		if v := recover(); v != nil {
			value = nil
			err = &PanicError{
				TaskID: taskID,
				Value:  v,
				err:    errors.New(""),
			}
		}
	}()
	return fn()
}

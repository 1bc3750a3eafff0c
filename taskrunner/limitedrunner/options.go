package limitedrunner

import (
	"fmt"
	"time"

	"github.com/huangjunwen/asyncrt/logr"
)

// Option is the option in creating LimitedRunner.
type Option func(*LimitedRunner) error

// Name sets the pool name shown in logs.
func Name(name string) Option {
	return func(r *LimitedRunner) error {
		if name == "" {
			return fmt.Errorf("Name is empty")
		}
		r.name = name
		return nil
	}
}

// MinWorkers sets minimum worker go routines. n >= 1.
func MinWorkers(n int) Option {
	return func(r *LimitedRunner) error {
		if n < 1 {
			return fmt.Errorf("MinWorkers < 1")
		}
		r.minWorkers = n
		return nil
	}
}

// MaxWorkers sets maximum worker go routines. n >= MinWorkers.
func MaxWorkers(n int) Option {
	return func(r *LimitedRunner) error {
		if n < 1 {
			return fmt.Errorf("MaxWorkers < 1")
		}
		r.maxWorkers = n
		return nil
	}
}

// QueueSize sets the task buffered channel. n >= 1.
// Blocking tasks beyond this are rejected with ErrTooBusy.
func QueueSize(n int) Option {
	return func(r *LimitedRunner) error {
		if n < 1 {
			return fmt.Errorf("QueueSize < 1")
		}
		r.queueSize = n
		return nil
	}
}

// IdleTime sets the idle time after which a
// non-persistent worker go routine should exit.
func IdleTime(t time.Duration) Option {
	return func(r *LimitedRunner) error {
		if t < 0 {
			return fmt.Errorf("IdleTime < 0")
		}
		r.idleTime = t
		return nil
	}
}

// Logger sets the logger for panics escaping tasks.
func Logger(l logr.Logger) Option {
	return func(r *LimitedRunner) error {
		r.logger = logr.OrNop(l)
		return nil
	}
}

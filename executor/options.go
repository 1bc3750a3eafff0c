package executor

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/huangjunwen/asyncrt/logr"
	"github.com/huangjunwen/asyncrt/taskrunner"
	"github.com/huangjunwen/asyncrt/taskrunner/limitedrunner"
)

const (
	// DefaultName labels the task go routines and logs of an executor.
	DefaultName = "async-runtime-worker"

	// DefaultWorkers is the number of tasks running at the same time.
	// One means tasks interleave at suspension points but never run in
	// parallel, so they need not be safe for parallel mutation.
	DefaultWorkers = 1

	// DefaultGlobalQueueInterval is the number of dispatches after which
	// newly spawned tasks take precedence over resuming ones.
	DefaultGlobalQueueInterval = 31
)

// Config is the serializable form of executor options. Zero fields keep defaults.
type Config struct {
	// Name labels task go routines (pprof label "runtime") and logs.
	Name string `json:"name"`

	// Workers is the number of worker slots.
	Workers int `json:"workers"`

	// GlobalQueueInterval is the fairness interval, see DefaultGlobalQueueInterval.
	GlobalQueueInterval int `json:"globalQueueInterval"`

	// Blocking pool settings, see package limitedrunner.
	BlockingMinWorkers int           `json:"blockingMinWorkers"`
	BlockingMaxWorkers int           `json:"blockingMaxWorkers"`
	BlockingQueueSize  int           `json:"blockingQueueSize"`
	BlockingIdleTime   time.Duration `json:"blockingIdleTime"`
}

// DefaultConfig returns the fixed tuning used by NewDefault.
func DefaultConfig() Config {
	return Config{
		Name:                DefaultName,
		Workers:             DefaultWorkers,
		GlobalQueueInterval: DefaultGlobalQueueInterval,
		BlockingMinWorkers:  limitedrunner.DefaultMinWorkers,
		BlockingMaxWorkers:  limitedrunner.DefaultMaxWorkers,
		BlockingQueueSize:   limitedrunner.DefaultQueueSize,
		BlockingIdleTime:    limitedrunner.DefaultIdleTime,
	}
}

// Option is the option in creating Executor.
type Option func(*Executor) error

// FromConfig applies the non-zero fields of cfg.
func FromConfig(cfg Config) Option {
	return func(e *Executor) error {
		if cfg.Name != "" {
			if err := Name(cfg.Name)(e); err != nil {
				return err
			}
		}
		if cfg.Workers != 0 {
			if err := Workers(cfg.Workers)(e); err != nil {
				return err
			}
		}
		if cfg.GlobalQueueInterval != 0 {
			if err := GlobalQueueInterval(cfg.GlobalQueueInterval)(e); err != nil {
				return err
			}
		}
		if cfg.BlockingMinWorkers != 0 {
			e.blockingOpts = append(e.blockingOpts, limitedrunner.MinWorkers(cfg.BlockingMinWorkers))
		}
		if cfg.BlockingMaxWorkers != 0 {
			e.blockingOpts = append(e.blockingOpts, limitedrunner.MaxWorkers(cfg.BlockingMaxWorkers))
		}
		if cfg.BlockingQueueSize != 0 {
			e.blockingOpts = append(e.blockingOpts, limitedrunner.QueueSize(cfg.BlockingQueueSize))
		}
		if cfg.BlockingIdleTime != 0 {
			e.blockingOpts = append(e.blockingOpts, limitedrunner.IdleTime(cfg.BlockingIdleTime))
		}
		return nil
	}
}

// Name sets the executor name.
func Name(name string) Option {
	return func(e *Executor) error {
		if name == "" {
			return fmt.Errorf("Name is empty")
		}
		e.name = name
		return nil
	}
}

// Workers sets the number of worker slots. n >= 1.
func Workers(n int) Option {
	return func(e *Executor) error {
		if n < 1 {
			return fmt.Errorf("Workers < 1")
		}
		e.workers = n
		return nil
	}
}

// GlobalQueueInterval sets the fairness interval. n >= 1.
func GlobalQueueInterval(n int) Option {
	return func(e *Executor) error {
		if n < 1 {
			return fmt.Errorf("GlobalQueueInterval < 1")
		}
		e.interval = n
		return nil
	}
}

// BlockingPool sets options of the owned blocking pool.
func BlockingPool(opts ...limitedrunner.Option) Option {
	return func(e *Executor) error {
		e.blockingOpts = append(e.blockingOpts, opts...)
		return nil
	}
}

// BlockingRunner replaces the owned blocking pool with r. The executor does
// not close r.
func BlockingRunner(r taskrunner.TaskRunner) Option {
	return func(e *Executor) error {
		if r == nil {
			return fmt.Errorf("BlockingRunner is nil")
		}
		e.blocking = r
		return nil
	}
}

// Logger sets the logger.
func Logger(l logr.Logger) Option {
	return func(e *Executor) error {
		e.logger = logr.OrNop(l)
		return nil
	}
}

// Registerer registers the executor metrics to reg.
func Registerer(reg prometheus.Registerer) Option {
	return func(e *Executor) error {
		e.registerer = reg
		return nil
	}
}

// Package executor is the default async.Spawner: tasks run on their own go
// routines but at most Workers of them run at a time, interleaving at
// suspension points. Blocking work goes to a separate, dynamically sized pool.
package executor

import (
	"context"
	"fmt"
	"runtime/pprof"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/huangjunwen/asyncrt/async"
	"github.com/huangjunwen/asyncrt/logr"
	"github.com/huangjunwen/asyncrt/taskrunner"
	"github.com/huangjunwen/asyncrt/taskrunner/limitedrunner"
)

var (
	_ async.Spawner = (*Executor)(nil)
)

// Executor implements async.Spawner.
//
// A panic in a task is recovered on the task's own go routine and delivered
// as *async.PanicError through its handle; the worker slot is given back, so
// the executor stays usable after any number of task panics.
type Executor struct {
	name       string
	workers    int
	interval   int
	logger     logr.Logger
	registerer prometheus.Registerer

	blocking     taskrunner.TaskRunner
	blockingOpts []limitedrunner.Option
	ownBlocking  bool

	sched   *scheduler
	metrics *metrics
	baseCtx context.Context
	cancel  context.CancelFunc

	wg          sync.WaitGroup // async tasks
	blockingWG  sync.WaitGroup // blocking tasks
	abandoned   int32
	closeOnce   sync.Once
	releaseOnce sync.Once

	mu     sync.RWMutex
	closed bool
}

// Must creates an Executor or panic.
func Must(opts ...Option) *Executor {
	ret, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return ret
}

// NewDefault creates an Executor with DefaultConfig: a single worker slot,
// DefaultGlobalQueueInterval and DefaultName. Each call creates an
// independent executor.
func NewDefault() *Executor {
	return Must()
}

// New creates a new Executor, starting from DefaultConfig.
func New(opts ...Option) (*Executor, error) {
	e := &Executor{
		name:     DefaultName,
		workers:  DefaultWorkers,
		interval: DefaultGlobalQueueInterval,
		logger:   logr.Nop,
	}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	e.logger = e.logger.WithValues("runtime", e.name)

	if e.blocking == nil {
		opts := append([]limitedrunner.Option{
			limitedrunner.Name(e.name + "-blocking"),
			limitedrunner.Logger(e.logger),
		}, e.blockingOpts...)
		r, err := limitedrunner.New(opts...)
		if err != nil {
			return nil, errors.Wrap(err, "New blocking pool")
		}
		e.blocking = r
		e.ownBlocking = true
	}

	e.sched = newScheduler(e.workers, e.interval)
	e.metrics = newMetrics(e.name, func() float64 {
		return float64(e.sched.pending())
	})
	if e.registerer != nil {
		if err := e.metrics.register(e.registerer); err != nil {
			if e.ownBlocking {
				e.blocking.Close()
			}
			return nil, errors.Wrap(err, "New register metrics")
		}
	}

	e.baseCtx, e.cancel = context.WithCancel(context.Background())

	e.logger.Info("Executor started", "workers", e.workers, "globalQueueInterval", e.interval)
	return e, nil
}

// Name returns the executor name.
func (e *Executor) Name() string {
	return e.name
}

// Spawn implements async.Spawner. Returns async.ErrShutdown after Close or Shutdown.
//
// The task context is cancelled only if a Shutdown gives up waiting.
func (e *Executor) Spawn(task async.Task) (*async.Handle, error) {
	if task == nil {
		panic(fmt.Errorf("Executor.Spawn(nil)"))
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, async.ErrShutdown
	}

	h, resolve := async.NewHandle()
	e.wg.Add(1)
	e.metrics.spawned.WithLabelValues(kindAsync).Inc()
	e.metrics.inflight.Inc()
	go e.runTask(h.ID(), task, resolve)
	return h, nil
}

func (e *Executor) runTask(id string, task async.Task, resolve func(interface{}, error)) {
	defer e.wg.Done()
	defer e.metrics.inflight.Dec()

	e.sched.acquire(false)
	defer e.sched.release()

	if atomic.LoadInt32(&e.abandoned) != 0 {
		resolve(nil, async.ErrShutdown)
		return
	}

	var (
		value interface{}
		err   error
	)
	ctx := async.WithSuspender(e.baseCtx, &taskSuspender{sched: e.sched})
	pprof.Do(ctx, pprof.Labels("runtime", e.name, "task", id), func(ctx context.Context) {
		value, err = async.Guard(id, func() (interface{}, error) {
			return task(ctx)
		})
	})

	if async.IsPanic(err) {
		e.metrics.panicked.WithLabelValues(kindAsync).Inc()
		e.logger.Error(err, "Task panic", "task", id)
	}
	resolve(value, err)
}

// SpawnBlocking implements async.Spawner. Returns async.ErrShutdown after
// Close or Shutdown, and an error with cause async.ErrTooBusy if the blocking
// pool queue is full.
func (e *Executor) SpawnBlocking(fn async.BlockingTask) (*async.Handle, error) {
	if fn == nil {
		panic(fmt.Errorf("Executor.SpawnBlocking(nil)"))
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, async.ErrShutdown
	}

	h, resolve := async.NewHandle()
	id := h.ID()
	e.blockingWG.Add(1)
	err := e.blocking.Submit(func() {
		defer e.blockingWG.Done()
		if atomic.LoadInt32(&e.abandoned) != 0 {
			resolve(nil, async.ErrShutdown)
			return
		}
		value, err := async.Guard(id, fn)
		if async.IsPanic(err) {
			e.metrics.panicked.WithLabelValues(kindBlocking).Inc()
			e.logger.Error(err, "Blocking task panic", "task", id)
		}
		resolve(value, err)
	})

	switch err {
	case nil:
		e.metrics.spawned.WithLabelValues(kindBlocking).Inc()
		return h, nil
	case taskrunner.ErrTooBusy:
		e.blockingWG.Done()
		return nil, errors.Wrap(async.ErrTooBusy, "Executor.SpawnBlocking")
	case taskrunner.ErrClosed:
		e.blockingWG.Done()
		return nil, async.ErrShutdown
	default:
		e.blockingWG.Done()
		return nil, errors.Wrap(err, "Executor.SpawnBlocking")
	}
}

// Close rejects further submissions, then waits for all in-flight tasks
// (async and blocking) to finish.
func (e *Executor) Close() {
	e.stopSpawn()
	e.wg.Wait()
	e.blockingWG.Wait()
	e.releaseBlocking()
	e.logger.Info("Executor closed")
}

// Shutdown is Close bounded by ctx. If ctx is done first, in-flight tasks are
// abandoned: their contexts are cancelled, tasks not started yet (async ones
// waiting for a worker, blocking ones waiting in the pool queue) resolve with
// async.ErrShutdown without running, and ctx.Err() is returned. Resources are
// released in background once the remaining tasks return.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.stopSpawn()

	doneCh := make(chan struct{})
	go func() {
		e.wg.Wait()
		e.blockingWG.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		e.releaseBlocking()
		e.logger.Info("Executor shutdown")
		return nil

	case <-ctx.Done():
		atomic.StoreInt32(&e.abandoned, 1)
		e.cancel()
		e.logger.Info("Executor shutdown: tasks abandoned", "pending", e.sched.pending())
		go func() {
			<-doneCh
			e.releaseBlocking()
		}()
		return ctx.Err()
	}
}

func (e *Executor) stopSpawn() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
	})
}

func (e *Executor) releaseBlocking() {
	e.releaseOnce.Do(func() {
		if e.ownBlocking {
			e.blocking.Close()
		}
		if e.registerer != nil {
			e.metrics.unregister(e.registerer)
		}
		if e.cancel != nil {
			e.cancel()
		}
	})
}

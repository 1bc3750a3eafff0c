package limitedrunner

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/huangjunwen/asyncrt/logr"
	"github.com/huangjunwen/asyncrt/taskrunner"
)

const (
	// Default minimum go routines to handle blocking tasks.
	DefaultMinWorkers = 1

	// Default maximum go routines to handle blocking tasks.
	DefaultMaxWorkers = 512

	// Default queue size.
	DefaultQueueSize = 4 * 4096

	// Default idle time for non-persistent worker before quit.
	DefaultIdleTime = 10 * time.Second

	// Default name used in logs.
	DefaultName = "blocking-pool"
)

var (
	nop                       = func() {}
	_   taskrunner.TaskRunner = (*LimitedRunner)(nil)
)

// Stats is a snapshot of a LimitedRunner.
type Stats struct {
	// Workers is the number of worker quotas in use, see LimitedRunner.Workers.
	Workers int `json:"workers"`

	// Queued is the number of tasks waiting for a worker.
	Queued int `json:"queued"`

	// Panics is the number of tasks recovered from a panic.
	Panics uint64 `json:"panics"`
}

// LimitedRunner implements taskrunner interface. It starts with some persistent
// worker go routines (MinWorkers) which will not exit until Close.
// New worker go routines (up to MaxWorkers - MinWorkers)
// maybe created when workload increases, and will exit after some
// idle time (IdleTime).
//
// Tasks are submitted to a buffered channel (size is QueueSize) and distributed to all workers.
// A panicking task is recovered and logged, the worker keeps serving.
type LimitedRunner struct {
	panics uint64 // atomic, first for 64-bit alignment

	name       string
	minWorkers int // at least 1
	maxWorkers int // at least minWorkers
	queueSize  int // at least 1
	idleTime   time.Duration
	logger     logr.Logger

	workerCh chan struct{} // to limit the number of workers
	taskCh   chan func()   // buffered task channel
	wg       sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// Must creates a LimitedRunner or panic.
func Must(opts ...Option) *LimitedRunner {
	ret, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return ret
}

// New creates a new LimitedRunner.
func New(opts ...Option) (*LimitedRunner, error) {
	r := &LimitedRunner{
		name:       DefaultName,
		minWorkers: DefaultMinWorkers,
		maxWorkers: DefaultMaxWorkers,
		queueSize:  DefaultQueueSize,
		idleTime:   DefaultIdleTime,
		logger:     logr.Nop,
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}

	if r.maxWorkers < r.minWorkers {
		return nil, fmt.Errorf("New: MaxWorkers(%d) < MinWorkers(%d)", r.maxWorkers, r.minWorkers)
	}

	r.logger = r.logger.WithValues("pool", r.name)
	r.workerCh = make(chan struct{}, r.maxWorkers)
	r.taskCh = make(chan func(), r.queueSize)

	for i := 0; i < r.minWorkers; i++ {
		r.workerCh <- struct{}{}
		r.wg.Add(1)
		go r.workerLoop(true, nop)
	}

	if r.maxWorkers > r.minWorkers {
		r.wg.Add(1)
		go r.managerLoop()
	}

	return r, nil
}

// managerLoop is used to fork non-persistent worker go routines.
func (r *LimitedRunner) managerLoop() {
	defer r.wg.Done()

	for {
		r.workerCh <- struct{}{} // We need worker quota.
		task := <-r.taskCh
		if task == nil {
			<-r.workerCh
			return
		}
		r.wg.Add(1)
		go r.workerLoop(false, task)
	}
}

// idleTimer fires when a non-persistent worker waited too long for a task.
// For persistent workers C is nil and never fires.
type idleTimer struct {
	C <-chan time.Time
	t *time.Timer
	d time.Duration
}

func newIdleTimer(persistent bool, d time.Duration) *idleTimer {
	it := &idleTimer{d: d}
	if persistent {
		return it
	}
	it.t = time.NewTimer(d)
	it.C = it.t.C
	it.stop()
	return it
}

// start arms the timer. The timer must be stopped or expired and drained.
func (it *idleTimer) start() {
	if it.t != nil {
		it.t.Reset(it.d)
	}
}

// stop disarms a started timer whose channel is not drained yet.
func (it *idleTimer) stop() {
	if it.t != nil && !it.t.Stop() {
		<-it.t.C
	}
}

// workerLoop runs blocking tasks until taskCh closed, or until idle long enough
// for non-persistent workers. It owns one worker quota.
func (r *LimitedRunner) workerLoop(persistent bool, task func()) {
	defer func() {
		<-r.workerCh
		r.wg.Done()
	}()

	idle := newIdleTimer(persistent, r.idleTime)
	for {
		r.run(task)

		idle.start()
		select {
		case task = <-r.taskCh:
			idle.stop()
			if task == nil {
				return
			}

		case <-idle.C:
			return
		}
	}
}

func (r *LimitedRunner) run(task func()) {
	defer func() {
		if v := recover(); v != nil {
			atomic.AddUint64(&r.panics, 1)
			r.logger.Error(fmt.Errorf("%v", v), "blocking task panic")
		}
	}()
	task()
}

// Submit implements taskrunner interface. Returns ErrTooBusy if task queue
// (the buffered channel) is full at this moment.
func (r *LimitedRunner) Submit(task func()) error {
	if task == nil {
		panic(fmt.Errorf("LimitedRunner.Submit(nil)"))
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return taskrunner.ErrClosed
	}

	select {
	case r.taskCh <- task:
		return nil

	default:
		return taskrunner.ErrTooBusy
	}

}

// Workers returns the number of worker go routines (including the quota held
// by the manager go routine while it waits for a task).
func (r *LimitedRunner) Workers() int {
	return len(r.workerCh)
}

// Queued returns the number of tasks waiting for a worker.
func (r *LimitedRunner) Queued() int {
	return len(r.taskCh)
}

// Stats returns a snapshot of the runner.
func (r *LimitedRunner) Stats() Stats {
	return Stats{
		Workers: r.Workers(),
		Queued:  r.Queued(),
		Panics:  atomic.LoadUint64(&r.panics),
	}
}

// Close implements taskrunner interface. Returns when all submitted task finished.
func (r *LimitedRunner) Close() {

	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.taskCh)
	}
	r.mu.Unlock()

	// Wait workers and manager.
	r.wg.Wait()

	if l := len(r.taskCh); l != 0 {
		panic(fmt.Errorf("len(taskCh) = %d in Close()", l))
	}
	if l := len(r.workerCh); l != 0 {
		panic(fmt.Errorf("len(workerCh) = %d in Close()", l))
	}
}

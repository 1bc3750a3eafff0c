package executor

import (
	"sync"

	"github.com/eapache/queue"
)

// scheduler hands out a fixed number of worker slots. A task holds a slot
// while running and gives it back whenever it suspends.
//
// Ready tasks wait in one of two FIFO queues: global for newly spawned tasks,
// local for suspended tasks resuming. Local is served first, except every
// interval-th dispatch which serves global first, so a steady stream of
// resuming tasks can not starve new ones.
type scheduler struct {
	interval uint64

	mu     sync.Mutex
	free   int
	tick   uint64
	local  *queue.Queue // of chan struct{}
	global *queue.Queue // of chan struct{}
}

func newScheduler(workers, interval int) *scheduler {
	return &scheduler{
		interval: uint64(interval),
		free:     workers,
		local:    queue.New(),
		global:   queue.New(),
	}
}

// acquire waits for a worker slot.
func (s *scheduler) acquire(resume bool) {
	s.mu.Lock()
	// NOTE: free > 0 implies both queues are empty, see dispatchLocked.
	if s.free > 0 {
		s.free--
		s.mu.Unlock()
		return
	}
	ch := make(chan struct{})
	if resume {
		s.local.Add(ch)
	} else {
		s.global.Add(ch)
	}
	s.mu.Unlock()
	<-ch
}

// release gives a worker slot back.
func (s *scheduler) release() {
	s.mu.Lock()
	s.free++
	s.dispatchLocked()
	s.mu.Unlock()
}

// pending returns the number of tasks waiting for a slot.
func (s *scheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local.Length() + s.global.Length()
}

func (s *scheduler) dispatchLocked() {
	for s.free > 0 {
		ch := s.nextLocked()
		if ch == nil {
			return
		}
		s.free--
		close(ch)
	}
}

func (s *scheduler) nextLocked() chan struct{} {
	if s.local.Length() == 0 && s.global.Length() == 0 {
		return nil
	}
	s.tick++
	first, second := s.local, s.global
	if s.tick%s.interval == 0 {
		first, second = s.global, s.local
	}
	if first.Length() != 0 {
		return first.Remove().(chan struct{})
	}
	return second.Remove().(chan struct{})
}

// taskSuspender binds a running task to the scheduler. Only the task's own
// go routine may wait on the task context; go routines started by the task
// wait through async.Detach contexts. Suspend and Resume are idempotent, so
// whatever the misuse a task holds at most one slot and never releases one
// it doesn't hold.
type taskSuspender struct {
	sched *scheduler

	mu        sync.Mutex
	suspended bool
}

func (t *taskSuspender) Suspend() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.suspended {
		return
	}
	t.suspended = true
	t.sched.release()
}

func (t *taskSuspender) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.suspended {
		return
	}
	t.sched.acquire(true)
	t.suspended = false
}

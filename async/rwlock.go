package async

import (
	"context"
	"sync"

	"github.com/eapache/queue"
)

// RWLock is a reader/writer lock protecting a value of type T, for use by tasks.
//
// Acquisition suspends the calling task instead of holding its worker. Waiters
// are served in FIFO order: once a writer is queued, later readers queue
// behind it, so writers are not starved.
//
// Create one with NewRWLock, the zero value is not usable.
//
// The lock is not poisoned by a panic. A task panicking while holding a
// WriteGuard without a deferred Unlock leaves the lock held forever.
type RWLock[T any] struct {
	mu      sync.Mutex
	readers int
	writer  bool
	waiters *queue.Queue // of *rwWaiter
	value   T
}

type rwWaiter struct {
	write     bool
	ready     chan struct{}
	granted   bool
	cancelled bool
}

// NewRWLock creates a RWLock protecting value.
func NewRWLock[T any](value T) *RWLock[T] {
	return &RWLock[T]{
		waiters: queue.New(),
		value:   value,
	}
}

// Read acquires a shared read guard.
func (l *RWLock[T]) Read(ctx context.Context) (*ReadGuard[T], error) {
	if err := l.acquire(ctx, false); err != nil {
		return nil, err
	}
	return &ReadGuard[T]{l: l}, nil
}

// Write acquires the exclusive write guard.
func (l *RWLock[T]) Write(ctx context.Context) (*WriteGuard[T], error) {
	if err := l.acquire(ctx, true); err != nil {
		return nil, err
	}
	return &WriteGuard[T]{l: l}, nil
}

// TryRead acquires a read guard only if that is possible without waiting.
func (l *RWLock[T]) TryRead() (*ReadGuard[T], bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.availableLocked(false) {
		return nil, false
	}
	l.readers++
	return &ReadGuard[T]{l: l}, true
}

// TryWrite acquires the write guard only if that is possible without waiting.
func (l *RWLock[T]) TryWrite() (*WriteGuard[T], bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.availableLocked(true) {
		return nil, false
	}
	l.writer = true
	return &WriteGuard[T]{l: l}, true
}

// availableLocked reports whether a new request can be granted right away.
func (l *RWLock[T]) availableLocked(write bool) bool {
	if l.writer || l.waiters.Length() != 0 {
		return false
	}
	return !write || l.readers == 0
}

func (l *RWLock[T]) acquire(ctx context.Context, write bool) error {
	l.mu.Lock()
	if l.availableLocked(write) {
		if write {
			l.writer = true
		} else {
			l.readers++
		}
		l.mu.Unlock()
		return nil
	}
	w := &rwWaiter{
		write: write,
		ready: make(chan struct{}),
	}
	l.waiters.Add(w)
	l.mu.Unlock()

	err := Wait(ctx, w.ready)
	if err == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if w.granted {
		// Granted while giving up: succeed instead of leaking the grant.
		return nil
	}
	w.cancelled = true
	// A cancelled writer at the head may be holding back readers.
	l.wakeLocked()
	return err
}

// wakeLocked grants queued waiters in FIFO order as long as they are compatible
// with current holders.
func (l *RWLock[T]) wakeLocked() {
	for l.waiters.Length() != 0 {
		w := l.waiters.Peek().(*rwWaiter)
		if w.cancelled {
			l.waiters.Remove()
			continue
		}
		if w.write {
			if l.writer || l.readers != 0 {
				return
			}
			l.writer = true
		} else {
			if l.writer {
				return
			}
			l.readers++
		}
		l.waiters.Remove()
		w.granted = true
		close(w.ready)
		if w.write {
			return
		}
	}
}

func (l *RWLock[T]) unlockRead() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readers--
	if l.readers < 0 {
		panic("async: RWLock read unlock of unlocked lock")
	}
	l.wakeLocked()
}

func (l *RWLock[T]) unlockWrite() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.writer {
		panic("async: RWLock write unlock of unlocked lock")
	}
	l.writer = false
	l.wakeLocked()
}

// ReadGuard is a held shared lock.
type ReadGuard[T any] struct {
	l    *RWLock[T]
	once sync.Once
}

// Value returns a copy of the protected value.
func (g *ReadGuard[T]) Value() T {
	return g.l.value
}

// Unlock releases the guard. Calling it more than once is a no-op.
func (g *ReadGuard[T]) Unlock() {
	g.once.Do(g.l.unlockRead)
}

// WriteGuard is a held exclusive lock.
type WriteGuard[T any] struct {
	l    *RWLock[T]
	once sync.Once
}

// Value returns a pointer to the protected value, valid until Unlock.
func (g *WriteGuard[T]) Value() *T {
	return &g.l.value
}

// Set replaces the protected value.
func (g *WriteGuard[T]) Set(value T) {
	g.l.value = value
}

// Unlock releases the guard. Calling it more than once is a no-op.
func (g *WriteGuard[T]) Unlock() {
	g.once.Do(g.l.unlockWrite)
}

// WithRead runs fn with the value under a read guard.
func WithRead[T any](ctx context.Context, l *RWLock[T], fn func(T) error) error {
	g, err := l.Read(ctx)
	if err != nil {
		return err
	}
	defer g.Unlock()
	return fn(g.Value())
}

// WithWrite runs fn with the value under the write guard. The guard is
// released even if fn panics.
func WithWrite[T any](ctx context.Context, l *RWLock[T], fn func(*T) error) error {
	g, err := l.Write(ctx)
	if err != nil {
		return err
	}
	defer g.Unlock()
	return fn(g.Value())
}

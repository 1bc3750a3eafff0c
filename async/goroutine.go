package async

import (
	"context"
	"sync"
)

var (
	_ Spawner = (*Goroutine)(nil)
)

// Goroutine is a Spawner starting a new go routine for every task, blocking or
// not. There is no worker limit so nothing needs to be suspended. It suits
// tests and hosts which already bound concurrency elsewhere.
//
// The zero value is ready to use.
type Goroutine struct {
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// Spawn implements Spawner.
func (g *Goroutine) Spawn(task Task) (*Handle, error) {
	if task == nil {
		panic("Goroutine.Spawn(nil)")
	}
	return g.start(func(id string) (interface{}, error) {
		return Guard(id, func() (interface{}, error) {
			return task(context.Background())
		})
	})
}

// SpawnBlocking implements Spawner.
func (g *Goroutine) SpawnBlocking(fn BlockingTask) (*Handle, error) {
	if fn == nil {
		panic("Goroutine.SpawnBlocking(nil)")
	}
	return g.start(func(id string) (interface{}, error) {
		return Guard(id, fn)
	})
}

func (g *Goroutine) start(run func(id string) (interface{}, error)) (*Handle, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.closed {
		return nil, ErrShutdown
	}

	h, resolve := NewHandle()
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		resolve(run(h.ID()))
	}()
	return h, nil
}

// Close rejects further submissions and waits for all started tasks.
func (g *Goroutine) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	g.wg.Wait()
}

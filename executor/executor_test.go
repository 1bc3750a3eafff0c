package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huangjunwen/asyncrt/async"
	"github.com/huangjunwen/asyncrt/logr/zerologr"
	"github.com/huangjunwen/asyncrt/taskrunner"
	"github.com/huangjunwen/asyncrt/taskrunner/limitedrunner"
)

var (
	testErr = errors.New("test error")
	bg      = context.Background()
)

func TestNew(t *testing.T) {
	assert := assert.New(t)

	{
		_, err := New(Workers(0))
		assert.Error(err)
	}
	{
		_, err := New(GlobalQueueInterval(0))
		assert.Error(err)
	}
	{
		_, err := New(Name(""))
		assert.Error(err)
	}
	{
		_, err := New(BlockingRunner(nil))
		assert.Error(err)
	}
	{
		_, err := New(BlockingPool(limitedrunner.MinWorkers(2), limitedrunner.MaxWorkers(1)))
		assert.Error(err)
	}
	{
		_, err := New(FromConfig(Config{Workers: -1}))
		assert.Error(err)
	}
	{
		assert.Panics(func() {
			Must(Workers(0))
		})
	}
	{
		e := NewDefault()
		defer e.Close()
		assert.Equal(DefaultName, e.Name())
		assert.Equal(DefaultWorkers, e.workers)
		assert.Equal(DefaultGlobalQueueInterval, e.interval)
		assert.True(e.ownBlocking)
	}
}

func TestConfig(t *testing.T) {
	assert := assert.New(t)

	cfg := DefaultConfig()
	assert.Equal(1, cfg.Workers)
	assert.Equal(31, cfg.GlobalQueueInterval)

	{
		c := Config{}
		assert.NoError(json.Unmarshal([]byte(`{"name":"cfg","workers":4,"globalQueueInterval":7,"blockingMaxWorkers":8}`), &c))
		e, err := New(FromConfig(c))
		require.NoError(t, err)
		defer e.Close()
		assert.Equal("cfg", e.Name())
		assert.Equal(4, e.workers)
		assert.Equal(7, e.interval)
	}
	{
		e, err := New(FromConfig(Config{BlockingMinWorkers: 3, BlockingMaxWorkers: 2}))
		assert.Error(err)
		assert.Nil(e)
	}
}

func TestSpawnResult(t *testing.T) {
	assert := assert.New(t)

	e := NewDefault()
	defer e.Close()

	{
		f, err := async.Go(e, func(ctx context.Context) (int, error) { return 42, nil })
		require.NoError(t, err)
		v, err := f.Await(bg)
		assert.NoError(err)
		assert.Equal(42, v)
	}
	{
		f, err := async.GoBlocking(e, func() (string, error) { return "blocking", nil })
		require.NoError(t, err)
		v, err := f.Await(bg)
		assert.NoError(err)
		assert.Equal("blocking", v)
	}
	{
		h, err := e.Spawn(func(ctx context.Context) (interface{}, error) { return nil, testErr })
		require.NoError(t, err)
		_, err = h.Await(bg)
		assert.Equal(testErr, err)
	}

	assert.Panics(func() { e.Spawn(nil) })
	assert.Panics(func() { e.SpawnBlocking(nil) })
}

func TestSpawnPanic(t *testing.T) {
	assert := assert.New(t)

	buf := &strings.Builder{}
	mu := &sync.Mutex{}
	logger := zerolog.New(&lockedWriter{mu: mu, w: buf})

	e := Must(Logger(zerologr.New(logger)))

	for i := 0; i < 3; i++ {
		h, err := e.Spawn(func(ctx context.Context) (interface{}, error) {
			panic(fmt.Errorf("async boom"))
		})
		require.NoError(t, err)
		_, err = h.Await(bg)
		assert.True(async.IsPanic(err))
		assert.Equal(h.ID(), errors.Cause(err).(*async.PanicError).TaskID)
	}
	{
		h, err := e.SpawnBlocking(func() (interface{}, error) {
			panic("blocking boom")
		})
		require.NoError(t, err)
		_, err = h.Await(bg)
		assert.True(async.IsPanic(err))
	}

	// The single worker is still usable.
	{
		f, err := async.Go(e, func(ctx context.Context) (string, error) { return "alive", nil })
		require.NoError(t, err)
		v, err := f.Await(bg)
		assert.NoError(err)
		assert.Equal("alive", v)
	}

	e.Close()

	mu.Lock()
	out := buf.String()
	mu.Unlock()
	assert.Contains(out, "async boom")
	assert.Contains(out, "blocking boom")
	assert.Contains(out, `"runtime":"async-runtime-worker"`)
}

type lockedWriter struct {
	mu *sync.Mutex
	w  *strings.Builder
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(p)
}

func TestCooperativeConcurrency(t *testing.T) {
	assert := assert.New(t)

	e := NewDefault()
	defer e.Close()

	// Suspending tasks interleave on the single worker.
	{
		start := time.Now()
		handles := []*async.Handle{}
		for i := 0; i < 3; i++ {
			i := i
			h, err := e.Spawn(func(ctx context.Context) (interface{}, error) {
				if err := async.Sleep(ctx, 50*time.Millisecond); err != nil {
					return nil, err
				}
				return i, nil
			})
			require.NoError(t, err)
			handles = append(handles, h)
		}
		values, err := async.JoinAll(bg, handles...)
		dur := time.Since(start)
		assert.NoError(err)
		assert.Equal([]interface{}{0, 1, 2}, values)
		assert.True(dur < 120*time.Millisecond, "took %s", dur)
	}

	// Tasks blocking their go routine without suspending hold the worker.
	{
		start := time.Now()
		handles := []*async.Handle{}
		for i := 0; i < 3; i++ {
			h, err := e.Spawn(func(ctx context.Context) (interface{}, error) {
				time.Sleep(30 * time.Millisecond)
				return nil, nil
			})
			require.NoError(t, err)
			handles = append(handles, h)
		}
		_, err := async.JoinAll(bg, handles...)
		assert.NoError(err)
		assert.True(time.Since(start) >= 90*time.Millisecond)
	}
}

func TestSingleWorkerExclusive(t *testing.T) {
	assert := assert.New(t)

	e := NewDefault()
	defer e.Close()

	// With one worker, no two tasks run between suspension points at the same time.
	var (
		mu      sync.Mutex
		running int
		maxRun  int
	)
	enter := func() {
		mu.Lock()
		running++
		if running > maxRun {
			maxRun = running
		}
		mu.Unlock()
	}
	leave := func() {
		mu.Lock()
		running--
		mu.Unlock()
	}

	handles := []*async.Handle{}
	for i := 0; i < 10; i++ {
		h, err := e.Spawn(func(ctx context.Context) (interface{}, error) {
			for j := 0; j < 3; j++ {
				enter()
				time.Sleep(time.Millisecond)
				leave()
				async.Yield(ctx)
			}
			return nil, nil
		})
		require.NoError(t, err)
		handles = append(handles, h)
	}
	_, err := async.JoinAll(bg, handles...)
	assert.NoError(err)
	assert.Equal(1, maxRun)

	// A go routine started by a task waits through a detached context: the
	// task keeps the worker while it runs without suspending.
	{
		childWaitingCh := make(chan struct{})
		a, err := e.Spawn(func(ctx context.Context) (interface{}, error) {
			enter()
			defer leave()
			childDoneCh := make(chan error, 1)
			go func() {
				close(childWaitingCh)
				childDoneCh <- async.Sleep(async.Detach(ctx), 60*time.Millisecond)
			}()
			time.Sleep(40 * time.Millisecond)
			return nil, <-childDoneCh
		})
		require.NoError(t, err)
		<-childWaitingCh

		b, err := e.Spawn(func(ctx context.Context) (interface{}, error) {
			enter()
			defer leave()
			time.Sleep(10 * time.Millisecond)
			return nil, nil
		})
		require.NoError(t, err)

		_, err = async.JoinAll(bg, a, b)
		assert.NoError(err)
		assert.Equal(1, maxRun)
	}
}

func TestSpawnBlockingSeparated(t *testing.T) {
	assert := assert.New(t)

	e := NewDefault()
	defer e.Close()

	blocking, err := e.SpawnBlocking(func() (interface{}, error) {
		time.Sleep(200 * time.Millisecond)
		return "blocking", nil
	})
	require.NoError(t, err)
	nonBlocking, err := e.Spawn(func(ctx context.Context) (interface{}, error) {
		return "non-blocking", nil
	})
	require.NoError(t, err)

	select {
	case <-nonBlocking.Done():
	case <-blocking.Done():
		assert.Fail("blocking task resolved first")
	}
	_, ok, _ := blocking.Poll()
	assert.False(ok)

	// A task awaiting blocking work gives its worker away meanwhile.
	{
		h, err := e.Spawn(func(ctx context.Context) (interface{}, error) {
			return blocking.Await(ctx)
		})
		require.NoError(t, err)

		f, err := async.Go(e, func(ctx context.Context) (int, error) { return 1, nil })
		require.NoError(t, err)
		_, err = f.Await(bg)
		assert.NoError(err)
		_, ok, _ := h.Poll()
		assert.False(ok)

		v, err := h.Await(bg)
		assert.NoError(err)
		assert.Equal("blocking", v)
	}
}

func TestSpawnBlockingTooBusy(t *testing.T) {
	assert := assert.New(t)

	e := Must(BlockingPool(
		limitedrunner.MinWorkers(1),
		limitedrunner.MaxWorkers(1),
		limitedrunner.QueueSize(1),
	))
	defer e.Close()

	stopCh := make(chan struct{})
	startedCh := make(chan struct{})
	_, err := e.SpawnBlocking(func() (interface{}, error) {
		close(startedCh)
		<-stopCh
		return nil, nil
	})
	require.NoError(t, err)
	<-startedCh

	_, err = e.SpawnBlocking(func() (interface{}, error) { return nil, nil }) // queued
	assert.NoError(err)

	_, err = e.SpawnBlocking(func() (interface{}, error) { return nil, nil })
	assert.Equal(async.ErrTooBusy, errors.Cause(err))

	close(stopCh)
}

func TestBlockingRunner(t *testing.T) {
	assert := assert.New(t)

	count := 0
	runner := taskrunner.Func(func(task func()) {
		count++
		go task()
	})

	e := Must(BlockingRunner(runner))
	assert.False(e.ownBlocking)

	f, err := async.GoBlocking(e, func() (int, error) { return 7, nil })
	require.NoError(t, err)
	v, err := f.Await(bg)
	assert.NoError(err)
	assert.Equal(7, v)
	assert.Equal(1, count)

	e.Close()
}

func TestNestedSpawn(t *testing.T) {
	assert := assert.New(t)

	e := NewDefault()
	defer e.Close()

	// Awaiting a child on the single worker must not dead lock.
	f, err := async.Go(e, func(ctx context.Context) (int, error) {
		child, err := async.Go(e, func(ctx context.Context) (int, error) {
			return 20, nil
		})
		if err != nil {
			return 0, err
		}
		v, err := child.Await(ctx)
		return v + 1, err
	})
	require.NoError(t, err)
	v, err := f.Await(bg)
	assert.NoError(err)
	assert.Equal(21, v)
}

func TestRWLockInTasks(t *testing.T) {
	assert := assert.New(t)

	e := NewDefault()
	defer e.Close()

	l := async.NewRWLock(0)
	writeLockedCh := make(chan struct{})

	writer, err := e.Spawn(func(ctx context.Context) (interface{}, error) {
		g, err := l.Write(ctx)
		if err != nil {
			return nil, err
		}
		defer g.Unlock()
		close(writeLockedCh)
		// Suspend while holding the lock: the reader must be able to run
		// (and wait on the lock) on the single worker.
		if err := async.Sleep(ctx, 30*time.Millisecond); err != nil {
			return nil, err
		}
		g.Set(1)
		return nil, nil
	})
	require.NoError(t, err)
	<-writeLockedCh

	reader, err := async.Go(e, func(ctx context.Context) (int, error) {
		g, err := l.Read(ctx)
		if err != nil {
			return 0, err
		}
		defer g.Unlock()
		return g.Value(), nil
	})
	require.NoError(t, err)

	v, err := reader.Await(bg)
	assert.NoError(err)
	assert.Equal(1, v)
	_, err = writer.Await(bg)
	assert.NoError(err)
}

func TestClose(t *testing.T) {
	assert := assert.New(t)

	e := NewDefault()

	mu := &sync.Mutex{}
	finished := 0
	for i := 0; i < 5; i++ {
		_, err := e.Spawn(func(ctx context.Context) (interface{}, error) {
			async.Sleep(ctx, 10*time.Millisecond)
			mu.Lock()
			finished++
			mu.Unlock()
			return nil, nil
		})
		require.NoError(t, err)
		_, err = e.SpawnBlocking(func() (interface{}, error) {
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			finished++
			mu.Unlock()
			return nil, nil
		})
		require.NoError(t, err)
	}

	e.Close() // waits all in-flight tasks
	assert.Equal(10, finished)

	for i := 0; i < 3; i++ {
		_, err := e.Spawn(func(ctx context.Context) (interface{}, error) { return nil, nil })
		assert.Equal(async.ErrShutdown, err)
		_, err = e.SpawnBlocking(func() (interface{}, error) { return nil, nil })
		assert.Equal(async.ErrShutdown, err)
	}

	// Idempotent.
	e.Close()
	assert.NoError(e.Shutdown(bg))
}

func TestShutdownAbandon(t *testing.T) {
	assert := assert.New(t)

	e := NewDefault()

	// waiter suspends until its context is cancelled.
	waitingCh := make(chan struct{})
	waiter, err := e.Spawn(func(ctx context.Context) (interface{}, error) {
		close(waitingCh)
		return nil, async.Wait(ctx, make(chan struct{}))
	})
	require.NoError(t, err)
	<-waitingCh

	// holder occupies the single worker without suspending.
	holdCh := make(chan struct{})
	holdingCh := make(chan struct{})
	holder, err := e.Spawn(func(ctx context.Context) (interface{}, error) {
		close(holdingCh)
		<-holdCh
		return "held", nil
	})
	require.NoError(t, err)
	<-holdingCh

	// queued never gets the worker before shutdown.
	ran := false
	queued, err := e.Spawn(func(ctx context.Context) (interface{}, error) {
		ran = true
		return nil, nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(bg, 30*time.Millisecond)
	defer cancel()
	assert.Equal(context.DeadlineExceeded, e.Shutdown(ctx))

	_, err = e.Spawn(func(ctx context.Context) (interface{}, error) { return nil, nil })
	assert.Equal(async.ErrShutdown, err)

	close(holdCh)

	v, err := holder.Await(bg)
	assert.NoError(err)
	assert.Equal("held", v)

	_, err = waiter.Await(bg)
	assert.Equal(context.Canceled, err)

	_, err = queued.Await(bg)
	assert.Equal(async.ErrShutdown, err)
	assert.False(ran)
}

func TestShutdownAbandonBlocking(t *testing.T) {
	assert := assert.New(t)

	e := Must(BlockingPool(
		limitedrunner.MinWorkers(1),
		limitedrunner.MaxWorkers(1),
		limitedrunner.QueueSize(2),
	))

	// holder occupies the only blocking worker.
	holdCh := make(chan struct{})
	holdingCh := make(chan struct{})
	holder, err := e.SpawnBlocking(func() (interface{}, error) {
		close(holdingCh)
		<-holdCh
		return "held", nil
	})
	require.NoError(t, err)
	<-holdingCh

	// queued waits in the pool queue until shutdown gives up.
	ran := false
	queued, err := e.SpawnBlocking(func() (interface{}, error) {
		ran = true
		return "ran", nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(bg, 20*time.Millisecond)
	defer cancel()
	assert.Equal(context.DeadlineExceeded, e.Shutdown(ctx))

	_, err = e.SpawnBlocking(func() (interface{}, error) { return nil, nil })
	assert.Equal(async.ErrShutdown, err)

	close(holdCh)

	v, err := holder.Await(bg)
	assert.NoError(err)
	assert.Equal("held", v)

	v, err = queued.Await(bg)
	assert.Equal(async.ErrShutdown, err)
	assert.Nil(v)
	assert.False(ran)
}

func TestIndependentExecutors(t *testing.T) {
	assert := assert.New(t)

	e1 := NewDefault()
	defer e1.Close()
	e2 := NewDefault()
	defer e2.Close()

	// Occupy the only worker of e1.
	holdCh := make(chan struct{})
	holdingCh := make(chan struct{})
	_, err := e1.Spawn(func(ctx context.Context) (interface{}, error) {
		close(holdingCh)
		<-holdCh
		return nil, nil
	})
	require.NoError(t, err)
	<-holdingCh
	defer close(holdCh)

	f, err := async.Go(e2, func(ctx context.Context) (int, error) { return 2, nil })
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(bg, time.Second)
	defer cancel()
	v, err := f.Await(ctx)
	assert.NoError(err)
	assert.Equal(2, v)
}

func TestMetrics(t *testing.T) {
	assert := assert.New(t)

	reg := prometheus.NewRegistry()
	e := Must(Name("metrics"), Registerer(reg))

	// Same name on the same registry collides.
	{
		_, err := New(Name("metrics"), Registerer(reg))
		assert.Error(err)
	}

	h1, _ := e.Spawn(func(ctx context.Context) (interface{}, error) { return nil, nil })
	h2, _ := e.Spawn(func(ctx context.Context) (interface{}, error) { panic("x") })
	h3, _ := e.SpawnBlocking(func() (interface{}, error) { return nil, nil })
	for _, h := range []*async.Handle{h1, h2, h3} {
		<-h.Done()
	}

	// Handles resolve before the task go routine finishes its bookkeeping.
	assert.Eventually(func() bool {
		return testutil.ToFloat64(e.metrics.inflight) == 0
	}, time.Second, time.Millisecond)

	assert.Equal(2.0, testutil.ToFloat64(e.metrics.spawned.WithLabelValues(kindAsync)))
	assert.Equal(1.0, testutil.ToFloat64(e.metrics.spawned.WithLabelValues(kindBlocking)))
	assert.Equal(1.0, testutil.ToFloat64(e.metrics.panicked.WithLabelValues(kindAsync)))
	assert.Equal(0.0, testutil.ToFloat64(e.metrics.pending))

	n, err := testutil.GatherAndCount(reg)
	assert.NoError(err)
	assert.True(n > 0)

	e.Close()

	// Unregistered on close: the name can be reused.
	e2, err := New(Name("metrics"), Registerer(reg))
	assert.NoError(err)
	e2.Close()
}

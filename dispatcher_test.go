package callkit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestGoDispatcher(t *testing.T) {
	var wg sync.WaitGroup
	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		require.NoError(t, GoDispatcher{}.Dispatch(func() {
			defer wg.Done()
			ran.Inc()
		}))
	}
	wg.Wait()
	assert.Equal(t, int32(10), ran.Load())
}

func TestWorkerPool(t *testing.T) {
	t.Run("runs all tasks", func(t *testing.T) {
		pool := NewWorkerPool(4, 2)
		pool.Start()

		var ran atomic.Int32
		for i := 0; i < 50; i++ {
			require.NoError(t, pool.Dispatch(func() { ran.Inc() }))
		}
		pool.Stop()
		assert.Equal(t, int32(50), ran.Load())
		assert.Zero(t, pool.ActiveWorkers())
		assert.Zero(t, pool.Pending())
	})

	t.Run("dispatch from a task does not block", func(t *testing.T) {
		pool := NewWorkerPool(1, 0)
		pool.Start()
		defer pool.Stop()

		done := make(chan struct{})
		require.NoError(t, pool.Dispatch(func() {
			// the only worker is busy here, so this goes through the overflow path
			assert.NoError(t, pool.Dispatch(func() { close(done) }))
		}))

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("nested dispatch deadlocked")
		}
	})

	t.Run("tracks active workers", func(t *testing.T) {
		pool := NewWorkerPool(2, 2)
		pool.Start()
		defer pool.Stop()

		release := make(chan struct{})
		for i := 0; i < 2; i++ {
			require.NoError(t, pool.Dispatch(func() { <-release }))
		}
		assert.Eventually(t, func() bool { return pool.ActiveWorkers() == 2 },
			time.Second, time.Millisecond)
		close(release)
		assert.Eventually(t, func() bool { return pool.ActiveWorkers() == 0 },
			time.Second, time.Millisecond)
	})

	t.Run("rejects after stop", func(t *testing.T) {
		pool := NewWorkerPool(1, 1)
		pool.Start()
		pool.Stop()
		pool.Stop()

		assert.ErrorIs(t, pool.Dispatch(func() {}), ErrDispatcherStopped)
	})

	t.Run("stop without start runs accepted tasks", func(t *testing.T) {
		pool := NewWorkerPool(1, 4)
		var ran atomic.Int32
		require.NoError(t, pool.Dispatch(func() { ran.Inc() }))
		pool.Stop()
		assert.Equal(t, int32(1), ran.Load())
	})

	t.Run("panicking task keeps the worker alive", func(t *testing.T) {
		pool := NewWorkerPool(1, 1)
		pool.Start()

		var ran atomic.Bool
		require.NoError(t, pool.Dispatch(func() { panic("task failed") }))
		require.NoError(t, pool.Dispatch(func() { ran.Store(true) }))
		pool.Stop()
		assert.True(t, ran.Load())
	})
}

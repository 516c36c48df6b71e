package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPoolRunsSubmittedWork(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Shutdown()

	var count int64
	for i := 0; i < 10; i++ {
		err := pool.Submit(context.Background(), func(ctx context.Context) error {
			atomic.AddInt64(&count, 1)
			return nil
		})
		require.NoError(t, err)
	}
	pool.Wait()

	assert.Equal(t, int64(10), atomic.LoadInt64(&count))
	assert.Equal(t, int64(10), pool.Metrics().Completed)
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	const size = 3
	pool := NewWorkerPool(size)
	defer pool.Shutdown()

	var active, peak int64
	var mu sync.Mutex
	for i := 0; i < 12; i++ {
		err := pool.Submit(context.Background(), func(ctx context.Context) error {
			n := atomic.AddInt64(&active, 1)
			mu.Lock()
			if n > peak {
				peak = n
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt64(&active, -1)
			return nil
		})
		require.NoError(t, err)
	}
	pool.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, int64(size))
}

func TestWorkerPoolDefaultSize(t *testing.T) {
	pool := NewWorkerPool(0)
	defer pool.Shutdown()

	assert.Equal(t, DefaultConcurrency, cap(pool.sem))
}

func TestWorkerPoolSubmitAfterShutdown(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Shutdown()

	err := pool.Submit(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolShutdown)
}

func TestWorkerPoolSubmitRespectsContext(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Shutdown()

	release := make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
		<-release
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.Submit(ctx, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	pool.Wait()
}

func TestWorkerPoolRecoversPanics(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Shutdown()

	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
		panic("boom")
	}))
	pool.Wait()

	m := pool.Metrics()
	assert.Equal(t, int64(1), m.Panics)
	assert.Equal(t, int64(1), m.Failed)
	assert.Equal(t, int64(0), m.Active)
}

func TestWorkerPoolCountsFailures(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Shutdown()

	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
		return errors.New("nope")
	}))
	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
		return nil
	}))
	pool.Wait()

	m := pool.Metrics()
	assert.Equal(t, int64(1), m.Failed)
	assert.Equal(t, int64(1), m.Completed)
}

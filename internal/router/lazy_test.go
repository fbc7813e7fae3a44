package router

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

type handle struct{ id int32 }

func TestLazy_InitializesOnceUnderConcurrency(t *testing.T) {
	var inits atomic.Int32
	lazy := NewLazy(func(ctx context.Context) (*handle, error) {
		return &handle{id: inits.Add(1)}, nil
	})
	assert.False(t, lazy.Initialized())

	var wg sync.WaitGroup
	results := make([]*handle, 50)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := lazy.Get(context.Background())
			assert.NoError(t, err)
			results[i] = h
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), inits.Load())
	for _, h := range results {
		assert.Same(t, results[0], h)
	}
	assert.True(t, lazy.Initialized())
}

func TestLazy_FailureIsNotCached(t *testing.T) {
	var calls atomic.Int32
	lazy := NewLazy(func(ctx context.Context) (string, error) {
		if calls.Add(1) == 1 {
			return "", errors.New("token endpoint unavailable")
		}
		return "client", nil
	})

	_, err := lazy.Get(context.Background())
	require.Error(t, err)
	assert.False(t, lazy.Initialized())

	v, err := lazy.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "client", v)

	v, err = lazy.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "client", v)
	assert.Equal(t, int32(2), calls.Load())
}

func TestLazy_WaiterHonorsOwnDeadline(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	lazy := NewLazy(func(ctx context.Context) (string, error) {
		close(started)
		<-release
		return "client", nil
	})
	defer close(release)

	go func() { _, _ = lazy.Get(context.Background()) }()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := lazy.Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, lazy.Initialized())
}

func TestLazy_InitRunsUnderCallerContext(t *testing.T) {
	lazy := NewLazy(func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := lazy.Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, lazy.Initialized())

	_, err = lazy.Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "a done context never starts an init")
}

package router

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Lazy holds a handle that is built on first use and shared afterwards.
//
// Unlike sync.Once, a failed initialization is not cached: the next Get tries
// again. Concurrent first callers join a single in-flight init, which runs
// under the context of the caller that started it. Every caller stops waiting
// when its own context is done.
type Lazy[T any] struct {
	init func(ctx context.Context) (T, error)

	group singleflight.Group
	value atomic.Pointer[T]
}

// NewLazy returns a Lazy built by init.
func NewLazy[T any](init func(ctx context.Context) (T, error)) *Lazy[T] {
	return &Lazy[T]{init: init}
}

// Get returns the handle, initializing it if needed.
func (l *Lazy[T]) Get(ctx context.Context) (T, error) {
	if v := l.value.Load(); v != nil {
		return *v, nil
	}

	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	ch := l.group.DoChan("init", func() (any, error) {
		if v := l.value.Load(); v != nil {
			return *v, nil
		}
		v, err := l.init(ctx)
		if err != nil {
			return nil, err
		}
		l.value.Store(&v)
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

// Initialized reports whether the handle has been built.
func (l *Lazy[T]) Initialized() bool {
	return l.value.Load() != nil
}

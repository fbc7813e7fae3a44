package router

import "context"

// Implementation executes one operation against one backend.
type Implementation[Req, Raw any] interface {
	Execute(ctx context.Context, req Req) (Raw, error)
}

// ImplementationFunc adapts a function to Implementation.
type ImplementationFunc[Req, Raw any] func(ctx context.Context, req Req) (Raw, error)

// Execute calls f.
func (f ImplementationFunc[Req, Raw]) Execute(ctx context.Context, req Req) (Raw, error) {
	return f(ctx, req)
}

// Adapter maps one backend's native result into the canonical result.
// Normalize is pure and total: it performs no I/O and has no error path.
type Adapter[Raw, Out any] interface {
	Normalize(path Path, raw Raw) Out
}

// AdapterFunc adapts a function to Adapter.
type AdapterFunc[Raw, Out any] func(path Path, raw Raw) Out

// Normalize calls f.
func (f AdapterFunc[Raw, Out]) Normalize(path Path, raw Raw) Out { return f(path, raw) }

// Handler runs one path of a call and returns the canonical result.
type Handler[Req, Out any] func(ctx context.Context, path Path, req Req) (Out, error)

// Bind pairs an implementation with the adapter that normalizes its results.
// The adapter only sees successful results.
func Bind[Req, Raw, Out any](impl Implementation[Req, Raw], adapter Adapter[Raw, Out]) Handler[Req, Out] {
	return func(ctx context.Context, path Path, req Req) (Out, error) {
		raw, err := impl.Execute(ctx, req)
		if err != nil {
			var zero Out
			return zero, err
		}
		return adapter.Normalize(path, raw), nil
	}
}

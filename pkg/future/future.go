// Package future implements the resolve-once cell that backs every pending
// request: one Promise per outstanding call, completed by exactly one of a
// reply, a worker error or a worker exit.
package future

import (
	"context"
	"sync"
)

// Result is the outcome of a Future.
type Result[T any] struct {
	Value T
	Err   error
}

// Promise is the writable side of a Future.
type Promise[T any] struct {
	f *Future[T]
}

// Future is the read side of a single asynchronous result.
type Future[T any] struct {
	mu       sync.Mutex
	done     chan struct{}
	resolved bool
	result   Result[T]
	handlers []func(Result[T])
}

// New creates a pending Promise.
func New[T any]() *Promise[T] {
	return &Promise[T]{f: &Future[T]{done: make(chan struct{})}}
}

// Resolved returns a Future already completed with v.
func Resolved[T any](v T) *Future[T] {
	p := New[T]()
	p.Resolve(v)
	return p.Future()
}

// Failed returns a Future already failed with err.
func Failed[T any](err error) *Future[T] {
	p := New[T]()
	p.Reject(err)
	return p.Future()
}

// Future returns the read side of p.
func (p *Promise[T]) Future() *Future[T] {
	return p.f
}

// Resolve completes the future with v. It returns false, leaving the first
// resolution in place, if the future was already resolved.
func (p *Promise[T]) Resolve(v T) bool {
	return p.f.complete(Result[T]{Value: v})
}

// Reject fails the future with err. Like Resolve, only the first call wins.
func (p *Promise[T]) Reject(err error) bool {
	return p.f.complete(Result[T]{Err: err})
}

// Settle completes the future with v or, when err is non-nil, fails it.
func (p *Promise[T]) Settle(v T, err error) bool {
	if err != nil {
		return p.Reject(err)
	}
	return p.Resolve(v)
}

func (f *Future[T]) complete(r Result[T]) bool {
	f.mu.Lock()
	if f.resolved {
		f.mu.Unlock()
		return false
	}
	f.resolved = true
	f.result = r
	handlers := f.handlers
	f.handlers = nil
	close(f.done)
	f.mu.Unlock()

	for _, h := range handlers {
		h(r)
	}
	return true
}

// Done is closed once the future is resolved.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Resolved reports whether the future has completed.
func (f *Future[T]) Resolved() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resolved
}

// Result returns the outcome without blocking; ok is false while pending.
func (f *Future[T]) Result() (v T, err error, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.resolved {
		return v, nil, false
	}
	return f.result.Value, f.result.Err, true
}

// Await blocks until the future resolves or ctx is done.
// A cancelled ctx does not resolve the future.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		v, err, _ := f.Result()
		return v, err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// OnComplete registers fn to run with the outcome. If the future is already
// resolved fn runs immediately on the calling goroutine.
func (f *Future[T]) OnComplete(fn func(Result[T])) {
	f.mu.Lock()
	if !f.resolved {
		f.handlers = append(f.handlers, fn)
		f.mu.Unlock()
		return
	}
	r := f.result
	f.mu.Unlock()
	fn(r)
}

// Map returns a Future resolved with fn applied to f's value.
func Map[T, R any](f *Future[T], fn func(T) (R, error)) *Future[R] {
	p := New[R]()
	f.OnComplete(func(r Result[T]) {
		if r.Err != nil {
			p.Reject(r.Err)
			return
		}
		p.Settle(fn(r.Value))
	})
	return p.Future()
}

// All waits for every future and returns their values in order, failing with
// the first error observed.
func All[T any](ctx context.Context, futures ...*Future[T]) ([]T, error) {
	out := make([]T, 0, len(futures))
	for _, f := range futures {
		v, err := f.Await(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

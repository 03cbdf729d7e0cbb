package core

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Pending is the single result of an operation submitted to a Dispatcher.
type Pending[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Done is closed once the operation has finished.
func (p *Pending[T]) Done() <-chan struct{} { return p.done }

// Result blocks until the operation finishes or ctx is cancelled.
func (p *Pending[T]) Result(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Dispatcher runs service operations off the caller's goroutine. Each
// submission runs on its own goroutine; store transactions still serialize on
// the store. Wait drains every in-flight operation.
type Dispatcher struct {
	group *errgroup.Group
}

// NewDispatcher returns a dispatcher allowing at most limit concurrent
// operations. A limit <= 0 means no limit.
func NewDispatcher(limit int) *Dispatcher {
	g := &errgroup.Group{}
	if limit > 0 {
		g.SetLimit(limit)
	}
	return &Dispatcher{group: g}
}

// Submit schedules fn and returns a handle to its result. Failures are
// delivered through the handle only; they never cancel sibling operations.
func Submit[T any](d *Dispatcher, ctx context.Context, fn func(ctx context.Context) (T, error)) *Pending[T] {
	p := &Pending[T]{done: make(chan struct{})}
	d.group.Go(func() error {
		defer close(p.done)
		p.value, p.err = fn(ctx)
		return nil
	})
	return p
}

// Wait blocks until every submitted operation has finished.
func (d *Dispatcher) Wait() {
	_ = d.group.Wait()
}

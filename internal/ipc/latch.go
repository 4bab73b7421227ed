package ipc

import (
	"context"
	"sync"
)

// Latch holds the outcome of an operation that may be reported more than
// once, from any goroutine. Only the first Resolve counts.
type Latch[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
	err  error
}

// NewLatch returns an unresolved latch.
func NewLatch[T any]() *Latch[T] {
	return &Latch[T]{done: make(chan struct{})}
}

// Resolve records the outcome. It returns false if the latch was already
// resolved, in which case v and err are discarded.
func (l *Latch[T]) Resolve(v T, err error) bool {
	resolved := false
	l.once.Do(func() {
		l.val, l.err = v, err
		close(l.done)
		resolved = true
	})
	return resolved
}

// Done is closed once the latch is resolved.
func (l *Latch[T]) Done() <-chan struct{} {
	return l.done
}

// Wait blocks until the latch is resolved or ctx ends.
func (l *Latch[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-l.done:
		return l.val, l.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

package pipeline

import (
	"context"
	"sync"

	"github.com/cjeanneret/SnapGo/internal/debug"
	"github.com/cjeanneret/SnapGo/internal/executor"
)

// Future is a one-shot asynchronous result.
type Future[T any] struct {
	mu        sync.Mutex
	done      chan struct{}
	value     T
	err       error
	listeners []futureListener
}

type futureListener struct {
	fn   func()
	exec executor.Executor
}

func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Complete resolves the future. Only the first call has an effect; it
// reports whether this call won.
func (f *Future[T]) Complete(value T, err error) bool {
	f.mu.Lock()
	select {
	case <-f.done:
		f.mu.Unlock()
		return false
	default:
	}
	f.value, f.err = value, err
	close(f.done)
	listeners := f.listeners
	f.listeners = nil
	f.mu.Unlock()

	for _, l := range listeners {
		dispatch(l.exec, l.fn)
	}
	return true
}

// AddListener schedules fn on exec once the future completes. Listeners added
// after completion are scheduled right away.
func (f *Future[T]) AddListener(fn func(), exec executor.Executor) {
	f.mu.Lock()
	select {
	case <-f.done:
		f.mu.Unlock()
		dispatch(exec, fn)
		return
	default:
	}
	f.listeners = append(f.listeners, futureListener{fn: fn, exec: exec})
	f.mu.Unlock()
}

// Done is closed when the future completes.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Get waits for the result or for ctx to end.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// dispatch runs fn on exec. Work the executor refused is always reported.
func dispatch(exec executor.Executor, fn func()) {
	if err := exec.Execute(fn); err != nil {
		debug.Diagnostic("Executor", err)
	}
}

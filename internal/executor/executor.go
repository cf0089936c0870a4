package executor

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cjeanneret/SnapGo/internal/debug"
)

// ErrShutdown is returned when work is submitted to a stopped executor.
var ErrShutdown = errors.New("executor: shut down")

// Executor runs submitted functions.
type Executor interface {
	Execute(fn func()) error
}

// Direct runs every function inline on the caller's goroutine.
type Direct struct{}

func (Direct) Execute(fn func()) error {
	fn()
	return nil
}

// Serial runs submitted functions one at a time, in submission order, on a
// single dedicated goroutine. The UI execution context and the camera
// executor are both Serial executors.
type Serial struct {
	name   string
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
}

// NewSerial starts a serial executor. name only shows up in debug output.
func NewSerial(name string) *Serial {
	s := &Serial{
		name: name,
		done: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.loop()
	debug.Verbose("Executor %s: started", name)
	return s
}

// Execute queues fn. The queue is unbounded, so a task may post follow-up
// work to its own executor.
func (s *Serial) Execute(fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		debug.Verbose("Executor %s: dropping task after shutdown", s.name)
		return fmt.Errorf("%s: %w", s.name, ErrShutdown)
	}
	s.queue = append(s.queue, fn)
	s.cond.Signal()
	return nil
}

// Shutdown stops accepting work, runs what is already queued and waits for
// the worker to exit. Safe to call more than once; must not be called from
// the executor's own goroutine.
func (s *Serial) Shutdown() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		s.cond.Broadcast()
		debug.Verbose("Executor %s: shutting down (%d queued)", s.name, len(s.queue))
	}
	s.mu.Unlock()
	<-s.done
}

// Done is closed once the worker has exited.
func (s *Serial) Done() <-chan struct{} {
	return s.done
}

func (s *Serial) loop() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		fn := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.run(fn)
	}
}

func (s *Serial) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			debug.Error(fmt.Errorf("executor %s: task panicked: %v", s.name, r))
		}
	}()
	fn()
}

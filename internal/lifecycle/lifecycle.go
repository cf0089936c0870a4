package lifecycle

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cjeanneret/SnapGo/internal/debug"
)

// ErrDestroyed is returned when something tries to use a destroyed owner.
var ErrDestroyed = errors.New("lifecycle: owner destroyed")

// State is the position of an owner in its lifecycle. States only move forward.
type State int

const (
	Initialized State = iota
	Created
	Started
	Destroyed
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case Created:
		return "created"
	case Started:
		return "started"
	case Destroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Owner bounds how long camera resources bound to it stay active.
type Owner interface {
	State() State
	// Observe registers fn for every later transition. The returned func
	// removes the observer.
	Observe(fn func(State)) (cancel func())
}

// Registry is the concrete Owner driven by the screen.
type Registry struct {
	mu        sync.Mutex
	state     State
	observers map[int]func(State)
	nextID    int
}

func NewRegistry() *Registry {
	return &Registry{observers: make(map[int]func(State))}
}

func (r *Registry) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Observe registers fn. Observing an already destroyed owner calls fn with
// Destroyed immediately.
func (r *Registry) Observe(fn func(State)) func() {
	r.mu.Lock()
	if r.state == Destroyed {
		r.mu.Unlock()
		fn(Destroyed)
		return func() {}
	}
	id := r.nextID
	r.nextID++
	r.observers[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.observers, id)
		r.mu.Unlock()
	}
}

// Advance moves the owner to state to and notifies observers synchronously.
func (r *Registry) Advance(to State) error {
	r.mu.Lock()
	from := r.state
	if to <= from {
		r.mu.Unlock()
		return fmt.Errorf("lifecycle: cannot move from %s to %s", from, to)
	}
	r.state = to
	fns := make([]func(State), 0, len(r.observers))
	for _, fn := range r.observers {
		fns = append(fns, fn)
	}
	if to == Destroyed {
		r.observers = make(map[int]func(State))
	}
	r.mu.Unlock()

	debug.Verbose("Lifecycle: %s -> %s (%d observers)", from, to, len(fns))
	for _, fn := range fns {
		fn(to)
	}
	return nil
}

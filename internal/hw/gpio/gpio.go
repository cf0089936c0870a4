package gpio

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/SnapGo/internal/debug"
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l == High {
		return "high"
	}
	return "low"
}

// Pull selects the internal resistor of an input pin.
type Pull int

const (
	PullOff Pull = iota
	PullUp
	PullDown
)

func (p Pull) String() string {
	switch p {
	case PullOff:
		return "off"
	case PullUp:
		return "up"
	case PullDown:
		return "down"
	default:
		return fmt.Sprintf("pull(%d)", int(p))
	}
}

// Driver defines the abstract interface for reading input GPIOs.
// This allows plugging in a real Raspberry Pi implementation
// or a mock for development on PC.
type Driver interface {
	SetupInput(pin int, pull Pull) error
	ReadPin(pin int) (Level, error)
	Close() error
}

// NewDriver creates a GPIO driver based on the chosen mode.
// If mock is true, returns a MockDriver (for dev/test).
// If mock is false, returns a real RPiDriver (for Raspberry Pi).
func NewDriver(mock bool) (Driver, error) {
	if mock {
		debug.Info("Using MOCK GPIO driver (development mode)")
		return NewMockDriver(), nil
	}
	return NewRPiRealDriver()
}

// MockDriver is a test implementation whose pin levels are set by the caller.
// A pin that was never set reads as its pull: High with PullUp, Low otherwise.
type MockDriver struct {
	mu     sync.Mutex
	pulls  map[int]Pull
	levels map[int]Level
	reads  int
	closed bool
}

func NewMockDriver() *MockDriver {
	return &MockDriver{
		pulls:  make(map[int]Pull),
		levels: make(map[int]Level),
	}
}

// SetLevel drives pin to level, as a button or a wire would.
func (m *MockDriver) SetLevel(pin int, level Level) {
	m.mu.Lock()
	m.levels[pin] = level
	m.mu.Unlock()
}

// Reads returns how many times ReadPin was called.
func (m *MockDriver) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

func (m *MockDriver) SetupInput(pin int, pull Pull) error {
	debug.GPIO("SetupInput", pin, pull)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("gpio: driver closed")
	}
	m.pulls[pin] = pull
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.closed {
		return Low, fmt.Errorf("gpio: driver closed")
	}
	pull, ok := m.pulls[pin]
	if !ok {
		return Low, fmt.Errorf("gpio: pin %d not set up", pin)
	}
	if level, ok := m.levels[pin]; ok {
		return level, nil
	}
	return Level(pull == PullUp), nil
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

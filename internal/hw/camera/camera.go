package camera

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotOpen is returned by Frame before Open or after Close.
	ErrNotOpen = errors.New("camera: device not open")
	// ErrNoMatchingCamera is returned when no device satisfies a Selector.
	ErrNoMatchingCamera = errors.New("camera: no camera matches selector")
	// ErrBackendUnavailable is returned when a backend was not compiled in.
	ErrBackendUnavailable = errors.New("camera: backend unavailable")
)

// Device is the high-level interface used by the rest of the application.
// It represents an abstract frame source, regardless of how frames are
// produced (synthetic, V4L2 through OpenCV, ...).
type Device interface {
	Name() string
	Facing() Facing
	Open() error
	// Frame returns one JPEG-encoded frame.
	Frame(ctx context.Context) ([]byte, error)
	Close() error
}

// Facing is the direction a lens points to.
type Facing int

const (
	Back Facing = iota
	Front
)

func (f Facing) String() string {
	switch f {
	case Back:
		return "back"
	case Front:
		return "front"
	default:
		return fmt.Sprintf("facing(%d)", int(f))
	}
}

// Selector picks one device out of the available ones.
type Selector struct {
	Facing Facing
}

// DefaultBackCamera selects the first back-facing device.
var DefaultBackCamera = Selector{Facing: Back}

// Select returns the first device with the requested facing.
func (s Selector) Select(devices []Device) (Device, error) {
	for _, d := range devices {
		if d.Facing() == s.Facing {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w (facing %s)", ErrNoMatchingCamera, s.Facing)
}

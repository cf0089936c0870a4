package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"

	"github.com/cjeanneret/SnapGo/internal/debug"
)

// Mock is a synthetic Device that renders moving color bars.
// Used for development on PC or testing.
type Mock struct {
	name    string
	facing  Facing
	width   int
	height  int
	quality int

	mu       sync.Mutex
	open     bool
	opens    int
	frames   int
	openErr  error
	frameErr error
}

// NewMock creates a synthetic camera producing width x height JPEG frames.
func NewMock(name string, facing Facing, width, height, quality int) *Mock {
	return &Mock{
		name:    name,
		facing:  facing,
		width:   width,
		height:  height,
		quality: quality,
	}
}

func (m *Mock) Name() string   { return m.name }
func (m *Mock) Facing() Facing { return m.facing }

// SetOpenError makes the next Open calls fail with err (nil clears it).
func (m *Mock) SetOpenError(err error) {
	m.mu.Lock()
	m.openErr = err
	m.mu.Unlock()
}

// SetFrameError makes Frame fail with err (nil clears it).
func (m *Mock) SetFrameError(err error) {
	m.mu.Lock()
	m.frameErr = err
	m.mu.Unlock()
}

func (m *Mock) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return m.openErr
	}
	m.open = true
	m.opens++
	debug.Verbose("Camera %s: opened (mock, %dx%d)", m.name, m.width, m.height)
	return nil
}

// IsOpen reports whether the device is currently open.
func (m *Mock) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

// Opens returns how many times Open succeeded.
func (m *Mock) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

// Frames returns how many frames were produced.
func (m *Mock) Frames() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames
}

func (m *Mock) Frame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	if !m.open {
		m.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", m.name, ErrNotOpen)
	}
	if m.frameErr != nil {
		err := m.frameErr
		m.mu.Unlock()
		return nil, err
	}
	m.frames++
	n := m.frames
	m.mu.Unlock()

	img := image.NewRGBA(image.Rect(0, 0, m.width, m.height))
	bars := []color.RGBA{
		{255, 255, 255, 255}, {255, 255, 0, 255}, {0, 255, 255, 255}, {0, 255, 0, 255},
		{255, 0, 255, 255}, {255, 0, 0, 255}, {0, 0, 255, 255}, {0, 0, 0, 255},
	}
	barWidth := m.width/len(bars) + 1
	for x := 0; x < m.width; x++ {
		c := bars[((x+n)/barWidth)%len(bars)]
		for y := 0; y < m.height; y++ {
			img.SetRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: m.quality}); err != nil {
		return nil, fmt.Errorf("%s: encode frame: %w", m.name, err)
	}
	debug.Trace("Camera %s: frame %d (%d bytes)", m.name, n, buf.Len())
	return buf.Bytes(), nil
}

func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open {
		debug.Verbose("Camera %s: closed", m.name)
	}
	m.open = false
	return nil
}

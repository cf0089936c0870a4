package permission

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/huh"
	"github.com/spf13/afero"

	"github.com/cjeanneret/SnapGo/internal/debug"
)

// Capability is a protected resource the application needs.
type Capability string

const Camera Capability = "camera"

// Gate decides whether capabilities are granted.
//
// Request asks for caps and calls onResult with requestCode once the request
// has been answered, on another goroutine. The answer itself is read back
// with Check.
type Gate interface {
	Check(c Capability) bool
	Request(ctx context.Context, requestCode int, caps []Capability, onResult func(requestCode int))
}

// AllGranted reports whether g grants every capability in caps.
func AllGranted(g Gate, caps []Capability) bool {
	for _, c := range caps {
		if !g.Check(c) {
			return false
		}
	}
	return true
}

// Static grants or refuses everything, whatever is asked.
type Static struct {
	granted bool
}

func NewStatic(granted bool) *Static {
	return &Static{granted: granted}
}

func (s *Static) Check(c Capability) bool {
	debug.Permission(string(c), s.granted)
	return s.granted
}

func (s *Static) Request(ctx context.Context, requestCode int, caps []Capability, onResult func(int)) {
	go answer(ctx, requestCode, onResult)
}

// Device grants the camera when every device node of the configured
// cameras can be opened. Requesting cannot change the outcome.
type Device struct {
	fs    afero.Fs
	paths []string
}

func NewDevice(fs afero.Fs, paths ...string) *Device {
	return &Device{fs: fs, paths: paths}
}

func (d *Device) Check(c Capability) bool {
	ok := c == Camera && len(d.paths) > 0
	for _, p := range d.paths {
		if !ok {
			break
		}
		f, err := d.fs.Open(p)
		if err != nil {
			debug.Verbose("Permission: %s not accessible: %v", p, err)
			ok = false
			break
		}
		_ = f.Close()
	}
	debug.Permission(string(c), ok)
	return ok
}

func (d *Device) Request(ctx context.Context, requestCode int, caps []Capability, onResult func(int)) {
	go answer(ctx, requestCode, onResult)
}

// ConfirmFunc asks the user a yes/no question.
type ConfirmFunc func(title string) (bool, error)

// Prompt asks the user on the terminal. Answers are remembered for the
// lifetime of the process.
type Prompt struct {
	confirm ConfirmFunc

	mu      sync.Mutex
	answers map[Capability]bool
}

// NewPrompt builds a terminal gate. A nil confirm uses a huh dialog.
func NewPrompt(confirm ConfirmFunc) *Prompt {
	if confirm == nil {
		confirm = huhConfirm
	}
	return &Prompt{confirm: confirm, answers: make(map[Capability]bool)}
}

func (p *Prompt) Check(c Capability) bool {
	p.mu.Lock()
	granted := p.answers[c]
	p.mu.Unlock()
	debug.Permission(string(c), granted)
	return granted
}

func (p *Prompt) Request(ctx context.Context, requestCode int, caps []Capability, onResult func(int)) {
	go func() {
		for _, c := range caps {
			p.mu.Lock()
			granted := p.answers[c]
			p.mu.Unlock()
			if granted {
				continue
			}
			ok, err := p.confirm(fmt.Sprintf("Allow SnapGo to use the %s?", c))
			if err != nil {
				debug.Error(fmt.Errorf("permission prompt for %s: %w", c, err))
				ok = false
			}
			p.mu.Lock()
			p.answers[c] = ok
			p.mu.Unlock()
		}
		answer(ctx, requestCode, onResult)
	}()
}

func huhConfirm(title string) (bool, error) {
	var ok bool
	err := huh.Run(
		huh.NewConfirm().
			Title(title).
			Affirmative("Allow").
			Negative("Deny").
			Value(&ok),
	)
	return ok, err
}

// answer delivers the result unless the requester went away.
func answer(ctx context.Context, requestCode int, onResult func(int)) {
	if ctx.Err() != nil {
		debug.Verbose("Permission: request %d abandoned: %v", requestCode, ctx.Err())
		return
	}
	onResult(requestCode)
}

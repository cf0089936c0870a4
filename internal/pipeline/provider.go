package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"

	"github.com/cjeanneret/SnapGo/internal/debug"
	"github.com/cjeanneret/SnapGo/internal/executor"
	"github.com/cjeanneret/SnapGo/internal/hw/camera"
	"github.com/cjeanneret/SnapGo/internal/lifecycle"
)

var (
	// ErrNoCameras is returned when the platform has no device at all.
	ErrNoCameras = errors.New("pipeline: no camera available")
	// ErrAlreadyBound is returned when a use case is bound twice.
	ErrAlreadyBound = errors.New("pipeline: use case already bound")
	// ErrCameraInUse is returned when a camera is bound to another lifecycle.
	ErrCameraInUse = errors.New("pipeline: camera bound to another lifecycle")

	errCameraClosed = errors.New("pipeline: camera closed")
)

// UseCase is something that can be bound to a camera: a Preview or an
// ImageCapture.
type UseCase interface {
	attach(p *Provider, cam *BoundCamera) error
	detach()
	useCaseName() string
}

// Options configures the platform.
type Options struct {
	// Fs receives captured photos. Defaults to the OS filesystem.
	Fs afero.Fs
	// CameraExecutor runs provider acquisition and capture writes. Required.
	CameraExecutor executor.Executor
	// PreviewInterval is the delay between two preview frames. Defaults to 100ms.
	PreviewInterval time.Duration
}

// Platform hands out the process-wide Provider.
type Platform struct {
	devices []camera.Device
	opts    Options

	mu       sync.Mutex
	provider *Provider
}

func NewPlatform(devices []camera.Device, opts Options) *Platform {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.CameraExecutor == nil {
		opts.CameraExecutor = executor.Direct{}
	}
	if opts.PreviewInterval <= 0 {
		opts.PreviewInterval = 100 * time.Millisecond
	}
	return &Platform{devices: devices, opts: opts}
}

// GetInstance acquires the provider asynchronously on the camera executor.
// Every successful call completes with the same Provider.
func (pl *Platform) GetInstance(ctx context.Context) *Future[*Provider] {
	f := NewFuture[*Provider]()
	err := pl.opts.CameraExecutor.Execute(func() {
		if err := ctx.Err(); err != nil {
			f.Complete(nil, err)
			return
		}
		pl.mu.Lock()
		defer pl.mu.Unlock()
		if pl.provider == nil {
			if len(pl.devices) == 0 {
				f.Complete(nil, ErrNoCameras)
				return
			}
			pl.provider = &Provider{
				devices: pl.devices,
				opts:    pl.opts,
				bound:   make(map[UseCase]*BoundCamera),
				cameras: make(map[camera.Device]*BoundCamera),
			}
			debug.Verbose("Provider: created with %d camera(s)", len(pl.devices))
		}
		f.Complete(pl.provider, nil)
	})
	if err != nil {
		f.Complete(nil, err)
	}
	return f
}

// Provider is the session access point to camera hardware.
type Provider struct {
	devices []camera.Device
	opts    Options

	mu      sync.Mutex
	bound   map[UseCase]*BoundCamera
	cameras map[camera.Device]*BoundCamera
}

// BoundCamera is an open device together with the use cases bound to it.
type BoundCamera struct {
	device   camera.Device
	owner    lifecycle.Owner
	useCases []UseCase
	unwatch  func()
	closed   atomic.Bool
}

// Device returns the underlying device.
func (c *BoundCamera) Device() camera.Device {
	return c.device
}

func (c *BoundCamera) frame(ctx context.Context) ([]byte, error) {
	if c.closed.Load() {
		return nil, errCameraClosed
	}
	return c.device.Frame(ctx)
}

// BindToLifecycle opens the camera chosen by selector and binds all use cases
// to it, atomically: either every use case is bound or none is. Bindings are
// released when owner is destroyed.
func (p *Provider) BindToLifecycle(owner lifecycle.Owner, selector camera.Selector, useCases ...UseCase) (*BoundCamera, error) {
	if len(useCases) == 0 {
		return nil, errors.New("pipeline: no use case to bind")
	}
	if owner.State() == lifecycle.Destroyed {
		return nil, lifecycle.ErrDestroyed
	}

	cam, watch, err := p.bind(owner, selector, useCases)
	if err != nil {
		return nil, err
	}
	// Observe outside p.mu: an owner destroyed in the meantime calls back
	// into release synchronously.
	if watch {
		unwatch := owner.Observe(func(s lifecycle.State) {
			if s == lifecycle.Destroyed {
				p.release(cam)
			}
		})
		p.mu.Lock()
		if p.cameras[cam.device] == cam {
			cam.unwatch = unwatch
			unwatch = nil
		}
		p.mu.Unlock()
		if unwatch != nil {
			unwatch()
		}
	}
	debug.Bound(cam.device.Name(), len(useCases))
	return cam, nil
}

func (p *Provider) bind(owner lifecycle.Owner, selector camera.Selector, useCases []UseCase) (*BoundCamera, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, uc := range useCases {
		if _, ok := p.bound[uc]; ok {
			return nil, false, fmt.Errorf("%s: %w", uc.useCaseName(), ErrAlreadyBound)
		}
	}
	device, err := selector.Select(p.devices)
	if err != nil {
		return nil, false, err
	}

	cam, existing := p.cameras[device]
	if existing && cam.owner != owner {
		return nil, false, fmt.Errorf("%s: %w", device.Name(), ErrCameraInUse)
	}
	if !existing {
		if err := device.Open(); err != nil {
			return nil, false, fmt.Errorf("open %s: %w", device.Name(), err)
		}
		cam = &BoundCamera{device: device, owner: owner}
	}

	attached := make([]UseCase, 0, len(useCases))
	for _, uc := range useCases {
		if err := uc.attach(p, cam); err != nil {
			for _, a := range attached {
				a.detach()
			}
			if !existing {
				_ = device.Close()
			}
			return nil, false, fmt.Errorf("attach %s: %w", uc.useCaseName(), err)
		}
		attached = append(attached, uc)
	}

	for _, uc := range useCases {
		p.bound[uc] = cam
	}
	cam.useCases = append(cam.useCases, useCases...)
	if !existing {
		p.cameras[device] = cam
	}
	return cam, !existing, nil
}

// UnbindAll releases every binding. Safe to call when nothing is bound.
func (p *Provider) UnbindAll() {
	p.mu.Lock()
	cams := make([]*BoundCamera, 0, len(p.cameras))
	for _, cam := range p.cameras {
		cams = append(cams, cam)
	}
	p.mu.Unlock()

	for _, cam := range cams {
		p.release(cam)
	}
}

// IsBound reports whether uc is currently bound to a camera.
func (p *Provider) IsBound(uc UseCase) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.bound[uc]
	return ok
}

// ActiveBindings returns the number of bound use cases.
func (p *Provider) ActiveBindings() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.bound)
}

func (p *Provider) release(cam *BoundCamera) {
	p.mu.Lock()
	if p.cameras[cam.device] != cam {
		p.mu.Unlock()
		return
	}
	delete(p.cameras, cam.device)
	for _, uc := range cam.useCases {
		delete(p.bound, uc)
	}
	useCases := cam.useCases
	unwatch := cam.unwatch
	cam.useCases = nil
	cam.unwatch = nil
	cam.closed.Store(true)
	p.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
	for _, uc := range useCases {
		uc.detach()
	}
	if err := cam.device.Close(); err != nil {
		debug.Error(fmt.Errorf("close %s: %w", cam.device.Name(), err))
	}
	debug.Verbose("Provider: released %s (%d use cases)", cam.device.Name(), len(useCases))
}

package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/cjeanneret/SnapGo/internal/debug"
	"github.com/cjeanneret/SnapGo/internal/executor"
	"github.com/cjeanneret/SnapGo/internal/hw/camera"
	"github.com/cjeanneret/SnapGo/internal/lifecycle"
	"github.com/cjeanneret/SnapGo/internal/pipeline"
	"github.com/cjeanneret/SnapGo/internal/storage"
)

const (
	// CaptureLogTag is the diagnostic tag of failed captures.
	CaptureLogTag = "Image Capture"
	// captureSucceeded prefixes the saved file URI in the success toast.
	captureSucceeded = "Photo Capture succeeded "
)

var (
	// ErrProviderUnavailable means the camera provider could not be acquired.
	ErrProviderUnavailable = errors.New("session: camera provider unavailable")
	// ErrBindFailed means preview and capture could not be bound.
	ErrBindFailed = errors.New("session: use case binding failed")
)

// State is the binding state of a Controller.
type State int

const (
	Unbound State = iota
	Binding
	Bound
)

func (s State) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case Binding:
		return "binding"
	case Bound:
		return "bound"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StartResult is the outcome of one Start. Err is nil when preview and
// capture were bound to Camera.
type StartResult struct {
	Camera *pipeline.BoundCamera
	Err    error
}

// Notifier presents capture outcomes: short toasts for the user and tagged
// diagnostics for the log.
type Notifier interface {
	Toast(msg string)
	Log(tag string, err error)
}

// ProviderSource hands out the camera provider asynchronously.
// *pipeline.Platform implements it.
type ProviderSource interface {
	GetInstance(ctx context.Context) *pipeline.Future[*pipeline.Provider]
}

// Config wires a Controller to its collaborators.
type Config struct {
	Source ProviderSource
	// Main is the UI execution context: provider completion and capture
	// callbacks run on it.
	Main     executor.Executor
	Notifier Notifier
	// Now is the clock used for photo file names. Defaults to time.Now.
	Now func() time.Time
}

// Controller owns the camera session of one screen: it binds preview and
// capture to the screen lifecycle and issues single-shot captures.
type Controller struct {
	source   ProviderSource
	main     executor.Executor
	notifier Notifier
	now      func() time.Time

	mu      sync.Mutex
	state   State
	capture *pipeline.ImageCapture
	preview *pipeline.Preview
	unwatch func()
}

func NewController(cfg Config) *Controller {
	if cfg.Main == nil {
		cfg.Main = executor.Direct{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Controller{
		source:   cfg.Source,
		main:     cfg.Main,
		notifier: cfg.Notifier,
		now:      cfg.Now,
	}
}

// State returns the current binding state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Ready reports whether a capture endpoint exists.
func (c *Controller) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capture != nil
}

// Previewing reports whether live frames are flowing to the surface.
func (c *Controller) Previewing() bool {
	c.mu.Lock()
	preview := c.preview
	c.mu.Unlock()
	return preview != nil && preview.Streaming()
}

// Start acquires the camera provider and, once it is available, binds a
// preview rendering to surface and a fresh capture endpoint to owner, on the
// back camera. Everything after acquisition runs on the main executor.
//
// The returned channel delivers exactly one StartResult and is then closed.
// Nobody retries a failed start; the result is only logged.
func (c *Controller) Start(ctx context.Context, owner lifecycle.Owner, surface pipeline.SurfaceProvider) <-chan StartResult {
	results := make(chan StartResult, 1)
	c.setState(Binding)

	future := c.source.GetInstance(ctx)
	future.AddListener(func() {
		res := c.bind(future, owner, surface)
		if res.Err != nil {
			debug.Verbose("Session: start failed: %v", res.Err)
		}
		results <- res
		close(results)
	}, c.main)
	return results
}

func (c *Controller) bind(future *pipeline.Future[*pipeline.Provider], owner lifecycle.Owner, surface pipeline.SurfaceProvider) StartResult {
	provider, err := future.Get(context.Background())
	if err != nil {
		c.setState(Unbound)
		return StartResult{Err: fmt.Errorf("%w: %w", ErrProviderUnavailable, err)}
	}

	preview := pipeline.NewPreview()
	preview.SetSurfaceProvider(surface)
	capture := pipeline.NewImageCapture()
	c.mu.Lock()
	c.capture = capture
	c.preview = preview
	c.mu.Unlock()

	// Rebinding is not additive: release whatever an earlier Start bound.
	provider.UnbindAll()
	cam, err := provider.BindToLifecycle(owner, camera.DefaultBackCamera, preview, capture)
	if err != nil {
		c.setState(Unbound)
		return StartResult{Err: fmt.Errorf("%w: %w", ErrBindFailed, err)}
	}

	unwatch := owner.Observe(func(s lifecycle.State) {
		if s == lifecycle.Destroyed {
			c.setState(Unbound)
		}
	})
	c.mu.Lock()
	prev := c.unwatch
	c.unwatch = unwatch
	if owner.State() != lifecycle.Destroyed {
		c.state = Bound
	}
	c.mu.Unlock()
	if prev != nil {
		prev()
	}
	return StartResult{Camera: cam}
}

// CapturePhoto saves one photo into outputDir, named after the current time.
// Without a capture endpoint it does nothing. The outcome is reported to the
// Notifier on the main executor. Overlapping calls are independent.
func (c *Controller) CapturePhoto(outputDir string) {
	c.mu.Lock()
	capture := c.capture
	c.mu.Unlock()
	if capture == nil {
		debug.Trace("Session: capture ignored, no capture endpoint")
		return
	}

	path := filepath.Join(outputDir, storage.PhotoFileName(c.now()))
	debug.Verbose("Session: capturing %s", path)
	capture.TakePicture(pipeline.OutputFileOptions{Path: path}, c.main, pipeline.ImageSavedFuncs{
		Saved: func(res pipeline.OutputFileResults) {
			c.notifier.Toast(captureSucceeded + storage.FileURI(res.Path))
		},
		Failed: func(err *pipeline.CaptureError) {
			c.notifier.Log(CaptureLogTag, err)
		},
	})
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

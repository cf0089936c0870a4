package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/cjeanneret/SnapGo/internal/debug"
)

// SurfaceProvider is the on-screen rendering target of a Preview.
// It is owned by the UI layer; the Preview only keeps a reference.
type SurfaceProvider interface {
	RenderFrame(frame []byte)
}

// Preview streams live frames from its bound camera to a surface.
type Preview struct {
	mu       sync.Mutex
	surface  SurfaceProvider
	cancel   context.CancelFunc
	finished chan struct{}
}

// NewPreview builds a preview with the default configuration.
func NewPreview() *Preview {
	return &Preview{}
}

// SetSurfaceProvider attaches the rendering target. May be called at any time;
// nil detaches it.
func (pv *Preview) SetSurfaceProvider(s SurfaceProvider) {
	pv.mu.Lock()
	pv.surface = s
	pv.mu.Unlock()
}

func (pv *Preview) surfaceProvider() SurfaceProvider {
	pv.mu.Lock()
	defer pv.mu.Unlock()
	return pv.surface
}

// Streaming reports whether the preview is bound and delivering frames.
func (pv *Preview) Streaming() bool {
	pv.mu.Lock()
	defer pv.mu.Unlock()
	return pv.cancel != nil
}

func (pv *Preview) useCaseName() string { return "preview" }

func (pv *Preview) attach(p *Provider, cam *BoundCamera) error {
	pv.mu.Lock()
	defer pv.mu.Unlock()
	ctx, cancel := context.WithCancel(context.Background())
	pv.cancel = cancel
	pv.finished = make(chan struct{})
	go pv.stream(ctx, cam, p.opts.PreviewInterval, pv.finished)
	return nil
}

func (pv *Preview) detach() {
	pv.mu.Lock()
	cancel, finished := pv.cancel, pv.finished
	pv.cancel, pv.finished = nil, nil
	pv.mu.Unlock()
	if cancel != nil {
		cancel()
		<-finished
	}
}

func (pv *Preview) stream(ctx context.Context, cam *BoundCamera, interval time.Duration, finished chan struct{}) {
	defer close(finished)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		frame, err := cam.frame(ctx)
		if err != nil {
			if ctx.Err() == nil && debug.IsEnabled(debug.LevelTrace) {
				debug.Trace("Preview: frame from %s failed: %v", cam.device.Name(), err)
			}
			continue
		}
		if debug.IsEnabled(debug.LevelTrace) {
			debug.Trace("Preview: %s frame (%d bytes)", cam.device.Name(), len(frame))
		}
		if s := pv.surfaceProvider(); s != nil {
			s.RenderFrame(frame)
		}
	}
}

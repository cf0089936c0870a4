package pipeline

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/cjeanneret/SnapGo/internal/debug"
	"github.com/cjeanneret/SnapGo/internal/executor"
	"github.com/cjeanneret/SnapGo/internal/hw/camera"
	"github.com/cjeanneret/SnapGo/internal/lifecycle"
)

// recordingSurface counts frames rendered to it.
type recordingSurface struct {
	mu     sync.Mutex
	frames int
}

func (s *recordingSurface) RenderFrame(frame []byte) {
	s.mu.Lock()
	s.frames++
	s.mu.Unlock()
}

func (s *recordingSurface) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// captureOutcome collects one callback delivery.
type captureOutcome struct {
	res OutputFileResults
	err *CaptureError
}

func outcomeCallback(ch chan<- captureOutcome) ImageSavedFuncs {
	return ImageSavedFuncs{
		Saved:  func(r OutputFileResults) { ch <- captureOutcome{res: r} },
		Failed: func(e *CaptureError) { ch <- captureOutcome{err: e} },
	}
}

func waitOutcome(t *testing.T, ch <-chan captureOutcome) captureOutcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for capture callback")
		return captureOutcome{}
	}
}

// staticDevice returns a fixed payload as its frame.
type staticDevice struct {
	payload []byte
}

func (d *staticDevice) Name() string                          { return "static" }
func (d *staticDevice) Facing() camera.Facing                 { return camera.Back }
func (d *staticDevice) Open() error                           { return nil }
func (d *staticDevice) Frame(context.Context) ([]byte, error) { return d.payload, nil }
func (d *staticDevice) Close() error                          { return nil }

type fixture struct {
	fs       afero.Fs
	camExec  *executor.Serial
	back     *camera.Mock
	front    *camera.Mock
	platform *Platform
	owner    *lifecycle.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		fs:      afero.NewMemMapFs(),
		camExec: executor.NewSerial("camera"),
		back:    camera.NewMock("back", camera.Back, 16, 12, 80),
		front:   camera.NewMock("front", camera.Front, 16, 12, 80),
		owner:   lifecycle.NewRegistry(),
	}
	t.Cleanup(f.camExec.Shutdown)
	f.platform = NewPlatform([]camera.Device{f.back, f.front}, Options{
		Fs:              f.fs,
		CameraExecutor:  f.camExec,
		PreviewInterval: 2 * time.Millisecond,
	})
	return f
}

func (f *fixture) provider(t *testing.T) *Provider {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	p, err := f.platform.GetInstance(ctx).Get(ctx)
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	return p
}

// ---------- Future ----------

func TestFuture_CompleteOnce(t *testing.T) {
	f := NewFuture[int]()
	if !f.Complete(1, nil) {
		t.Fatal("first Complete should win")
	}
	if f.Complete(2, errors.New("late")) {
		t.Error("second Complete should lose")
	}
	v, err := f.Get(context.Background())
	if v != 1 || err != nil {
		t.Errorf("Get() = %d, %v; want 1, nil", v, err)
	}
}

func TestFuture_ListenersRunOnExecutor(t *testing.T) {
	exec := executor.NewSerial("listeners")
	defer exec.Shutdown()

	f := NewFuture[string]()
	got := make(chan string, 2)
	f.AddListener(func() { v, _ := f.Get(context.Background()); got <- "early:" + v }, exec)
	f.Complete("x", nil)
	f.AddListener(func() { v, _ := f.Get(context.Background()); got <- "late:" + v }, exec)

	want := []string{"early:x", "late:x"}
	for _, w := range want {
		select {
		case g := <-got:
			if g != w {
				t.Errorf("listener = %q, want %q", g, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("listener %q never ran", w)
		}
	}
}

func TestFuture_GetHonorsContext(t *testing.T) {
	f := NewFuture[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.Get(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Get on pending future: err = %v, want context.Canceled", err)
	}
}

// ---------- Platform ----------

func TestPlatform_GetInstanceReturnsSameProvider(t *testing.T) {
	f := newFixture(t)
	if f.provider(t) != f.provider(t) {
		t.Error("GetInstance should always complete with the same Provider")
	}
}

func TestPlatform_GetInstanceFailures(t *testing.T) {
	exec := executor.NewSerial("camera")
	empty := NewPlatform(nil, Options{CameraExecutor: exec, Fs: afero.NewMemMapFs()})
	if _, err := empty.GetInstance(context.Background()).Get(context.Background()); !errors.Is(err, ErrNoCameras) {
		t.Errorf("no devices: err = %v, want ErrNoCameras", err)
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	pl := NewPlatform([]camera.Device{camera.NewMock("back", camera.Back, 8, 8, 50)}, Options{CameraExecutor: exec})
	if _, err := pl.GetInstance(cancelled).Get(context.Background()); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled ctx: err = %v, want context.Canceled", err)
	}

	exec.Shutdown()
	if _, err := pl.GetInstance(context.Background()).Get(context.Background()); !errors.Is(err, executor.ErrShutdown) {
		t.Errorf("stopped executor: err = %v, want ErrShutdown", err)
	}
}

// ---------- Provider ----------

func TestProvider_BindAndUnbind(t *testing.T) {
	f := newFixture(t)
	p := f.provider(t)

	preview, capture := NewPreview(), NewImageCapture()
	cam, err := p.BindToLifecycle(f.owner, camera.DefaultBackCamera, preview, capture)
	if err != nil {
		t.Fatalf("BindToLifecycle: %v", err)
	}
	if cam.Device().Name() != "back" {
		t.Errorf("bound %q, want back", cam.Device().Name())
	}
	if p.ActiveBindings() != 2 || !p.IsBound(preview) || !p.IsBound(capture) {
		t.Errorf("after bind: %d bindings, preview=%v capture=%v", p.ActiveBindings(), p.IsBound(preview), p.IsBound(capture))
	}
	if !f.back.IsOpen() {
		t.Error("back camera should be open while bound")
	}

	p.UnbindAll()
	p.UnbindAll() // idempotent
	if p.ActiveBindings() != 0 {
		t.Errorf("after UnbindAll: %d bindings, want 0", p.ActiveBindings())
	}
	if f.back.IsOpen() {
		t.Error("back camera should be closed after UnbindAll")
	}
	if preview.Streaming() {
		t.Error("preview should stop streaming after UnbindAll")
	}
}

func TestProvider_UnbindAllWithNothingBound(t *testing.T) {
	f := newFixture(t)
	p := f.provider(t)
	p.UnbindAll()
	if p.ActiveBindings() != 0 {
		t.Errorf("ActiveBindings() = %d, want 0", p.ActiveBindings())
	}
}

func TestProvider_RebindIsNotAdditive(t *testing.T) {
	f := newFixture(t)
	p := f.provider(t)

	preview := NewPreview()
	if _, err := p.BindToLifecycle(f.owner, camera.DefaultBackCamera, preview); err != nil {
		t.Fatal(err)
	}
	if _, err := p.BindToLifecycle(f.owner, camera.DefaultBackCamera, preview); !errors.Is(err, ErrAlreadyBound) {
		t.Fatalf("binding twice: err = %v, want ErrAlreadyBound", err)
	}

	p.UnbindAll()
	preview2, capture2 := NewPreview(), NewImageCapture()
	if _, err := p.BindToLifecycle(f.owner, camera.DefaultBackCamera, preview2, capture2); err != nil {
		t.Fatalf("rebind after UnbindAll: %v", err)
	}
	if p.ActiveBindings() != 2 || p.IsBound(preview) {
		t.Errorf("after rebind: %d bindings, old preview bound=%v", p.ActiveBindings(), p.IsBound(preview))
	}
	if f.back.Opens() != 2 {
		t.Errorf("camera opened %d times, want 2", f.back.Opens())
	}
}

func TestProvider_BindFailures(t *testing.T) {
	t.Run("destroyed_owner", func(t *testing.T) {
		f := newFixture(t)
		p := f.provider(t)
		_ = f.owner.Advance(lifecycle.Destroyed)
		if _, err := p.BindToLifecycle(f.owner, camera.DefaultBackCamera, NewImageCapture()); !errors.Is(err, lifecycle.ErrDestroyed) {
			t.Errorf("err = %v, want ErrDestroyed", err)
		}
	})
	t.Run("open_failure_binds_nothing", func(t *testing.T) {
		f := newFixture(t)
		p := f.provider(t)
		f.back.SetOpenError(errors.New("device busy"))
		preview, capture := NewPreview(), NewImageCapture()
		if _, err := p.BindToLifecycle(f.owner, camera.DefaultBackCamera, preview, capture); err == nil {
			t.Fatal("expected error when the camera cannot be opened")
		}
		if p.ActiveBindings() != 0 || preview.Streaming() {
			t.Errorf("failed bind left %d bindings (streaming=%v)", p.ActiveBindings(), preview.Streaming())
		}
	})
	t.Run("camera_in_use_by_other_owner", func(t *testing.T) {
		f := newFixture(t)
		p := f.provider(t)
		if _, err := p.BindToLifecycle(f.owner, camera.DefaultBackCamera, NewPreview()); err != nil {
			t.Fatal(err)
		}
		other := lifecycle.NewRegistry()
		if _, err := p.BindToLifecycle(other, camera.DefaultBackCamera, NewImageCapture()); !errors.Is(err, ErrCameraInUse) {
			t.Errorf("err = %v, want ErrCameraInUse", err)
		}
	})
	t.Run("no_use_case", func(t *testing.T) {
		f := newFixture(t)
		if _, err := f.provider(t).BindToLifecycle(f.owner, camera.DefaultBackCamera); err == nil {
			t.Error("expected error when binding nothing")
		}
	})
}

func TestProvider_OwnerDestroyReleasesBindings(t *testing.T) {
	f := newFixture(t)
	p := f.provider(t)
	capture := NewImageCapture()
	if _, err := p.BindToLifecycle(f.owner, camera.Selector{Facing: camera.Front}, capture); err != nil {
		t.Fatal(err)
	}
	if err := f.owner.Advance(lifecycle.Destroyed); err != nil {
		t.Fatal(err)
	}
	if p.IsBound(capture) || f.front.IsOpen() {
		t.Errorf("destroying the owner should release the camera (bound=%v open=%v)", p.IsBound(capture), f.front.IsOpen())
	}
}

// ---------- Preview ----------

func TestPreview_StreamsToSurfaceWhileBound(t *testing.T) {
	f := newFixture(t)
	p := f.provider(t)

	surface := &recordingSurface{}
	preview := NewPreview()
	preview.SetSurfaceProvider(surface)
	if _, err := p.BindToLifecycle(f.owner, camera.DefaultBackCamera, preview); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for surface.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if surface.count() < 3 {
		t.Fatalf("surface received %d frames, want >= 3", surface.count())
	}

	p.UnbindAll()
	after := surface.count()
	time.Sleep(20 * time.Millisecond)
	if surface.count() != after {
		t.Errorf("surface kept receiving frames after unbind (%d -> %d)", after, surface.count())
	}
}

// ---------- ImageCapture ----------

func TestImageCapture_UnboundReportsCameraClosed(t *testing.T) {
	ch := make(chan captureOutcome, 1)
	NewImageCapture().TakePicture(OutputFileOptions{Path: "/out/a.jpg"}, executor.Direct{}, outcomeCallback(ch))
	o := waitOutcome(t, ch)
	if o.err == nil || o.err.Code != ErrorCameraClosed {
		t.Errorf("outcome = %+v, want ErrorCameraClosed", o)
	}
}

func TestImageCapture_WritesJPEG(t *testing.T) {
	f := newFixture(t)
	p := f.provider(t)
	capture := NewImageCapture()
	if _, err := p.BindToLifecycle(f.owner, camera.DefaultBackCamera, capture); err != nil {
		t.Fatal(err)
	}
	_ = f.fs.MkdirAll("/out", 0o755)

	ch := make(chan captureOutcome, 1)
	capture.TakePicture(OutputFileOptions{Path: "/out/a.jpg"}, executor.Direct{}, outcomeCallback(ch))
	o := waitOutcome(t, ch)
	if o.err != nil {
		t.Fatalf("capture failed: %v", o.err)
	}
	if o.res.Path != "/out/a.jpg" || o.res.Bytes == 0 {
		t.Errorf("result = %+v", o.res)
	}
	data, err := afero.ReadFile(f.fs, "/out/a.jpg")
	if err != nil {
		t.Fatalf("read photo: %v", err)
	}
	if len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
		t.Error("photo does not start with a JPEG SOI marker")
	}
}

func TestImageCapture_Failures(t *testing.T) {
	t.Run("frame_error", func(t *testing.T) {
		f := newFixture(t)
		capture := NewImageCapture()
		if _, err := f.provider(t).BindToLifecycle(f.owner, camera.DefaultBackCamera, capture); err != nil {
			t.Fatal(err)
		}
		f.back.SetFrameError(errors.New("sensor timeout"))
		ch := make(chan captureOutcome, 1)
		capture.TakePicture(OutputFileOptions{Path: "/a.jpg"}, executor.Direct{}, outcomeCallback(ch))
		if o := waitOutcome(t, ch); o.err == nil || o.err.Code != ErrorCaptureFailed {
			t.Errorf("outcome = %+v, want ErrorCaptureFailed", o)
		}
	})
	t.Run("not_a_jpeg", func(t *testing.T) {
		exec := executor.NewSerial("camera")
		defer exec.Shutdown()
		pl := NewPlatform([]camera.Device{&staticDevice{payload: []byte("plain text, not an image")}}, Options{
			Fs: afero.NewMemMapFs(), CameraExecutor: exec,
		})
		p, err := pl.GetInstance(context.Background()).Get(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		capture := NewImageCapture()
		if _, err := p.BindToLifecycle(lifecycle.NewRegistry(), camera.DefaultBackCamera, capture); err != nil {
			t.Fatal(err)
		}
		ch := make(chan captureOutcome, 1)
		capture.TakePicture(OutputFileOptions{Path: "/a.jpg"}, executor.Direct{}, outcomeCallback(ch))
		if o := waitOutcome(t, ch); o.err == nil || o.err.Code != ErrorCaptureFailed {
			t.Errorf("outcome = %+v, want ErrorCaptureFailed", o)
		}
	})
	t.Run("write_error", func(t *testing.T) {
		f := newFixture(t)
		f.platform.opts.Fs = afero.NewReadOnlyFs(afero.NewMemMapFs())
		capture := NewImageCapture()
		if _, err := f.provider(t).BindToLifecycle(f.owner, camera.DefaultBackCamera, capture); err != nil {
			t.Fatal(err)
		}
		ch := make(chan captureOutcome, 1)
		capture.TakePicture(OutputFileOptions{Path: "/a.jpg"}, executor.Direct{}, outcomeCallback(ch))
		o := waitOutcome(t, ch)
		if o.err == nil || o.err.Code != ErrorFileIO {
			t.Errorf("outcome = %+v, want ErrorFileIO", o)
		}
		if o.err != nil && o.err.Unwrap() == nil {
			t.Error("file error should carry its cause")
		}
	})
	t.Run("empty_path", func(t *testing.T) {
		f := newFixture(t)
		capture := NewImageCapture()
		if _, err := f.provider(t).BindToLifecycle(f.owner, camera.DefaultBackCamera, capture); err != nil {
			t.Fatal(err)
		}
		ch := make(chan captureOutcome, 1)
		capture.TakePicture(OutputFileOptions{}, executor.Direct{}, outcomeCallback(ch))
		if o := waitOutcome(t, ch); o.err == nil || o.err.Code != ErrorFileIO {
			t.Errorf("outcome = %+v, want ErrorFileIO", o)
		}
	})
	t.Run("device_closed_underneath", func(t *testing.T) {
		f := newFixture(t)
		capture := NewImageCapture()
		if _, err := f.provider(t).BindToLifecycle(f.owner, camera.DefaultBackCamera, capture); err != nil {
			t.Fatal(err)
		}
		_ = f.back.Close()
		ch := make(chan captureOutcome, 1)
		capture.TakePicture(OutputFileOptions{Path: "/a.jpg"}, executor.Direct{}, outcomeCallback(ch))
		if o := waitOutcome(t, ch); o.err == nil || o.err.Code != ErrorCameraClosed {
			t.Errorf("outcome = %+v, want ErrorCameraClosed", o)
		}
	})
	t.Run("released_camera", func(t *testing.T) {
		f := newFixture(t)
		p := f.provider(t)
		capture := NewImageCapture()
		if _, err := p.BindToLifecycle(f.owner, camera.DefaultBackCamera, capture); err != nil {
			t.Fatal(err)
		}
		p.UnbindAll()
		ch := make(chan captureOutcome, 1)
		capture.TakePicture(OutputFileOptions{Path: "/a.jpg"}, executor.Direct{}, outcomeCallback(ch))
		if o := waitOutcome(t, ch); o.err == nil || o.err.Code != ErrorCameraClosed {
			t.Errorf("outcome = %+v, want ErrorCameraClosed", o)
		}
	})
}

func TestImageCapture_RefusedCallbackIsReported(t *testing.T) {
	debug.Init(debug.LevelOff)
	var out bytes.Buffer
	debug.SetOutput(&out)
	defer debug.Init(debug.LevelOff)

	f := newFixture(t)
	capture := NewImageCapture()
	if _, err := f.provider(t).BindToLifecycle(f.owner, camera.DefaultBackCamera, capture); err != nil {
		t.Fatal(err)
	}
	cbExec := executor.NewSerial("main")
	cbExec.Shutdown()

	capture.TakePicture(OutputFileOptions{Path: "/a.jpg"}, cbExec, ImageSavedFuncs{
		Saved:  func(OutputFileResults) { t.Error("callback ran on a shut down executor") },
		Failed: func(*CaptureError) { t.Error("callback ran on a shut down executor") },
	})
	// Drain the camera executor so the write and dispatch have happened.
	drained := make(chan struct{})
	if err := f.camExec.Execute(func() { close(drained) }); err != nil {
		t.Fatal(err)
	}
	<-drained

	if got := out.String(); !strings.Contains(got, "Executor") || !strings.Contains(got, "shut down") {
		t.Errorf("diagnostic output = %q, want the refused callback reported", got)
	}
}

func TestCaptureError_Message(t *testing.T) {
	cause := errors.New("disk full")
	e := &CaptureError{Code: ErrorFileIO, Message: "write /a.jpg", Cause: cause}
	if !errors.Is(e, cause) {
		t.Error("CaptureError should unwrap to its cause")
	}
	if got := e.Error(); got != "image capture (file io): write /a.jpg: disk full" {
		t.Errorf("Error() = %q", got)
	}
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"

	"github.com/cjeanneret/SnapGo/internal/debug"
	"github.com/cjeanneret/SnapGo/internal/executor"
	"github.com/cjeanneret/SnapGo/internal/hw/camera"
)

// ErrorCode classifies a capture failure.
type ErrorCode int

const (
	ErrorUnknown ErrorCode = iota
	ErrorFileIO
	ErrorCaptureFailed
	ErrorCameraClosed
	ErrorInvalidCamera
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorFileIO:
		return "file io"
	case ErrorCaptureFailed:
		return "capture failed"
	case ErrorCameraClosed:
		return "camera closed"
	case ErrorInvalidCamera:
		return "invalid camera"
	default:
		return "unknown"
	}
}

// CaptureError is reported to OnImageSavedCallback.OnError.
type CaptureError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *CaptureError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("image capture (%s): %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("image capture (%s): %s", e.Code, e.Message)
}

func (e *CaptureError) Unwrap() error {
	return e.Cause
}

// OutputFileOptions tells TakePicture where to write the photo.
type OutputFileOptions struct {
	Path string
}

// OutputFileResults describes a saved photo.
type OutputFileResults struct {
	Path  string
	Bytes int
}

// OnImageSavedCallback receives exactly one of its two outcomes per capture.
type OnImageSavedCallback interface {
	OnImageSaved(OutputFileResults)
	OnError(*CaptureError)
}

// ImageSavedFuncs adapts two functions to OnImageSavedCallback.
type ImageSavedFuncs struct {
	Saved  func(OutputFileResults)
	Failed func(*CaptureError)
}

func (f ImageSavedFuncs) OnImageSaved(r OutputFileResults) {
	if f.Saved != nil {
		f.Saved(r)
	}
}

func (f ImageSavedFuncs) OnError(err *CaptureError) {
	if f.Failed != nil {
		f.Failed(err)
	}
}

// ImageCapture saves single frames to files. It only works while bound.
type ImageCapture struct {
	mu   sync.Mutex
	cam  *BoundCamera
	fs   afero.Fs
	exec executor.Executor
}

// NewImageCapture builds a capture endpoint with the default configuration
// (no flash, zoom or resolution settings).
func NewImageCapture() *ImageCapture {
	return &ImageCapture{}
}

func (ic *ImageCapture) useCaseName() string { return "image capture" }

func (ic *ImageCapture) attach(p *Provider, cam *BoundCamera) error {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.cam = cam
	ic.fs = p.opts.Fs
	ic.exec = p.opts.CameraExecutor
	return nil
}

func (ic *ImageCapture) detach() {
	ic.mu.Lock()
	ic.cam = nil
	ic.mu.Unlock()
}

// TakePicture grabs one frame and writes it to opts.Path on the camera
// executor, then delivers the outcome to cb on cbExec. Calls are independent:
// nothing is queued behind or merged with another call.
func (ic *ImageCapture) TakePicture(opts OutputFileOptions, cbExec executor.Executor, cb OnImageSavedCallback) {
	ic.mu.Lock()
	cam, fs, exec := ic.cam, ic.fs, ic.exec
	ic.mu.Unlock()

	fail := func(e *CaptureError) {
		dispatch(cbExec, func() { cb.OnError(e) })
	}

	if cam == nil {
		fail(&CaptureError{Code: ErrorCameraClosed, Message: "not bound to a valid camera"})
		return
	}
	if opts.Path == "" {
		fail(&CaptureError{Code: ErrorFileIO, Message: "empty output path"})
		return
	}

	err := exec.Execute(func() {
		data, err := cam.frame(context.Background())
		if err != nil {
			code := ErrorCaptureFailed
			if errors.Is(err, errCameraClosed) || errors.Is(err, camera.ErrNotOpen) {
				code = ErrorCameraClosed
			}
			fail(&CaptureError{Code: code, Message: "grab frame from " + cam.device.Name(), Cause: err})
			return
		}
		if mt := mimetype.Detect(data); !mt.Is("image/jpeg") {
			fail(&CaptureError{Code: ErrorCaptureFailed, Message: "frame is " + mt.String() + ", want image/jpeg"})
			return
		}
		if err := afero.WriteFile(fs, opts.Path, data, 0o644); err != nil {
			fail(&CaptureError{Code: ErrorFileIO, Message: "write " + opts.Path, Cause: err})
			return
		}
		debug.Saved(opts.Path, len(data))
		res := OutputFileResults{Path: opts.Path, Bytes: len(data)}
		dispatch(cbExec, func() { cb.OnImageSaved(res) })
	})
	if err != nil {
		fail(&CaptureError{Code: ErrorCameraClosed, Message: "camera executor unavailable", Cause: err})
	}
}

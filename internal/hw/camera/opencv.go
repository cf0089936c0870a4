//go:build opencv

package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cjeanneret/SnapGo/internal/debug"
	"gocv.io/x/gocv"
)

// OpenCV is a Device reading frames from a webcam through gocv.
// device is either a numeric index ("0") or a path ("/dev/video2").
type OpenCV struct {
	name    string
	facing  Facing
	device  string
	width   int
	height  int
	quality int

	mu  sync.Mutex
	vc  *gocv.VideoCapture
	mat gocv.Mat
}

// NewOpenCV creates an OpenCV-backed camera. The device is opened lazily by Open.
func NewOpenCV(name string, facing Facing, device string, width, height, quality int) (*OpenCV, error) {
	if device == "" {
		return nil, errors.New("camera: opencv device is empty")
	}
	return &OpenCV{
		name:    name,
		facing:  facing,
		device:  device,
		width:   width,
		height:  height,
		quality: quality,
	}, nil
}

func (o *OpenCV) Name() string   { return o.name }
func (o *OpenCV) Facing() Facing { return o.facing }

func (o *OpenCV) Open() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.vc != nil {
		return nil
	}

	vc, err := gocv.OpenVideoCapture(o.device)
	if err != nil {
		return fmt.Errorf("open %s (%s): %w", o.name, o.device, err)
	}
	vc.Set(gocv.VideoCaptureFrameWidth, float64(o.width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(o.height))
	o.vc = vc
	o.mat = gocv.NewMat()
	debug.Verbose("Camera %s: opened (opencv %s, %dx%d)", o.name, o.device, o.width, o.height)
	return nil
}

func (o *OpenCV) Frame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.vc == nil {
		return nil, fmt.Errorf("%s: %w", o.name, ErrNotOpen)
	}
	if ok := o.vc.Read(&o.mat); !ok || o.mat.Empty() {
		return nil, fmt.Errorf("%s: read frame failed", o.name)
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, o.mat, []int{gocv.IMWriteJpegQuality, o.quality})
	if err != nil {
		return nil, fmt.Errorf("%s: encode frame: %w", o.name, err)
	}
	defer buf.Close()

	// The native buffer is released on Close, copy it out first.
	data := append([]byte(nil), buf.GetBytes()...)
	debug.Trace("Camera %s: frame (%d bytes)", o.name, len(data))
	return data, nil
}

func (o *OpenCV) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.vc == nil {
		return nil
	}
	err := o.vc.Close()
	_ = o.mat.Close()
	o.vc = nil
	debug.Verbose("Camera %s: closed", o.name)
	return err
}

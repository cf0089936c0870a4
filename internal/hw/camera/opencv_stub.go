//go:build !opencv

package camera

import "fmt"

// OpenCV is only available in binaries built with -tags opencv.
type OpenCV struct {
	Device
}

// NewOpenCV always fails: this binary was built without OpenCV support.
func NewOpenCV(name string, facing Facing, device string, width, height, quality int) (*OpenCV, error) {
	return nil, fmt.Errorf("%s: build with -tags opencv: %w", name, ErrBackendUnavailable)
}

//go:build !opencv

package motion

import (
	"errors"

	"github.com/CE-Thesis-2023/edge/internal/types"
)

// ErrNotBuilt is returned by Detect when the binary was built without
// OpenCV support.
var ErrNotBuilt = errors.New("motion: not built with motion detection support (build with -tags opencv)")

// Config mirrors the per-camera motion configuration fields.
type Config struct {
	Enabled            bool
	Threshold          float32
	LightningThreshold float32
	ContourArea        float64
	DeltaAlpha         float64
	FrameAlpha         float64
	FrameHeight        int
}

// DefaultConfig returns the motion detector's baseline tuning values.
func DefaultConfig() Config {
	return Config{
		Enabled:            true,
		Threshold:          30,
		LightningThreshold: 0.8,
		ContourArea:        10,
		DeltaAlpha:         0.2,
		FrameAlpha:         0.01,
		FrameHeight:        100,
	}
}

// Detector is the no-op stand-in used when the binary is built without the
// opencv tag.
type Detector struct{}

// NewDetector returns a stub Detector whose Detect always fails.
func NewDetector(nativeH, nativeW int, cfg Config, blurRadius int) *Detector {
	return &Detector{}
}

// Close is a no-op.
func (d *Detector) Close() error { return nil }

// Detect always returns ErrNotBuilt.
func (d *Detector) Detect(frame []byte) ([]types.Box, error) {
	return nil, ErrNotBuilt
}

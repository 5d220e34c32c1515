//go:build opencv

// Package motion implements the per-camera differencing, calibration, and
// contour-extraction pipeline. It requires a system OpenCV install and gocv
// bindings, so it is gated behind the opencv build tag; motion_stub.go
// provides the no-op fallback used by default builds.
package motion

import (
	"fmt"
	"image"

	"github.com/CE-Thesis-2023/edge/internal/types"
	"gocv.io/x/gocv"
)

// Config mirrors the per-camera motion configuration fields.
type Config struct {
	Enabled            bool
	Threshold          float32 // 1-255
	LightningThreshold float32 // 0.3-1.0
	ContourArea        float64
	DeltaAlpha         float64 // alpha while calibrating
	FrameAlpha         float64 // alpha once stable
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

// Detector is stateful per camera.
type Detector struct {
	cfg Config

	nativeH, nativeW int
	motionH, motionW int
	resizeFactor     float64
	blurRadius       int
	interpolation    gocv.InterpolationFlags

	avgFrame         gocv.Mat
	calibrating      bool
	motionFrameCount int
}

// NewDetector constructs a Detector for a camera whose native luminance
// plane is nativeH x nativeW.
func NewDetector(nativeH, nativeW int, cfg Config, blurRadius int) *Detector {
	if blurRadius <= 0 {
		blurRadius = 1
	}
	frameHeight := cfg.FrameHeight
	if frameHeight <= 0 {
		frameHeight = 100
	}
	motionW := int(float64(frameHeight) * float64(nativeW) / float64(nativeH))

	avg := gocv.NewMatWithSize(frameHeight, motionW, gocv.MatTypeCV32F)

	return &Detector{
		cfg:           cfg,
		nativeH:       nativeH,
		nativeW:       nativeW,
		motionH:       frameHeight,
		motionW:       motionW,
		resizeFactor:  float64(nativeH) / float64(frameHeight),
		blurRadius:    blurRadius,
		interpolation: gocv.InterpolationLinear,
		avgFrame:      avg,
		calibrating:   true,
	}
}

// Close releases the detector's OpenCV resources.
func (d *Detector) Close() error {
	return d.avgFrame.Close()
}

// Detect runs one frame through the pipeline and returns motion boxes in
// native frame coordinates. frame is the top nativeH*nativeW bytes of a
// YUV420p buffer (the luminance plane).
func (d *Detector) Detect(frame []byte) ([]types.Box, error) {
	if !d.cfg.Enabled {
		return nil, nil
	}
	if len(frame) < d.nativeH*d.nativeW {
		return nil, fmt.Errorf("motion: frame too small: got %d bytes, want >= %d", len(frame), d.nativeH*d.nativeW)
	}

	lum, err := gocv.NewMatFromBytes(d.nativeH, d.nativeW, gocv.MatTypeCV8U, frame[:d.nativeH*d.nativeW])
	if err != nil {
		return nil, fmt.Errorf("motion: wrap frame: %w", err)
	}
	defer lum.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(lum, &resized, image.Pt(d.motionW, d.motionH), 0, 0, d.interpolation)

	resizedF := gocv.NewMat()
	defer resizedF.Close()
	resized.ConvertTo(&resizedF, gocv.MatTypeCV32F)

	blurred := gocv.NewMat()
	defer blurred.Close()
	k := 2*d.blurRadius + 1
	gocv.GaussianBlur(resizedF, &blurred, image.Pt(k, k), 1, 1, gocv.BorderDefault)

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(blurred, d.avgFrame, &diff)

	diff8 := gocv.NewMat()
	defer diff8.Close()
	diff.ConvertTo(&diff8, gocv.MatTypeCV8U)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(diff8, &thresh, d.cfg.Threshold, 255, gocv.ThresholdBinary)

	dilated := gocv.NewMat()
	defer dilated.Close()
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3))
	defer kernel.Close()
	gocv.Dilate(thresh, &dilated, kernel)

	contours := gocv.FindContours(dilated, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	var boxes []types.Box
	var areaSum float64
	for i := 0; i < contours.Size(); i++ {
		c := contours.At(i)
		area := gocv.ContourArea(c)
		if area <= d.cfg.ContourArea {
			continue
		}
		areaSum += area
		rect := gocv.BoundingRect(c)
		boxes = append(boxes, types.Box{
			X1: int(float64(rect.Min.X) * d.resizeFactor),
			Y1: int(float64(rect.Min.Y) * d.resizeFactor),
			X2: int(float64(rect.Max.X) * d.resizeFactor),
			Y2: int(float64(rect.Max.Y) * d.resizeFactor),
		})
	}

	pct := areaSum / float64(d.motionH*d.motionW)

	if pct < 0.05 && len(boxes) <= 4 {
		d.calibrating = false
	}
	if d.calibrating || pct > float64(d.cfg.LightningThreshold) {
		d.calibrating = true
	}

	alpha := d.cfg.FrameAlpha
	if d.calibrating {
		alpha = d.cfg.DeltaAlpha
	}
	gocv.AccumulateWeighted(blurred, &d.avgFrame, alpha)

	if len(boxes) > 0 {
		d.motionFrameCount++
		if d.motionFrameCount >= 10 {
			d.motionFrameCount = 0
		}
	}

	return boxes, nil
}

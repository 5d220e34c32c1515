// Package types holds the data exchanged between pipeline stages: frame
// keys, detections, motion boxes, and the event record that reaches the
// configured sinks. Kept dependency-free so every stage package (capture,
// motion, worker, sink) can import it without pulling in config or transport
// concerns.
package types

import (
	"fmt"
	"time"
)

// FrameKey uniquely identifies one frame's shared-memory region across
// process and goroutine boundaries: "<camera>@<unix-nano timestamp>".
type FrameKey string

// NewFrameKey builds a FrameKey for camera at t.
func NewFrameKey(camera string, t time.Time) FrameKey {
	return FrameKey(fmt.Sprintf("%s@%d", camera, t.UnixNano()))
}

// Box is an axis-aligned bounding box in native frame coordinates.
type Box struct {
	X1, Y1, X2, Y2 int
}

// Detection is one object-detector result: class, confidence, and a box
// expressed in the model's (y1, x1, y2, x2) convention, matching the
// six-float wire layout documented in the data model.
type Detection struct {
	ClassID        int
	Score          float32
	Y1, X1, Y2, X2 float32
}

// MaxDetections is the number of detection slots in the shared output
// region per camera.
const MaxDetections = 20

// Event is one process-worker result for a single frame: the motion boxes
// and object detections observed at FrameTime.
type Event struct {
	Camera      string
	FrameTime   float64
	MotionBoxes []Box
	Detections  []Detection
}

// EventMessage is the wire form of an Event published to a sink.
type EventMessage struct {
	Camera      string      `json:"camera"`
	FrameTime   float64     `json:"frame_time"`
	MotionBoxes []Box       `json:"motion_boxes"`
	Detections  []Detection `json:"detections"`
	PublishedAt time.Time   `json:"published_at"`
}

// ToMessage stamps an Event into its wire form.
func (e Event) ToMessage(publishedAt time.Time) EventMessage {
	return EventMessage{
		Camera:      e.Camera,
		FrameTime:   e.FrameTime,
		MotionBoxes: e.MotionBoxes,
		Detections:  e.Detections,
		PublishedAt: publishedAt,
	}
}

// Package processworker implements the per-camera ProcessWorker: it
// consumes frame keys published by the capture stage, runs motion
// detection, optionally hands the frame to the object-detection worker,
// and emits an Event for the event worker to publish.
package processworker

import (
	"context"
	"log/slog"
	"time"

	"github.com/CE-Thesis-2023/edge/internal/queue"
	"github.com/CE-Thesis-2023/edge/internal/readyevent"
	"github.com/CE-Thesis-2023/edge/internal/shm"
	"github.com/CE-Thesis-2023/edge/internal/types"
	"github.com/CE-Thesis-2023/edge/internal/util"
)

// Detector is the subset of motion.Detector used by Worker, kept as an
// interface so this package does not depend on the opencv build tag.
type Detector interface {
	Detect(frame []byte) ([]types.Box, error)
}

// Config configures one camera's ProcessWorker.
type Config struct {
	Camera        string
	FrameSize     int // H*W*3/2, the raw YUV420p frame size
	NativeH       int
	NativeW       int
	Detector      Detector
	DetectEnabled bool
	GetTimeout    time.Duration
	ReadyTimeout  time.Duration
	Logger        *slog.Logger
}

// Worker consumes frame keys for one camera.
type Worker struct {
	cfg             Config
	shmMgr          *shm.Manager
	frameKeys       *queue.Queue[types.FrameKey]
	detectionTokens *queue.Queue[string]
	ready           *readyevent.Event
	eventQueue      *queue.Queue[types.Event]
}

// New creates a Worker. detectionTokens/ready may be nil when DetectEnabled
// is false.
func New(cfg Config, shmMgr *shm.Manager, frameKeys *queue.Queue[types.FrameKey], detectionTokens *queue.Queue[string], ready *readyevent.Event, eventQueue *queue.Queue[types.Event]) *Worker {
	if cfg.GetTimeout <= 0 {
		cfg.GetTimeout = time.Second
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = time.Second
	}
	return &Worker{
		cfg:             cfg,
		shmMgr:          shmMgr,
		frameKeys:       frameKeys,
		detectionTokens: detectionTokens,
		ready:           ready,
		eventQueue:      eventQueue,
	}
}

// Name identifies this supervised service.
func (w *Worker) Name() string { return "process:" + w.cfg.Camera }

// Run consumes frame keys until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		key, ok := w.frameKeys.Get(w.cfg.GetTimeout)
		if !ok {
			continue
		}
		if err := util.RecoverToPanic(func() error {
			w.process(key)
			return nil
		}); err != nil && w.cfg.Logger != nil {
			w.cfg.Logger.Error("process worker: recovered panic", "camera", w.cfg.Camera, "key", key, "error", err)
		}
	}
}

func (w *Worker) process(key types.FrameKey) {
	region, err := w.shmMgr.Attach(string(key), w.cfg.FrameSize)
	if err != nil {
		if w.cfg.Logger != nil {
			w.cfg.Logger.Error("process worker: attach frame", "camera", w.cfg.Camera, "key", key, "error", err)
		}
		return
	}
	// This worker is the final logical consumer of the raw frame buffer:
	// it always deletes the key, whether or not detection also ran against
	// a separately copied input region.
	defer w.shmMgr.Delete(string(key))

	luma := region.Bytes()[:w.cfg.NativeH*w.cfg.NativeW]
	boxes, err := w.cfg.Detector.Detect(luma)
	if err != nil && w.cfg.Logger != nil {
		w.cfg.Logger.Warn("motion detect failed", "camera", w.cfg.Camera, "error", err)
	}

	var detections []types.Detection
	if w.cfg.DetectEnabled && len(boxes) > 0 {
		detections = w.runDetection(region.Bytes())
	}

	evt := types.Event{
		Camera:      w.cfg.Camera,
		FrameTime:   float64(time.Now().UnixNano()) / 1e9,
		MotionBoxes: boxes,
		Detections:  detections,
	}

	if !w.eventQueue.TryPut(evt) {
		if w.cfg.Logger != nil {
			w.cfg.Logger.Warn("event queue full, dropping event", "camera", w.cfg.Camera)
		}
	}
}

// runDetection copies the frame into the shared input region the detection
// worker attaches by convention (name == camera), submits a token, and
// waits bounded for the result to appear in the output region.
func (w *Worker) runDetection(frame []byte) []types.Detection {
	input, err := w.shmMgr.Attach(w.cfg.Camera, len(frame))
	if err != nil {
		if w.cfg.Logger != nil {
			w.cfg.Logger.Error("process worker: attach detection input", "camera", w.cfg.Camera, "error", err)
		}
		return nil
	}
	copy(input.Bytes(), frame)

	w.ready.Reset()
	if !w.detectionTokens.TryPut(w.cfg.Camera) {
		return nil // detector backlogged; skip this frame's detection
	}
	if !w.ready.Wait(w.cfg.ReadyTimeout) {
		return nil
	}

	output, err := w.shmMgr.Attach("detection-result_"+w.cfg.Camera, types.DetectionRegionSize)
	if err != nil {
		return nil
	}
	return types.DecodeDetections(output.Bytes())
}

// Package detectworker implements the single process that serves object
// detection for every camera over shared-memory input/output slots, gated
// by a per-camera ready event and fed by one shared token queue.
package detectworker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/CE-Thesis-2023/edge/internal/queue"
	"github.com/CE-Thesis-2023/edge/internal/readyevent"
	"github.com/CE-Thesis-2023/edge/internal/shm"
	"github.com/CE-Thesis-2023/edge/internal/types"
	"github.com/CE-Thesis-2023/edge/internal/util"
)

// DetectFunc runs the model over a pre-processed tensor and returns up to
// types.MaxDetections results. The model backend itself is out of scope;
// callers inject a concrete implementation.
type DetectFunc func(tensor []float32, shape [4]int) ([]types.Detection, error)

// Config configures the worker.
type Config struct {
	ModelHeight, ModelWidth int
	Detect                  DetectFunc
	Logger                  *slog.Logger
	Timeout                 time.Duration
}

// Worker drains camera tokens from a shared queue, runs detection against
// each camera's pre-allocated input region, and signals the camera's ready
// event once the output region has been written.
type Worker struct {
	cfg    Config
	shmMgr *shm.Manager
	tokens *queue.Queue[string]
	ready  map[string]*readyevent.Event
}

// New creates a Worker. ready must contain one entry per registered camera;
// the Orchestrator owns its lifecycle and pre-allocates both the input and
// output shared regions before starting this worker.
func New(cfg Config, shmMgr *shm.Manager, tokens *queue.Queue[string], ready map[string]*readyevent.Event) *Worker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}
	return &Worker{cfg: cfg, shmMgr: shmMgr, tokens: tokens, ready: ready}
}

// Name identifies this supervised service.
func (w *Worker) Name() string { return "object-detection" }

// Run drains tokens until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		camera, ok := w.tokens.Get(w.cfg.Timeout)
		if !ok {
			continue
		}
		if err := util.RecoverToPanic(func() error {
			w.process(camera)
			return nil
		}); err != nil {
			w.logError(camera, err)
		}
	}
}

func (w *Worker) process(camera string) {
	inputSize := w.cfg.ModelHeight * w.cfg.ModelWidth * 3
	input, err := w.shmMgr.Attach(camera, inputSize)
	if err != nil {
		w.logError(camera, fmt.Errorf("attach input region: %w", err))
		return
	}

	tensor := make([]float32, 1*w.cfg.ModelHeight*w.cfg.ModelWidth*3)
	for i, b := range input.Bytes() {
		if i >= len(tensor) {
			break
		}
		tensor[i] = float32(b)
	}
	shape := [4]int{1, w.cfg.ModelHeight, w.cfg.ModelWidth, 3}

	detections, err := w.cfg.Detect(tensor, shape)
	if err != nil {
		w.logError(camera, fmt.Errorf("model: %w", err))
		detections = nil // skip, never block the queue
	}
	if len(detections) > types.MaxDetections {
		detections = detections[:types.MaxDetections]
	}

	output, err := w.shmMgr.Attach("detection-result_"+camera, types.DetectionRegionSize)
	if err != nil {
		w.logError(camera, fmt.Errorf("attach output region: %w", err))
		return
	}
	types.EncodeDetections(output.Bytes(), detections)

	if ev, ok := w.ready[camera]; ok {
		ev.Set()
	}
}

func (w *Worker) logError(camera string, err error) {
	if w.cfg.Logger != nil {
		w.cfg.Logger.Error("detection worker", "camera", camera, "error", err)
	}
}

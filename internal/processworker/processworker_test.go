package processworker

import (
	"context"
	"testing"
	"time"

	"github.com/CE-Thesis-2023/edge/internal/queue"
	"github.com/CE-Thesis-2023/edge/internal/readyevent"
	"github.com/CE-Thesis-2023/edge/internal/shm"
	"github.com/CE-Thesis-2023/edge/internal/types"
)

// stubDetector returns a fixed set of boxes every call.
type stubDetector struct {
	boxes []types.Box
	err   error
}

func (d *stubDetector) Detect(frame []byte) ([]types.Box, error) {
	return d.boxes, d.err
}

func newTestWorker(t *testing.T, det Detector, detectEnabled bool, eventCap int) (*Worker, *shm.Manager, *queue.Queue[types.Event]) {
	t.Helper()
	mgr := shm.New(t.TempDir())
	frameKeys := queue.New[types.FrameKey](4)
	tokens := queue.New[string](4)
	ready := readyevent.New()
	events := queue.New[types.Event](eventCap)

	cfg := Config{
		Camera:        "cam1",
		FrameSize:     16,
		NativeH:       4,
		NativeW:       4,
		Detector:      det,
		DetectEnabled: detectEnabled,
		GetTimeout:    20 * time.Millisecond,
		ReadyTimeout:  50 * time.Millisecond,
	}
	w := New(cfg, mgr, frameKeys, tokens, ready, events)
	return w, mgr, events
}

func TestProcessNoMotionProducesEmptyEvent(t *testing.T) {
	w, mgr, events := newTestWorker(t, &stubDetector{}, false, 4)

	key := types.NewFrameKey("cam1", time.Now())
	region, err := mgr.Create(string(key), w.cfg.FrameSize)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	_ = region

	w.process(key)

	evt, ok := events.Get(100 * time.Millisecond)
	if !ok {
		t.Fatal("expected an event to be queued")
	}
	if len(evt.MotionBoxes) != 0 {
		t.Errorf("MotionBoxes = %v, want empty", evt.MotionBoxes)
	}
	if len(evt.Detections) != 0 {
		t.Errorf("Detections = %v, want empty", evt.Detections)
	}
	if mgr.OpenCount() != 0 {
		t.Errorf("OpenCount() = %d, want 0 (frame region should be deleted)", mgr.OpenCount())
	}
}

func TestProcessMotionWithDetectDisabledSkipsDetection(t *testing.T) {
	boxes := []types.Box{{X1: 0, Y1: 0, X2: 2, Y2: 2}}
	w, mgr, events := newTestWorker(t, &stubDetector{boxes: boxes}, false, 4)

	key := types.NewFrameKey("cam1", time.Now())
	if _, err := mgr.Create(string(key), w.cfg.FrameSize); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	w.process(key)

	evt, ok := events.Get(100 * time.Millisecond)
	if !ok {
		t.Fatal("expected an event to be queued")
	}
	if len(evt.MotionBoxes) != 1 {
		t.Errorf("MotionBoxes = %v, want 1 box", evt.MotionBoxes)
	}
	if len(evt.Detections) != 0 {
		t.Errorf("Detections = %v, want empty since detection is disabled", evt.Detections)
	}
}

func TestProcessMotionWithDetectEnabledRunsFullRoundTrip(t *testing.T) {
	boxes := []types.Box{{X1: 0, Y1: 0, X2: 2, Y2: 2}}
	w, mgr, events := newTestWorker(t, &stubDetector{boxes: boxes}, true, 4)

	key := types.NewFrameKey("cam1", time.Now())
	frame, err := mgr.Create(string(key), w.cfg.FrameSize)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	for i := range frame.Bytes() {
		frame.Bytes()[i] = byte(i)
	}
	// The orchestrator pre-creates the camera's detection input region.
	if _, err := mgr.Create("cam1", w.cfg.FrameSize); err != nil {
		t.Fatalf("Create(input) error = %v", err)
	}

	want := []types.Detection{{ClassID: 3, Score: 0.8, Y1: 1, X1: 2, Y2: 3, X2: 4}}

	// Simulate the detection worker: once a token has been submitted, write
	// the output region and signal ready.
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, ok := w.detectionTokens.Get(500 * time.Millisecond); !ok {
			return
		}
		out, err := mgr.Create("detection-result_cam1", types.DetectionRegionSize)
		if err != nil {
			return
		}
		types.EncodeDetections(out.Bytes(), want)
		w.ready.Set()
	}()

	w.process(key)
	<-done

	evt, ok := events.Get(100 * time.Millisecond)
	if !ok {
		t.Fatal("expected an event to be queued")
	}
	if len(evt.Detections) != 1 || evt.Detections[0] != want[0] {
		t.Errorf("Detections = %+v, want %+v", evt.Detections, want)
	}
}

func TestProcessDropsEventWhenQueueFull(t *testing.T) {
	w, mgr, events := newTestWorker(t, &stubDetector{}, false, 0)

	key := types.NewFrameKey("cam1", time.Now())
	if _, err := mgr.Create(string(key), w.cfg.FrameSize); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	w.process(key) // should not panic or block even though events has zero capacity

	if _, ok := events.Get(10 * time.Millisecond); ok {
		t.Error("expected no event to be queued when capacity is zero")
	}
	if mgr.OpenCount() != 0 {
		t.Errorf("OpenCount() = %d, want 0", mgr.OpenCount())
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	w, _, _ := newTestWorker(t, &stubDetector{}, false, 4)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := w.Run(ctx); err != nil {
		t.Errorf("Run() error = %v, want nil", err)
	}
}

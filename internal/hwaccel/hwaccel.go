// Package hwaccel selects a VA-API render node for hardware-accelerated
// FFmpeg decode and builds the decode/scale argument presets for each
// supported acceleration backend.
//
// Selection prefers the sole render node when there is only one, otherwise
// probes each with vainfo and picks the first that succeeds.
package hwaccel

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Backend identifies a hardware-acceleration method for FFmpeg decode/scale.
type Backend string

const (
	BackendNone    Backend = "default"
	BackendVAAPI   Backend = "va_api"
	BackendCUDA    Backend = "nvidia_cuda"
	BackendQuickSync Backend = "intel_quicksync_h264"
)

// ParseBackend maps a config string to a Backend, defaulting to fallback
// when inp is empty or unrecognized.
func ParseBackend(inp string, fallback Backend) Backend {
	switch Backend(inp) {
	case BackendVAAPI, BackendCUDA, BackendQuickSync, BackendNone:
		return Backend(inp)
	default:
		return fallback
	}
}

// decodePresets mirrors PRESET_HARDWARE_ACCEL_DECODE: the -hwaccel
// arguments FFmpeg needs before the input to decode on that backend.
// {device} is substituted with the selected render node path.
var decodePresets = map[Backend][]string{
	BackendQuickSync: {
		"-hwaccel", "qsv", "-qsv_device", "{device}",
		"-hwaccel_output_format", "qsv", "-c:v", "h264_qsv",
	},
	BackendVAAPI: {
		"-hwaccel_flags", "allow_profile_mismatch",
		"-hwaccel", "vaapi", "-hwaccel_device", "{device}",
		"-hwaccel_output_format", "vaapi",
	},
	BackendCUDA: {
		"-hwaccel", "cuda", "-hwaccel_output_format", "cuda",
	},
}

// scalePresets mirrors PRESET_HARDWARE_ACCEL_SCALE: the -vf filter chain
// that resamples frame rate and resizes to the detector's expected
// dimensions for that backend. {fps}, {w}, {h} are substituted.
var scalePresets = map[Backend]string{
	BackendNone:      "fps={fps},scale={w}:{h}",
	BackendVAAPI:     "fps={fps},scale_vaapi=w={w}:h={h}:format=nv12,hwdownload,format=nv12,format=yuv420p",
	BackendCUDA:      "fps={fps},scale_cuda=w={w}:h={h}:format=nv12,hwdownload,format=nv12,format=yuv420p",
	BackendQuickSync: "vpp_qsv=framerate={fps}:w={w}:h={h}:format=nv12,hwdownload,format=nv12,format=yuv420p",
}

// DecodeArgs returns the -hwaccel argument list for backend, with any
// {device} placeholder substituted with device. Returns nil for
// BackendNone (software decode, no extra args).
func DecodeArgs(backend Backend, device string) []string {
	preset, ok := decodePresets[backend]
	if !ok {
		return nil
	}
	args := make([]string, len(preset))
	for i, a := range preset {
		args[i] = strings.ReplaceAll(a, "{device}", device)
	}
	return args
}

// ScaleFilter returns the -vf filter string for backend at the given
// frame rate and target dimensions.
func ScaleFilter(backend Backend, fps, width, height int) string {
	preset, ok := scalePresets[backend]
	if !ok {
		preset = scalePresets[BackendNone]
	}
	r := strings.NewReplacer(
		"{fps}", fmt.Sprintf("%d", fps),
		"{w}", fmt.Sprintf("%d", width),
		"{h}", fmt.Sprintf("%d", height),
	)
	return r.Replace(preset)
}

// Prober runs a hardware-capability check for one /dev/dri render node.
// The vaapiProbe implementation shells out to vainfo; tests substitute a
// fake.
type Prober func(ctx context.Context, device string) bool

// Selector picks and caches the best available VA-API render node, the
// same one-shot memoized selection LibvaGpuSelector performs per process.
type Selector struct {
	driDir string
	probe  Prober

	mu       sync.Mutex
	resolved bool
	device   string
}

// NewSelector creates a Selector that lists render nodes under driDir
// (normally /dev/dri) and probes candidates with probe. If probe is nil,
// VaInfoProbe is used.
func NewSelector(driDir string, probe Prober) *Selector {
	if driDir == "" {
		driDir = "/dev/dri"
	}
	if probe == nil {
		probe = VaInfoProbe
	}
	return &Selector{driDir: driDir, probe: probe}
}

// Select returns the chosen render node's full device path, or "" if
// /dev/dri doesn't exist or no candidate probes successfully. The result
// is memoized after the first call.
func (s *Selector) Select(ctx context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resolved {
		return s.device
	}
	s.resolved = true

	entries, err := os.ReadDir(s.driDir)
	if err != nil {
		return ""
	}

	var renders []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "render") {
			renders = append(renders, e.Name())
		}
	}
	sort.Strings(renders)

	if len(renders) == 0 {
		return ""
	}
	if len(renders) < 2 {
		s.device = filepath.Join(s.driDir, renders[0])
		return s.device
	}

	for _, name := range renders {
		device := filepath.Join(s.driDir, name)
		if s.probe(ctx, device) {
			s.device = device
			return s.device
		}
	}

	return ""
}

// VaInfoProbe runs `vainfo --display drm --device <device>` and reports
// whether it exited successfully.
func VaInfoProbe(ctx context.Context, device string) bool {
	cmd := exec.CommandContext(ctx, "vainfo", "--display", "drm", "--device", device)
	return cmd.Run() == nil
}

// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.yaml.in/yaml/v3"
)

// ConfigFilePath is the default location for the configuration file.
const ConfigFilePath = "/etc/edge/config.yaml"

// defaultGlobalArgs mirrors FFMPEG_DEFAULT_GLOBAL_ARGS.
var defaultGlobalArgs = []string{"-hide_banner", "-loglevel", "warning", "-threads", "2"}

// Config represents the complete supervisor configuration.
type Config struct {
	MQTT     EventMqttConfig         `yaml:"mqtt" koanf:"mqtt"`
	Database DatabaseConfig          `yaml:"database" koanf:"database"`
	Cameras  map[string]CameraConfig `yaml:"cameras" koanf:"cameras"`
	Model    ModelConfig             `yaml:"model" koanf:"model"`
}

// FfmpegConfig holds the per-camera FFmpeg invocation arguments.
type FfmpegConfig struct {
	GlobalArgs    []string `yaml:"global_args" koanf:"global_args"`
	HwaccelArgs   []string `yaml:"hwaccel_args" koanf:"hwaccel_args"`
	InputArgs     []string `yaml:"input_args" koanf:"input_args"`
	OutputArgs    []string `yaml:"output_args" koanf:"output_args"`
	RetryInterval float64  `yaml:"retry_interval" koanf:"retry_interval"`
}

// CameraInput describes where a camera's raw video comes from.
type CameraInput struct {
	Path   string       `yaml:"path" koanf:"path"`
	Ffmpeg FfmpegConfig `yaml:"ffmpeg" koanf:"ffmpeg"`
}

// StationaryConfig tunes the stationary-object suppression window.
type StationaryConfig struct {
	Interval  *int `yaml:"interval,omitempty" koanf:"interval"`
	Threshold *int `yaml:"threshold,omitempty" koanf:"threshold"`
	MaxFrames *int `yaml:"max_frames,omitempty" koanf:"max_frames"`
}

// DetectConfig tunes the detection frame size and tracker behavior.
type DetectConfig struct {
	Height         *int             `yaml:"height,omitempty" koanf:"height"`
	Width          *int             `yaml:"width,omitempty" koanf:"width"`
	FPS            int              `yaml:"fps" koanf:"fps"`
	MinInitialized *int             `yaml:"min_initialized,omitempty" koanf:"min_initialized"`
	MaxDisappeared *int             `yaml:"max_disappeared,omitempty" koanf:"max_disappeared"`
	Stationary     StationaryConfig `yaml:"stationary" koanf:"stationary"`
}

// EventMqttConfig is the top-level (edge-wide) MQTT sink configuration.
type EventMqttConfig struct {
	Enabled     bool   `yaml:"enabled" koanf:"enabled"`
	Host        string `yaml:"host" koanf:"host"`
	Port        int    `yaml:"port" koanf:"port"`
	TopicPrefix string `yaml:"topic_prefix" koanf:"topic_prefix"`
	ClientID    string `yaml:"client_id" koanf:"client_id"`
	User        string `yaml:"user" koanf:"user"`
	Password    string `yaml:"password" koanf:"password"`
}

// CameraMqttConfig is a per-camera override of the edge-wide MQTT sink.
type CameraMqttConfig struct {
	Enabled     bool   `yaml:"enabled" koanf:"enabled"`
	Host        string `yaml:"host" koanf:"host"`
	Port        int    `yaml:"port" koanf:"port"`
	TopicPrefix string `yaml:"topic_prefix" koanf:"topic_prefix"`
	ClientID    string `yaml:"client_id" koanf:"client_id"`
	User        string `yaml:"user" koanf:"user"`
	Password    string `yaml:"password" koanf:"password"`
}

// DatabaseConfig points at the event/state store.
type DatabaseConfig struct {
	Path string `yaml:"path" koanf:"path"`
}

// MotionConfig tunes the per-camera motion detector.
type MotionConfig struct {
	Enabled            bool    `yaml:"enabled" koanf:"enabled"`
	Threshold          int     `yaml:"threshold" koanf:"threshold"`
	ImproveContrast    bool    `yaml:"improve_contrast" koanf:"improve_contrast"`
	ContourArea        int     `yaml:"contour_area" koanf:"contour_area"`
	DeltaAlpha         float64 `yaml:"delta_alpha" koanf:"delta_alpha"`
	FrameAlpha         float64 `yaml:"frame_alpha" koanf:"frame_alpha"`
	FrameHeight        int     `yaml:"frame_height" koanf:"frame_height"`
	LightningThreshold float64 `yaml:"lightning_threshold" koanf:"lightning_threshold"`
}

// CameraConfig is one camera's full configuration.
type CameraConfig struct {
	Name             string           `yaml:"name" koanf:"name"`
	Enabled          bool             `yaml:"enabled" koanf:"enabled"`
	BestImageTimeout int              `yaml:"best_image_timeout" koanf:"best_image_timeout"`
	MQTT             CameraMqttConfig `yaml:"mqtt" koanf:"mqtt"`
	Motion           *MotionConfig    `yaml:"motion,omitempty" koanf:"motion"`
	Detect           DetectConfig     `yaml:"detect" koanf:"detect"`
	Source           CameraInput      `yaml:"source" koanf:"source"`
}

// InputTensorLayout is the model's expected tensor layout.
type InputTensorLayout string

const (
	InputTensorNCHW InputTensorLayout = "nchw"
	InputTensorNHWC InputTensorLayout = "nhwc"
)

// ModelType identifies the detection model family.
type ModelType string

const (
	ModelTypeSSD    ModelType = "ssd"
	ModelTypeYOLOX  ModelType = "yolox"
	ModelTypeYOLOv5 ModelType = "yolov5"
	ModelTypeYOLOv8 ModelType = "yolov8"
)

// PixelFormat is the model's expected input pixel format.
type PixelFormat string

const (
	PixelFormatRGB PixelFormat = "rgb"
	PixelFormatBGR PixelFormat = "bgr"
	PixelFormatYUV PixelFormat = "yuv"
)

// ModelConfig describes the shared object-detection model.
type ModelConfig struct {
	Path             string            `yaml:"path" koanf:"path"`
	Width            int               `yaml:"width" koanf:"width"`
	Height           int               `yaml:"height" koanf:"height"`
	Labelmap         map[int]string    `yaml:"labelmap" koanf:"labelmap"`
	InputTensor      InputTensorLayout `yaml:"input_tensor" koanf:"input_tensor"`
	InputPixelFormat PixelFormat       `yaml:"input_pixel_format" koanf:"input_pixel_format"`
	ModelType        ModelType         `yaml:"model_type" koanf:"model_type"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 - Config path is from administrator-controlled configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Start from the defaults so keys absent from the file keep them.
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// atomicFile abstracts file operations used by Save for testability.
type atomicFile interface {
	Write([]byte) (int, error)
	Sync() error
	Chmod(os.FileMode) error
	Close() error
	Name() string
}

// atomicCreateTemp is the injectable temp-file creator used by Save.
type atomicCreateTemp func(dir, pattern string) (atomicFile, error)

func defaultCreateTemp(dir, pattern string) (atomicFile, error) {
	return os.CreateTemp(dir, pattern) // #nosec G304
}

// Save writes the configuration to a YAML file atomically.
func (c *Config) Save(path string) error {
	return c.saveWith(path, defaultCreateTemp)
}

func (c *Config) saveWith(path string, createTemp atomicCreateTemp) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)

	tmpFile, err := createTemp(dir, ".config.*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write temp config file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp config file: %w", err)
	}

	// Config files may carry MQTT credentials; keep them owner+group only.
	// #nosec G302 - Config file restricted to owner+group for security
	if err := tmpFile.Chmod(0640); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp config file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil { // #nosec G703 -- path is from CLI flag/config, not web request input
		return fmt.Errorf("failed to rename temp config file: %w", err)
	}

	success = true
	return nil
}

// GetCamera returns a named camera's configuration with its per-camera MQTT
// settings merged against the edge-wide sink whenever the camera's own
// override is disabled.
func (c *Config) GetCamera(name string) (CameraConfig, bool) {
	cam, ok := c.Cameras[name]
	if !ok {
		return CameraConfig{}, false
	}
	if !cam.MQTT.Enabled && c.MQTT.Enabled {
		cam.MQTT = CameraMqttConfig(c.MQTT)
	}
	return cam, true
}

// Validate checks configuration for invalid values.
func (c *Config) Validate() error {
	if c.MQTT.Enabled {
		if err := c.MQTT.Validate(); err != nil {
			return fmt.Errorf("mqtt config: %w", err)
		}
	}
	for name, cam := range c.Cameras {
		if err := cam.Validate(); err != nil {
			return fmt.Errorf("camera %q: %w", name, err)
		}
	}
	if err := c.Model.Validate(); err != nil {
		return fmt.Errorf("model config: %w", err)
	}
	return nil
}

// Validate checks that a password is only ever paired with a user.
func (m EventMqttConfig) Validate() error {
	if m.Password != "" && m.User == "" {
		return fmt.Errorf("password must be provided with a username")
	}
	return nil
}

// Validate checks that a password is only ever paired with a user.
func (m CameraMqttConfig) Validate() error {
	if m.Password != "" && m.User == "" {
		return fmt.Errorf("password must be provided with a username")
	}
	return nil
}

// Validate checks camera configuration for invalid values.
func (cam CameraConfig) Validate() error {
	if cam.MQTT.Enabled {
		if err := cam.MQTT.Validate(); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if cam.Motion != nil {
		if cam.Motion.Threshold < 1 || cam.Motion.Threshold > 255 {
			return fmt.Errorf("motion threshold must be between 1 and 255")
		}
		if t := cam.Motion.LightningThreshold; t != 0 && (t < 0.3 || t > 1.0) {
			return fmt.Errorf("motion lightning_threshold must be between 0.3 and 1.0")
		}
	}
	return nil
}

// Validate checks model configuration for invalid values.
func (m ModelConfig) Validate() error {
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("model width and height must be positive")
	}
	switch m.InputTensor {
	case InputTensorNCHW, InputTensorNHWC:
	default:
		return fmt.Errorf("input_tensor must be nchw or nhwc")
	}
	switch m.InputPixelFormat {
	case PixelFormatRGB, PixelFormatBGR, PixelFormatYUV:
	default:
		return fmt.Errorf("input_pixel_format must be rgb, bgr, or yuv")
	}
	switch m.ModelType {
	case ModelTypeSSD, ModelTypeYOLOX, ModelTypeYOLOv5, ModelTypeYOLOv8:
	default:
		return fmt.Errorf("model_type must be ssd, yolox, yolov5, or yolov8")
	}
	return nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MQTT: EventMqttConfig{
			Enabled:     false,
			Port:        1883,
			TopicPrefix: "edge",
			ClientID:    "edge-0",
		},
		Database: DatabaseConfig{
			Path: "/var/lib/edge/edge.db",
		},
		Cameras: make(map[string]CameraConfig),
		Model: ModelConfig{
			Width:            320,
			Height:           320,
			Labelmap:         make(map[int]string),
			InputTensor:      InputTensorNHWC,
			InputPixelFormat: PixelFormatRGB,
			ModelType:        ModelTypeYOLOv8,
		},
	}
}

// DefaultCameraConfig returns a single camera's configuration with sensible
// defaults, used when adding a camera through the operator CLI or merging a
// partial camera entry.
func DefaultCameraConfig() CameraConfig {
	return CameraConfig{
		Enabled:          true,
		BestImageTimeout: 30,
		Motion: &MotionConfig{
			Enabled:            true,
			Threshold:          30,
			ImproveContrast:    true,
			ContourArea:        10,
			DeltaAlpha:         0.2,
			FrameAlpha:         0.01,
			FrameHeight:        100,
			LightningThreshold: 0.8,
		},
		Detect: DetectConfig{
			FPS: 5,
		},
		Source: CameraInput{
			Ffmpeg: FfmpegConfig{
				GlobalArgs:    append([]string(nil), defaultGlobalArgs...),
				RetryInterval: 5.0,
			},
		},
	}
}

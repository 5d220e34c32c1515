package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestKoanfConfig_LoadYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	testConfig := `
mqtt:
  enabled: true
  host: broker.local
  port: 1883

database:
  path: /var/lib/edge/edge.db

model:
  width: 320
  height: 320
  input_tensor: nhwc
  input_pixel_format: rgb
  model_type: ssd

cameras:
  front_door:
    enabled: true
    best_image_timeout: 30
    source:
      path: rtsp://cam1/stream
`
	if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	kc, err := NewKoanfConfig(WithYAMLFile(configPath))
	if err != nil {
		t.Fatalf("NewKoanfConfig failed: %v", err)
	}

	cfg, err := kc.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if !cfg.MQTT.Enabled {
		t.Error("Expected mqtt enabled")
	}
	if cfg.MQTT.Host != "broker.local" {
		t.Errorf("Expected mqtt host broker.local, got %s", cfg.MQTT.Host)
	}

	cam, ok := cfg.Cameras["front_door"]
	if !ok {
		t.Fatal("Expected front_door camera config")
	}
	if cam.BestImageTimeout != 30 {
		t.Errorf("Expected best_image_timeout 30, got %d", cam.BestImageTimeout)
	}
	if cam.Source.Path != "rtsp://cam1/stream" {
		t.Errorf("Expected source path rtsp://cam1/stream, got %s", cam.Source.Path)
	}
}

func TestKoanfConfig_LoadWithEnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	testConfig := `
mqtt:
  enabled: false
  host: broker.local
  port: 1883

model:
  width: 320
  height: 320
  input_tensor: nhwc
  input_pixel_format: rgb
  model_type: ssd
`
	if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	t.Setenv("EDGE_MQTT_HOST", "broker-override.local")
	t.Setenv("EDGE_MQTT_PORT", "8883")

	kc, err := NewKoanfConfig(
		WithYAMLFile(configPath),
		WithEnvPrefix("EDGE"),
	)
	if err != nil {
		t.Fatalf("NewKoanfConfig failed: %v", err)
	}

	cfg, err := kc.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.MQTT.Host != "broker-override.local" {
		t.Errorf("Expected host broker-override.local (from env), got %s", cfg.MQTT.Host)
	}
	if cfg.MQTT.Port != 8883 {
		t.Errorf("Expected port 8883 (from env), got %d", cfg.MQTT.Port)
	}
	// Non-overridden value should still come from YAML.
	if cfg.MQTT.Enabled {
		t.Error("Expected mqtt.enabled false (from YAML), got true")
	}
}

func TestKoanfConfig_LoadCameraEnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	testConfig := `
model:
  width: 320
  height: 320
  input_tensor: nhwc
  input_pixel_format: rgb
  model_type: ssd

cameras:
  front_door:
    enabled: true
    best_image_timeout: 30
    source:
      path: rtsp://cam1/stream
`
	if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	t.Setenv("EDGE_CAMERAS_FRONT_DOOR_BEST_IMAGE_TIMEOUT", "60")

	kc, err := NewKoanfConfig(
		WithYAMLFile(configPath),
		WithEnvPrefix("EDGE"),
	)
	if err != nil {
		t.Fatalf("NewKoanfConfig failed: %v", err)
	}

	cfg, err := kc.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cam, ok := cfg.Cameras["front_door"]
	if !ok {
		t.Fatal("Expected front_door camera config")
	}
	if cam.BestImageTimeout != 60 {
		t.Errorf("Expected best_image_timeout 60 (from env), got %d", cam.BestImageTimeout)
	}
	if cam.Source.Path != "rtsp://cam1/stream" {
		t.Errorf("Expected source path unchanged (from YAML), got %s", cam.Source.Path)
	}
}

func TestKoanfConfig_Reload(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	initialConfig := `
mqtt:
  host: broker-a.local
model:
  width: 320
  height: 320
  input_tensor: nhwc
  input_pixel_format: rgb
  model_type: ssd
`
	if err := os.WriteFile(configPath, []byte(initialConfig), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	kc, err := NewKoanfConfig(WithYAMLFile(configPath))
	if err != nil {
		t.Fatalf("NewKoanfConfig failed: %v", err)
	}

	cfg, err := kc.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MQTT.Host != "broker-a.local" {
		t.Fatalf("Expected initial host broker-a.local, got %s", cfg.MQTT.Host)
	}

	updatedConfig := `
mqtt:
  host: broker-b.local
model:
  width: 320
  height: 320
  input_tensor: nhwc
  input_pixel_format: rgb
  model_type: ssd
`
	if err := os.WriteFile(configPath, []byte(updatedConfig), 0644); err != nil {
		t.Fatalf("Failed to update test config: %v", err)
	}

	if err := kc.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	cfg, err = kc.Load()
	if err != nil {
		t.Fatalf("Load after reload failed: %v", err)
	}
	if cfg.MQTT.Host != "broker-b.local" {
		t.Errorf("Expected reloaded host broker-b.local, got %s", cfg.MQTT.Host)
	}
}

func TestKoanfConfig_Watch(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	initialConfig := `
mqtt:
  host: broker-a.local
model:
  width: 320
  height: 320
  input_tensor: nhwc
  input_pixel_format: rgb
  model_type: ssd
`
	if err := os.WriteFile(configPath, []byte(initialConfig), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	kc, err := NewKoanfConfig(WithYAMLFile(configPath))
	if err != nil {
		t.Fatalf("NewKoanfConfig failed: %v", err)
	}

	watchCalled := make(chan string, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		_ = kc.Watch(ctx, func(event string, err error) {
			if err != nil {
				watchCalled <- "error: " + err.Error()
				return
			}
			watchCalled <- event
		})
	}()

	time.Sleep(100 * time.Millisecond)

	updatedConfig := `
mqtt:
  host: broker-b.local
model:
  width: 320
  height: 320
  input_tensor: nhwc
  input_pixel_format: rgb
  model_type: ssd
`
	if err := os.WriteFile(configPath, []byte(updatedConfig), 0644); err != nil {
		t.Fatalf("Failed to update test config: %v", err)
	}

	select {
	case event := <-watchCalled:
		if event != "config reloaded" {
			t.Errorf("Expected event 'config reloaded', got %s", event)
		}
	case <-time.After(2 * time.Second):
		t.Error("Watch callback not called within timeout")
	}

	cfg, err := kc.Load()
	if err != nil {
		t.Fatalf("Load after watch failed: %v", err)
	}
	if cfg.MQTT.Host != "broker-b.local" {
		t.Errorf("Expected watched host broker-b.local, got %s", cfg.MQTT.Host)
	}
}

func TestKoanfConfig_BackwardCompatibility(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	testConfig := `
mqtt:
  host: broker.local
database:
  path: /var/lib/edge/edge.db
model:
  width: 320
  height: 320
  input_tensor: nhwc
  input_pixel_format: rgb
  model_type: ssd
cameras:
  front_door:
    enabled: true
    source:
      path: rtsp://cam1/stream
`
	if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	oldCfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	kc, err := NewKoanfConfig(WithYAMLFile(configPath))
	if err != nil {
		t.Fatalf("NewKoanfConfig failed: %v", err)
	}

	newCfg, err := kc.Load()
	if err != nil {
		t.Fatalf("koanf Load failed: %v", err)
	}

	if oldCfg.MQTT.Host != newCfg.MQTT.Host {
		t.Errorf("Host mismatch: old=%s, new=%s", oldCfg.MQTT.Host, newCfg.MQTT.Host)
	}
	if oldCfg.Database.Path != newCfg.Database.Path {
		t.Errorf("Database path mismatch: old=%s, new=%s", oldCfg.Database.Path, newCfg.Database.Path)
	}

	oldCam := oldCfg.Cameras["front_door"]
	newCam := newCfg.Cameras["front_door"]
	if oldCam.Source.Path != newCam.Source.Path {
		t.Errorf("Camera source path mismatch: old=%s, new=%s", oldCam.Source.Path, newCam.Source.Path)
	}
}

func TestKoanfConfig_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	invalidConfig := `
model:
  width: "not a number"
  height: invalid
`
	if err := os.WriteFile(configPath, []byte(invalidConfig), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	kc, err := NewKoanfConfig(WithYAMLFile(configPath))
	if err != nil {
		return // expected: invalid config fails during construction
	}

	_, err = kc.Load()
	if err == nil {
		t.Error("Expected error loading invalid YAML, got nil")
	}
}

func TestKoanfConfig_MissingFile(t *testing.T) {
	_, err := NewKoanfConfig(WithYAMLFile("/nonexistent/config.yaml"))
	if err == nil {
		t.Error("Expected error loading missing file, got nil")
	}
}

func TestKoanfConfig_GetMethods(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	testConfig := `
mqtt:
  host: broker.local
  enabled: true
model:
  width: 320
  height: 320
  input_tensor: nhwc
  input_pixel_format: rgb
  model_type: ssd
`
	if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	kc, err := NewKoanfConfig(WithYAMLFile(configPath))
	if err != nil {
		t.Fatalf("NewKoanfConfig failed: %v", err)
	}

	if got := kc.GetString("mqtt.host"); got != "broker.local" {
		t.Errorf("Expected mqtt.host broker.local, got %s", got)
	}
	if got := kc.GetInt("model.width"); got != 320 {
		t.Errorf("Expected model.width 320, got %d", got)
	}
	if !kc.GetBool("mqtt.enabled") {
		t.Error("Expected mqtt.enabled to be true")
	}
	if !kc.Exists("mqtt.host") {
		t.Error("Expected mqtt.host to exist")
	}
	if kc.Exists("nonexistent.key") {
		t.Error("Expected nonexistent.key to not exist")
	}
}

func TestKoanfConfig_NoFile(t *testing.T) {
	t.Setenv("EDGE_MQTT_HOST", "broker.local")
	t.Setenv("EDGE_MQTT_PORT", "1883")
	t.Setenv("EDGE_MODEL_WIDTH", "320")
	t.Setenv("EDGE_MODEL_HEIGHT", "320")
	t.Setenv("EDGE_MODEL_INPUT_TENSOR", "nhwc")
	t.Setenv("EDGE_MODEL_INPUT_PIXEL_FORMAT", "rgb")
	t.Setenv("EDGE_MODEL_MODEL_TYPE", "ssd")

	kc, err := NewKoanfConfig(WithEnvPrefix("EDGE"))
	if err != nil {
		t.Fatalf("NewKoanfConfig failed: %v", err)
	}

	cfg, err := kc.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.MQTT.Host != "broker.local" {
		t.Errorf("Expected host broker.local, got %s", cfg.MQTT.Host)
	}
	if cfg.Model.Width != 320 {
		t.Errorf("Expected model width 320, got %d", cfg.Model.Width)
	}
}

func TestKoanfConfig_All(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	testConfig := `
mqtt:
  host: broker.local
model:
  width: 320
  height: 320
  input_tensor: nhwc
  input_pixel_format: rgb
  model_type: ssd
`
	if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	kc, err := NewKoanfConfig(WithYAMLFile(configPath))
	if err != nil {
		t.Fatalf("NewKoanfConfig failed: %v", err)
	}

	allConfig := kc.All()
	if allConfig == nil {
		t.Fatal("All() returned nil")
	}
	if _, ok := allConfig["mqtt.host"]; !ok {
		t.Error("All() should contain 'mqtt.host' key")
	}
	if _, ok := allConfig["model.width"]; !ok {
		t.Error("All() should contain 'model.width' key")
	}
}

func TestKoanfConfig_AllAfterReload(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	initialConfig := `
mqtt:
  host: broker-a.local
model:
  width: 320
  height: 320
  input_tensor: nhwc
  input_pixel_format: rgb
  model_type: ssd
`
	if err := os.WriteFile(configPath, []byte(initialConfig), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	kc, err := NewKoanfConfig(WithYAMLFile(configPath))
	if err != nil {
		t.Fatalf("NewKoanfConfig failed: %v", err)
	}

	updatedConfig := `
mqtt:
  host: broker-b.local
model:
  width: 640
  height: 640
  input_tensor: nchw
  input_pixel_format: bgr
  model_type: yolov8
`
	if err := os.WriteFile(configPath, []byte(updatedConfig), 0644); err != nil {
		t.Fatalf("Failed to update test config: %v", err)
	}

	if err := kc.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	allConfig := kc.All()
	if allConfig == nil {
		t.Fatal("All() returned nil after reload")
	}
	if len(allConfig) == 0 {
		t.Error("All() returned empty map after reload")
	}
}

func TestKoanfConfig_WatchNoFile(t *testing.T) {
	kc, err := NewKoanfConfig(WithEnvPrefix("EDGE"))
	if err != nil {
		t.Fatalf("NewKoanfConfig failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err = kc.Watch(ctx, func(event string, watchErr error) {
		t.Error("Callback should not be called when no file is set")
	})

	if err == nil {
		t.Error("Watch without file should return an error")
	}
	if err != nil && !strings.Contains(err.Error(), "no file path specified") {
		t.Errorf("Expected error about no file path, got: %v", err)
	}
}

func TestKoanfConfig_WatchContextCancellation(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	testConfig := `
mqtt:
  host: broker.local
model:
  width: 320
  height: 320
  input_tensor: nhwc
  input_pixel_format: rgb
  model_type: ssd
`
	if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	kc, err := NewKoanfConfig(WithYAMLFile(configPath))
	if err != nil {
		t.Fatalf("NewKoanfConfig failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		_ = kc.Watch(ctx, func(event string, err error) {})
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Watch did not return when context was cancelled")
	}
}

// TestKoanfConfig_ConcurrentReloadAndRead exercises concurrent Reload and
// getter calls to catch data races on the internal koanf pointer under
// `go test -race`.
func TestKoanfConfig_ConcurrentReloadAndRead(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	testConfig := `
mqtt:
  host: broker.local
  enabled: true
model:
  width: 320
  height: 320
  input_tensor: nhwc
  input_pixel_format: rgb
  model_type: ssd
`
	if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	kc, err := NewKoanfConfig(WithYAMLFile(configPath))
	if err != nil {
		t.Fatalf("NewKoanfConfig failed: %v", err)
	}

	const numGoroutines = 10
	const numIterations = 50

	var wg sync.WaitGroup

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < numIterations; j++ {
				_ = kc.Reload()
			}
		}()
	}

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < numIterations; j++ {
				_ = kc.GetString("mqtt.host")
			}
		}()
	}

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < numIterations; j++ {
				_ = kc.GetInt("model.width")
			}
		}()
	}

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < numIterations; j++ {
				_ = kc.GetBool("mqtt.enabled")
			}
		}()
	}

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < numIterations; j++ {
				_ = kc.Exists("mqtt.host")
			}
		}()
	}

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < numIterations; j++ {
				_ = kc.All()
			}
		}()
	}

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < numIterations; j++ {
				_, _ = kc.Load()
			}
		}()
	}

	wg.Wait()
}

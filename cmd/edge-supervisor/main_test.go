package main

import (
	"os"
	"path/filepath"
	"testing"

	"log/slog"

	"github.com/CE-Thesis-2023/edge/internal/config"
	"github.com/CE-Thesis-2023/edge/internal/health"
	"github.com/CE-Thesis-2023/edge/internal/orchestrator"
)

func TestLoadConfigurationMissingFileUsesDefaults(t *testing.T) {
	cfg, err := loadConfiguration(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("loadConfiguration() error = %v", err)
	}
	if cfg == nil {
		t.Fatal("loadConfiguration() returned nil config")
	}
	if len(cfg.Cameras) != 0 {
		t.Errorf("default config should have no cameras, got %d", len(cfg.Cameras))
	}
}

func TestLoadConfigurationInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("{{not valid yaml"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := loadConfiguration(path); err == nil {
		t.Error("loadConfiguration() should error on invalid YAML")
	}
}

func TestLoadConfigurationValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
cameras:
  front_door:
    name: front_door
    enabled: true
    source:
      path: rtsp://camera.local/stream
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := loadConfiguration(path)
	if err != nil {
		t.Fatalf("loadConfiguration() error = %v", err)
	}
	if len(cfg.Cameras) != 1 {
		t.Fatalf("expected 1 camera, got %d", len(cfg.Cameras))
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"nonsense", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestPrintUsage(t *testing.T) {
	// Just verify it doesn't panic.
	printUsage()
}

func TestLiveOrchestratorBeforeFirstGeneration(t *testing.T) {
	live := &liveOrchestrator{}

	if got := live.Services(); got != nil {
		t.Errorf("Services() before any generation = %v, want nil", got)
	}
	if got := live.SystemInfo(); got != (health.SystemInfo{}) {
		t.Errorf("SystemInfo() before any generation = %+v, want zero value", got)
	}
}

func TestLiveOrchestratorForwardsToCurrentGeneration(t *testing.T) {
	live := &liveOrchestrator{}

	cfg := config.DefaultConfig()
	orch, err := orchestrator.Build(cfg, testOrchestratorOptions(t))
	if err != nil {
		t.Fatalf("orchestrator.Build() error = %v", err)
	}

	path := cfg.Database.Path
	live.dbPath.Store(&path)
	live.current.Store(orch)

	if got := live.Services(); len(got) != 0 {
		t.Errorf("Services() = %v, want empty for a config with no cameras", got)
	}

	si := live.SystemInfo()
	_ = si // exact disk values are host-dependent; just confirm no panic/error path
}

func testOrchestratorOptions(t *testing.T) orchestrator.Options {
	t.Helper()
	opts := orchestrator.DefaultOptions()
	opts.LockDir = t.TempDir()
	opts.ShmDir = t.TempDir()
	return opts
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestLoadConfigMissingFile verifies that a missing file yields the defaults
func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Model.TileSize != 512 {
		t.Errorf("Expected tile size 512, got %d", cfg.Model.TileSize)
	}
	if cfg.Model.Overlap != 64 {
		t.Errorf("Expected overlap 64, got %d", cfg.Model.Overlap)
	}
	if cfg.Analysis.PollInterval != 100*time.Millisecond {
		t.Errorf("Expected 100ms poll interval, got %v", cfg.Analysis.PollInterval)
	}
	if cfg.Training.EarlyStopPatience != 30 || cfg.Training.LRPatience != 10 {
		t.Errorf("Unexpected patience defaults: es=%d lr=%d",
			cfg.Training.EarlyStopPatience, cfg.Training.LRPatience)
	}
}

// TestSaveAndLoadConfig verifies YAML round trip of overridden values
func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "siperea.yaml")

	cfg := DefaultConfig()
	cfg.Model.Overlap = 32
	cfg.Training.Folds = 5
	cfg.Analysis.PollInterval = 250 * time.Millisecond
	cfg.Training.Augment.ZoomRange = [2]float64{0.8, 1.2}

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if loaded.Model.Overlap != 32 {
		t.Errorf("Expected overlap 32, got %d", loaded.Model.Overlap)
	}
	if loaded.Training.Folds != 5 {
		t.Errorf("Expected 5 folds, got %d", loaded.Training.Folds)
	}
	if loaded.Analysis.PollInterval != 250*time.Millisecond {
		t.Errorf("Expected 250ms, got %v", loaded.Analysis.PollInterval)
	}
	if loaded.Training.Augment.ZoomRange != [2]float64{0.8, 1.2} {
		t.Errorf("Unexpected zoom range %v", loaded.Training.Augment.ZoomRange)
	}
}

// TestLoadConfigInvalid verifies that parse and validation errors are reported
func TestLoadConfigInvalid(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("model: [unterminated"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(bad); err == nil {
		t.Error("Expected parse error")
	}

	invalid := filepath.Join(dir, "invalid.yaml")
	if err := os.WriteFile(invalid, []byte("model:\n  tileSize: 0\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(invalid); err == nil {
		t.Error("Expected validation error for zero tile size")
	}
}

// TestEnvOverride verifies environment variables take precedence over the file
func TestEnvOverride(t *testing.T) {
	t.Setenv("SIPEREA_MODEL_PATH", "/models/duckweed.onnx")
	t.Setenv("SIPEREA_LOG_LEVEL", "debug")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Model.Path != "/models/duckweed.onnx" {
		t.Errorf("Expected model path from env, got %s", cfg.Model.Path)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected debug level from env, got %s", cfg.Logging.Level)
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Runtime.NumWorkers != 4 {
		t.Errorf("expected NumWorkers to be 4, got %d", cfg.Runtime.NumWorkers)
	}

	if cfg.Metablock.ExtentSize != 1<<20 {
		t.Errorf("expected ExtentSize to be 1MiB, got %d", cfg.Metablock.ExtentSize)
	}

	if cfg.Runtime.TickInterval != 250*time.Millisecond {
		t.Errorf("expected TickInterval to be 250ms, got %s", cfg.Runtime.TickInterval)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metacore.yaml")

	contents := []byte("runtime:\n  num_workers: 8\n  affinity: false\nmetablock:\n  payload_size: 256\n")
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Runtime.NumWorkers != 8 {
		t.Errorf("expected NumWorkers 8, got %d", cfg.Runtime.NumWorkers)
	}
	if cfg.Runtime.Affinity {
		t.Errorf("expected Affinity false")
	}
	if cfg.Metablock.PayloadSize != 256 {
		t.Errorf("expected PayloadSize 256, got %d", cfg.Metablock.PayloadSize)
	}
	// Fields the override left unset keep their defaults.
	if cfg.Metablock.ExtentSize != 1<<20 {
		t.Errorf("expected ExtentSize to remain default, got %d", cfg.Metablock.ExtentSize)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := defaultConfig()
	cfg.Runtime.NumWorkers = 0

	if err := Validate(cfg); err == nil {
		t.Errorf("expected error for NumWorkers=0")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/metacore.yaml")
	if err == nil {
		t.Errorf("expected error loading missing file")
	}
}

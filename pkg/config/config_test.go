package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// Run from an empty directory so no stray opportunityd.yaml is found.
	cwd, _ := os.Getwd()
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer os.Chdir(cwd)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != ":8080" {
		t.Errorf("listen addr = %q, want :8080", cfg.ListenAddr)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "text" {
		t.Errorf("logging defaults: %q/%q", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.Store.Type != "sqlite" || cfg.Store.DSN != "opportunity.db" {
		t.Errorf("store defaults: %+v", cfg.Store)
	}
	if cfg.Processor.BatchSize != 100 || cfg.Processor.MaxConcurrentBatches != 5 {
		t.Errorf("processor defaults: %+v", cfg.Processor)
	}
	if cfg.Processor.BatchTimeout != 5*time.Minute || cfg.Processor.TargetPosition != 3 {
		t.Errorf("processor defaults: %+v", cfg.Processor)
	}
	if cfg.Sweeper.CheckInterval != time.Minute || cfg.Sweeper.StaleThreshold != 30*time.Minute {
		t.Errorf("sweeper defaults: %+v", cfg.Sweeper)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opportunityd.yaml")
	body := `
listen_addr: ":9090"
log_level: debug
store:
  type: postgres
  dsn: "postgres://localhost/opps"
  max_open_conns: 10
processor:
  batch_size: 25
  batch_timeout: 90s
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != ":9090" || cfg.LogLevel != "debug" {
		t.Errorf("file values not applied: %q/%q", cfg.ListenAddr, cfg.LogLevel)
	}
	if cfg.Store.Type != "postgres" || cfg.Store.MaxOpenConns != 10 {
		t.Errorf("store values: %+v", cfg.Store)
	}
	if cfg.Processor.BatchSize != 25 || cfg.Processor.BatchTimeout != 90*time.Second {
		t.Errorf("processor values: %+v", cfg.Processor)
	}
	// Untouched keys keep their defaults.
	if cfg.Processor.MaxConcurrentBatches != 5 {
		t.Errorf("default lost: %+v", cfg.Processor)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for a missing explicit config file")
	}
}

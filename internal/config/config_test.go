package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsApplyWithoutFile(t *testing.T) {
	t.Setenv("TOOLGATE_HOME", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Policy.Mode != "default" || cfg.Policy.DefaultDecision != "ask_user" {
		t.Fatalf("unexpected policy defaults: %+v", cfg.Policy)
	}
	if len(cfg.Policy.ShellTools) == 0 {
		t.Fatal("shell tools default missing")
	}
	if cfg.Executor.MaxOutputBytes != 40960 || cfg.Executor.MaxOutputLines != 400 {
		t.Fatalf("unexpected executor defaults: %+v", cfg.Executor)
	}
	if cfg.Audit.DBPath == "" || cfg.Policy.AutoRuleFile == "" || cfg.Paths.OutputDir == "" {
		t.Fatalf("path defaults must be filled: %+v", cfg)
	}
}

func TestFileOverridesDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("TOOLGATE_HOME", home)
	dir := filepath.Join(home, ConfigDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	payload := `{
		"policy": {"mode": "yolo", "nonInteractive": true},
		"journal": {"enabled": true, "brokers": ["broker-1:9092"], "topic": "custom.calls"}
	}`
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), []byte(payload), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Policy.Mode != "yolo" || !cfg.Policy.NonInteractive {
		t.Fatalf("file values not applied: %+v", cfg.Policy)
	}
	if !cfg.Journal.Enabled || cfg.Journal.Topic != "custom.calls" {
		t.Fatalf("journal config not applied: %+v", cfg.Journal)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("TOOLGATE_HOME", home)
	dir := filepath.Join(home, ConfigDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), []byte(`{"policy": {"mode": "plan"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TOOLGATE_POLICY_MODE", "auto_edit")
	t.Setenv("TOOLGATE_CONFIRM_TIMEOUT", "90s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Policy.Mode != "auto_edit" {
		t.Fatalf("env must override file, got %q", cfg.Policy.Mode)
	}
	if cfg.Confirm.Timeout != 90*time.Second {
		t.Fatalf("duration env not applied: %v", cfg.Confirm.Timeout)
	}
}

func TestExplicitConfigPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.json")
	if err := os.WriteFile(path, []byte(`{"policy": {"mode": "yolo"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TOOLGATE_CONFIG", path)

	got, err := ConfigPath()
	if err != nil {
		t.Fatal(err)
	}
	if got != path {
		t.Fatalf("expected %s, got %s", path, got)
	}
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Policy.Mode != "yolo" {
		t.Fatalf("explicit config not loaded: %+v", cfg.Policy)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	t.Setenv("TOOLGATE_HOME", t.TempDir())

	cfg := DefaultConfig()
	cfg.Policy.Mode = "auto_edit"
	if err := Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Policy.Mode != "auto_edit" {
		t.Fatalf("round trip lost mode: %+v", loaded.Policy)
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Store.Path == "" {
		t.Error("store path empty")
	}
	if cfg.Stream.CharDelay <= 0 || cfg.Stream.StepDelay <= 0 {
		t.Error("stream delays not set")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	data := []byte(`
server:
  addr: ":9999"
  shutdown_timeout: 5s
stream:
  char_delay: 1ms
logger:
  level: debug
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9999" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("shutdown timeout = %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Stream.CharDelay != time.Millisecond {
		t.Errorf("char delay = %v", cfg.Stream.CharDelay)
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("level = %q", cfg.Logger.Level)
	}
	// Sections absent from the file keep their defaults.
	if cfg.Client.Model != "draft-pilot-demo" {
		t.Errorf("model = %q", cfg.Client.Model)
	}
}

func TestEnvOverridesWin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(path, []byte("server:\n  addr: \":9999\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DRAFTPILOT_ADDR", ":7777")
	t.Setenv("DRAFTPILOT_MODEL", "other-model")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":7777" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Client.Model != "other-model" {
		t.Errorf("model = %q", cfg.Client.Model)
	}
}

func TestInvalidYAMLRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"draftpilot/internal/infra/config"
)

func TestFileOutputHonorsLevelAndFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	log, closeLog, err := New(config.LoggerConfig{
		Level:  "warn",
		Format: "json",
		Output: path,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	log.Info("below threshold")
	log.Warn("kept")
	if err := closeLog(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "below threshold") {
		t.Errorf("info record passed a warn threshold: %s", out)
	}
	if !strings.Contains(out, `"msg":"kept"`) {
		t.Errorf("missing json warn record: %s", out)
	}
}

func TestUnknownLevelDefaultsToInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	log, closeLog, err := New(config.LoggerConfig{Level: "chatty", Output: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Info("visible")
	if err := closeLog(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "visible") {
		t.Errorf("info record dropped: %s", data)
	}
}

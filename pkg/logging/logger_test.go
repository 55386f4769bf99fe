package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tourrag/pkg/config"
)

func TestInit(t *testing.T) {
	tempDir := t.TempDir()
	serverLog := filepath.Join(tempDir, "server.log")
	requestLog := filepath.Join(tempDir, "requests.log")

	cfg := &config.LogConfig{
		Server: config.LogSettings{
			Path:  serverLog,
			Level: "DEBUG",
		},
		Requests: config.LogSettings{
			Path:  requestLog,
			Level: "INFO",
		},
	}

	cleanup, err := Init(cfg)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer cleanup()

	if _, err := os.Stat(serverLog); os.IsNotExist(err) {
		t.Error("Server log file not created")
	}
	if _, err := os.Stat(requestLog); os.IsNotExist(err) {
		t.Error("Request log file not created")
	}

	slog.Info("hello from test")
	RequestLogger.Info("request log line")

	data, err := os.ReadFile(serverLog)
	if err != nil {
		t.Fatalf("failed to read server log: %v", err)
	}
	if !strings.Contains(string(data), "hello from test") {
		t.Error("server log missing written line")
	}
}

func TestRotation(t *testing.T) {
	tempDir := t.TempDir()
	logPath := filepath.Join(tempDir, "server.log")

	if err := os.WriteFile(logPath, []byte("previous run\n"), 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	rotatePaths(logPath)

	old, err := os.ReadFile(logPath + ".old")
	if err != nil {
		t.Fatalf("rotated file missing: %v", err)
	}
	if string(old) != "previous run\n" {
		t.Errorf("unexpected rotated content: %q", string(old))
	}
	if _, err := os.Stat(logPath); !os.IsNotExist(err) {
		t.Error("original log should have been renamed away")
	}
}

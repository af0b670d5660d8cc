package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLoggerCreatesFile(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLogger(dir, LevelDebug)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	logger.Info("lease granted", "lease_id", "abc", "planned", 2)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "agentgate.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}

	var entry map[string]any
	line := strings.TrimSpace(string(data))
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, line)
	}
	if entry["msg"] != "lease granted" {
		t.Errorf("msg = %v, want 'lease granted'", entry["msg"])
	}
	if entry["lease_id"] != "abc" {
		t.Errorf("lease_id = %v, want abc", entry["lease_id"])
	}
}

func TestChildLoggersInheritAttrs(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLogger(dir, LevelDebug)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer logger.Close()

	child := logger.WithInstance("inst-1").WithScope("anthropic/opus").WithComponent("capacity")
	child.Warn("reservation denied")
	logger.Close()

	data, _ := os.ReadFile(filepath.Join(dir, "agentgate.log"))
	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	for key, want := range map[string]string{
		"instance_id": "inst-1",
		"scope":       "anthropic/opus",
		"component":   "capacity",
	} {
		if entry[key] != want {
			t.Errorf("%s = %v, want %q", key, entry[key], want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLogger(dir, LevelWarn)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	logger.Debug("should be filtered")
	logger.Info("should be filtered")
	logger.Warn("should appear")
	logger.Close()

	data, _ := os.ReadFile(filepath.Join(dir, "agentgate.log"))
	content := string(data)
	if strings.Contains(content, "filtered") {
		t.Errorf("filtered messages present:\n%s", content)
	}
	if !strings.Contains(content, "should appear") {
		t.Errorf("warn message missing:\n%s", content)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()
	// Must not panic and Close must be a no-op.
	logger.Info("discarded")
	logger.With("k", "v").Error("also discarded")
	if err := logger.Close(); err != nil {
		t.Errorf("Close on NopLogger: %v", err)
	}
}

func TestWithOddArgs(t *testing.T) {
	logger := NopLogger()
	// Odd trailing arg and non-string key are skipped, not panicked on.
	child := logger.With("a", 1, 42, "ignored", "trailing")
	child.Info("ok")
}

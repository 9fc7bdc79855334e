package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("info", "text", "")
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Close()
}

func TestLoggerToFile(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "test.log")

	logger, err := NewLogger("info", "json", logPath)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	logger.Info("test message", map[string]interface{}{
		"key": "value",
	})

	logger.Close()

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}

	if !strings.Contains(string(content), "test message") {
		t.Error("log file should contain test message")
	}
	if !strings.Contains(string(content), "key") {
		t.Error("log file should contain field key")
	}
}

func TestLoggerJSONFormat(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "test.log")

	logger, _ := NewLogger("info", "json", logPath)
	logger.Info("json test", map[string]interface{}{
		"number": 42,
		"text":   "hello",
	})
	logger.Close()

	content, _ := os.ReadFile(logPath)
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	if len(lines) == 0 {
		t.Fatal("expected at least one log line")
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v", err)
	}

	if entry["msg"] != "json test" {
		t.Errorf("expected message 'json test', got %v", entry["msg"])
	}
	if entry["level"] != "info" {
		t.Errorf("expected level 'info', got %v", entry["level"])
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"unknown", LevelInfo}, // default
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := ParseLevel(tt.input)
			if result != tt.expected {
				t.Errorf("ParseLevel(%s) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestWithFields(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "test.log")

	logger, err := NewLogger("debug", "json", logPath)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	fieldLogger := logger.WithFields(map[string]interface{}{
		"service": "changer",
	})
	fieldLogger.Info("with fields", map[string]interface{}{
		"extra": "data",
	})
	logger.Close()

	output, _ := os.ReadFile(logPath)
	if !strings.Contains(string(output), "service") {
		t.Error("expected preset field 'service' in output")
	}
	if !strings.Contains(string(output), "extra") {
		t.Error("expected additional field 'extra' in output")
	}
}

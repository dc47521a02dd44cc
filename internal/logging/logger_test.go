package logging_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"kiosk/internal/logging"
)

func TestNewConsoleWritesComponentPrefix(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "kiosk.log")

	logger, err := logging.New(logging.Options{
		Format:           "console",
		Level:            "info",
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	component := logging.NewComponentLogger(logger, "scheduler")
	component.Info("state changed", logging.String(logging.FieldState, "playing"))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(content)
	if !strings.Contains(line, "INFO scheduler: state changed") {
		t.Fatalf("unexpected console line %q", line)
	}
	if !strings.Contains(line, "state=playing") {
		t.Fatalf("expected state attr in %q", line)
	}
}

func TestNewConsoleRespectsLevel(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "kiosk.log")

	logger, err := logging.New(logging.Options{
		Format:      "console",
		Level:       "warn",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("suppressed")
	logger.Warn("kept")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(content), "suppressed") {
		t.Fatalf("info line should be filtered, got %q", content)
	}
	if !strings.Contains(string(content), "kept") {
		t.Fatalf("warn line missing from %q", content)
	}
}

func TestNewJSONUsesCompactKeys(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "kiosk.json")

	logger, err := logging.New(logging.Options{
		Format:      "json",
		Level:       "debug",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("report published", logging.Int("pending", 2))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(content, &record); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	for _, key := range []string{"ts", "level", "msg"} {
		if _, ok := record[key]; !ok {
			t.Fatalf("expected key %q in %v", key, record)
		}
	}
	if record["level"] != "info" {
		t.Fatalf("level = %v, want info", record["level"])
	}
	if record["pending"] != float64(2) {
		t.Fatalf("pending = %v, want 2", record["pending"])
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "logfmt"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNewInvalidLevelDefaultsToInfo(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "kiosk.log")
	logger, err := logging.New(logging.Options{
		Format:      "console",
		Level:       "chatty",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Debug("filtered")
	logger.Info("written")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(content), "filtered") {
		t.Fatalf("debug line should be filtered under default info level, got %q", content)
	}
	if !strings.Contains(string(content), "written") {
		t.Fatalf("info line missing from %q", content)
	}
}

func TestNewNopDiscards(t *testing.T) {
	logger := logging.NewNop()
	logger.Error("dropped", logging.Error(os.ErrNotExist))
}

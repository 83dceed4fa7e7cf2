package utils

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"maus-bus/internal/config"
)

func TestNewLoggerReportsCallingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bus.log")
	logger, err := NewLogger(&config.LoggingConfig{Level: "debug", Format: "json", Output: path})
	if err != nil {
		t.Fatal(err)
	}

	logger.Info("direct call")
	NewServiceLogger(logger, "svc").Info("embedded call")
	NewBusLogger(logger, "50", "Maus-Tec", "MB-232T").Debug("device call")
	if err := CloseLogger(logger); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	if len(lines) != 3 {
		t.Fatalf("lines = %d: %s", len(lines), data)
	}
	for _, line := range lines {
		var entry map[string]interface{}
		if err := json.Unmarshal(line, &entry); err != nil {
			t.Fatalf("entry %s: %v", line, err)
		}
		caller, _ := entry["caller"].(string)
		if !strings.HasPrefix(caller, "utils/logger_test.go:") {
			t.Errorf("%v: caller = %q", entry["message"], caller)
		}
		if _, ok := entry["timestamp"]; !ok {
			t.Errorf("%v: no timestamp", entry["message"])
		}
	}
}

func TestNewLoggerLevels(t *testing.T) {
	tests := []struct {
		level   string
		wantErr bool
	}{
		{"debug", false},
		{"warn", false},
		{"fatal", false},
		{"loud", true},
		{"", true},
	}
	for _, tt := range tests {
		_, err := NewLogger(&config.LoggingConfig{Level: tt.level, Format: "console", Output: "stderr"})
		if (err != nil) != tt.wantErr {
			t.Errorf("level %q: err = %v", tt.level, err)
		}
	}
}

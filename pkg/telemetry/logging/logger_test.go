package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		level   string
		wantErr bool
	}{
		{"debug", false},
		{"info", false},
		{"warn", false},
		{"warning", false},
		{"error", false},
		{"", false},
		{"verbose", true},
	}
	for _, tt := range tests {
		_, err := New(Config{Level: tt.level}, &bytes.Buffer{})
		if (err != nil) != tt.wantErr {
			t.Errorf("New(level=%q) error = %v, wantErr %v", tt.level, err, tt.wantErr)
		}
	}
}

func TestNewJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "info", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.Info("session closed", "session_id", "abc", "outcome", "clean")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if record["msg"] != "session closed" || record["session_id"] != "abc" {
		t.Errorf("unexpected record: %v", record)
	}
}

func TestNewTextOutput(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "debug", Format: "text"}, &buf)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Debug("dialing backend", "backend", "b1")
	if !strings.Contains(buf.String(), "backend=b1") {
		t.Errorf("text output missing attribute: %q", buf.String())
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "warn", Format: "text"}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info record emitted at warn level: %q", buf.String())
	}
	logger.Warn("kept")
	if buf.Len() == 0 {
		t.Error("warn record not emitted at warn level")
	}
}

func TestUnknownFormat(t *testing.T) {
	if _, err := New(Config{Format: "xml"}, &bytes.Buffer{}); err == nil {
		t.Error("New() accepted unknown format")
	}
}

func TestSetupInstallsDefault(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	logger, err := Setup(Config{Level: "error"})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if slog.Default() != logger {
		t.Error("Setup() did not install the logger as default")
	}
}

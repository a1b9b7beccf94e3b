package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.InfoLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"WARN", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"loud", zapcore.InfoLevel, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_WritesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vigil.log")
	logger, err := New(Config{Level: "info", File: path})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.Named("session").Info("session started")
	logger.Debug("hidden at info level")
	logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Reading log file: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "INFO") || !strings.Contains(out, "session\tsession started") {
		t.Errorf("Unexpected log file content %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Error("Debug entry written at info level")
	}
}

func TestNew_BadLevel(t *testing.T) {
	if _, err := New(Config{Level: "verbose"}); err == nil {
		t.Error("Expected error for unknown level")
	}
}

func TestNew_CustomWriter(t *testing.T) {
	var buf strings.Builder
	logger, err := New(Config{Level: "debug", Writer: &buf})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Debug("probe finished")
	if !strings.Contains(buf.String(), "DEBUG\tprobe finished") {
		t.Errorf("Unexpected console output %q", buf.String())
	}
}

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/tagsakay/tagsakay-core/internal/infrastructure/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LoggingConfig
	}{
		{"json stdout", config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}},
		{"text stderr", config.LoggingConfig{Level: "debug", Format: "text", Output: "stderr"}},
		{"zero value", config.LoggingConfig{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if New(tt.cfg, "1.0.0") == nil {
				t.Fatal("New() returned nil")
			}
		})
	}

	if Default() == nil {
		t.Fatal("Default() returned nil")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}

	for input, want := range tests {
		if got := parseLevel(input); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWithWriter(&buf, config.LoggingConfig{Level: "info", Format: "text"}, "test")
	child := logger.With("component", "guard")
	if child == logger {
		t.Fatal("With() should return a new logger")
	}

	child.Info("sweep complete")
	if !strings.Contains(buf.String(), "component=guard") {
		t.Errorf("child entry missing component attr: %s", buf.String())
	}

	buf.Reset()
	logger.Info("plain")
	if strings.Contains(buf.String(), "component=guard") {
		t.Errorf("parent logger picked up child attrs: %s", buf.String())
	}
}

func TestLogger_OutputContainsDefaultFields(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWithWriter(&buf, config.LoggingConfig{Level: "info", Format: "json"}, "test")
	logger.Info("test message", "key", "value")

	var logEntry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("failed to parse JSON output: %v", err)
	}

	if logEntry["service"] != "tagsakay" {
		t.Errorf("expected service='tagsakay', got %v", logEntry["service"])
	}

	if logEntry["version"] != "test" {
		t.Errorf("expected version='test', got %v", logEntry["version"])
	}

	if logEntry["msg"] != "test message" {
		t.Errorf("expected msg='test message', got %v", logEntry["msg"])
	}

	if logEntry["key"] != "value" {
		t.Errorf("expected key='value', got %v", logEntry["key"])
	}
}

func TestLogger_Security(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWithWriter(&buf, config.LoggingConfig{Level: "info", Format: "text"}, "test")
	logger.Security("rate limit exceeded", "ip", "203.0.113.9")

	output := buf.String()
	for _, want := range []string{"level=WARN", "category=security", "ip=203.0.113.9", `msg="rate limit exceeded"`} {
		if !strings.Contains(output, want) {
			t.Errorf("expected output to contain %q, got %s", want, output)
		}
	}
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWithWriter(&buf, config.LoggingConfig{Level: "warn", Format: "json"}, "test")
	logger.Info("dropped")

	if buf.Len() != 0 {
		t.Errorf("expected info entry to be filtered at warn level, got %s", buf.String())
	}
}

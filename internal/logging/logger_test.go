package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelWarn},
		{"bogus", slog.LevelWarn},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewWithWriterAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "slipwire-test", "info")
	logger.Info("hello", "k", "v")

	out := buf.String()
	if !strings.Contains(out, "app=slipwire-test") {
		t.Errorf("missing app attribute: %s", out)
	}
	if !strings.Contains(out, "k=v") {
		t.Errorf("missing logged attribute: %s", out)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "slipwire-test", "error")
	logger.Info("should be dropped")
	if buf.Len() != 0 {
		t.Errorf("info record emitted at error level: %s", buf.String())
	}
}

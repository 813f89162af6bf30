package logging

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		level    string
		logged   []string
		filtered []string
	}{
		{level: "trace", logged: []string{"trace message", "debug message", "info message"}},
		{level: "debug", logged: []string{"debug message", "info message"}, filtered: []string{"trace message"}},
		{level: "info", logged: []string{"info message"}, filtered: []string{"trace message", "debug message"}},
		{level: "warn", logged: []string{"warn message"}, filtered: []string{"info message"}},
		{level: "bogus", logged: []string{"info message"}, filtered: []string{"debug message"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(Config{Level: tt.level, Output: &buf})

			logger.Trace().Msg("trace message")
			logger.Debug().Msg("debug message")
			logger.Info().Msg("info message")
			logger.Warn().Msg("warn message")

			output := buf.String()
			for _, msg := range tt.logged {
				if !strings.Contains(output, msg) {
					t.Errorf("expected %q to be logged at %s level", msg, tt.level)
				}
			}
			for _, msg := range tt.filtered {
				if strings.Contains(output, msg) {
					t.Errorf("expected %q to NOT be logged at %s level", msg, tt.level)
				}
			}
		})
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := WithComponent(New(Config{Level: "info", Output: &buf}), "session")

	logger.Info().Msg("hello")

	if !strings.Contains(buf.String(), `"component":"session"`) {
		t.Errorf("expected component field, got %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		want zerolog.Level
	}{
		{"error", zerolog.ErrorLevel},
		{"ERROR", zerolog.ErrorLevel},
		{"warning", zerolog.WarnLevel},
		{" debug ", zerolog.DebugLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.name); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestNew_DefaultsToStderr(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Output != os.Stderr {
		t.Errorf("DefaultConfig().Output = %v, want os.Stderr", cfg.Output)
	}
}

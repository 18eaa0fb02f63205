package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLoggerLevels(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"WARN":    zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for level, expected := range cases {
		logger, err := NewLogger(level, "json")
		if err != nil {
			t.Fatalf("unexpected logger error for %q: %v", level, err)
		}
		if !logger.Core().Enabled(expected) {
			t.Fatalf("expected level %s enabled for %q", expected, level)
		}
		if expected > zapcore.DebugLevel && logger.Core().Enabled(expected-1) {
			t.Fatalf("expected level below %s disabled for %q", expected, level)
		}
	}
}

func TestNewLoggerConsoleEncoding(t *testing.T) {
	if _, err := NewLogger("info", "console"); err != nil {
		t.Fatalf("unexpected console logger error: %v", err)
	}
}

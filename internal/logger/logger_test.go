package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewJSON(t *testing.T) {
	log, err := New("warn", "json", "runhub-api")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if log.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("info should be disabled at warn level")
	}
	if !log.Core().Enabled(zapcore.WarnLevel) {
		t.Fatalf("warn should be enabled")
	}
}

func TestNewConsoleDebug(t *testing.T) {
	log, err := New("debug", "console", "")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if !log.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("debug should be enabled")
	}
}

func TestParseLevelFallsBackToInfo(t *testing.T) {
	if parseLevel("verbose") != zapcore.InfoLevel {
		t.Fatalf("unknown level should map to info")
	}
	if parseLevel("error") != zapcore.ErrorLevel {
		t.Fatalf("expected error level")
	}
}

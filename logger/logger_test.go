package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestLoggerIsNeverNil(t *testing.T) {
	// Before Initialize, the package-level logger must be usable (no-op)
	if Logger == nil {
		t.Fatal("Logger is nil before Initialize")
	}
	Logger.Infow("no-op logger accepts writes", "key", "value")
}

func TestInitializeJSON(t *testing.T) {
	if err := Initialize(true); err != nil {
		t.Fatalf("Initialize(json) failed: %v", err)
	}
	if !JSONOutput {
		t.Error("JSONOutput flag not set")
	}
	Logger.Infow("structured output", "mode", "json")
}

func TestInitializeConsole(t *testing.T) {
	if err := Initialize(false); err != nil {
		t.Fatalf("Initialize(console) failed: %v", err)
	}
	if JSONOutput {
		t.Error("JSONOutput flag should be false for console mode")
	}
}

func TestSetLevel(t *testing.T) {
	if err := Initialize(false); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := SetLevel(zapcore.DebugLevel); err != nil {
		t.Fatalf("SetLevel failed: %v", err)
	}
	Logger.Debugw("debug visible after SetLevel")
}

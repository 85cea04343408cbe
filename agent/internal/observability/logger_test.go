package observability

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLogger_LevelMapping(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name         string
		level        string
		debugEnabled bool
		infoEnabled  bool
	}{
		{name: "debug level", level: "debug", debugEnabled: true, infoEnabled: true},
		{name: "info level", level: "info", infoEnabled: true},
		{name: "warn level", level: "WARN"},
		{name: "empty level defaults to info", level: "", infoEnabled: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			logger, err := NewLogger(tc.level)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := logger.Core().Enabled(zapcore.DebugLevel); got != tc.debugEnabled {
				t.Fatalf("debug enabled=%v, want=%v", got, tc.debugEnabled)
			}
			if got := logger.Core().Enabled(zapcore.InfoLevel); got != tc.infoEnabled {
				t.Fatalf("info enabled=%v, want=%v", got, tc.infoEnabled)
			}
		})
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	t.Parallel()

	logger, err := NewLogger("not-a-level")
	if err == nil {
		t.Fatal("expected error for invalid level")
	}
	if logger != nil {
		t.Fatal("expected nil logger for invalid level")
	}
}

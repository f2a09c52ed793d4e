package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestInitLogging(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	tests := []struct {
		name, level, format string
		debugEnabled        bool
		json                bool
	}{
		{"defaults", "", "", false, false},
		{"debug json", "debug", "json", true, true},
		{"error text", "ERROR", "text", false, false},
		{"unknown level", "loud", "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LOG_LEVEL", tt.level)
			t.Setenv("LOG_FORMAT", tt.format)
			var buf bytes.Buffer
			logger := InitLogging(&buf)

			if got := logger.Enabled(context.Background(), slog.LevelDebug); got != tt.debugEnabled {
				t.Errorf("debug enabled = %v, want %v", got, tt.debugEnabled)
			}
			if slog.Default() != logger {
				t.Error("InitLogging did not install the default logger")
			}
			lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
			last := lines[len(lines)-1]
			if tt.json {
				var m map[string]any
				if err := json.Unmarshal([]byte(last), &m); err != nil {
					t.Errorf("output is not JSON: %q", last)
				}
			}
			if tt.level == "loud" && !strings.Contains(buf.String(), "unknown LOG_LEVEL") {
				t.Error("unknown level not reported")
			}
		})
	}
}

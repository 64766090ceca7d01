package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter(t *testing.T) {
	t.Run("writes json", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewWithWriter(&buf, "debug", "JSON")

		logger.Debug("synced folder", "folder", "INBOX", "fetched", 3)

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "DEBUG", entry["level"])
		assert.Equal(t, "synced folder", entry["msg"])
		assert.Equal(t, "INBOX", entry["folder"])
		assert.Equal(t, float64(3), entry["fetched"])
	})

	t.Run("writes text and filters by level", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewWithWriter(&buf, "warn", "")

		logger.Info("hidden")
		logger.Warn("shown", "account_id", "a1")

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "msg=shown")
		assert.Contains(t, buf.String(), "account_id=a1")
	})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{" warn ", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"loud", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

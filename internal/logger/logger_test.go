package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	log, closer := New(WithWriter(&buf), WithNoColor(true))
	defer closer.Close()

	log.Info("Tracing wrapped model...", "nodes", 12)
	log.Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, "Tracing wrapped model...")
	assert.Contains(t, out, "nodes=12")
	assert.NotContains(t, out, "hidden")
}

func TestLogFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "tsexport.log")
	log, closer := New(
		WithWriter(&buf),
		WithNoColor(true),
		WithLevel(slog.LevelDebug),
		WithLogFile(path),
	)

	log.With("stage", "trace").Debug("recorded", "ops", 3)
	require.NoError(t, closer.Close())

	assert.Contains(t, buf.String(), "recorded")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &record))
	assert.Equal(t, "recorded", record["msg"])
	assert.Equal(t, "trace", record["stage"])
	assert.EqualValues(t, 3, record["ops"])
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestDiscard(t *testing.T) {
	assert.False(t, Discard().Enabled(t.Context(), slog.LevelError))
}

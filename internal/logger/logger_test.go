package logger

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{" ERROR ", LevelError},
		{"none", LevelNone},
		{"off", LevelNone},
		{"invalid", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestNewLoggerWritesFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "client.log")

	l, err := New(LevelInfo, logPath, "router")
	require.NoError(t, err)

	l.Info("connected to %s", "wss://example.test")
	l.Debug("should not appear")
	require.NoError(t, l.Close())

	content, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "[INFO] [router] connected to wss://example.test")
	assert.NotContains(t, string(content), "should not appear")
}

func TestWithPrefixSharesLevel(t *testing.T) {
	var buf bytes.Buffer
	root := NewWithWriter(LevelWarn, &buf, "eventsock")
	child := root.WithPrefix("queue")

	child.Info("hidden")
	root.SetLevel(LevelDebug)
	child.Debug("visible")

	assert.Equal(t, "eventsock:queue", child.Prefix())
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "[eventsock:queue] visible")
}

func TestLoggerDisabled(t *testing.T) {
	l, err := New(LevelNone, "", "test")
	require.NoError(t, err)
	defer l.Close()

	l.Debug("debug")
	l.Info("info")
	l.Warn("warn")
	l.Error("error")
}

func TestGlobalLogger(t *testing.T) {
	require.NotNil(t, Global())

	var buf bytes.Buffer
	prev := Global()
	SetGlobal(NewWithWriter(LevelDebug, &buf, ""))
	defer SetGlobal(prev)

	Warn("global %d", 1)
	assert.Contains(t, buf.String(), "[WARN] global 1")
}

func TestSlogHandler(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(LevelInfo, &buf, "transport")
	sl := Slog(l).With("url", "ws://host").WithGroup("dial")

	sl.Debug("skipped")
	sl.Warn("dial failed", "attempt", 3)

	out := buf.String()
	assert.NotContains(t, out, "skipped")
	assert.Contains(t, out, "[WARN] [transport] dial failed url=ws://host dial.attempt=3")
	assert.True(t, sl.Enabled(context.Background(), slog.LevelError))
	assert.False(t, sl.Enabled(context.Background(), slog.LevelDebug))
}

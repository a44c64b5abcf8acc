package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name          string
		value         string
		expectedLevel LogLevel
	}{
		{
			name:          "trace level",
			value:         "trace",
			expectedLevel: LevelTrace,
		},
		{
			name:          "debug level",
			value:         "debug",
			expectedLevel: LevelDebug,
		},
		{
			name:          "info level",
			value:         "info",
			expectedLevel: LevelInfo,
		},
		{
			name:          "warn level",
			value:         "warn",
			expectedLevel: LevelWarn,
		},
		{
			name:          "warning alias",
			value:         "WARNING",
			expectedLevel: LevelWarn,
		},
		{
			name:          "error level",
			value:         "error",
			expectedLevel: LevelError,
		},
		{
			name:          "none level",
			value:         "none",
			expectedLevel: LevelNone,
		},
		{
			name:          "mixed case",
			value:         "DeBuG",
			expectedLevel: LevelDebug,
		},
		{
			name:          "unknown defaults to info",
			value:         "bogus",
			expectedLevel: LevelInfo,
		},
		{
			name:          "empty defaults to info",
			value:         "",
			expectedLevel: LevelInfo,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectedLevel, ParseLevel(tt.value))
		})
	}
}

func TestLevelFromEnv(t *testing.T) {
	t.Setenv("FUNCACHE_LOG_LEVEL", "trace")
	assert.Equal(t, LevelTrace, LevelFromEnv())

	t.Setenv("FUNCACHE_LOG_LEVEL", "error")
	assert.Equal(t, LevelError, LevelFromEnv())
}

func TestConsoleLoggerWithIsolation(t *testing.T) {
	parent := NewConsoleLogger(LevelInfo).(*consoleLogger)
	child := parent.With(map[string]interface{}{"component": "cache"}).(*consoleLogger)

	assert.Empty(t, parent.metadata)
	assert.Equal(t, "cache", child.metadata["component"])

	prefixed := child.WithPrefix("redis").(*consoleLogger)
	assert.Empty(t, child.prefixes)
	assert.Equal(t, []string{"redis"}, prefixed.prefixes)
}

func TestConsoleLoggerLevelEnabled(t *testing.T) {
	l := NewConsoleLogger(LevelWarn)
	assert.False(t, l.IsLevelEnabled(LevelDebug))
	assert.False(t, l.IsLevelEnabled(LevelInfo))
	assert.True(t, l.IsLevelEnabled(LevelWarn))
	assert.True(t, l.IsLevelEnabled(LevelError))
}

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSONLoggerWithWriter(&buf, LevelDebug)
	l = l.With(map[string]interface{}{"component": "backend", "kind": "memory"})

	l.Debug("stored %d entries", 3)

	var entry JSONLogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "DEBUG", entry.Severity)
	assert.Equal(t, "stored 3 entries", entry.Message)
	assert.Equal(t, "backend", entry.Component)
	assert.Equal(t, "memory", entry.Metadata["kind"])
	assert.False(t, entry.Timestamp.IsZero())
}

func TestJSONLoggerSuppressesBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSONLoggerWithWriter(&buf, LevelWarn)
	l.Info("not emitted")
	assert.Zero(t, buf.Len())

	l.Warn("emitted")
	assert.NotZero(t, buf.Len())
}

func TestTestLoggerCapture(t *testing.T) {
	tl := NewTestLogger()
	child := tl.With(map[string]interface{}{"component": "registry"})

	tl.Info("configured %s", "owner")
	child.Error("boom")

	logs := tl.Logs()
	require.Len(t, logs, 2)
	assert.Equal(t, "INFO", logs[0].Severity)
	assert.Equal(t, "configured %s", logs[0].Message)
	assert.Equal(t, []interface{}{"owner"}, logs[0].Arguments)
	assert.Equal(t, "ERROR", logs[1].Severity)
	assert.Equal(t, "registry", logs[1].Metadata["component"])
}

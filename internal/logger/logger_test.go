package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogLevels(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarnLevel, "WARN"},
		{ErrorLevel, "ERROR"},
		{FatalLevel, "FATAL"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.level.String())
		})
	}
}

func TestStructuredLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, WarnLevel)

	l.Debug("debug message")
	assert.Empty(t, buf.String())

	l.Info("info message")
	assert.Empty(t, buf.String())

	l.Warn("warn message")
	assert.NotEmpty(t, buf.String())
}

func TestStructuredLogger_FieldsAndOutput(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, DebugLevel)

	l.Info("connected", String("device_id", "alpha"), Int("port", 8443), Bool("authenticated", true))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "connected", entry["message"])
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "alpha", entry["device_id"])
	assert.Equal(t, float64(8443), entry["port"])
	assert.Equal(t, true, entry["authenticated"])
}

func TestStructuredLogger_WithFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, DebugLevel)
	scoped := l.WithFields(String("component", "transport"))

	scoped.Info("listening")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "transport", entry["component"])
}

func TestStructuredLogger_SetLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, InfoLevel)
	assert.Equal(t, InfoLevel, l.GetLevel())

	l.SetLevel(ErrorLevel)
	assert.Equal(t, ErrorLevel, l.GetLevel())

	l.Warn("should be filtered")
	assert.Empty(t, buf.String())
}

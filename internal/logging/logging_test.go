package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		expected zerolog.Level
	}{
		{name: "empty falls back to info", level: "", expected: zerolog.InfoLevel},
		{name: "debug", level: "debug", expected: zerolog.DebugLevel},
		{name: "garbage falls back to info", level: "loud", expected: zerolog.InfoLevel},
		{name: "error", level: "error", expected: zerolog.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewWithWriter(&bytes.Buffer{}, tt.level, false)
			assert.Equal(t, tt.expected, l.GetLevel())
		})
	}
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "info", false)
	l.Info().Str("request_id", "r1").Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["message"])
	assert.Equal(t, "r1", entry["request_id"])
	assert.Equal(t, "contact-broker", entry["service"])
	assert.Equal(t, "info", entry["level"])
}

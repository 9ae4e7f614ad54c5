package app

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLoggerJSONTagsService(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, &Config{LogFormat: "json", LogLevel: "warn", AppEnv: "staging"}, "worker")

	logger.Info("hidden")
	logger.Warn("generation slow")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "generation slow", entry["msg"])
	require.Equal(t, "worker", entry["service"])
	require.Equal(t, "staging", entry["env"])
}

func TestParseLevel(t *testing.T) {
	_, err := parseLevel("verbose")
	require.Error(t, err)
	_, err = parseLevel("DEBUG")
	require.NoError(t, err)
}

func TestInTestMode(t *testing.T) {
	t.Setenv(testModeEnv, "true")
	require.True(t, InTestMode())
	t.Setenv(testModeEnv, "0")
	require.False(t, InTestMode())
	t.Setenv(testModeEnv, "")
	require.False(t, InTestMode())
}

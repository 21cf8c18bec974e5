package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSONLoggerHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn", "json")

	logger.Info("dropped")
	logger.Warn("kept", "component", "test")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "kept", record["msg"])
	assert.Equal(t, "test", record["component"])
}

func TestNewTextLoggerIsDefault(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "", "")
	logger.Info("hello", "subscriber_id", "abc")
	assert.Contains(t, buf.String(), "subscriber_id=abc")
}

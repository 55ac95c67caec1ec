package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(Config{Level: "debug", Format: "json"}, &buf)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	logger.WithField("code", "bad-request").Warn("turnstile check failed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "bad-request", entry["code"])
	assert.Equal(t, "warning", entry["level"])
}

func TestNewDefaults(t *testing.T) {
	logger, err := NewWithWriter(Config{}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := NewWithWriter(Config{Level: "loud"}, &bytes.Buffer{})
	assert.Error(t, err)

	_, err = NewWithWriter(Config{Format: "xml"}, &bytes.Buffer{})
	assert.Error(t, err)
}

package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLoggerWritesServiceAndFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "vault", "debug").With(map[string]interface{}{"vault": "0xabc"})

	log.Info("deposit committed", map[string]interface{}{"amount": "95"})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "vault", entry["service"])
	assert.Equal(t, "0xabc", entry["vault"])
	assert.Equal(t, "95", entry["amount"])
	assert.Equal(t, "deposit committed", entry["message"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "vault", "warn")

	log.Debug("hidden", nil)
	log.Info("hidden", nil)
	assert.Zero(t, buf.Len())

	log.Warn("shown", nil)
	assert.NotZero(t, buf.Len())
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "vault", "chatty")

	log.Debug("hidden", nil)
	assert.Zero(t, buf.Len())
	log.Info("shown", nil)
	assert.NotZero(t, buf.Len())
}

func TestFromContextAddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	base := NewWriter(&buf, "vault", "info")

	FromContext(context.Background(), base).Info("plain", nil)
	FromContext(WithRequestID(context.Background(), "req-1"), base).Info("tagged", nil)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var plain, tagged map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[0], &plain))
	require.NoError(t, json.Unmarshal(lines[1], &tagged))
	assert.NotContains(t, plain, "request_id")
	assert.Equal(t, "req-1", tagged["request_id"])
	assert.Empty(t, RequestID(WithRequestID(context.Background(), "")))
}

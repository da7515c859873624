package hostfuncs

import (
	"bytes"
	"testing"

	"log/slog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lapphost/lapphost/codec"
)

func TestLogBundleForwardsGuestRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	handler := LogBundle(logger).Handlers()["log_message"]
	require.NotNil(t, handler)

	payload, err := codec.Marshal(LogRequest{
		Level:   "WARN",
		Message: "cache miss",
		Attrs:   map[string]string{"key": "sessions"},
	})
	require.NoError(t, err)

	resp, err := handler(t.Context(), payload)
	require.NoError(t, err)
	assert.Nil(t, resp)

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "cache miss")
	assert.Contains(t, out, "key=sessions")
}

func TestLogBundleUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	handler := LogBundle(logger).Handlers()["log_message"]

	payload, err := codec.Marshal(LogRequest{Level: "shouting", Message: "hello"})
	require.NoError(t, err)

	_, err = handler(t.Context(), payload)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "level=INFO")
}

func TestLogBundleRejectsMalformedPayload(t *testing.T) {
	handler := LogBundle(slog.Default()).Handlers()["log_message"]

	_, err := handler(t.Context(), []byte{0xff, 0x00})
	assert.Error(t, err)
}

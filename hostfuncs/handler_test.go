package hostfuncs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lapphost/lapphost/codec"
)

func TestNewCodecHandler(t *testing.T) {
	handler := NewCodecHandler(func(ctx context.Context, req SleepRequest) SleepResponse {
		return SleepResponse{SleptMs: req.DurationMs}
	})

	payload, err := codec.Marshal(SleepRequest{DurationMs: 12})
	require.NoError(t, err)

	out, err := handler(context.Background(), payload)
	require.NoError(t, err)

	var resp SleepResponse
	require.NoError(t, codec.Unmarshal(out, &resp))
	assert.Equal(t, uint64(12), resp.SleptMs)
}

func TestNewCodecHandlerRejectsMalformedPayload(t *testing.T) {
	handler := NewCodecHandler(func(ctx context.Context, req SleepRequest) SleepResponse {
		t.Fatal("handler must not run on malformed payload")
		return SleepResponse{}
	})

	_, err := handler(context.Background(), []byte{0xff, 0x00, 0x01})
	require.Error(t, err)
}

func TestInvokeSleep(t *testing.T) {
	start := time.Now()
	resp := invokeSleep(context.Background(), SleepRequest{DurationMs: 10})
	require.Nil(t, resp.Error)
	assert.Equal(t, uint64(10), resp.SleptMs)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestInvokeSleepCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp := invokeSleep(ctx, SleepRequest{DurationMs: 60_000})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeCanceled, resp.Error.Code)
}

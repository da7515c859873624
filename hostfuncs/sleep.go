package hostfuncs

import (
	"context"
	"time"
)

// SleepBundle exposes invoke_sleep. The host sleeps on behalf of the
// guest so a suspended lapp yields its worker instead of spinning.
func SleepBundle() Bundle {
	return &staticBundle{
		handlers: map[string]ByteHandler{
			"invoke_sleep": NewCodecHandler(invokeSleep),
		},
	}
}

func invokeSleep(ctx context.Context, req SleepRequest) SleepResponse {
	d := time.Duration(req.DurationMs) * time.Millisecond
	start := time.Now()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return SleepResponse{SleptMs: req.DurationMs}
	case <-ctx.Done():
		return SleepResponse{
			SleptMs: uint64(time.Since(start).Milliseconds()),
			Error:   &ErrorDetail{Code: CodeCanceled, Message: ctx.Err().Error()},
		}
	}
}

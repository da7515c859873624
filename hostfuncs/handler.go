package hostfuncs

import (
	"context"
	"fmt"

	"github.com/lapphost/lapphost/codec"
)

// HostFunc is a typed host function: it accepts a context and a typed
// request and returns a typed response. Failures are reported inside
// the response so the guest receives a parseable error instead of a
// trap.
type HostFunc[Req any, Resp any] func(context.Context, Req) Resp

// ByteHandler is the raw shape the WASM layer invokes: payload bytes
// in, payload bytes out. The returned error is reserved for transport
// failures (undecodable request, unencodable response); domain errors
// travel inside the response payload.
type ByteHandler func(context.Context, []byte) ([]byte, error)

// NewCodecHandler wraps a typed HostFunc into a ByteHandler over the
// boundary codec.
func NewCodecHandler[Req any, Resp any](fn HostFunc[Req, Resp]) ByteHandler {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		var req Req
		if err := codec.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("unmarshal request: %w", err)
		}

		resp := fn(ctx, req)

		respBytes, err := codec.Marshal(resp)
		if err != nil {
			return nil, fmt.Errorf("marshal response: %w", err)
		}
		return respBytes, nil
	}
}

// Bundle is a set of related host functions registered together when
// the gating permission is granted.
type Bundle interface {
	// Handlers returns handler names mapped to their implementations.
	Handlers() map[string]ByteHandler
}

// staticBundle implements Bundle with a fixed handler set.
type staticBundle struct {
	handlers map[string]ByteHandler
}

func (b *staticBundle) Handlers() map[string]ByteHandler {
	return b.handlers
}

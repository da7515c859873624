//go:build wasip1

package sdk

import (
	"context"

	"log/slog"

	"github.com/lapphost/lapphost/sdk/internal/abi"
)

//go:wasmimport env log_message
func hostLogMessage(packed uint64) uint64

type logRequest struct {
	Level   string            `cbor:"level"`
	Message string            `cbor:"message"`
	Attrs   map[string]string `cbor:"attrs,omitempty"`
}

// hostLogHandler forwards slog records to the host's structured log
// through the ambient log_message host function. Level filtering is
// the host's job.
type hostLogHandler struct {
	attrs []slog.Attr
}

func init() {
	slog.SetDefault(slog.New(&hostLogHandler{}))
}

func (h *hostLogHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *hostLogHandler) Handle(_ context.Context, record slog.Record) error {
	req := logRequest{
		Level:   record.Level.String(),
		Message: record.Message,
	}
	if len(h.attrs) > 0 || record.NumAttrs() > 0 {
		req.Attrs = make(map[string]string, len(h.attrs)+record.NumAttrs())
		for _, attr := range h.attrs {
			req.Attrs[attr.Key] = attr.Value.String()
		}
		record.Attrs(func(attr slog.Attr) bool {
			req.Attrs[attr.Key] = attr.Value.String()
			return true
		})
	}

	payload, err := marshal(req)
	if err != nil {
		return err
	}
	packed := abi.PtrFromBytes(payload)
	hostLogMessage(packed)
	abi.FreePacked(packed)
	return nil
}

func (h *hostLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &hostLogHandler{attrs: merged}
}

func (h *hostLogHandler) WithGroup(string) slog.Handler { return h }

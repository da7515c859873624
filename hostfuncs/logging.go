package hostfuncs

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"log/slog"

	"github.com/lapphost/lapphost/codec"
)

// LogBundle routes guest log records into the host's structured log.
// Unlike the other bundles it is not permission-gated: every lapp gets
// log_message so instrumentation never depends on granted capabilities.
func LogBundle(logger *slog.Logger) Bundle {
	return &staticBundle{
		handlers: map[string]ByteHandler{
			"log_message": func(ctx context.Context, payload []byte) ([]byte, error) {
				var req LogRequest
				if err := codec.Unmarshal(payload, &req); err != nil {
					return nil, fmt.Errorf("unmarshal log request: %w", err)
				}

				var level slog.Level
				if err := level.UnmarshalText([]byte(req.Level)); err != nil {
					level = slog.LevelInfo
				}

				attrs := make([]any, 0, len(req.Attrs))
				for _, key := range slices.Sorted(maps.Keys(req.Attrs)) {
					attrs = append(attrs, slog.String(key, req.Attrs[key]))
				}
				logger.Log(ctx, level, req.Message, attrs...)
				return nil, nil
			},
		},
	}
}

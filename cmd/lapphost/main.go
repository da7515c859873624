package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"log/slog"

	"github.com/spf13/pflag"

	"github.com/lapphost/lapphost/domain/entities"
	"github.com/lapphost/lapphost/lapps"
)

func main() {
	lappsDir := pflag.String("lapps-dir", "lapps", "directory containing one subdirectory per lapp")
	listen := pflag.String("listen", "127.0.0.1:16907", "admin API listen address")
	logLevel := pflag.String("log-level", "info", "log level: debug, info, warn, error")
	pflag.Parse()

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	if err := run(*lappsDir, *listen, logger); err != nil {
		logger.Error("fatal", slog.Any("error", err))
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func run(lappsDir, listen string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager, err := lapps.NewManager(lappsDir, lapps.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("starting manager: %w", err)
	}
	manager.LoadAll(ctx)

	server := &http.Server{
		Addr:    listen,
		Handler: adminMux(manager, logger),
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin api listening", slog.String("addr", listen))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		manager.Close(context.Background())
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", slog.Any("error", err))
	}
	return manager.Close(shutdownCtx)
}

// adminMux exposes the administrative operations. The lapp front door
// (serving lapp UIs and routing guest HTTP) is intentionally not here.
func adminMux(manager *lapps.Manager, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/lapps", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, manager.List())
	})

	mux.HandleFunc("POST /api/lapp/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		var query entities.UpdateQuery
		if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("decode update: %w", err))
			return
		}

		applied, err := manager.Update(name, query)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}

		// Enablement changes take effect immediately; permission
		// changes wait for the next load.
		if applied.Enabled != nil {
			if *applied.Enabled {
				err = manager.Load(r.Context(), name)
			} else {
				err = manager.Unload(r.Context(), name)
			}
			if err != nil {
				logger.Error("applying enabled change failed",
					slog.String("lapp", name), slog.Any("error", err))
				writeError(w, statusForError(err), err)
				return
			}
		}
		writeJSON(w, http.StatusOK, applied)
	})

	return mux
}

func statusForError(err error) int {
	switch entities.ErrKind(err) {
	case entities.KindNotFound:
		return http.StatusNotFound
	case entities.KindNotEnabled, entities.KindPermissionDenied:
		return http.StatusForbidden
	case entities.KindNotLoaded:
		return http.StatusConflict
	case entities.KindLockUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		slog.Debug("encoding response failed", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	// Keep admin responses single-line.
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

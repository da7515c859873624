//go:build wasip1

package sdk

import (
	"context"
	"fmt"

	"log/slog"

	"github.com/lapphost/lapphost/sdk/internal/abi"
)

// Lapp is the interface a lapp implements. Register it from main();
// the host drives the exported lifecycle functions below.
type Lapp interface {
	// Init runs once after instantiation. Returning an error aborts
	// the load.
	Init(ctx context.Context) error
	// ProcessHTTP handles one request payload from the host's front
	// door.
	ProcessHTTP(ctx context.Context, payload []byte) ([]byte, error)
	// HandleMessage handles one message delivered to the lapp's
	// background service.
	HandleMessage(ctx context.Context, payload []byte) ([]byte, error)
}

var registered Lapp

// Register installs the lapp implementation. Calling it twice keeps
// the first registration.
func Register(l Lapp) {
	if registered != nil {
		slog.Warn("lapp already registered, ignoring")
		return
	}
	registered = l
}

//go:wasmexport init
func lappInit() uint64 {
	result := initResult{OK: true}
	if registered == nil {
		result = initResult{Error: "no lapp registered"}
	} else if err := safeInit(); err != nil {
		result = initResult{Error: err.Error()}
	}

	payload, err := marshal(result)
	if err != nil {
		slog.Error("encoding init result failed", slog.Any("error", err))
		return 0
	}
	return abi.PtrFromBytes(payload)
}

func safeInit() (err error) {
	defer recoverInto(&err)
	return registered.Init(context.Background())
}

//go:wasmexport process_http
func processHTTP(packed uint64) uint64 {
	return handleExport(packed, func(ctx context.Context, payload []byte) ([]byte, error) {
		return registered.ProcessHTTP(ctx, payload)
	})
}

//go:wasmexport handle_message
func handleMessage(packed uint64) uint64 {
	return handleExport(packed, func(ctx context.Context, payload []byte) ([]byte, error) {
		return registered.HandleMessage(ctx, payload)
	})
}

// handleExport unwraps the request payload, runs the handler with
// panic recovery, and returns the packed response. A failed handler
// returns the zero word; the host treats it as an empty response.
func handleExport(packed uint64, fn func(context.Context, []byte) ([]byte, error)) uint64 {
	if registered == nil {
		slog.Error("no lapp registered")
		return 0
	}

	payload := abi.BytesFromPtr(packed)
	abi.FreePacked(packed)

	var response []byte
	err := func() (err error) {
		defer recoverInto(&err)
		response, err = fn(context.Background(), payload)
		return err
	}()
	if err != nil {
		slog.Error("handler failed", slog.Any("error", err))
		return 0
	}
	return abi.PtrFromBytes(response)
}

// recoverInto converts a panic in lapp code into an error and drops
// any allocations the crashed handler left pinned.
func recoverInto(err *error) {
	if r := recover(); r != nil {
		abi.FreeAll()
		*err = fmt.Errorf("lapp panic: %v", r)
	}
}

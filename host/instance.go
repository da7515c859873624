package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/lapphost/lapphost/domain/entities"
)

// Instance is a loaded, runnable lapp module: compiled code bound to
// one linear memory, the memory bridge for that memory, and whichever
// host functions were granted at load time. Instances are never shared
// between lapps; each owns its wazero runtime and its per-lapp
// resources (database pool), all released by Close.
type Instance struct {
	name    string
	runtime wazero.Runtime
	module  api.Module
	bridge  *MemoryBridge
	closers []io.Closer
	logger  *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Name returns the owning lapp's name.
func (i *Instance) Name() string { return i.name }

// Bridge returns the instance's memory bridge. The handle must not be
// retained past Close.
func (i *Instance) Bridge() *MemoryBridge { return i.bridge }

// Call invokes a guest export with a byte payload and returns the byte
// payload it produced. The payload travels as a packed offset+length
// word through the bridge; an empty payload is passed as the zero word.
func (i *Instance) Call(ctx context.Context, export string, payload []byte) ([]byte, error) {
	fn := i.module.ExportedFunction(export)
	if fn == nil {
		return nil, entities.BoundaryError(fmt.Sprintf("module exports no %q function", export), nil)
	}

	in, err := i.bridge.WriteBytes(ctx, payload)
	if err != nil {
		return nil, err
	}

	results, err := fn.Call(ctx, in)
	if err != nil {
		return nil, entities.BoundaryError(fmt.Sprintf("call to %q failed", export), err)
	}
	if len(results) == 0 || results[0] == 0 {
		return nil, nil
	}

	out, err := i.bridge.ReadPacked(results[0])
	if err != nil {
		return nil, err
	}
	if err := i.bridge.Free(ctx, results[0]); err != nil {
		i.logger.Debug("freeing guest result region failed", "lapp", i.name, "export", export, "error", err)
	}
	return out, nil
}

// Close invalidates the bridge, tears down the wazero runtime (and with
// it the module), and releases per-instance resources. Safe to call
// more than once.
func (i *Instance) Close(ctx context.Context) error {
	i.closeOnce.Do(func() {
		i.bridge.invalidate()

		errs := []error{i.runtime.Close(ctx)}
		for _, c := range i.closers {
			errs = append(errs, c.Close())
		}
		i.closeErr = errors.Join(errs...)
	})
	return i.closeErr
}

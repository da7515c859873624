// Package host loads WASM lapp modules, wires capability-gated host
// functions into them, and bridges structured data across the trust
// boundary through the module's own linear memory and allocator.
package host

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero/api"

	"github.com/lapphost/lapphost/domain/entities"
)

// Guest exports every lapp module must provide for data exchange.
const (
	allocExport   = "alloc"
	deallocExport = "dealloc" // optional
)

// PackPtrLen packs a guest memory offset and a byte length into the
// single 64-bit word exchanged across the boundary for variable-length
// data. Offset lives in the high 32 bits, length in the low 32.
func PackPtrLen(ptr, length uint32) uint64 {
	return uint64(ptr)<<32 | uint64(length)
}

// UnpackPtrLen splits a packed boundary word back into offset and length.
func UnpackPtrLen(packed uint64) (ptr, length uint32) {
	return uint32(packed >> 32), uint32(packed)
}

// guestMemory is the slice of api.Memory the bridge needs. Narrowing
// the dependency keeps the bridge testable without a live module.
type guestMemory interface {
	Size() uint32
	Read(offset, byteCount uint32) ([]byte, bool)
	Write(offset uint32, v []byte) bool
}

// guestFunc matches api.Function's call surface.
type guestFunc interface {
	Call(ctx context.Context, params ...uint64) ([]uint64, error)
}

// MemoryBridge marshals byte payloads between host memory and one
// module instance's linear memory. Exactly one bridge exists per
// instance; it is a time-bounded borrow that is invalidated when the
// instance is dropped, after which every operation fails with a
// boundary error instead of touching freed memory.
//
// The bridge is created before instantiation so host function closures
// can capture it, and bound to the module's exports once instantiation
// succeeds. No guest code runs between those two points.
type MemoryBridge struct {
	mu      sync.RWMutex
	mem     guestMemory
	alloc   guestFunc
	dealloc guestFunc
	closed  bool
}

func newMemoryBridge() *MemoryBridge {
	return &MemoryBridge{}
}

// bind attaches the bridge to an instantiated module's memory and
// allocator exports.
func (b *MemoryBridge) bind(mod api.Module) error {
	mem := mod.Memory()
	if mem == nil {
		return entities.BoundaryError("module exports no linear memory", nil)
	}
	alloc := mod.ExportedFunction(allocExport)
	if alloc == nil {
		return entities.BoundaryError(fmt.Sprintf("module exports no %q function", allocExport), nil)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.mem = mem
	b.alloc = alloc
	if dealloc := mod.ExportedFunction(deallocExport); dealloc != nil {
		b.dealloc = dealloc
	}
	return nil
}

// invalidate severs the bridge from the module. Called on instance
// teardown; the bridge must not outlive its instance.
func (b *MemoryBridge) invalidate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.mem = nil
	b.alloc = nil
	b.dealloc = nil
}

func (b *MemoryBridge) usable() (guestMemory, guestFunc, guestFunc, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, nil, nil, entities.BoundaryError("memory bridge is invalidated", nil)
	}
	if b.mem == nil || b.alloc == nil {
		return nil, nil, nil, entities.BoundaryError("memory bridge is not bound to an instance", nil)
	}
	return b.mem, b.alloc, b.dealloc, nil
}

// ReadPacked copies the region described by a packed offset+length word
// out of guest memory into host-owned storage. Any region exceeding the
// module's current memory size fails with a boundary error.
func (b *MemoryBridge) ReadPacked(packed uint64) ([]byte, error) {
	mem, _, _, err := b.usable()
	if err != nil {
		return nil, err
	}

	ptr, length := UnpackPtrLen(packed)
	if length == 0 {
		return nil, nil
	}
	if ptr == 0 {
		return nil, entities.BoundaryError(fmt.Sprintf("null pointer with non-zero length %d", length), nil)
	}

	view, ok := mem.Read(ptr, length)
	if !ok {
		return nil, entities.BoundaryError(
			fmt.Sprintf("memory access out of bounds: offset %d length %d exceeds memory size %d", ptr, length, mem.Size()), nil)
	}

	// Read returns a view into guest memory; copy so the payload
	// survives guest-side reallocation.
	data := make([]byte, length)
	copy(data, view)
	return data, nil
}

// WriteBytes asks the module's allocator for len(data) bytes, copies
// the payload into guest memory, and returns the packed offset+length
// word the guest understands. The written region belongs to the guest.
func (b *MemoryBridge) WriteBytes(ctx context.Context, data []byte) (uint64, error) {
	mem, alloc, _, err := b.usable()
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}

	results, err := alloc.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, entities.BoundaryError("guest allocator failed", err)
	}
	if len(results) == 0 {
		return 0, entities.BoundaryError("guest allocator returned no value", nil)
	}
	ptr := uint32(results[0])
	if ptr == 0 {
		return 0, entities.BoundaryError(fmt.Sprintf("guest allocator returned null for %d bytes", len(data)), nil)
	}

	if !mem.Write(ptr, data) {
		return 0, entities.BoundaryError(
			fmt.Sprintf("memory write out of bounds: offset %d length %d exceeds memory size %d", ptr, len(data), mem.Size()), nil)
	}
	return PackPtrLen(ptr, uint32(len(data))), nil
}

// Free returns a guest region to the module's allocator when the module
// exports one. Modules without a dealloc export reclaim regions on
// their own terms; for those, Free is a no-op.
func (b *MemoryBridge) Free(ctx context.Context, packed uint64) error {
	_, _, dealloc, err := b.usable()
	if err != nil {
		return err
	}
	ptr, length := UnpackPtrLen(packed)
	if dealloc == nil || ptr == 0 || length == 0 {
		return nil
	}
	if _, err := dealloc.Call(ctx, uint64(ptr), uint64(length)); err != nil {
		return entities.BoundaryError("guest deallocator failed", err)
	}
	return nil
}

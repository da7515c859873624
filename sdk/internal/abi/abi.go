//go:build wasip1

package abi

import (
	"sync"
	"unsafe"
)

// allocations pins every buffer handed across the boundary so the Go
// GC cannot move or collect it while the host holds the offset.
var allocations = struct {
	sync.Mutex
	ptrs map[uint32][]byte
}{ptrs: make(map[uint32][]byte)}

// alloc reserves size bytes of linear memory for the host to write
// into and returns its offset. Exported for the host-side loader.
//
//go:wasmexport alloc
func alloc(size uint64) uint64 {
	if size == 0 {
		return 0
	}

	buf := make([]byte, size)
	ptr := uint32(uintptr(unsafe.Pointer(&buf[0])))

	allocations.Lock()
	allocations.ptrs[ptr] = buf
	allocations.Unlock()
	return uint64(ptr)
}

// dealloc releases a region previously returned by alloc.
//
//go:wasmexport dealloc
func dealloc(ptr uint64, size uint64) {
	allocations.Lock()
	delete(allocations.ptrs, uint32(ptr))
	allocations.Unlock()
}

// FreeAll drops every tracked allocation. Called from panic recovery
// so a crashing handler does not leak pinned buffers.
func FreeAll() {
	allocations.Lock()
	clear(allocations.ptrs)
	allocations.Unlock()
}

// PtrFromBytes copies data into a fresh tracked allocation and returns
// the packed boundary word describing it. Used when the guest passes a
// payload to the host.
func PtrFromBytes(data []byte) uint64 {
	if len(data) == 0 {
		return 0
	}
	ptr := uint32(alloc(uint64(len(data))))
	dest := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), len(data))
	copy(dest, data)
	return PackPtrLen(ptr, uint32(len(data)))
}

// BytesFromPtr copies the region a packed boundary word describes out
// of linear memory. Used when the guest receives a payload from the
// host.
func BytesFromPtr(packed uint64) []byte {
	ptr, length := UnpackPtrLen(packed)
	if ptr == 0 || length == 0 {
		return nil
	}
	src := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), length)
	data := make([]byte, length)
	copy(data, src)
	return data
}

// FreePacked releases the region a packed boundary word describes.
func FreePacked(packed uint64) {
	ptr, length := UnpackPtrLen(packed)
	if ptr != 0 && length > 0 {
		dealloc(uint64(ptr), uint64(length))
	}
}

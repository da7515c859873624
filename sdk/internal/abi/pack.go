// Package abi implements the guest side of the boundary word ABI:
// linear-memory allocation exports and the packed offset+length word
// exchanged with the host for variable-length data.
package abi

// PackPtrLen packs a linear memory offset and a byte length into the
// single 64-bit boundary word. Offset lives in the high 32 bits,
// length in the low 32.
func PackPtrLen(ptr, length uint32) uint64 {
	return uint64(ptr)<<32 | uint64(length)
}

// UnpackPtrLen splits a packed boundary word back into offset and
// length.
func UnpackPtrLen(packed uint64) (ptr, length uint32) {
	return uint32(packed >> 32), uint32(packed)
}

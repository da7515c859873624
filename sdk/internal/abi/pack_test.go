package abi

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPackUnpackRoundtrip(t *testing.T) {
	tests := []struct {
		name   string
		ptr    uint32
		length uint32
	}{
		{name: "zero", ptr: 0, length: 0},
		{name: "small", ptr: 1024, length: 16},
		{name: "max", ptr: math.MaxUint32, length: math.MaxUint32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packed := PackPtrLen(tt.ptr, tt.length)
			ptr, length := UnpackPtrLen(packed)
			assert.Equal(t, tt.ptr, ptr)
			assert.Equal(t, tt.length, length)
		})
	}
}

func TestPackLayout(t *testing.T) {
	// Offset occupies the high half, length the low half.
	assert.Equal(t, uint64(0x0000_0010_0000_0004), PackPtrLen(16, 4))
}

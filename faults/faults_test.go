package faults

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Every trap code round-trips through the host-side decoder.
func TestTrapCodeRoundTrip(t *testing.T) {
	for code := Trap(0); code < trapCount; code++ {
		got, ok := DecodeTrapCode(uint32(code))
		require.True(t, ok, "code %d", code)
		assert.Equal(t, code, got)
	}
}

func TestDecodeRejectsUnknownCodes(t *testing.T) {
	_, ok := DecodeTrapCode(uint32(trapCount))
	assert.False(t, ok)
	_, ok = DecodeTrapCode(0xffffffff)
	assert.False(t, ok)
}

func TestTrapCodesAreStable(t *testing.T) {
	// The numeric assignment is part of the host interface and must not
	// drift when the enum is edited.
	assert.Equal(t, uint32(0), uint32(TrapNone))
	assert.Equal(t, uint32(2), uint32(TrapMemoryOutOfBounds))
	assert.Equal(t, uint32(5), uint32(TrapIndirectCallToNull))
	assert.Equal(t, uint32(8), uint32(TrapIntegerDivisionByZero))
	assert.Equal(t, uint32(10), uint32(TrapUnreachableCodeReached))
	assert.Equal(t, uint32(14), uint32(TrapAtomicWaitNonSharedMemory))
}

func TestBuildErrorFormatting(t *testing.T) {
	err := UnsupportedInstruction("i64.trunc_f64_s")
	assert.Equal(t, "UnsupportedInstruction: i64.trunc_f64_s", err.Error())

	err = UnsupportedType("f64")
	assert.Equal(t, "UnsupportedType: f64", err.Error())

	err = BoundsExceeded("parameters")
	assert.Equal(t, "BoundsExceeded: parameters", err.Error())

	err = Internalf("stack depth %d", 3)
	assert.Contains(t, err.Error(), "stack depth 3")
	assert.Equal(t, KindInternal, err.Kind)
}

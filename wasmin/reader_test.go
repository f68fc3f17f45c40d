package wasmin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadU32(t *testing.T) {
	r := NewReader([]byte{0xe5, 0x8e, 0x26})
	v, err := r.ReadU32()
	require.NoError(t, err)
	assert.Equal(t, uint32(624485), v)
	assert.True(t, r.Done())
}

func TestReadI32Negative(t *testing.T) {
	r := NewReader([]byte{0x7f})
	v, err := r.ReadI32()
	require.NoError(t, err)
	assert.Equal(t, int32(-1), v)
}

func TestReadI64LargePositive(t *testing.T) {
	// 9223372036854775805 = 0x7ffffffffffffffd needs the full ten bytes.
	r := NewReader([]byte{0xfd, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x00})
	v, err := r.ReadI64()
	require.NoError(t, err)
	assert.Equal(t, int64(9223372036854775805), v)
}

func TestReadF32(t *testing.T) {
	r := NewReader([]byte{0x00, 0x00, 0x80, 0x3f})
	v, err := r.ReadF32()
	require.NoError(t, err)
	assert.Equal(t, float32(1.0), v)
}

func TestReadMemArg(t *testing.T) {
	r := NewReader([]byte{0x02, 0x10})
	ma, err := r.ReadMemArg()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), ma.Align)
	assert.Equal(t, uint32(16), ma.Offset)
}

func TestReadBlockType(t *testing.T) {
	r := NewReader([]byte{0x40})
	_, has, idx, err := r.ReadBlockType()
	require.NoError(t, err)
	assert.False(t, has)
	assert.Equal(t, int64(-1), idx)

	r = NewReader([]byte{0x7f})
	vt, has, _, err := r.ReadBlockType()
	require.NoError(t, err)
	assert.True(t, has)
	assert.Equal(t, ValueTypeI32, vt)

	r = NewReader([]byte{0x02})
	_, has, idx, err = r.ReadBlockType()
	require.NoError(t, err)
	assert.False(t, has)
	assert.Equal(t, int64(2), idx)
}

func TestTruncatedStreamErrors(t *testing.T) {
	r := NewReader([]byte{0x80})
	_, err := r.ReadU32()
	assert.Error(t, err)

	r = NewReader([]byte{0x00, 0x00})
	_, err = r.ReadF32()
	assert.Error(t, err)
}

func TestSkipImmediates(t *testing.T) {
	// br_table 2 targets + default, then a trailing end.
	r := NewReader([]byte{0x02, 0x00, 0x01, 0x02, 0x0b})
	require.NoError(t, r.SkipImmediates(OpcodeBrTable))
	b, err := r.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte(OpcodeEnd), b)

	// i64.const with a multi-byte immediate.
	r = NewReader(append([]byte{0xfd, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x00}, 0x0b))
	require.NoError(t, r.SkipImmediates(OpcodeI64Const))
	b, err = r.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte(OpcodeEnd), b)

	// Atomic opcodes cannot be skipped.
	r = NewReader([]byte{0x00})
	assert.Error(t, r.SkipImmediates(OpcodeAtomicPrefix))
}

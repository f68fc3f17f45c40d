package wasmin

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Reader walks a FuncUnit's opcode stream, decoding the LEB128-encoded
// immediates that follow each opcode. It holds no cross-references of its
// own: those come from the FuncUnit's Accessible field.
type Reader struct {
	body []byte
	pos  int
}

// NewReader returns a Reader positioned at the start of body.
func NewReader(body []byte) *Reader {
	return &Reader{body: body}
}

// Done reports whether the stream is exhausted.
func (r *Reader) Done() bool { return r.pos >= len(r.body) }

// PeekByte returns the next byte without consuming it. Only valid when
// !Done().
func (r *Reader) PeekByte() byte { return r.body[r.pos] }

// ReadByte consumes and returns the next raw byte (used for opcodes and the
// misc/vec opcode's second byte).
func (r *Reader) ReadByte() (byte, error) {
	if r.Done() {
		return 0, fmt.Errorf("wasmin: unexpected end of opcode stream")
	}
	b := r.body[r.pos]
	r.pos++
	return b, nil
}

// ReadU32 reads an unsigned LEB128-encoded 32-bit value (indices, memarg
// alignment/offset, block-type immediates, etc.).
func (r *Reader) ReadU32() (uint32, error) {
	v, err := r.readVaru(32)
	return uint32(v), err
}

// ReadU64 reads an unsigned LEB128-encoded 64-bit value.
func (r *Reader) ReadU64() (uint64, error) {
	return r.readVaru(64)
}

// ReadI32 reads a signed LEB128-encoded 32-bit value (i32.const).
func (r *Reader) ReadI32() (int32, error) {
	v, err := r.readVars(32)
	return int32(v), err
}

// ReadI64 reads a signed LEB128-encoded 64-bit value (i64.const).
func (r *Reader) ReadI64() (int64, error) {
	return r.readVars(64)
}

// ReadF32 reads a little-endian IEEE-754 single-precision float (f32.const).
func (r *Reader) ReadF32() (float32, error) {
	if r.pos+4 > len(r.body) {
		return 0, fmt.Errorf("wasmin: truncated f32 immediate")
	}
	bits := binary.LittleEndian.Uint32(r.body[r.pos:])
	r.pos += 4
	return math.Float32frombits(bits), nil
}

// ReadF64 reads a little-endian IEEE-754 double-precision float (f64.const).
func (r *Reader) ReadF64() (float64, error) {
	if r.pos+8 > len(r.body) {
		return 0, fmt.Errorf("wasmin: truncated f64 immediate")
	}
	bits := binary.LittleEndian.Uint64(r.body[r.pos:])
	r.pos += 8
	return math.Float64frombits(bits), nil
}

// MemArg is the alignment hint and offset immediate pair following every
// load/store opcode.
type MemArg struct {
	Align  uint32
	Offset uint32
}

// ReadMemArg reads a load/store instruction's memarg immediate.
func (r *Reader) ReadMemArg() (MemArg, error) {
	align, err := r.ReadU32()
	if err != nil {
		return MemArg{}, err
	}
	offset, err := r.ReadU32()
	if err != nil {
		return MemArg{}, err
	}
	return MemArg{Align: align, Offset: offset}, nil
}

// ReadBlockType reads a block/loop/if's result-type immediate. Per the wasm
// core spec this is either the empty type (0x40), a single value type
// (encoded as its negative-LEB form, here pre-resolved to one ValueType by
// the upstream parser and just tagged with ok=true), or a type-index
// referencing a multi-value function type (ok=false, idx holds the index).
func (r *Reader) ReadBlockType() (single ValueType, hasSingle bool, typeIdx int64, err error) {
	b := r.body[r.pos]
	switch b {
	case 0x40: // empty
		r.pos++
		return 0, false, -1, nil
	case 0x7f, 0x7e, 0x7d, 0x7c, 0x7b, 0x70, 0x6f: // i32,i64,f32,f64,v128,funcref,externref
		r.pos++
		return valueTypeFromEncoding(b), true, -1, nil
	default:
		idx, err := r.readVars(33)
		if err != nil {
			return 0, false, 0, err
		}
		return 0, false, idx, nil
	}
}

func valueTypeFromEncoding(b byte) ValueType {
	switch b {
	case 0x7f:
		return ValueTypeI32
	case 0x7e:
		return ValueTypeI64
	case 0x7d:
		return ValueTypeF32
	case 0x7c:
		return ValueTypeF64
	case 0x7b:
		return ValueTypeV128
	case 0x70:
		return ValueTypeFuncRef
	case 0x6f:
		return ValueTypeExternRef
	default:
		panic(fmt.Sprintf("wasmin: unknown value type encoding 0x%x", b))
	}
}

func (r *Reader) readVaru(maxBits int) (uint64, error) {
	var result uint64
	var shift uint
	for {
		if r.Done() {
			return 0, fmt.Errorf("wasmin: truncated LEB128 unsigned value")
		}
		b := r.body[r.pos]
		r.pos++
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
		if shift >= uint(maxBits)+7 {
			return 0, fmt.Errorf("wasmin: LEB128 unsigned value too long")
		}
	}
	return result, nil
}

func (r *Reader) readVars(maxBits int) (int64, error) {
	var result int64
	var shift uint
	var b byte
	for {
		if r.Done() {
			return 0, fmt.Errorf("wasmin: truncated LEB128 signed value")
		}
		b = r.body[r.pos]
		r.pos++
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
		if shift >= uint(maxBits)+7 {
			return 0, fmt.Errorf("wasmin: LEB128 signed value too long")
		}
	}
	if shift < uint(maxBits) && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, nil
}

package stdobjects

import (
	"fmt"

	"github.com/LucentFlux/wasm-gpu-go/faults"
	"github.com/LucentFlux/wasm-gpu-go/ir"
	"github.com/LucentFlux/wasm-gpu-go/wasmin"
)

// RefNull is the in-shader encoding of a null funcref/externref.
const RefNull uint32 = 0xffffffff

// polyfillRef covers both reference types: each is a bare 32-bit index
// (a FuncRef for funcref, a host-side handle for externref), with RefNull
// standing in for null. The reference opcodes themselves (ref.null,
// ref.func, ref.is_null) are simple enough that the block translator
// lowers them inline; Op is unreachable.
type polyfillRef struct {
	kind wasmin.ValueType
	name string
}

func (r polyfillRef) ValueType() wasmin.ValueType { return r.kind }

func (polyfillRef) Type(o *Objects) (ir.TypeHandle, error) { return o.Module.Types.U32(), nil }

func (polyfillRef) Default(o *Objects) (ir.ConstHandle, error) {
	u32 := o.Module.Types.U32()
	return o.Module.Constants.Scalar(u32, ir.LiteralU32(RefNull)), nil
}

func (polyfillRef) SizeBytes(o *Objects) (uint32, error) { return 4, nil }

func (polyfillRef) FromWords(o *Objects, ctx *ir.BlockContext, words []ir.ExprHandle) (ir.ExprHandle, error) {
	return words[0], nil
}

func (polyfillRef) ToWords(o *Objects, ctx *ir.BlockContext, value ir.ExprHandle) ([]ir.ExprHandle, error) {
	return []ir.ExprHandle{value}, nil
}

func (r polyfillRef) Op(o *Objects, op wasmin.Opcode) (*ir.Function, error) {
	return nil, faults.UnsupportedInstruction(fmt.Sprintf("%s opcode(0x%02x)", r.name, byte(op)))
}

package stdobjects

import (
	"fmt"

	"github.com/LucentFlux/wasm-gpu-go/faults"
	"github.com/LucentFlux/wasm-gpu-go/ir"
	"github.com/LucentFlux/wasm-gpu-go/wasmin"
)

// polyfillV128 carries v128 as a uvec4, lane i holding bytes 4i..4i+3 of
// the vector (little-endian words). The type is fully pluggable - codecs,
// defaults, locals, arguments all work - but no SIMD opcode is lowered:
// the opcode stream surface for v128 is the vec-prefix proposal, which this
// core rejects (wasmin.OpcodeVecPrefix), so Op here is only reachable
// through a translator bug.
type polyfillV128 struct{}

func (polyfillV128) ValueType() wasmin.ValueType { return wasmin.ValueTypeV128 }

func (polyfillV128) Type(o *Objects) (ir.TypeHandle, error) { return o.Module.Types.UVec4(), nil }

func (polyfillV128) Default(o *Objects) (ir.ConstHandle, error) {
	u32 := o.Module.Types.U32()
	zero := o.Module.Constants.Scalar(u32, ir.LiteralU32(0))
	return o.Module.Constants.Composite(o.Module.Types.UVec4(),
		[]ir.ConstHandle{zero, zero, zero, zero}), nil
}

func (polyfillV128) SizeBytes(o *Objects) (uint32, error) { return 16, nil }

func (polyfillV128) FromWords(o *Objects, ctx *ir.BlockContext, words []ir.ExprHandle) (ir.ExprHandle, error) {
	return ctx.Compose(o.Module.Types.UVec4(), []ir.ExprHandle{words[0], words[1], words[2], words[3]}), nil
}

func (polyfillV128) ToWords(o *Objects, ctx *ir.BlockContext, value ir.ExprHandle) ([]ir.ExprHandle, error) {
	return []ir.ExprHandle{
		ctx.AccessIndex(value, 0),
		ctx.AccessIndex(value, 1),
		ctx.AccessIndex(value, 2),
		ctx.AccessIndex(value, 3),
	}, nil
}

func (polyfillV128) Op(o *Objects, op wasmin.Opcode) (*ir.Function, error) {
	return nil, faults.UnsupportedInstruction(fmt.Sprintf("v128 opcode(0x%02x)", byte(op)))
}

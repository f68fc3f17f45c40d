package stdobjects

import (
	"fmt"
	"math"

	"github.com/LucentFlux/wasm-gpu-go/faults"
	"github.com/LucentFlux/wasm-gpu-go/ir"
	"github.com/LucentFlux/wasm-gpu-go/wasmin"
)

// nativeI32 implements i32 directly on the shader-IR's native 32-bit
// integer type: every opcode is a one-line wrapper except div_s/rem_s/
// div_u/rem_u, which check divide-by-zero before the native op; div_s also
// checks signed-min/-1 overflow (rem_s of that pair yields 0, no trap).
type nativeI32 struct{}

func (nativeI32) ValueType() wasmin.ValueType { return wasmin.ValueTypeI32 }

func (nativeI32) Type(o *Objects) (ir.TypeHandle, error) { return o.Module.Types.I32(), nil }

func (nativeI32) Default(o *Objects) (ir.ConstHandle, error) {
	ty := o.Module.Types.I32()
	return o.Module.Constants.Scalar(ty, ir.LiteralI32(0)), nil
}

func (nativeI32) SizeBytes(o *Objects) (uint32, error) { return 4, nil }

func (nativeI32) FromWords(o *Objects, ctx *ir.BlockContext, words []ir.ExprHandle) (ir.ExprHandle, error) {
	return ctx.Bitcast(words[0], ir.Sint, 4), nil
}

func (nativeI32) ToWords(o *Objects, ctx *ir.BlockContext, value ir.ExprHandle) ([]ir.ExprHandle, error) {
	return []ir.ExprHandle{ctx.Bitcast(value, ir.Uint, 4)}, nil
}

func (i nativeI32) Op(o *Objects, op wasmin.Opcode) (*ir.Function, error) {
	i32 := o.Module.Types.I32()
	switch op {
	case wasmin.OpcodeI32Add:
		return binaryFn(o, "i32_add", i32, func(c *ir.BlockContext, a, b ir.ExprHandle) ir.ExprHandle { return c.Binary(ir.BinAdd, a, b) })
	case wasmin.OpcodeI32Sub:
		return binaryFn(o, "i32_sub", i32, func(c *ir.BlockContext, a, b ir.ExprHandle) ir.ExprHandle { return c.Binary(ir.BinSubtract, a, b) })
	case wasmin.OpcodeI32Mul:
		return binaryFn(o, "i32_mul", i32, func(c *ir.BlockContext, a, b ir.ExprHandle) ir.ExprHandle { return c.Binary(ir.BinMultiply, a, b) })
	case wasmin.OpcodeI32And:
		return binaryFn(o, "i32_and", i32, func(c *ir.BlockContext, a, b ir.ExprHandle) ir.ExprHandle { return c.Binary(ir.BinAnd, a, b) })
	case wasmin.OpcodeI32Or:
		return binaryFn(o, "i32_or", i32, func(c *ir.BlockContext, a, b ir.ExprHandle) ir.ExprHandle { return c.Binary(ir.BinOr, a, b) })
	case wasmin.OpcodeI32Xor:
		return binaryFn(o, "i32_xor", i32, func(c *ir.BlockContext, a, b ir.ExprHandle) ir.ExprHandle { return c.Binary(ir.BinExclusiveOr, a, b) })
	case wasmin.OpcodeI32Shl:
		return binaryFn(o, "i32_shl", i32, func(c *ir.BlockContext, a, b ir.ExprHandle) ir.ExprHandle {
			mask := c.AppendLiteral(ir.LiteralU32(31))
			return c.Binary(ir.BinShiftLeft, a, c.Binary(ir.BinAnd, b, mask))
		})
	case wasmin.OpcodeI32ShrS:
		return binaryFn(o, "i32_shr_s", i32, func(c *ir.BlockContext, a, b ir.ExprHandle) ir.ExprHandle {
			mask := c.AppendLiteral(ir.LiteralU32(31))
			return c.Binary(ir.BinShiftRight, a, c.Binary(ir.BinAnd, b, mask))
		})
	case wasmin.OpcodeI32ShrU:
		return binaryFn(o, "i32_shr_u", i32, func(c *ir.BlockContext, a, b ir.ExprHandle) ir.ExprHandle {
			mask := c.AppendLiteral(ir.LiteralU32(31))
			ua := c.As(a, ir.Uint, 4)
			shifted := c.Binary(ir.BinShiftRight, ua, c.Binary(ir.BinAnd, b, mask))
			return c.As(shifted, ir.Sint, 4)
		})
	case wasmin.OpcodeI32Rotl:
		return binaryFn(o, "i32_rotl", i32, func(c *ir.BlockContext, a, b ir.ExprHandle) ir.ExprHandle { return i.rotate(c, a, b, true) })
	case wasmin.OpcodeI32Rotr:
		return binaryFn(o, "i32_rotr", i32, func(c *ir.BlockContext, a, b ir.ExprHandle) ir.ExprHandle { return i.rotate(c, a, b, false) })
	case wasmin.OpcodeI32DivS:
		return i.divRem(o, "i32_div_s", true, false)
	case wasmin.OpcodeI32DivU:
		return i.divRem(o, "i32_div_u", false, false)
	case wasmin.OpcodeI32RemS:
		return i.divRem(o, "i32_rem_s", true, true)
	case wasmin.OpcodeI32RemU:
		return i.divRem(o, "i32_rem_u", false, true)
	case wasmin.OpcodeI32Eqz:
		return unaryFn(o, "i32_eqz", i32, i32, func(c *ir.BlockContext, a ir.ExprHandle) ir.ExprHandle {
			zero := c.AppendLiteral(ir.LiteralI32(0))
			return boolToI32(c, i32, c.Binary(ir.BinEqual, a, zero))
		})
	case wasmin.OpcodeI32Eq, wasmin.OpcodeI32Ne, wasmin.OpcodeI32LtS, wasmin.OpcodeI32LtU,
		wasmin.OpcodeI32GtS, wasmin.OpcodeI32GtU, wasmin.OpcodeI32LeS, wasmin.OpcodeI32LeU,
		wasmin.OpcodeI32GeS, wasmin.OpcodeI32GeU:
		return binaryFnResult(o, opName(op), i32, i32, func(c *ir.BlockContext, a, b ir.ExprHandle) ir.ExprHandle {
			if isUnsignedCompare(op) {
				a = c.As(a, ir.Uint, 4)
				b = c.As(b, ir.Uint, 4)
			}
			return boolToI32(c, i32, c.Binary(compareOpFor(op), a, b))
		})
	case wasmin.OpcodeI32Clz:
		return unaryFn(o, "i32_clz", i32, i32, func(c *ir.BlockContext, a ir.ExprHandle) ir.ExprHandle {
			return c.Math(ir.MathCountLeadingZeros, a)
		})
	case wasmin.OpcodeI32Ctz:
		return unaryFn(o, "i32_ctz", i32, i32, func(c *ir.BlockContext, a ir.ExprHandle) ir.ExprHandle {
			return c.Math(ir.MathCountTrailingZeros, a)
		})
	case wasmin.OpcodeI32Popcnt:
		return unaryFn(o, "i32_popcnt", i32, i32, func(c *ir.BlockContext, a ir.ExprHandle) ir.ExprHandle {
			return c.Math(ir.MathCountOneBits, a)
		})
	case wasmin.OpcodeI32Extend8S:
		return i.signExtend(o, "i32_extend8_s", 8)
	case wasmin.OpcodeI32Extend16S:
		return i.signExtend(o, "i32_extend16_s", 16)
	case wasmin.OpcodeI32WrapI64:
		return nil, faults.UnsupportedInstruction("i32.wrap_i64 (lowered directly by translate, not via Objects.Op)")
	case wasmin.OpcodeI32ReinterpretF32:
		return unaryFn(o, "i32_reinterpret_f32", o.Module.Types.F32(), i32, func(c *ir.BlockContext, a ir.ExprHandle) ir.ExprHandle {
			return c.Bitcast(a, ir.Sint, 4)
		})
	case wasmin.OpcodeI32TruncF32S:
		return i.truncFromF32(o, "i32_trunc_f32_s", true, false)
	case wasmin.OpcodeI32TruncF32U:
		return i.truncFromF32(o, "i32_trunc_f32_u", false, false)
	default:
		return nil, faults.UnsupportedInstruction(opName(op))
	}
}

// rotate builds rotl/rotr as a shift-and-or pair: rotl(x,n) = (x<<n) |
// (x >> (32-n)) with n masked to 0..31 first (wasm's rotate count is taken
// mod the bit width).
func (nativeI32) rotate(c *ir.BlockContext, a, b ir.ExprHandle, left bool) ir.ExprHandle {
	ua := c.As(a, ir.Uint, 4)
	mask := c.AppendLiteral(ir.LiteralU32(31))
	n := c.Binary(ir.BinAnd, b, mask)
	width := c.AppendLiteral(ir.LiteralU32(32))
	inv := c.Binary(ir.BinSubtract, width, n)
	// inv can be 32 when n==0; masking by 31 turns 32 into 0, and shifting
	// by 0 is the identity, so `& 31` on inv keeps the two shift amounts
	// consistent without a zero-shift special case.
	invMasked := c.Binary(ir.BinAnd, inv, mask)
	var hi, lo ir.ExprHandle
	if left {
		hi = c.Binary(ir.BinShiftLeft, ua, n)
		lo = c.Binary(ir.BinShiftRight, ua, invMasked)
	} else {
		hi = c.Binary(ir.BinShiftRight, ua, n)
		lo = c.Binary(ir.BinShiftLeft, ua, invMasked)
	}
	return c.As(c.Binary(ir.BinOr, hi, lo), ir.Sint, 4)
}

func (nativeI32) divRem(o *Objects, name string, signed, remainder bool) (*ir.Function, error) {
	i32 := o.Module.Types.I32()
	fn, ctx := addFunction(o, name, []ir.TypeHandle{i32, i32}, i32)
	a := ctx.AppendArgument(0)
	b := ctx.AppendArgument(1)
	zero := ctx.AppendLiteral(ir.LiteralI32(0))
	if err := o.EmitTrapIf(ctx, ctx.Binary(ir.BinEqual, b, zero), faults.TrapIntegerDivisionByZero); err != nil {
		return nil, err
	}
	if signed && !remainder {
		minInt := ctx.AppendLiteral(ir.LiteralI32(-2147483648))
		negOne := ctx.AppendLiteral(ir.LiteralI32(-1))
		overflow := ctx.Binary(ir.BinLogicalAnd,
			ctx.Binary(ir.BinEqual, a, minInt),
			ctx.Binary(ir.BinEqual, b, negOne))
		if err := o.EmitTrapIf(ctx, overflow, faults.TrapIntegerOverflow); err != nil {
			return nil, err
		}
	}
	op := ir.BinDivide
	if remainder {
		op = ir.BinModulo
	}
	if signed {
		ctx.Return(ctx.Binary(op, a, b))
	} else {
		ua := ctx.As(a, ir.Uint, 4)
		ub := ctx.As(b, ir.Uint, 4)
		ctx.Return(ctx.As(ctx.Binary(op, ua, ub), ir.Sint, 4))
	}
	ctx.Finish()
	return fn, nil
}

// truncFromF32 builds i32.trunc_f32_s/u: trap BadConversionToInteger on NaN
// or on a value outside the target range, else truncate toward zero.
func (nativeI32) truncFromF32(o *Objects, name string, signed bool, _ bool) (*ir.Function, error) {
	i32 := o.Module.Types.I32()
	f32 := o.Module.Types.F32()
	fn, ctx := addFunction(o, name, []ir.TypeHandle{f32}, i32)
	a := ctx.AppendArgument(0)
	isNaN := ctx.Binary(ir.BinNotEqual, a, a)
	if err := o.EmitTrapIf(ctx, isNaN, faults.TrapBadConversionToInteger); err != nil {
		return nil, err
	}
	var lo, hi float64
	if signed {
		lo, hi = -2147483648.0, 2147483648.0
	} else {
		lo, hi = -1.0, 4294967296.0
	}
	loLit := ctx.AppendLiteral(ir.LiteralF32Bits(math.Float32bits(float32(lo))))
	hiLit := ctx.AppendLiteral(ir.LiteralF32Bits(math.Float32bits(float32(hi))))
	// The unsigned low bound is exclusive: -1.0 itself truncates to -1.
	loOp := ir.BinLess
	if !signed {
		loOp = ir.BinLessEqual
	}
	outOfRange := ctx.Binary(ir.BinLogicalOr,
		ctx.Binary(loOp, a, loLit),
		ctx.Binary(ir.BinGreaterEqual, a, hiLit))
	if err := o.EmitTrapIf(ctx, outOfRange, faults.TrapBadConversionToInteger); err != nil {
		return nil, err
	}
	if signed {
		ctx.Return(ctx.As(a, ir.Sint, 4))
	} else {
		ctx.Return(ctx.As(ctx.As(a, ir.Uint, 4), ir.Sint, 4))
	}
	ctx.Finish()
	return fn, nil
}

func (nativeI32) signExtend(o *Objects, name string, fromBits byte) (*ir.Function, error) {
	i32 := o.Module.Types.I32()
	return unaryFn(o, name, i32, i32, func(c *ir.BlockContext, a ir.ExprHandle) ir.ExprHandle {
		shift := c.AppendLiteral(ir.LiteralU32(uint32(32 - fromBits)))
		shifted := c.Binary(ir.BinShiftLeft, a, shift)
		return c.Binary(ir.BinShiftRight, shifted, shift)
	})
}

func opName(op wasmin.Opcode) string {
	names := map[wasmin.Opcode]string{
		wasmin.OpcodeI32Eq: "i32_eq", wasmin.OpcodeI32Ne: "i32_ne",
		wasmin.OpcodeI32LtS: "i32_lt_s", wasmin.OpcodeI32LtU: "i32_lt_u",
		wasmin.OpcodeI32GtS: "i32_gt_s", wasmin.OpcodeI32GtU: "i32_gt_u",
		wasmin.OpcodeI32LeS: "i32_le_s", wasmin.OpcodeI32LeU: "i32_le_u",
		wasmin.OpcodeI32GeS: "i32_ge_s", wasmin.OpcodeI32GeU: "i32_ge_u",
		wasmin.OpcodeI32ShrS: "i32_shr_s", wasmin.OpcodeI32ShrU: "i32_shr_u",
	}
	if n, ok := names[op]; ok {
		return n
	}
	return fmt.Sprintf("opcode(0x%02x)", byte(op))
}

func isUnsignedCompare(op wasmin.Opcode) bool {
	switch op {
	case wasmin.OpcodeI32LtU, wasmin.OpcodeI32GtU, wasmin.OpcodeI32LeU, wasmin.OpcodeI32GeU,
		wasmin.OpcodeI64LtU, wasmin.OpcodeI64GtU, wasmin.OpcodeI64LeU, wasmin.OpcodeI64GeU:
		return true
	default:
		return false
	}
}

func compareOpFor(op wasmin.Opcode) ir.BinaryOp {
	switch op {
	case wasmin.OpcodeI32Eq:
		return ir.BinEqual
	case wasmin.OpcodeI32Ne:
		return ir.BinNotEqual
	case wasmin.OpcodeI32LtS, wasmin.OpcodeI32LtU:
		return ir.BinLess
	case wasmin.OpcodeI32GtS, wasmin.OpcodeI32GtU:
		return ir.BinGreater
	case wasmin.OpcodeI32LeS, wasmin.OpcodeI32LeU:
		return ir.BinLessEqual
	case wasmin.OpcodeI32GeS, wasmin.OpcodeI32GeU:
		return ir.BinGreaterEqual
	default:
		return ir.BinEqual
	}
}

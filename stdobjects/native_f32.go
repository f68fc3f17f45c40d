package stdobjects

import (
	"github.com/LucentFlux/wasm-gpu-go/faults"
	"github.com/LucentFlux/wasm-gpu-go/ir"
	"github.com/LucentFlux/wasm-gpu-go/wasmin"
)

// nativeF32 implements f32 on the shader-IR's native single-precision
// float. Comparisons and arithmetic map to native IR operations, which are
// IEEE-754 on every host this core targets; the wasm-specific corners
// (min/max NaN propagation and signed zeros, sign-bit-exact neg/copysign)
// are built out of bit manipulation instead of trusting the host's fmin/
// fmax/fneg.
type nativeF32 struct{}

func (nativeF32) ValueType() wasmin.ValueType { return wasmin.ValueTypeF32 }

func (nativeF32) Type(o *Objects) (ir.TypeHandle, error) { return o.Module.Types.F32(), nil }

func (nativeF32) Default(o *Objects) (ir.ConstHandle, error) {
	ty := o.Module.Types.F32()
	return o.Module.Constants.Scalar(ty, ir.LiteralF32Bits(0)), nil
}

func (nativeF32) SizeBytes(o *Objects) (uint32, error) { return 4, nil }

func (nativeF32) FromWords(o *Objects, ctx *ir.BlockContext, words []ir.ExprHandle) (ir.ExprHandle, error) {
	return ctx.Bitcast(words[0], ir.Float, 4), nil
}

func (nativeF32) ToWords(o *Objects, ctx *ir.BlockContext, value ir.ExprHandle) ([]ir.ExprHandle, error) {
	return []ir.ExprHandle{ctx.Bitcast(value, ir.Uint, 4)}, nil
}

func (f nativeF32) Op(o *Objects, op wasmin.Opcode) (*ir.Function, error) {
	f32 := o.Module.Types.F32()
	i32 := o.Module.Types.I32()
	switch op {
	case wasmin.OpcodeF32Add:
		return binaryFn(o, "f32_add", f32, func(c *ir.BlockContext, a, b ir.ExprHandle) ir.ExprHandle { return c.Binary(ir.BinAdd, a, b) })
	case wasmin.OpcodeF32Sub:
		return binaryFn(o, "f32_sub", f32, func(c *ir.BlockContext, a, b ir.ExprHandle) ir.ExprHandle { return c.Binary(ir.BinSubtract, a, b) })
	case wasmin.OpcodeF32Mul:
		return binaryFn(o, "f32_mul", f32, func(c *ir.BlockContext, a, b ir.ExprHandle) ir.ExprHandle { return c.Binary(ir.BinMultiply, a, b) })
	case wasmin.OpcodeF32Div:
		return binaryFn(o, "f32_div", f32, func(c *ir.BlockContext, a, b ir.ExprHandle) ir.ExprHandle { return c.Binary(ir.BinDivide, a, b) })
	case wasmin.OpcodeF32Abs:
		return unaryFn(o, "f32_abs", f32, f32, func(c *ir.BlockContext, a ir.ExprHandle) ir.ExprHandle {
			bits := c.Bitcast(a, ir.Uint, 4)
			mask := c.AppendLiteral(ir.LiteralU32(0x7fffffff))
			return c.Bitcast(c.Binary(ir.BinAnd, bits, mask), ir.Float, 4)
		})
	case wasmin.OpcodeF32Neg:
		return unaryFn(o, "f32_neg", f32, f32, func(c *ir.BlockContext, a ir.ExprHandle) ir.ExprHandle {
			bits := c.Bitcast(a, ir.Uint, 4)
			sign := c.AppendLiteral(ir.LiteralU32(0x80000000))
			return c.Bitcast(c.Binary(ir.BinExclusiveOr, bits, sign), ir.Float, 4)
		})
	case wasmin.OpcodeF32Copysign:
		return binaryFn(o, "f32_copysign", f32, func(c *ir.BlockContext, a, b ir.ExprHandle) ir.ExprHandle {
			abits := c.Bitcast(a, ir.Uint, 4)
			bbits := c.Bitcast(b, ir.Uint, 4)
			mag := c.AppendLiteral(ir.LiteralU32(0x7fffffff))
			sign := c.AppendLiteral(ir.LiteralU32(0x80000000))
			merged := c.Binary(ir.BinOr,
				c.Binary(ir.BinAnd, abits, mag),
				c.Binary(ir.BinAnd, bbits, sign))
			return c.Bitcast(merged, ir.Float, 4)
		})
	case wasmin.OpcodeF32Ceil:
		return unaryFn(o, "f32_ceil", f32, f32, func(c *ir.BlockContext, a ir.ExprHandle) ir.ExprHandle { return c.Math(ir.MathCeil, a) })
	case wasmin.OpcodeF32Floor:
		return unaryFn(o, "f32_floor", f32, f32, func(c *ir.BlockContext, a ir.ExprHandle) ir.ExprHandle { return c.Math(ir.MathFloor, a) })
	case wasmin.OpcodeF32Trunc:
		return unaryFn(o, "f32_trunc", f32, f32, func(c *ir.BlockContext, a ir.ExprHandle) ir.ExprHandle { return c.Math(ir.MathTrunc, a) })
	case wasmin.OpcodeF32Nearest:
		return unaryFn(o, "f32_nearest", f32, f32, func(c *ir.BlockContext, a ir.ExprHandle) ir.ExprHandle { return c.Math(ir.MathRound, a) })
	case wasmin.OpcodeF32Sqrt:
		return unaryFn(o, "f32_sqrt", f32, f32, func(c *ir.BlockContext, a ir.ExprHandle) ir.ExprHandle { return c.Math(ir.MathSqrt, a) })
	case wasmin.OpcodeF32Min:
		return f.minMax(o, "f32_min", true)
	case wasmin.OpcodeF32Max:
		return f.minMax(o, "f32_max", false)
	case wasmin.OpcodeF32Eq, wasmin.OpcodeF32Ne, wasmin.OpcodeF32Lt,
		wasmin.OpcodeF32Gt, wasmin.OpcodeF32Le, wasmin.OpcodeF32Ge:
		return binaryFnResult(o, f32CompareName(op), f32, i32, func(c *ir.BlockContext, a, b ir.ExprHandle) ir.ExprHandle {
			return boolToI32(c, i32, c.Binary(f32CompareOp(op), a, b))
		})
	case wasmin.OpcodeF32ReinterpretI32:
		return unaryFn(o, "f32_reinterpret_i32", i32, f32, func(c *ir.BlockContext, a ir.ExprHandle) ir.ExprHandle {
			return c.Bitcast(a, ir.Float, 4)
		})
	case wasmin.OpcodeF32ConvertI32S:
		return unaryFn(o, "f32_convert_i32_s", i32, f32, func(c *ir.BlockContext, a ir.ExprHandle) ir.ExprHandle {
			return c.As(a, ir.Float, 4)
		})
	case wasmin.OpcodeF32ConvertI32U:
		return unaryFn(o, "f32_convert_i32_u", i32, f32, func(c *ir.BlockContext, a ir.ExprHandle) ir.ExprHandle {
			return c.As(c.As(a, ir.Uint, 4), ir.Float, 4)
		})
	case wasmin.OpcodeF32ConvertI64S, wasmin.OpcodeF32ConvertI64U:
		return f.convertI64(o, op)
	case wasmin.OpcodeF32DemoteF64:
		// Correct rounding from the two-word f64 representation needs the
		// full frexp-decomposition path; refusing is mandated over
		// miscompiling.
		return nil, faults.UnsupportedInstruction("f32.demote_f64")
	default:
		return nil, faults.UnsupportedInstruction(opName(op))
	}
}

// minMax implements wasm's f32.min/f32.max: NaN in either operand yields
// NaN, and the zeros order -0 < +0 (so min(+0,-0) = -0, max(-0,+0) = +0),
// neither of which the host's fmin/fmax promises.
func (nativeF32) minMax(o *Objects, name string, isMin bool) (*ir.Function, error) {
	f32 := o.Module.Types.F32()
	fn, ctx := addFunction(o, name, []ir.TypeHandle{f32, f32}, f32)
	a := ctx.AppendArgument(0)
	b := ctx.AppendArgument(1)

	aNaN := ctx.Binary(ir.BinNotEqual, a, a)
	bNaN := ctx.Binary(ir.BinNotEqual, b, b)

	// Zero pair: pick by sign bit. For min the one with the sign bit set
	// wins; for max the one with it clear.
	abits := ctx.Bitcast(a, ir.Uint, 4)
	bbits := ctx.Bitcast(b, ir.Uint, 4)
	one := ctx.AppendLiteral(ir.LiteralU32(1))
	zeroLit := ctx.AppendLiteral(ir.LiteralU32(0))
	aZero := ctx.Binary(ir.BinEqual, ctx.Binary(ir.BinShiftLeft, abits, one), zeroLit)
	bZero := ctx.Binary(ir.BinEqual, ctx.Binary(ir.BinShiftLeft, bbits, one), zeroLit)
	bothZero := ctx.Binary(ir.BinLogicalAnd, aZero, bZero)
	var zeroPick ir.ExprHandle
	if isMin {
		zeroPick = ctx.Bitcast(ctx.Binary(ir.BinOr, abits, bbits), ir.Float, 4)
	} else {
		zeroPick = ctx.Bitcast(ctx.Binary(ir.BinAnd, abits, bbits), ir.Float, 4)
	}

	mathFn := ir.MathMax
	if isMin {
		mathFn = ir.MathMin
	}
	plain := ctx.Math(mathFn, a, b)

	merged := ctx.Select(bothZero, zeroPick, plain)
	withB := ctx.Select(bNaN, b, merged)
	ctx.Return(ctx.Select(aNaN, a, withB))
	ctx.Finish()
	return fn, nil
}

// convertI64 builds f32.convert_i64_s/u from the two-word i64 polyfill
// value: f32(high) * 2^32 + f32(low), with the signed variant negating a
// two's-complement-negative input first. The double rounding this implies
// stays within f32's own rounding guarantees because 2^32 is exact in f32.
func (nativeF32) convertI64(o *Objects, op wasmin.Opcode) (*ir.Function, error) {
	signed := op == wasmin.OpcodeF32ConvertI64S
	name := "f32_convert_i64_u"
	if signed {
		name = "f32_convert_i64_s"
	}
	f32 := o.Module.Types.F32()
	i64ty, err := o.Ty(wasmin.ValueTypeI64)
	if err != nil {
		return nil, err
	}
	fn, ctx := addFunction(o, name, []ir.TypeHandle{i64ty}, f32)
	v := ctx.AppendArgument(0)
	lo := ctx.AccessIndex(v, 0)
	hi := ctx.AccessIndex(v, 1)

	if signed {
		// abs(v) in two words, remembering the sign for the final negate.
		sign := ctx.AppendLiteral(ir.LiteralU32(31))
		neg := ctx.Binary(ir.BinNotEqual, ctx.Binary(ir.BinShiftRight, hi, sign), ctx.AppendLiteral(ir.LiteralU32(0)))
		notLo := ctx.Unary(ir.UnaryNot, lo)
		notHi := ctx.Unary(ir.UnaryNot, hi)
		one := ctx.AppendLiteral(ir.LiteralU32(1))
		zero := ctx.AppendLiteral(ir.LiteralU32(0))
		negLo := ctx.Binary(ir.BinAdd, notLo, one)
		carry := ctx.Select(ctx.Binary(ir.BinEqual, negLo, zero), one, zero)
		negHi := ctx.Binary(ir.BinAdd, notHi, carry)
		lo = ctx.Select(neg, negLo, lo)
		hi = ctx.Select(neg, negHi, hi)

		scale := ctx.AppendLiteral(ir.LiteralF32Bits(0x4f800000)) // 2^32
		mag := ctx.Binary(ir.BinAdd,
			ctx.Binary(ir.BinMultiply, ctx.As(hi, ir.Float, 4), scale),
			ctx.As(lo, ir.Float, 4))
		negMag := ctx.Unary(ir.UnaryNegate, mag)
		ctx.Return(ctx.Select(neg, negMag, mag))
		ctx.Finish()
		return fn, nil
	}

	scale := ctx.AppendLiteral(ir.LiteralF32Bits(0x4f800000)) // 2^32
	ctx.Return(ctx.Binary(ir.BinAdd,
		ctx.Binary(ir.BinMultiply, ctx.As(hi, ir.Float, 4), scale),
		ctx.As(lo, ir.Float, 4)))
	ctx.Finish()
	return fn, nil
}

func f32CompareName(op wasmin.Opcode) string {
	switch op {
	case wasmin.OpcodeF32Eq:
		return "f32_eq"
	case wasmin.OpcodeF32Ne:
		return "f32_ne"
	case wasmin.OpcodeF32Lt:
		return "f32_lt"
	case wasmin.OpcodeF32Gt:
		return "f32_gt"
	case wasmin.OpcodeF32Le:
		return "f32_le"
	default:
		return "f32_ge"
	}
}

func f32CompareOp(op wasmin.Opcode) ir.BinaryOp {
	switch op {
	case wasmin.OpcodeF32Eq:
		return ir.BinEqual
	case wasmin.OpcodeF32Ne:
		return ir.BinNotEqual
	case wasmin.OpcodeF32Lt:
		return ir.BinLess
	case wasmin.OpcodeF32Gt:
		return ir.BinGreater
	case wasmin.OpcodeF32Le:
		return ir.BinLessEqual
	default:
		return ir.BinGreaterEqual
	}
}

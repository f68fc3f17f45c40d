package stdobjects

import (
	"fmt"

	"github.com/LucentFlux/wasm-gpu-go/faults"
	"github.com/LucentFlux/wasm-gpu-go/ir"
	"github.com/LucentFlux/wasm-gpu-go/wasmin"
)

// Saturating float-to-int conversions (the misc-prefix proposal): the same
// conversions as the trapping forms, except NaN becomes 0 and out-of-range
// values clamp to the integer type's bounds. The f64-sourced variants need
// the f64 arithmetic path and are refused like the rest of that long tail.

func (nativeI32) MiscOp(o *Objects, m wasmin.MiscOpcode) (*ir.Function, error) {
	switch m {
	case wasmin.OpcodeMiscI32TruncSatF32S:
		return i32TruncSatF32(o, "i32_trunc_sat_f32_s", true)
	case wasmin.OpcodeMiscI32TruncSatF32U:
		return i32TruncSatF32(o, "i32_trunc_sat_f32_u", false)
	case wasmin.OpcodeMiscI32TruncSatF64S, wasmin.OpcodeMiscI32TruncSatF64U:
		return nil, faults.UnsupportedInstruction(fmt.Sprintf("i32 trunc_sat from f64 (misc 0x%02x)", byte(m)))
	default:
		return nil, faults.UnsupportedInstruction(fmt.Sprintf("i32 misc opcode(0x%02x)", byte(m)))
	}
}

func (polyfillI64) MiscOp(o *Objects, m wasmin.MiscOpcode) (*ir.Function, error) {
	switch m {
	case wasmin.OpcodeMiscI64TruncSatF32S:
		return i64TruncSatF32(o, "i64_trunc_sat_f32_s", true)
	case wasmin.OpcodeMiscI64TruncSatF32U:
		return i64TruncSatF32(o, "i64_trunc_sat_f32_u", false)
	case wasmin.OpcodeMiscI64TruncSatF64S, wasmin.OpcodeMiscI64TruncSatF64U:
		return nil, faults.UnsupportedInstruction(fmt.Sprintf("i64 trunc_sat from f64 (misc 0x%02x)", byte(m)))
	default:
		return nil, faults.UnsupportedInstruction(fmt.Sprintf("i64 misc opcode(0x%02x)", byte(m)))
	}
}

func i32TruncSatF32(o *Objects, name string, signed bool) (*ir.Function, error) {
	i32 := o.Module.Types.I32()
	f32 := o.Module.Types.F32()
	fn, ctx := addFunction(o, name, []ir.TypeHandle{f32}, i32)
	a := ctx.AppendArgument(0)
	isNaN := ctx.Binary(ir.BinNotEqual, a, a)
	zeroI := ctx.AppendLiteral(ir.LiteralI32(0))

	if signed {
		hiF := ctx.AppendLiteral(ir.LiteralF32Bits(0x4f000000)) // 2^31
		loF := ctx.AppendLiteral(ir.LiteralF32Bits(0xcf000000)) // -2^31
		maxI := ctx.AppendLiteral(ir.LiteralI32(2147483647))
		minI := ctx.AppendLiteral(ir.LiteralI32(-2147483648))
		inRange := ctx.As(a, ir.Sint, 4)
		clampedLow := ctx.Select(ctx.Binary(ir.BinLessEqual, a, loF), minI, inRange)
		clampedHigh := ctx.Select(ctx.Binary(ir.BinGreaterEqual, a, hiF), maxI, clampedLow)
		ctx.Return(ctx.Select(isNaN, zeroI, clampedHigh))
	} else {
		hiF := ctx.AppendLiteral(ir.LiteralF32Bits(0x4f800000)) // 2^32
		zeroF := ctx.AppendLiteral(ir.LiteralF32Bits(0))
		maxU := ctx.AppendLiteral(ir.LiteralU32(0xffffffff))
		nonNeg := ctx.Select(ctx.Binary(ir.BinLess, a, zeroF), zeroF, a)
		inRange := ctx.As(nonNeg, ir.Uint, 4)
		clamped := ctx.Select(ctx.Binary(ir.BinGreaterEqual, a, hiF), maxU, inRange)
		ctx.Return(ctx.Select(isNaN, zeroI, ctx.Bitcast(clamped, ir.Sint, 4)))
	}
	ctx.Finish()
	return fn, nil
}

// i64SplitMagnitude decomposes a non-negative, in-range, truncated f32 into
// its (low, high) u32 words: the high word is exact because any f32 at or
// above 2^32 carries no bits below its 8-bit-wide ulp, let alone below 2^32.
func i64SplitMagnitude(ctx *ir.BlockContext, mag ir.ExprHandle) (lo, hi ir.ExprHandle) {
	scaleDown := ctx.AppendLiteral(ir.LiteralF32Bits(0x2f800000)) // 2^-32
	scaleUp := ctx.AppendLiteral(ir.LiteralF32Bits(0x4f800000))   // 2^32
	hiF := ctx.Math(ir.MathTrunc, ctx.Binary(ir.BinMultiply, mag, scaleDown))
	loF := ctx.Binary(ir.BinSubtract, mag, ctx.Binary(ir.BinMultiply, hiF, scaleUp))
	return ctx.As(loF, ir.Uint, 4), ctx.As(hiF, ir.Uint, 4)
}

func i64TruncSatF32(o *Objects, name string, signed bool) (*ir.Function, error) {
	i64, err := o.Ty(wasmin.ValueTypeI64)
	if err != nil {
		return nil, err
	}
	f32 := o.Module.Types.F32()
	fn, ctx := addFunction(o, name, []ir.TypeHandle{f32}, i64)
	a := ctx.AppendArgument(0)
	isNaN := ctx.Binary(ir.BinNotEqual, a, a)
	zeroU := ctx.AppendLiteral(ir.LiteralU32(0))

	mag := ctx.Math(ir.MathTrunc, ctx.Math(ir.MathAbs, a))
	lo, hi := i64SplitMagnitude(ctx, mag)

	if signed {
		hiF := ctx.AppendLiteral(ir.LiteralF32Bits(0x5f000000)) // 2^63
		loF := ctx.AppendLiteral(ir.LiteralF32Bits(0xdf000000)) // -2^63
		zeroF := ctx.AppendLiteral(ir.LiteralF32Bits(0))
		neg := ctx.Binary(ir.BinLess, a, zeroF)
		negLo, negHi := i64NegParts(ctx, lo, hi)
		vLo := ctx.Select(neg, negLo, lo)
		vHi := ctx.Select(neg, negHi, hi)

		maxLo := ctx.AppendLiteral(ir.LiteralU32(0xffffffff))
		maxHi := ctx.AppendLiteral(ir.LiteralU32(0x7fffffff))
		minHi := ctx.AppendLiteral(ir.LiteralU32(0x80000000))
		over := ctx.Binary(ir.BinGreaterEqual, a, hiF)
		under := ctx.Binary(ir.BinLessEqual, a, loF)
		outLo := ctx.Select(isNaN, zeroU, ctx.Select(over, maxLo, ctx.Select(under, zeroU, vLo)))
		outHi := ctx.Select(isNaN, zeroU, ctx.Select(over, maxHi, ctx.Select(under, minHi, vHi)))
		ctx.Return(i64pack(o, ctx, outLo, outHi))
	} else {
		hiF := ctx.AppendLiteral(ir.LiteralF32Bits(0x5f800000)) // 2^64
		zeroF := ctx.AppendLiteral(ir.LiteralF32Bits(0))
		neg := ctx.Binary(ir.BinLess, a, zeroF)
		maxW := ctx.AppendLiteral(ir.LiteralU32(0xffffffff))
		over := ctx.Binary(ir.BinGreaterEqual, a, hiF)
		outLo := ctx.Select(isNaN, zeroU, ctx.Select(over, maxW, ctx.Select(neg, zeroU, lo)))
		outHi := ctx.Select(isNaN, zeroU, ctx.Select(over, maxW, ctx.Select(neg, zeroU, hi)))
		ctx.Return(i64pack(o, ctx, outLo, outHi))
	}
	ctx.Finish()
	return fn, nil
}

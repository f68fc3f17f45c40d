package stdobjects

import (
	"github.com/LucentFlux/wasm-gpu-go/faults"
	"github.com/LucentFlux/wasm-gpu-go/ir"
	"github.com/LucentFlux/wasm-gpu-go/wasmin"
)

// polyfillF64 carries f64 as a uvec2 of its IEEE-754 bits: lane 0 the low
// word, lane 1 the high word (sign, 11 exponent bits, upper 20 mantissa
// bits). Operations that are pure bit manipulation (abs/neg/copysign), the
// comparisons, and the conversions whose results are exactly representable
// (promote_f32, convert_i32_*) are implemented faithfully; the rounding
// arithmetic long tail (add/mul/div/sqrt/...) returns
// faults.UnsupportedInstruction per the f64 polyfill contract rather than
// miscompiling.
type polyfillF64 struct{}

func (polyfillF64) ValueType() wasmin.ValueType { return wasmin.ValueTypeF64 }

func (polyfillF64) Type(o *Objects) (ir.TypeHandle, error) { return o.Module.Types.UVec2(), nil }

func (polyfillF64) Default(o *Objects) (ir.ConstHandle, error) {
	u32 := o.Module.Types.U32()
	zero := o.Module.Constants.Scalar(u32, ir.LiteralU32(0))
	return o.Module.Constants.Composite(o.Module.Types.UVec2(), []ir.ConstHandle{zero, zero}), nil
}

func (polyfillF64) SizeBytes(o *Objects) (uint32, error) { return 8, nil }

func (polyfillF64) FromWords(o *Objects, ctx *ir.BlockContext, words []ir.ExprHandle) (ir.ExprHandle, error) {
	return ctx.Compose(o.Module.Types.UVec2(), []ir.ExprHandle{words[0], words[1]}), nil
}

func (polyfillF64) ToWords(o *Objects, ctx *ir.BlockContext, value ir.ExprHandle) ([]ir.ExprHandle, error) {
	return []ir.ExprHandle{ctx.AccessIndex(value, 0), ctx.AccessIndex(value, 1)}, nil
}

// f64IsNaN appends the bool test for NaN: all-ones exponent with a nonzero
// mantissa.
func f64IsNaN(c *ir.BlockContext, lo, hi ir.ExprHandle) ir.ExprHandle {
	expMask := c.AppendLiteral(ir.LiteralU32(0x7ff00000))
	manMask := c.AppendLiteral(ir.LiteralU32(0x000fffff))
	zero := c.AppendLiteral(ir.LiteralU32(0))
	expAll := c.Binary(ir.BinEqual, c.Binary(ir.BinAnd, hi, expMask), expMask)
	manNonzero := c.Binary(ir.BinNotEqual,
		c.Binary(ir.BinOr, c.Binary(ir.BinAnd, hi, manMask), lo), zero)
	return c.Binary(ir.BinLogicalAnd, expAll, manNonzero)
}

// f64IsZero appends the bool test matching both +0 and -0.
func f64IsZero(c *ir.BlockContext, lo, hi ir.ExprHandle) ir.ExprHandle {
	magMask := c.AppendLiteral(ir.LiteralU32(0x7fffffff))
	zero := c.AppendLiteral(ir.LiteralU32(0))
	return c.Binary(ir.BinEqual, c.Binary(ir.BinOr, c.Binary(ir.BinAnd, hi, magMask), lo), zero)
}

func (p polyfillF64) Op(o *Objects, op wasmin.Opcode) (*ir.Function, error) {
	f64, err := o.Ty(wasmin.ValueTypeF64)
	if err != nil {
		return nil, err
	}
	i32 := o.Module.Types.I32()
	switch op {
	case wasmin.OpcodeF64Abs:
		return unaryFn(o, "f64_abs", f64, f64, func(c *ir.BlockContext, a ir.ExprHandle) ir.ExprHandle {
			mag := c.AppendLiteral(ir.LiteralU32(0x7fffffff))
			return i64pack(o, c, i64lo(c, a), c.Binary(ir.BinAnd, i64hi(c, a), mag))
		})
	case wasmin.OpcodeF64Neg:
		return unaryFn(o, "f64_neg", f64, f64, func(c *ir.BlockContext, a ir.ExprHandle) ir.ExprHandle {
			sign := c.AppendLiteral(ir.LiteralU32(0x80000000))
			return i64pack(o, c, i64lo(c, a), c.Binary(ir.BinExclusiveOr, i64hi(c, a), sign))
		})
	case wasmin.OpcodeF64Copysign:
		return binaryFn(o, "f64_copysign", f64, func(c *ir.BlockContext, a, b ir.ExprHandle) ir.ExprHandle {
			mag := c.AppendLiteral(ir.LiteralU32(0x7fffffff))
			sign := c.AppendLiteral(ir.LiteralU32(0x80000000))
			hi := c.Binary(ir.BinOr,
				c.Binary(ir.BinAnd, i64hi(c, a), mag),
				c.Binary(ir.BinAnd, i64hi(c, b), sign))
			return i64pack(o, c, i64lo(c, a), hi)
		})
	case wasmin.OpcodeF64Eq, wasmin.OpcodeF64Ne, wasmin.OpcodeF64Lt,
		wasmin.OpcodeF64Gt, wasmin.OpcodeF64Le, wasmin.OpcodeF64Ge:
		return p.compare(o, f64, i32, op)
	case wasmin.OpcodeF64PromoteF32:
		return p.promoteF32(o, f64)
	case wasmin.OpcodeF64ConvertI32S:
		return p.convertI32(o, f64, "f64_convert_i32_s", true)
	case wasmin.OpcodeF64ConvertI32U:
		return p.convertI32(o, f64, "f64_convert_i32_u", false)
	case wasmin.OpcodeF64ReinterpretI64:
		i64ty, err := o.Ty(wasmin.ValueTypeI64)
		if err != nil {
			return nil, err
		}
		return unaryFn(o, "f64_reinterpret_i64", i64ty, f64, func(c *ir.BlockContext, a ir.ExprHandle) ir.ExprHandle {
			return i64pack(o, c, i64lo(c, a), i64hi(c, a))
		})
	default:
		return nil, faults.UnsupportedInstruction(f64OpName(op))
	}
}

// compare orders the two bit patterns as sign-magnitude numbers: NaN makes
// every comparison except ne false, the two zeros compare equal, negative
// values order by reversed unsigned comparison of their magnitudes.
func (polyfillF64) compare(o *Objects, f64, i32 ir.TypeHandle, op wasmin.Opcode) (*ir.Function, error) {
	return binaryFnResult(o, f64OpName(op), f64, i32, func(c *ir.BlockContext, a, b ir.ExprHandle) ir.ExprHandle {
		alo, ahi := i64lo(c, a), i64hi(c, a)
		blo, bhi := i64lo(c, b), i64hi(c, b)
		anyNaN := c.Binary(ir.BinLogicalOr, f64IsNaN(c, alo, ahi), f64IsNaN(c, blo, bhi))
		bothZero := c.Binary(ir.BinLogicalAnd, f64IsZero(c, alo, ahi), f64IsZero(c, blo, bhi))
		bitsEq := c.Binary(ir.BinLogicalAnd,
			c.Binary(ir.BinEqual, alo, blo),
			c.Binary(ir.BinEqual, ahi, bhi))
		eq := c.Binary(ir.BinLogicalOr, bothZero, bitsEq)
		falseLit := c.AppendLiteral(ir.LiteralBool(false))
		trueLit := c.AppendLiteral(ir.LiteralBool(true))

		switch op {
		case wasmin.OpcodeF64Eq:
			return boolToI32(c, i32, c.Select(anyNaN, falseLit, eq))
		case wasmin.OpcodeF64Ne:
			notEq := c.Binary(ir.BinEqual, eq, falseLit)
			return boolToI32(c, i32, c.Select(anyNaN, trueLit, notEq))
		}

		// a < b on sign-magnitude bit patterns.
		thirtyOne := c.AppendLiteral(ir.LiteralU32(31))
		zero := c.AppendLiteral(ir.LiteralU32(0))
		aNeg := c.Binary(ir.BinNotEqual, c.Binary(ir.BinShiftRight, ahi, thirtyOne), zero)
		bNeg := c.Binary(ir.BinNotEqual, c.Binary(ir.BinShiftRight, bhi, thirtyOne), zero)
		magLtAB := c.Binary(ir.BinEqual, i64GeUParts(c, alo, ahi, blo, bhi), falseLit)
		magLtBA := c.Binary(ir.BinEqual, i64GeUParts(c, blo, bhi, alo, ahi), falseLit)

		notBothZero := c.Binary(ir.BinEqual, bothZero, falseLit)
		mixedLt := c.Binary(ir.BinLogicalAnd, aNeg, c.Binary(ir.BinLogicalAnd, c.Binary(ir.BinEqual, bNeg, falseLit), notBothZero))
		bothPosLt := c.Binary(ir.BinLogicalAnd,
			c.Binary(ir.BinEqual, aNeg, falseLit),
			c.Binary(ir.BinLogicalAnd, c.Binary(ir.BinEqual, bNeg, falseLit), magLtAB))
		bothNegLt := c.Binary(ir.BinLogicalAnd, aNeg, c.Binary(ir.BinLogicalAnd, bNeg, magLtBA))
		lt := c.Binary(ir.BinLogicalOr, mixedLt, c.Binary(ir.BinLogicalOr, bothPosLt, bothNegLt))
		gt := c.Binary(ir.BinLogicalAnd,
			c.Binary(ir.BinEqual, lt, falseLit),
			c.Binary(ir.BinEqual, eq, falseLit))

		var result ir.ExprHandle
		switch op {
		case wasmin.OpcodeF64Lt:
			result = lt
		case wasmin.OpcodeF64Gt:
			result = gt
		case wasmin.OpcodeF64Le:
			result = c.Binary(ir.BinLogicalOr, lt, eq)
		default: // ge
			result = c.Binary(ir.BinLogicalOr, gt, eq)
		}
		return boolToI32(c, i32, c.Select(anyNaN, falseLit, result))
	})
}

// promoteF32 widens an f32 to the f64 bit pair. Every finite f32 is exactly
// representable as f64, so this is pure bit rearrangement: rebias the
// exponent, shift the mantissa up by 29, and renormalize f32 subnormals
// (which are all normal in f64).
func (polyfillF64) promoteF32(o *Objects, f64 ir.TypeHandle) (*ir.Function, error) {
	f32 := o.Module.Types.F32()
	fn, ctx := addFunction(o, "f64_promote_f32", []ir.TypeHandle{f32}, f64)
	a := ctx.AppendArgument(0)
	bits := ctx.Bitcast(a, ir.Uint, 4)

	thirtyOne := ctx.AppendLiteral(ir.LiteralU32(31))
	twentyThree := ctx.AppendLiteral(ir.LiteralU32(23))
	expMask := ctx.AppendLiteral(ir.LiteralU32(0xff))
	manMask := ctx.AppendLiteral(ir.LiteralU32(0x7fffff))
	zero := ctx.AppendLiteral(ir.LiteralU32(0))

	sign := ctx.Binary(ir.BinShiftRight, bits, thirtyOne)
	exp := ctx.Binary(ir.BinAnd, ctx.Binary(ir.BinShiftRight, bits, twentyThree), expMask)
	man := ctx.Binary(ir.BinAnd, bits, manMask)

	signHi := ctx.Binary(ir.BinShiftLeft, sign, thirtyOne)
	three := ctx.AppendLiteral(ir.LiteralU32(3))
	twentyNine := ctx.AppendLiteral(ir.LiteralU32(29))
	twenty := ctx.AppendLiteral(ir.LiteralU32(20))

	// Normal: E64 = e + (1023 - 127); mantissa moves up 29 bits.
	rebias := ctx.AppendLiteral(ir.LiteralU32(896))
	normExp := ctx.Binary(ir.BinAdd, exp, rebias)
	normHi := ctx.Binary(ir.BinOr, signHi, ctx.Binary(ir.BinOr,
		ctx.Binary(ir.BinShiftLeft, normExp, twenty),
		ctx.Binary(ir.BinShiftRight, man, three)))
	normLo := ctx.Binary(ir.BinShiftLeft, man, twentyNine)

	// Inf/NaN: all-ones f64 exponent, payload moved like the normal case.
	infExp := ctx.AppendLiteral(ir.LiteralU32(0x7ff))
	specHi := ctx.Binary(ir.BinOr, signHi, ctx.Binary(ir.BinOr,
		ctx.Binary(ir.BinShiftLeft, infExp, twenty),
		ctx.Binary(ir.BinShiftRight, man, three)))

	// Subnormal f32 (e == 0, m != 0): normalize. The top set bit of the
	// 23-bit mantissa is at position p; the value is 1.f * 2^(p-149), so
	// E64 = p + 874 and the mantissa is m shifted so bit p lands just
	// above the 52-bit field.
	clz := ctx.Math(ir.MathCountLeadingZeros, man)
	p := ctx.Binary(ir.BinSubtract, thirtyOne, clz)
	subExpBias := ctx.AppendLiteral(ir.LiteralU32(874))
	subExp := ctx.Binary(ir.BinAdd, p, subExpBias)
	fiftyTwo := ctx.AppendLiteral(ir.LiteralU32(52))
	k := ctx.Binary(ir.BinSubtract, fiftyTwo, p) // 30..52
	thirtyTwo := ctx.AppendLiteral(ir.LiteralU32(32))
	kSmall := ctx.Binary(ir.BinLess, k, thirtyTwo)
	kMask := ctx.Binary(ir.BinAnd, k, thirtyOne)
	invK := ctx.Binary(ir.BinAnd, ctx.Binary(ir.BinSubtract, thirtyTwo, k), thirtyOne)
	man52Mask := ctx.AppendLiteral(ir.LiteralU32(0xfffff))
	subHiMan := ctx.Select(kSmall,
		ctx.Binary(ir.BinShiftRight, man, invK),
		ctx.Binary(ir.BinShiftLeft, man, kMask))
	subLo := ctx.Select(kSmall, ctx.Binary(ir.BinShiftLeft, man, kMask), zero)
	subHi := ctx.Binary(ir.BinOr, signHi, ctx.Binary(ir.BinOr,
		ctx.Binary(ir.BinShiftLeft, subExp, twenty),
		ctx.Binary(ir.BinAnd, subHiMan, man52Mask)))

	zeroHi := signHi

	expZero := ctx.Binary(ir.BinEqual, exp, zero)
	manZero := ctx.Binary(ir.BinEqual, man, zero)
	expAll := ctx.Binary(ir.BinEqual, exp, expMask)

	hi := ctx.Select(expAll, specHi,
		ctx.Select(expZero, ctx.Select(manZero, zeroHi, subHi), normHi))
	lo := ctx.Select(expAll, normLo,
		ctx.Select(expZero, ctx.Select(manZero, zero, subLo), normLo))

	ctx.Return(i64pack(o, ctx, lo, hi))
	ctx.Finish()
	return fn, nil
}

// convertI32 builds f64.convert_i32_s/u: every i32 is exactly representable
// in f64, so the result is assembled from the magnitude's top bit position
// with no rounding path.
func (polyfillF64) convertI32(o *Objects, f64 ir.TypeHandle, name string, signed bool) (*ir.Function, error) {
	i32 := o.Module.Types.I32()
	fn, ctx := addFunction(o, name, []ir.TypeHandle{i32}, f64)
	a := ctx.AppendArgument(0)
	bits := ctx.Bitcast(a, ir.Uint, 4)

	zero := ctx.AppendLiteral(ir.LiteralU32(0))
	thirtyOne := ctx.AppendLiteral(ir.LiteralU32(31))

	var sign, mag ir.ExprHandle
	if signed {
		sign = ctx.Binary(ir.BinShiftRight, bits, thirtyOne)
		neg := ctx.Binary(ir.BinSubtract, zero, bits)
		mag = ctx.Select(ctx.Binary(ir.BinNotEqual, sign, zero), neg, bits)
	} else {
		sign = zero
		mag = bits
	}

	clz := ctx.Math(ir.MathCountLeadingZeros, mag)
	p := ctx.Binary(ir.BinSubtract, thirtyOne, clz)
	bias := ctx.AppendLiteral(ir.LiteralU32(1023))
	exp := ctx.Binary(ir.BinAdd, p, bias)

	fiftyTwo := ctx.AppendLiteral(ir.LiteralU32(52))
	thirtyTwo := ctx.AppendLiteral(ir.LiteralU32(32))
	k := ctx.Binary(ir.BinSubtract, fiftyTwo, p) // 21..52
	kSmall := ctx.Binary(ir.BinLess, k, thirtyTwo)
	kMask := ctx.Binary(ir.BinAnd, k, thirtyOne)
	invK := ctx.Binary(ir.BinAnd, ctx.Binary(ir.BinSubtract, thirtyTwo, k), thirtyOne)
	man52Mask := ctx.AppendLiteral(ir.LiteralU32(0xfffff))
	twenty := ctx.AppendLiteral(ir.LiteralU32(20))

	hiMan := ctx.Select(kSmall,
		ctx.Binary(ir.BinShiftRight, mag, invK),
		ctx.Binary(ir.BinShiftLeft, mag, kMask))
	lo := ctx.Select(kSmall, ctx.Binary(ir.BinShiftLeft, mag, kMask), zero)
	hi := ctx.Binary(ir.BinOr,
		ctx.Binary(ir.BinShiftLeft, sign, thirtyOne),
		ctx.Binary(ir.BinOr,
			ctx.Binary(ir.BinShiftLeft, exp, twenty),
			ctx.Binary(ir.BinAnd, hiMan, man52Mask)))

	isZero := ctx.Binary(ir.BinEqual, mag, zero)
	ctx.Return(i64pack(o, ctx,
		ctx.Select(isZero, zero, lo),
		ctx.Select(isZero, zero, hi)))
	ctx.Finish()
	return fn, nil
}

func f64OpName(op wasmin.Opcode) string {
	names := map[wasmin.Opcode]string{
		wasmin.OpcodeF64Eq: "f64_eq", wasmin.OpcodeF64Ne: "f64_ne",
		wasmin.OpcodeF64Lt: "f64_lt", wasmin.OpcodeF64Gt: "f64_gt",
		wasmin.OpcodeF64Le: "f64_le", wasmin.OpcodeF64Ge: "f64_ge",
		wasmin.OpcodeF64Add: "f64.add", wasmin.OpcodeF64Sub: "f64.sub",
		wasmin.OpcodeF64Mul: "f64.mul", wasmin.OpcodeF64Div: "f64.div",
		wasmin.OpcodeF64Min: "f64.min", wasmin.OpcodeF64Max: "f64.max",
		wasmin.OpcodeF64Sqrt: "f64.sqrt", wasmin.OpcodeF64Ceil: "f64.ceil",
		wasmin.OpcodeF64Floor: "f64.floor", wasmin.OpcodeF64Trunc: "f64.trunc",
		wasmin.OpcodeF64Nearest: "f64.nearest",
		wasmin.OpcodeF64ConvertI64S: "f64.convert_i64_s", wasmin.OpcodeF64ConvertI64U: "f64.convert_i64_u",
	}
	if n, ok := names[op]; ok {
		return n
	}
	return opName(op)
}

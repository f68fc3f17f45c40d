package stdobjects

import (
	"github.com/LucentFlux/wasm-gpu-go/faults"
	"github.com/LucentFlux/wasm-gpu-go/ir"
	"github.com/LucentFlux/wasm-gpu-go/wasmin"
)

// polyfillI64 implements i64 as a uvec2: lane 0 is the low word, lane 1 the
// high word (little-endian, matching the buffer layout). Arithmetic
// propagates carries between the words; comparisons are lexicographic by
// high word breaking ties on low, with signedness handled by flipping the
// high word's sign bit.
type polyfillI64 struct{}

func (polyfillI64) ValueType() wasmin.ValueType { return wasmin.ValueTypeI64 }

func (polyfillI64) Type(o *Objects) (ir.TypeHandle, error) { return o.Module.Types.UVec2(), nil }

func (polyfillI64) Default(o *Objects) (ir.ConstHandle, error) {
	u32 := o.Module.Types.U32()
	zero := o.Module.Constants.Scalar(u32, ir.LiteralU32(0))
	return o.Module.Constants.Composite(o.Module.Types.UVec2(), []ir.ConstHandle{zero, zero}), nil
}

func (polyfillI64) SizeBytes(o *Objects) (uint32, error) { return 8, nil }

func (polyfillI64) FromWords(o *Objects, ctx *ir.BlockContext, words []ir.ExprHandle) (ir.ExprHandle, error) {
	return ctx.Compose(o.Module.Types.UVec2(), []ir.ExprHandle{words[0], words[1]}), nil
}

func (polyfillI64) ToWords(o *Objects, ctx *ir.BlockContext, value ir.ExprHandle) ([]ir.ExprHandle, error) {
	return []ir.ExprHandle{ctx.AccessIndex(value, 0), ctx.AccessIndex(value, 1)}, nil
}

func i64lo(ctx *ir.BlockContext, v ir.ExprHandle) ir.ExprHandle { return ctx.AccessIndex(v, 0) }
func i64hi(ctx *ir.BlockContext, v ir.ExprHandle) ir.ExprHandle { return ctx.AccessIndex(v, 1) }

func i64pack(o *Objects, ctx *ir.BlockContext, lo, hi ir.ExprHandle) ir.ExprHandle {
	return ctx.Compose(o.Module.Types.UVec2(), []ir.ExprHandle{lo, hi})
}

// i64AddParts returns (lo, hi) of the two-word sum: the carry out of the low
// word is detected by the unsigned wrap-around test sum < a.
func i64AddParts(ctx *ir.BlockContext, alo, ahi, blo, bhi ir.ExprHandle) (ir.ExprHandle, ir.ExprHandle) {
	lo := ctx.Binary(ir.BinAdd, alo, blo)
	one := ctx.AppendLiteral(ir.LiteralU32(1))
	zero := ctx.AppendLiteral(ir.LiteralU32(0))
	carry := ctx.Select(ctx.Binary(ir.BinLess, lo, alo), one, zero)
	hi := ctx.Binary(ir.BinAdd, ctx.Binary(ir.BinAdd, ahi, bhi), carry)
	return lo, hi
}

// i64SubParts returns (lo, hi) of the two-word difference, borrowing from
// the high word when the low subtraction wraps.
func i64SubParts(ctx *ir.BlockContext, alo, ahi, blo, bhi ir.ExprHandle) (ir.ExprHandle, ir.ExprHandle) {
	lo := ctx.Binary(ir.BinSubtract, alo, blo)
	one := ctx.AppendLiteral(ir.LiteralU32(1))
	zero := ctx.AppendLiteral(ir.LiteralU32(0))
	borrow := ctx.Select(ctx.Binary(ir.BinLess, alo, blo), one, zero)
	hi := ctx.Binary(ir.BinSubtract, ctx.Binary(ir.BinSubtract, ahi, bhi), borrow)
	return lo, hi
}

// i64NegParts returns the two's-complement negation ~v + 1 in parts.
func i64NegParts(ctx *ir.BlockContext, lo, hi ir.ExprHandle) (ir.ExprHandle, ir.ExprHandle) {
	one := ctx.AppendLiteral(ir.LiteralU32(1))
	zero := ctx.AppendLiteral(ir.LiteralU32(0))
	nlo := ctx.Binary(ir.BinAdd, ctx.Unary(ir.UnaryNot, lo), one)
	carry := ctx.Select(ctx.Binary(ir.BinEqual, nlo, zero), one, zero)
	nhi := ctx.Binary(ir.BinAdd, ctx.Unary(ir.UnaryNot, hi), carry)
	return nlo, nhi
}

// i64GeUParts returns the bool expression a >= b over unsigned two-word
// values: lexicographic by high word, low word breaking ties.
func i64GeUParts(ctx *ir.BlockContext, alo, ahi, blo, bhi ir.ExprHandle) ir.ExprHandle {
	hiGt := ctx.Binary(ir.BinGreater, ahi, bhi)
	hiEq := ctx.Binary(ir.BinEqual, ahi, bhi)
	loGe := ctx.Binary(ir.BinGreaterEqual, alo, blo)
	return ctx.Binary(ir.BinLogicalOr, hiGt, ctx.Binary(ir.BinLogicalAnd, hiEq, loGe))
}

// i64IsNegative returns the bool expression testing the sign bit of hi.
func i64IsNegative(ctx *ir.BlockContext, hi ir.ExprHandle) ir.ExprHandle {
	shift := ctx.AppendLiteral(ir.LiteralU32(31))
	zero := ctx.AppendLiteral(ir.LiteralU32(0))
	return ctx.Binary(ir.BinNotEqual, ctx.Binary(ir.BinShiftRight, hi, shift), zero)
}

func (p polyfillI64) Op(o *Objects, op wasmin.Opcode) (*ir.Function, error) {
	i64, err := o.Ty(wasmin.ValueTypeI64)
	if err != nil {
		return nil, err
	}
	i32 := o.Module.Types.I32()
	switch op {
	case wasmin.OpcodeI64Add:
		return binaryFn(o, "i64_add", i64, func(c *ir.BlockContext, a, b ir.ExprHandle) ir.ExprHandle {
			lo, hi := i64AddParts(c, i64lo(c, a), i64hi(c, a), i64lo(c, b), i64hi(c, b))
			return i64pack(o, c, lo, hi)
		})
	case wasmin.OpcodeI64Sub:
		return binaryFn(o, "i64_sub", i64, func(c *ir.BlockContext, a, b ir.ExprHandle) ir.ExprHandle {
			lo, hi := i64SubParts(c, i64lo(c, a), i64hi(c, a), i64lo(c, b), i64hi(c, b))
			return i64pack(o, c, lo, hi)
		})
	case wasmin.OpcodeI64Mul:
		return p.mul(o, i64)
	case wasmin.OpcodeI64DivU:
		return p.divRemU(o, i64, "i64_div_u", false)
	case wasmin.OpcodeI64RemU:
		return p.divRemU(o, i64, "i64_rem_u", true)
	case wasmin.OpcodeI64DivS:
		return p.divRemS(o, i64, "i64_div_s", false)
	case wasmin.OpcodeI64RemS:
		return p.divRemS(o, i64, "i64_rem_s", true)
	case wasmin.OpcodeI64And:
		return p.bitwise(o, i64, "i64_and", ir.BinAnd)
	case wasmin.OpcodeI64Or:
		return p.bitwise(o, i64, "i64_or", ir.BinOr)
	case wasmin.OpcodeI64Xor:
		return p.bitwise(o, i64, "i64_xor", ir.BinExclusiveOr)
	case wasmin.OpcodeI64Shl:
		return p.shift(o, i64, "i64_shl", shiftLeft)
	case wasmin.OpcodeI64ShrU:
		return p.shift(o, i64, "i64_shr_u", shiftRightLogical)
	case wasmin.OpcodeI64ShrS:
		return p.shift(o, i64, "i64_shr_s", shiftRightArithmetic)
	case wasmin.OpcodeI64Rotl:
		return p.rotate(o, i64, "i64_rotl", true)
	case wasmin.OpcodeI64Rotr:
		return p.rotate(o, i64, "i64_rotr", false)
	case wasmin.OpcodeI64Eqz:
		return unaryFn(o, "i64_eqz", i64, i32, func(c *ir.BlockContext, a ir.ExprHandle) ir.ExprHandle {
			bits := c.Binary(ir.BinOr, i64lo(c, a), i64hi(c, a))
			zero := c.AppendLiteral(ir.LiteralU32(0))
			return boolToI32(c, i32, c.Binary(ir.BinEqual, bits, zero))
		})
	case wasmin.OpcodeI64Eq, wasmin.OpcodeI64Ne, wasmin.OpcodeI64LtS, wasmin.OpcodeI64LtU,
		wasmin.OpcodeI64GtS, wasmin.OpcodeI64GtU, wasmin.OpcodeI64LeS, wasmin.OpcodeI64LeU,
		wasmin.OpcodeI64GeS, wasmin.OpcodeI64GeU:
		return p.compare(o, i64, i32, op)
	case wasmin.OpcodeI64Clz:
		return unaryFn(o, "i64_clz", i64, i64, func(c *ir.BlockContext, a ir.ExprHandle) ir.ExprHandle {
			lo, hi := i64lo(c, a), i64hi(c, a)
			zero := c.AppendLiteral(ir.LiteralU32(0))
			t32 := c.AppendLiteral(ir.LiteralU32(32))
			hiZero := c.Binary(ir.BinEqual, hi, zero)
			fromHi := c.Math(ir.MathCountLeadingZeros, hi)
			fromLo := c.Binary(ir.BinAdd, t32, c.Math(ir.MathCountLeadingZeros, lo))
			return i64pack(o, c, c.Select(hiZero, fromLo, fromHi), zero)
		})
	case wasmin.OpcodeI64Ctz:
		return unaryFn(o, "i64_ctz", i64, i64, func(c *ir.BlockContext, a ir.ExprHandle) ir.ExprHandle {
			lo, hi := i64lo(c, a), i64hi(c, a)
			zero := c.AppendLiteral(ir.LiteralU32(0))
			t32 := c.AppendLiteral(ir.LiteralU32(32))
			loZero := c.Binary(ir.BinEqual, lo, zero)
			fromLo := c.Math(ir.MathCountTrailingZeros, lo)
			fromHi := c.Binary(ir.BinAdd, t32, c.Math(ir.MathCountTrailingZeros, hi))
			return i64pack(o, c, c.Select(loZero, fromHi, fromLo), zero)
		})
	case wasmin.OpcodeI64Popcnt:
		return unaryFn(o, "i64_popcnt", i64, i64, func(c *ir.BlockContext, a ir.ExprHandle) ir.ExprHandle {
			count := c.Binary(ir.BinAdd,
				c.Math(ir.MathCountOneBits, i64lo(c, a)),
				c.Math(ir.MathCountOneBits, i64hi(c, a)))
			zero := c.AppendLiteral(ir.LiteralU32(0))
			return i64pack(o, c, count, zero)
		})
	case wasmin.OpcodeI64ExtendI32S:
		return unaryFn(o, "i64_extend_i32_s", i32, i64, func(c *ir.BlockContext, a ir.ExprHandle) ir.ExprHandle {
			shift := c.AppendLiteral(ir.LiteralU32(31))
			fill := c.Binary(ir.BinShiftRight, a, shift) // arithmetic on sint
			return i64pack(o, c, c.Bitcast(a, ir.Uint, 4), c.Bitcast(fill, ir.Uint, 4))
		})
	case wasmin.OpcodeI64ExtendI32U:
		return unaryFn(o, "i64_extend_i32_u", i32, i64, func(c *ir.BlockContext, a ir.ExprHandle) ir.ExprHandle {
			zero := c.AppendLiteral(ir.LiteralU32(0))
			return i64pack(o, c, c.Bitcast(a, ir.Uint, 4), zero)
		})
	case wasmin.OpcodeI64Extend8S:
		return p.signExtendNarrow(o, i64, "i64_extend8_s", 8)
	case wasmin.OpcodeI64Extend16S:
		return p.signExtendNarrow(o, i64, "i64_extend16_s", 16)
	case wasmin.OpcodeI64Extend32S:
		return unaryFn(o, "i64_extend32_s", i64, i64, func(c *ir.BlockContext, a ir.ExprHandle) ir.ExprHandle {
			lo := i64lo(c, a)
			shift := c.AppendLiteral(ir.LiteralU32(31))
			fill := c.Bitcast(c.Binary(ir.BinShiftRight, c.Bitcast(lo, ir.Sint, 4), shift), ir.Uint, 4)
			return i64pack(o, c, lo, fill)
		})
	case wasmin.OpcodeI64ReinterpretF64:
		f64ty, err := o.Ty(wasmin.ValueTypeF64)
		if err != nil {
			return nil, err
		}
		// Both representations are the same uvec2 word pair, so the
		// reinterpret is the identity on the payload.
		return unaryFn(o, "i64_reinterpret_f64", f64ty, i64, func(c *ir.BlockContext, a ir.ExprHandle) ir.ExprHandle {
			return i64pack(o, c, i64lo(c, a), i64hi(c, a))
		})
	case wasmin.OpcodeI64TruncF32S:
		return p.truncF32(o, i64, "i64_trunc_f32_s", true)
	case wasmin.OpcodeI64TruncF32U:
		return p.truncF32(o, i64, "i64_trunc_f32_u", false)
	case wasmin.OpcodeI64TruncF64S, wasmin.OpcodeI64TruncF64U:
		// Needs the f64 frexp decomposition; refuse rather than miscompile.
		return nil, faults.UnsupportedInstruction(i64OpName(op))
	default:
		return nil, faults.UnsupportedInstruction(i64OpName(op))
	}
}

func (polyfillI64) bitwise(o *Objects, i64 ir.TypeHandle, name string, bop ir.BinaryOp) (*ir.Function, error) {
	return binaryFn(o, name, i64, func(c *ir.BlockContext, a, b ir.ExprHandle) ir.ExprHandle {
		lo := c.Binary(bop, i64lo(c, a), i64lo(c, b))
		hi := c.Binary(bop, i64hi(c, a), i64hi(c, b))
		return i64pack(o, c, lo, hi)
	})
}

// mul computes the low 64 bits of the 64x64 product: the full 32x32->64
// product of the low words (by 16-bit half-word splitting), plus the two
// cross products folded into the high word.
func (polyfillI64) mul(o *Objects, i64 ir.TypeHandle) (*ir.Function, error) {
	return binaryFn(o, "i64_mul", i64, func(c *ir.BlockContext, a, b ir.ExprHandle) ir.ExprHandle {
		alo, ahi := i64lo(c, a), i64hi(c, a)
		blo, bhi := i64lo(c, b), i64hi(c, b)
		mask := c.AppendLiteral(ir.LiteralU32(0xffff))
		sixteen := c.AppendLiteral(ir.LiteralU32(16))

		a0 := c.Binary(ir.BinAnd, alo, mask)
		a1 := c.Binary(ir.BinShiftRight, alo, sixteen)
		b0 := c.Binary(ir.BinAnd, blo, mask)
		b1 := c.Binary(ir.BinShiftRight, blo, sixteen)

		t := c.Binary(ir.BinMultiply, a0, b0)
		u := c.Binary(ir.BinAdd, c.Binary(ir.BinMultiply, a1, b0), c.Binary(ir.BinShiftRight, t, sixteen))
		v := c.Binary(ir.BinAdd, c.Binary(ir.BinMultiply, a0, b1), c.Binary(ir.BinAnd, u, mask))

		lo := c.Binary(ir.BinMultiply, alo, blo)
		crossHi := c.Binary(ir.BinAdd,
			c.Binary(ir.BinMultiply, a1, b1),
			c.Binary(ir.BinAdd, c.Binary(ir.BinShiftRight, u, sixteen), c.Binary(ir.BinShiftRight, v, sixteen)))
		hi := c.Binary(ir.BinAdd, crossHi,
			c.Binary(ir.BinAdd, c.Binary(ir.BinMultiply, ahi, blo), c.Binary(ir.BinMultiply, alo, bhi)))
		return i64pack(o, c, lo, hi)
	})
}

// divRemU builds unsigned 64-bit division/remainder as a 64-iteration
// restoring shift-subtract loop over the word pairs. GPUs have no native
// 64-bit integer division, so the loop is the polyfill.
func (polyfillI64) divRemU(o *Objects, i64 ir.TypeHandle, name string, remainder bool) (*ir.Function, error) {
	u32 := o.Module.Types.U32()
	fn, ctx := addFunction(o, name, []ir.TypeHandle{i64, i64}, i64)
	n := ctx.AppendArgument(0)
	d := ctx.AppendArgument(1)

	dlo, dhi := i64lo(ctx, d), i64hi(ctx, d)
	zero := ctx.AppendLiteral(ir.LiteralU32(0))
	dZero := ctx.Binary(ir.BinEqual, ctx.Binary(ir.BinOr, dlo, dhi), zero)
	if err := o.EmitTrapIf(ctx, dZero, faults.TrapIntegerDivisionByZero); err != nil {
		return nil, err
	}

	nlo, nhi := i64lo(ctx, n), i64hi(ctx, n)

	rlo := fn.AddLocal("r_lo", u32)
	rhi := fn.AddLocal("r_hi", u32)
	qlo := fn.AddLocal("q_lo", u32)
	qhi := fn.AddLocal("q_hi", u32)
	ctr := fn.AddLocal("i", u32)
	for _, l := range []ir.LocalHandle{rlo, rhi, qlo, qhi, ctr} {
		ctx.Store(ctx.AppendLocal(l), zero)
	}
	nloL := fn.AddLocal("n_lo", u32)
	nhiL := fn.AddLocal("n_hi", u32)
	ctx.Store(ctx.AppendLocal(nloL), nlo)
	ctx.Store(ctx.AppendLocal(nhiL), nhi)
	dloL := fn.AddLocal("d_lo", u32)
	dhiL := fn.AddLocal("d_hi", u32)
	ctx.Store(ctx.AppendLocal(dloL), dlo)
	ctx.Store(ctx.AppendLocal(dhiL), dhi)

	lb := ctx.Loop()
	body := lb.Body()
	{
		one := body.AppendLiteral(ir.LiteralU32(1))
		thirtyOne := body.AppendLiteral(ir.LiteralU32(31))
		thirtyTwo := body.AppendLiteral(ir.LiteralU32(32))
		sixtyThree := body.AppendLiteral(ir.LiteralU32(63))

		i := body.Load(body.AppendLocal(ctr))
		idx := body.Binary(ir.BinSubtract, sixtyThree, i)
		idxMasked := body.Binary(ir.BinAnd, idx, thirtyOne)
		inLow := body.Binary(ir.BinLess, idx, thirtyTwo)
		curNlo := body.Load(body.AppendLocal(nloL))
		curNhi := body.Load(body.AppendLocal(nhiL))
		bitLow := body.Binary(ir.BinAnd, body.Binary(ir.BinShiftRight, curNlo, idxMasked), one)
		bitHigh := body.Binary(ir.BinAnd, body.Binary(ir.BinShiftRight, curNhi, idxMasked), one)
		bit := body.Select(inLow, bitLow, bitHigh)

		// r = (r << 1) | bit
		curRlo := body.Load(body.AppendLocal(rlo))
		curRhi := body.Load(body.AppendLocal(rhi))
		newRhi := body.Binary(ir.BinOr,
			body.Binary(ir.BinShiftLeft, curRhi, one),
			body.Binary(ir.BinShiftRight, curRlo, thirtyOne))
		newRlo := body.Binary(ir.BinOr, body.Binary(ir.BinShiftLeft, curRlo, one), bit)
		body.Store(body.AppendLocal(rhi), newRhi)
		body.Store(body.AppendLocal(rlo), newRlo)

		curDlo := body.Load(body.AppendLocal(dloL))
		curDhi := body.Load(body.AppendLocal(dhiL))
		rGeD := i64GeUParts(body, newRlo, newRhi, curDlo, curDhi)
		ifb := body.If(rGeD)
		then := ifb.Then()
		{
			tRlo := then.Load(then.AppendLocal(rlo))
			tRhi := then.Load(then.AppendLocal(rhi))
			tDlo := then.Load(then.AppendLocal(dloL))
			tDhi := then.Load(then.AppendLocal(dhiL))
			subLo, subHi := i64SubParts(then, tRlo, tRhi, tDlo, tDhi)
			then.Store(then.AppendLocal(rlo), subLo)
			then.Store(then.AppendLocal(rhi), subHi)

			oneT := then.AppendLiteral(ir.LiteralU32(1))
			thirtyOneT := then.AppendLiteral(ir.LiteralU32(31))
			thirtyTwoT := then.AppendLiteral(ir.LiteralU32(32))
			sixtyThreeT := then.AppendLiteral(ir.LiteralU32(63))
			zeroT := then.AppendLiteral(ir.LiteralU32(0))
			iT := then.Load(then.AppendLocal(ctr))
			idxT := then.Binary(ir.BinSubtract, sixtyThreeT, iT)
			idxMaskedT := then.Binary(ir.BinAnd, idxT, thirtyOneT)
			inLowT := then.Binary(ir.BinLess, idxT, thirtyTwoT)
			qBit := then.Binary(ir.BinShiftLeft, oneT, idxMaskedT)
			qloAdd := then.Select(inLowT, qBit, zeroT)
			qhiAdd := then.Select(inLowT, zeroT, qBit)
			curQlo := then.Load(then.AppendLocal(qlo))
			curQhi := then.Load(then.AppendLocal(qhi))
			then.Store(then.AppendLocal(qlo), then.Binary(ir.BinOr, curQlo, qloAdd))
			then.Store(then.AppendLocal(qhi), then.Binary(ir.BinOr, curQhi, qhiAdd))
			then.Finish()
		}
		ifb.Otherwise().Finish()

		nextI := body.Binary(ir.BinAdd, body.Load(body.AppendLocal(ctr)), one)
		body.Store(body.AppendLocal(ctr), nextI)
		body.Finish()
	}
	cont := lb.Continuing()
	{
		sixtyFour := cont.AppendLiteral(ir.LiteralU32(64))
		done := cont.Binary(ir.BinGreaterEqual, cont.Load(cont.AppendLocal(ctr)), sixtyFour)
		cont.Finish()
		lb.BreakIf(done)
	}

	if remainder {
		ctx.Return(i64pack(o, ctx, ctx.Load(ctx.AppendLocal(rlo)), ctx.Load(ctx.AppendLocal(rhi))))
	} else {
		ctx.Return(i64pack(o, ctx, ctx.Load(ctx.AppendLocal(qlo)), ctx.Load(ctx.AppendLocal(qhi))))
	}
	ctx.Finish()
	return fn, nil
}

// divRemS wraps the unsigned loop: trap on zero divisor and on
// INT64_MIN / -1, take magnitudes, divide unsigned, and fix the sign
// (quotient by the operands' sign xor, remainder by the dividend's sign).
func (p polyfillI64) divRemS(o *Objects, i64 ir.TypeHandle, name string, remainder bool) (*ir.Function, error) {
	uop := wasmin.OpcodeI64DivU
	if remainder {
		uop = wasmin.OpcodeI64RemU
	}
	ufn, err := o.Op(wasmin.ValueTypeI64, uop)
	if err != nil {
		return nil, err
	}

	fn, ctx := addFunction(o, name, []ir.TypeHandle{i64, i64}, i64)
	n := ctx.AppendArgument(0)
	d := ctx.AppendArgument(1)
	nlo, nhi := i64lo(ctx, n), i64hi(ctx, n)
	dlo, dhi := i64lo(ctx, d), i64hi(ctx, d)

	zero := ctx.AppendLiteral(ir.LiteralU32(0))
	dZero := ctx.Binary(ir.BinEqual, ctx.Binary(ir.BinOr, dlo, dhi), zero)
	if err := o.EmitTrapIf(ctx, dZero, faults.TrapIntegerDivisionByZero); err != nil {
		return nil, err
	}
	if !remainder {
		minHi := ctx.AppendLiteral(ir.LiteralU32(0x80000000))
		allOnes := ctx.AppendLiteral(ir.LiteralU32(0xffffffff))
		nMin := ctx.Binary(ir.BinLogicalAnd,
			ctx.Binary(ir.BinEqual, nlo, zero),
			ctx.Binary(ir.BinEqual, nhi, minHi))
		dNegOne := ctx.Binary(ir.BinLogicalAnd,
			ctx.Binary(ir.BinEqual, dlo, allOnes),
			ctx.Binary(ir.BinEqual, dhi, allOnes))
		overflow := ctx.Binary(ir.BinLogicalAnd, nMin, dNegOne)
		if err := o.EmitTrapIf(ctx, overflow, faults.TrapIntegerOverflow); err != nil {
			return nil, err
		}
	}

	nNeg := i64IsNegative(ctx, nhi)
	dNeg := i64IsNegative(ctx, dhi)
	nAbsLo, nAbsHi := i64NegParts(ctx, nlo, nhi)
	dAbsLo, dAbsHi := i64NegParts(ctx, dlo, dhi)
	un := i64pack(o, ctx,
		ctx.Select(nNeg, nAbsLo, nlo),
		ctx.Select(nNeg, nAbsHi, nhi))
	ud := i64pack(o, ctx,
		ctx.Select(dNeg, dAbsLo, dlo),
		ctx.Select(dNeg, dAbsHi, dhi))

	ures := ctx.CallWithResult(ufn, []ir.ExprHandle{un, ud}, i64)
	ulo, uhi := i64lo(ctx, ures), i64hi(ctx, ures)

	var negate ir.ExprHandle
	if remainder {
		negate = nNeg
	} else {
		negate = ctx.Binary(ir.BinNotEqual, nNeg, dNeg)
	}
	negLo, negHi := i64NegParts(ctx, ulo, uhi)
	ctx.Return(i64pack(o, ctx,
		ctx.Select(negate, negLo, ulo),
		ctx.Select(negate, negHi, uhi)))
	ctx.Finish()
	return fn, nil
}

type shiftMode byte

const (
	shiftLeft shiftMode = iota
	shiftRightLogical
	shiftRightArithmetic
)

// shift implements the three 64-bit shifts. The count is taken mod 64; the
// n >= 32 and n == 0 cases are folded in with selects so every path is
// branch-free (variable shift amounts are masked to 0..31 to stay within
// the IR's defined shift range).
func (polyfillI64) shift(o *Objects, i64 ir.TypeHandle, name string, mode shiftMode) (*ir.Function, error) {
	return binaryFn(o, name, i64, func(c *ir.BlockContext, a, b ir.ExprHandle) ir.ExprHandle {
		lo, hi := i64lo(c, a), i64hi(c, a)
		n64 := c.Binary(ir.BinAnd, i64lo(c, b), c.AppendLiteral(ir.LiteralU32(63)))
		thirtyOne := c.AppendLiteral(ir.LiteralU32(31))
		thirtyTwo := c.AppendLiteral(ir.LiteralU32(32))
		zero := c.AppendLiteral(ir.LiteralU32(0))
		n := c.Binary(ir.BinAnd, n64, thirtyOne)
		nZero := c.Binary(ir.BinEqual, n64, zero)
		small := c.Binary(ir.BinLess, n64, thirtyTwo)
		// inv = 32 - n, masked; only meaningful when 0 < n < 32.
		inv := c.Binary(ir.BinAnd, c.Binary(ir.BinSubtract, thirtyTwo, n), thirtyOne)

		switch mode {
		case shiftLeft:
			smallLo := c.Binary(ir.BinShiftLeft, lo, n)
			smallHi := c.Binary(ir.BinOr,
				c.Binary(ir.BinShiftLeft, hi, n),
				c.Binary(ir.BinShiftRight, lo, inv))
			bigHi := c.Binary(ir.BinShiftLeft, lo, n)
			outLo := c.Select(small, smallLo, zero)
			outHi := c.Select(small, c.Select(nZero, hi, smallHi), bigHi)
			return i64pack(o, c, outLo, outHi)
		case shiftRightLogical:
			smallHi := c.Binary(ir.BinShiftRight, hi, n)
			smallLo := c.Binary(ir.BinOr,
				c.Binary(ir.BinShiftRight, lo, n),
				c.Binary(ir.BinShiftLeft, hi, inv))
			bigLo := c.Binary(ir.BinShiftRight, hi, n)
			outHi := c.Select(small, smallHi, zero)
			outLo := c.Select(small, c.Select(nZero, lo, smallLo), bigLo)
			return i64pack(o, c, outLo, outHi)
		default: // shiftRightArithmetic
			shi := c.Bitcast(hi, ir.Sint, 4)
			fill := c.Bitcast(c.Binary(ir.BinShiftRight, shi, thirtyOne), ir.Uint, 4)
			smallHi := c.Bitcast(c.Binary(ir.BinShiftRight, shi, n), ir.Uint, 4)
			smallLo := c.Binary(ir.BinOr,
				c.Binary(ir.BinShiftRight, lo, n),
				c.Binary(ir.BinShiftLeft, hi, inv))
			bigLo := c.Bitcast(c.Binary(ir.BinShiftRight, shi, n), ir.Uint, 4)
			outHi := c.Select(small, smallHi, fill)
			outLo := c.Select(small, c.Select(nZero, lo, smallLo), bigLo)
			return i64pack(o, c, outLo, outHi)
		}
	})
}

// rotate builds rotl/rotr from the two logical shifts:
// rot(x, n) = shl(x, n) | shr_u(x, 64-n), both counts mod 64.
func (p polyfillI64) rotate(o *Objects, i64 ir.TypeHandle, name string, left bool) (*ir.Function, error) {
	shl, err := o.Op(wasmin.ValueTypeI64, wasmin.OpcodeI64Shl)
	if err != nil {
		return nil, err
	}
	shr, err := o.Op(wasmin.ValueTypeI64, wasmin.OpcodeI64ShrU)
	if err != nil {
		return nil, err
	}
	return binaryFn(o, name, i64, func(c *ir.BlockContext, a, b ir.ExprHandle) ir.ExprHandle {
		sixtyThree := c.AppendLiteral(ir.LiteralU32(63))
		sixtyFour := c.AppendLiteral(ir.LiteralU32(64))
		zero := c.AppendLiteral(ir.LiteralU32(0))
		n := c.Binary(ir.BinAnd, i64lo(c, b), sixtyThree)
		invN := c.Binary(ir.BinAnd, c.Binary(ir.BinSubtract, sixtyFour, n), sixtyThree)
		nPacked := i64pack(o, c, n, zero)
		invPacked := i64pack(o, c, invN, zero)
		first, second := shl, shr
		if !left {
			first, second = shr, shl
		}
		x1 := c.CallWithResult(first, []ir.ExprHandle{a, nPacked}, i64)
		x2 := c.CallWithResult(second, []ir.ExprHandle{a, invPacked}, i64)
		// When n == 0 the complementary count 64-n masks to 0, turning the
		// second shift into the identity instead of zero, so the identity
		// case is selected explicitly.
		lo := c.Select(c.Binary(ir.BinEqual, n, zero), i64lo(c, a),
			c.Binary(ir.BinOr, i64lo(c, x1), i64lo(c, x2)))
		hi := c.Select(c.Binary(ir.BinEqual, n, zero), i64hi(c, a),
			c.Binary(ir.BinOr, i64hi(c, x1), i64hi(c, x2)))
		return i64pack(o, c, lo, hi)
	})
}

func (polyfillI64) compare(o *Objects, i64, i32 ir.TypeHandle, op wasmin.Opcode) (*ir.Function, error) {
	return binaryFnResult(o, i64OpName(op), i64, i32, func(c *ir.BlockContext, a, b ir.ExprHandle) ir.ExprHandle {
		alo, ahi := i64lo(c, a), i64hi(c, a)
		blo, bhi := i64lo(c, b), i64hi(c, b)
		switch op {
		case wasmin.OpcodeI64Eq:
			eq := c.Binary(ir.BinLogicalAnd,
				c.Binary(ir.BinEqual, alo, blo),
				c.Binary(ir.BinEqual, ahi, bhi))
			return boolToI32(c, i32, eq)
		case wasmin.OpcodeI64Ne:
			ne := c.Binary(ir.BinLogicalOr,
				c.Binary(ir.BinNotEqual, alo, blo),
				c.Binary(ir.BinNotEqual, ahi, bhi))
			return boolToI32(c, i32, ne)
		}
		// Ordered comparisons: flipping the high word's sign bit maps the
		// signed order onto the unsigned lexicographic order.
		if isSignedI64Compare(op) {
			signBit := c.AppendLiteral(ir.LiteralU32(0x80000000))
			ahi = c.Binary(ir.BinExclusiveOr, ahi, signBit)
			bhi = c.Binary(ir.BinExclusiveOr, bhi, signBit)
		}
		var hiStrict, loOp ir.BinaryOp
		switch op {
		case wasmin.OpcodeI64LtS, wasmin.OpcodeI64LtU:
			hiStrict, loOp = ir.BinLess, ir.BinLess
		case wasmin.OpcodeI64GtS, wasmin.OpcodeI64GtU:
			hiStrict, loOp = ir.BinGreater, ir.BinGreater
		case wasmin.OpcodeI64LeS, wasmin.OpcodeI64LeU:
			hiStrict, loOp = ir.BinLess, ir.BinLessEqual
		default: // ge
			hiStrict, loOp = ir.BinGreater, ir.BinGreaterEqual
		}
		strict := c.Binary(hiStrict, ahi, bhi)
		tie := c.Binary(ir.BinLogicalAnd,
			c.Binary(ir.BinEqual, ahi, bhi),
			c.Binary(loOp, alo, blo))
		return boolToI32(c, i32, c.Binary(ir.BinLogicalOr, strict, tie))
	})
}

func (polyfillI64) signExtendNarrow(o *Objects, i64 ir.TypeHandle, name string, fromBits byte) (*ir.Function, error) {
	return unaryFn(o, name, i64, i64, func(c *ir.BlockContext, a ir.ExprHandle) ir.ExprHandle {
		lo := i64lo(c, a)
		shift := c.AppendLiteral(ir.LiteralU32(uint32(32 - fromBits)))
		thirtyOne := c.AppendLiteral(ir.LiteralU32(31))
		slo := c.Bitcast(lo, ir.Sint, 4)
		ext := c.Binary(ir.BinShiftRight, c.Binary(ir.BinShiftLeft, slo, shift), shift)
		fill := c.Binary(ir.BinShiftRight, ext, thirtyOne)
		return i64pack(o, c, c.Bitcast(ext, ir.Uint, 4), c.Bitcast(fill, ir.Uint, 4))
	})
}

// truncF32 builds i64.trunc_f32_s/u. Any f32 at or above 2^32 has no
// fraction and no bits below the mantissa width, so splitting the truncated
// magnitude with an exact 2^32 divide loses nothing.
func (polyfillI64) truncF32(o *Objects, i64 ir.TypeHandle, name string, signed bool) (*ir.Function, error) {
	f32 := o.Module.Types.F32()
	fn, ctx := addFunction(o, name, []ir.TypeHandle{f32}, i64)
	a := ctx.AppendArgument(0)
	isNaN := ctx.Binary(ir.BinNotEqual, a, a)
	if err := o.EmitTrapIf(ctx, isNaN, faults.TrapBadConversionToInteger); err != nil {
		return nil, err
	}
	var loBound, hiBound uint32
	if signed {
		loBound, hiBound = 0xdf000000, 0x5f000000 // -2^63, 2^63
	} else {
		loBound, hiBound = 0xbf800000, 0x5f800000 // -1, 2^64
	}
	loLit := ctx.AppendLiteral(ir.LiteralF32Bits(loBound))
	hiLit := ctx.AppendLiteral(ir.LiteralF32Bits(hiBound))
	var outOfRange ir.ExprHandle
	if signed {
		outOfRange = ctx.Binary(ir.BinLogicalOr,
			ctx.Binary(ir.BinLess, a, loLit),
			ctx.Binary(ir.BinGreaterEqual, a, hiLit))
	} else {
		outOfRange = ctx.Binary(ir.BinLogicalOr,
			ctx.Binary(ir.BinLessEqual, a, loLit),
			ctx.Binary(ir.BinGreaterEqual, a, hiLit))
	}
	if err := o.EmitTrapIf(ctx, outOfRange, faults.TrapBadConversionToInteger); err != nil {
		return nil, err
	}

	mag := ctx.Math(ir.MathTrunc, ctx.Math(ir.MathAbs, a))
	scale := ctx.AppendLiteral(ir.LiteralF32Bits(0x2f800000)) // 2^-32
	scaleUp := ctx.AppendLiteral(ir.LiteralF32Bits(0x4f800000))
	hiF := ctx.Math(ir.MathTrunc, ctx.Binary(ir.BinMultiply, mag, scale))
	loF := ctx.Binary(ir.BinSubtract, mag, ctx.Binary(ir.BinMultiply, hiF, scaleUp))
	hiW := ctx.As(hiF, ir.Uint, 4)
	loW := ctx.As(loF, ir.Uint, 4)
	if signed {
		zeroF := ctx.AppendLiteral(ir.LiteralF32Bits(0))
		neg := ctx.Binary(ir.BinLess, a, zeroF)
		negLo, negHi := i64NegParts(ctx, loW, hiW)
		ctx.Return(i64pack(o, ctx, ctx.Select(neg, negLo, loW), ctx.Select(neg, negHi, hiW)))
	} else {
		ctx.Return(i64pack(o, ctx, loW, hiW))
	}
	ctx.Finish()
	return fn, nil
}

func isSignedI64Compare(op wasmin.Opcode) bool {
	switch op {
	case wasmin.OpcodeI64LtS, wasmin.OpcodeI64GtS, wasmin.OpcodeI64LeS, wasmin.OpcodeI64GeS:
		return true
	default:
		return false
	}
}

func i64OpName(op wasmin.Opcode) string {
	names := map[wasmin.Opcode]string{
		wasmin.OpcodeI64Eq: "i64_eq", wasmin.OpcodeI64Ne: "i64_ne",
		wasmin.OpcodeI64LtS: "i64_lt_s", wasmin.OpcodeI64LtU: "i64_lt_u",
		wasmin.OpcodeI64GtS: "i64_gt_s", wasmin.OpcodeI64GtU: "i64_gt_u",
		wasmin.OpcodeI64LeS: "i64_le_s", wasmin.OpcodeI64LeU: "i64_le_u",
		wasmin.OpcodeI64GeS: "i64_ge_s", wasmin.OpcodeI64GeU: "i64_ge_u",
		wasmin.OpcodeI64TruncF64S: "i64.trunc_f64_s", wasmin.OpcodeI64TruncF64U: "i64.trunc_f64_u",
	}
	if n, ok := names[op]; ok {
		return n
	}
	return opName(op)
}

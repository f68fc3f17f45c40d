package translate

import (
	"github.com/LucentFlux/wasm-gpu-go/faults"
	"github.com/LucentFlux/wasm-gpu-go/ir"
	"github.com/LucentFlux/wasm-gpu-go/wasmin"
)

// memAddress pops the i32 address operand and appends the checked effective
// byte address: base = addr + offset, trapping MemoryOutOfBounds when the
// 32-bit sum wraps or when base + width exceeds the linear memory size, and
// HeapMisaligned when base is not naturally aligned for the access width
// (word-granular memory cannot honor a straddling access).
func (b *activeBlock) memAddress(memarg wasmin.MemArg, width uint32) (ir.ExprHandle, error) {
	if !b.f.unit.Accessible.MemoryPresent {
		return ir.InvalidExprHandle, faults.Internal("memory access without memory")
	}
	addr, err := b.popExpect(wasmin.ValueTypeI32)
	if err != nil {
		return ir.InvalidExprHandle, err
	}
	o := b.t.objects
	base := b.ctx.Bitcast(addr, ir.Uint, 4)
	if memarg.Offset != 0 {
		off := b.ctx.AppendLiteral(ir.LiteralU32(memarg.Offset))
		sum := b.ctx.Binary(ir.BinAdd, base, off)
		wrapped := b.ctx.Binary(ir.BinLess, sum, off)
		if err := o.EmitTrapIf(b.ctx, wrapped, faults.TrapMemoryOutOfBounds); err != nil {
			return ir.InvalidExprHandle, err
		}
		base = sum
	}

	memLen := o.MemoryLengthBytes(b.ctx)
	widthLit := b.ctx.AppendLiteral(ir.LiteralU32(width))
	under := b.ctx.Binary(ir.BinLess, memLen, widthLit)
	limit := b.ctx.Binary(ir.BinSubtract, memLen, widthLit)
	over := b.ctx.Binary(ir.BinGreater, base, limit)
	oob := b.ctx.Binary(ir.BinLogicalOr, under, over)
	if err := o.EmitTrapIf(b.ctx, oob, faults.TrapMemoryOutOfBounds); err != nil {
		return ir.InvalidExprHandle, err
	}

	if align := min32(width, 4); align > 1 {
		mask := b.ctx.AppendLiteral(ir.LiteralU32(align - 1))
		zero := b.ctx.AppendLiteral(ir.LiteralU32(0))
		misaligned := b.ctx.Binary(ir.BinNotEqual, b.ctx.Binary(ir.BinAnd, base, mask), zero)
		if err := o.EmitTrapIf(b.ctx, misaligned, faults.TrapHeapMisaligned); err != nil {
			return ir.InvalidExprHandle, err
		}
	}
	return base, nil
}

func (b *activeBlock) lowerLoad(vt wasmin.ValueType, width uint32, mode memMode, memarg wasmin.MemArg) error {
	base, err := b.memAddress(memarg, width)
	if err != nil {
		return err
	}
	o := b.t.objects
	two := b.ctx.AppendLiteral(ir.LiteralU32(2))
	wordAddr := b.ctx.Binary(ir.BinShiftRight, base, two)

	size, err := o.SizeBytes(vt)
	if err != nil {
		return err
	}
	if width == size {
		fn, err := o.ReadMemory(vt)
		if err != nil {
			return err
		}
		ty, err := o.Ty(vt)
		if err != nil {
			return err
		}
		b.push(vt, b.ctx.CallWithResult(fn, []ir.ExprHandle{wordAddr}, ty))
		return nil
	}

	// Sub-word load: fetch the enclosing word, shift the field down, mask,
	// and sign- or zero-extend to the destination type.
	word, err := b.readMemoryWord(wordAddr)
	if err != nil {
		return err
	}
	var field ir.ExprHandle
	if width == 4 {
		field = word // i64.load32_*
	} else {
		eight := b.ctx.AppendLiteral(ir.LiteralU32(8))
		three := b.ctx.AppendLiteral(ir.LiteralU32(3))
		shift := b.ctx.Binary(ir.BinMultiply, b.ctx.Binary(ir.BinAnd, base, three), eight)
		mask := b.ctx.AppendLiteral(ir.LiteralU32(subwordMask(width)))
		field = b.ctx.Binary(ir.BinAnd, b.ctx.Binary(ir.BinShiftRight, word, shift), mask)
	}

	if mode.signed {
		ext := b.ctx.AppendLiteral(ir.LiteralU32(32 - width*8))
		signedField := field
		if width < 4 {
			shifted := b.ctx.Binary(ir.BinShiftLeft, b.ctx.Bitcast(field, ir.Sint, 4), ext)
			signedField = b.ctx.Bitcast(b.ctx.Binary(ir.BinShiftRight, shifted, ext), ir.Uint, 4)
		}
		if vt == wasmin.ValueTypeI32 {
			b.push(vt, b.ctx.Bitcast(signedField, ir.Sint, 4))
			return nil
		}
		thirtyOne := b.ctx.AppendLiteral(ir.LiteralU32(31))
		fill := b.ctx.Bitcast(
			b.ctx.Binary(ir.BinShiftRight, b.ctx.Bitcast(signedField, ir.Sint, 4), thirtyOne),
			ir.Uint, 4)
		packed, err := o.FromWords(vt, b.ctx, []ir.ExprHandle{signedField, fill})
		if err != nil {
			return err
		}
		b.push(vt, packed)
		return nil
	}

	if vt == wasmin.ValueTypeI32 {
		b.push(vt, b.ctx.Bitcast(field, ir.Sint, 4))
		return nil
	}
	zero := b.ctx.AppendLiteral(ir.LiteralU32(0))
	packed, err := o.FromWords(vt, b.ctx, []ir.ExprHandle{field, zero})
	if err != nil {
		return err
	}
	b.push(vt, packed)
	return nil
}

func (b *activeBlock) lowerStore(vt wasmin.ValueType, width uint32, _ memMode, memarg wasmin.MemArg) error {
	value, err := b.popExpect(vt)
	if err != nil {
		return err
	}
	base, err := b.memAddress(memarg, width)
	if err != nil {
		return err
	}
	o := b.t.objects
	two := b.ctx.AppendLiteral(ir.LiteralU32(2))
	wordAddr := b.ctx.Binary(ir.BinShiftRight, base, two)

	size, err := o.SizeBytes(vt)
	if err != nil {
		return err
	}
	if width == size {
		fn, err := o.WriteMemory(vt)
		if err != nil {
			return err
		}
		b.ctx.CallVoid(fn, []ir.ExprHandle{wordAddr, value})
		return nil
	}

	// The stored bits are the value's low word.
	var bits ir.ExprHandle
	if vt == wasmin.ValueTypeI64 {
		bits = b.ctx.AccessIndex(value, 0)
	} else {
		bits = b.ctx.Bitcast(value, ir.Uint, 4)
	}

	if width == 4 {
		// i64.store32: a whole aligned word, no read-modify-write needed.
		return b.writeMemoryWord(wordAddr, bits)
	}

	// Sub-word store: read-modify-write the enclosing word so the
	// surrounding bytes survive.
	word, err := b.readMemoryWord(wordAddr)
	if err != nil {
		return err
	}
	eight := b.ctx.AppendLiteral(ir.LiteralU32(8))
	three := b.ctx.AppendLiteral(ir.LiteralU32(3))
	shift := b.ctx.Binary(ir.BinMultiply, b.ctx.Binary(ir.BinAnd, base, three), eight)
	mask := b.ctx.AppendLiteral(ir.LiteralU32(subwordMask(width)))
	cleared := b.ctx.Binary(ir.BinAnd, word,
		b.ctx.Unary(ir.UnaryNot, b.ctx.Binary(ir.BinShiftLeft, mask, shift)))
	inserted := b.ctx.Binary(ir.BinShiftLeft, b.ctx.Binary(ir.BinAnd, bits, mask), shift)
	merged := b.ctx.Binary(ir.BinOr, cleared, inserted)
	return b.writeMemoryWord(wordAddr, merged)
}

// readMemoryWord loads one u32 word of linear memory through the i32 codec.
func (b *activeBlock) readMemoryWord(wordAddr ir.ExprHandle) (ir.ExprHandle, error) {
	fn, err := b.t.objects.ReadMemory(wasmin.ValueTypeI32)
	if err != nil {
		return ir.InvalidExprHandle, err
	}
	i32 := b.t.objects.Module.Types.I32()
	word := b.ctx.CallWithResult(fn, []ir.ExprHandle{wordAddr}, i32)
	return b.ctx.Bitcast(word, ir.Uint, 4), nil
}

func (b *activeBlock) writeMemoryWord(wordAddr, bits ir.ExprHandle) error {
	fn, err := b.t.objects.WriteMemory(wasmin.ValueTypeI32)
	if err != nil {
		return err
	}
	b.ctx.CallVoid(fn, []ir.ExprHandle{wordAddr, b.ctx.Bitcast(bits, ir.Sint, 4)})
	return nil
}

func subwordMask(width uint32) uint32 {
	return (uint32(1) << (width * 8)) - 1
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

package translate

import (
	"fmt"
	"math"

	"github.com/LucentFlux/wasm-gpu-go/faults"
	"github.com/LucentFlux/wasm-gpu-go/ir"
	"github.com/LucentFlux/wasm-gpu-go/stdobjects"
	"github.com/LucentFlux/wasm-gpu-go/wasmin"
)

// isControlOpcode reports whether op terminates a straight-line run and
// must be handled by the block translator (run.go).
func isControlOpcode(op wasmin.Opcode) bool {
	switch op {
	case wasmin.OpcodeBlock, wasmin.OpcodeLoop, wasmin.OpcodeIf, wasmin.OpcodeElse,
		wasmin.OpcodeEnd, wasmin.OpcodeBr, wasmin.OpcodeBrIf, wasmin.OpcodeBrTable,
		wasmin.OpcodeReturn, wasmin.OpcodeUnreachable,
		wasmin.OpcodeReturnCall, wasmin.OpcodeReturnCallIndirect:
		return true
	default:
		return false
	}
}

// populateStraight is the basic-block translator: it
// consumes contiguous non-control-flow opcodes, maintaining the value stack
// and appending statements to the block's current context, and stops as
// soon as it peeks a control-flow opcode.
func (b *activeBlock) populateStraight(r *wasmin.Reader) error {
	for {
		if r.Done() {
			return faults.Internal("opcode stream ended without end")
		}
		if isControlOpcode(wasmin.Opcode(r.PeekByte())) {
			return nil
		}
		raw, err := r.ReadByte()
		if err != nil {
			return faults.Internal(err.Error())
		}
		op := wasmin.Opcode(raw)
		if err := b.lowerStraight(r, op); err != nil {
			return err
		}
	}
}

func (b *activeBlock) lowerStraight(r *wasmin.Reader, op wasmin.Opcode) error {
	switch op {
	case wasmin.OpcodeNop:
		return nil

	case wasmin.OpcodeI32Const:
		v, err := r.ReadI32()
		if err != nil {
			return faults.Internal(err.Error())
		}
		b.push(wasmin.ValueTypeI32, b.ctx.AppendLiteral(ir.LiteralI32(v)))
		return nil
	case wasmin.OpcodeI64Const:
		v, err := r.ReadI64()
		if err != nil {
			return faults.Internal(err.Error())
		}
		lo := b.ctx.AppendLiteral(ir.LiteralU32(uint32(uint64(v))))
		hi := b.ctx.AppendLiteral(ir.LiteralU32(uint32(uint64(v) >> 32)))
		packed, err := b.t.objects.FromWords(wasmin.ValueTypeI64, b.ctx, []ir.ExprHandle{lo, hi})
		if err != nil {
			return err
		}
		b.push(wasmin.ValueTypeI64, packed)
		return nil
	case wasmin.OpcodeF32Const:
		v, err := r.ReadF32()
		if err != nil {
			return faults.Internal(err.Error())
		}
		b.push(wasmin.ValueTypeF32, b.ctx.AppendLiteral(ir.LiteralF32Bits(math.Float32bits(v))))
		return nil
	case wasmin.OpcodeF64Const:
		v, err := r.ReadF64()
		if err != nil {
			return faults.Internal(err.Error())
		}
		bits := math.Float64bits(v)
		lo := b.ctx.AppendLiteral(ir.LiteralU32(uint32(bits)))
		hi := b.ctx.AppendLiteral(ir.LiteralU32(uint32(bits >> 32)))
		packed, err := b.t.objects.FromWords(wasmin.ValueTypeF64, b.ctx, []ir.ExprHandle{lo, hi})
		if err != nil {
			return err
		}
		b.push(wasmin.ValueTypeF64, packed)
		return nil

	case wasmin.OpcodeDrop:
		_, err := b.pop()
		return err
	case wasmin.OpcodeSelect:
		return b.lowerSelect()
	case wasmin.OpcodeTypedSelect:
		// The type vector immediate only restates what the stack already
		// knows; consume and lower identically.
		n, err := r.ReadU32()
		if err != nil {
			return faults.Internal(err.Error())
		}
		for i := uint32(0); i < n; i++ {
			if _, err := r.ReadByte(); err != nil {
				return faults.Internal(err.Error())
			}
		}
		return b.lowerSelect()

	case wasmin.OpcodeLocalGet:
		idx, err := r.ReadU32()
		if err != nil {
			return faults.Internal(err.Error())
		}
		l, err := b.localAt(idx)
		if err != nil {
			return err
		}
		b.push(l.vt, b.ctx.Load(b.ctx.AppendLocal(l.handle)))
		return nil
	case wasmin.OpcodeLocalSet:
		idx, err := r.ReadU32()
		if err != nil {
			return faults.Internal(err.Error())
		}
		l, err := b.localAt(idx)
		if err != nil {
			return err
		}
		v, err := b.popExpect(l.vt)
		if err != nil {
			return err
		}
		b.ctx.Store(b.ctx.AppendLocal(l.handle), v)
		return nil
	case wasmin.OpcodeLocalTee:
		idx, err := r.ReadU32()
		if err != nil {
			return faults.Internal(err.Error())
		}
		l, err := b.localAt(idx)
		if err != nil {
			return err
		}
		if len(b.stack) == 0 || b.stack[len(b.stack)-1].vt != l.vt {
			return faults.Internal("local.tee type mismatch")
		}
		b.ctx.Store(b.ctx.AppendLocal(l.handle), b.stack[len(b.stack)-1].expr)
		return nil

	case wasmin.OpcodeGlobalGet:
		idx, err := r.ReadU32()
		if err != nil {
			return faults.Internal(err.Error())
		}
		gb, err := b.globalAt(idx)
		if err != nil {
			return err
		}
		fn, err := b.t.objects.ReadGlobal(gb.Type, gb.Mutable)
		if err != nil {
			return err
		}
		ty, err := b.t.objects.Ty(gb.Type)
		if err != nil {
			return err
		}
		addr := b.ctx.AppendLiteral(ir.LiteralU32(gb.Offset / 4))
		b.push(gb.Type, b.ctx.CallWithResult(fn, []ir.ExprHandle{addr}, ty))
		return nil
	case wasmin.OpcodeGlobalSet:
		idx, err := r.ReadU32()
		if err != nil {
			return faults.Internal(err.Error())
		}
		gb, err := b.globalAt(idx)
		if err != nil {
			return err
		}
		if !gb.Mutable {
			return faults.Internal("global.set on immutable global")
		}
		v, err := b.popExpect(gb.Type)
		if err != nil {
			return err
		}
		fn, err := b.t.objects.WriteGlobal(gb.Type)
		if err != nil {
			return err
		}
		addr := b.ctx.AppendLiteral(ir.LiteralU32(gb.Offset / 4))
		b.ctx.CallVoid(fn, []ir.ExprHandle{addr, v})
		return nil

	case wasmin.OpcodeRefNull:
		heap, err := r.ReadByte()
		if err != nil {
			return faults.Internal(err.Error())
		}
		vt := wasmin.ValueTypeFuncRef
		if heap == 0x6f {
			vt = wasmin.ValueTypeExternRef
		}
		b.push(vt, b.ctx.AppendLiteral(ir.LiteralU32(stdobjects.RefNull)))
		return nil
	case wasmin.OpcodeRefIsNull:
		v, err := b.pop()
		if err != nil {
			return err
		}
		if !v.vt.IsReference() {
			return faults.Internal("ref.is_null on non-reference")
		}
		null := b.ctx.AppendLiteral(ir.LiteralU32(stdobjects.RefNull))
		isNull := b.ctx.Binary(ir.BinEqual, v.expr, null)
		b.push(wasmin.ValueTypeI32, b.ctx.As(isNull, ir.Sint, 4))
		return nil
	case wasmin.OpcodeRefFunc:
		idx, err := r.ReadU32()
		if err != nil {
			return faults.Internal(err.Error())
		}
		lookup := b.f.unit.Accessible.FuncIndexLookup
		if int(idx) >= len(lookup) {
			return faults.Internalf("ref.func index %d out of range", idx)
		}
		b.push(wasmin.ValueTypeFuncRef, b.ctx.AppendLiteral(ir.LiteralU32(lookup[idx])))
		return nil

	case wasmin.OpcodeCall:
		idx, err := r.ReadU32()
		if err != nil {
			return faults.Internal(err.Error())
		}
		return b.lowerCall(idx)
	case wasmin.OpcodeCallIndirect:
		typeIdx, err := r.ReadU32()
		if err != nil {
			return faults.Internal(err.Error())
		}
		tableIdx, err := r.ReadU32()
		if err != nil {
			return faults.Internal(err.Error())
		}
		return b.lowerCallIndirect(typeIdx, tableIdx)

	case wasmin.OpcodeMemorySize:
		if _, err := r.ReadByte(); err != nil {
			return faults.Internal(err.Error())
		}
		fn, err := b.t.objects.MemorySize()
		if err != nil {
			return err
		}
		b.push(wasmin.ValueTypeI32, b.ctx.CallWithResult(fn, nil, b.t.objects.Module.Types.I32()))
		return nil
	case wasmin.OpcodeMemoryGrow:
		if _, err := r.ReadByte(); err != nil {
			return faults.Internal(err.Error())
		}
		delta, err := b.popExpect(wasmin.ValueTypeI32)
		if err != nil {
			return err
		}
		fn, err := b.t.objects.MemoryGrow()
		if err != nil {
			return err
		}
		b.push(wasmin.ValueTypeI32, b.ctx.CallWithResult(fn, []ir.ExprHandle{delta}, b.t.objects.Module.Types.I32()))
		return nil

	case wasmin.OpcodeI32WrapI64:
		v, err := b.popExpect(wasmin.ValueTypeI64)
		if err != nil {
			return err
		}
		lo := b.ctx.AccessIndex(v, 0)
		b.push(wasmin.ValueTypeI32, b.ctx.Bitcast(lo, ir.Sint, 4))
		return nil

	case wasmin.OpcodeMiscPrefix:
		sub, err := r.ReadByte()
		if err != nil {
			return faults.Internal(err.Error())
		}
		return b.lowerMisc(wasmin.MiscOpcode(sub))
	case wasmin.OpcodeVecPrefix:
		return faults.UnsupportedInstruction("simd (vec prefix)")
	case wasmin.OpcodeAtomicPrefix:
		return faults.UnsupportedInstruction("threads atomics (atomic prefix)")
	}

	if vt, width, mode, ok := classifyMemory(op); ok {
		memarg, err := r.ReadMemArg()
		if err != nil {
			return faults.Internal(err.Error())
		}
		if mode.store {
			return b.lowerStore(vt, width, mode, memarg)
		}
		return b.lowerLoad(vt, width, mode, memarg)
	}

	if shape, ok := classifyNumeric(op); ok {
		return b.lowerNumeric(op, shape)
	}
	return faults.UnsupportedInstruction(fmt.Sprintf("opcode 0x%02x", byte(op)))
}

func (b *activeBlock) localAt(idx uint32) (fnLocal, error) {
	if int(idx) >= len(b.f.locals) {
		return fnLocal{}, faults.Internalf("local index %d out of range", idx)
	}
	return b.f.locals[idx], nil
}

func (b *activeBlock) globalAt(idx uint32) (wasmin.GlobalBinding, error) {
	lookup := b.f.unit.Accessible.GlobalLookup
	if int(idx) >= len(lookup) {
		return wasmin.GlobalBinding{}, faults.Internalf("global index %d out of range", idx)
	}
	return lookup[idx], nil
}

// lowerSelect pops (cond, reject, accept) and pushes the selected value:
// a native select for single-word types, lane-wise selects recomposed for
// the multi-word polyfill types.
func (b *activeBlock) lowerSelect() error {
	cond, err := b.popExpect(wasmin.ValueTypeI32)
	if err != nil {
		return err
	}
	reject, err := b.pop()
	if err != nil {
		return err
	}
	accept, err := b.popExpect(reject.vt)
	if err != nil {
		return err
	}
	zero := b.ctx.AppendLiteral(ir.LiteralI32(0))
	taken := b.ctx.Binary(ir.BinNotEqual, cond, zero)

	switch reject.vt {
	case wasmin.ValueTypeI64, wasmin.ValueTypeF64, wasmin.ValueTypeV128:
		lanes := 2
		if reject.vt == wasmin.ValueTypeV128 {
			lanes = 4
		}
		words := make([]ir.ExprHandle, lanes)
		for i := 0; i < lanes; i++ {
			words[i] = b.ctx.Select(taken,
				b.ctx.AccessIndex(accept, uint32(i)),
				b.ctx.AccessIndex(reject.expr, uint32(i)))
		}
		packed, err := b.t.objects.FromWords(reject.vt, b.ctx, words)
		if err != nil {
			return err
		}
		b.push(reject.vt, packed)
	default:
		b.push(reject.vt, b.ctx.Select(taken, accept, reject.expr))
	}
	return nil
}

// lowerNumeric pops the shape's operands, resolves the std-objects function
// for the opcode and pushes the call result.
func (b *activeBlock) lowerNumeric(op wasmin.Opcode, shape opShape) error {
	args := make([]ir.ExprHandle, len(shape.args))
	for i := len(shape.args) - 1; i >= 0; i-- {
		v, err := b.popExpect(shape.args[i])
		if err != nil {
			return err
		}
		args[i] = v
	}
	fn, err := b.t.objects.Op(shape.owner, op)
	if err != nil {
		return err
	}
	ty, err := b.t.objects.Ty(shape.result)
	if err != nil {
		return err
	}
	b.push(shape.result, b.ctx.CallWithResult(fn, args, ty))
	return nil
}

// lowerMisc handles the misc-prefix opcodes: the saturating conversions
// resolve through the std objects, everything past them (bulk memory,
// table ops) is unsupported.
func (b *activeBlock) lowerMisc(m wasmin.MiscOpcode) error {
	var owner wasmin.ValueType
	var arg wasmin.ValueType
	switch m {
	case wasmin.OpcodeMiscI32TruncSatF32S, wasmin.OpcodeMiscI32TruncSatF32U:
		owner, arg = wasmin.ValueTypeI32, wasmin.ValueTypeF32
	case wasmin.OpcodeMiscI32TruncSatF64S, wasmin.OpcodeMiscI32TruncSatF64U:
		owner, arg = wasmin.ValueTypeI32, wasmin.ValueTypeF64
	case wasmin.OpcodeMiscI64TruncSatF32S, wasmin.OpcodeMiscI64TruncSatF32U:
		owner, arg = wasmin.ValueTypeI64, wasmin.ValueTypeF32
	case wasmin.OpcodeMiscI64TruncSatF64S, wasmin.OpcodeMiscI64TruncSatF64U:
		owner, arg = wasmin.ValueTypeI64, wasmin.ValueTypeF64
	default:
		return faults.UnsupportedInstruction(fmt.Sprintf("misc opcode 0x%02x", byte(m)))
	}
	v, err := b.popExpect(arg)
	if err != nil {
		return err
	}
	fn, err := b.t.objects.MiscOp(owner, m)
	if err != nil {
		return err
	}
	ty, err := b.t.objects.Ty(owner)
	if err != nil {
		return err
	}
	b.push(owner, b.ctx.CallWithResult(fn, []ir.ExprHandle{v}, ty))
	return nil
}

package translate

import (
	"github.com/LucentFlux/wasm-gpu-go/faults"
	"github.com/LucentFlux/wasm-gpu-go/ir"
	"github.com/LucentFlux/wasm-gpu-go/wasmin"
)

// run drives the block translator over r until this block's own `end`,
// alternating straight-line translation (populateStraight) with control-
// flow handling. The reader is left positioned just past the end.
func (b *activeBlock) run(r *wasmin.Reader) error {
	for {
		if err := b.populateStraight(r); err != nil {
			return err
		}
		raw, err := r.ReadByte()
		if err != nil {
			return faults.Internal(err.Error())
		}
		op := wasmin.Opcode(raw)
		switch op {
		case wasmin.OpcodeBlock, wasmin.OpcodeLoop, wasmin.OpcodeIf:
			params, results, err := b.readBlockType(r)
			if err != nil {
				return err
			}
			child, err := b.openChild(op, params, results)
			if err != nil {
				return err
			}
			if err := child.run(r); err != nil {
				return err
			}
			if err := b.afterChild(child); err != nil {
				return err
			}

		case wasmin.OpcodeElse:
			if b.kind != kindIf || b.elseSeen {
				return faults.Internal("else outside if")
			}
			if err := b.startElse(); err != nil {
				return err
			}

		case wasmin.OpcodeEnd:
			return b.close()

		case wasmin.OpcodeBr:
			k, err := r.ReadU32()
			if err != nil {
				return faults.Internal(err.Error())
			}
			if err := b.lowerBrTo(b.ctx, int(k)); err != nil {
				return err
			}
			b.reachable = false
			if err := b.finishDead(r); err != nil {
				return err
			}
			return nil

		case wasmin.OpcodeBrIf:
			k, err := r.ReadU32()
			if err != nil {
				return faults.Internal(err.Error())
			}
			if err := b.lowerBrIf(int(k)); err != nil {
				return err
			}

		case wasmin.OpcodeBrTable:
			if err := b.lowerBrTable(r); err != nil {
				return err
			}
			b.reachable = false
			if err := b.finishDead(r); err != nil {
				return err
			}
			return nil

		case wasmin.OpcodeReturn:
			if err := b.lowerReturn(); err != nil {
				return err
			}
			if err := b.finishDead(r); err != nil {
				return err
			}
			return nil

		case wasmin.OpcodeUnreachable:
			if err := b.lowerUnreachable(); err != nil {
				return err
			}
			if err := b.finishDead(r); err != nil {
				return err
			}
			return nil

		case wasmin.OpcodeReturnCall:
			idx, err := r.ReadU32()
			if err != nil {
				return faults.Internal(err.Error())
			}
			if err := b.lowerCall(idx); err != nil {
				return err
			}
			if err := b.lowerReturn(); err != nil {
				return err
			}
			if err := b.finishDead(r); err != nil {
				return err
			}
			return nil

		case wasmin.OpcodeReturnCallIndirect:
			typeIdx, err := r.ReadU32()
			if err != nil {
				return faults.Internal(err.Error())
			}
			tableIdx, err := r.ReadU32()
			if err != nil {
				return faults.Internal(err.Error())
			}
			if err := b.lowerCallIndirect(typeIdx, tableIdx); err != nil {
				return err
			}
			if err := b.lowerReturn(); err != nil {
				return err
			}
			if err := b.finishDead(r); err != nil {
				return err
			}
			return nil

		default:
			return faults.Internalf("unexpected control opcode 0x%02x", raw)
		}
	}
}

// finishDead skips the dead code after an unconditional transfer and closes
// the block at its end, recursing through an else-arm if one appears.
func (b *activeBlock) finishDead(r *wasmin.Reader) error {
	sawElse, err := b.skipDead(r)
	if err != nil {
		return err
	}
	if sawElse {
		if b.kind != kindIf || b.elseSeen {
			return faults.Internal("else outside if")
		}
		if err := b.startElse(); err != nil {
			return err
		}
		return b.run(r)
	}
	return b.close()
}

func (b *activeBlock) readBlockType(r *wasmin.Reader) (params, results []wasmin.ValueType, err error) {
	single, hasSingle, typeIdx, err := r.ReadBlockType()
	if err != nil {
		return nil, nil, faults.Internal(err.Error())
	}
	if hasSingle {
		return nil, []wasmin.ValueType{single}, nil
	}
	if typeIdx < 0 {
		return nil, nil, nil
	}
	lookup := b.f.unit.Accessible.TypeLookup
	if int(typeIdx) >= len(lookup) {
		return nil, nil, faults.Internalf("block type index %d out of range", typeIdx)
	}
	ft := lookup[typeIdx]
	return ft.Params, ft.Results, nil
}

// openChild pops the child block's inputs and sets up its translation
// state: inline for straight blocks, an IR Loop for loops, an IR If with
// the condition popped first for ifs.
func (b *activeBlock) openChild(op wasmin.Opcode, params, results []wasmin.ValueType) (*activeBlock, error) {
	child := &activeBlock{
		t: b.t, f: b.f,
		parent:       b,
		id:           b.f.nextBlockID(),
		paramTypes:   params,
		resultTypes:  results,
		label:        noLocal,
		continueFlag: noLocal,
		reachable:    true,
	}

	switch op {
	case wasmin.OpcodeBlock:
		child.kind = kindBlock
		inputs, err := b.popSeq(params)
		if err != nil {
			return nil, err
		}
		child.entryCtx = b.ctx
		child.ctx = b.ctx
		child.stack = inputs

	case wasmin.OpcodeLoop:
		child.kind = kindLoop
		inputs, err := b.popSeq(params)
		if err != nil {
			return nil, err
		}
		// Loop inputs live in locals so a continue can refresh them.
		child.loopParams = make([]ir.LocalHandle, len(params))
		for i, vt := range params {
			ty, err := b.t.objects.Ty(vt)
			if err != nil {
				return nil, err
			}
			child.loopParams[i] = b.f.fn.AddLocal(blockLocalName(child.id, "param", i), ty)
			b.ctx.Store(b.ctx.AppendLocal(child.loopParams[i]), inputs[i].expr)
		}
		lb := b.ctx.Loop()
		child.loop = lb
		body := lb.Body()
		child.entryCtx = body
		child.ctx = body
		for i, vt := range params {
			child.push(vt, body.Load(body.AppendLocal(child.loopParams[i])))
		}

	case wasmin.OpcodeIf:
		child.kind = kindIf
		cond, err := b.popExpect(wasmin.ValueTypeI32)
		if err != nil {
			return nil, err
		}
		inputs, err := b.popSeq(params)
		if err != nil {
			return nil, err
		}
		zero := b.ctx.AppendLiteral(ir.LiteralI32(0))
		taken := b.ctx.Binary(ir.BinNotEqual, cond, zero)
		ifb := b.ctx.If(taken)
		child.ifb = ifb
		child.ifInputs = inputs
		child.entryCtx = b.ctx
		child.ctx = ifb.Then()
		child.stack = append([]stackValue(nil), inputs...)
	}
	return child, nil
}

// startElse closes the then-arm and switches translation to the else-arm,
// resetting the value stack to the block's inputs.
func (b *activeBlock) startElse() error {
	if err := b.closeArm(); err != nil {
		return err
	}
	b.elseSeen = true
	b.ctx = b.ifb.Otherwise()
	b.stack = append([]stackValue(nil), b.ifInputs...)
	b.reachable = true
	return nil
}

// closeArm runs the epilogue of the current if-arm: on a reachable end the
// arm's results are stored into the block's result locals (if-blocks always
// communicate results through locals, since each arm is its own IR block).
func (b *activeBlock) closeArm() error {
	if b.reachable {
		b.anyArmExit = true
		if len(b.resultTypes) > 0 {
			if err := b.ensureResultLocals(); err != nil {
				return err
			}
			vals, err := b.popSeq(b.resultTypes)
			if err != nil {
				return err
			}
			for i, v := range vals {
				b.ctx.Store(b.ctx.AppendLocal(b.resultLocals[i]), v.expr)
			}
		}
	}
	b.closeGuards() // restores ctx to entryCtx; arm contexts are done
	return nil
}

// close runs this block's end-of-block epilogue. The parent then consumes
// the block via afterChild.
func (b *activeBlock) close() error {
	switch b.kind {
	case kindFunction:
		return b.closeFunction()
	case kindBlock:
		return b.closeStraight()
	case kindLoop:
		return b.closeLoop()
	default:
		return b.closeIf()
	}
}

func (b *activeBlock) closeStraight() error {
	useLocals := b.label != noLocal || len(b.guards) > 0
	if b.reachable {
		vals, err := b.popSeq(b.resultTypes)
		if err != nil {
			return err
		}
		if useLocals && len(b.resultTypes) > 0 {
			if err := b.ensureResultLocals(); err != nil {
				return err
			}
			for i, v := range vals {
				b.ctx.Store(b.ctx.AppendLocal(b.resultLocals[i]), v.expr)
			}
		} else {
			b.fallthroughVals = vals
		}
	}
	b.closeGuards()
	b.clearLabel(b.entryCtx)
	b.exitReachable = b.reachable || b.label != noLocal
	return nil
}

func (b *activeBlock) closeLoop() error {
	if b.reachable && len(b.resultTypes) > 0 {
		// Loop results always travel through locals: the loop body is its
		// own IR block, so its exprs cannot outlive the Loop statement.
		if err := b.ensureResultLocals(); err != nil {
			return err
		}
		vals, err := b.popSeq(b.resultTypes)
		if err != nil {
			return err
		}
		for i, v := range vals {
			b.ctx.Store(b.ctx.AppendLocal(b.resultLocals[i]), v.expr)
		}
	} else if b.reachable {
		if _, err := b.popSeq(b.resultTypes); err != nil {
			return err
		}
	}
	b.closeGuards()
	b.clearLabel(b.entryCtx)
	b.entryCtx.Finish()

	cont := b.loop.Continuing()
	if b.continueFlag != noLocal {
		flag := cont.Load(cont.AppendLocal(b.continueFlag))
		falseLit := cont.AppendLiteral(ir.LiteralBool(false))
		brk := cont.Binary(ir.BinEqual, flag, falseLit)
		cont.Store(cont.AppendLocal(b.continueFlag), falseLit)
		cont.Finish()
		b.loop.BreakIf(brk)
	} else {
		// Nothing ever continues this loop; a single pass falls out.
		always := cont.AppendLiteral(ir.LiteralBool(true))
		cont.Finish()
		b.loop.BreakIf(always)
	}
	b.exitReachable = b.reachable || b.maxOut >= 1 || b.label != noLocal
	return nil
}

func (b *activeBlock) closeIf() error {
	if err := b.closeArm(); err != nil {
		return err
	}
	if !b.elseSeen {
		// Implicit else: validation guarantees params == results here, so
		// the inputs pass straight through as the arm's results.
		otherwise := b.ifb.Otherwise()
		if len(b.resultTypes) > 0 {
			if err := b.ensureResultLocals(); err != nil {
				return err
			}
			for i, v := range b.ifInputs {
				otherwise.Store(otherwise.AppendLocal(b.resultLocals[i]), v.expr)
			}
		}
		otherwise.Finish()
		b.anyArmExit = true
	}
	b.clearLabel(b.entryCtx)
	b.exitReachable = b.anyArmExit || b.label != noLocal
	return nil
}

// afterChild integrates a closed child block: push its results, then guard
// this block's remainder if any branch inside the child escapes past it.
func (b *activeBlock) afterChild(child *activeBlock) error {
	switch {
	case child.resultLocals != nil:
		for i, vt := range child.resultTypes {
			b.push(vt, b.ctx.Load(b.ctx.AppendLocal(child.resultLocals[i])))
		}
	case child.fallthroughVals != nil:
		for _, v := range child.fallthroughVals {
			b.push(v.vt, v.expr)
		}
	default:
		// The continuation is statically dead (the child neither falls
		// through nor is branch-targeted); wasm still types it with the
		// child's results, so feed placeholder zero values.
		for _, vt := range child.resultTypes {
			ty, err := b.t.objects.Ty(vt)
			if err != nil {
				return err
			}
			b.push(vt, b.ctx.AppendZeroValue(ty))
		}
	}
	if child.maxOut >= 1 {
		b.guardRemainder()
		if child.maxOut-1 > b.maxOut {
			b.maxOut = child.maxOut - 1
		}
	}
	return nil
}

// lowerBrIf emits `if cond { <br k> }` and guards the remainder of the
// current block on its own escape flag.
func (b *activeBlock) lowerBrIf(k int) error {
	cond, err := b.popExpect(wasmin.ValueTypeI32)
	if err != nil {
		return err
	}
	zero := b.ctx.AppendLiteral(ir.LiteralI32(0))
	taken := b.ctx.Binary(ir.BinNotEqual, cond, zero)
	ifb := b.ctx.If(taken)
	arm := ifb.Then()
	if err := b.lowerBrTo(arm, k); err != nil {
		return err
	}
	arm.Finish()
	ifb.Otherwise().Finish()
	b.guardRemainder()
	return nil
}

// lowerBrTable pops the selector and lowers the table to an index-ordered
// chain of equality tests, first match winning, the default arm last - the
// switch lowering for an IR without a switch statement.
func (b *activeBlock) lowerBrTable(r *wasmin.Reader) error {
	count, err := r.ReadU32()
	if err != nil {
		return faults.Internal(err.Error())
	}
	targets := make([]uint32, count)
	for i := range targets {
		if targets[i], err = r.ReadU32(); err != nil {
			return faults.Internal(err.Error())
		}
	}
	def, err := r.ReadU32()
	if err != nil {
		return faults.Internal(err.Error())
	}

	idx, err := b.popExpect(wasmin.ValueTypeI32)
	if err != nil {
		return err
	}
	cur := b.ctx
	for i, k := range targets {
		lit := cur.AppendLiteral(ir.LiteralI32(int32(i)))
		ifb := cur.If(cur.Binary(ir.BinEqual, idx, lit))
		arm := ifb.Then()
		if err := b.lowerBrTo(arm, int(k)); err != nil {
			return err
		}
		arm.Finish()
		cur = ifb.Otherwise()
	}
	if err := b.lowerBrTo(cur, int(def)); err != nil {
		return err
	}
	cur.Finish()
	return nil
}

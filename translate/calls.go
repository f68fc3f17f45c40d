package translate

import (
	"github.com/LucentFlux/wasm-gpu-go/faults"
	"github.com/LucentFlux/wasm-gpu-go/ir"
	"github.com/LucentFlux/wasm-gpu-go/wasmin"
)

// lowerCall emits a direct call to the function at wasm function index idx,
// consuming its parameters from the stack and pushing its results (fields
// of the synthesized result struct for multi-result callees).
func (b *activeBlock) lowerCall(idx uint32) error {
	lookup := b.f.unit.Accessible.FuncIndexLookup
	if int(idx) >= len(lookup) {
		return faults.Internalf("call index %d out of range", idx)
	}
	callee, ok := b.t.declared[lookup[idx]]
	if !ok {
		return faults.Internalf("call to undeclared funcref %d", lookup[idx])
	}

	params := callee.unit.Type.Params
	args := make([]ir.ExprHandle, len(params))
	for i := len(params) - 1; i >= 0; i-- {
		v, err := b.popExpect(params[i])
		if err != nil {
			return err
		}
		args[i] = v
	}

	switch len(callee.resultTypes) {
	case 0:
		b.ctx.CallVoid(callee.fn, args)
	case 1:
		res := b.ctx.CallWithResult(callee.fn, args, callee.fn.Result)
		b.push(callee.resultTypes[0], res)
	default:
		res := b.ctx.CallWithResult(callee.fn, args, callee.resultStruct)
		for i, vt := range callee.resultTypes {
			b.push(vt, b.ctx.AccessIndex(res, uint32(i)))
		}
	}
	return nil
}

// lowerCallIndirect routes the call through the brain function: the site
// reserves a frame in its invocation's stack-binding
// stripe, marshals the arguments into it, invokes the brain with the table
// coordinates and the expected canonical signature id, then unmarshals the
// results from the same frame. The brain performs the bounds/null/signature
// checks and the dispatch itself.
func (b *activeBlock) lowerCallIndirect(typeIdx, tableIdx uint32) error {
	acc := b.f.unit.Accessible
	if !acc.TablePresent {
		return faults.Internal("call_indirect without table")
	}
	if int(typeIdx) >= len(acc.TypeLookup) {
		return faults.Internalf("call_indirect type index %d out of range", typeIdx)
	}
	expected := acc.TypeLookup[typeIdx]
	o := b.t.objects

	elem, err := b.popExpect(wasmin.ValueTypeI32)
	if err != nil {
		return err
	}
	elemU := b.ctx.Bitcast(elem, ir.Uint, 4)

	args := make([]ir.ExprHandle, len(expected.Params))
	for i := len(expected.Params) - 1; i >= 0; i-- {
		v, err := b.popExpect(expected.Params[i])
		if err != nil {
			return err
		}
		args[i] = v
	}

	argOffsets, argWords, err := b.t.stackLayout(expected.Params)
	if err != nil {
		return err
	}
	resOffsets, resWords, err := b.t.stackLayout(expected.Results)
	if err != nil {
		return err
	}
	frameWords := argWords
	if resWords > frameWords {
		frameWords = resWords
	}

	spGlobal, err := o.StackPointer()
	if err != nil {
		return err
	}
	spPtr := b.ctx.AppendGlobal(spGlobal)
	frameBase := b.ctx.Load(spPtr)
	frameLit := b.ctx.AppendLiteral(ir.LiteralU32(frameWords))
	b.ctx.Store(spPtr, b.ctx.Binary(ir.BinAdd, frameBase, frameLit))

	for i, vt := range expected.Params {
		w, err := o.WriteStack(vt)
		if err != nil {
			return err
		}
		addr := b.ctx.Binary(ir.BinAdd, frameBase, b.ctx.AppendLiteral(ir.LiteralU32(argOffsets[i])))
		b.ctx.CallVoid(w, []ir.ExprHandle{addr, args[i]})
	}

	brain, err := o.Brain()
	if err != nil {
		return err
	}
	b.t.usedIndirect = true
	table := b.ctx.AppendLiteral(ir.LiteralU32(tableIdx))
	typeID := b.ctx.AppendLiteral(ir.LiteralU32(b.t.typeID(expected)))
	b.ctx.CallVoid(brain, []ir.ExprHandle{table, elemU, typeID, frameBase})

	// Pop the frame before unmarshalling: the results sit at the same
	// offsets whatever the stack pointer says.
	b.ctx.Store(spPtr, frameBase)

	for i, vt := range expected.Results {
		rf, err := o.ReadStack(vt)
		if err != nil {
			return err
		}
		ty, err := o.Ty(vt)
		if err != nil {
			return err
		}
		addr := b.ctx.Binary(ir.BinAdd, frameBase, b.ctx.AppendLiteral(ir.LiteralU32(resOffsets[i])))
		b.push(vt, b.ctx.CallWithResult(rf, []ir.ExprHandle{addr}, ty))
	}
	return nil
}

// stackLayout computes the word offsets of a value sequence in a dispatch
// frame, using the same packing as the IO buffers.
func (t *translator) stackLayout(vts []wasmin.ValueType) ([]uint32, uint32, error) {
	offsets := make([]uint32, len(vts))
	total := uint32(0)
	for i, vt := range vts {
		size, err := t.objects.SizeBytes(vt)
		if err != nil {
			return nil, 0, err
		}
		offsets[i] = total
		total += alignWords(size)
	}
	return offsets, total, nil
}

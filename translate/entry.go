package translate

import (
	"fmt"

	"github.com/LucentFlux/wasm-gpu-go/ir"
	"github.com/LucentFlux/wasm-gpu-go/wasmin"
)

// ioLayout computes the input/output buffer layout of a value sequence:
// each element's word offset is the IO-aligned
// cumulative sum of the preceding sizes, and the per-invocation stride is
// the aligned total (at least one word, so a zero-arg layout still gives
// every invocation a distinct base).
func (t *translator) ioLayout(vts []wasmin.ValueType) (offsets []uint32, strideWords uint32, err error) {
	offsets, total, err := t.stackLayout(vts)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		total = 1
	}
	return offsets, total, nil
}

// generateEntry builds the compute wrapper for one exported function:
// derive the invocation index from the dispatch id,
// publish it to the instance_id global, read the arguments from the input
// binding at this invocation's stripe, call the internal function, and
// write any results to the output binding.
func (t *translator) generateEntry(d *internalFunction) error {
	o := t.objects
	m := o.Module
	name := fmt.Sprintf("__wasm_entry_function_%d", d.unit.Index)
	wrapper := ir.NewFunction(name, []ir.TypeHandle{m.Types.UVec3()}, ir.InvalidTypeHandle)
	ctx := ir.NewBlockContext(wrapper)

	gid := ctx.AppendArgument(0)
	instance := ctx.AccessIndex(gid, 0)
	instGlobal, err := o.InstanceID()
	if err != nil {
		return err
	}
	ctx.Store(ctx.AppendGlobal(instGlobal), instance)

	params := d.unit.Type.Params
	inOffsets, inStride, err := t.ioLayout(params)
	if err != nil {
		return err
	}
	baseIn := ctx.Binary(ir.BinMultiply, ctx.AppendLiteral(ir.LiteralU32(inStride)), instance)

	args := make([]ir.ExprHandle, len(params))
	for i, vt := range params {
		rf, err := o.ReadInput(vt)
		if err != nil {
			return err
		}
		ty, err := o.Ty(vt)
		if err != nil {
			return err
		}
		addr := ctx.Binary(ir.BinAdd, baseIn, ctx.AppendLiteral(ir.LiteralU32(inOffsets[i])))
		args[i] = ctx.CallWithResult(rf, []ir.ExprHandle{addr}, ty)
	}

	results := d.resultTypes
	if len(results) == 0 {
		ctx.CallVoid(d.fn, args)
		ctx.ReturnVoid()
		ctx.Finish()
		m.AddEntryPoint(name, [3]uint32{t.opts.WorkgroupSize, 1, 1}, wrapper, d.fn)
		return nil
	}

	res := ctx.CallWithResult(d.fn, args, d.fn.Result)
	outOffsets, outStride, err := t.ioLayout(results)
	if err != nil {
		return err
	}
	baseOut := ctx.Binary(ir.BinMultiply, ctx.AppendLiteral(ir.LiteralU32(outStride)), instance)
	for i, vt := range results {
		wf, err := o.WriteOutput(vt)
		if err != nil {
			return err
		}
		field := res
		if len(results) > 1 {
			field = ctx.AccessIndex(res, uint32(i))
		}
		addr := ctx.Binary(ir.BinAdd, baseOut, ctx.AppendLiteral(ir.LiteralU32(outOffsets[i])))
		ctx.CallVoid(wf, []ir.ExprHandle{addr, field})
	}
	ctx.ReturnVoid()
	ctx.Finish()
	m.AddEntryPoint(name, [3]uint32{t.opts.WorkgroupSize, 1, 1}, wrapper, d.fn)
	return nil
}

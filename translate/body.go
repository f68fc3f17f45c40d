package translate

import (
	"fmt"
	"math"

	"github.com/LucentFlux/wasm-gpu-go/faults"
	"github.com/LucentFlux/wasm-gpu-go/ir"
	"github.com/LucentFlux/wasm-gpu-go/wasmin"
)

// generateBody fills in a declared function: materialize the parameters as
// writable locals, default-initialize the declared locals, drive the block
// translator over the opcode stream, and emit the final return.
func (t *translator) generateBody(d *internalFunction) error {
	ctx := ir.NewBlockContext(d.fn)

	// Parameters become locals so local.set/local.tee can write them.
	for i, vt := range d.unit.Type.Params {
		ty, err := t.objects.Ty(vt)
		if err != nil {
			return err
		}
		lh := d.fn.AddLocal(fmt.Sprintf("local_%d", i), ty)
		d.locals = append(d.locals, fnLocal{vt: vt, handle: lh})
		ctx.Store(ctx.AppendLocal(lh), ctx.AppendArgument(i))
	}

	total := uint64(len(d.unit.Type.Params))
	idx := len(d.unit.Type.Params)
	for _, decl := range d.unit.Locals {
		total += uint64(decl.Count)
		if total > math.MaxUint32 {
			return faults.BoundsExceeded("locals")
		}
		ty, err := t.objects.Ty(decl.Type)
		if err != nil {
			return err
		}
		def, err := t.objects.Default(decl.Type)
		if err != nil {
			return err
		}
		for k := uint32(0); k < decl.Count; k++ {
			lh := d.fn.AddLocal(fmt.Sprintf("local_%d", idx), ty)
			d.locals = append(d.locals, fnLocal{vt: decl.Type, handle: lh})
			ctx.Store(ctx.AppendLocal(lh), ctx.AppendConstant(def))
			idx++
		}
	}

	top := t.newFunctionBlock(d, ctx)
	r := wasmin.NewReader(d.unit.Body)
	if err := top.run(r); err != nil {
		return err
	}
	if !r.Done() {
		return faults.Internal("trailing bytes after function end")
	}
	return nil
}

// closeFunction is the function-level block's end: a reachable fallthrough
// (or any branch to the function level) composes the value stack into the
// return value; a void function always gets its default trailing return.
func (b *activeBlock) closeFunction() error {
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

	exitReachable := b.reachable || b.label != noLocal
	switch {
	case len(b.resultTypes) == 0:
		b.entryCtx.ReturnVoid()
	case exitReachable:
		exprs := make([]ir.ExprHandle, len(b.resultTypes))
		if b.resultLocals != nil {
			for i := range b.resultTypes {
				exprs[i] = b.entryCtx.Load(b.entryCtx.AppendLocal(b.resultLocals[i]))
			}
		} else {
			for i, v := range b.fallthroughVals {
				exprs[i] = v.expr
			}
		}
		if len(exprs) == 1 {
			b.entryCtx.Return(exprs[0])
		} else {
			b.entryCtx.Return(b.entryCtx.Compose(b.f.resultStruct, exprs))
		}
	}
	b.entryCtx.Finish()
	b.exitReachable = exitReachable
	return nil
}

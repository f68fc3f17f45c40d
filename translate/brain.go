package translate

import (
	"github.com/LucentFlux/wasm-gpu-go/faults"
	"github.com/LucentFlux/wasm-gpu-go/ir"
	"github.com/LucentFlux/wasm-gpu-go/stdobjects"
)

// buildBrain fills in the shared indirect-call dispatcher's body once every
// internal function exists. The dispatch is a jump table over the funcref
// read from the tables binding: bounds check, null check, then one
// equality-guarded arm per module function performing the signature check,
// argument unmarshalling from the dispatch frame, the direct call, and the
// result marshalling back into the frame. No call site emits an indirect
// call of its own, which is what keeps the direct-call graph acyclic.
func (t *translator) buildBrain() error {
	if !t.usedIndirect {
		return nil
	}
	o := t.objects
	brain, err := o.Brain()
	if err != nil {
		return err
	}
	ctx := ir.NewBlockContext(brain)

	elem := ctx.AppendArgument(1)
	typeID := ctx.AppendArgument(2)
	frame := ctx.AppendArgument(3)

	tableLen := o.TableLength(ctx)
	oob := ctx.Binary(ir.BinGreaterEqual, elem, tableLen)
	if err := o.EmitTrapIf(ctx, oob, faults.TrapTableOutOfBounds); err != nil {
		return err
	}

	tables := ctx.AppendGlobal(o.Module.Global(ir.BindingTables))
	entry := ctx.Load(ctx.Access(tables, elem))
	null := ctx.AppendLiteral(ir.LiteralU32(stdobjects.RefNull))
	if err := o.EmitTrapIf(ctx, ctx.Binary(ir.BinEqual, entry, null), faults.TrapIndirectCallToNull); err != nil {
		return err
	}

	for _, ref := range t.order {
		d := t.declared[ref]
		refLit := ctx.AppendLiteral(ir.LiteralU32(ref))
		ifb := ctx.If(ctx.Binary(ir.BinEqual, entry, refLit))
		arm := ifb.Then()

		wantID := arm.AppendLiteral(ir.LiteralU32(t.typeID(d.unit.Type)))
		badSig := arm.Binary(ir.BinNotEqual, typeID, wantID)
		if err := o.EmitTrapIf(arm, badSig, faults.TrapBadSignature); err != nil {
			return err
		}

		params := d.unit.Type.Params
		argOffsets, _, err := t.stackLayout(params)
		if err != nil {
			return err
		}
		args := make([]ir.ExprHandle, len(params))
		for i, vt := range params {
			rf, err := o.ReadStack(vt)
			if err != nil {
				return err
			}
			ty, err := o.Ty(vt)
			if err != nil {
				return err
			}
			addr := arm.Binary(ir.BinAdd, frame, arm.AppendLiteral(ir.LiteralU32(argOffsets[i])))
			args[i] = arm.CallWithResult(rf, []ir.ExprHandle{addr}, ty)
		}

		switch len(d.resultTypes) {
		case 0:
			arm.CallVoid(d.fn, args)
		default:
			res := arm.CallWithResult(d.fn, args, d.fn.Result)
			resOffsets, _, err := t.stackLayout(d.resultTypes)
			if err != nil {
				return err
			}
			for i, vt := range d.resultTypes {
				wf, err := o.WriteStack(vt)
				if err != nil {
					return err
				}
				field := res
				if len(d.resultTypes) > 1 {
					field = arm.AccessIndex(res, uint32(i))
				}
				addr := arm.Binary(ir.BinAdd, frame, arm.AppendLiteral(ir.LiteralU32(resOffsets[i])))
				arm.CallVoid(wf, []ir.ExprHandle{addr, field})
			}
		}
		arm.ReturnVoid()
		arm.Finish()
		ifb.Otherwise().Finish()
	}

	// A live funcref that matches no module function means the table was
	// populated with something this module never defined.
	trapFn, err := o.Trap()
	if err != nil {
		return err
	}
	code := ctx.AppendLiteral(ir.LiteralU32(uint32(faults.TrapBadSignature)))
	ctx.CallVoid(trapFn, []ir.ExprHandle{code})
	ctx.Kill()
	ctx.Finish()
	return nil
}

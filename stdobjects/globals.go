package stdobjects

import (
	"github.com/LucentFlux/wasm-gpu-go/ir"
)

// FlagsWordsPerInvocation is the stride, in u32 words, of one invocation's
// slice of the flags binding. Word 0 is the trap code;
// no other flag words are defined yet, so the stride is 1.
const FlagsWordsPerInvocation = 1

// InstanceID returns the private module-scope global holding the current
// invocation's index, set once by the entry-point wrapper and read by every
// codec function to compute its per-invocation buffer offset
// (base = per_invocation_alignment * instance_id + offset).
func (o *Objects) InstanceID() (ir.GlobalHandle, error) {
	return o.instanceID.Resolve(func() (ir.GlobalHandle, error) {
		u32 := o.Module.Types.U32()
		h := o.Module.AddGlobal(ir.GlobalVariable{
			Name:    "instance_id",
			Slot:    ir.BindingNone,
			Type:    u32,
			Space:   ir.AddressSpacePrivate,
			Mutable: true,
		})
		return h, nil
	})
}

// StackPointer returns the private module-scope global holding the current
// invocation's bump allocation offset, in words, within its stack-binding
// stripe. Indirect-call sites reserve a frame by advancing it and restore
// it after the brain returns, so nested indirect calls do not clobber each
// other's argument frames. Zero-initialized like every private global.
func (o *Objects) StackPointer() (ir.GlobalHandle, error) {
	return o.stackPtr.Resolve(func() (ir.GlobalHandle, error) {
		u32 := o.Module.Types.U32()
		h := o.Module.AddGlobal(ir.GlobalVariable{
			Name:    "stack_ptr",
			Slot:    ir.BindingNone,
			Type:    u32,
			Space:   ir.AddressSpacePrivate,
			Mutable: true,
		})
		return h, nil
	})
}

// flagsBase appends the expression computing this invocation's base word
// offset into the flags binding: instance_id * FlagsWordsPerInvocation.
func (o *Objects) flagsBase(ctx *ir.BlockContext) (ir.ExprHandle, error) {
	instanceID, err := o.InstanceID()
	if err != nil {
		return ir.InvalidExprHandle, err
	}
	id := ctx.Load(ctx.AppendGlobal(instanceID))
	stride := ctx.AppendLiteral(ir.LiteralU32(FlagsWordsPerInvocation))
	return ctx.Binary(ir.BinMultiply, id, stride), nil
}

// Trap returns the shared `trap(code: u32)` function, which writes the code
// into the trap word of this invocation's flags slice. Callers (the block
// translator, on every opcode that can fault) call this and then push their
// own ir.BlockContext.Kill() - the Kill is deliberately not inside this
// function, so the write and the halt stay two independently-sequenced
// steps.
func (o *Objects) Trap() (*ir.Function, error) {
	return o.trap.Resolve(func() (*ir.Function, error) {
		u32 := o.Module.Types.U32()
		fn, ctx := addFunction(o, "__trap", []ir.TypeHandle{u32}, ir.InvalidTypeHandle)
		base, err := o.flagsBase(ctx)
		if err != nil {
			return nil, err
		}
		flags := ctx.AppendGlobal(o.Module.Global(ir.BindingFlags))
		ptr := ctx.Access(flags, base)
		code := ctx.AppendArgument(0)
		ctx.Store(ptr, code)
		ctx.ReturnVoid()
		ctx.Finish()
		return fn, nil
	})
}

// Brain is the shared indirect-call dispatcher: every call_indirect site
// calls this rather than emitting a per-site indirect call, which would
// cycle the direct-call graph. Its contract: table-bounds check, null
// check, signature check, dispatch, trapping TableOutOfBounds/
// IndirectCallToNull/BadSignature as appropriate.
//
// Parameters are (table_index, element_index, type_id, frame_base): the
// call site marshals arguments into its invocation's stack-binding stripe
// starting at frame_base, and unmarshals results from the same offset after
// the brain returns. type_id is the module-wide canonical signature id the
// site expects, checked against the dispatched target's id.
//
// The concrete jump-table body is populated by the translator once every
// function is known (Objects only reserves the forward declaration so call
// sites can reference it before the full module's function set is
// finalized); resolving Brain before that population step yields a function
// with an empty body, which the translator fills in-place.
func (o *Objects) Brain() (*ir.Function, error) {
	return o.brain.Resolve(func() (*ir.Function, error) {
		u32 := o.Module.Types.U32()
		fn, ctx := addFunction(o, "__brain", []ir.TypeHandle{u32, u32, u32, u32}, ir.InvalidTypeHandle)
		ctx.Finish()
		return fn, nil
	})
}

// MemoryLengthBytes appends the load of this dispatch's per-invocation
// linear-memory size in bytes, used by every bounds check.
func (o *Objects) MemoryLengthBytes(ctx *ir.BlockContext) ir.ExprHandle {
	return o.constantWord(ctx, ConstantWordMemoryBytes)
}

// TableLength appends the load of table 0's element count.
func (o *Objects) TableLength(ctx *ir.BlockContext) ir.ExprHandle {
	return o.constantWord(ctx, ConstantWordTableLength)
}

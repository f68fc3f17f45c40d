package stdobjects

import (
	"fmt"

	"github.com/LucentFlux/wasm-gpu-go/ir"
	"github.com/LucentFlux/wasm-gpu-go/wasmin"
)

// Layout of the module-wide constants binding (ir.BindingConstants), agreed
// with the host-side store-set layer. Values the generated code needs at
// runtime but that are fixed for the whole dispatch live here rather than
// being baked into the shader, so one pipeline serves differently-sized
// store sets.
const (
	// ConstantWordMemoryBytes holds each invocation's linear-memory size in
	// bytes. Memory codecs derive their per-invocation stride from it and
	// bounds checks compare against it.
	ConstantWordMemoryBytes = 0
	// ConstantWordMutableGlobalsStride holds the per-invocation stride, in
	// words, of the mutable-globals binding.
	ConstantWordMutableGlobalsStride = 1
	// ConstantWordTableLength holds the element count of table 0, used by
	// the brain function's bounds check.
	ConstantWordTableLength = 2
)

// StackWordsPerInvocation is the stride, in words, of one invocation's slice
// of the stack binding (the indirect-call dispatch area).
const StackWordsPerInvocation = 64

// WasmPageBytes is the wasm linear-memory page size.
const WasmPageBytes = 65536

// strideKind selects how a codec function turns its word-address parameter
// into an absolute index into its binding. Every buffer access goes through
// `base = per_invocation_alignment * instance_id + offset`; bindings whose
// per-invocation base is added by the entry-point wrapper instead
// (input/output) use strideNone here.
type strideKind byte

const (
	strideNone strideKind = iota
	strideMemory
	strideMutableGlobals
	strideStack
)

// constantWord appends the load of one word of the constants binding.
func (o *Objects) constantWord(ctx *ir.BlockContext, word uint32) ir.ExprHandle {
	g := ctx.AppendGlobal(o.Module.Global(ir.BindingConstants))
	idx := ctx.AppendLiteral(ir.LiteralU32(word))
	return ctx.Load(ctx.Access(g, idx))
}

// invocationBase appends the expression for this invocation's base word
// offset into the binding addressed with the given stride kind.
func (o *Objects) invocationBase(ctx *ir.BlockContext, kind strideKind) (ir.ExprHandle, error) {
	instanceID, err := o.InstanceID()
	if err != nil {
		return ir.InvalidExprHandle, err
	}
	id := ctx.Load(ctx.AppendGlobal(instanceID))
	var stride ir.ExprHandle
	switch kind {
	case strideMemory:
		lenBytes := o.constantWord(ctx, ConstantWordMemoryBytes)
		four := ctx.AppendLiteral(ir.LiteralU32(4))
		stride = ctx.Binary(ir.BinDivide, lenBytes, four)
	case strideMutableGlobals:
		stride = o.constantWord(ctx, ConstantWordMutableGlobalsStride)
	case strideStack:
		stride = ctx.AppendLiteral(ir.LiteralU32(StackWordsPerInvocation))
	default:
		return ir.InvalidExprHandle, nil
	}
	return ctx.Binary(ir.BinMultiply, id, stride), nil
}

// buildRead generates `fn name(word_address: u32) -> T` over binding: load
// size/4 consecutive words starting at the (possibly invocation-rebased)
// address and recompose them with the type's FromWords.
func (o *Objects) buildRead(v *ValueObjects, name string, binding ir.BindingSlot, stride strideKind) (*ir.Function, error) {
	ty, err := o.Ty(v.impl.ValueType())
	if err != nil {
		return nil, err
	}
	size, err := o.SizeBytes(v.impl.ValueType())
	if err != nil {
		return nil, err
	}
	u32 := o.Module.Types.U32()
	fn, ctx := addFunction(o, name, []ir.TypeHandle{u32}, ty)
	addr := ctx.AppendArgument(0)
	if base, err := o.invocationBase(ctx, stride); err != nil {
		return nil, err
	} else if base != ir.InvalidExprHandle {
		addr = ctx.Binary(ir.BinAdd, addr, base)
	}
	g := ctx.AppendGlobal(o.Module.Global(binding))
	words := make([]ir.ExprHandle, size/4)
	for i := range words {
		idx := addr
		if i > 0 {
			off := ctx.AppendLiteral(ir.LiteralU32(uint32(i)))
			idx = ctx.Binary(ir.BinAdd, addr, off)
		}
		words[i] = ctx.Load(ctx.Access(g, idx))
	}
	value, err := v.impl.FromWords(o, ctx, words)
	if err != nil {
		return nil, err
	}
	ctx.Return(value)
	ctx.Finish()
	return fn, nil
}

// buildWrite generates `fn name(word_address: u32, value: T)` over binding:
// decompose value with the type's ToWords and store each word.
func (o *Objects) buildWrite(v *ValueObjects, name string, binding ir.BindingSlot, stride strideKind) (*ir.Function, error) {
	ty, err := o.Ty(v.impl.ValueType())
	if err != nil {
		return nil, err
	}
	u32 := o.Module.Types.U32()
	fn, ctx := addFunction(o, name, []ir.TypeHandle{u32, ty}, ir.InvalidTypeHandle)
	addr := ctx.AppendArgument(0)
	value := ctx.AppendArgument(1)
	if base, err := o.invocationBase(ctx, stride); err != nil {
		return nil, err
	} else if base != ir.InvalidExprHandle {
		addr = ctx.Binary(ir.BinAdd, addr, base)
	}
	words, err := v.impl.ToWords(o, ctx, value)
	if err != nil {
		return nil, err
	}
	g := ctx.AppendGlobal(o.Module.Global(binding))
	for i, w := range words {
		idx := addr
		if i > 0 {
			off := ctx.AppendLiteral(ir.LiteralU32(uint32(i)))
			idx = ctx.Binary(ir.BinAdd, addr, off)
		}
		ctx.Store(ctx.Access(g, idx), w)
	}
	ctx.ReturnVoid()
	ctx.Finish()
	return fn, nil
}

func codecName(vt wasmin.ValueType, suffix string) string {
	return fmt.Sprintf("%s_%s", vt, suffix)
}

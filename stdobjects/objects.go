// Package stdobjects implements the standard-objects catalog: the
// lazily-materialized set of shader-IR types, default constants, codec
// functions and per-opcode arithmetic functions for every wasm value type,
// plus the trap/instance-id globals every translated function shares.
// Exactly one Objects exists per output ir.Module.
package stdobjects

import (
	"fmt"

	"github.com/LucentFlux/wasm-gpu-go/faults"
	"github.com/LucentFlux/wasm-gpu-go/ir"
	"github.com/LucentFlux/wasm-gpu-go/log"
	"github.com/LucentFlux/wasm-gpu-go/wasmin"
	"go.uber.org/zap"
)

// Options gates the host-capability-dependent choices: whether native f32
// is available, and whether f64 is usable at all.
type Options struct {
	// NativeF32 is true when the target shader host reports native f32
	// support. When false, Objects still serves f32 through NativeF32's
	// implementation (single-precision IEEE-754 is assumed universally
	// available on any GPU this core targets - see DESIGN.md) but the flag
	// is threaded through so a future soft-float backend can override it.
	NativeF32 bool
	// SupportF64 gates whether f64 is usable at all. When false, any
	// function whose signature or body touches f64 fails translation with
	// faults.UnsupportedType.
	SupportF64 bool
}

// DefaultOptions is the capability set assumed when a caller does not
// override it: native f32 (universal on compute-capable GPUs) and f64
// enabled (individual unsupported f64 opcodes still fail per-opcode).
func DefaultOptions() Options {
	return Options{NativeF32: true, SupportF64: true}
}

// TypeImpl is a per-wasm-value-type implementer of the standard-objects
// slots. The codec
// functions themselves are generated generically (codec.go); an impl only
// supplies the word-level (de)composition of its value representation.
type TypeImpl interface {
	ValueType() wasmin.ValueType
	Type(o *Objects) (ir.TypeHandle, error)
	Default(o *Objects) (ir.ConstHandle, error)
	SizeBytes(o *Objects) (uint32, error)
	// FromWords composes a value expression from its SizeBytes/4 buffer
	// words, least-significant word first.
	FromWords(o *Objects, ctx *ir.BlockContext, words []ir.ExprHandle) (ir.ExprHandle, error)
	// ToWords decomposes a value expression into its buffer words,
	// least-significant word first.
	ToWords(o *Objects, ctx *ir.BlockContext, value ir.ExprHandle) ([]ir.ExprHandle, error)
	// Op returns the function implementing a single numeric wasm opcode
	// (arithmetic, comparison or conversion; conversions are owned by
	// their result type's impl). Opcodes this type's implementation
	// cannot (yet) lower return faults.UnsupportedInstruction rather than
	// miscompiling.
	Op(o *Objects, op wasmin.Opcode) (*ir.Function, error)
}

// ValueObjects is the resolved-on-demand slot set for one wasm value type.
type ValueObjects struct {
	impl TypeImpl

	ty   cell[ir.TypeHandle]
	def  cell[ir.ConstHandle]
	size cell[uint32]

	readInput    cell[*ir.Function]
	writeOutput  cell[*ir.Function]
	readMemory   cell[*ir.Function]
	writeMemory  cell[*ir.Function]
	readMutGlob  cell[*ir.Function]
	writeMutGlob cell[*ir.Function]
	readImmGlob  cell[*ir.Function]
	readStack    cell[*ir.Function]
	writeStack   cell[*ir.Function]

	ops     map[wasmin.Opcode]*cell[*ir.Function]
	miscOps map[wasmin.MiscOpcode]*cell[*ir.Function]
}

func newValueObjects(impl TypeImpl) *ValueObjects {
	return &ValueObjects{
		impl:    impl,
		ops:     make(map[wasmin.Opcode]*cell[*ir.Function]),
		miscOps: make(map[wasmin.MiscOpcode]*cell[*ir.Function]),
	}
}

// miscImpl is implemented by the TypeImpls that lower misc-prefixed opcodes
// (the saturating float-to-int conversion family).
type miscImpl interface {
	MiscOp(o *Objects, m wasmin.MiscOpcode) (*ir.Function, error)
}

// Objects is the per-output-module Standard Objects catalog.
type Objects struct {
	Module  *ir.Module
	Options Options

	values map[wasmin.ValueType]*ValueObjects

	trap       cell[*ir.Function]
	instanceID cell[ir.GlobalHandle]
	stackPtr   cell[ir.GlobalHandle]
	brain      cell[*ir.Function]
	memorySize cell[*ir.Function]
	memoryGrow cell[*ir.Function]
}

// New returns an Objects bound to m. Nothing is generated until first
// requested.
func New(m *ir.Module, opts Options) *Objects {
	return &Objects{
		Module:  m,
		Options: opts,
		values:  make(map[wasmin.ValueType]*ValueObjects),
	}
}

func (o *Objects) value(vt wasmin.ValueType) (*ValueObjects, error) {
	if v, ok := o.values[vt]; ok {
		return v, nil
	}
	impl, err := implFor(vt, o.Options)
	if err != nil {
		return nil, err
	}
	v := newValueObjects(impl)
	o.values[vt] = v
	return v, nil
}

func implFor(vt wasmin.ValueType, opts Options) (TypeImpl, error) {
	switch vt {
	case wasmin.ValueTypeI32:
		return nativeI32{}, nil
	case wasmin.ValueTypeF32:
		return nativeF32{}, nil
	case wasmin.ValueTypeI64:
		return polyfillI64{}, nil
	case wasmin.ValueTypeF64:
		if !opts.SupportF64 {
			return nil, faults.UnsupportedType("f64")
		}
		return polyfillF64{}, nil
	case wasmin.ValueTypeV128:
		return polyfillV128{}, nil
	case wasmin.ValueTypeFuncRef:
		return polyfillRef{kind: wasmin.ValueTypeFuncRef, name: "funcref"}, nil
	case wasmin.ValueTypeExternRef:
		return polyfillRef{kind: wasmin.ValueTypeExternRef, name: "externref"}, nil
	default:
		return nil, faults.UnsupportedType(fmt.Sprintf("valtype(%d)", vt))
	}
}

// Ty returns the shader-IR type handle for vt.
func (o *Objects) Ty(vt wasmin.ValueType) (ir.TypeHandle, error) {
	v, err := o.value(vt)
	if err != nil {
		return ir.InvalidTypeHandle, err
	}
	return v.ty.Resolve(func() (ir.TypeHandle, error) { return v.impl.Type(o) })
}

// Default returns the zero-value constant for vt.
func (o *Objects) Default(vt wasmin.ValueType) (ir.ConstHandle, error) {
	v, err := o.value(vt)
	if err != nil {
		return ir.InvalidConstHandle, err
	}
	return v.def.Resolve(func() (ir.ConstHandle, error) { return v.impl.Default(o) })
}

// SizeBytes returns vt's in-buffer byte size.
func (o *Objects) SizeBytes(vt wasmin.ValueType) (uint32, error) {
	v, err := o.value(vt)
	if err != nil {
		return 0, err
	}
	return v.size.Resolve(func() (uint32, error) { return v.impl.SizeBytes(o) })
}

// FromWords composes a vt value from its buffer words in ctx.
func (o *Objects) FromWords(vt wasmin.ValueType, ctx *ir.BlockContext, words []ir.ExprHandle) (ir.ExprHandle, error) {
	v, err := o.value(vt)
	if err != nil {
		return ir.InvalidExprHandle, err
	}
	return v.impl.FromWords(o, ctx, words)
}

// ToWords decomposes a vt value into its buffer words in ctx.
func (o *Objects) ToWords(vt wasmin.ValueType, ctx *ir.BlockContext, value ir.ExprHandle) ([]ir.ExprHandle, error) {
	v, err := o.value(vt)
	if err != nil {
		return nil, err
	}
	return v.impl.ToWords(o, ctx, value)
}

// ReadInput returns `fn(word_address: u32) -> T` over the input binding.
// The address is absolute: the entry-point wrapper adds the per-invocation
// base itself.
func (o *Objects) ReadInput(vt wasmin.ValueType) (*ir.Function, error) {
	v, err := o.value(vt)
	if err != nil {
		return nil, err
	}
	return v.readInput.Resolve(func() (*ir.Function, error) {
		return o.buildRead(v, codecName(vt, "read_input"), ir.BindingInput, strideNone)
	})
}

// WriteOutput returns `fn(word_address: u32, value: T)` over the output
// binding; the address is absolute, as for ReadInput.
func (o *Objects) WriteOutput(vt wasmin.ValueType) (*ir.Function, error) {
	v, err := o.value(vt)
	if err != nil {
		return nil, err
	}
	return v.writeOutput.Resolve(func() (*ir.Function, error) {
		return o.buildWrite(v, codecName(vt, "write_output"), ir.BindingOutput, strideNone)
	})
}

// ReadMemory returns `fn(word_address: u32) -> T` over the memory binding.
// The address is invocation-relative; the function adds this invocation's
// memory base itself.
func (o *Objects) ReadMemory(vt wasmin.ValueType) (*ir.Function, error) {
	v, err := o.value(vt)
	if err != nil {
		return nil, err
	}
	return v.readMemory.Resolve(func() (*ir.Function, error) {
		return o.buildRead(v, codecName(vt, "read_memory"), ir.BindingMemory, strideMemory)
	})
}

// WriteMemory returns `fn(word_address: u32, value: T)` over the memory
// binding, invocation-relative like ReadMemory.
func (o *Objects) WriteMemory(vt wasmin.ValueType) (*ir.Function, error) {
	v, err := o.value(vt)
	if err != nil {
		return nil, err
	}
	return v.writeMemory.Resolve(func() (*ir.Function, error) {
		return o.buildWrite(v, codecName(vt, "write_memory"), ir.BindingMemory, strideMemory)
	})
}

// ReadGlobal returns the read codec for a wasm global of type vt living in
// the mutable (per-invocation) or immutable (shared) globals binding.
func (o *Objects) ReadGlobal(vt wasmin.ValueType, mutable bool) (*ir.Function, error) {
	v, err := o.value(vt)
	if err != nil {
		return nil, err
	}
	if mutable {
		return v.readMutGlob.Resolve(func() (*ir.Function, error) {
			return o.buildRead(v, codecName(vt, "read_mutable_global"), ir.BindingMutableGlobals, strideMutableGlobals)
		})
	}
	return v.readImmGlob.Resolve(func() (*ir.Function, error) {
		return o.buildRead(v, codecName(vt, "read_immutable_global"), ir.BindingImmutableGlobals, strideNone)
	})
}

// WriteGlobal returns the write codec for a mutable wasm global of type vt.
// Immutable globals have no write codec: global.set on one is rejected
// upstream by validation.
func (o *Objects) WriteGlobal(vt wasmin.ValueType) (*ir.Function, error) {
	v, err := o.value(vt)
	if err != nil {
		return nil, err
	}
	return v.writeMutGlob.Resolve(func() (*ir.Function, error) {
		return o.buildWrite(v, codecName(vt, "write_mutable_global"), ir.BindingMutableGlobals, strideMutableGlobals)
	})
}

// ReadStack and WriteStack are the codecs over the indirect-call dispatch
// area (the stack binding): the caller marshals arguments into its
// invocation's stripe before calling the brain function, and unmarshals
// results after it returns.
func (o *Objects) ReadStack(vt wasmin.ValueType) (*ir.Function, error) {
	v, err := o.value(vt)
	if err != nil {
		return nil, err
	}
	return v.readStack.Resolve(func() (*ir.Function, error) {
		return o.buildRead(v, codecName(vt, "read_stack"), ir.BindingStack, strideStack)
	})
}

func (o *Objects) WriteStack(vt wasmin.ValueType) (*ir.Function, error) {
	v, err := o.value(vt)
	if err != nil {
		return nil, err
	}
	return v.writeStack.Resolve(func() (*ir.Function, error) {
		return o.buildWrite(v, codecName(vt, "write_stack"), ir.BindingStack, strideStack)
	})
}

// Op returns the function implementing a single numeric wasm opcode. For
// same-type arithmetic vt is the operand type; for conversions vt is the
// result type (each impl owns the conversions that produce its type).
func (o *Objects) Op(vt wasmin.ValueType, op wasmin.Opcode) (*ir.Function, error) {
	v, err := o.value(vt)
	if err != nil {
		return nil, err
	}
	c, ok := v.ops[op]
	if !ok {
		c = &cell[*ir.Function]{name: fmt.Sprintf("%s.op(0x%02x)", vt, op)}
		v.ops[op] = c
	}
	fn, err := c.Resolve(func() (*ir.Function, error) { return v.impl.Op(o, op) })
	if err != nil {
		log.Logger().Debug("stdobjects: opcode unavailable", zap.Stringer("type", vt), zap.Error(err))
	}
	return fn, err
}

// MiscOp returns the function implementing a misc-prefixed opcode whose
// result type is vt (the saturating conversions; bulk-memory and beyond are
// rejected before reaching here).
func (o *Objects) MiscOp(vt wasmin.ValueType, m wasmin.MiscOpcode) (*ir.Function, error) {
	v, err := o.value(vt)
	if err != nil {
		return nil, err
	}
	mi, ok := v.impl.(miscImpl)
	if !ok {
		return nil, faults.UnsupportedInstruction(fmt.Sprintf("%s misc opcode(0x%02x)", vt, byte(m)))
	}
	c, ok := v.miscOps[m]
	if !ok {
		c = &cell[*ir.Function]{name: fmt.Sprintf("%s.misc(0x%02x)", vt, m)}
		v.miscOps[m] = c
	}
	return c.Resolve(func() (*ir.Function, error) { return mi.MiscOp(o, m) })
}

// MemorySize returns `fn() -> i32` yielding the current linear-memory size
// in wasm pages, read from the constants binding.
func (o *Objects) MemorySize() (*ir.Function, error) {
	return o.memorySize.Resolve(func() (*ir.Function, error) {
		i32 := o.Module.Types.I32()
		fn, ctx := addFunction(o, "__memory_size", nil, i32)
		lenBytes := o.constantWord(ctx, ConstantWordMemoryBytes)
		page := ctx.AppendLiteral(ir.LiteralU32(WasmPageBytes))
		pages := ctx.Binary(ir.BinDivide, lenBytes, page)
		ctx.Return(ctx.As(pages, ir.Sint, 4))
		ctx.Finish()
		return fn, nil
	})
}

// MemoryGrow returns `fn(delta: i32) -> i32`. Growing memory during a
// dispatch is a non-goal, so the function always refuses: it returns -1
// without touching the memory binding, which is the result wasm mandates
// for a failed grow.
func (o *Objects) MemoryGrow() (*ir.Function, error) {
	return o.memoryGrow.Resolve(func() (*ir.Function, error) {
		i32 := o.Module.Types.I32()
		fn, ctx := addFunction(o, "__memory_grow", []ir.TypeHandle{i32}, i32)
		ctx.Return(ctx.AppendLiteral(ir.LiteralI32(-1)))
		ctx.Finish()
		return fn, nil
	})
}

// addFunction declares a new internal shader function, registers it with
// the module, and returns both the *ir.Function and a ready BlockContext
// pointed at its body - the pattern every codec/arithmetic generator below
// follows.
func addFunction(o *Objects, name string, params []ir.TypeHandle, result ir.TypeHandle) (*ir.Function, *ir.BlockContext) {
	fn := ir.NewFunction(name, params, result)
	o.Module.AddFunction(fn)
	return fn, ir.NewBlockContext(fn)
}

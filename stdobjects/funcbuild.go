package stdobjects

import "github.com/LucentFlux/wasm-gpu-go/ir"

// binaryFn declares `fn name(a: ty, b: ty) -> ty` and hands build a
// BlockContext plus the two argument expressions to fill its body; build
// returns the expression to return.
func binaryFn(o *Objects, name string, ty ir.TypeHandle, build func(ctx *ir.BlockContext, a, b ir.ExprHandle) ir.ExprHandle) (*ir.Function, error) {
	fn, ctx := addFunction(o, name, []ir.TypeHandle{ty, ty}, ty)
	a := ctx.AppendArgument(0)
	b := ctx.AppendArgument(1)
	ctx.Return(build(ctx, a, b))
	ctx.Finish()
	return fn, nil
}

// binaryFnResult is binaryFn for operators whose result type differs from
// the operand type (comparisons returning i32).
func binaryFnResult(o *Objects, name string, operand, result ir.TypeHandle, build func(ctx *ir.BlockContext, a, b ir.ExprHandle) ir.ExprHandle) (*ir.Function, error) {
	fn, ctx := addFunction(o, name, []ir.TypeHandle{operand, operand}, result)
	a := ctx.AppendArgument(0)
	b := ctx.AppendArgument(1)
	ctx.Return(build(ctx, a, b))
	ctx.Finish()
	return fn, nil
}

// unaryFn declares `fn name(a: operand) -> result`.
func unaryFn(o *Objects, name string, operand, result ir.TypeHandle, build func(ctx *ir.BlockContext, a ir.ExprHandle) ir.ExprHandle) (*ir.Function, error) {
	fn, ctx := addFunction(o, name, []ir.TypeHandle{operand}, result)
	a := ctx.AppendArgument(0)
	ctx.Return(build(ctx, a))
	ctx.Finish()
	return fn, nil
}

// boolToI32 widens a bool expression to the wasm-visible i32 0/1 result
// every comparison opcode produces.
func boolToI32(ctx *ir.BlockContext, i32 ir.TypeHandle, cond ir.ExprHandle) ir.ExprHandle {
	return ctx.As(cond, ir.Sint, 4)
}

package ir

// BlockContext owns the "current" statement block being appended to, and
// enforces the emit discipline - every derived expression appended via
// AppendExpr is tracked in a pending range, and that range is flushed as a
// StmtEmit the next time a statement is pushed (or the block ends), exactly
// once, in append order.
type BlockContext struct {
	function *Function
	block    *Block

	// pendingStart is the first ExprHandle not yet covered by a StmtEmit,
	// or InvalidExprHandle if nothing is pending.
	pendingStart ExprHandle
}

// NewBlockContext returns a BlockContext appending to fn's top-level Body.
func NewBlockContext(fn *Function) *BlockContext {
	return &BlockContext{function: fn, block: &fn.Body, pendingStart: InvalidExprHandle}
}

// nested returns a BlockContext appending to a different block (an If's
// Accept/Reject arm, a Loop's Body/Continuing) while sharing the same
// Function arena.
func (b *BlockContext) nested(block *Block) *BlockContext {
	return &BlockContext{function: b.function, block: block, pendingStart: InvalidExprHandle}
}

// flushEmit closes the pending derived-expression range, if any, by pushing
// a StmtEmit statement covering it. Called automatically before any
// non-Emit statement is pushed and at block end.
func (b *BlockContext) flushEmit() {
	if b.pendingStart == InvalidExprHandle {
		return
	}
	end := ExprHandle(b.function.Expressions.Len())
	if end > b.pendingStart {
		*b.block = append(*b.block, Statement{Kind: StmtEmit, RangeStart: b.pendingStart, RangeEnd: end})
	}
	b.pendingStart = InvalidExprHandle
}

// AppendExpr appends e to the function's expression arena. If e is a
// derived kind, it is folded into the pending emit range instead of being
// immediately visible; pure kinds need no range and may be referenced
// right away. Callers never construct a StmtEmit by hand.
func (b *BlockContext) AppendExpr(e Expression) ExprHandle {
	h := b.function.Expressions.append(e)
	if e.Kind.IsDerived() {
		if b.pendingStart == InvalidExprHandle {
			b.pendingStart = h
		}
	}
	return h
}

// AppendLiteral appends a pure literal expression.
func (b *BlockContext) AppendLiteral(lit Literal) ExprHandle {
	return b.AppendExpr(Expression{Kind: ExprLiteral, Literal: &lit})
}

// AppendConstant appends a pure reference to an interned module constant.
func (b *BlockContext) AppendConstant(c ConstHandle) ExprHandle {
	return b.AppendExpr(Expression{Kind: ExprConstant, Constant: c})
}

// AppendZeroValue appends a pure zero-value expression of the given type
// (used to zero-initialize wasm locals without paying for an interned
// constant per type).
func (b *BlockContext) AppendZeroValue(ty TypeHandle) ExprHandle {
	return b.AppendExpr(Expression{Kind: ExprZeroValue, ComposeType: ty})
}

// AppendArgument appends a pure reference to the argIndex'th parameter.
func (b *BlockContext) AppendArgument(argIndex int) ExprHandle {
	return b.AppendExpr(Expression{Kind: ExprFunctionArgument, ArgumentIndex: argIndex})
}

// AppendLocal appends a pure reference to a function-local variable.
func (b *BlockContext) AppendLocal(h LocalHandle) ExprHandle {
	return b.AppendExpr(Expression{Kind: ExprLocalVariable, LocalVar: h})
}

// AppendGlobal appends a pure reference to a module-scope storage binding.
func (b *BlockContext) AppendGlobal(h GlobalHandle) ExprHandle {
	return b.AppendExpr(Expression{Kind: ExprGlobalVariable, GlobalVar: h})
}

// Compose appends a derived Compose expression (e.g. building a uvec2 i64
// polyfill value from its low/high words).
func (b *BlockContext) Compose(ty TypeHandle, components []ExprHandle) ExprHandle {
	return b.AppendExpr(Expression{Kind: ExprCompose, ComposeType: ty, Components: components})
}

// AccessIndex appends a derived static-index access (struct field or
// constant-lane vector access).
func (b *BlockContext) AccessIndex(base ExprHandle, index uint32) ExprHandle {
	return b.AppendExpr(Expression{Kind: ExprAccessIndex, Base: base, IndexConst: index})
}

// Access appends a derived dynamic-index access (runtime array/vector
// indexing, used for memory/table/data word addressing).
func (b *BlockContext) Access(base, index ExprHandle) ExprHandle {
	return b.AppendExpr(Expression{Kind: ExprAccess, Base: base, Index: index})
}

// Load appends a derived pointer dereference.
func (b *BlockContext) Load(pointer ExprHandle) ExprHandle {
	return b.AppendExpr(Expression{Kind: ExprLoad, Base: pointer})
}

// Unary appends a derived unary operation.
func (b *BlockContext) Unary(op UnaryOp, operand ExprHandle) ExprHandle {
	return b.AppendExpr(Expression{Kind: ExprUnary, UnaryOp: op, Base: operand})
}

// Binary appends a derived binary operation.
func (b *BlockContext) Binary(op BinaryOp, left, right ExprHandle) ExprHandle {
	return b.AppendExpr(Expression{Kind: ExprBinary, BinaryOp: op, Left: left, Right: right})
}

// Select appends a derived ternary select (wasm's select / typed select).
func (b *BlockContext) Select(cond, accept, reject ExprHandle) ExprHandle {
	return b.AppendExpr(Expression{Kind: ExprSelect, SelectCond: cond, SelectAccept: accept, SelectReject: reject})
}

// Math appends a derived builtin math call.
func (b *BlockContext) Math(fn MathFn, args ...ExprHandle) ExprHandle {
	return b.AppendExpr(Expression{Kind: ExprMath, MathFn: fn, MathArgs: args})
}

// As appends a derived, value-preserving numeric conversion (e.g.
// i32.trunc_f32_s, f32.convert_i32_u) - the result represents the same
// number as the operand, not the same bit pattern.
func (b *BlockContext) As(operand ExprHandle, kind ScalarKind, width byte) ExprHandle {
	return b.AppendExpr(Expression{Kind: ExprAs, Base: operand, AsKind: kind, AsWidth: width})
}

// Bitcast appends a derived reinterpret of operand's bit pattern as a
// different scalar kind/width with no value conversion (e.g.
// i32.reinterpret_f32, and the word<->f32 step of the f32 codec).
func (b *BlockContext) Bitcast(operand ExprHandle, kind ScalarKind, width byte) ExprHandle {
	return b.AppendExpr(Expression{Kind: ExprBitcast, Base: operand, AsKind: kind, AsWidth: width})
}

// Splat appends a derived scalar-to-vector broadcast.
func (b *BlockContext) Splat(ty TypeHandle, operand ExprHandle) ExprHandle {
	return b.AppendExpr(Expression{Kind: ExprSplat, SplatType: ty, Base: operand})
}

// Store pushes *pointer = value, flushing any pending emit range first so
// the store can reference every derived expression that precedes it.
func (b *BlockContext) Store(pointer, value ExprHandle) {
	b.flushEmit()
	*b.block = append(*b.block, Statement{Kind: StmtStore, Pointer: pointer, Value: value})
}

// CallVoid pushes a call to a void function.
func (b *BlockContext) CallVoid(fn *Function, args []ExprHandle) {
	b.flushEmit()
	*b.block = append(*b.block, Statement{Kind: StmtCall, Function: fn, CallArgs: args})
}

// CallWithResult pushes a call to fn and returns a pure expression bound to
// its return value. The result is stashed in a synthetic local so it can be
// referenced like any other pure expression without itself needing an emit
// range.
func (b *BlockContext) CallWithResult(fn *Function, args []ExprHandle, resultType TypeHandle) ExprHandle {
	b.flushEmit()
	local := b.function.AddLocal("call_result", resultType)
	*b.block = append(*b.block, Statement{Kind: StmtCall, Function: fn, CallArgs: args, CallResult: &local})
	return b.AppendExpr(Expression{Kind: ExprCallResult, CallResultOf: fn, LocalVar: local})
}

// IfBuilder scopes the Accept/Reject arms of an If statement so callers
// cannot accidentally keep writing into the parent block after opening one.
type IfBuilder struct {
	parent *BlockContext
	stmt   *Statement
}

// If opens an if/else: cond is evaluated in the parent block (so must
// already be flushed-visible), and the returned IfBuilder exposes Then/
// Otherwise to populate each arm. The statement is appended to the parent
// block immediately so statement order is preserved; Then/Otherwise append
// directly into its Accept/Reject slices by pointer.
func (b *BlockContext) If(cond ExprHandle) *IfBuilder {
	b.flushEmit()
	*b.block = append(*b.block, Statement{Kind: StmtIf, Condition: cond})
	return &IfBuilder{parent: b, stmt: &(*b.block)[len(*b.block)-1]}
}

// Then returns a BlockContext appending to the if's "then" arm.
func (ib *IfBuilder) Then() *BlockContext { return ib.parent.nested(&ib.stmt.Accept) }

// Otherwise returns a BlockContext appending to the if's "else" arm.
func (ib *IfBuilder) Otherwise() *BlockContext { return ib.parent.nested(&ib.stmt.Reject) }

// LoopBuilder scopes a Loop statement's Body/Continuing blocks.
type LoopBuilder struct {
	parent *BlockContext
	stmt   *Statement
}

// Loop opens a loop statement with no break condition; callers that need
// one set it with BreakIf after building the continuing block.
func (b *BlockContext) Loop() *LoopBuilder {
	b.flushEmit()
	*b.block = append(*b.block, Statement{Kind: StmtLoop, BreakIf: InvalidExprHandle})
	return &LoopBuilder{parent: b, stmt: &(*b.block)[len(*b.block)-1]}
}

// Body returns a BlockContext appending to the loop's repeating body.
func (lb *LoopBuilder) Body() *BlockContext { return lb.parent.nested(&lb.stmt.Body) }

// Continuing returns a BlockContext appending to the loop's per-iteration
// continuing block.
func (lb *LoopBuilder) Continuing() *BlockContext { return lb.parent.nested(&lb.stmt.Continuing) }

// BreakIf installs the loop's exit condition: cond must be an expression
// emitted within the Continuing block. The loop exits after an iteration
// whose continuing block evaluates cond to true.
func (lb *LoopBuilder) BreakIf(cond ExprHandle) { lb.stmt.BreakIf = cond }

// Return pushes a value-returning return statement.
func (b *BlockContext) Return(value ExprHandle) {
	b.flushEmit()
	*b.block = append(*b.block, Statement{Kind: StmtReturn, ReturnValue: value})
}

// ReturnVoid pushes a void return statement.
func (b *BlockContext) ReturnVoid() {
	b.flushEmit()
	*b.block = append(*b.block, Statement{Kind: StmtReturn, ReturnValue: InvalidExprHandle})
}

// Kill pushes the statement that halts this invocation after a trap code
// has been stored to the flags buffer.
func (b *BlockContext) Kill() {
	b.flushEmit()
	*b.block = append(*b.block, Statement{Kind: StmtKill})
}

// Finish flushes any remaining pending emit range. Callers must invoke this
// once after the last statement is pushed to the top-level BlockContext (nested
// contexts flush automatically on every subsequent statement but the very
// last arm written also needs an explicit Finish since there is no further
// statement to trigger it).
func (b *BlockContext) Finish() {
	b.flushEmit()
}

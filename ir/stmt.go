package ir

// LocalHandle indexes a Function's Locals slice.
type LocalHandle int

// GlobalHandle indexes a Module's GlobalVariables slice.
type GlobalHandle int

// StmtKind discriminates the shape of a Statement.
type StmtKind byte

const (
	StmtEmit StmtKind = iota
	StmtStore
	StmtCall
	StmtIf
	StmtLoop
	StmtReturn
	StmtKill
)

// Block is an ordered sequence of statements, the body of a function or of
// an If/Loop statement's arm.
type Block []Statement

// Statement is one node of a Function's body. Only the fields relevant to
// Kind are populated.
type Statement struct {
	Kind StmtKind

	// StmtEmit: the contiguous range [RangeStart, RangeEnd) of derived
	// expressions this statement makes visible to later statements. Every
	// derived expression appended to the arena must eventually be covered
	// by exactly one such range, in append order.
	RangeStart, RangeEnd ExprHandle

	// StmtStore: *Pointer = Value.
	Pointer ExprHandle
	Value   ExprHandle

	// StmtCall.
	Function *Function
	CallArgs []ExprHandle
	// CallResult, if non-nil, is the local that receives the call's return
	// value; BlockContext.CallWithResult allocates it when it builds the
	// statement and reads it back as a pure ExprCallResult expression.
	CallResult *LocalHandle

	// StmtIf.
	Condition ExprHandle
	Accept    Block
	Reject    Block

	// StmtLoop: Body runs, then Continuing, then BreakIf is tested: true
	// exits the loop, false (or InvalidExprHandle, meaning no break
	// condition) repeats. BreakIf must be an expression emitted within the
	// Continuing block.
	Body       Block
	Continuing Block
	BreakIf    ExprHandle

	// StmtReturn: Value is InvalidExprHandle for a void return.
	ReturnValue ExprHandle

	// StmtKill carries no payload: it is the translator's encoding of a
	// wasm trap (a preceding Store into the flags buffer sets the trap
	// code, then Kill halts the invocation).
}

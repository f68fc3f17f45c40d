package ir

// ExprHandle is an SSA-like handle into a Function's expression arena.
type ExprHandle int

const InvalidExprHandle ExprHandle = -1

// UnaryOp is a unary expression operator.
type UnaryOp byte

const (
	UnaryNegate UnaryOp = iota
	UnaryNot       // bitwise/boolean not
	UnaryCountLeadingZeros
	UnaryCountTrailingZeros
	UnaryCountOneBits
)

// BinaryOp is a binary expression operator.
type BinaryOp byte

const (
	BinAdd BinaryOp = iota
	BinSubtract
	BinMultiply
	BinDivide
	BinModulo
	BinEqual
	BinNotEqual
	BinLess
	BinLessEqual
	BinGreater
	BinGreaterEqual
	BinAnd // bitwise
	BinOr  // bitwise
	BinExclusiveOr
	BinShiftLeft
	BinShiftRight
	BinLogicalAnd
	BinLogicalOr
)

// MathFn is a builtin math intrinsic, used by float polyfills and native
// f32 ops alike.
type MathFn byte

const (
	MathAbs MathFn = iota
	MathCeil
	MathFloor
	MathTrunc
	MathRound // round-to-nearest-even, wasm's "nearest"
	MathSqrt
	MathMin
	MathMax
	MathClamp
	MathSign  // copysign helper: sign bit extraction
	MathExtractBits
	MathInsertBits
	MathCountLeadingZeros
	MathCountTrailingZeros
	MathCountOneBits
	MathReverseBits
)

// Expression is one node of a Function's expression arena. Only the fields
// relevant to Kind are populated. The Kind determines whether this
// expression is "pure" (no Emit statement required before it may be
// referenced - see IsDerived) or "derived" (must be covered by an Emit
// range).
type Expression struct {
	Kind ExprKind

	// Pure kinds.
	Literal         *Literal
	Constant        ConstHandle
	ArgumentIndex   int
	LocalVar        LocalHandle
	GlobalVar       GlobalHandle
	CallResultOf    *Function

	// Derived kinds.
	ComposeType  TypeHandle
	Components   []ExprHandle // Compose
	Base         ExprHandle   // Access, AccessIndex, Load, As, Splat
	Index        ExprHandle   // Access (dynamic index)
	IndexConst   uint32       // AccessIndex (static field/lane index)
	UnaryOp      UnaryOp
	BinaryOp     BinaryOp
	Left, Right  ExprHandle // Binary
	SelectCond   ExprHandle
	SelectAccept ExprHandle
	SelectReject ExprHandle
	MathFn       MathFn
	MathArgs     []ExprHandle
	AsKind       ScalarKind // As: target scalar kind
	AsWidth      byte       // As: target width
	SplatType    TypeHandle
}

// ExprKind discriminates the shape of an Expression.
type ExprKind byte

const (
	ExprLiteral ExprKind = iota
	ExprConstant
	ExprFunctionArgument
	ExprLocalVariable
	ExprGlobalVariable
	ExprCallResult
	ExprCompose
	ExprAccess
	ExprAccessIndex
	ExprLoad
	ExprUnary
	ExprBinary
	ExprSelect
	ExprMath
	ExprAs
	ExprBitcast
	ExprSplat
	ExprZeroValue
)

// IsDerived reports whether an expression of this kind must be covered by an
// Emit statement before any later statement may reference it: literals,
// constants, arguments, local/global references and call results are
// "pure"; everything else is "derived". See BlockContext.AppendExpr.
func (k ExprKind) IsDerived() bool {
	switch k {
	case ExprLiteral, ExprConstant, ExprFunctionArgument, ExprLocalVariable,
		ExprGlobalVariable, ExprCallResult, ExprZeroValue:
		return false
	default:
		return true
	}
}

// ExpressionArena is a per-function, append-only arena of Expressions,
// addressed by ExprHandle.
type ExpressionArena struct {
	exprs []Expression
}

func (a *ExpressionArena) append(e Expression) ExprHandle {
	h := ExprHandle(len(a.exprs))
	a.exprs = append(a.exprs, e)
	return h
}

func (a *ExpressionArena) Get(h ExprHandle) Expression { return a.exprs[h] }
func (a *ExpressionArena) Len() int                    { return len(a.exprs) }

func (a *ExpressionArena) reset() { a.exprs = a.exprs[:0] }

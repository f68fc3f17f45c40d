package translate

import (
	"fmt"

	"github.com/LucentFlux/wasm-gpu-go/faults"
	"github.com/LucentFlux/wasm-gpu-go/ir"
	"github.com/LucentFlux/wasm-gpu-go/wasmin"
)

type blockKind byte

const (
	kindFunction blockKind = iota
	kindBlock
	kindLoop
	kindIf
)

// stackValue is one entry of the translator's value stack: the shader-IR
// expression handle plus the wasm type it carries (the type drives which
// standard-objects slot each opcode resolves).
type stackValue struct {
	vt   wasmin.ValueType
	expr ir.ExprHandle
}

// activeBlock is the block translator's per-structured-block state: the
// value stack, the innermost emit target, the escape
// label, and the result plumbing for branches that target this block.
//
// Branch lowering follows the escape-flag discipline: `br k` stores the
// branch's operand values into the target block's result locals, then sets
// the label of every enclosing block up to and including the target. Each
// block whose remainder must be skipped tests its own label: conditional
// branches wrap the remainder of the current block in `if !label { ... }`
// (guardRemainder), and a parent does the same after a child that branches
// beyond itself closes. A block clears its own label at its end, so a
// branch that stops there falls through to the block's continuation while
// a branch that continues outward leaves the outer labels set.
type activeBlock struct {
	t *translator
	f *internalFunction

	parent *activeBlock
	kind   blockKind
	id     int

	paramTypes  []wasmin.ValueType
	resultTypes []wasmin.ValueType

	stack []stackValue

	// entryCtx is where this block's statements begin: the parent's
	// current context for straight blocks, the loop body for loops, the
	// containing context (holding the If statement) for if-blocks.
	entryCtx *ir.BlockContext
	// ctx is the innermost open guard arm; statements append here.
	ctx    *ir.BlockContext
	guards []*ir.IfBuilder

	label        ir.LocalHandle
	resultLocals []ir.LocalHandle

	loop         *ir.LoopBuilder
	loopParams   []ir.LocalHandle
	continueFlag ir.LocalHandle

	ifb      *ir.IfBuilder
	ifInputs []stackValue
	elseSeen bool
	// anyArmExit records whether any if-arm's end was reachable, for the
	// exit-reachability of the whole if.
	anyArmExit bool

	// reachable is fallthrough reachability at the current translation
	// point; cleared by unconditional transfers until the next else/end.
	reachable bool
	// maxOut is the highest number of levels beyond this block that any
	// branch lowered inside it escapes: >= 1 means the parent must guard
	// its remainder once this block closes.
	maxOut int

	// fallthroughVals carries the block results directly when no branch
	// ever targeted the block and no guard was opened (the exprs then
	// still dominate the parent's continuation).
	fallthroughVals []stackValue
	exitReachable   bool
}

const noLocal ir.LocalHandle = -1

func blockLocalName(id int, role string, i int) string {
	return fmt.Sprintf("block_%d_%s_%d", id, role, i)
}

func (t *translator) newFunctionBlock(f *internalFunction, ctx *ir.BlockContext) *activeBlock {
	return &activeBlock{
		t: t, f: f,
		kind:         kindFunction,
		id:           f.nextBlockID(),
		resultTypes:  f.resultTypes,
		entryCtx:     ctx,
		ctx:          ctx,
		label:        noLocal,
		continueFlag: noLocal,
		reachable:    true,
	}
}

func (b *activeBlock) push(vt wasmin.ValueType, expr ir.ExprHandle) {
	b.stack = append(b.stack, stackValue{vt: vt, expr: expr})
}

func (b *activeBlock) pop() (stackValue, error) {
	if len(b.stack) == 0 {
		return stackValue{}, faults.Internal("value stack underflow")
	}
	v := b.stack[len(b.stack)-1]
	b.stack = b.stack[:len(b.stack)-1]
	return v, nil
}

func (b *activeBlock) popExpect(vt wasmin.ValueType) (ir.ExprHandle, error) {
	v, err := b.pop()
	if err != nil {
		return ir.InvalidExprHandle, err
	}
	if v.vt != vt {
		return ir.InvalidExprHandle, faults.Internalf("stack type mismatch: got %s, want %s", v.vt, vt)
	}
	return v.expr, nil
}

// popSeq pops len(vts) values whose types match vts in declaration order
// (vts[len-1] on top).
func (b *activeBlock) popSeq(vts []wasmin.ValueType) ([]stackValue, error) {
	n := len(vts)
	if len(b.stack) < n {
		return nil, faults.Internal("value stack underflow")
	}
	vals := make([]stackValue, n)
	copy(vals, b.stack[len(b.stack)-n:])
	b.stack = b.stack[:len(b.stack)-n]
	for i, vt := range vts {
		if vals[i].vt != vt {
			return nil, faults.Internalf("stack type mismatch at %d: got %s, want %s", i, vals[i].vt, vt)
		}
	}
	return vals, nil
}

// peekSeq is popSeq without consuming (br_if leaves the operands on the
// stack for the fallthrough path).
func (b *activeBlock) peekSeq(vts []wasmin.ValueType) ([]stackValue, error) {
	n := len(vts)
	if len(b.stack) < n {
		return nil, faults.Internal("value stack underflow")
	}
	vals := make([]stackValue, n)
	copy(vals, b.stack[len(b.stack)-n:])
	for i, vt := range vts {
		if vals[i].vt != vt {
			return nil, faults.Internalf("stack type mismatch at %d: got %s, want %s", i, vals[i].vt, vt)
		}
	}
	return vals, nil
}

// ancestor returns the k-th enclosing block, 0 being b itself.
func (b *activeBlock) ancestor(k int) (*activeBlock, error) {
	cur := b
	for i := 0; i < k; i++ {
		if cur.parent == nil {
			return nil, faults.Internalf("branch depth %d exceeds nesting", k)
		}
		cur = cur.parent
	}
	return cur, nil
}

func (b *activeBlock) ensureLabel() ir.LocalHandle {
	if b.label == noLocal {
		boolTy := b.t.objects.Module.Types.Bool()
		b.label = b.f.fn.AddLocal(fmt.Sprintf("block_%d_escape", b.id), boolTy)
	}
	return b.label
}

func (b *activeBlock) ensureContinueFlag() ir.LocalHandle {
	if b.continueFlag == noLocal {
		boolTy := b.t.objects.Module.Types.Bool()
		b.continueFlag = b.f.fn.AddLocal(fmt.Sprintf("block_%d_repeat", b.id), boolTy)
	}
	return b.continueFlag
}

func (b *activeBlock) ensureResultLocals() error {
	if b.resultLocals != nil || len(b.resultTypes) == 0 {
		return nil
	}
	b.resultLocals = make([]ir.LocalHandle, len(b.resultTypes))
	for i, vt := range b.resultTypes {
		ty, err := b.t.objects.Ty(vt)
		if err != nil {
			return err
		}
		b.resultLocals[i] = b.f.fn.AddLocal(fmt.Sprintf("block_%d_result_%d", b.id, i), ty)
	}
	return nil
}

// guardRemainder wraps the rest of this block's body in `if !label { ... }`,
// continuing translation inside the guard's then-arm. Invoked after a
// conditional branch, and after a child block that escapes beyond itself
// closes.
func (b *activeBlock) guardRemainder() {
	lbl := b.ensureLabel()
	set := b.ctx.Load(b.ctx.AppendLocal(lbl))
	falseLit := b.ctx.AppendLiteral(ir.LiteralBool(false))
	notSet := b.ctx.Binary(ir.BinEqual, set, falseLit)
	ifb := b.ctx.If(notSet)
	b.guards = append(b.guards, ifb)
	b.ctx = ifb.Then()
}

// closeGuards finishes the innermost arm and the (empty) otherwise arms of
// every open remainder guard, restoring ctx to the block's entry context.
func (b *activeBlock) closeGuards() {
	b.ctx.Finish()
	for i := len(b.guards) - 1; i >= 0; i-- {
		b.guards[i].Otherwise().Finish()
	}
	b.guards = nil
	b.ctx = b.entryCtx
}

// clearLabel resets the escape flag at the block's continuation point.
func (b *activeBlock) clearLabel(ctx *ir.BlockContext) {
	if b.label == noLocal {
		return
	}
	f := ctx.AppendLiteral(ir.LiteralBool(false))
	ctx.Store(ctx.AppendLocal(b.label), f)
}

// lowerBrTo emits the flag/value stores of a `br k` into c (the current
// context for an unconditional branch, the taken arm for br_if/br_table).
// The value stack is peeked, not popped: the conditional forms keep the
// operands for the fallthrough path, and the unconditional forms discard
// the whole stack right after anyway.
func (b *activeBlock) lowerBrTo(c *ir.BlockContext, k int) error {
	target, err := b.ancestor(k)
	if err != nil {
		return err
	}
	trueLit := c.AppendLiteral(ir.LiteralBool(true))

	if target.kind == kindLoop {
		// A branch to a loop is a continue: refresh the loop's parameter
		// locals and request another iteration.
		if len(target.paramTypes) > 0 {
			vals, err := b.peekSeq(target.paramTypes)
			if err != nil {
				return err
			}
			for i, v := range vals {
				c.Store(c.AppendLocal(target.loopParams[i]), v.expr)
			}
		}
		flag := target.ensureContinueFlag()
		c.Store(c.AppendLocal(flag), trueLit)
	} else if len(target.resultTypes) > 0 {
		if err := target.ensureResultLocals(); err != nil {
			return err
		}
		vals, err := b.peekSeq(target.resultTypes)
		if err != nil {
			return err
		}
		for i, v := range vals {
			c.Store(c.AppendLocal(target.resultLocals[i]), v.expr)
		}
	}

	cur := b
	for i := 0; i <= k; i++ {
		lbl := cur.ensureLabel()
		c.Store(c.AppendLocal(lbl), trueLit)
		cur = cur.parent
	}
	if k > b.maxOut {
		b.maxOut = k
	}
	return nil
}

// lowerReturn emits the function return, composing the result struct for
// multi-result signatures.
func (b *activeBlock) lowerReturn() error {
	n := len(b.f.resultTypes)
	switch n {
	case 0:
		b.ctx.ReturnVoid()
	case 1:
		v, err := b.popExpect(b.f.resultTypes[0])
		if err != nil {
			return err
		}
		b.ctx.Return(v)
	default:
		vals, err := b.popSeq(b.f.resultTypes)
		if err != nil {
			return err
		}
		exprs := make([]ir.ExprHandle, n)
		for i, v := range vals {
			exprs[i] = v.expr
		}
		b.ctx.Return(b.ctx.Compose(b.f.resultStruct, exprs))
	}
	b.reachable = false
	return nil
}

// lowerUnreachable emits the UnreachableCodeReached trap followed by Kill.
func (b *activeBlock) lowerUnreachable() error {
	trapFn, err := b.t.objects.Trap()
	if err != nil {
		return err
	}
	code := b.ctx.AppendLiteral(ir.LiteralU32(uint32(faults.TrapUnreachableCodeReached)))
	b.ctx.CallVoid(trapFn, []ir.ExprHandle{code})
	b.ctx.Kill()
	b.reachable = false
	return nil
}

// skipDead consumes the statically dead opcodes after an unconditional
// transfer, up to this block's own else/end. Nested blocks are skipped
// whole.
func (b *activeBlock) skipDead(r *wasmin.Reader) (sawElse bool, err error) {
	depth := 0
	for {
		raw, err := r.ReadByte()
		if err != nil {
			return false, faults.Internal(err.Error())
		}
		op := wasmin.Opcode(raw)
		switch op {
		case wasmin.OpcodeBlock, wasmin.OpcodeLoop, wasmin.OpcodeIf:
			if _, _, _, err := r.ReadBlockType(); err != nil {
				return false, faults.Internal(err.Error())
			}
			depth++
		case wasmin.OpcodeEnd:
			if depth == 0 {
				return false, nil
			}
			depth--
		case wasmin.OpcodeElse:
			if depth == 0 {
				return true, nil
			}
		default:
			if err := r.SkipImmediates(op); err != nil {
				return false, faults.UnsupportedInstruction(err.Error())
			}
		}
	}
}

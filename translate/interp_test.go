package translate

import (
	"fmt"
	"math"
	"math/bits"
	"testing"

	"github.com/LucentFlux/wasm-gpu-go/ir"
)

// This file is a reference interpreter for the generated shader IR, used as
// the test oracle for the end-to-end scenarios: it walks a Module's
// statements directly against plain word buffers, resolving Emit ranges the
// way a downstream validator would, so a translation bug surfaces as a
// wrong buffer value (or a failed emit-discipline check) rather than
// needing a GPU.

// val is one runtime value: a scalar (kind+bits), a vector (lanes), or a
// struct (fields).
type val struct {
	kind   ir.ScalarKind
	bits   uint32
	lanes  []uint32
	fields []val
}

func scalarVal(kind ir.ScalarKind, bits uint32) val { return val{kind: kind, bits: bits} }

func boolVal(b bool) val {
	if b {
		return val{kind: ir.Bool, bits: 1}
	}
	return val{kind: ir.Bool, bits: 0}
}

func (v val) isTrue() bool { return v.bits != 0 }

func (v val) f32() float32 { return math.Float32frombits(v.bits) }

// machine owns the buffers bound to the module's storage bindings plus the
// private per-invocation globals.
type machine struct {
	t        *testing.T
	m        *ir.Module
	buffers  map[ir.BindingSlot][]uint32
	privates map[ir.GlobalHandle]uint32
	killed   bool
	steps    int
}

func newMachine(t *testing.T, m *ir.Module) *machine {
	return &machine{
		t:        t,
		m:        m,
		buffers:  make(map[ir.BindingSlot][]uint32),
		privates: make(map[ir.GlobalHandle]uint32),
	}
}

// setBuffer installs the backing words for one binding.
func (mc *machine) setBuffer(slot ir.BindingSlot, words []uint32) {
	mc.buffers[slot] = words
}

func (mc *machine) word(slot ir.BindingSlot, idx uint32) *uint32 {
	buf := mc.buffers[slot]
	for uint32(len(buf)) <= idx {
		buf = append(buf, 0)
	}
	mc.buffers[slot] = buf
	return &buf[idx]
}

// frame is one function activation.
type frame struct {
	fn       *ir.Function
	args     []val
	locals   []val
	exprs    map[ir.ExprHandle]val
	returned bool
	ret      *val
}

// runEntry dispatches one invocation of ep.
func (mc *machine) runEntry(ep *ir.EntryPoint, instance uint32) {
	gid := val{lanes: []uint32{instance, 0, 0}}
	mc.call(ep.Function, []val{gid})
}

func (mc *machine) call(fn *ir.Function, args []val) *val {
	f := &frame{
		fn:    fn,
		args:  args,
		exprs: make(map[ir.ExprHandle]val),
	}
	f.locals = make([]val, len(fn.Locals))
	for i, l := range fn.Locals {
		f.locals[i] = mc.zeroOf(l.Type)
	}
	mc.execBlock(f, fn.Body)
	return f.ret
}

func (mc *machine) zeroOf(ty ir.TypeHandle) val {
	t := mc.m.Types.Get(ty)
	switch t.Kind {
	case ir.KindScalar:
		return scalarVal(t.Scalar, 0)
	case ir.KindVector:
		return val{lanes: make([]uint32, t.Size)}
	case ir.KindStruct:
		fields := make([]val, len(t.Members))
		for i, m := range t.Members {
			fields[i] = mc.zeroOf(m.Type)
		}
		return val{fields: fields}
	default:
		mc.t.Fatalf("zero of unsupported type kind %d", t.Kind)
		return val{}
	}
}

func (mc *machine) execBlock(f *frame, block ir.Block) {
	for i := range block {
		if f.returned || mc.killed {
			return
		}
		mc.execStmt(f, &block[i])
	}
}

func (mc *machine) execStmt(f *frame, s *ir.Statement) {
	mc.steps++
	if mc.steps > 50_000_000 {
		mc.t.Fatal("interpreter step budget exceeded (runaway loop?)")
	}
	switch s.Kind {
	case ir.StmtEmit:
		for h := s.RangeStart; h < s.RangeEnd; h++ {
			e := f.fn.Expressions.Get(h)
			if !e.Kind.IsDerived() {
				continue
			}
			if _, dup := f.exprs[h]; dup {
				mc.t.Fatalf("%s: expression %d emitted twice", f.fn.Name, h)
			}
			if e.Kind == ir.ExprAccess {
				// A pointer into a binding, not a value; Load/Store resolve
				// it structurally.
				continue
			}
			f.exprs[h] = mc.evalExpr(f, h)
		}
	case ir.StmtStore:
		set := mc.evalRef(f, s.Pointer)
		set(mc.eval(f, s.Value))
	case ir.StmtCall:
		args := make([]val, len(s.CallArgs))
		for i, a := range s.CallArgs {
			args[i] = mc.eval(f, a)
		}
		ret := mc.call(s.Function, args)
		if mc.killed {
			// The callee trapped: the invocation is over and no result exists.
			return
		}
		if s.CallResult != nil {
			if ret == nil {
				mc.t.Fatalf("%s: call to %s expected a result", f.fn.Name, s.Function.Name)
			}
			f.locals[*s.CallResult] = *ret
		}
	case ir.StmtIf:
		if mc.eval(f, s.Condition).isTrue() {
			mc.execBlock(f, s.Accept)
		} else {
			mc.execBlock(f, s.Reject)
		}
	case ir.StmtLoop:
		// Every iteration re-runs the body's Emit statements; the values
		// the previous iteration emitted are dropped first so a re-run is
		// not taken for a second emission of the same handle.
		outer := make(map[ir.ExprHandle]bool, len(f.exprs))
		for h := range f.exprs {
			outer[h] = true
		}
		for {
			for h := range f.exprs {
				if !outer[h] {
					delete(f.exprs, h)
				}
			}
			mc.execBlock(f, s.Body)
			if f.returned || mc.killed {
				return
			}
			mc.execBlock(f, s.Continuing)
			if f.returned || mc.killed {
				return
			}
			if s.BreakIf != ir.InvalidExprHandle && mc.eval(f, s.BreakIf).isTrue() {
				return
			}
		}
	case ir.StmtReturn:
		if s.ReturnValue != ir.InvalidExprHandle {
			v := mc.eval(f, s.ReturnValue)
			f.ret = &v
		}
		f.returned = true
	case ir.StmtKill:
		mc.killed = true
	}
}

// eval resolves an expression handle: derived handles must already have
// been covered by an Emit statement (the emit-before-use half of the emit
// discipline), pure handles evaluate on demand.
func (mc *machine) eval(f *frame, h ir.ExprHandle) val {
	e := f.fn.Expressions.Get(h)
	if e.Kind.IsDerived() {
		v, ok := f.exprs[h]
		if !ok {
			mc.t.Fatalf("%s: expression %d referenced before emit", f.fn.Name, h)
		}
		return v
	}
	return mc.evalExpr(f, h)
}

func (mc *machine) evalExpr(f *frame, h ir.ExprHandle) val {
	e := f.fn.Expressions.Get(h)
	switch e.Kind {
	case ir.ExprLiteral:
		return scalarVal(e.Literal.Kind, e.Literal.Bits)
	case ir.ExprConstant:
		return mc.constVal(e.Constant)
	case ir.ExprZeroValue:
		return mc.zeroOf(e.ComposeType)
	case ir.ExprFunctionArgument:
		return f.args[e.ArgumentIndex]
	case ir.ExprCallResult:
		return f.locals[e.LocalVar]
	case ir.ExprCompose:
		ty := mc.m.Types.Get(e.ComposeType)
		if ty.Kind == ir.KindStruct {
			fields := make([]val, len(e.Components))
			for i, c := range e.Components {
				fields[i] = mc.eval(f, c)
			}
			return val{fields: fields}
		}
		lanes := make([]uint32, len(e.Components))
		for i, c := range e.Components {
			lanes[i] = mc.eval(f, c).bits
		}
		return val{lanes: lanes}
	case ir.ExprAccessIndex:
		base := mc.eval(f, e.Base)
		if base.fields != nil {
			return base.fields[e.IndexConst]
		}
		if base.lanes != nil {
			return scalarVal(ir.Uint, base.lanes[e.IndexConst])
		}
		mc.t.Fatalf("%s: access-index on scalar (expr %d)", f.fn.Name, h)
	case ir.ExprLoad:
		get := mc.evalRefGet(f, e.Base)
		return get()
	case ir.ExprUnary:
		return mc.evalUnary(e, mc.eval(f, e.Base))
	case ir.ExprBinary:
		return mc.evalBinary(e.BinaryOp, mc.eval(f, e.Left), mc.eval(f, e.Right))
	case ir.ExprSelect:
		if mc.eval(f, e.SelectCond).isTrue() {
			return mc.eval(f, e.SelectAccept)
		}
		return mc.eval(f, e.SelectReject)
	case ir.ExprMath:
		args := make([]val, len(e.MathArgs))
		for i, a := range e.MathArgs {
			args[i] = mc.eval(f, a)
		}
		return mc.evalMath(e.MathFn, args)
	case ir.ExprAs:
		return mc.evalAs(mc.eval(f, e.Base), e.AsKind)
	case ir.ExprBitcast:
		v := mc.eval(f, e.Base)
		return scalarVal(e.AsKind, v.bits)
	}
	mc.t.Fatalf("%s: unsupported expression kind %d (expr %d)", f.fn.Name, e.Kind, h)
	return val{}
}

// evalRef resolves a pointer-shaped expression to a setter.
func (mc *machine) evalRef(f *frame, h ir.ExprHandle) func(val) {
	e := f.fn.Expressions.Get(h)
	switch e.Kind {
	case ir.ExprLocalVariable:
		l := e.LocalVar
		return func(v val) { f.locals[l] = v }
	case ir.ExprGlobalVariable:
		gv := mc.m.Globals[e.GlobalVar]
		if gv.Space == ir.AddressSpacePrivate {
			g := e.GlobalVar
			return func(v val) { mc.privates[g] = v.bits }
		}
		mc.t.Fatalf("%s: direct store to storage binding %s", f.fn.Name, gv.Name)
	case ir.ExprAccess:
		base := f.fn.Expressions.Get(e.Base)
		if base.Kind != ir.ExprGlobalVariable {
			mc.t.Fatalf("%s: access base is not a binding", f.fn.Name)
		}
		gv := mc.m.Globals[base.GlobalVar]
		idx := mc.eval(f, e.Index).bits
		w := mc.word(gv.Slot, idx)
		return func(v val) { *w = v.bits }
	}
	mc.t.Fatalf("%s: store through non-pointer expression %d", f.fn.Name, h)
	return nil
}

func (mc *machine) evalRefGet(f *frame, h ir.ExprHandle) func() val {
	e := f.fn.Expressions.Get(h)
	switch e.Kind {
	case ir.ExprLocalVariable:
		l := e.LocalVar
		return func() val { return f.locals[l] }
	case ir.ExprGlobalVariable:
		gv := mc.m.Globals[e.GlobalVar]
		if gv.Space == ir.AddressSpacePrivate {
			g := e.GlobalVar
			return func() val { return scalarVal(ir.Uint, mc.privates[g]) }
		}
		mc.t.Fatalf("%s: direct load of storage binding %s", f.fn.Name, gv.Name)
	case ir.ExprAccess:
		base := f.fn.Expressions.Get(e.Base)
		if base.Kind != ir.ExprGlobalVariable {
			mc.t.Fatalf("%s: access base is not a binding", f.fn.Name)
		}
		gv := mc.m.Globals[base.GlobalVar]
		idx := mc.eval(f, e.Index).bits
		w := mc.word(gv.Slot, idx)
		return func() val { return scalarVal(ir.Uint, *w) }
	}
	mc.t.Fatalf("%s: load through non-pointer expression %d", f.fn.Name, h)
	return nil
}

func (mc *machine) evalUnary(e ir.Expression, v val) val {
	switch e.UnaryOp {
	case ir.UnaryNot:
		if v.kind == ir.Bool {
			return boolVal(!v.isTrue())
		}
		return scalarVal(v.kind, ^v.bits)
	case ir.UnaryNegate:
		if v.kind == ir.Float {
			return scalarVal(ir.Float, math.Float32bits(-v.f32()))
		}
		return scalarVal(v.kind, uint32(-int32(v.bits)))
	}
	mc.t.Fatalf("unsupported unary op %d", e.UnaryOp)
	return val{}
}

func (mc *machine) evalBinary(op ir.BinaryOp, a, b val) val {
	if a.kind == ir.Float {
		x, y := a.f32(), b.f32()
		switch op {
		case ir.BinAdd:
			return scalarVal(ir.Float, math.Float32bits(x+y))
		case ir.BinSubtract:
			return scalarVal(ir.Float, math.Float32bits(x-y))
		case ir.BinMultiply:
			return scalarVal(ir.Float, math.Float32bits(x*y))
		case ir.BinDivide:
			return scalarVal(ir.Float, math.Float32bits(x/y))
		case ir.BinEqual:
			return boolVal(x == y)
		case ir.BinNotEqual:
			return boolVal(x != y)
		case ir.BinLess:
			return boolVal(x < y)
		case ir.BinLessEqual:
			return boolVal(x <= y)
		case ir.BinGreater:
			return boolVal(x > y)
		case ir.BinGreaterEqual:
			return boolVal(x >= y)
		}
	}
	if a.kind == ir.Bool || op == ir.BinLogicalAnd || op == ir.BinLogicalOr {
		switch op {
		case ir.BinLogicalAnd:
			return boolVal(a.isTrue() && b.isTrue())
		case ir.BinLogicalOr:
			return boolVal(a.isTrue() || b.isTrue())
		case ir.BinEqual:
			return boolVal(a.isTrue() == b.isTrue())
		case ir.BinNotEqual:
			return boolVal(a.isTrue() != b.isTrue())
		}
	}
	if a.kind == ir.Sint {
		x, y := int32(a.bits), int32(b.bits)
		switch op {
		case ir.BinAdd:
			return scalarVal(ir.Sint, uint32(x+y))
		case ir.BinSubtract:
			return scalarVal(ir.Sint, uint32(x-y))
		case ir.BinMultiply:
			return scalarVal(ir.Sint, uint32(x*y))
		case ir.BinDivide:
			return scalarVal(ir.Sint, uint32(x/y))
		case ir.BinModulo:
			return scalarVal(ir.Sint, uint32(x%y))
		case ir.BinAnd:
			return scalarVal(ir.Sint, a.bits&b.bits)
		case ir.BinOr:
			return scalarVal(ir.Sint, a.bits|b.bits)
		case ir.BinExclusiveOr:
			return scalarVal(ir.Sint, a.bits^b.bits)
		case ir.BinShiftLeft:
			return scalarVal(ir.Sint, a.bits<<(b.bits&31))
		case ir.BinShiftRight:
			return scalarVal(ir.Sint, uint32(x>>(b.bits&31)))
		case ir.BinEqual:
			return boolVal(x == y)
		case ir.BinNotEqual:
			return boolVal(x != y)
		case ir.BinLess:
			return boolVal(x < y)
		case ir.BinLessEqual:
			return boolVal(x <= y)
		case ir.BinGreater:
			return boolVal(x > y)
		case ir.BinGreaterEqual:
			return boolVal(x >= y)
		}
	}
	// Uint.
	x, y := a.bits, b.bits
	switch op {
	case ir.BinAdd:
		return scalarVal(ir.Uint, x+y)
	case ir.BinSubtract:
		return scalarVal(ir.Uint, x-y)
	case ir.BinMultiply:
		return scalarVal(ir.Uint, x*y)
	case ir.BinDivide:
		return scalarVal(ir.Uint, x/y)
	case ir.BinModulo:
		return scalarVal(ir.Uint, x%y)
	case ir.BinAnd:
		return scalarVal(ir.Uint, x&y)
	case ir.BinOr:
		return scalarVal(ir.Uint, x|y)
	case ir.BinExclusiveOr:
		return scalarVal(ir.Uint, x^y)
	case ir.BinShiftLeft:
		return scalarVal(ir.Uint, x<<(y&31))
	case ir.BinShiftRight:
		return scalarVal(ir.Uint, x>>(y&31))
	case ir.BinEqual:
		return boolVal(x == y)
	case ir.BinNotEqual:
		return boolVal(x != y)
	case ir.BinLess:
		return boolVal(x < y)
	case ir.BinLessEqual:
		return boolVal(x <= y)
	case ir.BinGreater:
		return boolVal(x > y)
	case ir.BinGreaterEqual:
		return boolVal(x >= y)
	}
	mc.t.Fatalf("unsupported binary op %d on kind %d", op, a.kind)
	return val{}
}

func (mc *machine) evalMath(fn ir.MathFn, args []val) val {
	a := args[0]
	switch fn {
	case ir.MathAbs:
		return scalarVal(ir.Float, math.Float32bits(float32(math.Abs(float64(a.f32())))))
	case ir.MathCeil:
		return scalarVal(ir.Float, math.Float32bits(float32(math.Ceil(float64(a.f32())))))
	case ir.MathFloor:
		return scalarVal(ir.Float, math.Float32bits(float32(math.Floor(float64(a.f32())))))
	case ir.MathTrunc:
		return scalarVal(ir.Float, math.Float32bits(float32(math.Trunc(float64(a.f32())))))
	case ir.MathRound:
		return scalarVal(ir.Float, math.Float32bits(float32(math.RoundToEven(float64(a.f32())))))
	case ir.MathSqrt:
		return scalarVal(ir.Float, math.Float32bits(float32(math.Sqrt(float64(a.f32())))))
	case ir.MathMin:
		return scalarVal(ir.Float, math.Float32bits(float32(math.Min(float64(a.f32()), float64(args[1].f32())))))
	case ir.MathMax:
		return scalarVal(ir.Float, math.Float32bits(float32(math.Max(float64(a.f32()), float64(args[1].f32())))))
	case ir.MathCountLeadingZeros:
		return scalarVal(a.kind, uint32(bits.LeadingZeros32(a.bits)))
	case ir.MathCountTrailingZeros:
		return scalarVal(a.kind, uint32(bits.TrailingZeros32(a.bits)))
	case ir.MathCountOneBits:
		return scalarVal(a.kind, uint32(bits.OnesCount32(a.bits)))
	}
	mc.t.Fatalf("unsupported math fn %d", fn)
	return val{}
}

func (mc *machine) evalAs(v val, target ir.ScalarKind) val {
	switch {
	case v.kind == ir.Bool:
		b := uint32(0)
		if v.isTrue() {
			b = 1
		}
		return scalarVal(target, b)
	case v.kind == ir.Float && target == ir.Sint:
		return scalarVal(ir.Sint, uint32(truncF32ToI64(v.f32())))
	case v.kind == ir.Float && target == ir.Uint:
		return scalarVal(ir.Uint, uint32(truncF32ToU64(v.f32())))
	case v.kind == ir.Sint && target == ir.Float:
		return scalarVal(ir.Float, math.Float32bits(float32(int32(v.bits))))
	case v.kind == ir.Uint && target == ir.Float:
		return scalarVal(ir.Float, math.Float32bits(float32(v.bits)))
	case target == v.kind:
		return v
	default:
		// Sint<->Uint value conversion wraps modulo 2^32, i.e. the bits
		// carry over unchanged.
		return scalarVal(target, v.bits)
	}
}

// truncF32ToI64 truncates toward zero with saturation instead of Go's
// implementation-defined out-of-range conversion; the generated code only
// observes in-range results (its own checks run first), the saturation just
// keeps the speculatively evaluated select arms defined.
func truncF32ToI64(f float32) int64 {
	t := math.Trunc(float64(f))
	switch {
	case math.IsNaN(t):
		return 0
	case t >= math.MaxInt64:
		return math.MaxInt64
	case t <= math.MinInt64:
		return math.MinInt64
	default:
		return int64(t)
	}
}

func truncF32ToU64(f float32) uint64 {
	t := math.Trunc(float64(f))
	switch {
	case math.IsNaN(t) || t <= 0:
		return 0
	case t >= math.MaxUint64:
		return math.MaxUint64
	default:
		return uint64(t)
	}
}

func (mc *machine) constVal(h ir.ConstHandle) val {
	c := mc.m.Constants.Get(h)
	if c.Literal != nil {
		return scalarVal(c.Literal.Kind, c.Literal.Bits)
	}
	ty := mc.m.Types.Get(c.Type)
	if ty.Kind == ir.KindVector {
		lanes := make([]uint32, len(c.Components))
		for i, comp := range c.Components {
			lanes[i] = mc.constVal(comp).bits
		}
		return val{lanes: lanes}
	}
	fields := make([]val, len(c.Components))
	for i, comp := range c.Components {
		fields[i] = mc.constVal(comp)
	}
	return val{fields: fields}
}

// checkEmitOnce statically verifies the exactly-once half of the emit
// discipline for every function: no derived handle may fall inside two Emit
// ranges anywhere in the function's statement tree.
func checkEmitOnce(t *testing.T, fn *ir.Function) {
	seen := make(map[ir.ExprHandle]bool)
	var walk func(block ir.Block)
	walk = func(block ir.Block) {
		for _, s := range block {
			switch s.Kind {
			case ir.StmtEmit:
				for h := s.RangeStart; h < s.RangeEnd; h++ {
					if !fn.Expressions.Get(h).Kind.IsDerived() {
						continue
					}
					if seen[h] {
						t.Errorf("%s: expression %d covered by two emit ranges", fn.Name, h)
					}
					seen[h] = true
				}
			case ir.StmtIf:
				walk(s.Accept)
				walk(s.Reject)
			case ir.StmtLoop:
				walk(s.Body)
				walk(s.Continuing)
			}
		}
	}
	walk(fn.Body)
}

func checkModuleEmitOnce(t *testing.T, m *ir.Module) {
	for _, fn := range m.Functions {
		checkEmitOnce(t, fn)
	}
	for _, ep := range m.EntryPoints {
		checkEmitOnce(t, ep.Function)
	}
}

func dumpOnFailure(t *testing.T, m *ir.Module) {
	if t.Failed() {
		fmt.Println(m.Format())
	}
}

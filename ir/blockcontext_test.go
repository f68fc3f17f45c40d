package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitRangesCoverDerivedExactlyOnce(t *testing.T) {
	fn := NewFunction("f", nil, InvalidTypeHandle)
	ctx := NewBlockContext(fn)

	a := ctx.AppendLiteral(LiteralU32(1)) // pure
	b := ctx.AppendLiteral(LiteralU32(2))
	sum := ctx.Binary(BinAdd, a, b)       // derived
	prod := ctx.Binary(BinMultiply, sum, a)
	local := fn.AddLocal("x", InvalidTypeHandle)
	ctx.Store(ctx.AppendLocal(local), prod)
	ctx.Finish()

	var emits []Statement
	for _, s := range fn.Body {
		if s.Kind == StmtEmit {
			emits = append(emits, s)
		}
	}
	require.Len(t, emits, 1)
	e := emits[0]
	assert.LessOrEqual(t, e.RangeStart, sum)
	assert.Less(t, prod, e.RangeEnd)
	// The emit precedes the store that references the derived handles.
	assert.Equal(t, StmtEmit, fn.Body[0].Kind)
	assert.Equal(t, StmtStore, fn.Body[len(fn.Body)-1].Kind)
}

func TestEmitSplitsAroundStatements(t *testing.T) {
	fn := NewFunction("f", nil, InvalidTypeHandle)
	ctx := NewBlockContext(fn)
	local := fn.AddLocal("x", InvalidTypeHandle)

	one := ctx.AppendLiteral(LiteralU32(1))
	d1 := ctx.Binary(BinAdd, one, one)
	ctx.Store(ctx.AppendLocal(local), d1) // flushes first range
	d2 := ctx.Binary(BinMultiply, d1, d1)
	ctx.Store(ctx.AppendLocal(local), d2)
	ctx.Finish()

	counts := 0
	covered := make(map[ExprHandle]bool)
	for _, s := range fn.Body {
		if s.Kind != StmtEmit {
			continue
		}
		counts++
		for h := s.RangeStart; h < s.RangeEnd; h++ {
			if fn.Expressions.Get(h).Kind.IsDerived() {
				assert.False(t, covered[h], "handle %d covered twice", h)
				covered[h] = true
			}
		}
	}
	assert.Equal(t, 2, counts)
	assert.True(t, covered[d1])
	assert.True(t, covered[d2])
}

func TestIfBuilderArms(t *testing.T) {
	fn := NewFunction("f", nil, InvalidTypeHandle)
	ctx := NewBlockContext(fn)
	local := fn.AddLocal("x", InvalidTypeHandle)

	cond := ctx.AppendLiteral(LiteralBool(true))
	ifb := ctx.If(cond)
	then := ifb.Then()
	then.Store(then.AppendLocal(local), then.AppendLiteral(LiteralU32(1)))
	then.Finish()
	other := ifb.Otherwise()
	other.Store(other.AppendLocal(local), other.AppendLiteral(LiteralU32(2)))
	other.Finish()

	require.Len(t, fn.Body, 1)
	s := fn.Body[0]
	assert.Equal(t, StmtIf, s.Kind)
	assert.Len(t, s.Accept, 1)
	assert.Len(t, s.Reject, 1)
}

func TestLoopBreakIf(t *testing.T) {
	fn := NewFunction("f", nil, InvalidTypeHandle)
	ctx := NewBlockContext(fn)

	lb := ctx.Loop()
	lb.Body().Finish()
	cont := lb.Continuing()
	brk := cont.AppendLiteral(LiteralBool(true))
	cont.Finish()
	lb.BreakIf(brk)
	ctx.Finish()

	require.Len(t, fn.Body, 1)
	assert.Equal(t, StmtLoop, fn.Body[0].Kind)
	assert.Equal(t, brk, fn.Body[0].BreakIf)
}

func TestTypeArenaInterning(t *testing.T) {
	a := NewTypeArena()
	assert.Equal(t, a.I32(), a.I32())
	assert.NotEqual(t, a.I32(), a.U32())
	assert.Equal(t, a.UVec2(), a.UVec2())

	s1 := a.Insert(Type{Kind: KindStruct, Members: []StructMember{{Name: "v0", Type: a.I32(), Offset: 0}}})
	s2 := a.Insert(Type{Kind: KindStruct, Members: []StructMember{{Name: "v0", Type: a.I32(), Offset: 0}}})
	assert.Equal(t, s1, s2)
}

func TestStructSizeBytes(t *testing.T) {
	a := NewTypeArena()
	s := a.Insert(Type{Kind: KindStruct, Members: []StructMember{
		{Name: "v0", Type: a.I32(), Offset: 0},
		{Name: "v1", Type: a.UVec2(), Offset: 4},
	}})
	assert.Equal(t, uint32(12), a.Get(s).SizeBytes(a))
}

func TestConstantArenaInterning(t *testing.T) {
	a := NewConstantArena()
	ta := NewTypeArena()
	c1 := a.Scalar(ta.U32(), LiteralU32(0))
	c2 := a.Scalar(ta.U32(), LiteralU32(0))
	assert.Equal(t, c1, c2)
	comp1 := a.Composite(ta.UVec2(), []ConstHandle{c1, c1})
	comp2 := a.Composite(ta.UVec2(), []ConstHandle{c2, c2})
	assert.Equal(t, comp1, comp2)
}

func TestModuleBindings(t *testing.T) {
	m := NewModule()
	require.Len(t, m.Globals, 11)
	assert.Equal(t, "input", m.Globals[m.Global(BindingInput)].Name)
	assert.Equal(t, "flags", m.Globals[m.Global(BindingFlags)].Name)
	assert.True(t, m.Globals[BindingOutput].Mutable)
	assert.False(t, m.Globals[BindingConstants].Mutable)
}

package stdobjects

import (
	"testing"

	"github.com/LucentFlux/wasm-gpu-go/faults"
	"github.com/LucentFlux/wasm-gpu-go/ir"
	"github.com/LucentFlux/wasm-gpu-go/wasmin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newObjects(t *testing.T) *Objects {
	t.Helper()
	return New(ir.NewModule(), DefaultOptions())
}

// Resolving the same slot twice yields the same handle and generates
// nothing new.
func TestSlotsResolveOnce(t *testing.T) {
	o := newObjects(t)

	ty1, err := o.Ty(wasmin.ValueTypeI64)
	require.NoError(t, err)
	ty2, err := o.Ty(wasmin.ValueTypeI64)
	require.NoError(t, err)
	assert.Equal(t, ty1, ty2)

	fn1, err := o.Op(wasmin.ValueTypeI32, wasmin.OpcodeI32Add)
	require.NoError(t, err)
	count := len(o.Module.Functions)
	fn2, err := o.Op(wasmin.ValueTypeI32, wasmin.OpcodeI32Add)
	require.NoError(t, err)
	assert.Same(t, fn1, fn2)
	assert.Equal(t, count, len(o.Module.Functions))
}

func TestCellCycleDetection(t *testing.T) {
	c := &cell[int]{name: "test"}
	var gen func() (int, error)
	gen = func() (int, error) {
		return c.Resolve(gen) // illegal re-entry
	}
	_, err := c.Resolve(gen)
	var be *faults.BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, faults.KindInternal, be.Kind)
	assert.Contains(t, err.Error(), "cycle")
}

func TestCellCachesError(t *testing.T) {
	c := &cell[int]{name: "test"}
	calls := 0
	gen := func() (int, error) {
		calls++
		return 0, faults.UnsupportedInstruction("nope")
	}
	_, err1 := c.Resolve(gen)
	_, err2 := c.Resolve(gen)
	assert.Error(t, err1)
	assert.Equal(t, err1, err2)
	assert.Equal(t, 1, calls)
}

func TestF64GatedByCapability(t *testing.T) {
	o := New(ir.NewModule(), Options{NativeF32: true, SupportF64: false})
	_, err := o.Ty(wasmin.ValueTypeF64)
	var be *faults.BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, faults.KindUnsupportedType, be.Kind)
}

func TestSizesAndDefaults(t *testing.T) {
	o := newObjects(t)
	cases := []struct {
		vt   wasmin.ValueType
		size uint32
	}{
		{wasmin.ValueTypeI32, 4},
		{wasmin.ValueTypeF32, 4},
		{wasmin.ValueTypeI64, 8},
		{wasmin.ValueTypeF64, 8},
		{wasmin.ValueTypeV128, 16},
		{wasmin.ValueTypeFuncRef, 4},
		{wasmin.ValueTypeExternRef, 4},
	}
	for _, c := range cases {
		size, err := o.SizeBytes(c.vt)
		require.NoError(t, err, c.vt)
		assert.Equal(t, c.size, size, c.vt)
		_, err = o.Default(c.vt)
		require.NoError(t, err, c.vt)
	}
}

func TestCodecsGenerateOnePerBindingAndType(t *testing.T) {
	o := newObjects(t)
	r1, err := o.ReadInput(wasmin.ValueTypeI64)
	require.NoError(t, err)
	r2, err := o.ReadInput(wasmin.ValueTypeI64)
	require.NoError(t, err)
	assert.Same(t, r1, r2)
	assert.Equal(t, "i64_read_input", r1.Name)

	w, err := o.WriteOutput(wasmin.ValueTypeI64)
	require.NoError(t, err)
	assert.NotSame(t, r1, w)
	assert.Equal(t, "i64_write_output", w.Name)
	// One u32 address parameter for reads, address+value for writes.
	assert.Len(t, r1.Params, 1)
	assert.Len(t, w.Params, 2)
}

func TestUnsupportedF64ArithmeticRefused(t *testing.T) {
	o := newObjects(t)
	_, err := o.Op(wasmin.ValueTypeF64, wasmin.OpcodeF64Add)
	var be *faults.BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, faults.KindUnsupportedInstruction, be.Kind)

	// The bit-exact subset still works.
	_, err = o.Op(wasmin.ValueTypeF64, wasmin.OpcodeF64Neg)
	assert.NoError(t, err)
	_, err = o.Op(wasmin.ValueTypeF64, wasmin.OpcodeF64Eq)
	assert.NoError(t, err)
}

func TestTrapFunctionShape(t *testing.T) {
	o := newObjects(t)
	fn, err := o.Trap()
	require.NoError(t, err)
	assert.Equal(t, "__trap", fn.Name)
	assert.Len(t, fn.Params, 1)
	assert.True(t, fn.Result.Invalid())
	// trap() stores into the flags binding and returns; it must not Kill
	// itself (the caller sequences the Kill).
	var sawKill bool
	for _, s := range fn.Body {
		if s.Kind == ir.StmtKill {
			sawKill = true
		}
	}
	assert.False(t, sawKill)
}

func TestBrainForwardDeclaration(t *testing.T) {
	o := newObjects(t)
	fn, err := o.Brain()
	require.NoError(t, err)
	assert.Equal(t, "__brain", fn.Name)
	assert.Len(t, fn.Params, 4)
	assert.Empty(t, fn.Body)
}

func TestMemoryGrowAlwaysRefuses(t *testing.T) {
	o := newObjects(t)
	fn, err := o.MemoryGrow()
	require.NoError(t, err)
	require.NotEmpty(t, fn.Body)
	last := fn.Body[len(fn.Body)-1]
	assert.Equal(t, ir.StmtReturn, last.Kind)
}

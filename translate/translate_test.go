package translate

import (
	"testing"

	"github.com/LucentFlux/wasm-gpu-go/faults"
	"github.com/LucentFlux/wasm-gpu-go/ir"
	"github.com/LucentFlux/wasm-gpu-go/stdobjects"
	"github.com/LucentFlux/wasm-gpu-go/wasmin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			out = append(out, b)
			return out
		}
		out = append(out, b|0x80)
	}
}

func uleb(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			out = append(out, b)
			return out
		}
		out = append(out, b|0x80)
	}
}

func cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func op(b wasmin.Opcode) []byte { return []byte{byte(b)} }

func i32const(v int32) []byte { return cat(op(wasmin.OpcodeI32Const), sleb(int64(v))) }
func i64const(v int64) []byte { return cat(op(wasmin.OpcodeI64Const), sleb(v)) }
func localGet(i uint32) []byte {
	return cat(op(wasmin.OpcodeLocalGet), uleb(uint64(i)))
}
func localSet(i uint32) []byte {
	return cat(op(wasmin.OpcodeLocalSet), uleb(uint64(i)))
}
func end() []byte { return op(wasmin.OpcodeEnd) }

// unitSpec is the test-side description of one function.
type unitSpec struct {
	params  []wasmin.ValueType
	results []wasmin.ValueType
	locals  []wasmin.Local
	body    []byte
}

// buildInstance assembles a FuncsInstance whose functions all share one
// FuncAccessible with an identity function-index table, mirroring what the
// upstream parser produces for a single module.
func buildInstance(t *testing.T, memory, table bool, globals []wasmin.GlobalBinding, specs ...unitSpec) *wasmin.FuncsInstance {
	t.Helper()
	acc := &wasmin.FuncAccessible{
		MemoryPresent: memory,
		TablePresent:  table,
		GlobalLookup:  globals,
	}
	units := make([]*wasmin.FuncUnit, len(specs))
	for i, s := range specs {
		ft := &wasmin.FunctionType{Params: s.params, Results: s.results}
		acc.FuncIndexLookup = append(acc.FuncIndexLookup, wasmin.FuncRef(i))
		acc.TypeLookup = append(acc.TypeLookup, ft)
		units[i] = &wasmin.FuncUnit{
			Index:      wasmin.FuncRef(i),
			Type:       ft,
			Locals:     s.locals,
			Body:       s.body,
			Accessible: acc,
		}
	}
	return wasmin.NewFuncsInstance(units)
}

func translateOne(t *testing.T, spec unitSpec) *ir.Module {
	t.Helper()
	funcs := buildInstance(t, false, false, nil, spec)
	m, err := Translate(funcs, []wasmin.FuncRef{0}, DefaultOptions())
	require.NoError(t, err)
	checkModuleEmitOnce(t, m)
	return m
}

// dispatch runs entry point 0 for a single invocation against the given
// input words and returns the machine for buffer inspection.
func dispatch(t *testing.T, m *ir.Module, input []uint32, setup func(*machine)) *machine {
	t.Helper()
	mc := newMachine(t, m)
	mc.setBuffer(ir.BindingInput, append([]uint32(nil), input...))
	if setup != nil {
		setup(mc)
	}
	require.NotEmpty(t, m.EntryPoints)
	mc.runEntry(m.EntryPoints[0], 0)
	return mc
}

func (mc *machine) trapCode() uint32 {
	return *mc.word(ir.BindingFlags, 0)
}

func (mc *machine) output(idx uint32) uint32 {
	return *mc.word(ir.BindingOutput, idx)
}

// A constant-returning function lands its value in the output buffer.
func TestConstReturnI32(t *testing.T) {
	m := translateOne(t, unitSpec{
		results: []wasmin.ValueType{wasmin.ValueTypeI32},
		body:    cat(i32const(42), end()),
	})
	mc := dispatch(t, m, nil, nil)
	assert.Equal(t, uint32(42), mc.output(0))
	assert.False(t, mc.killed)
}

// An i64 constant round-trips through the two-word polyfill.
func TestConstReturnI64(t *testing.T) {
	v := int64(9223372036854775805)
	m := translateOne(t, unitSpec{
		results: []wasmin.ValueType{wasmin.ValueTypeI64},
		body:    cat(i64const(v), end()),
	})
	mc := dispatch(t, m, nil, nil)
	assert.Equal(t, uint32(uint64(v)), mc.output(0))
	assert.Equal(t, uint32(uint64(v)>>32), mc.output(1))
}

// Parameter plus constant, read from the input binding.
func TestParamAdd(t *testing.T) {
	m := translateOne(t, unitSpec{
		params:  []wasmin.ValueType{wasmin.ValueTypeI32},
		results: []wasmin.ValueType{wasmin.ValueTypeI32},
		body:    cat(localGet(0), i32const(5), op(wasmin.OpcodeI32Add), end()),
	})
	mc := dispatch(t, m, []uint32{8192}, nil)
	assert.Equal(t, uint32(8197), mc.output(0))
}

// if/else with a result type merges arm values at the join.
func TestIfElseResult(t *testing.T) {
	body := cat(
		localGet(0), op(wasmin.OpcodeI32Eqz),
		op(wasmin.OpcodeIf), []byte{0x7f}, // if (result i32)
		i32const(11),
		op(wasmin.OpcodeElse),
		i32const(22),
		end(), // end if
		end(),
	)
	m := translateOne(t, unitSpec{
		params:  []wasmin.ValueType{wasmin.ValueTypeI32},
		results: []wasmin.ValueType{wasmin.ValueTypeI32},
		locals:  []wasmin.Local{{Count: 1, Type: wasmin.ValueTypeI32}},
		body:    body,
	})
	assert.Equal(t, uint32(11), dispatch(t, m, []uint32{0}, nil).output(0))
	assert.Equal(t, uint32(22), dispatch(t, m, []uint32{1}, nil).output(0))
}

// Nested blocks with multi-level conditional branches. The
// innermost br_if exits its own block (landing on the 42 return), the
// br_if 1 exits both blocks (landing on the 99 fallthrough), and neither
// firing falls through to the 7 return.
func TestNestedBlockBranches(t *testing.T) {
	void := []byte{0x40}
	body := cat(
		op(wasmin.OpcodeBlock), void, // block B
		op(wasmin.OpcodeBlock), void, // block C
		localGet(0), op(wasmin.OpcodeI32Eqz),
		op(wasmin.OpcodeBrIf), uleb(0),
		localGet(0), i32const(1), op(wasmin.OpcodeI32Eq),
		op(wasmin.OpcodeBrIf), uleb(1),
		i32const(7), op(wasmin.OpcodeReturn),
		end(), // end C
		i32const(42), op(wasmin.OpcodeReturn),
		end(), // end B
		i32const(99),
		end(),
	)
	m := translateOne(t, unitSpec{
		params:  []wasmin.ValueType{wasmin.ValueTypeI32},
		results: []wasmin.ValueType{wasmin.ValueTypeI32},
		body:    body,
	})
	assert.Equal(t, uint32(42), dispatch(t, m, []uint32{0}, nil).output(0))
	assert.Equal(t, uint32(99), dispatch(t, m, []uint32{1}, nil).output(0))
	assert.Equal(t, uint32(7), dispatch(t, m, []uint32{2}, nil).output(0))
}

// unreachable writes the trap code and kills the invocation.
func TestUnreachableTraps(t *testing.T) {
	m := translateOne(t, unitSpec{
		body: cat(op(wasmin.OpcodeUnreachable), end()),
	})
	mc := dispatch(t, m, nil, nil)
	assert.True(t, mc.killed)
	assert.Equal(t, uint32(faults.TrapUnreachableCodeReached), mc.trapCode())
	trap, ok := faults.DecodeTrapCode(mc.trapCode())
	require.True(t, ok)
	assert.Equal(t, faults.TrapUnreachableCodeReached, trap)
}

func TestLoopSum(t *testing.T) {
	void := []byte{0x40}
	// local 0 = i, local 1 = sum; loop { i++; sum += i; br_if 0 (i < 5) }
	body := cat(
		op(wasmin.OpcodeLoop), void,
		localGet(0), i32const(1), op(wasmin.OpcodeI32Add), localSet(0),
		localGet(1), localGet(0), op(wasmin.OpcodeI32Add), localSet(1),
		localGet(0), i32const(5), op(wasmin.OpcodeI32LtS),
		op(wasmin.OpcodeBrIf), uleb(0),
		end(),
		localGet(1),
		end(),
	)
	m := translateOne(t, unitSpec{
		results: []wasmin.ValueType{wasmin.ValueTypeI32},
		locals:  []wasmin.Local{{Count: 2, Type: wasmin.ValueTypeI32}},
		body:    body,
	})
	assert.Equal(t, uint32(15), dispatch(t, m, nil, nil).output(0))
}

func TestBrTable(t *testing.T) {
	void := []byte{0x40}
	body := cat(
		op(wasmin.OpcodeBlock), void, // A
		op(wasmin.OpcodeBlock), void, // B
		op(wasmin.OpcodeBlock), void, // C
		localGet(0),
		op(wasmin.OpcodeBrTable), uleb(2), uleb(0), uleb(1), uleb(2),
		end(), // C
		i32const(10), op(wasmin.OpcodeReturn),
		end(), // B
		i32const(20), op(wasmin.OpcodeReturn),
		end(), // A
		i32const(30),
		end(),
	)
	m := translateOne(t, unitSpec{
		params:  []wasmin.ValueType{wasmin.ValueTypeI32},
		results: []wasmin.ValueType{wasmin.ValueTypeI32},
		body:    body,
	})
	assert.Equal(t, uint32(10), dispatch(t, m, []uint32{0}, nil).output(0))
	assert.Equal(t, uint32(20), dispatch(t, m, []uint32{1}, nil).output(0))
	assert.Equal(t, uint32(30), dispatch(t, m, []uint32{2}, nil).output(0))
	assert.Equal(t, uint32(30), dispatch(t, m, []uint32{9}, nil).output(0))
}

func TestSelect(t *testing.T) {
	body := cat(
		i32const(100), i32const(200),
		localGet(0), op(wasmin.OpcodeSelect),
		end(),
	)
	m := translateOne(t, unitSpec{
		params:  []wasmin.ValueType{wasmin.ValueTypeI32},
		results: []wasmin.ValueType{wasmin.ValueTypeI32},
		body:    body,
	})
	assert.Equal(t, uint32(100), dispatch(t, m, []uint32{1}, nil).output(0))
	assert.Equal(t, uint32(200), dispatch(t, m, []uint32{0}, nil).output(0))
}

func TestDirectCall(t *testing.T) {
	callee := unitSpec{
		params:  []wasmin.ValueType{wasmin.ValueTypeI32},
		results: []wasmin.ValueType{wasmin.ValueTypeI32},
		body:    cat(localGet(0), i32const(5), op(wasmin.OpcodeI32Add), end()),
	}
	caller := unitSpec{
		params:  []wasmin.ValueType{wasmin.ValueTypeI32},
		results: []wasmin.ValueType{wasmin.ValueTypeI32},
		body:    cat(localGet(0), op(wasmin.OpcodeCall), uleb(1), end()),
	}
	funcs := buildInstance(t, false, false, nil, caller, callee)
	m, err := Translate(funcs, []wasmin.FuncRef{0}, DefaultOptions())
	require.NoError(t, err)
	checkModuleEmitOnce(t, m)
	assert.Equal(t, uint32(15), dispatch(t, m, []uint32{10}, nil).output(0))
}

func TestDivisionTraps(t *testing.T) {
	m := translateOne(t, unitSpec{
		params:  []wasmin.ValueType{wasmin.ValueTypeI32, wasmin.ValueTypeI32},
		results: []wasmin.ValueType{wasmin.ValueTypeI32},
		body:    cat(localGet(0), localGet(1), op(wasmin.OpcodeI32DivS), end()),
	})

	mc := dispatch(t, m, []uint32{7, 0}, nil)
	assert.True(t, mc.killed)
	assert.Equal(t, uint32(faults.TrapIntegerDivisionByZero), mc.trapCode())

	mc = dispatch(t, m, []uint32{0x80000000, 0xffffffff}, nil)
	assert.True(t, mc.killed)
	assert.Equal(t, uint32(faults.TrapIntegerOverflow), mc.trapCode())

	mc = dispatch(t, m, []uint32{42, 7}, nil)
	assert.False(t, mc.killed)
	assert.Equal(t, uint32(6), mc.output(0))
}

func TestI64AddCarry(t *testing.T) {
	m := translateOne(t, unitSpec{
		results: []wasmin.ValueType{wasmin.ValueTypeI64},
		body:    cat(i64const(4294967295), i64const(1), op(wasmin.OpcodeI64Add), end()),
	})
	mc := dispatch(t, m, nil, nil)
	assert.Equal(t, uint32(0), mc.output(0))
	assert.Equal(t, uint32(1), mc.output(1))
}

func TestI64Division(t *testing.T) {
	m := translateOne(t, unitSpec{
		results: []wasmin.ValueType{wasmin.ValueTypeI64},
		body:    cat(i64const(-1000000000000), i64const(7), op(wasmin.OpcodeI64DivS), end()),
	})
	mc := dispatch(t, m, nil, nil)
	var zero uint64
	want := zero - uint64(142857142857) // -1000000000000 / 7
	assert.Equal(t, uint32(want), mc.output(0))
	assert.Equal(t, uint32(want>>32), mc.output(1))
}

func TestI64Compare(t *testing.T) {
	m := translateOne(t, unitSpec{
		results: []wasmin.ValueType{wasmin.ValueTypeI32},
		body:    cat(i64const(-5), i64const(3), op(wasmin.OpcodeI64LtS), end()),
	})
	assert.Equal(t, uint32(1), dispatch(t, m, nil, nil).output(0))
}

func TestMemorySubwordStorePreservesNeighbors(t *testing.T) {
	memarg := func(align uint32) []byte { return cat(uleb(uint64(align)), uleb(0)) }
	body := cat(
		i32const(0), i32const(-0x55443323), op(wasmin.OpcodeI32Store), memarg(2), // 0xAABBCCDD
		i32const(1), i32const(0x11), op(wasmin.OpcodeI32Store8), memarg(0),
		i32const(0), op(wasmin.OpcodeI32Load), memarg(2),
		end(),
	)
	funcs := buildInstance(t, true, false, nil, unitSpec{
		results: []wasmin.ValueType{wasmin.ValueTypeI32},
		body:    body,
	})
	m, err := Translate(funcs, []wasmin.FuncRef{0}, DefaultOptions())
	require.NoError(t, err)
	checkModuleEmitOnce(t, m)
	mc := dispatch(t, m, nil, func(mc *machine) {
		*mc.word(ir.BindingConstants, stdobjects.ConstantWordMemoryBytes) = 65536
	})
	assert.False(t, mc.killed)
	assert.Equal(t, uint32(0xAABB11DD), mc.output(0))
}

func TestMemoryOutOfBoundsTraps(t *testing.T) {
	memarg := cat(uleb(2), uleb(0))
	body := cat(i32const(70000), op(wasmin.OpcodeI32Load), memarg, op(wasmin.OpcodeDrop), end())
	funcs := buildInstance(t, true, false, nil, unitSpec{body: body})
	m, err := Translate(funcs, []wasmin.FuncRef{0}, DefaultOptions())
	require.NoError(t, err)
	mc := dispatch(t, m, nil, func(mc *machine) {
		*mc.word(ir.BindingConstants, stdobjects.ConstantWordMemoryBytes) = 65536
	})
	assert.True(t, mc.killed)
	assert.Equal(t, uint32(faults.TrapMemoryOutOfBounds), mc.trapCode())
}

func TestGlobals(t *testing.T) {
	globals := []wasmin.GlobalBinding{{Type: wasmin.ValueTypeI32, Mutable: true, Offset: 0}}
	body := cat(
		localGet(0), op(wasmin.OpcodeGlobalSet), uleb(0),
		op(wasmin.OpcodeGlobalGet), uleb(0),
		end(),
	)
	funcs := buildInstance(t, false, false, globals, unitSpec{
		params:  []wasmin.ValueType{wasmin.ValueTypeI32},
		results: []wasmin.ValueType{wasmin.ValueTypeI32},
		body:    body,
	})
	m, err := Translate(funcs, []wasmin.FuncRef{0}, DefaultOptions())
	require.NoError(t, err)
	mc := dispatch(t, m, []uint32{77}, func(mc *machine) {
		*mc.word(ir.BindingConstants, stdobjects.ConstantWordMutableGlobalsStride) = 1
	})
	assert.Equal(t, uint32(77), mc.output(0))
}

func TestCallIndirect(t *testing.T) {
	target := unitSpec{
		results: []wasmin.ValueType{wasmin.ValueTypeI32},
		body:    cat(i32const(7), end()),
	}
	// The call site names type index 1 (the target's slot in the shared
	// TypeLookup); the canonical signature ids still match structurally.
	caller := unitSpec{
		results: []wasmin.ValueType{wasmin.ValueTypeI32},
		body:    cat(i32const(0), op(wasmin.OpcodeCallIndirect), uleb(1), uleb(0), end()),
	}
	funcs := buildInstance(t, false, true, nil, caller, target)
	m, err := Translate(funcs, []wasmin.FuncRef{0}, DefaultOptions())
	require.NoError(t, err)
	checkModuleEmitOnce(t, m)

	setup := func(entry uint32) func(*machine) {
		return func(mc *machine) {
			*mc.word(ir.BindingConstants, stdobjects.ConstantWordTableLength) = 1
			*mc.word(ir.BindingTables, 0) = entry
		}
	}
	mc := dispatch(t, m, nil, setup(1))
	assert.False(t, mc.killed)
	assert.Equal(t, uint32(7), mc.output(0))

	mc = dispatch(t, m, nil, setup(stdobjects.RefNull))
	assert.True(t, mc.killed)
	assert.Equal(t, uint32(faults.TrapIndirectCallToNull), mc.trapCode())
}

func TestMultiResult(t *testing.T) {
	m := translateOne(t, unitSpec{
		results: []wasmin.ValueType{wasmin.ValueTypeI32, wasmin.ValueTypeI64},
		body:    cat(i32const(9), i64const(10), end()),
	})
	mc := dispatch(t, m, nil, nil)
	assert.Equal(t, uint32(9), mc.output(0))
	assert.Equal(t, uint32(10), mc.output(1))
	assert.Equal(t, uint32(0), mc.output(2))
}

// Translating the same module twice yields byte-identical output.
func TestLazyIdempotence(t *testing.T) {
	spec := unitSpec{
		params:  []wasmin.ValueType{wasmin.ValueTypeI32},
		results: []wasmin.ValueType{wasmin.ValueTypeI32},
		body: cat(
			localGet(0), i32const(3), op(wasmin.OpcodeI32Mul),
			localGet(0), op(wasmin.OpcodeI32Sub),
			end(),
		),
	}
	a := translateOne(t, spec)
	b := translateOne(t, spec)
	assert.Equal(t, a.Format(), b.Format())
}

func TestUnsupportedInstructionFailsBuild(t *testing.T) {
	funcs := buildInstance(t, false, false, nil, unitSpec{
		body: cat(op(wasmin.OpcodeAtomicPrefix), []byte{0x00}, end()),
	})
	_, err := Translate(funcs, []wasmin.FuncRef{0}, DefaultOptions())
	var be *faults.BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, faults.KindUnsupportedInstruction, be.Kind)
}

func TestUnsupportedTypeWithoutF64(t *testing.T) {
	opts := DefaultOptions()
	opts.Capabilities.SupportF64 = false
	funcs := buildInstance(t, false, false, nil, unitSpec{
		results: []wasmin.ValueType{wasmin.ValueTypeF64},
		body:    cat(op(wasmin.OpcodeF64Const), []byte{0, 0, 0, 0, 0, 0, 0, 0}, end()),
	})
	_, err := Translate(funcs, []wasmin.FuncRef{0}, DefaultOptions())
	require.NoError(t, err) // f64 const round-trips fine with support on
	_, err = Translate(funcs, []wasmin.FuncRef{0}, opts)
	var be *faults.BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, faults.KindUnsupportedType, be.Kind)
}

func TestF32Arithmetic(t *testing.T) {
	f32c := func(bits uint32) []byte {
		return cat(op(wasmin.OpcodeF32Const), []byte{byte(bits), byte(bits >> 8), byte(bits >> 16), byte(bits >> 24)})
	}
	m := translateOne(t, unitSpec{
		results: []wasmin.ValueType{wasmin.ValueTypeF32},
		body: cat(
			f32c(0x40200000), // 2.5
			f32c(0x3fc00000), // 1.5
			op(wasmin.OpcodeF32Add),
			end(),
		),
	})
	assert.Equal(t, uint32(0x40800000), dispatch(t, m, nil, nil).output(0)) // 4.0
}

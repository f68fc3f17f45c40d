package ir

// BindingSlot identifies one of the fixed storage-buffer bindings in group 0
// that every translated module exposes. The numeric assignment is part of
// the host interface and must stay stable.
type BindingSlot byte

const (
	BindingMemory           BindingSlot = 0
	BindingMutableGlobals   BindingSlot = 1
	BindingImmutableGlobals BindingSlot = 2
	BindingTables           BindingSlot = 3
	BindingData             BindingSlot = 4
	BindingElement          BindingSlot = 5
	BindingInput            BindingSlot = 6
	BindingOutput           BindingSlot = 7
	BindingStack            BindingSlot = 8
	BindingFlags            BindingSlot = 9
	BindingConstants        BindingSlot = 10

	// BindingNone marks a GlobalVariable that is not one of the storage
	// bindings above (e.g. a private per-invocation global like
	// stdobjects' instance_id); Space distinguishes such globals, and
	// backends must ignore Slot when Space != AddressSpaceStorage.
	BindingNone BindingSlot = 255
)

// GlobalVariable is a module-scope storage-buffer binding: one of the fixed
// slots above, or a future extension. Every GlobalVariable has array<u32>
// type (DynamicU32Array) regardless of binding - callers index into it with
// whatever stride the corresponding std-object codec expects.
type GlobalVariable struct {
	Name    string
	Slot    BindingSlot
	Type    TypeHandle
	Space   AddressSpace
	Mutable bool
}

// EntryPoint is a generated invocation wrapper: a
// compute entry whose single parameter is the builtin global-invocation-id
// uvec3, dispatched with the given workgroup size. Its Function body reads
// this invocation's arguments from the input buffer, calls the Internal
// function, and writes results to the output buffer.
type EntryPoint struct {
	Name          string
	WorkgroupSize [3]uint32
	Function      *Function
	Internal      *Function
}

// Module is the complete translation unit handed to the shader backend: the
// interned type/constant arenas, the module-scope storage bindings, every
// internally callable Function (in the order callgraph produced, so a
// caller always appears after its callees), and the generated entry points.
type Module struct {
	Types     *TypeArena
	Constants *ConstantArena

	Globals []GlobalVariable

	Functions []*Function

	EntryPoints []*EntryPoint
}

// NewModule returns an empty Module with fresh type/constant arenas and the
// fixed binding table pre-declared.
func NewModule() *Module {
	m := &Module{
		Types:     NewTypeArena(),
		Constants: NewConstantArena(),
	}
	wordArray := m.Types.DynamicU32Array()
	bindings := []struct {
		name string
		slot BindingSlot
		mut  bool
	}{
		{"memory", BindingMemory, true},
		{"mutable_globals", BindingMutableGlobals, true},
		{"immutable_globals", BindingImmutableGlobals, false},
		{"tables", BindingTables, true},
		{"data", BindingData, false},
		{"element", BindingElement, false},
		{"input", BindingInput, false},
		{"output", BindingOutput, true},
		{"stack", BindingStack, true},
		{"flags", BindingFlags, true},
		{"constants", BindingConstants, false},
	}
	for _, b := range bindings {
		m.Globals = append(m.Globals, GlobalVariable{
			Name:    b.name,
			Slot:    b.slot,
			Type:    wordArray,
			Space:   AddressSpaceStorage,
			Mutable: b.mut,
		})
	}
	return m
}

// Global returns the GlobalVariable bound to the given slot.
func (m *Module) Global(slot BindingSlot) GlobalHandle {
	return GlobalHandle(slot)
}

// AddGlobal appends a module-scope global beyond the fixed storage bindings
// (e.g. the private instance_id global stdobjects maintains) and returns its
// handle.
func (m *Module) AddGlobal(gv GlobalVariable) GlobalHandle {
	h := GlobalHandle(len(m.Globals))
	m.Globals = append(m.Globals, gv)
	return h
}

// AddFunction appends a newly translated Function to the module in call
// order and returns it.
func (m *Module) AddFunction(f *Function) *Function {
	m.Functions = append(m.Functions, f)
	return f
}

// AddEntryPoint registers a generated wrapper function for internal. The
// wrapper is not added to Functions: entry points are dispatch roots, never
// callees.
func (m *Module) AddEntryPoint(name string, workgroupSize [3]uint32, wrapper, internal *Function) *EntryPoint {
	ep := &EntryPoint{Name: name, WorkgroupSize: workgroupSize, Function: wrapper, Internal: internal}
	m.EntryPoints = append(m.EntryPoints, ep)
	return ep
}

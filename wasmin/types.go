// Package wasmin models the pre-parsed, pre-validated wasm input the
// translator consumes: function signatures, locals, opcode streams and the
// cross-references a validator would already have resolved. Nothing in this
// package parses the wasm binary format or validates it - that is the
// upstream parser's job.
package wasmin

// ValueType is a wasm value type.
type ValueType byte

const (
	ValueTypeI32 ValueType = iota
	ValueTypeI64
	ValueTypeF32
	ValueTypeF64
	ValueTypeV128
	ValueTypeFuncRef
	ValueTypeExternRef
)

func (v ValueType) String() string {
	switch v {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	case ValueTypeV128:
		return "v128"
	case ValueTypeFuncRef:
		return "funcref"
	case ValueTypeExternRef:
		return "externref"
	default:
		return "unknown"
	}
}

// IsReference reports whether v is one of the two reference types.
func (v ValueType) IsReference() bool {
	return v == ValueTypeFuncRef || v == ValueTypeExternRef
}

// Index is a generic 32-bit index, matching wasm's index space encoding.
type Index = uint32

// FuncRef is a stable index identifying a function within the module's flat
// function table (imports followed by locally defined functions).
type FuncRef = Index

// FunctionType is a wasm function signature.
type FunctionType struct {
	Params  []ValueType
	Results []ValueType
}

// Local is one `(count, valtype)` entry from a function's locals declaration.
type Local struct {
	Count uint32
	Type  ValueType
}

// GlobalBinding resolves a global index to the information the translator
// needs to read/write it: which StdObjects-managed buffer it lives in, its
// byte offset therein, its value type and whether it is mutable.
type GlobalBinding struct {
	Type    ValueType
	Mutable bool
	Offset  uint32 // byte offset into the (im)mutable-globals buffer
}

// FuncAccessible is the set of cross-references a function body can use,
// already resolved by the upstream validator: function-index to FuncRef,
// global-index to binding, and so on.
type FuncAccessible struct {
	// FuncIndexLookup maps a wasm function index (as referenced by `call`
	// and `call_indirect`'s type check) to a FuncRef.
	FuncIndexLookup []FuncRef
	// TypeLookup maps a wasm type index to its FunctionType, used to
	// resolve call_indirect's expected signature.
	TypeLookup []*FunctionType
	// GlobalLookup maps a wasm global index to its resolved binding.
	GlobalLookup []GlobalBinding
	// MemoryPresent is true iff the module defines or imports any linear
	// memory accessible to this function.
	MemoryPresent bool
	// TablePresent is true iff the module defines or imports any table
	// accessible to this function (needed by call_indirect).
	TablePresent bool
}

// FuncUnit is one pre-parsed wasm function: its signature, locals
// declaration, raw opcode stream and resolved cross-references. FuncUnits
// are immutable for the duration of translation.
type FuncUnit struct {
	Index      FuncRef
	Type       *FunctionType
	Locals     []Local
	Body       []byte
	Accessible *FuncAccessible
	// Name is an optional debug name (e.g. from the wasm name section),
	// used only to name the generated shader functions more legibly.
	Name string
}

// FuncsInstance is the flat, append-only table of FuncUnits indexed by
// FuncRef, constructed by the upstream parser and read by the translator.
type FuncsInstance struct {
	units []*FuncUnit
}

// NewFuncsInstance builds a FuncsInstance from an already-ordered slice of
// FuncUnits; unit.Index must equal its position in the slice.
func NewFuncsInstance(units []*FuncUnit) *FuncsInstance {
	return &FuncsInstance{units: units}
}

// Get returns the FuncUnit for the given FuncRef.
func (f *FuncsInstance) Get(ref FuncRef) *FuncUnit {
	return f.units[ref]
}

// Count returns the number of functions in the module.
func (f *FuncsInstance) Count() int {
	return len(f.units)
}

// All returns every FuncUnit in FuncRef order. Callers must not mutate the
// returned slice.
func (f *FuncsInstance) All() []*FuncUnit {
	return f.units
}

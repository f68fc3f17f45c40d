package ir

// Local is a function-local variable: a genuine wasm local, a block escape
// flag, or the synthetic result slot used to stash a call's return value
// before it is wrapped as an ExprCallResult pure expression. Every local is
// zero-initialized at function entry (false for bool, 0 for numerics, all-
// zero for composites), matching WGSL's `var` semantics; backends targeting
// an IR without implicit zeroing must emit explicit initializers.
type Local struct {
	Name string
	Type TypeHandle
}

// Function is one translated wasm function: its locals, parameter/result
// shape, expression arena and statement body. Function translation
// populates these incrementally via a BlockContext bound to this Function's
// arena.
type Function struct {
	Name string

	// Params mirrors the wasm function type's parameter list; each has a
	// matching Local for argument access (ExprFunctionArgument indexes into
	// Params by position, not into Locals).
	Params []TypeHandle

	// Result is the function's single return type, or InvalidTypeHandle
	// for a void function. The shader-IR target supports only at most one
	// return value per function, so a multi-result wasm function gets a
	// synthesized result struct here (see translate.declare) rather than
	// multiple Result slots.
	Result TypeHandle

	Locals []Local

	Expressions ExpressionArena

	Body Block
}

// NewFunction returns an empty Function ready for a BlockContext to build
// into, with its declared parameters set and no locals yet (AddLocal
// declares them; they are zero-initialized later by the block translator,
// following wasm's implicit-zero-value local semantics).
func NewFunction(name string, params []TypeHandle, result TypeHandle) *Function {
	return &Function{Name: name, Params: params, Result: result}
}

// AddLocal declares a new local of the given type and returns its handle.
func (f *Function) AddLocal(name string, ty TypeHandle) LocalHandle {
	h := LocalHandle(len(f.Locals))
	f.Locals = append(f.Locals, Local{Name: name, Type: ty})
	return h
}

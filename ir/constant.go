package ir

import "fmt"

// ConstHandle is an index into a Module's ConstantArena.
type ConstHandle int

const InvalidConstHandle ConstHandle = -1

// Literal is a scalar compile-time value, stored as raw bits so the same
// struct covers bool/i32/u32/f32 without a variant tag per kind.
type Literal struct {
	Kind ScalarKind
	Bits uint32 // bool: 0/1; i32/u32: two's complement bits; f32: IEEE-754 bits
}

func LiteralBool(v bool) Literal {
	var b uint32
	if v {
		b = 1
	}
	return Literal{Kind: Bool, Bits: b}
}
func LiteralI32(v int32) Literal { return Literal{Kind: Sint, Bits: uint32(v)} }
func LiteralU32(v uint32) Literal { return Literal{Kind: Uint, Bits: v} }
func LiteralF32Bits(bits uint32) Literal { return Literal{Kind: Float, Bits: bits} }

// Constant is an interned constant value: either a scalar Literal or a
// composite built from other constants (used for zero-initializers of
// composite locals such as the polyfilled i64/f64/v128 types).
type Constant struct {
	Type       TypeHandle
	Literal    *Literal
	Components []ConstHandle // non-nil for composite constants
}

func (c Constant) key() string {
	if c.Literal != nil {
		return fmt.Sprintf("lit(%d,%d,%d)", c.Type, c.Literal.Kind, c.Literal.Bits)
	}
	return fmt.Sprintf("comp(%d,%v)", c.Type, c.Components)
}

// ConstantArena interns Constants up to structural equality.
type ConstantArena struct {
	consts []Constant
	index  map[string]ConstHandle
}

func NewConstantArena() *ConstantArena {
	return &ConstantArena{index: make(map[string]ConstHandle)}
}

func (a *ConstantArena) Insert(c Constant) ConstHandle {
	k := c.key()
	if h, ok := a.index[k]; ok {
		return h
	}
	h := ConstHandle(len(a.consts))
	a.consts = append(a.consts, c)
	a.index[k] = h
	return h
}

func (a *ConstantArena) Get(h ConstHandle) Constant { return a.consts[h] }

// Scalar interns a scalar literal constant of the given type.
func (a *ConstantArena) Scalar(ty TypeHandle, lit Literal) ConstHandle {
	return a.Insert(Constant{Type: ty, Literal: &lit})
}

// Composite interns a composite constant (e.g. a zero uvec2 for i64).
func (a *ConstantArena) Composite(ty TypeHandle, components []ConstHandle) ConstHandle {
	return a.Insert(Constant{Type: ty, Components: components})
}

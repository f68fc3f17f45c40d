// Package ir implements the shader intermediate representation consumed and
// produced by the translator: an interned type arena, an interned constant
// arena, a per-function expression arena with SSA-like handles, and the
// statement block model (Store/Call/Emit/If/Loop/Return/Kill). Downstream
// shader backends consume a Module and render it to their target language;
// the arena/handle/emit discipline exists so a backend can validate
// expression liveness without re-deriving it.
package ir

import (
	"fmt"
	"strings"
)

// ScalarKind is the element kind of a scalar or vector type.
type ScalarKind byte

const (
	Bool ScalarKind = iota
	Sint
	Uint
	Float
)

func (k ScalarKind) String() string {
	switch k {
	case Bool:
		return "bool"
	case Sint:
		return "i"
	case Uint:
		return "u"
	case Float:
		return "f"
	default:
		return "?"
	}
}

// VectorSize is the lane count of a vector type.
type VectorSize byte

const (
	Vec2 VectorSize = 2
	Vec3 VectorSize = 3
	Vec4 VectorSize = 4
)

// AddressSpace is the storage class of a pointer/global-variable type.
type AddressSpace byte

const (
	AddressSpaceFunction AddressSpace = iota // function-local variable
	AddressSpacePrivate                      // module-scope global, private to this invocation
	AddressSpaceStorage                      // bound storage buffer (group 0 bindings)
)

// TypeHandle is an index into a Module's TypeArena. Handles are stable for
// the lifetime of the module: the arena never deletes entries.
type TypeHandle int

// Invalid reports whether h is the zero-value sentinel handle.
func (h TypeHandle) Invalid() bool { return h < 0 }

const InvalidTypeHandle TypeHandle = -1

// TypeKind discriminates the shapes a Type can take.
type TypeKind byte

const (
	KindScalar TypeKind = iota
	KindVector
	KindArray
	KindStruct
	KindPointer
)

// StructMember is one field of a KindStruct type; Offset is the byte offset
// within the struct, used for IO-binding layout.
type StructMember struct {
	Name   string
	Type   TypeHandle
	Offset uint32
}

// Type is a single interned shader value type. Only the fields relevant to
// Kind are populated.
type Type struct {
	Kind TypeKind

	// KindScalar / KindVector
	Scalar ScalarKind
	Width  byte // bytes: 4 for i32/u32/f32, 8 for... nothing natively (i64/f64 are polyfilled as vectors of u32)
	Size   VectorSize

	// KindArray
	ArrayBase   TypeHandle
	ArrayLen    uint32 // 0 means a runtime-sized (dynamic) array
	ArrayStride uint32

	// KindStruct
	Members []StructMember

	// KindPointer
	PointerBase  TypeHandle
	PointerSpace AddressSpace
}

func (t Type) key() string {
	var b strings.Builder
	switch t.Kind {
	case KindScalar:
		fmt.Fprintf(&b, "scalar(%s%d)", t.Scalar, t.Width)
	case KindVector:
		fmt.Fprintf(&b, "vec%d(%s%d)", t.Size, t.Scalar, t.Width)
	case KindArray:
		fmt.Fprintf(&b, "array(%d,%d,%d)", t.ArrayBase, t.ArrayLen, t.ArrayStride)
	case KindStruct:
		b.WriteString("struct(")
		for _, m := range t.Members {
			fmt.Fprintf(&b, "%s:%d@%d,", m.Name, m.Type, m.Offset)
		}
		b.WriteByte(')')
	case KindPointer:
		fmt.Fprintf(&b, "ptr(%d,%d)", t.PointerBase, t.PointerSpace)
	}
	return b.String()
}

// SizeBytes returns the in-buffer byte size of a scalar/vector/array-with-
// static-length/struct type. Dynamic arrays return 0.
func (t Type) SizeBytes(arena *TypeArena) uint32 {
	switch t.Kind {
	case KindScalar:
		return uint32(t.Width)
	case KindVector:
		return uint32(t.Size) * uint32(t.Width)
	case KindArray:
		if t.ArrayLen == 0 {
			return 0
		}
		return t.ArrayLen * t.ArrayStride
	case KindStruct:
		if len(t.Members) == 0 {
			return 0
		}
		last := t.Members[len(t.Members)-1]
		return last.Offset + arena.Get(last.Type).SizeBytes(arena)
	default:
		return 0
	}
}

// TypeArena interns Types up to structural equality: inserting the same
// shape twice yields the same handle.
type TypeArena struct {
	types []Type
	index map[string]TypeHandle
}

// NewTypeArena returns an empty TypeArena.
func NewTypeArena() *TypeArena {
	return &TypeArena{index: make(map[string]TypeHandle)}
}

// Insert interns t, returning its (possibly pre-existing) handle.
func (a *TypeArena) Insert(t Type) TypeHandle {
	k := t.key()
	if h, ok := a.index[k]; ok {
		return h
	}
	h := TypeHandle(len(a.types))
	a.types = append(a.types, t)
	a.index[k] = h
	return h
}

// Get dereferences a handle.
func (a *TypeArena) Get(h TypeHandle) Type {
	return a.types[h]
}

// Len returns the number of distinct interned types.
func (a *TypeArena) Len() int { return len(a.types) }

// Convenience constructors for the scalar/vector shapes the translator uses
// repeatedly.

func (a *TypeArena) Bool() TypeHandle {
	return a.Insert(Type{Kind: KindScalar, Scalar: Bool, Width: 4})
}
func (a *TypeArena) I32() TypeHandle {
	return a.Insert(Type{Kind: KindScalar, Scalar: Sint, Width: 4})
}
func (a *TypeArena) U32() TypeHandle {
	return a.Insert(Type{Kind: KindScalar, Scalar: Uint, Width: 4})
}
func (a *TypeArena) F32() TypeHandle {
	return a.Insert(Type{Kind: KindScalar, Scalar: Float, Width: 4})
}
func (a *TypeArena) UVec2() TypeHandle {
	return a.Insert(Type{Kind: KindVector, Scalar: Uint, Width: 4, Size: Vec2})
}
func (a *TypeArena) UVec3() TypeHandle {
	return a.Insert(Type{Kind: KindVector, Scalar: Uint, Width: 4, Size: Vec3})
}
func (a *TypeArena) UVec4() TypeHandle {
	return a.Insert(Type{Kind: KindVector, Scalar: Uint, Width: 4, Size: Vec4})
}

// DynamicU32Array returns `array<u32>` (a runtime-sized word buffer), used
// for every storage binding in the std objects layer.
func (a *TypeArena) DynamicU32Array() TypeHandle {
	return a.Insert(Type{Kind: KindArray, ArrayBase: a.U32(), ArrayLen: 0, ArrayStride: 4})
}

// Pointer returns a pointer-to-base type in the given address space.
func (a *TypeArena) Pointer(base TypeHandle, space AddressSpace) TypeHandle {
	return a.Insert(Type{Kind: KindPointer, PointerBase: base, PointerSpace: space})
}

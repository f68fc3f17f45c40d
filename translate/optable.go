package translate

import "github.com/LucentFlux/wasm-gpu-go/wasmin"

// opShape describes a numeric opcode's stack effect: the value type whose
// standard-objects implementation owns it (the operand type for same-type
// arithmetic, the result type for conversions), its operand types in order,
// and its result type. Every numeric wasm opcode produces exactly one
// value.
type opShape struct {
	owner  wasmin.ValueType
	args   []wasmin.ValueType
	result wasmin.ValueType
}

func unaryShape(owner, arg, result wasmin.ValueType) opShape {
	return opShape{owner: owner, args: []wasmin.ValueType{arg}, result: result}
}

func binaryShape(owner, arg, result wasmin.ValueType) opShape {
	return opShape{owner: owner, args: []wasmin.ValueType{arg, arg}, result: result}
}

// classifyNumeric maps a numeric opcode to its shape, driven by the wasm
// opcode space's contiguous per-type ranges plus an explicit table for the
// conversions. i32.wrap_i64 is absent: the block translator lowers it
// inline as a low-lane extract.
func classifyNumeric(op wasmin.Opcode) (opShape, bool) {
	const (
		i32 = wasmin.ValueTypeI32
		i64 = wasmin.ValueTypeI64
		f32 = wasmin.ValueTypeF32
		f64 = wasmin.ValueTypeF64
	)
	switch {
	case op == wasmin.OpcodeI32Eqz:
		return unaryShape(i32, i32, i32), true
	case op >= wasmin.OpcodeI32Eq && op <= wasmin.OpcodeI32GeU:
		return binaryShape(i32, i32, i32), true
	case op == wasmin.OpcodeI64Eqz:
		return unaryShape(i64, i64, i32), true
	case op >= wasmin.OpcodeI64Eq && op <= wasmin.OpcodeI64GeU:
		return binaryShape(i64, i64, i32), true
	case op >= wasmin.OpcodeF32Eq && op <= wasmin.OpcodeF32Ge:
		return binaryShape(f32, f32, i32), true
	case op >= wasmin.OpcodeF64Eq && op <= wasmin.OpcodeF64Ge:
		return binaryShape(f64, f64, i32), true
	case op >= wasmin.OpcodeI32Clz && op <= wasmin.OpcodeI32Popcnt:
		return unaryShape(i32, i32, i32), true
	case op >= wasmin.OpcodeI32Add && op <= wasmin.OpcodeI32Rotr:
		return binaryShape(i32, i32, i32), true
	case op >= wasmin.OpcodeI64Clz && op <= wasmin.OpcodeI64Popcnt:
		return unaryShape(i64, i64, i64), true
	case op >= wasmin.OpcodeI64Add && op <= wasmin.OpcodeI64Rotr:
		return binaryShape(i64, i64, i64), true
	case op >= wasmin.OpcodeF32Abs && op <= wasmin.OpcodeF32Sqrt:
		return unaryShape(f32, f32, f32), true
	case op >= wasmin.OpcodeF32Add && op <= wasmin.OpcodeF32Copysign:
		return binaryShape(f32, f32, f32), true
	case op >= wasmin.OpcodeF64Abs && op <= wasmin.OpcodeF64Sqrt:
		return unaryShape(f64, f64, f64), true
	case op >= wasmin.OpcodeF64Add && op <= wasmin.OpcodeF64Copysign:
		return binaryShape(f64, f64, f64), true
	case op == wasmin.OpcodeI32Extend8S || op == wasmin.OpcodeI32Extend16S:
		return unaryShape(i32, i32, i32), true
	case op >= wasmin.OpcodeI64Extend8S && op <= wasmin.OpcodeI64Extend32S:
		return unaryShape(i64, i64, i64), true
	}

	conversions := map[wasmin.Opcode]opShape{
		wasmin.OpcodeI32TruncF32S:      unaryShape(i32, f32, i32),
		wasmin.OpcodeI32TruncF32U:      unaryShape(i32, f32, i32),
		wasmin.OpcodeI32TruncF64S:      unaryShape(i32, f64, i32),
		wasmin.OpcodeI32TruncF64U:      unaryShape(i32, f64, i32),
		wasmin.OpcodeI64ExtendI32S:     unaryShape(i64, i32, i64),
		wasmin.OpcodeI64ExtendI32U:     unaryShape(i64, i32, i64),
		wasmin.OpcodeI64TruncF32S:      unaryShape(i64, f32, i64),
		wasmin.OpcodeI64TruncF32U:      unaryShape(i64, f32, i64),
		wasmin.OpcodeI64TruncF64S:      unaryShape(i64, f64, i64),
		wasmin.OpcodeI64TruncF64U:      unaryShape(i64, f64, i64),
		wasmin.OpcodeF32ConvertI32S:    unaryShape(f32, i32, f32),
		wasmin.OpcodeF32ConvertI32U:    unaryShape(f32, i32, f32),
		wasmin.OpcodeF32ConvertI64S:    unaryShape(f32, i64, f32),
		wasmin.OpcodeF32ConvertI64U:    unaryShape(f32, i64, f32),
		wasmin.OpcodeF32DemoteF64:      unaryShape(f32, f64, f32),
		wasmin.OpcodeF64ConvertI32S:    unaryShape(f64, i32, f64),
		wasmin.OpcodeF64ConvertI32U:    unaryShape(f64, i32, f64),
		wasmin.OpcodeF64ConvertI64S:    unaryShape(f64, i64, f64),
		wasmin.OpcodeF64ConvertI64U:    unaryShape(f64, i64, f64),
		wasmin.OpcodeF64PromoteF32:     unaryShape(f64, f32, f64),
		wasmin.OpcodeI32ReinterpretF32: unaryShape(i32, f32, i32),
		wasmin.OpcodeI64ReinterpretF64: unaryShape(i64, f64, i64),
		wasmin.OpcodeF32ReinterpretI32: unaryShape(f32, i32, f32),
		wasmin.OpcodeF64ReinterpretI64: unaryShape(f64, i64, f64),
	}
	shape, ok := conversions[op]
	return shape, ok
}

// memMode describes a load/store opcode beyond its value type and byte
// width: store vs load, and sign extension for the sub-word loads.
type memMode struct {
	store  bool
	signed bool
}

// classifyMemory maps a load/store opcode to (value type, access width in
// bytes, mode). Width below the type's full size marks a sub-word access.
func classifyMemory(op wasmin.Opcode) (wasmin.ValueType, uint32, memMode, bool) {
	const (
		i32 = wasmin.ValueTypeI32
		i64 = wasmin.ValueTypeI64
		f32 = wasmin.ValueTypeF32
		f64 = wasmin.ValueTypeF64
	)
	switch op {
	case wasmin.OpcodeI32Load:
		return i32, 4, memMode{}, true
	case wasmin.OpcodeI64Load:
		return i64, 8, memMode{}, true
	case wasmin.OpcodeF32Load:
		return f32, 4, memMode{}, true
	case wasmin.OpcodeF64Load:
		return f64, 8, memMode{}, true
	case wasmin.OpcodeI32Load8S:
		return i32, 1, memMode{signed: true}, true
	case wasmin.OpcodeI32Load8U:
		return i32, 1, memMode{}, true
	case wasmin.OpcodeI32Load16S:
		return i32, 2, memMode{signed: true}, true
	case wasmin.OpcodeI32Load16U:
		return i32, 2, memMode{}, true
	case wasmin.OpcodeI64Load8S:
		return i64, 1, memMode{signed: true}, true
	case wasmin.OpcodeI64Load8U:
		return i64, 1, memMode{}, true
	case wasmin.OpcodeI64Load16S:
		return i64, 2, memMode{signed: true}, true
	case wasmin.OpcodeI64Load16U:
		return i64, 2, memMode{}, true
	case wasmin.OpcodeI64Load32S:
		return i64, 4, memMode{signed: true}, true
	case wasmin.OpcodeI64Load32U:
		return i64, 4, memMode{}, true
	case wasmin.OpcodeI32Store:
		return i32, 4, memMode{store: true}, true
	case wasmin.OpcodeI64Store:
		return i64, 8, memMode{store: true}, true
	case wasmin.OpcodeF32Store:
		return f32, 4, memMode{store: true}, true
	case wasmin.OpcodeF64Store:
		return f64, 8, memMode{store: true}, true
	case wasmin.OpcodeI32Store8:
		return i32, 1, memMode{store: true}, true
	case wasmin.OpcodeI32Store16:
		return i32, 2, memMode{store: true}, true
	case wasmin.OpcodeI64Store8:
		return i64, 1, memMode{store: true}, true
	case wasmin.OpcodeI64Store16:
		return i64, 2, memMode{store: true}, true
	case wasmin.OpcodeI64Store32:
		return i64, 4, memMode{store: true}, true
	}
	return 0, 0, memMode{}, false
}

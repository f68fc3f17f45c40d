package translate

import (
	"fmt"
	"math"

	"github.com/LucentFlux/wasm-gpu-go/faults"
	"github.com/LucentFlux/wasm-gpu-go/ir"
	"github.com/LucentFlux/wasm-gpu-go/wasmin"
)

// IOAlignmentWords is the per-argument alignment, in words, of the
// input/output buffer layout and of synthesized result-struct fields.
// Every wasm value type's byte size is already a word multiple, so 1 packs
// tightly while keeping the layout formula uniform.
const IOAlignmentWords = 1

// fnLocal pairs a wasm local's value type with the handle of the ir local
// backing it; the expression naming the local is appended per-use, since
// expressions are per-block-context.
type fnLocal struct {
	vt     wasmin.ValueType
	handle ir.LocalHandle
}

// internalFunction is a forward-declared internal shader function: its ir
// handle, the source FuncUnit, the
// wasm-local table, and its result shape.
type internalFunction struct {
	unit *wasmin.FuncUnit
	fn   *ir.Function

	// locals is indexed by wasm local index: parameters first, declared
	// locals after, per the wasm local index space.
	locals []fnLocal

	resultTypes []wasmin.ValueType
	// resultStruct is the synthesized {v0, v1, ...} struct type when the
	// function has two or more results; InvalidTypeHandle otherwise (the
	// fn's Result is then the single value type, or invalid for void).
	resultStruct ir.TypeHandle

	blockCount int
}

// nextBlockID hands out the monotonically increasing per-function block id
// used to name escape flags and result locals.
func (f *internalFunction) nextBlockID() int {
	id := f.blockCount
	f.blockCount++
	return id
}

// declare allocates the shader function for unit: parameter types, the
// result type (a synthesized struct for multi-result signatures, field
// offsets the cumulative IO-aligned sums of the field sizes), and the name
// contract `__wasm_function_<funcref>_base_impl`.
// Locals are added by generateBody, which also materializes parameters as
// writable locals.
func (t *translator) declare(unit *wasmin.FuncUnit) (*internalFunction, error) {
	if len(unit.Type.Params) > math.MaxInt32 {
		return nil, faults.BoundsExceeded("parameters")
	}
	if len(unit.Type.Results) > math.MaxInt32 {
		return nil, faults.BoundsExceeded("results")
	}

	params := make([]ir.TypeHandle, len(unit.Type.Params))
	for i, vt := range unit.Type.Params {
		ty, err := t.objects.Ty(vt)
		if err != nil {
			return nil, err
		}
		params[i] = ty
	}

	result := ir.InvalidTypeHandle
	resultStruct := ir.InvalidTypeHandle
	switch len(unit.Type.Results) {
	case 0:
	case 1:
		ty, err := t.objects.Ty(unit.Type.Results[0])
		if err != nil {
			return nil, err
		}
		result = ty
	default:
		members := make([]ir.StructMember, len(unit.Type.Results))
		offset := uint32(0)
		for i, vt := range unit.Type.Results {
			ty, err := t.objects.Ty(vt)
			if err != nil {
				return nil, err
			}
			size, err := t.objects.SizeBytes(vt)
			if err != nil {
				return nil, err
			}
			members[i] = ir.StructMember{Name: fmt.Sprintf("v%d", i), Type: ty, Offset: offset}
			offset += alignWords(size) * 4
		}
		resultStruct = t.objects.Module.Types.Insert(ir.Type{Kind: ir.KindStruct, Members: members})
		result = resultStruct
	}

	name := fmt.Sprintf("__wasm_function_%d_base_impl", unit.Index)
	fn := ir.NewFunction(name, params, result)
	t.objects.Module.AddFunction(fn)

	return &internalFunction{
		unit:         unit,
		fn:           fn,
		resultTypes:  unit.Type.Results,
		resultStruct: resultStruct,
	}, nil
}

// alignWords rounds size (bytes) up to whole words and then to the IO
// alignment: ceil(b / (4*A)) * A words.
func alignWords(sizeBytes uint32) uint32 {
	words := (sizeBytes + 4*IOAlignmentWords - 1) / (4 * IOAlignmentWords)
	return words * IOAlignmentWords
}

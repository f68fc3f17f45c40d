package wasmin

import "fmt"

// SkipImmediates consumes the immediates following op, leaving the reader
// positioned at the next opcode. Used when walking a body without lowering
// it: the call-graph scan, and the translator's dead-code skip after an
// unconditional branch.
func (r *Reader) SkipImmediates(op Opcode) error {
	switch op {
	case OpcodeBlock, OpcodeLoop, OpcodeIf:
		_, _, _, err := r.ReadBlockType()
		return err
	case OpcodeBr, OpcodeBrIf, OpcodeCall, OpcodeReturnCall,
		OpcodeLocalGet, OpcodeLocalSet, OpcodeLocalTee,
		OpcodeGlobalGet, OpcodeGlobalSet, OpcodeRefFunc:
		_, err := r.ReadU32()
		return err
	case OpcodeBrTable:
		n, err := r.ReadU32()
		if err != nil {
			return err
		}
		for i := uint32(0); i <= n; i++ {
			if _, err := r.ReadU32(); err != nil {
				return err
			}
		}
		return nil
	case OpcodeCallIndirect, OpcodeReturnCallIndirect:
		if _, err := r.ReadU32(); err != nil {
			return err
		}
		_, err := r.ReadU32()
		return err
	case OpcodeTypedSelect:
		n, err := r.ReadU32()
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			if _, err := r.ReadByte(); err != nil {
				return err
			}
		}
		return nil
	case OpcodeRefNull:
		_, err := r.ReadByte()
		return err
	case OpcodeI32Load, OpcodeI64Load, OpcodeF32Load, OpcodeF64Load,
		OpcodeI32Load8S, OpcodeI32Load8U, OpcodeI32Load16S, OpcodeI32Load16U,
		OpcodeI64Load8S, OpcodeI64Load8U, OpcodeI64Load16S, OpcodeI64Load16U,
		OpcodeI64Load32S, OpcodeI64Load32U,
		OpcodeI32Store, OpcodeI64Store, OpcodeF32Store, OpcodeF64Store,
		OpcodeI32Store8, OpcodeI32Store16,
		OpcodeI64Store8, OpcodeI64Store16, OpcodeI64Store32:
		_, err := r.ReadMemArg()
		return err
	case OpcodeMemorySize, OpcodeMemoryGrow:
		_, err := r.ReadByte() // memory index, always 0 pre-multi-memory
		return err
	case OpcodeI32Const:
		_, err := r.ReadI32()
		return err
	case OpcodeI64Const:
		_, err := r.ReadI64()
		return err
	case OpcodeF32Const:
		_, err := r.ReadF32()
		return err
	case OpcodeF64Const:
		_, err := r.ReadF64()
		return err
	case OpcodeMiscPrefix:
		sub, err := r.ReadByte()
		if err != nil {
			return err
		}
		if MiscOpcode(sub) <= OpcodeMiscI64TruncSatF64U {
			return nil // trunc_sat family carries no immediates
		}
		return fmt.Errorf("wasmin: cannot skip misc opcode 0x%02x", sub)
	case OpcodeVecPrefix, OpcodeAtomicPrefix:
		return fmt.Errorf("wasmin: cannot skip prefixed opcode 0x%02x", byte(op))
	default:
		return nil
	}
}

package stdobjects

import (
	"github.com/LucentFlux/wasm-gpu-go/faults"
	"github.com/LucentFlux/wasm-gpu-go/ir"
)

// EmitTrapIf appends, to ctx, "if cond { trap(code); kill }" - the pattern
// every opcode that can fault (integer division, overflow, out-of-bounds
// conversions) uses before performing its operation. Execution continues
// normally past the If when cond is false: the trap write and the Kill are
// sequenced, not an early function return.
func (o *Objects) EmitTrapIf(ctx *ir.BlockContext, cond ir.ExprHandle, code faults.Trap) error {
	trapFn, err := o.Trap()
	if err != nil {
		return err
	}
	ifb := ctx.If(cond)
	then := ifb.Then()
	codeLit := then.AppendLiteral(ir.LiteralU32(uint32(code)))
	then.CallVoid(trapFn, []ir.ExprHandle{codeLit})
	then.Kill()
	then.Finish()
	ifb.Otherwise().Finish()
	return nil
}

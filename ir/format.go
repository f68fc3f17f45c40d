package ir

import (
	"fmt"
	"strings"
)

// Format renders m as an indented pseudo-WGSL-like text dump, used by
// tests and the CLI's -dump-ir flag to inspect a translation without a
// real shader backend.
func (m *Module) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "module (%d types, %d functions, %d entry points)\n", m.Types.Len(), len(m.Functions), len(m.EntryPoints))
	for _, f := range m.Functions {
		f.format(&b, m, 0)
	}
	for _, ep := range m.EntryPoints {
		fmt.Fprintf(&b, "entry %s @workgroup(%d,%d,%d) -> %s\n", ep.Name,
			ep.WorkgroupSize[0], ep.WorkgroupSize[1], ep.WorkgroupSize[2], ep.Internal.Name)
		ep.Function.format(&b, m, 0)
	}
	return b.String()
}

func (f *Function) format(b *strings.Builder, m *Module, indent int) {
	fmt.Fprintf(b, "fn %s(%d params) -> %v\n", f.Name, len(f.Params), f.Result)
	formatBlock(b, f.Body, indent+1)
}

func formatBlock(b *strings.Builder, block Block, indent int) {
	pad := strings.Repeat("  ", indent)
	for _, s := range block {
		switch s.Kind {
		case StmtEmit:
			fmt.Fprintf(b, "%semit %d..%d\n", pad, s.RangeStart, s.RangeEnd)
		case StmtStore:
			fmt.Fprintf(b, "%sstore *%d = %d\n", pad, s.Pointer, s.Value)
		case StmtCall:
			fmt.Fprintf(b, "%scall %s(%v)\n", pad, s.Function.Name, s.CallArgs)
		case StmtIf:
			fmt.Fprintf(b, "%sif %d {\n", pad, s.Condition)
			formatBlock(b, s.Accept, indent+1)
			fmt.Fprintf(b, "%s} else {\n", pad)
			formatBlock(b, s.Reject, indent+1)
			fmt.Fprintf(b, "%s}\n", pad)
		case StmtLoop:
			fmt.Fprintf(b, "%sloop {\n", pad)
			formatBlock(b, s.Body, indent+1)
			if len(s.Continuing) > 0 {
				fmt.Fprintf(b, "%s} continuing {\n", pad)
				formatBlock(b, s.Continuing, indent+1)
			}
			if s.BreakIf != InvalidExprHandle {
				fmt.Fprintf(b, "%s} break_if %d {\n", pad, s.BreakIf)
			}
			fmt.Fprintf(b, "%s}\n", pad)
		case StmtReturn:
			if s.ReturnValue == InvalidExprHandle {
				fmt.Fprintf(b, "%sreturn\n", pad)
			} else {
				fmt.Fprintf(b, "%sreturn %d\n", pad, s.ReturnValue)
			}
		case StmtKill:
			fmt.Fprintf(b, "%skill\n", pad)
		}
	}
}

// Package callgraph derives the topological generation order over a
// module's functions from its direct-call edges.
// Indirect calls never contribute edges - every call_indirect routes
// through the shared brain function - so the graph is a DAG for any
// pre-validated module, and the order guarantees a callee's shader
// function exists before any caller's body references it.
package callgraph

import (
	"github.com/LucentFlux/wasm-gpu-go/faults"
	"github.com/LucentFlux/wasm-gpu-go/log"
	"github.com/LucentFlux/wasm-gpu-go/wasmin"
	"go.uber.org/zap"
)

// Order is a total order over FuncRefs such that direct callees precede
// direct callers.
type Order []wasmin.FuncRef

// Position returns ref's index within the order.
func (o Order) Position(ref wasmin.FuncRef) int {
	for i, r := range o {
		if r == ref {
			return i
		}
	}
	return -1
}

// Build scans every function body for direct Call/ReturnCall edges and
// peels the graph into a generation order: repeatedly remove the
// highest-index node with no remaining callers; if none exists (a cycle,
// which only a pre-validation bug can introduce here) the highest-
// out-degree remaining node is forced out so the build still terminates.
//
// The peel removes zero-IN-degree nodes in the caller->callee direction,
// then the collected sequence is reversed, which places callees first.
func Build(funcs *wasmin.FuncsInstance) (Order, error) {
	n := funcs.Count()
	edges := make([]map[wasmin.FuncRef]struct{}, n) // caller -> callees

	for _, unit := range funcs.All() {
		callees, err := directCallees(unit)
		if err != nil {
			return nil, err
		}
		edges[unit.Index] = callees
	}
	// inDegree counts callers: a node with zero callers is "external" and
	// can be emitted first in the caller-led peel.
	inDegree := make([]int, n)
	for _, callees := range edges {
		for callee := range callees {
			inDegree[callee]++
		}
	}

	removed := make([]bool, n)
	order := make(Order, 0, n)
	for len(order) < n {
		// Highest-index node nobody still calls.
		pick := -1
		for i := n - 1; i >= 0; i-- {
			if !removed[i] && inDegree[i] == 0 {
				pick = i
				break
			}
		}
		if pick < 0 {
			// Cycle: force out the highest-out-degree node.
			best, bestDeg := -1, -1
			for i := n - 1; i >= 0; i-- {
				if removed[i] {
					continue
				}
				deg := 0
				for callee := range edges[i] {
					if !removed[callee] {
						deg++
					}
				}
				if deg > bestDeg {
					best, bestDeg = i, deg
				}
			}
			pick = best
			log.Logger().Warn("callgraph: direct-call cycle, forcing node out",
				zap.Uint32("funcref", uint32(pick)))
		}
		removed[pick] = true
		order = append(order, wasmin.FuncRef(pick))
		for callee := range edges[pick] {
			if !removed[callee] {
				inDegree[callee]--
			}
		}
	}

	// Callers were peeled first; reverse so callees come first.
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order, nil
}

// MayCall reports whether caller may directly call callee under the order:
// the callee must have been generated strictly before the caller.
func (o Order) MayCall(caller, callee wasmin.FuncRef) bool {
	return o.Position(callee) < o.Position(caller)
}

// directCallees collects the distinct FuncRefs unit calls directly.
func directCallees(unit *wasmin.FuncUnit) (map[wasmin.FuncRef]struct{}, error) {
	callees := make(map[wasmin.FuncRef]struct{})
	r := wasmin.NewReader(unit.Body)
	for !r.Done() {
		b, err := r.ReadByte()
		if err != nil {
			return nil, faults.Internalf("callgraph: func %d: %v", unit.Index, err)
		}
		op := wasmin.Opcode(b)
		if op == wasmin.OpcodeCall || op == wasmin.OpcodeReturnCall {
			idx, err := r.ReadU32()
			if err != nil {
				return nil, faults.Internalf("callgraph: func %d: %v", unit.Index, err)
			}
			if int(idx) >= len(unit.Accessible.FuncIndexLookup) {
				return nil, faults.Internalf("callgraph: func %d calls out-of-range index %d", unit.Index, idx)
			}
			target := unit.Accessible.FuncIndexLookup[idx]
			if target != unit.Index { // self-recursion adds no edge: it does not constrain the order
				callees[target] = struct{}{}
			}
		} else if err := r.SkipImmediates(op); err != nil {
			return nil, faults.UnsupportedInstruction(err.Error())
		}
	}
	return callees, nil
}

// Package translate is the code generator core: it consumes pre-parsed
// wasm function bodies (wasmin) and emits an equivalent shader-IR module
// (ir), using the standard-objects catalog (stdobjects) for every type,
// codec and arithmetic primitive, in the generation order derived by
// callgraph: the function translator, the block translator, the
// basic-block translator and the entry-point wrapper generator, plus the
// brain function body.
package translate

import (
	"fmt"

	"github.com/LucentFlux/wasm-gpu-go/callgraph"
	"github.com/LucentFlux/wasm-gpu-go/faults"
	"github.com/LucentFlux/wasm-gpu-go/ir"
	"github.com/LucentFlux/wasm-gpu-go/log"
	"github.com/LucentFlux/wasm-gpu-go/stdobjects"
	"github.com/LucentFlux/wasm-gpu-go/wasmin"
	"go.uber.org/zap"
)

// Options configures one module translation.
type Options struct {
	// WorkgroupSize is the x dimension of every generated entry point's
	// workgroup; dispatches are (ceil(N / WorkgroupSize), 1, 1).
	WorkgroupSize uint32
	// Capabilities selects the host's shader capabilities (native f32,
	// f64 availability).
	Capabilities stdobjects.Options
}

// DefaultOptions returns the translation defaults: workgroup size 64 and
// the default capability set.
func DefaultOptions() Options {
	return Options{WorkgroupSize: 64, Capabilities: stdobjects.DefaultOptions()}
}

// translator is the per-module build state shared by every generation step.
type translator struct {
	opts    Options
	funcs   *wasmin.FuncsInstance
	objects *stdobjects.Objects
	order   callgraph.Order

	declared map[wasmin.FuncRef]*internalFunction

	// usedIndirect records whether any call_indirect site resolved the
	// brain function, so buildBrain knows whether a body is needed.
	usedIndirect bool

	// typeIDs interns function signatures to module-wide canonical ids,
	// used for the brain function's signature check (two structurally
	// equal type-section entries must compare equal at dispatch time).
	typeIDs map[string]uint32
}

// Translate lowers every function of funcs into a fresh shader module and
// generates one compute entry point per ref in entries. On any build error
// the partial module is discarded and the error returned.
func Translate(funcs *wasmin.FuncsInstance, entries []wasmin.FuncRef, opts Options) (*ir.Module, error) {
	if opts.WorkgroupSize == 0 {
		opts.WorkgroupSize = DefaultOptions().WorkgroupSize
	}
	module := ir.NewModule()
	t := &translator{
		opts:     opts,
		funcs:    funcs,
		objects:  stdobjects.New(module, opts.Capabilities),
		declared: make(map[wasmin.FuncRef]*internalFunction),
		typeIDs:  make(map[string]uint32),
	}

	order, err := callgraph.Build(funcs)
	if err != nil {
		return nil, err
	}
	t.order = order

	// Forward-declare every function in call order so the module's
	// function list keeps callees ahead of callers, then generate bodies
	// in the same order: every direct call site references an already-
	// complete callee.
	for _, ref := range order {
		decl, err := t.declare(funcs.Get(ref))
		if err != nil {
			return nil, err
		}
		t.declared[ref] = decl
	}
	for _, ref := range order {
		decl := t.declared[ref]
		if err := t.generateBody(decl); err != nil {
			return nil, err
		}
		log.Logger().Debug("translate: function body generated",
			zap.Uint32("funcref", uint32(ref)),
			zap.String("function", decl.fn.Name))
	}

	if err := t.buildBrain(); err != nil {
		return nil, err
	}

	for _, ref := range entries {
		if _, ok := t.declared[ref]; !ok {
			return nil, faults.Internalf("translate: entry funcref %d not in module", ref)
		}
		if err := t.generateEntry(t.declared[ref]); err != nil {
			return nil, err
		}
	}
	return module, nil
}

// typeID interns ft, returning its canonical module-wide signature id.
func (t *translator) typeID(ft *wasmin.FunctionType) uint32 {
	key := signatureKey(ft)
	if id, ok := t.typeIDs[key]; ok {
		return id
	}
	id := uint32(len(t.typeIDs))
	t.typeIDs[key] = id
	return id
}

func signatureKey(ft *wasmin.FunctionType) string {
	return fmt.Sprintf("%v->%v", ft.Params, ft.Results)
}

package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/LucentFlux/wasm-gpu-go/wasmin"
)

// fixture is the CLI's module description format: since parsing the wasm
// binary container is an upstream collaborator's job, the CLI consumes the
// same pre-parsed shape the translator does, spelled as JSON with hex
// function bodies.
type fixture struct {
	Functions []fixtureFunc   `json:"functions"`
	Globals   []fixtureGlobal `json:"globals,omitempty"`
	Entries   []uint32        `json:"entries"`
	Memory    bool            `json:"memory,omitempty"`
	Table     bool            `json:"table,omitempty"`
}

type fixtureFunc struct {
	Name    string         `json:"name,omitempty"`
	Params  []string       `json:"params,omitempty"`
	Results []string       `json:"results,omitempty"`
	Locals  []fixtureLocal `json:"locals,omitempty"`
	BodyHex string         `json:"body_hex"`
}

type fixtureLocal struct {
	Count uint32 `json:"count"`
	Type  string `json:"type"`
}

type fixtureGlobal struct {
	Type    string `json:"type"`
	Mutable bool   `json:"mutable"`
	Offset  uint32 `json:"offset"`
}

func valueTypeNamed(name string) (wasmin.ValueType, error) {
	switch name {
	case "i32":
		return wasmin.ValueTypeI32, nil
	case "i64":
		return wasmin.ValueTypeI64, nil
	case "f32":
		return wasmin.ValueTypeF32, nil
	case "f64":
		return wasmin.ValueTypeF64, nil
	case "v128":
		return wasmin.ValueTypeV128, nil
	case "funcref":
		return wasmin.ValueTypeFuncRef, nil
	case "externref":
		return wasmin.ValueTypeExternRef, nil
	default:
		return 0, fmt.Errorf("unknown value type %q", name)
	}
}

func valueTypesNamed(names []string) ([]wasmin.ValueType, error) {
	out := make([]wasmin.ValueType, len(names))
	for i, n := range names {
		vt, err := valueTypeNamed(n)
		if err != nil {
			return nil, err
		}
		out[i] = vt
	}
	return out, nil
}

// loadFixture reads path and assembles the FuncsInstance plus entry list
// the translator consumes. Every function shares one FuncAccessible, the
// way a single-module parse would resolve them: an identity function-index
// table, the deduplicated signature table, and the declared globals.
func loadFixture(path string) (*wasmin.FuncsInstance, []wasmin.FuncRef, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	var fx fixture
	if err := json.Unmarshal(raw, &fx); err != nil {
		return nil, nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(fx.Functions) == 0 {
		return nil, nil, fmt.Errorf("%s: no functions", path)
	}

	accessible := &wasmin.FuncAccessible{
		MemoryPresent: fx.Memory,
		TablePresent:  fx.Table,
	}
	for _, g := range fx.Globals {
		vt, err := valueTypeNamed(g.Type)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: global: %w", path, err)
		}
		accessible.GlobalLookup = append(accessible.GlobalLookup, wasmin.GlobalBinding{
			Type: vt, Mutable: g.Mutable, Offset: g.Offset,
		})
	}

	seen := make(map[string]int)
	units := make([]*wasmin.FuncUnit, len(fx.Functions))
	for i, ff := range fx.Functions {
		params, err := valueTypesNamed(ff.Params)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: func %d: %w", path, i, err)
		}
		results, err := valueTypesNamed(ff.Results)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: func %d: %w", path, i, err)
		}
		body, err := hex.DecodeString(ff.BodyHex)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: func %d body: %w", path, i, err)
		}
		var locals []wasmin.Local
		for _, l := range ff.Locals {
			vt, err := valueTypeNamed(l.Type)
			if err != nil {
				return nil, nil, fmt.Errorf("%s: func %d local: %w", path, i, err)
			}
			locals = append(locals, wasmin.Local{Count: l.Count, Type: vt})
		}
		ft := &wasmin.FunctionType{Params: params, Results: results}
		key := fmt.Sprintf("%v->%v", ft.Params, ft.Results)
		if _, ok := seen[key]; !ok {
			seen[key] = len(accessible.TypeLookup)
			accessible.TypeLookup = append(accessible.TypeLookup, ft)
		}
		accessible.FuncIndexLookup = append(accessible.FuncIndexLookup, wasmin.FuncRef(i))
		units[i] = &wasmin.FuncUnit{
			Index:      wasmin.FuncRef(i),
			Type:       ft,
			Locals:     locals,
			Body:       body,
			Accessible: accessible,
			Name:       ff.Name,
		}
	}

	entries := make([]wasmin.FuncRef, len(fx.Entries))
	for i, e := range fx.Entries {
		if int(e) >= len(units) {
			return nil, nil, fmt.Errorf("%s: entry %d out of range", path, e)
		}
		entries[i] = wasmin.FuncRef(e)
	}
	return wasmin.NewFuncsInstance(units), entries, nil
}

package callgraph

import (
	"testing"

	"github.com/LucentFlux/wasm-gpu-go/wasmin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unit builds a FuncUnit whose body is a sequence of direct calls to the
// given function indices followed by end.
func unit(idx wasmin.FuncRef, acc *wasmin.FuncAccessible, calls ...uint32) *wasmin.FuncUnit {
	var body []byte
	for _, c := range calls {
		body = append(body, byte(wasmin.OpcodeCall), byte(c))
	}
	body = append(body, byte(wasmin.OpcodeEnd))
	return &wasmin.FuncUnit{
		Index:      idx,
		Type:       &wasmin.FunctionType{},
		Body:       body,
		Accessible: acc,
	}
}

func accessibleFor(n int) *wasmin.FuncAccessible {
	acc := &wasmin.FuncAccessible{}
	for i := 0; i < n; i++ {
		acc.FuncIndexLookup = append(acc.FuncIndexLookup, wasmin.FuncRef(i))
	}
	return acc
}

// The order is topological over direct-call edges, callees first.
func TestOrderPlacesCalleesFirst(t *testing.T) {
	acc := accessibleFor(3)
	funcs := wasmin.NewFuncsInstance([]*wasmin.FuncUnit{
		unit(0, acc, 1), // 0 calls 1
		unit(1, acc, 2), // 1 calls 2
		unit(2, acc),    // leaf
	})
	order, err := Build(funcs)
	require.NoError(t, err)
	require.Len(t, order, 3)
	assert.Less(t, order.Position(2), order.Position(1))
	assert.Less(t, order.Position(1), order.Position(0))
	assert.True(t, order.MayCall(0, 1))
	assert.True(t, order.MayCall(1, 2))
	assert.False(t, order.MayCall(2, 0))
}

func TestDiamond(t *testing.T) {
	acc := accessibleFor(4)
	funcs := wasmin.NewFuncsInstance([]*wasmin.FuncUnit{
		unit(0, acc, 1, 2),
		unit(1, acc, 3),
		unit(2, acc, 3),
		unit(3, acc),
	})
	order, err := Build(funcs)
	require.NoError(t, err)
	assert.Less(t, order.Position(3), order.Position(1))
	assert.Less(t, order.Position(3), order.Position(2))
	assert.Less(t, order.Position(1), order.Position(0))
	assert.Less(t, order.Position(2), order.Position(0))
}

// Indirect calls contribute no edges, so mutually-indirect functions order
// freely.
func TestIndirectCallsAreNotEdges(t *testing.T) {
	acc := accessibleFor(2)
	acc.TypeLookup = []*wasmin.FunctionType{{}}
	indirect := func(idx wasmin.FuncRef) *wasmin.FuncUnit {
		return &wasmin.FuncUnit{
			Index: idx,
			Type:  &wasmin.FunctionType{},
			Body: []byte{
				byte(wasmin.OpcodeI32Const), 0x00,
				byte(wasmin.OpcodeCallIndirect), 0x00, 0x00,
				byte(wasmin.OpcodeEnd),
			},
			Accessible: acc,
		}
	}
	funcs := wasmin.NewFuncsInstance([]*wasmin.FuncUnit{indirect(0), indirect(1)})
	order, err := Build(funcs)
	require.NoError(t, err)
	assert.Len(t, order, 2)
}

// A cycle can only come from a pre-validation bug; the build must still
// terminate with a total order.
func TestCycleForcedOut(t *testing.T) {
	acc := accessibleFor(2)
	funcs := wasmin.NewFuncsInstance([]*wasmin.FuncUnit{
		unit(0, acc, 1),
		unit(1, acc, 0),
	})
	order, err := Build(funcs)
	require.NoError(t, err)
	assert.Len(t, order, 2)
	assert.NotEqual(t, order[0], order[1])
}

func TestSelfRecursionIgnored(t *testing.T) {
	acc := accessibleFor(1)
	funcs := wasmin.NewFuncsInstance([]*wasmin.FuncUnit{unit(0, acc, 0)})
	order, err := Build(funcs)
	require.NoError(t, err)
	assert.Len(t, order, 1)
}

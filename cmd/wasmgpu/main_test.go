package main

import (
	"testing"

	"github.com/LucentFlux/wasm-gpu-go/translate"
	"github.com/LucentFlux/wasm-gpu-go/wasmin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFixture(t *testing.T) {
	funcs, entries, err := loadFixture("testdata/add5.json")
	require.NoError(t, err)
	require.Equal(t, 1, funcs.Count())
	require.Len(t, entries, 1)

	u := funcs.Get(0)
	assert.Equal(t, "add5", u.Name)
	assert.Equal(t, []wasmin.ValueType{wasmin.ValueTypeI32}, u.Type.Params)
	assert.Equal(t, []wasmin.ValueType{wasmin.ValueTypeI32}, u.Type.Results)
	assert.Equal(t, []byte{0x20, 0x00, 0x41, 0x05, 0x6a, 0x0b}, u.Body)
}

func TestFixtureTranslatesEndToEnd(t *testing.T) {
	for _, path := range []string{"testdata/add5.json", "testdata/const42.json"} {
		funcs, entries, err := loadFixture(path)
		require.NoError(t, err, path)
		m, err := translate.Translate(funcs, entries, translate.DefaultOptions())
		require.NoError(t, err, path)
		assert.Len(t, m.EntryPoints, 1, path)
	}
}

func TestLoadFixtureRejectsBadInput(t *testing.T) {
	_, _, err := loadFixture("testdata/missing.json")
	assert.Error(t, err)
}

func TestValueTypeNames(t *testing.T) {
	vt, err := valueTypeNamed("funcref")
	require.NoError(t, err)
	assert.Equal(t, wasmin.ValueTypeFuncRef, vt)
	_, err = valueTypeNamed("i31")
	assert.Error(t, err)
}

package wasi

import (
	"context"
	"testing"

	"github.com/govm-net/kernel/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wasmDefinition(exports ...string) core.PackageDefinition {
	functions := make(map[string]core.FunctionSchema, len(exports))
	for _, name := range exports {
		functions[name] = core.FunctionSchema{Export: name}
	}
	return core.PackageDefinition{VM: core.VMWasm, Blueprints: map[string]core.BlueprintDefinition{
		"Test": {Functions: functions},
	}}
}

func TestInspect(t *testing.T) {
	info, err := Inspect(context.Background(), testModule(1, nil))
	require.NoError(t, err)

	var names []string
	for _, f := range info.Exports {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"actor", "allocate", "burn", "fail", "get_buffer_address", "nested"}, names)
	assert.Equal(t, []string{"memory"}, info.Memories)

	require.Len(t, info.Imports, 2)
	assert.Equal(t, "env.call_host_get_buffer(i32, i32, i32, i32) -> (i32)", info.Imports[0].String())
	assert.Equal(t, "env.consume_wasm_execution_units(i64) -> ()", info.Imports[1].String())
	assert.True(t, info.HasExport("burn"))
	assert.False(t, info.HasExport("deallocate"))
}

func TestCheckDefinition(t *testing.T) {
	info, err := Inspect(context.Background(), testModule(1, nil))
	require.NoError(t, err)

	require.NoError(t, info.CheckDefinition(wasmDefinition("actor", "burn")))
	assert.ErrorIs(t, info.CheckDefinition(wasmDefinition("missing")), ErrMissingExport)

	native := wasmDefinition("actor")
	native.VM = core.VMNative
	assert.ErrorIs(t, info.CheckDefinition(native), ErrInvalidCode)

	info.Imports = append(info.Imports, FunctionInfo{Module: "env", Name: "abort"})
	assert.ErrorIs(t, info.CheckDefinition(wasmDefinition("actor")), ErrUnknownHostFunc)
}

func TestInspectInvalidCode(t *testing.T) {
	_, err := Inspect(context.Background(), []byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidCode)
}

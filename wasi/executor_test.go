package wasi

import (
	"context"
	"errors"
	"fmt"
	"testing"

	kapi "github.com/govm-net/kernel/api"
	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/costing"
	"github.com/govm-net/kernel/kernel"
	"github.com/govm-net/kernel/native"
	"github.com/govm-net/kernel/store"
	"github.com/govm-net/kernel/store/memory"
	"github.com/govm-net/kernel/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	wasmPackage   = core.MustNodeID(core.EntityGlobalPackage, 0x10)
	brokenPackage = core.MustNodeID(core.EntityGlobalPackage, 0x12)
	nativeAddress = core.MustNodeID(core.EntityGlobalPackage, 0x11)
	nativePackage = &native.Package{
		Address: nativeAddress,
		Blueprints: map[string]map[string]native.FunctionDef{
			"Native": {
				"hello": {Fn: func(_ context.Context, api core.KernelAPI, _ []byte) ([]byte, error) {
					return types.Encode(fmt.Sprintf("hi from depth %d", api.Depth()))
				}},
				"collections": {Fn: hostCollections},
			},
		},
	}
)

// hostCollections drives the collection and fee host functions the way a
// guest would, through their CBOR parameters.
func hostCollections(ctx context.Context, api core.KernelAPI, _ []byte) ([]byte, error) {
	c := &call{api: api, pkg: nativeAddress, fees: costing.DefaultFeeTable()}
	id, err := api.AllocateNodeID(core.EntityInternalKeyValueStore)
	if err != nil {
		return nil, err
	}
	err = api.CreateNode(id, core.BlueprintID{Package: nativeAddress, Blueprint: "Native"}, core.NodeSubstates{
		core.MainPartition: {core.FieldKey(0): nil},
	})
	if err != nil {
		return nil, err
	}
	for _, key := range []string{"c", "a", "b"} {
		args := types.MustEncode(types.SubstateParams{Node: id, Partition: core.MainPartition, Key: core.MapKey([]byte(key)).Bytes(), Value: []byte(key)})
		if err := c.hostSet(ctx, types.FuncSetSubstate, args); err != nil {
			return nil, err
		}
	}

	out, err := c.hostGetBuffer(ctx, types.FuncRemoveSubstate, types.MustEncode(types.SubstateParams{
		Node: id, Partition: core.MainPartition, Key: core.MapKey([]byte("b")).Bytes(),
	}))
	if err != nil {
		return nil, err
	}
	var removed types.RemoveSubstateResult
	if err := types.Decode(out, &removed); err != nil {
		return nil, err
	}
	if !removed.Found || string(removed.Value) != "b" {
		return nil, errors.New("remove returned the wrong entry")
	}

	out, err = c.hostGetBuffer(ctx, types.FuncScanSubstates, types.MustEncode(types.ScanSubstatesParams{
		Node: id, Partition: core.MainPartition, Limit: 10,
	}))
	if err != nil {
		return nil, err
	}
	var entries []types.ScanEntry
	if err := types.Decode(out, &entries); err != nil {
		return nil, err
	}
	var values []byte
	for _, e := range entries {
		values = append(values, e.Value...)
	}

	lockFee := types.MustEncode(types.LockFeeParams{Vault: core.MustNodeID(core.EntityInternalVault, 1), Amount: []byte{1}})
	if err := c.hostSet(ctx, types.FuncLockFee, lockFee); !errors.Is(err, core.ErrInvalidFeeLock) {
		return nil, fmt.Errorf("lock fee outside a vault method: %v", err)
	}
	if _, err := api.DropNode(id); err != nil {
		return nil, err
	}
	return values, nil
}

const burnUnits = 45_000_000

type wasmEnv struct {
	k        *kernel.Kernel
	reserve  *costing.SystemLoanFeeReserve
	executor *Executor
}

func demoDefinition() core.PackageDefinition {
	functions := map[string]core.FunctionSchema{}
	for _, name := range []string{"actor", "burn", "fail", "nested"} {
		functions[name] = core.FunctionSchema{Export: name}
	}
	functions["missing"] = core.FunctionSchema{Export: "no_such_export"}
	return core.PackageDefinition{VM: core.VMWasm, Blueprints: map[string]core.BlueprintDefinition{
		"Demo": {Functions: functions},
	}}
}

func newWasmEnv(t *testing.T, fee kapi.FeeConfig, units int64) *wasmEnv {
	t.Helper()
	nested := types.MustEncode(types.InvokeParams{Package: nativePackage.Address, Blueprint: "Native", Function: "hello"})

	s := memory.NewStore()
	updates := store.NewStateUpdates()
	require.NoError(t, native.GenesisPackage(updates, nativePackage))
	for id, code := range map[core.NodeID][]byte{wasmPackage: testModule(units, nested), brokenPackage: {1, 2, 3}} {
		require.NoError(t, native.WriteTypeInfo(updates, id, core.BlueprintID{Package: native.PackagePackageAddress, Blueprint: native.PackageBlueprint}))
		updates.Set(core.SubstateRef{Node: id, Partition: core.MainPartition, Key: core.PackageDefinitionKey}, types.MustEncode(demoDefinition()))
		updates.Set(core.SubstateRef{Node: id, Partition: core.MainPartition, Key: core.PackageCodeKey}, types.MustEncode(code))
	}
	require.NoError(t, s.Commit(updates))

	ctx := context.Background()
	executor, err := NewExecutor(ctx, DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { executor.Close(ctx) })
	nativeExecutor, err := native.NewExecutor(nativePackage)
	require.NoError(t, err)

	reserve := costing.NewSystemLoanFeeReserve(fee)
	k, err := kernel.New(kernel.Options{
		Config:   kapi.DefaultKernelConfig(),
		FeeTable: costing.DefaultFeeTable(),
		Store:    s,
		Reserve:  reserve,
		Executors: map[core.VMKind]core.Executor{
			core.VMWasm:   executor,
			core.VMNative: nativeExecutor,
		},
		TxHash: core.Hash{3},
	})
	require.NoError(t, err)
	return &wasmEnv{k: k, reserve: reserve, executor: executor}
}

func (e *wasmEnv) call(pkg core.NodeID, function string) ([]byte, error) {
	return e.k.Invoke(context.Background(), core.Invocation{
		Blueprint: core.BlueprintID{Package: pkg, Blueprint: "Demo"},
		Function:  function,
	})
}

func TestWasmActorHostCall(t *testing.T) {
	e := newWasmEnv(t, kapi.NoFeeConfig(), burnUnits)
	out, err := e.call(wasmPackage, "actor")
	require.NoError(t, err)

	var actor types.ActorResult
	require.NoError(t, types.Decode(out, &actor))
	assert.Equal(t, wasmPackage, actor.Package)
	assert.Equal(t, "Demo", actor.Blueprint)
	assert.Equal(t, "actor", actor.Function)
	assert.Nil(t, actor.Receiver)
}

func TestWasmExecutionIsMetered(t *testing.T) {
	e := newWasmEnv(t, kapi.NoFeeConfig(), burnUnits)
	out, err := e.call(wasmPackage, "burn")
	require.NoError(t, err)
	assert.Empty(t, out)

	summary := e.reserve.Finalize()
	assert.Equal(t, costing.DefaultFeeTable().RunWasmCost(burnUnits), summary.ExecutionBreakdown[core.CostRunWasm])
}

func TestWasmMeteringStopsAtLimit(t *testing.T) {
	fee := kapi.NoFeeConfig()
	fee.CostUnitLimit = 1_000_000
	e := newWasmEnv(t, fee, 45_000_000_000)

	_, err := e.call(wasmPackage, "burn")
	assert.ErrorIs(t, err, costing.ErrLimitExceeded)
	var costErr *core.CostingError
	assert.ErrorAs(t, err, &costErr)
	assert.LessOrEqual(t, e.reserve.TotalCostUnitsConsumed(), fee.CostUnitLimit)
}

func TestWasmGuestFailure(t *testing.T) {
	e := newWasmEnv(t, kapi.NoFeeConfig(), burnUnits)
	_, err := e.call(wasmPackage, "fail")
	var appErr *core.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "WasmPanic", appErr.Code)
	assert.Contains(t, appErr.Message, "boom")
}

func TestWasmMissingExport(t *testing.T) {
	e := newWasmEnv(t, kapi.NoFeeConfig(), burnUnits)
	_, err := e.call(wasmPackage, "missing")
	assert.ErrorIs(t, err, ErrMissingExport)
}

func TestWasmInvokesNative(t *testing.T) {
	e := newWasmEnv(t, kapi.NoFeeConfig(), burnUnits)
	out, err := e.call(wasmPackage, "nested")
	require.NoError(t, err)
	var msg string
	require.NoError(t, types.Decode(out, &msg))
	assert.Equal(t, "hi from depth 2", msg)

	roots := e.k.CallTrace()
	require.Len(t, roots, 1)
	require.Len(t, roots[0].Children, 1)
}

func TestCollectionAndFeeHostFunctions(t *testing.T) {
	e := newWasmEnv(t, kapi.NoFeeConfig(), burnUnits)
	out, err := e.k.Invoke(context.Background(), core.Invocation{
		Blueprint: core.BlueprintID{Package: nativeAddress, Blueprint: "Native"},
		Function:  "collections",
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("ac"), out)
}

func TestCompiledModulesAreCached(t *testing.T) {
	e := newWasmEnv(t, kapi.NoFeeConfig(), burnUnits)
	_, err := e.call(wasmPackage, "actor")
	require.NoError(t, err)
	_, err = e.call(wasmPackage, "burn")
	require.NoError(t, err)
	assert.Equal(t, 1, e.executor.modules.ItemCount())
}

func TestInvalidCode(t *testing.T) {
	e := newWasmEnv(t, kapi.NoFeeConfig(), burnUnits)
	_, err := e.call(brokenPackage, "actor")
	assert.ErrorIs(t, err, ErrInvalidCode)
}

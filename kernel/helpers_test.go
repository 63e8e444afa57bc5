package kernel

import (
	"context"
	"fmt"
	"testing"

	"github.com/govm-net/kernel/api"
	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/costing"
	"github.com/govm-net/kernel/store"
	"github.com/govm-net/kernel/store/memory"
	"github.com/govm-net/kernel/types"
	"github.com/stretchr/testify/require"
)

type testFunc func(ctx context.Context, api core.KernelAPI, input []byte) ([]byte, error)

// testExecutor dispatches on the export name
type testExecutor map[string]testFunc

func (e testExecutor) Invoke(ctx context.Context, api core.KernelAPI, export core.ExportRef, input []byte) ([]byte, error) {
	fn, ok := e[export.Export]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrFunctionNotFound, export.Export)
	}
	return fn(ctx, api, input)
}

var (
	testPackage   = core.MustNodeID(core.EntityGlobalPackage, 0xaa)
	testComponent = core.MustNodeID(core.EntityGlobalComponent, 0xbb)
	testVault     = core.MustNodeID(core.EntityInternalVault, 0xcc)

	funcsBlueprint  = core.BlueprintID{Package: testPackage, Blueprint: "Funcs"}
	objBlueprint    = core.BlueprintID{Package: testPackage, Blueprint: "Obj"}
	vaultBlueprint  = core.BlueprintID{Package: testPackage, Blueprint: "Vault"}
	metaBlueprint   = core.BlueprintID{Package: testPackage, Blueprint: "Metadata"}
	rolesBlueprint  = core.BlueprintID{Package: testPackage, Blueprint: "RoleAssignment"}
	stateKey        = core.FieldKey(0)
	componentState  = core.SubstateRef{Node: testComponent, Partition: core.MainPartition, Key: stateKey}
	vaultBalanceRef = core.SubstateRef{Node: testVault, Partition: core.MainPartition, Key: stateKey}
)

type testEnv struct {
	kernel  *Kernel
	store   *memory.Store
	reserve *costing.SystemLoanFeeReserve
}

// newTestEnv seeds a store with a package exposing functions on "Funcs",
// methods on "Obj" and "Vault", a global Obj component owning a vault, and
// returns a kernel over it.
func newTestEnv(t *testing.T, functions, methods testExecutor, fee api.FeeConfig, cfg api.KernelConfig) *testEnv {
	t.Helper()
	def := core.PackageDefinition{VM: core.VMNative, Blueprints: map[string]core.BlueprintDefinition{
		"Funcs":          {Functions: map[string]core.FunctionSchema{}},
		"Obj":            {Functions: map[string]core.FunctionSchema{}},
		"Vault":          {Functions: map[string]core.FunctionSchema{}},
		"Metadata":       {Functions: map[string]core.FunctionSchema{}},
		"RoleAssignment": {Functions: map[string]core.FunctionSchema{}},
	}}
	all := testExecutor{}
	for name, fn := range functions {
		def.Blueprints["Funcs"].Functions[name] = core.FunctionSchema{Export: name}
		all[name] = fn
	}
	for name, fn := range methods {
		def.Blueprints["Obj"].Functions[name] = core.FunctionSchema{Export: name, Receiver: core.ReceiverRefMut}
		def.Blueprints["Vault"].Functions[name] = core.FunctionSchema{Export: name, Receiver: core.ReceiverRefMut}
		all[name] = fn
	}

	s := memory.NewStore()
	updates := store.NewStateUpdates()
	updates.Set(typeInfoRef(testPackage), types.MustEncode(core.BlueprintID{Package: testPackage, Blueprint: "Package"}))
	updates.Set(core.SubstateRef{Node: testPackage, Partition: core.MainPartition, Key: core.PackageDefinitionKey}, types.MustEncode(def))
	updates.Set(typeInfoRef(testComponent), types.MustEncode(objBlueprint))
	updates.Set(componentState, types.MustEncode([]any{"state", types.Own(testVault)}))
	updates.Set(typeInfoRef(testVault), types.MustEncode(vaultBlueprint))
	updates.Set(vaultBalanceRef, types.MustEncode(uint64(100)))
	require.NoError(t, s.Commit(updates))

	reserve := costing.NewSystemLoanFeeReserve(fee)
	k, err := New(Options{
		Config:    cfg,
		FeeTable:  costing.DefaultFeeTable(),
		Store:     s,
		Reserve:   reserve,
		Executors: map[core.VMKind]core.Executor{core.VMNative: all},
		TxHash:    core.Hash{1},
	})
	require.NoError(t, err)
	require.NoError(t, k.AddReference(testComponent))
	return &testEnv{kernel: k, store: s, reserve: reserve}
}

func defaultEnv(t *testing.T, functions, methods testExecutor) *testEnv {
	return newTestEnv(t, functions, methods, api.NoFeeConfig(), api.DefaultKernelConfig())
}

func callFunction(env *testEnv, name string, input []byte) ([]byte, error) {
	return env.kernel.Invoke(context.Background(), core.Invocation{Blueprint: funcsBlueprint, Function: name, Input: input})
}

func callMethod(env *testEnv, receiver core.NodeID, name string, input []byte) ([]byte, error) {
	return env.kernel.Invoke(context.Background(), core.Invocation{Function: name, Receiver: &receiver, Input: input})
}

// createNode allocates and creates an empty node with one field
func createNode(api core.KernelAPI, entity core.EntityType, bp core.BlueprintID, value []byte) (core.NodeID, error) {
	id, err := api.AllocateNodeID(entity)
	if err != nil {
		return id, err
	}
	err = api.CreateNode(id, bp, core.NodeSubstates{
		core.MainPartition: {stateKey: value},
	})
	return id, err
}

func decodeOwns(t *testing.T, output []byte) []core.NodeID {
	t.Helper()
	tokens, err := types.Scan(output)
	require.NoError(t, err)
	return tokens.Owns
}

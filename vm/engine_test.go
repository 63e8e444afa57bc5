package vm

import (
	"context"
	"testing"

	"github.com/govm-net/kernel/api"
	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/costing"
	"github.com/govm-net/kernel/native"
	"github.com/govm-net/kernel/native/resource"
	"github.com/govm-net/kernel/store"
	"github.com/govm-net/kernel/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var probePackage = core.MustNodeID(core.EntityGlobalPackage, 0x50)

const probeBlueprint = "Probe"

// newProbePackage is a native package poking at the kernel directly
func newProbePackage() *native.Package {
	return &native.Package{
		Address: probePackage,
		Blueprints: map[string]map[string]native.FunctionDef{
			probeBlueprint: {
				"burn": {Fn: func(_ context.Context, kapi core.KernelAPI, input []byte) ([]byte, error) {
					var units uint32
					if err := types.Decode(input, &units); err != nil {
						return nil, err
					}
					return nil, kapi.ConsumeCostUnits(units, core.CostRunNative)
				}},
				"recurse": {Fn: func(ctx context.Context, kapi core.KernelAPI, _ []byte) ([]byte, error) {
					return kapi.Invoke(ctx, core.Invocation{
						Blueprint: core.BlueprintID{Package: probePackage, Blueprint: probeBlueprint},
						Function:  "recurse",
					})
				}},
				"double_lock": {Fn: func(_ context.Context, kapi core.KernelAPI, _ []byte) ([]byte, error) {
					h, err := kapi.LockSubstate(resource.XRD, core.MainPartition, resource.StateKey, core.LockMutable)
					if err != nil {
						return nil, err
					}
					if _, err := kapi.LockSubstate(resource.XRD, core.MainPartition, resource.StateKey, core.LockMutable); err != nil {
						return nil, err
					}
					return nil, kapi.CloseSubstate(h)
				}},
				"swap": {Fn: func(_ context.Context, _ core.KernelAPI, input []byte) ([]byte, error) {
					var in map[string]types.Own
					if err := types.Decode(input, &in); err != nil {
						return nil, err
					}
					return types.Encode(map[string]types.Own{"x": in["b"], "y": in["a"]})
				}},
				"log": {Fn: func(_ context.Context, kapi core.KernelAPI, _ []byte) ([]byte, error) {
					kapi.EmitLog("hello", "depth", kapi.Depth())
					return nil, nil
				}},
			},
		},
	}
}

type testEngine struct {
	*Engine
	alice core.NodeID
	bob   core.NodeID
}

func newTestEngine(t *testing.T, fee api.FeeConfig) *testEngine {
	t.Helper()
	config := DefaultConfig()
	config.Fee = fee
	config.DisableWasm = true
	e, err := NewEngine(config)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })

	require.NoError(t, e.RegisterNative(newProbePackage()))
	accounts, err := e.Bootstrap(Genesis{Accounts: []GenesisAccount{
		{Owner: "alice", Balance: resource.Units(100)},
		{Owner: "bob"},
	}})
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	return &testEngine{Engine: e, alice: accounts[0], bob: accounts[1]}
}

func (te *testEngine) balance(t *testing.T, account core.NodeID) resource.Amount {
	t.Helper()
	vault, found, err := resource.AccountVault(te.Store(), account, resource.XRD)
	require.NoError(t, err)
	require.True(t, found)
	amount, err := resource.VaultBalance(te.Store(), vault)
	require.NoError(t, err)
	return amount
}

func (te *testEngine) version(t *testing.T) uint64 {
	t.Helper()
	v, err := te.Store().Version()
	require.NoError(t, err)
	return v
}

func method(t *testing.T, receiver core.NodeID, function string, args any) Instruction {
	t.Helper()
	ins, err := CallMethod(receiver, function, args)
	require.NoError(t, err)
	return ins
}

func probe(t *testing.T, function string, args any) Instruction {
	t.Helper()
	ins, err := CallFunction(probePackage, probeBlueprint, function, args)
	require.NoError(t, err)
	return ins
}

func withdraw(t *testing.T, account core.NodeID, units uint64) Instruction {
	return method(t, account, "withdraw", resource.AmountArgs{Resource: resource.XRD, Amount: resource.Units(units)})
}

func lockFee(t *testing.T, account core.NodeID, units uint64) Instruction {
	return method(t, account, "lock_fee", resource.LockFeeArgs{Amount: resource.Units(units)})
}

// depositResult deposits the first node returned by instruction i
func depositResult(t *testing.T, account core.NodeID, i uint64) Instruction {
	return method(t, account, "deposit", types.ResultOwn{Instruction: i})
}

func (te *testEngine) transferTx(t *testing.T, units uint64, fee uint64) *Transaction {
	tx := &Transaction{References: []core.NodeID{te.alice, te.bob}}
	if fee > 0 {
		tx.Instructions = append(tx.Instructions, lockFee(t, te.alice, fee))
	}
	n := uint64(len(tx.Instructions))
	tx.Instructions = append(tx.Instructions, withdraw(t, te.alice, units), depositResult(t, te.bob, n))
	return tx
}

func TestBootstrap(t *testing.T) {
	te := newTestEngine(t, api.NoFeeConfig())
	assert.Equal(t, GenesisAddress(core.EntityGlobalAccount, 0), te.alice)
	assert.Equal(t, 0, te.balance(t, te.alice).Cmp(resource.Units(100)))
	assert.True(t, te.balance(t, te.bob).IsZero())
	assert.Equal(t, uint64(1), te.version(t))

	_, err := te.Bootstrap(Genesis{})
	assert.ErrorIs(t, err, ErrAlreadyBootstrapped)
}

func TestTransferCommits(t *testing.T) {
	te := newTestEngine(t, api.NoFeeConfig())
	before := testutil.ToFloat64(transactionsTotal.WithLabelValues(OutcomeCommitSuccess.String()))

	r, err := te.ExecuteTransaction(context.Background(), te.transferTx(t, 40, 0))
	require.NoError(t, err)
	require.True(t, r.Succeeded(), "error: %v", r.Error)
	assert.Equal(t, core.KindNone, r.ErrorKind)
	assert.Len(t, r.Outputs, 2)
	assert.Equal(t, uint64(2), r.Version)
	assert.NotZero(t, r.StateUpdates.Len())
	assert.Len(t, r.Trace, 2)

	assert.Equal(t, 0, te.balance(t, te.alice).Cmp(resource.Units(60)))
	assert.Equal(t, 0, te.balance(t, te.bob).Cmp(resource.Units(40)))
	assert.Equal(t, before+1, testutil.ToFloat64(transactionsTotal.WithLabelValues(OutcomeCommitSuccess.String())))
}

func TestUndepositedBucketLeavesNoTrace(t *testing.T) {
	te := newTestEngine(t, api.NoFeeConfig())

	tx := &Transaction{References: []core.NodeID{te.alice}, Instructions: []Instruction{withdraw(t, te.alice, 40)}}
	r, err := te.ExecuteTransaction(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReject, r.Outcome)
	assert.ErrorIs(t, r.Error, core.ErrOwnedNodeLeak)
	assert.Equal(t, core.KindOwnership, r.ErrorKind)
	assert.Nil(t, r.StateUpdates)

	assert.Equal(t, uint64(1), te.version(t))
	assert.Equal(t, 0, te.balance(t, te.alice).Cmp(resource.Units(100)))
}

func TestNestedMutableLockFails(t *testing.T) {
	te := newTestEngine(t, api.NoFeeConfig())
	tx := &Transaction{
		References:   []core.NodeID{resource.XRD},
		Instructions: []Instruction{probe(t, "double_lock", types.Reference(resource.XRD))},
	}
	r, err := te.ExecuteTransaction(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReject, r.Outcome)
	assert.ErrorIs(t, r.Error, core.ErrSubstateLocked)
	assert.Equal(t, core.KindLock, r.ErrorKind)
	assert.Equal(t, uint64(1), te.version(t))
}

func TestCostUnitLimit(t *testing.T) {
	te := newTestEngine(t, api.NoFeeConfig())
	tx := &Transaction{
		CostUnitLimit: 100,
		Instructions:  []Instruction{probe(t, "burn", uint32(60)), probe(t, "burn", uint32(90))},
	}
	r, err := te.ExecuteTransaction(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReject, r.Outcome)
	assert.ErrorIs(t, r.Error, costing.ErrLimitExceeded)
	assert.Equal(t, core.KindCosting, r.ErrorKind)
	assert.LessOrEqual(t, r.Fee.TotalCostUnitsConsumed, uint32(100))
	assert.Equal(t, uint64(1), te.version(t))
}

func TestCallDepthIsBounded(t *testing.T) {
	te := newTestEngine(t, api.NoFeeConfig())
	r, err := te.ExecuteTransaction(context.Background(), &Transaction{Instructions: []Instruction{probe(t, "recurse", nil)}})
	require.NoError(t, err)
	assert.Equal(t, OutcomeReject, r.Outcome)
	assert.ErrorIs(t, r.Error, core.ErrMaxCallDepthExceeded)
	assert.Equal(t, core.KindLimit, r.ErrorKind)
	assert.Equal(t, api.DefaultMaxCallDepth, maxDepth(r.Trace))
}

func TestFeeIsChargedAndRefunded(t *testing.T) {
	te := newTestEngine(t, api.DefaultFeeConfig())

	r, err := te.ExecuteTransaction(context.Background(), te.transferTx(t, 40, 10))
	require.NoError(t, err)
	require.True(t, r.Succeeded(), "error: %v", r.Error)
	require.True(t, r.Fee.LoanFullyRepaid())

	collected := resource.AmountOf(r.Settlement.Collected)
	assert.False(t, collected.IsZero())
	assert.Equal(t, 0, collected.Cmp(resource.AmountOf(r.Fee.TotalExecutionCost)))

	alice, err := te.balance(t, te.alice).Add(collected)
	require.NoError(t, err)
	assert.Equal(t, 0, alice.Cmp(resource.Units(60)))
	assert.Equal(t, 0, te.balance(t, te.bob).Cmp(resource.Units(40)))
	assert.Greater(t, r.Fee.ExecutionBreakdown[core.CostTxBaseCost], uint32(0))
}

func TestFailureAfterRepaymentKeepsFeePayment(t *testing.T) {
	te := newTestEngine(t, api.DefaultFeeConfig())
	tx := &Transaction{
		References: []core.NodeID{te.alice},
		Instructions: []Instruction{
			lockFee(t, te.alice, 10),
			// spends the whole loan so it is repaid from the locked fee
			probe(t, "burn", api.DefaultSystemLoan),
			withdraw(t, te.alice, 40),
		},
	}
	r, err := te.ExecuteTransaction(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitFailure, r.Outcome)
	assert.ErrorIs(t, r.Error, core.ErrOwnedNodeLeak)
	assert.Equal(t, uint64(2), r.Version)

	// only the fee vault is written
	require.Equal(t, 1, r.StateUpdates.Len())
	collected := resource.AmountOf(r.Settlement.Collected)
	assert.False(t, collected.IsZero())
	alice, err := te.balance(t, te.alice).Add(collected)
	require.NoError(t, err)
	assert.Equal(t, 0, alice.Cmp(resource.Units(100)))
}

func TestUnpaidTransactionIsRejected(t *testing.T) {
	te := newTestEngine(t, api.DefaultFeeConfig())

	r, err := te.ExecuteTransaction(context.Background(), te.transferTx(t, 40, 0))
	require.NoError(t, err)
	assert.Equal(t, OutcomeReject, r.Outcome)
	assert.ErrorIs(t, r.Error, costing.ErrLoanRepaymentFailed)
	assert.Equal(t, core.KindCosting, r.ErrorKind)
	assert.Nil(t, r.Settlement)
	assert.Equal(t, 0, te.balance(t, te.alice).Cmp(resource.Units(100)))
}

func TestPreviewAborts(t *testing.T) {
	te := newTestEngine(t, api.DefaultFeeConfig())

	r, err := te.Preview(context.Background(), te.transferTx(t, 40, 10))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAbort, r.Outcome)
	assert.ErrorIs(t, r.Error, costing.ErrAbortWhenLoanRepaid)
	assert.False(t, r.Outcome.IsCommitted())
	assert.Equal(t, uint64(1), te.version(t))
	assert.Equal(t, 0, te.balance(t, te.alice).Cmp(resource.Units(100)))
}

func TestBadPlaceholder(t *testing.T) {
	te := newTestEngine(t, api.NoFeeConfig())
	tx := &Transaction{
		References:   []core.NodeID{te.bob},
		Instructions: []Instruction{depositResult(t, te.bob, 3)},
	}
	r, err := te.ExecuteTransaction(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReject, r.Outcome)
	assert.ErrorIs(t, r.Error, core.ErrInvalidArgument)
}

func TestPlaceholdersIndexReturnedOwnsInOrder(t *testing.T) {
	for i := 0; i < 20; i++ {
		te := newTestEngine(t, api.NoFeeConfig())
		tx := &Transaction{
			References: []core.NodeID{te.alice, te.bob},
			Instructions: []Instruction{
				withdraw(t, te.alice, 10),
				withdraw(t, te.alice, 30),
				probe(t, "swap", map[string]types.ResultOwn{"a": {Instruction: 0}, "b": {Instruction: 1}}),
				// "x" holds the 30 bucket and sorts first
				method(t, te.bob, "deposit", types.ResultOwn{Instruction: 2, Index: 1}),
				method(t, te.alice, "deposit", types.ResultOwn{Instruction: 2, Index: 0}),
			},
		}
		r, err := te.ExecuteTransaction(context.Background(), tx)
		require.NoError(t, err)
		require.True(t, r.Succeeded(), "error: %v", r.Error)
		require.Equal(t, 0, te.balance(t, te.bob).Cmp(resource.Units(10)))
		require.Equal(t, 0, te.balance(t, te.alice).Cmp(resource.Units(90)))
	}
}

func TestInvalidTransactionIsRejected(t *testing.T) {
	te := newTestEngine(t, api.NoFeeConfig())
	r, err := te.ExecuteTransaction(context.Background(), &Transaction{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeReject, r.Outcome)
	assert.ErrorIs(t, r.Error, core.ErrInvalidArgument)
	assert.Nil(t, r.Trace)
}

func TestContractLogsInReceipt(t *testing.T) {
	te := newTestEngine(t, api.NoFeeConfig())
	r, err := te.ExecuteTransaction(context.Background(), &Transaction{Instructions: []Instruction{probe(t, "log", nil)}})
	require.NoError(t, err)
	require.True(t, r.Succeeded(), "error: %v", r.Error)
	require.Len(t, r.Logs, 1)
	assert.Equal(t, "hello", r.Logs[0].Message)
	assert.Equal(t, []any{"depth", 1}, r.Logs[0].Fields)
}

func TestTransactionHashIsStable(t *testing.T) {
	tx := &Transaction{Nonce: 7, Instructions: []Instruction{{Package: probePackage, Blueprint: probeBlueprint, Function: "log"}}}
	h1, err := tx.Hash()
	require.NoError(t, err)
	data, err := tx.Encode()
	require.NoError(t, err)
	decoded, err := DecodeTransaction(data)
	require.NoError(t, err)
	h2, err := decoded.Hash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	tx.Nonce++
	h3, err := tx.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestEngineOnPersistentStores(t *testing.T) {
	for _, st := range []store.StoreType{store.LevelDBStoreType, store.DBStoreType} {
		t.Run(string(st), func(t *testing.T) {
			config := DefaultConfig()
			config.Fee = api.NoFeeConfig()
			config.DisableWasm = true
			config.StoreType = st
			config.StoreParams = map[string]any{"path": t.TempDir() + "/state"}

			e, err := NewEngine(config)
			require.NoError(t, err)
			accounts, err := e.Bootstrap(Genesis{Accounts: []GenesisAccount{{Balance: resource.Units(5)}, {}}})
			require.NoError(t, err)
			te := &testEngine{Engine: e, alice: accounts[0], bob: accounts[1]}
			r, err := e.ExecuteTransaction(context.Background(), te.transferTx(t, 2, 0))
			require.NoError(t, err)
			require.True(t, r.Succeeded(), "error: %v", r.Error)
			require.NoError(t, e.Close())

			e, err = NewEngine(config)
			require.NoError(t, err)
			defer e.Close()
			te.Engine = e
			assert.Equal(t, 0, te.balance(t, te.bob).Cmp(resource.Units(2)))
			assert.Equal(t, uint64(2), te.version(t))
		})
	}
}

func TestClosedEngine(t *testing.T) {
	config := DefaultConfig()
	e, err := NewEngine(config)
	require.NoError(t, err)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	_, err = e.ExecuteTransaction(context.Background(), &Transaction{})
	assert.ErrorIs(t, err, ErrEngineClosed)
}

package resource

import (
	"context"
	"testing"

	"github.com/govm-net/kernel/api"
	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/costing"
	"github.com/govm-net/kernel/kernel"
	"github.com/govm-net/kernel/native"
	"github.com/govm-net/kernel/store"
	"github.com/govm-net/kernel/store/memory"
	"github.com/govm-net/kernel/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice      = core.MustNodeID(core.EntityGlobalAccount, 0xa1)
	aliceVault = core.MustNodeID(core.EntityInternalVault, 0xa1)
)

type env struct {
	k       *kernel.Kernel
	store   *memory.Store
	reserve *costing.SystemLoanFeeReserve
}

func newEnv(t *testing.T, fee api.FeeConfig) *env {
	t.Helper()
	s := memory.NewStore()
	updates := store.NewStateUpdates()
	require.NoError(t, native.GenesisPackage(updates, native.NewPackagePackage()))
	require.NoError(t, native.GenesisPackage(updates, NewPackage()))
	require.NoError(t, GenesisXRD(updates, Units(1000)))
	require.NoError(t, GenesisAccount(updates, alice, aliceVault, XRD, Units(100), "alice"))
	require.NoError(t, s.Commit(updates))

	executor, err := native.NewExecutor(native.NewPackagePackage(), NewPackage())
	require.NoError(t, err)
	reserve := costing.NewSystemLoanFeeReserve(fee)
	k, err := kernel.New(kernel.Options{
		Config:    api.DefaultKernelConfig(),
		FeeTable:  costing.DefaultFeeTable(),
		Store:     s,
		Reserve:   reserve,
		Executors: map[core.VMKind]core.Executor{core.VMNative: executor},
		TxHash:    core.Hash{9},
	})
	require.NoError(t, err)
	require.NoError(t, k.AddReference(alice))
	require.NoError(t, k.AddReference(XRD))
	return &env{k: k, store: s, reserve: reserve}
}

func (e *env) call(blueprintName, function string, args any) ([]byte, error) {
	return e.k.Invoke(context.Background(), core.Invocation{
		Blueprint: blueprint(blueprintName),
		Function:  function,
		Input:     types.MustEncode(args),
	})
}

func (e *env) method(receiver core.NodeID, function string, args any) ([]byte, error) {
	var input []byte
	if args != nil {
		input = types.MustEncode(args)
	}
	return e.k.Invoke(context.Background(), core.Invocation{Function: function, Receiver: &receiver, Input: input})
}

func (e *env) balance(t *testing.T, account, res core.NodeID) Amount {
	t.Helper()
	out, err := e.method(account, "balance", ResourceArgs{Resource: res})
	require.NoError(t, err)
	var a Amount
	require.NoError(t, types.Decode(out, &a))
	return a
}

func decodeOwn(t *testing.T, out []byte) core.NodeID {
	t.Helper()
	var own types.Own
	require.NoError(t, types.Decode(out, &own))
	return own.ID()
}

func TestTransferBetweenAccounts(t *testing.T) {
	e := newEnv(t, api.NoFeeConfig())

	out, err := e.call(AccountBlueprint, "create", CreateAccountArgs{Owner: "bob"})
	require.NoError(t, err)
	var ref types.Reference
	require.NoError(t, types.Decode(out, &ref))
	bob := ref.ID()
	assert.Equal(t, core.EntityGlobalAccount, bob.EntityType())

	out, err = e.method(alice, "withdraw", AmountArgs{Resource: XRD, Amount: Units(40)})
	require.NoError(t, err)
	bucket := decodeOwn(t, out)
	assert.Equal(t, core.EntityTransientBucket, bucket.EntityType())
	assert.Equal(t, []core.NodeID{bucket}, e.k.RootOwned())

	_, err = e.method(bob, "deposit", types.Own(bucket))
	require.NoError(t, err)
	assert.Empty(t, e.k.RootOwned())

	assert.Equal(t, 0, e.balance(t, alice, XRD).Cmp(Units(60)))
	assert.Equal(t, 0, e.balance(t, bob, XRD).Cmp(Units(40)))
	require.NoError(t, e.k.Teardown())

	updates := e.k.Finalize(true)
	require.NoError(t, e.store.Commit(updates))
	vault, found, err := AccountVault(e.store, bob, XRD)
	require.NoError(t, err)
	require.True(t, found)
	got, err := VaultBalance(e.store, vault)
	require.NoError(t, err)
	assert.Equal(t, "40000000000000000000", got.String())
}

func TestWithdrawnBucketMustBeDeposited(t *testing.T) {
	e := newEnv(t, api.NoFeeConfig())
	_, err := e.method(alice, "withdraw", AmountArgs{Resource: XRD, Amount: Units(40)})
	require.NoError(t, err)

	assert.ErrorIs(t, e.k.Teardown(), core.ErrOwnedNodeLeak)
	assert.Zero(t, e.k.Finalize(false).Len())
}

func TestWithdrawMoreThanBalance(t *testing.T) {
	e := newEnv(t, api.NoFeeConfig())
	_, err := e.method(alice, "withdraw", AmountArgs{Resource: XRD, Amount: Units(101)})
	var appErr *core.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, CodeInsufficientBalance, appErr.Code)
}

func TestCreateFungibleAndBurn(t *testing.T) {
	e := newEnv(t, api.NoFeeConfig())
	out, err := e.call(ResourceBlueprint, "create_fungible", CreateFungibleArgs{Symbol: "GOLD", Divisibility: 18, InitialSupply: Units(500)})
	require.NoError(t, err)
	var result CreateFungibleResult
	require.NoError(t, types.Decode(out, &result))
	gold := result.Resource.ID()
	assert.Equal(t, core.EntityGlobalResource, gold.EntityType())

	_, err = e.method(alice, "deposit", result.Bucket)
	require.NoError(t, err)
	assert.Equal(t, 0, e.balance(t, alice, gold).Cmp(Units(500)))

	out, err = e.method(alice, "withdraw", AmountArgs{Resource: gold, Amount: Units(100)})
	require.NoError(t, err)
	_, err = e.method(gold, "burn", types.Own(decodeOwn(t, out)))
	require.NoError(t, err)

	out, err = e.method(gold, "total_supply", nil)
	require.NoError(t, err)
	var supply Amount
	require.NoError(t, types.Decode(out, &supply))
	assert.Equal(t, 0, supply.Cmp(Units(400)))
	require.NoError(t, e.k.Teardown())
}

func TestBucketPutRejectsOtherResource(t *testing.T) {
	e := newEnv(t, api.NoFeeConfig())
	out, err := e.call(ResourceBlueprint, "create_fungible", CreateFungibleArgs{Symbol: "GOLD", InitialSupply: NewAmount(5)})
	require.NoError(t, err)
	var result CreateFungibleResult
	require.NoError(t, types.Decode(out, &result))

	out, err = e.method(alice, "withdraw", AmountArgs{Resource: XRD, Amount: NewAmount(1)})
	require.NoError(t, err)
	xrdBucket := decodeOwn(t, out)

	_, err = e.method(xrdBucket, "put", result.Bucket)
	var appErr *core.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, CodeResourceMismatch, appErr.Code)
}

func TestBucketTakeSplits(t *testing.T) {
	e := newEnv(t, api.NoFeeConfig())
	out, err := e.method(alice, "withdraw", AmountArgs{Resource: XRD, Amount: NewAmount(10)})
	require.NoError(t, err)
	first := decodeOwn(t, out)

	out, err = e.method(first, "take", AmountArgs{Amount: NewAmount(3)})
	require.NoError(t, err)
	second := decodeOwn(t, out)
	assert.Len(t, e.k.RootOwned(), 2)

	out, err = e.method(first, "amount", nil)
	require.NoError(t, err)
	var left Amount
	require.NoError(t, types.Decode(out, &left))
	assert.Equal(t, "7", left.String())

	_, err = e.method(first, "put", types.Own(second))
	require.NoError(t, err)
	_, err = e.method(alice, "deposit", types.Own(first))
	require.NoError(t, err)
	require.NoError(t, e.k.Teardown())
	assert.Equal(t, 0, e.balance(t, alice, XRD).Cmp(Units(100)))
}

func TestLockFeeIsForceWritten(t *testing.T) {
	e := newEnv(t, api.DefaultFeeConfig())
	_, err := e.method(alice, "lock_fee", LockFeeArgs{Amount: Units(1)})
	require.NoError(t, err)

	// the transaction fails after paying
	_, err = e.method(alice, "withdraw", AmountArgs{Resource: XRD, Amount: Units(1000)})
	require.Error(t, err)

	updates := e.k.Finalize(false)
	require.Equal(t, 1, updates.Len())
	u, ok := updates.Get(core.SubstateRef{Node: aliceVault, Partition: core.MainPartition, Key: StateKey})
	require.True(t, ok)
	var b Balance
	require.NoError(t, types.Decode(u.Value, &b))
	assert.Equal(t, 0, b.Amount.Cmp(Units(99)))

	summary := e.reserve.Finalize()
	require.Len(t, summary.VaultLocks, 1)
	assert.Equal(t, aliceVault, summary.VaultLocks[0].Vault)
}

func TestLockFeeTwiceFails(t *testing.T) {
	e := newEnv(t, api.DefaultFeeConfig())
	_, err := e.method(alice, "lock_fee", LockFeeArgs{Amount: Units(1)})
	require.NoError(t, err)
	_, err = e.method(alice, "lock_fee", LockFeeArgs{Amount: Units(1)})
	assert.ErrorIs(t, err, core.ErrUnmodifiedBaseOnUpdated)
}

func TestLockFeeNeedsXRD(t *testing.T) {
	e := newEnv(t, api.NoFeeConfig())
	out, err := e.call(AccountBlueprint, "create", CreateAccountArgs{})
	require.NoError(t, err)
	var ref types.Reference
	require.NoError(t, types.Decode(out, &ref))

	_, err = e.method(ref.ID(), "lock_fee", LockFeeArgs{Amount: NewAmount(1)})
	var appErr *core.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, CodeInsufficientBalance, appErr.Code)
}

func TestRefund(t *testing.T) {
	e := newEnv(t, api.NoFeeConfig())
	updates := store.NewStateUpdates()
	r := Refunder{}
	require.NoError(t, r.Refund(e.store, updates, aliceVault, Units(2).Int()))
	require.NoError(t, r.Refund(e.store, updates, aliceVault, Units(3).Int()))
	require.NoError(t, e.store.Commit(updates))

	got, err := VaultBalance(e.store, aliceVault)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Cmp(Units(105)))

	err = r.Refund(e.store, store.NewStateUpdates(), core.MustNodeID(core.EntityInternalVault, 0xee), Units(1).Int())
	assert.ErrorIs(t, err, core.ErrNodeNotFound)
}

func TestAmountArithmetic(t *testing.T) {
	top := AmountOf(new(uint256.Int).SetAllOne())
	_, err := top.Add(NewAmount(1))
	assert.Error(t, err)
	_, err = NewAmount(1).Sub(NewAmount(2))
	assert.Error(t, err)

	var decoded Amount
	require.NoError(t, types.Decode(types.MustEncode(Units(7)), &decoded))
	assert.Equal(t, "7000000000000000000", decoded.String())
	assert.True(t, Amount{}.IsZero())
}

// Package vm runs transactions: it wires the kernel to the store, the
// native and wasm executors and the fee reserve, decides the outcome of
// each transaction and commits its state updates.
package vm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/govm-net/kernel/api"
	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/costing"
	"github.com/govm-net/kernel/kernel"
	"github.com/govm-net/kernel/native"
	"github.com/govm-net/kernel/native/resource"
	"github.com/govm-net/kernel/store"
	"github.com/govm-net/kernel/types"
	"github.com/govm-net/kernel/wasi"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/blake2b"

	// store backends register themselves
	_ "github.com/govm-net/kernel/store/db"
	_ "github.com/govm-net/kernel/store/leveldb"
	_ "github.com/govm-net/kernel/store/memory"
)

var (
	ErrEngineClosed        = errors.New("engine is closed")
	ErrAlreadyBootstrapped = errors.New("store is already bootstrapped")
)

// FeeRefunder credits unspent locked fees back to a vault in the diff about
// to be committed.
type FeeRefunder interface {
	Refund(s store.ByteStore, updates *store.StateUpdates, vault core.NodeID, amount *uint256.Int) error
}

// Config represents engine configuration
type Config struct {
	// StoreType selects a registered store backend
	StoreType store.StoreType
	// StoreParams are passed to the backend (e.g. "path")
	StoreParams map[string]any

	Kernel   api.KernelConfig
	Fee      api.FeeConfig
	FeeTable costing.FeeTable

	Wasm wasi.Config
	// DisableWasm runs native packages only
	DisableWasm bool

	Logger *slog.Logger
}

// DefaultConfig returns an engine over an in-memory store
func DefaultConfig() *Config {
	return &Config{
		StoreType: store.MemoryStoreType,
		Kernel:    api.DefaultKernelConfig(),
		Fee:       api.DefaultFeeConfig(),
		FeeTable:  costing.DefaultFeeTable(),
		Wasm:      wasi.DefaultConfig(),
	}
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if config == nil {
		return fmt.Errorf("config is nil")
	}
	if err := config.Kernel.Validate(); err != nil {
		return fmt.Errorf("invalid kernel config: %w", err)
	}
	if err := config.Fee.Validate(); err != nil {
		return fmt.Errorf("invalid fee config: %w", err)
	}
	return nil
}

// Engine executes transactions one at a time against a ByteStore
type Engine struct {
	mu       sync.Mutex
	config   *Config
	store    store.ByteStore
	native   *native.Executor
	wasm     *wasi.Executor
	refunder FeeRefunder
	logger   *slog.Logger
	closed   bool
}

// NewEngine opens the configured store and creates an engine over it
func NewEngine(config *Config) (*Engine, error) {
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	st := config.StoreType
	if st == "" {
		st = store.GetRegistry().DefaultStoreType()
	}
	s, err := store.Open(st, config.StoreParams)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", st, err)
	}
	e, err := NewEngineWithStore(config, s)
	if err != nil {
		s.Close()
		return nil, err
	}
	return e, nil
}

// NewEngineWithStore creates an engine over an open store. The engine owns
// the store from then on.
func NewEngineWithStore(config *Config, s store.ByteStore) (*Engine, error) {
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	nativeExec, err := native.NewExecutor(native.NewPackagePackage(), resource.NewPackage())
	if err != nil {
		return nil, fmt.Errorf("failed to create native executor: %w", err)
	}
	e := &Engine{
		config:   config,
		store:    s,
		native:   nativeExec,
		refunder: resource.Refunder{},
		logger:   logger,
	}
	if !config.DisableWasm {
		wasmConfig := config.Wasm
		wasmConfig.FeeTable = config.FeeTable
		if wasmConfig.Logger == nil {
			wasmConfig.Logger = logger
		}
		if e.wasm, err = wasi.NewExecutor(context.Background(), wasmConfig); err != nil {
			return nil, fmt.Errorf("failed to create wasm executor: %w", err)
		}
	}
	return e, nil
}

// RegisterNative adds a native package. It is written to the store by
// Bootstrap, so register before bootstrapping.
func (e *Engine) RegisterNative(p *native.Package) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.native.Register(p)
}

// Store returns the underlying store
func (e *Engine) Store() store.ByteStore {
	return e.store
}

// Config returns the engine configuration
func (e *Engine) Config() *Config {
	return e.config
}

// Close releases the wasm runtime and the store
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	var errs []error
	if e.wasm != nil {
		errs = append(errs, e.wasm.Close(context.Background()))
	}
	errs = append(errs, e.store.Close())
	return errors.Join(errs...)
}

func (e *Engine) executors() map[core.VMKind]core.Executor {
	executors := map[core.VMKind]core.Executor{core.VMNative: e.native}
	if e.wasm != nil {
		executors[core.VMWasm] = e.wasm
	}
	return executors
}

// feeConfig is the engine fee configuration with the transaction's overrides
func (e *Engine) feeConfig(tx *Transaction) api.FeeConfig {
	fee := e.config.Fee
	fee.CostUnitPrice = new(uint256.Int).Set(e.config.Fee.CostUnitPrice)
	if tx.TipPercentage > 0 {
		fee.TipPercentage = tx.TipPercentage
	}
	if tx.CostUnitLimit > 0 && tx.CostUnitLimit < fee.CostUnitLimit {
		fee.CostUnitLimit = tx.CostUnitLimit
	}
	return fee
}

// ExecuteTransaction runs tx with the engine's fee configuration
func (e *Engine) ExecuteTransaction(ctx context.Context, tx *Transaction) (*Receipt, error) {
	return e.Execute(ctx, tx, e.feeConfig(tx))
}

// Preview runs tx but stops as soon as the fee loan is repaid. Nothing is
// committed; an OutcomeAbort receipt means the transaction can pay for
// itself.
func (e *Engine) Preview(ctx context.Context, tx *Transaction) (*Receipt, error) {
	fee := e.feeConfig(tx)
	fee.AbortWhenLoanRepaid = true
	return e.Execute(ctx, tx, fee)
}

// Execute runs tx atomically with the given fee configuration and commits
// the outcome. The returned error is reserved for engine failures (store
// errors); transaction failures are reported in the receipt.
func (e *Engine) Execute(ctx context.Context, tx *Transaction, fee api.FeeConfig) (*Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	if err := fee.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fee config: %w", err)
	}

	payload, err := tx.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction: %w", err)
	}
	receipt := &Receipt{TxHash: core.Hash(blake2b.Sum256(payload))}
	reserve := costing.NewSystemLoanFeeReserve(fee)
	logger := e.logger.With("tx", receipt.TxHash)

	execErr := tx.Validate()
	if execErr == nil {
		execErr = e.chargeDeferred(reserve, tx, len(payload))
	}
	var k *kernel.Kernel
	if execErr == nil {
		k, execErr = kernel.New(kernel.Options{
			Config:    e.config.Kernel,
			FeeTable:  e.config.FeeTable,
			Store:     e.store,
			Reserve:   reserve,
			Executors: e.executors(),
			TxHash:    receipt.TxHash,
			Logger:    logger,
		})
	}
	if execErr == nil {
		receipt.Outputs, execErr = e.run(ctx, k, tx)
	}
	if execErr == nil {
		execErr = k.Teardown()
	}
	if execErr == nil {
		if err := reserve.RepayAll(); err != nil {
			execErr = &core.CostingError{Err: err}
		}
	}

	switch {
	case execErr == nil:
		receipt.Outcome = OutcomeCommitSuccess
	case errors.Is(execErr, costing.ErrAbortWhenLoanRepaid):
		receipt.Outcome = OutcomeAbort
	case k != nil && reserve.FullyRepaid():
		receipt.Outcome = OutcomeCommitFailure
	default:
		receipt.Outcome = OutcomeReject
	}
	receipt.Error = execErr
	receipt.ErrorKind = core.ClassifyError(execErr)
	receipt.Fee = reserve.Finalize()
	if k != nil {
		receipt.Logs = k.Logs()
		receipt.Trace = k.CallTrace()
		receipt.SubstatesRead, receipt.SubstatesWritten = k.Usage()
	}

	if receipt.Outcome.IsCommitted() {
		if err := e.commit(k, receipt); err != nil {
			return nil, err
		}
	}
	recordMetrics(receipt)

	if execErr != nil {
		logger.Warn("transaction failed", "outcome", receipt.Outcome, "kind", receipt.ErrorKind, "error", execErr)
	}
	logger.Info("transaction executed",
		"outcome", receipt.Outcome,
		"cost_units", receipt.Fee.TotalCostUnitsConsumed,
		"fee", receipt.Fee.TotalExecutionCost,
		"version", receipt.Version)
	return receipt, nil
}

// chargeDeferred records the transaction level costs; they are applied
// when the loan is repaid.
func (e *Engine) chargeDeferred(reserve *costing.SystemLoanFeeReserve, tx *Transaction, payloadSize int) error {
	charges := []struct {
		units  uint32
		reason core.CostingReason
	}{
		{costing.TxBaseCost, core.CostTxBaseCost},
		{e.config.FeeTable.TxPayloadCost(payloadSize), core.CostTxPayloadCost},
		{e.config.FeeTable.TxSignatureCost(tx.SignatureCount), core.CostTxSignatureVerification},
	}
	for _, c := range charges {
		if err := reserve.ConsumeDeferred(c.units, 1, c.reason); err != nil {
			return &core.CostingError{Err: err}
		}
	}
	return nil
}

// run declares the references and executes the instructions in order.
// Placeholders are resolved against the Own tokens returned so far.
func (e *Engine) run(ctx context.Context, k *kernel.Kernel, tx *Transaction) ([][]byte, error) {
	for _, ref := range tx.References {
		if err := k.AddReference(ref); err != nil {
			return nil, fmt.Errorf("reference %s: %w", ref, err)
		}
	}

	outputs := make([][]byte, 0, len(tx.Instructions))
	returned := make([][]core.NodeID, 0, len(tx.Instructions))
	resolve := func(p types.ResultOwn) (core.NodeID, error) {
		if p.Instruction >= uint64(len(returned)) {
			return core.NodeID{}, fmt.Errorf("%w: placeholder refers to instruction %d", core.ErrInvalidArgument, p.Instruction)
		}
		owns := returned[p.Instruction]
		if p.Index >= uint64(len(owns)) {
			return core.NodeID{}, fmt.Errorf("%w: instruction %d returned %d nodes, placeholder wants #%d",
				core.ErrInvalidArgument, p.Instruction, len(owns), p.Index)
		}
		return owns[p.Index], nil
	}

	for i, ins := range tx.Instructions {
		input, err := types.ResolvePlaceholders(ins.Input, resolve)
		if err != nil {
			if !errors.Is(err, core.ErrInvalidArgument) {
				err = fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
			}
			return outputs, fmt.Errorf("instruction %d: %w", i, err)
		}
		output, err := k.Invoke(ctx, ins.Invocation(input))
		if err != nil {
			return outputs, fmt.Errorf("instruction %d (%s): %w", i, ins, err)
		}
		tokens, err := types.Scan(output)
		if err != nil {
			return outputs, fmt.Errorf("instruction %d: %w", i, err)
		}
		outputs = append(outputs, output)
		returned = append(returned, tokens.Owns)
	}
	return outputs, nil
}

// commit finalizes the track, settles the fee, refunds the unspent locked
// fees and writes everything in one store commit.
func (e *Engine) commit(k *kernel.Kernel, receipt *Receipt) error {
	success := receipt.Outcome == OutcomeCommitSuccess
	updates := k.Finalize(success)
	settlement := receipt.Fee.Settle(success)
	for _, vault := range settlement.RefundVaults() {
		if err := e.refunder.Refund(e.store, updates, vault, settlement.Refunds[vault]); err != nil {
			return fmt.Errorf("failed to refund %s: %w", vault, err)
		}
	}
	if err := e.store.Commit(updates); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	version, err := e.store.Version()
	if err != nil {
		return fmt.Errorf("failed to read store version: %w", err)
	}
	receipt.Settlement = settlement
	receipt.StateUpdates = updates
	receipt.Version = version
	return nil
}

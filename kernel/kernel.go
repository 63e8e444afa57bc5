// Package kernel implements the transaction kernel: heap, track, substate
// lock table, call frames with move-only node ownership, and metering of
// every operation into the fee reserve.
package kernel

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/govm-net/kernel/api"
	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/costing"
	"github.com/govm-net/kernel/security"
	"github.com/govm-net/kernel/store"
	"github.com/govm-net/kernel/types"
)

// TransactionProcessor is the actor of the root frame
var TransactionProcessor = core.Actor{
	Blueprint: core.BlueprintID{Blueprint: "TransactionProcessor"},
	Function:  "run",
}

// Options configures a kernel for one transaction
type Options struct {
	Config    api.KernelConfig
	FeeTable  costing.FeeTable
	Store     store.ByteStore
	Reserve   *costing.SystemLoanFeeReserve
	Executors map[core.VMKind]core.Executor
	TxHash    core.Hash
	Logger    *slog.Logger
}

// LogEntry is a line emitted by contract code
type LogEntry struct {
	Actor   string
	Message string
	Fields  []any
}

// openSubstate is the kernel side of a lock handle
type openSubstate struct {
	ref     core.SubstateRef
	flags   core.LockFlags
	frame   *CallFrame
	onHeap  bool
	exposed []core.NodeID
}

// Kernel runs one transaction. It is not safe for concurrent use: the
// executors re-enter it synchronously on the transaction's goroutine.
type Kernel struct {
	cfg       api.KernelConfig
	fees      costing.FeeTable
	reserve   *costing.SystemLoanFeeReserve
	executors map[core.VMKind]core.Executor
	logger    *slog.Logger

	heap    *Heap
	track   *Track
	locks   *LockTable
	ledger  *ownershipLedger
	ids     *IDAllocator
	limiter *security.ResourceLimiter
	tracer  *security.CallTracer

	frames      []*CallFrame
	open        map[core.LockHandle]*openSubstate
	definitions map[core.NodeID]*core.PackageDefinition
	logs        []LogEntry

	// first fatal error; every later call fails with it
	failed error
}

// New creates a kernel with a root frame
func New(opts Options) (*Kernel, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Store == nil || opts.Reserve == nil {
		return nil, fmt.Errorf("%w: store and fee reserve are required", core.ErrInvalidArgument)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	k := &Kernel{
		cfg:         opts.Config,
		fees:        opts.FeeTable,
		reserve:     opts.Reserve,
		executors:   opts.Executors,
		logger:      logger,
		heap:        NewHeap(),
		locks:       NewLockTable(),
		ledger:      newOwnershipLedger(),
		ids:         NewIDAllocator(opts.TxHash),
		limiter:     security.NewResourceLimiter(opts.Config.Limits),
		tracer:      security.NewCallTracer(),
		open:        make(map[core.LockHandle]*openSubstate),
		definitions: make(map[core.NodeID]*core.PackageDefinition),
	}
	k.track = NewTrack(opts.Store, k.onStoreRead)
	k.frames = []*CallFrame{newCallFrame(0, TransactionProcessor)}
	return k, nil
}

func (k *Kernel) current() *CallFrame {
	return k.frames[len(k.frames)-1]
}

func (k *Kernel) onStoreRead(ref core.SubstateRef, size int, found bool) error {
	if err := k.limiter.OnStoreRead(ref); err != nil {
		return k.fail(err)
	}
	if found {
		return k.consume(k.fees.StoreReadCost(size), core.CostStoreAccess)
	}
	return k.consume(k.fees.StoreReadNotFoundCost(), core.CostStoreAccess)
}

// consume charges the fee reserve. Costing failures are fatal.
func (k *Kernel) consume(units uint32, reason core.CostingReason) error {
	if err := k.reserve.ConsumeExecution(units, reason); err != nil {
		return k.fail(&core.CostingError{Err: fmt.Errorf("%s: %w", reason, err)})
	}
	return nil
}

// fail records a fatal error; the transaction cannot continue after it
func (k *Kernel) fail(err error) error {
	if k.failed == nil {
		k.failed = err
		k.logger.Debug("kernel failed", "depth", k.current().depth, "error", err)
	}
	return err
}

func (k *Kernel) check() error {
	return k.failed
}

// Err returns the fatal error that stopped the transaction, if any
func (k *Kernel) Err() error {
	return k.failed
}

// Actor implements core.KernelAPI
func (k *Kernel) Actor() core.Actor {
	return k.current().actor
}

// Depth implements core.KernelAPI
func (k *Kernel) Depth() int {
	return k.current().depth
}

// AddReference makes a global node visible to the root frame. Used for the
// addresses a transaction declares.
func (k *Kernel) AddReference(id core.NodeID) error {
	if !id.IsGlobal() {
		return fmt.Errorf("%w: %s", core.ErrNonGlobalReference, id)
	}
	if _, found, err := k.track.Read(typeInfoRef(id)); err != nil {
		return err
	} else if !found {
		return fmt.Errorf("%w: %s", core.ErrNodeNotFound, id)
	}
	k.frames[0].addRef(id)
	return nil
}

// RootOwned returns the nodes currently owned by the root frame
func (k *Kernel) RootOwned() []core.NodeID {
	return k.frames[0].OwnedNodes()
}

// Teardown checks that the root frame released everything. A node still
// owned at this point would be silently discarded, so it is a failure.
func (k *Kernel) Teardown() error {
	if err := k.check(); err != nil {
		return err
	}
	root := k.frames[0]
	if len(k.frames) != 1 {
		return k.fail(fmt.Errorf("%w: %d frames left", core.ErrOpenLocksOnFramePop, len(k.frames)))
	}
	if len(root.locks) > 0 {
		return k.fail(fmt.Errorf("%w: %d open in root frame", core.ErrOpenLocksOnFramePop, len(root.locks)))
	}
	if owned := root.OwnedNodes(); len(owned) > 0 {
		return k.fail(fmt.Errorf("%w: %d nodes left in root frame, first %s (%s)",
			core.ErrOwnedNodeLeak, len(owned), owned[0], owned[0].EntityType()))
	}
	return nil
}

// Finalize returns the state updates of the transaction. On failure only
// force-written substates are kept.
func (k *Kernel) Finalize(success bool) *store.StateUpdates {
	return k.track.Finalize(success)
}

// Logs returns the lines emitted by contract code
func (k *Kernel) Logs() []LogEntry {
	return k.logs
}

// CallTrace returns the invocation tree
func (k *Kernel) CallTrace() []*security.CallTrace {
	return k.tracer.Roots()
}

// Usage returns the number of distinct store substates read and track substates written
func (k *Kernel) Usage() (read, written int) {
	return k.limiter.Usage()
}

// EmitLog implements core.KernelAPI
func (k *Kernel) EmitLog(message string, keyValues ...any) {
	actor := k.current().actor.String()
	k.logs = append(k.logs, LogEntry{Actor: actor, Message: message, Fields: keyValues})
	k.logger.Debug(message, append([]any{"actor", actor}, keyValues...)...)
}

// ConsumeCostUnits implements core.KernelAPI
func (k *Kernel) ConsumeCostUnits(units uint32, reason core.CostingReason) error {
	if err := k.check(); err != nil {
		return err
	}
	return k.consume(units, reason)
}

// ReadTrack reads a persisted substate outside of any frame. Used by the
// engine after execution, e.g. to settle fees.
func (k *Kernel) ReadTrack(ref core.SubstateRef) ([]byte, bool, error) {
	return k.track.Read(ref)
}

func typeInfoRef(id core.NodeID) core.SubstateRef {
	return core.SubstateRef{Node: id, Partition: core.TypeInfoPartition, Key: core.TypeInfoKey}
}

// scanTokens finds the tokens of a value and turns codec failures into
// invalid argument errors.
func scanTokens(value []byte) (types.Tokens, error) {
	tokens, err := types.Scan(value)
	if err != nil {
		if errors.Is(err, core.ErrDuplicateOwn) {
			return tokens, err
		}
		return tokens, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
	}
	return tokens, nil
}

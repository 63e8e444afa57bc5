package costing

import "math"

// CPUInstructionsToCostUnit converts measured CPU instructions into cost
// units: 1µs = 100 cost units on a 3.4GHz reference core.
const CPUInstructionsToCostUnit = 34

// Transaction level costs
const (
	TxBaseCost           uint32 = 50_000
	TxPayloadCostPerByte uint32 = 40
	TxSignatureCost      uint32 = 7_000
)

// Store access costs
const (
	storeReadBase     uint32 = 40_000
	storeReadNotFound uint32 = 160_000
)

// FeeTable specifies how each kernel event is costed.
type FeeTable struct {
	WasmExecutionUnitsDivider uint32
	NativeBaseCost            uint32
}

// DefaultFeeTable returns the current fee table
func DefaultFeeTable() FeeTable {
	return FeeTable{
		WasmExecutionUnitsDivider: 4_500,
		NativeBaseCost:            10_000 / CPUInstructionsToCostUnit,
	}
}

func add(a, b uint32) uint32 {
	if a > math.MaxUint32-b {
		return math.MaxUint32
	}
	return a + b
}

func mul(a uint32, n int) uint32 {
	if n <= 0 {
		return 0
	}
	p := uint64(a) * uint64(n)
	if p > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(p)
}

func cpu(instructions uint32) uint32 {
	return instructions / CPUInstructionsToCostUnit
}

// DataProcessingCost is the cost of decoding/validating size bytes
func (FeeTable) DataProcessingCost(size int) uint32 {
	return mul(2, size)
}

// StoreReadCost is the cost of loading a substate of the given size from the store
func (FeeTable) StoreReadCost(size int) uint32 {
	return add(uint32(size/10), storeReadBase)
}

// StoreReadNotFoundCost is the cost of a store lookup that found nothing
func (FeeTable) StoreReadNotFoundCost() uint32 {
	return storeReadNotFound
}

// TxPayloadCost is charged per byte of the transaction payload
func (FeeTable) TxPayloadCost(size int) uint32 {
	return mul(TxPayloadCostPerByte, size)
}

// TxSignatureCost is charged per signature
func (FeeTable) TxSignatureCost(n int) uint32 {
	return mul(TxSignatureCost, n)
}

// RunWasmCost converts wasm execution units into cost units
func (t FeeTable) RunWasmCost(units uint64) uint32 {
	if t.WasmExecutionUnitsDivider == 0 {
		return 0
	}
	c := units / uint64(t.WasmExecutionUnitsDivider)
	if c > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(c)
}

// RunNativeCost is the flat cost of entering native code
func (t FeeTable) RunNativeCost(inputSize int) uint32 {
	return add(t.NativeBaseCost, t.DataProcessingCost(inputSize))
}

// InvokeCost is charged before and after every invocation for the payload
func (t FeeTable) InvokeCost(payloadSize int) uint32 {
	return t.DataProcessingCost(payloadSize)
}

// AllocateNodeIDCost is the cost of reserving a node id
func (FeeTable) AllocateNodeIDCost() uint32 {
	return cpu(3312)
}

// CreateNodeCost depends on the total substate size of the new node
func (t FeeTable) CreateNodeCost(size int) uint32 {
	return add(cpu(15510), t.DataProcessingCost(size))
}

// DropNodeCost depends on the total substate size of the dropped node
func (t FeeTable) DropNodeCost(size int) uint32 {
	return add(cpu(38883), t.DataProcessingCost(size))
}

// MoveModuleCost is charged per module attached on globalize
func (FeeTable) MoveModuleCost() uint32 {
	return cpu(4791)
}

// OpenSubstateCost is charged when a lock is acquired
func (t FeeTable) OpenSubstateCost(size int) uint32 {
	return add(cpu(10318), t.DataProcessingCost(size))
}

// ReadSubstateCost depends on where the substate lives
func (t FeeTable) ReadSubstateCost(fromHeap bool, size int) uint32 {
	base := uint32(3868)
	if fromHeap {
		base = 2234
	}
	return add(cpu(base), t.DataProcessingCost(size))
}

// WriteSubstateCost depends on the new value's size
func (t FeeTable) WriteSubstateCost(size int) uint32 {
	return add(cpu(7441), t.DataProcessingCost(size))
}

// CloseSubstateCost is charged when a lock is released
func (FeeTable) CloseSubstateCost() uint32 {
	return cpu(4390)
}

// SetSubstateCost is charged for handle-less collection writes
func (t FeeTable) SetSubstateCost(size int) uint32 {
	return add(cpu(4530), t.DataProcessingCost(size))
}

// RemoveSubstateCost is charged for handle-less collection deletes
func (FeeTable) RemoveSubstateCost() uint32 {
	return cpu(24389)
}

// ScanSubstatesCost is charged per scan plus per returned entry
func (FeeTable) ScanSubstatesCost(count int) uint32 {
	return cpu(add(6369, mul(9286, count)))
}

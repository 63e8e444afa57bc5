package types

import "github.com/govm-net/kernel/core"

// HostFunctionID defines constants for function IDs used in host-contract communication
// These constants must be used on both sides (host and contract) to ensure compatibility
//
// Parameters are CBOR encoded with Encode. Functions called through
// call_host_get_buffer write their result into the guest buffer and return
// its length; functions called through call_host_set return 0 on success.
type HostFunctionID int32

const (
	// FuncActor returns the CBOR encoded actor of the running frame
	FuncActor HostFunctionID = iota + 1 // 1
	// FuncAllocateNodeID reserves a node id
	FuncAllocateNodeID // 2
	// FuncCreateNode creates a heap node owned by the frame
	FuncCreateNode // 3
	// FuncDropNode drops an owned node
	FuncDropNode // 4
	// FuncGlobalize globalizes an owned node and returns its address
	FuncGlobalize // 5
	// FuncLockSubstate opens a substate and returns the handle
	FuncLockSubstate // 6
	// FuncReadSubstate reads the value behind a handle
	FuncReadSubstate // 7
	// FuncWriteSubstate writes the value behind a handle
	FuncWriteSubstate // 8
	// FuncCloseSubstate closes a handle
	FuncCloseSubstate // 9
	// FuncInvoke calls another function or method
	FuncInvoke // 10
	// FuncLog logs a message to the receipt
	FuncLog // 11
	// FuncSetSubstate writes a collection entry
	FuncSetSubstate // 12
	// FuncRemoveSubstate removes a collection entry and returns the old value
	FuncRemoveSubstate // 13
	// FuncScanSubstates lists collection entries in key order
	FuncScanSubstates // 14
	// FuncLockFee locks fees from the vault the method runs on
	FuncLockFee // 15
)

// HostBufferSize defines the size of the buffer used for data exchange between host and contract
const HostBufferSize int32 = 64 * 1024

type AllocateNodeIDParams struct {
	Entity core.EntityType `cbor:"1,keyasint"`
}

type CreateNodeParams struct {
	ID        core.NodeID                                 `cbor:"1,keyasint"`
	Blueprint string                                      `cbor:"2,keyasint"`
	Substates map[core.PartitionNumber]map[string][]byte `cbor:"3,keyasint"`
}

type NodeParams struct {
	ID core.NodeID `cbor:"1,keyasint"`
}

type GlobalizeParams struct {
	ID      core.NodeID                   `cbor:"1,keyasint"`
	Modules map[core.ModuleID]core.NodeID `cbor:"2,keyasint,omitempty"`
	Address *core.NodeID                  `cbor:"3,keyasint,omitempty"`
}

type LockSubstateParams struct {
	Node      core.NodeID          `cbor:"1,keyasint"`
	Partition core.PartitionNumber `cbor:"2,keyasint"`
	Key       []byte               `cbor:"3,keyasint"`
	Flags     core.LockFlags       `cbor:"4,keyasint"`
}

type HandleParams struct {
	Handle core.LockHandle `cbor:"1,keyasint"`
	Value  []byte          `cbor:"2,keyasint,omitempty"`
}

type InvokeParams struct {
	Package   core.NodeID  `cbor:"1,keyasint"`
	Blueprint string       `cbor:"2,keyasint"`
	Function  string       `cbor:"3,keyasint"`
	Receiver  *core.NodeID `cbor:"4,keyasint,omitempty"`
	Input     []byte       `cbor:"5,keyasint,omitempty"`
}

type LogParams struct {
	Message   string `cbor:"1,keyasint"`
	KeyValues []any  `cbor:"2,keyasint,omitempty"`
}

type ActorResult struct {
	Package   core.NodeID  `cbor:"1,keyasint"`
	Blueprint string       `cbor:"2,keyasint"`
	Function  string       `cbor:"3,keyasint"`
	Receiver  *core.NodeID `cbor:"4,keyasint,omitempty"`
}

type SubstateParams struct {
	Node      core.NodeID          `cbor:"1,keyasint"`
	Partition core.PartitionNumber `cbor:"2,keyasint"`
	Key       []byte               `cbor:"3,keyasint"`
	Value     []byte               `cbor:"4,keyasint,omitempty"`
}

type RemoveSubstateResult struct {
	Value []byte `cbor:"1,keyasint,omitempty"`
	Found bool   `cbor:"2,keyasint"`
}

type ScanSubstatesParams struct {
	Node      core.NodeID          `cbor:"1,keyasint"`
	Partition core.PartitionNumber `cbor:"2,keyasint"`
	Limit     uint32               `cbor:"3,keyasint"`
}

type ScanEntry struct {
	Key   []byte `cbor:"1,keyasint"`
	Value []byte `cbor:"2,keyasint"`
}

// LockFeeParams carries the amount as a big-endian integer
type LockFeeParams struct {
	Vault      core.NodeID `cbor:"1,keyasint"`
	Amount     []byte      `cbor:"2,keyasint"`
	Contingent bool        `cbor:"3,keyasint,omitempty"`
}

package core

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/holiman/uint256"
)

// Hash is a 32 byte digest (transaction hashes, code hashes)
type Hash [32]byte

var ZeroHash = Hash{}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// VMKind selects the executor that runs a package's code.
type VMKind uint8

const (
	VMNative VMKind = iota + 1
	VMWasm
)

func (k VMKind) String() string {
	switch k {
	case VMNative:
		return "native"
	case VMWasm:
		return "wasm"
	}
	return fmt.Sprintf("vm(%d)", uint8(k))
}

// BlueprintID names a blueprint inside a package
type BlueprintID struct {
	Package   NodeID `cbor:"1,keyasint"`
	Blueprint string `cbor:"2,keyasint"`
}

func (b BlueprintID) String() string {
	return fmt.Sprintf("%s::%s", b.Package, b.Blueprint)
}

// ReceiverKind declares whether a function is a method and how it uses its receiver.
type ReceiverKind uint8

const (
	ReceiverNone ReceiverKind = iota
	ReceiverRef
	ReceiverRefMut
)

// FunctionSchema describes one callable entry of a blueprint.
type FunctionSchema struct {
	Export   string       `cbor:"1,keyasint"`
	Receiver ReceiverKind `cbor:"2,keyasint"`
}

// BlueprintDefinition lists the functions of a blueprint
type BlueprintDefinition struct {
	Functions map[string]FunctionSchema `cbor:"1,keyasint"`
}

// PackageDefinition is stored in a package node and drives dispatch.
type PackageDefinition struct {
	VM         VMKind                         `cbor:"1,keyasint"`
	Blueprints map[string]BlueprintDefinition `cbor:"2,keyasint"`
}

// Package node layout. The code field is a CBOR byte string.
var (
	PackageDefinitionKey = FieldKey(0)
	PackageCodeKey       = FieldKey(1)
)

// TypeInfoKey is the single substate of the TypeInfoPartition
var TypeInfoKey = FieldKey(0)

// ModuleID names the modules a node composes with once global.
type ModuleID uint8

const (
	ModuleMetadata ModuleID = iota + 1
	ModuleRoleAssignment
)

func (m ModuleID) String() string {
	switch m {
	case ModuleMetadata:
		return "Metadata"
	case ModuleRoleAssignment:
		return "RoleAssignment"
	}
	return fmt.Sprintf("module(%d)", uint8(m))
}

// Partition returns the partition the module's substates are moved to.
func (m ModuleID) Partition() PartitionNumber {
	switch m {
	case ModuleMetadata:
		return MetadataPartition
	case ModuleRoleAssignment:
		return RoleAssignmentPartition
	}
	return MainPartition
}

// Actor is the identity of the code running in a call frame.
type Actor struct {
	Blueprint BlueprintID
	Function  string
	Receiver  *NodeID
}

// IsMethod reports whether the actor was invoked on a receiver
func (a Actor) IsMethod() bool {
	return a.Receiver != nil
}

func (a Actor) String() string {
	if a.Receiver != nil {
		return fmt.Sprintf("%s.%s@%s", a.Blueprint.Blueprint, a.Function, *a.Receiver)
	}
	return fmt.Sprintf("%s::%s", a.Blueprint.Blueprint, a.Function)
}

// Invocation is a call request from a frame to a function or method.
type Invocation struct {
	Blueprint BlueprintID
	Function  string
	Receiver  *NodeID
	Input     []byte
}

// ExportRef is what the kernel hands to an executor once dispatch is resolved.
type ExportRef struct {
	Blueprint BlueprintID
	Function  string
	Export    string
}

// NodeSubstates is the substate content of a node, partition by partition.
type NodeSubstates map[PartitionNumber]map[SubstateKey][]byte

// Size returns the total payload size
func (s NodeSubstates) Size() int {
	total := 0
	for _, partition := range s {
		for _, v := range partition {
			total += len(v)
		}
	}
	return total
}

// SubstateEntry is one key/value pair returned by a scan
type SubstateEntry struct {
	Key   SubstateKey
	Value []byte
}

// CostingReason attributes consumed cost units.
type CostingReason uint8

const (
	CostTxBaseCost CostingReason = iota
	CostTxPayloadCost
	CostTxSignatureVerification
	CostInvoke
	CostDropNode
	CostCreateNode
	CostLockSubstate
	CostReadSubstate
	CostWriteSubstate
	CostDropLock
	CostRunWasm
	CostRunNative
	CostStoreAccess
	costingReasonCount
)

// CostingReasonCount is the number of costing reasons
const CostingReasonCount = int(costingReasonCount)

var costingReasonNames = [...]string{
	"TxBaseCost", "TxPayloadCost", "TxSignatureVerification", "Invoke", "DropNode", "CreateNode",
	"LockSubstate", "ReadSubstate", "WriteSubstate", "DropLock", "RunWasm", "RunNative", "StoreAccess",
}

func (r CostingReason) String() string {
	if int(r) < len(costingReasonNames) {
		return costingReasonNames[r]
	}
	return fmt.Sprintf("reason(%d)", uint8(r))
}

// KernelAPI is the callback surface the kernel exposes to executors and
// native blueprints. All calls happen on the transaction's goroutine.
type KernelAPI interface {
	// Actor returns the identity of the current frame
	Actor() Actor
	// Depth returns the current call depth (root frame is 0)
	Depth() int

	// AllocateNodeID reserves a fresh id for a node of the given entity type
	AllocateNodeID(entity EntityType) (NodeID, error)
	// CreateNode creates a heap node owned by the current frame
	CreateNode(id NodeID, blueprint BlueprintID, substates NodeSubstates) error
	// DropNode removes an owned heap node and hands its substates back;
	// owned children found in them move to the current frame
	DropNode(id NodeID) (NodeSubstates, error)
	// Globalize moves an owned node and its descendants to the track
	Globalize(id NodeID, modules map[ModuleID]NodeID, address *NodeID) (NodeID, error)
	// GetBlueprint returns the blueprint of a visible object node
	GetBlueprint(id NodeID) (BlueprintID, error)

	// LockSubstate opens a substate and returns a handle
	LockSubstate(node NodeID, partition PartitionNumber, key SubstateKey, flags LockFlags) (LockHandle, error)
	// ReadSubstate returns the current value behind a handle
	ReadSubstate(handle LockHandle) ([]byte, error)
	// WriteSubstate replaces the whole value behind a mutable handle
	WriteSubstate(handle LockHandle, value []byte) error
	// CloseSubstate releases the lock
	CloseSubstate(handle LockHandle) error

	// SetSubstate writes a collection entry without a handle
	SetSubstate(node NodeID, partition PartitionNumber, key SubstateKey, value []byte) error
	// RemoveSubstate deletes a collection entry and returns the old value
	RemoveSubstate(node NodeID, partition PartitionNumber, key SubstateKey) ([]byte, bool, error)
	// ScanSubstates lists up to limit entries of a partition in key order
	ScanSubstates(node NodeID, partition PartitionNumber, limit int) ([]SubstateEntry, error)

	// Invoke calls a function or method in a new frame
	Invoke(ctx context.Context, inv Invocation) ([]byte, error)

	// ConsumeCostUnits charges execution cost to the fee reserve
	ConsumeCostUnits(units uint32, reason CostingReason) error
	// LockFee credits the fee reserve from a vault; only vault methods may call it
	LockFee(vault NodeID, amount *uint256.Int, contingent bool) error

	// EmitLog records a log line in the receipt
	EmitLog(message string, keyValues ...any)
}

// Executor runs contract code for a resolved export.
type Executor interface {
	Invoke(ctx context.Context, api KernelAPI, export ExportRef, input []byte) ([]byte, error)
}

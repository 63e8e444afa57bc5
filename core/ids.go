// Package core defines the identifiers, flags and interfaces shared by the
// kernel, the executors and the blueprints that run on top of them.
package core

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// NodeIDLength is the size of a NodeID in bytes. The first byte is the entity type.
const NodeIDLength = 30

// NodeID identifies an addressable object (component, vault, bucket, package...).
type NodeID [NodeIDLength]byte

// String returns the hex string representation of the node id
func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// EntityType returns the entity type encoded in the first byte
func (id NodeID) EntityType() EntityType {
	return EntityType(id[0])
}

// IsGlobal reports whether the node is addressable from outside a transaction.
func (id NodeID) IsGlobal() bool {
	return id.EntityType().IsGlobal()
}

// IsZero reports whether the id is unset
func (id NodeID) IsZero() bool {
	return id == NodeID{}
}

// EntityType classifies nodes. It decides whether a node can be globalized,
// persisted or used as a fee vault.
type EntityType byte

const (
	EntityUnknown EntityType = iota
	EntityGlobalPackage
	EntityGlobalComponent
	EntityGlobalAccount
	EntityGlobalResource
	EntityInternalVault
	EntityInternalComponent
	EntityInternalKeyValueStore
	EntityTransientBucket
	EntityTransientProof
)

var entityNames = map[EntityType]string{
	EntityUnknown:               "unknown",
	EntityGlobalPackage:         "global_package",
	EntityGlobalComponent:       "global_component",
	EntityGlobalAccount:         "global_account",
	EntityGlobalResource:        "global_resource",
	EntityInternalVault:         "internal_vault",
	EntityInternalComponent:     "internal_component",
	EntityInternalKeyValueStore: "internal_kv_store",
	EntityTransientBucket:       "transient_bucket",
	EntityTransientProof:        "transient_proof",
}

func (t EntityType) String() string {
	if name, ok := entityNames[t]; ok {
		return name
	}
	return fmt.Sprintf("entity(%d)", byte(t))
}

// IsGlobal reports whether nodes of this type live at a global address
func (t EntityType) IsGlobal() bool {
	switch t {
	case EntityGlobalPackage, EntityGlobalComponent, EntityGlobalAccount, EntityGlobalResource:
		return true
	}
	return false
}

// IsTransient reports whether nodes of this type are pinned to the heap and
// must never reach the store.
func (t EntityType) IsTransient() bool {
	return t == EntityTransientBucket || t == EntityTransientProof
}

// GlobalCounterpart returns the global entity type an internal type becomes
// when globalized.
func (t EntityType) GlobalCounterpart() (EntityType, bool) {
	switch t {
	case EntityInternalComponent:
		return EntityGlobalComponent, true
	case EntityGlobalComponent, EntityGlobalAccount, EntityGlobalResource, EntityGlobalPackage:
		return t, true
	}
	return EntityUnknown, false
}

// PartitionNumber selects a partition inside a node.
type PartitionNumber uint8

const (
	// TypeInfoPartition holds the (package, blueprint) pair of an object node.
	TypeInfoPartition PartitionNumber = 0
	// MetadataPartition holds the metadata module attached on globalize.
	MetadataPartition PartitionNumber = 1
	// RoleAssignmentPartition holds the access rules module attached on globalize.
	RoleAssignmentPartition PartitionNumber = 2
	// MainPartition is the first partition owned by the blueprint itself.
	MainPartition PartitionNumber = 64
)

// KeyKind is the variant of a SubstateKey.
type KeyKind uint8

const (
	KeyField KeyKind = iota
	KeyMap
	KeySorted
)

// SubstateKey addresses a substate within a partition. It is comparable and
// can be used as a map key.
type SubstateKey struct {
	Kind  KeyKind
	Field uint8
	Sort  uint16
	Key   string
}

// FieldKey returns the key of a fixed field slot
func FieldKey(field uint8) SubstateKey {
	return SubstateKey{Kind: KeyField, Field: field}
}

// MapKey returns a key of a map collection
func MapKey(key []byte) SubstateKey {
	return SubstateKey{Kind: KeyMap, Key: string(key)}
}

// SortedKey returns a key of a sorted index collection
func SortedKey(sort uint16, key []byte) SubstateKey {
	return SubstateKey{Kind: KeySorted, Sort: sort, Key: string(key)}
}

// Bytes returns the canonical byte encoding used for ordering and storage.
// Format: kind + (field | key | sort(be16) + key)
func (k SubstateKey) Bytes() []byte {
	switch k.Kind {
	case KeyField:
		return []byte{byte(KeyField), k.Field}
	case KeySorted:
		out := make([]byte, 3, 3+len(k.Key))
		out[0] = byte(KeySorted)
		binary.BigEndian.PutUint16(out[1:], k.Sort)
		return append(out, k.Key...)
	default:
		return append([]byte{byte(KeyMap)}, k.Key...)
	}
}

// SubstateKeyFromBytes decodes a key produced by Bytes.
func SubstateKeyFromBytes(b []byte) (SubstateKey, error) {
	if len(b) == 0 {
		return SubstateKey{}, fmt.Errorf("%w: empty substate key", ErrInvalidArgument)
	}
	switch KeyKind(b[0]) {
	case KeyField:
		if len(b) != 2 {
			return SubstateKey{}, fmt.Errorf("%w: bad field key length %d", ErrInvalidArgument, len(b))
		}
		return FieldKey(b[1]), nil
	case KeyMap:
		return MapKey(b[1:]), nil
	case KeySorted:
		if len(b) < 3 {
			return SubstateKey{}, fmt.Errorf("%w: bad sorted key length %d", ErrInvalidArgument, len(b))
		}
		return SortedKey(binary.BigEndian.Uint16(b[1:3]), b[3:]), nil
	}
	return SubstateKey{}, fmt.Errorf("%w: unknown key kind %d", ErrInvalidArgument, b[0])
}

// Compare orders keys by their canonical encoding.
func (k SubstateKey) Compare(other SubstateKey) int {
	return bytes.Compare(k.Bytes(), other.Bytes())
}

func (k SubstateKey) String() string {
	switch k.Kind {
	case KeyField:
		return fmt.Sprintf("field(%d)", k.Field)
	case KeySorted:
		return fmt.Sprintf("sorted(%d,%x)", k.Sort, k.Key)
	default:
		return fmt.Sprintf("map(%x)", k.Key)
	}
}

// SubstateRef is the logical identity of a substate.
type SubstateRef struct {
	Node      NodeID
	Partition PartitionNumber
	Key       SubstateKey
}

func (r SubstateRef) String() string {
	return fmt.Sprintf("%s/%d/%s", r.Node, r.Partition, r.Key)
}

// LockFlags control how a substate is opened.
type LockFlags uint32

const (
	// LockMutable allows writes through the handle.
	LockMutable LockFlags = 1 << iota
	// LockUnmodifiedBase asserts the substate is unchanged since the
	// transaction started.
	LockUnmodifiedBase
	// LockForceWrite keeps the written value even if the transaction fails.
	LockForceWrite
)

// Contains reports whether all bits of other are set
func (f LockFlags) Contains(other LockFlags) bool {
	return f&other == other
}

func (f LockFlags) String() string {
	var buf bytes.Buffer
	add := func(s string) {
		if buf.Len() > 0 {
			buf.WriteByte('|')
		}
		buf.WriteString(s)
	}
	if f.Contains(LockMutable) {
		add("MUTABLE")
	}
	if f.Contains(LockUnmodifiedBase) {
		add("UNMODIFIED_BASE")
	}
	if f.Contains(LockForceWrite) {
		add("FORCE_WRITE")
	}
	if buf.Len() == 0 {
		return "READ_ONLY"
	}
	return buf.String()
}

// LockHandle is a short-lived token for an open substate.
type LockHandle uint32

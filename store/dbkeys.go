package store

import (
	"fmt"

	"github.com/govm-net/kernel/core"
)

// Key layout shared by all byte-oriented backends.
const (
	// substatePrefix marks substate keys: 's' + node_id + partition + substate_key
	substatePrefix byte = 's'
	// VersionKey holds the commit counter
	VersionKey = "v"
)

// SubstateDBKey generates the key of a substate.
// Format: 's' + node_id + partition + substate_key
func SubstateDBKey(ref core.SubstateRef) []byte {
	key := PartitionPrefix(ref.Node, ref.Partition)
	return append(key, ref.Key.Bytes()...)
}

// PartitionPrefix generates the prefix shared by all substates of a partition.
// Format: 's' + node_id + partition
func PartitionPrefix(node core.NodeID, partition core.PartitionNumber) []byte {
	key := make([]byte, 0, 2+core.NodeIDLength+8)
	key = append(key, substatePrefix)
	key = append(key, node[:]...)
	return append(key, byte(partition))
}

// ParseSubstateDBKey is the inverse of SubstateDBKey.
func ParseSubstateDBKey(key []byte) (core.SubstateRef, error) {
	var ref core.SubstateRef
	if len(key) < 2+core.NodeIDLength || key[0] != substatePrefix {
		return ref, fmt.Errorf("%w: %x", ErrInvalidStoreKey, key)
	}
	copy(ref.Node[:], key[1:1+core.NodeIDLength])
	ref.Partition = core.PartitionNumber(key[1+core.NodeIDLength])
	sk, err := core.SubstateKeyFromBytes(key[2+core.NodeIDLength:])
	if err != nil {
		return ref, fmt.Errorf("%w: %v", ErrInvalidStoreKey, err)
	}
	ref.Key = sk
	return ref, nil
}

// PrefixRange returns key range that corresponds to the given prefix.
// It returns start (inclusive) and end (exclusive) keys for iteration.
func PrefixRange(prefix []byte) ([]byte, []byte) {
	if len(prefix) == 0 {
		return nil, nil
	}

	end := make([]byte, len(prefix))
	copy(end, prefix)

	// Increment the last byte in the prefix to get the end key
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return prefix, end[:i+1]
		}
	}
	// all bytes are 0xff: no upper bound
	return prefix, nil
}

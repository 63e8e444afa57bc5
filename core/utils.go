package core

import (
	"encoding/hex"
	"strconv"
	"strings"
)

// NodeIDFromString converts a hex string to a NodeID
func NodeIDFromString(s string) (NodeID, error) {
	var id NodeID

	// Remove 0x prefix if present
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")

	if len(s) != NodeIDLength*2 {
		return id, ErrInvalidArgument
	}

	bytes, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}

	copy(id[:], bytes)
	return id, nil
}

// MustNodeID builds a node id from an entity type and a short suffix. It is
// meant for well-known addresses and tests.
func MustNodeID(entity EntityType, suffix ...byte) NodeID {
	var id NodeID
	if len(suffix) > NodeIDLength-1 {
		panic("node id suffix too long")
	}
	id[0] = byte(entity)
	copy(id[NodeIDLength-len(suffix):], suffix)
	return id
}

// SafeParseUint safely parses a string to a uint64
func SafeParseUint(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}

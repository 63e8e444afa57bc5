// Package types contains the value encoding shared by the kernel, the
// executors and contract code. Values are CBOR; ownership and reference
// tokens are CBOR tags so the kernel can find them in otherwise opaque
// payloads.
package types

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"github.com/govm-net/kernel/core"
)

// CBOR tag numbers of the kernel-visible tokens.
const (
	TagOwn       uint64 = 40001
	TagReference uint64 = 40002
	TagResultOwn uint64 = 40003
)

var ErrInvalidPayload = errors.New("invalid payload")

// Own is a move-only ownership token for a node.
type Own core.NodeID

// ID returns the referenced node id
func (o Own) ID() core.NodeID { return core.NodeID(o) }

// Reference is a non-owning token for a node.
type Reference core.NodeID

// ID returns the referenced node id
func (r Reference) ID() core.NodeID { return core.NodeID(r) }

// ResultOwn is a placeholder used in transaction instructions: the Index-th
// Own returned by instruction Instruction.
type ResultOwn struct {
	_           struct{} `cbor:",toarray"`
	Instruction uint64
	Index       uint64
}

var (
	encMode  cbor.EncMode
	decMode  cbor.DecMode
	scanMode cbor.DecMode
	rawMode  cbor.EncMode
)

func init() {
	tags := cbor.NewTagSet()
	opts := cbor.TagOptions{EncTag: cbor.EncTagRequired, DecTag: cbor.DecTagRequired}
	must(tags.Add(opts, reflect.TypeOf(Own{}), TagOwn))
	must(tags.Add(opts, reflect.TypeOf(Reference{}), TagReference))
	must(tags.Add(opts, reflect.TypeOf(ResultOwn{}), TagResultOwn))

	var err error
	encMode, err = cbor.CoreDetEncOptions().EncModeWithTags(tags)
	must(err)
	decMode, err = cbor.DecOptions{}.DecModeWithTags(tags)
	must(err)
	// tags stay as cbor.Tag when scanning into interface values
	scanMode, err = cbor.DecOptions{}.DecMode()
	must(err)
	rawMode, err = cbor.CoreDetEncOptions().EncMode()
	must(err)
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

// Encode serializes a value deterministically.
func Encode(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// MustEncode is Encode for values that cannot fail to encode.
func MustEncode(v any) []byte {
	data, err := Encode(v)
	if err != nil {
		panic(err)
	}
	return data
}

// Decode parses data into v.
func Decode(data []byte, v any) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// Tokens lists the nodes a payload owns and references.
type Tokens struct {
	Owns []core.NodeID
	Refs []core.NodeID
}

// IsEmpty reports whether no token was found
func (t Tokens) IsEmpty() bool {
	return len(t.Owns) == 0 && len(t.Refs) == 0
}

// Scan walks a payload and collects its Own and Reference tokens. A payload
// carrying the same Own twice is rejected. Empty payloads carry no tokens.
func Scan(data []byte) (Tokens, error) {
	var out Tokens
	if len(data) == 0 {
		return out, nil
	}
	var root any
	if err := scanMode.Unmarshal(data, &root); err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	seen := make(map[core.NodeID]struct{})
	err := walk(root, func(tag cbor.Tag) (any, error) {
		switch tag.Number {
		case TagOwn, TagReference:
			id, err := tagNodeID(tag)
			if err != nil {
				return nil, err
			}
			if tag.Number == TagReference {
				out.Refs = append(out.Refs, id)
				return nil, nil
			}
			if _, dup := seen[id]; dup {
				return nil, fmt.Errorf("%w: %s", core.ErrDuplicateOwn, id)
			}
			seen[id] = struct{}{}
			out.Owns = append(out.Owns, id)
		case TagResultOwn:
			return nil, fmt.Errorf("%w: unresolved result placeholder", ErrInvalidPayload)
		}
		return nil, nil
	})
	return out, err
}

// ResolvePlaceholders replaces every ResultOwn tag in the payload using
// resolve and returns the re-encoded payload.
func ResolvePlaceholders(data []byte, resolve func(ResultOwn) (core.NodeID, error)) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	var root any
	if err := scanMode.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	replaced := false
	rewrite := func(tag cbor.Tag) (any, error) {
		if tag.Number != TagResultOwn {
			return nil, nil
		}
		items, ok := tag.Content.([]any)
		if !ok || len(items) != 2 {
			return nil, fmt.Errorf("%w: malformed result placeholder", ErrInvalidPayload)
		}
		instruction, ok1 := items[0].(uint64)
		index, ok2 := items[1].(uint64)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("%w: malformed result placeholder", ErrInvalidPayload)
		}
		id, err := resolve(ResultOwn{Instruction: instruction, Index: index})
		if err != nil {
			return nil, err
		}
		replaced = true
		return cbor.Tag{Number: TagOwn, Content: id[:]}, nil
	}
	root, err := rewriteTree(root, rewrite)
	if err != nil {
		return nil, err
	}
	if !replaced {
		return data, nil
	}
	return rawMode.Marshal(root)
}

func tagNodeID(tag cbor.Tag) (core.NodeID, error) {
	var id core.NodeID
	raw, ok := tag.Content.([]byte)
	if !ok || len(raw) != core.NodeIDLength {
		return id, fmt.Errorf("%w: malformed node token", ErrInvalidPayload)
	}
	copy(id[:], raw)
	return id, nil
}

func walk(v any, visit func(cbor.Tag) (any, error)) error {
	_, err := rewriteTree(v, visit)
	return err
}

// rewriteTree visits tags depth first; a non-nil replacement from fn takes
// the place of the tag.
func rewriteTree(v any, fn func(cbor.Tag) (any, error)) (any, error) {
	switch x := v.(type) {
	case cbor.Tag:
		repl, err := fn(x)
		if err != nil {
			return nil, err
		}
		if repl != nil {
			return repl, nil
		}
		content, err := rewriteTree(x.Content, fn)
		if err != nil {
			return nil, err
		}
		x.Content = content
		return x, nil
	case []any:
		for i := range x {
			item, err := rewriteTree(x[i], fn)
			if err != nil {
				return nil, err
			}
			x[i] = item
		}
		return x, nil
	case map[any]any:
		keys, err := sortedKeys(x)
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			if _, err := rewriteTree(k, fn); err != nil {
				return nil, err
			}
			repl, err := rewriteTree(x[k], fn)
			if err != nil {
				return nil, err
			}
			x[k] = repl
		}
		return x, nil
	}
	return v, nil
}

// sortedKeys orders map keys by their canonical encoding, the order the
// deterministic encoder writes them in.
func sortedKeys(m map[any]any) ([]any, error) {
	type entry struct {
		key     any
		encoded []byte
	}
	entries := make([]entry, 0, len(m))
	for k := range m {
		encoded, err := rawMode.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		entries = append(entries, entry{key: k, encoded: encoded})
	}
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].encoded, entries[j].encoded) < 0
	})
	keys := make([]any, len(entries))
	for i, e := range entries {
		keys[i] = e.key
	}
	return keys, nil
}

package vm

import (
	"fmt"

	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/types"
	"golang.org/x/crypto/blake2b"
)

// Instruction is one call made by the root frame. A function call names
// Package and Blueprint; a method call names Receiver instead. Input may
// carry types.ResultOwn placeholders for nodes returned by earlier
// instructions.
type Instruction struct {
	Package   core.NodeID  `cbor:"1,keyasint,omitempty"`
	Blueprint string       `cbor:"2,keyasint,omitempty"`
	Function  string       `cbor:"3,keyasint"`
	Receiver  *core.NodeID `cbor:"4,keyasint,omitempty"`
	Input     []byte       `cbor:"5,keyasint,omitempty"`
}

// Invocation turns the instruction into a kernel invocation with the
// given (resolved) input.
func (ins Instruction) Invocation(input []byte) core.Invocation {
	inv := core.Invocation{Function: ins.Function, Input: input}
	if ins.Receiver != nil {
		id := *ins.Receiver
		inv.Receiver = &id
		return inv
	}
	inv.Blueprint = core.BlueprintID{Package: ins.Package, Blueprint: ins.Blueprint}
	return inv
}

func (ins Instruction) String() string {
	if ins.Receiver != nil {
		return fmt.Sprintf("%s.%s", *ins.Receiver, ins.Function)
	}
	return fmt.Sprintf("%s::%s::%s", ins.Package, ins.Blueprint, ins.Function)
}

// Transaction is what the engine executes atomically
type Transaction struct {
	Nonce uint64 `cbor:"1,keyasint"`
	// References are the global nodes visible to the root frame
	References   []core.NodeID `cbor:"2,keyasint,omitempty"`
	Instructions []Instruction `cbor:"3,keyasint"`
	// SignatureCount is charged as deferred signature verification cost
	SignatureCount int `cbor:"4,keyasint,omitempty"`
	// TipPercentage and CostUnitLimit override the engine defaults when set
	TipPercentage uint16 `cbor:"5,keyasint,omitempty"`
	CostUnitLimit uint32 `cbor:"6,keyasint,omitempty"`
}

// Encode returns the canonical encoding of the transaction
func (tx *Transaction) Encode() ([]byte, error) {
	return types.Encode(tx)
}

// DecodeTransaction parses an encoded transaction
func DecodeTransaction(data []byte) (*Transaction, error) {
	tx := new(Transaction)
	if err := types.Decode(data, tx); err != nil {
		return nil, fmt.Errorf("invalid transaction: %w", err)
	}
	return tx, nil
}

// Hash is the blake2b-256 digest of the encoded transaction. It seeds node
// id allocation.
func (tx *Transaction) Hash() (core.Hash, error) {
	data, err := tx.Encode()
	if err != nil {
		return core.Hash{}, err
	}
	return core.Hash(blake2b.Sum256(data)), nil
}

// Validate checks the shape of the transaction before anything is charged
func (tx *Transaction) Validate() error {
	if len(tx.Instructions) == 0 {
		return fmt.Errorf("%w: no instructions", core.ErrInvalidArgument)
	}
	if tx.SignatureCount < 0 {
		return fmt.Errorf("%w: negative signature count", core.ErrInvalidArgument)
	}
	for i, ins := range tx.Instructions {
		if ins.Function == "" {
			return fmt.Errorf("%w: instruction %d has no function", core.ErrInvalidArgument, i)
		}
		if ins.Receiver == nil && (ins.Package.IsZero() || ins.Blueprint == "") {
			return fmt.Errorf("%w: instruction %d names neither a receiver nor a blueprint", core.ErrInvalidArgument, i)
		}
	}
	return nil
}

// CallFunction builds a function call instruction with a CBOR encoded argument
func CallFunction(pkg core.NodeID, blueprint, function string, args any) (Instruction, error) {
	input, err := encodeArgs(args)
	if err != nil {
		return Instruction{}, err
	}
	return Instruction{Package: pkg, Blueprint: blueprint, Function: function, Input: input}, nil
}

// CallMethod builds a method call instruction with a CBOR encoded argument
func CallMethod(receiver core.NodeID, function string, args any) (Instruction, error) {
	input, err := encodeArgs(args)
	if err != nil {
		return Instruction{}, err
	}
	return Instruction{Receiver: &receiver, Function: function, Input: input}, nil
}

func encodeArgs(args any) ([]byte, error) {
	if args == nil {
		return nil, nil
	}
	return types.Encode(args)
}

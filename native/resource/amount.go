package resource

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/holiman/uint256"
)

// Amount is a fungible quantity in attos (10^-18 of a unit). It encodes as a
// minimal big-endian CBOR byte string.
type Amount struct {
	v uint256.Int
}

// NewAmount returns an amount of n attos
func NewAmount(n uint64) Amount {
	var a Amount
	a.v.SetUint64(n)
	return a
}

// AmountOf copies a uint256 value into an Amount
func AmountOf(n *uint256.Int) Amount {
	var a Amount
	if n != nil {
		a.v.Set(n)
	}
	return a
}

// Units returns n whole units (n * 10^18 attos)
func Units(n uint64) Amount {
	var a Amount
	a.v.Mul(uint256.NewInt(n), uint256.NewInt(1_000_000_000_000_000_000))
	return a
}

// Int returns a copy of the value
func (a Amount) Int() *uint256.Int {
	return new(uint256.Int).Set(&a.v)
}

func (a Amount) IsZero() bool {
	return a.v.IsZero()
}

func (a Amount) Cmp(b Amount) int {
	return a.v.Cmp(&b.v)
}

// Add returns a+b or an error on overflow
func (a Amount) Add(b Amount) (Amount, error) {
	var out Amount
	if _, overflow := out.v.AddOverflow(&a.v, &b.v); overflow {
		return Amount{}, fmt.Errorf("amount overflow: %s + %s", a, b)
	}
	return out, nil
}

// Sub returns a-b or an error when b > a
func (a Amount) Sub(b Amount) (Amount, error) {
	if a.v.Lt(&b.v) {
		return Amount{}, fmt.Errorf("amount underflow: %s - %s", a, b)
	}
	var out Amount
	out.v.Sub(&a.v, &b.v)
	return out, nil
}

func (a Amount) String() string {
	return a.v.Dec()
}

// MarshalCBOR implements cbor.Marshaler
func (a Amount) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(a.v.Bytes())
}

// UnmarshalCBOR implements cbor.Unmarshaler
func (a *Amount) UnmarshalCBOR(data []byte) error {
	var b []byte
	if err := cbor.Unmarshal(data, &b); err != nil {
		return err
	}
	if len(b) > 32 {
		return fmt.Errorf("amount of %d bytes", len(b))
	}
	a.v.SetBytes(b)
	return nil
}

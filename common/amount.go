package common

import (
	"fmt"

	"github.com/holiman/uint256"
)

// maxAmountBits caps Amount values at 128 bits, matching the balance width
// of the ledger.
const maxAmountBits = 128

// Amount is an unsigned 128-bit integer used for token balances, storage
// deposits and per-byte prices. The zero value is a valid zero amount.
//
// Amount is serialized to JSON as a base-10 string, so values above 2^53 do
// not lose precision in clients.
type Amount struct {
	v uint256.Int
}

// NewAmount returns an Amount holding x.
func NewAmount(x uint64) Amount {
	var a Amount
	a.v.SetUint64(x)
	return a
}

// ParseAmount parses a base-10 string into an Amount.
func ParseAmount(s string) (Amount, error) {
	var a Amount
	if err := a.v.SetFromDecimal(s); err != nil {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if a.v.BitLen() > maxAmountBits {
		return Amount{}, fmt.Errorf("%w: %q exceeds 128 bits", ErrInvalidAmount, s)
	}
	return a, nil
}

// Add returns a+b. Sums that do not fit into 128 bits fail.
func (a Amount) Add(b Amount) (Amount, error) {
	var r Amount
	if _, overflow := r.v.AddOverflow(&a.v, &b.v); overflow || r.v.BitLen() > maxAmountBits {
		return Amount{}, fmt.Errorf("%w: %s + %s", ErrInvalidAmount, a, b)
	}
	return r, nil
}

// Sub returns a-b, failing on underflow.
func (a Amount) Sub(b Amount) (Amount, error) {
	var r Amount
	if _, underflow := r.v.SubOverflow(&a.v, &b.v); underflow {
		return Amount{}, fmt.Errorf("%w: %s - %s underflows", ErrInvalidAmount, a, b)
	}
	return r, nil
}

// MulUint64 returns a*x, failing when the product does not fit into 128 bits.
func (a Amount) MulUint64(x uint64) (Amount, error) {
	var r, m Amount
	m.v.SetUint64(x)
	if _, overflow := r.v.MulOverflow(&a.v, &m.v); overflow || r.v.BitLen() > maxAmountBits {
		return Amount{}, fmt.Errorf("%w: %s * %d", ErrInvalidAmount, a, x)
	}
	return r, nil
}

// Cmp compares a and b: -1 if a < b, 0 if equal, +1 if a > b.
func (a Amount) Cmp(b Amount) int {
	return a.v.Cmp(&b.v)
}

// IsZero reports whether a is zero.
func (a Amount) IsZero() bool {
	return a.v.IsZero()
}

// Uint64 returns the amount as uint64, saturating at math.MaxUint64.
func (a Amount) Uint64() uint64 {
	if !a.v.IsUint64() {
		return ^uint64(0)
	}
	return a.v.Uint64()
}

// String returns the base-10 representation.
func (a Amount) String() string {
	return a.v.Dec()
}

// MarshalJSON encodes the amount as a base-10 JSON string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.v.Dec() + `"`), nil
}

// UnmarshalJSON decodes a base-10 JSON string into a.
func (a *Amount) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("%w: %s is not a string", ErrInvalidAmount, data)
	}
	parsed, err := ParseAmount(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MinAmount returns the smaller of a and b.
func MinAmount(a, b Amount) Amount {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Package fixed provides the unsigned fixed-point integer used for every
// monetary quantity in the engine. Values are 256-bit integers in the
// asset's smallest unit; arithmetic is checked and never wraps.
//
// Amounts cross JSON, SQL and KV boundaries as base-10 strings.
package fixed

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

var (
	// ErrOverflow is returned when a result does not fit in 256 bits.
	ErrOverflow = errors.New("fixed: overflow")

	// ErrUnderflow is returned when a subtraction would go below zero.
	ErrUnderflow = errors.New("fixed: underflow")

	// ErrDivByZero is returned by MulDiv when the divisor is zero.
	ErrDivByZero = errors.New("fixed: division by zero")

	// ErrSyntax is returned when a string is not a plain base-10 integer.
	ErrSyntax = errors.New("fixed: invalid decimal integer")
)

// Amount is an unsigned 256-bit integer. The zero value is 0.
type Amount struct {
	v uint256.Int
}

// Zero is the zero amount.
var Zero = Amount{}

// PricePrecision scales ad unit prices (1e18).
var PricePrecision = Pow10(18)

// New returns an Amount holding n.
func New(n uint64) Amount {
	var a Amount
	a.v.SetUint64(n)
	return a
}

// Pow10 returns 10^n. It panics for n > 77.
func Pow10(n uint) Amount {
	if n > 77 {
		panic(fmt.Sprintf("fixed: 10^%d overflows", n))
	}
	var a Amount
	a.v.Exp(uint256.NewInt(10), uint256.NewInt(uint64(n)))
	return a
}

// Parse reads a base-10 integer string. Signs, spaces, exponents and
// fractions are rejected.
func Parse(s string) (Amount, error) {
	if s == "" || len(s) > 78 {
		return Amount{}, fmt.Errorf("%w: %q", ErrSyntax, s)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return Amount{}, fmt.Errorf("%w: %q", ErrSyntax, s)
		}
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q", ErrOverflow, s)
	}
	return Amount{v: *v}, nil
}

// MustParse is Parse that panics. Intended for constants and tests.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// FromBig converts a non-negative big.Int.
func FromBig(b *big.Int) (Amount, error) {
	if b == nil || b.Sign() < 0 {
		return Amount{}, ErrUnderflow
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return Amount{}, ErrOverflow
	}
	return Amount{v: *v}, nil
}

// Big returns the value as a new big.Int.
func (a Amount) Big() *big.Int { return a.v.ToBig() }

// String returns the base-10 representation.
func (a Amount) String() string { return a.v.Dec() }

// IsZero reports whether a == 0.
func (a Amount) IsZero() bool { return a.v.IsZero() }

// Cmp returns -1, 0 or +1.
func (a Amount) Cmp(b Amount) int { return a.v.Cmp(&b.v) }

// Lt reports a < b.
func (a Amount) Lt(b Amount) bool { return a.v.Lt(&b.v) }

// Gt reports a > b.
func (a Amount) Gt(b Amount) bool { return a.v.Gt(&b.v) }

// Eq reports a == b.
func (a Amount) Eq(b Amount) bool { return a.v.Eq(&b.v) }

// Add returns a+b.
func (a Amount) Add(b Amount) (Amount, error) {
	var r Amount
	if _, overflow := r.v.AddOverflow(&a.v, &b.v); overflow {
		return Amount{}, ErrOverflow
	}
	return r, nil
}

// Sub returns a-b.
func (a Amount) Sub(b Amount) (Amount, error) {
	var r Amount
	if _, underflow := r.v.SubOverflow(&a.v, &b.v); underflow {
		return Amount{}, ErrUnderflow
	}
	return r, nil
}

// Mul returns a*b.
func (a Amount) Mul(b Amount) (Amount, error) {
	var r Amount
	if _, overflow := r.v.MulOverflow(&a.v, &b.v); overflow {
		return Amount{}, ErrOverflow
	}
	return r, nil
}

// MulDiv returns floor(a*b/d) using a 512-bit intermediate product.
func MulDiv(a, b, d Amount) (Amount, error) {
	if d.IsZero() {
		return Amount{}, ErrDivByZero
	}
	var r Amount
	if _, overflow := r.v.MulDivOverflow(&a.v, &b.v, &d.v); overflow {
		return Amount{}, ErrOverflow
	}
	return r, nil
}

// MulDivUp returns ceil(a*b/d).
func MulDivUp(a, b, d Amount) (Amount, error) {
	q, err := MulDiv(a, b, d)
	if err != nil {
		return Amount{}, err
	}
	prod := new(big.Int).Mul(a.Big(), b.Big())
	if new(big.Int).Mod(prod, d.Big()).Sign() == 0 {
		return q, nil
	}
	return q.Add(New(1))
}

// Min returns the smaller of a and b.
func Min(a, b Amount) Amount {
	if a.Lt(b) {
		return a
	}
	return b
}

// Sum adds all values.
func Sum(vals ...Amount) (Amount, error) {
	total := Zero
	for _, v := range vals {
		var err error
		if total, err = total.Add(v); err != nil {
			return Amount{}, err
		}
	}
	return total, nil
}

// MarshalText encodes the amount as a decimal string. Used by JSON too,
// so amounts appear quoted.
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.v.Dec()), nil
}

// UnmarshalText parses a decimal string.
func (a *Amount) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

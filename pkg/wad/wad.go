// Package wad implements deterministic fixed-point arithmetic on 18-decimal
// scaled integers ("WAD") backed by 256-bit unsigned integers.
//
// Every operation returns a freshly allocated result and never mutates its
// inputs. Multiplication and division round toward zero. Any result that
// does not fit in 256 bits, or that would be negative, is reported as an
// error instead of wrapping.
package wad

import (
	"errors"

	"github.com/holiman/uint256"
)

// Decimals is the number of fractional digits carried by a WAD value.
const Decimals = 18

var (
	ErrOverflow       = errors.New("wad: overflow")
	ErrUnderflow      = errors.New("wad: underflow")
	ErrDivisionByZero = errors.New("wad: division by zero")
	ErrDecimals       = errors.New("wad: token decimals out of range")
)

var (
	// One is 1.0 in WAD representation (10^18). Treat it as read-only.
	One = uint256.NewInt(1_000_000_000_000_000_000)

	pow10 = func() [Decimals + 1]*uint256.Int {
		var t [Decimals + 1]*uint256.Int
		t[0] = uint256.NewInt(1)
		for i := 1; i <= Decimals; i++ {
			t[i] = new(uint256.Int).Mul(t[i-1], uint256.NewInt(10))
		}
		return t
	}()
)

// New returns n as a raw 256-bit integer (not scaled).
func New(n uint64) *uint256.Int {
	return uint256.NewInt(n)
}

// FromUnits returns n whole units in WAD representation.
func FromUnits(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), One)
}

// Zero returns a new zero value.
func Zero() *uint256.Int {
	return new(uint256.Int)
}

// Pow10 returns 10^n for n in [0, 18].
func Pow10(n uint8) (*uint256.Int, error) {
	if n > Decimals {
		return nil, ErrDecimals
	}
	return pow10[n].Clone(), nil
}

// ToWad upscales an amount expressed with d decimals into WAD. The
// conversion is exact.
func ToWad(x *uint256.Int, d uint8) (*uint256.Int, error) {
	if d > Decimals {
		return nil, ErrDecimals
	}
	z, overflow := new(uint256.Int).MulOverflow(x, pow10[Decimals-d])
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// FromWad downscales a WAD value to d decimals, truncating toward zero.
// The truncated remainder is the rounding dust of the conversion; callers
// decide which side of a trade keeps it.
func FromWad(x *uint256.Int, d uint8) (*uint256.Int, error) {
	if d > Decimals {
		return nil, ErrDecimals
	}
	return new(uint256.Int).Div(x, pow10[Decimals-d]), nil
}

// Add returns a + b.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// Sub returns a - b, failing with ErrUnderflow when b > a.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, ErrUnderflow
	}
	return z, nil
}

// AbsDiff returns |a - b|.
func AbsDiff(a, b *uint256.Int) *uint256.Int {
	if a.Cmp(b) >= 0 {
		return new(uint256.Int).Sub(a, b)
	}
	return new(uint256.Int).Sub(b, a)
}

// Mul returns floor(a * b / WAD).
func Mul(a, b *uint256.Int) (*uint256.Int, error) {
	return MulDiv(a, b, One)
}

// Div returns floor(a * WAD / b).
func Div(a, b *uint256.Int) (*uint256.Int, error) {
	return MulDiv(a, One, b)
}

// MulDiv returns floor(a * b / c) using a 512-bit intermediate product, so
// only a final result wider than 256 bits overflows.
func MulDiv(a, b, c *uint256.Int) (*uint256.Int, error) {
	if c.IsZero() {
		return nil, ErrDivisionByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(a, b, c)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// MulInt returns a * n for a raw (unscaled) integer factor n.
func MulInt(a *uint256.Int, n uint64) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(a, uint256.NewInt(n))
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// Pow returns x^n in WAD, truncating after every multiplication.
func Pow(x *uint256.Int, n uint) (*uint256.Int, error) {
	z := One.Clone()
	for i := uint(0); i < n; i++ {
		var err error
		if z, err = Mul(z, x); err != nil {
			return nil, err
		}
	}
	return z, nil
}

// Min returns the smaller of a and b.
func Min(a, b *uint256.Int) *uint256.Int {
	if a.Cmp(b) <= 0 {
		return a.Clone()
	}
	return b.Clone()
}

// Clone copies x, mapping nil to nil.
func Clone(x *uint256.Int) *uint256.Int {
	if x == nil {
		return nil
	}
	return x.Clone()
}

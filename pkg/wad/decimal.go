package wad

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

var ErrInvalidDecimal = errors.New("wad: invalid decimal")

// Parse converts a human-readable decimal string such as "0.25" or "1000"
// into its WAD representation. Negative values and values with more than 18
// fractional digits are rejected rather than rounded.
func Parse(s string) (*uint256.Int, error) {
	return ParseUnits(s, Decimals)
}

// ParseUnits converts a decimal string into an integer amount with d
// decimals, e.g. ParseUnits("1.5", 6) == 1_500_000.
func ParseUnits(s string, d uint8) (*uint256.Int, error) {
	if d > Decimals {
		return nil, ErrDecimals
	}
	dec, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidDecimal, s, err)
	}
	if dec.IsNegative() {
		return nil, fmt.Errorf("%w: %q is negative", ErrInvalidDecimal, s)
	}
	shifted := dec.Shift(int32(d))
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("%w: %q has more than %d fractional digits", ErrInvalidDecimal, s, d)
	}
	z, overflow := uint256.FromBig(shifted.BigInt())
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// MustParse is like Parse but panics on error. It is intended for constants
// and tests.
func MustParse(s string) *uint256.Int {
	z, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return z
}

// Format renders a WAD value as a decimal string without trailing zeros.
func Format(x *uint256.Int) string {
	return FormatUnits(x, Decimals)
}

// FormatUnits renders an integer amount with d decimals as a decimal string.
func FormatUnits(x *uint256.Int, d uint8) string {
	if x == nil {
		return "<nil>"
	}
	return decimal.NewFromBigInt(x.ToBig(), -int32(d)).String()
}

// Float64 returns the nearest float64 to a WAD value. It is meant for
// metrics and display only.
func Float64(x *uint256.Int) float64 {
	return decimal.NewFromBigInt(x.ToBig(), -Decimals).InexactFloat64()
}

// FromBig converts a non-negative big integer into a 256-bit value.
func FromBig(b *big.Int) (*uint256.Int, error) {
	if b == nil {
		return nil, ErrInvalidDecimal
	}
	if b.Sign() < 0 {
		return nil, ErrUnderflow
	}
	z, overflow := uint256.FromBig(b)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

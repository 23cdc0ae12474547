package wad

import (
	"errors"

	"github.com/holiman/uint256"
)

// MaxRootDegree bounds the degree accepted by Root.
const MaxRootDegree = 8

// RootRelativeTolerance is the worst-case relative error of Root for any
// positive input. Root returns the exact floor of the fixed-point root, so the
// absolute error is below one wei; the smallest root of a positive WAD input
// is 10^12 wei, which bounds the relative error by 10^-12.
const RootRelativeTolerance = 1e-12

var ErrRootDegree = errors.New("wad: unsupported root degree")

// Cbrt returns the cube root of a WAD value.
func Cbrt(x *uint256.Int) (*uint256.Int, error) {
	return Root(x, 3)
}

// Root returns x^(1/n) in WAD for 2 <= n <= MaxRootDegree.
//
// The WAD root y of x satisfies y^n = x * WAD^(n-1) in raw units, so the
// result is the integer n-th root of that scaled value, found with Newton's
// method from an initial guess above the root.
func Root(x *uint256.Int, n uint) (*uint256.Int, error) {
	if n < 2 || n > MaxRootDegree {
		return nil, ErrRootDegree
	}
	if x.IsZero() {
		return new(uint256.Int), nil
	}
	scale, err := Pow10Raw(uint(Decimals) * (n - 1))
	if err != nil {
		return nil, err
	}
	scaled, overflow := new(uint256.Int).MulOverflow(x, scale)
	if overflow {
		return nil, ErrOverflow
	}
	return intRoot(scaled, n), nil
}

// Pow10Raw returns 10^n as a raw integer.
func Pow10Raw(n uint) (*uint256.Int, error) {
	z := uint256.NewInt(1)
	ten := uint256.NewInt(10)
	for i := uint(0); i < n; i++ {
		var overflow bool
		if z, overflow = z.MulOverflow(z, ten); overflow {
			return nil, ErrOverflow
		}
	}
	return z, nil
}

// intRoot returns floor(v^(1/n)) for v > 0.
func intRoot(v *uint256.Int, n uint) *uint256.Int {
	// 2^ceil(bits/n) is never below the root.
	shift := (uint(v.BitLen()) + n - 1) / n
	y := new(uint256.Int).Lsh(uint256.NewInt(1), shift)

	nn := uint256.NewInt(uint64(n))
	nm1 := uint256.NewInt(uint64(n - 1))
	for {
		// next = ((n-1)*y + v / y^(n-1)) / n
		q := new(uint256.Int)
		if p, ok := rawPow(y, n-1); ok && !p.IsZero() {
			q.Div(v, p)
		}
		next := new(uint256.Int).Mul(nm1, y)
		next.Add(next, q)
		next.Div(next, nn)
		if next.Cmp(y) >= 0 {
			return y
		}
		y = next
	}
}

// rawPow returns y^k on raw integers, reporting false on overflow. An
// overflowing power is larger than any dividend, so callers treat it as a
// zero quotient.
func rawPow(y *uint256.Int, k uint) (*uint256.Int, bool) {
	z := uint256.NewInt(1)
	for i := uint(0); i < k; i++ {
		var overflow bool
		if z, overflow = new(uint256.Int).MulOverflow(z, y); overflow {
			return nil, false
		}
	}
	return z, true
}

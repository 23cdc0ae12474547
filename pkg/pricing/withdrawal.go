package pricing

import (
	"fmt"

	"github.com/Iwinswap/iwinswap-solvency-pool-go/pkg/wad"
	"github.com/holiman/uint256"
)

// Withdrawals smaller than liability / feePrecisionDivisor are priced with
// the first-order expansion of the fee curve. Their exact solve is dominated
// by WAD truncation in the cube root.
var feePrecisionDivisor = uint256.NewInt(10_000_000_000)

// WithdrawalFee returns the fee charged when deltaLiability is withdrawn from
// an asset holding cash against liability. Assets at or above full coverage
// pay no fee.
//
// Below full coverage the post-withdrawal cash a solves
//
//	a = (L - Δ) * (1 - (M*N / (N + (M*L^3 - N) * ((L-Δ)/L)^3))^(1/3))
//	M = (1 - rT)^4, N = (1 - c)^3 * L^3, c = cash / L
//
// Dividing N and the denominator by L^3 gives the form evaluated here,
//
//	ratio = M*N' / (N'*(1 - x^3) + M*x^3),  N' = (1 - c)^3,  x = (L - Δ)/L
//
// whose intermediates stay in [0, 1] and whose denominator is N' at the full
// withdrawal limit x = 0. The fee is Δ - (cash - a).
//
// For Δ below L / 10^10 the fee is its limit as Δ goes to zero,
//
//	fee = Δ * ((1 - c) / (1 - rT))^4
//
// capped at Δ.
func WithdrawalFee(rThres, cash, liability, deltaLiability *uint256.Int) (*uint256.Int, error) {
	if liability.IsZero() {
		return nil, ErrLiabilityZero
	}
	if cash.Cmp(liability) >= 0 {
		return new(uint256.Int), nil
	}
	remaining, err := wad.Sub(liability, deltaLiability)
	if err != nil {
		return nil, err
	}
	if cash.IsZero() {
		// Nothing can be paid out of an empty asset.
		return deltaLiability.Clone(), nil
	}
	oneMinusT, err := wad.Sub(wad.One, rThres)
	if err != nil {
		return nil, err
	}
	// deltaLiability * 10^10 < liability
	if scaled, overflow := new(uint256.Int).MulOverflow(deltaLiability, feePrecisionDivisor); !overflow && scaled.Lt(liability) {
		return linearFee(cash, liability, oneMinusT, deltaLiability)
	}

	coverage, err := wad.Div(cash, liability)
	if err != nil {
		return nil, err
	}
	m, err := wad.Pow(oneMinusT, 4)
	if err != nil {
		return nil, err
	}
	n, err := wad.Pow(new(uint256.Int).Sub(wad.One, coverage), 3)
	if err != nil {
		return nil, err
	}
	if n.IsZero() {
		// Coverage is within 1e-6 of 1; the fee is below WAD precision.
		return new(uint256.Int), nil
	}

	x, err := wad.Div(remaining, liability)
	if err != nil {
		return nil, err
	}
	x3, err := wad.Pow(x, 3)
	if err != nil {
		return nil, err
	}
	left, err := wad.Mul(n, new(uint256.Int).Sub(wad.One, x3))
	if err != nil {
		return nil, err
	}
	right, err := wad.Mul(m, x3)
	if err != nil {
		return nil, err
	}
	den, err := wad.Add(left, right)
	if err != nil {
		return nil, err
	}
	num, err := wad.Mul(m, n)
	if err != nil {
		return nil, err
	}
	ratio, err := wad.Div(num, den)
	if err != nil {
		return nil, err
	}
	root, err := wad.Cbrt(ratio)
	if err != nil {
		return nil, err
	}
	if root.Gt(wad.One) {
		return nil, fmt.Errorf("%w: root %s above one", ErrFeeInvariant, wad.Format(root))
	}
	a, err := wad.Mul(remaining, new(uint256.Int).Sub(wad.One, root))
	if err != nil {
		return nil, err
	}

	if !a.Lt(cash) {
		return nil, fmt.Errorf("%w: post-withdrawal cash %s not below cash %s", ErrFeeInvariant, wad.Format(a), wad.Format(cash))
	}
	deltaCash := new(uint256.Int).Sub(cash, a)
	if !deltaCash.Lt(deltaLiability) {
		return nil, fmt.Errorf("%w: cash delta %s not below liability delta %s", ErrFeeInvariant, wad.Format(deltaCash), wad.Format(deltaLiability))
	}
	return new(uint256.Int).Sub(deltaLiability, deltaCash), nil
}

func linearFee(cash, liability, oneMinusT, deltaLiability *uint256.Int) (*uint256.Int, error) {
	if oneMinusT.IsZero() {
		return deltaLiability.Clone(), nil
	}
	coverage, err := wad.Div(cash, liability)
	if err != nil {
		return nil, err
	}
	q, err := wad.Div(new(uint256.Int).Sub(wad.One, coverage), oneMinusT)
	if err != nil {
		return nil, err
	}
	q4, err := wad.Pow(q, 4)
	if err != nil {
		return nil, err
	}
	fee, err := wad.Mul(deltaLiability, q4)
	if err != nil {
		return nil, err
	}
	return wad.Min(fee, deltaLiability), nil
}

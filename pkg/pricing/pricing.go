// Package pricing holds the stateless solvency-curve mathematics shared by
// every pool variant. All inputs and outputs are WAD values; nothing here
// reads or writes pool state.
//
// The solvency curve prices an asset by how far its coverage ratio
// (cash / liability) has moved below 1. Its integral
//
//	F(r) = (1 - rT)/5 + rT - r              r <= rT
//	F(r) = (1 - r)^5 / (5 * (1 - rT)^4)     rT < r < 1
//	F(r) = 0                                r >= 1
//
// is continuous at r = rT and non-increasing on (0, 1]. The solvency score of
// a cash movement is the average slope of F between the coverage ratios
// before and after the movement.
package pricing

import (
	"errors"

	"github.com/Iwinswap/iwinswap-solvency-pool-go/pkg/wad"
	"github.com/holiman/uint256"
)

var (
	ErrLiabilityZero   = errors.New("pricing: liability is zero")
	ErrTotalSupplyZero = errors.New("pricing: total supply is zero")
	ErrRThresholdZero  = errors.New("pricing: r threshold is zero")
	ErrRatioZero       = errors.New("pricing: coverage ratio is zero")
	ErrPriceZero       = errors.New("pricing: price is zero")

	// ErrFeeInvariant reports an impossible withdrawal-fee solution. It
	// indicates a bug, never bad user input.
	ErrFeeInvariant = errors.New("pricing: withdrawal fee invariant violated")
)

var five = uint256.NewInt(5)

// CoverageRatio returns cash / liability.
func CoverageRatio(cash, liability *uint256.Int) (*uint256.Int, error) {
	if liability.IsZero() {
		return nil, ErrLiabilityZero
	}
	return wad.Div(cash, liability)
}

// LiquidityToTokenAmount converts an LP amount into the share of liability
// it represents: lp * liability / totalSupply.
func LiquidityToTokenAmount(lp, liability, totalSupply *uint256.Int) (*uint256.Int, error) {
	if totalSupply.IsZero() {
		return nil, ErrTotalSupplyZero
	}
	if liability.IsZero() {
		return nil, ErrLiabilityZero
	}
	return wad.MulDiv(lp, liability, totalSupply)
}

// TokenAmountToLiquidity converts a token amount into LP units:
// amount * totalSupply / liability.
func TokenAmountToLiquidity(amount, liability, totalSupply *uint256.Int) (*uint256.Int, error) {
	if totalSupply.IsZero() {
		return nil, ErrTotalSupplyZero
	}
	if liability.IsZero() {
		return nil, ErrLiabilityZero
	}
	return wad.MulDiv(amount, totalSupply, liability)
}

// SolvencyCurveIntegral evaluates F(r) for threshold rThres.
func SolvencyCurveIntegral(rThres, r *uint256.Int) (*uint256.Int, error) {
	if rThres.IsZero() {
		return nil, ErrRThresholdZero
	}
	if r.IsZero() {
		return nil, ErrRatioZero
	}
	switch {
	case r.Cmp(rThres) <= 0:
		return integralLinear(rThres, r)
	case r.Lt(wad.One):
		return integralCurved(rThres, r)
	default:
		return new(uint256.Int), nil
	}
}

// integralLinear is (1 - rT)/5 + rT - r, valid for r <= rT <= 1.
func integralLinear(rThres, r *uint256.Int) (*uint256.Int, error) {
	head, err := wad.Sub(wad.One, rThres)
	if err != nil {
		return nil, err
	}
	head.Div(head, five)
	z, err := wad.Add(head, rThres)
	if err != nil {
		return nil, err
	}
	return wad.Sub(z, r)
}

// integralCurved is (1 - r)^5 / (5 * (1 - rT)^4), valid for rT <= r <= 1.
func integralCurved(rThres, r *uint256.Int) (*uint256.Int, error) {
	oneMinusR, err := wad.Sub(wad.One, r)
	if err != nil {
		return nil, err
	}
	oneMinusT, err := wad.Sub(wad.One, rThres)
	if err != nil {
		return nil, err
	}
	num, err := wad.Pow(oneMinusR, 5)
	if err != nil {
		return nil, err
	}
	den, err := wad.Pow(oneMinusT, 4)
	if err != nil {
		return nil, err
	}
	if den, err = wad.MulInt(den, 5); err != nil {
		return nil, err
	}
	return wad.Div(num, den)
}

// SolvencyScore returns the average slope of F between the coverage ratio
// before and after adding (addCash) or removing cashChange. The score is
// never negative and is exactly zero when the ratio does not move.
func SolvencyScore(rThres, cash, liability, cashChange *uint256.Int, addCash bool) (*uint256.Int, error) {
	if liability.IsZero() {
		return nil, ErrLiabilityZero
	}
	covBefore, err := wad.Div(cash, liability)
	if err != nil {
		return nil, err
	}
	var cashAfter *uint256.Int
	if addCash {
		cashAfter, err = wad.Add(cash, cashChange)
	} else {
		cashAfter, err = wad.Sub(cash, cashChange)
	}
	if err != nil {
		return nil, err
	}
	covAfter, err := wad.Div(cashAfter, liability)
	if err != nil {
		return nil, err
	}
	if covBefore.Eq(covAfter) {
		return new(uint256.Int), nil
	}

	fBefore, err := SolvencyCurveIntegral(rThres, covBefore)
	if err != nil {
		return nil, err
	}
	fAfter, err := SolvencyCurveIntegral(rThres, covAfter)
	if err != nil {
		return nil, err
	}
	return wad.Div(wad.AbsDiff(fAfter, fBefore), wad.AbsDiff(covAfter, covBefore))
}

// ComputeToAmount returns fromAmount * (1 + si - sj), the destination amount
// before fees for a source score si and destination score sj.
func ComputeToAmount(si, sj, fromAmount *uint256.Int) (*uint256.Int, error) {
	factor, err := wad.Add(wad.One, si)
	if err != nil {
		return nil, err
	}
	if factor, err = wad.Sub(factor, sj); err != nil {
		return nil, err
	}
	return wad.Mul(fromAmount, factor)
}

// Haircut returns the swap fee amount * rate.
func Haircut(amount, rate *uint256.Int) (*uint256.Int, error) {
	return wad.Mul(amount, rate)
}

// Dividend returns the share of a haircut credited back to liability:
// amount * (1 - retentionRatio).
func Dividend(amount, retentionRatio *uint256.Int) (*uint256.Int, error) {
	share, err := wad.Sub(wad.One, retentionRatio)
	if err != nil {
		return nil, err
	}
	return wad.Mul(amount, share)
}

// ConvertTokenAmount converts an amount between assets using their relative
// prices: fromAmount * fromPrice / toPrice.
func ConvertTokenAmount(fromAmount, fromPrice, toPrice *uint256.Int) (*uint256.Int, error) {
	if fromPrice.IsZero() || toPrice.IsZero() {
		return nil, ErrPriceZero
	}
	return wad.MulDiv(fromAmount, fromPrice, toPrice)
}

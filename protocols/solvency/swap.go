package solvency

import (
	"context"
	"fmt"
	"time"

	"github.com/Iwinswap/iwinswap-solvency-pool-go/pkg/pricing"
	"github.com/Iwinswap/iwinswap-solvency-pool-go/pkg/wad"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// SwapQuote is the outcome of a swap in destination-token decimals. ToAmount
// is net of Haircut.
type SwapQuote struct {
	ToAmount *uint256.Int
	Haircut  *uint256.Int
}

type swapPlan struct {
	from, to           *Asset
	fromPrice, toPrice *uint256.Int
	// fromWad is credited to from; paidWad is debited from to.
	fromWad  *uint256.Int
	paidWad  *uint256.Int
	dividend *uint256.Int
	quote    SwapQuote
}

// planSwap prices a swap against the current ledgers and checks the
// destination coverage it would leave. It must be called with p.mu held.
func (p *Pool) planSwap(ctx context.Context, from, to common.Address, fromAmount *uint256.Int) (*swapPlan, error) {
	if err := requirePositive(fromAmount); err != nil {
		return nil, err
	}
	fromAsset, toAsset, err := p.pair(from, to)
	if err != nil {
		return nil, err
	}
	fromWad, err := wad.ToWad(fromAmount, fromAsset.decimals)
	if err != nil {
		return nil, err
	}
	fromPrice, err := p.price(ctx, fromAsset)
	if err != nil {
		return nil, err
	}
	toPrice, err := p.price(ctx, toAsset)
	if err != nil {
		return nil, err
	}
	ideal, err := pricing.ConvertTokenAmount(fromWad, fromPrice, toPrice)
	if err != nil {
		return nil, err
	}
	if toAsset.cash.Lt(ideal) {
		return nil, fmt.Errorf("%w: %s holds %s, swap needs %s", ErrInsufficientCash, to.Hex(), wad.Format(toAsset.cash), wad.Format(ideal))
	}

	rThres := p.params.RThreshold
	sFrom, err := pricing.SolvencyScore(rThres, fromAsset.cash, fromAsset.liability, fromWad, true)
	if err != nil {
		return nil, fmt.Errorf("source score: %w", err)
	}
	sTo, err := pricing.SolvencyScore(rThres, toAsset.cash, toAsset.liability, ideal, false)
	if err != nil {
		return nil, fmt.Errorf("destination score: %w", err)
	}
	toWad, err := pricing.ComputeToAmount(sFrom, sTo, ideal)
	if err != nil {
		return nil, err
	}
	haircutWad, err := pricing.Haircut(toWad, p.params.HaircutRate)
	if err != nil {
		return nil, err
	}
	actualWad, err := wad.Sub(toWad, haircutWad)
	if err != nil {
		return nil, err
	}
	dividend, err := pricing.Dividend(haircutWad, p.params.RetentionRatio)
	if err != nil {
		return nil, err
	}

	actual, err := wad.FromWad(actualWad, toAsset.decimals)
	if err != nil {
		return nil, err
	}
	if actual.IsZero() {
		return nil, ErrDustAmount
	}
	haircut, err := wad.FromWad(haircutWad, toAsset.decimals)
	if err != nil {
		return nil, err
	}
	// Only the truncated native amount leaves the ledger.
	paidWad, err := wad.ToWad(actual, toAsset.decimals)
	if err != nil {
		return nil, err
	}
	if toAsset.cash.Lt(paidWad) {
		return nil, fmt.Errorf("%w: %s holds %s, swap pays %s", ErrInsufficientCash, to.Hex(), wad.Format(toAsset.cash), wad.Format(paidWad))
	}

	cashAfter := new(uint256.Int).Sub(toAsset.cash, paidWad)
	liabilityAfter, err := wad.Add(toAsset.liability, dividend)
	if err != nil {
		return nil, err
	}
	if err := requireCoverage(cashAfter, liabilityAfter, rThres); err != nil {
		return nil, err
	}

	return &swapPlan{
		from:      fromAsset,
		to:        toAsset,
		fromPrice: fromPrice,
		toPrice:   toPrice,
		fromWad:   fromWad,
		paidWad:   paidWad,
		dividend:  dividend,
		quote:     SwapQuote{ToAmount: actual, Haircut: haircut},
	}, nil
}

// requireCoverage fails with ErrCoverageTooLow unless cash / liability >= floor.
func requireCoverage(cash, liability, floor *uint256.Int) error {
	cov, err := pricing.CoverageRatio(cash, liability)
	if err != nil {
		return err
	}
	if cov.Lt(floor) {
		return fmt.Errorf("%w: %s < %s", ErrCoverageTooLow, wad.Format(cov), wad.Format(floor))
	}
	return nil
}

// QuoteSwap prices a swap of fromAmount without changing any ledger.
func (p *Pool) QuoteSwap(ctx context.Context, from, to common.Address, fromAmount *uint256.Int) (SwapQuote, error) {
	var q SwapQuote
	err := p.read(ctx, func(ctx context.Context) error {
		plan, err := p.planSwap(ctx, from, to, fromAmount)
		if err != nil {
			return err
		}
		q = plan.quote
		return nil
	})
	return q, err
}

// ValidateSwap is a cheap pre-check: both tokens are registered in the same
// group, the amount is positive and the destination holds the ideal output.
// It skips the curve maths that QuoteSwap runs.
func (p *Pool) ValidateSwap(ctx context.Context, from, to common.Address, fromAmount *uint256.Int) error {
	return p.read(ctx, func(ctx context.Context) error {
		if err := requirePositive(fromAmount); err != nil {
			return err
		}
		fromAsset, toAsset, err := p.pair(from, to)
		if err != nil {
			return err
		}
		fromWad, err := wad.ToWad(fromAmount, fromAsset.decimals)
		if err != nil {
			return err
		}
		fromPrice, err := p.price(ctx, fromAsset)
		if err != nil {
			return err
		}
		toPrice, err := p.price(ctx, toAsset)
		if err != nil {
			return err
		}
		ideal, err := pricing.ConvertTokenAmount(fromWad, fromPrice, toPrice)
		if err != nil {
			return err
		}
		if toAsset.cash.Lt(ideal) {
			return ErrInsufficientCash
		}
		return nil
	})
}

// Swap sells fromAmount of from for to and pays the output to recipient. It
// returns the amount paid and the haircut taken, both in to's decimals.
func (p *Pool) Swap(
	ctx context.Context,
	from, to common.Address,
	fromAmount, minToAmount *uint256.Int,
	recipient common.Address,
	deadline time.Time,
) (*uint256.Int, *uint256.Int, error) {
	var q SwapQuote
	ev := StateEvent{Op: "swap", Token: from, Recipient: recipient}
	err := p.mutate(ctx, ev, func(ctx context.Context, tx *ledgerTx) error {
		if recipient == (common.Address{}) {
			return ErrZeroAddress
		}
		if err := p.checkDeadline(deadline); err != nil {
			return err
		}
		plan, err := p.planSwap(ctx, from, to, fromAmount)
		if err != nil {
			return err
		}
		if plan.quote.ToAmount.Lt(orZero(minToAmount)) {
			return fmt.Errorf("%w: got %s, want %s", ErrSlippage, plan.quote.ToAmount, orZero(minToAmount))
		}

		tx.touch(plan.from)
		tx.touch(plan.to)
		if err := plan.from.addCash(plan.fromWad); err != nil {
			return err
		}
		if err := plan.to.removeCash(plan.paidWad); err != nil {
			return err
		}
		if err := plan.to.addLiability(plan.dividend); err != nil {
			return err
		}
		if err := requireCoverage(plan.to.cash, plan.to.liability, p.params.RThreshold); err != nil {
			return err
		}
		p.recordPrice(tx, plan.from, plan.fromPrice)
		p.recordPrice(tx, plan.to, plan.toPrice)

		if p.custodian != nil {
			if err := p.custodian.Collect(ctx, from, fromAmount); err != nil {
				return fmt.Errorf("collect %s: %w", from.Hex(), err)
			}
			if err := p.custodian.Pay(ctx, to, recipient, plan.quote.ToAmount); err != nil {
				return fmt.Errorf("pay %s: %w", to.Hex(), err)
			}
		}
		q = plan.quote
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return q.ToAmount, q.Haircut, nil
}

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

// WithdrawQuote is the outcome of a withdrawal. Amount and Fee are in the
// paid token's decimals; LiabilityBurned is WAD.
type WithdrawQuote struct {
	Amount          *uint256.Int
	LiabilityBurned *uint256.Int
	Fee             *uint256.Int
}

type withdrawPlan struct {
	asset     *Asset
	liquidity *uint256.Int
	burned    *uint256.Int
	paidWad   *uint256.Int
	quote     WithdrawQuote
}

// planWithdrawal prices burning liquidity of a. Post-checks are left to the
// caller because they differ between Withdraw and WithdrawFromOtherAsset.
func (p *Pool) planWithdrawal(a *Asset, liquidity *uint256.Int) (*withdrawPlan, error) {
	if liquidity.Gt(a.supply) {
		return nil, fmt.Errorf("%w: %s of %s", ErrInsufficientLiquidity, wad.Format(liquidity), wad.Format(a.supply))
	}
	burned, err := pricing.LiquidityToTokenAmount(liquidity, a.liability, a.supply)
	if err != nil {
		return nil, err
	}
	if burned.IsZero() {
		return nil, ErrDustAmount
	}
	// Below the threshold a partial withdrawal can push the fee solve past
	// its invariants. Burning the whole liability always solves to a = 0.
	if !burned.Eq(a.liability) {
		if err := requireCoverage(a.cash, a.liability, p.params.RThreshold); err != nil {
			return nil, err
		}
	}
	feeWad, err := pricing.WithdrawalFee(p.params.RThreshold, a.cash, a.liability, burned)
	if err != nil {
		return nil, err
	}
	amountWad, err := wad.Sub(burned, feeWad)
	if err != nil {
		return nil, err
	}
	amount, err := wad.FromWad(amountWad, a.decimals)
	if err != nil {
		return nil, err
	}
	if amount.IsZero() {
		return nil, ErrDustAmount
	}
	paidWad, err := wad.ToWad(amount, a.decimals)
	if err != nil {
		return nil, err
	}
	if a.cash.Lt(paidWad) {
		return nil, fmt.Errorf("%w: %s holds %s, withdrawal pays %s", ErrInsufficientCash, a.token.Hex(), wad.Format(a.cash), wad.Format(paidWad))
	}
	fee, err := wad.FromWad(feeWad, a.decimals)
	if err != nil {
		return nil, err
	}
	return &withdrawPlan{
		asset:     a,
		liquidity: liquidity,
		burned:    burned,
		paidWad:   paidWad,
		quote:     WithdrawQuote{Amount: amount, LiabilityBurned: burned, Fee: fee},
	}, nil
}

// requireRemainingCoverage checks the threshold after liability is burned.
// Emptying an asset completely leaves no ratio to check.
func (p *Pool) requireRemainingCoverage(cash, liability *uint256.Int) error {
	if liability.IsZero() {
		return nil
	}
	return requireCoverage(cash, liability, p.params.RThreshold)
}

func (p *Pool) planSingleWithdrawal(token common.Address, liquidity *uint256.Int) (*withdrawPlan, error) {
	if err := requirePositive(liquidity); err != nil {
		return nil, err
	}
	a, err := p.asset(token)
	if err != nil {
		return nil, err
	}
	plan, err := p.planWithdrawal(a, liquidity)
	if err != nil {
		return nil, err
	}
	cashAfter := new(uint256.Int).Sub(a.cash, plan.paidWad)
	liabilityAfter := new(uint256.Int).Sub(a.liability, plan.burned)
	if err := p.requireRemainingCoverage(cashAfter, liabilityAfter); err != nil {
		return nil, err
	}
	return plan, nil
}

// QuoteWithdraw prices burning liquidity of token.
func (p *Pool) QuoteWithdraw(ctx context.Context, token common.Address, liquidity *uint256.Int) (WithdrawQuote, error) {
	var q WithdrawQuote
	err := p.read(ctx, func(context.Context) error {
		plan, err := p.planSingleWithdrawal(token, liquidity)
		if err != nil {
			return err
		}
		q = plan.quote
		return nil
	})
	return q, err
}

// Withdraw burns liquidity of token and pays the proceeds, net of the
// withdrawal fee, to recipient.
func (p *Pool) Withdraw(
	ctx context.Context,
	token common.Address,
	liquidity, minAmount *uint256.Int,
	recipient common.Address,
	deadline time.Time,
) (*uint256.Int, error) {
	var amount *uint256.Int
	ev := StateEvent{Op: "withdraw", Token: token, Recipient: recipient}
	err := p.mutate(ctx, ev, func(ctx context.Context, tx *ledgerTx) error {
		if recipient == (common.Address{}) {
			return ErrZeroAddress
		}
		if err := p.checkDeadline(deadline); err != nil {
			return err
		}
		if err := requirePositive(liquidity); err != nil {
			return err
		}
		a, err := p.asset(token)
		if err != nil {
			return err
		}
		plan, err := p.planWithdrawal(a, liquidity)
		if err != nil {
			return err
		}
		if plan.quote.Amount.Lt(orZero(minAmount)) {
			return fmt.Errorf("%w: got %s, want %s", ErrSlippage, plan.quote.Amount, orZero(minAmount))
		}

		tx.touch(a)
		if err := a.burn(liquidity); err != nil {
			return err
		}
		if err := a.removeCash(plan.paidWad); err != nil {
			return err
		}
		if err := a.removeLiability(plan.burned); err != nil {
			return err
		}
		if err := p.requireRemainingCoverage(a.cash, a.liability); err != nil {
			return err
		}

		if p.custodian != nil {
			if err := p.custodian.Pay(ctx, token, recipient, plan.quote.Amount); err != nil {
				return fmt.Errorf("pay %s: %w", token.Hex(), err)
			}
		}
		amount = plan.quote.Amount
		return nil
	})
	if err != nil {
		return nil, err
	}
	return amount, nil
}

type crossPlan struct {
	initial, wanted           *Asset
	initialPrice, wantedPrice *uint256.Int
	liquidity                 *uint256.Int
	// burned is the initial-asset liability released by liquidity.
	burned  *uint256.Int
	paidWad *uint256.Int
	quote   WithdrawQuote
}

// planCrossWithdrawal prices redeeming liquidity of initialToken in the
// wanted token. The initial asset must be under-covered and the wanted asset
// must stay fully covered afterwards.
func (p *Pool) planCrossWithdrawal(ctx context.Context, initialToken, wantedToken common.Address, liquidity *uint256.Int) (*crossPlan, error) {
	if err := requirePositive(liquidity); err != nil {
		return nil, err
	}
	initial, wanted, err := p.pair(initialToken, wantedToken)
	if err != nil {
		return nil, err
	}
	cov, err := initial.Coverage()
	if err != nil {
		return nil, err
	}
	if !cov.Lt(wad.One) {
		return nil, fmt.Errorf("%w: %s is at %s", ErrCoverageTooHigh, initialToken.Hex(), wad.Format(cov))
	}
	if liquidity.Gt(initial.supply) {
		return nil, fmt.Errorf("%w: %s of %s", ErrInsufficientLiquidity, wad.Format(liquidity), wad.Format(initial.supply))
	}
	burned, err := pricing.LiquidityToTokenAmount(liquidity, initial.liability, initial.supply)
	if err != nil {
		return nil, err
	}
	if burned.IsZero() {
		return nil, ErrDustAmount
	}

	initialPrice, err := p.price(ctx, initial)
	if err != nil {
		return nil, err
	}
	wantedPrice, err := p.price(ctx, wanted)
	if err != nil {
		return nil, err
	}
	wantedAmount, err := pricing.ConvertTokenAmount(burned, initialPrice, wantedPrice)
	if err != nil {
		return nil, err
	}
	wantedLiquidity, err := pricing.TokenAmountToLiquidity(wantedAmount, wanted.liability, wanted.supply)
	if err != nil {
		return nil, err
	}
	if wantedLiquidity.IsZero() {
		return nil, ErrDustAmount
	}
	w, err := p.planWithdrawal(wanted, wantedLiquidity)
	if err != nil {
		return nil, err
	}

	// The wanted asset keeps its liability, so only its cash moves.
	cashAfter := new(uint256.Int).Sub(wanted.cash, w.paidWad)
	if err := requireCoverage(cashAfter, wanted.liability, wad.One); err != nil {
		return nil, err
	}

	return &crossPlan{
		initial:      initial,
		wanted:       wanted,
		initialPrice: initialPrice,
		wantedPrice:  wantedPrice,
		liquidity:    liquidity,
		burned:       burned,
		paidWad:      w.paidWad,
		quote:        WithdrawQuote{Amount: w.quote.Amount, LiabilityBurned: burned, Fee: w.quote.Fee},
	}, nil
}

// QuoteWithdrawFromOtherAsset prices redeeming liquidity of initial in wanted.
// LiabilityBurned is the initial asset's liability.
func (p *Pool) QuoteWithdrawFromOtherAsset(ctx context.Context, initial, wanted common.Address, liquidity *uint256.Int) (WithdrawQuote, error) {
	var q WithdrawQuote
	err := p.read(ctx, func(ctx context.Context) error {
		plan, err := p.planCrossWithdrawal(ctx, initial, wanted, liquidity)
		if err != nil {
			return err
		}
		q = plan.quote
		return nil
	})
	return q, err
}

// WithdrawFromOtherAsset burns liquidity of initial and pays the equivalent
// amount of wanted to recipient. It is only allowed while initial is below
// full coverage and as long as wanted stays fully covered.
func (p *Pool) WithdrawFromOtherAsset(
	ctx context.Context,
	initial, wanted common.Address,
	liquidity, minAmount *uint256.Int,
	recipient common.Address,
	deadline time.Time,
) (*uint256.Int, error) {
	var amount *uint256.Int
	ev := StateEvent{Op: "withdrawFromOtherAsset", Token: initial, Recipient: recipient}
	err := p.mutate(ctx, ev, func(ctx context.Context, tx *ledgerTx) error {
		if recipient == (common.Address{}) {
			return ErrZeroAddress
		}
		if err := p.checkDeadline(deadline); err != nil {
			return err
		}
		plan, err := p.planCrossWithdrawal(ctx, initial, wanted, liquidity)
		if err != nil {
			return err
		}
		if plan.quote.Amount.Lt(orZero(minAmount)) {
			return fmt.Errorf("%w: got %s, want %s", ErrSlippage, plan.quote.Amount, orZero(minAmount))
		}

		tx.touch(plan.initial)
		tx.touch(plan.wanted)
		if err := plan.initial.burn(plan.liquidity); err != nil {
			return err
		}
		if err := plan.initial.removeLiability(plan.burned); err != nil {
			return err
		}
		if err := plan.wanted.removeCash(plan.paidWad); err != nil {
			return err
		}
		if err := requireCoverage(plan.wanted.cash, plan.wanted.liability, wad.One); err != nil {
			return err
		}
		p.recordPrice(tx, plan.initial, plan.initialPrice)
		p.recordPrice(tx, plan.wanted, plan.wantedPrice)

		if p.custodian != nil {
			if err := p.custodian.Pay(ctx, wanted, recipient, plan.quote.Amount); err != nil {
				return fmt.Errorf("pay %s: %w", wanted.Hex(), err)
			}
		}
		amount = plan.quote.Amount
		return nil
	})
	if err != nil {
		return nil, err
	}
	return amount, nil
}

// QuoteMaxInitialLiquidityWithdrawable returns the most liquidity of initial
// that can currently be redeemed in wanted: the wanted asset's cash above its
// liability, converted into initial LP units and capped at initial's supply.
// It is zero when initial is fully covered or wanted has no excess cash.
func (p *Pool) QuoteMaxInitialLiquidityWithdrawable(ctx context.Context, initialToken, wantedToken common.Address) (*uint256.Int, error) {
	var out *uint256.Int
	err := p.read(ctx, func(ctx context.Context) error {
		initial, wanted, err := p.pair(initialToken, wantedToken)
		if err != nil {
			return err
		}
		cov, err := initial.Coverage()
		if err != nil {
			return err
		}
		if !cov.Lt(wad.One) || !wanted.cash.Gt(wanted.liability) {
			out = new(uint256.Int)
			return nil
		}
		excess := new(uint256.Int).Sub(wanted.cash, wanted.liability)
		wantedPrice, err := p.price(ctx, wanted)
		if err != nil {
			return err
		}
		initialPrice, err := p.price(ctx, initial)
		if err != nil {
			return err
		}
		initialAmount, err := pricing.ConvertTokenAmount(excess, wantedPrice, initialPrice)
		if err != nil {
			return err
		}
		lp, err := pricing.TokenAmountToLiquidity(initialAmount, initial.liability, initial.supply)
		if err != nil {
			return err
		}
		out = wad.Min(lp, initial.supply)
		return nil
	})
	return out, err
}

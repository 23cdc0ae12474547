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

type depositPlan struct {
	asset     *Asset
	amountWad *uint256.Int
	liquidity *uint256.Int
}

func (p *Pool) planDeposit(token common.Address, amount *uint256.Int) (*depositPlan, error) {
	if err := requirePositive(amount); err != nil {
		return nil, err
	}
	a, err := p.asset(token)
	if err != nil {
		return nil, err
	}
	amountWad, err := wad.ToWad(amount, a.decimals)
	if err != nil {
		return nil, err
	}
	liquidity := amountWad
	if !a.supply.IsZero() {
		if liquidity, err = pricing.TokenAmountToLiquidity(amountWad, a.liability, a.supply); err != nil {
			return nil, err
		}
	}
	if liquidity.IsZero() {
		return nil, ErrDustAmount
	}
	if a.maxSupply != nil {
		supplyAfter, err := wad.Add(a.supply, liquidity)
		if err != nil {
			return nil, err
		}
		if supplyAfter.Gt(a.maxSupply) {
			return nil, fmt.Errorf("%w: %s above %s", ErrMaxSupplyExceeded, wad.Format(supplyAfter), wad.Format(a.maxSupply))
		}
	}
	return &depositPlan{asset: a, amountWad: amountWad, liquidity: liquidity}, nil
}

// QuoteDeposit returns the liquidity a deposit of amount would mint.
func (p *Pool) QuoteDeposit(ctx context.Context, token common.Address, amount *uint256.Int) (*uint256.Int, error) {
	var liquidity *uint256.Int
	err := p.read(ctx, func(context.Context) error {
		plan, err := p.planDeposit(token, amount)
		if err != nil {
			return err
		}
		liquidity = plan.liquidity
		return nil
	})
	return liquidity, err
}

// Deposit adds amount of token to the pool and mints LP liquidity for
// recipient. The minted amount is returned in WAD.
func (p *Pool) Deposit(
	ctx context.Context,
	token common.Address,
	amount *uint256.Int,
	recipient common.Address,
	deadline time.Time,
) (*uint256.Int, error) {
	var liquidity *uint256.Int
	ev := StateEvent{Op: "deposit", Token: token, Recipient: recipient}
	err := p.mutate(ctx, ev, func(ctx context.Context, tx *ledgerTx) error {
		if recipient == (common.Address{}) {
			return ErrZeroAddress
		}
		if err := p.checkDeadline(deadline); err != nil {
			return err
		}
		plan, err := p.planDeposit(token, amount)
		if err != nil {
			return err
		}

		a := tx.touch(plan.asset)
		if err := a.mint(plan.liquidity); err != nil {
			return err
		}
		if err := a.addCash(plan.amountWad); err != nil {
			return err
		}
		if err := a.addLiability(plan.amountWad); err != nil {
			return err
		}

		if p.custodian != nil {
			if err := p.custodian.Collect(ctx, token, amount); err != nil {
				return fmt.Errorf("collect %s: %w", token.Hex(), err)
			}
		}
		liquidity = plan.liquidity
		return nil
	})
	if err != nil {
		return nil, err
	}
	return liquidity, nil
}

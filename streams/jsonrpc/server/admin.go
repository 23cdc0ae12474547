package server

import (
	"context"
	"time"

	"github.com/Iwinswap/iwinswap-solvency-pool-go/protocols/solvency"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// AdminNamespace holds the calls that overwrite mirrored pool state. It is
// only registered when Config.Admin is set.
const AdminNamespace = "poolAdmin"

// PriceSetter records oracle readings.
type PriceSetter interface {
	Set(token common.Address, price *uint256.Int, ts time.Time) error
}

// LedgerStateArgs is a WAD ledger state sent by an indexer.
type LedgerStateArgs struct {
	Cash      *hexutil.Big `json:"cash"`
	Liability *hexutil.Big `json:"liability"`
	Supply    *hexutil.Big `json:"supply"`
}

// ParamsArgs are WAD risk parameters.
type ParamsArgs struct {
	RThreshold     *hexutil.Big `json:"rThreshold"`
	HaircutRate    *hexutil.Big `json:"haircutRate"`
	RetentionRatio *hexutil.Big `json:"retentionRatio"`
}

// AdminAPI is the receiver registered under AdminNamespace.
type AdminAPI struct {
	api    *API
	prices PriceSetter
	now    func() time.Time
}

// SyncAsset overwrites one asset ledger of pool.
func (a *AdminAPI) SyncAsset(ctx context.Context, pool common.Address, tokenRef string, state LedgerStateArgs) (err error) {
	defer a.api.metrics.observe("admin_syncAsset", time.Now(), &err)
	p, err := a.api.lookup(pool)
	if err != nil {
		return err
	}
	t, err := a.api.resolveToken(tokenRef)
	if err != nil {
		return err
	}
	var ls solvency.LedgerState
	if ls.Cash, err = amountArg(state.Cash); err != nil {
		return err
	}
	if ls.Liability, err = amountArg(state.Liability); err != nil {
		return err
	}
	if ls.Supply, err = amountArg(state.Supply); err != nil {
		return err
	}
	if err := p.SyncAsset(ctx, t, ls); err != nil {
		return toRPCError(err)
	}
	a.api.logger.Info("Asset synced", "pool", pool.Hex(), "token", t.Hex())
	return nil
}

// SetParams replaces the risk parameters of pool.
func (a *AdminAPI) SetParams(ctx context.Context, pool common.Address, args ParamsArgs) (err error) {
	defer a.api.metrics.observe("admin_setParams", time.Now(), &err)
	p, err := a.api.lookup(pool)
	if err != nil {
		return err
	}
	var params solvency.Params
	if params.RThreshold, err = amountArg(args.RThreshold); err != nil {
		return err
	}
	if params.HaircutRate, err = amountArg(args.HaircutRate); err != nil {
		return err
	}
	if params.RetentionRatio, err = amountArg(args.RetentionRatio); err != nil {
		return err
	}
	if err := p.SetParams(ctx, params); err != nil {
		return toRPCError(err)
	}
	a.api.logger.Info("Pool parameters updated", "pool", pool.Hex())
	return nil
}

// SetPrice records a WAD price for token, timestamped now.
func (a *AdminAPI) SetPrice(tokenRef string, price *hexutil.Big) (err error) {
	defer a.api.metrics.observe("admin_setPrice", time.Now(), &err)
	if a.prices == nil {
		return invalidParams("no price oracle configured")
	}
	t, err := a.api.resolveToken(tokenRef)
	if err != nil {
		return err
	}
	x, err := amountArg(price)
	if err != nil {
		return err
	}
	if err := a.prices.Set(t, x, a.now()); err != nil {
		return invalidParams("%v", err)
	}
	return nil
}

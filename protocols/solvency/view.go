package solvency

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// AssetView is a JSON snapshot of one asset ledger. Cash, Liability, Supply,
// Price and Coverage are WAD values.
type AssetView struct {
	Token     common.Address `json:"token"`
	Symbol    string         `json:"symbol"`
	Decimals  uint8          `json:"decimals"`
	Group     common.Address `json:"group"`
	Cash      *hexutil.Big   `json:"cash"`
	Liability *hexutil.Big   `json:"liability"`
	Supply    *hexutil.Big   `json:"supply"`
	MaxSupply *hexutil.Big   `json:"maxSupply,omitempty"`
	Price     *hexutil.Big   `json:"price,omitempty"`
	Coverage  *hexutil.Big   `json:"coverage,omitempty"`
}

// PoolView is a JSON snapshot of a pool. Assets are listed in enumeration
// order.
type PoolView struct {
	Address        common.Address `json:"address"`
	RThreshold     *hexutil.Big   `json:"rThreshold"`
	HaircutRate    *hexutil.Big   `json:"haircutRate"`
	RetentionRatio *hexutil.Big   `json:"retentionRatio"`
	// OraclePriced is false for fixed-parity pools.
	OraclePriced bool        `json:"oraclePriced"`
	Assets       []AssetView `json:"assets"`
}

// StateEvent is published after every committed operation.
type StateEvent struct {
	Op        string         `json:"op"`
	Token     common.Address `json:"token"`
	Recipient common.Address `json:"recipient"`
	Pool      PoolView       `json:"pool"`
	At        time.Time      `json:"at"`
}

func toBig(x *uint256.Int) *hexutil.Big {
	if x == nil {
		return nil
	}
	return (*hexutil.Big)(x.ToBig())
}

func viewOf(a *Asset) AssetView {
	v := AssetView{
		Token:     a.token,
		Symbol:    a.symbol,
		Decimals:  a.decimals,
		Group:     a.group,
		Cash:      toBig(a.cash),
		Liability: toBig(a.liability),
		Supply:    toBig(a.supply),
		MaxSupply: toBig(a.maxSupply),
		Price:     toBig(a.price),
	}
	if cov, err := a.Coverage(); err == nil {
		v.Coverage = toBig(cov)
	}
	return v
}

// viewLocked must be called with p.mu held.
func (p *Pool) viewLocked() PoolView {
	v := PoolView{
		Address:        p.address,
		RThreshold:     toBig(p.params.RThreshold),
		HaircutRate:    toBig(p.params.HaircutRate),
		RetentionRatio: toBig(p.params.RetentionRatio),
		OraclePriced:   p.oracle != nil,
		Assets:         make([]AssetView, 0, p.assets.len()),
	}
	for _, a := range p.assets.all {
		v.Assets = append(v.Assets, viewOf(a))
	}
	return v
}

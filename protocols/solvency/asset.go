package solvency

import (
	"fmt"

	"github.com/Iwinswap/iwinswap-solvency-pool-go/pkg/pricing"
	"github.com/Iwinswap/iwinswap-solvency-pool-go/pkg/wad"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// AssetConfig describes a token being registered into a pool.
type AssetConfig struct {
	Token    common.Address
	Symbol   string
	Decimals uint8
	// Group is the aggregate account; swaps and cross-asset withdrawals are
	// only allowed between assets sharing it.
	Group common.Address
	// MaxSupply caps LP supply in WAD. Nil means unbounded.
	MaxSupply *uint256.Int
}

func (c *AssetConfig) validate() error {
	if c.Token == (common.Address{}) {
		return fmt.Errorf("%w: token address is required", ErrInvalidAsset)
	}
	if c.Group == (common.Address{}) {
		return fmt.Errorf("%w: aggregate group is required", ErrInvalidAsset)
	}
	if c.Decimals > wad.Decimals {
		return fmt.Errorf("%w: decimals %d above %d", ErrInvalidAsset, c.Decimals, wad.Decimals)
	}
	return nil
}

// Asset is the ledger of a single registered token. Cash, liability and LP
// supply are WAD values. Only Pool mutates an Asset; the exported accessors
// return copies.
type Asset struct {
	token     common.Address
	symbol    string
	decimals  uint8
	group     common.Address
	cash      *uint256.Int
	liability *uint256.Int
	supply    *uint256.Int
	maxSupply *uint256.Int
	// price is the last oracle reading used by a committed operation. It
	// stays nil in fixed-parity pools.
	price *uint256.Int
}

func newAsset(cfg AssetConfig) *Asset {
	return &Asset{
		token:     cfg.Token,
		symbol:    cfg.Symbol,
		decimals:  cfg.Decimals,
		group:     cfg.Group,
		cash:      new(uint256.Int),
		liability: new(uint256.Int),
		supply:    new(uint256.Int),
		maxSupply: wad.Clone(cfg.MaxSupply),
	}
}

func (a *Asset) Token() common.Address   { return a.token }
func (a *Asset) Symbol() string          { return a.symbol }
func (a *Asset) Decimals() uint8         { return a.decimals }
func (a *Asset) Group() common.Address   { return a.group }
func (a *Asset) Cash() *uint256.Int      { return a.cash.Clone() }
func (a *Asset) Liability() *uint256.Int { return a.liability.Clone() }
func (a *Asset) Supply() *uint256.Int    { return a.supply.Clone() }
func (a *Asset) MaxSupply() *uint256.Int { return wad.Clone(a.maxSupply) }
func (a *Asset) Price() *uint256.Int     { return wad.Clone(a.price) }

// Coverage returns cash / liability.
func (a *Asset) Coverage() (*uint256.Int, error) {
	return pricing.CoverageRatio(a.cash, a.liability)
}

// snapshot returns a copy that shares no mutable state with a.
func (a *Asset) snapshot() Asset {
	s := *a
	s.cash = a.cash.Clone()
	s.liability = a.liability.Clone()
	s.supply = a.supply.Clone()
	s.maxSupply = wad.Clone(a.maxSupply)
	s.price = wad.Clone(a.price)
	return s
}

func (a *Asset) addCash(amount *uint256.Int) error {
	z, err := wad.Add(a.cash, amount)
	if err != nil {
		return err
	}
	a.cash = z
	return nil
}

func (a *Asset) removeCash(amount *uint256.Int) error {
	if amount.Gt(a.cash) {
		return ErrInsufficientCash
	}
	a.cash = new(uint256.Int).Sub(a.cash, amount)
	return nil
}

func (a *Asset) addLiability(amount *uint256.Int) error {
	z, err := wad.Add(a.liability, amount)
	if err != nil {
		return err
	}
	a.liability = z
	return nil
}

func (a *Asset) removeLiability(amount *uint256.Int) error {
	if amount.Gt(a.liability) {
		return ErrInsufficientLiability
	}
	a.liability = new(uint256.Int).Sub(a.liability, amount)
	return nil
}

func (a *Asset) mint(amount *uint256.Int) error {
	z, err := wad.Add(a.supply, amount)
	if err != nil {
		return err
	}
	if a.maxSupply != nil && z.Gt(a.maxSupply) {
		return ErrMaxSupplyExceeded
	}
	a.supply = z
	return nil
}

func (a *Asset) burn(amount *uint256.Int) error {
	if amount.Gt(a.supply) {
		return ErrInsufficientLiquidity
	}
	a.supply = new(uint256.Int).Sub(a.supply, amount)
	return nil
}

func (a *Asset) setPrice(price *uint256.Int) {
	a.price = wad.Clone(price)
}

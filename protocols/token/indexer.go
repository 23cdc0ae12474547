// Package token indexes the tokens a pool deployment knows about.
package token

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// TokenView describes an ERC-20 token.
type TokenView struct {
	ID       uint64         `json:"id"`
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
}

// Indexer builds IndexableTokenSystems.
type Indexer struct{}

// New creates a new Indexer.
func New() *Indexer {
	return &Indexer{}
}

// Index creates an indexed token system from a raw slice of tokens. IDs are
// assigned in slice order starting at 1 when unset.
func (i *Indexer) Index(tokens []TokenView) (*IndexableTokenSystem, error) {
	return NewIndexableTokenSystem(tokens)
}

// IndexableTokenSystem provides fast, indexed access to token data.
type IndexableTokenSystem struct {
	byID      map[uint64]TokenView
	byAddress map[common.Address]TokenView
	bySymbol  map[string]TokenView
	all       []TokenView
}

// NewIndexableTokenSystem creates a new indexed token system from a raw
// slice. Addresses and symbols (case-insensitive) must be unique.
func NewIndexableTokenSystem(tokens []TokenView) (*IndexableTokenSystem, error) {
	its := &IndexableTokenSystem{
		byID:      make(map[uint64]TokenView, len(tokens)),
		byAddress: make(map[common.Address]TokenView, len(tokens)),
		bySymbol:  make(map[string]TokenView, len(tokens)),
		all:       make([]TokenView, 0, len(tokens)),
	}
	for i, t := range tokens {
		if t.ID == 0 {
			t.ID = uint64(i + 1)
		}
		if t.Address == (common.Address{}) {
			return nil, fmt.Errorf("token %q: address is required", t.Symbol)
		}
		if _, ok := its.byAddress[t.Address]; ok {
			return nil, fmt.Errorf("token %s: duplicate address", t.Address.Hex())
		}
		if _, ok := its.byID[t.ID]; ok {
			return nil, fmt.Errorf("token %s: duplicate id %d", t.Address.Hex(), t.ID)
		}
		sym := strings.ToUpper(t.Symbol)
		if sym != "" {
			if _, ok := its.bySymbol[sym]; ok {
				return nil, fmt.Errorf("token %s: duplicate symbol %q", t.Address.Hex(), t.Symbol)
			}
			its.bySymbol[sym] = t
		}
		its.byID[t.ID] = t
		its.byAddress[t.Address] = t
		its.all = append(its.all, t)
	}
	return its, nil
}

// GetByID retrieves a token by its unique ID.
func (its *IndexableTokenSystem) GetByID(id uint64) (TokenView, bool) {
	t, ok := its.byID[id]
	return t, ok
}

// GetByAddress retrieves a token by its contract address.
func (its *IndexableTokenSystem) GetByAddress(address common.Address) (TokenView, bool) {
	t, ok := its.byAddress[address]
	return t, ok
}

// GetBySymbol retrieves a token by symbol, ignoring case.
func (its *IndexableTokenSystem) GetBySymbol(symbol string) (TokenView, bool) {
	t, ok := its.bySymbol[strings.ToUpper(symbol)]
	return t, ok
}

// Resolve accepts either a hex address or a symbol.
func (its *IndexableTokenSystem) Resolve(ref string) (TokenView, bool) {
	if common.IsHexAddress(ref) {
		return its.GetByAddress(common.HexToAddress(ref))
	}
	return its.GetBySymbol(ref)
}

// All returns a defensive copy of the slice of all tokens in the system.
func (its *IndexableTokenSystem) All() []TokenView {
	allCopy := make([]TokenView, len(its.all))
	copy(allCopy, its.all)
	return allCopy
}

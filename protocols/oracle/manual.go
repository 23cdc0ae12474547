// Package oracle provides price sources for oracle-priced pools.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Iwinswap/iwinswap-solvency-pool-go/pkg/wad"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrNoPrice      = errors.New("oracle: no price")
	ErrStalePrice   = errors.New("oracle: stale price")
	ErrInvalidPrice = errors.New("oracle: price must be positive")
)

// Quote is a WAD price of a token in the pool numeraire.
type Quote struct {
	Price     *uint256.Int
	Timestamp time.Time
	Source    string
}

func (q Quote) clone() Quote {
	q.Price = wad.Clone(q.Price)
	return q
}

// Manual is an in-memory oracle fed by Set. Readings older than maxAge are
// refused; a zero maxAge disables the check.
type Manual struct {
	mu     sync.RWMutex
	quotes map[common.Address]Quote
	maxAge time.Duration
	now    func() time.Time
}

// NewManual creates an empty oracle. A nil now defaults to time.Now.
func NewManual(maxAge time.Duration, now func() time.Time) *Manual {
	if now == nil {
		now = time.Now
	}
	return &Manual{
		quotes: make(map[common.Address]Quote),
		maxAge: maxAge,
		now:    now,
	}
}

// Set records price for token observed at ts.
func (m *Manual) Set(token common.Address, price *uint256.Int, ts time.Time) error {
	if price == nil || price.IsZero() {
		return fmt.Errorf("%w: %s", ErrInvalidPrice, token.Hex())
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[token] = Quote{Price: price.Clone(), Timestamp: ts, Source: "manual"}
	return nil
}

// SetDecimal parses a decimal price such as "1.07269" and records it.
func (m *Manual) SetDecimal(token common.Address, price string, ts time.Time) error {
	p, err := wad.Parse(price)
	if err != nil {
		return fmt.Errorf("oracle: %s: %w", token.Hex(), err)
	}
	return m.Set(token, p, ts)
}

// SetMaxAge updates the freshness window.
func (m *Manual) SetMaxAge(maxAge time.Duration) {
	m.mu.Lock()
	m.maxAge = maxAge
	m.mu.Unlock()
}

// Quote returns the stored reading for token without a freshness check.
func (m *Manual) Quote(token common.Address) (Quote, error) {
	m.mu.RLock()
	q, ok := m.quotes[token]
	m.mu.RUnlock()
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrNoPrice, token.Hex())
	}
	return q.clone(), nil
}

// RelativePrice returns the fresh WAD price of token.
func (m *Manual) RelativePrice(ctx context.Context, token common.Address) (*uint256.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	q, ok := m.quotes[token]
	maxAge := m.maxAge
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoPrice, token.Hex())
	}
	if age := m.now().Sub(q.Timestamp); maxAge > 0 && age > maxAge {
		return nil, fmt.Errorf("%w: %s is %s old", ErrStalePrice, token.Hex(), age.Round(time.Second))
	}
	return q.Price.Clone(), nil
}

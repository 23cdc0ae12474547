// Package poolregistry tracks the solvency pools served by a process.
package poolregistry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Iwinswap/iwinswap-solvency-pool-go/protocols/solvency"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrPoolExists  = errors.New("poolregistry: pool already registered")
	ErrPoolUnknown = errors.New("poolregistry: pool not registered")
)

type entry struct {
	view PoolView
	pool *solvency.Pool
}

// Registry indexes pools by ID, key and address. IDs are assigned in
// registration order starting at 1.
type Registry struct {
	mu    sync.RWMutex
	byID  map[uint64]*entry
	byKey map[PoolKey]*entry
	all   []*entry
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		byID:  make(map[uint64]*entry),
		byKey: make(map[PoolKey]*entry),
	}
}

// Add registers p and returns its view.
func (r *Registry) Add(p *solvency.Pool) (PoolView, error) {
	key := AddressToPoolKey(p.Address())
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[key]; ok {
		return PoolView{}, fmt.Errorf("%w: %s", ErrPoolExists, p.Address().Hex())
	}
	e := &entry{
		view: PoolView{
			ID:           uint64(len(r.all) + 1),
			Key:          key,
			Address:      p.Address(),
			OraclePriced: p.OraclePriced(),
		},
		pool: p,
	}
	r.byID[e.view.ID] = e
	r.byKey[key] = e
	r.all = append(r.all, e)
	return e.view, nil
}

// GetByID retrieves a pool by its unique ID.
func (r *Registry) GetByID(id uint64) (*solvency.Pool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return e.pool, true
}

// GetByAddress retrieves a pool by its address.
func (r *Registry) GetByAddress(address common.Address) (*solvency.Pool, bool) {
	return r.GetByPoolKey(AddressToPoolKey(address))
}

// GetByPoolKey retrieves a pool by its PoolKey.
func (r *Registry) GetByPoolKey(key PoolKey) (*solvency.Pool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byKey[key]
	if !ok {
		return nil, false
	}
	return e.pool, true
}

// Lookup is GetByAddress with an error for unknown pools.
func (r *Registry) Lookup(address common.Address) (*solvency.Pool, error) {
	p, ok := r.GetByAddress(address)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolUnknown, address.Hex())
	}
	return p, nil
}

// View returns the registered pools in ID order.
func (r *Registry) View() PoolRegistryView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v := PoolRegistryView{Pools: make([]PoolView, 0, len(r.all))}
	for _, e := range r.all {
		v.Pools = append(v.Pools, e.view)
	}
	return v
}

// All returns the registered pools in ID order.
func (r *Registry) All() []*solvency.Pool {
	return r.pools()
}

func (r *Registry) pools() []*solvency.Pool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*solvency.Pool, 0, len(r.all))
	for _, e := range r.all {
		out = append(out, e.pool)
	}
	return out
}

// PoolsForToken returns the addresses of pools holding a ledger for token.
func (r *Registry) PoolsForToken(ctx context.Context, token common.Address) ([]common.Address, error) {
	var out []common.Address
	for _, p := range r.pools() {
		_, err := p.Asset(ctx, token)
		switch {
		case err == nil:
			out = append(out, p.Address())
		case errors.Is(err, solvency.ErrUnknownAsset):
		default:
			return nil, fmt.Errorf("pool %s: %w", p.Address().Hex(), err)
		}
	}
	return out, nil
}

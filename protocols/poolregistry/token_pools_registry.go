package poolregistry

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// TokenPoolsRegistryView is a bipartite token/pool graph. Adjacency[i] lists
// the indexes into Pools that hold Tokens[i]. Both slices are sorted by
// first appearance in registry order.
type TokenPoolsRegistryView struct {
	Tokens    []common.Address `json:"tokens"`
	Pools     []common.Address `json:"pools"`
	Adjacency [][]int          `json:"adjacency"`
}

// TokenPools builds the token/pool graph from the current pool ledgers.
func (r *Registry) TokenPools(ctx context.Context) (*TokenPoolsRegistryView, error) {
	view := &TokenPoolsRegistryView{}
	tokenIndex := make(map[common.Address]int)
	for pi, p := range r.pools() {
		view.Pools = append(view.Pools, p.Address())
		assets, err := p.Assets(ctx)
		if err != nil {
			return nil, fmt.Errorf("pool %s: %w", p.Address().Hex(), err)
		}
		for _, a := range assets {
			ti, ok := tokenIndex[a.Token]
			if !ok {
				ti = len(view.Tokens)
				tokenIndex[a.Token] = ti
				view.Tokens = append(view.Tokens, a.Token)
				view.Adjacency = append(view.Adjacency, nil)
			}
			view.Adjacency[ti] = append(view.Adjacency[ti], pi)
		}
	}
	return view, nil
}

package solvency

import (
	"github.com/ethereum/go-ethereum/common"
)

// assetSet is a dense slice of ledgers with a token index. Removal moves the
// last asset into the freed slot, so enumeration order is insertion order
// only until the first removal.
type assetSet struct {
	all     []*Asset
	byToken map[common.Address]int
}

func newAssetSet() *assetSet {
	return &assetSet{byToken: make(map[common.Address]int)}
}

func (s *assetSet) get(token common.Address) (*Asset, bool) {
	i, ok := s.byToken[token]
	if !ok {
		return nil, false
	}
	return s.all[i], true
}

func (s *assetSet) add(a *Asset) error {
	if _, ok := s.byToken[a.token]; ok {
		return ErrAssetExists
	}
	s.byToken[a.token] = len(s.all)
	s.all = append(s.all, a)
	return nil
}

// remove deletes token with swap-and-pop.
func (s *assetSet) remove(token common.Address) (*Asset, error) {
	i, ok := s.byToken[token]
	if !ok {
		return nil, ErrUnknownAsset
	}
	removed := s.all[i]
	last := len(s.all) - 1
	if i != last {
		s.all[i] = s.all[last]
		s.byToken[s.all[i].token] = i
	}
	s.all[last] = nil
	s.all = s.all[:last]
	delete(s.byToken, token)
	return removed, nil
}

func (s *assetSet) len() int { return len(s.all) }

// list returns a copy of the slice in enumeration order.
func (s *assetSet) list() []*Asset {
	out := make([]*Asset, len(s.all))
	copy(out, s.all)
	return out
}

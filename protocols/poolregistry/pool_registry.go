package poolregistry

import (
	"github.com/ethereum/go-ethereum/common"
)

// PoolView identifies a registered pool.
type PoolView struct {
	ID           uint64         `json:"id"`
	Key          PoolKey        `json:"key"`
	Address      common.Address `json:"address"`
	OraclePriced bool           `json:"oraclePriced"`
}

// PoolRegistryView is a snapshot of every registered pool in ID order.
type PoolRegistryView struct {
	Pools []PoolView `json:"pools"`
}

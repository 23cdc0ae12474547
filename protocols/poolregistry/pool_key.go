package poolregistry

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var errKeyNotAddress = errors.New("pool key is not an ABI-encoded address")

// PoolKey is a 32-byte pool identifier. Pools deployed at an address store it
// right-aligned after 12 zero bytes, the ABI layout of an address word.
type PoolKey [32]byte

// AddressToPoolKey converts a pool address into its key.
func AddressToPoolKey(addr common.Address) PoolKey {
	var key PoolKey
	copy(key[12:], addr[:])
	return key
}

// HashToPoolKey wraps a bytes32 identifier verbatim.
func HashToPoolKey(h common.Hash) PoolKey {
	return PoolKey(h)
}

// ToAddress returns the address held by an address-shaped key.
func (p PoolKey) ToAddress() (common.Address, error) {
	for _, b := range p[:12] {
		if b != 0 {
			return common.Address{}, errKeyNotAddress
		}
	}
	return common.Address(p[12:]), nil
}

func (p PoolKey) String() string {
	return "0x" + hex.EncodeToString(p[:])
}

// MarshalJSON encodes the key as a 0x-prefixed hex string.
func (p PoolKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON accepts up to 32 hex-encoded bytes, with or without 0x. Short
// inputs fill the key from the front.
func (p *PoolKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return err
	}
	if len(b) > len(p) {
		return errors.New("pool key too long")
	}
	*p = PoolKey{}
	copy(p[:], b)
	return nil
}

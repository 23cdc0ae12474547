package mantle

import (
	"testing"

	"github.com/Iwinswap/iwinswap-solvency-pool-go/pkg/wad"
	"github.com/Iwinswap/iwinswap-solvency-pool-go/protocols/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresets(t *testing.T) {
	tokens, err := token.NewIndexableTokenSystem(Tokens())
	require.NoError(t, err)

	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			p, ok := Lookup(name)
			require.True(t, ok)
			assert.Equal(t, name, p.Name)
			assert.True(t, p.RThreshold.Lt(wad.One))
			require.Len(t, p.Assets, 3)
			for _, a := range p.Assets {
				_, ok := tokens.GetByAddress(a.Token)
				assert.True(t, ok, "unknown token %s", a.Token.Hex())
				assert.Equal(t, p.OraclePriced, a.Price != nil)
				assert.False(t, a.Liability.IsZero())
			}
		})
	}

	_, ok := Lookup("nope")
	assert.False(t, ok)

	// Presets are independent copies.
	a, b := Variant(), Variant()
	a.Assets[1].Price.SetUint64(1)
	assert.Equal(t, wad.MustParse("1.07269"), b.Assets[1].Price)
}

// Package mantle holds the Mantle mainnet deployment of the solvency pools:
// token metadata, pool addresses, risk parameters and a reference ledger
// snapshot used to seed local pools.
package mantle

import (
	"sort"

	"github.com/Iwinswap/iwinswap-solvency-pool-go/pkg/wad"
	"github.com/Iwinswap/iwinswap-solvency-pool-go/protocols/token"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ChainID of Mantle mainnet.
const ChainID = 5000

var (
	USDe  = common.HexToAddress("0x5d3a1Ff2b6BAb83b63cd9AD0787074081a52ef34")
	USDC  = common.HexToAddress("0x09Bc4E0D864854c6aFB6eB9A9cdF58aC190D0dF9")
	USDT  = common.HexToAddress("0x201EBa5CC46D216Ce6DC03F6a759e8E766e956aE")
	CmETH = common.HexToAddress("0xE6829d9a7eE3040e1276Fa75293Bde931859e8fA")
	METH  = common.HexToAddress("0xcDA86A272531e8640cD7F1a92c01839911B90bb0")
	WETH  = common.HexToAddress("0xdEAddEaDdeadDEadDEADDEAddEADDEAddead1111")

	StablePool  = common.HexToAddress("0x3c056E0efaE7218b257868734b1dA7719B41F920")
	VariantPool = common.HexToAddress("0xF95595635D4b09aE4c662069e82CA43012118707")
	Router      = common.HexToAddress("0x06367aDe2EFEEe82C0E27390db4fc2fAE80308b6")

	StableAggregate  = common.HexToAddress("0x7f63b4B1B9177BD064040D4F7ceBEef328f33e20")
	VariantAggregate = common.HexToAddress("0x927348962E7Bf9e156845585Cf858c613D389f4B")
)

// Tokens returns the pool tokens in a fixed order.
func Tokens() []token.TokenView {
	return []token.TokenView{
		{ID: 1, Address: USDe, Symbol: "USDe", Decimals: 18},
		{ID: 2, Address: USDC, Symbol: "USDC", Decimals: 6},
		{ID: 3, Address: USDT, Symbol: "USDT", Decimals: 6},
		{ID: 4, Address: CmETH, Symbol: "cmETH", Decimals: 18},
		{ID: 5, Address: METH, Symbol: "mETH", Decimals: 18},
		{ID: 6, Address: WETH, Symbol: "WETH", Decimals: 18},
	}
}

// AssetPreset is one ledger of a pool. Cash and Liability are WAD; Price is
// nil in fixed-parity pools.
type AssetPreset struct {
	Token     common.Address
	LPAsset   common.Address
	Cash      *uint256.Int
	Liability *uint256.Int
	Price     *uint256.Int
}

// PoolPreset describes a deployed pool.
type PoolPreset struct {
	Name           string
	Address        common.Address
	Group          common.Address
	RThreshold     *uint256.Int
	HaircutRate    *uint256.Int
	RetentionRatio *uint256.Int
	OraclePriced   bool
	Assets         []AssetPreset
}

// Stable is the USDe/USDC/USDT pool at parity.
func Stable() PoolPreset {
	return PoolPreset{
		Name:           "stable",
		Address:        StablePool,
		Group:          StableAggregate,
		RThreshold:     wad.MustParse("0.23"),
		HaircutRate:    wad.MustParse("0.00005"),
		RetentionRatio: wad.MustParse("0.2"),
		Assets: []AssetPreset{
			{
				Token:     USDe,
				LPAsset:   common.HexToAddress("0x362F4D6F539201dB13A7305369a48FaC58960be5"),
				Cash:      uint256.MustFromDecimal("21564039972018040980967"),
				Liability: uint256.MustFromDecimal("24336765812301186559140"),
			},
			{
				Token:     USDC,
				LPAsset:   common.HexToAddress("0xb8Ca9787Cf03c6f1fA6ef207aB93e875F3B84426"),
				Cash:      uint256.MustFromDecimal("21491644533317066991913"),
				Liability: uint256.MustFromDecimal("18717507771725148273016"),
			},
			{
				Token:     USDT,
				LPAsset:   common.HexToAddress("0x6A7D252b807887AfEE870d14C5D7eb25f00A7044"),
				Cash:      uint256.MustFromDecimal("17494532897516387104081"),
				Liability: uint256.MustFromDecimal("17494496221405803482740"),
			},
		},
	}
}

// Variant is the oracle-priced cmETH/mETH/WETH pool, quoted in ETH.
func Variant() PoolPreset {
	lsdPrice := wad.MustParse("1.07269")
	return PoolPreset{
		Name:           "variant",
		Address:        VariantPool,
		Group:          VariantAggregate,
		RThreshold:     wad.MustParse("0.20"),
		HaircutRate:    wad.MustParse("0.00005"),
		RetentionRatio: wad.MustParse("0.2"),
		OraclePriced:   true,
		Assets: []AssetPreset{
			{
				Token:     WETH,
				LPAsset:   common.HexToAddress("0x6d01Ad49e74aa488EB293c1869D4aCDC39359B4b"),
				Cash:      wad.FromUnits(100),
				Liability: wad.FromUnits(100),
				Price:     wad.One.Clone(),
			},
			{
				Token:     CmETH,
				LPAsset:   common.HexToAddress("0x801f29bB8fa066b71bF2f4e1Af34D7E4682cCecc"),
				Cash:      wad.FromUnits(100),
				Liability: wad.FromUnits(100),
				Price:     lsdPrice.Clone(),
			},
			{
				Token:     METH,
				LPAsset:   common.HexToAddress("0x88837Ef995907016C5ca0776693f6B2339A44E35"),
				Cash:      wad.FromUnits(100),
				Liability: wad.FromUnits(100),
				Price:     lsdPrice.Clone(),
			},
		},
	}
}

// Lookup returns the preset called name.
func Lookup(name string) (PoolPreset, bool) {
	switch name {
	case "stable":
		return Stable(), true
	case "variant":
		return Variant(), true
	}
	return PoolPreset{}, false
}

// Names lists the available presets.
func Names() []string {
	names := []string{"stable", "variant"}
	sort.Strings(names)
	return names
}

package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Iwinswap/iwinswap-solvency-pool-go/pkg/chains/mantle"
	"github.com/Iwinswap/iwinswap-solvency-pool-go/pkg/wad"
	"github.com/Iwinswap/iwinswap-solvency-pool-go/protocols/solvency"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	localPool = common.HexToAddress("0x0000000000000000000000000000000000005e11")
	tka       = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	tkb       = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	fixedNow  = time.Unix(1_700_000_000, 0)
)

func testOptions() BuildOptions {
	return BuildOptions{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: prometheus.NewRegistry(),
		Now:     func() time.Time { return fixedNow },
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "poold.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("example file", func(t *testing.T) {
		cfg, err := LoadConfig("testdata/poold.yaml")
		require.NoError(t, err)
		require.NoError(t, cfg.Validate())

		assert.Equal(t, "127.0.0.1:8645", cfg.ListenAddr)
		assert.True(t, cfg.Admin)
		assert.Equal(t, 5*time.Minute, cfg.OracleMaxAge)
		assert.Equal(t, []string{"stable"}, cfg.Presets)
		require.Len(t, cfg.Tokens, 2)
		assert.Equal(t, uint8(6), cfg.Tokens[1].Decimals)
		require.Len(t, cfg.Pools, 1)
		assert.Equal(t, "0.0003", cfg.Pools[0].HaircutRate)
		assert.Equal(t, "5000", cfg.Pools[0].Assets[1].MaxSupply)
	})

	t.Run("unknown keys are rejected", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "listen_addr: \":1\"\nlisten_adr: \":2\"\n"))
		assert.ErrorContains(t, err, "listen_adr")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := LoadConfig("testdata/poold.yaml")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"listen address", func(c *Config) { c.ListenAddr = "" }, "listen_addr is required"},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, `unknown log_level "loud"`},
		{"negative max age", func(c *Config) { c.OracleMaxAge = -time.Second }, "oracle_max_age must not be negative"},
		{"nothing to serve", func(c *Config) { c.Presets, c.Pools = nil, nil }, "at least one preset or pool is required"},
		{"unknown preset", func(c *Config) { c.Presets = []string{"degen"} }, `unknown preset "degen" (have stable, variant)`},
		{"token address", func(c *Config) { c.Tokens[0].Address = "0x1" }, `tokens[0]: invalid address "0x1"`},
		{"token decimals", func(c *Config) { c.Tokens[0].Decimals = 19 }, "tokens[0]: decimals 19 above 18"},
		{"pool address", func(c *Config) { c.Pools[0].Address = "pool" }, `pools[0]: invalid address "pool"`},
		{"pool group", func(c *Config) { c.Pools[0].Group = "" }, `pools[0]: invalid group ""`},
		{"rate", func(c *Config) { c.Pools[0].HaircutRate = "-1" }, "pools[0]: haircut_rate: wad: invalid decimal"},
		{"no assets", func(c *Config) { c.Pools[0].Assets = nil }, "pools[0]: at least one asset is required"},
		{"asset token", func(c *Config) { c.Pools[0].Assets[0].Token = "" }, "pools[0]: assets[0]: token is required"},
		{"oracle price", func(c *Config) { c.Pools[0].OraclePriced = true }, "pools[0]: assets[0]: oracle-priced pools need a price"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}

	t.Run("errors are joined", func(t *testing.T) {
		cfg := valid()
		cfg.ListenAddr = ""
		cfg.LogLevel = "loud"
		err := cfg.Validate()
		assert.ErrorContains(t, err, "listen_addr is required")
		assert.ErrorContains(t, err, "unknown log_level")
	})
}

func TestBuild(t *testing.T) {
	ctx := context.Background()

	t.Run("example file", func(t *testing.T) {
		cfg, err := LoadConfig("testdata/poold.yaml")
		require.NoError(t, err)
		opts := testOptions()
		d, err := Build(ctx, cfg, opts)
		require.NoError(t, err)

		require.Len(t, d.Pools, 2)
		assert.Len(t, d.Tokens.All(), len(mantle.Tokens())+2)
		view := d.Registry.View()
		assert.Equal(t, mantle.StablePool, view.Pools[0].Address)
		assert.Equal(t, localPool, view.Pools[1].Address)

		stable, err := d.Registry.Lookup(mantle.StablePool)
		require.NoError(t, err)
		usdc, err := stable.Asset(ctx, mantle.USDC)
		require.NoError(t, err)
		assert.Equal(t, "USDC", usdc.Symbol)
		assert.Equal(t, uint8(6), usdc.Decimals)
		assert.Equal(t, usdc.Liability, usdc.Supply)
		assert.Equal(t, mantle.StableAggregate, usdc.Group)

		local, err := d.Registry.Lookup(localPool)
		require.NoError(t, err)
		b, err := local.Asset(ctx, tkb)
		require.NoError(t, err)
		assert.Equal(t, wad.FromUnits(800), uint256.MustFromBig(b.Cash.ToInt()))
		assert.Equal(t, wad.FromUnits(1000), uint256.MustFromBig(b.Supply.ToInt()))
		assert.Equal(t, wad.FromUnits(5000), uint256.MustFromBig(b.MaxSupply.ToInt()))
		assert.Equal(t, common.HexToAddress("0x0000000000000000000000000000000000009a9a"), b.Group)

		q, err := local.QuoteSwap(ctx, tka, tkb, wad.FromUnits(10))
		require.NoError(t, err)
		assert.False(t, q.ToAmount.IsZero())

		// Both pools report into the shared registry under their own label.
		n, err := testutil.GatherAndCount(opts.Metrics.(prometheus.Gatherer), "solvency_pool_asset_coverage_ratio")
		require.NoError(t, err)
		assert.Equal(t, 5, n)
	})

	t.Run("oracle-priced preset", func(t *testing.T) {
		d, err := Build(ctx, &Config{ListenAddr: ":0", Presets: []string{"variant"}, OracleMaxAge: time.Minute}, testOptions())
		require.NoError(t, err)
		require.Len(t, d.Pools, 1)
		p := d.Pools[0]
		assert.True(t, p.OraclePriced())

		price, err := d.Oracle.RelativePrice(ctx, mantle.CmETH)
		require.NoError(t, err)
		assert.Equal(t, wad.MustParse("1.07269"), price)

		// One cmETH buys more than one WETH.
		q, err := p.QuoteSwap(ctx, mantle.CmETH, mantle.WETH, wad.One)
		require.NoError(t, err)
		assert.True(t, q.ToAmount.Gt(wad.One), "got %s", wad.Format(q.ToAmount))
	})

	t.Run("unknown token", func(t *testing.T) {
		cfg, err := LoadConfig("testdata/poold.yaml")
		require.NoError(t, err)
		cfg.Pools[0].Assets[0].Token = "NOPE"
		_, err = Build(ctx, cfg, testOptions())
		assert.ErrorContains(t, err, `unknown token "NOPE"`)
	})

	t.Run("supply above max supply", func(t *testing.T) {
		cfg, err := LoadConfig("testdata/poold.yaml")
		require.NoError(t, err)
		cfg.Pools[0].Assets[1].MaxSupply = "10"
		_, err = Build(ctx, cfg, testOptions())
		assert.ErrorIs(t, err, solvency.ErrMaxSupplyExceeded)
	})

	t.Run("duplicate pool", func(t *testing.T) {
		cfg := &Config{ListenAddr: ":0", Presets: []string{"stable", "stable"}}
		_, err := Build(ctx, cfg, testOptions())
		assert.ErrorContains(t, err, "duplicate pool")
	})
}

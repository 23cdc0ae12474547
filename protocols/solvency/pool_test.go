package solvency

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Iwinswap/iwinswap-solvency-pool-go/pkg/pricing"
	"github.com/Iwinswap/iwinswap-solvency-pool-go/pkg/wad"
	"github.com/Iwinswap/iwinswap-solvency-pool-go/protocols/oracle"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var (
	poolAddr = common.HexToAddress("0x3c056E0efaE7218b257868734b1dA7719B41F920")
	groupX   = common.HexToAddress("0x7f63b4B1B9177BD064040D4F7ceBEef328f33e20")
	groupY   = common.HexToAddress("0x927348962E7Bf9e156845585Cf858c613D389f4B")
	tokenA   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	tokenB   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	tokenC   = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	tokenD   = common.HexToAddress("0x00000000000000000000000000000000000000d4")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000a11ce")

	fixedNow = time.Unix(1_700_000_000, 0)
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func params(rThres, haircut, retention string) Params {
	return Params{
		RThreshold:     wad.MustParse(rThres),
		HaircutRate:    wad.MustParse(haircut),
		RetentionRatio: wad.MustParse(retention),
	}
}

func defaultParams() Params { return params("0.25", "0.0003", "1") }

func units(s string, d uint8) *uint256.Int {
	v, err := wad.ParseUnits(s, d)
	if err != nil {
		panic(err)
	}
	return v
}

func u256(h *hexutil.Big) *uint256.Int {
	if h == nil {
		return nil
	}
	return uint256.MustFromBig(h.ToInt())
}

func newTestPool(t *testing.T, p Params, opts ...func(*Config)) *Pool {
	t.Helper()
	cfg := Config{
		Address:  poolAddr,
		Params:   p,
		Logger:   testLogger(),
		Registry: prometheus.NewRegistry(),
		Now:      func() time.Time { return fixedNow },
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	pool, err := NewPool(cfg)
	require.NoError(t, err)
	return pool
}

// seed registers token in group and overwrites its ledger with WAD values.
func seed(t *testing.T, p *Pool, token, group common.Address, symbol string, decimals uint8, cash, liability, supply string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, p.RegisterAsset(ctx, AssetConfig{Token: token, Symbol: symbol, Decimals: decimals, Group: group}))
	require.NoError(t, p.SyncAsset(ctx, token, LedgerState{
		Cash:      wad.MustParse(cash),
		Liability: wad.MustParse(liability),
		Supply:    wad.MustParse(supply),
	}))
}

func ledger(t *testing.T, p *Pool, token common.Address) AssetView {
	t.Helper()
	v, err := p.Asset(context.Background(), token)
	require.NoError(t, err)
	return v
}

type transfer struct {
	token, to common.Address
	amount    *uint256.Int
}

// fakeCustodian records transfers and can fail or call back into a pool.
type fakeCustodian struct {
	mu        sync.Mutex
	collected []transfer
	paid      []transfer
	payErr    error
	onCollect func(ctx context.Context) error
}

func (c *fakeCustodian) Collect(ctx context.Context, token common.Address, amount *uint256.Int) error {
	if c.onCollect != nil {
		if err := c.onCollect(ctx); err != nil {
			return err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collected = append(c.collected, transfer{token: token, amount: amount.Clone()})
	return nil
}

func (c *fakeCustodian) Pay(ctx context.Context, token, to common.Address, amount *uint256.Int) error {
	if c.payErr != nil {
		return c.payErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paid = append(c.paid, transfer{token: token, to: to, amount: amount.Clone()})
	return nil
}

type fakeOracle struct {
	prices  map[common.Address]*uint256.Int
	err     error
	onPrice func(ctx context.Context) error
}

func (o *fakeOracle) RelativePrice(ctx context.Context, token common.Address) (*uint256.Int, error) {
	if o.onPrice != nil {
		if err := o.onPrice(ctx); err != nil {
			return nil, err
		}
	}
	if o.err != nil {
		return nil, o.err
	}
	p, ok := o.prices[token]
	if !ok {
		return nil, fmt.Errorf("no price for %s", token.Hex())
	}
	return p, nil
}

func TestNewPool(t *testing.T) {
	t.Run("should fail if Address is missing", func(t *testing.T) {
		_, err := NewPool(Config{Params: defaultParams(), Logger: testLogger()})
		assert.EqualError(t, err, "config: Address is required")
	})

	t.Run("should fail if Logger is missing", func(t *testing.T) {
		_, err := NewPool(Config{Address: poolAddr, Params: defaultParams()})
		assert.EqualError(t, err, "config: Logger is required")
	})

	t.Run("should reject invalid params", func(t *testing.T) {
		for name, p := range map[string]Params{
			"missing":          {},
			"zero threshold":   params("0", "0.0003", "1"),
			"threshold above1": params("1.1", "0.0003", "1"),
			"haircut above1":   params("0.25", "1.5", "1"),
			"retention above1": params("0.25", "0.0003", "2"),
		} {
			_, err := NewPool(Config{Address: poolAddr, Params: p, Logger: testLogger()})
			assert.ErrorIs(t, err, ErrInvalidParams, name)
		}
	})

	t.Run("should build with a private registry", func(t *testing.T) {
		p, err := NewPool(Config{Address: poolAddr, Params: defaultParams(), Logger: testLogger()})
		require.NoError(t, err)
		assert.Equal(t, poolAddr, p.Address())
		assert.False(t, p.OraclePriced())
		assert.Equal(t, wad.MustParse("0.25"), p.Params().RThreshold)
	})

	t.Run("two pools can share a registry", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		_, err := NewPool(Config{Address: poolAddr, Params: defaultParams(), Logger: testLogger(), Registry: reg})
		require.NoError(t, err)
		_, err = NewPool(Config{Address: groupX, Params: defaultParams(), Logger: testLogger(), Registry: reg})
		require.NoError(t, err)
	})
}

func TestRegisterAsset(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, defaultParams())

	require.NoError(t, p.RegisterAsset(ctx, AssetConfig{Token: tokenA, Symbol: "A", Decimals: 18, Group: groupX}))

	err := p.RegisterAsset(ctx, AssetConfig{Token: tokenA, Symbol: "A", Decimals: 18, Group: groupX})
	assert.ErrorIs(t, err, ErrAssetExists)

	err = p.RegisterAsset(ctx, AssetConfig{Token: tokenB, Decimals: 18})
	assert.ErrorIs(t, err, ErrInvalidAsset)

	err = p.RegisterAsset(ctx, AssetConfig{Token: tokenB, Decimals: 19, Group: groupX})
	assert.ErrorIs(t, err, ErrInvalidAsset)
	assert.Equal(t, KindValidation, KindOf(err))

	v := ledger(t, p, tokenA)
	assert.Equal(t, "A", v.Symbol)
	assert.Equal(t, uint256.NewInt(0), u256(v.Cash))
	assert.Nil(t, v.Coverage, "coverage is undefined without liability")

	_, err = p.Asset(ctx, tokenB)
	assert.ErrorIs(t, err, ErrUnknownAsset)
}

func TestRemoveAssetReordersAssets(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, defaultParams())
	for _, tok := range []common.Address{tokenA, tokenB, tokenC, tokenD} {
		require.NoError(t, p.RegisterAsset(ctx, AssetConfig{Token: tok, Decimals: 18, Group: groupX}))
	}

	require.NoError(t, p.RemoveAsset(ctx, tokenB))

	views, err := p.Assets(ctx)
	require.NoError(t, err)
	var order []common.Address
	for _, v := range views {
		order = append(order, v.Token)
	}
	assert.Equal(t, []common.Address{tokenA, tokenD, tokenC}, order)

	assert.ErrorIs(t, p.RemoveAsset(ctx, tokenB), ErrUnknownAsset)

	// The moved asset is still addressable by token.
	assert.Equal(t, tokenD, ledger(t, p, tokenD).Token)
}

func TestSetParams(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, defaultParams())

	err := p.SetParams(ctx, params("0", "0", "0"))
	assert.ErrorIs(t, err, ErrInvalidParams)
	assert.Equal(t, wad.MustParse("0.25"), p.Params().RThreshold)

	require.NoError(t, p.SetParams(ctx, params("0.23", "0.00005", "0.2")))
	got := p.Params()
	assert.Equal(t, wad.MustParse("0.23"), got.RThreshold)
	assert.Equal(t, wad.MustParse("0.00005"), got.HaircutRate)

	// Params returns a copy.
	got.RThreshold.SetUint64(1)
	assert.Equal(t, wad.MustParse("0.23"), p.Params().RThreshold)
}

func TestSyncAsset(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, defaultParams())
	require.NoError(t, p.RegisterAsset(ctx, AssetConfig{Token: tokenA, Decimals: 18, Group: groupX, MaxSupply: wad.FromUnits(10)}))

	err := p.SyncAsset(ctx, tokenA, LedgerState{Cash: wad.One})
	assert.ErrorIs(t, err, ErrInvalidAsset)

	err = p.SyncAsset(ctx, tokenA, LedgerState{Cash: wad.One, Liability: wad.One, Supply: wad.FromUnits(11)})
	assert.ErrorIs(t, err, ErrMaxSupplyExceeded)

	err = p.SyncAsset(ctx, tokenB, LedgerState{Cash: wad.One, Liability: wad.One, Supply: wad.One})
	assert.ErrorIs(t, err, ErrUnknownAsset)

	require.NoError(t, p.SyncAsset(ctx, tokenA, LedgerState{Cash: wad.FromUnits(4), Liability: wad.FromUnits(5), Supply: wad.FromUnits(5)}))
	v := ledger(t, p, tokenA)
	assert.Equal(t, wad.MustParse("0.8"), u256(v.Coverage))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"sentinel", ErrSameToken, KindValidation},
		{"wrapped sentinel", fmt.Errorf("swap: %w", ErrSlippage), KindSolvency},
		{"price", fmt.Errorf("%w: x: %w", ErrPriceUnavailable, errors.New("down")), KindPrice},
		{"pricing price", pricing.ErrPriceZero, KindPrice},
		{"stale oracle", oracle.ErrStalePrice, KindPrice},
		{"fee invariant", fmt.Errorf("fee: %w", pricing.ErrFeeInvariant), KindInternal},
		{"ratio zero", pricing.ErrRatioZero, KindArithmetic},
		{"overflow", wad.ErrOverflow, KindArithmetic},
		{"context", context.Canceled, KindUnknown},
		{"foreign", errors.New("boom"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
	assert.Equal(t, "internal", KindInternal.String())
	assert.Equal(t, "unknown", Kind(99).String())
}

func TestReentrancy(t *testing.T) {
	ctx := context.Background()
	custodian := &fakeCustodian{}
	p := newTestPool(t, defaultParams(), func(c *Config) { c.Custodian = custodian })
	seed(t, p, tokenA, groupX, "A", 18, "1000", "1000", "1000")
	seed(t, p, tokenB, groupX, "B", 18, "1000", "1000", "1000")
	before, err := p.Snapshot(ctx)
	require.NoError(t, err)

	var inner error
	custodian.onCollect = func(ctx context.Context) error {
		_, inner = p.QuoteSwap(ctx, tokenA, tokenB, wad.One)
		return inner
	}

	_, err = p.Deposit(ctx, tokenA, wad.One, alice, time.Time{})
	assert.ErrorIs(t, err, ErrReentrant)
	assert.ErrorIs(t, inner, ErrReentrant)

	after, err := p.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	t.Run("an oracle calling back with its context is rejected", func(t *testing.T) {
		oracle := &fakeOracle{prices: map[common.Address]*uint256.Int{tokenA: wad.One, tokenB: wad.One}}
		p := newTestPool(t, defaultParams(), func(c *Config) { c.Oracle = oracle })
		seed(t, p, tokenA, groupX, "A", 18, "1000", "1000", "1000")
		seed(t, p, tokenB, groupX, "B", 18, "1000", "1000", "1000")

		var inner error
		oracle.onPrice = func(ctx context.Context) error {
			_, inner = p.Snapshot(ctx)
			return inner
		}
		_, _, err := p.Swap(ctx, tokenA, tokenB, wad.One, nil, alice, time.Time{})
		assert.ErrorIs(t, err, ErrReentrant)
		assert.ErrorIs(t, inner, ErrReentrant)
	})

	t.Run("a cancelled context is rejected before locking", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := p.QuoteSwap(cctx, tokenA, tokenB, wad.One)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestSubscribe(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, defaultParams())
	seed(t, p, tokenA, groupX, "A", 18, "0", "0", "0")

	ch := make(chan StateEvent, 4)
	sub := p.Subscribe(ch)
	defer sub.Unsubscribe()

	_, err := p.Deposit(ctx, tokenA, wad.FromUnits(100), alice, time.Time{})
	require.NoError(t, err)

	select {
	case ev := <-ch:
		assert.Equal(t, "deposit", ev.Op)
		assert.Equal(t, tokenA, ev.Token)
		assert.Equal(t, alice, ev.Recipient)
		assert.Equal(t, fixedNow, ev.At)
		require.Len(t, ev.Pool.Assets, 1)
		assert.Equal(t, wad.FromUnits(100), u256(ev.Pool.Assets[0].Cash))
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}

	// Rejected operations publish nothing.
	_, err = p.Deposit(ctx, tokenA, wad.Zero(), alice, time.Time{})
	require.ErrorIs(t, err, ErrZeroAmount)
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %q", ev.Op)
	default:
	}
}

func TestSubscribeOrdersConcurrentCommits(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, defaultParams())
	seed(t, p, tokenA, groupX, "A", 18, "1000", "1000", "1000")
	seed(t, p, tokenB, groupX, "B", 18, "1000", "1000", "1000")

	const n = 32
	ch := make(chan StateEvent, n)
	sub := p.Subscribe(ch)
	defer sub.Unsubscribe()

	var g errgroup.Group
	for range n {
		g.Go(func() error {
			_, _, err := p.Swap(ctx, tokenA, tokenB, wad.One, nil, alice, time.Time{})
			return err
		})
	}
	require.NoError(t, g.Wait())
	require.Len(t, ch, n)

	// Every swap adds one A, so the i-th event must show 1000+i+1 A.
	var last PoolView
	for i := range n {
		ev := <-ch
		require.Len(t, ev.Pool.Assets, 2)
		assert.Equal(t, wad.FromUnits(uint64(1000+i+1)), u256(ev.Pool.Assets[0].Cash), "event %d", i)
		last = ev.Pool
	}
	snap, err := p.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap, last)
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	p := newTestPool(t, defaultParams(), func(c *Config) { c.Registry = reg })
	seed(t, p, tokenA, groupX, "A", 18, "1000", "1000", "1000")
	seed(t, p, tokenB, groupX, "B", 6, "1000", "1000", "1000")

	_, _, err := p.Swap(ctx, tokenA, tokenB, wad.FromUnits(100), nil, alice, time.Time{})
	require.NoError(t, err)
	_, _, err = p.Swap(ctx, tokenA, tokenA, wad.FromUnits(1), nil, alice, time.Time{})
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.opsTotal.WithLabelValues("swap", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.opsTotal.WithLabelValues("swap", "validation")))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.metrics.opsTotal.WithLabelValues("syncAsset", "ok")))
	assert.InDelta(t, 0.90003632, testutil.ToFloat64(p.metrics.coverage.WithLabelValues(tokenB.Hex(), "B")), 1e-9)
	assert.InDelta(t, 1.1, testutil.ToFloat64(p.metrics.coverage.WithLabelValues(tokenA.Hex(), "A")), 1e-9)

	count, err := testutil.GatherAndCount(reg, "solvency_pool_asset_coverage_ratio")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, p.RemoveAsset(ctx, tokenB))
	count, err = testutil.GatherAndCount(reg, "solvency_pool_asset_coverage_ratio")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestConcurrentSwapsAndQuotes(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, defaultParams())
	seed(t, p, tokenA, groupX, "A", 18, "1000", "1000", "1000")
	seed(t, p, tokenB, groupX, "B", 6, "1000", "1000", "1000")

	const n = 20
	var g errgroup.Group
	for range n {
		g.Go(func() error {
			_, _, err := p.Swap(ctx, tokenA, tokenB, units("1", 18), nil, alice, time.Time{})
			return err
		})
		g.Go(func() error {
			_, err := p.QuoteSwap(ctx, tokenB, tokenA, units("1", 6))
			return err
		})
		g.Go(func() error {
			_, err := p.Snapshot(ctx)
			return err
		})
	}
	require.NoError(t, g.Wait())

	a := ledger(t, p, tokenA)
	b := ledger(t, p, tokenB)
	assert.Equal(t, wad.FromUnits(1000+n), u256(a.Cash))
	assert.True(t, u256(b.Coverage).Gt(wad.MustParse("0.25")))
	assert.True(t, u256(b.Cash).Lt(wad.FromUnits(1000-n+1)))
}

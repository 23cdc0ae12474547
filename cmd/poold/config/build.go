package config

import (
	"context"
	"fmt"
	"time"

	"github.com/Iwinswap/iwinswap-solvency-pool-go/pkg/chains/mantle"
	"github.com/Iwinswap/iwinswap-solvency-pool-go/pkg/wad"
	"github.com/Iwinswap/iwinswap-solvency-pool-go/protocols/oracle"
	"github.com/Iwinswap/iwinswap-solvency-pool-go/protocols/poolregistry"
	"github.com/Iwinswap/iwinswap-solvency-pool-go/protocols/solvency"
	"github.com/Iwinswap/iwinswap-solvency-pool-go/protocols/token"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

// Deployment is everything the daemon serves.
type Deployment struct {
	Registry *poolregistry.Registry
	Tokens   *token.IndexableTokenSystem
	// Oracle prices every oracle-priced pool.
	Oracle *oracle.Manual
	Pools  []*solvency.Pool
}

// BuildOptions are the runtime collaborators handed to every pool.
type BuildOptions struct {
	Logger    solvency.Logger
	Metrics   prometheus.Registerer
	Custodian solvency.Custodian
	Now       func() time.Time
}

// poolSpec is a pool with every value resolved.
type poolSpec struct {
	name         string
	address      common.Address
	params       solvency.Params
	oraclePriced bool
	assets       []assetSpec
}

type assetSpec struct {
	token     token.TokenView
	group     common.Address
	state     solvency.LedgerState
	maxSupply *uint256.Int
	price     *uint256.Int
}

// Build creates the pools of cfg, seeds their ledgers and registers them.
// Presets load before explicitly declared pools.
func Build(ctx context.Context, cfg *Config, opts BuildOptions) (*Deployment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	tokens, err := buildTokens(cfg)
	if err != nil {
		return nil, err
	}

	var specs []poolSpec
	for _, name := range cfg.Presets {
		preset, _ := mantle.Lookup(name)
		spec, err := presetSpec(preset, tokens)
		if err != nil {
			return nil, fmt.Errorf("preset %s: %w", name, err)
		}
		specs = append(specs, spec)
	}
	for i, pc := range cfg.Pools {
		spec, err := pc.spec(tokens)
		if err != nil {
			return nil, fmt.Errorf("pools[%d] %s: %w", i, pc.Name, err)
		}
		specs = append(specs, spec)
	}

	seen := make(map[common.Address]string, len(specs))
	for _, spec := range specs {
		if prev, ok := seen[spec.address]; ok {
			return nil, fmt.Errorf("duplicate pool %s: %s and %s", spec.address.Hex(), prev, spec.name)
		}
		seen[spec.address] = spec.name
	}

	d := &Deployment{
		Registry: poolregistry.New(),
		Tokens:   tokens,
		Oracle:   oracle.NewManual(cfg.OracleMaxAge, now),
	}
	for _, spec := range specs {
		p, err := d.buildPool(ctx, spec, opts, now)
		if err != nil {
			return nil, fmt.Errorf("pool %s: %w", spec.name, err)
		}
		if _, err := d.Registry.Add(p); err != nil {
			return nil, err
		}
		d.Pools = append(d.Pools, p)
		opts.Logger.Info("Pool loaded", "name", spec.name, "address", spec.address.Hex(), "assets", len(spec.assets), "oracle_priced", spec.oraclePriced)
	}
	return d, nil
}

func (d *Deployment) buildPool(ctx context.Context, spec poolSpec, opts BuildOptions, now func() time.Time) (*solvency.Pool, error) {
	pcfg := solvency.Config{
		Address:   spec.address,
		Params:    spec.params,
		Custodian: opts.Custodian,
		Logger:    opts.Logger,
		Registry:  opts.Metrics,
		Now:       now,
	}
	if spec.oraclePriced {
		pcfg.Oracle = d.Oracle
	}
	p, err := solvency.NewPool(pcfg)
	if err != nil {
		return nil, err
	}
	for _, a := range spec.assets {
		err := p.RegisterAsset(ctx, solvency.AssetConfig{
			Token:     a.token.Address,
			Symbol:    a.token.Symbol,
			Decimals:  a.token.Decimals,
			Group:     a.group,
			MaxSupply: a.maxSupply,
		})
		if err != nil {
			return nil, err
		}
		if err := p.SyncAsset(ctx, a.token.Address, a.state); err != nil {
			return nil, fmt.Errorf("seed %s: %w", a.token.Symbol, err)
		}
		if a.price != nil {
			if err := d.Oracle.Set(a.token.Address, a.price, now()); err != nil {
				return nil, err
			}
		}
	}
	return p, nil
}

// buildTokens indexes the preset tokens followed by the declared ones.
func buildTokens(cfg *Config) (*token.IndexableTokenSystem, error) {
	var all []token.TokenView
	if len(cfg.Presets) > 0 {
		all = append(all, mantle.Tokens()...)
	}
	next := uint64(len(all)) + 1
	for _, t := range cfg.Tokens {
		all = append(all, token.TokenView{
			ID:       next,
			Address:  common.HexToAddress(t.Address),
			Symbol:   t.Symbol,
			Decimals: t.Decimals,
		})
		next++
	}
	return token.New().Index(all)
}

func presetSpec(p mantle.PoolPreset, tokens *token.IndexableTokenSystem) (poolSpec, error) {
	spec := poolSpec{
		name:    p.Name,
		address: p.Address,
		params: solvency.Params{
			RThreshold:     p.RThreshold,
			HaircutRate:    p.HaircutRate,
			RetentionRatio: p.RetentionRatio,
		},
		oraclePriced: p.OraclePriced,
	}
	for _, a := range p.Assets {
		t, ok := tokens.GetByAddress(a.Token)
		if !ok {
			return poolSpec{}, fmt.Errorf("token %s is not indexed", a.Token.Hex())
		}
		spec.assets = append(spec.assets, assetSpec{
			token: t,
			group: p.Group,
			state: solvency.LedgerState{
				Cash:      a.Cash,
				Liability: a.Liability,
				Supply:    a.Liability,
			},
			price: a.Price,
		})
	}
	return spec, nil
}

func (pc *PoolConfig) spec(tokens *token.IndexableTokenSystem) (poolSpec, error) {
	name := pc.Name
	if name == "" {
		name = pc.Address
	}
	spec := poolSpec{
		name:         name,
		address:      common.HexToAddress(pc.Address),
		oraclePriced: pc.OraclePriced,
		params: solvency.Params{
			RThreshold:     wad.MustParse(pc.RThreshold),
			HaircutRate:    wad.MustParse(pc.HaircutRate),
			RetentionRatio: wad.MustParse(pc.RetentionRatio),
		},
	}
	if err := spec.params.Validate(); err != nil {
		return poolSpec{}, err
	}
	group := common.HexToAddress(pc.Group)
	for i, ac := range pc.Assets {
		a, err := ac.spec(tokens, group)
		if err != nil {
			return poolSpec{}, fmt.Errorf("assets[%d]: %w", i, err)
		}
		spec.assets = append(spec.assets, a)
	}
	return spec, nil
}

func (ac *AssetConfig) spec(tokens *token.IndexableTokenSystem, group common.Address) (assetSpec, error) {
	t, ok := tokens.Resolve(ac.Token)
	if !ok {
		return assetSpec{}, fmt.Errorf("unknown token %q", ac.Token)
	}
	a := assetSpec{token: t, group: group}
	if ac.Group != "" {
		a.group = common.HexToAddress(ac.Group)
	}

	var err error
	if a.state.Cash, err = parseOr(ac.Cash, "0"); err != nil {
		return assetSpec{}, fmt.Errorf("cash: %w", err)
	}
	if a.state.Liability, err = parseOr(ac.Liability, "0"); err != nil {
		return assetSpec{}, fmt.Errorf("liability: %w", err)
	}
	if a.state.Supply, err = parseOr(ac.Supply, ac.Liability); err != nil {
		return assetSpec{}, fmt.Errorf("supply: %w", err)
	}
	if ac.MaxSupply != "" {
		if a.maxSupply, err = wad.Parse(ac.MaxSupply); err != nil {
			return assetSpec{}, fmt.Errorf("max_supply: %w", err)
		}
	}
	if ac.Price != "" {
		if a.price, err = wad.Parse(ac.Price); err != nil {
			return assetSpec{}, fmt.Errorf("price: %w", err)
		}
	}
	return a, nil
}

// parseOr parses s, or fallback when s is empty. An empty fallback is zero.
func parseOr(s, fallback string) (*uint256.Int, error) {
	if s == "" {
		s = fallback
	}
	if s == "" {
		return new(uint256.Int), nil
	}
	return wad.Parse(s)
}

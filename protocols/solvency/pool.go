// Package solvency implements a multi-asset liquidity pool priced by a
// solvency curve. A Pool owns one ledger per registered token and applies the
// pricing package atomically to deposits, withdrawals and swaps.
//
// Token amounts passed to and returned from a Pool are in the token's native
// decimals. LP liquidity and every ledger quantity are WAD values.
package solvency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Iwinswap/iwinswap-solvency-pool-go/pkg/wad"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// PriceOracle supplies WAD prices of pool tokens relative to a common
// numeraire. Implementations must fail on stale readings.
//
// RelativePrice runs with the pool lock held. A call back into the pool must
// use ctx, which carries the reentrancy tag and fails with ErrReentrant; a
// call on any other context blocks forever.
type PriceOracle interface {
	RelativePrice(ctx context.Context, token common.Address) (*uint256.Int, error)
}

// Custodian moves the underlying tokens. Amounts are in native decimals.
//
// Both methods run with the pool lock held. The context carries the pool's
// reentrancy tag and must be passed on to any call back into the pool, which
// then fails with ErrReentrant. A call on a fresh context deadlocks.
type Custodian interface {
	// Collect pulls amount of token from the caller into the pool.
	Collect(ctx context.Context, token common.Address, amount *uint256.Int) error
	// Pay sends amount of token from the pool to to.
	Pay(ctx context.Context, token, to common.Address, amount *uint256.Int) error
}

// Params are the pool-wide risk parameters, all WAD.
type Params struct {
	RThreshold     *uint256.Int
	HaircutRate    *uint256.Int
	RetentionRatio *uint256.Int
}

// Validate checks 0 < RThreshold <= 1 and that both rates lie in [0, 1].
func (p Params) Validate() error {
	if p.RThreshold == nil || p.HaircutRate == nil || p.RetentionRatio == nil {
		return fmt.Errorf("%w: all parameters are required", ErrInvalidParams)
	}
	if p.RThreshold.IsZero() || p.RThreshold.Gt(wad.One) {
		return fmt.Errorf("%w: rThreshold %s outside (0, 1]", ErrInvalidParams, wad.Format(p.RThreshold))
	}
	if p.HaircutRate.Gt(wad.One) {
		return fmt.Errorf("%w: haircutRate %s above 1", ErrInvalidParams, wad.Format(p.HaircutRate))
	}
	if p.RetentionRatio.Gt(wad.One) {
		return fmt.Errorf("%w: retentionRatio %s above 1", ErrInvalidParams, wad.Format(p.RetentionRatio))
	}
	return nil
}

func (p Params) clone() Params {
	return Params{
		RThreshold:     wad.Clone(p.RThreshold),
		HaircutRate:    wad.Clone(p.HaircutRate),
		RetentionRatio: wad.Clone(p.RetentionRatio),
	}
}

// Config holds the configuration for a Pool.
type Config struct {
	Address common.Address
	Params  Params
	// Oracle prices every asset. Nil builds a fixed-parity pool.
	Oracle    PriceOracle
	Custodian Custodian
	Logger    Logger
	// Registry receives the pool metrics under a "pool" const label. Nil
	// keeps them in a private registry.
	Registry prometheus.Registerer
	// Now defaults to time.Now.
	Now func() time.Time
}

// validate checks if the configuration is valid.
func (c *Config) validate() error {
	if c.Address == (common.Address{}) {
		return errors.New("config: Address is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	return c.Params.Validate()
}

// Pool is a solvency-curve pool. Mutating operations are serialised behind a
// write lock and either commit every ledger change or none; quotes and views
// share a read lock and see a consistent snapshot.
type Pool struct {
	address   common.Address
	oracle    PriceOracle
	custodian Custodian
	logger    Logger
	metrics   *Metrics
	now       func() time.Time
	feed      event.Feed

	mu     sync.RWMutex
	params Params
	assets *assetSet

	// sendMu is taken before mu is released on commit and held until the
	// event is sent, keeping events in commit order.
	sendMu sync.Mutex
}

// NewPool creates an empty pool.
func NewPool(cfg Config) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Pool{
		address:   cfg.Address,
		oracle:    cfg.Oracle,
		custodian: cfg.Custodian,
		logger:    loggerWith(cfg.Logger, "pool", cfg.Address.Hex()),
		metrics:   NewMetrics(prometheus.WrapRegistererWith(prometheus.Labels{"pool": cfg.Address.Hex()}, reg)),
		now:       now,
		params:    cfg.Params.clone(),
		assets:    newAssetSet(),
	}, nil
}

// loggerWith scopes l when it is a *slog.Logger.
func loggerWith(l Logger, args ...any) Logger {
	if sl, ok := l.(*slog.Logger); ok {
		return sl.With(args...)
	}
	return l
}

// Address returns the pool's identifier.
func (p *Pool) Address() common.Address { return p.address }

// OraclePriced reports whether prices come from an oracle.
func (p *Pool) OraclePriced() bool { return p.oracle != nil }

// Params returns a copy of the current risk parameters.
func (p *Pool) Params() Params {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.params.clone()
}

// Subscribe delivers a StateEvent for every committed operation, in commit
// order. Publishing blocks until ch accepts the event and the next writer
// waits on it, so subscribers must drain promptly and must not call back
// into the pool from the receiving goroutine.
func (p *Pool) Subscribe(ch chan<- StateEvent) event.Subscription {
	return p.feed.Subscribe(ch)
}

// read runs fn under the read lock.
func (p *Pool) read(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := p.enter(ctx); err != nil {
		return err
	}
	ctx = p.guard(ctx)
	p.mu.RLock()
	defer p.mu.RUnlock()
	return fn(ctx)
}

// mutate runs fn under the write lock inside a ledger transaction and
// publishes ev once the transaction commits.
func (p *Pool) mutate(ctx context.Context, ev StateEvent, fn func(ctx context.Context, tx *ledgerTx) error) (err error) {
	start := time.Now()
	defer func() {
		p.metrics.observe(ev.Op, time.Since(start), err)
		p.logResult(ev, err)
	}()
	if err := p.enter(ctx); err != nil {
		return err
	}
	view, err := p.apply(p.guard(ctx), fn)
	if err != nil {
		return err
	}
	defer p.sendMu.Unlock()
	ev.Pool = view
	ev.At = p.now()
	p.feed.Send(ev)
	return nil
}

// apply commits fn under the write lock. On success it returns with sendMu
// held; the caller releases it after publishing.
func (p *Pool) apply(ctx context.Context, fn func(ctx context.Context, tx *ledgerTx) error) (PoolView, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tx := newLedgerTx()
	defer tx.rollback()
	if err := fn(ctx, tx); err != nil {
		return PoolView{}, err
	}
	tx.commit()
	p.metrics.setCoverage(p.assets.all)
	view := p.viewLocked()
	p.sendMu.Lock()
	return view, nil
}

func (p *Pool) logResult(ev StateEvent, err error) {
	switch {
	case err == nil:
		p.logger.Debug("Operation committed", "op", ev.Op, "token", ev.Token)
	case KindOf(err) == KindInternal:
		p.logger.Error("Pool invariant violated", "op", ev.Op, "token", ev.Token, "error", err)
	default:
		p.logger.Debug("Operation rejected", "op", ev.Op, "token", ev.Token, "kind", KindOf(err).String(), "error", err)
	}
}

func (p *Pool) checkDeadline(deadline time.Time) error {
	if !deadline.IsZero() && p.now().After(deadline) {
		return ErrExpired
	}
	return nil
}

// asset must be called with p.mu held.
func (p *Pool) asset(token common.Address) (*Asset, error) {
	if token == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	a, ok := p.assets.get(token)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, token.Hex())
	}
	return a, nil
}

// pair resolves two distinct assets of the same aggregate group. It must be
// called with p.mu held.
func (p *Pool) pair(from, to common.Address) (*Asset, *Asset, error) {
	if from == (common.Address{}) || to == (common.Address{}) {
		return nil, nil, ErrZeroAddress
	}
	if from == to {
		return nil, nil, ErrSameToken
	}
	fromAsset, err := p.asset(from)
	if err != nil {
		return nil, nil, err
	}
	toAsset, err := p.asset(to)
	if err != nil {
		return nil, nil, err
	}
	if fromAsset.group != toAsset.group {
		return nil, nil, fmt.Errorf("%w: %s and %s", ErrGroupMismatch, from.Hex(), to.Hex())
	}
	return fromAsset, toAsset, nil
}

// price returns the WAD price of a, or 1 in a fixed-parity pool.
func (p *Pool) price(ctx context.Context, a *Asset) (*uint256.Int, error) {
	if p.oracle == nil {
		return wad.One.Clone(), nil
	}
	price, err := p.oracle.RelativePrice(ctx, a.token)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrPriceUnavailable, a.token.Hex(), err)
	}
	if price == nil || price.IsZero() {
		return nil, fmt.Errorf("%w: %s", ErrPriceZero, a.token.Hex())
	}
	return price, nil
}

// recordPrice stores a reading used by a committed operation.
func (p *Pool) recordPrice(tx *ledgerTx, a *Asset, price *uint256.Int) {
	if p.oracle != nil {
		tx.touch(a).setPrice(price)
	}
}

func requirePositive(amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	return nil
}

func orZero(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return x
}

// RegisterAsset adds an empty ledger for cfg.Token.
func (p *Pool) RegisterAsset(ctx context.Context, cfg AssetConfig) error {
	ev := StateEvent{Op: "registerAsset", Token: cfg.Token}
	return p.mutate(ctx, ev, func(ctx context.Context, tx *ledgerTx) error {
		if err := cfg.validate(); err != nil {
			return err
		}
		if err := p.assets.add(newAsset(cfg)); err != nil {
			return fmt.Errorf("%w: %s", err, cfg.Token.Hex())
		}
		return nil
	})
}

// RemoveAsset deletes the ledger of token. The last asset takes its place in
// enumeration order.
func (p *Pool) RemoveAsset(ctx context.Context, token common.Address) error {
	ev := StateEvent{Op: "removeAsset", Token: token}
	return p.mutate(ctx, ev, func(ctx context.Context, tx *ledgerTx) error {
		removed, err := p.assets.remove(token)
		if err != nil {
			return fmt.Errorf("%w: %s", err, token.Hex())
		}
		p.metrics.forget(removed)
		return nil
	})
}

// SetParams replaces the risk parameters.
func (p *Pool) SetParams(ctx context.Context, params Params) error {
	ev := StateEvent{Op: "setParams"}
	return p.mutate(ctx, ev, func(ctx context.Context, tx *ledgerTx) error {
		if err := params.Validate(); err != nil {
			return err
		}
		p.params = params.clone()
		return nil
	})
}

// LedgerState is an externally observed asset state in WAD.
type LedgerState struct {
	Cash      *uint256.Int
	Liability *uint256.Int
	Supply    *uint256.Int
}

// SyncAsset overwrites the ledger of token with state, mirroring a pool
// whose authoritative state lives elsewhere.
func (p *Pool) SyncAsset(ctx context.Context, token common.Address, state LedgerState) error {
	ev := StateEvent{Op: "syncAsset", Token: token}
	return p.mutate(ctx, ev, func(ctx context.Context, tx *ledgerTx) error {
		a, err := p.asset(token)
		if err != nil {
			return err
		}
		if state.Cash == nil || state.Liability == nil || state.Supply == nil {
			return fmt.Errorf("%w: cash, liability and supply are required", ErrInvalidAsset)
		}
		if a.maxSupply != nil && state.Supply.Gt(a.maxSupply) {
			return ErrMaxSupplyExceeded
		}
		tx.touch(a)
		a.cash = state.Cash.Clone()
		a.liability = state.Liability.Clone()
		a.supply = state.Supply.Clone()
		return nil
	})
}

// Snapshot returns a view of the whole pool.
func (p *Pool) Snapshot(ctx context.Context) (PoolView, error) {
	var v PoolView
	err := p.read(ctx, func(context.Context) error {
		v = p.viewLocked()
		return nil
	})
	return v, err
}

// Asset returns a view of the ledger of token.
func (p *Pool) Asset(ctx context.Context, token common.Address) (AssetView, error) {
	var v AssetView
	err := p.read(ctx, func(context.Context) error {
		a, err := p.asset(token)
		if err != nil {
			return err
		}
		v = viewOf(a)
		return nil
	})
	return v, err
}

// Assets returns views of every ledger in enumeration order.
func (p *Pool) Assets(ctx context.Context) ([]AssetView, error) {
	var out []AssetView
	err := p.read(ctx, func(context.Context) error {
		out = make([]AssetView, 0, p.assets.len())
		for _, a := range p.assets.list() {
			out = append(out, viewOf(a))
		}
		return nil
	})
	return out, err
}

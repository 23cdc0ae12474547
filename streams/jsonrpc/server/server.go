// Package server exposes registered solvency pools over go-ethereum JSON-RPC.
// Quotes are plain calls; pool state is streamed through a subscription.
package server

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/Iwinswap/iwinswap-solvency-pool-go/pkg/wad"
	"github.com/Iwinswap/iwinswap-solvency-pool-go/protocols/poolregistry"
	"github.com/Iwinswap/iwinswap-solvency-pool-go/protocols/solvency"
	"github.com/Iwinswap/iwinswap-solvency-pool-go/protocols/token"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// RpcNamespace is the namespace under which the pool API is registered.
	RpcNamespace                = "pool"
	PoolStateSubscriptionMethod = "subscribePoolState"

	// EventTypeFull marks a notification carrying a complete PoolView.
	EventTypeFull = "full"
	// OpSnapshot is the Op of the first notification of every subscription.
	OpSnapshot = "snapshot"

	defaultBufferSize = 16
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds the configuration for the pool API.
type Config struct {
	Registry *poolregistry.Registry
	// Tokens lets callers name tokens by symbol. Optional.
	Tokens *token.IndexableTokenSystem
	Logger Logger
	// Metrics receives the RPC metrics. Nil keeps them in a private registry.
	Metrics prometheus.Registerer
	// BufferSize bounds the per-subscription event queue. Zero uses a default.
	BufferSize uint
	// Admin also registers AdminNamespace. Prices backs poolAdmin_setPrice.
	Admin  bool
	Prices PriceSetter
	// Now defaults to time.Now.
	Now func() time.Time
}

// validate checks if the configuration is valid.
func (c *Config) validate() error {
	if c.Registry == nil {
		return errors.New("config: Registry is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	return nil
}

// PoolStateEvent is the notification pushed to pool state subscribers.
type PoolStateEvent struct {
	Type    string            `json:"type"`
	Op      string            `json:"op"`
	Payload solvency.PoolView `json:"payload"`
	SentAt  int64             `json:"sentAt"`
}

// SwapQuoteResult is returned by pool_quoteSwap. Amounts are in the
// destination token's decimals.
type SwapQuoteResult struct {
	ToAmount *hexutil.Big `json:"toAmount"`
	Haircut  *hexutil.Big `json:"haircut"`
}

// WithdrawQuoteResult is returned by the withdrawal quotes. Amount and Fee are
// in the paid token's decimals, LiabilityBurned is WAD.
type WithdrawQuoteResult struct {
	Amount          *hexutil.Big `json:"amount"`
	LiabilityBurned *hexutil.Big `json:"liabilityBurned"`
	Fee             *hexutil.Big `json:"fee"`
}

// API is the receiver registered under RpcNamespace.
type API struct {
	registry   *poolregistry.Registry
	tokens     *token.IndexableTokenSystem
	logger     Logger
	metrics    *Metrics
	bufferSize uint
}

// NewAPI validates cfg and builds the API.
func NewAPI(cfg Config) (*API, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	reg := cfg.Metrics
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	size := cfg.BufferSize
	if size == 0 {
		size = defaultBufferSize
	}
	return &API{
		registry:   cfg.Registry,
		tokens:     cfg.Tokens,
		logger:     cfg.Logger,
		metrics:    NewMetrics(reg),
		bufferSize: size,
	}, nil
}

// NewServer builds an rpc.Server serving the pool API. Callers mount it over
// HTTP or WebSocket and Stop it on shutdown.
func NewServer(cfg Config) (*rpc.Server, error) {
	api, err := NewAPI(cfg)
	if err != nil {
		return nil, err
	}
	srv := rpc.NewServer()
	if err := srv.RegisterName(RpcNamespace, api); err != nil {
		return nil, err
	}
	if cfg.Admin {
		now := cfg.Now
		if now == nil {
			now = time.Now
		}
		admin := &AdminAPI{api: api, prices: cfg.Prices, now: now}
		if err := srv.RegisterName(AdminNamespace, admin); err != nil {
			return nil, err
		}
	}
	return srv, nil
}

// Pools lists every registered pool.
func (a *API) Pools() poolregistry.PoolRegistryView {
	defer a.metrics.observe("pools", time.Now(), nil)
	return a.registry.View()
}

// Pool returns the current state of one pool.
func (a *API) Pool(ctx context.Context, pool common.Address) (view solvency.PoolView, err error) {
	defer a.metrics.observe("pool", time.Now(), &err)
	p, err := a.lookup(pool)
	if err != nil {
		return view, err
	}
	view, err = p.Snapshot(ctx)
	return view, toRPCError(err)
}

// Tokens lists the known tokens, or nothing when no token system is loaded.
func (a *API) Tokens() []token.TokenView {
	defer a.metrics.observe("tokens", time.Now(), nil)
	if a.tokens == nil {
		return []token.TokenView{}
	}
	return a.tokens.All()
}

// PoolsForToken lists the pools holding token.
func (a *API) PoolsForToken(ctx context.Context, tokenRef string) (pools []common.Address, err error) {
	defer a.metrics.observe("poolsForToken", time.Now(), &err)
	t, err := a.resolveToken(tokenRef)
	if err != nil {
		return nil, err
	}
	pools, err = a.registry.PoolsForToken(ctx, t)
	if pools == nil && err == nil {
		pools = []common.Address{}
	}
	return pools, toRPCError(err)
}

// TokenGraph returns the token/pool graph used for routing across pools.
func (a *API) TokenGraph(ctx context.Context) (graph *poolregistry.TokenPoolsRegistryView, err error) {
	defer a.metrics.observe("tokenGraph", time.Now(), &err)
	graph, err = a.registry.TokenPools(ctx)
	return graph, toRPCError(err)
}

// QuoteSwap prices selling amount of from for to.
func (a *API) QuoteSwap(ctx context.Context, pool common.Address, from, to string, amount *hexutil.Big) (res SwapQuoteResult, err error) {
	defer a.metrics.observe("quoteSwap", time.Now(), &err)
	p, fromAddr, toAddr, x, err := a.pairArgs(pool, from, to, amount)
	if err != nil {
		return res, err
	}
	q, err := p.QuoteSwap(ctx, fromAddr, toAddr, x)
	if err != nil {
		return res, toRPCError(err)
	}
	return SwapQuoteResult{ToAmount: toBig(q.ToAmount), Haircut: toBig(q.Haircut)}, nil
}

// ValidateSwap reports whether the swap would be accepted. A nil result means
// it would.
func (a *API) ValidateSwap(ctx context.Context, pool common.Address, from, to string, amount *hexutil.Big) (err error) {
	defer a.metrics.observe("validateSwap", time.Now(), &err)
	p, fromAddr, toAddr, x, err := a.pairArgs(pool, from, to, amount)
	if err != nil {
		return err
	}
	return toRPCError(p.ValidateSwap(ctx, fromAddr, toAddr, x))
}

// QuoteDeposit returns the LP amount minted for depositing amount of token.
func (a *API) QuoteDeposit(ctx context.Context, pool common.Address, tokenRef string, amount *hexutil.Big) (res *hexutil.Big, err error) {
	defer a.metrics.observe("quoteDeposit", time.Now(), &err)
	p, err := a.lookup(pool)
	if err != nil {
		return nil, err
	}
	t, err := a.resolveToken(tokenRef)
	if err != nil {
		return nil, err
	}
	x, err := amountArg(amount)
	if err != nil {
		return nil, err
	}
	lp, err := p.QuoteDeposit(ctx, t, x)
	if err != nil {
		return nil, toRPCError(err)
	}
	return toBig(lp), nil
}

// QuoteWithdraw prices burning liquidity of token.
func (a *API) QuoteWithdraw(ctx context.Context, pool common.Address, tokenRef string, liquidity *hexutil.Big) (res WithdrawQuoteResult, err error) {
	defer a.metrics.observe("quoteWithdraw", time.Now(), &err)
	p, err := a.lookup(pool)
	if err != nil {
		return res, err
	}
	t, err := a.resolveToken(tokenRef)
	if err != nil {
		return res, err
	}
	x, err := amountArg(liquidity)
	if err != nil {
		return res, err
	}
	q, err := p.QuoteWithdraw(ctx, t, x)
	if err != nil {
		return res, toRPCError(err)
	}
	return withdrawResult(q), nil
}

// QuoteWithdrawFromOtherAsset prices burning liquidity of initial and being
// paid in wanted.
func (a *API) QuoteWithdrawFromOtherAsset(ctx context.Context, pool common.Address, initial, wanted string, liquidity *hexutil.Big) (res WithdrawQuoteResult, err error) {
	defer a.metrics.observe("quoteWithdrawFromOtherAsset", time.Now(), &err)
	p, initialAddr, wantedAddr, x, err := a.pairArgs(pool, initial, wanted, liquidity)
	if err != nil {
		return res, err
	}
	q, err := p.QuoteWithdrawFromOtherAsset(ctx, initialAddr, wantedAddr, x)
	if err != nil {
		return res, toRPCError(err)
	}
	return withdrawResult(q), nil
}

// QuoteMaxInitialLiquidityWithdrawable returns the most liquidity of initial
// that can currently be withdrawn as wanted.
func (a *API) QuoteMaxInitialLiquidityWithdrawable(ctx context.Context, pool common.Address, initial, wanted string) (res *hexutil.Big, err error) {
	defer a.metrics.observe("quoteMaxInitialLiquidityWithdrawable", time.Now(), &err)
	p, err := a.lookup(pool)
	if err != nil {
		return nil, err
	}
	initialAddr, err := a.resolveToken(initial)
	if err != nil {
		return nil, err
	}
	wantedAddr, err := a.resolveToken(wanted)
	if err != nil {
		return nil, err
	}
	liquidity, err := p.QuoteMaxInitialLiquidityWithdrawable(ctx, initialAddr, wantedAddr)
	if err != nil {
		return nil, toRPCError(err)
	}
	return toBig(liquidity), nil
}

// SubscribePoolState streams the state of pool. The first notification is a
// snapshot, every later one follows a committed operation.
func (a *API) SubscribePoolState(ctx context.Context, pool common.Address) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return nil, rpc.ErrNotificationsUnsupported
	}
	p, err := a.lookup(pool)
	if err != nil {
		return nil, err
	}
	rpcSub := notifier.CreateSubscription()
	go a.streamPool(notifier, rpcSub, p)
	return rpcSub, nil
}

func (a *API) streamPool(notifier *rpc.Notifier, rpcSub *rpc.Subscription, p *solvency.Pool) {
	a.metrics.subscriptions.Inc()
	defer a.metrics.subscriptions.Dec()

	events := make(chan solvency.StateEvent, a.bufferSize)
	sub := p.Subscribe(events)
	queue := newEventQueue(int(a.bufferSize))
	done := make(chan struct{})
	go queue.relay(events, done)
	defer func() {
		sub.Unsubscribe()
		close(done)
	}()

	logger := a.logger
	logger.Debug("Pool state subscription started", "pool", p.Address().Hex(), "id", rpcSub.ID)

	// Subscribe before taking the snapshot so no commit falls in between.
	view, err := p.Snapshot(context.Background())
	if err != nil {
		logger.Error("Failed to snapshot pool", "pool", p.Address().Hex(), "error", err)
		return
	}
	if err := a.notify(notifier, rpcSub, OpSnapshot, view); err != nil {
		logger.Warn("Failed to send pool snapshot", "pool", p.Address().Hex(), "error", err)
		return
	}

	for {
		select {
		case <-queue.ready:
			pending, dropped := queue.drain()
			if dropped > 0 {
				a.metrics.dropped(dropped)
				logger.Warn("Pool state subscriber lagging, dropped events", "pool", p.Address().Hex(), "id", rpcSub.ID, "dropped", dropped)
			}
			for _, ev := range pending {
				if err := a.notify(notifier, rpcSub, ev.Op, ev.Pool); err != nil {
					logger.Warn("Failed to send pool state", "pool", p.Address().Hex(), "error", err)
					return
				}
			}
		case err := <-rpcSub.Err():
			logger.Debug("Pool state subscription closed", "pool", p.Address().Hex(), "id", rpcSub.ID, "error", err)
			return
		case err := <-sub.Err():
			logger.Debug("Pool feed closed", "pool", p.Address().Hex(), "error", err)
			return
		}
	}
}

func (a *API) notify(notifier *rpc.Notifier, rpcSub *rpc.Subscription, op string, view solvency.PoolView) error {
	err := notifier.Notify(rpcSub.ID, PoolStateEvent{
		Type:    EventTypeFull,
		Op:      op,
		Payload: view,
		SentAt:  time.Now().UnixNano(),
	})
	a.metrics.notified(err)
	return err
}

func (a *API) lookup(pool common.Address) (*solvency.Pool, error) {
	p, err := a.registry.Lookup(pool)
	if err != nil {
		return nil, toRPCError(err)
	}
	return p, nil
}

// resolveToken accepts a hex address or, with a token system loaded, a
// symbol.
func (a *API) resolveToken(ref string) (common.Address, error) {
	if a.tokens != nil {
		if t, ok := a.tokens.Resolve(ref); ok {
			return t.Address, nil
		}
	}
	if common.IsHexAddress(ref) {
		return common.HexToAddress(ref), nil
	}
	return common.Address{}, invalidParams("unknown token %q", ref)
}

func (a *API) pairArgs(pool common.Address, from, to string, amount *hexutil.Big) (*solvency.Pool, common.Address, common.Address, *uint256.Int, error) {
	p, err := a.lookup(pool)
	if err != nil {
		return nil, common.Address{}, common.Address{}, nil, err
	}
	fromAddr, err := a.resolveToken(from)
	if err != nil {
		return nil, common.Address{}, common.Address{}, nil, err
	}
	toAddr, err := a.resolveToken(to)
	if err != nil {
		return nil, common.Address{}, common.Address{}, nil, err
	}
	x, err := amountArg(amount)
	if err != nil {
		return nil, common.Address{}, common.Address{}, nil, err
	}
	return p, fromAddr, toAddr, x, nil
}

// amountArg converts an RPC quantity. A missing amount is passed through so
// the pool rejects it as zero.
func amountArg(b *hexutil.Big) (*uint256.Int, error) {
	if b == nil {
		return nil, nil
	}
	x, err := wad.FromBig((*big.Int)(b))
	if err != nil {
		return nil, invalidParams("amount: %v", err)
	}
	return x, nil
}

func withdrawResult(q solvency.WithdrawQuote) WithdrawQuoteResult {
	return WithdrawQuoteResult{
		Amount:          toBig(q.Amount),
		LiabilityBurned: toBig(q.LiabilityBurned),
		Fee:             toBig(q.Fee),
	}
}

func toBig(x *uint256.Int) *hexutil.Big {
	if x == nil {
		return nil
	}
	return (*hexutil.Big)(x.ToBig())
}

// Package client consumes the pool JSON-RPC API: Client follows a pool state
// stream and Querier issues quotes.
package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/Iwinswap/iwinswap-solvency-pool-go/pkg/wad"
	"github.com/Iwinswap/iwinswap-solvency-pool-go/protocols/poolregistry"
	"github.com/Iwinswap/iwinswap-solvency-pool-go/protocols/solvency"
	"github.com/Iwinswap/iwinswap-solvency-pool-go/protocols/token"
	"github.com/Iwinswap/iwinswap-solvency-pool-go/streams/jsonrpc/server"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
)

// Querier calls the pool API. Token arguments are hex addresses or, when the
// server has a token system loaded, symbols.
type Querier struct {
	rpc *rpc.Client
}

// Dial connects a Querier to url.
func Dial(ctx context.Context, url string) (*Querier, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return NewQuerier(c), nil
}

// NewQuerier wraps an existing connection.
func NewQuerier(c *rpc.Client) *Querier {
	return &Querier{rpc: c}
}

// Close closes the underlying connection.
func (q *Querier) Close() {
	q.rpc.Close()
}

func (q *Querier) call(ctx context.Context, result any, method string, args ...any) error {
	return q.rpc.CallContext(ctx, result, server.RpcNamespace+"_"+method, args...)
}

// Pools lists the registered pools.
func (q *Querier) Pools(ctx context.Context) (poolregistry.PoolRegistryView, error) {
	var view poolregistry.PoolRegistryView
	err := q.call(ctx, &view, "pools")
	return view, err
}

// Pool returns the current state of pool.
func (q *Querier) Pool(ctx context.Context, pool common.Address) (solvency.PoolView, error) {
	var view solvency.PoolView
	err := q.call(ctx, &view, "pool", pool)
	return view, err
}

// Tokens lists the tokens known to the server.
func (q *Querier) Tokens(ctx context.Context) ([]token.TokenView, error) {
	var tokens []token.TokenView
	err := q.call(ctx, &tokens, "tokens")
	return tokens, err
}

// PoolsForToken lists the pools holding tokenRef.
func (q *Querier) PoolsForToken(ctx context.Context, tokenRef string) ([]common.Address, error) {
	var pools []common.Address
	err := q.call(ctx, &pools, "poolsForToken", tokenRef)
	return pools, err
}

// TokenGraph returns the token/pool graph of every served pool.
func (q *Querier) TokenGraph(ctx context.Context) (*poolregistry.TokenPoolsRegistryView, error) {
	var graph poolregistry.TokenPoolsRegistryView
	if err := q.call(ctx, &graph, "tokenGraph"); err != nil {
		return nil, err
	}
	return &graph, nil
}

// QuoteSwap prices selling amount of from for to.
func (q *Querier) QuoteSwap(ctx context.Context, pool common.Address, from, to string, amount *uint256.Int) (solvency.SwapQuote, error) {
	var res server.SwapQuoteResult
	if err := q.call(ctx, &res, "quoteSwap", pool, from, to, toBig(amount)); err != nil {
		return solvency.SwapQuote{}, err
	}
	toAmount, err := fromBig(res.ToAmount)
	if err != nil {
		return solvency.SwapQuote{}, err
	}
	haircut, err := fromBig(res.Haircut)
	if err != nil {
		return solvency.SwapQuote{}, err
	}
	return solvency.SwapQuote{ToAmount: toAmount, Haircut: haircut}, nil
}

// ValidateSwap returns nil when the swap would be accepted.
func (q *Querier) ValidateSwap(ctx context.Context, pool common.Address, from, to string, amount *uint256.Int) error {
	return q.call(ctx, nil, "validateSwap", pool, from, to, toBig(amount))
}

// QuoteDeposit returns the LP amount minted for depositing amount.
func (q *Querier) QuoteDeposit(ctx context.Context, pool common.Address, tokenRef string, amount *uint256.Int) (*uint256.Int, error) {
	var res hexutil.Big
	if err := q.call(ctx, &res, "quoteDeposit", pool, tokenRef, toBig(amount)); err != nil {
		return nil, err
	}
	return fromBig(&res)
}

// QuoteWithdraw prices burning liquidity of tokenRef.
func (q *Querier) QuoteWithdraw(ctx context.Context, pool common.Address, tokenRef string, liquidity *uint256.Int) (solvency.WithdrawQuote, error) {
	var res server.WithdrawQuoteResult
	if err := q.call(ctx, &res, "quoteWithdraw", pool, tokenRef, toBig(liquidity)); err != nil {
		return solvency.WithdrawQuote{}, err
	}
	return withdrawQuote(res)
}

// QuoteWithdrawFromOtherAsset prices redeeming liquidity of initial in wanted.
func (q *Querier) QuoteWithdrawFromOtherAsset(ctx context.Context, pool common.Address, initial, wanted string, liquidity *uint256.Int) (solvency.WithdrawQuote, error) {
	var res server.WithdrawQuoteResult
	if err := q.call(ctx, &res, "quoteWithdrawFromOtherAsset", pool, initial, wanted, toBig(liquidity)); err != nil {
		return solvency.WithdrawQuote{}, err
	}
	return withdrawQuote(res)
}

// QuoteMaxInitialLiquidityWithdrawable returns the most liquidity of initial
// currently redeemable in wanted.
func (q *Querier) QuoteMaxInitialLiquidityWithdrawable(ctx context.Context, pool common.Address, initial, wanted string) (*uint256.Int, error) {
	var res hexutil.Big
	if err := q.call(ctx, &res, "quoteMaxInitialLiquidityWithdrawable", pool, initial, wanted); err != nil {
		return nil, err
	}
	return fromBig(&res)
}

// ErrorKind returns the solvency.Kind name the server attached to err, or ""
// when err did not come from the pool API.
func ErrorKind(err error) string {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return ""
	}
	kind, _ := dataErr.ErrorData().(string)
	return kind
}

func withdrawQuote(res server.WithdrawQuoteResult) (solvency.WithdrawQuote, error) {
	amount, err := fromBig(res.Amount)
	if err != nil {
		return solvency.WithdrawQuote{}, err
	}
	burned, err := fromBig(res.LiabilityBurned)
	if err != nil {
		return solvency.WithdrawQuote{}, err
	}
	fee, err := fromBig(res.Fee)
	if err != nil {
		return solvency.WithdrawQuote{}, err
	}
	return solvency.WithdrawQuote{Amount: amount, LiabilityBurned: burned, Fee: fee}, nil
}

func toBig(x *uint256.Int) *hexutil.Big {
	if x == nil {
		return nil
	}
	return (*hexutil.Big)(x.ToBig())
}

func fromBig(b *hexutil.Big) (*uint256.Int, error) {
	if b == nil {
		return nil, errors.New("client: missing quantity in response")
	}
	x, err := wad.FromBig(b.ToInt())
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	return x, nil
}

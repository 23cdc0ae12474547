package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Iwinswap/iwinswap-solvency-pool-go/pkg/chains/mantle"
	"github.com/Iwinswap/iwinswap-solvency-pool-go/pkg/wad"
	"github.com/Iwinswap/iwinswap-solvency-pool-go/protocols/solvency"
	"github.com/Iwinswap/iwinswap-solvency-pool-go/streams/jsonrpc/client"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

const requestTimeout = 10 * time.Second

// quoteEnv is a connected querier and the pool a quote command targets.
type quoteEnv struct {
	q    *client.Querier
	pool common.Address
	view solvency.PoolView
}

func addConnFlags(cmd *cobra.Command, withPool bool) {
	f := cmd.PersistentFlags()
	f.String("url", "http://127.0.0.1:8645", "poold RPC endpoint")
	if withPool {
		f.String("pool", "", "pool address or preset name")
	}
}

func dial(cmd *cobra.Command) (*client.Querier, context.Context, context.CancelFunc, error) {
	v, err := settings(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	q, err := client.Dial(ctx, v.GetString("url"))
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	return q, ctx, cancel, nil
}

// withPool runs fn against the pool named by --pool.
func withPool(cmd *cobra.Command, fn func(ctx context.Context, env *quoteEnv) error) error {
	v, err := settings(cmd)
	if err != nil {
		return err
	}
	pool, err := resolvePool(v.GetString("pool"))
	if err != nil {
		return err
	}
	q, ctx, cancel, err := dial(cmd)
	if err != nil {
		return err
	}
	defer cancel()
	defer q.Close()

	view, err := q.Pool(ctx, pool)
	if err != nil {
		return fmt.Errorf("load pool %s: %w", pool.Hex(), err)
	}
	return fn(ctx, &quoteEnv{q: q, pool: pool, view: view})
}

func resolvePool(ref string) (common.Address, error) {
	if preset, ok := mantle.Lookup(ref); ok {
		return preset.Address, nil
	}
	if common.IsHexAddress(ref) {
		return common.HexToAddress(ref), nil
	}
	return common.Address{}, fmt.Errorf("--pool must be an address or one of %s", strings.Join(mantle.Names(), ", "))
}

// asset finds the ledger of ref, a symbol or address, in the pool view.
func (e *quoteEnv) asset(ref string) (solvency.AssetView, error) {
	for _, a := range e.view.Assets {
		if strings.EqualFold(a.Symbol, ref) || (common.IsHexAddress(ref) && common.HexToAddress(ref) == a.Token) {
			return a, nil
		}
	}
	return solvency.AssetView{}, fmt.Errorf("pool %s has no asset %q", e.pool.Hex(), ref)
}

func label(a solvency.AssetView) string {
	if a.Symbol != "" {
		return a.Symbol
	}
	return a.Token.Hex()
}

func newQuoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Quote pool operations against a running poold",
	}
	addConnFlags(cmd, true)

	cmd.AddCommand(&cobra.Command{
		Use:   "swap FROM TO AMOUNT",
		Short: "Quote selling AMOUNT of FROM for TO",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd, func(ctx context.Context, env *quoteEnv) error {
				from, err := env.asset(args[0])
				if err != nil {
					return err
				}
				to, err := env.asset(args[1])
				if err != nil {
					return err
				}
				amount, err := wad.ParseUnits(args[2], from.Decimals)
				if err != nil {
					return err
				}
				res, err := env.q.QuoteSwap(ctx, env.pool, from.Token.Hex(), to.Token.Hex(), amount)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s -> %s %s (haircut %s)\n",
					args[2], label(from),
					wad.FormatUnits(res.ToAmount, to.Decimals), label(to),
					wad.FormatUnits(res.Haircut, to.Decimals))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "deposit TOKEN AMOUNT",
		Short: "Quote the LP minted for depositing AMOUNT of TOKEN",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd, func(ctx context.Context, env *quoteEnv) error {
				a, err := env.asset(args[0])
				if err != nil {
					return err
				}
				amount, err := wad.ParseUnits(args[1], a.Decimals)
				if err != nil {
					return err
				}
				lp, err := env.q.QuoteDeposit(ctx, env.pool, a.Token.Hex(), amount)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s -> %s LP\n", args[1], label(a), wad.Format(lp))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "withdraw TOKEN LIQUIDITY",
		Short: "Quote burning LIQUIDITY of TOKEN",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd, func(ctx context.Context, env *quoteEnv) error {
				a, err := env.asset(args[0])
				if err != nil {
					return err
				}
				liquidity, err := wad.Parse(args[1])
				if err != nil {
					return err
				}
				res, err := env.q.QuoteWithdraw(ctx, env.pool, a.Token.Hex(), liquidity)
				if err != nil {
					return err
				}
				printWithdraw(cmd, args[1], label(a), res, a)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "withdraw-other INITIAL WANTED LIQUIDITY",
		Short: "Quote burning LIQUIDITY of INITIAL paid out in WANTED",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd, func(ctx context.Context, env *quoteEnv) error {
				initial, err := env.asset(args[0])
				if err != nil {
					return err
				}
				wanted, err := env.asset(args[1])
				if err != nil {
					return err
				}
				liquidity, err := wad.Parse(args[2])
				if err != nil {
					return err
				}
				res, err := env.q.QuoteWithdrawFromOtherAsset(ctx, env.pool, initial.Token.Hex(), wanted.Token.Hex(), liquidity)
				if err != nil {
					return err
				}
				printWithdraw(cmd, args[2], label(initial), res, wanted)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "max INITIAL WANTED",
		Short: "Quote the most LP of INITIAL currently redeemable in WANTED",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd, func(ctx context.Context, env *quoteEnv) error {
				initial, err := env.asset(args[0])
				if err != nil {
					return err
				}
				wanted, err := env.asset(args[1])
				if err != nil {
					return err
				}
				lp, err := env.q.QuoteMaxInitialLiquidityWithdrawable(ctx, env.pool, initial.Token.Hex(), wanted.Token.Hex())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s LP redeemable in %s\n", wad.Format(lp), label(initial), label(wanted))
				return nil
			})
		},
	})
	return cmd
}

func printWithdraw(cmd *cobra.Command, liquidity, from string, res solvency.WithdrawQuote, paid solvency.AssetView) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s LP -> %s %s (fee %s, liability burned %s)\n",
		liquidity, from,
		wad.FormatUnits(res.Amount, paid.Decimals), label(paid),
		wad.FormatUnits(res.Fee, paid.Decimals),
		wad.Format(res.LiabilityBurned))
}

func newPoolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pools",
		Short: "List the pools of a running poold",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q, ctx, cancel, err := dial(cmd)
			if err != nil {
				return err
			}
			defer cancel()
			defer q.Close()

			pools, err := q.Pools(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tADDRESS\tORACLE\tASSETS")
			for _, p := range pools.Pools {
				view, err := q.Pool(ctx, p.Address)
				if err != nil {
					return err
				}
				symbols := make([]string, 0, len(view.Assets))
				for _, a := range view.Assets {
					symbols = append(symbols, label(a))
				}
				fmt.Fprintf(w, "%d\t%s\t%t\t%s\n", p.ID, p.Address.Hex(), p.OraclePriced, strings.Join(symbols, ","))
			}
			return w.Flush()
		},
	}
	addConnFlags(cmd, false)
	return cmd
}

func newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the built-in Mantle pool presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tADDRESS\tR*\tHAIRCUT\tRETENTION\tASSETS")
			for _, name := range mantle.Names() {
				p, _ := mantle.Lookup(name)
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
					p.Name, p.Address.Hex(),
					wad.Format(p.RThreshold), wad.Format(p.HaircutRate), wad.Format(p.RetentionRatio),
					len(p.Assets))
			}
			return w.Flush()
		},
	}
}

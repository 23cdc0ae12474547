// Command poold serves solvency pools over JSON-RPC and quotes against a
// running instance.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "POOLD"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "poold",
		Short: "Solvency pool daemon",
		Long: `poold loads solvency pools from a YAML pool file or built-in presets and
serves quotes and pool state over JSON-RPC (HTTP on /, WebSocket on /ws) with
Prometheus metrics on /metrics.

Every flag can also be set through a POOLD_ environment variable, e.g.
POOLD_LISTEN or POOLD_LOG_LEVEL.`,
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newQuoteCmd(), newPoolsCmd(), newPresetsCmd())
	return root
}

// settings binds the flags of cmd and the POOLD_ environment onto a fresh
// viper instance. Flags win over the environment.
func settings(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	return v, nil
}

// newLogger builds a JSON logger writing to path, or to stderr when path is
// empty. The returned func closes the file.
func newLogger(path string, level slog.Level) (*slog.Logger, func() error, error) {
	if path == "" {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})), func() error { return nil }, nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return slog.New(slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level})), f.Close, nil
}

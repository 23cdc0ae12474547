package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Iwinswap/iwinswap-solvency-pool-go/cmd/poold/config"
	"github.com/Iwinswap/iwinswap-solvency-pool-go/streams/jsonrpc/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load the configured pools and serve them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := settings(cmd)
			if err != nil {
				return err
			}
			cfg, err := loadServeConfig(v)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, nil)
		},
	}
	f := cmd.Flags()
	f.String("config", "poold.yaml", "pool file")
	f.String("listen", "", "listen address, overrides listen_addr")
	f.String("log-level", "", "debug, info, warn or error, overrides log_level")
	f.String("log-file", "", "JSON log file, overrides log_file")
	f.Bool("admin", false, "expose the poolAdmin namespace, overrides admin")
	return cmd
}

// loadServeConfig reads the pool file and applies flag and environment
// overrides.
func loadServeConfig(v *viper.Viper) (*config.Config, error) {
	cfg, err := config.LoadConfig(v.GetString("config"))
	if err != nil {
		return nil, err
	}
	if s := v.GetString("listen"); s != "" {
		cfg.ListenAddr = s
	}
	if s := v.GetString("log-level"); s != "" {
		cfg.LogLevel = s
	}
	if s := v.GetString("log-file"); s != "" {
		cfg.LogFile = s
	}
	if v.GetBool("admin") {
		cfg.Admin = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// serve runs the daemon until ctx is canceled. When ready is not nil it
// receives the bound listener address once requests are accepted.
func serve(ctx context.Context, cfg *config.Config, ready chan<- string) error {
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger, closeLog, err := newLogger(cfg.LogFile, level)
	if err != nil {
		return err
	}
	defer closeLog()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	d, err := config.Build(ctx, cfg, config.BuildOptions{
		Logger:  logger.With("component", "pool"),
		Metrics: reg,
	})
	if err != nil {
		return fmt.Errorf("build pools: %w", err)
	}

	rpcSrv, err := server.NewServer(server.Config{
		Registry: d.Registry,
		Tokens:   d.Tokens,
		Logger:   logger.With("component", "rpc"),
		Metrics:  reg,
		Admin:    cfg.Admin,
		Prices:   d.Oracle,
	})
	if err != nil {
		return err
	}
	defer rpcSrv.Stop()

	mux := http.NewServeMux()
	mux.Handle("/", rpcSrv)
	mux.Handle("/ws", rpcSrv.WebsocketHandler([]string{"*"}))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","pools":%d}`, len(d.Pools))
	})

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return err
	}
	httpSrv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	logger.Info("Serving pools", "addr", ln.Addr().String(), "pools", len(d.Pools), "admin", cfg.Admin)
	if ready != nil {
		ready <- ln.Addr().String()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down", "reason", context.Cause(gctx))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("Server stopped", "error", err)
		return err
	}
	return nil
}

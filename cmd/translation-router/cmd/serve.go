package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pricofy/translation-router/internal/backend"
	"github.com/pricofy/translation-router/internal/engine"
	"github.com/pricofy/translation-router/internal/logging"
	"github.com/pricofy/translation-router/internal/router"
	"github.com/pricofy/translation-router/internal/transport"
	"github.com/pricofy/translation-router/internal/wire"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the router until SIGINT or SIGTERM",
	Long: `Binds the inbound and outbound endpoints and serves translation requests.

On SIGINT or SIGTERM the router stops reading requests, lets the worker pools
drain, publishes the remaining results and exits.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.Setup(cfg.Log)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	codec, err := wire.ByName(cfg.Transport.Codec)
	if err != nil {
		return err
	}
	tr, err := backend.New(ctx, cfg.Backend, logger)
	if err != nil {
		return fmt.Errorf("init backend: %w", err)
	}
	store, err := engine.OpenStore(cfg.Cache)
	if err != nil {
		return fmt.Errorf("open cache store: %w", err)
	}
	eng := engine.New(cfg, tr, store, logger)

	// The router closes the endpoints itself once the pools have drained.
	epCtx := context.WithoutCancel(ctx)
	opts := transport.Options{MaxFrameBytes: cfg.Transport.MaxFrameBytes}
	in, err := transport.BindInbound(epCtx, cfg.Transport.Inbound, opts, logger)
	if err != nil {
		eng.Close()
		return err
	}
	out, err := transport.BindOutbound(epCtx, cfg.Transport.Outbound, opts, logger)
	if err != nil {
		_ = in.Close()
		eng.Close()
		return err
	}

	r := router.New(in, out, codec, eng, cfg.Cache.StatsInterval, logger)
	logger.Info("serving",
		zap.String("inbound", in.Addr()),
		zap.String("outbound", out.Addr()),
		zap.String("codec", cfg.Transport.Codec),
		zap.String("backend", cfg.Backend.Kind),
		zap.String("cache_store", cfg.Cache.Store))

	return r.Run(ctx)
}

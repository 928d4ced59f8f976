package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/brandnexus-mcp/internal/engine"
	"github.com/dshills/brandnexus-mcp/internal/indexer"
	"github.com/dshills/brandnexus-mcp/internal/mcp"
	"github.com/dshills/brandnexus-mcp/internal/metrics"
)

func newServeCmd(load loader) *cobra.Command {
	var skipInitialIndex bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio with file watching and scheduled rescans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			logger.Info("brandnexus starting",
				zap.String("version", version),
				zap.Strings("roots", cfg.Roots),
				zap.String("database", cfg.Database.Path))

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			m, err := metrics.New(reg)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			e, err := engine.Open(ctx, cfg, engine.WithLogger(logger), engine.WithMetrics(m))
			if err != nil {
				return fmt.Errorf("failed to open index: %w", err)
			}
			defer func() {
				if err := e.Close(); err != nil {
					logger.Warn("close failed", zap.Error(err))
				}
			}()

			if err := e.Start(ctx); err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)

			if cfg.Metrics.Addr != "" {
				g.Go(func() error {
					logger.Info("serving metrics", zap.String("addr", cfg.Metrics.Addr))
					return metrics.Serve(gctx, cfg.Metrics.Addr, reg)
				})
			}

			if !skipInitialIndex && len(cfg.Roots) > 0 {
				g.Go(func() error {
					initialIndex(gctx, e, logger)
					return nil
				})
			}

			g.Go(func() error {
				defer cancel()
				logger.Info("mcp server ready, listening on stdio")
				return mcp.NewServer(e,
					mcp.WithLogger(logger.Named("mcp")),
					mcp.WithVersion(version),
					mcp.WithDefaultLimit(cfg.Search.MaxResults),
				).Serve(gctx)
			})

			err = g.Wait()
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			logger.Info("server stopped")
			return err
		},
	}

	cmd.Flags().BoolVar(&skipInitialIndex, "no-initial-index", false, "do not rescan the content roots at startup")
	return cmd
}

func initialIndex(ctx context.Context, e *engine.Engine, logger *zap.Logger) {
	res, err := e.IndexCorpus(ctx, nil)
	switch {
	case errors.Is(err, indexer.ErrIndexingInProgress), errors.Is(err, context.Canceled):
		return
	case err != nil:
		logger.Error("initial index failed", zap.Error(err))
		return
	}
	logger.Info("initial index complete",
		zap.Int("indexed", res.IndexedCount),
		zap.Int("updated", res.UpdatedCount),
		zap.Int("deleted", res.DeletedCount),
		zap.Int("failed", res.FailedCount),
		zap.Duration("duration", res.Duration))
}

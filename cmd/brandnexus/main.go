package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/brandnexus-mcp/internal/config"
	"github.com/dshills/brandnexus-mcp/internal/engine"
	"github.com/dshills/brandnexus-mcp/internal/logging"
	"github.com/dshills/brandnexus-mcp/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "brandnexus",
		Short:         "Index and search brand and marketing documents",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"BrandNexus MCP Server\nVersion: %s\nBuild Time: %s\nBuild Mode: %s\nSQLite Driver: %s\n",
		version, buildTime, storage.BuildMode, storage.DriverName))
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to brandnexus.yaml (default: search ., ./config, ~/.brandnexus)")

	load := func() (*config.Config, *zap.Logger, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, nil, err
		}
		logger, err := logging.New(cfg.LoggerConfig())
		if err != nil {
			return nil, nil, err
		}
		return cfg, logger, nil
	}

	rootCmd.AddCommand(
		newServeCmd(load),
		newIndexCmd(load),
		newSearchCmd(load),
		newStatsCmd(load),
		newAnalyzeCmd(load),
		newTrainCmd(load),
		newProbeEmbedderCmd(load),
	)
	return rootCmd
}

// loader reads configuration and builds the logger
type loader func() (*config.Config, *zap.Logger, error)

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// withEngine opens the engine, runs fn and closes it
func withEngine(load loader, fn func(ctx context.Context, e *engine.Engine) error) error {
	cfg, logger, err := load()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signalContext()
	defer cancel()

	e, err := engine.Open(ctx, cfg, engine.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}
	defer func() {
		if err := e.Close(); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}()

	return fn(ctx, e)
}

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/ondemand-crawler/internal/config"
	"github.com/JakeFAU/ondemand-crawler/internal/logging"
	"github.com/JakeFAU/ondemand-crawler/internal/server"
)

var cfgFile string

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawlerd",
		Short: "On-demand news, video and social crawler.",
		Long: `crawlerd runs a query across news, video and social sources,
stores the deduplicated results and serves them over HTTP and WebSocket.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); CRAWLER_* env vars override it")
	cmd.AddCommand(newServeCmd(), newCrawlCmd())
	return cmd
}

// bootstrap loads config, installs the global logger and builds the App.
func bootstrap(ctx context.Context) (*server.App, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app, err := server.Build(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, fmt.Errorf("build application: %w", err)
	}
	return app, logger, nil
}

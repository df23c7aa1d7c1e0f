package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCrawlCmd() *cobra.Command {
	var query string
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one query in-process and prints the results as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			query = strings.TrimSpace(query)
			if query == "" {
				return errors.New("--query is required")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, logger, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := app.Close(context.WithoutCancel(ctx)); cerr != nil {
					logger.Warn("close application failed", zap.Error(cerr))
				}
			}()

			status, err := app.Crawl(ctx, query)
			if err != nil {
				return fmt.Errorf("crawl %q: %w", query, err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(status); err != nil {
				return fmt.Errorf("write results: %w", err)
			}
			logger.Info("crawl command finished", zap.Int("results", len(status.Results)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "search query")
	return cmd
}

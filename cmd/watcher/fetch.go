package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"contractWatch/internal/config"
	"contractWatch/internal/poll"
	"contractWatch/internal/storage"
)

func runFetch(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, err := openSource(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer src.Close()

	result, err := src.fetcher.Fetch(ctx, src.query)
	if err != nil {
		return err
	}
	records := poll.SortNewestFirst(result.Records)

	logger.Info("fetch complete",
		zap.Int("records", len(records)),
		zap.Uint64("from", result.FromBlock),
		zap.Uint64("to", result.ToBlock),
	)

	if cfg.Out != "" {
		if err := storage.NewJsonlStorage(cfg.Out).PutLogBatch(ctx, records); err != nil {
			return err
		}
	}
	return printRecords(cmd.OutOrStdout(), records)
}

package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "watcher",
		Short:        "Contract event fetcher and poller",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch, decode and print contract events once",
		RunE:  runFetch,
	}
	addSourceFlags(fetchCmd.Flags())
	fetchCmd.Flags().String("out", "", "also append records to this JSONL path")
	root.AddCommand(fetchCmd)

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll contract events and merge new blocks as they arrive",
		RunE:  runWatch,
	}
	addSourceFlags(watchCmd.Flags())
	watchCmd.Flags().Bool("watch", true, "poll for new blocks after the initial fetch")
	watchCmd.Flags().Bool("enabled", true, "run the initial fetch")
	watchCmd.Flags().Duration("interval", 30*time.Second, "delta check interval")
	watchCmd.Flags().String("name", "", "watcher name for state and metrics (default <contract>.<event>)")
	watchCmd.Flags().String("out", "", "append new records to this JSONL path")
	watchCmd.Flags().String("pg-dsn", "", "Postgres DSN for records and watcher state")
	watchCmd.Flags().String("redis-addr", "", "Redis address for records and watcher state")
	watchCmd.Flags().String("checkpoint", "", "checkpoint file for resuming")
	watchCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address")
	root.AddCommand(watchCmd)

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a buy/sell scenario on an in-memory chain and print its events",
		RunE:  runSimulate,
	}
	simulateCmd.Flags().Bool("block", true, "attach block summaries")
	simulateCmd.Flags().Bool("transaction", true, "attach transactions")
	simulateCmd.Flags().Bool("receipt", true, "attach receipts")
	simulateCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(simulateCmd)

	return root
}

func addSourceFlags(flags *pflag.FlagSet) {
	flags.String("network", "localhost", "network name (localhost, hardhat, mainnet, sepolia, ...)")
	flags.String("rpc", "", "RPC URL, overrides the hosted endpoint")
	flags.String("api-key", "", "hosted RPC provider key")
	flags.Uint64("chain-id", 0, "chain id, 0 asks the node")
	flags.String("contracts", "./deployments.json", "deployments file")
	flags.String("contract", "Vendor", "contract name")
	flags.String("address", "", "contract address, skips the deployments file")
	flags.String("event", "BuyTokens", "event name")
	flags.Uint64("from", 0, "start block (inclusive)")
	flags.String("to", "latest", "end block (inclusive) or latest")
	flags.StringSlice("filter", nil, "indexed argument filter name=value (repeatable)")
	flags.Bool("block", false, "attach block summaries")
	flags.Bool("transaction", false, "attach transactions")
	flags.Bool("receipt", false, "attach receipts")
	flags.Uint64("batch-size", 2000, "blocks per log query, 0 for one query")
	flags.Int("concurrency", 8, "concurrent enrichment lookups")
	flags.Int("max-retries", 3, "maximum retry attempts per node call")
	flags.Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

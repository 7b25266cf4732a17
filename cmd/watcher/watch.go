package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"contractWatch/internal/config"
	"contractWatch/internal/metrics"
	"contractWatch/internal/model"
	"contractWatch/internal/poll"
	"contractWatch/internal/storage"
	"contractWatch/internal/storage/postgres"
	"contractWatch/internal/storage/redisstore"
)

func runWatch(cmd *cobra.Command, _ []string) error {
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

	var (
		sinks  storage.Multi
		states storage.MultiState
		seed   []model.LogRecord
	)

	address := src.contract.Address.Hex()
	if cfg.Out != "" {
		sinks = append(sinks, storage.NewJsonlStorage(cfg.Out))
		stored, err := storage.ReadJsonl(cfg.Out)
		if err != nil {
			return err
		}
		seed = ownRecords(stored, address, cfg.Event)
	}
	if cfg.Checkpoint != "" {
		states = append(states, storage.NewCheckpointStore(cfg.Checkpoint))
	}
	if cfg.PGDSN != "" {
		pg, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		sinks = append(sinks, pg)
		states = append(states, pg)
		if seed == nil {
			stored, err := pg.Records(ctx, src.chainID, address, cfg.Event)
			if err != nil {
				return err
			}
			seed = ownRecords(stored, address, cfg.Event)
		}
	}
	if cfg.RedisAddr != "" {
		rdb, err := redisstore.NewStore(cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer rdb.Close()
		if err := rdb.Ping(ctx); err != nil {
			return err
		}
		sinks = append(sinks, rdb)
		states = append(states, rdb)
		if seed == nil {
			stored, err := rdb.Records(ctx, src.chainID, address, cfg.Event)
			if err != nil {
				return err
			}
			seed = ownRecords(stored, address, cfg.Event)
		}
	}

	pollMetrics := metrics.NewPoll()
	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux(pollMetrics)}
		go func() {
			logger.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	opts := poll.Options{
		Name:      cfg.Name,
		Address:   src.query.Address,
		ABI:       src.query.ABI,
		EventName: src.query.EventName,
		FromBlock: src.query.FromBlock,
		ToBlock:   src.query.ToBlock,
		Filters:   src.query.Filters,
		Enrich:    src.query.Enrich,
		Enabled:   cfg.Enabled,
		Watch:     cfg.Watch,
		Interval:  cfg.Interval,
		Seed:      seed,
		Metrics:   pollMetrics,
		Logger:    logger,
		OnUpdate: func(state model.PollState) {
			switch state.Status {
			case model.StatusError:
				logger.Warn("poll error", zap.Error(state.Err), zap.Int("records", len(state.Records)))
			case model.StatusSuccess:
				logger.Info("poll updated",
					zap.Int("records", len(state.Records)),
					zap.Uint64("last_known_block", state.LastKnownBlock),
				)
			}
		},
	}
	if len(sinks) > 0 {
		opts.Sink = sinks
	}
	if len(states) > 0 {
		opts.State = states
	}

	watcher, err := poll.New(src.fetcher, opts)
	if err != nil {
		return err
	}
	defer watcher.Close()

	logger.Info("watcher start",
		zap.String("watcher", cfg.Name),
		zap.String("watcher_id", watcher.ID().String()),
		zap.Bool("watch", cfg.Watch),
		zap.Duration("interval", cfg.Interval),
		zap.Int("sinks", len(sinks)),
		zap.Int("state_stores", len(states)),
	)
	if err := watcher.Start(ctx); err != nil {
		return err
	}

	if !cfg.Watch {
		return finalState(cmd, watcher.State())
	}

	<-ctx.Done()
	logger.Info("shutting down")
	watcher.Close()
	return finalState(cmd, watcher.State())
}

func finalState(cmd *cobra.Command, state model.PollState) error {
	if err := printRecords(cmd.OutOrStdout(), state.Records); err != nil {
		return err
	}
	if state.IsError() {
		return state.Err
	}
	return nil
}

func metricsMux(m *metrics.Poll) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// ownRecords keeps the records of one contract event, newest first. It returns
// nil when none match so the watcher fetches the full range.
func ownRecords(records []model.LogRecord, address, event string) []model.LogRecord {
	var out []model.LogRecord
	for _, record := range records {
		if strings.EqualFold(record.Address, address) && record.EventName == event {
			out = append(out, record)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return poll.Merge(nil, out)
}

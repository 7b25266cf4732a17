package events

import (
	"context"
	"fmt"
	"iter"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"contractWatch/internal/model"
)

// Backend is the subset of the node API the fetcher uses.
// *chain.Client and *devchain.Chain both satisfy it.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Config holds fetcher settings shared by every query.
type Config struct {
	ChainID     uint64
	BatchSize   uint64
	Retry       RetryPolicy
	Concurrency int
}

// DefaultConfig returns the fetcher defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize: 2000,
		Retry: RetryPolicy{
			MaxRetries: 3,
			Backoff:    500 * time.Millisecond,
			MaxBackoff: 10 * time.Second,
		},
		Concurrency: 8,
	}
}

// Query selects the logs of one contract event.
type Query struct {
	Address   common.Address
	ABI       abi.ABI
	EventName string
	FromBlock uint64
	// ToBlock is inclusive; nil means the node's latest block.
	ToBlock *uint64
	Filters map[string][]interface{}
	Enrich  Enrichment
}

// Result is a materialized fetch.
type Result struct {
	Records   []model.LogRecord
	FromBlock uint64
	ToBlock   uint64
}

// Fetcher queries, decodes and enriches contract event logs.
type Fetcher struct {
	backend Backend
	cfg     Config
	logger  *zap.Logger
}

// NewFetcher builds a Fetcher with its dependencies.
func NewFetcher(backend Backend, cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Fetcher{backend: backend, cfg: cfg, logger: logger}
}

// LatestBlock returns the node's current block height.
func (f *Fetcher) LatestBlock(ctx context.Context) (uint64, error) {
	var head uint64
	err := withRetry(ctx, f.cfg.Retry, func(ctx context.Context) error {
		var err error
		head, err = f.backend.BlockNumber(ctx)
		return err
	})
	return head, err
}

// Fetch resolves the query's block range and collects every matching record in
// node order. Result.ToBlock is the concrete upper bound that was queried; when
// FromBlock lies beyond it the result is empty and ToBlock is FromBlock-1.
func (f *Fetcher) Fetch(ctx context.Context, q Query) (Result, error) {
	event, topics, err := f.prepare(q)
	if err != nil {
		return Result{}, err
	}

	to, err := f.resolveTo(ctx, q)
	if err != nil {
		return Result{}, err
	}

	result := Result{FromBlock: q.FromBlock, ToBlock: to}
	if q.FromBlock > to {
		if q.FromBlock > 0 {
			result.ToBlock = q.FromBlock - 1
		}
		return result, nil
	}

	for record, err := range f.logs(ctx, q, event, topics, q.FromBlock, to) {
		if err != nil {
			return Result{}, err
		}
		result.Records = append(result.Records, record)
	}
	return result, nil
}

// Logs returns a lazy sequence of records. Node requests happen as the sequence
// is consumed, one batch at a time; iteration stops at the first error.
func (f *Fetcher) Logs(ctx context.Context, q Query) iter.Seq2[model.LogRecord, error] {
	return func(yield func(model.LogRecord, error) bool) {
		event, topics, err := f.prepare(q)
		if err != nil {
			yield(model.LogRecord{}, err)
			return
		}
		to, err := f.resolveTo(ctx, q)
		if err != nil {
			yield(model.LogRecord{}, err)
			return
		}
		if q.FromBlock > to {
			return
		}
		for record, err := range f.logs(ctx, q, event, topics, q.FromBlock, to) {
			if !yield(record, err) || err != nil {
				return
			}
		}
	}
}

func (f *Fetcher) prepare(q Query) (abi.Event, [][]common.Hash, error) {
	event, err := LookupEvent(q.ABI, q.EventName)
	if err != nil {
		return abi.Event{}, nil, err
	}
	topics, err := BuildTopics(event, q.Filters)
	if err != nil {
		return abi.Event{}, nil, err
	}
	return event, topics, nil
}

func (f *Fetcher) resolveTo(ctx context.Context, q Query) (uint64, error) {
	if q.ToBlock != nil {
		return *q.ToBlock, nil
	}
	head, err := f.LatestBlock(ctx)
	if err != nil {
		return 0, fmt.Errorf("get latest block: %w", err)
	}
	return head, nil
}

func (f *Fetcher) logs(
	ctx context.Context,
	q Query,
	event abi.Event,
	topics [][]common.Hash,
	from uint64,
	to uint64,
) iter.Seq2[model.LogRecord, error] {
	return func(yield func(model.LogRecord, error) bool) {
		ranges, err := SplitRange(from, to, f.cfg.BatchSize)
		if err != nil {
			yield(model.LogRecord{}, err)
			return
		}

		blocks := newBlockCache()
		for _, blockRange := range ranges {
			records, err := f.fetchRange(ctx, q, event, topics, blockRange, blocks)
			if err != nil {
				yield(model.LogRecord{}, err)
				return
			}
			for _, record := range records {
				if !yield(record, nil) {
					return
				}
			}
		}
	}
}

func (f *Fetcher) fetchRange(
	ctx context.Context,
	q Query,
	event abi.Event,
	topics [][]common.Hash,
	blockRange BlockRange,
	blocks *blockCache,
) ([]model.LogRecord, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(blockRange.From),
		ToBlock:   new(big.Int).SetUint64(blockRange.To),
		Addresses: []common.Address{q.Address},
		Topics:    topics,
	}

	f.logger.Debug("fetch logs",
		zap.String("event", event.Name),
		zap.String("address", q.Address.Hex()),
		zap.Uint64("from", blockRange.From),
		zap.Uint64("to", blockRange.To),
	)

	var logs []types.Log
	err := withRetry(ctx, f.cfg.Retry, func(ctx context.Context) error {
		var err error
		logs, err = f.backend.FilterLogs(ctx, query)
		if err != nil {
			f.logger.Warn("filter logs failed", zap.Error(err), zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("filter logs %d-%d: %w", blockRange.From, blockRange.To, err)
	}

	records := make([]model.LogRecord, len(logs))
	for i, log := range logs {
		args, err := DecodeArgs(event, log)
		if err != nil {
			f.logger.Warn("decode log failed",
				zap.Error(err),
				zap.String("tx_hash", log.TxHash.Hex()),
				zap.Uint("log_index", log.Index),
			)
		}
		records[i] = buildLogRecord(f.cfg.ChainID, event.Name, log, args)
	}

	if !q.Enrich.Any() || len(records) == 0 {
		return records, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Concurrency)
	for i := range records {
		g.Go(func() error {
			f.enrich(gctx, &records[i], q.Enrich, blocks)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"contractWatch/internal/chain"
	"contractWatch/internal/config"
	"contractWatch/internal/contracts"
	"contractWatch/internal/events"
	"contractWatch/internal/exchange"
	"contractWatch/internal/model"
)

// source is a connected node plus the resolved contract event to read.
type source struct {
	client   *chain.Client
	chainID  uint64
	contract contracts.Contract
	query    events.Query
	fetcher  *events.Fetcher
}

func (s *source) Close() {
	s.client.Close()
}

var builtinABIs = map[string]func() (abi.ABI, error){
	"Vendor":    exchange.VendorABI,
	"ERC20":     exchange.ERC20ABI,
	"YourToken": exchange.ERC20ABI,
}

func openSource(ctx context.Context, cfg config.Config, logger *zap.Logger) (*source, error) {
	rpcURL, err := chain.ResolveRPCURL(cfg.Network, cfg.RPCURL, cfg.APIKey)
	if err != nil {
		return nil, err
	}

	client, err := chain.NewClient(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("connect rpc: %w", err)
	}

	chainID := cfg.ChainID
	if chainID == 0 {
		id, err := client.ChainID(ctx)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("get chain id: %w", err)
		}
		if !id.IsUint64() {
			client.Close()
			return nil, fmt.Errorf("chain id does not fit in uint64: %s", id)
		}
		chainID = id.Uint64()
	}

	contract, err := resolveContract(cfg, chainID)
	if err != nil {
		client.Close()
		return nil, err
	}

	event, err := events.LookupEvent(contract.ABI, cfg.Event)
	if err != nil {
		client.Close()
		return nil, err
	}
	filters, err := events.ParseFilters(event, cfg.Filters)
	if err != nil {
		client.Close()
		return nil, err
	}

	fetchCfg := events.DefaultConfig()
	fetchCfg.ChainID = chainID
	fetchCfg.BatchSize = cfg.BatchSize
	fetchCfg.Concurrency = cfg.Concurrency
	fetchCfg.Retry.MaxRetries = cfg.MaxRetries
	fetchCfg.Retry.Backoff = cfg.RetryBackoff

	logger.Info("source ready",
		zap.String("rpc", rpcURL),
		zap.Uint64("chain_id", chainID),
		zap.String("contract", contract.Name),
		zap.String("address", contract.Address.Hex()),
		zap.String("event", cfg.Event),
		zap.Int("filters", len(filters)),
	)

	return &source{
		client:   client,
		chainID:  chainID,
		contract: contract,
		fetcher:  events.NewFetcher(client, fetchCfg, logger),
		query: events.Query{
			Address:   contract.Address,
			ABI:       contract.ABI,
			EventName: cfg.Event,
			FromBlock: cfg.FromBlock,
			ToBlock:   cfg.ToBlock,
			Filters:   filters,
			Enrich: events.Enrichment{
				Block:       cfg.Block,
				Transaction: cfg.Transaction,
				Receipt:     cfg.Receipt,
			},
		},
	}, nil
}

func resolveContract(cfg config.Config, chainID uint64) (contracts.Contract, error) {
	if cfg.Address != "" {
		if !common.IsHexAddress(cfg.Address) {
			return contracts.Contract{}, fmt.Errorf("invalid address %q", cfg.Address)
		}
		load, ok := builtinABIs[cfg.Contract]
		if !ok {
			return contracts.Contract{}, fmt.Errorf("no built-in abi for %s, use a deployments file", cfg.Contract)
		}
		parsed, err := load()
		if err != nil {
			return contracts.Contract{}, err
		}
		return contracts.Contract{
			Name:    cfg.Contract,
			ChainID: chainID,
			Address: common.HexToAddress(cfg.Address),
			ABI:     parsed,
		}, nil
	}

	registry, err := contracts.LoadFile(cfg.Contracts)
	if err != nil {
		return contracts.Contract{}, err
	}
	return registry.Resolve(chainID, cfg.Contract)
}

func printRecords(w io.Writer, records []model.LogRecord) error {
	enc := json.NewEncoder(w)
	for _, record := range records {
		if err := enc.Encode(record); err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
	}
	return nil
}

package events

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"contractWatch/internal/model"
)

// Enrichment selects the optional lookups attached to each record.
type Enrichment struct {
	Block       bool
	Transaction bool
	Receipt     bool
}

// Any reports whether any lookup is enabled.
func (e Enrichment) Any() bool {
	return e.Block || e.Transaction || e.Receipt
}

// blockCache keeps block summaries for the lifetime of one fetch.
type blockCache struct {
	mu   sync.RWMutex
	data map[uint64]*model.BlockInfo
}

func newBlockCache() *blockCache {
	return &blockCache{data: make(map[uint64]*model.BlockInfo)}
}

func (c *blockCache) get(ctx context.Context, backend Backend, number uint64) (*model.BlockInfo, error) {
	c.mu.RLock()
	info, ok := c.data[number]
	c.mu.RUnlock()
	if ok {
		return info, nil
	}

	block, err := backend.BlockByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return nil, err
	}

	info = blockInfo(block)
	c.mu.Lock()
	c.data[number] = info
	c.mu.Unlock()
	return info, nil
}

// enrich runs the enabled lookups concurrently. Each lookup is best effort: a
// failure is logged and leaves its field nil.
func (f *Fetcher) enrich(ctx context.Context, record *model.LogRecord, opts Enrichment, blocks *blockCache) {
	var g errgroup.Group
	txHash := common.HexToHash(record.TxHash)

	if opts.Block {
		g.Go(func() error {
			info, err := blocks.get(ctx, f.backend, record.BlockNumber)
			if err != nil {
				f.logger.Warn("block lookup failed", zap.Error(err), zap.Uint64("block_number", record.BlockNumber))
				return nil
			}
			record.Block = info
			return nil
		})
	}

	if opts.Transaction {
		g.Go(func() error {
			tx, _, err := f.backend.TransactionByHash(ctx, txHash)
			if err != nil {
				f.logger.Warn("transaction lookup failed", zap.Error(err), zap.String("tx_hash", record.TxHash))
				return nil
			}
			record.Transaction = transactionInfo(tx)
			return nil
		})
	}

	if opts.Receipt {
		g.Go(func() error {
			receipt, err := f.backend.TransactionReceipt(ctx, txHash)
			if err != nil {
				f.logger.Warn("receipt lookup failed", zap.Error(err), zap.String("tx_hash", record.TxHash))
				return nil
			}
			record.Receipt = receiptInfo(receipt)
			return nil
		})
	}

	_ = g.Wait()
}

package devchain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"contractWatch/internal/exchange"
)

const (
	genesisTime  uint64 = 1700000000
	blockSeconds uint64 = 12
	gasLimit     uint64 = 30_000_000
	txGas        uint64 = 200_000
)

var gasPrice = big.NewInt(1_000_000_000)

type txRecord struct {
	tx      *types.Transaction
	receipt *types.Receipt
}

// Chain is an in-memory development chain. Every transaction is signed by a
// locally held key and mined into its own block, so transaction hashes are
// unique and senders are recoverable. Gas is accounted but never charged.
type Chain struct {
	mu      sync.RWMutex
	chainID *big.Int
	signer  types.Signer
	headers []*types.Header
	txs     map[common.Hash]*txRecord
	logs    []types.Log
	keys    map[common.Address]*ecdsa.PrivateKey
	nonces  map[common.Address]uint64
	ledger  *exchange.Ledger
}

// New creates a chain holding only its genesis block.
func New(chainID uint64) *Chain {
	id := new(big.Int).SetUint64(chainID)
	genesis := &types.Header{
		Number:     new(big.Int),
		Time:       genesisTime,
		GasLimit:   gasLimit,
		Difficulty: new(big.Int),
	}
	return &Chain{
		chainID: id,
		signer:  types.NewEIP155Signer(id),
		headers: []*types.Header{genesis},
		txs:     make(map[common.Hash]*txRecord),
		keys:    make(map[common.Address]*ecdsa.PrivateKey),
		nonces:  make(map[common.Address]uint64),
		ledger:  exchange.NewLedger(),
	}
}

// NewAccount creates a funded externally owned account.
func (c *Chain) NewAccount(balance *big.Int) (common.Address, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return common.Address{}, fmt.Errorf("generate key: %w", err)
	}
	address := crypto.PubkeyToAddress(key.PublicKey)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys[address] = key
	if balance != nil && balance.Sign() > 0 {
		c.ledger.Credit(address, balance)
	}
	return address, nil
}

// BalanceAt returns the ETH balance of an account in wei.
func (c *Chain) BalanceAt(account common.Address) *big.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ledger.BalanceOf(account)
}

// Ledger exposes the chain's ETH ledger. Callers must not mutate it while
// transactions are being executed.
func (c *Chain) Ledger() *exchange.Ledger {
	return c.ledger
}

// Mine appends n empty blocks.
func (c *Chain) Mine(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i < n; i++ {
		c.mineLocked(0)
	}
}

// ChainID returns the chain id.
func (c *Chain) ChainID(_ context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.chainID), nil
}

// BlockNumber returns the latest block number.
func (c *Chain) BlockNumber(_ context.Context) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.headLocked(), nil
}

// HeaderByNumber returns a block header; nil selects the latest block.
func (c *Chain) HeaderByNumber(_ context.Context, number *big.Int) (*types.Header, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	header, err := c.headerLocked(number)
	if err != nil {
		return nil, err
	}
	return types.CopyHeader(header), nil
}

// BlockByNumber returns a block; nil selects the latest block. Bodies are not
// materialized, callers get the header fields.
func (c *Chain) BlockByNumber(_ context.Context, number *big.Int) (*types.Block, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	header, err := c.headerLocked(number)
	if err != nil {
		return nil, err
	}
	return types.NewBlockWithHeader(header), nil
}

// TransactionByHash returns a mined transaction. Nothing is ever pending.
func (c *Chain) TransactionByHash(_ context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.txs[hash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	return rec.tx, false, nil
}

// TransactionReceipt returns the receipt of a mined transaction.
func (c *Chain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.txs[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return rec.receipt, nil
}

// FilterLogs returns the logs matching query, in chain order.
func (c *Chain) FilterLogs(_ context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	head := c.headLocked()
	from, to := head, head
	if query.BlockHash != nil {
		found := false
		for _, header := range c.headers {
			if header.Hash() == *query.BlockHash {
				from, to = header.Number.Uint64(), header.Number.Uint64()
				found = true
				break
			}
		}
		if !found {
			return nil, ethereum.NotFound
		}
	} else {
		if query.FromBlock != nil && query.FromBlock.Sign() >= 0 {
			from = query.FromBlock.Uint64()
		}
		if query.ToBlock != nil && query.ToBlock.Sign() >= 0 {
			to = query.ToBlock.Uint64()
		}
	}
	if from > to {
		return nil, fmt.Errorf("invalid block range %d-%d", from, to)
	}

	out := make([]types.Log, 0)
	for _, log := range c.logs {
		if log.BlockNumber < from || log.BlockNumber > to {
			continue
		}
		if matchLog(log, query.Addresses, query.Topics) {
			out = append(out, log)
		}
	}
	return out, nil
}

func matchLog(log types.Log, addresses []common.Address, topics [][]common.Hash) bool {
	if len(addresses) > 0 {
		found := false
		for _, address := range addresses {
			if address == log.Address {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	for i, set := range topics {
		if len(set) == 0 {
			continue
		}
		if i >= len(log.Topics) {
			return false
		}
		found := false
		for _, topic := range set {
			if topic == log.Topics[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (c *Chain) headLocked() uint64 {
	return uint64(len(c.headers) - 1)
}

func (c *Chain) headerLocked(number *big.Int) (*types.Header, error) {
	if number == nil || number.Sign() < 0 {
		return c.headers[len(c.headers)-1], nil
	}
	if !number.IsUint64() || number.Uint64() > c.headLocked() {
		return nil, ethereum.NotFound
	}
	return c.headers[number.Uint64()], nil
}

func (c *Chain) mineLocked(gasUsed uint64) *types.Header {
	parent := c.headers[len(c.headers)-1]
	number := uint64(len(c.headers))
	header := &types.Header{
		ParentHash: parent.Hash(),
		Number:     new(big.Int).SetUint64(number),
		Time:       genesisTime + number*blockSeconds,
		GasLimit:   gasLimit,
		GasUsed:    gasUsed,
		Difficulty: new(big.Int),
	}
	c.headers = append(c.headers, header)
	return header
}

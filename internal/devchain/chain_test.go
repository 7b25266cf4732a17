package devchain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contractWatch/internal/exchange"
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(params.Ether))
}

type fixture struct {
	chain  *Chain
	owner  common.Address
	buyer  common.Address
	token  *exchange.Token
	vendor *exchange.Vendor
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	chain := New(31337)

	owner, err := chain.NewAccount(ether(100))
	require.NoError(t, err)
	buyer, err := chain.NewAccount(ether(100))
	require.NoError(t, err)

	token, err := chain.DeployToken(owner, "Gold", "GLD", ether(1000))
	require.NoError(t, err)
	vendor, err := chain.DeployVendor(owner, token)
	require.NoError(t, err)
	_, err = chain.TransferToken(token, owner, vendor.Address, ether(1000))
	require.NoError(t, err)

	return fixture{chain: chain, owner: owner, buyer: buyer, token: token, vendor: vendor}
}

func TestChainMinesOneBlockPerTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	head, err := f.chain.BlockNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), head)

	receipt, err := f.chain.BuyTokens(f.vendor, f.buyer, ether(1))
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
	assert.Equal(t, uint64(4), receipt.BlockNumber.Uint64())
	require.Len(t, receipt.Logs, 2)
	assert.Equal(t, uint(0), receipt.Logs[0].Index)
	assert.Equal(t, uint(1), receipt.Logs[1].Index)

	block, err := f.chain.BlockByNumber(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, receipt.BlockHash, block.Hash())

	parent, err := f.chain.BlockByNumber(ctx, big.NewInt(3))
	require.NoError(t, err)
	assert.Equal(t, parent.Hash(), block.ParentHash())

	_, err = f.chain.BlockByNumber(ctx, big.NewInt(99))
	assert.True(t, errors.Is(err, ethereum.NotFound))
}

func TestChainTransactionSender(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	receipt, err := f.chain.BuyTokens(f.vendor, f.buyer, ether(2))
	require.NoError(t, err)

	tx, pending, err := f.chain.TransactionByHash(ctx, receipt.TxHash)
	require.NoError(t, err)
	assert.False(t, pending)
	assert.Equal(t, f.vendor.Address, *tx.To())
	assert.Equal(t, ether(2).String(), tx.Value().String())

	sender, err := types.Sender(types.NewEIP155Signer(big.NewInt(31337)), tx)
	require.NoError(t, err)
	assert.Equal(t, f.buyer, sender)

	_, _, err = f.chain.TransactionByHash(ctx, common.Hash{1})
	assert.True(t, errors.Is(err, ethereum.NotFound))
}

func TestChainRevertMinesFailedReceipt(t *testing.T) {
	f := newFixture(t)

	receipt, err := f.chain.Withdraw(f.vendor, f.buyer)
	require.ErrorIs(t, err, exchange.ErrNotOwner)
	require.NotNil(t, receipt)
	assert.Equal(t, types.ReceiptStatusFailed, receipt.Status)
	assert.Empty(t, receipt.Logs)
}

func TestChainFilterLogs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.chain.BuyTokens(f.vendor, f.buyer, ether(1))
	require.NoError(t, err)
	_, err = f.chain.BuyTokens(f.vendor, f.owner, ether(1))
	require.NoError(t, err)

	vendorABI, err := exchange.VendorABI()
	require.NoError(t, err)
	buyID := vendorABI.Events["BuyTokens"].ID

	logs, err := f.chain.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: big.NewInt(0),
		ToBlock:   big.NewInt(10),
		Addresses: []common.Address{f.vendor.Address},
		Topics:    [][]common.Hash{{buyID}},
	})
	require.NoError(t, err)
	assert.Len(t, logs, 2)

	logs, err = f.chain.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: big.NewInt(0),
		ToBlock:   big.NewInt(10),
		Addresses: []common.Address{f.vendor.Address},
		Topics:    [][]common.Hash{{buyID}, {common.BytesToHash(f.buyer.Bytes())}},
	})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, uint64(4), logs[0].BlockNumber)

	logs, err = f.chain.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: big.NewInt(5),
		ToBlock:   big.NewInt(5),
	})
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

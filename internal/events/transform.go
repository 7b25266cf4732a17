package events

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"contractWatch/internal/model"
)

func buildLogRecord(chainID uint64, eventName string, log types.Log, args map[string]interface{}) model.LogRecord {
	topics := make([]string, 0, len(log.Topics))
	for _, topic := range log.Topics {
		topics = append(topics, topic.Hex())
	}

	return model.LogRecord{
		ChainID:     chainID,
		Address:     log.Address.Hex(),
		EventName:   eventName,
		BlockNumber: log.BlockNumber,
		BlockHash:   log.BlockHash.Hex(),
		TxHash:      log.TxHash.Hex(),
		TxIndex:     uint64(log.TxIndex),
		LogIndex:    uint64(log.Index),
		Topics:      topics,
		Data:        hexutil.Encode(log.Data),
		Args:        args,
		Removed:     log.Removed,
	}
}

func blockInfo(block *types.Block) *model.BlockInfo {
	return &model.BlockInfo{
		Number:     block.NumberU64(),
		Hash:       block.Hash().Hex(),
		ParentHash: block.ParentHash().Hex(),
		Timestamp:  block.Time(),
		GasUsed:    block.GasUsed(),
		GasLimit:   block.GasLimit(),
	}
}

func transactionInfo(tx *types.Transaction) *model.TransactionInfo {
	info := &model.TransactionInfo{
		Hash:     tx.Hash().Hex(),
		Nonce:    tx.Nonce(),
		Value:    tx.Value().String(),
		Gas:      tx.Gas(),
		GasPrice: tx.GasPrice().String(),
		Input:    hexutil.Encode(tx.Data()),
	}
	if to := tx.To(); to != nil {
		info.To = to.Hex()
	}
	if from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx); err == nil {
		info.From = from.Hex()
	}
	return info
}

func receiptInfo(receipt *types.Receipt) *model.ReceiptInfo {
	info := &model.ReceiptInfo{
		Status:            receipt.Status,
		GasUsed:           receipt.GasUsed,
		CumulativeGasUsed: receipt.CumulativeGasUsed,
		TransactionIndex:  uint64(receipt.TransactionIndex),
	}
	if receipt.ContractAddress != (common.Address{}) {
		info.ContractAddress = receipt.ContractAddress.Hex()
	}
	return info
}

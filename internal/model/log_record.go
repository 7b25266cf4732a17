package model

import (
	"encoding/json"
	"strings"
)

// LogRecord is the normalized representation of a decoded contract event log.
type LogRecord struct {
	ChainID     uint64                 `json:"chain_id,omitempty"`
	Address     string                 `json:"address"`
	EventName   string                 `json:"event_name"`
	BlockNumber uint64                 `json:"block_number"`
	BlockHash   string                 `json:"block_hash"`
	TxHash      string                 `json:"tx_hash"`
	TxIndex     uint64                 `json:"tx_index"`
	LogIndex    uint64                 `json:"log_index"`
	Topics      []string               `json:"topics"`
	Data        string                 `json:"data"`
	Args        map[string]interface{} `json:"args,omitempty"`
	Removed     bool                   `json:"removed"`

	Block       *BlockInfo       `json:"block,omitempty"`
	Transaction *TransactionInfo `json:"transaction,omitempty"`
	Receipt     *ReceiptInfo     `json:"receipt,omitempty"`
}

// LogKey identifies a single on-chain log.
type LogKey struct {
	TxHash   string
	LogIndex uint64
}

// Key returns the identity key of the record. Hashes compare case-insensitively.
func (lr LogRecord) Key() LogKey {
	return LogKey{TxHash: strings.ToLower(lr.TxHash), LogIndex: lr.LogIndex}
}

// MarshalJSON encodes the record with its hashes lowercased, so the persisted
// form matches Key.
func (lr LogRecord) MarshalJSON() ([]byte, error) {
	type Alias LogRecord
	return json.Marshal(Alias(lr.normalized()))
}

// UnmarshalJSON decodes a LogRecord and lowercases its hashes.
func (lr *LogRecord) UnmarshalJSON(data []byte) error {
	type Alias LogRecord
	var a Alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*lr = LogRecord(a).normalized()
	return nil
}

func (lr LogRecord) normalized() LogRecord {
	lr.TxHash = strings.ToLower(lr.TxHash)
	lr.BlockHash = strings.ToLower(lr.BlockHash)
	return lr
}

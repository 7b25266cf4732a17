package model

// BlockInfo summarizes the block that contains a log.
type BlockInfo struct {
	Number     uint64 `json:"number"`
	Hash       string `json:"hash"`
	ParentHash string `json:"parent_hash"`
	Timestamp  uint64 `json:"timestamp"`
	GasUsed    uint64 `json:"gas_used"`
	GasLimit   uint64 `json:"gas_limit"`
}

// TransactionInfo summarizes the transaction that emitted a log.
// Value and GasPrice are base-10 strings to keep uint256 precision in JSON.
type TransactionInfo struct {
	Hash     string `json:"hash"`
	From     string `json:"from,omitempty"`
	Nonce    uint64 `json:"nonce"`
	To       string `json:"to,omitempty"`
	Value    string `json:"value"`
	Gas      uint64 `json:"gas"`
	GasPrice string `json:"gas_price"`
	Input    string `json:"input"`
}

// ReceiptInfo summarizes the receipt of the transaction that emitted a log.
type ReceiptInfo struct {
	Status            uint64 `json:"status"`
	GasUsed           uint64 `json:"gas_used"`
	CumulativeGasUsed uint64 `json:"cumulative_gas_used"`
	ContractAddress   string `json:"contract_address,omitempty"`
	TransactionIndex  uint64 `json:"transaction_index"`
}

package devchain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"contractWatch/internal/exchange"
)

// call is the state transition of one transaction. It returns the emitted
// logs or a revert error; on error it must not have changed any state.
type call func(created common.Address) ([]*types.Log, error)

// execute signs a transaction from sender, runs it and mines it into a new
// block. A reverted call still mines: the receipt has failed status and no
// logs, and the revert error is returned alongside it.
func (c *Chain) execute(sender common.Address, to *common.Address, value *big.Int, input []byte, run call) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key, ok := c.keys[sender]
	if !ok {
		return nil, fmt.Errorf("no key for account %s", sender.Hex())
	}
	if value == nil {
		value = new(big.Int)
	}

	nonce := c.nonces[sender]
	tx, err := types.SignTx(types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      txGas,
		To:       to,
		Value:    value,
		Data:     input,
	}), c.signer, key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	c.nonces[sender] = nonce + 1

	var created common.Address
	if to == nil {
		created = crypto.CreateAddress(sender, nonce)
	}

	logs, runErr := run(created)
	gasUsed := intrinsicGas(input)

	header := c.mineLocked(gasUsed)
	blockHash := header.Hash()
	receipt := &types.Receipt{
		Type:              types.LegacyTxType,
		Status:            types.ReceiptStatusSuccessful,
		CumulativeGasUsed: gasUsed,
		TxHash:            tx.Hash(),
		ContractAddress:   created,
		GasUsed:           gasUsed,
		BlockHash:         blockHash,
		BlockNumber:       new(big.Int).Set(header.Number),
		TransactionIndex:  0,
	}
	if runErr != nil {
		receipt.Status = types.ReceiptStatusFailed
		receipt.ContractAddress = common.Address{}
		logs = nil
	}

	for i, log := range logs {
		log.BlockNumber = header.Number.Uint64()
		log.BlockHash = blockHash
		log.TxHash = tx.Hash()
		log.TxIndex = 0
		log.Index = uint(i)
		receipt.Logs = append(receipt.Logs, log)
		c.logs = append(c.logs, *log)
	}

	c.txs[tx.Hash()] = &txRecord{tx: tx, receipt: receipt}
	return receipt, runErr
}

func intrinsicGas(input []byte) uint64 {
	return 21_000 + 16*uint64(len(input))
}

// DeployToken deploys an ERC20 and mints supply to the deployer.
func (c *Chain) DeployToken(deployer common.Address, name, symbol string, supply *big.Int) (*exchange.Token, error) {
	var token *exchange.Token
	_, err := c.execute(deployer, nil, nil, nil, func(created common.Address) ([]*types.Log, error) {
		t, err := exchange.NewToken(created, name, symbol)
		if err != nil {
			return nil, err
		}
		logs, err := t.Mint(deployer, supply)
		if err != nil {
			return nil, err
		}
		token = t
		return logs, nil
	})
	if err != nil {
		return nil, fmt.Errorf("deploy token: %w", err)
	}
	return token, nil
}

// DeployVendor deploys a vendor for token, owned by deployer.
func (c *Chain) DeployVendor(deployer common.Address, token *exchange.Token) (*exchange.Vendor, error) {
	vendorABI, err := exchange.VendorABI()
	if err != nil {
		return nil, err
	}
	ctorArgs, err := vendorABI.Pack("", token.Address)
	if err != nil {
		return nil, fmt.Errorf("pack constructor: %w", err)
	}

	var vendor *exchange.Vendor
	_, err = c.execute(deployer, nil, nil, ctorArgs, func(created common.Address) ([]*types.Log, error) {
		v, err := exchange.NewVendor(created, deployer, token, c.ledger)
		if err != nil {
			return nil, err
		}
		vendor = v
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("deploy vendor: %w", err)
	}
	return vendor, nil
}

// TransferToken sends tokens from an account.
func (c *Chain) TransferToken(token *exchange.Token, from, to common.Address, amount *big.Int) (*types.Receipt, error) {
	input, err := packERC20("transfer", to, amount)
	if err != nil {
		return nil, err
	}
	return c.execute(from, &token.Address, nil, input, func(common.Address) ([]*types.Log, error) {
		return token.Transfer(from, to, amount)
	})
}

// Approve lets spender move amount of owner's tokens.
func (c *Chain) Approve(token *exchange.Token, owner, spender common.Address, amount *big.Int) (*types.Receipt, error) {
	input, err := packERC20("approve", spender, amount)
	if err != nil {
		return nil, err
	}
	return c.execute(owner, &token.Address, nil, input, func(common.Address) ([]*types.Log, error) {
		return token.Approve(owner, spender, amount)
	})
}

// BuyTokens sends value wei to the vendor's buyTokens.
func (c *Chain) BuyTokens(vendor *exchange.Vendor, buyer common.Address, value *big.Int) (*types.Receipt, error) {
	input, err := packVendor("buyTokens")
	if err != nil {
		return nil, err
	}
	return c.execute(buyer, &vendor.Address, value, input, func(common.Address) ([]*types.Log, error) {
		return vendor.Buy(buyer, value)
	})
}

// SellTokens calls the vendor's sellTokens.
func (c *Chain) SellTokens(vendor *exchange.Vendor, seller common.Address, amount *big.Int) (*types.Receipt, error) {
	input, err := packVendor("sellTokens", amount)
	if err != nil {
		return nil, err
	}
	return c.execute(seller, &vendor.Address, nil, input, func(common.Address) ([]*types.Log, error) {
		return vendor.Sell(seller, amount)
	})
}

// Withdraw calls the vendor's withdraw.
func (c *Chain) Withdraw(vendor *exchange.Vendor, caller common.Address) (*types.Receipt, error) {
	input, err := packVendor("withdraw")
	if err != nil {
		return nil, err
	}
	return c.execute(caller, &vendor.Address, nil, input, func(common.Address) ([]*types.Log, error) {
		return vendor.Withdraw(caller)
	})
}

// TokenBalance reads an ERC20 balance under the chain lock.
func (c *Chain) TokenBalance(token *exchange.Token, account common.Address) *big.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return token.BalanceOf(account)
}

func packVendor(method string, args ...interface{}) ([]byte, error) {
	return pack(exchange.VendorABI, method, args...)
}

func packERC20(method string, args ...interface{}) ([]byte, error) {
	return pack(exchange.ERC20ABI, method, args...)
}

func pack(load func() (abi.ABI, error), method string, args ...interface{}) ([]byte, error) {
	parsed, err := load()
	if err != nil {
		return nil, err
	}
	input, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	return input, nil
}

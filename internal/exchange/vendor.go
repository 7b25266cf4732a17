package exchange

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// TokensPerEth is the fixed exchange rate.
const TokensPerEth int64 = 100

// Vendor sells and buys back tokens at a fixed rate against its own reserves.
//
// Vendor is not safe for concurrent use. Each call is one transaction: every
// precondition is checked before any balance moves, so a failed call leaves
// the token, the ledger and the vendor untouched.
type Vendor struct {
	Address common.Address
	Owner   common.Address

	token *Token
	eth   *Ledger
	rate  *big.Int
	abi   abi.ABI
}

// NewVendor deploys a vendor for token, owned by the deployer.
func NewVendor(address, deployer common.Address, token *Token, eth *Ledger) (*Vendor, error) {
	if token == nil || eth == nil {
		return nil, fmt.Errorf("vendor needs a token and a ledger")
	}
	parsed, err := VendorABI()
	if err != nil {
		return nil, errors.Wrap(err, "parse vendor abi")
	}
	return &Vendor{
		Address: address,
		Owner:   deployer,
		token:   token,
		eth:     eth,
		rate:    big.NewInt(TokensPerEth),
		abi:     parsed,
	}, nil
}

// Token returns the address of the traded token.
func (v *Vendor) Token() common.Address {
	return v.token.Address
}

// TokensPerEth returns the exchange rate.
func (v *Vendor) TokensPerEth() *big.Int {
	return new(big.Int).Set(v.rate)
}

// Buy takes value wei from caller and pays value*rate tokens from the reserve.
func (v *Vendor) Buy(caller common.Address, value *big.Int) ([]*types.Log, error) {
	if value == nil || value.Sign() <= 0 {
		return nil, errors.Wrap(ErrZeroAmount, "buy")
	}
	tokens := new(big.Int).Mul(value, v.rate)

	if err := v.eth.checkBalance(caller, value); err != nil {
		return nil, errors.Wrap(err, "buy: caller funds")
	}
	if err := v.token.checkBalance(v.Address, tokens); err != nil {
		return nil, errors.Wrap(err, "buy: vendor reserve")
	}

	transfer, err := v.token.transferLog(v.Address, caller, tokens)
	if err != nil {
		return nil, err
	}
	bought, err := emitEvent(v.abi, v.Address, "BuyTokens", []interface{}{caller}, value, tokens)
	if err != nil {
		return nil, err
	}

	v.eth.move(caller, v.Address, value)
	v.token.move(v.Address, caller, tokens)
	return []*types.Log{transfer, bought}, nil
}

// Sell pulls amount tokens from caller through its allowance and pays
// amount/rate wei from the vendor's balance.
func (v *Vendor) Sell(caller common.Address, amount *big.Int) ([]*types.Log, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, errors.Wrap(ErrZeroAmount, "sell")
	}
	wei := new(big.Int).Quo(amount, v.rate)

	if err := v.eth.checkBalance(v.Address, wei); err != nil {
		return nil, errors.Wrap(err, "sell: vendor funds")
	}
	if err := v.token.checkTransferFrom(v.Address, caller, amount); err != nil {
		return nil, errors.Wrap(err, "sell")
	}

	transfer, err := v.token.transferLog(caller, v.Address, amount)
	if err != nil {
		return nil, err
	}
	sold, err := emitEvent(v.abi, v.Address, "SellTokens", []interface{}{caller}, amount, wei)
	if err != nil {
		return nil, err
	}

	v.token.spend(v.Address, caller, amount)
	v.token.move(caller, v.Address, amount)
	v.eth.move(v.Address, caller, wei)
	return []*types.Log{transfer, sold}, nil
}

// Withdraw sends the vendor's whole ETH balance to the owner.
func (v *Vendor) Withdraw(caller common.Address) ([]*types.Log, error) {
	if caller != v.Owner {
		return nil, errors.Wrapf(ErrNotOwner, "withdraw by %s", caller.Hex())
	}
	v.eth.move(v.Address, v.Owner, v.eth.BalanceOf(v.Address))
	return nil, nil
}

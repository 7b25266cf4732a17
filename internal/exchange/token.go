package exchange

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// Token is a minimal ERC20 ledger. Mutating calls return the Transfer and
// Approval logs a real token would emit.
type Token struct {
	Address  common.Address
	Name     string
	Symbol   string
	Decimals uint8

	abi         abi.ABI
	totalSupply *big.Int
	balances    map[common.Address]*big.Int
	allowances  map[common.Address]map[common.Address]*big.Int
}

func NewToken(address common.Address, name, symbol string) (*Token, error) {
	parsed, err := ERC20ABI()
	if err != nil {
		return nil, errors.Wrap(err, "parse erc20 abi")
	}
	return &Token{
		Address:     address,
		Name:        name,
		Symbol:      symbol,
		Decimals:    18,
		abi:         parsed,
		totalSupply: new(big.Int),
		balances:    make(map[common.Address]*big.Int),
		allowances:  make(map[common.Address]map[common.Address]*big.Int),
	}, nil
}

func (t *Token) TotalSupply() *big.Int {
	return new(big.Int).Set(t.totalSupply)
}

func (t *Token) BalanceOf(account common.Address) *big.Int {
	if bal, ok := t.balances[account]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

func (t *Token) Allowance(owner, spender common.Address) *big.Int {
	if a, ok := t.allowances[owner][spender]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

// Mint creates new tokens for an account.
func (t *Token) Mint(to common.Address, amount *big.Int) ([]*types.Log, error) {
	if err := checkAmount("mint", amount); err != nil {
		return nil, err
	}
	log, err := t.transferLog(common.Address{}, to, amount)
	if err != nil {
		return nil, err
	}
	t.totalSupply = new(big.Int).Add(t.totalSupply, amount)
	t.balances[to] = new(big.Int).Add(t.BalanceOf(to), amount)
	return []*types.Log{log}, nil
}

// Approve sets the amount spender may move on behalf of owner.
func (t *Token) Approve(owner, spender common.Address, amount *big.Int) ([]*types.Log, error) {
	if err := checkAmount("approve", amount); err != nil {
		return nil, err
	}
	log, err := emitEvent(t.abi, t.Address, "Approval", []interface{}{owner, spender}, amount)
	if err != nil {
		return nil, err
	}
	t.setAllowance(owner, spender, amount)
	return []*types.Log{log}, nil
}

// Transfer moves tokens from the caller's own balance.
func (t *Token) Transfer(from, to common.Address, amount *big.Int) ([]*types.Log, error) {
	if err := checkAmount("transfer", amount); err != nil {
		return nil, err
	}
	if err := t.checkBalance(from, amount); err != nil {
		return nil, err
	}
	log, err := t.transferLog(from, to, amount)
	if err != nil {
		return nil, err
	}
	t.move(from, to, amount)
	return []*types.Log{log}, nil
}

// TransferFrom moves tokens using spender's allowance over from's balance.
func (t *Token) TransferFrom(spender, from, to common.Address, amount *big.Int) ([]*types.Log, error) {
	if err := checkAmount("transferFrom", amount); err != nil {
		return nil, err
	}
	if err := t.checkTransferFrom(spender, from, amount); err != nil {
		return nil, err
	}
	log, err := t.transferLog(from, to, amount)
	if err != nil {
		return nil, err
	}
	t.spend(spender, from, amount)
	t.move(from, to, amount)
	return []*types.Log{log}, nil
}

func checkAmount(op string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errors.Wrapf(ErrInvalidAmount, "%s %v", op, amount)
	}
	return nil
}

func (t *Token) transferLog(from, to common.Address, amount *big.Int) (*types.Log, error) {
	return emitEvent(t.abi, t.Address, "Transfer", []interface{}{from, to}, amount)
}

func (t *Token) checkBalance(account common.Address, amount *big.Int) error {
	if bal := t.BalanceOf(account); bal.Cmp(amount) < 0 {
		return errors.Wrapf(ErrInsufficientBalance, "%s holds %s %s, needs %s", account.Hex(), bal, t.Symbol, amount)
	}
	return nil
}

func (t *Token) checkTransferFrom(spender, from common.Address, amount *big.Int) error {
	if allowed := t.Allowance(from, spender); allowed.Cmp(amount) < 0 {
		return errors.Wrapf(ErrInsufficientAllowance, "%s may spend %s of %s, needs %s", spender.Hex(), allowed, from.Hex(), amount)
	}
	return t.checkBalance(from, amount)
}

func (t *Token) setAllowance(owner, spender common.Address, amount *big.Int) {
	byOwner, ok := t.allowances[owner]
	if !ok {
		byOwner = make(map[common.Address]*big.Int)
		t.allowances[owner] = byOwner
	}
	byOwner[spender] = new(big.Int).Set(amount)
}

func (t *Token) spend(spender, from common.Address, amount *big.Int) {
	t.setAllowance(from, spender, new(big.Int).Sub(t.Allowance(from, spender), amount))
}

func (t *Token) move(from, to common.Address, amount *big.Int) {
	t.balances[from] = new(big.Int).Sub(t.BalanceOf(from), amount)
	t.balances[to] = new(big.Int).Add(t.BalanceOf(to), amount)
}

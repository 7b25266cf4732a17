package exchange

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// Ledger holds native ETH balances in wei.
type Ledger struct {
	balances map[common.Address]*big.Int
}

func NewLedger() *Ledger {
	return &Ledger{balances: make(map[common.Address]*big.Int)}
}

// BalanceOf returns a copy of the account balance.
func (l *Ledger) BalanceOf(account common.Address) *big.Int {
	if bal, ok := l.balances[account]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// Credit adds wei to an account.
func (l *Ledger) Credit(account common.Address, amount *big.Int) {
	l.balances[account] = new(big.Int).Add(l.BalanceOf(account), amount)
}

// Transfer moves wei between accounts or fails without changing anything.
func (l *Ledger) Transfer(from, to common.Address, amount *big.Int) error {
	if err := l.checkBalance(from, amount); err != nil {
		return err
	}
	l.move(from, to, amount)
	return nil
}

func (l *Ledger) checkBalance(account common.Address, amount *big.Int) error {
	if bal := l.BalanceOf(account); bal.Cmp(amount) < 0 {
		return errors.Wrapf(ErrInsufficientBalance, "%s has %s wei, needs %s", account.Hex(), bal, amount)
	}
	return nil
}

func (l *Ledger) move(from, to common.Address, amount *big.Int) {
	l.balances[from] = new(big.Int).Sub(l.BalanceOf(from), amount)
	l.balances[to] = new(big.Int).Add(l.BalanceOf(to), amount)
}

package exchange

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	owner  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	alice  = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	bob    = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	tokenA = common.HexToAddress("0x00000000000000000000000000000000000000d4")
	vendA  = common.HexToAddress("0x00000000000000000000000000000000000000e5")
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(params.Ether))
}

func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func assertAmount(t *testing.T, want *big.Int, got interface{}) {
	t.Helper()
	value, ok := got.(*big.Int)
	require.True(t, ok, "expected *big.Int, got %T", got)
	assert.Zero(t, want.Cmp(value), "want %s, got %s", want, value)
}

func setup(t *testing.T) (*Vendor, *Token, *Ledger) {
	t.Helper()
	ledger := NewLedger()
	token, err := NewToken(tokenA, "Gold", "GLD")
	require.NoError(t, err)
	_, err = token.Mint(owner, tokens(1000))
	require.NoError(t, err)

	vendor, err := NewVendor(vendA, owner, token, ledger)
	require.NoError(t, err)
	_, err = token.Transfer(owner, vendor.Address, tokens(1000))
	require.NoError(t, err)

	ledger.Credit(alice, ether(10))
	ledger.Credit(bob, ether(10))
	return vendor, token, ledger
}

func decodeLog(t *testing.T, log *types.Log) (string, common.Address, map[string]interface{}) {
	t.Helper()
	parsed, err := VendorABI()
	require.NoError(t, err)
	require.Len(t, log.Topics, 2)

	event, err := parsed.EventByID(log.Topics[0])
	require.NoError(t, err)

	values := make(map[string]interface{})
	require.NoError(t, event.Inputs.NonIndexed().UnpackIntoMap(values, log.Data))
	return event.Name, common.BytesToAddress(log.Topics[1].Bytes()), values
}

func TestVendorBuy(t *testing.T) {
	vendor, token, ledger := setup(t)

	logs, err := vendor.Buy(alice, ether(1))
	require.NoError(t, err)
	require.Len(t, logs, 2)

	assertAmount(t, tokens(100), token.BalanceOf(alice))
	assertAmount(t, tokens(900), token.BalanceOf(vendor.Address))
	assertAmount(t, ether(9), ledger.BalanceOf(alice))
	assertAmount(t, ether(1), ledger.BalanceOf(vendor.Address))

	name, buyer, values := decodeLog(t, logs[1])
	assert.Equal(t, "BuyTokens", name)
	assert.Equal(t, alice, buyer)
	assertAmount(t, ether(1), values["amountOfETH"])
	assertAmount(t, tokens(100), values["amountOfTokens"])
	assert.Equal(t, vendor.Address, logs[1].Address)
	assert.Equal(t, token.Address, logs[0].Address)
}

func TestVendorBuyInsufficientReserve(t *testing.T) {
	vendor, token, ledger := setup(t)
	ledger.Credit(alice, ether(100))

	_, err := vendor.Buy(alice, ether(11))
	require.ErrorIs(t, err, ErrInsufficientBalance)

	assertAmount(t, ether(110), ledger.BalanceOf(alice))
	assertAmount(t, tokens(1000), token.BalanceOf(vendor.Address))
	assert.Zero(t, token.BalanceOf(alice).Sign())
}

func TestVendorBuyInsufficientFunds(t *testing.T) {
	vendor, token, ledger := setup(t)

	_, err := vendor.Buy(alice, ether(11))
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assertAmount(t, ether(10), ledger.BalanceOf(alice))
	assertAmount(t, tokens(1000), token.BalanceOf(vendor.Address))
}

func TestVendorBuyZero(t *testing.T) {
	vendor, _, _ := setup(t)

	_, err := vendor.Buy(alice, big.NewInt(0))
	require.ErrorIs(t, err, ErrZeroAmount)
}

func TestVendorSell(t *testing.T) {
	vendor, token, ledger := setup(t)

	_, err := vendor.Buy(alice, ether(3))
	require.NoError(t, err)
	_, err = token.Approve(alice, vendor.Address, tokens(200))
	require.NoError(t, err)

	logs, err := vendor.Sell(alice, tokens(200))
	require.NoError(t, err)
	require.Len(t, logs, 2)

	assertAmount(t, ether(9), ledger.BalanceOf(alice))
	assertAmount(t, ether(1), ledger.BalanceOf(vendor.Address))
	assertAmount(t, tokens(100), token.BalanceOf(alice))
	assertAmount(t, tokens(900), token.BalanceOf(vendor.Address))
	assert.Zero(t, token.Allowance(alice, vendor.Address).Sign())

	name, seller, values := decodeLog(t, logs[1])
	assert.Equal(t, "SellTokens", name)
	assert.Equal(t, alice, seller)
	assertAmount(t, tokens(200), values["amountOfTokens"])
	assertAmount(t, ether(2), values["amountOfETH"])
}

func TestVendorSellInsufficientAllowance(t *testing.T) {
	vendor, token, ledger := setup(t)

	_, err := vendor.Buy(alice, ether(3))
	require.NoError(t, err)
	_, err = token.Approve(alice, vendor.Address, tokens(100))
	require.NoError(t, err)

	_, err = vendor.Sell(alice, tokens(200))
	require.ErrorIs(t, err, ErrInsufficientAllowance)

	assertAmount(t, tokens(300), token.BalanceOf(alice))
	assertAmount(t, tokens(100), token.Allowance(alice, vendor.Address))
	assertAmount(t, ether(3), ledger.BalanceOf(vendor.Address))
}

func TestVendorSellInsufficientVendorFunds(t *testing.T) {
	vendor, token, ledger := setup(t)

	_, err := vendor.Buy(alice, ether(1))
	require.NoError(t, err)
	_, err = token.Transfer(vendor.Address, bob, tokens(500))
	require.NoError(t, err)
	_, err = token.Approve(bob, vendor.Address, tokens(500))
	require.NoError(t, err)

	_, err = vendor.Sell(bob, tokens(500))
	require.ErrorIs(t, err, ErrInsufficientBalance)

	assertAmount(t, tokens(500), token.BalanceOf(bob))
	assertAmount(t, ether(1), ledger.BalanceOf(vendor.Address))
	assertAmount(t, ether(10), ledger.BalanceOf(bob))
}

func TestVendorWithdraw(t *testing.T) {
	vendor, _, ledger := setup(t)

	_, err := vendor.Buy(alice, ether(2))
	require.NoError(t, err)

	_, err = vendor.Withdraw(bob)
	require.ErrorIs(t, err, ErrNotOwner)
	assertAmount(t, ether(2), ledger.BalanceOf(vendor.Address))

	_, err = vendor.Withdraw(owner)
	require.NoError(t, err)
	assert.Zero(t, ledger.BalanceOf(vendor.Address).Sign())
	assertAmount(t, ether(2), ledger.BalanceOf(owner))
}

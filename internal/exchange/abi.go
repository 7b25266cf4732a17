package exchange

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const vendorABIJSON = `[
  {
    "inputs": [{"internalType": "address", "name": "tokenAddress", "type": "address"}],
    "stateMutability": "nonpayable",
    "type": "constructor"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "buyer", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amountOfETH", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "amountOfTokens", "type": "uint256"}
    ],
    "name": "BuyTokens",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "seller", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amountOfTokens", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "amountOfETH", "type": "uint256"}
    ],
    "name": "SellTokens",
    "type": "event"
  },
  {
    "inputs": [],
    "name": "buyTokens",
    "outputs": [],
    "stateMutability": "payable",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "uint256", "name": "amount", "type": "uint256"}],
    "name": "sellTokens",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "withdraw",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "tokensPerEth",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  }
]`

var (
	vendorABI     abi.ABI
	vendorABIOnce sync.Once
	vendorABIErr  error
)

// VendorABI returns the parsed vendor ABI.
func VendorABI() (abi.ABI, error) {
	vendorABIOnce.Do(func() {
		vendorABI, vendorABIErr = abi.JSON(strings.NewReader(vendorABIJSON))
	})
	return vendorABI, vendorABIErr
}

// VendorABIJSON returns the raw ABI, as written into deployment files.
func VendorABIJSON() string {
	return vendorABIJSON
}

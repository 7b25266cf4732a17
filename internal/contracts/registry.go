package contracts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ErrContractNotFound is returned when no contract is registered under a name.
var ErrContractNotFound = errors.New("contract not found")

// Contract is a deployed contract with its parsed ABI.
type Contract struct {
	Name    string
	ChainID uint64
	Address common.Address
	ABI     abi.ABI
}

type contractEntry struct {
	Address string          `json:"address"`
	ABI     json.RawMessage `json:"abi"`
}

// Registry resolves contract names to deployments per chain.
type Registry struct {
	mu        sync.RWMutex
	contracts map[uint64]map[string]Contract
}

func NewRegistry() *Registry {
	return &Registry{contracts: make(map[uint64]map[string]Contract)}
}

// LoadFile reads a deployments file shaped as {"<chainId>": {"<Name>": {"address", "abi"}}}.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read contracts file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Registry from deployments JSON.
func Parse(data []byte) (*Registry, error) {
	var raw map[string]map[string]contractEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse contracts: %w", err)
	}

	reg := NewRegistry()
	for chainKey, byName := range raw {
		chainID, err := strconv.ParseUint(chainKey, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chain id %q: %w", chainKey, err)
		}
		for name, entry := range byName {
			if !common.IsHexAddress(entry.Address) {
				return nil, fmt.Errorf("contract %s on chain %d: invalid address %q", name, chainID, entry.Address)
			}
			parsed, err := abi.JSON(bytes.NewReader(entry.ABI))
			if err != nil {
				return nil, fmt.Errorf("contract %s on chain %d: parse abi: %w", name, chainID, err)
			}
			reg.Register(Contract{
				Name:    name,
				ChainID: chainID,
				Address: common.HexToAddress(entry.Address),
				ABI:     parsed,
			})
		}
	}
	return reg, nil
}

// Register adds or replaces a contract deployment.
func (r *Registry) Register(c Contract) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byName, ok := r.contracts[c.ChainID]
	if !ok {
		byName = make(map[string]Contract)
		r.contracts[c.ChainID] = byName
	}
	byName[c.Name] = c
}

// Resolve returns the contract deployed under name on chainID.
func (r *Registry) Resolve(chainID uint64, name string) (Contract, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contracts[chainID][name]
	if !ok {
		return Contract{}, fmt.Errorf("%w: %s on chain %d", ErrContractNotFound, name, chainID)
	}
	return c, nil
}

// Names lists the contracts registered for chainID.
func (r *Registry) Names(chainID uint64) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.contracts[chainID]))
	for name := range r.contracts[chainID] {
		names = append(names, name)
	}
	return names
}

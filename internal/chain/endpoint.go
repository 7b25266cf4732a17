package chain

import (
	"fmt"
	"strings"
)

// LocalRPCURL is the fixed loopback endpoint of a local development node.
const LocalRPCURL = "http://127.0.0.1:8545"

// LocalChainID is the chain id used by local development nodes.
const LocalChainID uint64 = 31337

// Network describes a known chain and its hosted-endpoint slug.
type Network struct {
	Name    string
	ChainID uint64
	Slug    string
}

var networks = map[string]Network{
	"localhost": {Name: "localhost", ChainID: LocalChainID},
	"hardhat":   {Name: "hardhat", ChainID: LocalChainID},
	"mainnet":   {Name: "mainnet", ChainID: 1, Slug: "eth-mainnet"},
	"sepolia":   {Name: "sepolia", ChainID: 11155111, Slug: "eth-sepolia"},
	"goerli":    {Name: "goerli", ChainID: 5, Slug: "eth-goerli"},
	"arbitrum":  {Name: "arbitrum", ChainID: 42161, Slug: "arb-mainnet"},
	"optimism":  {Name: "optimism", ChainID: 10, Slug: "opt-mainnet"},
	"polygon":   {Name: "polygon", ChainID: 137, Slug: "polygon-mainnet"},
	"base":      {Name: "base", ChainID: 8453, Slug: "base-mainnet"},
}

// LookupNetwork returns the known network with the given name.
func LookupNetwork(name string) (Network, bool) {
	n, ok := networks[strings.ToLower(strings.TrimSpace(name))]
	return n, ok
}

// IsLocal reports whether the network is a local development node.
func (n Network) IsLocal() bool {
	return n.ChainID == LocalChainID
}

// ResolveRPCURL picks the RPC endpoint for a network. Local networks always use
// the loopback endpoint; otherwise an explicit URL wins over a key-based hosted
// endpoint.
func ResolveRPCURL(network, rpcURL, apiKey string) (string, error) {
	n, known := LookupNetwork(network)
	if known && n.IsLocal() {
		return LocalRPCURL, nil
	}
	if rpcURL != "" {
		return rpcURL, nil
	}
	if !known {
		return "", fmt.Errorf("unknown network %q and no rpc url configured", network)
	}
	if apiKey == "" {
		return "", fmt.Errorf("network %s requires an rpc url or api key", n.Name)
	}
	return fmt.Sprintf("https://%s.g.alchemy.com/v2/%s", n.Slug, apiKey), nil
}

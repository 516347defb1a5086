// Package protocol defines the chain-agnostic x402 wire schema: networks,
// addresses, amounts, payment envelopes, and responses. Nothing in this
// package talks to a chain — that is the chain providers' job.
package protocol

import "fmt"

// Family is the execution model a Network belongs to. Every Network maps
// to exactly one Family, and every payload/address carried for that
// Network must match it.
type Family string

const (
	FamilyEVM     Family = "evm"
	FamilySolana  Family = "solana" // Fogo reuses this family; it is SVM-compatible.
	FamilyNear    Family = "near"
	FamilyStellar Family = "stellar"
)

// Network is a closed enumeration of chains the facilitator can serve.
type Network string

const (
	NetworkBase            Network = "base"
	NetworkBaseSepolia     Network = "base-sepolia"
	NetworkAvalanche       Network = "avalanche"
	NetworkAvalancheFuji   Network = "avalanche-fuji"
	NetworkEthereum        Network = "ethereum"
	NetworkPolygon         Network = "polygon"
	NetworkOptimism        Network = "optimism"
	NetworkArbitrum        Network = "arbitrum"
	NetworkCelo            Network = "celo"
	NetworkBSC             Network = "bsc"
	NetworkScroll          Network = "scroll"
	NetworkXDC             Network = "xdc"
	NetworkHyperEVM        Network = "hyperevm"
	NetworkSei             Network = "sei"
	NetworkUnichain        Network = "unichain"
	NetworkMonad           Network = "monad"
	NetworkSKALEBase       Network = "skale-base"
	NetworkSolana          Network = "solana"
	NetworkSolanaDevnet    Network = "solana-devnet"
	NetworkFogo            Network = "fogo"
	NetworkFogoTestnet     Network = "fogo-testnet"
	NetworkNear            Network = "near"
	NetworkNearTestnet     Network = "near-testnet"
	NetworkStellar         Network = "stellar"
	NetworkStellarTestnet  Network = "stellar-testnet"
)

// NetworkInfo is the static, chain-identifying metadata for a Network.
// EVMChainID is populated for FamilyEVM, IsLegacyGas for EVM networks that
// do not support EIP-1559 fee markets, and NativeIdentifier carries the
// family-specific stable identifier (genesis hash, network name, or
// passphrase) used to build the signing/replay domain.
type NetworkInfo struct {
	Family           Family
	EVMChainID       uint64 // 0 unless Family == FamilyEVM
	IsLegacyGas      bool   // EVM networks without EIP-1559 support
	NativeIdentifier string // Solana genesis hash / NEAR network id / Stellar passphrase
	CAIP2Namespace   string
	CAIP2Reference   string
}

// networkRegistry is the closed set of enabled networks and their metadata.
// It is populated once at package init and never mutated — callers get a
// copy via Info, not a pointer into this map.
var networkRegistry = map[Network]NetworkInfo{
	NetworkBase:          {Family: FamilyEVM, EVMChainID: 8453, CAIP2Namespace: "eip155", CAIP2Reference: "8453"},
	NetworkBaseSepolia:   {Family: FamilyEVM, EVMChainID: 84532, CAIP2Namespace: "eip155", CAIP2Reference: "84532"},
	NetworkAvalanche:     {Family: FamilyEVM, EVMChainID: 43114, CAIP2Namespace: "eip155", CAIP2Reference: "43114"},
	NetworkAvalancheFuji: {Family: FamilyEVM, EVMChainID: 43113, CAIP2Namespace: "eip155", CAIP2Reference: "43113"},
	NetworkEthereum:      {Family: FamilyEVM, EVMChainID: 1, CAIP2Namespace: "eip155", CAIP2Reference: "1"},
	NetworkPolygon:       {Family: FamilyEVM, EVMChainID: 137, CAIP2Namespace: "eip155", CAIP2Reference: "137"},
	NetworkOptimism:      {Family: FamilyEVM, EVMChainID: 10, CAIP2Namespace: "eip155", CAIP2Reference: "10"},
	NetworkArbitrum:      {Family: FamilyEVM, EVMChainID: 42161, CAIP2Namespace: "eip155", CAIP2Reference: "42161"},
	NetworkCelo:          {Family: FamilyEVM, EVMChainID: 42220, CAIP2Namespace: "eip155", CAIP2Reference: "42220"},
	NetworkBSC:           {Family: FamilyEVM, EVMChainID: 56, CAIP2Namespace: "eip155", CAIP2Reference: "56"},
	NetworkScroll:        {Family: FamilyEVM, EVMChainID: 534352, CAIP2Namespace: "eip155", CAIP2Reference: "534352"},
	NetworkXDC:           {Family: FamilyEVM, EVMChainID: 50, IsLegacyGas: true, CAIP2Namespace: "eip155", CAIP2Reference: "50"},
	NetworkHyperEVM:      {Family: FamilyEVM, EVMChainID: 999, CAIP2Namespace: "eip155", CAIP2Reference: "999"},
	NetworkSei:           {Family: FamilyEVM, EVMChainID: 1329, CAIP2Namespace: "eip155", CAIP2Reference: "1329"},
	NetworkUnichain:      {Family: FamilyEVM, EVMChainID: 130, CAIP2Namespace: "eip155", CAIP2Reference: "130"},
	NetworkMonad:         {Family: FamilyEVM, EVMChainID: 143, CAIP2Namespace: "eip155", CAIP2Reference: "143"},
	NetworkSKALEBase:     {Family: FamilyEVM, EVMChainID: 2046399126, IsLegacyGas: true, CAIP2Namespace: "eip155", CAIP2Reference: "2046399126"},

	NetworkSolana: {
		Family:           FamilySolana,
		NativeIdentifier: "5eykt4UsFv8P8NJdTREpY1vzqKqZKvdpKuc147dw2N9d",
		CAIP2Namespace:   "solana",
		CAIP2Reference:   "5eykt4UsFv8P8NJdTREpY1vzqKqZKvdpKuc147dw2N9d",
	},
	NetworkSolanaDevnet: {
		Family:           FamilySolana,
		NativeIdentifier: "EtWTRABZaYq6iMfeYKouRu166VU2xqa1wcaWoxPkrZBG",
		CAIP2Namespace:   "solana",
		CAIP2Reference:   "EtWTRABZaYq6iMfeYKouRu166VU2xqa1wcaWoxPkrZBG",
	},
	NetworkFogo:        {Family: FamilySolana, NativeIdentifier: "fogo-mainnet", CAIP2Namespace: "fogo", CAIP2Reference: "mainnet"},
	NetworkFogoTestnet: {Family: FamilySolana, NativeIdentifier: "fogo-testnet", CAIP2Namespace: "fogo", CAIP2Reference: "testnet"},

	NetworkNear:        {Family: FamilyNear, NativeIdentifier: "mainnet", CAIP2Namespace: "near", CAIP2Reference: "mainnet"},
	NetworkNearTestnet: {Family: FamilyNear, NativeIdentifier: "testnet", CAIP2Namespace: "near", CAIP2Reference: "testnet"},

	NetworkStellar: {
		Family:           FamilyStellar,
		NativeIdentifier: "Public Global Stellar Network ; September 2015",
		CAIP2Namespace:   "stellar",
		CAIP2Reference:   "pubnet",
	},
	NetworkStellarTestnet: {
		Family:           FamilyStellar,
		NativeIdentifier: "Test SDF Network ; September 2015",
		CAIP2Namespace:   "stellar",
		CAIP2Reference:   "testnet",
	},
}

// Info returns the static metadata for a network, or an error if the
// network is not in the closed enumeration.
func Info(n Network) (NetworkInfo, error) {
	info, ok := networkRegistry[n]
	if !ok {
		return NetworkInfo{}, fmt.Errorf("protocol: unknown network %q", n)
	}
	return info, nil
}

// FamilyOf is a convenience wrapper around Info for callers that only need
// the family.
func FamilyOf(n Network) (Family, error) {
	info, err := Info(n)
	if err != nil {
		return "", err
	}
	return info.Family, nil
}

// IsKnown reports whether n is in the closed network enumeration.
func IsKnown(n Network) bool {
	_, ok := networkRegistry[n]
	return ok
}

// AllNetworks returns every network in the closed enumeration. Order is
// unspecified; callers that need a stable order should sort it.
func AllNetworks() []Network {
	out := make([]Network, 0, len(networkRegistry))
	for n := range networkRegistry {
		out = append(out, n)
	}
	return out
}

// CAIP2 renders the network's CAIP-2 "namespace:reference" identifier.
func CAIP2(n Network) (string, error) {
	info, err := Info(n)
	if err != nil {
		return "", err
	}
	return info.CAIP2Namespace + ":" + info.CAIP2Reference, nil
}

// NetworkFromCAIP2 is the inverse of CAIP2 — it is a bijection over the
// enabled set (spec §8 round-trip property).
func NetworkFromCAIP2(caip2 string) (Network, error) {
	for n, info := range networkRegistry {
		if info.CAIP2Namespace+":"+info.CAIP2Reference == caip2 {
			return n, nil
		}
	}
	return "", fmt.Errorf("protocol: unknown CAIP-2 identifier %q", caip2)
}

// Package web3 houses blockchain connectivity for plan execution: chain
// definitions loaded from YAML, the per-chain endpoint lists and token
// addresses, and the registry that owns one fallback RPC client per chain.
// The rpc, calldata and ethereum subpackages implement the reads, the ERC-20
// codec and the local signing wallet respectively.
package web3

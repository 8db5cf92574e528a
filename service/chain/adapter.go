package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Node is a live connection to an EVM JSON-RPC endpoint together with the
// marketplace contract bound on it.
type Node struct {
	Client   *ethclient.Client
	Contract BoundContract
	ChainID  *big.Int
}

// Dial connects to rpcURL and binds the marketplace ABI at address.
// When chainID is zero the node is asked for it.
// For hosted endpoints include the API key in the URL, e.g.
// https://eth-sepolia.g.alchemy.com/v2/YOUR-KEY
func Dial(ctx context.Context, rpcURL string, address common.Address, chainID int64) (*Node, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial eth rpc: %w", err)
	}

	id := big.NewInt(chainID)
	if chainID == 0 {
		id, err = client.ChainID(ctx)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to read chain id: %w", err)
		}
	}

	contract, err := Bind(address, client)
	if err != nil {
		client.Close()
		return nil, err
	}

	return &Node{Client: client, Contract: contract, ChainID: id}, nil
}

// Bind attaches the marketplace ABI to address using backend for calls,
// transactions and log filtering.
func Bind(address common.Address, backend bind.ContractBackend) (*bind.BoundContract, error) {
	parsed, err := ParsedABI()
	if err != nil {
		return nil, fmt.Errorf("failed to parse market abi: %w", err)
	}
	return bind.NewBoundContract(address, parsed, backend, backend, backend), nil
}

// Close releases the RPC connection.
func (n *Node) Close() {
	if n.Client != nil {
		n.Client.Close()
	}
}

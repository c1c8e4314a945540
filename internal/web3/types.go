package web3

import (
	"context"
	"math/big"

	"ChainPilot/internal/web3/rpc"
)

// Network is the resolved, process-lifetime view of one configured chain.
type Network struct {
	Name        string
	ChainID     int64
	Endpoints   []string
	Tokens      TokenAddresses
	Description string
}

// Reader is the read side plan execution needs from a chain.
type Reader interface {
	ReadUint256(ctx context.Context, to, data string) (*big.Int, error)
	PollReceipt(ctx context.Context, txHash string) (rpc.Receipt, error)
}

// TxRequest is one transaction handed to the signing wallet.
type TxRequest struct {
	ChainID int64
	To      string
	Data    string
	Value   *big.Int
}

// SendResult is what the wallet reports after broadcasting. An empty
// TransactionHash means the wallet did not return one.
type SendResult struct {
	TransactionHash string
}

// Wallet is the signing capability. Implementations sign and broadcast but
// never wait for confirmation.
type Wallet interface {
	Address() string
	ChainID(ctx context.Context) (int64, error)
	SwitchChain(ctx context.Context, chainID int64) error
	SendTransaction(ctx context.Context, req TxRequest) (SendResult, error)
}

var _ Reader = (*rpc.Client)(nil)

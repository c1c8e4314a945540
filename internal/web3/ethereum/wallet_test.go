package ethereum

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"testing"
	"time"

	"ChainPilot/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
)

const simulatedChainID = 1337

func newSimulatedWallet(t *testing.T) (*Wallet, *simulated.Backend) {
	t.Helper()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	owner := crypto.PubkeyToAddress(key.PublicKey)
	backend := simulated.NewBackend(coretypes.GenesisAlloc{
		owner: {Balance: new(big.Int).Mul(big.NewInt(10), big.NewInt(1_000_000_000_000_000_000))},
	})
	t.Cleanup(func() { _ = backend.Close() })

	wallet, err := NewWallet(hex.EncodeToString(crypto.FromECDSA(key)),
		map[int64]Backend{simulatedChainID: backend.Client()}, simulatedChainID)
	if err != nil {
		t.Fatalf("new wallet: %v", err)
	}
	return wallet, backend
}

func TestWalletSendsSignedTransaction(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	wallet, backend := newSimulatedWallet(t)
	recipient := common.HexToAddress("0x3333333333333333333333333333333333333333")

	result, err := wallet.SendTransaction(ctx, web3.TxRequest{
		ChainID: simulatedChainID,
		To:      recipient.Hex(),
		Data:    "0x",
		Value:   big.NewInt(12345),
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if result.TransactionHash == "" {
		t.Fatal("expected transaction hash")
	}

	receipt, err := waitForReceipt(ctx, backend, common.HexToHash(result.TransactionHash))
	if err != nil {
		t.Fatalf("wait mined: %v", err)
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		t.Fatalf("unexpected receipt status %d", receipt.Status)
	}

	balance, err := backend.Client().BalanceAt(ctx, recipient, nil)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Int64() != 12345 {
		t.Fatalf("unexpected recipient balance %s", balance)
	}
}

func TestWalletSwitchChain(t *testing.T) {
	t.Parallel()

	wallet, _ := newSimulatedWallet(t)
	ctx := context.Background()

	if err := wallet.SwitchChain(ctx, 1); err == nil {
		t.Fatal("expected switching to an unknown chain to fail")
	}
	active, _ := wallet.ChainID(ctx)
	if active != simulatedChainID {
		t.Fatalf("active chain changed after failed switch: %d", active)
	}

	_, err := wallet.SendTransaction(ctx, web3.TxRequest{ChainID: 1, To: "0x3333333333333333333333333333333333333333"})
	if err == nil {
		t.Fatal("expected chain mismatch to be rejected")
	}
}

func TestNewWalletRejectsBadKey(t *testing.T) {
	if _, err := NewWallet("not-a-key", map[int64]Backend{1: nil}, 1); err == nil {
		t.Fatal("expected invalid key to fail")
	}
}

func waitForReceipt(ctx context.Context, backend *simulated.Backend, hash common.Hash) (*coretypes.Receipt, error) {
	backend.Commit()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		receipt, err := backend.Client().TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, gethcore.NotFound) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			backend.Commit()
		}
	}
}

package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"ChainPilot/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Backend mirrors the subset of ethclient used to build and broadcast a
// transaction.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
}

// Wallet signs EIP-1559 transactions with a local private key and
// broadcasts them through the backend of the active chain.
type Wallet struct {
	key      *ecdsa.PrivateKey
	address  common.Address
	mu       sync.Mutex
	backends map[int64]Backend
	active   int64
	closers  []func()
}

// NewWallet builds a wallet from a hex private key. active must be one of
// the backend chain ids.
func NewWallet(hexKey string, backends map[int64]Backend, active int64) (*Wallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("解析钱包私钥失败: %w", err)
	}
	if len(backends) == 0 {
		return nil, errors.New("钱包未配置任何链后端")
	}
	if _, ok := backends[active]; !ok {
		return nil, fmt.Errorf("钱包缺少链 %d 的后端", active)
	}
	clone := make(map[int64]Backend, len(backends))
	for id, b := range backends {
		clone[id] = b
	}
	return &Wallet{
		key:      key,
		address:  crypto.PubkeyToAddress(key.PublicKey),
		backends: clone,
		active:   active,
	}, nil
}

// DialWallet connects one ethclient per network using its first endpoint.
func DialWallet(ctx context.Context, hexKey string, networks []web3.Network, active int64) (*Wallet, error) {
	backends := make(map[int64]Backend, len(networks))
	var closers []func()
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	for _, n := range networks {
		if len(n.Endpoints) == 0 {
			continue
		}
		client, err := ethclient.DialContext(ctx, n.Endpoints[0])
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("连接链 %s 失败: %w", n.Name, err)
		}
		backends[n.ChainID] = client
		closers = append(closers, client.Close)
	}
	w, err := NewWallet(hexKey, backends, active)
	if err != nil {
		closeAll()
		return nil, err
	}
	w.closers = closers
	return w, nil
}

// Close releases dialed connections.
func (w *Wallet) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, c := range w.closers {
		c()
	}
	w.closers = nil
}

// Address returns the checksummed signer address.
func (w *Wallet) Address() string {
	return w.address.Hex()
}

// ChainID returns the active chain.
func (w *Wallet) ChainID(context.Context) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active, nil
}

// SwitchChain makes chainID the active chain.
func (w *Wallet) SwitchChain(_ context.Context, chainID int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.backends[chainID]; !ok {
		return fmt.Errorf("钱包不支持链 %d", chainID)
	}
	w.active = chainID
	return nil
}

// SendTransaction signs and broadcasts req on the active chain. It does not
// wait for the transaction to be mined.
func (w *Wallet) SendTransaction(ctx context.Context, req web3.TxRequest) (web3.SendResult, error) {
	w.mu.Lock()
	backend, active := w.backends[w.active], w.active
	w.mu.Unlock()

	if req.ChainID != active {
		return web3.SendResult{}, fmt.Errorf("交易目标链 %d 与当前链 %d 不一致", req.ChainID, active)
	}
	if !common.IsHexAddress(req.To) {
		return web3.SendResult{}, fmt.Errorf("无效的交易目标地址: %s", req.To)
	}
	to := common.HexToAddress(req.To)

	var data []byte
	if trimmed := strings.TrimSpace(req.Data); trimmed != "" && trimmed != "0x" {
		decoded, err := hexutil.Decode(trimmed)
		if err != nil {
			return web3.SendResult{}, fmt.Errorf("解析交易数据失败: %w", err)
		}
		data = decoded
	}
	value := new(big.Int)
	if req.Value != nil {
		value.Set(req.Value)
	}

	nonce, err := backend.PendingNonceAt(ctx, w.address)
	if err != nil {
		return web3.SendResult{}, fmt.Errorf("查询 nonce 失败: %w", err)
	}
	tip, err := backend.SuggestGasTipCap(ctx)
	if err != nil {
		return web3.SendResult{}, fmt.Errorf("查询小费失败: %w", err)
	}
	head, err := backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return web3.SendResult{}, fmt.Errorf("获取最新区块失败: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	gas, err := backend.EstimateGas(ctx, gethcore.CallMsg{
		From:      w.address,
		To:        &to,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Value:     value,
		Data:      data,
	})
	if err != nil {
		return web3.SendResult{}, fmt.Errorf("估算 gas 失败: %w", err)
	}

	chainID := big.NewInt(active)
	tx := coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas + gas/5,
		To:        &to,
		Value:     value,
		Data:      data,
	})
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(chainID), w.key)
	if err != nil {
		return web3.SendResult{}, fmt.Errorf("签名交易失败: %w", err)
	}
	if err := backend.SendTransaction(ctx, signed); err != nil {
		return web3.SendResult{}, err
	}
	return web3.SendResult{TransactionHash: signed.Hash().Hex()}, nil
}

var _ web3.Wallet = (*Wallet)(nil)

package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/observability/metrics"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// PollConfig controls the receipt polling schedule.
type PollConfig struct {
	InitialDelay time.Duration
	Factor       float64
	MaxDelay     time.Duration
	MaxAttempts  int
}

// DefaultPollConfig waits 1.2s, growing by 15% per retry up to 2s, for at
// most 60 attempts.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		InitialDelay: 1200 * time.Millisecond,
		Factor:       1.15,
		MaxDelay:     2 * time.Second,
		MaxAttempts:  60,
	}
}

func (p PollConfig) withDefaults() PollConfig {
	def := DefaultPollConfig()
	if p.InitialDelay <= 0 {
		p.InitialDelay = def.InitialDelay
	}
	if p.Factor < 1 {
		p.Factor = def.Factor
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	return p
}

func (p PollConfig) next(delay time.Duration) time.Duration {
	grown := time.Duration(float64(delay) * p.Factor)
	if grown > p.MaxDelay {
		return p.MaxDelay
	}
	return grown
}

// ReceiptStatus is the outcome of a mined transaction.
type ReceiptStatus string

const (
	ReceiptSuccess ReceiptStatus = "success"
	ReceiptRevert  ReceiptStatus = "revert"
	ReceiptAbsent  ReceiptStatus = "absent"
)

// Receipt is the subset of a transaction receipt the engine needs.
type Receipt struct {
	Status          ReceiptStatus
	RawStatus       string
	TransactionHash string
	BlockNumber     uint64
	Endpoint        string
}

type wireReceipt struct {
	Status          *hexutil.Uint64 `json:"status"`
	TransactionHash string          `json:"transactionHash"`
	BlockNumber     *hexutil.Uint64 `json:"blockNumber"`
}

// DecodeReceipt converts an eth_getTransactionReceipt result. A null
// result yields ReceiptAbsent.
func DecodeReceipt(raw json.RawMessage) (Receipt, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Receipt{Status: ReceiptAbsent}, nil
	}
	var wire wireReceipt
	if err := json.Unmarshal(trimmed, &wire); err != nil {
		return Receipt{}, xerrors.Wrap(xerrors.CodeMalformedRPCResult, err, "decode receipt")
	}
	receipt := Receipt{TransactionHash: wire.TransactionHash, Status: ReceiptRevert}
	if wire.BlockNumber != nil {
		receipt.BlockNumber = uint64(*wire.BlockNumber)
	}
	if wire.Status != nil {
		receipt.RawStatus = wire.Status.String()
		if uint64(*wire.Status) == 1 {
			receipt.Status = ReceiptSuccess
		}
	}
	return receipt, nil
}

// PollReceipt queries eth_getTransactionReceipt until a receipt appears.
// The endpoint that last answered is tried first on later attempts. An
// attempt where every endpoint failed counts as "not mined yet".
func (c *Client) PollReceipt(ctx context.Context, txHash string) (Receipt, error) {
	cfg := c.poll
	start := time.Now()
	delay := cfg.InitialDelay
	preferred := ""

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		raw, served, err := c.CallPreferred(ctx, preferred, "eth_getTransactionReceipt", txHash)
		switch {
		case xerrors.IsCancelled(err):
			return Receipt{}, err
		case err != nil:
			c.log.Warn("receipt poll attempt failed",
				slog.String("tx_hash", txHash),
				slog.Int("attempt", attempt),
				slog.Any("error", err))
		default:
			preferred = served
			receipt, decodeErr := DecodeReceipt(raw)
			if decodeErr != nil {
				return Receipt{}, decodeErr
			}
			if receipt.Status != ReceiptAbsent {
				receipt.Endpoint = served
				if receipt.TransactionHash == "" {
					receipt.TransactionHash = txHash
				}
				metrics.ObserveReceiptWait(time.Since(start))
				return receipt, nil
			}
		}

		if attempt == cfg.MaxAttempts {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Receipt{}, xerrors.Cancelled(ctx.Err())
		case <-timer.C:
		}
		delay = cfg.next(delay)
	}

	return Receipt{}, xerrors.New(xerrors.CodeReceiptTimeout, "",
		xerrors.WithMetadata("tx_hash", txHash),
		xerrors.WithMetadata("attempts", strconv.Itoa(cfg.MaxAttempts)))
}

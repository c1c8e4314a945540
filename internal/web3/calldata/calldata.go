// Package calldata encodes and decodes the fixed ERC-20 calls used during
// plan execution. All functions are pure.
package calldata

import (
	"math/big"
	"strings"
	"sync"

	xerrors "ChainPilot/internal/errors"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	SelectorBalanceOf = "0x70a08231"
	SelectorAllowance = "0xdd62ed3e"
	SelectorApprove   = "0x095ea7b3"
)

const erc20ABI = `[
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"allowance","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable",
	 "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

// MaxUint256 is 2^256-1, the conventional unlimited approval.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

var (
	parsedOnce sync.Once
	parsed     abi.ABI
	parseErr   error
)

func erc20() (abi.ABI, error) {
	parsedOnce.Do(func() {
		parsed, parseErr = abi.JSON(strings.NewReader(erc20ABI))
	})
	return parsed, parseErr
}

// EncodeBalanceOf builds balanceOf(owner) calldata.
func EncodeBalanceOf(owner string) (string, error) {
	ownerAddr, err := ParseAddress(owner)
	if err != nil {
		return "", err
	}
	return pack("balanceOf", ownerAddr)
}

// EncodeAllowance builds allowance(owner, spender) calldata.
func EncodeAllowance(owner, spender string) (string, error) {
	ownerAddr, err := ParseAddress(owner)
	if err != nil {
		return "", err
	}
	spenderAddr, err := ParseAddress(spender)
	if err != nil {
		return "", err
	}
	return pack("allowance", ownerAddr, spenderAddr)
}

// EncodeApprove builds approve(spender, amount) calldata.
func EncodeApprove(spender string, amount *big.Int) (string, error) {
	spenderAddr, err := ParseAddress(spender)
	if err != nil {
		return "", err
	}
	if amount == nil || amount.Sign() < 0 || amount.Cmp(MaxUint256) > 0 {
		return "", xerrors.New(xerrors.CodeInvalidAmount, "amount must be within [0, 2^256-1]")
	}
	return pack("approve", spenderAddr, new(big.Int).Set(amount))
}

func pack(method string, args ...any) (string, error) {
	contract, err := erc20()
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInitializationFailure, err, "parse erc20 abi")
	}
	out, err := contract.Pack(method, args...)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeMalformedCalldata, err, "pack "+method)
	}
	return hexutil.Encode(out), nil
}

// DecodeFirstUint256Arg returns the first 32-byte word following the
// selector.
func DecodeFirstUint256Arg(data string) (*big.Int, error) {
	trimmed := strings.TrimSpace(data)
	if len(trimmed) < 10+64 || !has0xPrefix(trimmed) {
		return nil, xerrors.New(xerrors.CodeMalformedCalldata, "calldata shorter than selector plus one argument")
	}
	raw, err := hexutil.Decode("0x" + trimmed[2:10+64])
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeMalformedCalldata, err, "calldata is not valid hex")
	}
	return new(big.Int).SetBytes(raw[4:]), nil
}

// Selector returns the lower-case 4-byte selector, or "" when calldata is
// too short.
func Selector(data string) string {
	trimmed := strings.TrimSpace(data)
	if len(trimmed) < 10 || !has0xPrefix(trimmed) {
		return ""
	}
	return strings.ToLower(trimmed[:10])
}

// IsApprove reports whether calldata invokes approve(address,uint256).
func IsApprove(data string) bool {
	return Selector(data) == SelectorApprove
}

// ParseAddress validates a 0x-prefixed 20-byte hex address.
func ParseAddress(s string) (common.Address, error) {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) != 42 || !has0xPrefix(trimmed) || !common.IsHexAddress(trimmed) {
		return common.Address{}, xerrors.New(xerrors.CodeInvalidAddress, "", xerrors.WithMetadata("address", s))
	}
	return common.HexToAddress(trimmed), nil
}

// SameAddress compares two addresses case-insensitively.
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func has0xPrefix(s string) bool {
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}

package executor

import (
	"math/big"
	"strconv"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/plan"
	"ChainPilot/internal/web3"
	"ChainPilot/internal/web3/calldata"
)

// Step 是按提交顺序排列的一笔交易。
type Step struct {
	Tx plan.TxPreview
	// Synthetic 标记由引擎补充的授权交易。
	Synthetic bool
	// Preflight 非空时在发送本步之前校验。
	Preflight *Preflight
}

// Preflight 描述账户必须持有的余额与授权额度。
type Preflight struct {
	Token   string
	Spender string
	Amount  *big.Int
}

// Settings 选择可选的授权行为。
type Settings struct {
	// LegacyBuyApprovals 为未携带授权的 BUY_USHARE 计划补充无限额度的购买代币授权。
	LegacyBuyApprovals bool
}

// BuildSteps 在不访问网络的前提下，由计划推导出有序的提交列表。
func BuildSteps(p *plan.Plan, tokens web3.TokenAddresses, settings Settings) ([]Step, error) {
	txs := p.WorkingTransactions()
	if len(txs) == 0 {
		return nil, xerrors.New(xerrors.CodeNoTransactions, "")
	}

	steps := make([]Step, len(txs))
	for i, tx := range txs {
		steps[i] = Step{Tx: tx}
	}

	switch p.ActionType {
	case plan.ActionStake:
		return stakeSteps(steps, tokens.Stake)
	case plan.ActionBuyUShare:
		if settings.LegacyBuyApprovals {
			return buySteps(steps, tokens.Purchase)
		}
	}
	return steps, nil
}

func stakeSteps(steps []Step, stakeToken string) ([]Step, error) {
	idx := firstNonApproval(steps, 0)
	if idx < 0 {
		return steps, nil
	}
	if _, err := calldata.ParseAddress(stakeToken); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "stake token address not configured")
	}

	// 计划自带授权时，余额与额度检查必须落在最后一笔授权之后的首个质押交易上。
	if last := lastApproval(steps, stakeToken); last >= 0 {
		target := firstNonApproval(steps, last+1)
		if target < 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "stake transaction must follow the stake token approval",
				xerrors.WithMetadata("approval_step", strconv.Itoa(last+1)))
		}
		if err := attachStakePreflight(steps, target, stakeToken); err != nil {
			return nil, err
		}
		return steps, nil
	}

	if err := attachStakePreflight(steps, idx, stakeToken); err != nil {
		return nil, err
	}
	stakeTx := steps[idx].Tx
	approve, err := calldata.EncodeApprove(stakeTx.To, steps[idx].Preflight.Amount)
	if err != nil {
		return nil, err
	}
	return insertBefore(steps, idx, Step{
		Tx:        plan.TxPreview{ChainID: stakeTx.ChainID, To: stakeToken, Data: approve, Value: "0"},
		Synthetic: true,
	}), nil
}

func attachStakePreflight(steps []Step, idx int, stakeToken string) error {
	stakeTx := steps[idx].Tx
	amount, err := calldata.DecodeFirstUint256Arg(stakeTx.Data)
	if err != nil {
		return err
	}
	steps[idx].Preflight = &Preflight{Token: stakeToken, Spender: stakeTx.To, Amount: amount}
	return nil
}

func buySteps(steps []Step, purchaseToken string) ([]Step, error) {
	idx := firstNonApproval(steps, 0)
	if idx < 0 || hasApproval(steps, purchaseToken) {
		return steps, nil
	}
	if _, err := calldata.ParseAddress(purchaseToken); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "purchase token address not configured")
	}
	buyTx := steps[idx].Tx
	approve, err := calldata.EncodeApprove(buyTx.To, calldata.MaxUint256)
	if err != nil {
		return nil, err
	}
	return insertBefore(steps, idx, Step{
		Tx:        plan.TxPreview{ChainID: buyTx.ChainID, To: purchaseToken, Data: approve, Value: "0"},
		Synthetic: true,
	}), nil
}

func firstNonApproval(steps []Step, from int) int {
	for i := from; i < len(steps); i++ {
		if !calldata.IsApprove(steps[i].Tx.Data) {
			return i
		}
	}
	return -1
}

func lastApproval(steps []Step, token string) int {
	for i := len(steps) - 1; i >= 0; i-- {
		if calldata.SameAddress(steps[i].Tx.To, token) && calldata.IsApprove(steps[i].Tx.Data) {
			return i
		}
	}
	return -1
}

func hasApproval(steps []Step, token string) bool {
	if token == "" {
		return false
	}
	for _, s := range steps {
		if calldata.SameAddress(s.Tx.To, token) && calldata.IsApprove(s.Tx.Data) {
			return true
		}
	}
	return false
}

func insertBefore(steps []Step, idx int, step Step) []Step {
	out := make([]Step, 0, len(steps)+1)
	out = append(out, steps[:idx]...)
	out = append(out, step)
	return append(out, steps[idx:]...)
}

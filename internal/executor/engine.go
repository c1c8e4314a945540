package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/journal"
	"ChainPilot/internal/observability/metrics"
	"ChainPilot/internal/plan"
	"ChainPilot/internal/web3"
	"ChainPilot/internal/web3/calldata"
	"ChainPilot/internal/web3/rpc"
	"ChainPilot/pkg/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Chains 按链 ID 提供只读 RPC 客户端与代币合约地址。
type Chains interface {
	Reader(chainID int64) (web3.Reader, error)
	Tokens(chainID int64) web3.TokenAddresses
}

// Stage 标识执行进度所处的阶段。
type Stage string

const (
	StageSwitching  Stage = "switching"
	StagePreflight  Stage = "preflight"
	StageSending    Stage = "sending"
	StageConfirming Stage = "confirming"
	StageConfirmed  Stage = "confirmed"
	StageFailed     Stage = "failed"
	StageCompleted  Stage = "completed"
)

// Progress 是执行过程中发出的可读状态更新。
type Progress struct {
	ExecutionID string
	PlanID      string
	Stage       Stage
	Step        int
	Total       int
	TxHash      string
	Message     string
}

// Reporter 接收进度更新，在执行所在的 goroutine 中被调用。
type Reporter func(Progress)

// StepResult 记录一笔已提交交易的结果。
type StepResult struct {
	Step      Step
	TxHash    string
	Receipt   rpc.Receipt
	Confirmed bool
}

// Result 汇总一次执行。
type Result struct {
	ExecutionID string
	PlanID      string
	Steps       []StepResult
}

// Engine 通过钱包严格按顺序执行计划中的交易。
type Engine struct {
	wallet   web3.Wallet
	chains   Chains
	settings Settings
	journal  journal.Store
	log      *slog.Logger
	audit    *slog.Logger
}

// Option 用于配置 Engine。
type Option func(*Engine)

// WithSettings 设置授权相关行为。
func WithSettings(s Settings) Option {
	return func(e *Engine) { e.settings = s }
}

// WithJournal 将每一步写入执行日志。
func WithJournal(store journal.Store) Option {
	return func(e *Engine) { e.journal = store }
}

// WithLogger 替换组件日志。
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// New 创建执行引擎。
func New(wallet web3.Wallet, chains Chains, opts ...Option) *Engine {
	e := &Engine{
		wallet: wallet,
		chains: chains,
		log:    logger.Named("executor"),
		audit:  logger.Audit(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

type run struct {
	*Engine
	id     string
	plan   *plan.Plan
	report Reporter
	reader web3.Reader
	total  int
}

// Execute 按顺序提交计划中的交易，每笔交易确认后才发送下一笔。
// 任一步失败后，其后的交易都不会发送。
func (e *Engine) Execute(ctx context.Context, p *plan.Plan, report Reporter) (Result, error) {
	if report == nil {
		report = func(Progress) {}
	}
	if p == nil {
		return Result{}, xerrors.New(xerrors.CodeNoTransactions, "")
	}
	r := &run{Engine: e, id: uuid.NewString(), plan: p, report: report}
	result := Result{ExecutionID: r.id, PlanID: p.ID}

	err := r.execute(ctx, &result)
	code := "OK"
	if err != nil {
		code = string(xerrors.CodeOf(err))
		if !xerrors.IsCancelled(err) {
			r.emit(Progress{Stage: StageFailed, Message: Sanitize(err).Headline})
		}
	}
	metrics.ObserveExecution(string(p.ActionType), code)
	return result, err
}

func (r *run) execute(ctx context.Context, result *Result) error {
	txs := r.plan.WorkingTransactions()
	if len(txs) == 0 {
		return xerrors.New(xerrors.CodeNoTransactions, "")
	}
	chainID := txs[0].ChainID

	steps, err := BuildSteps(r.plan, r.chains.Tokens(chainID), r.settings)
	if err != nil {
		return err
	}
	r.total = len(steps)

	if err := r.ensureChain(ctx, chainID); err != nil {
		return err
	}

	r.reader, err = r.chains.Reader(chainID)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "no rpc client for chain",
			xerrors.WithMetadata("chain_id", fmt.Sprint(chainID)))
	}

	r.log.Info("executing plan",
		slog.String("execution_id", r.id),
		slog.String("plan_id", r.plan.ID),
		slog.String("action", string(r.plan.ActionType)),
		slog.Int("steps", r.total))

	for i, step := range steps {
		res, err := r.runStep(ctx, i+1, step)
		if err != nil {
			status := journal.StatusFailed
			if xerrors.CodeOf(err) == xerrors.CodeTransactionReverted {
				status = journal.StatusReverted
			}
			r.record(ctx, i+1, step, res.TxHash, status, err)
			return err
		}
		result.Steps = append(result.Steps, res)
	}
	r.emit(Progress{Stage: StageCompleted, Message: "All transactions confirmed"})
	return nil
}

func (r *run) ensureChain(ctx context.Context, chainID int64) error {
	active, err := r.wallet.ChainID(ctx)
	if err == nil && active == chainID {
		return nil
	}
	r.emit(Progress{Stage: StageSwitching, Message: fmt.Sprintf("Switching wallet to chain %d…", chainID)})
	if err := r.wallet.SwitchChain(ctx, chainID); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return xerrors.Cancelled(ctxErr)
		}
		return xerrors.Wrap(xerrors.CodeChainSwitchFailed, err, "",
			xerrors.WithMetadata("chain_id", fmt.Sprint(chainID)))
	}
	return nil
}

func (r *run) runStep(ctx context.Context, index int, step Step) (StepResult, error) {
	res := StepResult{Step: step}

	if step.Preflight != nil {
		r.emit(Progress{Stage: StagePreflight, Step: index, Message: "Checking balance and allowance…"})
		if err := r.preflight(ctx, *step.Preflight); err != nil {
			return res, err
		}
	}

	value, err := step.Tx.ValueWei()
	if err != nil {
		return res, xerrors.Wrap(xerrors.CodeInvalidAmount, err, "")
	}

	r.emit(Progress{Stage: StageSending, Step: index, Message: fmt.Sprintf("Sending transaction %d of %d…", index, r.total)})
	sent, err := r.wallet.SendTransaction(ctx, web3.TxRequest{
		ChainID: step.Tx.ChainID,
		To:      step.Tx.To,
		Data:    step.Tx.Data,
		Value:   value,
	})
	if err != nil {
		metrics.ObserveSubmission(string(r.plan.ActionType), "rejected")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, xerrors.Cancelled(ctxErr)
		}
		return res, xerrors.Wrap(xerrors.CodeSendFailed, err, "")
	}
	if !validTxHash(sent.TransactionHash) {
		metrics.ObserveSubmission(string(r.plan.ActionType), "no_hash")
		return res, xerrors.New(xerrors.CodeUnexpectedSendResult, "",
			xerrors.WithMetadata("step", fmt.Sprint(index)))
	}
	res.TxHash = sent.TransactionHash
	metrics.ObserveSubmission(string(r.plan.ActionType), "submitted")

	r.audit.Info("transaction submitted",
		slog.String("execution_id", r.id),
		slog.String("plan_id", r.plan.ID),
		slog.Int("step", index),
		slog.Int64("chain_id", step.Tx.ChainID),
		slog.String("to", step.Tx.To),
		slog.String("tx_hash", res.TxHash),
		slog.Bool("synthetic", step.Synthetic))
	r.record(ctx, index, step, res.TxHash, journal.StatusSubmitted, nil)

	r.emit(Progress{Stage: StageConfirming, Step: index, TxHash: res.TxHash, Message: "Waiting for confirmation…"})
	receipt, err := r.reader.PollReceipt(ctx, res.TxHash)
	if err != nil {
		return res, err
	}
	res.Receipt = receipt
	if receipt.Status != rpc.ReceiptSuccess {
		metrics.ObserveSubmission(string(r.plan.ActionType), "reverted")
		r.audit.Warn("transaction reverted",
			slog.String("execution_id", r.id),
			slog.String("tx_hash", res.TxHash),
			slog.String("status", receipt.RawStatus))
		return res, xerrors.New(xerrors.CodeTransactionReverted, "",
			xerrors.WithMetadata("status", receipt.RawStatus),
			xerrors.WithMetadata("tx_hash", res.TxHash))
	}

	res.Confirmed = true
	metrics.ObserveSubmission(string(r.plan.ActionType), "confirmed")
	r.audit.Info("transaction confirmed",
		slog.String("execution_id", r.id),
		slog.String("tx_hash", res.TxHash),
		slog.Uint64("block", receipt.BlockNumber))
	r.record(ctx, index, step, res.TxHash, journal.StatusConfirmed, nil)
	r.emit(Progress{Stage: StageConfirmed, Step: index, TxHash: res.TxHash,
		Message: fmt.Sprintf("Transaction %d of %d confirmed", index, r.total)})
	return res, nil
}

// preflight 并发读取余额与授权额度，任一不足即失败。
func (r *run) preflight(ctx context.Context, check Preflight) error {
	owner := r.wallet.Address()
	balanceCall, err := calldata.EncodeBalanceOf(owner)
	if err != nil {
		return err
	}
	allowanceCall, err := calldata.EncodeAllowance(owner, check.Spender)
	if err != nil {
		return err
	}

	var balance, allowance *big.Int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := r.reader.ReadUint256(gctx, check.Token, balanceCall)
		balance = v
		return err
	})
	g.Go(func() error {
		v, err := r.reader.ReadUint256(gctx, check.Token, allowanceCall)
		allowance = v
		return err
	})
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return xerrors.Cancelled(ctxErr)
		}
		return err
	}

	if balance.Cmp(check.Amount) < 0 {
		return xerrors.New(xerrors.CodeInsufficientBalance,
			fmt.Sprintf("insufficient token balance: have %s, need %s", balance, check.Amount),
			xerrors.WithMetadata("actual", balance.String()),
			xerrors.WithMetadata("required", check.Amount.String()),
			xerrors.WithMetadata("token", check.Token))
	}
	if allowance.Cmp(check.Amount) < 0 {
		return xerrors.New(xerrors.CodeInsufficientAllowance,
			fmt.Sprintf("insufficient token allowance: have %s, need %s", allowance, check.Amount),
			xerrors.WithMetadata("actual", allowance.String()),
			xerrors.WithMetadata("required", check.Amount.String()),
			xerrors.WithMetadata("spender", check.Spender))
	}
	return nil
}

func (r *run) emit(p Progress) {
	p.ExecutionID = r.id
	p.PlanID = r.plan.ID
	if p.Total == 0 {
		p.Total = r.total
	}
	r.report(p)
}

func (r *run) record(ctx context.Context, index int, step Step, txHash string, status journal.Status, cause error) {
	if r.journal == nil {
		return
	}
	entry := journal.Entry{
		ExecutionID: r.id,
		PlanID:      r.plan.ID,
		ActionType:  string(r.plan.ActionType),
		Step:        index,
		Total:       r.total,
		ChainID:     step.Tx.ChainID,
		To:          step.Tx.To,
		TxHash:      txHash,
		Status:      status,
	}
	if cause != nil {
		entry.ErrorCode = string(xerrors.CodeOf(cause))
		entry.ErrorMessage = Sanitize(cause).Headline
	}
	// 调用方取消后仍需写入执行日志。
	if err := r.journal.Append(context.WithoutCancel(ctx), entry); err != nil {
		r.log.Warn("journal append failed", slog.String("execution_id", r.id), slog.Any("error", err))
	}
}

func validTxHash(hash string) bool {
	h := strings.TrimSpace(hash)
	if len(h) != 66 || !strings.HasPrefix(h, "0x") {
		return false
	}
	for _, c := range h[2:] {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}

package agent

import (
	"context"
	"log/slog"
	"strings"

	"ChainPilot/internal/conversation"
	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/executor"
	"ChainPilot/internal/journal"
	"ChainPilot/internal/notify"
	"ChainPilot/internal/plan"
	"ChainPilot/internal/stream"
	"ChainPilot/pkg/logger"
)

// Streamer 打开对话流并逐个回调事件。
type Streamer interface {
	Stream(ctx context.Context, req stream.Request, sink stream.Sink) error
}

// Executor 执行助手给出的交易计划。
type Executor interface {
	Execute(ctx context.Context, p *plan.Plan, report executor.Reporter) (executor.Result, error)
}

// Publisher 向外部订阅者推送执行进度。
type Publisher interface {
	Publish(ctx context.Context, event notify.Event) error
}

// Agent 协调会话状态、对话流与交易执行，同一时刻只允许一个进行中的操作。
type Agent struct {
	streamer     Streamer
	engine       Executor
	state        *conversation.State
	controller   conversation.Controller
	journal      journal.Store
	publisher    Publisher
	historyLimit int
	reqContext   *stream.RequestContext
	log          *slog.Logger
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithHistoryLimit 设置发送给后端的历史消息条数。
func WithHistoryLimit(limit int) Option {
	return func(a *Agent) {
		a.historyLimit = limit
	}
}

// WithRequestContext 附带钱包账户与锁仓信息。
func WithRequestContext(account, vesting string) Option {
	return func(a *Agent) {
		account, vesting = strings.TrimSpace(account), strings.TrimSpace(vesting)
		if account == "" && vesting == "" {
			a.reqContext = nil
			return
		}
		a.reqContext = &stream.RequestContext{Account: account, Vesting: vesting}
	}
}

// WithJournal 配置执行记录存储，用于查询历史。
func WithJournal(store journal.Store) Option {
	return func(a *Agent) {
		a.journal = store
	}
}

// WithPublisher 配置执行进度推送。
func WithPublisher(p Publisher) Option {
	return func(a *Agent) {
		a.publisher = p
	}
}

// New 创建一个 Agent。
func New(streamer Streamer, engine Executor, opts ...Option) *Agent {
	ag := &Agent{
		streamer:     streamer,
		engine:       engine,
		state:        conversation.NewState(),
		historyLimit: conversation.DefaultHistoryLimit,
		log:          logger.Named("agent"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	if ag.historyLimit <= 0 {
		ag.historyLimit = conversation.DefaultHistoryLimit
	}
	return ag
}

// State 返回会话状态。
func (a *Agent) State() *conversation.State {
	return a.state
}

// Send 发送一条用户消息并消费对话流，返回助手消息 ID。新的 Send 会取消
// 上一个进行中的操作。observer 可为空。
func (a *Agent) Send(ctx context.Context, text string, observer stream.Sink) (string, error) {
	if a.streamer == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "未配置对话流客户端")
	}
	if strings.TrimSpace(text) == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "消息内容不能为空")
	}

	ctx, release := a.controller.Replace(ctx)
	defer release()

	id := a.state.AddUserMessage(text)
	req := stream.Request{Messages: a.state.Payload(a.historyLimit), Context: a.reqContext}

	err := a.streamer.Stream(ctx, req, func(ev stream.Event) {
		a.state.Apply(id, ev)
		if observer != nil {
			observer(ev)
		}
	})
	if err != nil {
		if xerrors.IsCancelled(err) {
			a.log.Debug("stream cancelled", slog.String("message_id", id))
			return id, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return id, xerrors.Cancelled(ctxErr)
		}
		a.log.Warn("stream failed", slog.String("message_id", id), slog.Any("error", err))
		d := executor.Sanitize(err)
		a.state.AddStatus(d.Headline, d.Detail)
		return id, err
	}
	return id, nil
}

// ExecutePlan 执行附在指定助手消息上的计划。失败会以状态消息展示，取消不会。
func (a *Agent) ExecutePlan(ctx context.Context, messageID string, report executor.Reporter) (executor.Result, error) {
	if a.engine == nil {
		return executor.Result{}, xerrors.New(xerrors.CodeInitializationFailure, "未配置交易执行器")
	}
	p, ok := a.state.Plan(messageID)
	if !ok {
		return executor.Result{}, xerrors.New(xerrors.CodeNoTransactions, "",
			xerrors.WithMetadata("message_id", messageID))
	}

	ctx, release := a.controller.Replace(ctx)
	defer release()

	result, err := a.engine.Execute(ctx, p, func(progress executor.Progress) {
		a.publish(ctx, progress)
		if report != nil {
			report(progress)
		}
	})
	if err != nil {
		d := executor.Sanitize(err)
		if d.Silent {
			return result, err
		}
		a.state.AddStatus(d.Headline, d.Detail)
		return result, err
	}
	a.state.AddStatus("All transactions confirmed", "")
	return result, nil
}

// Abort 取消进行中的对话流或计划执行。
func (a *Agent) Abort() {
	a.controller.Abort()
}

// ListHistory 获取最近的交易执行记录。
func (a *Agent) ListHistory(ctx context.Context, limit int) ([]journal.Entry, error) {
	if a.journal == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置执行记录存储")
	}
	entries, err := a.journal.ListLatest(ctx, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询执行记录失败")
	}
	return entries, nil
}

func (a *Agent) publish(ctx context.Context, progress executor.Progress) {
	if a.publisher == nil {
		return
	}
	err := a.publisher.Publish(context.WithoutCancel(ctx), notify.Event{
		ExecutionID: progress.ExecutionID,
		PlanID:      progress.PlanID,
		Stage:       string(progress.Stage),
		Step:        progress.Step,
		Total:       progress.Total,
		TxHash:      progress.TxHash,
		Message:     progress.Message,
	})
	if err != nil {
		a.log.Debug("progress publish failed", slog.String("execution_id", progress.ExecutionID), slog.Any("error", err))
	}
}

package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"ChainPilot/internal/config"
	"ChainPilot/pkg/logger"
)

// Channel 表示进度推送渠道。
type Channel string

// 支持的推送渠道
const (
	ChannelRedis    Channel = "redis"
	ChannelRabbitMQ Channel = "rabbitmq"
)

// Event 描述一次执行进度，序列化后推送给外部订阅者。
type Event struct {
	ExecutionID string    `json:"execution_id"`
	PlanID      string    `json:"plan_id,omitempty"`
	Stage       string    `json:"stage"`
	Step        int       `json:"step,omitempty"`
	Total       int       `json:"total,omitempty"`
	TxHash      string    `json:"tx_hash,omitempty"`
	Message     string    `json:"message"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Publisher 负责将事件发送到指定渠道。
type Publisher interface {
	Channel() Channel
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Fanout 将事件广播给多个推送渠道。
type Fanout struct {
	publishers map[Channel]Publisher
}

// NewFanout 创建一个新的 Fanout。
func NewFanout(publishers ...Publisher) *Fanout {
	set := make(map[Channel]Publisher, len(publishers))
	for _, p := range publishers {
		if p == nil {
			continue
		}
		set[p.Channel()] = p
	}
	return &Fanout{publishers: set}
}

// Open 根据配置创建推送渠道，未配置的渠道会被跳过。
func Open(ctx context.Context, cfg config.NotifyConfig) (*Fanout, error) {
	var publishers []Publisher
	if cfg.Redis.Address != "" {
		p, err := NewRedisPublisher(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		publishers = append(publishers, p)
	}
	if cfg.RabbitMQ.URL != "" {
		p, err := NewRabbitMQPublisher(cfg.RabbitMQ)
		if err != nil {
			for _, opened := range publishers {
				_ = opened.Close()
			}
			return nil, err
		}
		publishers = append(publishers, p)
	}
	return NewFanout(publishers...), nil
}

// Channels 返回已注册的渠道。
func (f *Fanout) Channels() []Channel {
	if f == nil {
		return nil
	}
	out := make([]Channel, 0, len(f.publishers))
	for ch := range f.publishers {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Publish 将事件广播至所有注册渠道。
func (f *Fanout) Publish(ctx context.Context, event Event) error {
	if f == nil || len(f.publishers) == 0 {
		return nil
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	var errs []error
	for _, p := range f.publishers {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", p.Channel(), err))
		}
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		logger.Named("notify").Warn("进度推送失败",
			slog.String("execution_id", event.ExecutionID),
			slog.String("stage", event.Stage),
			slog.Any("error", err))
		return err
	}
	return nil
}

// Close 关闭全部渠道。
func (f *Fanout) Close() error {
	if f == nil {
		return nil
	}
	var err error
	for ch, p := range f.publishers {
		err = errors.Join(err, p.Close())
		delete(f.publishers, ch)
	}
	return err
}

package journal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ChainPilot/internal/config"

	"github.com/google/uuid"
)

// Status 表示执行记录所处的阶段。
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusConfirmed Status = "confirmed"
	StatusReverted  Status = "reverted"
	StatusFailed    Status = "failed"
)

// Entry 表示一次交易步骤的执行记录。
type Entry struct {
	ID           string `json:"id"`
	ExecutionID  string `json:"execution_id"`
	PlanID       string `json:"plan_id"`
	ActionType   string `json:"action_type"`
	Step         int    `json:"step"`
	Total        int    `json:"total"`
	ChainID      int64  `json:"chain_id"`
	To           string `json:"to"`
	TxHash       string `json:"tx_hash"`
	Status       Status `json:"status"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	CreatedAt    int64  `json:"created_at"`
}

// Store 抽象执行记录的持久化接口。
type Store interface {
	Append(ctx context.Context, entry Entry) error
	ListLatest(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// Open 根据配置创建执行记录存储。driver 为 none 时返回 nil。
func Open(ctx context.Context, cfg config.JournalConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "file":
		store, err := NewFileStore(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "mysql", "sqlite":
		store, err := NewSQLStore(ctx, strings.ToLower(cfg.Driver), cfg.DSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("不支持的执行记录存储驱动: %s", cfg.Driver)
	}
}

func normalize(entry Entry) Entry {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt == 0 {
		entry.CreatedAt = time.Now().UnixMilli()
	}
	return entry
}

package plan

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// Role 标识对话消息的作者。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage 是发往对话服务的一条消息。
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ActionType 枚举助手可能给出的意图。
type ActionType string

const (
	ActionStake       ActionType = "STAKE"
	ActionUnstake     ActionType = "UNSTAKE"
	ActionClaim       ActionType = "CLAIM"
	ActionBuyUShare   ActionType = "BUY_USHARE"
	ActionSellUShare  ActionType = "SELL_USHARE"
	ActionVote        ActionType = "VOTE"
	ActionTransfer    ActionType = "TRANSFER"
	ActionQuestion    ActionType = "QUESTION"
	ActionUnsupported ActionType = "UNSUPPORTED"
)

var knownActions = map[ActionType]struct{}{
	ActionStake:       {},
	ActionUnstake:     {},
	ActionClaim:       {},
	ActionBuyUShare:   {},
	ActionSellUShare:  {},
	ActionVote:        {},
	ActionTransfer:    {},
	ActionQuestion:    {},
	ActionUnsupported: {},
}

// ParseActionType 将传输值映射为枚举值，未知值映射为 ActionUnsupported。
func ParseActionType(raw string) ActionType {
	candidate := ActionType(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := knownActions[candidate]; ok {
		return candidate
	}
	return ActionUnsupported
}

// UnmarshalJSON 实现 json.Unmarshaler。
func (a *ActionType) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode action type: %w", err)
	}
	*a = ParseActionType(raw)
	return nil
}

// Executable 判断该类型的计划是否可以携带交易。
func (a ActionType) Executable() bool {
	return a != ActionQuestion && a != ActionUnsupported
}

// TxPreview 是一笔未签名的交易意图。
type TxPreview struct {
	ChainID int64  `json:"chainId"`
	To      string `json:"to"`
	Data    string `json:"data"`
	Value   string `json:"value"`
}

// ValueWei 解析十进制金额，空值视为零。
func (t TxPreview) ValueWei() (*big.Int, error) {
	raw := strings.TrimSpace(t.Value)
	if raw == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid transaction value %q", t.Value)
	}
	return v, nil
}

// Plan 是助手生成的结构化意图，附加到消息后不再修改。
type Plan struct {
	ID             string      `json:"id"`
	ActionType     ActionType  `json:"actionType"`
	Interpretation string      `json:"interpretation"`
	UserMessage    string      `json:"userMessage"`
	Warnings       []string    `json:"warnings,omitempty"`
	Txs            []TxPreview `json:"txs,omitempty"`
	LegacyTx       *TxPreview  `json:"tx,omitempty"`
	DocsURL        string      `json:"docsUrl,omitempty"`
	SupportEmail   string      `json:"supportEmail,omitempty"`
}

// WorkingTransactions 返回待执行的交易：优先使用 txs，否则使用旧版单笔 tx。
func (p *Plan) WorkingTransactions() []TxPreview {
	if p == nil {
		return nil
	}
	if len(p.Txs) > 0 {
		out := make([]TxPreview, len(p.Txs))
		copy(out, p.Txs)
		return out
	}
	if p.LegacyTx != nil {
		return []TxPreview{*p.LegacyTx}
	}
	return nil
}

// Actionable 判断计划是否可以执行。
func (p *Plan) Actionable() bool {
	if p == nil {
		return false
	}
	return p.ActionType.Executable() && len(p.WorkingTransactions()) > 0
}

// TargetChain 返回首笔待执行交易所在的链。
func (p *Plan) TargetChain() (int64, bool) {
	txs := p.WorkingTransactions()
	if len(txs) == 0 {
		return 0, false
	}
	return txs[0].ChainID, true
}

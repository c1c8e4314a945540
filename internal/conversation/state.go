package conversation

import (
	"strings"
	"sync"
	"time"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/plan"
	"ChainPilot/internal/stream"

	"github.com/google/uuid"
)

// DefaultHistoryLimit 是发送给后端的最大历史消息条数。
const DefaultHistoryLimit = 30

// ApologyText 在助手尚未输出任何内容时替代错误展示。
const ApologyText = "Sorry, I couldn't finish that answer. Please try again."

// RoleStatus 标记独立的状态消息，不会发送给后端。
const RoleStatus plan.Role = "status"

// Message 表示会话中的一条消息。
type Message struct {
	ID        string
	Role      plan.Role
	Content   string
	Plan      *plan.Plan
	Detail    string
	CreatedAt time.Time

	planned bool
}

// State 保存会话消息，并按规则应用流式事件。
type State struct {
	mu       sync.Mutex
	messages []*Message
	index    map[string]*Message
	now      func() time.Time
}

// NewState 创建空会话。
func NewState() *State {
	return &State{index: map[string]*Message{}, now: time.Now}
}

// AddUserMessage 追加用户消息并创建空的助手占位消息，返回占位消息 ID。
func (s *State) AddUserMessage(text string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(plan.RoleUser, text)
	return s.appendLocked(plan.RoleAssistant, "").ID
}

// AddStatus 追加一条独立的状态消息。
func (s *State) AddStatus(text, detail string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.appendLocked(RoleStatus, text)
	m.Detail = detail
	return m.ID
}

func (s *State) appendLocked(role plan.Role, text string) *Message {
	m := &Message{ID: uuid.NewString(), Role: role, Content: text, CreatedAt: s.now()}
	s.messages = append(s.messages, m)
	s.index[m.ID] = m
	return m
}

// Apply 将一个流事件应用到指定的助手消息。
func (s *State) Apply(id string, ev stream.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.index[id]
	if !ok {
		return
	}
	switch e := ev.(type) {
	case stream.DeltaEvent:
		// plan 到达后的增量文本已过期
		if m.planned {
			return
		}
		m.Content += e.Text
	case stream.PlanEvent:
		p := e.Plan
		m.planned = true
		m.Content = p.UserMessage
		if p.Actionable() {
			m.Plan = &p
		} else {
			m.Plan = nil
		}
	case stream.ErrorEvent:
		if strings.TrimSpace(m.Content) == "" {
			m.Content = ApologyText
			return
		}
		status := s.appendLocked(RoleStatus, errorText(e))
		status.Detail = e.Code
	case stream.ReadyEvent, stream.DoneEvent:
	}
}

func errorText(e stream.ErrorEvent) string {
	if msg := strings.TrimSpace(e.Message); msg != "" {
		return msg
	}
	return xerrors.AttributesOf(xerrors.Code(e.Code)).Message
}

// Message 返回消息的副本。
func (s *State) Message(id string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.index[id]
	if !ok {
		return Message{}, false
	}
	return *m, true
}

// Plan 返回消息上附带的可执行计划。
func (s *State) Plan(id string) (*plan.Plan, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.index[id]
	if !ok || m.Plan == nil {
		return nil, false
	}
	p := *m.Plan
	return &p, true
}

// Messages 返回全部消息的快照。
func (s *State) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = *m
	}
	return out
}

// Payload 构造发送给后端的消息列表：仅保留最近 limit 条用户与助手消息，
// 按时间正序排列，并排除空的占位消息。
func (s *State) Payload(limit int) []plan.ChatMessage {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	eligible := make([]plan.ChatMessage, 0, len(s.messages))
	for _, m := range s.messages {
		if m.Role != plan.RoleUser && m.Role != plan.RoleAssistant {
			continue
		}
		if m.Role == plan.RoleAssistant && m.Content == "" {
			continue
		}
		eligible = append(eligible, plan.ChatMessage{Role: m.Role, Content: m.Content})
	}
	if len(eligible) > limit {
		eligible = eligible[len(eligible)-limit:]
	}
	return eligible
}

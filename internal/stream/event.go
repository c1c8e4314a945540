package stream

import "ChainPilot/internal/plan"

// Event 是解码后的流事件，实现集合是封闭的。
type Event interface {
	Name() string
	isEvent()
}

// ReadyEvent 是可选的首个提示事件。
type ReadyEvent struct {
	ID string
}

// PlanEvent 携带助手计划，覆盖同一轮之前的增量文本，其后的增量均已过期。
type PlanEvent struct {
	Plan plan.Plan
}

// DeltaEvent 携带一段增量回复文本。
type DeltaEvent struct {
	Text string
}

// DoneEvent 表示流正常结束。
type DoneEvent struct{}

// ErrorEvent 报告协议或服务端错误。
type ErrorEvent struct {
	Code    string
	Message string
}

const (
	EventReady = "ready"
	EventPlan  = "plan"
	EventDelta = "delta"
	EventDone  = "done"
	EventError = "error"
)

func (ReadyEvent) Name() string { return EventReady }
func (PlanEvent) Name() string  { return EventPlan }
func (DeltaEvent) Name() string { return EventDelta }
func (DoneEvent) Name() string  { return EventDone }
func (ErrorEvent) Name() string { return EventError }

func (ReadyEvent) isEvent() {}
func (PlanEvent) isEvent()  {}
func (DeltaEvent) isEvent() {}
func (DoneEvent) isEvent()  {}
func (ErrorEvent) isEvent() {}

// Sink 按流顺序接收事件，不会被并发调用。
type Sink func(Event)

package stream

import (
	"bytes"
	"encoding/json"
	"strings"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/plan"
)

var blockSeparator = []byte("\n\n")

// Decoder 从任意切分的数据块中重组事件块。切分基于原始字节，
// 多字节 UTF-8 字符被截断时不会进入文本解码。
//
// 最近一次出现的事件名会跨块保留，没有 event 行的块按该名称解码。
type Decoder struct {
	buf       []byte
	current   string
	pendingCR bool
}

// NewDecoder 返回空的解码器。
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed 追加数据块并返回所有已完整的事件，末尾不完整的块继续缓存。
func (d *Decoder) Feed(chunk []byte) []Event {
	if len(chunk) == 0 {
		return nil
	}
	d.append(chunk)

	var events []Event
	for {
		idx := bytes.Index(d.buf, blockSeparator)
		if idx < 0 {
			break
		}
		block := string(d.buf[:idx])
		d.buf = d.buf[idx+len(blockSeparator):]
		if ev := d.parseBlock(block); ev != nil {
			events = append(events, ev)
		}
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return events
}

// append 将 CRLF 归一化为 LF。块末尾的 CR 暂存，待下一个字节确认是否为 CRLF。
func (d *Decoder) append(chunk []byte) {
	for _, b := range chunk {
		if d.pendingCR {
			d.pendingCR = false
			if b == '\n' {
				d.buf = append(d.buf, '\n')
				continue
			}
			d.buf = append(d.buf, '\r')
		}
		if b == '\r' {
			d.pendingCR = true
			continue
		}
		d.buf = append(d.buf, b)
	}
}

// Pending 返回不完整块已缓存的字节数。
func (d *Decoder) Pending() int {
	return len(d.buf)
}

// Close 丢弃末尾不完整的块。
func (d *Decoder) Close() {
	d.buf = nil
	d.pendingCR = false
}

func (d *Decoder) parseBlock(block string) Event {
	var (
		name     string
		hasEvent bool
		data     []string
		hasData  bool
	)
	for _, line := range strings.Split(block, "\n") {
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		field, value, found := strings.Cut(line, ":")
		if found {
			value = strings.TrimPrefix(value, " ")
		}
		switch field {
		case "event":
			name = strings.TrimSpace(value)
			hasEvent = true
		case "data":
			data = append(data, value)
			hasData = true
		}
	}
	if !hasEvent && !hasData {
		return nil
	}
	if hasEvent {
		d.current = name
	}
	return decodeEvent(d.current, strings.Join(data, "\n"))
}

func decodeEvent(name, payload string) Event {
	switch name {
	case EventReady:
		var body struct {
			ID string `json:"id"`
		}
		if strings.TrimSpace(payload) == "" || json.Unmarshal([]byte(payload), &body) != nil {
			return ReadyEvent{}
		}
		return ReadyEvent{ID: body.ID}

	case EventPlan:
		var p plan.Plan
		// 计划必须是 JSON 对象，null 与数组同样视为解析失败。
		if !strings.HasPrefix(strings.TrimSpace(payload), "{") || json.Unmarshal([]byte(payload), &p) != nil {
			return ErrorEvent{
				Code:    string(xerrors.CodeBadPlanEvent),
				Message: xerrors.AttributesOf(xerrors.CodeBadPlanEvent).Message,
			}
		}
		return PlanEvent{Plan: p}

	case EventDelta:
		var body struct {
			Delta *string `json:"delta"`
		}
		if err := json.Unmarshal([]byte(payload), &body); err != nil {
			return DeltaEvent{Text: payload}
		}
		if body.Delta == nil {
			return DeltaEvent{}
		}
		return DeltaEvent{Text: *body.Delta}

	case EventDone:
		return DoneEvent{}

	case EventError:
		var body struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal([]byte(payload), &body); err != nil {
			return ErrorEvent{Code: string(xerrors.CodeStreamError), Message: payload}
		}
		code := body.Error
		if code == "" {
			code = string(xerrors.CodeStreamError)
		}
		return ErrorEvent{Code: code, Message: body.Message}
	}
	return nil
}

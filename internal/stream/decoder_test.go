package stream

import (
	"reflect"
	"testing"

	"ChainPilot/internal/plan"
)

const planPayload = `{"id":"p1","actionType":"STAKE","interpretation":"stake 100","userMessage":"Done",` +
	`"warnings":[],"txs":[{"chainId":1,"to":"0x1111111111111111111111111111111111111111",` +
	`"data":"0xa694fc3a0000000000000000000000000000000000000000000000000000000000000064","value":"0"}]}`

const sampleStream = ": keep-alive\n\n" +
	"event: ready\ndata: {\"id\":\"turn-1\"}\n\n" +
	"event: delta\ndata: {\"delta\":\"Héllo \"}\n\n" +
	"event: delta\ndata: {\"delta\":\"wörld 🌍\"}\n\n" +
	"event: plan\ndata: " + planPayload + "\n\n" +
	"event: done\ndata: {}\n\n"

func decodeAll(chunks ...[]byte) []Event {
	d := NewDecoder()
	var out []Event
	for _, c := range chunks {
		out = append(out, d.Feed(c)...)
	}
	return out
}

func TestDecoderWholeStream(t *testing.T) {
	events := decodeAll([]byte(sampleStream))
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d: %#v", len(events), events)
	}
	if ready, ok := events[0].(ReadyEvent); !ok || ready.ID != "turn-1" {
		t.Fatalf("unexpected ready event %#v", events[0])
	}
	if delta, ok := events[2].(DeltaEvent); !ok || delta.Text != "wörld 🌍" {
		t.Fatalf("unexpected delta %#v", events[2])
	}
	planEv, ok := events[3].(PlanEvent)
	if !ok {
		t.Fatalf("expected plan event, got %#v", events[3])
	}
	if planEv.Plan.ActionType != plan.ActionStake || !planEv.Plan.Actionable() {
		t.Fatalf("unexpected plan %+v", planEv.Plan)
	}
	if _, ok := events[4].(DoneEvent); !ok {
		t.Fatalf("expected done, got %#v", events[4])
	}
}

func TestDecoderFragmentationInvariance(t *testing.T) {
	raw := []byte(sampleStream)
	want := decodeAll(raw)

	for i := 0; i <= len(raw); i++ {
		got := decodeAll(raw[:i], raw[i:])
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("split at %d changed events:\n got %#v\nwant %#v", i, got, want)
		}
	}

	for step := 1; step <= 7; step++ {
		var chunks [][]byte
		for i := 0; i < len(raw); i += step {
			end := i + step
			if end > len(raw) {
				end = len(raw)
			}
			chunks = append(chunks, raw[i:end])
		}
		if got := decodeAll(chunks...); !reflect.DeepEqual(got, want) {
			t.Fatalf("chunk size %d changed events", step)
		}
	}
}

func TestDecoderCRLFAcrossChunks(t *testing.T) {
	raw := []byte("event: delta\r\ndata: {\"delta\":\"a\"}\r\n\r\nevent: done\r\n\r\n")
	want := []Event{DeltaEvent{Text: "a"}, DoneEvent{}}
	for i := 0; i <= len(raw); i++ {
		if got := decodeAll(raw[:i], raw[i:]); !reflect.DeepEqual(got, want) {
			t.Fatalf("split at %d: got %#v", i, got)
		}
	}
}

func TestDecoderHoldsPartialBlock(t *testing.T) {
	d := NewDecoder()
	if events := d.Feed([]byte("event: delta\ndata: {\"delta\":\"x\"}\n")); len(events) != 0 {
		t.Fatalf("no event may be emitted before the block completes, got %#v", events)
	}
	if d.Pending() == 0 {
		t.Fatal("expected partial block to be buffered")
	}
	events := d.Feed([]byte("\n"))
	if !reflect.DeepEqual(events, []Event{DeltaEvent{Text: "x"}}) {
		t.Fatalf("unexpected events %#v", events)
	}
	d.Feed([]byte("event: done\n"))
	d.Close()
	if d.Pending() != 0 {
		t.Fatal("close should discard the trailing partial block")
	}
}

func TestDecoderMultiLineDataAndPersistedEvent(t *testing.T) {
	raw := "event: delta\ndata: {\"delta\":\ndata: \"joined\"}\n\n" +
		"data: {\"delta\":\"again\"}\n\n" +
		"event: error\nevent: done\n\n"
	got := decodeAll([]byte(raw))
	want := []Event{DeltaEvent{Text: "joined"}, DeltaEvent{Text: "again"}, DoneEvent{}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected events %#v", got)
	}
}

func TestDecoderFallbacks(t *testing.T) {
	cases := []struct {
		name  string
		block string
		want  []Event
	}{
		{name: "ready empty", block: "event: ready\n\n", want: []Event{ReadyEvent{}}},
		{name: "ready garbage", block: "event: ready\ndata: nope\n\n", want: []Event{ReadyEvent{}}},
		{name: "bad plan", block: "event: plan\ndata: {broken\n\n", want: []Event{ErrorEvent{Code: "BAD_PLAN_EVENT", Message: "Could not parse plan payload"}}},
		{name: "raw delta", block: "event: delta\ndata: plain text\n\n", want: []Event{DeltaEvent{Text: "plain text"}}},
		{name: "delta without field", block: "event: delta\ndata: {}\n\n", want: []Event{DeltaEvent{}}},
		{name: "error json", block: "event: error\ndata: {\"error\":\"RATE_LIMITED\",\"message\":\"slow down\"}\n\n", want: []Event{ErrorEvent{Code: "RATE_LIMITED", Message: "slow down"}}},
		{name: "error no code", block: "event: error\ndata: {\"message\":\"boom\"}\n\n", want: []Event{ErrorEvent{Code: "ERROR", Message: "boom"}}},
		{name: "error raw", block: "event: error\ndata: upstream exploded\n\n", want: []Event{ErrorEvent{Code: "ERROR", Message: "upstream exploded"}}},
		{name: "unknown", block: "event: heartbeat\ndata: {}\n\n", want: nil},
		{name: "comment only", block: ": ping\n\n", want: nil},
		{name: "blank block", block: "\n\n\n\n", want: nil},
	}
	for _, tc := range cases {
		if got := decodeAll([]byte(tc.block)); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("%s: got %#v want %#v", tc.name, got, tc.want)
		}
	}
}

func TestDecoderDoneTwice(t *testing.T) {
	got := decodeAll([]byte("event: done\n\nevent: done\n\n"))
	if !reflect.DeepEqual(got, []Event{DoneEvent{}, DoneEvent{}}) {
		t.Fatalf("expected two done events, got %#v", got)
	}
}

func TestDecoderRejectsNonObjectPlan(t *testing.T) {
	for _, payload := range []string{"null", "[]", `"plan"`, "", "{broken"} {
		events := decodeAll([]byte("event: plan\ndata: " + payload + "\n\n"))
		if len(events) != 1 {
			t.Fatalf("payload %q: expected one event, got %#v", payload, events)
		}
		ev, ok := events[0].(ErrorEvent)
		if !ok || ev.Code != "BAD_PLAN_EVENT" {
			t.Fatalf("payload %q: expected BAD_PLAN_EVENT, got %#v", payload, events[0])
		}
	}
}

package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/plan"
)

func TestClientStreamsEvents(t *testing.T) {
	var captured Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/chat/stream" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("unexpected api key %q", got)
		}
		if got := r.Header.Get("accept"); got != "text/event-stream" {
			t.Errorf("unexpected accept header %q", got)
		}
		if got := r.Header.Get("content-type"); got != "application/json" {
			t.Errorf("unexpected content type %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode body: %v", err)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, part := range []string{
			"event: ready\ndata: {\"id\":\"r1\"}\n\n",
			"event: delta\ndata: {\"del",
			"ta\":\"Hel\"}\n\nevent: delta\ndata: {\"delta\":\"lo\"}\n\n",
			"event: done\n\n",
			"event: delta\ndata: {\"delta\":\"dangling\"}",
		} {
			fmt.Fprint(w, part)
			flusher.Flush()
		}
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL + "/", APIKey: "test-key"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	var events []Event
	err = client.Stream(context.Background(), Request{
		Messages: []plan.ChatMessage{{Role: plan.RoleUser, Content: "stake 100"}},
		Context:  &RequestContext{Account: "0xabc"},
	}, func(ev Event) { events = append(events, ev) })
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	want := []string{EventReady, EventDelta, EventDelta, EventDone}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %#v", len(want), events)
	}
	for i, name := range want {
		if events[i].Name() != name {
			t.Fatalf("event %d: expected %s, got %s", i, name, events[i].Name())
		}
	}
	if len(captured.Messages) != 1 || captured.Messages[0].Content != "stake 100" {
		t.Fatalf("unexpected request body %+v", captured)
	}
	if captured.Context == nil || captured.Context.Account != "0xabc" {
		t.Fatalf("context not sent: %+v", captured.Context)
	}
}

func TestClientNon2xxIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	called := false
	err = client.Stream(context.Background(), Request{}, func(Event) { called = true })
	if xerrors.CodeOf(err) != xerrors.CodeTransport {
		t.Fatalf("expected TRANSPORT_ERROR, got %v", err)
	}
	appErr, _ := xerrors.From(err)
	if appErr.Meta("status") != "401" {
		t.Fatalf("status missing from error: %v", err)
	}
	if called {
		t.Fatal("no event may be emitted on a failed response")
	}
}

func TestClientEmptyBodyIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	calls := 0
	err = client.Stream(context.Background(), Request{}, func(Event) { calls++ })
	if xerrors.CodeOf(err) != xerrors.CodeTransport {
		t.Fatalf("expected TRANSPORT_ERROR, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no events, got %d", calls)
	}
}

func TestClientCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: delta\ndata: {\"delta\":\"partial\"}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	client, err := NewClient(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- client.Stream(ctx, Request{}, func(ev Event) {
			if _, ok := ev.(DeltaEvent); ok {
				cancel()
			}
		})
	}()

	select {
	case err := <-done:
		if !xerrors.IsCancelled(err) {
			t.Fatalf("expected cancellation, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not stop after cancellation")
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(Config{}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
	}
}

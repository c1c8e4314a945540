package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	xerrors "ChainPilot/internal/errors"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// jsonRPCServer answers every request with the value returned by respond.
// Returning a nil result omits the result key.
func jsonRPCServer(t *testing.T, respond func(req rpcRequest) (result any, rpcErr map[string]any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		result, rpcErr := respond(req)
		body := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			body["error"] = rpcErr
		} else if result != nil {
			body["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func failingServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dialTest(t *testing.T, urls []string, opts ...Option) *Client {
	t.Helper()
	client, err := Dial(context.Background(), urls, opts...)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func fastPoll(attempts int) PollConfig {
	return PollConfig{InitialDelay: time.Millisecond, Factor: 1.15, MaxDelay: 2 * time.Millisecond, MaxAttempts: attempts}
}

func TestCallFallsBackToNextEndpoint(t *testing.T) {
	a := failingServer(t, http.StatusBadGateway)
	b := jsonRPCServer(t, func(req rpcRequest) (any, map[string]any) {
		return "0x2a", nil
	})

	client := dialTest(t, []string{a.URL, b.URL})
	result, served, err := client.Call(context.Background(), "eth_blockNumber")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if served != b.URL {
		t.Fatalf("expected %s to serve, got %s", b.URL, served)
	}
	if string(result) != `"0x2a"` {
		t.Fatalf("unexpected result %s", result)
	}
}

func TestCallSkipsRPCErrorsAndMissingResult(t *testing.T) {
	withError := jsonRPCServer(t, func(req rpcRequest) (any, map[string]any) {
		return nil, map[string]any{"code": -32000, "message": "header not found"}
	})
	noResult := jsonRPCServer(t, func(req rpcRequest) (any, map[string]any) {
		return nil, nil
	})
	good := jsonRPCServer(t, func(req rpcRequest) (any, map[string]any) {
		return "0x1", nil
	})

	client := dialTest(t, []string{withError.URL, noResult.URL, good.URL})
	_, served, err := client.Call(context.Background(), "eth_chainId")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if served != good.URL {
		t.Fatalf("unexpected serving endpoint %s", served)
	}
}

func TestCallAllEndpointsFailed(t *testing.T) {
	a := failingServer(t, http.StatusInternalServerError)
	b := jsonRPCServer(t, func(req rpcRequest) (any, map[string]any) {
		return nil, map[string]any{"code": -32601, "message": "method not found"}
	})

	client := dialTest(t, []string{a.URL, b.URL})
	_, _, err := client.Call(context.Background(), "eth_call")
	if xerrors.CodeOf(err) != xerrors.CodeAllEndpointsFailed {
		t.Fatalf("expected ALL_ENDPOINTS_FAILED, got %v", err)
	}
	appErr, _ := xerrors.From(err)
	if appErr.Meta("endpoint") != b.URL {
		t.Fatalf("expected last endpoint %s in metadata, got %q", b.URL, appErr.Meta("endpoint"))
	}
	if appErr.Unwrap() == nil {
		t.Fatalf("expected last cause to be wrapped")
	}
}

func TestCallCancelled(t *testing.T) {
	srv := jsonRPCServer(t, func(req rpcRequest) (any, map[string]any) { return "0x1", nil })
	client := dialTest(t, []string{srv.URL})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := client.Call(ctx, "eth_chainId")
	if !xerrors.IsCancelled(err) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestDedupeKeepsOrder(t *testing.T) {
	got := Dedupe([]string{" https://b ", "https://a", "", "https://b"})
	if len(got) != 2 || got[0] != "https://b" || got[1] != "https://a" {
		t.Fatalf("unexpected endpoints: %v", got)
	}
	if _, err := Dial(context.Background(), []string{" "}); xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
		t.Fatalf("expected INITIALIZATION_FAILURE, got %v", err)
	}
}

func TestReadUint256(t *testing.T) {
	cases := []struct {
		name   string
		result any
		want   string
		code   xerrors.Code
	}{
		{name: "word", result: "0x0000000000000000000000000000000000000000000000000000000000000064", want: "100"},
		{name: "empty", result: "0x", want: "0"},
		{name: "no prefix", result: "64", code: xerrors.CodeMalformedRPCResult},
		{name: "not a string", result: 42, code: xerrors.CodeMalformedRPCResult},
	}
	for _, tc := range cases {
		srv := jsonRPCServer(t, func(req rpcRequest) (any, map[string]any) {
			if req.Method != "eth_call" || len(req.Params) != 2 || string(req.Params[1]) != `"latest"` {
				t.Errorf("%s: unexpected request %+v", tc.name, req)
			}
			return tc.result, nil
		})
		client := dialTest(t, []string{srv.URL})
		value, err := client.ReadUint256(context.Background(), "0x1111111111111111111111111111111111111111", "0x70a08231")
		if tc.code != "" {
			if xerrors.CodeOf(err) != tc.code {
				t.Fatalf("%s: expected %s, got %v", tc.name, tc.code, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: read: %v", tc.name, err)
		}
		if value.String() != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, value)
		}
	}
}

func TestPollReceiptReturnsFirstNonNull(t *testing.T) {
	var calls atomic.Int32
	srv := jsonRPCServer(t, func(req rpcRequest) (any, map[string]any) {
		calls.Add(1)
		return map[string]any{"status": "0x1", "transactionHash": "0xabc", "blockNumber": "0x10"}, nil
	})
	client := dialTest(t, []string{srv.URL}, WithPollConfig(fastPoll(60)))

	receipt, err := client.PollReceipt(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if receipt.Status != ReceiptSuccess || receipt.BlockNumber != 16 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestPollReceiptWaitsForMining(t *testing.T) {
	var calls atomic.Int32
	srv := jsonRPCServer(t, func(req rpcRequest) (any, map[string]any) {
		if calls.Add(1) < 3 {
			return json.RawMessage("null"), nil
		}
		return map[string]any{"status": "0x0", "transactionHash": "0xdef"}, nil
	})
	client := dialTest(t, []string{srv.URL}, WithPollConfig(fastPoll(60)))

	receipt, err := client.PollReceipt(context.Background(), "0xdef")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if receipt.Status != ReceiptRevert || receipt.RawStatus != "0x0" {
		t.Fatalf("expected reverted receipt, got %+v", receipt)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestPollReceiptTimesOut(t *testing.T) {
	var calls atomic.Int32
	srv := jsonRPCServer(t, func(req rpcRequest) (any, map[string]any) {
		calls.Add(1)
		return json.RawMessage("null"), nil
	})
	client := dialTest(t, []string{srv.URL}, WithPollConfig(fastPoll(60)))

	_, err := client.PollReceipt(context.Background(), "0x1")
	if xerrors.CodeOf(err) != xerrors.CodeReceiptTimeout {
		t.Fatalf("expected RECEIPT_TIMEOUT, got %v", err)
	}
	if calls.Load() != 60 {
		t.Fatalf("expected 60 attempts, got %d", calls.Load())
	}
}

func TestPollReceiptCancelDuringWait(t *testing.T) {
	srv := jsonRPCServer(t, func(req rpcRequest) (any, map[string]any) {
		return json.RawMessage("null"), nil
	})
	slow := PollConfig{InitialDelay: time.Hour, Factor: 1, MaxDelay: time.Hour, MaxAttempts: 5}
	client := dialTest(t, []string{srv.URL}, WithPollConfig(slow))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := client.PollReceipt(ctx, "0x1")
		done <- err
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !xerrors.IsCancelled(err) {
			t.Fatalf("expected cancellation, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not stop after cancellation")
	}
}

func TestPollReceiptPrefersServingEndpoint(t *testing.T) {
	var firstCalls atomic.Int32
	first := jsonRPCServer(t, func(req rpcRequest) (any, map[string]any) {
		firstCalls.Add(1)
		return nil, map[string]any{"code": -32000, "message": "unavailable"}
	})
	var secondCalls atomic.Int32
	second := jsonRPCServer(t, func(req rpcRequest) (any, map[string]any) {
		if secondCalls.Add(1) < 3 {
			return json.RawMessage("null"), nil
		}
		return map[string]any{"status": "0x1", "transactionHash": "0x9"}, nil
	})
	client := dialTest(t, []string{first.URL, second.URL}, WithPollConfig(fastPoll(10)))

	receipt, err := client.PollReceipt(context.Background(), "0x9")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if receipt.Endpoint != second.URL {
		t.Fatalf("unexpected endpoint %s", receipt.Endpoint)
	}
	if firstCalls.Load() != 1 {
		t.Fatalf("failing endpoint should only be tried before the first success, got %d", firstCalls.Load())
	}
}

package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveRPCCall(t *testing.T) {
	before := testutil.ToFloat64(rpcCalls.WithLabelValues("https://a", "eth_call", "ok"))
	ObserveRPCCall("https://a", "eth_call", "ok", 20*time.Millisecond)
	after := testutil.ToFloat64(rpcCalls.WithLabelValues("https://a", "eth_call", "ok"))
	if after-before != 1 {
		t.Fatalf("expected counter to increase by 1, got %v -> %v", before, after)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	ObserveStreamEvent("delta")
	ObserveSubmission("STAKE", "confirmed")
	ObserveReceiptWait(3 * time.Second)
	ObserveExecution("STAKE", "OK")

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, name := range []string{
		"chainpilot_stream_events_total",
		"chainpilot_tx_submissions_total",
		"chainpilot_receipt_wait_seconds_bucket",
		"chainpilot_plan_executions_total",
	} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("metric %s missing from exposition", name)
		}
	}
}

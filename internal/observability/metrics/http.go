package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chainpilot"

var (
	registry = prometheus.NewRegistry()
	factory  = promauto.With(registry)

	rpcCalls = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rpc_calls_total",
		Help:      "JSON-RPC attempts by endpoint, method and outcome.",
	}, []string{"endpoint", "method", "outcome"})

	rpcDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "rpc_call_duration_seconds",
		Help:      "JSON-RPC attempt latency in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"endpoint", "method"})

	streamEvents = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_events_total",
		Help:      "Decoded chat stream events by type.",
	}, []string{"event"})

	txSubmissions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tx_submissions_total",
		Help:      "Transaction submissions by action type and outcome.",
	}, []string{"action", "outcome"})

	receiptWait = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "receipt_wait_seconds",
		Help:      "Time spent polling for a transaction receipt.",
		Buckets:   []float64{1, 2, 5, 10, 20, 40, 60, 120},
	})

	executions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "plan_executions_total",
		Help:      "Plan executions by action type and result code.",
	}, []string{"action", "code"})
)

func init() {
	registry.MustRegister(collectors.NewGoCollector())
}

// ObserveRPCCall records a single endpoint attempt.
func ObserveRPCCall(endpoint, method, outcome string, duration time.Duration) {
	rpcCalls.WithLabelValues(endpoint, method, outcome).Inc()
	rpcDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// ObserveStreamEvent counts a decoded stream event.
func ObserveStreamEvent(event string) {
	streamEvents.WithLabelValues(event).Inc()
}

// ObserveSubmission counts a transaction submission outcome.
func ObserveSubmission(action, outcome string) {
	txSubmissions.WithLabelValues(action, outcome).Inc()
}

// ObserveReceiptWait records how long confirmation took.
func ObserveReceiptWait(duration time.Duration) {
	receiptWait.Observe(duration.Seconds())
}

// ObserveExecution counts a finished plan execution.
func ObserveExecution(action, code string) {
	executions.WithLabelValues(action, code).Inc()
}

// Registry exposes the underlying registry for tests and embedding.
func Registry() *prometheus.Registry {
	return registry
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}

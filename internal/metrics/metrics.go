// Package metrics exposes prometheus counters for the agent step loop.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds the agent collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	steps         prometheus.Counter
	modelCalls    *prometheus.CounterVec
	dispatches    *prometheus.CounterVec
	recoveries    *prometheus.CounterVec
	repeatLoops   prometheus.Counter
	completions   *prometheus.CounterVec
	queryDuration prometheus.Histogram
}

// New creates the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		steps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "friday", Name: "agent_steps_total",
			Help: "Loop iterations taken across all queries.",
		}),
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "friday", Name: "model_calls_total",
			Help: "Model calls by result.",
		}, []string{"result"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "friday", Name: "tool_dispatches_total",
			Help: "Tool dispatches by tool and outcome.",
		}, []string{"tool", "outcome"}),
		recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "friday", Name: "error_recoveries_total",
			Help: "Entries into error recovery by cause.",
		}, []string{"cause"}),
		repeatLoops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "friday", Name: "repeat_loops_total",
			Help: "Tool calls blocked by the repeat detector.",
		}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "friday", Name: "completions_total",
			Help: "Finished queries by completion reason.",
		}, []string{"reason"}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "friday", Name: "query_duration_seconds",
			Help:    "Wall time of ProcessQuery.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
	}
	reg.MustRegister(m.steps, m.modelCalls, m.dispatches, m.recoveries,
		m.repeatLoops, m.completions, m.queryDuration)
	return m
}

// Registry returns the underlying registry, for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Step() {
	if m != nil {
		m.steps.Inc()
	}
}

func (m *Metrics) ModelCall(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.modelCalls.WithLabelValues(result).Inc()
}

// Dispatch records one tool dispatch; outcome is "ok" or an error kind.
func (m *Metrics) Dispatch(tool, outcome string) {
	if m != nil {
		m.dispatches.WithLabelValues(tool, outcome).Inc()
	}
}

func (m *Metrics) Recovery(cause string) {
	if m != nil {
		m.recoveries.WithLabelValues(cause).Inc()
	}
}

func (m *Metrics) RepeatLoop() {
	if m != nil {
		m.repeatLoops.Inc()
	}
}

func (m *Metrics) Completion(reason string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.completions.WithLabelValues(reason).Inc()
	m.queryDuration.Observe(elapsed.Seconds())
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("Serving metrics", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

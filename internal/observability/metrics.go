package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for turns, model calls and tool calls.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	turns         *prometheus.CounterVec
	turnDuration  prometheus.Histogram
	modelCalls    *prometheus.CounterVec
	toolCalls     *prometheus.CounterVec
	parseRejected prometheus.Counter
}

// NewMetrics registers the collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dm",
			Name:      "turns_total",
			Help:      "Turns handled, by outcome (ok or fault kind).",
		}, []string{"outcome"}),
		turnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dm",
			Name:      "turn_duration_seconds",
			Help:      "Wall time of a full turn.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dm",
			Name:      "model_invocations_total",
			Help:      "Model invocations, by pass.",
		}, []string{"pass"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dm",
			Name:      "tool_calls_total",
			Help:      "Tool calls executed, by function and status.",
		}, []string{"function", "status"}),
		parseRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dm",
			Name:      "tool_calls_rejected_total",
			Help:      "Malformed tool calls dropped by the extractor.",
		}),
	}
	m.registry.MustRegister(m.turns, m.turnDuration, m.modelCalls, m.toolCalls, m.parseRejected)
	return m
}

func (m *Metrics) ObserveTurn(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
	m.turnDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveModelCall(pass string) {
	if m == nil {
		return
	}
	m.modelCalls.WithLabelValues(pass).Inc()
}

func (m *Metrics) ObserveToolCall(function, status string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(function, status).Inc()
}

func (m *Metrics) ObserveRejectedCalls(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.parseRejected.Add(float64(n))
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

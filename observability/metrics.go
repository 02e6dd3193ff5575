package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the agent collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	sessions      *prometheus.CounterVec
	iterations    prometheus.Counter
	llmCalls      *prometheus.CounterVec
	llmDuration   *prometheus.HistogramVec
	llmTokens     *prometheus.CounterVec
	operations    *prometheus.CounterVec
	opDuration    *prometheus.HistogramVec
	parseFailures prometheus.Counter
	activeSession prometheus.Gauge
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		sessions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "repoagent_sessions_total",
			Help: "Sessions finished, by final status.",
		}, []string{"status"}),
		iterations: f.NewCounter(prometheus.CounterOpts{
			Name: "repoagent_iterations_total",
			Help: "Loop iterations run.",
		}),
		llmCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "repoagent_llm_calls_total",
			Help: "LLM calls, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		llmDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "repoagent_llm_call_duration_seconds",
			Help:    "LLM call duration.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"provider"}),
		llmTokens: f.NewCounterVec(prometheus.CounterOpts{
			Name: "repoagent_llm_tokens_total",
			Help: "Tokens reported by providers.",
		}, []string{"provider", "direction"}),
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "repoagent_operations_total",
			Help: "Executed operations, by type and outcome.",
		}, []string{"type", "outcome"}),
		opDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "repoagent_operation_duration_seconds",
			Help:    "Operation execution duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
		parseFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "repoagent_parse_failures_total",
			Help: "Model responses no parser stage recovered.",
		}),
		activeSession: f.NewGauge(prometheus.GaugeOpts{
			Name: "repoagent_active_sessions",
			Help: "Sessions currently running.",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "repoagent_http_requests_total",
			Help: "HTTP requests, by method, route pattern and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "repoagent_http_request_duration_seconds",
			Help:    "HTTP request duration, by route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry exposes the underlying registry for tests and custom handlers.
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

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.activeSession.Inc()
}

func (m *Metrics) SessionFinished(status string) {
	if m == nil {
		return
	}
	m.activeSession.Dec()
	m.sessions.WithLabelValues(status).Inc()
}

func (m *Metrics) Iteration() {
	if m == nil {
		return
	}
	m.iterations.Inc()
}

func (m *Metrics) LLMCall(provider string, ok bool, d time.Duration, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.llmCalls.WithLabelValues(provider, outcome(ok)).Inc()
	m.llmDuration.WithLabelValues(provider).Observe(d.Seconds())
	if inputTokens > 0 {
		m.llmTokens.WithLabelValues(provider, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.llmTokens.WithLabelValues(provider, "output").Add(float64(outputTokens))
	}
}

func (m *Metrics) Operation(opType string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(opType, outcome(ok)).Inc()
	m.opDuration.WithLabelValues(opType).Observe(d.Seconds())
}

func (m *Metrics) ParseFailure() {
	if m == nil {
		return
	}
	m.parseFailures.Inc()
}

// HTTPRequest records one served request. route is the router pattern,
// not the raw path, to keep label cardinality bounded.
func (m *Metrics) HTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

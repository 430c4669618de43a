package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clustertalk"

// Metrics holds the Prometheus collectors used across the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry prometheus.Gatherer

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	QuestionsTotal    *prometheus.CounterVec
	QuestionDuration  *prometheus.HistogramVec
	StageTransitions  *prometheus.CounterVec
	StageDuration     *prometheus.HistogramVec
	PassagesRetrieved prometheus.Histogram
	PassagesInContext prometheus.Histogram
	InFlight          prometheus.Gauge

	BackendCallsTotal   *prometheus.CounterVec
	BackendCallDuration *prometheus.HistogramVec
	LLMTokensUsed       *prometheus.CounterVec

	QueryLogDropped prometheus.Counter
	RateLimited     prometheus.Counter
}

// NewMetrics registers all collectors on a fresh registry that also carries
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewMetricsWithRegistry(reg, reg)
}

// NewMetricsWithRegistry registers all collectors on reg.
func NewMetricsWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		registry: gatherer,

		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"method", "path"}),

		QuestionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "questions_total",
			Help:      "Questions processed by outcome",
		}, []string{"question_type", "outcome"}),
		QuestionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "question_duration_seconds",
			Help:      "End-to-end question processing time in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"question_type"}),
		StageTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "state_transitions_total",
			Help:      "Pipeline state transitions",
		}, []string{"state"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage in seconds",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"stage"}),
		PassagesRetrieved: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "passages_retrieved",
			Help:      "Passages returned by the search backend per question",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
		}),
		PassagesInContext: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "passages_in_context",
			Help:      "Passages kept in the assembled context per question",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
		}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "in_flight",
			Help:      "Questions currently being processed",
		}),

		BackendCallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "calls_total",
			Help:      "Calls to external backends",
		}, []string{"backend", "operation", "status"}),
		BackendCallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "call_duration_seconds",
			Help:      "External backend call duration in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"backend", "operation"}),
		LLMTokensUsed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_used_total",
			Help:      "Total tokens used for generation calls",
		}, []string{"provider", "model", "type"}), // type: prompt/completion

		QueryLogDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query_log",
			Name:      "dropped_total",
			Help:      "Query log records dropped because the buffer was full",
		}),
		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// RecordTransition counts a pipeline state change.
func (m *Metrics) RecordTransition(state string) {
	if m == nil {
		return
	}
	m.StageTransitions.WithLabelValues(state).Inc()
}

// ObserveStage records how long a pipeline stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordQuestion records a finished question and its end-to-end latency.
func (m *Metrics) RecordQuestion(questionType, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.QuestionsTotal.WithLabelValues(questionType, outcome).Inc()
	m.QuestionDuration.WithLabelValues(questionType).Observe(d.Seconds())
}

// ObservePassages records retrieval and context sizes for one question.
func (m *Metrics) ObservePassages(retrieved, inContext int) {
	if m == nil {
		return
	}
	m.PassagesRetrieved.Observe(float64(retrieved))
	m.PassagesInContext.Observe(float64(inContext))
}

// RecordBackendCall records a call to an external backend.
func (m *Metrics) RecordBackendCall(backend, operation string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.BackendCallsTotal.WithLabelValues(backend, operation, status).Inc()
	m.BackendCallDuration.WithLabelValues(backend, operation).Observe(d.Seconds())
}

// RecordTokens records token usage reported by a generation provider.
func (m *Metrics) RecordTokens(provider, model string, prompt, completion int) {
	if m == nil {
		return
	}
	if prompt > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completion))
	}
}

// IncInFlight marks a question as started.
func (m *Metrics) IncInFlight() {
	if m == nil {
		return
	}
	m.InFlight.Inc()
}

// DecInFlight marks a question as finished.
func (m *Metrics) DecInFlight() {
	if m == nil {
		return
	}
	m.InFlight.Dec()
}

// IncQueryLogDropped counts a query log record lost to back-pressure.
func (m *Metrics) IncQueryLogDropped() {
	if m == nil {
		return
	}
	m.QueryLogDropped.Inc()
}

// IncRateLimited counts a rejected request.
func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}

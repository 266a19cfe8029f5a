// Package metrics provides Prometheus instrumentation for docsage.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Circuit breaker state gauge encoding.
const (
	CircuitClosed   = 0
	CircuitHalfOpen = 1
	CircuitOpen     = 2
)

// Metrics holds all Prometheus metric collectors for docsage.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveRequests  prometheus.Gauge

	LLMRequestsTotal   *prometheus.CounterVec
	LLMRequestDuration *prometheus.HistogramVec
	LLMFallbackTotal   prometheus.Counter
	LLMCircuitState    prometheus.Gauge
	CircuitChanges     *prometheus.CounterVec
	LLMTokensUsed      *prometheus.CounterVec
	LLMTotalCost       prometheus.Counter

	VectorSearchDuration prometheus.Histogram
	PipelineDuration     *prometheus.HistogramVec
	ChunksRetrieved      prometheus.Histogram

	EmbeddingRequests *prometheus.CounterVec
	EmbeddingDuration prometheus.Histogram

	DocumentsIngested *prometheus.CounterVec
	DocumentChunks    prometheus.Counter

	JobTasksTotal   *prometheus.CounterVec
	JobTaskDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates and registers all docsage metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	// Include default Go and process collectors
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests by endpoint and status code.",
			},
			[]string{"endpoint", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency distribution.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"endpoint"},
		),
		ActiveRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_active_requests",
				Help: "Number of requests currently being processed.",
			},
		),
		LLMRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_requests_total",
				Help: "Total LLM calls by provider, model, and outcome.",
			},
			[]string{"provider", "model", "status"},
		),
		LLMRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_request_duration_seconds",
				Help:    "LLM call latency distribution.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		LLMFallbackTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "llm_fallback_total",
				Help: "Total requests served by the fallback provider.",
			},
		),
		LLMCircuitState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "llm_circuit_state",
				Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
			},
		),
		CircuitChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "circuit_state_changes_total",
				Help: "Circuit breaker transitions by target state.",
			},
			[]string{"state"},
		),
		LLMTokensUsed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_tokens_used_total",
				Help: "Total tokens consumed by direction (prompt/completion).",
			},
			[]string{"model", "direction"},
		),
		LLMTotalCost: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "llm_total_cost_dollars",
				Help: "Accumulated LLM spend in dollars.",
			},
		),
		VectorSearchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rag_vector_search_duration_seconds",
				Help:    "Hybrid vector search latency distribution.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
		),
		PipelineDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rag_pipeline_duration_seconds",
				Help:    "End-to-end pipeline latency by operation.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"operation"},
		),
		ChunksRetrieved: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rag_chunks_retrieved",
				Help:    "Number of chunks returned per retrieval.",
				Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
			},
		),
		EmbeddingRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "embedding_requests_total",
				Help: "Total embedding calls by kind (query/passage) and outcome.",
			},
			[]string{"kind", "status"},
		),
		EmbeddingDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "embedding_duration_seconds",
				Help:    "Embedding batch latency distribution.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		DocumentsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "documents_ingested_total",
				Help: "Total ingest runs by outcome.",
			},
			[]string{"status"},
		),
		DocumentChunks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "documents_chunks_total",
				Help: "Total chunks written to the vector store.",
			},
		),
		JobTasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "job_tasks_total",
				Help: "Total background tasks by task name and outcome.",
			},
			[]string{"task", "status"},
		),
		JobTaskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "job_task_duration_seconds",
				Help:    "Background task duration distribution.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"task"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.LLMRequestsTotal,
		m.LLMRequestDuration,
		m.LLMFallbackTotal,
		m.LLMCircuitState,
		m.CircuitChanges,
		m.LLMTokensUsed,
		m.LLMTotalCost,
		m.VectorSearchDuration,
		m.PipelineDuration,
		m.ChunksRetrieved,
		m.EmbeddingRequests,
		m.EmbeddingDuration,
		m.DocumentsIngested,
		m.DocumentChunks,
		m.JobTasksTotal,
		m.JobTaskDuration,
	)

	return m
}

// Handler returns an http.Handler that serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest records a completed request's metrics.
func (m *Metrics) RecordRequest(endpoint string, statusCode int, duration time.Duration) {
	status := strconv.Itoa(statusCode)
	m.RequestsTotal.WithLabelValues(endpoint, status).Inc()
	m.RequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordLLMRequest records one LLM call by outcome.
func (m *Metrics) RecordLLMRequest(provider, model, status string, duration time.Duration) {
	m.LLMRequestsTotal.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
}

// RecordLLMUsage records token and cost accounting for one call.
func (m *Metrics) RecordLLMUsage(model string, promptTokens, completionTokens int, cost float64) {
	m.LLMTokensUsed.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	m.LLMTokensUsed.WithLabelValues(model, "completion").Add(float64(completionTokens))
	m.LLMTotalCost.Add(cost)
}

// RecordEmbedding records one embedding call.
func (m *Metrics) RecordEmbedding(kind, status string, duration time.Duration) {
	m.EmbeddingRequests.WithLabelValues(kind, status).Inc()
	m.EmbeddingDuration.Observe(duration.Seconds())
}

// RecordIngest records one ingest run.
func (m *Metrics) RecordIngest(status string, chunks int) {
	m.DocumentsIngested.WithLabelValues(status).Inc()
	m.DocumentChunks.Add(float64(chunks))
}

// RecordJobTask records one background task execution.
func (m *Metrics) RecordJobTask(task, status string, duration time.Duration) {
	m.JobTasksTotal.WithLabelValues(task, status).Inc()
	m.JobTaskDuration.WithLabelValues(task).Observe(duration.Seconds())
}

// Middleware returns an HTTP middleware that instruments requests.
func (m *Metrics) Middleware(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.ActiveRequests.Inc()
		defer m.ActiveRequests.Dec()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rw, r)

		m.RecordRequest(endpoint, rw.statusCode, time.Since(start))
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush forwards flushing so SSE endpoints work through the middleware.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

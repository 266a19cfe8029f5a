// Package api exposes the docsage HTTP surface: synchronous and
// streaming ingest, background ingest jobs, retrieval, ask/chat, and
// session cost lookup.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/docsage/docsage/pkg/costs"
	"github.com/docsage/docsage/pkg/embedding"
	"github.com/docsage/docsage/pkg/extract"
	"github.com/docsage/docsage/pkg/jobs"
	"github.com/docsage/docsage/pkg/metrics"
	"github.com/docsage/docsage/pkg/rag"
	"github.com/docsage/docsage/pkg/telemetry"
)

// Server holds the HTTP handler dependencies.
type Server struct {
	rag       *rag.Service
	engine    *rag.Engine
	fetcher   *extract.Fetcher
	jobs      *jobs.Service
	queue     *jobs.Queue
	tracker   *costs.Tracker
	logger    *zap.Logger
	metrics   *metrics.Metrics
	tracing   *telemetry.Provider
	uploadDir string
}

// Config holds server wiring.
type Config struct {
	RAG       *rag.Service
	Engine    *rag.Engine
	Fetcher   *extract.Fetcher
	Jobs      *jobs.Service
	Queue     *jobs.Queue
	Tracker   *costs.Tracker
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	Tracing   *telemetry.Provider
	UploadDir string
}

// NewServer creates the HTTP edge.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		rag:       cfg.RAG,
		engine:    cfg.Engine,
		fetcher:   cfg.Fetcher,
		jobs:      cfg.Jobs,
		queue:     cfg.Queue,
		tracker:   cfg.Tracker,
		logger:    logger,
		metrics:   cfg.Metrics,
		tracing:   cfg.Tracing,
		uploadDir: cfg.UploadDir,
	}
}

// Routes builds the full route table with middleware applied.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /rag/ingest", s.route("/rag/ingest", s.handleIngest))
	mux.HandleFunc("POST /rag/ingest-stream", s.route("/rag/ingest-stream", s.handleIngestStream))
	mux.HandleFunc("POST /rag/ingest-pdf", s.route("/rag/ingest-pdf", s.handleIngestPDF))
	mux.HandleFunc("POST /rag/ingest-pdf-stream", s.route("/rag/ingest-pdf-stream", s.handleIngestPDFStream))
	mux.HandleFunc("POST /rag/ingest/job", s.route("/rag/ingest/job", s.handleIngestJob))
	mux.HandleFunc("POST /rag/ingest-file/job", s.route("/rag/ingest-file/job", s.handleIngestFileJob))
	mux.HandleFunc("GET /rag/job/{job_id}", s.route("/rag/job", s.handleJobStatus))
	mux.HandleFunc("POST /rag/retrieve", s.route("/rag/retrieve", s.handleRetrieve))
	mux.HandleFunc("POST /rag/ask", s.route("/rag/ask", s.handleAsk))
	mux.HandleFunc("POST /rag/ask-stream", s.route("/rag/ask-stream", s.handleAskStream))
	mux.HandleFunc("GET /rag/costs/{session_id}", s.route("/rag/costs", s.handleCosts))
	mux.HandleFunc("GET /health", s.handleHealth)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	return mux
}

// route applies request logging and metrics to one endpoint.
func (s *Server) route(endpoint string, h http.HandlerFunc) http.HandlerFunc {
	wrapped := s.withRequest(endpoint, h)
	if s.metrics != nil {
		wrapped = s.metrics.Middleware(endpoint, wrapped)
	}
	return wrapped
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON serializes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDetail writes the {detail: ...} error body used across the API.
func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeError maps a pipeline error to an HTTP status. Domain errors
// keep their message; anything unclassified is logged and hidden
// behind a generic 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request_failed",
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeDetail(w, status, "Internal Server Error")
		return
	}
	writeDetail(w, status, err.Error())
}

// statusFor classifies domain errors into HTTP statuses.
func statusFor(err error) int {
	var fetchErr *extract.FetchError

	switch {
	case errors.Is(err, extract.ErrInvalidURL):
		return http.StatusBadRequest
	case errors.Is(err, extract.ErrTimeout),
		errors.As(err, &fetchErr):
		return http.StatusBadGateway
	case errors.Is(err, extract.ErrEmptyContent),
		errors.Is(err, extract.ErrNoChunks):
		return http.StatusBadRequest
	case errors.Is(err, embedding.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, jobs.ErrNotFound),
		errors.Is(err, costs.ErrSessionNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// recoverable reports whether a retry with the same request may
// succeed. Embedding failures are transient; source and store
// failures are not.
func recoverable(err error) bool {
	return errors.Is(err, embedding.ErrTimeout) ||
		errors.Is(err, embedding.ErrMismatch) ||
		errors.Is(err, embedding.ErrEncoding) ||
		errors.Is(err, embedding.ErrInvalidVector)
}

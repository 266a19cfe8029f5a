package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNew(t *testing.T) {
	m := New()
	if m == nil {
		t.Fatal("New() returned nil")
	}
	if m.registry == nil {
		t.Fatal("registry is nil")
	}
}

func TestRecordRequest(t *testing.T) {
	m := New()
	m.RecordRequest("/rag/ask", 200, 50*time.Millisecond)
	m.RecordRequest("/rag/ask", 200, 100*time.Millisecond)
	m.RecordRequest("/rag/ask", 422, 5*time.Millisecond)

	// Check counter
	val := counterValue(t, m.RequestsTotal, "endpoint", "/rag/ask", "status", "200")
	if val != 2 {
		t.Errorf("expected 2 requests with status 200, got %f", val)
	}

	val = counterValue(t, m.RequestsTotal, "endpoint", "/rag/ask", "status", "422")
	if val != 1 {
		t.Errorf("expected 1 request with status 422, got %f", val)
	}
}

func TestRecordLLMRequest(t *testing.T) {
	m := New()
	m.RecordLLMRequest("mistral", "mistral-small-latest", "success", 800*time.Millisecond)
	m.RecordLLMRequest("mistral", "mistral-small-latest", "error", 100*time.Millisecond)
	m.RecordLLMRequest("ollama", "llama3.2", "fallback", 2*time.Second)

	val := counterValue(t, m.LLMRequestsTotal, "provider", "mistral", "model", "mistral-small-latest", "status", "success")
	if val != 1 {
		t.Errorf("expected 1 successful primary call, got %f", val)
	}
	val = counterValue(t, m.LLMRequestsTotal, "provider", "ollama", "model", "llama3.2", "status", "fallback")
	if val != 1 {
		t.Errorf("expected 1 fallback call, got %f", val)
	}
}

func TestRecordLLMUsage(t *testing.T) {
	m := New()
	m.RecordLLMUsage("mistral-small-latest", 400, 100, 0.0001)
	m.RecordLLMUsage("mistral-small-latest", 600, 200, 0.0002)

	promptVal := counterValue(t, m.LLMTokensUsed, "model", "mistral-small-latest", "direction", "prompt")
	if promptVal != 1000 {
		t.Errorf("expected 1000 prompt tokens, got %f", promptVal)
	}
	completionVal := counterValue(t, m.LLMTokensUsed, "model", "mistral-small-latest", "direction", "completion")
	if completionVal != 300 {
		t.Errorf("expected 300 completion tokens, got %f", completionVal)
	}
}

func TestRecordIngest(t *testing.T) {
	m := New()
	m.RecordIngest("success", 12)
	m.RecordIngest("error", 0)

	val := counterValue(t, m.DocumentsIngested, "status", "success")
	if val != 1 {
		t.Errorf("expected 1 successful ingest, got %f", val)
	}

	var metric dto.Metric
	if err := m.DocumentChunks.Write(&metric); err != nil {
		t.Fatalf("failed to read counter: %v", err)
	}
	if metric.GetCounter().GetValue() != 12 {
		t.Errorf("expected 12 chunks recorded, got %f", metric.GetCounter().GetValue())
	}
}

func TestRecordJobTask(t *testing.T) {
	m := New()
	m.RecordJobTask("ingest_url", "success", 3*time.Second)
	m.RecordJobTask("ingest_file", "error", time.Second)

	val := counterValue(t, m.JobTasksTotal, "task", "ingest_url", "status", "success")
	if val != 1 {
		t.Errorf("expected 1 successful url task, got %f", val)
	}
}

func TestMiddleware(t *testing.T) {
	m := New()

	handler := m.Middleware("/rag/ask", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	req := httptest.NewRequest(http.MethodPost, "/rag/ask", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	val := counterValue(t, m.RequestsTotal, "endpoint", "/rag/ask", "status", "200")
	if val != 1 {
		t.Errorf("expected 1 request recorded, got %f", val)
	}
}

func TestMiddleware_ErrorStatus(t *testing.T) {
	m := New()

	handler := m.Middleware("/rag/ask", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	})

	req := httptest.NewRequest(http.MethodPost, "/rag/ask", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	val := counterValue(t, m.RequestsTotal, "endpoint", "/rag/ask", "status", "400")
	if val != 1 {
		t.Errorf("expected 1 request with status 400, got %f", val)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordRequest("/rag/ask", 200, 10*time.Millisecond)
	m.LLMCircuitState.Set(CircuitClosed)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "http_requests_total") {
		t.Error("metrics output missing http_requests_total")
	}
	if !strings.Contains(body, "llm_circuit_state") {
		t.Error("metrics output missing llm_circuit_state")
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Error("metrics output missing go runtime metrics")
	}
}

func TestActiveRequests(t *testing.T) {
	m := New()

	started := make(chan struct{})
	release := make(chan struct{})

	handler := m.Middleware("/rag/ask", func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		w.WriteHeader(http.StatusOK)
	})

	go func() {
		req := httptest.NewRequest(http.MethodPost, "/rag/ask", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
	}()

	<-started

	var metric dto.Metric
	if err := m.ActiveRequests.Write(&metric); err != nil {
		t.Fatalf("failed to read gauge: %v", err)
	}
	if metric.GetGauge().GetValue() != 1 {
		t.Errorf("expected 1 active request, got %f", metric.GetGauge().GetValue())
	}

	close(release)
}

// counterValue extracts the value of a counter with the given label pairs.
func counterValue(t *testing.T, cv *prometheus.CounterVec, labelPairs ...string) float64 {
	t.Helper()
	labels := prometheus.Labels{}
	for i := 0; i < len(labelPairs); i += 2 {
		labels[labelPairs[i]] = labelPairs[i+1]
	}
	counter, err := cv.GetMetricWith(labels)
	if err != nil {
		t.Fatalf("failed to get metric: %v", err)
	}
	var metric dto.Metric
	if err := counter.Write(&metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return metric.GetCounter().GetValue()
}

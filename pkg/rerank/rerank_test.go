package rerank

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/docsage/docsage/pkg/types"
)

func candidates(texts ...string) []types.ScoredPoint {
	out := make([]types.ScoredPoint, len(texts))
	for i, text := range texts {
		out[i] = types.ScoredPoint{
			Point: types.Point{Payload: types.Chunk{Text: text}},
			Score: 0.5,
		}
	}
	return out
}

// newSidecar serves canned [{index, score}] responses and records the
// request body.
func newSidecar(t *testing.T, scores map[int]float32) (*httptest.Server, *rerankRequest) {
	t.Helper()
	var captured rerankRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rerank" {
			t.Errorf("path = %q, want /rerank", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		var results []rerankResult
		for idx, score := range scores {
			results = append(results, rerankResult{Index: idx, Score: score})
		}
		_ = json.NewEncoder(w).Encode(results)
	}))
	t.Cleanup(srv.Close)
	return srv, &captured
}

func TestRerank_SortsAndTruncates(t *testing.T) {
	srv, captured := newSidecar(t, map[int]float32{0: 0.1, 1: 0.9, 2: 0.5, 3: 0.7})

	c, err := NewClient(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	got, err := c.Rerank(context.Background(), "query", candidates("a", "b", "c", "d"))
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}

	if len(got) != DefaultTopK {
		t.Fatalf("kept %d candidates, want %d", len(got), DefaultTopK)
	}
	wantOrder := []string{"b", "d", "c"}
	for i, text := range wantOrder {
		if got[i].Payload.Text != text {
			t.Errorf("position %d = %q, want %q", i, got[i].Payload.Text, text)
		}
		if !got[i].Reranked {
			t.Errorf("position %d not marked reranked", i)
		}
	}

	if captured.Query != "query" || len(captured.Texts) != 4 {
		t.Errorf("request = %+v", captured)
	}
}

func TestRerank_FewerThanTopK(t *testing.T) {
	srv, _ := newSidecar(t, map[int]float32{0: 0.2, 1: 0.8})

	c, _ := NewClient(Config{BaseURL: srv.URL})
	got, err := c.Rerank(context.Background(), "query", candidates("a", "b"))
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("kept %d, want all 2", len(got))
	}
	if got[0].Payload.Text != "b" {
		t.Errorf("best candidate = %q, want b", got[0].Payload.Text)
	}
}

func TestRerank_EmptyQuery(t *testing.T) {
	c, _ := NewClient(Config{BaseURL: "http://localhost:1"})
	if _, err := c.Rerank(context.Background(), "", candidates("a")); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("err = %v, want ErrEmptyQuery", err)
	}
}

func TestRerank_NoCandidates(t *testing.T) {
	c, _ := NewClient(Config{BaseURL: "http://localhost:1"})
	got, err := c.Rerank(context.Background(), "query", nil)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if got != nil {
		t.Errorf("got %v, want nil for no candidates", got)
	}
}

func TestRerank_SidecarError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, _ := NewClient(Config{BaseURL: srv.URL})
	if _, err := c.Rerank(context.Background(), "query", candidates("a")); err == nil {
		t.Error("expected error for sidecar 503")
	}
}

func TestRerank_OutOfRangeIndexIgnored(t *testing.T) {
	srv, _ := newSidecar(t, map[int]float32{0: 0.4, 9: 0.99})

	c, _ := NewClient(Config{BaseURL: srv.URL})
	got, err := c.Rerank(context.Background(), "query", candidates("a"))
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(got) != 1 || got[0].RerankScore != 0.4 {
		t.Errorf("got %+v, want the single in-range score applied", got)
	}
}

func TestNewClient_Defaults(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Error("expected error for missing base URL")
	}

	c, err := NewClient(Config{BaseURL: "http://localhost:8081"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.cfg.TopK != DefaultTopK {
		t.Errorf("top_k = %d, want default %d", c.cfg.TopK, DefaultTopK)
	}
}

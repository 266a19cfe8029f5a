package tei

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/docsage/docsage/pkg/embedding"
	"github.com/docsage/docsage/pkg/vecmath"
)

// newSidecar serves dense and sparse embeddings for any batch size and
// records the prefixed inputs it received.
func newSidecar(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var inputs []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		inputs = req.Inputs

		switch r.URL.Path {
		case "/embed":
			dense := make([][]float32, len(req.Inputs))
			for i := range dense {
				dense[i] = []float32{3, 4, 0}
			}
			_ = json.NewEncoder(w).Encode(dense)
		case "/embed_sparse":
			sparse := make([][]sparseTerm, len(req.Inputs))
			for i := range sparse {
				sparse[i] = []sparseTerm{{Index: 7, Value: 0.5}, {Index: 2, Value: 0.3}}
			}
			_ = json.NewEncoder(w).Encode(sparse)
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &inputs
}

func TestEmbed(t *testing.T) {
	srv, inputs := newSidecar(t)
	c, err := NewClient(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	v, err := c.Embed(context.Background(), "some query text", true)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	// Dense output is L2-normalized.
	if norm := vecmath.Norm(v.Dense); math.Abs(norm-1) > 1e-6 {
		t.Errorf("dense norm = %f, want 1", norm)
	}

	// Sparse terms come back sorted by index.
	if len(v.Sparse.Indices) != 2 || v.Sparse.Indices[0] != 2 || v.Sparse.Indices[1] != 7 {
		t.Errorf("sparse indices = %v, want [2 7]", v.Sparse.Indices)
	}

	if len(*inputs) != 1 || !strings.HasPrefix((*inputs)[0], embedding.QueryPrefix) {
		t.Errorf("inputs = %v, want query-prefixed text", *inputs)
	}
}

func TestEmbedBatch_PassagePrefix(t *testing.T) {
	srv, inputs := newSidecar(t)
	c, _ := NewClient(Config{BaseURL: srv.URL})

	vectors, err := c.EmbedBatch(context.Background(), []string{"one", "two"}, false)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("vectors = %d, want 2", len(vectors))
	}
	for _, in := range *inputs {
		if !strings.HasPrefix(in, embedding.PassagePrefix) {
			t.Errorf("input %q missing passage prefix", in)
		}
	}
}

func TestEmbedBatch_SplitsByMaxBatch(t *testing.T) {
	calls := map[string][]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		calls[r.URL.Path] = append(calls[r.URL.Path], len(req.Inputs))

		switch r.URL.Path {
		case "/embed":
			dense := make([][]float32, len(req.Inputs))
			for i := range dense {
				dense[i] = []float32{float32(len(req.Inputs[i])), 0, 0}
			}
			_ = json.NewEncoder(w).Encode(dense)
		case "/embed_sparse":
			sparse := make([][]sparseTerm, len(req.Inputs))
			for i := range sparse {
				sparse[i] = []sparseTerm{{Index: 1, Value: 0.5}}
			}
			_ = json.NewEncoder(w).Encode(sparse)
		}
	}))
	defer srv.Close()

	c, _ := NewClient(Config{BaseURL: srv.URL, MaxBatch: 2})

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vectors, err := c.EmbedBatch(context.Background(), texts, false)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vectors) != len(texts) {
		t.Fatalf("vectors = %d, want %d", len(vectors), len(texts))
	}

	want := []int{2, 2, 1}
	for _, path := range []string{"/embed", "/embed_sparse"} {
		got := calls[path]
		if len(got) != len(want) {
			t.Fatalf("%s calls = %v, want sizes %v", path, got, want)
		}
		for i, n := range want {
			if got[i] != n {
				t.Errorf("%s call %d size = %d, want %d", path, i, got[i], n)
			}
		}
	}
}

func TestNewClient_DefaultMaxBatch(t *testing.T) {
	c, err := NewClient(Config{BaseURL: "http://localhost:1"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.cfg.MaxBatch != defaultMaxBatch {
		t.Errorf("max batch = %d, want default %d", c.cfg.MaxBatch, defaultMaxBatch)
	}
}

func TestEmbedBatch_EmptyInput(t *testing.T) {
	c, _ := NewClient(Config{BaseURL: "http://localhost:1"})

	if _, err := c.EmbedBatch(context.Background(), nil, false); !errors.Is(err, embedding.ErrEmptyInput) {
		t.Errorf("nil batch err = %v, want ErrEmptyInput", err)
	}
	if _, err := c.EmbedBatch(context.Background(), []string{"ok", ""}, false); !errors.Is(err, embedding.ErrEmptyInput) {
		t.Errorf("blank element err = %v, want ErrEmptyInput", err)
	}
	if _, err := c.Embed(context.Background(), "", true); !errors.Is(err, embedding.ErrEmptyInput) {
		t.Errorf("blank text err = %v, want ErrEmptyInput", err)
	}
}

func TestEmbedBatch_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/embed":
			_ = json.NewEncoder(w).Encode([][]float32{{1, 0, 0}})
		case "/embed_sparse":
			_ = json.NewEncoder(w).Encode([][]sparseTerm{{}})
		}
	}))
	defer srv.Close()

	c, _ := NewClient(Config{BaseURL: srv.URL})
	_, err := c.EmbedBatch(context.Background(), []string{"one", "two"}, false)
	if !errors.Is(err, embedding.ErrMismatch) {
		t.Errorf("err = %v, want ErrMismatch", err)
	}
}

func TestEmbedBatch_EncodingError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(errorResponse{Error: "input too long", ErrorType: "validation"})
	}))
	defer srv.Close()

	c, _ := NewClient(Config{BaseURL: srv.URL, MaxRetries: 1})
	if _, err := c.EmbedBatch(context.Background(), []string{"text"}, false); !errors.Is(err, embedding.ErrEncoding) {
		t.Errorf("err = %v, want ErrEncoding", err)
	}
}

func TestCanonicalizeSparse(t *testing.T) {
	sv, err := canonicalizeSparse([]sparseTerm{
		{Index: 9, Value: 0.1},
		{Index: 3, Value: 0.2},
		{Index: 9, Value: 0.4},
	})
	if err != nil {
		t.Fatalf("canonicalizeSparse: %v", err)
	}

	if len(sv.Indices) != 2 || sv.Indices[0] != 3 || sv.Indices[1] != 9 {
		t.Errorf("indices = %v, want [3 9]", sv.Indices)
	}
	// Duplicate index 9 merges by summation.
	if math.Abs(float64(sv.Values[1])-0.5) > 1e-6 {
		t.Errorf("merged value = %f, want 0.5", sv.Values[1])
	}
}

func TestCanonicalizeSparse_RejectsNaN(t *testing.T) {
	_, err := canonicalizeSparse([]sparseTerm{{Index: 1, Value: float32(math.NaN())}})
	if !errors.Is(err, embedding.ErrInvalidVector) {
		t.Errorf("err = %v, want ErrInvalidVector", err)
	}
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Error("expected error for missing base URL")
	}
}

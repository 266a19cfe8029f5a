// Package tei implements the embedding.Provider interface against a
// text-embeddings-inference style HTTP sidecar exposing /embed for
// dense vectors and /embed_sparse for sparse term weights.
package tei

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/docsage/docsage/pkg/embedding"
	"github.com/docsage/docsage/pkg/types"
	"github.com/docsage/docsage/pkg/vecmath"
)

const (
	defaultTimeout  = 60 * time.Second
	defaultMaxBatch = 16
)

// Config holds sidecar client configuration.
type Config struct {
	// BaseURL is the sidecar address (required), e.g. http://embedder:8080
	BaseURL string

	// Timeout for HTTP requests
	Timeout time.Duration

	// MaxRetries for transient failures
	MaxRetries int

	// MaxBatch caps the number of texts per sidecar request; larger
	// inputs are split into sequential sub-batches (default 16).
	MaxBatch int
}

// Client implements the embedding.Provider interface.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a new embedding sidecar client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = defaultMaxBatch
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}, nil
}

// embedRequest is the sidecar request body for both endpoints.
type embedRequest struct {
	Inputs []string `json:"inputs"`
}

// sparseTerm is one term weight in the sidecar's sparse response.
type sparseTerm struct {
	Index uint32  `json:"index"`
	Value float32 `json:"value"`
}

// errorResponse is the sidecar error body.
type errorResponse struct {
	Error     string `json:"error"`
	ErrorType string `json:"error_type"`
}

// Embed converts a single text into a hybrid vector.
func (c *Client) Embed(ctx context.Context, text string, isQuery bool) (types.HybridVector, error) {
	if text == "" {
		return types.HybridVector{}, embedding.ErrEmptyInput
	}

	vectors, err := c.EmbedBatch(ctx, []string{text}, isQuery)
	if err != nil {
		return types.HybridVector{}, err
	}
	if len(vectors) == 0 {
		return types.HybridVector{}, embedding.ErrMismatch
	}
	return vectors[0], nil
}

// EmbedBatch converts multiple texts into hybrid vectors. Dense
// vectors are L2-normalized; sparse output is canonicalized into
// parallel {indices, values} with duplicate indices merged.
func (c *Client) EmbedBatch(ctx context.Context, texts []string, isQuery bool) ([]types.HybridVector, error) {
	if len(texts) == 0 {
		return nil, embedding.ErrEmptyInput
	}

	prefix := embedding.PassagePrefix
	if isQuery {
		prefix = embedding.QueryPrefix
	}
	prefixed := make([]string, len(texts))
	for i, t := range texts {
		if t == "" {
			return nil, embedding.ErrEmptyInput
		}
		prefixed[i] = prefix + t
	}

	vectors := make([]types.HybridVector, 0, len(texts))
	for start := 0; start < len(prefixed); start += c.cfg.MaxBatch {
		end := start + c.cfg.MaxBatch
		if end > len(prefixed) {
			end = len(prefixed)
		}
		batch, err := c.embedGroup(ctx, prefixed[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}

	return vectors, nil
}

// embedGroup runs one sub-batch through both sidecar endpoints.
func (c *Client) embedGroup(ctx context.Context, inputs []string) ([]types.HybridVector, error) {
	reqJSON, err := json.Marshal(embedRequest{Inputs: inputs})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var dense [][]float32
	if err := c.doRequest(ctx, "/embed", reqJSON, &dense); err != nil {
		return nil, err
	}

	var sparse [][]sparseTerm
	if err := c.doRequest(ctx, "/embed_sparse", reqJSON, &sparse); err != nil {
		return nil, err
	}

	if len(dense) != len(inputs) || len(sparse) != len(inputs) {
		return nil, embedding.ErrMismatch
	}

	vectors := make([]types.HybridVector, len(inputs))
	for i := range inputs {
		d := dense[i]
		if !vecmath.IsFinite(d) {
			return nil, embedding.ErrInvalidVector
		}
		vecmath.NormalizeInPlace(d)

		sv, err := canonicalizeSparse(sparse[i])
		if err != nil {
			return nil, err
		}

		vectors[i] = types.HybridVector{Dense: d, Sparse: sv}
	}

	return vectors, nil
}

// Dimension returns the dense embedding dimension.
func (c *Client) Dimension() int {
	return types.DenseDimension
}

// canonicalizeSparse merges duplicate indices and orders terms by
// index ascending.
func canonicalizeSparse(terms []sparseTerm) (types.SparseVector, error) {
	merged := make(map[uint32]float32, len(terms))
	for _, t := range terms {
		f := float64(t.Value)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return types.SparseVector{}, embedding.ErrInvalidVector
		}
		merged[t.Index] += t.Value
	}

	indices := make([]uint32, 0, len(merged))
	for idx := range merged {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	values := make([]float32, len(indices))
	for i, idx := range indices {
		values[i] = merged[idx]
	}

	return types.SparseVector{Indices: indices, Values: values}, nil
}

// doRequest makes one HTTP call to the sidecar with bounded retries.
func (c *Client) doRequest(ctx context.Context, path string, body []byte, out interface{}) error {
	var lastErr error

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff
			time.Sleep(time.Duration(attempt*attempt) * 100 * time.Millisecond)
		}

		lastErr = c.doRequestOnce(ctx, path, body, out)
		if lastErr == nil {
			return nil
		}

		// Only transport errors are worth retrying
		if lastErr == embedding.ErrEncoding || lastErr == embedding.ErrEmptyInput {
			return lastErr
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}

	return lastErr
}

func (c *Client) doRequestOnce(ctx context.Context, path string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error != "" {
			if resp.StatusCode == http.StatusUnprocessableEntity {
				return embedding.ErrEncoding
			}
			return fmt.Errorf("embedder error: %s", errResp.Error)
		}
		return fmt.Errorf("embedder error: status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

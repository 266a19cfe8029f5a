// Package rerank scores (query, chunk) pairs with a cross-encoder
// sidecar and reorders retrieval candidates.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/docsage/docsage/pkg/types"
)

// DefaultTopK is how many candidates survive the rerank pass.
const DefaultTopK = 3

// ErrEmptyQuery is returned for a blank query.
var ErrEmptyQuery = errors.New("empty rerank query")

// Config holds reranker sidecar configuration.
type Config struct {
	// BaseURL is the sidecar address (required)
	BaseURL string

	// Timeout for HTTP requests
	Timeout time.Duration

	// TopK is the number of candidates to keep (default 3)
	TopK int
}

// Client calls a cross-encoder rerank sidecar over HTTP.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a new rerank client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}, nil
}

// rerankRequest is the sidecar request body.
type rerankRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

// rerankResult is one scored pair in the sidecar response.
type rerankResult struct {
	Index int     `json:"index"`
	Score float32 `json:"score"`
}

// Rerank scores each candidate's payload text against the query,
// writes the score onto the candidate, sorts descending, and returns
// the configured top-k. Fewer candidates than top-k are all returned.
func (c *Client) Rerank(ctx context.Context, query string, candidates []types.ScoredPoint) ([]types.ScoredPoint, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	texts := make([]string, len(candidates))
	for i, cand := range candidates {
		texts[i] = cand.Payload.Text
	}

	reqJSON, err := json.Marshal(rerankRequest{Query: query, Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/rerank", bytes.NewReader(reqJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank error: status %d", resp.StatusCode)
	}

	var results []rerankResult
	if err := json.Unmarshal(respBody, &results); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	scored := make([]types.ScoredPoint, len(candidates))
	copy(scored, candidates)
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(scored) {
			continue
		}
		scored[r.Index].RerankScore = r.Score
		scored[r.Index].Reranked = true
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].RerankScore > scored[j].RerankScore
	})

	if len(scored) > c.cfg.TopK {
		scored = scored[:c.cfg.TopK]
	}
	return scored, nil
}

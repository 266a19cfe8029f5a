// Package ollama implements the llm.Provider interface for a local
// Ollama server, used as the fallback behind the router.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/docsage/docsage/pkg/llm"
	"github.com/docsage/docsage/pkg/types"
)

const (
	providerName   = "ollama"
	defaultBaseURL = "http://localhost:11434"
	defaultModel   = "llama3.2"

	connectTimeout = 10 * time.Second
)

// Config holds Ollama client configuration.
type Config struct {
	// BaseURL is the Ollama server address
	BaseURL string

	// Model is the local model to use
	Model string

	// MaxRetries for transient failures
	MaxRetries int
}

// Client implements llm.Provider for Ollama.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a new Ollama chat client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = llm.MaxRetries
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
			},
		},
	}, nil
}

// Name returns the provider name.
func (c *Client) Name() string { return providerName }

// Model returns the configured model.
func (c *Client) Model() string { return c.cfg.Model }

// chatRequest is the Ollama /api/chat request body.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse is one NDJSON line of the /api/chat response. For
// non-streaming calls it is the whole body.
type chatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done            bool `json:"done"`
	PromptEvalCount int  `json:"prompt_eval_count"`
	EvalCount       int  `json:"eval_count"`
}

// Chat performs a single blocking completion with bounded retries.
func (c *Client) Chat(ctx context.Context, prompt string) (*types.LLMResponse, error) {
	body, err := json.Marshal(chatRequest{
		Model:    c.cfg.Model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(llm.Backoff(attempt - 1))
		}

		resp, err := c.doChat(ctx, body, prompt)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !llm.Retryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) doChat(ctx context.Context, body []byte, prompt string) (*types.LLMResponse, error) {
	respBody, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	data, err := io.ReadAll(respBody)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return c.buildResponse(parsed.Message.Content, prompt, parsed.PromptEvalCount, parsed.EvalCount)
}

// ChatStream performs a streaming completion over NDJSON lines. Retry
// happens only while no bytes have reached the caller.
func (c *Client) ChatStream(ctx context.Context, prompt string, emit func(content string) error) (*types.LLMResponse, error) {
	body, err := json.Marshal(chatRequest{
		Model:    c.cfg.Model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(llm.Backoff(attempt - 1))
		}

		emitted := false
		wrapped := func(content string) error {
			emitted = true
			return emit(content)
		}

		resp, err := c.doChatStream(ctx, body, prompt, wrapped)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if emitted || !llm.Retryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) doChatStream(ctx context.Context, body []byte, prompt string, emit func(content string) error) (*types.LLMResponse, error) {
	respBody, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	var accumulated strings.Builder
	var promptTokens, completionTokens int

	scanner := bufio.NewScanner(respBody)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var chunk chatResponse
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			continue
		}

		if chunk.Message.Content != "" {
			accumulated.WriteString(chunk.Message.Content)
			if err := emit(chunk.Message.Content); err != nil {
				return nil, err
			}
		}
		if chunk.Done {
			promptTokens = chunk.PromptEvalCount
			completionTokens = chunk.EvalCount
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("stream read failed: %w", err)
	}

	resp, err := c.buildResponse(accumulated.String(), prompt, promptTokens, completionTokens)
	if err != nil {
		return nil, err
	}
	resp.Content = ""
	return resp, nil
}

// post issues the HTTP request and returns the body reader on 200.
func (c *Client) post(ctx context.Context, body []byte) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("ollama error: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return resp.Body, nil
}

// buildResponse assembles the unified response, estimating tokens when
// the server reported no eval counts.
func (c *Client) buildResponse(content, prompt string, promptTokens, completionTokens int) (*types.LLMResponse, error) {
	if promptTokens == 0 {
		promptTokens = llm.EstimateTokens(prompt)
	}
	if completionTokens == 0 {
		completionTokens = llm.EstimateTokens(content)
	}
	u := types.Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}

	cost, err := llm.CostFor(c.cfg.Model, u)
	if err != nil {
		return nil, err
	}

	return &types.LLMResponse{
		Content:  content,
		Usage:    u,
		Cost:     cost,
		Model:    c.cfg.Model,
		Provider: providerName,
	}, nil
}

// Package mistral implements the llm.Provider interface for the
// Mistral chat completions API.
package mistral

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
	providerName   = "mistral"
	defaultBaseURL = "https://api.mistral.ai/v1"
	defaultModel   = "mistral-small-latest"

	// Connect timeout; read is unbounded for streaming.
	connectTimeout = 10 * time.Second
)

// Config holds Mistral client configuration.
type Config struct {
	// APIKey is the Mistral API key (required)
	APIKey string

	// Model is the chat model to use
	Model string

	// BaseURL overrides the API base URL
	BaseURL string

	// MaxRetries for transient failures
	MaxRetries int
}

// Client implements llm.Provider for Mistral.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a new Mistral chat client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
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

// chatRequest is the chat completions request body.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse is the non-streaming response body.
type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *usagePayload `json:"usage"`
}

// streamChunk is one SSE data frame of a streaming response.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *usagePayload `json:"usage"`
}

type usagePayload struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
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
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("response contains no choices")
	}

	content := parsed.Choices[0].Message.Content
	return c.buildResponse(content, prompt, parsed.Usage)
}

// ChatStream performs a streaming completion. A failed attempt is
// retried only while no bytes have reached the caller; once emit has
// been invoked, errors propagate immediately.
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
	var usage *usagePayload

	scanner := bufio.NewScanner(respBody)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		accumulated.WriteString(delta)
		if err := emit(delta); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("stream read failed: %w", err)
	}

	resp, err := c.buildResponse(accumulated.String(), prompt, usage)
	if err != nil {
		return nil, err
	}
	resp.Content = ""
	return resp, nil
}

// post issues the HTTP request and returns the body reader on 200.
func (c *Client) post(ctx context.Context, body []byte) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("API error: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return resp.Body, nil
}

// buildResponse assembles the unified response, estimating tokens when
// the API did not report usage.
func (c *Client) buildResponse(content, prompt string, usage *usagePayload) (*types.LLMResponse, error) {
	u := types.Usage{}
	if usage != nil {
		u = types.Usage{
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			TotalTokens:      usage.TotalTokens,
		}
	} else {
		u.PromptTokens = llm.EstimateTokens(prompt)
		u.CompletionTokens = llm.EstimateTokens(content)
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
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

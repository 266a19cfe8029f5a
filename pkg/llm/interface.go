// Package llm defines the chat provider contract shared by the remote
// primary and the local fallback.
package llm

import (
	"context"

	"github.com/docsage/docsage/pkg/types"
)

// MaxRetries bounds retry attempts inside providers.
const MaxRetries = 3

// Provider is the unified chat contract.
type Provider interface {
	// Name identifies the provider for metrics and response metadata.
	Name() string

	// Model returns the configured model name.
	Model() string

	// Chat performs a single blocking completion.
	Chat(ctx context.Context, prompt string) (*types.LLMResponse, error)

	// ChatStream performs a streaming completion, invoking emit for
	// each content delta. The aggregated response is returned after
	// the stream ends. If emit returns an error, streaming stops and
	// the error propagates.
	ChatStream(ctx context.Context, prompt string, emit func(content string) error) (*types.LLMResponse, error)
}

// EstimateTokens approximates a token count when the provider does not
// report usage. Four characters per token is the conventional rule of
// thumb.
func EstimateTokens(text string) int {
	return len(text) / 4
}

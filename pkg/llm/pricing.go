package llm

import (
	"errors"
	"fmt"

	"github.com/docsage/docsage/pkg/types"
)

// ErrPricing is returned when a model has no configured price.
var ErrPricing = errors.New("no pricing configured for model")

// ModelPricing holds per-million-token prices in dollars.
type ModelPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// priceTable is the static per-model price table. Local models served
// through the fallback are metered at zero.
var priceTable = map[string]ModelPricing{
	"mistral-small-latest": {InputPerMillion: 0.1, OutputPerMillion: 0.3},
	"mistral-large-latest": {InputPerMillion: 2.0, OutputPerMillion: 6.0},
	"llama3.2":             {},
	"llama3.1":             {},
	"mistral":              {},
	"qwen2.5":              {},
}

// CostFor computes the dollar cost of a call from the price table.
// Unknown models fail.
func CostFor(model string, usage types.Usage) (types.Cost, error) {
	pricing, ok := priceTable[model]
	if !ok {
		return types.Cost{}, fmt.Errorf("%w: %s", ErrPricing, model)
	}

	input := float64(usage.PromptTokens) / 1_000_000 * pricing.InputPerMillion
	output := float64(usage.CompletionTokens) / 1_000_000 * pricing.OutputPerMillion
	return types.Cost{
		InputCost:  input,
		OutputCost: output,
		TotalCost:  input + output,
	}, nil
}

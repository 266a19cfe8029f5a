package types

// Usage holds token counts for one LLM call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Cost holds the dollar cost for one LLM call.
type Cost struct {
	InputCost  float64 `json:"input_cost"`
	OutputCost float64 `json:"output_cost"`
	TotalCost  float64 `json:"total_cost"`
}

// LLMResponse is the unified result of a chat call.
type LLMResponse struct {
	Content  string `json:"content"`
	Usage    Usage  `json:"usage"`
	Cost     Cost   `json:"cost"`
	Model    string `json:"model"`
	Provider string `json:"provider"`
}

package providers

import "context"

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type UsageInfo struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	// Cost is the upstream dollar cost when the API reports one
	// (OpenRouter does); zero otherwise.
	Cost float64 `json:"cost"`
}

// LLMResponse reports which provider and model actually served the
// request, so a failover can be attributed on the resulting action.
type LLMResponse struct {
	Content      string
	FinishReason string
	Usage        *UsageInfo
	Provider     string
	Model        string
}

// LLMProvider is the chat completion capability consumed by the
// orchestrator. Options: max_tokens (int), temperature (float64),
// json_mode (bool).
type LLMProvider interface {
	Chat(ctx context.Context, messages []Message, model string, options map[string]interface{}) (*LLMResponse, error)
	GetDefaultModel() string
	Name() string
}

package models

import "time"

// ChatMessage represents a single message in a chat conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest is an OpenAI-compatible chat completion request.
type ChatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []ChatMessage   `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      *int            `json:"max_tokens,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// ResponseFormat asks an OpenAI-compatible provider for a JSON object.
type ResponseFormat struct {
	Type string `json:"type"`
}

// ChatCompletionResponse is an OpenAI-compatible chat completion response.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Choice represents a single completion choice.
type Choice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// AnthropicRequest is an Anthropic /v1/messages request.
type AnthropicRequest struct {
	Model     string        `json:"model"`
	Messages  []ChatMessage `json:"messages"`
	System    string        `json:"system,omitempty"`
	MaxTokens int           `json:"max_tokens"`
}

// AnthropicContent represents a content block in an Anthropic response.
type AnthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// AnthropicUsage holds token counts from an Anthropic response.
type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// AnthropicResponse is an Anthropic /v1/messages response.
type AnthropicResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Model      string             `json:"model"`
	Content    []AnthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      *AnthropicUsage    `json:"usage,omitempty"`
}

// ToUsage converts AnthropicUsage to the standard Usage type.
func (u *AnthropicUsage) ToUsage() *Usage {
	return &Usage{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      u.InputTokens + u.OutputTokens,
	}
}

// ProviderRequest is what the orchestrator hands to the model provider.
type ProviderRequest struct {
	TenantID string         `json:"tenant_id"`
	Action   ActionType     `json:"action"`
	Input    map[string]any `json:"input"`
	// Model overrides the routed model when set.
	Model string `json:"model,omitempty"`
}

// ProviderResponse is the outcome of one successful provider call.
type ProviderResponse struct {
	Result         Result        `json:"result"`
	Model          string        `json:"model"`
	Tokens         int           `json:"tokens"`
	Cost           float64       `json:"cost"`
	// CostUnknown is set when no price applies to the model, so Cost is not
	// comparable against a caching floor.
	CostUnknown    bool          `json:"cost_unknown,omitempty"`
	ProcessingTime time.Duration `json:"processing_time"`
}

// Envelope is the normalized response returned for every processed request.
type Envelope struct {
	Result         *Result          `json:"result,omitempty"`
	Success        bool             `json:"success"`
	Cached         bool             `json:"cached"`
	CacheTier      Tier             `json:"cache_tier,omitempty"`
	ResponseTimeMs int64            `json:"response_time_ms"`
	Cost           float64          `json:"cost"`
	Tokens         int              `json:"tokens"`
	Metadata       EnvelopeMetadata `json:"metadata"`
}

// EnvelopeMetadata carries provenance details of an envelope.
type EnvelopeMetadata struct {
	RequestID        string            `json:"request_id"`
	CacheKey         string            `json:"cache_key,omitempty"`
	Model            string            `json:"model,omitempty"`
	Similarity       float64           `json:"similarity,omitempty"`
	Degraded         bool              `json:"degraded,omitempty"`
	Fallback         *FallbackResponse `json:"fallback,omitempty"`
	CircuitState     CircuitState      `json:"circuit_state,omitempty"`
	ValidationErrors []string          `json:"validation_errors,omitempty"`
	Error            string            `json:"error,omitempty"`
}

package triage

import "context"

// Provider is the interface for any LLM backend.
type Provider interface {
	Send(ctx context.Context, req *LLMRequest) (*LLMResponse, error)
}

// LLMRequest is a single-shot completion request. Classification wants
// near-deterministic decoding and a bounded response, so both knobs are
// explicit here rather than provider defaults.
type LLMRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// LLMResponse is the provider's reply.
type LLMResponse struct {
	Text  string
	Model string
	Usage Usage
}

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Package llm provides LLM client interfaces and implementations.
package llm

import (
	"context"
	"time"
)

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// ChatMessage represents a chat message for LLM.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for LLM providers.
type Client interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string

	// Model returns the model used when a request names none.
	Model() string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// Options configures a provider client.
type Options struct {
	APIKey  string
	Model   string
	BaseURL string
	// Timeout bounds a single attempt.
	Timeout time.Duration
	// MaxRetries is the number of extra attempts after a failed call.
	MaxRetries int
}

// NewClient creates a new LLM client based on provider.
func NewClient(provider Provider, opts Options) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(opts)
	default:
		return NewOpenAIClient(opts)
	}
}

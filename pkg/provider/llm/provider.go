// Package llm defines the Provider interface for Large Language Model backends.
//
// The coverage engine uses LLMs exclusively for short, JSON-constrained
// classification and phrasing calls, so the interface is deliberately narrow:
// one blocking completion per request, no streaming and no tool calling.
//
// Implementors must be safe for concurrent use and must propagate context
// cancellation promptly.
package llm

import "context"

// CompletionRequest carries one classification or phrasing prompt.
// A zero-value request is invalid; Prompt must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is an optional high-priority instruction injected before
	// the user prompt. Providers without a dedicated system slot prepend it
	// as a "system"-role message.
	SystemPrompt string

	// Prompt is the user-role request text.
	Prompt string

	// Temperature controls output randomness in [0.0, 2.0]. Classification
	// callers typically pass 0 for near-deterministic output.
	Temperature float64

	// MaxTokens caps completion length. Zero means the provider default.
	MaxTokens int
}

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionResponse is the full (non-streamed) model reply.
type CompletionResponse struct {
	// Content is the text of the model's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use from multiple goroutines.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// Returns an error if the request fails or if ctx is cancelled or expires
	// before the completion arrives.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// ModelID returns the backend-specific model identifier, for logging and
	// telemetry attributes.
	ModelID() string
}

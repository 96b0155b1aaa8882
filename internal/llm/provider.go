// Package llm implements the LLMProvider / EmbeddingProvider contracts
// (spec.md §6): generateResponse backed by the official Anthropic SDK
// (BreakerProvider adds a circuit breaker around it), and
// generateEmbedding against an OpenAI-style embeddings HTTP API, which
// has no circuit breaker. The request/response shape matches the
// teacher's internal/providers, with a published SDK in place of its
// hand-rolled HTTP client.
package llm

import "context"

// Message mirrors the teacher's providers.Message shape: role + text
// content, trimmed to what the conversation engine actually needs
// (no tool-calling — the state machine drives transitions, not tools).
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Usage tracks token consumption for a single generateResponse call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// GenerateRequest is the input to Provider.GenerateResponse.
type GenerateRequest struct {
	Messages     []Message
	SystemPrompt string
	JSONMode     bool
	MaxTokens    int64
	Temperature  float64
}

// GenerateResult is the output of Provider.GenerateResponse.
type GenerateResult struct {
	Content      string
	Usage        Usage
	FinishReason string
}

// Provider is the LLMProvider contract from spec.md §6.
type Provider interface {
	GenerateResponse(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
}

// EmbeddingProvider is the EmbeddingProvider contract from spec.md §6,
// used by internal/rag to embed query text before similarity search.
type EmbeddingProvider interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

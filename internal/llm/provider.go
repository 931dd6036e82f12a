// Package llm defines the provider-agnostic chat abstraction used by the
// boundary detector, extractors, and agentic retriever. It intentionally
// covers only what this domain needs: single-turn chat completion with an
// optional JSON response format, no streaming, no tool calls, no images.
package llm

import "context"

// Message is one turn in a chat-completion request.
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// ChatOptions tunes a single Chat call.
type ChatOptions struct {
	// JSONResponse requests a JSON-object-constrained completion, when the
	// backing provider supports it.
	JSONResponse bool
	Temperature  float64
	MaxTokens    int
}

// ChatOption mutates ChatOptions.
type ChatOption func(*ChatOptions)

// WithJSONResponse requests a JSON-object response format.
func WithJSONResponse() ChatOption {
	return func(o *ChatOptions) { o.JSONResponse = true }
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float64) ChatOption {
	return func(o *ChatOptions) { o.Temperature = t }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) ChatOption {
	return func(o *ChatOptions) { o.MaxTokens = n }
}

// Provider is the single capability every LLM-driven component depends on.
type Provider interface {
	Chat(ctx context.Context, msgs []Message, model string, opts ...ChatOption) (Message, error)
}

// ResolveOptions applies a set of ChatOptions, defaulting Temperature to 0.2
// so boundary/extraction/judge prompts stay close to deterministic.
func ResolveOptions(opts ...ChatOption) ChatOptions {
	o := ChatOptions{Temperature: 0.2}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

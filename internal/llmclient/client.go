// Package llmclient implements llm.Provider over github.com/sashabaranov/go-openai,
// the sole concrete chat-completion backend this service wires. Unlike the
// teacher's streaming/tool-call-capable planner client, this wrapper issues
// single-shot, non-streaming completions, matching the simplified
// llm.Provider contract.
package llmclient

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"memoryservice/internal/llm"
)

// Client adapts an openai.Client to llm.Provider.
type Client struct {
	inner *openai.Client
}

// New builds a Client. When baseURL is non-empty, requests are routed
// through it (OpenAI-compatible gateways/local inference servers).
func New(apiKey, baseURL string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Client{inner: openai.NewClientWithConfig(cfg)}
}

func toOpenAIRole(role string) string {
	switch role {
	case "system":
		return openai.ChatMessageRoleSystem
	case "assistant":
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}

// Chat issues one non-streaming chat completion.
func (c *Client) Chat(ctx context.Context, msgs []llm.Message, model string, opts ...llm.ChatOption) (llm.Message, error) {
	resolved := llm.ResolveOptions(opts...)

	req := openai.ChatCompletionRequest{
		Model:       model,
		Temperature: float32(resolved.Temperature),
		Messages:    make([]openai.ChatCompletionMessage, 0, len(msgs)),
	}
	if resolved.MaxTokens > 0 {
		req.MaxTokens = resolved.MaxTokens
	}
	if resolved.JSONResponse {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	for _, m := range msgs {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: toOpenAIRole(m.Role), Content: m.Content})
	}

	resp, err := c.inner.CreateChatCompletion(ctx, req)
	if err != nil {
		return llm.Message{}, fmt.Errorf("llmclient: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return llm.Message{}, fmt.Errorf("llmclient: no choices returned")
	}
	return llm.Message{Role: "assistant", Content: resp.Choices[0].Message.Content}, nil
}

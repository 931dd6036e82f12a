package testhelpers

import (
	"context"
	"testing"

	"memoryservice/internal/llm"
)

func TestFakeProvider_Chat(t *testing.T) {
	fp := &FakeProvider{Responses: []llm.Message{{Role: "assistant", Content: "ok"}}}
	m, err := fp.Chat(context.Background(), nil, "model")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if m.Content != "ok" {
		t.Fatalf("unexpected content: %q", m.Content)
	}
}

func TestFakeProvider_RepeatsLastResponse(t *testing.T) {
	fp := &FakeProvider{Responses: []llm.Message{
		{Content: "first"},
		{Content: "second"},
	}}
	ctx := context.Background()
	first, _ := fp.Chat(ctx, nil, "m")
	second, _ := fp.Chat(ctx, nil, "m")
	third, _ := fp.Chat(ctx, nil, "m")
	if first.Content != "first" || second.Content != "second" || third.Content != "second" {
		t.Fatalf("unexpected sequence: %q %q %q", first.Content, second.Content, third.Content)
	}
	if fp.Calls() != 3 {
		t.Fatalf("expected 3 calls, got %d", fp.Calls())
	}
}

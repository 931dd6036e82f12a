package testhelpers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"

	"memoryservice/internal/llm"
)

// FakeProvider is a scripted LLM provider for tests. Responses are served in
// order from Responses; once exhausted, the last response repeats so a test
// doesn't need to size the slice to an exact call count.
type FakeProvider struct {
	mu        sync.Mutex
	Responses []llm.Message
	Err       error
	calls     int
	Prompts   []llm.Message // records the msgs slice from the most recent call
}

func (f *FakeProvider) Chat(_ context.Context, msgs []llm.Message, _ string, _ ...llm.ChatOption) (llm.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Prompts = msgs
	f.calls++
	if f.Err != nil {
		return llm.Message{}, f.Err
	}
	if len(f.Responses) == 0 {
		return llm.Message{}, nil
	}
	idx := f.calls - 1
	if idx >= len(f.Responses) {
		idx = len(f.Responses) - 1
	}
	return f.Responses[idx], nil
}

// Calls returns how many times Chat has been invoked.
func (f *FakeProvider) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// NewTestServer returns an httptest.Server for the given handler func.
func NewTestServer(handler func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(handler))
}

// WaitGroupDoneOnce returns a function that will call wg.Done() only once; useful for
// tests that need to ensure a WaitGroup is decremented a single time from multiple places.
func WaitGroupDoneOnce(wg *sync.WaitGroup) func() {
	once := sync.Once{}
	return func() { once.Do(wg.Done) }
}

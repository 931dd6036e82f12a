// Package embedclient implements the Embedder capability used by
// TripleStoreWriter and HybridRetriever's embedding mode, wrapping the
// same github.com/sashabaranov/go-openai client used for chat completions.
// Batches fan out with a bounded semaphore so one large write doesn't
// monopolize the shared embedding-call concurrency budget.
package embedclient

import (
	"context"
	"fmt"
	"sync"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/semaphore"
)

// Embedder turns text into vectors.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Client adapts an openai.Client to Embedder.
type Client struct {
	inner     *openai.Client
	model     string
	dimension int
	sem       *semaphore.Weighted
}

// New builds a Client. maxConcurrent bounds how many embedding requests run
// at once; non-positive defaults to 32 per the concurrency model's default.
func New(apiKey, baseURL, model string, dimension, maxConcurrent int) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 32
	}
	return &Client{
		inner:     openai.NewClientWithConfig(cfg),
		model:     model,
		dimension: dimension,
		sem:       semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// EmbedBatch embeds each text independently (bounded by the semaphore) and
// returns vectors in the same order as the input.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	errs := make([]error, len(texts))

	var wg sync.WaitGroup
	for i, text := range texts {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			errs[i] = err
			continue
		}
		wg.Add(1)
		go func(idx int, t string) {
			defer wg.Done()
			defer c.sem.Release(1)
			vec, err := c.embedOne(ctx, t)
			if err != nil {
				errs[idx] = err
				return
			}
			out[idx] = vec
		}(i, text)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("embedclient: embed batch: %w", err)
		}
	}
	return out, nil
}

func (c *Client) embedOne(ctx context.Context, text string) ([]float32, error) {
	req := openai.EmbeddingRequestStrings{
		Input: []string{text},
		Model: openai.EmbeddingModel(c.model),
	}
	if c.dimension > 0 {
		req.Dimensions = c.dimension
	}
	resp, err := c.inner.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedclient: no embedding returned")
	}
	return resp.Data[0].Embedding, nil
}

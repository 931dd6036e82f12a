package embedclient

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"memoryservice/internal/testhelpers"
)

func TestEmbedBatch_OrderPreservedAcrossConcurrentRequests(t *testing.T) {
	srv := testhelpers.NewTestServer(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Input, 1)

		vec := make([]float32, 4)
		for i := range vec {
			vec[i] = float32(len(req.Input[0]))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"embedding": vec, "index": 0},
			},
			"model": "test-embed",
			"usage": map[string]any{"prompt_tokens": 1, "total_tokens": 1},
		})
	})
	defer srv.Close()

	c := New("test-key", srv.URL, "test-embed", 4, 2)
	texts := []string{"a", "bb", "ccc", "dddd"}

	vecs, err := c.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 4)
	for i, text := range texts {
		require.Equal(t, float32(len(text)), vecs[i][0])
	}
}

func TestEmbedBatch_PropagatesError(t *testing.T) {
	srv := testhelpers.NewTestServer(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer srv.Close()

	c := New("test-key", srv.URL, "test-embed", 0, 1)
	_, err := c.EmbedBatch(context.Background(), []string{"x"})
	require.Error(t, err)
}

package triplestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"memoryservice/internal/model"
	"memoryservice/internal/persistence/databases"
)

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

type failingSearch struct {
	databases.FullTextSearch
}

func (failingSearch) Index(context.Context, string, string, map[string]string) error {
	return errors.New("search unavailable")
}

func newTestWriter(embedder *fakeEmbedder, search databases.FullTextSearch) (*Writer, databases.DocStore, databases.VectorStore) {
	docs := databases.NewMemoryDocStore()
	vector := databases.NewMemoryVector()
	if search == nil {
		search = databases.NewMemorySearch()
	}
	return New(docs, vector, search, embedder), docs, vector
}

func TestWriteMemCell_WritesAllThreeBackends(t *testing.T) {
	w, docs, vector := newTestWriter(&fakeEmbedder{}, nil)
	cell := model.MemCell{EventID: "e1", GroupID: "g1", Subject: "Trip", Summary: "Planned a trip", Keywords: []string{"trip"}, Timestamp: time.Now()}

	decision, err := w.WriteMemCell(context.Background(), cell)
	require.NoError(t, err)
	require.Equal(t, "created", decision.Action)

	rec, ok, err := docs.Get(context.Background(), "e1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "g1", rec.GroupID)

	results, err := vector.SimilaritySearch(context.Background(), []float32{1, 0, 0}, 5, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "e1", results[0].ID)
}

func TestWriteMemCell_CompensatesDocStoreOnEmbedFailure(t *testing.T) {
	w, docs, _ := newTestWriter(&fakeEmbedder{err: errors.New("embed down")}, nil)
	cell := model.MemCell{EventID: "e2", GroupID: "g1", Subject: "X", Summary: "Y", Timestamp: time.Now()}

	_, err := w.WriteMemCell(context.Background(), cell)
	require.Error(t, err)

	_, ok, err := docs.Get(context.Background(), "e2")
	require.NoError(t, err)
	require.False(t, ok, "docstore write should be rolled back after embed failure")
}

func TestWriteMemCell_CompensatesDocAndVectorOnSearchFailure(t *testing.T) {
	w, docs, vector := newTestWriter(&fakeEmbedder{}, failingSearch{})
	cell := model.MemCell{EventID: "e3", GroupID: "g1", Subject: "X", Summary: "Y", Timestamp: time.Now()}

	_, err := w.WriteMemCell(context.Background(), cell)
	require.Error(t, err)

	_, ok, err := docs.Get(context.Background(), "e3")
	require.NoError(t, err)
	require.False(t, ok)

	results, err := vector.SimilaritySearch(context.Background(), []float32{1, 0, 0}, 5, nil)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestWriteProfile_VersionsAndRemarksLatest(t *testing.T) {
	w, docs, _ := newTestWriter(&fakeEmbedder{}, nil)
	ctx := context.Background()

	d1, err := w.WriteProfile(ctx, "g1", "alice", "user:alice", []byte(`{"v":1}`), "alice likes hiking", "alice", nil)
	require.NoError(t, err)
	require.Equal(t, 1, d1.Version)

	d2, err := w.WriteProfile(ctx, "g1", "alice", "user:alice", []byte(`{"v":2}`), "alice likes hiking and biking", "alice", nil)
	require.NoError(t, err)
	require.Equal(t, 2, d2.Version)

	versions, err := docs.VersionsByKey(ctx, "g1", string(model.KindProfile), "user:alice")
	require.NoError(t, err)
	require.Len(t, versions, 2)

	latestCount := 0
	for _, v := range versions {
		if v.IsLatest {
			latestCount++
			require.Equal(t, d2.ID, v.ID)
		}
	}
	require.Equal(t, 1, latestCount)
}

func TestDeleteByEventID_RemovesFromAllBackends(t *testing.T) {
	w, docs, vector := newTestWriter(&fakeEmbedder{}, nil)
	cell := model.MemCell{EventID: "e4", GroupID: "g1", Subject: "X", Summary: "Y", Timestamp: time.Now()}
	_, err := w.WriteMemCell(context.Background(), cell)
	require.NoError(t, err)

	require.NoError(t, w.DeleteByEventID(context.Background(), "e4"))

	_, ok, err := docs.Get(context.Background(), "e4")
	require.NoError(t, err)
	require.False(t, ok)

	results, err := vector.SimilaritySearch(context.Background(), []float32{1, 0, 0}, 5, nil)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestDeleteByFilters_RemovesEveryVersion(t *testing.T) {
	w, docs, _ := newTestWriter(&fakeEmbedder{}, nil)
	ctx := context.Background()
	_, err := w.WriteProfile(ctx, "g1", "bob", "user:bob", []byte(`{"v":1}`), "bob", "bob", nil)
	require.NoError(t, err)
	_, err = w.WriteProfile(ctx, "g1", "bob", "user:bob", []byte(`{"v":2}`), "bob", "bob", nil)
	require.NoError(t, err)

	count, err := w.DeleteByFilters(ctx, "g1", string(model.KindProfile), "user:bob")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	versions, err := docs.VersionsByKey(ctx, "g1", string(model.KindProfile), "user:bob")
	require.NoError(t, err)
	require.Empty(t, versions)
}

package retrieve

import (
	"context"
	"testing"
	"time"

	"memoryservice/internal/persistence/databases"
)

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func seedRecord(t *testing.T, search databases.FullTextSearch, vector databases.VectorStore, id, groupID, userID, subject, text string, ts time.Time) {
	t.Helper()
	md := map[string]string{
		"group_id":  groupID,
		"user_id":   userID,
		"kind":      "memcell",
		"subject":   subject,
		"timestamp": ts.UTC().Format(time.RFC3339),
	}
	if err := search.Index(context.Background(), id, text, md); err != nil {
		t.Fatalf("seed search index: %v", err)
	}
	if err := vector.Upsert(context.Background(), id, []float32{1, 0, 0}, md); err != nil {
		t.Fatalf("seed vector upsert: %v", err)
	}
}

func TestSearch_BM25Mode_ReturnsMatchesScopedToGroup(t *testing.T) {
	search := databases.NewMemorySearch()
	vector := databases.NewMemoryVector()
	seedRecord(t, search, vector, "e1", "g1", "alice", "trip", "planned a hiking trip", time.Now())
	seedRecord(t, search, vector, "e2", "g2", "bob", "trip", "planned a hiking trip elsewhere", time.Now())

	r := New(search, vector, fakeEmbedder{})
	resp, err := r.Search(context.Background(), Options{
		Query: "hiking trip", GroupID: "g1", Scope: ScopeGroup, Mode: ModeBM25, TopK: 10,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].EventID != "e1" {
		t.Fatalf("expected only e1 in scope, got %+v", resp.Results)
	}
}

func TestSearch_EmbeddingMode_ScopesToPersonal(t *testing.T) {
	search := databases.NewMemorySearch()
	vector := databases.NewMemoryVector()
	seedRecord(t, search, vector, "e1", "g1", "alice", "trip", "alice's note", time.Now())
	seedRecord(t, search, vector, "e2", "g1", "bob", "trip", "bob's note", time.Now())

	r := New(search, vector, fakeEmbedder{})
	resp, err := r.Search(context.Background(), Options{
		Query: "note", UserID: "alice", Scope: ScopePersonal, Mode: ModeEmbedding, TopK: 10,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, res := range resp.Results {
		if res.EventID == "e2" {
			t.Fatalf("bob's record leaked into alice's personal scope: %+v", resp.Results)
		}
	}
}

func TestSearch_RRFMode_FusesBothBackends(t *testing.T) {
	search := databases.NewMemorySearch()
	vector := databases.NewMemoryVector()
	seedRecord(t, search, vector, "e1", "g1", "alice", "trip", "hiking trip to the lake", time.Now())

	r := New(search, vector, fakeEmbedder{})
	resp, err := r.Search(context.Background(), Options{
		Query: "hiking trip", GroupID: "g1", Scope: ScopeGroup, Mode: ModeRRF, TopK: 10,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].EventID != "e1" {
		t.Fatalf("expected e1 fused from both sides, got %+v", resp.Results)
	}
	if resp.Metadata["retrieval_mode"] != "rrf" {
		t.Fatalf("expected retrieval_mode metadata to be rrf, got %v", resp.Metadata["retrieval_mode"])
	}
}

func TestSearch_TimeRangeExcludesOutOfWindowRecords(t *testing.T) {
	search := databases.NewMemorySearch()
	vector := databases.NewMemoryVector()
	old := time.Now().Add(-72 * time.Hour)
	recent := time.Now()
	seedRecord(t, search, vector, "old", "g1", "alice", "trip", "old hiking trip", old)
	seedRecord(t, search, vector, "new", "g1", "alice", "trip", "new hiking trip", recent)

	start := time.Now().Add(-24 * time.Hour)
	r := New(search, vector, fakeEmbedder{})
	resp, err := r.Search(context.Background(), Options{
		Query: "hiking trip", GroupID: "g1", Scope: ScopeGroup, Mode: ModeBM25, TopK: 10,
		TimeRange: &TimeRange{Start: &start},
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, res := range resp.Results {
		if res.EventID == "old" {
			t.Fatalf("expected out-of-window record excluded, got %+v", resp.Results)
		}
	}
}

func TestSmartTextScore_EmptyStringScoresZero(t *testing.T) {
	if got := SmartTextScore(""); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}

func TestSmartTextScore_MixedContentSumsPerTokenWeights(t *testing.T) {
	got := SmartTextScore("hi 42!")
	// "hi" (word, 1.0) + " " (whitespace, 0.1) + "42" (number, 0.8) + "!" (punct, 0.2)
	want := weightWord + weightWhitespace + weightNumber + weightPunct
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSmartTextScore_MatchesGroundTruthExample(t *testing.T) {
	// "Hello 你好": Hello(word,1.0) + space(whitespace,0.1) + 你(cjk,1.0) + 好(cjk,1.0) = 3.1
	got := SmartTextScore("Hello 你好")
	if got != 3.1 {
		t.Fatalf("got %v, want 3.1", got)
	}
}

func TestSmartTextScore_ContinuousNumberIsOneToken(t *testing.T) {
	got := SmartTextScore("123.45")
	if got != weightNumber {
		t.Fatalf("got %v, want %v (one continuous_number token)", got, weightNumber)
	}
}

func TestSmartTextScore_OtherTokenWeight(t *testing.T) {
	got := SmartTextScore("😊")
	if got != weightOther {
		t.Fatalf("got %v, want %v", got, weightOther)
	}
}

package databases

import (
	"context"
	"testing"
	"time"

	"memoryservice/internal/config"
)

func TestMemorySearch_IndexAndSearch(t *testing.T) {
	t.Parallel()
	s := NewMemorySearch()
	ctx := context.Background()
	_ = s.Index(ctx, "1", "The quick brown fox jumps over the lazy dog", map[string]string{"type": "doc"})
	_ = s.Index(ctx, "2", "Foxes are swift and quick", nil)
	_ = s.Index(ctx, "3", "Completely unrelated text", nil)
	hits, err := s.Search(ctx, "quick fox", 5)
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if len(hits) == 0 {
		t.Fatalf("expected at least one hit")
	}
	if hits[0].ID != "1" && hits[0].ID != "2" {
		t.Fatalf("unexpected top hit: %#v", hits[0])
	}
}

func TestMemoryVector_UpsertAndQuery(t *testing.T) {
	t.Parallel()
	v := NewMemoryVector()
	ctx := context.Background()
	// 2D vectors for simplicity
	_ = v.Upsert(ctx, "a", []float32{1, 0}, map[string]string{"label": "A"})
	_ = v.Upsert(ctx, "b", []float32{0, 1}, nil)
	_ = v.Upsert(ctx, "c", []float32{1, 1}, nil)
	q := []float32{0.9, 0.1}
	res, err := v.SimilaritySearch(ctx, q, 2, nil)
	if err != nil {
		t.Fatalf("sim search error: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("expected 2 results, got %d", len(res))
	}
	if res[0].ID != "a" {
		t.Fatalf("expected 'a' to be nearest, got %q", res[0].ID)
	}
}

func TestMemoryDocStore_VersionLineage(t *testing.T) {
	t.Parallel()
	d := NewMemoryDocStore()
	ctx := context.Background()

	rec1 := DocRecord{ID: "v1", GroupID: "g1", Kind: "profile", Version: 1, Body: []byte(`{"n":1}`)}
	rec2 := DocRecord{ID: "v2", GroupID: "g1", Kind: "profile", Version: 2, Body: []byte(`{"n":2}`)}
	if err := d.Upsert(ctx, rec1); err != nil {
		t.Fatalf("upsert v1: %v", err)
	}
	if err := d.Upsert(ctx, rec2); err != nil {
		t.Fatalf("upsert v2: %v", err)
	}
	if err := d.MarkLatest(ctx, "g1", "profile", "v2", "v2"); err != nil {
		t.Fatalf("mark latest: %v", err)
	}
	versions, err := d.VersionsByKey(ctx, "g1", "profile", "v2")
	if err != nil {
		t.Fatalf("versions: %v", err)
	}
	if len(versions) == 0 {
		t.Fatalf("expected at least one version")
	}

	got, ok, err := d.Get(ctx, "v2")
	if err != nil || !ok {
		t.Fatalf("get v2: ok=%v err=%v", ok, err)
	}
	if !got.IsLatest {
		t.Fatalf("expected v2 to be latest")
	}
}

func TestMemoryDocStore_ListByUser_VersionRange(t *testing.T) {
	t.Parallel()
	d := NewMemoryDocStore()
	ctx := context.Background()

	for v := 1; v <= 3; v++ {
		rec := DocRecord{
			ID: "p" + string(rune('0'+v)), GroupID: "g1", UserID: "alice", Kind: "profile",
			NaturalKey: "meta", Version: v, Body: []byte(`{}`), OccurredAt: time.Unix(int64(v), 0),
		}
		if err := d.Upsert(ctx, rec); err != nil {
			t.Fatalf("upsert v%d: %v", v, err)
		}
		if err := d.MarkLatest(ctx, "g1", "profile", "meta", rec.ID); err != nil {
			t.Fatalf("mark latest v%d: %v", v, err)
		}
	}

	latest, total, err := d.ListByUser(ctx, "alice", "profile", 10, 0, "desc", nil)
	if err != nil {
		t.Fatalf("list latest: %v", err)
	}
	if total != 1 || len(latest) != 1 || latest[0].Version != 3 {
		t.Fatalf("expected only version 3 as latest, got %+v (total=%d)", latest, total)
	}

	ranged, total, err := d.ListByUser(ctx, "alice", "profile", 10, 0, "asc", &VersionRange{Start: 1, End: 2})
	if err != nil {
		t.Fatalf("list ranged: %v", err)
	}
	if total != 2 || len(ranged) != 2 || ranged[0].Version != 1 || ranged[1].Version != 2 {
		t.Fatalf("expected versions 1 and 2 in range, got %+v (total=%d)", ranged, total)
	}
}

func TestFactory_DefaultsAndNone(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	// Defaults should create memory backends
	mgr, err := NewManager(ctx, config.DBConfig{})
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	if mgr.Search == nil || mgr.Vector == nil || mgr.Docs == nil {
		t.Fatalf("expected non-nil backends by default")
	}
	// None should create no-op search/vector backends; docs has no "none" option
	mgr, err = NewManager(ctx, config.DBConfig{
		Search: config.SearchConfig{Backend: "none"},
		Vector: config.VectorConfig{Backend: "none"},
	})
	if err != nil {
		t.Fatalf("NewManager error (none): %v", err)
	}
	// Calls should not error
	_ = mgr.Search.Index(ctx, "x", "y", nil)
	_, _ = mgr.Search.Search(ctx, "z", 1)
	_ = mgr.Vector.Upsert(ctx, "x", []float32{1}, nil)
	_, _ = mgr.Vector.SimilaritySearch(ctx, []float32{1}, 1, nil)
	_ = mgr.Docs.Upsert(ctx, DocRecord{ID: "x", GroupID: "g", Kind: "memcell"})
}

package retrieve

import "testing"

func TestFuseRRF_CombinesAndOrdersByFusedScore(t *testing.T) {
	bm25 := []Result{{EventID: "e1"}, {EventID: "e2"}}
	vector := []Result{{EventID: "e2"}, {EventID: "e3"}}

	got := fuseRRF(bm25, vector, 60)
	if len(got) != 3 {
		t.Fatalf("expected 3 fused results, got %d", len(got))
	}

	want := []string{"e2", "e1", "e3"}
	for i, id := range want {
		if got[i].EventID != id {
			t.Fatalf("position %d: want %s, got %s (scores: %+v)", i, id, got[i].EventID, got)
		}
	}

	e2Score := 1.0/61 + 1.0/62
	if diff := got[0].Score - e2Score; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("e2 score = %v, want %v", got[0].Score, e2Score)
	}
}

func TestFuseRRF_EmptyInputsProduceNoResults(t *testing.T) {
	got := fuseRRF(nil, nil, 60)
	if len(got) != 0 {
		t.Fatalf("expected no results, got %d", len(got))
	}
}

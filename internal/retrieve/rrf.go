package retrieve

import "sort"

// rrfEntry accumulates one event_id's fused score plus the first candidate
// seen for it (the BM25 one when both sides return it), so the fused result can carry forward subject,
// summary, and metadata without a second lookup.
type rrfEntry struct {
	score     float64
	fromBM25  bool
	fromVec   bool
	candidate Result
}

// fuseRRF combines bm25 and vector candidate lists with Reciprocal Rank
// Fusion: each side contributes 1/(k+rank) per event_id, rank starting at 1
// for the top result on that side. An event_id appearing on both sides sums
// both contributions. Ties broken by event_id for determinism.
func fuseRRF(bm25, vector []Result, k int) []Result {
	if k <= 0 {
		k = 60
	}
	entries := make(map[string]*rrfEntry)

	add := func(results []Result, mark func(*rrfEntry)) {
		for rank, r := range results {
			e, ok := entries[r.EventID]
			if !ok {
				e = &rrfEntry{candidate: r}
				entries[r.EventID] = e
			}
			e.score += 1.0 / float64(k+rank+1)
			mark(e)
		}
	}
	add(bm25, func(e *rrfEntry) { e.fromBM25 = true })
	add(vector, func(e *rrfEntry) { e.fromVec = true })

	out := make([]Result, 0, len(entries))
	for id, e := range entries {
		res := e.candidate
		res.EventID = id
		res.Score = e.score
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].EventID < out[j].EventID
	})
	return out
}

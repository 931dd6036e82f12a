package retrieve

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"memoryservice/internal/embedclient"
	"memoryservice/internal/persistence/databases"
)

const defaultTopK = 10

// Retriever implements C8: it queries the text index, the vector index, or
// both (fused with RRF), applies scope and time-range filtering, and
// returns a bounded, score-ordered result set.
type Retriever struct {
	search   databases.FullTextSearch
	vector   databases.VectorStore
	embedder embedclient.Embedder
}

func New(search databases.FullTextSearch, vector databases.VectorStore, embedder embedclient.Embedder) *Retriever {
	return &Retriever{search: search, vector: vector, embedder: embedder}
}

// Search runs one retrieval call per opt.Mode and returns at most opt.TopK
// results, scope- and time-filtered, ordered by descending score.
func (r *Retriever) Search(ctx context.Context, opt Options) (Response, error) {
	start := time.Now()
	if opt.TopK <= 0 {
		opt.TopK = defaultTopK
	}
	candidates := opt.CandidatesPerSide
	if candidates <= 0 {
		candidates = opt.TopK * 5
		if candidates < 100 {
			candidates = 100
		}
	}

	meta := map[string]any{"retrieval_mode": string(opt.Mode)}

	var results []Result
	switch opt.Mode {
	case ModeEmbedding:
		vec, err := r.searchVector(ctx, opt, candidates)
		if err != nil {
			return Response{}, err
		}
		results = vec
	case ModeRRF:
		var bm25, vec []Result
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			bm25, err = r.searchBM25(gctx, opt, candidates)
			return err
		})
		g.Go(func() (err error) {
			vec, err = r.searchVector(gctx, opt, candidates)
			return err
		})
		if err := g.Wait(); err != nil {
			return Response{}, err
		}
		meta["bm25_candidates"] = len(bm25)
		meta["vector_candidates"] = len(vec)
		results = fuseRRF(bm25, vec, opt.RRFK)
	default: // ModeBM25 and unset
		bm25, err := r.searchBM25(ctx, opt, candidates)
		if err != nil {
			return Response{}, err
		}
		results = bm25
	}

	filtered := make([]Result, 0, len(results))
	for _, res := range results {
		if !matchesScope(res.Metadata, opt) {
			continue
		}
		if !matchesTimeRange(res.Metadata, opt) {
			continue
		}
		filtered = append(filtered, res)
	}
	if len(filtered) > opt.TopK {
		filtered = filtered[:opt.TopK]
	}

	meta["total_latency_ms"] = time.Since(start).Milliseconds()
	return Response{Results: filtered, Metadata: meta}, nil
}

func (r *Retriever) searchBM25(ctx context.Context, opt Options, limit int) ([]Result, error) {
	hits, err := r.search.Search(ctx, opt.Query, limit)
	if err != nil {
		return nil, fmt.Errorf("retrieve: bm25 search: %w", err)
	}
	terms := tokenizeQuery(opt.Query)
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		score := h.Score
		if len(terms) > 0 {
			score *= smartQueryBoost(terms)
		}
		out = append(out, resultFromSearchHit(h, score))
	}
	return out, nil
}

func (r *Retriever) searchVector(ctx context.Context, opt Options, limit int) ([]Result, error) {
	vecs, err := r.embedder.EmbedBatch(ctx, []string{opt.Query})
	if err != nil {
		return nil, fmt.Errorf("retrieve: embed query: %w", err)
	}
	hits, err := r.vector.SimilaritySearch(ctx, vecs[0], limit, nil)
	if err != nil {
		return nil, fmt.Errorf("retrieve: vector search: %w", err)
	}
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		out = append(out, resultFromVectorHit(h))
	}
	return out, nil
}

// smartQueryBoost averages the smart-score weight of the query's own tokens,
// so a query dominated by CJK/word terms gets a mild boost over one
// dominated by bare numbers (punctuation is never a query term), per the weighting spec.md §8
// defines for "smart text score".
func smartQueryBoost(terms []smartTerm) float64 {
	var sum float64
	for _, t := range terms {
		sum += t.weight
	}
	return 0.5 + sum/float64(len(terms))/2
}

func resultFromSearchHit(h databases.SearchResult, score float64) Result {
	return Result{
		EventID:   h.ID,
		Score:     score,
		Subject:   h.Metadata["subject"],
		Summary:   h.Snippet,
		Timestamp: parseTimestampOrZero(h.Metadata["timestamp"]),
		Metadata:  h.Metadata,
	}
}

func resultFromVectorHit(h databases.VectorResult) Result {
	return Result{
		EventID:   h.ID,
		Score:     h.Score,
		Subject:   h.Metadata["subject"],
		Timestamp: parseTimestampOrZero(h.Metadata["timestamp"]),
		Metadata:  h.Metadata,
	}
}

func parseTimestampOrZero(v string) time.Time {
	t, ok := parseTimestamp(v)
	if !ok {
		return time.Time{}
	}
	return t
}

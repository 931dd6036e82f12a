// Package agentic implements AgenticRetriever (C9): a two-round,
// LLM-judged retrieval built on top of HybridRetriever (C8).
package agentic

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"memoryservice/internal/llm"
	"memoryservice/internal/retrieve"
)

// Options configures one agentic search call.
type Options struct {
	Query       string
	UserID      string
	GroupID     string
	Scope       retrieve.Scope
	TopK        int
	TimeRange   *retrieve.TimeRange
	CurrentTime *time.Time

	Round1K            int // default TopK
	MaxParallelRefined int // default 3
	JudgeModel         string
}

// Retriever wraps a HybridRetriever with an LLM judgment step.
type Retriever struct {
	hybrid   *retrieve.Retriever
	provider llm.Provider
}

func New(hybrid *retrieve.Retriever, provider llm.Provider) *Retriever {
	return &Retriever{hybrid: hybrid, provider: provider}
}

type judgeResponse struct {
	IsSufficient   bool     `json:"is_sufficient"`
	Reasoning      string   `json:"reasoning"`
	RefinedQueries []string `json:"refined_queries"`
}

// Search runs round 1 in rrf mode, asks the LLM whether the results are
// sufficient, and on "no" runs the LLM's refined queries in round 2
// (parallel, bounded by MaxParallelRefined), merging both rounds by
// max-score per event_id.
func (r *Retriever) Search(ctx context.Context, opt Options) (retrieve.Response, error) {
	if opt.TopK <= 0 {
		opt.TopK = 10
	}
	round1K := opt.Round1K
	if round1K <= 0 {
		round1K = opt.TopK
	}

	round1, err := r.hybrid.Search(ctx, r.baseOptions(opt, opt.Query, round1K))
	if err != nil {
		return retrieve.Response{}, fmt.Errorf("agentic: round1 search: %w", err)
	}

	judgment, err := r.judge(ctx, opt.Query, round1.Results, opt.JudgeModel)
	if err != nil {
		resp := round1
		if resp.Metadata == nil {
			resp.Metadata = map[string]any{}
		}
		resp.Metadata["retrieval_mode"] = "agentic_fallback"
		return resp, nil
	}

	if judgment.IsSufficient || len(judgment.RefinedQueries) == 0 {
		round1.Metadata["is_sufficient"] = true
		round1.Metadata["is_multi_round"] = false
		round1.Metadata["reasoning"] = judgment.Reasoning
		return round1, nil
	}

	round2, err := r.runRefined(ctx, opt, judgment.RefinedQueries)
	if err != nil {
		return retrieve.Response{}, fmt.Errorf("agentic: round2 search: %w", err)
	}

	merged := mergeByMaxScore(round1.Results, round2)
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].EventID < merged[j].EventID
	})
	if len(merged) > opt.TopK {
		merged = merged[:opt.TopK]
	}

	return retrieve.Response{
		Results: merged,
		Metadata: map[string]any{
			"retrieval_mode":  "agentic",
			"is_sufficient":   false,
			"is_multi_round":  true,
			"round1_count":    len(round1.Results),
			"round2_count":    len(round2),
			"refined_queries": judgment.RefinedQueries,
			"reasoning":       judgment.Reasoning,
		},
	}, nil
}

func (r *Retriever) baseOptions(opt Options, query string, topK int) retrieve.Options {
	return retrieve.Options{
		Query: query, UserID: opt.UserID, GroupID: opt.GroupID,
		Scope: opt.Scope, Mode: retrieve.ModeRRF, TopK: topK,
		TimeRange: opt.TimeRange, CurrentTime: opt.CurrentTime,
	}
}

func (r *Retriever) judge(ctx context.Context, query string, results []retrieve.Result, model string) (judgeResponse, error) {
	resp, err := r.provider.Chat(ctx, []llm.Message{
		{Role: "system", Content: "Judge whether these retrieval results sufficiently answer the query. Respond with strict JSON: {\"is_sufficient\": bool, \"reasoning\": string, \"refined_queries\": [string]}. refined_queries must be empty when is_sufficient is true."},
		{Role: "user", Content: renderJudgePrompt(query, results)},
	}, model, llm.WithJSONResponse())
	if err != nil {
		return judgeResponse{}, fmt.Errorf("agentic: judge llm call: %w", err)
	}
	var parsed judgeResponse
	if err := json.Unmarshal([]byte(resp.Content), &parsed); err != nil {
		return judgeResponse{}, fmt.Errorf("agentic: judge response unparseable: %w", err)
	}
	return parsed, nil
}

// runRefined fans the refined queries out across C8 in parallel, bounded by
// MaxParallelRefined concurrent searches, and flattens every round-2 result
// into one slice.
func (r *Retriever) runRefined(ctx context.Context, opt Options, queries []string) ([]retrieve.Result, error) {
	limit := opt.MaxParallelRefined
	if limit <= 0 {
		limit = 3
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	perQuery := make([][]retrieve.Result, len(queries))
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			resp, err := r.hybrid.Search(gctx, r.baseOptions(opt, q, opt.TopK))
			if err != nil {
				return fmt.Errorf("refined query %q: %w", q, err)
			}
			perQuery[i] = resp.Results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []retrieve.Result
	for _, rs := range perQuery {
		all = append(all, rs...)
	}
	return all, nil
}

// mergeByMaxScore unions round1 and round2, keeping the higher score for
// any event_id appearing in both.
func mergeByMaxScore(round1, round2 []retrieve.Result) []retrieve.Result {
	byID := make(map[string]retrieve.Result, len(round1)+len(round2))
	for _, res := range round1 {
		byID[res.EventID] = res
	}
	for _, res := range round2 {
		existing, ok := byID[res.EventID]
		if !ok || res.Score > existing.Score {
			byID[res.EventID] = res
		}
	}
	out := make([]retrieve.Result, 0, len(byID))
	for _, res := range byID {
		out = append(out, res)
	}
	return out
}

func renderJudgePrompt(query string, results []retrieve.Result) string {
	out := "query: " + query + "\nresults:\n"
	for i, res := range results {
		out += fmt.Sprintf("[%d] %s: %s\n", i+1, res.Subject, res.Summary)
	}
	return out
}

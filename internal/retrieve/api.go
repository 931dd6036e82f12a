// Package retrieve implements HybridRetriever (C8): BM25, embedding, or
// RRF-fused search over MemCell/Episode/Profile records, with scoping and
// time-range filters.
package retrieve

import (
	"time"

	"memoryservice/internal/model"
)

// Mode selects which backend(s) HybridRetriever queries.
type Mode string

const (
	ModeBM25      Mode = "bm25"
	ModeEmbedding Mode = "embedding"
	ModeRRF       Mode = "rrf"
)

// Scope controls which records are visible to a query.
type Scope string

const (
	ScopePersonal Scope = "personal"
	ScopeGroup    Scope = "group"
	ScopeAll      Scope = "all"
)

// TimeRange bounds a query's records by timestamp, inclusive on both ends
// when set.
type TimeRange struct {
	Start *time.Time
	End   *time.Time
}

// Options configures one retrieval call.
type Options struct {
	Query       string
	UserID      string
	GroupID     string
	Scope       Scope
	Mode        Mode
	TopK        int
	TimeRange   *TimeRange
	CurrentTime *time.Time // validity-window filter for profile-style records

	RRFK              int // default 60
	CandidatesPerSide int // default max(100, TopK*5)
}

// Result is the read-time shape returned to callers of C8/C9/C10.
type Result = model.RetrievalResult

// Response wraps a result set with the metadata spec.md requires callers
// to surface (retrieval_mode, total_latency_ms, and RRF per-side counts).
type Response struct {
	Results  []Result
	Metadata map[string]any
}

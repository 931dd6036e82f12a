// Package api implements MemoryAPI (C10): the thin public contract —
// memorize, fetch, search, agentic_search, and conversation-meta
// bookkeeping — sitting on top of the pipeline, triplestore, and
// retrieval components.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"memoryservice/internal/agentic"
	"memoryservice/internal/model"
	"memoryservice/internal/persistence/databases"
	"memoryservice/internal/pipeline"
	"memoryservice/internal/retrieve"
	"memoryservice/internal/triplestore"
)

// ErrorCode is one of spec.md §7's HTTP-facing error codes.
type ErrorCode string

const (
	CodeInvalidParameter ErrorCode = "INVALID_PARAMETER"
	CodeResourceNotFound ErrorCode = "RESOURCE_NOT_FOUND"
	CodeSystemError      ErrorCode = "SYSTEM_ERROR"
)

// Error is the typed error MemoryAPI methods return; the HTTP layer maps
// it straight onto the {status, code, message, timestamp, path} envelope.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string { return string(e.Code) + ": " + e.Message }

func invalidParam(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidParameter, Message: fmt.Sprintf(format, args...)}
}

func systemError(err error) *Error {
	return &Error{Code: CodeSystemError, Message: err.Error()}
}

// MemorizeResult is the synchronous answer to one POST /memories call.
type MemorizeResult struct {
	Status   string // "accepted" | "extracted" | "rejected"
	EventIDs []string
}

// FetchResult is the answer to GET /memories.
type FetchResult struct {
	Items      []model.RetrievalResult
	TotalCount int
	HasMore    bool
}

// API wires together the components a MemoryAPI call needs.
type API struct {
	pipeline  *pipeline.Pipeline
	writer    *triplestore.Writer
	docs      databases.DocStore
	retriever *retrieve.Retriever
	agentic   *agentic.Retriever

	maxInFlight int64
	inFlight    atomic.Int64
}

// Options configures an API instance.
type Options struct {
	MaxInFlight int // global concurrent-memorize cap; default 200
}

func New(p *pipeline.Pipeline, writer *triplestore.Writer, docs databases.DocStore, retriever *retrieve.Retriever, agenticRetriever *agentic.Retriever, opts Options) *API {
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 200
	}
	return &API{
		pipeline:    p,
		writer:      writer,
		docs:        docs,
		retriever:   retriever,
		agentic:     agenticRetriever,
		maxInFlight: int64(opts.MaxInFlight),
	}
}

// Memorize admits msg for processing subject to the global in-flight cap,
// then runs it synchronously through MemorizePipeline so the caller can
// report accumulated vs extracted without polling. The cap is enforced
// here rather than by reusing GroupDispatcher's admission path, because
// GroupDispatcher's channel-based admission is tied to its own
// fire-and-forget worker-loop lifecycle (used by the async bus ingestion
// path); the synchronous HTTP path needs a reservation that's released
// exactly when this call returns.
func (a *API) Memorize(ctx context.Context, msg model.RawMessage) (MemorizeResult, error) {
	if msg.MessageID == "" {
		return MemorizeResult{}, invalidParam("message_id is required")
	}
	if msg.Content == "" {
		return MemorizeResult{}, invalidParam("content is required")
	}
	if msg.SenderID == "" {
		return MemorizeResult{}, invalidParam("sender_id is required")
	}

	if a.inFlight.Add(1) > a.maxInFlight {
		a.inFlight.Add(-1)
		return MemorizeResult{Status: "rejected"}, nil
	}
	defer a.inFlight.Add(-1)

	if msg.Scene == "" {
		msg.Scene = model.SceneAssistant
	}

	res, err := a.pipeline.ProcessSync(ctx, msg)
	if err != nil {
		return MemorizeResult{}, systemError(err)
	}
	status := "accepted"
	if res.Status == "extracted" {
		status = "extracted"
	}
	return MemorizeResult{Status: status, EventIDs: res.EventIDs}, nil
}

// Fetch reads the document store directly by user_id, optionally narrowed
// to one memory_type, paginated and sorted. versionRange is nil for the
// common "latest version only" case; when set it overrides that default
// with a closed [start, end] version filter, per spec.md §6's
// `version_range` parameter.
func (a *API) Fetch(ctx context.Context, userID, memoryType string, limit, offset int, sortOrder string, versionRange *databases.VersionRange) (FetchResult, error) {
	if userID == "" {
		return FetchResult{}, invalidParam("user_id is required")
	}
	recs, total, err := a.docs.ListByUser(ctx, userID, memoryType, limit, offset, sortOrder, versionRange)
	if err != nil {
		return FetchResult{}, systemError(err)
	}
	items := make([]model.RetrievalResult, 0, len(recs))
	for _, rec := range recs {
		item, err := recordToResult(rec)
		if err != nil {
			continue
		}
		items = append(items, item)
	}
	hasMore := offset+len(recs) < total
	return FetchResult{Items: items, TotalCount: total, HasMore: hasMore}, nil
}

// Search calls HybridRetriever (C8).
func (a *API) Search(ctx context.Context, opt retrieve.Options) (retrieve.Response, error) {
	if opt.Query == "" {
		return retrieve.Response{}, invalidParam("query is required")
	}
	resp, err := a.retriever.Search(ctx, opt)
	if err != nil {
		return retrieve.Response{}, systemError(err)
	}
	return resp, nil
}

// AgenticSearch calls AgenticRetriever (C9).
func (a *API) AgenticSearch(ctx context.Context, opt agentic.Options) (retrieve.Response, error) {
	if opt.Query == "" {
		return retrieve.Response{}, invalidParam("query is required")
	}
	resp, err := a.agentic.Search(ctx, opt)
	if err != nil {
		return retrieve.Response{}, systemError(err)
	}
	return resp, nil
}

// UpsertConversationMeta writes a full ConversationMeta as a profile-kind
// record keyed by group_id.
func (a *API) UpsertConversationMeta(ctx context.Context, meta model.ConversationMeta) (triplestore.WriteDecision, error) {
	if meta.GroupID == "" {
		return triplestore.WriteDecision{}, invalidParam("group_id is required")
	}
	meta.UpdatedAt = time.Now()
	body, err := json.Marshal(meta)
	if err != nil {
		return triplestore.WriteDecision{}, systemError(err)
	}
	text := meta.DisplayName
	decision, err := a.writer.WriteProfile(ctx, meta.GroupID, "", conversationMetaKey(meta.GroupID), body, text, meta.DisplayName, nil)
	if err != nil {
		return triplestore.WriteDecision{}, systemError(err)
	}
	return decision, nil
}

// PatchConversationMeta reads the current latest version, applies the
// supplied partial fields, and writes a new version, re-using the same
// profile versioning path as a full upsert.
func (a *API) PatchConversationMeta(ctx context.Context, groupID string, patch func(*model.ConversationMeta)) (triplestore.WriteDecision, error) {
	if groupID == "" {
		return triplestore.WriteDecision{}, invalidParam("group_id is required")
	}
	versions, err := a.docs.VersionsByKey(ctx, groupID, string(model.KindProfile), conversationMetaKey(groupID))
	if err != nil {
		return triplestore.WriteDecision{}, systemError(err)
	}
	meta := model.ConversationMeta{GroupID: groupID}
	for _, v := range versions {
		if !v.IsLatest {
			continue
		}
		if err := json.Unmarshal(v.Body, &meta); err != nil {
			return triplestore.WriteDecision{}, systemError(err)
		}
		break
	}
	if len(versions) == 0 {
		return triplestore.WriteDecision{}, &Error{Code: CodeResourceNotFound, Message: "no conversation-meta found for group_id " + groupID}
	}
	patch(&meta)
	return a.UpsertConversationMeta(ctx, meta)
}

func conversationMetaKey(groupID string) string {
	return "conversation-meta:" + groupID
}

func recordToResult(rec databases.DocRecord) (model.RetrievalResult, error) {
	switch rec.Kind {
	case string(model.KindEpisode):
		var ep model.Episode
		if err := json.Unmarshal(rec.Body, &ep); err != nil {
			return model.RetrievalResult{}, err
		}
		return model.RetrievalResult{
			EventID: ep.EventID, Subject: ep.Subject, Summary: ep.Summary,
			Episode: ep.NarrativeText, Timestamp: ep.Timestamp,
		}, nil
	case string(model.KindMemCell):
		var cell model.MemCell
		if err := json.Unmarshal(rec.Body, &cell); err != nil {
			return model.RetrievalResult{}, err
		}
		return model.RetrievalResult{
			EventID: cell.EventID, Subject: cell.Subject, Summary: cell.Summary,
			Timestamp: cell.Timestamp,
		}, nil
	default:
		return model.RetrievalResult{EventID: rec.ID, Timestamp: rec.OccurredAt}, nil
	}
}

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"memoryservice/internal/agentic"
	"memoryservice/internal/model"
	"memoryservice/internal/observability"
	"memoryservice/internal/persistence/databases"
	"memoryservice/internal/retrieve"
)

// Handler builds the HTTP surface described in spec.md §6, routed with
// Go's method+pattern ServeMux.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /memories", a.handleMemorize)
	mux.HandleFunc("GET /memories", a.handleFetch)
	mux.HandleFunc("GET /memories/search", a.handleSearch)
	mux.HandleFunc("POST /agentic/retrieve_lightweight", a.handleSearch)
	mux.HandleFunc("POST /agentic/retrieve_agentic", a.handleAgenticSearch)
	mux.HandleFunc("POST /memories/conversation-meta", a.handleUpsertConversationMeta)
	mux.HandleFunc("PATCH /memories/conversation-meta", a.handlePatchConversationMeta)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr, ok := err.(*Error)
	if !ok {
		apiErr = systemError(err)
	}
	status := http.StatusInternalServerError
	switch apiErr.Code {
	case CodeInvalidParameter:
		status = http.StatusBadRequest
	case CodeResourceNotFound:
		status = http.StatusNotFound
	}
	observability.LoggerWithTrace(r.Context()).Warn().Str("code", string(apiErr.Code)).Str("path", r.URL.Path).Msg("api_request_failed")
	writeJSON(w, status, map[string]any{
		"status":    "failed",
		"code":      apiErr.Code,
		"message":   apiErr.Message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"path":      r.URL.Path,
	})
}

func (a *API) handleMemorize(w http.ResponseWriter, r *http.Request) {
	var msg model.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeAPIError(w, r, invalidParam("malformed request body: %v", err))
		return
	}

	res, err := a.Memorize(r.Context(), msg)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}

	statusInfo := res.Status
	switch res.Status {
	case "rejected":
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"status": "failed", "message": "dispatcher at capacity",
			"result": map[string]any{"status_info": statusInfo},
		})
		return
	case "extracted":
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok", "message": "memorized",
			"result": map[string]any{"saved_memories": res.EventIDs, "count": len(res.EventIDs), "status_info": statusInfo},
		})
		return
	default: // accepted
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok", "message": "buffered",
			"result": map[string]any{"saved_memories": []string{}, "count": 0, "status_info": "accumulated"},
		})
	}
}

func (a *API) handleFetch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := atoiDefault(q.Get("limit"), 20)
	offset := atoiDefault(q.Get("offset"), 0)

	versionRange, err := parseVersionRange(q.Get("version_range"))
	if err != nil {
		writeAPIError(w, r, invalidParam("malformed version_range: %v", err))
		return
	}

	res, err := a.Fetch(r.Context(), q.Get("user_id"), q.Get("memory_type"), limit, offset, q.Get("sort_order"), versionRange)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": map[string]any{
			"memories":    res.Items,
			"total_count": res.TotalCount,
			"has_more":    res.HasMore,
		},
	})
}

type searchRequest struct {
	Query         string  `json:"query"`
	UserID        string  `json:"user_id"`
	GroupID       string  `json:"group_id"`
	TopK          int     `json:"top_k"`
	MemoryScope   string  `json:"memory_scope"`
	RetrievalMode string  `json:"retrieval_mode"`
	TimeRangeDays int     `json:"time_range_days"`
	CurrentTime   *string `json:"current_time"`
}

func (a *API) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, r, invalidParam("malformed request body: %v", err))
		return
	}

	opt := retrieve.Options{
		Query: req.Query, UserID: req.UserID, GroupID: req.GroupID,
		Scope: retrieve.Scope(req.MemoryScope), Mode: retrieve.Mode(req.RetrievalMode),
		TopK: req.TopK,
	}
	if req.TimeRangeDays > 0 {
		start := time.Now().AddDate(0, 0, -req.TimeRangeDays)
		opt.TimeRange = &retrieve.TimeRange{Start: &start}
	}
	if req.CurrentTime != nil {
		if t, err := time.Parse(time.RFC3339, *req.CurrentTime); err == nil {
			opt.CurrentTime = &t
		}
	}

	resp, err := a.Search(r.Context(), opt)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": map[string]any{"memories": resp.Results, "metadata": resp.Metadata},
	})
}

func (a *API) handleAgenticSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, r, invalidParam("malformed request body: %v", err))
		return
	}

	opt := agentic.Options{
		Query: req.Query, UserID: req.UserID, GroupID: req.GroupID,
		Scope: retrieve.Scope(req.MemoryScope), TopK: req.TopK,
	}
	if req.TimeRangeDays > 0 {
		start := time.Now().AddDate(0, 0, -req.TimeRangeDays)
		opt.TimeRange = &retrieve.TimeRange{Start: &start}
	}

	resp, err := a.AgenticSearch(r.Context(), opt)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": map[string]any{"memories": resp.Results, "metadata": resp.Metadata},
	})
}

func (a *API) handleUpsertConversationMeta(w http.ResponseWriter, r *http.Request) {
	var meta model.ConversationMeta
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
		writeAPIError(w, r, invalidParam("malformed request body: %v", err))
		return
	}
	decision, err := a.UpsertConversationMeta(r.Context(), meta)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "result": decision})
}

type conversationMetaPatch struct {
	GroupID          string   `json:"group_id"`
	DisplayName      *string  `json:"display_name"`
	ParticipantsHint []string `json:"participants_hint"`
	RetentionDays    *int     `json:"retention_days"`
}

func (a *API) handlePatchConversationMeta(w http.ResponseWriter, r *http.Request) {
	var req conversationMetaPatch
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, r, invalidParam("malformed request body: %v", err))
		return
	}
	decision, err := a.PatchConversationMeta(r.Context(), req.GroupID, func(meta *model.ConversationMeta) {
		if req.DisplayName != nil {
			meta.DisplayName = *req.DisplayName
		}
		if req.ParticipantsHint != nil {
			meta.ParticipantsHint = req.ParticipantsHint
		}
		if req.RetentionDays != nil {
			meta.RetentionDays = *req.RetentionDays
		}
	})
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "result": decision})
}

// parseVersionRange accepts "start-end" (e.g. "1-3"); an empty string means
// no range, falling back to Fetch's is_latest default.
func parseVersionRange(s string) (*databases.VersionRange, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("expected \"start-end\", got %q", s)
	}
	start, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, err
	}
	end, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, err
	}
	return &databases.VersionRange{Start: start, End: end}, nil
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

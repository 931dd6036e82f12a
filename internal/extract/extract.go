// Package extract implements MemCellExtractor (C4) and EpisodeExtractor
// (C5): turning a closed conversational segment into a persisted MemCell,
// and batching MemCells into a second-order Episode narrative.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"memoryservice/internal/llm"
	"memoryservice/internal/model"
)

// MemCellExtractor produces one MemCell from a closed EpisodeSegment via a
// strict-schema LLM call for subject/summary/keywords.
type MemCellExtractor struct {
	provider llm.Provider
	model    string
}

func NewMemCellExtractor(provider llm.Provider, modelName string) *MemCellExtractor {
	return &MemCellExtractor{provider: provider, model: modelName}
}

type memCellLLMResponse struct {
	Subject  string   `json:"subject"`
	Summary  string   `json:"summary"`
	Keywords []string `json:"keywords"`
}

// Extract propagates an error on LLM failure; the caller (MemorizePipeline)
// drops the segment on error rather than retrying indefinitely, since the
// raw messages remain available in the originating chat system.
func (e *MemCellExtractor) Extract(ctx context.Context, seg model.EpisodeSegment) (model.MemCell, error) {
	all := append(append([]model.RawMessage{}, seg.History...), seg.New...)
	if len(all) == 0 {
		return model.MemCell{}, fmt.Errorf("extract: empty segment")
	}

	resp, err := e.provider.Chat(ctx, []llm.Message{
		{Role: "system", Content: "Summarize this conversation segment. Respond with strict JSON: {\"subject\": string, \"summary\": string, \"keywords\": [string]}."},
		{Role: "user", Content: renderSegment(all)},
	}, e.model, llm.WithJSONResponse())
	if err != nil {
		return model.MemCell{}, fmt.Errorf("extract: memcell llm call: %w", err)
	}

	var parsed memCellLLMResponse
	if err := json.Unmarshal([]byte(resp.Content), &parsed); err != nil {
		return model.MemCell{}, fmt.Errorf("extract: memcell llm response unparseable: %w", err)
	}

	return model.MemCell{
		EventID:       uuid.NewString(),
		UserID:        segmentOwner(all),
		GroupID:       seg.GroupID,
		Participants:  distinctSenders(all),
		Timestamp:     all[0].Timestamp,
		Type:          "conversation",
		Subject:       parsed.Subject,
		Summary:       parsed.Summary,
		Keywords:      parsed.Keywords,
		OriginalData:  all,
		SchemaVersion: 1,
	}, nil
}

// segmentOwner assigns a MemCell's user_id: a group_chat scene has no
// single owner and stays group-scoped (empty, per model.MemCell's "empty
// user_id means group-scoped" convention); any other scene is a one-on-one
// exchange, owned by whoever opened it.
func segmentOwner(msgs []model.RawMessage) string {
	for _, m := range msgs {
		if m.Scene == model.SceneGroupChat {
			return ""
		}
	}
	return msgs[0].SenderID
}

func distinctSenders(msgs []model.RawMessage) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, m := range msgs {
		if _, ok := seen[m.SenderID]; ok {
			continue
		}
		seen[m.SenderID] = struct{}{}
		out = append(out, m.SenderID)
	}
	return out
}

func renderSegment(msgs []model.RawMessage) string {
	var out string
	for _, m := range msgs {
		out += m.SenderID + " (" + m.Timestamp.Format(time.RFC3339) + "): " + m.Content + "\n"
	}
	return out
}

// EpisodeExtractor groups a batch of MemCells into one narrative Episode,
// triggered by MemorizePipeline once the unlinked-MemCell counter for a
// group reaches episode_batch_size.
type EpisodeExtractor struct {
	provider llm.Provider
	model    string
}

func NewEpisodeExtractor(provider llm.Provider, modelName string) *EpisodeExtractor {
	return &EpisodeExtractor{provider: provider, model: modelName}
}

type episodeLLMResponse struct {
	Subject  string   `json:"subject"`
	Summary  string   `json:"summary"`
	Keywords []string `json:"keywords"`
	Episode  string   `json:"episode"`
}

// Extract batches oldest-first; cells must already be in that order.
func (e *EpisodeExtractor) Extract(ctx context.Context, groupID string, cells []model.MemCell) (model.Episode, error) {
	if len(cells) == 0 {
		return model.Episode{}, fmt.Errorf("extract: empty memcell batch")
	}

	resp, err := e.provider.Chat(ctx, []llm.Message{
		{Role: "system", Content: "Weave these memory summaries into one narrative arc. Respond with strict JSON: {\"subject\": string, \"summary\": string, \"keywords\": [string], \"episode\": string}."},
		{Role: "user", Content: renderMemCells(cells)},
	}, e.model, llm.WithJSONResponse())
	if err != nil {
		return model.Episode{}, fmt.Errorf("extract: episode llm call: %w", err)
	}

	var parsed episodeLLMResponse
	if err := json.Unmarshal([]byte(resp.Content), &parsed); err != nil {
		return model.Episode{}, fmt.Errorf("extract: episode llm response unparseable: %w", err)
	}

	ids := make([]string, len(cells))
	for i, c := range cells {
		ids[i] = c.EventID
	}

	return model.Episode{
		MemCell: model.MemCell{
			EventID:            uuid.NewString(),
			UserID:             commonOwner(cells),
			GroupID:            groupID,
			Participants:       unionParticipants(cells),
			Timestamp:          cells[0].Timestamp,
			Type:               "conversation",
			Subject:            parsed.Subject,
			Summary:            parsed.Summary,
			Keywords:           parsed.Keywords,
			MemCellEventIDList: ids,
			SchemaVersion:      1,
		},
		NarrativeText: parsed.Episode,
	}, nil
}

// commonOwner carries a batch's user_id forward only when every MemCell in
// it agrees on the same owner; a batch mixing owned and group-scoped cells
// (or different owners) has no single owner and stays group-scoped.
func commonOwner(cells []model.MemCell) string {
	owner := cells[0].UserID
	if owner == "" {
		return ""
	}
	for _, c := range cells[1:] {
		if c.UserID != owner {
			return ""
		}
	}
	return owner
}

func unionParticipants(cells []model.MemCell) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, c := range cells {
		for _, p := range c.Participants {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

func renderMemCells(cells []model.MemCell) string {
	var out string
	for i, c := range cells {
		out += fmt.Sprintf("[%d] %s: %s\n", i+1, c.Subject, c.Summary)
	}
	return out
}

// Package model holds the shared data types that flow between the
// accumulation, extraction, storage, and retrieval components.
package model

import "time"

// Scene distinguishes a one-on-one assistant conversation from a group chat.
type Scene string

const (
	SceneAssistant Scene = "assistant"
	SceneGroupChat Scene = "group_chat"
)

// RawMessage is the atomic inbound unit. Immutable once delivered.
type RawMessage struct {
	MessageID  string    `json:"message_id"`
	GroupID    string    `json:"group_id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name,omitempty"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	ReferList  []string  `json:"refer_list,omitempty"`
	Scene      Scene     `json:"scene"`
}

// RoutingKey returns the group_id, falling back to sender_id for private
// chats where group_id is empty.
func (m RawMessage) RoutingKey() string {
	if m.GroupID != "" {
		return m.GroupID
	}
	return m.SenderID
}

// QueueItem is a single entry stored in a BoundedQueueCache queue.
type QueueItem struct {
	ID      string
	Payload []byte
	Score   int64
}

// EpisodeSegment is the transient input to extraction: the conversational
// context preceding a detected boundary plus the messages that triggered it.
type EpisodeSegment struct {
	History      []RawMessage
	New          []RawMessage
	Participants []string
	GroupID      string
	CurrentTime  time.Time
}

// RecordKind tags the three flavors of persisted memory record.
type RecordKind string

const (
	KindMemCell RecordKind = "memcell"
	KindEpisode RecordKind = "episode"
	KindProfile RecordKind = "profile"
)

// MemCell is the primary persisted unit of memory.
type MemCell struct {
	EventID             string       `json:"event_id"`
	UserID              string       `json:"user_id,omitempty"`
	GroupID             string       `json:"group_id,omitempty"`
	Participants        []string     `json:"participants"`
	Timestamp           time.Time    `json:"timestamp"`
	Type                string       `json:"type"` // conversation | document | other
	Subject             string       `json:"subject"`
	Summary             string       `json:"summary"`
	Keywords            []string     `json:"keywords,omitempty"`
	LinkedEntities       []string     `json:"linked_entities,omitempty"`
	OriginalData        []RawMessage `json:"original_data"`
	MemCellEventIDList  []string     `json:"memcell_event_id_list,omitempty"`
	SchemaVersion       int          `json:"schema_version"`
}

// Episode is a second-order summary grouping one or more MemCells into a
// narrative arc. It carries the same attribute set as MemCell, plus a
// long-form narrative and a non-empty back-reference list.
type Episode struct {
	MemCell
	NarrativeText string `json:"episode"`
}

// ConversationMeta is a version-tagged profile-style record describing a
// group's identity and retention policy, supplementing the spec's MemCell/
// Episode pair with the lightweight per-group bookkeeping the original
// Python implementation keeps alongside memories.
type ConversationMeta struct {
	GroupID         string    `json:"group_id"`
	DisplayName     string    `json:"display_name"`
	ParticipantsHint []string `json:"participants_hint,omitempty"`
	RetentionDays   int       `json:"retention_days"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// RetrievalResult is the read-time shape returned by the retrieval engine.
type RetrievalResult struct {
	EventID   string            `json:"event_id"`
	Score     float64           `json:"score"`
	Subject   string            `json:"subject"`
	Summary   string            `json:"summary"`
	Episode   string            `json:"episode,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

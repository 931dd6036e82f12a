package databases

import (
	"context"
	"time"
)

// SearchResult represents a single hit from the full-text search backend.
type SearchResult struct {
	ID       string
	Score    float64
	Snippet  string
	Text     string
	Metadata map[string]string
}

// FullTextSearch defines the minimum interface for a pluggable FTS backend.
type FullTextSearch interface {
	Index(ctx context.Context, id string, text string, metadata map[string]string) error
	Remove(ctx context.Context, id string) error
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}

// VectorResult represents a single nearest neighbor lookup result.
type VectorResult struct {
	ID       string
	Score    float64 // Higher is closer by default
	Metadata map[string]string
}

// VectorStore defines the minimum interface for a pluggable vector store.
type VectorStore interface {
	Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error
	Delete(ctx context.Context, id string) error
	SimilaritySearch(ctx context.Context, vector []float32, k int, filter map[string]string) ([]VectorResult, error)
}

// DocRecord is a single versioned row in the document store: the durable,
// canonical copy of a memory record (MemCell, Episode, or Profile), keyed by
// group and record ID, with `Version`/`IsLatest` tracking per spec group
// semantics.
type DocRecord struct {
	ID      string
	GroupID string
	UserID  string
	Kind    string // "memcell", "episode", "profile"
	// NaturalKey groups versions of the same logical record together
	// (e.g. a profile's subject ID). Defaults to ID for records that have
	// no independent natural identity, such as memcells and episodes.
	NaturalKey  string
	Version     int
	IsLatest    bool
	Body        []byte // canonical JSON encoding of the record
	LinkedIDs   []string
	OccurredAt  time.Time
	LastUpdated time.Time
}

// VersionRange is a closed [Start, End] filter on DocRecord.Version, used by
// ListByUser to fetch a specific version lineage slice of a profile record
// instead of only its latest version.
type VersionRange struct {
	Start int
	End   int
}

// Contains reports whether v falls within the closed range.
func (r VersionRange) Contains(v int) bool { return v >= r.Start && v <= r.End }

// DocStore is the document-of-record backend for memory records: it holds
// the full canonical body plus version/latest bookkeeping that the text and
// vector indexes don't need to carry.
type DocStore interface {
	Upsert(ctx context.Context, rec DocRecord) error
	Get(ctx context.Context, id string) (DocRecord, bool, error)
	// VersionsByKey returns every version sharing the same (groupID, kind,
	// naturalKey) lineage, newest version first.
	VersionsByKey(ctx context.Context, groupID, kind, naturalKey string) ([]DocRecord, error)
	// MarkLatest flips IsLatest for every version of the (groupID, kind,
	// naturalKey) lineage so that exactly `id` is latest.
	MarkLatest(ctx context.Context, groupID, kind, naturalKey, id string) error
	Delete(ctx context.Context, id string) error
	// ListByUser supports MemoryAPI's fetch operation: every record owned by
	// userID, optionally narrowed to one kind, sorted by OccurredAt
	// ("asc"|"desc", default "desc"), paginated by limit/offset. Returns the
	// page plus the total matching count so callers can compute has_more.
	// versionRange is nil for the common case (latest version of each
	// record only); when non-nil it overrides that default and instead
	// returns every matching record whose Version falls in the closed
	// range, regardless of IsLatest.
	ListByUser(ctx context.Context, userID, kind string, limit, offset int, sortOrder string, versionRange *VersionRange) ([]DocRecord, int, error)
}

// Manager holds concrete database backends resolved from configuration.
type Manager struct {
	Search FullTextSearch
	Vector VectorStore
	Docs   DocStore
}

// Close attempts to close any underlying pools. It's a no-op for memory backends.
func (m Manager) Close() {
	if c, ok := any(m.Search).(interface{ Close() }); ok {
		c.Close()
	}
	if c, ok := any(m.Vector).(interface{ Close() }); ok {
		c.Close()
	}
	if c, ok := any(m.Docs).(interface{ Close() }); ok {
		c.Close()
	}
}

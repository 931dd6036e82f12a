// Package triplestore implements TripleStoreWriter (C6): the synchronous,
// compensating write path that keeps the document store, vector index, and
// full-text index for a memory record in agreement.
package triplestore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"memoryservice/internal/embedclient"
	"memoryservice/internal/model"
	"memoryservice/internal/observability"
	"memoryservice/internal/persistence/databases"
)

// WriteDecision mirrors the ingest idempotency pattern: the action actually
// taken, so callers and tests can assert on behavior without inspecting
// backend internals directly.
type WriteDecision struct {
	Action   string // "created", "versioned"
	ID       string
	Version  int
	IsLatest bool
}

// Writer persists one memory record (MemCell, Episode, or Profile) across
// all three backends in order: DocStore (canonical body) first, then the
// vector index, then the text index. If either index write fails after the
// DocStore write succeeds, the already-applied steps are compensated
// (deleted) rather than left half-written.
type Writer struct {
	docs     databases.DocStore
	vector   databases.VectorStore
	search   databases.FullTextSearch
	embedder embedclient.Embedder
}

func New(docs databases.DocStore, vector databases.VectorStore, search databases.FullTextSearch, embedder embedclient.Embedder) *Writer {
	return &Writer{docs: docs, vector: vector, search: search, embedder: embedder}
}

// WriteMemCell persists a MemCell as a non-versioned record: memcells are
// append-only facts about a closed segment, never superseded in place.
func (w *Writer) WriteMemCell(ctx context.Context, cell model.MemCell) (WriteDecision, error) {
	body, err := json.Marshal(cell)
	if err != nil {
		return WriteDecision{}, fmt.Errorf("triplestore: marshal memcell: %w", err)
	}
	text := memCellText(cell)
	return w.writeRecord(ctx, databases.DocRecord{
		ID:          cell.EventID,
		GroupID:     cell.GroupID,
		UserID:      cell.UserID,
		Kind:        string(model.KindMemCell),
		NaturalKey:  cell.EventID,
		Version:     1,
		IsLatest:    true,
		Body:        body,
		LinkedIDs:   cell.LinkedEntities,
		OccurredAt:  cell.Timestamp,
		LastUpdated: cell.Timestamp,
	}, cell.UserID, text, cell.Subject, cell.Keywords)
}

// WriteEpisode persists an Episode the same way as a MemCell.
func (w *Writer) WriteEpisode(ctx context.Context, ep model.Episode) (WriteDecision, error) {
	body, err := json.Marshal(ep)
	if err != nil {
		return WriteDecision{}, fmt.Errorf("triplestore: marshal episode: %w", err)
	}
	text := episodeText(ep)
	return w.writeRecord(ctx, databases.DocRecord{
		ID:          ep.EventID,
		GroupID:     ep.GroupID,
		UserID:      ep.UserID,
		Kind:        string(model.KindEpisode),
		NaturalKey:  ep.EventID,
		Version:     1,
		IsLatest:    true,
		Body:        body,
		LinkedIDs:   ep.LinkedEntities,
		OccurredAt:  ep.Timestamp,
		LastUpdated: ep.Timestamp,
	}, ep.UserID, text, ep.Subject, ep.Keywords)
}

// WriteProfile persists a profile-style record keyed by naturalKey, bumping
// the version and re-normalizing is_latest across the lineage: exactly one
// version of a given (groupID, kind, naturalKey) is ever current.
func (w *Writer) WriteProfile(ctx context.Context, groupID, userID, naturalKey string, body []byte, text, subject string, keywords []string) (WriteDecision, error) {
	existing, err := w.docs.VersionsByKey(ctx, groupID, string(model.KindProfile), naturalKey)
	if err != nil {
		return WriteDecision{}, fmt.Errorf("triplestore: lookup profile lineage: %w", err)
	}
	version := 1
	if len(existing) > 0 {
		version = existing[0].Version + 1
	}
	id := fmt.Sprintf("%s:%s:v%d", groupID, naturalKey, version)

	decision, err := w.writeRecord(ctx, databases.DocRecord{
		ID:         id,
		GroupID:    groupID,
		UserID:     userID,
		Kind:       string(model.KindProfile),
		NaturalKey: naturalKey,
		Version:    version,
		IsLatest:   true,
		Body:       body,
	}, userID, text, subject, keywords)
	if err != nil {
		return WriteDecision{}, err
	}
	if err := w.docs.MarkLatest(ctx, groupID, string(model.KindProfile), naturalKey, id); err != nil {
		return WriteDecision{}, fmt.Errorf("triplestore: mark latest: %w", err)
	}
	decision.Action = "versioned"
	decision.Version = version
	return decision, nil
}

// writeRecord writes rec across all three backends, carrying userID into
// index metadata so HybridRetriever can scope personal vs group-only
// records without re-reading the DocStore body.
func (w *Writer) writeRecord(ctx context.Context, rec databases.DocRecord, userID, text, subject string, keywords []string) (WriteDecision, error) {
	if err := w.docs.Upsert(ctx, rec); err != nil {
		return WriteDecision{}, fmt.Errorf("triplestore: docstore upsert: %w", err)
	}

	md := map[string]string{"group_id": rec.GroupID, "kind": rec.Kind, "user_id": userID, "subject": subject, "timestamp": rec.OccurredAt.UTC().Format("2006-01-02T15:04:05Z07:00")}

	vecs, err := w.embedder.EmbedBatch(ctx, []string{text})
	if err != nil {
		w.compensateDocOnly(ctx, rec.ID)
		return WriteDecision{}, fmt.Errorf("triplestore: embed: %w", err)
	}
	if err := w.vector.Upsert(ctx, rec.ID, vecs[0], md); err != nil {
		w.compensateDocOnly(ctx, rec.ID)
		return WriteDecision{}, fmt.Errorf("triplestore: vector upsert: %w", err)
	}

	if err := w.search.Index(ctx, rec.ID, text, md); err != nil {
		w.compensate(ctx, rec.ID)
		return WriteDecision{}, fmt.Errorf("triplestore: search index: %w", err)
	}

	return WriteDecision{Action: "created", ID: rec.ID, Version: rec.Version, IsLatest: rec.IsLatest}, nil
}

// compensateDocOnly rolls back the DocStore write when the vector step
// never ran or failed before anything else was applied.
func (w *Writer) compensateDocOnly(ctx context.Context, id string) {
	if err := w.docs.Delete(ctx, id); err != nil {
		observability.LoggerWithTrace(ctx).Error().Err(err).Str("id", id).Msg("triplestore: compensating docstore delete failed")
	}
}

// compensate rolls back both the DocStore and vector writes after the
// text-index step fails, so a record is never half-present across backends.
func (w *Writer) compensate(ctx context.Context, id string) {
	if err := w.vector.Delete(ctx, id); err != nil {
		observability.LoggerWithTrace(ctx).Error().Err(err).Str("id", id).Msg("triplestore: compensating vector delete failed")
	}
	w.compensateDocOnly(ctx, id)
}

// DeleteByEventID removes a record from all three backends. Compensation
// logic doesn't apply here: each backend's delete is independent and a
// partial failure is logged but doesn't block the others.
func (w *Writer) DeleteByEventID(ctx context.Context, id string) error {
	var errs []string
	if err := w.docs.Delete(ctx, id); err != nil {
		errs = append(errs, fmt.Sprintf("docstore: %v", err))
	}
	if err := w.vector.Delete(ctx, id); err != nil {
		errs = append(errs, fmt.Sprintf("vector: %v", err))
	}
	if err := w.search.Remove(ctx, id); err != nil {
		errs = append(errs, fmt.Sprintf("search: %v", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("triplestore: delete_by_event_id partial failure: %s", strings.Join(errs, "; "))
	}
	return nil
}

// DeleteByFilters removes every record matching groupID/kind/naturalKey by
// walking the DocStore's version lineage and deleting each version found.
func (w *Writer) DeleteByFilters(ctx context.Context, groupID, kind, naturalKey string) (int, error) {
	versions, err := w.docs.VersionsByKey(ctx, groupID, kind, naturalKey)
	if err != nil {
		return 0, fmt.Errorf("triplestore: delete_by_filters lookup: %w", err)
	}
	count := 0
	for _, v := range versions {
		if err := w.DeleteByEventID(ctx, v.ID); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func memCellText(cell model.MemCell) string {
	return cell.Subject + "\n" + cell.Summary + "\n" + strings.Join(cell.Keywords, " ")
}

func episodeText(ep model.Episode) string {
	return ep.Subject + "\n" + ep.Summary + "\n" + ep.NarrativeText + "\n" + strings.Join(ep.Keywords, " ")
}

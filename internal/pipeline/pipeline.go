// Package pipeline implements MemorizePipeline (C7): the per-group
// orchestrator that turns one inbound message into buffered history,
// closed segments, and persisted MemCells/Episodes.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"memoryservice/internal/boundary"
	"memoryservice/internal/cache"
	"memoryservice/internal/extract"
	"memoryservice/internal/model"
	"memoryservice/internal/observability"
	"memoryservice/internal/persistence/databases"
	"memoryservice/internal/triplestore"
)

const bufferKeyPrefix = "memorize:buffer:"

// Options configures a Pipeline.
type Options struct {
	EpisodeBatchSize int
}

// Result reports what one Process call actually did, for callers (C10's
// synchronous HTTP path) that need to answer with accumulated vs extracted
// rather than a bare error.
type Result struct {
	Status   string // "accumulated" | "extracted"
	EventIDs []string
}

// Pipeline satisfies dispatcher.Processor. Each group's messages are
// processed under that group's own lock (lazily created, held in a
// sync.Map keyed by routing key, mirroring the teacher's per-key cache
// registries), so steps 2-6 of a group's processing never interleave with
// themselves while independent groups proceed concurrently.
type Pipeline struct {
	buffer    *cache.BoundedQueueCache
	detector  *boundary.Detector
	memCells  *extract.MemCellExtractor
	episodes  *extract.EpisodeExtractor
	writer    *triplestore.Writer
	docs      databases.DocStore
	batchSize int

	groupLocks sync.Map // routing key -> *sync.Mutex

	unlinkedMu sync.Mutex
	unlinked   map[string][]string // groupID -> pending memcell event_ids, oldest first
}

func New(buffer *cache.BoundedQueueCache, detector *boundary.Detector, memCells *extract.MemCellExtractor, episodes *extract.EpisodeExtractor, writer *triplestore.Writer, docs databases.DocStore, opts Options) *Pipeline {
	if opts.EpisodeBatchSize <= 0 {
		opts.EpisodeBatchSize = 10
	}
	return &Pipeline{
		buffer:    buffer,
		detector:  detector,
		memCells:  memCells,
		episodes:  episodes,
		writer:    writer,
		docs:      docs,
		batchSize: opts.EpisodeBatchSize,
		unlinked:  make(map[string][]string),
	}
}

func (p *Pipeline) lockFor(key string) *sync.Mutex {
	l, _ := p.groupLocks.LoadOrStore(key, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// Process implements dispatcher.Processor, for the asynchronous bus
// ingestion path where no caller waits on the outcome.
func (p *Pipeline) Process(ctx context.Context, msg model.RawMessage) error {
	_, err := p.ProcessSync(ctx, msg)
	return err
}

// ProcessSync runs the same six-step flow as Process but reports what
// happened, for MemoryAPI's synchronous HTTP path.
func (p *Pipeline) ProcessSync(ctx context.Context, msg model.RawMessage) (Result, error) {
	key := msg.RoutingKey()
	lock := p.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	bufferKey := bufferKeyPrefix + key
	if err := p.buffer.Append(ctx, bufferKey, msg, nil); err != nil {
		return Result{}, fmt.Errorf("pipeline: append to buffer: %w", err)
	}

	items, err := p.buffer.RangeByTimestamp(ctx, bufferKey, nil, nil, 0)
	if err != nil {
		return Result{}, fmt.Errorf("pipeline: load buffer: %w", err)
	}
	// RangeByTimestamp returns newest-first; processing needs oldest-first.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}

	msgs := make([]model.RawMessage, 0, len(items))
	for _, it := range items {
		var raw model.RawMessage
		if err := json.Unmarshal(it.Payload, &raw); err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Str("group_key", key).Msg("pipeline_malformed_buffer_entry_skipped")
			continue
		}
		msgs = append(msgs, raw)
	}
	if len(msgs) == 0 {
		return Result{Status: "accumulated"}, nil
	}

	history := msgs[:len(msgs)-1]
	newMsgs := msgs[len(msgs)-1:]

	decision := p.detector.Detect(ctx, history, newMsgs)
	if !decision.Emit {
		return Result{Status: "accumulated"}, nil
	}

	cutIndex := decision.CutIndex
	if cutIndex <= 0 || cutIndex > len(msgs) {
		cutIndex = len(msgs)
	}
	segment := msgs[:cutIndex]
	remaining := items[cutIndex:]

	eventIDs, err := p.emitSegment(ctx, key, segment)
	if err != nil {
		observability.LoggerWithTrace(ctx).Error().Err(err).Str("group_key", key).Msg("pipeline_emit_segment_failed")
		return Result{Status: "accumulated"}, nil
	}

	if err := p.buffer.Clear(ctx, bufferKey); err != nil {
		return Result{}, fmt.Errorf("pipeline: clear buffer after emit: %w", err)
	}
	for _, it := range remaining {
		score := it.Score
		var raw model.RawMessage
		if err := json.Unmarshal(it.Payload, &raw); err != nil {
			continue
		}
		if err := p.buffer.Append(ctx, bufferKey, raw, &score); err != nil {
			return Result{}, fmt.Errorf("pipeline: re-append remaining buffer: %w", err)
		}
	}
	return Result{Status: "extracted", EventIDs: eventIDs}, nil
}

// emitSegment extracts a MemCell, writes it, and — once the group's
// unlinked-MemCell count reaches batchSize — folds the batch into an
// Episode. Errors here are logged, not propagated: a failed extraction
// drops the segment rather than blocking the group's buffer forever,
// matching spec's "raw messages aren't lost upstream" rationale.
func (p *Pipeline) emitSegment(ctx context.Context, groupKey string, segment []model.RawMessage) ([]string, error) {
	seg := model.EpisodeSegment{GroupID: groupKey, New: segment}
	cell, err := p.memCells.Extract(ctx, seg)
	if err != nil {
		return nil, fmt.Errorf("memcell extraction: %w", err)
	}
	if _, err := p.writer.WriteMemCell(ctx, cell); err != nil {
		return nil, fmt.Errorf("memcell write: %w", err)
	}
	ids := []string{cell.EventID}

	p.unlinkedMu.Lock()
	p.unlinked[groupKey] = append(p.unlinked[groupKey], cell.EventID)
	pending := p.unlinked[groupKey]
	ready := len(pending) >= p.batchSize
	var batch []string
	if ready {
		batch = append([]string{}, pending[:p.batchSize]...)
		p.unlinked[groupKey] = pending[p.batchSize:]
	}
	p.unlinkedMu.Unlock()

	if !ready {
		return ids, nil
	}
	episodeID, err := p.emitEpisode(ctx, groupKey, batch)
	if err != nil {
		return ids, err
	}
	if episodeID != "" {
		ids = append(ids, episodeID)
	}
	return ids, nil
}

func (p *Pipeline) emitEpisode(ctx context.Context, groupKey string, eventIDs []string) (string, error) {
	cells := make([]model.MemCell, 0, len(eventIDs))
	for _, id := range eventIDs {
		rec, ok, err := p.docs.Get(ctx, id)
		if err != nil {
			return "", fmt.Errorf("episode batch lookup %s: %w", id, err)
		}
		if !ok {
			continue
		}
		var cell model.MemCell
		if err := json.Unmarshal(rec.Body, &cell); err != nil {
			return "", fmt.Errorf("episode batch decode %s: %w", id, err)
		}
		cells = append(cells, cell)
	}
	if len(cells) == 0 {
		return "", nil
	}

	ep, err := p.episodes.Extract(ctx, groupKey, cells)
	if err != nil {
		return "", fmt.Errorf("episode extraction: %w", err)
	}
	if _, err := p.writer.WriteEpisode(ctx, ep); err != nil {
		return "", fmt.Errorf("episode write: %w", err)
	}
	return ep.EventID, nil
}

package databases

import (
	"context"
	"sort"
	"sync"
)

// memoryDocStore is an in-process DocStore used by tests and the "memory"
// backend configuration. Lineage lookups key on (groupID, kind, naturalKey),
// stored out-of-band from the record ID so that MarkLatest can flip every
// sibling version without a table scan.
type memoryDocStore struct {
	mu       sync.RWMutex
	byID     map[string]DocRecord
	lineage  map[string][]string // lineageKey -> ordered record IDs
	natural  map[string]string   // record ID -> naturalKey (for lookups by ID alone)
}

func NewMemoryDocStore() DocStore {
	return &memoryDocStore{
		byID:    make(map[string]DocRecord),
		lineage: make(map[string][]string),
		natural: make(map[string]string),
	}
}

func lineageKey(groupID, kind, naturalKey string) string {
	return groupID + "\x00" + kind + "\x00" + naturalKey
}

func (m *memoryDocStore) Upsert(_ context.Context, rec DocRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	naturalKey := rec.NaturalKey
	if naturalKey == "" {
		naturalKey = rec.ID
	}
	key := lineageKey(rec.GroupID, rec.Kind, naturalKey)
	if _, exists := m.byID[rec.ID]; !exists {
		m.lineage[key] = append(m.lineage[key], rec.ID)
	}
	m.byID[rec.ID] = rec
	return nil
}

func (m *memoryDocStore) Get(_ context.Context, id string) (DocRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.byID[id]
	return rec, ok, nil
}

func (m *memoryDocStore) VersionsByKey(_ context.Context, groupID, kind, naturalKey string) ([]DocRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.lineage[lineageKey(groupID, kind, naturalKey)]
	out := make([]DocRecord, 0, len(ids))
	for _, id := range ids {
		if rec, ok := m.byID[id]; ok {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

func (m *memoryDocStore) MarkLatest(_ context.Context, groupID, kind, naturalKey, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := lineageKey(groupID, kind, naturalKey)
	found := false
	for _, existing := range m.lineage[key] {
		if existing == id {
			found = true
		}
	}
	if !found {
		m.lineage[key] = append(m.lineage[key], id)
	}
	for _, existing := range m.lineage[key] {
		rec, ok := m.byID[existing]
		if !ok {
			continue
		}
		rec.IsLatest = existing == id
		m.byID[existing] = rec
	}
	return nil
}

func (m *memoryDocStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
	return nil
}

func (m *memoryDocStore) ListByUser(_ context.Context, userID, kind string, limit, offset int, sortOrder string, versionRange *VersionRange) ([]DocRecord, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []DocRecord
	for _, rec := range m.byID {
		if rec.UserID != userID {
			continue
		}
		if kind != "" && rec.Kind != kind {
			continue
		}
		if versionRange != nil {
			if !versionRange.Contains(rec.Version) {
				continue
			}
		} else if !rec.IsLatest {
			continue
		}
		matched = append(matched, rec)
	}
	sort.Slice(matched, func(i, j int) bool {
		if sortOrder == "asc" {
			return matched[i].OccurredAt.Before(matched[j].OccurredAt)
		}
		return matched[i].OccurredAt.After(matched[j].OccurredAt)
	})

	total := len(matched)
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return matched[offset:end], total, nil
}

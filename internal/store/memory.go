package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/ppiankov/petitrace/internal/model"
)

// Memory is a Store that keeps encoded snapshots in a map
type Memory struct {
	mu       sync.RWMutex
	projects map[string][]byte
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{projects: make(map[string][]byte)}
}

// memoryRecord mirrors Snapshot with every field encoded
type memoryRecord struct {
	Snapshot
	Snippets    []model.Snippet         `json:"snippets"`
	Entities    []model.Entity          `json:"entities"`
	Relations   []model.Relation        `json:"relations"`
	Suggestions []model.MergeSuggestion `json:"suggestions"`
	History     []model.MergeRecord     `json:"history"`
	Arguments   []model.Argument        `json:"arguments"`
	Edges       []model.MappingEdge     `json:"edges"`
	Sections    []model.Section         `json:"sections"`
}

// Load decodes a copy of the stored snapshot
func (m *Memory) Load(ctx context.Context, projectID string) (*Snapshot, error) {
	m.mu.RLock()
	data, ok := m.projects[projectID]
	m.mu.RUnlock()
	if !ok {
		return nil, model.NotFound("project", projectID)
	}

	var rec memoryRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	snap := rec.Snapshot
	snap.Snippets = rec.Snippets
	snap.Entities = rec.Entities
	snap.Relations = rec.Relations
	snap.Suggestions = rec.Suggestions
	snap.History = rec.History
	snap.Arguments = rec.Arguments
	snap.Edges = rec.Edges
	snap.Sections = rec.Sections
	return &snap, nil
}

// Save stores an encoded copy so later changes to snap are not seen
func (m *Memory) Save(ctx context.Context, snap *Snapshot) error {
	if snap.ProjectID == "" {
		return model.ErrInvalidInput
	}
	data, err := json.Marshal(memoryRecord{
		Snapshot:    *snap,
		Snippets:    snap.Snippets,
		Entities:    snap.Entities,
		Relations:   snap.Relations,
		Suggestions: snap.Suggestions,
		History:     snap.History,
		Arguments:   snap.Arguments,
		Edges:       snap.Edges,
		Sections:    snap.Sections,
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.projects[snap.ProjectID] = data
	m.mu.Unlock()
	return nil
}

// Projects lists stored project ids
func (m *Memory) Projects(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.projects))
	for id := range m.projects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close is a no-op
func (m *Memory) Close() error { return nil }

// Package project holds per-project state behind a single-writer workspace.
package project

import (
	"slices"
	"time"

	"github.com/ppiankov/petitrace/internal/entity"
	"github.com/ppiankov/petitrace/internal/model"
	"github.com/ppiankov/petitrace/internal/registry"
	"github.com/ppiankov/petitrace/internal/store"
)

// State is one project's complete state. A published State is never
// modified; mutations work on a Clone.
type State struct {
	ID            string
	Applicant     string
	Stage         model.Stage
	ExtractedDocs []string
	UpdatedAt     time.Time

	// GraphVersion counts commits that changed snippet tags or the entity
	// graph. It is not persisted; long operations compare it at commit.
	GraphVersion uint64

	Registry    *registry.Registry
	Graph       *entity.Graph
	Suggestions []model.MergeSuggestion
	History     []model.MergeRecord
	Arguments   []model.Argument
	Edges       []model.MappingEdge
	Sections    []model.Section
}

// NewState creates an empty project at the first stage
func NewState(id string) *State {
	return &State{
		ID:       id,
		Stage:    model.StageOCRComplete,
		Registry: registry.New(),
		Graph:    entity.NewGraph(),
	}
}

// FromSnapshot rebuilds state from a stored snapshot
func FromSnapshot(snap *store.Snapshot) (*State, error) {
	reg, err := registry.FromSnippets(snap.Snippets)
	if err != nil {
		return nil, err
	}
	g, err := entity.FromRecords(snap.Entities, snap.Relations)
	if err != nil {
		return nil, err
	}
	st := &State{
		ID:            snap.ProjectID,
		Applicant:     snap.Applicant,
		Stage:         snap.Stage,
		ExtractedDocs: snap.ExtractedDocs,
		UpdatedAt:     snap.UpdatedAt,
		Registry:      reg,
		Graph:         g,
		Suggestions:   snap.Suggestions,
		History:       snap.History,
		Arguments:     snap.Arguments,
		Edges:         snap.Edges,
		Sections:      snap.Sections,
	}
	if st.Stage.Rank() < 0 {
		st.Stage = model.StageOCRComplete
	}
	return st, nil
}

// Snapshot converts the state into its persisted form
func (s *State) Snapshot() *store.Snapshot {
	return &store.Snapshot{
		ProjectID:     s.ID,
		Applicant:     s.Applicant,
		Stage:         s.Stage,
		ExtractedDocs: s.ExtractedDocs,
		UpdatedAt:     s.UpdatedAt,
		Snippets:      s.Registry.All(),
		Entities:      s.Graph.All(),
		Relations:     s.Graph.Relations(),
		Suggestions:   s.Suggestions,
		History:       s.History,
		Arguments:     s.Arguments,
		Edges:         s.Edges,
		Sections:      s.Sections,
	}
}

// Clone returns a deep copy that can be mutated freely
func (s *State) Clone() *State {
	c := *s
	c.ExtractedDocs = slices.Clone(s.ExtractedDocs)
	c.Registry = s.Registry.Clone()
	c.Graph = s.Graph.Clone()

	c.Suggestions = make([]model.MergeSuggestion, len(s.Suggestions))
	for i, m := range s.Suggestions {
		c.Suggestions[i] = m.Clone()
	}
	c.History = make([]model.MergeRecord, len(s.History))
	for i, h := range s.History {
		h.AliasEntityIDs = slices.Clone(h.AliasEntityIDs)
		c.History[i] = h
	}
	c.Arguments = make([]model.Argument, len(s.Arguments))
	for i, a := range s.Arguments {
		c.Arguments[i] = a.Clone()
	}
	c.Edges = slices.Clone(s.Edges)
	c.Sections = make([]model.Section, len(s.Sections))
	for i, sec := range s.Sections {
		c.Sections[i] = sec.Clone()
	}
	return &c
}

// HasDocument reports whether a document was already extracted
func (s *State) HasDocument(id string) bool {
	return slices.Contains(s.ExtractedDocs, id)
}

// MarkExtracted records documents as extracted
func (s *State) MarkExtracted(ids ...string) {
	for _, id := range ids {
		if !s.HasDocument(id) {
			s.ExtractedDocs = append(s.ExtractedDocs, id)
		}
	}
}

// Argument returns an argument and its index
func (s *State) Argument(id string) (model.Argument, int, bool) {
	for i, a := range s.Arguments {
		if a.ID == id {
			return a, i, true
		}
	}
	return model.Argument{}, -1, false
}

// Section returns a section and its index
func (s *State) Section(id string) (model.Section, int, bool) {
	for i, sec := range s.Sections {
		if sec.ID == id {
			return sec, i, true
		}
	}
	return model.Section{}, -1, false
}

// Suggestion returns a merge suggestion by id
func (s *State) Suggestion(id string) (model.MergeSuggestion, bool) {
	for _, m := range s.Suggestions {
		if m.ID == id {
			return m, true
		}
	}
	return model.MergeSuggestion{}, false
}

// TouchGraph records that snippet tags or the entity graph changed
func (s *State) TouchGraph() {
	s.GraphVersion++
}

// Advance moves the stage forward; it never moves back
func (s *State) Advance(stage model.Stage) {
	s.Stage = model.Later(s.Stage, stage)
}

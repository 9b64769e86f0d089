// Package registry is the canonical store of evidence snippets.
package registry

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/ppiankov/petitrace/internal/model"
)

// Registry holds snippets keyed by id. It is not safe for concurrent
// mutation; callers serialize writes through the project workspace and
// read from cloned snapshots.
type Registry struct {
	snippets map[string]model.Snippet
	byDoc    map[string][]string
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		snippets: make(map[string]model.Snippet),
		byDoc:    make(map[string][]string),
	}
}

// FromSnippets builds a registry from persisted snippets
func FromSnippets(snippets []model.Snippet) (*Registry, error) {
	r := New()
	for _, s := range snippets {
		if _, err := r.Add(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add registers a snippet. Re-adding an identical snippet is a no-op and
// returns false; a different snippet under an existing id is an invariant
// violation.
func (r *Registry) Add(s model.Snippet) (bool, error) {
	if s.ID == "" || s.DocumentID == "" {
		return false, &model.InvariantViolationError{Op: "registry.add", Detail: "snippet id and document id are required"}
	}
	if s.BBox != nil && !s.BBox.Valid() {
		return false, &model.InvariantViolationError{
			Op:     "registry.add",
			Detail: fmt.Sprintf("snippet %s has bbox %+v outside 0-%d", s.ID, *s.BBox, model.BBoxScale),
		}
	}
	if existing, ok := r.snippets[s.ID]; ok {
		if existing.SameSource(s) {
			return false, nil
		}
		return false, &model.InvariantViolationError{
			Op:     "registry.add",
			Detail: fmt.Sprintf("snippet %s already registered with different source data", s.ID),
		}
	}
	if s.ClaimType == "" {
		s.ClaimType = model.ClaimOther
	}
	r.snippets[s.ID] = s.Clone()
	r.byDoc[s.DocumentID] = append(r.byDoc[s.DocumentID], s.ID)
	return true, nil
}

// Get returns a copy of the snippet
func (r *Registry) Get(id string) (model.Snippet, bool) {
	s, ok := r.snippets[id]
	if !ok {
		return model.Snippet{}, false
	}
	return s.Clone(), true
}

// Has reports whether the id is registered
func (r *Registry) Has(id string) bool {
	_, ok := r.snippets[id]
	return ok
}

// Len returns the number of snippets
func (r *Registry) Len() int {
	return len(r.snippets)
}

// All returns every snippet ordered by document, page and id
func (r *Registry) All() []model.Snippet {
	out := make([]model.Snippet, 0, len(r.snippets))
	for _, s := range r.snippets {
		out = append(out, s.Clone())
	}
	sortSnippets(out)
	return out
}

// IDs returns every snippet id in the same order as All
func (r *Registry) IDs() []string {
	all := r.All()
	ids := make([]string, len(all))
	for i, s := range all {
		ids[i] = s.ID
	}
	return ids
}

// ByDocument returns the snippets of one document
func (r *Registry) ByDocument(docID string) []model.Snippet {
	ids := r.byDoc[docID]
	out := make([]model.Snippet, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.snippets[id].Clone())
	}
	sortSnippets(out)
	return out
}

// HasDocument reports whether any snippet of the document is registered
func (r *Registry) HasDocument(docID string) bool {
	return len(r.byDoc[docID]) > 0
}

// SetTags updates the classification tags. Empty values leave a tag unchanged.
func (r *Registry) SetTags(id string, claimType model.ClaimType, standardKey string) error {
	s, ok := r.snippets[id]
	if !ok {
		return model.NotFound("snippet", id)
	}
	if claimType != "" {
		if !claimType.Valid() {
			return fmt.Errorf("%w: claim type %q", model.ErrInvalidInput, claimType)
		}
		s.ClaimType = claimType
	}
	if standardKey != "" {
		if _, ok := model.StandardByKey(standardKey); !ok {
			return fmt.Errorf("%w: standard %q", model.ErrInvalidInput, standardKey)
		}
		s.StandardKey = standardKey
	}
	r.snippets[id] = s
	return nil
}

// SetSubject records the entity the snippet is about
func (r *Registry) SetSubject(id, entityID string) error {
	s, ok := r.snippets[id]
	if !ok {
		return model.NotFound("snippet", id)
	}
	s.SubjectEntityID = entityID
	r.snippets[id] = s
	return nil
}

// SetEntityRefs replaces the snippet's entity references, dropping duplicates
func (r *Registry) SetEntityRefs(id string, entityIDs []string) error {
	s, ok := r.snippets[id]
	if !ok {
		return model.NotFound("snippet", id)
	}
	s.EntityIDs = dedupe(entityIDs)
	r.snippets[id] = s
	return nil
}

// Confirm sets the reviewer sign-off on one snippet. Clearing it also
// clears the confirmation time.
func (r *Registry) Confirm(id string, confirmed bool, at time.Time) (model.Snippet, error) {
	s, ok := r.snippets[id]
	if !ok {
		return model.Snippet{}, model.NotFound("snippet", id)
	}
	s.Confirmed = confirmed
	s.ConfirmedAt = nil
	if confirmed {
		t := at.UTC()
		s.ConfirmedAt = &t
	}
	r.snippets[id] = s
	return s.Clone(), nil
}

// ConfirmAll confirms every unconfirmed snippet and returns how many changed
func (r *Registry) ConfirmAll(at time.Time) int {
	t := at.UTC()
	n := 0
	for id, s := range r.snippets {
		if s.Confirmed {
			continue
		}
		s.Confirmed = true
		ts := t
		s.ConfirmedAt = &ts
		r.snippets[id] = s
		n++
	}
	return n
}

// SetSuggested flags whether the snippet's tags came from the extractor
func (r *Registry) SetSuggested(id string, suggested bool) error {
	s, ok := r.snippets[id]
	if !ok {
		return model.NotFound("snippet", id)
	}
	s.AISuggested = suggested
	r.snippets[id] = s
	return nil
}

// Stats counts confirmed and extractor-suggested snippets
func (r *Registry) Stats() model.SnippetStats {
	st := model.SnippetStats{Total: len(r.snippets)}
	for _, s := range r.snippets {
		if s.Confirmed {
			st.Confirmed++
		}
		if s.AISuggested {
			st.AISuggested++
		}
	}
	if st.Total > 0 {
		st.ConfirmationRate = math.Round(float64(st.Confirmed)/float64(st.Total)*1000) / 10
	}
	return st
}

// RewriteEntities maps every entity reference through resolve and returns
// how many snippets changed
func (r *Registry) RewriteEntities(resolve func(string) string) int {
	changed := 0
	for id, s := range r.snippets {
		dirty := false
		refs := make([]string, 0, len(s.EntityIDs))
		for _, e := range s.EntityIDs {
			c := resolve(e)
			if c != e {
				dirty = true
			}
			refs = append(refs, c)
		}
		refs = dedupe(refs)
		if len(refs) != len(s.EntityIDs) {
			dirty = true
		}
		if s.SubjectEntityID != "" {
			if c := resolve(s.SubjectEntityID); c != s.SubjectEntityID {
				s.SubjectEntityID = c
				dirty = true
			}
		}
		if dirty {
			s.EntityIDs = refs
			r.snippets[id] = s
			changed++
		}
	}
	return changed
}

// Clone returns an independent copy
func (r *Registry) Clone() *Registry {
	c := &Registry{
		snippets: make(map[string]model.Snippet, len(r.snippets)),
		byDoc:    make(map[string][]string, len(r.byDoc)),
	}
	for id, s := range r.snippets {
		c.snippets[id] = s.Clone()
	}
	for doc, ids := range r.byDoc {
		c.byDoc[doc] = append([]string(nil), ids...)
	}
	return c
}

func sortSnippets(s []model.Snippet) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].DocumentID != s[j].DocumentID {
			return s[i].DocumentID < s[j].DocumentID
		}
		if s[i].Page != s[j].Page {
			return s[i].Page < s[j].Page
		}
		return s[i].ID < s[j].ID
	})
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

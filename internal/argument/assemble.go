// Package argument groups snippets into subject-attributed arguments.
package argument

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ppiankov/petitrace/internal/entity"
	"github.com/ppiankov/petitrace/internal/model"
	"github.com/ppiankov/petitrace/internal/registry"
	"github.com/ppiankov/petitrace/internal/validate"
)

// Book edits arguments against a state snapshot. The registry and graph
// are read only; argument values are changed in place.
type Book struct {
	registry *registry.Registry
	graph    *entity.Graph
	now      func() time.Time
}

// NewBook creates a book over the snapshot
func NewBook(reg *registry.Registry, g *entity.Graph) *Book {
	return &Book{registry: reg, graph: g, now: time.Now}
}

// NewID returns a fresh argument id
func NewID() string {
	return "arg_" + uuid.NewString()[:8]
}

// Title builds the default argument title
func Title(subject string, claim model.ClaimType) string {
	if subject == "" {
		return claim.Label()
	}
	return subject + "'s " + claim.Label()
}

// Create builds a draft argument around one snippet
func (b *Book) Create(snippetID string) (model.Argument, error) {
	s, ok := b.registry.Get(snippetID)
	if !ok {
		return model.Argument{}, model.NotFound("snippet", snippetID)
	}

	claim := s.ClaimType
	if !claim.Valid() {
		claim = model.ClaimOther
	}
	now := b.now()
	a := model.Argument{
		ID:          NewID(),
		ClaimType:   claim,
		SnippetIDs:  []string{s.ID},
		Status:      model.StatusDraft,
		StandardKey: s.StandardKey,
		Decision:    model.DecisionPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if p, ok := entity.DominantPerson(s, b.graph); ok {
		a.Subject = p.Name
		a.SubjectEntityID = p.ID
	}
	a.Title = Title(a.Subject, claim)
	return a, nil
}

// AddSnippet appends a snippet to a. Adding a member again is a no-op.
// When the snippet is about someone other than the argument's dominant
// person the add still succeeds and a SubjectConflictWarning is returned.
func (b *Book) AddSnippet(a *model.Argument, snippetID string) (*model.SubjectConflictWarning, error) {
	s, ok := b.registry.Get(snippetID)
	if !ok {
		return nil, model.NotFound("snippet", snippetID)
	}
	if a.HasSnippet(snippetID) {
		return nil, nil
	}

	var warning *model.SubjectConflictWarning
	if len(a.SnippetIDs) > 0 {
		existing := a.Subject
		existingID := a.SubjectEntityID
		if p, ok := entity.ArgumentSubject(b.members(*a), b.graph); ok {
			existing, existingID = p.Name, p.ID
		}
		if incoming, ok := entity.DominantPerson(s, b.graph); ok && existing != "" &&
			incoming.ID != existingID && !entity.SameSubject(existing, incoming.Name) {
			warning = &model.SubjectConflictWarning{
				ArgumentID: a.ID,
				SnippetID:  s.ID,
				Existing:   existing,
				Incoming:   incoming.Name,
			}
		}
	}

	a.SnippetIDs = append(a.SnippetIDs, s.ID)
	if a.SubjectEntityID == "" {
		if p, ok := entity.ArgumentSubject(b.members(*a), b.graph); ok {
			a.SubjectEntityID = p.ID
			if a.Subject == "" {
				a.Subject = p.Name
			}
		}
	}
	if warning != nil {
		a.Conflict = warning
	}
	a.UpdatedAt = b.now()
	return warning, nil
}

// RemoveSnippet drops a snippet from a. An argument left with no snippets
// is kept and reset to draft.
func (b *Book) RemoveSnippet(a *model.Argument, snippetID string) error {
	idx := -1
	for i, id := range a.SnippetIDs {
		if id == snippetID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return model.NotFound("snippet", snippetID+" in argument "+a.ID)
	}
	a.SnippetIDs = append(a.SnippetIDs[:idx:idx], a.SnippetIDs[idx+1:]...)
	if a.Conflict != nil && a.Conflict.SnippetID == snippetID {
		a.Conflict = nil
	}
	if len(a.SnippetIDs) == 0 {
		a.Status = model.StatusDraft
		a.Conflict = nil
	}
	a.UpdatedAt = b.now()
	return nil
}

// Update applies a partial update. Moving to verified runs the
// verification rules and is refused with a ValidationError when any
// error-level issue remains. Nothing changes when Update fails.
func (b *Book) Update(a *model.Argument, patch model.ArgumentPatch) error {
	next := a.Clone()

	if patch.Title != nil {
		next.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Subject != nil {
		next.Subject = strings.TrimSpace(*patch.Subject)
		next.SubjectEntityID = ""
		if p, ok := b.graph.FindByName(next.Subject, model.EntityPerson); ok {
			next.SubjectEntityID = p.ID
		}
	}
	if patch.ClaimType != nil {
		if !patch.ClaimType.Valid() {
			return fmt.Errorf("%w: claim type %q", model.ErrInvalidInput, *patch.ClaimType)
		}
		next.ClaimType = *patch.ClaimType
	}
	if patch.StandardKey != nil {
		if *patch.StandardKey != "" {
			if _, ok := model.StandardByKey(*patch.StandardKey); !ok {
				return model.NotFound("standard", *patch.StandardKey)
			}
		}
		next.StandardKey = *patch.StandardKey
	}
	if patch.Summary != nil {
		next.Summary = *patch.Summary
	}
	if patch.Decision != nil {
		if !patch.Decision.Valid() {
			return fmt.Errorf("%w: decision %q", model.ErrInvalidInput, *patch.Decision)
		}
		next.Decision = *patch.Decision
	}
	if patch.Status != nil {
		if !patch.Status.Valid() {
			return fmt.Errorf("%w: status %q", model.ErrInvalidInput, *patch.Status)
		}
		if *patch.Status == model.StatusVerified && a.Status != model.StatusVerified {
			issues := validate.NewValidator(b.registry, b.graph).Argument(next)
			if validate.Blocking(issues) {
				return &model.ValidationError{Issues: validate.Errors(issues)}
			}
		}
		next.Status = *patch.Status
	}

	next.UpdatedAt = b.now()
	*a = next
	return nil
}

// CheckDelete refuses to delete an argument referenced by a confirmed edge
func CheckDelete(argID string, edges []model.MappingEdge) error {
	for _, e := range edges {
		if e.Source == argID && e.Confirmed {
			return &model.InvariantViolationError{
				Op:     "argument.delete",
				Detail: fmt.Sprintf("argument %s is mapped to %s by confirmed edge %s", argID, e.Target, e.ID),
			}
		}
	}
	return nil
}

func (b *Book) members(a model.Argument) []model.Snippet {
	out := make([]model.Snippet, 0, len(a.SnippetIDs))
	for _, id := range a.SnippetIDs {
		if s, ok := b.registry.Get(id); ok {
			out = append(out, s)
		}
	}
	return out
}

// Package validate checks arguments before they may be marked verified.
package validate

import (
	"fmt"

	"github.com/ppiankov/petitrace/internal/entity"
	"github.com/ppiankov/petitrace/internal/model"
	"github.com/ppiankov/petitrace/internal/registry"
)

// Issue codes
const (
	CodeNoSnippets        = "no_snippets"
	CodeMissingSnippet    = "missing_snippet"
	CodeEmptyTitle        = "empty_title"
	CodeInvalidClaimType  = "invalid_claim_type"
	CodeSubjectConflict   = "subject_conflict"
	CodeUnresolvedSubject = "unresolved_subject"
)

// Validator runs the verification rules against the snippet registry and
// the entity graph
type Validator struct {
	registry *registry.Registry
	graph    *entity.Graph
}

// NewValidator creates a validator over a state snapshot
func NewValidator(reg *registry.Registry, g *entity.Graph) *Validator {
	return &Validator{registry: reg, graph: g}
}

// Argument returns every issue found in a, errors first
func (v *Validator) Argument(a model.Argument) []model.Issue {
	var errs, warns []model.Issue

	if a.Title == "" {
		errs = append(errs, issue(CodeEmptyTitle, model.IssueError, "argument has no title"))
	}
	if !a.ClaimType.Valid() {
		errs = append(errs, issue(CodeInvalidClaimType, model.IssueError, fmt.Sprintf("claim type %q is not known", a.ClaimType)))
	}
	if len(a.SnippetIDs) == 0 {
		errs = append(errs, issue(CodeNoSnippets, model.IssueError, "argument has no evidence snippets"))
		return append(errs, warns...)
	}

	var snippets []model.Snippet
	for _, id := range a.SnippetIDs {
		s, ok := v.registry.Get(id)
		if !ok {
			errs = append(errs, issue(CodeMissingSnippet, model.IssueError, fmt.Sprintf("snippet %s is not registered", id)))
			continue
		}
		snippets = append(snippets, s)
	}

	subjects := make(map[string]string)
	for _, s := range snippets {
		if p, ok := entity.DominantPerson(s, v.graph); ok {
			subjects[p.ID] = p.Name
		}
	}
	if len(subjects) > 1 && !allSameSubject(subjects) {
		warns = append(warns, issue(CodeSubjectConflict, model.IssueWarning,
			fmt.Sprintf("snippets are about %d different people", len(subjects))))
	}
	if a.Subject == "" && len(subjects) == 0 {
		warns = append(warns, issue(CodeUnresolvedSubject, model.IssueWarning, "no person could be identified as the subject"))
	}

	return append(errs, warns...)
}

// Blocking reports whether any issue is an error
func Blocking(issues []model.Issue) bool {
	for _, i := range issues {
		if i.Severity == model.IssueError {
			return true
		}
	}
	return false
}

// Errors returns only the error-level issues
func Errors(issues []model.Issue) []model.Issue {
	var out []model.Issue
	for _, i := range issues {
		if i.Severity == model.IssueError {
			out = append(out, i)
		}
	}
	return out
}

func allSameSubject(subjects map[string]string) bool {
	var first string
	for _, name := range subjects {
		if first == "" {
			first = name
			continue
		}
		if !entity.SameSubject(first, name) {
			return false
		}
	}
	return true
}

func issue(code, severity, msg string) model.Issue {
	return model.Issue{Code: code, Severity: severity, Message: msg}
}

package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors.
var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrLLMDisabled   = errors.New("no LLM provider configured")
	ErrStageBlocked  = errors.New("operation not allowed in current stage")
	ErrEmptyDocument = errors.New("document has no text blocks")

	// ErrConcurrentUpdate means the state a long operation started from
	// changed before it could commit
	ErrConcurrentUpdate = errors.New("project changed during the operation")
)

// ExtractionError is an upstream LLM/OCR failure
type ExtractionError struct {
	Op        string
	Cause     error
	Retryable bool
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction %s: %v", e.Op, e.Cause)
}

func (e *ExtractionError) Unwrap() error { return e.Cause }

// MergeConflictError reports a decision or apply against a suggestion
// that is already applied or rejected
type MergeConflictError struct {
	SuggestionID string
	Reason       string
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("merge suggestion %s: %s", e.SuggestionID, e.Reason)
}

// SubjectConflictWarning is a non-fatal signal that a snippet's subject
// differs from the argument's dominant subject
type SubjectConflictWarning struct {
	ArgumentID string `json:"argument_id"`
	SnippetID  string `json:"snippet_id"`
	Existing   string `json:"existing_subject"`
	Incoming   string `json:"incoming_subject"`
}

func (w *SubjectConflictWarning) Error() string {
	return fmt.Sprintf("argument %s is about %q but snippet %s is about %q",
		w.ArgumentID, w.Existing, w.SnippetID, w.Incoming)
}

// InvariantViolationError means a mutation would corrupt the graph.
// The mutation is aborted and prior state is kept.
type InvariantViolationError struct {
	Op     string
	Detail string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violation in %s: %s", e.Op, e.Detail)
}

// ProvenanceNotFoundError reports a missing sentence, snippet or edge
type ProvenanceNotFoundError struct {
	Kind string
	ID   string
}

func (e *ProvenanceNotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *ProvenanceNotFoundError) Unwrap() error { return ErrNotFound }

// NotFound builds a ProvenanceNotFoundError
func NotFound(kind, id string) error {
	return &ProvenanceNotFoundError{Kind: kind, ID: id}
}

// Issue is a single verification finding
type Issue struct {
	Code     string `json:"code"`
	Severity string `json:"severity"` // error, warning
	Message  string `json:"message"`
}

const (
	IssueError   = "error"
	IssueWarning = "warning"
)

// ValidationError carries the blocking issues that refused a transition
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Issues))
	for _, i := range e.Issues {
		msgs = append(msgs, i.Message)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// IsRetryable reports whether repeating the failed operation is safe and may succeed
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return ee.Retryable
	}
	var iv *InvariantViolationError
	if errors.As(err, &iv) {
		return false
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrConcurrentUpdate)
}

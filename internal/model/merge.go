package model

import (
	"slices"
	"time"
)

// MergeStatus is the human decision on a merge suggestion
type MergeStatus string

const (
	MergePending  MergeStatus = "pending"
	MergeAccepted MergeStatus = "accepted"
	MergeRejected MergeStatus = "rejected"
)

// MergeSuggestion proposes that several entity records name the same referent
type MergeSuggestion struct {
	ID              string      `json:"id"`
	PrimaryName     string      `json:"primary_name"`
	PrimaryType     EntityType  `json:"primary_type"`
	PrimaryEntityID string      `json:"primary_entity_id"`
	AliasNames      []string    `json:"alias_names"`
	AliasEntityIDs  []string    `json:"alias_entity_ids"`
	Reason          string      `json:"reason"`
	Confidence      float64     `json:"confidence"`
	Status          MergeStatus `json:"status"`
	Manual          bool        `json:"manual,omitempty"`

	Applied   bool       `json:"applied"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
}

// Clone returns a deep copy
func (m MergeSuggestion) Clone() MergeSuggestion {
	c := m
	c.AliasNames = slices.Clone(m.AliasNames)
	c.AliasEntityIDs = slices.Clone(m.AliasEntityIDs)
	if m.AppliedAt != nil {
		t := *m.AppliedAt
		c.AppliedAt = &t
	}
	return c
}

// MergeDecision records accept/reject for one suggestion
type MergeDecision struct {
	ID     string      `json:"id"`
	Status MergeStatus `json:"status"`
}

// MergeRecord is the history entry written when a suggestion is applied
type MergeRecord struct {
	SuggestionID       string    `json:"suggestion_id"`
	PrimaryEntityID    string    `json:"primary_entity_id"`
	AliasEntityIDs     []string  `json:"alias_entity_ids"`
	SnippetsRewritten  int       `json:"snippets_rewritten"`
	RelationsRewritten int       `json:"relations_rewritten"`
	AppliedAt          time.Time `json:"applied_at"`
}

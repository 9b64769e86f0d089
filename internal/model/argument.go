package model

import (
	"slices"
	"time"
)

// ClaimType is the kind of achievement an argument asserts
type ClaimType string

const (
	ClaimAward        ClaimType = "award"
	ClaimMembership   ClaimType = "membership"
	ClaimPublication  ClaimType = "publication"
	ClaimContribution ClaimType = "contribution"
	ClaimSalary       ClaimType = "salary"
	ClaimJudging      ClaimType = "judging"
	ClaimMedia        ClaimType = "media"
	ClaimLeadingRole  ClaimType = "leading_role"
	ClaimExhibition   ClaimType = "exhibition"
	ClaimCommercial   ClaimType = "commercial"
	ClaimOther        ClaimType = "other"
)

var claimLabels = map[ClaimType]string{
	ClaimAward:        "Awards",
	ClaimMembership:   "Memberships",
	ClaimPublication:  "Publications",
	ClaimContribution: "Original Contributions",
	ClaimSalary:       "High Remuneration",
	ClaimJudging:      "Judging Work",
	ClaimMedia:        "Media Coverage",
	ClaimLeadingRole:  "Leading Roles",
	ClaimExhibition:   "Exhibitions",
	ClaimCommercial:   "Commercial Success",
	ClaimOther:        "Achievements",
}

// Valid reports whether the claim type is one of the known values
func (c ClaimType) Valid() bool {
	_, ok := claimLabels[c]
	return ok
}

// Label returns a human-readable plural label
func (c ClaimType) Label() string {
	if l, ok := claimLabels[c]; ok {
		return l
	}
	return claimLabels[ClaimOther]
}

// ParseClaimType maps free-form evidence types onto a claim type, defaulting to other
func ParseClaimType(s string) ClaimType {
	c := ClaimType(s)
	if c.Valid() {
		return c
	}
	switch s {
	case "awards", "prize":
		return ClaimAward
	case "published_material", "press":
		return ClaimMedia
	case "scholarly_articles", "article", "paper":
		return ClaimPublication
	case "original_contribution", "patent":
		return ClaimContribution
	case "high_salary", "remuneration":
		return ClaimSalary
	case "exhibitions":
		return ClaimExhibition
	case "commercial_success":
		return ClaimCommercial
	}
	return ClaimOther
}

// ArgumentStatus tracks verification progress
type ArgumentStatus string

const (
	StatusDraft    ArgumentStatus = "draft"
	StatusVerified ArgumentStatus = "verified"
	StatusMapped   ArgumentStatus = "mapped"
	StatusUsed     ArgumentStatus = "used"
)

// Valid reports whether the status is known
func (s ArgumentStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusVerified, StatusMapped, StatusUsed:
		return true
	}
	return false
}

// Decision is the reviewer's verdict on an argument
type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionApproved Decision = "approved"
	DecisionExcluded Decision = "excluded"
)

// Valid reports whether the decision is known
func (d Decision) Valid() bool {
	switch d {
	case DecisionPending, DecisionApproved, DecisionExcluded:
		return true
	}
	return false
}

// Argument is a subject-attributed, evidence-backed claim unit.
// It references snippets by id only.
type Argument struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	Subject         string         `json:"subject"`
	SubjectEntityID string         `json:"subject_entity_id,omitempty"`
	ClaimType       ClaimType      `json:"claim_type"`
	SnippetIDs      []string       `json:"snippet_ids"`
	Status          ArgumentStatus `json:"status"`
	StandardKey     string         `json:"standard_key,omitempty"`
	AIGenerated     bool           `json:"ai_generated"`
	Decision        Decision       `json:"decision"`
	Summary         string         `json:"summary,omitempty"`

	Conflict *SubjectConflictWarning `json:"conflict,omitempty"` // last subject conflict observed

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasSnippet reports whether the snippet id is a member
func (a Argument) HasSnippet(id string) bool {
	return slices.Contains(a.SnippetIDs, id)
}

// Clone returns a deep copy
func (a Argument) Clone() Argument {
	c := a
	c.SnippetIDs = slices.Clone(a.SnippetIDs)
	if a.Conflict != nil {
		w := *a.Conflict
		c.Conflict = &w
	}
	return c
}

// ArgumentPatch is a partial update; nil fields are left untouched
type ArgumentPatch struct {
	Title       *string         `json:"title,omitempty"`
	Subject     *string         `json:"subject,omitempty"`
	ClaimType   *ClaimType      `json:"claim_type,omitempty"`
	Status      *ArgumentStatus `json:"status,omitempty"`
	Decision    *Decision       `json:"decision,omitempty"`
	StandardKey *string         `json:"standard_key,omitempty"`
	Summary     *string         `json:"summary,omitempty"`
}

// UnassignedSnippet explains why bulk generation left a snippet out
type UnassignedSnippet struct {
	SnippetID string `json:"snippet_id"`
	Reason    string `json:"reason"`            // wrong_subject, no_subject
	Subject   string `json:"subject,omitempty"` // detected subject when it is not the applicant
}

const (
	UnassignedWrongSubject = "wrong_subject"
	UnassignedNoSubject    = "no_subject"
)

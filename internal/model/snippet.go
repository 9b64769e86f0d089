package model

import (
	"fmt"
	"slices"
	"time"
)

// BBoxScale is the upper bound of the normalized bounding box coordinate space
const BBoxScale = 1000

// BBox is a region on a page in normalized 0-1000 coordinates
type BBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Valid reports whether the box is non-empty and inside the normalized space
func (b BBox) Valid() bool {
	return b.X1 >= 0 && b.Y1 >= 0 &&
		b.X2 <= BBoxScale && b.Y2 <= BBoxScale &&
		b.X1 < b.X2 && b.Y1 < b.Y2
}

// Snippet is an atomic evidence fragment with its source location.
// Text and location never change after registration; only the tags
// (claim type, standard hint, subject and entity references) and the
// review flags are mutable.
type Snippet struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	ExhibitID  string `json:"exhibit_id"`
	Page       int    `json:"page"`
	BBox       *BBox  `json:"bbox,omitempty"` // nil when OCR produced no geometry
	Text       string `json:"text"`

	ClaimType       ClaimType `json:"claim_type,omitempty"`
	StandardKey     string    `json:"standard_key,omitempty"`
	SubjectEntityID string    `json:"subject_entity_id,omitempty"`
	EntityIDs       []string  `json:"entity_ids,omitempty"`

	// Confirmed is the reviewer's sign-off; AISuggested marks snippets
	// the extractor linked on its own.
	Confirmed   bool       `json:"is_confirmed"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	AISuggested bool       `json:"is_ai_suggested"`
}

// SnippetStats summarizes reviewer confirmation across a registry
type SnippetStats struct {
	Total            int     `json:"total"`
	Confirmed        int     `json:"confirmed"`
	AISuggested      int     `json:"ai_suggested"`
	ConfirmationRate float64 `json:"confirmation_rate"` // percent, one decimal
}

// SnippetID builds the canonical snippet id for a block of an exhibit
func SnippetID(exhibitID string, block int) string {
	return fmt.Sprintf("snp_%s_%d", exhibitID, block)
}

// SameSource reports whether two snippets agree on their immutable fields
func (s Snippet) SameSource(o Snippet) bool {
	if s.ID != o.ID || s.DocumentID != o.DocumentID || s.ExhibitID != o.ExhibitID ||
		s.Page != o.Page || s.Text != o.Text {
		return false
	}
	if (s.BBox == nil) != (o.BBox == nil) {
		return false
	}
	return s.BBox == nil || *s.BBox == *o.BBox
}

// HasEntity reports whether the snippet references the entity id directly
func (s Snippet) HasEntity(id string) bool {
	return slices.Contains(s.EntityIDs, id)
}

// Clone returns a deep copy
func (s Snippet) Clone() Snippet {
	c := s
	if s.BBox != nil {
		b := *s.BBox
		c.BBox = &b
	}
	c.EntityIDs = slices.Clone(s.EntityIDs)
	if s.ConfirmedAt != nil {
		t := *s.ConfirmedAt
		c.ConfirmedAt = &t
	}
	return c
}

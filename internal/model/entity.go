package model

import "slices"

// EntityType classifies a named referent
type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityOrganization EntityType = "organization"
	EntityAward        EntityType = "award"
	EntityPublication  EntityType = "publication"
	EntityPosition     EntityType = "position"
	EntityProject      EntityType = "project"
	EntityEvent        EntityType = "event"
	EntityMetric       EntityType = "metric"
	EntityOther        EntityType = "other"
)

// ParseEntityType maps free-form LLM output onto a known type
func ParseEntityType(s string) EntityType {
	switch EntityType(s) {
	case EntityPerson, EntityOrganization, EntityAward, EntityPublication,
		EntityPosition, EntityProject, EntityEvent, EntityMetric:
		return EntityType(s)
	case "org", "organisation", "institution", "company":
		return EntityOrganization
	case "people", "individual":
		return EntityPerson
	}
	return EntityOther
}

// Entity is a named real-world referent derived from snippet text.
// Merged entities are kept as redirects: MergedInto names the entity
// that absorbed them.
type Entity struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Type       EntityType `json:"type"`
	Identity   string     `json:"identity,omitempty"` // short description, e.g. "applicant" or "award committee"
	Mentions   int        `json:"mentions"`
	SnippetIDs []string   `json:"snippet_ids"`
	Aliases    []string   `json:"aliases,omitempty"`
	MergedInto string     `json:"merged_into,omitempty"`
}

// IsRedirect reports whether the entity has been merged into another
func (e Entity) IsRedirect() bool {
	return e.MergedInto != ""
}

// Clone returns a deep copy
func (e Entity) Clone() Entity {
	c := e
	c.SnippetIDs = slices.Clone(e.SnippetIDs)
	c.Aliases = slices.Clone(e.Aliases)
	return c
}

// Relation is a typed edge between two entities observed in snippets
type Relation struct {
	ID         string   `json:"id"`
	From       string   `json:"from"`
	To         string   `json:"to"`
	Type       string   `json:"type"` // received, member_of, employed_by, ...
	SnippetIDs []string `json:"snippet_ids"`
}

// Clone returns a deep copy
func (r Relation) Clone() Relation {
	c := r
	c.SnippetIDs = slices.Clone(r.SnippetIDs)
	return c
}

// LinkType classifies how two snippets are associated
type LinkType string

const (
	LinkCoreference LinkType = "coreference" // shared entities only
	LinkRelation    LinkType = "relation"    // shared relations only
	LinkHybrid      LinkType = "hybrid"      // both
)

// Link is a derived association between two snippets
type Link struct {
	SnippetA string   `json:"snippet_a"`
	SnippetB string   `json:"snippet_b"`
	Type     LinkType `json:"type"`
	Strength float64  `json:"strength"` // 0-1
}

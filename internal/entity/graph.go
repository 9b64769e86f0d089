// Package entity holds the entity graph: an arena of entity records plus
// a redirect table for merged entities, resolved at read time.
package entity

import (
	"fmt"
	"slices"
	"sort"

	"github.com/google/uuid"
	"github.com/ppiankov/petitrace/internal/model"
)

// Graph is the entity arena. Entities are appended and never removed;
// merging turns an entity into a redirect. Like the snippet registry it
// is mutated only through the project workspace and read from clones.
type Graph struct {
	arena     []model.Entity
	index     map[string]int
	relations []model.Relation
}

// NewGraph creates an empty graph
func NewGraph() *Graph {
	return &Graph{index: make(map[string]int)}
}

// FromRecords rebuilds a graph from persisted entities and relations
func FromRecords(entities []model.Entity, relations []model.Relation) (*Graph, error) {
	g := NewGraph()
	for _, e := range entities {
		if e.ID == "" {
			return nil, &model.InvariantViolationError{Op: "entity.load", Detail: "entity without id"}
		}
		if _, dup := g.index[e.ID]; dup {
			return nil, &model.InvariantViolationError{Op: "entity.load", Detail: "duplicate entity " + e.ID}
		}
		g.index[e.ID] = len(g.arena)
		g.arena = append(g.arena, e.Clone())
	}
	for _, e := range g.arena {
		if _, err := g.Resolve(e.ID); err != nil {
			return nil, err
		}
	}
	for _, r := range relations {
		g.relations = append(g.relations, r.Clone())
	}
	return g, nil
}

// NewID returns a fresh entity id
func NewID() string {
	return "ent_" + uuid.NewString()[:8]
}

// Add appends an entity, assigning an id when empty, and returns the id
func (g *Graph) Add(e model.Entity) string {
	if e.ID == "" {
		e.ID = NewID()
	}
	if e.Type == "" {
		e.Type = model.EntityOther
	}
	if i, ok := g.index[e.ID]; ok {
		g.arena[i] = e.Clone()
		return e.ID
	}
	g.index[e.ID] = len(g.arena)
	g.arena = append(g.arena, e.Clone())
	return e.ID
}

// Get returns the raw record for id, redirect or not
func (g *Graph) Get(id string) (model.Entity, bool) {
	i, ok := g.index[id]
	if !ok {
		return model.Entity{}, false
	}
	return g.arena[i].Clone(), true
}

// Resolve follows redirects to the canonical id. A missing entity or a
// redirect loop is an invariant violation.
func (g *Graph) Resolve(id string) (string, error) {
	seen := make(map[string]bool)
	cur := id
	for {
		i, ok := g.index[cur]
		if !ok {
			return "", &model.InvariantViolationError{Op: "entity.resolve", Detail: fmt.Sprintf("entity %s does not exist", cur)}
		}
		if seen[cur] {
			return "", &model.InvariantViolationError{Op: "entity.resolve", Detail: fmt.Sprintf("redirect cycle through %s", cur)}
		}
		seen[cur] = true
		next := g.arena[i].MergedInto
		if next == "" {
			return cur, nil
		}
		cur = next
	}
}

// Canonical returns the id unchanged when it cannot be resolved, so
// callers rewriting references never lose an id
func (g *Graph) Canonical(id string) string {
	c, err := g.Resolve(id)
	if err != nil {
		return id
	}
	return c
}

// Lookup resolves id and returns the canonical entity
func (g *Graph) Lookup(id string) (model.Entity, bool) {
	c, err := g.Resolve(id)
	if err != nil {
		return model.Entity{}, false
	}
	return g.Get(c)
}

// Entities returns canonical entities ordered by mentions, then name
func (g *Graph) Entities() []model.Entity {
	var out []model.Entity
	for _, e := range g.arena {
		if !e.IsRedirect() {
			out = append(out, e.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Mentions != out[j].Mentions {
			return out[i].Mentions > out[j].Mentions
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// All returns every record including redirects, in insertion order
func (g *Graph) All() []model.Entity {
	out := make([]model.Entity, len(g.arena))
	for i, e := range g.arena {
		out[i] = e.Clone()
	}
	return out
}

// Len returns the number of records including redirects
func (g *Graph) Len() int {
	return len(g.arena)
}

// People returns the canonical person entities
func (g *Graph) People() []model.Entity {
	var out []model.Entity
	for _, e := range g.Entities() {
		if e.Type == model.EntityPerson {
			out = append(out, e)
		}
	}
	return out
}

// FindByName returns the canonical entity of the given type whose name or
// alias normalizes to the same form. An empty type matches any type.
func (g *Graph) FindByName(name string, typ model.EntityType) (model.Entity, bool) {
	want := NormalizeName(name)
	if want == "" {
		return model.Entity{}, false
	}
	for _, e := range g.arena {
		if e.IsRedirect() || (typ != "" && e.Type != typ) {
			continue
		}
		if NormalizeName(e.Name) == want {
			return e.Clone(), true
		}
		for _, a := range e.Aliases {
			if NormalizeName(a) == want {
				return e.Clone(), true
			}
		}
	}
	return model.Entity{}, false
}

// Redirect merges alias into primary: the alias's names, mentions and
// snippets are folded into the primary and the alias becomes a redirect.
func (g *Graph) Redirect(aliasID, primaryID string) error {
	primary, err := g.Resolve(primaryID)
	if err != nil {
		return err
	}
	alias, err := g.Resolve(aliasID)
	if err != nil {
		return err
	}
	if alias == primary {
		return nil
	}

	p := &g.arena[g.index[primary]]
	a := &g.arena[g.index[alias]]

	p.Aliases = appendUnique(p.Aliases, a.Name)
	for _, n := range a.Aliases {
		p.Aliases = appendUnique(p.Aliases, n)
	}
	p.Aliases = slices.DeleteFunc(p.Aliases, func(n string) bool { return n == p.Name })
	p.Mentions += a.Mentions
	for _, s := range a.SnippetIDs {
		p.SnippetIDs = appendUnique(p.SnippetIDs, s)
	}
	if p.Identity == "" {
		p.Identity = a.Identity
	}
	a.MergedInto = primary
	return nil
}

// AddMention records that the entity appears in a snippet
func (g *Graph) AddMention(id, snippetID string) {
	i, ok := g.index[id]
	if !ok {
		return
	}
	e := &g.arena[i]
	if !slices.Contains(e.SnippetIDs, snippetID) {
		e.SnippetIDs = append(e.SnippetIDs, snippetID)
		e.Mentions++
	}
}

// AddAlias records an alternate name for a canonical entity
func (g *Graph) AddAlias(id, alias string) {
	i, ok := g.index[id]
	if !ok || alias == "" || alias == g.arena[i].Name {
		return
	}
	g.arena[i].Aliases = appendUnique(g.arena[i].Aliases, alias)
}

// Relations returns every relation
func (g *Graph) Relations() []model.Relation {
	out := make([]model.Relation, len(g.relations))
	for i, r := range g.relations {
		out[i] = r.Clone()
	}
	return out
}

// AddRelation adds a relation, folding it into an existing one with the
// same endpoints and type
func (g *Graph) AddRelation(r model.Relation) {
	if r.From == "" || r.To == "" || r.From == r.To {
		return
	}
	for i := range g.relations {
		ex := &g.relations[i]
		if ex.From == r.From && ex.To == r.To && ex.Type == r.Type {
			for _, s := range r.SnippetIDs {
				ex.SnippetIDs = appendUnique(ex.SnippetIDs, s)
			}
			return
		}
	}
	if r.ID == "" {
		r.ID = "rel_" + uuid.NewString()[:8]
	}
	g.relations = append(g.relations, r.Clone())
}

// RewriteRelations points relation endpoints at canonical ids, dropping
// self-loops and folding duplicates. It returns how many relations changed
// or were dropped.
func (g *Graph) RewriteRelations() int {
	changed := 0
	var out []model.Relation
	for _, r := range g.relations {
		from, to := g.Canonical(r.From), g.Canonical(r.To)
		if from != r.From || to != r.To {
			changed++
		}
		if from == to {
			continue
		}
		r.From, r.To = from, to

		dup := false
		for i := range out {
			if out[i].From == from && out[i].To == to && out[i].Type == r.Type {
				for _, s := range r.SnippetIDs {
					out[i].SnippetIDs = appendUnique(out[i].SnippetIDs, s)
				}
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, r)
		}
	}
	g.relations = out
	return changed
}

// Clone returns an independent copy
func (g *Graph) Clone() *Graph {
	c := &Graph{
		arena:     make([]model.Entity, len(g.arena)),
		index:     make(map[string]int, len(g.index)),
		relations: make([]model.Relation, len(g.relations)),
	}
	for i, e := range g.arena {
		c.arena[i] = e.Clone()
	}
	for id, i := range g.index {
		c.index[id] = i
	}
	for i, r := range g.relations {
		c.relations[i] = r.Clone()
	}
	return c
}

func appendUnique(list []string, v string) []string {
	if v == "" || slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}

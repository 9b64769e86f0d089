package entity

import (
	"github.com/ppiankov/petitrace/internal/model"
)

// DominantPerson resolves who a snippet is about: its subject entity when
// that is a person, else the most-mentioned person it references, else the
// registered person whose name best matches the text.
func DominantPerson(s model.Snippet, g *Graph) (model.Entity, bool) {
	if s.SubjectEntityID != "" {
		if e, ok := g.Lookup(s.SubjectEntityID); ok && e.Type == model.EntityPerson {
			return e, true
		}
	}

	var best model.Entity
	found := false
	for _, id := range s.EntityIDs {
		e, ok := g.Lookup(id)
		if !ok || e.Type != model.EntityPerson {
			continue
		}
		if !found || e.Mentions > best.Mentions {
			best, found = e, true
		}
	}
	if found {
		return best, true
	}

	bestScore := 0.0
	for _, p := range g.People() {
		score := TextMentions(s.Text, p.Name)
		for _, a := range p.Aliases {
			score = max(score, TextMentions(s.Text, a))
		}
		if score >= SubjectThreshold && score > bestScore {
			best, bestScore, found = p, score, true
		}
	}
	return best, found
}

// ArgumentSubject is the dominant person across an ordered snippet set:
// the person dominating the most snippets, ties going to the person whose
// latest snippet was added most recently
func ArgumentSubject(snippets []model.Snippet, g *Graph) (model.Entity, bool) {
	counts := make(map[string]int)
	last := make(map[string]int)
	people := make(map[string]model.Entity)
	for i, s := range snippets {
		p, ok := DominantPerson(s, g)
		if !ok {
			continue
		}
		counts[p.ID]++
		last[p.ID] = i
		people[p.ID] = p
	}

	var bestID string
	for id, n := range counts {
		if bestID == "" || n > counts[bestID] || (n == counts[bestID] && last[id] > last[bestID]) {
			bestID = id
		}
	}
	if bestID == "" {
		return model.Entity{}, false
	}
	return people[bestID], true
}

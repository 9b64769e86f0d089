package entity

import (
	"sort"

	"github.com/ppiankov/petitrace/internal/model"
)

var typeWeight = map[model.EntityType]float64{
	model.EntityPerson:       1.0,
	model.EntityOrganization: 0.8,
}

func weightOf(t model.EntityType) float64 {
	if w, ok := typeWeight[t]; ok {
		return w
	}
	return 0.6
}

// ComputeLinks derives inter-snippet links from shared canonical entities
// and shared relations. Strength is min(1, 0.3*sum(entity weights) +
// 0.4*shared relations).
func ComputeLinks(snippets []model.Snippet, g *Graph) []model.Link {
	entitySets := make(map[string]map[string]bool, len(snippets))
	for _, s := range snippets {
		set := make(map[string]bool)
		for _, id := range s.EntityIDs {
			set[g.Canonical(id)] = true
		}
		if s.SubjectEntityID != "" {
			set[g.Canonical(s.SubjectEntityID)] = true
		}
		entitySets[s.ID] = set
	}

	relSets := make(map[string]map[string]bool)
	for _, r := range g.Relations() {
		for _, sid := range r.SnippetIDs {
			if relSets[sid] == nil {
				relSets[sid] = make(map[string]bool)
			}
			relSets[sid][r.ID] = true
		}
	}

	var links []model.Link
	for i := 0; i < len(snippets); i++ {
		for j := i + 1; j < len(snippets); j++ {
			a, b := snippets[i].ID, snippets[j].ID

			weight := 0.0
			for id := range entitySets[a] {
				if !entitySets[b][id] {
					continue
				}
				e, ok := g.Get(id)
				if !ok {
					continue
				}
				weight += weightOf(e.Type)
			}
			shared := 0
			for id := range relSets[a] {
				if relSets[b][id] {
					shared++
				}
			}
			if weight == 0 && shared == 0 {
				continue
			}

			typ := model.LinkHybrid
			switch {
			case shared == 0:
				typ = model.LinkCoreference
			case weight == 0:
				typ = model.LinkRelation
			}
			links = append(links, model.Link{
				SnippetA: a,
				SnippetB: b,
				Type:     typ,
				Strength: min(1, 0.3*weight+0.4*float64(shared)),
			})
		}
	}

	sort.SliceStable(links, func(i, j int) bool {
		return links[i].Strength > links[j].Strength
	})
	return links
}

package mapping

import (
	"slices"

	"github.com/ppiankov/petitrace/internal/model"
)

// FocusKind says what a view is focused on
type FocusKind string

const (
	FocusArgument FocusKind = "argument"
	FocusStandard FocusKind = "standard"
	FocusSnippet  FocusKind = "snippet"
)

// View is focus state owned by the caller
type View struct {
	Kind FocusKind `json:"kind"`
	ID   string    `json:"id"`
}

// Highlight lists the ids connected to the focused item
type Highlight struct {
	Arguments []string `json:"arguments"`
	Standards []string `json:"standards"`
	Snippets  []string `json:"snippets"`
}

// Focus returns what to highlight for a view. It does not modify anything.
func Focus(view View, edges []model.MappingEdge, args []model.Argument) Highlight {
	var h Highlight
	byID := make(map[string]model.Argument, len(args))
	for _, a := range args {
		byID[a.ID] = a
	}

	switch view.Kind {
	case FocusArgument:
		a, ok := byID[view.ID]
		if !ok {
			return h
		}
		h.Arguments = []string{a.ID}
		h.Snippets = slices.Clone(a.SnippetIDs)
		for _, e := range ForArgument(edges, a.ID) {
			h.Standards = append(h.Standards, e.Target)
		}

	case FocusStandard:
		if _, ok := model.StandardByKey(view.ID); !ok {
			return h
		}
		h.Standards = []string{view.ID}
		for _, e := range edges {
			if e.Target != view.ID {
				continue
			}
			if a, ok := byID[e.Source]; ok {
				h.Arguments = append(h.Arguments, a.ID)
				h.Snippets = append(h.Snippets, a.SnippetIDs...)
			}
		}

	case FocusSnippet:
		if view.ID == "" {
			return h
		}
		h.Snippets = []string{view.ID}
		for _, a := range args {
			if !a.HasSnippet(view.ID) {
				continue
			}
			h.Arguments = append(h.Arguments, a.ID)
			for _, e := range ForArgument(edges, a.ID) {
				h.Standards = append(h.Standards, e.Target)
			}
		}
	}

	h.Arguments = sortedUnique(h.Arguments)
	h.Standards = sortedUnique(h.Standards)
	h.Snippets = sortedUnique(h.Snippets)
	return h
}

func sortedUnique(ids []string) []string {
	slices.Sort(ids)
	return slices.Compact(ids)
}

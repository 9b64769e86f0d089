package provenance

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ppiankov/petitrace/internal/model"
	"github.com/ppiankov/petitrace/internal/registry"
)

// Method selects how sentence references are resolved
type Method string

const (
	MethodExplicit Method = "explicit"
	MethodSemantic Method = "semantic"
	MethodHybrid   Method = "hybrid"
)

// ParseMethod parses a method name; empty means hybrid
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case "":
		return MethodHybrid, nil
	case MethodExplicit, MethodSemantic, MethodHybrid:
		return Method(s), nil
	}
	return "", fmt.Errorf("%w: provenance method %q", model.ErrInvalidInput, s)
}

// Resolver answers provenance queries over one state snapshot
type Resolver struct {
	registry  *registry.Registry
	arguments map[string]model.Argument
	sections  map[string]model.Section
	minScore  float64
	topK      int

	indexOnce sync.Once
	index     *termIndex
}

// NewResolver creates a resolver. Zero config values use the defaults.
func NewResolver(reg *registry.Registry, args []model.Argument, sections []model.Section, cfg model.ProvenanceConfig) *Resolver {
	r := &Resolver{
		registry:  reg,
		arguments: make(map[string]model.Argument, len(args)),
		sections:  make(map[string]model.Section, len(sections)),
		minScore:  cfg.MinSimilarity,
		topK:      cfg.TopK,
	}
	if r.minScore <= 0 {
		r.minScore = 0.35
	}
	if r.topK <= 0 {
		r.topK = 3
	}
	for _, a := range args {
		r.arguments[a.ID] = a
	}
	for _, s := range sections {
		r.sections[s.ID] = s
	}
	return r
}

// SentenceResult is the forward provenance of one sentence. A missing
// section or sentence gives no links and a recorded cause.
type SentenceResult struct {
	SectionID string                 `json:"section_id"`
	Index     int                    `json:"index"`
	Text      string                 `json:"text,omitempty"`
	Method    Method                 `json:"method"`
	Links     []model.ProvenanceLink `json:"links"`
	Cause     string                 `json:"cause,omitempty"`

	Err error `json:"-"`
}

// Sentence resolves the evidence behind one sentence
func (r *Resolver) Sentence(sectionID string, index int, method Method) SentenceResult {
	res := SentenceResult{SectionID: sectionID, Index: index, Method: method, Links: []model.ProvenanceLink{}}

	sec, ok := r.sections[sectionID]
	if !ok {
		res.Err = model.NotFound("section", sectionID)
		res.Cause = res.Err.Error()
		return res
	}
	if index < 0 || index >= len(sec.Sentences) {
		res.Err = model.NotFound("sentence", fmt.Sprintf("%s[%d]", sectionID, index))
		res.Cause = res.Err.Error()
		return res
	}
	sent := sec.Sentences[index]
	res.Text = sent.Text

	switch method {
	case MethodExplicit:
		res.Links = r.explicit(sent)
	case MethodSemantic:
		res.Links = r.semantic(sent.Text)
	default:
		res.Method = MethodHybrid
		if links := r.explicit(sent); len(links) > 0 {
			res.Links = links
		} else {
			res.Links = r.semantic(sent.Text)
		}
	}
	return res
}

// explicit expands stored citations. Cited arguments contribute each
// member snippet; ids that no longer resolve are dropped.
func (r *Resolver) explicit(sent model.Sentence) []model.ProvenanceLink {
	links := []model.ProvenanceLink{}
	pos := make(map[string]int)
	add := func(l model.ProvenanceLink) {
		if i, ok := pos[l.SnippetID]; ok {
			if l.Confidence > links[i].Confidence {
				links[i] = l
			}
			return
		}
		pos[l.SnippetID] = len(links)
		links = append(links, l)
	}

	for _, ref := range sent.References {
		if ref.MatchType != model.MatchExplicit {
			continue
		}
		if ref.SnippetID != "" {
			if s, ok := r.registry.Get(ref.SnippetID); ok {
				add(link(s, "", SnippetConfidence, model.MatchExplicit))
			}
		}
		if ref.ArgumentID != "" {
			a, ok := r.arguments[ref.ArgumentID]
			if !ok {
				continue
			}
			for _, id := range a.SnippetIDs {
				if s, ok := r.registry.Get(id); ok {
					add(link(s, a.ID, ArgumentConfidence, model.MatchExplicit))
				}
			}
		}
	}
	return links
}

func (r *Resolver) semantic(text string) []model.ProvenanceLink {
	r.indexOnce.Do(func() {
		r.index = newTermIndex(r.registry.All())
	})
	links := []model.ProvenanceLink{}
	for _, hit := range r.index.search(text, r.minScore, r.topK) {
		links = append(links, link(hit.snippet, "", hit.score, model.MatchSemantic))
	}
	return links
}

func link(s model.Snippet, argumentID string, confidence float64, match model.MatchType) model.ProvenanceLink {
	l := model.ProvenanceLink{
		SnippetID:  s.ID,
		ArgumentID: argumentID,
		DocumentID: s.DocumentID,
		ExhibitID:  s.ExhibitID,
		Page:       s.Page,
		Text:       s.Text,
		Confidence: confidence,
		MatchType:  match,
	}
	if s.BBox != nil {
		b := *s.BBox
		l.BBox = &b
	}
	return l
}

// Citation is one sentence that cites a snippet
type Citation struct {
	SectionID  string          `json:"section_id"`
	Index      int             `json:"index"`
	Text       string          `json:"text"`
	ArgumentID string          `json:"argument_id,omitempty"`
	Confidence float64         `json:"confidence"`
	MatchType  model.MatchType `json:"match_type"`
}

// ReverseResult is every sentence citing one snippet. An unknown snippet
// gives no citations and a recorded cause.
type ReverseResult struct {
	SnippetID string     `json:"snippet_id"`
	Citations []Citation `json:"citations"`
	Cause     string     `json:"cause,omitempty"`

	Err error `json:"-"`
}

// Reverse lists every sentence citing the snippet directly or through an
// argument containing it, ordered by section then sentence
func (r *Resolver) Reverse(snippetID string) ReverseResult {
	res := ReverseResult{SnippetID: snippetID, Citations: []Citation{}}
	if !r.registry.Has(snippetID) {
		res.Err = model.NotFound("snippet", snippetID)
		res.Cause = res.Err.Error()
		return res
	}

	for _, sec := range r.sortedSections() {
		for _, sent := range sec.Sentences {
			best := -1.0
			var hit Citation
			for _, ref := range sent.References {
				c, ok := r.cites(ref, snippetID)
				if ok && c.Confidence > best {
					best, hit = c.Confidence, c
				}
			}
			if best < 0 {
				continue
			}
			hit.SectionID = sec.ID
			hit.Index = sent.Index
			hit.Text = sent.Text
			res.Citations = append(res.Citations, hit)
		}
	}
	return res
}

func (r *Resolver) cites(ref model.Reference, snippetID string) (Citation, bool) {
	if ref.SnippetID == snippetID {
		return Citation{Confidence: ref.Confidence, MatchType: ref.MatchType}, true
	}
	if ref.ArgumentID != "" {
		if a, ok := r.arguments[ref.ArgumentID]; ok && a.HasSnippet(snippetID) {
			return Citation{ArgumentID: a.ID, Confidence: ArgumentConfidence, MatchType: ref.MatchType}, true
		}
	}
	return Citation{}, false
}

// Summary is citation coverage across sections
type Summary struct {
	Sections []model.SectionCoverage `json:"sections"`
	Usage    map[string]int          `json:"usage"`
	Unused   []string                `json:"unused"`
}

// Summary reports per-section coverage, per-snippet usage counts and the
// snippets never cited. An empty sectionID covers every section.
func (r *Resolver) Summary(sectionID string) (Summary, error) {
	sections := r.sortedSections()
	if sectionID != "" {
		sec, ok := r.sections[sectionID]
		if !ok {
			return Summary{}, model.NotFound("section", sectionID)
		}
		sections = []model.Section{sec}
	}

	sum := Summary{Usage: make(map[string]int), Unused: []string{}}
	for _, sec := range sections {
		cov := model.SectionCoverage{SectionID: sec.ID, Sentences: len(sec.Sentences)}
		for _, sent := range sec.Sentences {
			ids := r.citedSnippets(sent)
			if len(ids) > 0 {
				cov.Cited++
			}
			for _, id := range ids {
				sum.Usage[id]++
			}
		}
		if cov.Sentences > 0 {
			cov.Coverage = float64(cov.Cited) / float64(cov.Sentences)
		}
		sum.Sections = append(sum.Sections, cov)
	}

	for _, id := range r.registry.IDs() {
		if sum.Usage[id] == 0 {
			sum.Unused = append(sum.Unused, id)
		}
	}
	sort.Strings(sum.Unused)
	return sum, nil
}

// citedSnippets returns each snippet a sentence cites once
func (r *Resolver) citedSnippets(sent model.Sentence) []string {
	seen := make(map[string]bool)
	var ids []string
	mark := func(id string) {
		if !seen[id] && r.registry.Has(id) {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, ref := range sent.References {
		if ref.SnippetID != "" {
			mark(ref.SnippetID)
		}
		if a, ok := r.arguments[ref.ArgumentID]; ok {
			for _, id := range a.SnippetIDs {
				mark(id)
			}
		}
	}
	return ids
}

func (r *Resolver) sortedSections() []model.Section {
	out := make([]model.Section, 0, len(r.sections))
	for _, s := range r.sections {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

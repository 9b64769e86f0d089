package model

import "slices"

// MatchType tells how a sentence reference was established
type MatchType string

const (
	MatchExplicit MatchType = "explicit"
	MatchSemantic MatchType = "semantic"
)

// Reference ties a sentence to an argument and/or snippet
type Reference struct {
	ArgumentID string    `json:"argument_id,omitempty"`
	SnippetID  string    `json:"snippet_id,omitempty"`
	Confidence float64   `json:"confidence"`
	MatchType  MatchType `json:"match_type"`
}

// Sentence is an ordered unit of generated prose
type Sentence struct {
	Index      int         `json:"index"`
	Text       string      `json:"text"`
	References []Reference `json:"references,omitempty"`
}

// Section is a titled block of generated sentences
type Section struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Sentences []Sentence `json:"sentences"`
}

// Clone returns a deep copy
func (s Section) Clone() Section {
	c := s
	c.Sentences = make([]Sentence, len(s.Sentences))
	for i, sent := range s.Sentences {
		sent.References = slices.Clone(sent.References)
		c.Sentences[i] = sent
	}
	return c
}

// ProvenanceLink is a resolved evidence location for a sentence
type ProvenanceLink struct {
	SnippetID  string    `json:"snippet_id"`
	ArgumentID string    `json:"argument_id,omitempty"`
	DocumentID string    `json:"document_id"`
	ExhibitID  string    `json:"exhibit_id"`
	Page       int       `json:"page"`
	BBox       *BBox     `json:"bbox,omitempty"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	MatchType  MatchType `json:"match_type"`
}

// Package provenance links generated sentences to the evidence they cite.
package provenance

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/ppiankov/petitrace/internal/model"
)

// Confidence of explicit references
const (
	SnippetConfidence  = 1.0
	ArgumentConfidence = 0.9
)

var citePattern = regexp.MustCompile(`\[cite\s+([^\]]*)\]`)

// ParseCitations returns the ids cited by [cite id] and [cite id, id]
// markers in order of first appearance
func ParseCitations(text string) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, m := range citePattern.FindAllStringSubmatch(text, -1) {
		for _, id := range strings.FieldsFunc(m[1], func(r rune) bool { return r == ',' || r == ' ' || r == ';' }) {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// StripCitations removes citation markers and the space before them
func StripCitations(text string) string {
	text = citePattern.ReplaceAllString(text, "")
	text = strings.Join(strings.Fields(text), " ")
	return strings.NewReplacer(" .", ".", " ,", ",", " ;", ";").Replace(text)
}

// SplitSentences splits prose on sentence terminators followed by
// whitespace. Citation markers stay with the sentence they follow.
func SplitSentences(text string) []string {
	text = strings.ReplaceAll(text, "\n", " ")

	var sentences []string
	var current strings.Builder
	depth := 0
	ended := false // terminator seen, waiting for its trailing marker
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
		ended = false
	}

	for i, r := range text {
		current.WriteRune(r)
		switch r {
		case '[':
			depth++
		case ']':
			if depth > 0 {
				depth--
			}
			if depth == 0 && ended {
				rest := strings.TrimLeft(text[i+1:], " \t")
				if !strings.HasPrefix(rest, "[cite") {
					flush()
				}
			}
		case '.', '!', '?':
			if depth > 0 || i+1 >= len(text) || (text[i+1] != ' ' && text[i+1] != '\t') {
				continue
			}
			// Keep a trailing marker: "... award. [cite A]"
			if rest := strings.TrimLeft(text[i+1:], " \t"); strings.HasPrefix(rest, "[cite") {
				ended = true
				continue
			}
			if isAbbreviation(current.String()) {
				continue
			}
			flush()
		}
	}
	flush()
	return sentences
}

var abbreviations = []string{"dr.", "prof.", "mr.", "ms.", "mrs.", "st.", "no.", "vs.", "e.g.", "i.e.", "et al.", "u.s."}

func isAbbreviation(s string) bool {
	lower := strings.ToLower(s)
	for _, a := range abbreviations {
		if strings.HasSuffix(lower, " "+a) || lower == a {
			return true
		}
	}
	return false
}

// NewSectionID returns a fresh section id
func NewSectionID() string {
	return "sec_" + uuid.NewString()[:8]
}

// BuildSection turns raw sentence texts into a section. Citation markers
// become explicit references and are removed from the stored text. An id
// is treated as an argument when isArgument reports so, otherwise as a
// snippet.
func BuildSection(id, title string, texts []string, isArgument func(string) bool) model.Section {
	sec := model.Section{ID: id, Title: title, Sentences: make([]model.Sentence, 0, len(texts))}
	for _, raw := range texts {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		s := model.Sentence{Index: len(sec.Sentences), Text: StripCitations(raw)}
		for _, ref := range ParseCitations(raw) {
			if isArgument != nil && isArgument(ref) {
				s.References = append(s.References, model.Reference{ArgumentID: ref, Confidence: ArgumentConfidence, MatchType: model.MatchExplicit})
				continue
			}
			s.References = append(s.References, model.Reference{SnippetID: ref, Confidence: SnippetConfidence, MatchType: model.MatchExplicit})
		}
		sec.Sentences = append(sec.Sentences, s)
	}
	return sec
}

// CheckReferences rejects a section citing an id that is neither an
// argument nor a registered snippet. BuildSection has already sorted
// argument ids out, so every snippet reference must satisfy isSnippet.
func CheckReferences(sec model.Section, isSnippet func(string) bool) error {
	for _, sent := range sec.Sentences {
		for _, ref := range sent.References {
			if ref.SnippetID != "" && !isSnippet(ref.SnippetID) {
				return &model.InvariantViolationError{
					Op:     "section.save",
					Detail: fmt.Sprintf("section %s sentence %d cites unknown id %q", sec.ID, sent.Index, ref.SnippetID),
				}
			}
		}
	}
	return nil
}

package provenance

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/ppiankov/petitrace/internal/model"
)

var stopwords = toSet(strings.Fields(`a an the and or but of in on at to for from by with as is are was were be been
being has have had do does did this that these those it its he she his her they them their
which who whom whose what when where why how not no nor so than too very can will would should
could may might must shall also into over under about after before during between through
such each other more most some any all both only own same just there here then once`))

func toSet(words []string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

// termVector is a stop-word filtered term frequency vector
type termVector struct {
	tf   map[string]float64
	norm float64
}

func vectorize(text string) termVector {
	v := termVector{tf: make(map[string]float64)}
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if len(w) < 2 || stopwords[w] {
			continue
		}
		v.tf[w]++
	}
	for _, n := range v.tf {
		v.norm += n * n
	}
	v.norm = math.Sqrt(v.norm)
	return v
}

// Cosine returns the cosine similarity of two vectors, 0 for empty ones
func (v termVector) Cosine(o termVector) float64 {
	if v.norm == 0 || o.norm == 0 {
		return 0
	}
	small, large := v, o
	if len(small.tf) > len(large.tf) {
		small, large = large, small
	}
	var dot float64
	for term, n := range small.tf {
		dot += n * large.tf[term]
	}
	return dot / (v.norm * o.norm)
}

// TextSimilarity is the cosine similarity of two texts' term frequencies
func TextSimilarity(a, b string) float64 {
	return vectorize(a).Cosine(vectorize(b))
}

type scored struct {
	snippet model.Snippet
	score   float64
}

// termIndex holds one vector per snippet
type termIndex struct {
	snippets []model.Snippet
	vectors  []termVector
}

func newTermIndex(snippets []model.Snippet) *termIndex {
	idx := &termIndex{snippets: snippets, vectors: make([]termVector, len(snippets))}
	for i, s := range snippets {
		idx.vectors[i] = vectorize(s.Text)
	}
	return idx
}

// search returns up to topK snippets scoring at least minScore, best first
func (idx *termIndex) search(text string, minScore float64, topK int) []scored {
	q := vectorize(text)
	var hits []scored
	for i, v := range idx.vectors {
		if sim := q.Cosine(v); sim >= minScore {
			hits = append(hits, scored{snippet: idx.snippets[i], score: sim})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].snippet.ID < hits[j].snippet.ID
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

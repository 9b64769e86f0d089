package entity

import (
	"regexp"
	"strings"
	"unicode"
)

// SubjectThreshold is the name similarity at which two names are taken
// to refer to the same person
const SubjectThreshold = 0.6

var (
	titlePattern   = regexp.MustCompile(`(?i)^(mr|ms|mrs|dr|prof|professor|sir)\.?\s+`)
	articlePattern = regexp.MustCompile(`(?i)^the\s+`)
)

var connectives = map[string]bool{"of": true, "and": true, "the": true, "for": true, "in": true, "on": true, "&": true}

// NormalizeName lowercases a name, strips honorifics and a leading article,
// drops punctuation and collapses whitespace
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	for {
		stripped := titlePattern.ReplaceAllString(name, "")
		stripped = articlePattern.ReplaceAllString(stripped, "")
		if stripped == name {
			break
		}
		name = stripped
	}
	name = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return unicode.ToLower(r)
		case r == '&':
			return r
		case unicode.IsSpace(r), r == '-', r == '/':
			return ' '
		}
		return -1
	}, name)
	return strings.Join(strings.Fields(name), " ")
}

// NameSimilarity scores two names in [0,1] as the best of token-subset,
// acronym, initials and Jaccard token overlap on normalized names
func NameSimilarity(a, b string) float64 {
	na, nb := NormalizeName(a), NormalizeName(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	ta, tb := strings.Fields(na), strings.Fields(nb)

	best := jaccard(ta, tb)
	if s := subsetScore(ta, tb); s > best {
		best = s
	}
	if acronymMatch(ta, tb) || acronymMatch(tb, ta) {
		best = max(best, 0.9)
	}
	if initialsMatch(ta, tb) {
		best = max(best, 0.85)
	}
	return best
}

// SameSubject reports whether two person names refer to the same subject
func SameSubject(a, b string) bool {
	return NameSimilarity(a, b) >= SubjectThreshold
}

// subsetScore rewards a shorter name whose tokens all occur in the longer
// one, e.g. "Chen" within "Wei Chen"
func subsetScore(a, b []string) float64 {
	short, long := a, b
	if len(short) > len(long) {
		short, long = long, short
	}
	set := toSet(long)
	for _, t := range short {
		if !set[t] {
			return 0
		}
	}
	if len(short) == len(long) {
		return 1
	}
	return 0.8
}

// acronymMatch reports whether the single token of a spells the initials
// of b's significant words ("ieee" for "institute of electrical and
// electronics engineers")
func acronymMatch(a, b []string) bool {
	if len(a) != 1 || len(b) < 2 || len(a[0]) < 2 {
		return false
	}
	var initials strings.Builder
	for _, t := range b {
		if connectives[t] {
			continue
		}
		r := []rune(t)
		initials.WriteRune(r[0])
	}
	return initials.String() == a[0]
}

// initialsMatch handles "j smith" against "john smith": same last token,
// and the remaining tokens agree on their first letter
func initialsMatch(a, b []string) bool {
	if len(a) != len(b) || len(a) < 2 {
		return false
	}
	if a[len(a)-1] != b[len(b)-1] {
		return false
	}
	abbreviated := false
	for i := 0; i < len(a)-1; i++ {
		x, y := a[i], b[i]
		if x == y {
			continue
		}
		if x[0] != y[0] || (len(x) > 1 && len(y) > 1) {
			return false
		}
		abbreviated = true
	}
	return abbreviated
}

func jaccard(a, b []string) float64 {
	sa, sb := toSet(a), toSet(b)
	inter := 0
	for t := range sa {
		if sb[t] {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// TextMentions scores how well a person's name appears in free text: the
// fraction of the name's normalized tokens found among the text's tokens
func TextMentions(text, name string) float64 {
	nameTokens := strings.Fields(NormalizeName(name))
	if len(nameTokens) == 0 {
		return 0
	}
	textTokens := toSet(strings.Fields(NormalizeName(text)))
	found := 0
	for _, t := range nameTokens {
		if textTokens[t] {
			found++
		}
	}
	return float64(found) / float64(len(nameTokens))
}

// EditDistance is the Levenshtein distance between two strings
func EditDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

// NearSameName reports exact or near-exact equality of two normalized
// names: equal, or one edit apart when both are at least six characters
func NearSameName(a, b string) bool {
	na, nb := NormalizeName(a), NormalizeName(b)
	if na == "" || nb == "" {
		return false
	}
	if na == nb {
		return true
	}
	if len(na) < 6 || len(nb) < 6 {
		return false
	}
	return EditDistance(na, nb) <= 1
}

func toSet(tokens []string) map[string]bool {
	s := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		s[t] = true
	}
	return s
}

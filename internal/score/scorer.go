package score

import (
	"fmt"
	"sort"

	"github.com/ppiankov/petitrace/internal/model"
	"github.com/ppiankov/petitrace/internal/registry"
)

// Input is the state the scorer reads
type Input struct {
	Registry  *registry.Registry
	Arguments []model.Argument
	Edges     []model.MappingEdge

	// Unused lists snippets never cited; only meaningful when HasSections
	Unused      []string
	HasSections bool
}

// Scorer calculates the readiness index and generates signals
type Scorer struct{}

// NewScorer creates a new scorer
func NewScorer() *Scorer {
	return &Scorer{}
}

// Calculate grades evidence per standard and scores petition readiness
func (s *Scorer) Calculate(in Input) (model.Score, []model.StandardCoverage) {
	coverage := s.Coverage(in)

	var signals []model.Signal

	// 1. Standards met (0-60 points)
	met, metScore, metSignal := s.calculateStandardsMet(coverage)
	signals = append(signals, metSignal)

	// 2. Evidence strength (0-20 points)
	strengthScore := s.calculateStrength(coverage, met)

	// 3. Verification progress (0-10 points)
	verifyScore, draftSignal := s.calculateVerification(in.Arguments)
	if draftSignal.Type != "" {
		signals = append(signals, draftSignal)
	}

	// 4. Evidence usage (0-10 points)
	usageScore, unusedSignal := s.calculateUsage(in)
	if unusedSignal.Type != "" {
		signals = append(signals, unusedSignal)
	}

	// 5. Pending mappings (informational)
	if pending := s.detectPending(in.Edges); pending.Type != "" {
		signals = append(signals, pending)
	}

	// 6. Subject conflicts (penalty)
	conflicts, conflictSignal := s.detectConflicts(in.Arguments)
	if conflicts > 0 {
		signals = append(signals, conflictSignal)
	}

	total := metScore + strengthScore + verifyScore + usageScore
	if conflicts > 0 {
		total -= 10
		if total < 0 {
			total = 0
		}
	}

	return model.Score{
		Index:      total,
		Confidence: s.determineConfidence(total, met, conflicts > 0),
		Met:        met,
		Signals:    signals,
	}, coverage
}

// Coverage collects, per standard, the arguments with a confirmed edge and
// the snippets and exhibits behind them
func (s *Scorer) Coverage(in Input) []model.StandardCoverage {
	byID := make(map[string]model.Argument, len(in.Arguments))
	for _, a := range in.Arguments {
		byID[a.ID] = a
	}

	var out []model.StandardCoverage
	for _, std := range model.Standards() {
		c := model.StandardCoverage{Standard: std, Arguments: []string{}, SnippetIDs: []string{}, Exhibits: []string{}, Locations: []string{}}
		snippets := make(map[string]bool)
		exhibits := make(map[string]bool)
		for _, e := range in.Edges {
			if !e.Confirmed || e.Target != std.Key {
				continue
			}
			a, ok := byID[e.Source]
			if !ok || a.Decision == model.DecisionExcluded {
				continue
			}
			c.Arguments = append(c.Arguments, a.ID)
			for _, id := range a.SnippetIDs {
				snip, ok := in.Registry.Get(id)
				if !ok || snippets[id] {
					continue
				}
				snippets[id] = true
				c.SnippetIDs = append(c.SnippetIDs, id)
				c.Locations = append(c.Locations, Location(snip))
				if snip.ExhibitID != "" {
					exhibits[snip.ExhibitID] = true
				}
			}
		}
		for ex := range exhibits {
			c.Exhibits = append(c.Exhibits, ex)
		}
		sort.Strings(c.Arguments)
		sort.Strings(c.Exhibits)
		c.Strength = strength(len(c.SnippetIDs))
		out = append(out, c)
	}
	return out
}

// Location formats where a snippet sits in the exhibits
func Location(s model.Snippet) string {
	exhibit := s.ExhibitID
	if exhibit == "" {
		exhibit = s.DocumentID
	}
	return fmt.Sprintf("Exhibit %s, p. %d", exhibit, s.Page)
}

func strength(snippets int) model.Strength {
	switch {
	case snippets >= 3:
		return model.StrengthStrong
	case snippets >= 1:
		return model.StrengthModerate
	}
	return model.StrengthNone
}

// calculateStandardsMet scores how many standards have evidence (0-60 points)
func (s *Scorer) calculateStandardsMet(coverage []model.StandardCoverage) (int, int, model.Signal) {
	met := 0
	var keys []string
	for _, c := range coverage {
		if c.Strength != model.StrengthNone {
			met++
			keys = append(keys, c.Standard.Key)
		}
	}

	score := min(met*20, 60)
	severity := model.SeverityInfo
	description := fmt.Sprintf("%d of %d standards have evidence", met, len(coverage))
	if met < model.MinStandardsMet {
		severity = model.SeverityCritical
		description = fmt.Sprintf("Only %d of %d standards have evidence (%d required)", met, len(coverage), model.MinStandardsMet)
	}

	return met, score, model.Signal{
		Type:        model.SignalStandardsMet,
		Severity:    severity,
		Description: description,
		Data: map[string]interface{}{
			"met":      met,
			"required": model.MinStandardsMet,
			"keys":     keys,
			"score":    score,
			"formula":  "min(met * 20, 60)",
		},
	}
}

// calculateStrength rewards depth of evidence (0-20 points)
func (s *Scorer) calculateStrength(coverage []model.StandardCoverage, met int) int {
	if met == 0 {
		return 0
	}
	weighted := 0
	for _, c := range coverage {
		switch c.Strength {
		case model.StrengthStrong:
			weighted += 2
		case model.StrengthModerate:
			weighted++
		}
	}
	maxPossible := max(met, model.MinStandardsMet) * 2
	return min(weighted*20/maxPossible, 20)
}

// calculateVerification scores the share of arguments past draft (0-10 points)
func (s *Scorer) calculateVerification(args []model.Argument) (int, model.Signal) {
	if len(args) == 0 {
		return 0, model.Signal{}
	}
	var drafts []string
	counted := 0
	for _, a := range args {
		if a.Decision == model.DecisionExcluded {
			continue
		}
		counted++
		if a.Status == model.StatusDraft {
			drafts = append(drafts, a.ID)
		}
	}
	if counted == 0 {
		return 0, model.Signal{}
	}

	score := (counted - len(drafts)) * 10 / counted
	if len(drafts) == 0 {
		return score, model.Signal{}
	}
	return score, model.Signal{
		Type:        model.SignalDraftArguments,
		Severity:    model.SeverityWarning,
		Description: fmt.Sprintf("%d of %d arguments are still drafts", len(drafts), counted),
		Data: map[string]interface{}{
			"drafts":    drafts,
			"arguments": counted,
			"score":     score,
			"formula":   "(arguments - drafts) / arguments * 10",
		},
	}
}

// calculateUsage scores how much evidence the letter cites (0-10 points)
func (s *Scorer) calculateUsage(in Input) (int, model.Signal) {
	total := 0
	if in.Registry != nil {
		total = in.Registry.Len()
	}
	if !in.HasSections || total == 0 {
		return 0, model.Signal{}
	}

	used := total - len(in.Unused)
	score := used * 10 / total
	if len(in.Unused) == 0 {
		return score, model.Signal{}
	}
	return score, model.Signal{
		Type:        model.SignalUnusedEvidence,
		Severity:    model.SeverityWarning,
		Description: fmt.Sprintf("%d of %d snippets are never cited", len(in.Unused), total),
		Data: map[string]interface{}{
			"unused":  len(in.Unused),
			"total":   total,
			"score":   score,
			"formula": "(snippets - unused) / snippets * 10",
		},
	}
}

// detectPending reports mapping suggestions nobody confirmed yet
func (s *Scorer) detectPending(edges []model.MappingEdge) model.Signal {
	pending := 0
	for _, e := range edges {
		if !e.Confirmed {
			pending++
		}
	}
	if pending == 0 {
		return model.Signal{}
	}
	return model.Signal{
		Type:        model.SignalPendingMappings,
		Severity:    model.SeverityInfo,
		Description: fmt.Sprintf("%d mapping suggestions are not confirmed", pending),
		Data:        map[string]interface{}{"pending": pending},
	}
}

// detectConflicts finds arguments whose snippets disagree on the subject
func (s *Scorer) detectConflicts(args []model.Argument) (int, model.Signal) {
	var ids []string
	for _, a := range args {
		if a.Conflict != nil && a.Decision != model.DecisionExcluded {
			ids = append(ids, a.ID)
		}
	}
	if len(ids) == 0 {
		return 0, model.Signal{}
	}
	return len(ids), model.Signal{
		Type:        model.SignalSubjectConflicts,
		Severity:    model.SeverityWarning,
		Description: fmt.Sprintf("%d arguments mix evidence about different people", len(ids)),
		Data: map[string]interface{}{
			"arguments": ids,
			"penalty":   10,
		},
	}
}

// determineConfidence determines the confidence level based on the score
func (s *Scorer) determineConfidence(score, met int, conflict bool) string {
	if met < model.MinStandardsMet {
		return "low"
	}
	if conflict {
		return "low-medium"
	}

	if score >= 80 {
		return "high"
	} else if score >= 60 {
		return "medium"
	}
	return "low"
}

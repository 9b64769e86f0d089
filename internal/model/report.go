package model

import "time"

// Report is the petition readiness report for one project
type Report struct {
	Project     string    `json:"project"`
	Applicant   string    `json:"applicant,omitempty"`
	Stage       Stage     `json:"stage"`
	GeneratedAt time.Time `json:"generated_at"`

	Score     Score              `json:"score"`
	Standards []StandardCoverage `json:"standards"`
	Arguments []Argument         `json:"arguments"`

	UnusedSnippets []string          `json:"unused_snippets,omitempty"` // never cited by any sentence
	Coverage       []SectionCoverage `json:"coverage,omitempty"`
}

// StandardCoverage is the evidence backing one criterion
type StandardCoverage struct {
	Standard   Standard `json:"standard"`
	Strength   Strength `json:"strength"`
	Arguments  []string `json:"arguments"`  // argument ids with a confirmed edge
	SnippetIDs []string `json:"snippet_ids"`
	Exhibits   []string `json:"exhibits"`
	Locations  []string `json:"locations"` // "Exhibit 3, p. 2" per snippet
}

// Strength grades how well a criterion is evidenced
type Strength string

const (
	StrengthNone     Strength = "none"
	StrengthModerate Strength = "moderate" // 1-2 snippets
	StrengthStrong   Strength = "strong"   // 3+ snippets
)

// SectionCoverage reports how many sentences of a section cite evidence
type SectionCoverage struct {
	SectionID string  `json:"section_id"`
	Sentences int     `json:"sentences"`
	Cited     int     `json:"cited"`
	Coverage  float64 `json:"coverage"` // Cited / Sentences
}

// Score is the transparent readiness breakdown
type Score struct {
	Index      int      `json:"index"`      // 0-100
	Confidence string   `json:"confidence"` // low, medium, high
	Met        int      `json:"met"`        // standards with evidence
	Signals    []Signal `json:"signals"`
}

// Signal is a diagnostic with the data that produced it
type Signal struct {
	Type        SignalType             `json:"type"`
	Severity    SignalSeverity         `json:"severity"`
	Description string                 `json:"description"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// SignalType classifies a signal
type SignalType string

const (
	SignalStandardsMet     SignalType = "standards_met"
	SignalDraftArguments   SignalType = "draft_arguments"
	SignalUnusedEvidence   SignalType = "unused_evidence"
	SignalPendingMappings  SignalType = "pending_mappings"
	SignalSubjectConflicts SignalType = "subject_conflicts"
)

// SignalSeverity indicates the importance of a signal
type SignalSeverity string

const (
	SeverityInfo     SignalSeverity = "info"
	SeverityWarning  SignalSeverity = "warning"
	SeverityCritical SignalSeverity = "critical"
)

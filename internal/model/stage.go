package model

// Stage is the project's position in the petition workflow
type Stage string

const (
	StageOCRComplete       Stage = "ocr_complete"
	StageExtracting        Stage = "extracting"
	StageSnippetsReady     Stage = "snippets_ready"
	StageSnippetsConfirmed Stage = "snippets_confirmed"
	StageConfirming        Stage = "confirming"
	StageMappingConfirmed  Stage = "mapping_confirmed"
	StageGenerating        Stage = "generating"
	StagePetitionReady     Stage = "petition_ready"
)

var stageOrder = []Stage{
	StageOCRComplete,
	StageExtracting,
	StageSnippetsReady,
	StageSnippetsConfirmed,
	StageConfirming,
	StageMappingConfirmed,
	StageGenerating,
	StagePetitionReady,
}

// Rank returns the stage's position, or -1 when unknown
func (s Stage) Rank() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Later returns whichever of the two stages is further along
func Later(a, b Stage) Stage {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

package extract

import (
	"strings"

	"github.com/ppiankov/petitrace/internal/model"
)

// ClaimClassifier tags snippets with a claim type by keyword when the
// model gives no usable evidence type
type ClaimClassifier struct {
	rules []keywordRule
}

type keywordRule struct {
	claim    model.ClaimType
	keywords []string
}

// NewClaimClassifier creates a classifier with the default keyword table.
// Rules are checked in order, so more specific claims come first.
func NewClaimClassifier() *ClaimClassifier {
	return &ClaimClassifier{
		rules: []keywordRule{
			{model.ClaimJudging, []string{"peer review", "reviewer", "judge", "judging", "jury", "program committee", "editorial board"}},
			{model.ClaimSalary, []string{"salary", "compensation", "remuneration", "annual pay", "stock grant"}},
			{model.ClaimAward, []string{"award", "prize", "medal", "honor", "honour", "recipient of"}},
			{model.ClaimMembership, []string{"member of", "membership", "fellow of", "elected fellow", "inducted"}},
			{model.ClaimMedia, []string{"interview", "featured in", "reported by", "news", "magazine", "article about"}},
			{model.ClaimPublication, []string{"published", "journal", "proceedings", "citations", "cited by", "co-authored", "paper"}},
			{model.ClaimExhibition, []string{"exhibition", "exhibited", "gallery", "showcase"}},
			{model.ClaimLeadingRole, []string{"chief", "director", "head of", "founder", "led the", "lead engineer", "principal"}},
			{model.ClaimCommercial, []string{"box office", "sales", "revenue", "chart", "sold out"}},
			{model.ClaimContribution, []string{"patent", "invented", "pioneered", "adopted by", "original contribution", "developed"}},
		},
	}
}

// Classify returns the first matching claim type, or other
func (c *ClaimClassifier) Classify(text string) model.ClaimType {
	lower := strings.ToLower(text)
	for _, r := range c.rules {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return r.claim
			}
		}
	}
	return model.ClaimOther
}

package model

import "time"

// Standard is one of the fixed legal eligibility criteria
type Standard struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	Citation string `json:"citation"`
}

// MinStandardsMet is how many criteria a petition has to satisfy
const MinStandardsMet = 3

var standards = []Standard{
	{Key: "awards", Name: "Nationally or Internationally Recognized Awards", Citation: "8 C.F.R. §204.5(h)(3)(i)"},
	{Key: "membership", Name: "Membership in Associations Requiring Outstanding Achievement", Citation: "8 C.F.R. §204.5(h)(3)(ii)"},
	{Key: "published_material", Name: "Published Material About the Applicant", Citation: "8 C.F.R. §204.5(h)(3)(iii)"},
	{Key: "judging", Name: "Judging the Work of Others", Citation: "8 C.F.R. §204.5(h)(3)(iv)"},
	{Key: "original_contribution", Name: "Original Contributions of Major Significance", Citation: "8 C.F.R. §204.5(h)(3)(v)"},
	{Key: "scholarly_articles", Name: "Authorship of Scholarly Articles", Citation: "8 C.F.R. §204.5(h)(3)(vi)"},
	{Key: "exhibitions", Name: "Display of Work at Exhibitions", Citation: "8 C.F.R. §204.5(h)(3)(vii)"},
	{Key: "leading_role", Name: "Leading or Critical Role in Distinguished Organizations", Citation: "8 C.F.R. §204.5(h)(3)(viii)"},
	{Key: "high_salary", Name: "High Salary or Remuneration", Citation: "8 C.F.R. §204.5(h)(3)(ix)"},
	{Key: "commercial_success", Name: "Commercial Success in the Performing Arts", Citation: "8 C.F.R. §204.5(h)(3)(x)"},
}

// Standards returns the criteria in regulatory order
func Standards() []Standard {
	out := make([]Standard, len(standards))
	copy(out, standards)
	return out
}

// StandardByKey looks up a criterion
func StandardByKey(key string) (Standard, bool) {
	for _, s := range standards {
		if s.Key == key {
			return s, true
		}
	}
	return Standard{}, false
}

var claimStandard = map[ClaimType]string{
	ClaimAward:        "awards",
	ClaimMembership:   "membership",
	ClaimMedia:        "published_material",
	ClaimJudging:      "judging",
	ClaimContribution: "original_contribution",
	ClaimPublication:  "scholarly_articles",
	ClaimExhibition:   "exhibitions",
	ClaimLeadingRole:  "leading_role",
	ClaimSalary:       "high_salary",
	ClaimCommercial:   "commercial_success",
}

// StandardForClaim returns the default criterion a claim type supports
func StandardForClaim(c ClaimType) (string, bool) {
	k, ok := claimStandard[c]
	return k, ok
}

// MappingEdge connects an argument to a standard. Unconfirmed edges are
// suggestions; confirmed edges are accepted mappings.
type MappingEdge struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"` // argument id
	Target    string    `json:"target"` // standard key
	Confirmed bool      `json:"confirmed"`
	CreatedAt time.Time `json:"created_at"`
}

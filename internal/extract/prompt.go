package extract

import (
	"fmt"
	"strings"

	"github.com/ppiankov/petitrace/internal/model"
)

const systemPrompt = `You extract structured facts from exhibits supporting an EB-1A extraordinary ability petition.
For every snippet identify the person whose achievement it describes, whether that achievement belongs to the applicant, and the kind of evidence.
Extract named entities (person, organization, award, publication, position, project, event, metric, other) and relations between them.
Use names exactly as written. Only report relations stated in the text.`

func buildPrompt(chunk []model.Snippet, applicant string) string {
	var b strings.Builder
	if applicant != "" {
		fmt.Fprintf(&b, "Applicant: %s\n\n", applicant)
	}
	b.WriteString("Snippets:\n")
	for _, s := range chunk {
		fmt.Fprintf(&b, "[%s] %s\n", s.ID, s.Text)
	}
	b.WriteString(`
Return JSON:
{
  "snippets": [{"id": "snippet id", "subject": "person name or empty", "is_applicant_achievement": true, "evidence_type": "award|membership|publication|contribution|salary|judging|media|leading_role|exhibition|commercial|other"}],
  "entities": [{"name": "...", "type": "person|organization|award|publication|position|project|event|metric|other", "identity": "short description", "snippet_ids": ["..."]}],
  "relations": [{"from": "entity name", "to": "entity name", "type": "received|member_of|employed_by|authored|judged|founded|...", "snippet_ids": ["..."]}]
}`)
	return b.String()
}

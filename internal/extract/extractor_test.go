package extract

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/petitrace/internal/entity"
	"github.com/ppiankov/petitrace/internal/llm"
	"github.com/ppiankov/petitrace/internal/llm/llmtest"
	"github.com/ppiankov/petitrace/internal/model"
)

func newExtractor(p llm.Provider) *Extractor {
	client := llm.NewClient(p, llm.ClientOptions{Timeout: 5 * time.Second})
	return New(client, model.ExtractionConfig{ChunkChars: 1500, ChunkSnippets: 3, Concurrency: 2})
}

func snip(id, text string) model.Snippet {
	return model.Snippet{ID: id, DocumentID: "doc1", ExhibitID: "A", Page: 1, Text: text}
}

const twoSnippetReply = `{
  "snippets": [
    {"id": "s1", "subject": "Dr. Chen", "is_applicant_achievement": true, "evidence_type": "award"},
    {"id": "s2", "subject": "", "is_applicant_achievement": false, "evidence_type": "other"}
  ],
  "entities": [
    {"name": "Dr. Chen", "type": "person", "identity": "applicant", "snippet_ids": ["s1"]},
    {"name": "IEEE Best Paper Award", "type": "award", "snippet_ids": ["s1"]},
    {"name": "Dr. Zhang", "type": "person", "snippet_ids": ["s2"]},
    {"name": "ACM", "type": "org", "snippet_ids": ["s2", "bogus"]}
  ],
  "relations": [
    {"from": "Dr. Chen", "to": "IEEE Best Paper Award", "type": "received", "snippet_ids": ["s1"]},
    {"from": "Dr. Zhang", "to": "Nobody", "type": "member_of", "snippet_ids": ["s2"]}
  ]
}`

func TestExtractor_Extract(t *testing.T) {
	p := &llmtest.Scripted{Default: llmtest.Reply{Text: twoSnippetReply}}
	e := newExtractor(p)
	g := entity.NewGraph()

	res, err := e.Extract(context.Background(), []model.Snippet{
		snip("s1", "Dr. Chen received the IEEE Best Paper Award."),
		snip("s2", "Dr. Zhang is a member of ACM."),
	}, g, "Dr. Chen")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if p.CallCount() != 1 {
		t.Errorf("Expected one chunk call, got %d", p.CallCount())
	}
	if res.Partial() {
		t.Errorf("Unexpected failures: %+v", res.Failed)
	}
	if len(res.Entities) != 4 {
		t.Fatalf("Expected 4 entities, got %d: %+v", len(res.Entities), res.Entities)
	}

	s1, s2 := res.Snippets[0], res.Snippets[1]
	chen, ok := g.FindByName("Chen", model.EntityPerson)
	if !ok {
		t.Fatal("Expected Dr. Chen in the graph")
	}
	if s1.SubjectEntityID != chen.ID {
		t.Errorf("Expected s1 subject %s, got %s", chen.ID, s1.SubjectEntityID)
	}
	if s1.ClaimType != model.ClaimAward {
		t.Errorf("Expected s1 tagged award, got %s", s1.ClaimType)
	}
	if s2.ClaimType != model.ClaimMembership {
		t.Errorf("Expected keyword fallback to tag s2 membership, got %s", s2.ClaimType)
	}
	if len(s2.EntityIDs) != 2 {
		t.Errorf("Expected s2 to reference Zhang and ACM, got %v", s2.EntityIDs)
	}
	if len(g.Relations()) != 1 {
		t.Errorf("Expected relation to unknown entity to be dropped, got %+v", g.Relations())
	}
}

func TestExtractor_DedupesWithinBatch(t *testing.T) {
	reply := `{"snippets": [], "relations": [], "entities": [
		{"name": "Stanford University", "type": "organization", "snippet_ids": ["s1"]},
		{"name": "Stanford Universty", "type": "organization", "snippet_ids": ["s2"]},
		{"name": "Stanford University", "type": "event", "snippet_ids": ["s2"]}
	]}`
	e := newExtractor(&llmtest.Scripted{Default: llmtest.Reply{Text: reply}})
	g := entity.NewGraph()

	res, err := e.Extract(context.Background(), []model.Snippet{
		snip("s1", "She studied at Stanford University."),
		snip("s2", "Stanford Universty hosted the event."),
	}, g, "")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(res.Entities) != 2 {
		t.Fatalf("Expected near-duplicate names of the same type folded, got %+v", res.Entities)
	}
	org, _ := g.FindByName("Stanford University", model.EntityOrganization)
	if org.Mentions != 2 || len(org.Aliases) != 1 {
		t.Errorf("Expected folded mentions and alias, got %+v", org)
	}
}

func TestExtractor_RetriesFailedChunkPerSnippet(t *testing.T) {
	s1Reply := `{"snippets": [{"id": "s1", "subject": "Dr. Chen", "evidence_type": "award"}], "entities": [], "relations": []}`
	p := (&llmtest.Scripted{}).
		Once("[s1]", llmtest.Reply{Text: "I cannot answer that"}).
		On("[s1]", llmtest.Reply{Text: s1Reply}).
		On("[s2]", llmtest.Reply{Err: errors.New("upstream 503")})
	e := newExtractor(p)

	res, err := e.Extract(context.Background(), []model.Snippet{
		snip("s1", "Dr. Chen received an award."),
		snip("s2", "Unreadable scan."),
	}, entity.NewGraph(), "")
	if err != nil {
		t.Fatalf("Partial failure must not be an error: %v", err)
	}
	if p.CallCount() != 3 {
		t.Errorf("Expected 1 chunk call and 2 single-snippet retries, got %d", p.CallCount())
	}
	if len(res.Failed) != 1 || res.Failed[0].SnippetIDs[0] != "s2" {
		t.Fatalf("Expected s2 reported as failed, got %+v", res.Failed)
	}
	if !res.Failed[0].Retryable {
		t.Error("Upstream failure should be retry safe")
	}
	if len(res.Snippets) != 2 {
		t.Errorf("Extraction must never drop snippets, got %d", len(res.Snippets))
	}
	if res.Snippets[0].SubjectEntityID == "" {
		t.Error("Expected s1 to be extracted on retry")
	}
	if len(res.Snippets[1].EntityIDs) != 0 {
		t.Error("Failed snippet should stay unlinked")
	}
}

func TestExtractor_PermanentErrorSkipsRetry(t *testing.T) {
	p := &llmtest.Scripted{Default: llmtest.Reply{Err: &llm.StatusError{Provider: "openai", Code: 401, Message: "bad key"}}}
	e := newExtractor(p)

	res, err := e.Extract(context.Background(), []model.Snippet{
		snip("s1", "Dr. Chen received an award."),
		snip("s2", "Dr. Chen judged a competition."),
	}, entity.NewGraph(), "")
	if err != nil {
		t.Fatalf("Partial failure must not be an error: %v", err)
	}
	if p.CallCount() != 1 {
		t.Errorf("Expected no retry after a rejected key, got %d calls", p.CallCount())
	}
	if len(res.Failed) != 1 || len(res.Failed[0].SnippetIDs) != 2 || res.Failed[0].Retryable {
		t.Errorf("Expected one non-retryable failure covering both snippets, got %+v", res.Failed)
	}
}

func TestExtractor_Disabled(t *testing.T) {
	e := New(llm.NewClient(nil, llm.ClientOptions{}), model.ExtractionConfig{})
	g := entity.NewGraph()
	res, err := e.Extract(context.Background(), []model.Snippet{
		snip("s1", "Dr. Chen received the Best Paper Award."),
		snip("s2", "Unreadable scan."),
	}, g, "")
	if err != nil {
		t.Fatalf("Missing provider must not drop snippets: %v", err)
	}
	if len(res.Snippets) != 2 || g.Len() != 0 {
		t.Errorf("Expected both snippets back and no entities, got %d snippets, %d entities", len(res.Snippets), g.Len())
	}
	if res.Snippets[0].ClaimType != model.ClaimAward {
		t.Errorf("Expected keyword tagging without a provider, got %s", res.Snippets[0].ClaimType)
	}
	if len(res.Failed) != 1 || len(res.Failed[0].SnippetIDs) != 2 || res.Failed[0].Retryable {
		t.Errorf("Expected one non-retryable failure covering every snippet, got %+v", res.Failed)
	}
	if !strings.Contains(res.Failed[0].Cause, model.ErrLLMDisabled.Error()) {
		t.Errorf("Expected the missing provider as cause, got %q", res.Failed[0].Cause)
	}
}

func TestExtractor_Cancelled(t *testing.T) {
	e := newExtractor(&llmtest.Scripted{Default: llmtest.Reply{Block: true}})
	g := entity.NewGraph()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := e.Extract(ctx, []model.Snippet{snip("s1", "a"), snip("s2", "b")}, g, "")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected context error, got %v", err)
	}
	if g.Len() != 0 {
		t.Error("Cancelled extraction must not touch the graph")
	}
}

func TestChunkSnippets(t *testing.T) {
	var snippets []model.Snippet
	for i := 0; i < 5; i++ {
		snippets = append(snippets, snip(string(rune('a'+i)), strings.Repeat("x", 10)))
	}

	chunks := chunkSnippets(snippets, 1500, 3)
	if len(chunks) != 2 || len(chunks[0]) != 3 || len(chunks[1]) != 2 {
		t.Errorf("Expected 3+2 by snippet count, got %d chunks", len(chunks))
	}

	chunks = chunkSnippets(snippets, 25, 3)
	if len(chunks) != 3 {
		t.Errorf("Expected 3 chunks by size, got %d", len(chunks))
	}

	big := []model.Snippet{snip("big", strings.Repeat("x", 5000))}
	if chunks := chunkSnippets(big, 1500, 3); len(chunks) != 1 {
		t.Errorf("Oversized snippet should get its own chunk, got %d", len(chunks))
	}
}

func TestClaimClassifier(t *testing.T) {
	c := NewClaimClassifier()
	tests := map[string]model.ClaimType{
		"She served as a reviewer for NeurIPS.":           model.ClaimJudging,
		"He won the Turing Award in 2019.":                model.ClaimAward,
		"Elected Fellow of the Royal Society":             model.ClaimMembership,
		"Her paper was published in Nature.":              model.ClaimPublication,
		"The weather was pleasant during the conference.": model.ClaimOther,
	}
	for text, want := range tests {
		if got := c.Classify(text); got != want {
			t.Errorf("Classify(%q) = %s, want %s", text, got, want)
		}
	}
}

package merge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ppiankov/petitrace/internal/entity"
	"github.com/ppiankov/petitrace/internal/llm"
	"github.com/ppiankov/petitrace/internal/llm/llmtest"
	"github.com/ppiankov/petitrace/internal/model"
	"github.com/ppiankov/petitrace/internal/registry"
)

func testEntities() []model.Entity {
	return []model.Entity{
		{ID: "e1", Name: "Dr. Wei Chen", Type: model.EntityPerson, Mentions: 4, SnippetIDs: []string{"s1", "s2"}},
		{ID: "e2", Name: "Chen", Type: model.EntityPerson, Mentions: 1, SnippetIDs: []string{"s2"}},
		{ID: "e3", Name: "IEEE", Type: model.EntityOrganization, SnippetIDs: []string{"s1"}},
		{ID: "e4", Name: "Institute of Electrical and Electronics Engineers", Type: model.EntityOrganization, SnippetIDs: []string{"s1", "s3"}},
		{ID: "e5", Name: "Dr. Zhang", Type: model.EntityPerson, SnippetIDs: []string{"s4"}},
		{ID: "e6", Name: "Chen", Type: model.EntityAward, SnippetIDs: []string{"s5"}},
	}
}

func TestEngine_ClustersBySameTypeOnly(t *testing.T) {
	e := New(nil, model.MergeConfig{})
	clusters := e.clusters(testEntities())

	if len(clusters) != 2 {
		t.Fatalf("Expected 2 clusters, got %d", len(clusters))
	}
	for _, c := range clusters {
		for _, m := range c.members {
			if m.ID == "e5" || m.ID == "e6" {
				t.Errorf("Entity %s should not be clustered", m.ID)
			}
		}
	}
}

func TestEngine_SuggestHeuristic(t *testing.T) {
	e := New(llm.NewClient(nil, llm.ClientOptions{}), model.MergeConfig{})

	suggestions, err := e.Suggest(context.Background(), testEntities(), "")
	if err != nil {
		t.Fatalf("Suggest failed: %v", err)
	}
	if len(suggestions) != 2 {
		t.Fatalf("Expected 2 heuristic suggestions, got %+v", suggestions)
	}
	for _, s := range suggestions {
		if s.Status != model.MergePending {
			t.Errorf("Expected pending status, got %s", s.Status)
		}
		if s.PrimaryEntityID == "e2" || s.PrimaryEntityID == "e3" {
			t.Errorf("Expected the longest name as primary, got %s", s.PrimaryName)
		}
	}
}

func TestEngine_SuggestWithLLM(t *testing.T) {
	p := (&llmtest.Scripted{}).
		On("Dr. Wei Chen", llmtest.Reply{Text: `{"merge_suggestions": [{"primary_name": "Wei Chen", "merge_names": ["Chen", "Somebody Else"], "reason": "same person", "confidence": 0.95}]}`}).
		On("IEEE", llmtest.Reply{Text: `{"merge_suggestions": [{"primary_name": "IEEE", "merge_names": ["Institute of Electrical and Electronics Engineers"], "reason": "acronym", "confidence": 0.5}]}`})
	e := New(llm.NewClient(p, llm.ClientOptions{Timeout: 5 * time.Second}), model.MergeConfig{Parallelism: 2})

	suggestions, err := e.Suggest(context.Background(), testEntities(), "Dr. Wei Chen")
	if err != nil {
		t.Fatalf("Suggest failed: %v", err)
	}
	if p.CallCount() != 2 {
		t.Errorf("Expected one call per cluster, got %d", p.CallCount())
	}
	if len(suggestions) != 1 {
		t.Fatalf("Expected the low confidence suggestion dropped, got %+v", suggestions)
	}
	s := suggestions[0]
	if s.PrimaryEntityID != "e1" || len(s.AliasEntityIDs) != 1 || s.AliasEntityIDs[0] != "e2" {
		t.Errorf("Unexpected suggestion: %+v", s)
	}
}

func TestEngine_SuggestCancelled(t *testing.T) {
	p := &llmtest.Scripted{Default: llmtest.Reply{Block: true}}
	e := New(llm.NewClient(p, llm.ClientOptions{Timeout: 5 * time.Second}), model.MergeConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Suggest(ctx, testEntities(), ""); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected cancellation, got %v", err)
	}
}

func TestConfirm(t *testing.T) {
	suggestions := []model.MergeSuggestion{
		{ID: "m1", Status: model.MergePending},
		{ID: "m2", Status: model.MergeAccepted, Applied: true},
	}

	res, err := Confirm(suggestions, []model.MergeDecision{
		{ID: "m1", Status: model.MergeAccepted},
		{ID: "m2", Status: model.MergeRejected},
		{ID: "nope", Status: model.MergeAccepted},
	})
	if err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if len(res.Acknowledged) != 1 || len(res.Conflicts) != 1 || len(res.NotFound) != 1 {
		t.Errorf("Unexpected result: %+v", res)
	}
	if suggestions[0].Status != model.MergeAccepted {
		t.Error("Expected m1 accepted")
	}
	if suggestions[1].Status != model.MergeAccepted {
		t.Error("Applied suggestion must be frozen")
	}

	// Re-recording before apply is allowed.
	if _, err := Confirm(suggestions, []model.MergeDecision{{ID: "m1", Status: model.MergeRejected}}); err != nil {
		t.Fatal(err)
	}
	if suggestions[0].Status != model.MergeRejected {
		t.Error("Expected decision to be re-recorded")
	}

	if _, err := Confirm(suggestions, []model.MergeDecision{{ID: "m1", Status: "maybe"}}); !errors.Is(err, model.ErrInvalidInput) {
		t.Errorf("Expected invalid status error, got %v", err)
	}
}

func applyFixture(t *testing.T) *Target {
	t.Helper()
	g, err := entity.FromRecords(testEntities(), nil)
	if err != nil {
		t.Fatal(err)
	}
	g.AddRelation(model.Relation{From: "e2", To: "e3", Type: "member_of", SnippetIDs: []string{"s2"}})
	g.AddRelation(model.Relation{From: "e1", To: "e3", Type: "member_of", SnippetIDs: []string{"s1"}})

	reg := registry.New()
	for _, s := range []model.Snippet{
		{ID: "s1", DocumentID: "d", Text: "a", EntityIDs: []string{"e1", "e3"}},
		{ID: "s2", DocumentID: "d", Text: "b", EntityIDs: []string{"e2", "e1"}, SubjectEntityID: "e2"},
		{ID: "s3", DocumentID: "d", Text: "c", EntityIDs: []string{"e4"}},
	} {
		if _, err := reg.Add(s); err != nil {
			t.Fatal(err)
		}
	}

	return &Target{
		Graph:     g,
		Registry:  reg,
		Arguments: []model.Argument{{ID: "a1", SubjectEntityID: "e2"}},
		Suggestions: []model.MergeSuggestion{
			{ID: "m1", PrimaryEntityID: "e1", AliasEntityIDs: []string{"e2"}, Status: model.MergeAccepted},
			{ID: "m2", PrimaryEntityID: "e4", AliasEntityIDs: []string{"e3"}, Status: model.MergeRejected},
		},
	}
}

func TestApply(t *testing.T) {
	tgt := applyFixture(t)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	n, err := Apply(tgt, now)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected merged_count 1, got %d", n)
	}

	for _, s := range tgt.Registry.All() {
		for _, id := range s.EntityIDs {
			if canonical, _ := tgt.Graph.Resolve(id); canonical != id {
				t.Errorf("Snippet %s still references redirect %s", s.ID, id)
			}
		}
	}
	s2, _ := tgt.Registry.Get("s2")
	if s2.SubjectEntityID != "e1" || len(s2.EntityIDs) != 1 {
		t.Errorf("Expected s2 rewritten to e1 only, got %+v", s2)
	}
	if tgt.Arguments[0].SubjectEntityID != "e1" {
		t.Errorf("Expected argument subject rewritten, got %s", tgt.Arguments[0].SubjectEntityID)
	}
	if rels := tgt.Graph.Relations(); len(rels) != 1 {
		t.Errorf("Expected duplicate relation folded, got %+v", rels)
	}
	if !tgt.Suggestions[0].Applied || tgt.Suggestions[1].Applied {
		t.Error("Only the accepted suggestion should be applied")
	}
	if len(tgt.History) != 1 || tgt.History[0].SnippetsRewritten != 1 {
		t.Errorf("Unexpected history: %+v", tgt.History)
	}

	// Idempotent.
	before := tgt.Graph.All()
	n, err = Apply(tgt, now.Add(time.Hour))
	if err != nil || n != 0 {
		t.Fatalf("Second apply: n=%d err=%v", n, err)
	}
	after := tgt.Graph.All()
	if len(before) != len(after) {
		t.Error("Second apply changed the graph")
	}
	for i := range before {
		if before[i].MergedInto != after[i].MergedInto || before[i].Mentions != after[i].Mentions {
			t.Errorf("Second apply changed entity %s", before[i].ID)
		}
	}
	if len(tgt.History) != 1 {
		t.Error("Second apply must not add history")
	}
}

func TestApply_InvariantViolationAbortsAll(t *testing.T) {
	tgt := applyFixture(t)
	tgt.Suggestions = append(tgt.Suggestions, model.MergeSuggestion{
		ID: "m3", PrimaryEntityID: "e5", AliasEntityIDs: []string{"missing"}, Status: model.MergeAccepted,
	})

	_, err := Apply(tgt, time.Now())
	var iv *model.InvariantViolationError
	if !errors.As(err, &iv) {
		t.Fatalf("Expected InvariantViolationError, got %v", err)
	}
	if e2, _ := tgt.Graph.Get("e2"); e2.IsRedirect() {
		t.Error("Earlier suggestions must not be applied when a later one is invalid")
	}
	if tgt.Suggestions[0].Applied {
		t.Error("Suggestion marked applied after abort")
	}
}

func TestManual(t *testing.T) {
	g, _ := entity.FromRecords(testEntities(), nil)

	s, err := Manual(g, "Institute of Electrical and Electronics Engineers", []string{"IEEE"}, "acronym")
	if err != nil {
		t.Fatalf("Manual failed: %v", err)
	}
	if s.Status != model.MergeAccepted || s.Confidence != 1.0 || !s.Manual {
		t.Errorf("Unexpected manual suggestion: %+v", s)
	}
	if s.PrimaryEntityID != "e4" || s.AliasEntityIDs[0] != "e3" {
		t.Errorf("Unexpected ids: %+v", s)
	}

	if _, err := Manual(g, "IEEE", []string{"Nobody"}, ""); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}

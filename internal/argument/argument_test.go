package argument

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/ppiankov/petitrace/internal/entity"
	"github.com/ppiankov/petitrace/internal/llm"
	"github.com/ppiankov/petitrace/internal/llm/llmtest"
	"github.com/ppiankov/petitrace/internal/model"
	"github.com/ppiankov/petitrace/internal/registry"
)

// Snippet A and C are about Dr. Chen, B about Dr. Zhang, D about nobody.
func scenario(t *testing.T) (*registry.Registry, *entity.Graph) {
	t.Helper()
	g := entity.NewGraph()
	g.Add(model.Entity{ID: "chen", Name: "Dr. Chen", Type: model.EntityPerson, Mentions: 2})
	g.Add(model.Entity{ID: "zhang", Name: "Dr. Zhang", Type: model.EntityPerson, Mentions: 1})
	g.Add(model.Entity{ID: "ieee", Name: "IEEE", Type: model.EntityOrganization})

	reg := registry.New()
	for _, s := range []model.Snippet{
		{ID: "A", DocumentID: "d1", Page: 1, Text: "Dr. Chen received IEEE Award", ClaimType: model.ClaimAward, SubjectEntityID: "chen", EntityIDs: []string{"chen", "ieee"}},
		{ID: "B", DocumentID: "d1", Page: 1, Text: "Dr. Zhang received ACM Fellowship", ClaimType: model.ClaimAward, SubjectEntityID: "zhang"},
		{ID: "C", DocumentID: "d1", Page: 2, Text: "The committee selected Dr. Chen for the award", ClaimType: model.ClaimAward},
		{ID: "D", DocumentID: "d1", Page: 3, Text: "The ceremony was held in Boston.", ClaimType: model.ClaimOther},
	} {
		if _, err := reg.Add(s); err != nil {
			t.Fatal(err)
		}
	}
	return reg, g
}

func TestBook_CreateAndAdd(t *testing.T) {
	reg, g := scenario(t)
	b := NewBook(reg, g)

	a, err := b.Create("A")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if a.Status != model.StatusDraft || a.Subject != "Dr. Chen" || a.Title != "Dr. Chen's Awards" {
		t.Errorf("Unexpected argument: %+v", a)
	}

	if w, err := b.AddSnippet(&a, "C"); err != nil || w != nil {
		t.Fatalf("Adding a same-subject snippet: warning=%v err=%v", w, err)
	}

	w, err := b.AddSnippet(&a, "B")
	if err != nil {
		t.Fatalf("Conflicting add must still succeed: %v", err)
	}
	if w == nil || w.Existing != "Dr. Chen" || w.Incoming != "Dr. Zhang" {
		t.Fatalf("Expected subject conflict warning, got %+v", w)
	}
	if len(a.SnippetIDs) != 3 || a.Conflict == nil {
		t.Errorf("Expected snippet added with conflict recorded, got %+v", a)
	}

	if w, err := b.AddSnippet(&a, "B"); err != nil || w != nil || len(a.SnippetIDs) != 3 {
		t.Errorf("Re-adding a member should be a no-op")
	}
	if _, err := b.AddSnippet(&a, "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestBook_RemoveLastSnippetKeepsDraft(t *testing.T) {
	reg, g := scenario(t)
	b := NewBook(reg, g)
	a, _ := b.Create("A")
	a.Status = model.StatusVerified

	if err := b.RemoveSnippet(&a, "A"); err != nil {
		t.Fatalf("RemoveSnippet failed: %v", err)
	}
	if len(a.SnippetIDs) != 0 || a.Status != model.StatusDraft {
		t.Errorf("Expected empty draft argument, got %+v", a)
	}
	if err := b.RemoveSnippet(&a, "A"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Expected not found removing a non-member, got %v", err)
	}
}

func TestBook_Update(t *testing.T) {
	reg, g := scenario(t)
	b := NewBook(reg, g)
	a, _ := b.Create("A")

	verified := model.StatusVerified
	if err := b.Update(&a, model.ArgumentPatch{Status: &verified}); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	pending := model.DecisionPending
	approved := model.DecisionApproved
	_ = b.Update(&a, model.ArgumentPatch{Decision: &approved})
	if err := b.Update(&a, model.ArgumentPatch{Decision: &pending}); err != nil {
		t.Fatal(err)
	}
	if a.Decision != model.DecisionPending || a.Status != model.StatusVerified {
		t.Errorf("Pending decision must reset only the decision, got %+v", a)
	}

	draft := model.StatusDraft
	if err := b.Update(&a, model.ArgumentPatch{Status: &draft}); err != nil || a.Status != model.StatusDraft {
		t.Errorf("Status should be allowed to move back: %v", err)
	}

	empty := ""
	err := b.Update(&a, model.ArgumentPatch{Title: &empty, Status: &verified})
	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if a.Title == "" || a.Status != model.StatusDraft {
		t.Error("Refused update must leave the argument unchanged")
	}

	bad := model.ClaimType("bogus")
	if err := b.Update(&a, model.ArgumentPatch{ClaimType: &bad}); !errors.Is(err, model.ErrInvalidInput) {
		t.Errorf("Expected invalid input, got %v", err)
	}

	subject := "Dr. Zhang"
	if err := b.Update(&a, model.ArgumentPatch{Subject: &subject}); err != nil || a.SubjectEntityID != "zhang" {
		t.Errorf("Subject override should resolve the entity, got %q (%v)", a.SubjectEntityID, err)
	}
}

func TestCheckDelete(t *testing.T) {
	edges := []model.MappingEdge{
		{ID: "m1", Source: "a1", Target: "awards", Confirmed: false},
		{ID: "m2", Source: "a2", Target: "awards", Confirmed: true},
	}
	if err := CheckDelete("a1", edges); err != nil {
		t.Errorf("Unconfirmed edge should not block delete: %v", err)
	}
	var iv *model.InvariantViolationError
	if err := CheckDelete("a2", edges); !errors.As(err, &iv) {
		t.Errorf("Expected invariant violation, got %v", err)
	}
}

func TestGenerator_Scenario(t *testing.T) {
	reg, g := scenario(t)
	p := &llmtest.Scripted{Default: llmtest.Reply{Text: `{"title": "Recognition by IEEE", "summary": "Dr. Chen was recognized."}`}}
	gen := NewGenerator(llm.NewClient(p, llm.ClientOptions{Timeout: 5 * time.Second}), model.ArgumentConfig{})

	res, err := gen.Generate(context.Background(), reg, g, nil, "Dr. Chen")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(res.Arguments) != 1 {
		t.Fatalf("Expected one argument, got %+v", res.Arguments)
	}
	a := res.Arguments[0]
	if len(a.SnippetIDs) != 2 || a.SnippetIDs[0] != "A" || a.SnippetIDs[1] != "C" {
		t.Errorf("Expected A and C grouped, got %v", a.SnippetIDs)
	}
	if a.Title != "Recognition by IEEE" || !a.AIGenerated || a.SubjectEntityID != "chen" {
		t.Errorf("Unexpected argument: %+v", a)
	}

	reasons := make(map[string]model.UnassignedSnippet)
	for _, u := range res.Unassigned {
		reasons[u.SnippetID] = u
	}
	if u := reasons["B"]; u.Reason != model.UnassignedWrongSubject || u.Subject != "Dr. Zhang" {
		t.Errorf("Expected B unassigned as wrong_subject, got %+v", u)
	}
	if u := reasons["D"]; u.Reason != model.UnassignedNoSubject {
		t.Errorf("Expected D unassigned as no_subject, got %+v", u)
	}

	// Every snippet lands exactly once.
	var all []string
	for _, a := range res.Arguments {
		all = append(all, a.SnippetIDs...)
	}
	all = append(all, res.UnassignedIDs()...)
	sort.Strings(all)
	want := reg.IDs()
	sort.Strings(want)
	if len(all) != len(want) {
		t.Fatalf("Expected %v, got %v", want, all)
	}
	for i := range want {
		if all[i] != want[i] {
			t.Errorf("Partition mismatch at %d: %s vs %s", i, all[i], want[i])
		}
	}
}

func TestGenerator_FallbackTitleAndExisting(t *testing.T) {
	reg, g := scenario(t)
	p := &llmtest.Scripted{Default: llmtest.Reply{Err: errors.New("rate limited")}}
	gen := NewGenerator(llm.NewClient(p, llm.ClientOptions{Timeout: 5 * time.Second}), model.ArgumentConfig{})

	existing := []model.Argument{{ID: "old", SnippetIDs: []string{"C"}}}
	res, err := gen.Generate(context.Background(), reg, g, existing, "Chen")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(res.Arguments) != 1 {
		t.Fatalf("Expected one argument, got %d", len(res.Arguments))
	}
	a := res.Arguments[0]
	if a.Title != "Chen's Awards" || a.Summary != "" {
		t.Errorf("Expected fallback title, got %q / %q", a.Title, a.Summary)
	}
	if len(a.SnippetIDs) != 1 || a.SnippetIDs[0] != "A" {
		t.Errorf("Already grouped snippets must be skipped, got %v", a.SnippetIDs)
	}
}

func TestGenerator_Cancelled(t *testing.T) {
	reg, g := scenario(t)
	p := &llmtest.Scripted{Default: llmtest.Reply{Block: true}}
	gen := NewGenerator(llm.NewClient(p, llm.ClientOptions{Timeout: 5 * time.Second}), model.ArgumentConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := gen.Generate(ctx, reg, g, nil, "Dr. Chen"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline error, got %v", err)
	}
}

func TestGenerator_RequiresApplicant(t *testing.T) {
	reg, g := scenario(t)
	gen := NewGenerator(nil, model.ArgumentConfig{})
	if _, err := gen.Generate(context.Background(), reg, g, nil, "  "); !errors.Is(err, model.ErrInvalidInput) {
		t.Errorf("Expected invalid input, got %v", err)
	}
}

package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/ppiankov/petitrace/internal/model"
)

func snippet(id, doc string, page int) model.Snippet {
	return model.Snippet{
		ID:         id,
		DocumentID: doc,
		ExhibitID:  "A",
		Page:       page,
		BBox:       &model.BBox{X1: 10, Y1: 10, X2: 500, Y2: 60},
		Text:       "text of " + id,
	}
}

func TestRegistry_AddIdempotent(t *testing.T) {
	r := New()
	s := snippet("snp_A_1", "doc1", 1)

	added, err := r.Add(s)
	if err != nil || !added {
		t.Fatalf("First add: added=%v err=%v", added, err)
	}
	added, err = r.Add(s)
	if err != nil || added {
		t.Fatalf("Re-adding identical snippet should be a no-op: added=%v err=%v", added, err)
	}
	if r.Len() != 1 {
		t.Errorf("Expected 1 snippet, got %d", r.Len())
	}
}

func TestRegistry_AddConflictingSource(t *testing.T) {
	r := New()
	_, _ = r.Add(snippet("snp_A_1", "doc1", 1))

	changed := snippet("snp_A_1", "doc1", 1)
	changed.Text = "different"

	_, err := r.Add(changed)
	var iv *model.InvariantViolationError
	if !errors.As(err, &iv) {
		t.Fatalf("Expected InvariantViolationError, got %v", err)
	}
	got, _ := r.Get("snp_A_1")
	if got.Text != "text of snp_A_1" {
		t.Errorf("Original text must be kept, got %q", got.Text)
	}
}

func TestRegistry_RejectsBadBBox(t *testing.T) {
	tests := []model.BBox{
		{X1: 10, Y1: 10, X2: 5, Y2: 60},
		{X1: 0, Y1: 0, X2: 1001, Y2: 60},
		{X1: -1, Y1: 0, X2: 10, Y2: 10},
		{X1: 10, Y1: 10, X2: 10, Y2: 20},
	}
	for _, b := range tests {
		r := New()
		s := snippet("snp_A_1", "doc1", 1)
		bb := b
		s.BBox = &bb
		if _, err := r.Add(s); err == nil {
			t.Errorf("Expected bbox %+v to be rejected", b)
		}
	}

	r := New()
	s := snippet("snp_A_2", "doc1", 1)
	s.BBox = nil
	if _, err := r.Add(s); err != nil {
		t.Errorf("Nil bbox should be accepted: %v", err)
	}
}

func TestRegistry_OrderingAndDocuments(t *testing.T) {
	r := New()
	_, _ = r.Add(snippet("snp_B_3", "doc2", 1))
	_, _ = r.Add(snippet("snp_A_2", "doc1", 2))
	_, _ = r.Add(snippet("snp_A_1", "doc1", 1))

	all := r.All()
	want := []string{"snp_A_1", "snp_A_2", "snp_B_3"}
	for i, s := range all {
		if s.ID != want[i] {
			t.Errorf("All()[%d] = %s, want %s", i, s.ID, want[i])
		}
	}
	if !r.HasDocument("doc1") || r.HasDocument("doc3") {
		t.Error("HasDocument mismatch")
	}
	if n := len(r.ByDocument("doc1")); n != 2 {
		t.Errorf("Expected 2 snippets in doc1, got %d", n)
	}
}

func TestRegistry_TagsOnlyMutation(t *testing.T) {
	r := New()
	_, _ = r.Add(snippet("snp_A_1", "doc1", 1))

	if err := r.SetTags("snp_A_1", model.ClaimAward, "awards"); err != nil {
		t.Fatalf("SetTags failed: %v", err)
	}
	if err := r.SetTags("snp_A_1", "bogus", ""); !errors.Is(err, model.ErrInvalidInput) {
		t.Errorf("Expected invalid claim type error, got %v", err)
	}
	if err := r.SetTags("missing", model.ClaimAward, ""); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}

	got, _ := r.Get("snp_A_1")
	if got.ClaimType != model.ClaimAward || got.StandardKey != "awards" {
		t.Errorf("Tags not applied: %+v", got)
	}
}

func TestRegistry_RewriteEntities(t *testing.T) {
	r := New()
	s := snippet("snp_A_1", "doc1", 1)
	s.EntityIDs = []string{"e_alias", "e_primary", "e_other"}
	s.SubjectEntityID = "e_alias"
	_, _ = r.Add(s)
	_, _ = r.Add(snippet("snp_A_2", "doc1", 1))

	changed := r.RewriteEntities(func(id string) string {
		if id == "e_alias" {
			return "e_primary"
		}
		return id
	})
	if changed != 1 {
		t.Errorf("Expected 1 changed snippet, got %d", changed)
	}
	got, _ := r.Get("snp_A_1")
	if len(got.EntityIDs) != 2 || got.EntityIDs[0] != "e_primary" || got.EntityIDs[1] != "e_other" {
		t.Errorf("Unexpected refs after rewrite: %v", got.EntityIDs)
	}
	if got.SubjectEntityID != "e_primary" {
		t.Errorf("Expected subject rewritten, got %s", got.SubjectEntityID)
	}
}

func TestRegistry_CloneIsIndependent(t *testing.T) {
	r := New()
	_, _ = r.Add(snippet("snp_A_1", "doc1", 1))
	c := r.Clone()
	_ = c.SetEntityRefs("snp_A_1", []string{"e1"})
	_, _ = c.Add(snippet("snp_A_2", "doc1", 1))

	orig, _ := r.Get("snp_A_1")
	if len(orig.EntityIDs) != 0 {
		t.Error("Mutating the clone changed the original")
	}
	if r.Len() != 1 {
		t.Errorf("Original grew to %d snippets", r.Len())
	}
}

func TestRegistry_Confirmation(t *testing.T) {
	r := New()
	for _, id := range []string{"snp_A_1", "snp_A_2", "snp_A_3"} {
		_, _ = r.Add(snippet(id, "doc1", 1))
	}
	if st := r.Stats(); st.Total != 3 || st.Confirmed != 0 || st.ConfirmationRate != 0 {
		t.Fatalf("Unexpected initial stats: %+v", st)
	}

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, err := r.Confirm("snp_A_1", true, at)
	if err != nil || !s.Confirmed || s.ConfirmedAt == nil || !s.ConfirmedAt.Equal(at) {
		t.Fatalf("Confirm: %+v err=%v", s, err)
	}
	if _, err := r.Confirm("missing", true, at); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
	if err := r.SetSuggested("snp_A_2", true); err != nil {
		t.Fatal(err)
	}

	st := r.Stats()
	if st.Confirmed != 1 || st.AISuggested != 1 || st.ConfirmationRate != 33.3 {
		t.Errorf("Expected 1/3 confirmed at 33.3%%, got %+v", st)
	}

	if n := r.ConfirmAll(at.Add(time.Hour)); n != 2 {
		t.Errorf("Expected only the 2 unconfirmed snippets counted, got %d", n)
	}
	if got, _ := r.Get("snp_A_1"); !got.ConfirmedAt.Equal(at) {
		t.Errorf("Already confirmed snippet should keep its time, got %v", got.ConfirmedAt)
	}
	if st := r.Stats(); st.ConfirmationRate != 100 {
		t.Errorf("Expected 100%%, got %+v", st)
	}

	s, _ = r.Confirm("snp_A_1", false, at)
	if s.Confirmed || s.ConfirmedAt != nil {
		t.Errorf("Unconfirm should clear the time, got %+v", s)
	}
}

func TestRegistry_StatsEmpty(t *testing.T) {
	if st := New().Stats(); st.Total != 0 || st.ConfirmationRate != 0 {
		t.Errorf("Expected zero stats, got %+v", st)
	}
}

package project

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ppiankov/petitrace/internal/model"
	"github.com/ppiankov/petitrace/internal/store"
)

type failingStore struct {
	store.Store
}

func (f failingStore) Save(ctx context.Context, snap *store.Snapshot) error {
	return errors.New("disk full")
}

func addSnippet(id string) func(*State) error {
	return func(st *State) error {
		_, err := st.Registry.Add(model.Snippet{ID: id, DocumentID: "d1", Text: "text " + id})
		return err
	}
}

func TestWorkspace_MutateAndReload(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	m := NewManager(mem)

	w, err := m.Get(ctx, "case-1")
	if err != nil {
		t.Fatal(err)
	}
	before := w.State()
	if before.Stage != model.StageOCRComplete {
		t.Errorf("Expected initial stage, got %s", before.Stage)
	}

	after, err := w.Mutate(ctx, "add", func(st *State) error {
		st.Applicant = "Dr. Chen"
		st.MarkExtracted("d1", "d1")
		st.Advance(model.StageSnippetsReady)
		return addSnippet("s1")(st)
	})
	if err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}
	if before.Registry.Len() != 0 {
		t.Error("Published snapshot was modified")
	}
	if w.State() != after || after.Registry.Len() != 1 || len(after.ExtractedDocs) != 1 {
		t.Errorf("Unexpected state after mutate: %+v", after)
	}

	// A fresh manager over the same store sees the saved state.
	w2, err := NewManager(mem).Get(ctx, "case-1")
	if err != nil {
		t.Fatal(err)
	}
	st := w2.State()
	if st.Applicant != "Dr. Chen" || st.Stage != model.StageSnippetsReady || !st.Registry.Has("s1") {
		t.Errorf("Reloaded state mismatch: %+v", st)
	}
}

func TestWorkspace_FailedMutationKeepsState(t *testing.T) {
	ctx := context.Background()
	w, _ := NewManager(nil).Get(ctx, "p")
	if _, err := w.Mutate(ctx, "add", addSnippet("s1")); err != nil {
		t.Fatal(err)
	}

	_, err := w.Mutate(ctx, "broken", func(st *State) error {
		st.Advance(model.StageConfirming)
		if err := addSnippet("s2")(st); err != nil {
			return err
		}
		return &model.InvariantViolationError{Op: "test", Detail: "boom"}
	})
	var iv *model.InvariantViolationError
	if !errors.As(err, &iv) {
		t.Fatalf("Expected the mutation error, got %v", err)
	}
	st := w.State()
	if st.Registry.Has("s2") || st.Stage != model.StageOCRComplete {
		t.Error("Failed mutation leaked into the published state")
	}
}

func TestWorkspace_SaveFailureKeepsState(t *testing.T) {
	ctx := context.Background()
	w, err := NewManager(failingStore{store.NewMemory()}).Get(ctx, "p")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Mutate(ctx, "add", addSnippet("s1")); err == nil {
		t.Fatal("Expected save error")
	}
	if w.State().Registry.Len() != 0 {
		t.Error("State published despite failed save")
	}
}

func TestWorkspace_CancelledContext(t *testing.T) {
	w, _ := NewManager(nil).Get(context.Background(), "p")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	if _, err := w.Mutate(ctx, "add", func(*State) error { called = true; return nil }); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected cancellation, got %v", err)
	}
	if called {
		t.Error("Mutation ran after cancel")
	}
}

func TestWorkspace_ConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	w, _ := NewManager(store.NewMemory()).Get(ctx, "p")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = w.Mutate(ctx, "add", addSnippet(fmt.Sprintf("s%d", i)))
			_ = w.State().Registry.Len()
		}(i)
	}
	wg.Wait()

	if n := w.State().Registry.Len(); n != 20 {
		t.Errorf("Expected 20 snippets, got %d", n)
	}
}

func TestManager_RejectsBadIDs(t *testing.T) {
	m := NewManager(nil)
	for _, id := range []string{"", "../etc", "a b", "-lead"} {
		if _, err := m.Get(context.Background(), id); !errors.Is(err, model.ErrInvalidInput) {
			t.Errorf("%q: expected invalid input, got %v", id, err)
		}
	}
	w1, _ := m.Get(context.Background(), "same")
	w2, _ := m.Get(context.Background(), "same")
	if w1 != w2 {
		t.Error("Expected one workspace per project")
	}
}

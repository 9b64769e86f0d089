package pipeline

import (
	"context"
	"fmt"
	"slices"

	"github.com/ppiankov/petitrace/internal/extract"
	"github.com/ppiankov/petitrace/internal/merge"
	"github.com/ppiankov/petitrace/internal/model"
	"github.com/ppiankov/petitrace/internal/project"
	"github.com/ppiankov/petitrace/internal/util"
	"github.com/ppiankov/petitrace/internal/worker"
	"github.com/sirupsen/logrus"
)

// ExtractRequest selects the documents to extract
type ExtractRequest struct {
	DocumentIDs []string `json:"document_ids"`
	Force       bool     `json:"force"`
	Applicant   string   `json:"applicant_name,omitempty"`
}

// ExtractResult is what an extraction committed
type ExtractResult struct {
	Snippets []model.Snippet   `json:"snippets"`
	Entities []model.Entity    `json:"entities"`
	Links    []model.Link      `json:"links"`
	Failed   []extract.Failure `json:"failed"`
	Skipped  []string          `json:"skipped_documents,omitempty"` // already extracted
}

type loadResult struct {
	snippets []model.Snippet
	err      error
}

func (r loadResult) GetError() error { return r.err }

// Extract loads documents from the OCR source, registers their snippets
// and runs entity extraction. Documents already extracted are skipped
// unless Force is set. Extraction runs against a snapshot; the result is
// committed in one mutation and the stage moves to snippets_ready.
// Snippets whose extraction failed, or every snippet when no LLM is
// configured, are still registered unlinked and reported in Failed; their
// documents are not marked extracted. Nothing is committed on cancel, on a
// load failure, or when the entity graph changed while the LLM was working.
func (s *Service) Extract(ctx context.Context, projectID string, req ExtractRequest) (*ExtractResult, error) {
	if len(req.DocumentIDs) == 0 {
		return nil, fmt.Errorf("%w: no document ids", model.ErrInvalidInput)
	}
	if s.source == nil {
		return nil, fmt.Errorf("%w: no OCR source configured", model.ErrInvalidInput)
	}
	_, base, err := s.snapshot(ctx, projectID)
	if err != nil {
		return nil, err
	}

	res := &ExtractResult{Snippets: []model.Snippet{}, Entities: []model.Entity{}, Failed: []extract.Failure{}}
	var todo []string
	for _, id := range req.DocumentIDs {
		if slices.Contains(todo, id) {
			continue
		}
		if !req.Force && base.HasDocument(id) {
			res.Skipped = append(res.Skipped, id)
			continue
		}
		todo = append(todo, id)
	}
	if len(todo) == 0 {
		util.Log.WithField("project", projectID).Debug("all documents already extracted")
		return res, nil
	}

	done, err := s.begin(projectID, model.StageExtracting)
	if err != nil {
		return nil, err
	}
	defer done()

	snippets, err := s.loadDocuments(ctx, todo)
	if err != nil {
		s.logFailure(projectID, "extract", err)
		return nil, err
	}

	// Registered snippets keep their tags as extraction input.
	scratch := base.Registry.Clone()
	input := make([]model.Snippet, 0, len(snippets))
	for _, sn := range snippets {
		if _, err := scratch.Add(sn); err != nil {
			return nil, err
		}
		cur, _ := scratch.Get(sn.ID)
		input = append(input, cur)
	}

	applicant := base.Applicant
	if req.Applicant != "" {
		applicant = req.Applicant
	}
	graph := base.Graph.Clone()
	found, err := s.extractor.Extract(ctx, input, graph, applicant)
	if err != nil {
		s.logFailure(projectID, "extract", err)
		return nil, err
	}

	_, err = s.mutate(ctx, projectID, "extract", func(st *project.State) error {
		if st.GraphVersion != base.GraphVersion {
			return fmt.Errorf("%w: entity graph changed during extraction", model.ErrConcurrentUpdate)
		}
		for _, sn := range snippets {
			if _, err := st.Registry.Add(sn); err != nil {
				return err
			}
		}
		failedIDs := failedSet(found.Failed)
		for _, sn := range found.Snippets {
			if err := st.Registry.SetTags(sn.ID, sn.ClaimType, sn.StandardKey); err != nil {
				return err
			}
			if !failedIDs[sn.ID] {
				if err := st.Registry.SetSuggested(sn.ID, true); err != nil {
					return err
				}
			}
			if err := st.Registry.SetSubject(sn.ID, sn.SubjectEntityID); err != nil {
				return err
			}
			if err := st.Registry.SetEntityRefs(sn.ID, sn.EntityIDs); err != nil {
				return err
			}
		}
		st.Graph = graph
		st.TouchGraph()
		if req.Applicant != "" {
			st.Applicant = req.Applicant
		}
		st.MarkExtracted(completeDocs(todo, snippets, found.Failed)...)
		st.Advance(model.StageSnippetsReady)
		return nil
	})
	if err != nil {
		return nil, err
	}

	res.Snippets = found.Snippets
	res.Links = found.Links
	if found.Entities != nil {
		res.Entities = found.Entities
	}
	if found.Failed != nil {
		res.Failed = found.Failed
	}
	util.Log.WithFields(logrus.Fields{
		"project":   projectID,
		"documents": len(todo),
		"snippets":  len(res.Snippets),
		"entities":  len(res.Entities),
		"failed":    len(res.Failed),
	}).Info("extraction committed")
	return res, nil
}

// completeDocs returns the documents none of whose snippets failed
// extraction. The rest stay eligible for a later run without force.
func completeDocs(docs []string, snippets []model.Snippet, failed []extract.Failure) []string {
	failedIDs := failedSet(failed)
	partial := make(map[string]bool)
	for _, sn := range snippets {
		if failedIDs[sn.ID] {
			partial[sn.DocumentID] = true
		}
	}
	var out []string
	for _, d := range docs {
		if !partial[d] {
			out = append(out, d)
		}
	}
	return out
}

func failedSet(failed []extract.Failure) map[string]bool {
	ids := make(map[string]bool)
	for _, f := range failed {
		for _, id := range f.SnippetIDs {
			ids[id] = true
		}
	}
	return ids
}

// ConfirmSnippet records the reviewer's sign-off on one snippet
func (s *Service) ConfirmSnippet(ctx context.Context, projectID, snippetID string, confirmed bool) (model.Snippet, error) {
	var out model.Snippet
	_, err := s.mutate(ctx, projectID, "snippet confirm", func(st *project.State) error {
		if err := requireStage(st, model.StageSnippetsReady, "snippet confirm"); err != nil {
			return err
		}
		sn, err := st.Registry.Confirm(snippetID, confirmed, s.now())
		if err != nil {
			return err
		}
		out = sn
		return nil
	})
	if err != nil {
		return model.Snippet{}, err
	}
	return out, nil
}

// ConfirmAllSnippets confirms every pending snippet and moves the project
// to snippets_confirmed. It returns how many snippets changed.
func (s *Service) ConfirmAllSnippets(ctx context.Context, projectID string) (int, error) {
	var n int
	_, err := s.mutate(ctx, projectID, "snippet confirm-all", func(st *project.State) error {
		if err := requireStage(st, model.StageSnippetsReady, "snippet confirm-all"); err != nil {
			return err
		}
		n = st.Registry.ConfirmAll(s.now())
		st.Advance(model.StageSnippetsConfirmed)
		return nil
	})
	if err != nil {
		return 0, err
	}
	util.Log.WithFields(logrus.Fields{"project": projectID, "confirmed": n}).Info("snippets confirmed")
	return n, nil
}

// SnippetStats reports how much of the evidence a reviewer has confirmed
func (s *Service) SnippetStats(ctx context.Context, projectID string) (model.SnippetStats, error) {
	_, st, err := s.snapshot(ctx, projectID)
	if err != nil {
		return model.SnippetStats{}, err
	}
	return st.Registry.Stats(), nil
}

// loadDocuments fetches documents concurrently and returns their snippets
// in request order
func (s *Service) loadDocuments(ctx context.Context, ids []string) ([]model.Snippet, error) {
	jobs := make([]worker.Job, len(ids))
	for i, id := range ids {
		id := id
		jobs[i] = worker.FuncJob(func(ctx context.Context) worker.Result {
			doc, err := s.source.Load(ctx, id)
			if err != nil {
				return loadResult{err: err}
			}
			snippets, err := doc.Snippets()
			if err != nil {
				return loadResult{err: fmt.Errorf("document %s: %w", id, err)}
			}
			for j := range snippets {
				snippets[j].DocumentID = id
			}
			return loadResult{snippets: snippets}
		})
	}

	results := worker.Run(ctx, s.config.Extraction.Concurrency, jobs)
	if err := worker.FirstError(results); err != nil {
		return nil, err
	}
	var out []model.Snippet
	for _, r := range results {
		out = append(out, r.(loadResult).snippets...)
	}
	return out, nil
}

// Snippets lists registered snippets, optionally for one document
func (s *Service) Snippets(ctx context.Context, projectID, documentID string) ([]model.Snippet, error) {
	_, st, err := s.snapshot(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if documentID != "" {
		if !st.Registry.HasDocument(documentID) {
			return nil, model.NotFound("document", documentID)
		}
		return st.Registry.ByDocument(documentID), nil
	}
	return st.Registry.All(), nil
}

// Entities lists canonical entities
func (s *Service) Entities(ctx context.Context, projectID string) ([]model.Entity, error) {
	_, st, err := s.snapshot(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return st.Graph.Entities(), nil
}

// SuggestMerges proposes merges among the given canonical entities, or all
// of them when entityIDs is empty. Earlier pending suggestions are
// replaced; decided and applied ones are kept.
func (s *Service) SuggestMerges(ctx context.Context, projectID string, entityIDs []string) ([]model.MergeSuggestion, error) {
	_, base, err := s.snapshot(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := requireStage(base, model.StageSnippetsReady, "merge suggestions"); err != nil {
		return nil, err
	}

	entities := base.Graph.Entities()
	if len(entityIDs) > 0 {
		want := make(map[string]bool, len(entityIDs))
		for _, id := range entityIDs {
			if _, ok := base.Graph.Get(id); !ok {
				return nil, model.NotFound("entity", id)
			}
			canon, err := base.Graph.Resolve(id)
			if err != nil {
				return nil, err
			}
			want[canon] = true
		}
		entities = slices.DeleteFunc(entities, func(e model.Entity) bool { return !want[e.ID] })
	}

	suggestions, err := s.merger.Suggest(ctx, entities, base.Applicant)
	if err != nil {
		s.logFailure(projectID, "merge.suggest", err)
		return nil, err
	}
	if suggestions == nil {
		suggestions = []model.MergeSuggestion{}
	}

	_, err = s.mutate(ctx, projectID, "merge.suggest", func(st *project.State) error {
		if st.GraphVersion != base.GraphVersion {
			return fmt.Errorf("%w: entity graph changed while suggesting merges", model.ErrConcurrentUpdate)
		}
		st.Suggestions = slices.DeleteFunc(st.Suggestions, func(m model.MergeSuggestion) bool {
			return m.Status == model.MergePending && !m.Applied
		})
		for _, m := range suggestions {
			st.Suggestions = append(st.Suggestions, m.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return suggestions, nil
}

// MergeSuggestions lists every stored suggestion
func (s *Service) MergeSuggestions(ctx context.Context, projectID string) ([]model.MergeSuggestion, error) {
	_, st, err := s.snapshot(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return st.Suggestions, nil
}

// MergeHistory lists applied merges in order
func (s *Service) MergeHistory(ctx context.Context, projectID string) ([]model.MergeRecord, error) {
	_, st, err := s.snapshot(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return st.History, nil
}

// ConfirmMerges records accept or reject decisions
func (s *Service) ConfirmMerges(ctx context.Context, projectID string, decisions []model.MergeDecision) (merge.ConfirmResult, error) {
	var res merge.ConfirmResult
	_, err := s.mutate(ctx, projectID, "merge.confirm", func(st *project.State) error {
		var err error
		res, err = merge.Confirm(st.Suggestions, decisions)
		return err
	})
	if err != nil {
		return merge.ConfirmResult{}, err
	}
	if res.Acknowledged == nil {
		res.Acknowledged = []string{}
	}
	return res, nil
}

// ApplyMerges applies every accepted suggestion and moves the project to
// confirming. It returns how many suggestions this call applied.
func (s *Service) ApplyMerges(ctx context.Context, projectID string) (int, error) {
	merged := 0
	_, err := s.mutate(ctx, projectID, "merge.apply", func(st *project.State) error {
		if err := requireStage(st, model.StageSnippetsReady, "merge apply"); err != nil {
			return err
		}
		t := &merge.Target{
			Graph:       st.Graph,
			Registry:    st.Registry,
			Arguments:   st.Arguments,
			Suggestions: st.Suggestions,
			History:     st.History,
		}
		n, err := merge.Apply(t, s.now())
		if err != nil {
			return err
		}
		st.Arguments = t.Arguments
		st.Suggestions = t.Suggestions
		st.History = t.History
		if n > 0 {
			st.TouchGraph()
		}
		st.Advance(model.StageConfirming)
		merged = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return merged, nil
}

// ManualMerge stores an accepted merge the user named by hand. It is
// applied by the next ApplyMerges.
func (s *Service) ManualMerge(ctx context.Context, projectID, primaryName string, aliasNames []string, reason string) (model.MergeSuggestion, error) {
	var created model.MergeSuggestion
	_, err := s.mutate(ctx, projectID, "merge.manual", func(st *project.State) error {
		m, err := merge.Manual(st.Graph, primaryName, aliasNames, reason)
		if err != nil {
			return err
		}
		st.Suggestions = append(st.Suggestions, m)
		created = m
		return nil
	})
	return created, err
}

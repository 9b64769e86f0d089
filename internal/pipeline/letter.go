package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/ppiankov/petitrace/internal/model"
	"github.com/ppiankov/petitrace/internal/project"
	"github.com/ppiankov/petitrace/internal/provenance"
	"github.com/ppiankov/petitrace/internal/score"
	"github.com/ppiankov/petitrace/internal/util"
	"github.com/sirupsen/logrus"
)

// SectionInput is a generated section as the writer sends it. Sentences
// may carry [cite id] markers. When Sentences is empty Body is split into
// sentences.
type SectionInput struct {
	Title     string   `json:"title"`
	Sentences []string `json:"sentences,omitempty"`
	Body      string   `json:"body,omitempty"`
}

// SaveSection stores a generated section under sectionID, replacing any
// section with that id. Citation markers become explicit references; a
// mapped argument cited by id becomes used. The project moves to
// petition_ready.
func (s *Service) SaveSection(ctx context.Context, projectID, sectionID string, in SectionInput) (model.Section, error) {
	if sectionID == "" {
		sectionID = provenance.NewSectionID()
	}
	if !project.ValidID(sectionID) {
		return model.Section{}, fmt.Errorf("%w: section id %q", model.ErrInvalidInput, sectionID)
	}
	texts := in.Sentences
	if len(texts) == 0 {
		texts = provenance.SplitSentences(in.Body)
	}
	if len(texts) == 0 {
		return model.Section{}, fmt.Errorf("%w: section %s has no sentences", model.ErrInvalidInput, sectionID)
	}

	var saved model.Section
	_, err := s.mutate(ctx, projectID, "section.save", func(st *project.State) error {
		isArgument := func(id string) bool {
			_, _, ok := st.Argument(id)
			return ok
		}
		sec := provenance.BuildSection(sectionID, strings.TrimSpace(in.Title), texts, isArgument)
		if err := provenance.CheckReferences(sec, st.Registry.Has); err != nil {
			return err
		}

		cited := 0
		for _, sent := range sec.Sentences {
			for _, ref := range sent.References {
				if ref.ArgumentID == "" {
					continue
				}
				if _, i, ok := st.Argument(ref.ArgumentID); ok && st.Arguments[i].Status == model.StatusMapped {
					st.Arguments[i].Status = model.StatusUsed
					st.Arguments[i].UpdatedAt = s.now()
				}
			}
			if len(sent.References) > 0 {
				cited++
			}
		}

		if _, i, ok := st.Section(sectionID); ok {
			st.Sections[i] = sec
		} else {
			st.Sections = append(st.Sections, sec)
		}
		st.Advance(model.StagePetitionReady)
		saved = sec

		util.Log.WithFields(logrus.Fields{
			"project":   projectID,
			"section":   sectionID,
			"sentences": len(sec.Sentences),
			"cited":     cited,
		}).Info("section saved")
		return nil
	})
	return saved, err
}

// Sections lists stored sections
func (s *Service) Sections(ctx context.Context, projectID string) ([]model.Section, error) {
	_, st, err := s.snapshot(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return st.Sections, nil
}

func (s *Service) resolver(st *project.State) *provenance.Resolver {
	return provenance.NewResolver(st.Registry, st.Arguments, st.Sections, s.config.Provenance)
}

// SentenceProvenance resolves the evidence behind one sentence. A missing
// section or sentence is not an error; the result carries the cause.
func (s *Service) SentenceProvenance(ctx context.Context, projectID, sectionID string, index int, method string) (provenance.SentenceResult, error) {
	m, err := provenance.ParseMethod(method)
	if err != nil {
		return provenance.SentenceResult{}, err
	}
	_, st, err := s.snapshot(ctx, projectID)
	if err != nil {
		return provenance.SentenceResult{}, err
	}
	return s.resolver(st).Sentence(sectionID, index, m), nil
}

// ReverseProvenance lists the sentences citing a snippet. An unknown
// snippet is an empty result, not an error.
func (s *Service) ReverseProvenance(ctx context.Context, projectID, snippetID string) (provenance.ReverseResult, error) {
	_, st, err := s.snapshot(ctx, projectID)
	if err != nil {
		return provenance.ReverseResult{}, err
	}
	return s.resolver(st).Reverse(snippetID), nil
}

// ProvenanceSummary reports citation coverage for one section or all
func (s *Service) ProvenanceSummary(ctx context.Context, projectID, sectionID string) (provenance.Summary, error) {
	_, st, err := s.snapshot(ctx, projectID)
	if err != nil {
		return provenance.Summary{}, err
	}
	return s.resolver(st).Summary(sectionID)
}

// ScoreResult is the readiness score with per-standard coverage
type ScoreResult struct {
	Score     model.Score              `json:"score"`
	Standards []model.StandardCoverage `json:"standards"`
}

// Score grades the project's evidence coverage
func (s *Service) Score(ctx context.Context, projectID string) (ScoreResult, error) {
	_, st, err := s.snapshot(ctx, projectID)
	if err != nil {
		return ScoreResult{}, err
	}
	sc, coverage, _, err := s.score(st)
	if err != nil {
		return ScoreResult{}, err
	}
	return ScoreResult{Score: sc, Standards: coverage}, nil
}

func (s *Service) score(st *project.State) (model.Score, []model.StandardCoverage, provenance.Summary, error) {
	summary, err := s.resolver(st).Summary("")
	if err != nil {
		return model.Score{}, nil, provenance.Summary{}, err
	}
	sc, coverage := s.scorer.Calculate(score.Input{
		Registry:    st.Registry,
		Arguments:   st.Arguments,
		Edges:       st.Edges,
		Unused:      summary.Unused,
		HasSections: len(st.Sections) > 0,
	})
	return sc, coverage, summary, nil
}

// Report assembles the readiness report for a project
func (s *Service) Report(ctx context.Context, projectID string) (*model.Report, error) {
	_, st, err := s.snapshot(ctx, projectID)
	if err != nil {
		return nil, err
	}
	sc, coverage, summary, err := s.score(st)
	if err != nil {
		return nil, err
	}

	report := &model.Report{
		Project:     st.ID,
		Applicant:   st.Applicant,
		Stage:       st.Stage,
		GeneratedAt: s.now().UTC(),
		Score:       sc,
		Standards:   coverage,
		Arguments:   st.Arguments,
	}
	if len(st.Sections) > 0 {
		report.UnusedSnippets = summary.Unused
		report.Coverage = summary.Sections
	}
	return report, nil
}

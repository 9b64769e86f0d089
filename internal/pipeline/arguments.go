package pipeline

import (
	"context"
	"fmt"

	"github.com/ppiankov/petitrace/internal/argument"
	"github.com/ppiankov/petitrace/internal/mapping"
	"github.com/ppiankov/petitrace/internal/model"
	"github.com/ppiankov/petitrace/internal/project"
	"github.com/ppiankov/petitrace/internal/util"
	"github.com/sirupsen/logrus"
)

// Arguments lists arguments in creation order
func (s *Service) Arguments(ctx context.Context, projectID string) ([]model.Argument, error) {
	_, st, err := s.snapshot(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return st.Arguments, nil
}

// GetArgument returns one argument
func (s *Service) GetArgument(ctx context.Context, projectID, argumentID string) (model.Argument, error) {
	_, st, err := s.snapshot(ctx, projectID)
	if err != nil {
		return model.Argument{}, err
	}
	a, _, ok := st.Argument(argumentID)
	if !ok {
		return model.Argument{}, model.NotFound("argument", argumentID)
	}
	return a, nil
}

// CreateArgument starts a draft argument from one snippet
func (s *Service) CreateArgument(ctx context.Context, projectID, snippetID string) (model.Argument, error) {
	var created model.Argument
	_, err := s.mutate(ctx, projectID, "argument.create", func(st *project.State) error {
		a, err := argument.NewBook(st.Registry, st.Graph).Create(snippetID)
		if err != nil {
			return err
		}
		st.Arguments = append(st.Arguments, a)
		created = a
		return nil
	})
	return created, err
}

// editArgument runs fn on one argument inside a mutation
func (s *Service) editArgument(ctx context.Context, projectID, argumentID, op string, fn func(*argument.Book, *model.Argument) error) (model.Argument, error) {
	var out model.Argument
	_, err := s.mutate(ctx, projectID, op, func(st *project.State) error {
		_, i, ok := st.Argument(argumentID)
		if !ok {
			return model.NotFound("argument", argumentID)
		}
		a := &st.Arguments[i]
		if err := fn(argument.NewBook(st.Registry, st.Graph), a); err != nil {
			return err
		}
		out = a.Clone()
		return nil
	})
	return out, err
}

// AddSnippet adds a snippet to an argument. A subject conflict does not
// block the add; it is returned alongside the updated argument.
func (s *Service) AddSnippet(ctx context.Context, projectID, argumentID, snippetID string) (model.Argument, *model.SubjectConflictWarning, error) {
	var warning *model.SubjectConflictWarning
	a, err := s.editArgument(ctx, projectID, argumentID, "argument.add_snippet", func(b *argument.Book, a *model.Argument) error {
		var err error
		warning, err = b.AddSnippet(a, snippetID)
		return err
	})
	if err != nil {
		return model.Argument{}, nil, err
	}
	if warning != nil {
		util.Log.WithFields(logrus.Fields{
			"project":  projectID,
			"argument": argumentID,
			"existing": warning.Existing,
			"incoming": warning.Incoming,
		}).Warn("subject conflict")
	}
	return a, warning, nil
}

// RemoveSnippet removes a snippet from an argument
func (s *Service) RemoveSnippet(ctx context.Context, projectID, argumentID, snippetID string) (model.Argument, error) {
	return s.editArgument(ctx, projectID, argumentID, "argument.remove_snippet", func(b *argument.Book, a *model.Argument) error {
		return b.RemoveSnippet(a, snippetID)
	})
}

// UpdateArgument applies a partial update
func (s *Service) UpdateArgument(ctx context.Context, projectID, argumentID string, patch model.ArgumentPatch) (model.Argument, error) {
	return s.editArgument(ctx, projectID, argumentID, "argument.update", func(b *argument.Book, a *model.Argument) error {
		return b.Update(a, patch)
	})
}

// DeleteArgument removes an argument and its pending mapping edges
func (s *Service) DeleteArgument(ctx context.Context, projectID, argumentID string) error {
	_, err := s.mutate(ctx, projectID, "argument.delete", func(st *project.State) error {
		board := s.board(st)
		if err := board.DeleteArgument(argumentID); err != nil {
			return err
		}
		st.Arguments, st.Edges = board.Arguments, board.Edges
		return nil
	})
	return err
}

// GenerateArguments groups every ungrouped snippet about the applicant into
// arguments. It runs against a snapshot and commits in one mutation; the
// commit is refused when the graph changed or a snippet was grouped by
// someone else meanwhile.
func (s *Service) GenerateArguments(ctx context.Context, projectID, applicant string) (*argument.GenerateResult, error) {
	_, base, err := s.snapshot(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := requireStage(base, model.StageSnippetsReady, "argument generation"); err != nil {
		return nil, err
	}
	done, err := s.begin(projectID, model.StageGenerating)
	if err != nil {
		return nil, err
	}
	defer done()

	res, err := s.generator.Generate(ctx, base.Registry, base.Graph, base.Arguments, applicant)
	if err != nil {
		s.logFailure(projectID, "argument.generate", err)
		return nil, err
	}

	_, err = s.mutate(ctx, projectID, "argument.generate", func(st *project.State) error {
		if st.GraphVersion != base.GraphVersion {
			return fmt.Errorf("%w: entity graph changed during generation", model.ErrConcurrentUpdate)
		}
		grouped := make(map[string]string)
		for _, a := range st.Arguments {
			for _, id := range a.SnippetIDs {
				grouped[id] = a.ID
			}
		}
		for _, a := range res.Arguments {
			for _, id := range a.SnippetIDs {
				if owner, ok := grouped[id]; ok {
					return fmt.Errorf("%w: snippet %s was added to %s during generation", model.ErrConcurrentUpdate, id, owner)
				}
			}
		}
		for _, a := range res.Arguments {
			st.Arguments = append(st.Arguments, a.Clone())
		}
		st.Applicant = applicant
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) board(st *project.State) *mapping.Board {
	return mapping.NewBoard(st.Edges, st.Arguments, s.config.Mapping.AllowMultiple)
}

// commitBoard writes the board back and moves the stage once any edge is
// confirmed
func commitBoard(st *project.State, b *mapping.Board) {
	st.Edges, st.Arguments = b.Edges, b.Arguments
	for _, e := range st.Edges {
		if e.Confirmed {
			st.Advance(model.StageMappingConfirmed)
			return
		}
	}
}

// Mappings lists mapping edges, optionally for one argument
func (s *Service) Mappings(ctx context.Context, projectID, argumentID string) ([]model.MappingEdge, error) {
	_, st, err := s.snapshot(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if argumentID != "" {
		return mapping.ForArgument(st.Edges, argumentID), nil
	}
	return st.Edges, nil
}

// AddMapping upserts the edge between an argument and a standard
func (s *Service) AddMapping(ctx context.Context, projectID, argumentID, standardKey string, confirmed bool) (model.MappingEdge, error) {
	var edge model.MappingEdge
	_, err := s.mutate(ctx, projectID, "mapping.add", func(st *project.State) error {
		b := s.board(st)
		e, err := b.Add(argumentID, standardKey, confirmed)
		if err != nil {
			return err
		}
		commitBoard(st, b)
		edge = e
		return nil
	})
	return edge, err
}

// ConfirmMapping confirms one edge
func (s *Service) ConfirmMapping(ctx context.Context, projectID, edgeID string) (model.MappingEdge, error) {
	var edge model.MappingEdge
	_, err := s.mutate(ctx, projectID, "mapping.confirm", func(st *project.State) error {
		b := s.board(st)
		e, err := b.Confirm(edgeID)
		if err != nil {
			return err
		}
		commitBoard(st, b)
		edge = e
		return nil
	})
	return edge, err
}

// RemoveMapping deletes one edge
func (s *Service) RemoveMapping(ctx context.Context, projectID, edgeID string) error {
	_, err := s.mutate(ctx, projectID, "mapping.remove", func(st *project.State) error {
		b := s.board(st)
		if err := b.Remove(edgeID); err != nil {
			return err
		}
		commitBoard(st, b)
		return nil
	})
	return err
}

// ConfirmAllMappings confirms every pending edge of a non-draft argument
func (s *Service) ConfirmAllMappings(ctx context.Context, projectID string) (mapping.ConfirmAllResult, error) {
	var res mapping.ConfirmAllResult
	_, err := s.mutate(ctx, projectID, "mapping.confirm_all", func(st *project.State) error {
		b := s.board(st)
		res = b.ConfirmAll()
		commitBoard(st, b)
		return nil
	})
	if err != nil {
		return mapping.ConfirmAllResult{}, err
	}
	if res.Confirmed == nil {
		res.Confirmed = []string{}
	}
	return res, nil
}

// SuggestMappings adds an unconfirmed edge for every argument without one
func (s *Service) SuggestMappings(ctx context.Context, projectID string) ([]model.MappingEdge, error) {
	var added []model.MappingEdge
	_, err := s.mutate(ctx, projectID, "mapping.suggest", func(st *project.State) error {
		b := s.board(st)
		added = b.Suggest()
		commitBoard(st, b)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if added == nil {
		added = []model.MappingEdge{}
	}
	return added, nil
}

// Focus returns what a view focused on view should highlight
func (s *Service) Focus(ctx context.Context, projectID string, view mapping.View) (mapping.Highlight, error) {
	_, st, err := s.snapshot(ctx, projectID)
	if err != nil {
		return mapping.Highlight{}, err
	}
	switch view.Kind {
	case mapping.FocusArgument, mapping.FocusStandard, mapping.FocusSnippet:
	default:
		return mapping.Highlight{}, fmt.Errorf("%w: focus kind %q", model.ErrInvalidInput, view.Kind)
	}
	return mapping.Focus(view, st.Edges, st.Arguments), nil
}

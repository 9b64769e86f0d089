package merge

import (
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/petitrace/internal/entity"
	"github.com/ppiankov/petitrace/internal/model"
	"github.com/ppiankov/petitrace/internal/registry"
	"github.com/ppiankov/petitrace/internal/util"
	"github.com/sirupsen/logrus"
)

// ConfirmResult reports what happened to each decision
type ConfirmResult struct {
	Acknowledged []string `json:"ack"`
	NotFound     []string `json:"not_found,omitempty"`
	Conflicts    []string `json:"conflicts,omitempty"`
}

// Confirm records accept or reject decisions on suggestions in place.
// Decisions on applied suggestions are merge conflicts: logged, skipped,
// and reported. An unknown status rejects the whole call before any change.
func Confirm(suggestions []model.MergeSuggestion, decisions []model.MergeDecision) (ConfirmResult, error) {
	for _, d := range decisions {
		switch d.Status {
		case model.MergeAccepted, model.MergeRejected, model.MergePending:
		default:
			return ConfirmResult{}, fmt.Errorf("%w: merge status %q", model.ErrInvalidInput, d.Status)
		}
	}

	index := make(map[string]int, len(suggestions))
	for i, s := range suggestions {
		index[s.ID] = i
	}

	var res ConfirmResult
	for _, d := range decisions {
		i, ok := index[d.ID]
		if !ok {
			res.NotFound = append(res.NotFound, d.ID)
			continue
		}
		s := &suggestions[i]
		if s.Applied {
			err := &model.MergeConflictError{SuggestionID: s.ID, Reason: "already applied"}
			util.Log.WithError(err).Warn("skipping merge decision")
			res.Conflicts = append(res.Conflicts, d.ID)
			continue
		}
		s.Status = d.Status
		res.Acknowledged = append(res.Acknowledged, d.ID)
	}
	return res, nil
}

// Target is the state an apply mutates. The caller passes a workspace
// clone and publishes it only when Apply succeeds.
type Target struct {
	Graph       *entity.Graph
	Registry    *registry.Registry
	Arguments   []model.Argument
	Suggestions []model.MergeSuggestion
	History     []model.MergeRecord
}

// Apply merges every accepted, unapplied suggestion and returns how many
// were applied. All suggestions are validated before anything changes; a
// missing entity or a redirect cycle aborts the whole apply. Applying
// twice is the same as applying once.
func Apply(t *Target, now time.Time) (int, error) {
	var pending []int
	for i, s := range t.Suggestions {
		if s.Status == model.MergeAccepted && !s.Applied {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return 0, nil
	}

	// Dry run on a scratch graph so a bad suggestion leaves t untouched.
	scratch := t.Graph.Clone()
	for _, i := range pending {
		if err := redirectAll(scratch, t.Suggestions[i]); err != nil {
			return 0, err
		}
	}

	for _, i := range pending {
		s := &t.Suggestions[i]
		if err := redirectAll(t.Graph, *s); err != nil {
			return 0, err
		}
		snippets := t.Registry.RewriteEntities(t.Graph.Canonical)
		relations := t.Graph.RewriteRelations()
		for j := range t.Arguments {
			a := &t.Arguments[j]
			if a.SubjectEntityID != "" {
				a.SubjectEntityID = t.Graph.Canonical(a.SubjectEntityID)
			}
		}

		at := now
		s.Applied = true
		s.AppliedAt = &at
		t.History = append(t.History, model.MergeRecord{
			SuggestionID:       s.ID,
			PrimaryEntityID:    s.PrimaryEntityID,
			AliasEntityIDs:     append([]string(nil), s.AliasEntityIDs...),
			SnippetsRewritten:  snippets,
			RelationsRewritten: relations,
			AppliedAt:          now,
		})
		util.Log.WithFields(logrus.Fields{
			"suggestion": s.ID,
			"primary":    s.PrimaryName,
			"aliases":    len(s.AliasEntityIDs),
			"snippets":   snippets,
		}).Info("merge applied")
	}
	return len(pending), nil
}

func redirectAll(g *entity.Graph, s model.MergeSuggestion) error {
	if s.PrimaryEntityID == "" {
		return &model.InvariantViolationError{Op: "merge.apply", Detail: "suggestion " + s.ID + " has no primary entity"}
	}
	primary, err := g.Resolve(s.PrimaryEntityID)
	if err != nil {
		return err
	}
	for _, alias := range s.AliasEntityIDs {
		resolved, err := g.Resolve(alias)
		if err != nil {
			return err
		}
		if resolved == primary {
			continue
		}
		if err := g.Redirect(resolved, primary); err != nil {
			return err
		}
	}
	return nil
}

// Manual builds an accepted suggestion from names the user typed. Every
// name must resolve to a canonical entity.
func Manual(g *entity.Graph, primaryName string, aliasNames []string, reason string) (model.MergeSuggestion, error) {
	if primaryName == "" || len(aliasNames) == 0 {
		return model.MergeSuggestion{}, fmt.Errorf("%w: primary name and at least one alias are required", model.ErrInvalidInput)
	}
	primary, ok := g.FindByName(primaryName, "")
	if !ok {
		return model.MergeSuggestion{}, model.NotFound("entity", primaryName)
	}

	s := model.MergeSuggestion{
		ID:              NewSuggestionID(),
		PrimaryName:     primary.Name,
		PrimaryType:     primary.Type,
		PrimaryEntityID: primary.ID,
		Reason:          reason,
		Confidence:      1.0,
		Status:          model.MergeAccepted,
		Manual:          true,
	}
	var missing []error
	for _, n := range aliasNames {
		alias, ok := g.FindByName(n, "")
		if !ok {
			missing = append(missing, model.NotFound("entity", n))
			continue
		}
		if alias.ID == primary.ID {
			continue
		}
		s.AliasNames = append(s.AliasNames, alias.Name)
		s.AliasEntityIDs = append(s.AliasEntityIDs, alias.ID)
	}
	if len(missing) > 0 {
		return model.MergeSuggestion{}, errors.Join(missing...)
	}
	if len(s.AliasEntityIDs) == 0 {
		return model.MergeSuggestion{}, fmt.Errorf("%w: aliases name the primary entity itself", model.ErrInvalidInput)
	}
	return s, nil
}

package argument

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/petitrace/internal/entity"
	"github.com/ppiankov/petitrace/internal/llm"
	"github.com/ppiankov/petitrace/internal/model"
	"github.com/ppiankov/petitrace/internal/registry"
	"github.com/ppiankov/petitrace/internal/util"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// GenerateResult is the outcome of bulk generation. Every input snippet is
// in exactly one argument or in Unassigned.
type GenerateResult struct {
	Arguments  []model.Argument          `json:"arguments"`
	Unassigned []model.UnassignedSnippet `json:"unassigned"`
}

// UnassignedIDs lists the ids of the unassigned snippets
func (r *GenerateResult) UnassignedIDs() []string {
	ids := make([]string, len(r.Unassigned))
	for i, u := range r.Unassigned {
		ids[i] = u.SnippetID
	}
	return ids
}

// Generator builds arguments in bulk for the applicant
type Generator struct {
	client      *llm.Client
	threshold   float64
	parallelism int
	now         func() time.Time
}

// NewGenerator creates a generator. A disabled client uses default titles.
func NewGenerator(client *llm.Client, cfg model.ArgumentConfig) *Generator {
	threshold := cfg.SubjectThreshold
	if threshold <= 0 {
		threshold = entity.SubjectThreshold
	}
	return &Generator{client: client, threshold: threshold, parallelism: 4, now: time.Now}
}

type group struct {
	claim    model.ClaimType
	snippets []model.Snippet
	people   map[string]int
}

// Generate groups the snippets that are in no existing argument. Snippets
// about someone other than the applicant, or about nobody, are left
// unassigned; the rest are grouped by claim type with one LLM call per
// group for a title and summary. It reads only; the caller commits.
func (g *Generator) Generate(ctx context.Context, reg *registry.Registry, graph *entity.Graph, existing []model.Argument, applicant string) (*GenerateResult, error) {
	applicant = strings.TrimSpace(applicant)
	if applicant == "" {
		return nil, fmt.Errorf("%w: applicant name is required", model.ErrInvalidInput)
	}

	grouped := make(map[string]bool)
	for _, a := range existing {
		for _, id := range a.SnippetIDs {
			grouped[id] = true
		}
	}

	res := &GenerateResult{}
	var groups []*group
	byClaim := make(map[model.ClaimType]*group)
	for _, s := range reg.All() {
		if grouped[s.ID] {
			continue
		}
		p, ok := entity.DominantPerson(s, graph)
		if !ok {
			res.Unassigned = append(res.Unassigned, model.UnassignedSnippet{SnippetID: s.ID, Reason: model.UnassignedNoSubject})
			continue
		}
		if !g.isApplicant(p, applicant) {
			res.Unassigned = append(res.Unassigned, model.UnassignedSnippet{SnippetID: s.ID, Reason: model.UnassignedWrongSubject, Subject: p.Name})
			continue
		}

		claim := s.ClaimType
		if !claim.Valid() {
			claim = model.ClaimOther
		}
		grp, ok := byClaim[claim]
		if !ok {
			grp = &group{claim: claim, people: make(map[string]int)}
			byClaim[claim] = grp
			groups = append(groups, grp)
		}
		grp.snippets = append(grp.snippets, s)
		grp.people[p.ID]++
	}

	args := make([]model.Argument, len(groups))
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(g.parallelism)
	for i, grp := range groups {
		i, grp := i, grp
		eg.Go(func() error {
			a, err := g.build(ectx, grp, applicant)
			if err != nil {
				return err
			}
			args[i] = a
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res.Arguments = args
	util.Log.WithFields(logrus.Fields{
		"arguments":  len(args),
		"unassigned": len(res.Unassigned),
	}).Info("arguments generated")
	return res, nil
}

func (g *Generator) isApplicant(p model.Entity, applicant string) bool {
	if entity.NameSimilarity(p.Name, applicant) >= g.threshold {
		return true
	}
	for _, a := range p.Aliases {
		if entity.NameSimilarity(a, applicant) >= g.threshold {
			return true
		}
	}
	return false
}

func (g *Generator) build(ctx context.Context, grp *group, applicant string) (model.Argument, error) {
	now := g.now()
	a := model.Argument{
		ID:          NewID(),
		Subject:     applicant,
		ClaimType:   grp.claim,
		Status:      model.StatusDraft,
		Decision:    model.DecisionPending,
		AIGenerated: true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	best := 0
	for id, n := range grp.people {
		if n > best || (n == best && id < a.SubjectEntityID) {
			a.SubjectEntityID, best = id, n
		}
	}
	for _, s := range grp.snippets {
		a.SnippetIDs = append(a.SnippetIDs, s.ID)
		if a.StandardKey == "" && s.StandardKey != "" {
			a.StandardKey = s.StandardKey
		}
	}

	a.Title = Title(applicant, grp.claim)
	if !g.client.Enabled() {
		return a, nil
	}

	reply, err := g.client.CompleteJSON(ctx, generateSystemPrompt, generatePrompt(grp, applicant), "title")
	if err != nil {
		if ctx.Err() != nil {
			return model.Argument{}, ctx.Err()
		}
		util.Log.WithFields(logrus.Fields{
			"claim_type": grp.claim,
			"error":      err,
		}).Warn("argument title generation failed, using default title")
		return a, nil
	}
	if t := strings.TrimSpace(reply.Get("title").String()); t != "" {
		a.Title = t
	}
	a.Summary = strings.TrimSpace(reply.Get("summary").String())
	return a, nil
}

const generateSystemPrompt = `You draft argument headings for an EB-1A extraordinary ability petition.
Write a concise, factual title naming the applicant and the achievement, and a one or two sentence summary.
Use only facts present in the evidence.`

func generatePrompt(grp *group, applicant string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Applicant: %s\nEvidence category: %s\n\nEvidence:\n", applicant, grp.claim.Label())
	for _, s := range grp.snippets {
		fmt.Fprintf(&b, "[%s] %s\n", s.ID, s.Text)
	}
	b.WriteString(`
Return JSON: {"title": "...", "summary": "..."}`)
	return b.String()
}

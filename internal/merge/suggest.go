// Package merge finds entity records that name the same referent, records
// human decisions on them and applies accepted merges to the graph.
package merge

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/ppiankov/petitrace/internal/entity"
	"github.com/ppiankov/petitrace/internal/llm"
	"github.com/ppiankov/petitrace/internal/model"
	"github.com/ppiankov/petitrace/internal/util"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

// Engine generates merge suggestions
type Engine struct {
	client *llm.Client
	cfg    model.MergeConfig
}

// New creates a merge engine. A disabled client selects the heuristic path.
func New(client *llm.Client, cfg model.MergeConfig) *Engine {
	if cfg.CandidateThreshold <= 0 {
		cfg.CandidateThreshold = 0.5
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.7
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	return &Engine{client: client, cfg: cfg}
}

type cluster struct {
	members []model.Entity
	score   float64 // mean score of the candidate pairs that formed it
}

// Suggest proposes merges among canonical entities. It changes no state;
// the caller stores the returned suggestions as pending.
func (e *Engine) Suggest(ctx context.Context, entities []model.Entity, applicant string) ([]model.MergeSuggestion, error) {
	clusters := e.clusters(entities)
	if len(clusters) == 0 {
		return nil, nil
	}

	results := make([][]model.MergeSuggestion, len(clusters))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Parallelism)
	for i, c := range clusters {
		i, c := i, c
		g.Go(func() error {
			if !e.client.Enabled() {
				results[i] = heuristic(c)
				return nil
			}
			s, err := e.confirmCluster(gctx, c, applicant)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				util.Log.WithFields(logrus.Fields{
					"cluster": names(c.members),
					"error":   err,
				}).Warn("merge confirmation failed, using name heuristic")
				s = heuristic(c)
			}
			results[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []model.MergeSuggestion
	for _, rs := range results {
		for _, s := range rs {
			if s.Confidence < e.cfg.MinConfidence {
				continue
			}
			out = append(out, s)
		}
	}
	util.Log.WithFields(logrus.Fields{
		"entities":    len(entities),
		"clusters":    len(clusters),
		"suggestions": len(out),
	}).Info("merge suggestions generated")
	return out, nil
}

// CandidateScore is 0.7 x name similarity + 0.3 x co-occurrence, where
// co-occurrence is the Jaccard overlap of the entities' snippets
func CandidateScore(a, b model.Entity) float64 {
	sim := entity.NameSimilarity(a.Name, b.Name)
	for _, x := range append([]string{a.Name}, a.Aliases...) {
		for _, y := range append([]string{b.Name}, b.Aliases...) {
			sim = max(sim, entity.NameSimilarity(x, y))
		}
	}
	return 0.7*sim + 0.3*snippetJaccard(a.SnippetIDs, b.SnippetIDs)
}

func (e *Engine) clusters(entities []model.Entity) []cluster {
	byID := make(map[string]model.Entity, len(entities))
	ids := make([]string, 0, len(entities))
	for _, ent := range entities {
		if ent.IsRedirect() {
			continue
		}
		byID[ent.ID] = ent
		ids = append(ids, ent.ID)
	}
	sort.Strings(ids)

	type scoredPair struct {
		a, b  string
		score float64
	}
	uf := newUnionFind(ids)
	var pairs []scoredPair
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			a, b := byID[ids[i]], byID[ids[j]]
			if a.Type != b.Type {
				continue
			}
			score := CandidateScore(a, b)
			if score < e.cfg.CandidateThreshold {
				continue
			}
			uf.union(a.ID, b.ID)
			pairs = append(pairs, scoredPair{a.ID, b.ID, score})
		}
	}

	var out []cluster
	for _, members := range uf.components() {
		c := cluster{}
		root := uf.find(members[0])
		total, n := 0.0, 0
		for _, p := range pairs {
			if uf.find(p.a) == root {
				total += p.score
				n++
			}
		}
		for _, id := range members {
			c.members = append(c.members, byID[id])
		}
		if n > 0 {
			c.score = total / float64(n)
		}
		out = append(out, c)
	}
	return out
}

// heuristic picks the longest name as primary with the cluster score as
// confidence
func heuristic(c cluster) []model.MergeSuggestion {
	primary := c.members[0]
	for _, m := range c.members[1:] {
		if len(m.Name) > len(primary.Name) || (len(m.Name) == len(primary.Name) && m.Mentions > primary.Mentions) {
			primary = m
		}
	}
	s := model.MergeSuggestion{
		ID:              NewSuggestionID(),
		PrimaryName:     primary.Name,
		PrimaryType:     primary.Type,
		PrimaryEntityID: primary.ID,
		Reason:          "similar names",
		Confidence:      c.score,
		Status:          model.MergePending,
	}
	for _, m := range c.members {
		if m.ID == primary.ID {
			continue
		}
		s.AliasNames = append(s.AliasNames, m.Name)
		s.AliasEntityIDs = append(s.AliasEntityIDs, m.ID)
	}
	return []model.MergeSuggestion{s}
}

const mergeSystemPrompt = `You are an expert at entity resolution and name matching.
Identify entities that refer to the SAME real-world person, organization or thing under different names or spellings.
Merge name variations ("Dr. John Smith" = "J. Smith"), abbreviations ("Massachusetts Institute of Technology" = "MIT") and titles.
Do NOT merge different people with similar names, parent and child organizations, or different awards with similar names.`

func (e *Engine) confirmCluster(ctx context.Context, c cluster, applicant string) ([]model.MergeSuggestion, error) {
	system := mergeSystemPrompt
	if applicant != "" {
		system += fmt.Sprintf("\nThe applicant's name is %s. Pay special attention to variations of it.", applicant)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Entities (%s):\n", c.members[0].Type)
	for _, m := range c.members {
		fmt.Fprintf(&b, "- %s", m.Name)
		if m.Identity != "" {
			fmt.Fprintf(&b, " | %s", m.Identity)
		}
		if len(m.Aliases) > 0 {
			fmt.Fprintf(&b, " | also: %s", strings.Join(m.Aliases, ", "))
		}
		fmt.Fprintf(&b, " | mentions: %d\n", m.Mentions)
	}
	b.WriteString(`
Choose the most formal, complete name as primary. Return JSON:
{"merge_suggestions": [{"primary_name": "...", "merge_names": ["..."], "reason": "why these are the same", "confidence": 0.9}]}
Return {"merge_suggestions": []} when nothing should be merged.`)

	reply, err := e.client.CompleteJSON(ctx, system, b.String(), "merge_suggestions")
	if err != nil {
		return nil, err
	}
	if !reply.Get("merge_suggestions").IsArray() {
		return nil, fmt.Errorf("%w: merge_suggestions is not an array", llm.ErrMalformedOutput)
	}

	var out []model.MergeSuggestion
	reply.Get("merge_suggestions").ForEach(func(_, v gjson.Result) bool {
		primary, ok := matchMember(c.members, v.Get("primary_name").String())
		if !ok {
			return true
		}
		s := model.MergeSuggestion{
			ID:              NewSuggestionID(),
			PrimaryName:     primary.Name,
			PrimaryType:     primary.Type,
			PrimaryEntityID: primary.ID,
			Reason:          v.Get("reason").String(),
			Confidence:      v.Get("confidence").Float(),
			Status:          model.MergePending,
		}
		for _, n := range v.Get("merge_names").Array() {
			alias, ok := matchMember(c.members, n.String())
			if !ok || alias.ID == primary.ID || slices.Contains(s.AliasEntityIDs, alias.ID) {
				continue
			}
			s.AliasNames = append(s.AliasNames, alias.Name)
			s.AliasEntityIDs = append(s.AliasEntityIDs, alias.ID)
		}
		if len(s.AliasEntityIDs) > 0 {
			out = append(out, s)
		}
		return true
	})
	return out, nil
}

// matchMember maps a name from the model's reply back onto a cluster member
func matchMember(members []model.Entity, name string) (model.Entity, bool) {
	norm := entity.NormalizeName(name)
	if norm == "" {
		return model.Entity{}, false
	}
	for _, m := range members {
		if entity.NormalizeName(m.Name) == norm {
			return m, true
		}
	}
	for _, m := range members {
		for _, a := range m.Aliases {
			if entity.NormalizeName(a) == norm {
				return m, true
			}
		}
	}
	return model.Entity{}, false
}

// NewSuggestionID returns a fresh suggestion id
func NewSuggestionID() string {
	return "merge_" + uuid.NewString()[:8]
}

func snippetJaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, id := range a {
		set[id] = true
	}
	inter := 0
	union := len(set)
	seen := make(map[string]bool, len(b))
	for _, id := range b {
		if seen[id] {
			continue
		}
		seen[id] = true
		if set[id] {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func names(es []model.Entity) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.Name
	}
	return out
}

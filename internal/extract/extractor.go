// Package extract turns registered snippets into entities, relations and
// inter-snippet links using an LLM.
package extract

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/ppiankov/petitrace/internal/entity"
	"github.com/ppiankov/petitrace/internal/llm"
	"github.com/ppiankov/petitrace/internal/model"
	"github.com/ppiankov/petitrace/internal/util"
	"github.com/ppiankov/petitrace/internal/worker"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// Extractor runs LLM extraction over snippet batches
type Extractor struct {
	client     *llm.Client
	cfg        model.ExtractionConfig
	classifier *ClaimClassifier
}

// New creates an extractor
func New(client *llm.Client, cfg model.ExtractionConfig) *Extractor {
	return &Extractor{client: client, cfg: cfg, classifier: NewClaimClassifier()}
}

// Failure records snippets whose extraction failed after the retry
type Failure struct {
	SnippetIDs []string `json:"snippet_ids"`
	Cause      string   `json:"cause"`
	Retryable  bool     `json:"retry_safe"`
}

// Result is the outcome of one extraction batch. Snippets holds every
// input snippet with its tags filled in, whether extraction succeeded
// for it or not.
type Result struct {
	Snippets []model.Snippet `json:"snippets"`
	Entities []model.Entity  `json:"entities"`
	Links    []model.Link    `json:"links"`
	Failed   []Failure       `json:"failed,omitempty"`
}

// Partial reports whether some chunks failed
func (r *Result) Partial() bool {
	return len(r.Failed) > 0
}

type snippetFinding struct {
	id          string
	subject     string
	applicant   bool
	hasFlag     bool
	evidenceTyp string
}

type entityFinding struct {
	name       string
	typ        model.EntityType
	identity   string
	snippetIDs []string
}

type relationFinding struct {
	from, to   string
	typ        string
	snippetIDs []string
}

type findings struct {
	snippets  []snippetFinding
	entities  []entityFinding
	relations []relationFinding
}

type chunkResult struct {
	index int
	chunk []model.Snippet
	found *findings
	err   error
}

func (r chunkResult) GetError() error { return r.err }

// Extract runs extraction over snippets and folds the findings into g,
// which the caller owns. Chunks that fail are retried once as
// single-snippet chunks; what still fails is reported in Result.Failed
// and the snippets are kept unlinked. Without a provider every snippet is
// returned keyword-tagged and reported as failed. Only cancellation is
// returned as an error.
func (e *Extractor) Extract(ctx context.Context, snippets []model.Snippet, g *entity.Graph, applicant string) (*Result, error) {
	if !e.client.Enabled() {
		return e.unlinked(snippets, model.ErrLLMDisabled), nil
	}

	chunks := chunkSnippets(snippets, e.cfg.ChunkChars, e.cfg.ChunkSnippets)
	results := e.runChunks(ctx, chunks, applicant)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var ok []chunkResult
	var retry [][]model.Snippet
	var failed []Failure
	for _, r := range results {
		if r.err == nil {
			ok = append(ok, r)
			continue
		}
		if !model.IsRetryable(r.err) {
			failed = append(failed, Failure{SnippetIDs: chunkIDs(r.chunk), Cause: r.err.Error()})
			continue
		}
		util.Log.WithFields(logrus.Fields{
			"snippets": len(r.chunk),
			"error":    r.err,
		}).Debug("chunk failed, retrying snippet by snippet")
		for _, s := range r.chunk {
			retry = append(retry, []model.Snippet{s})
		}
	}

	if len(retry) > 0 {
		for _, r := range e.runChunks(ctx, retry, applicant) {
			if r.err == nil {
				r.index += len(chunks)
				ok = append(ok, r)
				continue
			}
			failed = append(failed, Failure{
				SnippetIDs: []string{r.chunk[0].ID},
				Cause:      r.err.Error(),
				Retryable:  model.IsRetryable(r.err),
			})
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	if len(failed) > 0 {
		util.Log.WithField("failed", len(failed)).Warn("extraction partially failed")
	}

	// Fold in chunk order so entity ids and alias choice are deterministic.
	sort.Slice(ok, func(i, j int) bool { return ok[i].index < ok[j].index })

	tagged := make(map[string]model.Snippet, len(snippets))
	for _, s := range snippets {
		tagged[s.ID] = s.Clone()
	}
	touched := make(map[string]bool)
	for _, r := range ok {
		for _, id := range e.fold(r.found, g, tagged, applicant) {
			touched[id] = true
		}
	}

	res := &Result{Failed: failed}
	for _, s := range snippets {
		t := tagged[s.ID]
		if t.ClaimType == "" || t.ClaimType == model.ClaimOther {
			t.ClaimType = e.classifier.Classify(t.Text)
		}
		res.Snippets = append(res.Snippets, t)
	}
	for id := range touched {
		if ent, ok := g.Lookup(id); ok {
			res.Entities = append(res.Entities, ent)
		}
	}
	sort.Slice(res.Entities, func(i, j int) bool { return res.Entities[i].ID < res.Entities[j].ID })
	res.Links = entity.ComputeLinks(res.Snippets, g)
	return res, nil
}

// unlinked returns the snippets tagged by keyword only, all reported as
// failed with cause
func (e *Extractor) unlinked(snippets []model.Snippet, cause error) *Result {
	res := &Result{Snippets: make([]model.Snippet, 0, len(snippets))}
	for _, s := range snippets {
		t := s.Clone()
		if t.ClaimType == "" || t.ClaimType == model.ClaimOther {
			t.ClaimType = e.classifier.Classify(t.Text)
		}
		res.Snippets = append(res.Snippets, t)
	}
	if len(snippets) > 0 {
		res.Failed = []Failure{{SnippetIDs: chunkIDs(snippets), Cause: cause.Error(), Retryable: model.IsRetryable(cause)}}
	}
	util.Log.WithField("snippets", len(snippets)).Warn("no LLM provider, snippets registered without entities")
	return res
}

func (e *Extractor) runChunks(ctx context.Context, chunks [][]model.Snippet, applicant string) []chunkResult {
	jobs := make([]worker.Job, len(chunks))
	for i, c := range chunks {
		i, c := i, c
		jobs[i] = worker.FuncJob(func(ctx context.Context) worker.Result {
			found, err := e.extractChunk(ctx, c, applicant)
			return chunkResult{index: i, chunk: c, found: found, err: err}
		})
	}

	concurrency := e.cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	out := make([]chunkResult, len(chunks))
	for i, r := range worker.Run(ctx, concurrency, jobs) {
		cr, ok := r.(chunkResult)
		if !ok {
			// never started: the context ended first
			cr = chunkResult{index: i, chunk: chunks[i], err: r.GetError()}
		}
		out[i] = cr
	}
	return out
}

func (e *Extractor) extractChunk(ctx context.Context, chunk []model.Snippet, applicant string) (*findings, error) {
	util.Log.WithField("snippets", len(chunk)).Debug("extracting chunk")

	reply, err := e.client.CompleteJSON(ctx, systemPrompt, buildPrompt(chunk, applicant), "snippets", "entities", "relations")
	if err != nil {
		return nil, wrapError(chunk, err)
	}
	if !reply.Get("snippets").IsArray() || !reply.Get("entities").IsArray() {
		return nil, wrapError(chunk, fmt.Errorf("%w: snippets and entities must be arrays", llm.ErrMalformedOutput))
	}

	inChunk := make(map[string]bool, len(chunk))
	for _, s := range chunk {
		inChunk[s.ID] = true
	}
	ids := func(r gjson.Result) []string {
		var out []string
		for _, v := range r.Array() {
			if inChunk[v.String()] {
				out = append(out, v.String())
			}
		}
		return out
	}

	f := &findings{}
	reply.Get("snippets").ForEach(func(_, v gjson.Result) bool {
		id := v.Get("id").String()
		if !inChunk[id] {
			return true
		}
		flag := v.Get("is_applicant_achievement")
		f.snippets = append(f.snippets, snippetFinding{
			id:          id,
			subject:     v.Get("subject").String(),
			applicant:   flag.Bool(),
			hasFlag:     flag.Exists(),
			evidenceTyp: v.Get("evidence_type").String(),
		})
		return true
	})
	reply.Get("entities").ForEach(func(_, v gjson.Result) bool {
		name := v.Get("name").String()
		if name == "" {
			return true
		}
		f.entities = append(f.entities, entityFinding{
			name:       name,
			typ:        model.ParseEntityType(v.Get("type").String()),
			identity:   v.Get("identity").String(),
			snippetIDs: ids(v.Get("snippet_ids")),
		})
		return true
	})
	reply.Get("relations").ForEach(func(_, v gjson.Result) bool {
		rf := relationFinding{
			from:       v.Get("from").String(),
			to:         v.Get("to").String(),
			typ:        v.Get("type").String(),
			snippetIDs: ids(v.Get("snippet_ids")),
		}
		if rf.from != "" && rf.to != "" {
			f.relations = append(f.relations, rf)
		}
		return true
	})
	return f, nil
}

func chunkIDs(chunk []model.Snippet) []string {
	ids := make([]string, len(chunk))
	for i, s := range chunk {
		ids[i] = s.ID
	}
	return ids
}

func wrapError(chunk []model.Snippet, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, model.ErrLLMDisabled) {
		return err
	}
	return &model.ExtractionError{
		Op:        fmt.Sprintf("chunk %s+%d", chunk[0].ID, len(chunk)-1),
		Cause:     err,
		Retryable: !llm.IsPermanent(err),
	}
}

// fold merges one chunk's findings into the graph and the tagged snippets
// and returns the canonical ids of the entities it touched
func (e *Extractor) fold(f *findings, g *entity.Graph, tagged map[string]model.Snippet, applicant string) []string {
	var touched []string
	byName := make(map[string]string)
	anyType := make(map[string]string)

	upsert := func(name string, typ model.EntityType, identity string) string {
		key := string(typ) + "|" + entity.NormalizeName(name)
		if id, ok := byName[key]; ok {
			return id
		}
		id := findNear(g, name, typ)
		if id == "" {
			id = g.Add(model.Entity{Name: name, Type: typ, Identity: identity})
		} else {
			g.AddAlias(id, name)
		}
		byName[key] = id
		if _, ok := anyType[entity.NormalizeName(name)]; !ok {
			anyType[entity.NormalizeName(name)] = id
		}
		touched = append(touched, id)
		return id
	}
	mention := func(entityID, snippetID string) {
		s, ok := tagged[snippetID]
		if !ok {
			return
		}
		g.AddMention(entityID, snippetID)
		if !slices.Contains(s.EntityIDs, entityID) {
			s.EntityIDs = append(s.EntityIDs, entityID)
		}
		tagged[snippetID] = s
	}

	for _, ef := range f.entities {
		id := upsert(ef.name, ef.typ, ef.identity)
		for _, sid := range ef.snippetIDs {
			mention(id, sid)
		}
	}

	for _, sf := range f.snippets {
		s := tagged[sf.id]
		subject := sf.subject
		if subject == "" && sf.hasFlag && sf.applicant {
			subject = applicant
		}
		if subject != "" {
			id := upsert(subject, model.EntityPerson, "")
			mention(id, sf.id)
			s = tagged[sf.id]
			s.SubjectEntityID = id
		}
		if s.ClaimType == "" || s.ClaimType == model.ClaimOther {
			s.ClaimType = model.ParseClaimType(sf.evidenceTyp)
		}
		tagged[sf.id] = s
	}

	lookup := func(name string) string {
		if id, ok := anyType[entity.NormalizeName(name)]; ok {
			return id
		}
		return findNear(g, name, "")
	}
	for _, rf := range f.relations {
		from, to := lookup(rf.from), lookup(rf.to)
		if from == "" || to == "" {
			continue
		}
		g.AddRelation(model.Relation{From: from, To: to, Type: rf.typ, SnippetIDs: rf.snippetIDs})
	}
	return touched
}

// findNear returns the canonical entity of the type whose name or alias
// is an exact or near-exact match. An empty type matches any type.
func findNear(g *entity.Graph, name string, typ model.EntityType) string {
	if e, ok := g.FindByName(name, typ); ok {
		return e.ID
	}
	for _, e := range g.Entities() {
		if typ != "" && e.Type != typ {
			continue
		}
		if entity.NearSameName(e.Name, name) {
			return e.ID
		}
		for _, a := range e.Aliases {
			if entity.NearSameName(a, name) {
				return e.ID
			}
		}
	}
	return ""
}

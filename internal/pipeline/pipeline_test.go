package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/petitrace/internal/llm"
	"github.com/ppiankov/petitrace/internal/llm/llmtest"
	"github.com/ppiankov/petitrace/internal/model"
	"github.com/ppiankov/petitrace/internal/ocr"
	"github.com/ppiankov/petitrace/internal/store"
)

const exhibitJSON = `{
  "id": "exhibit1",
  "exhibit_id": "1",
  "pages": [
    {"number": 1, "width": 1000, "height": 1000, "blocks": [
      {"text": "Dr. Wei Chen received the IEEE Best Paper Award in 2021.", "bbox": [100, 100, 900, 150]},
      {"text": "Dr. Zhang received the ACM Fellowship.", "bbox": [100, 200, 900, 250]},
      {"text": "The committee selected Dr. Chen for the award.", "bbox": [100, 300, 900, 350]}
    ]},
    {"number": 2, "width": 1000, "height": 1000, "blocks": [
      {"text": "W. Chen serves as a reviewer for Nature journals.", "bbox": [100, 100, 900, 150]}
    ]}
  ]
}`

const extractionReply = `{
  "snippets": [
    {"id": "snp_1_1", "subject": "Dr. Wei Chen", "is_applicant_achievement": true, "evidence_type": "award"},
    {"id": "snp_1_2", "subject": "Dr. Zhang", "is_applicant_achievement": false, "evidence_type": "membership"},
    {"id": "snp_1_3", "subject": "Dr. Chen", "is_applicant_achievement": true, "evidence_type": "award"},
    {"id": "snp_1_4", "subject": "W. Chen", "is_applicant_achievement": true, "evidence_type": "judging"}
  ],
  "entities": [
    {"name": "Dr. Wei Chen", "type": "person", "snippet_ids": ["snp_1_1"]},
    {"name": "Dr. Zhang", "type": "person", "snippet_ids": ["snp_1_2"]},
    {"name": "Dr. Chen", "type": "person", "snippet_ids": ["snp_1_3"]},
    {"name": "W. Chen", "type": "person", "snippet_ids": ["snp_1_4"]},
    {"name": "IEEE Best Paper Award", "type": "award", "snippet_ids": ["snp_1_1", "snp_1_3"]}
  ],
  "relations": [
    {"from": "Dr. Wei Chen", "to": "IEEE Best Paper Award", "type": "received", "snippet_ids": ["snp_1_1"]}
  ]
}`

const mergeReply = `{"merge_suggestions": [
  {"primary_name": "Dr. Wei Chen", "merge_names": ["Dr. Chen", "W. Chen"], "reason": "same researcher", "confidence": 0.95}
]}`

const titleReply = `{"title": "Dr. Wei Chen's recognized awards", "summary": "Best paper award."}`

func scripted() *llmtest.Scripted {
	return (&llmtest.Scripted{}).
		On("Snippets:", llmtest.Reply{Text: extractionReply}).
		On("Entities (", llmtest.Reply{Text: mergeReply}).
		On("Evidence category", llmtest.Reply{Text: titleReply})
}

func writeExhibit(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "exhibit1.json"), []byte(exhibitJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func newService(t *testing.T, p llm.Provider) *Service {
	t.Helper()
	var client *llm.Client
	if p != nil {
		client = llm.NewClient(p, llm.ClientOptions{Timeout: 5 * time.Second})
	}
	cfg := model.DefaultConfig()
	cfg.Store.Driver = "memory"
	return NewService(Options{
		Config: cfg,
		Store:  store.NewMemory(),
		Source: ocr.DirSource{Dir: writeExhibit(t)},
		Client: client,
	})
}

func extractCase(t *testing.T, svc *Service) *ExtractResult {
	t.Helper()
	res, err := svc.Extract(context.Background(), "case", ExtractRequest{DocumentIDs: []string{"exhibit1"}, Applicant: "Dr. Wei Chen"})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	return res
}

func TestService_FullWorkflow(t *testing.T) {
	ctx := context.Background()
	p := scripted()
	svc := newService(t, p)

	// 1. Extraction
	res := extractCase(t, svc)
	if len(res.Snippets) != 4 || len(res.Failed) != 0 {
		t.Fatalf("Unexpected extraction result: %d snippets, failed %+v", len(res.Snippets), res.Failed)
	}
	stage, _ := svc.Stage(ctx, "case")
	if stage.Stage != model.StageSnippetsReady || stage.Applicant != "Dr. Wei Chen" || stage.Snippets != 4 {
		t.Errorf("Unexpected stage after extract: %+v", stage)
	}
	snippets, _ := svc.Snippets(ctx, "case", "exhibit1")
	if snippets[0].BBox == nil || snippets[0].ExhibitID != "1" || snippets[0].ClaimType != model.ClaimAward {
		t.Errorf("Expected located, tagged snippet, got %+v", snippets[0])
	}

	calls := p.CallCount()
	again, err := svc.Extract(ctx, "case", ExtractRequest{DocumentIDs: []string{"exhibit1"}})
	if err != nil || len(again.Skipped) != 1 || p.CallCount() != calls {
		t.Errorf("Expected re-extraction to be skipped, got %+v (%v)", again, err)
	}

	// 2. Merges
	suggestions, err := svc.SuggestMerges(ctx, "case", nil)
	if err != nil {
		t.Fatalf("SuggestMerges failed: %v", err)
	}
	if len(suggestions) != 1 || suggestions[0].PrimaryName != "Dr. Wei Chen" || len(suggestions[0].AliasEntityIDs) != 2 {
		t.Fatalf("Unexpected suggestions: %+v", suggestions)
	}
	conf, err := svc.ConfirmMerges(ctx, "case", []model.MergeDecision{
		{ID: suggestions[0].ID, Status: model.MergeAccepted},
		{ID: "missing", Status: model.MergeRejected},
	})
	if err != nil || len(conf.Acknowledged) != 1 || len(conf.NotFound) != 1 {
		t.Errorf("Unexpected confirm result: %+v (%v)", conf, err)
	}
	merged, err := svc.ApplyMerges(ctx, "case")
	if err != nil || merged != 1 {
		t.Fatalf("Expected one merge applied, got %d (%v)", merged, err)
	}
	if merged, _ := svc.ApplyMerges(ctx, "case"); merged != 0 {
		t.Errorf("Second apply should be a no-op, merged %d", merged)
	}

	snippets, _ = svc.Snippets(ctx, "case", "")
	primary := suggestions[0].PrimaryEntityID
	for _, s := range snippets {
		if s.ID == "snp_1_2" {
			continue
		}
		if s.SubjectEntityID != primary {
			t.Errorf("Snippet %s subject %s, expected canonical %s", s.ID, s.SubjectEntityID, primary)
		}
	}
	for _, e := range mustEntities(t, svc) {
		if slices.Contains(suggestions[0].AliasEntityIDs, e.ID) {
			t.Errorf("Alias %s still listed as canonical", e.ID)
		}
	}

	// 3. Arguments
	gen, err := svc.GenerateArguments(ctx, "case", "Dr. Wei Chen")
	if err != nil {
		t.Fatalf("GenerateArguments failed: %v", err)
	}
	if len(gen.Arguments) != 2 {
		t.Fatalf("Expected award and judging arguments, got %+v", gen.Arguments)
	}
	if ids := gen.UnassignedIDs(); len(ids) != 1 || ids[0] != "snp_1_2" || gen.Unassigned[0].Reason != model.UnassignedWrongSubject {
		t.Errorf("Expected Zhang's snippet unassigned, got %+v", gen.Unassigned)
	}
	var award, judging model.Argument
	for _, a := range gen.Arguments {
		switch a.ClaimType {
		case model.ClaimAward:
			award = a
		case model.ClaimJudging:
			judging = a
		}
	}
	if len(award.SnippetIDs) != 2 || award.Title != "Dr. Wei Chen's recognized awards" {
		t.Errorf("Unexpected award argument: %+v", award)
	}

	verified := model.StatusVerified
	for _, id := range []string{award.ID, judging.ID} {
		if _, err := svc.UpdateArgument(ctx, "case", id, model.ArgumentPatch{Status: &verified}); err != nil {
			t.Fatalf("Verify %s failed: %v", id, err)
		}
	}

	// 4. Mappings
	edges, err := svc.SuggestMappings(ctx, "case")
	if err != nil || len(edges) != 2 {
		t.Fatalf("Expected two suggested edges, got %+v (%v)", edges, err)
	}
	all, err := svc.ConfirmAllMappings(ctx, "case")
	if err != nil || len(all.Confirmed) != 2 {
		t.Fatalf("Expected both edges confirmed, got %+v (%v)", all, err)
	}
	if _, err := svc.ConfirmMapping(ctx, "case", "map_missing"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Expected not found for a missing edge, got %v", err)
	}
	stage, _ = svc.Stage(ctx, "case")
	if stage.Stage != model.StageMappingConfirmed {
		t.Errorf("Expected mapping_confirmed, got %s", stage.Stage)
	}
	if err := svc.DeleteArgument(ctx, "case", award.ID); err == nil {
		t.Error("Expected delete of a confirmed-mapped argument to be refused")
	}

	// 5. Letter and provenance
	sec, err := svc.SaveSection(ctx, "case", "awards", SectionInput{
		Title: "Awards",
		Sentences: []string{
			"Dr. Wei Chen received the IEEE Best Paper Award [cite snp_1_1].",
			fmt.Sprintf("Dr. Chen also reviews for leading journals [cite %s].", judging.ID),
			"This record is remarkable.",
		},
	})
	if err != nil {
		t.Fatalf("SaveSection failed: %v", err)
	}
	if strings.Contains(sec.Sentences[0].Text, "[cite") {
		t.Errorf("Citation marker kept in stored text: %q", sec.Sentences[0].Text)
	}
	j, _ := svc.GetArgument(ctx, "case", judging.ID)
	if j.Status != model.StatusUsed {
		t.Errorf("Expected cited argument to be used, got %s", j.Status)
	}

	fwd, err := svc.SentenceProvenance(ctx, "case", "awards", 0, "hybrid")
	if err != nil {
		t.Fatal(err)
	}
	if len(fwd.Links) != 1 || fwd.Links[0].SnippetID != "snp_1_1" || fwd.Links[0].Confidence != 1.0 || fwd.Links[0].BBox == nil {
		t.Errorf("Unexpected forward provenance: %+v", fwd.Links)
	}
	missing, err := svc.SentenceProvenance(ctx, "case", "awards", 9, "")
	if err != nil || len(missing.Links) != 0 || missing.Cause == "" {
		t.Errorf("Expected empty result with cause, got %+v (%v)", missing, err)
	}
	rev, err := svc.ReverseProvenance(ctx, "case", "snp_1_4")
	if err != nil || len(rev.Citations) != 1 || rev.Citations[0].ArgumentID != judging.ID {
		t.Errorf("Expected snp_1_4 cited through the judging argument, got %+v (%v)", rev, err)
	}

	// 6. Report
	report, err := svc.Report(ctx, "case")
	if err != nil {
		t.Fatal(err)
	}
	if report.Stage != model.StagePetitionReady || report.Score.Met != 2 || report.Score.Confidence != "low" {
		t.Errorf("Unexpected report header: stage %s met %d confidence %s", report.Stage, report.Score.Met, report.Score.Confidence)
	}
	if !slices.Contains(report.UnusedSnippets, "snp_1_2") {
		t.Errorf("Expected snp_1_2 unused, got %v", report.UnusedSnippets)
	}
	for _, c := range report.Standards {
		if c.Standard.Key == "awards" && (len(c.Locations) != 2 || c.Locations[0] != "Exhibit 1, p. 1") {
			t.Errorf("Unexpected award locations: %v", c.Locations)
		}
	}

	var md bytes.Buffer
	if err := svc.Renderer().WriteMarkdown(&md, report); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"# Petition readiness: case", "Readiness index", "Judging the Work of Others", "snp_1_2"} {
		if !strings.Contains(md.String(), want) {
			t.Errorf("Markdown missing %q", want)
		}
	}
}

func mustEntities(t *testing.T, svc *Service) []model.Entity {
	t.Helper()
	ents, err := svc.Entities(context.Background(), "case")
	if err != nil {
		t.Fatal(err)
	}
	return ents
}

func TestService_ExtractWithoutLLMRegistersSnippets(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, nil)
	res, err := svc.Extract(ctx, "case", ExtractRequest{DocumentIDs: []string{"exhibit1"}})
	if err != nil {
		t.Fatalf("Extract without an LLM must still register snippets: %v", err)
	}
	if len(res.Failed) != 1 || !strings.Contains(res.Failed[0].Cause, model.ErrLLMDisabled.Error()) {
		t.Errorf("Expected the missing provider reported as a failure, got %+v", res.Failed)
	}

	stage, _ := svc.Stage(ctx, "case")
	if stage.Stage != model.StageSnippetsReady || stage.Snippets == 0 || stage.Entities != 0 {
		t.Errorf("Expected unlinked snippets registered, got %+v", stage)
	}
	if len(stage.ExtractedDocs) != 0 {
		t.Errorf("Documents with failed snippets must stay eligible for extraction, got %v", stage.ExtractedDocs)
	}

	// Manual assembly still works on unlinked snippets.
	if _, err := svc.CreateArgument(ctx, "case", "snp_1_1"); err != nil {
		t.Errorf("CreateArgument on an unlinked snippet failed: %v", err)
	}
}

func TestService_ExtractMissingDocument(t *testing.T) {
	svc := newService(t, scripted())
	_, err := svc.Extract(context.Background(), "case", ExtractRequest{DocumentIDs: []string{"exhibit1", "nope"}})
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Expected not found, got %v", err)
	}
	if snippets, _ := svc.Snippets(context.Background(), "case", ""); len(snippets) != 0 {
		t.Error("Partial load must not register snippets")
	}
}

func TestService_StageGate(t *testing.T) {
	svc := newService(t, scripted())
	_, err := svc.GenerateArguments(context.Background(), "case", "Dr. Wei Chen")
	if !errors.Is(err, model.ErrStageBlocked) {
		t.Errorf("Expected stage blocked, got %v", err)
	}
	if _, err := svc.SuggestMerges(context.Background(), "case", nil); !errors.Is(err, model.ErrStageBlocked) {
		t.Errorf("Expected stage blocked, got %v", err)
	}
}

// hookProvider runs before once ahead of the first completion
type hookProvider struct {
	*llmtest.Scripted
	once   sync.Once
	before func()
}

func (h *hookProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if strings.Contains(req.Prompt, "Evidence category") {
		h.once.Do(h.before)
	}
	return h.Scripted.Complete(ctx, req)
}

func TestService_GenerateRefusesStaleCommit(t *testing.T) {
	ctx := context.Background()
	h := &hookProvider{Scripted: scripted()}
	svc := newService(t, h)
	extractCase(t, svc)

	h.before = func() {
		if _, err := svc.CreateArgument(ctx, "case", "snp_1_1"); err != nil {
			t.Errorf("CreateArgument failed: %v", err)
		}
	}
	_, err := svc.GenerateArguments(ctx, "case", "Dr. Wei Chen")
	if !errors.Is(err, model.ErrConcurrentUpdate) || !model.IsRetryable(err) {
		t.Fatalf("Expected retryable concurrent update, got %v", err)
	}
	args, _ := svc.Arguments(ctx, "case")
	if len(args) != 1 {
		t.Errorf("Expected only the manual argument, got %d", len(args))
	}

	// A retry sees the manual argument and leaves snp_1_1 to it.
	gen, err := svc.GenerateArguments(ctx, "case", "Dr. Wei Chen")
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	for _, a := range gen.Arguments {
		if a.HasSnippet("snp_1_1") {
			t.Error("Retry regrouped a snippet that is already in an argument")
		}
	}
}

func TestService_GenerateCancelled(t *testing.T) {
	p := (&llmtest.Scripted{}).
		On("Snippets:", llmtest.Reply{Text: extractionReply}).
		On("Evidence category", llmtest.Reply{Block: true})
	svc := newService(t, p)
	extractCase(t, svc)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := svc.GenerateArguments(ctx, "case", "Dr. Wei Chen"); err == nil {
		t.Fatal("Expected cancellation error")
	}
	args, _ := svc.Arguments(context.Background(), "case")
	if len(args) != 0 {
		t.Errorf("Cancelled generation committed %d arguments", len(args))
	}
	stage, _ := svc.Stage(context.Background(), "case")
	if stage.Running != "" {
		t.Errorf("Running marker left behind: %s", stage.Running)
	}
}

func TestService_ManualMergeAndSaveSectionBody(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, scripted())
	extractCase(t, svc)

	m, err := svc.ManualMerge(ctx, "case", "Dr. Wei Chen", []string{"W. Chen"}, "same person")
	if err != nil {
		t.Fatalf("ManualMerge failed: %v", err)
	}
	if !m.Manual || m.Status != model.MergeAccepted || m.Confidence != 1.0 {
		t.Errorf("Unexpected manual suggestion: %+v", m)
	}
	if n, err := svc.ApplyMerges(ctx, "case"); err != nil || n != 1 {
		t.Fatalf("Expected manual merge applied, got %d (%v)", n, err)
	}
	if _, err := svc.ManualMerge(ctx, "case", "Nobody", []string{"W. Chen"}, ""); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Expected not found for an unknown name, got %v", err)
	}

	sec, err := svc.SaveSection(ctx, "case", "", SectionInput{
		Title: "Intro",
		Body:  "Dr. Chen won the award. [cite snp_1_1] She is a reviewer. [cite snp_1_4]",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(sec.Sentences) != 2 || !strings.HasPrefix(sec.ID, "sec_") {
		t.Errorf("Unexpected section: %+v", sec)
	}
	if _, err := svc.SaveSection(ctx, "case", "empty", SectionInput{Title: "x"}); !errors.Is(err, model.ErrInvalidInput) {
		t.Errorf("Expected invalid input for an empty section, got %v", err)
	}
}

func TestService_SaveSectionRejectsUnknownCitation(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, scripted())
	extractCase(t, svc)

	_, err := svc.SaveSection(ctx, "case", "intro", SectionInput{Sentences: []string{
		"Dr. Chen is great [cite does_not_exist].",
		"Plain transitional sentence.",
	}})
	var iv *model.InvariantViolationError
	if !errors.As(err, &iv) {
		t.Fatalf("Expected invariant violation for an unknown citation, got %v", err)
	}

	sections, err := svc.Sections(ctx, "case")
	if err != nil {
		t.Fatal(err)
	}
	if len(sections) != 0 {
		t.Errorf("Rejected section must not be stored, got %+v", sections)
	}
	status, err := svc.Stage(ctx, "case")
	if err != nil {
		t.Fatal(err)
	}
	if status.Stage == model.StagePetitionReady {
		t.Error("Rejected section must not advance the stage")
	}
}

func TestService_SnippetConfirmation(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, scripted())
	if _, err := svc.ConfirmAllSnippets(ctx, "case"); !errors.Is(err, model.ErrStageBlocked) {
		t.Fatalf("Expected stage blocked before extraction, got %v", err)
	}
	extractCase(t, svc)

	stats, err := svc.SnippetStats(ctx, "case")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 4 || stats.AISuggested != 4 || stats.Confirmed != 0 {
		t.Errorf("Expected 4 extractor-suggested snippets, got %+v", stats)
	}

	sn, err := svc.ConfirmSnippet(ctx, "case", "snp_1_2", true)
	if err != nil || !sn.Confirmed || sn.ConfirmedAt == nil {
		t.Fatalf("ConfirmSnippet: %+v err=%v", sn, err)
	}
	if _, err := svc.ConfirmSnippet(ctx, "case", "snp_9_9", true); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}

	n, err := svc.ConfirmAllSnippets(ctx, "case")
	if err != nil || n != 3 {
		t.Fatalf("Expected 3 newly confirmed, got %d (%v)", n, err)
	}
	stage, _ := svc.Stage(ctx, "case")
	if stage.Stage != model.StageSnippetsConfirmed {
		t.Errorf("Expected snippets_confirmed, got %s", stage.Stage)
	}
	if stats, _ := svc.SnippetStats(ctx, "case"); stats.ConfirmationRate != 100 {
		t.Errorf("Expected full confirmation, got %+v", stats)
	}

	// Later stages still open from snippets_confirmed.
	if _, err := svc.GenerateArguments(ctx, "case", "Dr. Wei Chen"); err != nil {
		t.Errorf("Generation after confirmation failed: %v", err)
	}
}

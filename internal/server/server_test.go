package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/petitrace/internal/llm"
	"github.com/ppiankov/petitrace/internal/llm/llmtest"
	"github.com/ppiankov/petitrace/internal/model"
	"github.com/ppiankov/petitrace/internal/ocr"
	"github.com/ppiankov/petitrace/internal/pipeline"
	"github.com/ppiankov/petitrace/internal/store"
)

const exhibitJSON = `{
  "id": "exhibit1",
  "exhibit_id": "1",
  "pages": [
    {"number": 1, "width": 1000, "height": 1000, "blocks": [
      {"text": "Dr. Wei Chen received the IEEE Best Paper Award in 2021.", "bbox": [100, 100, 900, 150]},
      {"text": "W. Chen serves as a reviewer for Nature journals.", "bbox": [100, 200, 900, 250]}
    ]}
  ]
}`

const extractionReply = `{
  "snippets": [
    {"id": "snp_1_1", "subject": "Dr. Wei Chen", "is_applicant_achievement": true, "evidence_type": "award"},
    {"id": "snp_1_2", "subject": "W. Chen", "is_applicant_achievement": true, "evidence_type": "judging"}
  ],
  "entities": [
    {"name": "Dr. Wei Chen", "type": "person", "snippet_ids": ["snp_1_1"]},
    {"name": "W. Chen", "type": "person", "snippet_ids": ["snp_1_2"]}
  ],
  "relations": []
}`

const mergeReply = `{"merge_suggestions": [
  {"primary_name": "Dr. Wei Chen", "merge_names": ["W. Chen"], "reason": "same researcher", "confidence": 0.9}
]}`

const titleReply = `{"title": "Recognized work", "summary": "Evidence."}`

func newTestServer(t *testing.T, p llm.Provider, apiKey string) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "exhibit1.json"), []byte(exhibitJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	var client *llm.Client
	if p != nil {
		client = llm.NewClient(p, llm.ClientOptions{Timeout: 5 * time.Second})
	}
	cfg := model.DefaultConfig()
	cfg.Store.Driver = "memory"
	svc := pipeline.NewService(pipeline.Options{
		Config: cfg,
		Store:  store.NewMemory(),
		Source: ocr.DirSource{Dir: dir},
		Client: client,
	})
	ts := httptest.NewServer(New(svc, apiKey).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func scripted() *llmtest.Scripted {
	return (&llmtest.Scripted{}).
		On("Snippets:", llmtest.Reply{Text: extractionReply}).
		On("Entities (", llmtest.Reply{Text: mergeReply}).
		On("Evidence category", llmtest.Reply{Text: titleReply})
}

// call sends a JSON request and decodes a JSON response into out
func call(t *testing.T, ts *httptest.Server, method, path, body string, out any) int {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, r)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decoding response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestServer_Workflow(t *testing.T) {
	ts := newTestServer(t, scripted(), "")
	const base = "/api/projects/case"

	var blocked errorBody
	if code := call(t, ts, "POST", base+"/arguments/generate", `{"applicant_name": "Dr. Wei Chen"}`, &blocked); code != http.StatusConflict {
		t.Errorf("Expected 409 before extraction, got %d", code)
	}

	var extracted pipeline.ExtractResult
	code := call(t, ts, "POST", base+"/extract", `{"document_ids": ["exhibit1"], "applicant_name": "Dr. Wei Chen"}`, &extracted)
	if code != http.StatusOK || len(extracted.Snippets) != 2 {
		t.Fatalf("Unexpected extract response %d: %+v", code, extracted)
	}

	var confirmed model.Snippet
	if code := call(t, ts, "PUT", base+"/snippets/"+extracted.Snippets[0].ID+"/confirm", "", &confirmed); code != http.StatusOK || !confirmed.Confirmed {
		t.Errorf("Unexpected snippet confirm %d: %+v", code, confirmed)
	}
	var confirmAll map[string]int
	if code := call(t, ts, "POST", base+"/snippets/confirm-all", "", &confirmAll); code != http.StatusOK || confirmAll["confirmed_count"] != 1 {
		t.Errorf("Unexpected confirm-all %d: %+v", code, confirmAll)
	}
	var stats model.SnippetStats
	if code := call(t, ts, "GET", base+"/snippets/stats", "", &stats); code != http.StatusOK || stats.Total != 2 || stats.ConfirmationRate != 100 {
		t.Errorf("Unexpected snippet stats %d: %+v", code, stats)
	}

	var suggestions []model.MergeSuggestion
	if code := call(t, ts, "POST", base+"/merge-suggestions", "", &suggestions); code != http.StatusOK || len(suggestions) != 1 {
		t.Fatalf("Unexpected suggestions %d: %+v", code, suggestions)
	}

	var ack struct {
		Ack      []string `json:"ack"`
		NotFound []string `json:"not_found"`
	}
	body := fmt.Sprintf(`{"decisions": [{"id": %q, "status": "accepted"}]}`, suggestions[0].ID)
	if code := call(t, ts, "POST", base+"/merge-confirm", body, &ack); code != http.StatusOK || len(ack.Ack) != 1 {
		t.Fatalf("Unexpected confirm %d: %+v", code, ack)
	}

	var applied map[string]int
	if code := call(t, ts, "POST", base+"/merge-apply", "", &applied); code != http.StatusOK || applied["merged_count"] != 1 {
		t.Fatalf("Unexpected apply %d: %+v", code, applied)
	}

	var gen struct {
		Arguments    []model.Argument `json:"arguments"`
		Unassigned   []any            `json:"unassigned"`
		UnassignedID []string         `json:"unassigned_snippet_ids"`
	}
	if code := call(t, ts, "POST", base+"/arguments/generate", `{"applicant_name": "Dr. Wei Chen"}`, &gen); code != http.StatusOK {
		t.Fatalf("Generate returned %d", code)
	}
	if len(gen.Arguments) != 2 || gen.UnassignedID == nil || gen.Unassigned == nil {
		t.Errorf("Unexpected generate response: %+v", gen)
	}

	var edges []model.MappingEdge
	if code := call(t, ts, "POST", base+"/mappings/suggest", "", &edges); code != http.StatusOK || len(edges) != 2 {
		t.Fatalf("Unexpected mapping suggestions %d: %+v", code, edges)
	}
	var edge model.MappingEdge
	if code := call(t, ts, "POST", base+"/mappings/"+edges[0].ID+"/confirm", "", &edge); code != http.StatusOK || !edge.Confirmed {
		t.Errorf("Unexpected confirm %d: %+v", code, edge)
	}

	var sec model.Section
	code = call(t, ts, "PUT", base+"/sections/awards", `{"title": "Awards", "sentences": ["Dr. Chen won the award [cite snp_1_1]."]}`, &sec)
	if code != http.StatusOK || len(sec.Sentences) != 1 {
		t.Fatalf("Unexpected section %d: %+v", code, sec)
	}

	var fwd struct {
		Links []model.ProvenanceLink `json:"links"`
	}
	if code := call(t, ts, "GET", base+"/provenance/sentence?section=awards&index=0&method=explicit", "", &fwd); code != http.StatusOK || len(fwd.Links) != 1 {
		t.Errorf("Unexpected forward provenance %d: %+v", code, fwd)
	}
	var bad errorBody
	if code := call(t, ts, "GET", base+"/provenance/sentence?section=awards&index=x", "", &bad); code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for a bad index, got %d", code)
	}

	var stage pipeline.StageStatus
	if code := call(t, ts, "GET", base+"/stage", "", &stage); code != http.StatusOK || stage.Stage != model.StagePetitionReady {
		t.Errorf("Unexpected stage %d: %+v", code, stage)
	}

	resp, err := http.Get(ts.URL + base + "/report?format=md")
	if err != nil {
		t.Fatal(err)
	}
	md, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/markdown") || !strings.Contains(string(md), "# Petition readiness: case") {
		t.Errorf("Unexpected markdown report: %s", md)
	}
}

func TestServer_Errors(t *testing.T) {
	ts := newTestServer(t, nil, "")
	const base = "/api/projects/case"

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		retry  bool
	}{
		{"unknown argument", "GET", base + "/arguments/arg_missing", "", http.StatusNotFound, false},
		{"bad project id", "GET", "/api/projects/..bad/stage", "", http.StatusUnprocessableEntity, false},
		{"malformed body", "POST", base + "/extract", "{", http.StatusBadRequest, false},
		{"no documents", "POST", base + "/extract", `{"document_ids": []}`, http.StatusUnprocessableEntity, false},
		{"stage blocked", "POST", base + "/arguments/generate", `{"applicant_name": "Dr. Wei Chen"}`, http.StatusConflict, false},
		{"missing snippet id", "POST", base + "/arguments", `{}`, http.StatusBadRequest, false},
		{"confirm before extraction", "POST", base + "/snippets/confirm-all", "", http.StatusConflict, false},
		{"malformed confirm body", "PUT", base + "/snippets/snp_1_1/confirm", `{"is_confirmed": "yes"}`, http.StatusBadRequest, false},
		{"bad report format", "GET", base + "/report?format=pdf", "", http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body errorBody
			code := call(t, ts, tt.method, tt.path, tt.body, &body)
			if code != tt.status {
				t.Errorf("Expected %d, got %d (%s)", tt.status, code, body.Error)
			}
			if body.Error == "" || body.RetrySafe != tt.retry {
				t.Errorf("Unexpected error body: %+v", body)
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{model.NotFound("snippet", "x"), http.StatusNotFound},
		{&model.ValidationError{Issues: []model.Issue{{Code: "c", Message: "m"}}}, http.StatusUnprocessableEntity},
		{&model.InvariantViolationError{Op: "merge", Detail: "cycle"}, http.StatusConflict},
		{&model.MergeConflictError{SuggestionID: "m1", Reason: "applied"}, http.StatusConflict},
		{fmt.Errorf("wrap: %w", model.ErrConcurrentUpdate), http.StatusConflict},
		{model.ErrStageBlocked, http.StatusConflict},
		{&model.ExtractionError{Op: "chunk", Cause: llm.ErrTimeout, Retryable: true}, http.StatusGatewayTimeout},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{&model.ExtractionError{Op: "chunk", Cause: errors.New("500 from provider")}, http.StatusBadGateway},
		{model.ErrLLMDisabled, http.StatusServiceUnavailable},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.status {
			t.Errorf("statusFor(%v) = %d, expected %d", tt.err, got, tt.status)
		}
	}
}

func TestServer_Auth(t *testing.T) {
	ts := newTestServer(t, nil, "secret")

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Health must skip auth, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("Expected a request id header")
	}

	resp, err = http.Get(ts.URL + "/api/projects/case/stage")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest("GET", ts.URL+"/api/projects/case/stage", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 with token, got %d", resp.StatusCode)
	}
}

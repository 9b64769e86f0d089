package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/ppiankov/petitrace/internal/mapping"
	"github.com/ppiankov/petitrace/internal/model"
	"github.com/ppiankov/petitrace/internal/pipeline"
	"github.com/ppiankov/petitrace/internal/util"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": util.Version,
	})
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Service.Projects(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": ids})
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req pipeline.ExtractRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.Service.Extract(r.Context(), r.PathValue("project"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSnippets(w http.ResponseWriter, r *http.Request) {
	snippets, err := s.Service.Snippets(r.Context(), r.PathValue("project"), r.URL.Query().Get("document_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(snippets))
}

func (s *Server) handleConfirmSnippet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Confirmed *bool `json:"is_confirmed"`
	}
	if !decode(w, r, &req) {
		return
	}
	confirmed := req.Confirmed == nil || *req.Confirmed
	sn, err := s.Service.ConfirmSnippet(r.Context(), r.PathValue("project"), r.PathValue("id"), confirmed)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sn)
}

func (s *Server) handleConfirmAllSnippets(w http.ResponseWriter, r *http.Request) {
	n, err := s.Service.ConfirmAllSnippets(r.Context(), r.PathValue("project"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"confirmed_count": n})
}

func (s *Server) handleSnippetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Service.SnippetStats(r.Context(), r.PathValue("project"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	entities, err := s.Service.Entities(r.Context(), r.PathValue("project"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(entities))
}

type suggestMergesRequest struct {
	EntityIDs []string `json:"entity_ids"`
}

func (s *Server) handleSuggestMerges(w http.ResponseWriter, r *http.Request) {
	var req suggestMergesRequest
	if !decode(w, r, &req) {
		return
	}
	suggestions, err := s.Service.SuggestMerges(r.Context(), r.PathValue("project"), req.EntityIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, suggestions)
}

func (s *Server) handleMergeSuggestions(w http.ResponseWriter, r *http.Request) {
	suggestions, err := s.Service.MergeSuggestions(r.Context(), r.PathValue("project"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(suggestions))
}

func (s *Server) handleMergeHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.Service.MergeHistory(r.Context(), r.PathValue("project"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(history))
}

type confirmMergesRequest struct {
	Decisions []model.MergeDecision `json:"decisions"`
}

func (s *Server) handleConfirmMerges(w http.ResponseWriter, r *http.Request) {
	var req confirmMergesRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Decisions) == 0 {
		badRequest(w, "decisions are required")
		return
	}
	res, err := s.Service.ConfirmMerges(r.Context(), r.PathValue("project"), req.Decisions)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleApplyMerges(w http.ResponseWriter, r *http.Request) {
	n, err := s.Service.ApplyMerges(r.Context(), r.PathValue("project"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"merged_count": n})
}

type manualMergeRequest struct {
	PrimaryName string   `json:"primary_name"`
	AliasNames  []string `json:"alias_names"`
	Reason      string   `json:"reason"`
}

func (s *Server) handleManualMerge(w http.ResponseWriter, r *http.Request) {
	var req manualMergeRequest
	if !decode(w, r, &req) {
		return
	}
	m, err := s.Service.ManualMerge(r.Context(), r.PathValue("project"), req.PrimaryName, req.AliasNames, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleArguments(w http.ResponseWriter, r *http.Request) {
	args, err := s.Service.Arguments(r.Context(), r.PathValue("project"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(args))
}

type snippetRequest struct {
	SnippetID string `json:"snippet_id"`
}

func (s *Server) handleCreateArgument(w http.ResponseWriter, r *http.Request) {
	var req snippetRequest
	if !decode(w, r, &req) {
		return
	}
	if req.SnippetID == "" {
		badRequest(w, "snippet_id is required")
		return
	}
	a, err := s.Service.CreateArgument(r.Context(), r.PathValue("project"), req.SnippetID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

type generateRequest struct {
	ApplicantName string `json:"applicant_name"`
}

func (s *Server) handleGenerateArguments(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ApplicantName == "" {
		badRequest(w, "applicant_name is required")
		return
	}
	res, err := s.Service.GenerateArguments(r.Context(), r.PathValue("project"), req.ApplicantName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"arguments":              orEmpty(res.Arguments),
		"unassigned_snippet_ids": res.UnassignedIDs(),
		"unassigned":             orEmpty(res.Unassigned),
	})
}

func (s *Server) handleGetArgument(w http.ResponseWriter, r *http.Request) {
	a, err := s.Service.GetArgument(r.Context(), r.PathValue("project"), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleUpdateArgument(w http.ResponseWriter, r *http.Request) {
	var patch model.ArgumentPatch
	if !decode(w, r, &patch) {
		return
	}
	a, err := s.Service.UpdateArgument(r.Context(), r.PathValue("project"), r.PathValue("id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleDeleteArgument(w http.ResponseWriter, r *http.Request) {
	if err := s.Service.DeleteArgument(r.Context(), r.PathValue("project"), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type addSnippetResponse struct {
	Argument model.Argument                `json:"argument"`
	Warning  *model.SubjectConflictWarning `json:"warning,omitempty"`
}

func (s *Server) handleAddSnippet(w http.ResponseWriter, r *http.Request) {
	var req snippetRequest
	if !decode(w, r, &req) {
		return
	}
	if req.SnippetID == "" {
		badRequest(w, "snippet_id is required")
		return
	}
	a, warning, err := s.Service.AddSnippet(r.Context(), r.PathValue("project"), r.PathValue("id"), req.SnippetID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, addSnippetResponse{Argument: a, Warning: warning})
}

func (s *Server) handleRemoveSnippet(w http.ResponseWriter, r *http.Request) {
	a, err := s.Service.RemoveSnippet(r.Context(), r.PathValue("project"), r.PathValue("id"), r.PathValue("snippet"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleMappings(w http.ResponseWriter, r *http.Request) {
	edges, err := s.Service.Mappings(r.Context(), r.PathValue("project"), r.URL.Query().Get("argument_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(edges))
}

type addMappingRequest struct {
	ArgumentID  string `json:"argument_id"`
	StandardKey string `json:"standard_key"`
	Confirmed   bool   `json:"confirmed"`
}

func (s *Server) handleAddMapping(w http.ResponseWriter, r *http.Request) {
	var req addMappingRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ArgumentID == "" || req.StandardKey == "" {
		badRequest(w, "argument_id and standard_key are required")
		return
	}
	e, err := s.Service.AddMapping(r.Context(), r.PathValue("project"), req.ArgumentID, req.StandardKey, req.Confirmed)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleConfirmMapping(w http.ResponseWriter, r *http.Request) {
	e, err := s.Service.ConfirmMapping(r.Context(), r.PathValue("project"), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleRemoveMapping(w http.ResponseWriter, r *http.Request) {
	if err := s.Service.RemoveMapping(r.Context(), r.PathValue("project"), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleConfirmAllMappings(w http.ResponseWriter, r *http.Request) {
	res, err := s.Service.ConfirmAllMappings(r.Context(), r.PathValue("project"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSuggestMappings(w http.ResponseWriter, r *http.Request) {
	added, err := s.Service.SuggestMappings(r.Context(), r.PathValue("project"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, added)
}

func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	view := mapping.View{Kind: mapping.FocusKind(q.Get("kind")), ID: q.Get("id")}
	h, err := s.Service.Focus(r.Context(), r.PathValue("project"), view)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleSections(w http.ResponseWriter, r *http.Request) {
	sections, err := s.Service.Sections(r.Context(), r.PathValue("project"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(sections))
}

func (s *Server) handleSaveSection(w http.ResponseWriter, r *http.Request) {
	var in pipeline.SectionInput
	if !decode(w, r, &in) {
		return
	}
	sec, err := s.Service.SaveSection(r.Context(), r.PathValue("project"), r.PathValue("id"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sec)
}

func (s *Server) handleSentenceProvenance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	index, err := strconv.Atoi(q.Get("index"))
	if err != nil {
		writeError(w, fmt.Errorf("%w: sentence index %q", model.ErrInvalidInput, q.Get("index")))
		return
	}
	res, err := s.Service.SentenceProvenance(r.Context(), r.PathValue("project"), q.Get("section"), index, q.Get("method"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReverseProvenance(w http.ResponseWriter, r *http.Request) {
	snippetID := r.URL.Query().Get("snippet_id")
	if snippetID == "" {
		badRequest(w, "snippet_id is required")
		return
	}
	res, err := s.Service.ReverseProvenance(r.Context(), r.PathValue("project"), snippetID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleProvenanceSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.Service.ProvenanceSummary(r.Context(), r.PathValue("project"), r.URL.Query().Get("section"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleStandards(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Service.Standards())
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	res, err := s.Service.Score(r.Context(), r.PathValue("project"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStage(w http.ResponseWriter, r *http.Request) {
	status, err := s.Service.Stage(r.Context(), r.PathValue("project"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format != "" && format != "json" && format != "md" {
		badRequest(w, "format must be json or md")
		return
	}
	report, err := s.Service.Report(r.Context(), r.PathValue("project"))
	if err != nil {
		writeError(w, err)
		return
	}
	if format == "md" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		if err := s.Service.Renderer().WriteMarkdown(w, report); err != nil {
			util.Log.WithError(err).Warn("failed to write markdown report")
		}
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// orEmpty keeps empty lists as [] rather than null
func orEmpty[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

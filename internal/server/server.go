// Package server exposes the petition workflow over HTTP
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ppiankov/petitrace/internal/pipeline"
	"github.com/ppiankov/petitrace/internal/util"
)

// maxBodyBytes bounds request bodies; sections are the largest payload
const maxBodyBytes = 8 << 20

// Server serves the JSON API over a pipeline service
type Server struct {
	Service *pipeline.Service
	APIKey  string
}

// New creates a server. An empty apiKey disables authentication.
func New(svc *pipeline.Service, apiKey string) *Server {
	return &Server{
		Service: svc,
		APIKey:  apiKey,
	}
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/projects", s.handleProjects)

	// Evidence intake and entities
	mux.HandleFunc("POST /api/projects/{project}/extract", s.handleExtract)
	mux.HandleFunc("GET /api/projects/{project}/snippets", s.handleSnippets)
	mux.HandleFunc("GET /api/projects/{project}/snippets/stats", s.handleSnippetStats)
	mux.HandleFunc("POST /api/projects/{project}/snippets/confirm-all", s.handleConfirmAllSnippets)
	mux.HandleFunc("PUT /api/projects/{project}/snippets/{id}/confirm", s.handleConfirmSnippet)
	mux.HandleFunc("GET /api/projects/{project}/entities", s.handleEntities)

	// Merge resolution
	mux.HandleFunc("POST /api/projects/{project}/merge-suggestions", s.handleSuggestMerges)
	mux.HandleFunc("GET /api/projects/{project}/merge-suggestions", s.handleMergeSuggestions)
	mux.HandleFunc("GET /api/projects/{project}/merge-history", s.handleMergeHistory)
	mux.HandleFunc("POST /api/projects/{project}/merge-confirm", s.handleConfirmMerges)
	mux.HandleFunc("POST /api/projects/{project}/merge-apply", s.handleApplyMerges)
	mux.HandleFunc("POST /api/projects/{project}/merge-manual", s.handleManualMerge)

	// Arguments
	mux.HandleFunc("GET /api/projects/{project}/arguments", s.handleArguments)
	mux.HandleFunc("POST /api/projects/{project}/arguments", s.handleCreateArgument)
	mux.HandleFunc("POST /api/projects/{project}/arguments/generate", s.handleGenerateArguments)
	mux.HandleFunc("GET /api/projects/{project}/arguments/{id}", s.handleGetArgument)
	mux.HandleFunc("PATCH /api/projects/{project}/arguments/{id}", s.handleUpdateArgument)
	mux.HandleFunc("DELETE /api/projects/{project}/arguments/{id}", s.handleDeleteArgument)
	mux.HandleFunc("POST /api/projects/{project}/arguments/{id}/snippets", s.handleAddSnippet)
	mux.HandleFunc("DELETE /api/projects/{project}/arguments/{id}/snippets/{snippet}", s.handleRemoveSnippet)

	// Mapping graph
	mux.HandleFunc("GET /api/projects/{project}/mappings", s.handleMappings)
	mux.HandleFunc("POST /api/projects/{project}/mappings", s.handleAddMapping)
	mux.HandleFunc("POST /api/projects/{project}/mappings/confirm-all", s.handleConfirmAllMappings)
	mux.HandleFunc("POST /api/projects/{project}/mappings/suggest", s.handleSuggestMappings)
	mux.HandleFunc("POST /api/projects/{project}/mappings/{id}/confirm", s.handleConfirmMapping)
	mux.HandleFunc("DELETE /api/projects/{project}/mappings/{id}", s.handleRemoveMapping)
	mux.HandleFunc("GET /api/projects/{project}/focus", s.handleFocus)

	// Letter sections and provenance
	mux.HandleFunc("GET /api/projects/{project}/sections", s.handleSections)
	mux.HandleFunc("PUT /api/projects/{project}/sections/{id}", s.handleSaveSection)
	mux.HandleFunc("GET /api/projects/{project}/provenance/sentence", s.handleSentenceProvenance)
	mux.HandleFunc("GET /api/projects/{project}/provenance/reverse", s.handleReverseProvenance)
	mux.HandleFunc("GET /api/projects/{project}/provenance/summary", s.handleProvenanceSummary)

	// Readiness
	mux.HandleFunc("GET /api/projects/{project}/standards", s.handleStandards)
	mux.HandleFunc("GET /api/projects/{project}/score", s.handleScore)
	mux.HandleFunc("GET /api/projects/{project}/stage", s.handleStage)
	mux.HandleFunc("GET /api/projects/{project}/report", s.handleReport)

	// Middleware chain: recovery -> auth -> logging -> mux
	var handler http.Handler = mux
	handler = logMiddleware(handler)
	handler = authMiddleware(s.APIKey, handler)
	handler = recoveryMiddleware(handler)
	return handler
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // extraction and generation can run for minutes
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		util.Log.WithField("addr", addr).Info("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	util.Log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	util.Log.Info("server stopped")
	return nil
}

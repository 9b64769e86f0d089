// Package pipeline orchestrates the petition workflow: OCR intake,
// extraction, merging, argument assembly, mapping and provenance. It is the
// one façade the HTTP server and the CLI call.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ppiankov/petitrace/internal/argument"
	"github.com/ppiankov/petitrace/internal/extract"
	"github.com/ppiankov/petitrace/internal/llm"
	"github.com/ppiankov/petitrace/internal/merge"
	"github.com/ppiankov/petitrace/internal/model"
	"github.com/ppiankov/petitrace/internal/ocr"
	"github.com/ppiankov/petitrace/internal/project"
	"github.com/ppiankov/petitrace/internal/score"
	"github.com/ppiankov/petitrace/internal/store"
	"github.com/ppiankov/petitrace/internal/util"
	"github.com/ppiankov/petitrace/internal/worker"
	"github.com/sirupsen/logrus"
)

// Service wires the workspace manager to the engines
type Service struct {
	manager   *project.Manager
	store     store.Store
	source    ocr.Source
	client    *llm.Client
	extractor *extract.Extractor
	merger    *merge.Engine
	generator *argument.Generator
	scorer    *score.Scorer
	renderer  *Renderer
	config    model.Config
	now       func() time.Time

	// running maps project id to the transient stage of an in-flight
	// long operation (extracting, generating)
	running sync.Map
}

// Options are the collaborators of a Service. Nil Store keeps projects in
// memory; nil Client disables every LLM path.
type Options struct {
	Config model.Config
	Store  store.Store
	Source ocr.Source
	Client *llm.Client
}

// NewService creates a service from explicit collaborators
func NewService(opts Options) *Service {
	cfg := opts.Config
	return &Service{
		manager:   project.NewManager(opts.Store),
		store:     opts.Store,
		source:    opts.Source,
		client:    opts.Client,
		extractor: extract.New(opts.Client, cfg.Extraction),
		merger:    merge.New(opts.Client, cfg.Merge),
		generator: argument.NewGenerator(opts.Client, cfg.Argument),
		scorer:    score.NewScorer(),
		renderer:  NewRenderer(),
		config:    cfg,
		now:       time.Now,
	}
}

// Open builds a service from configuration: the configured store, the LLM
// client and the OCR source
func Open(cfg model.Config) (*Service, error) {
	st, err := store.New(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	client, err := llm.NewClientFromConfig(cfg)
	if err != nil {
		// An unusable provider is not fatal; LLM paths report ErrLLMDisabled.
		util.Log.WithError(err).Warn("failed to initialize LLM provider")
		client = nil
	}

	svc := NewService(Options{
		Config: cfg,
		Store:  st,
		Source: SourceFromConfig(cfg.OCR),
		Client: client,
	})
	util.Log.WithFields(logrus.Fields{
		"store":    cfg.Store.Driver,
		"provider": client.ProviderName(),
	}).Debug("service ready")
	return svc, nil
}

// SourceFromConfig picks the OCR service when a base URL is set, otherwise
// a directory of OCR files. It returns nil when neither is configured.
func SourceFromConfig(cfg model.OCRConfig) ocr.Source {
	switch {
	case cfg.BaseURL != "":
		timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
		return ocr.NewHTTPSource(cfg.BaseURL, timeout, cfg.MaxBytes, worker.NewLimiter(5, 5))
	case cfg.Dir != "":
		return ocr.DirSource{Dir: util.ExpandPath(cfg.Dir)}
	}
	return nil
}

// Close releases the store
func (s *Service) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}

// Config returns the service configuration
func (s *Service) Config() model.Config {
	return s.config
}

// Renderer returns the report renderer
func (s *Service) Renderer() *Renderer {
	return s.renderer
}

// Projects lists known projects
func (s *Service) Projects(ctx context.Context) ([]string, error) {
	return s.manager.Projects(ctx)
}

// snapshot returns the workspace and its published state
func (s *Service) snapshot(ctx context.Context, projectID string) (*project.Workspace, *project.State, error) {
	w, err := s.manager.Get(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	return w, w.State(), nil
}

// mutate runs fn as one atomic commit and logs failures with the operation
func (s *Service) mutate(ctx context.Context, projectID, op string, fn func(*project.State) error) (*project.State, error) {
	w, err := s.manager.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	st, err := w.Mutate(ctx, op, fn)
	if err != nil {
		s.logFailure(projectID, op, err)
		return nil, err
	}
	return st, nil
}

// logFailure logs unexpected failures at error level. Expected refusals
// (not found, invalid input, validation) stay at debug.
func (s *Service) logFailure(projectID, op string, err error) {
	entry := util.Log.WithFields(logrus.Fields{
		"project":    projectID,
		"op":         op,
		"error":      err,
		"retry_safe": model.IsRetryable(err),
	})
	var ve *model.ValidationError
	switch {
	case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrInvalidInput),
		errors.Is(err, model.ErrStageBlocked), errors.As(err, &ve):
		entry.Debug("operation refused")
	case errors.Is(err, context.Canceled):
		entry.Info("operation cancelled")
	default:
		entry.Error("operation failed")
	}
}

// begin marks a long operation as running so a second one on the same
// project is refused rather than raced
func (s *Service) begin(projectID string, stage model.Stage) (func(), error) {
	if prev, busy := s.running.LoadOrStore(projectID, stage); busy {
		return nil, fmt.Errorf("%w: %s already running for %s", model.ErrStageBlocked, prev, projectID)
	}
	return func() { s.running.Delete(projectID) }, nil
}

// requireStage refuses operations before the project reached min
func requireStage(st *project.State, min model.Stage, op string) error {
	if st.Stage.Rank() < min.Rank() {
		return fmt.Errorf("%w: %s needs stage %s, project is at %s", model.ErrStageBlocked, op, min, st.Stage)
	}
	return nil
}

// StageStatus describes where a project is in the workflow
type StageStatus struct {
	Project       string      `json:"project"`
	Stage         model.Stage `json:"stage"`
	Running       model.Stage `json:"running,omitempty"`
	Applicant     string      `json:"applicant,omitempty"`
	ExtractedDocs []string    `json:"extracted_docs"`
	Snippets      int         `json:"snippets"`
	Entities      int         `json:"entities"`
	Suggestions   int         `json:"merge_suggestions"`
	Arguments     int         `json:"arguments"`
	Mappings      int         `json:"mappings"`
	Sections      int         `json:"sections"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Stage reports the project's stage and record counts
func (s *Service) Stage(ctx context.Context, projectID string) (StageStatus, error) {
	_, st, err := s.snapshot(ctx, projectID)
	if err != nil {
		return StageStatus{}, err
	}
	status := StageStatus{
		Project:       st.ID,
		Stage:         st.Stage,
		Applicant:     st.Applicant,
		ExtractedDocs: append([]string{}, st.ExtractedDocs...),
		Snippets:      st.Registry.Len(),
		Entities:      len(st.Graph.Entities()),
		Suggestions:   len(st.Suggestions),
		Arguments:     len(st.Arguments),
		Mappings:      len(st.Edges),
		Sections:      len(st.Sections),
		UpdatedAt:     st.UpdatedAt,
	}
	if running, ok := s.running.Load(projectID); ok {
		status.Running = running.(model.Stage)
	}
	return status, nil
}

// Standards lists the eligibility criteria
func (s *Service) Standards() []model.Standard {
	return model.Standards()
}

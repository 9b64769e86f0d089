// Package store persists project state.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ppiankov/petitrace/internal/model"
	"github.com/ppiankov/petitrace/internal/util"
)

// Snapshot is everything persisted for one project
type Snapshot struct {
	ProjectID     string      `json:"project_id"`
	Applicant     string      `json:"applicant,omitempty"`
	Stage         model.Stage `json:"stage"`
	ExtractedDocs []string    `json:"extracted_docs,omitempty"`
	UpdatedAt     time.Time   `json:"updated_at"`

	Snippets    []model.Snippet         `json:"-"`
	Entities    []model.Entity          `json:"-"`
	Relations   []model.Relation        `json:"-"`
	Suggestions []model.MergeSuggestion `json:"-"`
	History     []model.MergeRecord     `json:"-"`
	Arguments   []model.Argument        `json:"-"`
	Edges       []model.MappingEdge     `json:"-"`
	Sections    []model.Section         `json:"-"`
}

// Store loads and saves project snapshots. Save replaces the project's
// records atomically.
type Store interface {
	Load(ctx context.Context, projectID string) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
	Projects(ctx context.Context) ([]string, error)
	Close() error
}

// New opens the configured backend
func New(cfg model.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemory(), nil
	case "", "sqlite":
		path := util.ExpandPath(cfg.Path)
		if path == "" {
			return nil, fmt.Errorf("%w: store path is required for sqlite", model.ErrInvalidInput)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
		return Open(path)
	}
	return nil, fmt.Errorf("%w: unknown store driver %q", model.ErrInvalidInput, cfg.Driver)
}

package project

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ppiankov/petitrace/internal/model"
	"github.com/ppiankov/petitrace/internal/store"
	"github.com/ppiankov/petitrace/internal/util"
	"github.com/sirupsen/logrus"
)

// Workspace serializes writes to one project and serves snapshot reads.
// Mutate clones the current state, applies the change, persists it and
// only then publishes it.
type Workspace struct {
	mu      sync.Mutex
	current atomic.Pointer[State]
	store   store.Store
	now     func() time.Time
}

func newWorkspace(st *State, s store.Store) *Workspace {
	w := &Workspace{store: s, now: time.Now}
	w.current.Store(st)
	return w
}

// State returns the published snapshot. Callers must not modify it.
func (w *Workspace) State() *State {
	return w.current.Load()
}

// Mutate applies fn to a copy of the current state. When fn or the save
// fails the previous state stays published and the error is returned.
func (w *Workspace) Mutate(ctx context.Context, op string, fn func(*State) error) (*State, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prev := w.current.Load()
	next := prev.Clone()
	if err := fn(next); err != nil {
		util.Log.WithFields(logrus.Fields{
			"project": prev.ID,
			"op":      op,
			"error":   err,
		}).Debug("mutation rejected")
		return nil, err
	}
	next.UpdatedAt = w.now()

	if w.store != nil {
		if err := w.store.Save(ctx, next.Snapshot()); err != nil {
			util.Log.WithFields(logrus.Fields{
				"project": prev.ID,
				"op":      op,
				"error":   err,
			}).Error("failed to persist project")
			return nil, fmt.Errorf("saving project %s: %w", prev.ID, err)
		}
	}

	w.current.Store(next)
	return next, nil
}

var projectIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// ValidID reports whether id is usable as a project id
func ValidID(id string) bool {
	return projectIDPattern.MatchString(id)
}

// Manager hands out one workspace per project
type Manager struct {
	mu         sync.Mutex
	store      store.Store
	workspaces map[string]*Workspace
}

// NewManager creates a manager over a store. A nil store keeps state in
// memory only.
func NewManager(s store.Store) *Manager {
	return &Manager{store: s, workspaces: make(map[string]*Workspace)}
}

// Get returns the project's workspace, loading it from the store on first
// use. A project never saved starts empty.
func (m *Manager) Get(ctx context.Context, id string) (*Workspace, error) {
	if !ValidID(id) {
		return nil, fmt.Errorf("%w: project id %q", model.ErrInvalidInput, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.workspaces[id]; ok {
		return w, nil
	}

	st := NewState(id)
	if m.store != nil {
		snap, err := m.store.Load(ctx, id)
		switch {
		case err == nil:
			if st, err = FromSnapshot(snap); err != nil {
				return nil, fmt.Errorf("loading project %s: %w", id, err)
			}
		case errors.Is(err, model.ErrNotFound):
		default:
			return nil, err
		}
	}

	w := newWorkspace(st, m.store)
	m.workspaces[id] = w
	return w, nil
}

// Projects lists stored projects
func (m *Manager) Projects(ctx context.Context) ([]string, error) {
	if m.store == nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		ids := make([]string, 0, len(m.workspaces))
		for id := range m.workspaces {
			ids = append(ids, id)
		}
		return ids, nil
	}
	return m.store.Projects(ctx)
}

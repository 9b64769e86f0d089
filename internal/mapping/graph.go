// Package mapping connects arguments to the legal standards they support.
package mapping

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ppiankov/petitrace/internal/argument"
	"github.com/ppiankov/petitrace/internal/model"
	"github.com/ppiankov/petitrace/internal/util"
	"github.com/sirupsen/logrus"
)

// Board is the mapping state a mutation works on. The caller passes
// workspace copies and publishes them only when the call succeeds.
type Board struct {
	Edges     []model.MappingEdge
	Arguments []model.Argument

	// AllowMultiple lifts the single primary mapping per argument
	AllowMultiple bool

	now func() time.Time
}

// NewBoard wraps edges and arguments
func NewBoard(edges []model.MappingEdge, args []model.Argument, allowMultiple bool) *Board {
	return &Board{Edges: edges, Arguments: args, AllowMultiple: allowMultiple, now: time.Now}
}

// NewID returns a fresh edge id
func NewID() string {
	return "map_" + uuid.NewString()[:8]
}

// Add upserts the edge for (argumentID, standardKey); the latest confirmed
// value wins. In single primary mode an unconfirmed edge from the same
// argument to another standard is replaced and a confirmed one is an
// invariant violation.
func (b *Board) Add(argumentID, standardKey string, confirmed bool) (model.MappingEdge, error) {
	ai := b.argumentIndex(argumentID)
	if ai < 0 {
		return model.MappingEdge{}, model.NotFound("argument", argumentID)
	}
	if _, ok := model.StandardByKey(standardKey); !ok {
		return model.MappingEdge{}, model.NotFound("standard", standardKey)
	}

	if i := b.pairIndex(argumentID, standardKey); i >= 0 {
		was := b.Edges[i].Confirmed
		b.Edges[i].Confirmed = confirmed
		switch {
		case confirmed:
			b.onConfirm(ai, standardKey)
		case was:
			b.onUnconfirm(argumentID, standardKey)
		}
		return b.Edges[i], nil
	}

	if !b.AllowMultiple {
		for _, e := range b.Edges {
			if e.Source == argumentID && e.Confirmed {
				return model.MappingEdge{}, &model.InvariantViolationError{
					Op:     "mapping.add",
					Detail: fmt.Sprintf("argument %s already has confirmed mapping %s to %s", argumentID, e.ID, e.Target),
				}
			}
		}
		b.Edges = dropEdges(b.Edges, func(e model.MappingEdge) bool { return e.Source == argumentID })
	}

	e := model.MappingEdge{
		ID:        NewID(),
		Source:    argumentID,
		Target:    standardKey,
		Confirmed: confirmed,
		CreatedAt: b.now(),
	}
	b.Edges = append(b.Edges, e)
	if confirmed {
		b.onConfirm(ai, standardKey)
	}
	return e, nil
}

// Confirm flips an edge to confirmed
func (b *Board) Confirm(edgeID string) (model.MappingEdge, error) {
	i := b.edgeIndex(edgeID)
	if i < 0 {
		return model.MappingEdge{}, model.NotFound("mapping edge", edgeID)
	}
	b.Edges[i].Confirmed = true
	if ai := b.argumentIndex(b.Edges[i].Source); ai >= 0 {
		b.onConfirm(ai, b.Edges[i].Target)
	}
	return b.Edges[i], nil
}

// Remove deletes only the edge. Removing a confirmed edge takes its
// argument back out of the mapped state.
func (b *Board) Remove(edgeID string) error {
	i := b.edgeIndex(edgeID)
	if i < 0 {
		return model.NotFound("mapping edge", edgeID)
	}
	e := b.Edges[i]
	b.Edges = dropEdges(b.Edges, func(e model.MappingEdge) bool { return e.ID == edgeID })
	if e.Confirmed {
		b.onUnconfirm(e.Source, e.Target)
	}
	return nil
}

// Skipped is an edge confirm-all left pending
type Skipped struct {
	EdgeID     string `json:"edge_id"`
	ArgumentID string `json:"argument_id"`
	Reason     string `json:"reason"`
}

// ConfirmAllResult reports what confirm-all did
type ConfirmAllResult struct {
	Confirmed []string  `json:"confirmed"`
	Skipped   []Skipped `json:"skipped,omitempty"`
}

// ConfirmAll confirms every pending edge whose argument has been verified.
// Edges of draft arguments are skipped and reported.
func (b *Board) ConfirmAll() ConfirmAllResult {
	var res ConfirmAllResult
	for i := range b.Edges {
		e := &b.Edges[i]
		if e.Confirmed {
			continue
		}
		ai := b.argumentIndex(e.Source)
		switch {
		case ai < 0:
			res.Skipped = append(res.Skipped, Skipped{EdgeID: e.ID, ArgumentID: e.Source, Reason: "missing_argument"})
			continue
		case b.Arguments[ai].Status == model.StatusDraft:
			res.Skipped = append(res.Skipped, Skipped{EdgeID: e.ID, ArgumentID: e.Source, Reason: "draft"})
			continue
		}
		e.Confirmed = true
		b.onConfirm(ai, e.Target)
		res.Confirmed = append(res.Confirmed, e.ID)
	}

	util.Log.WithFields(logrus.Fields{
		"confirmed": len(res.Confirmed),
		"skipped":   len(res.Skipped),
	}).Info("mappings confirmed")
	return res
}

// Suggest adds an unconfirmed edge for every argument that has none, using
// the argument's standard hint or the default standard for its claim type.
// Excluded arguments are left alone.
func (b *Board) Suggest() []model.MappingEdge {
	mapped := make(map[string]bool, len(b.Edges))
	for _, e := range b.Edges {
		mapped[e.Source] = true
	}

	var added []model.MappingEdge
	for _, a := range b.Arguments {
		if mapped[a.ID] || a.Decision == model.DecisionExcluded {
			continue
		}
		key := a.StandardKey
		if _, ok := model.StandardByKey(key); !ok {
			if key, ok = model.StandardForClaim(a.ClaimType); !ok {
				continue
			}
		}
		e := model.MappingEdge{ID: NewID(), Source: a.ID, Target: key, CreatedAt: b.now()}
		b.Edges = append(b.Edges, e)
		added = append(added, e)
	}
	return added
}

// DeleteArgument removes an argument and its unconfirmed edges. An argument
// with a confirmed edge is kept.
func (b *Board) DeleteArgument(argumentID string) error {
	ai := b.argumentIndex(argumentID)
	if ai < 0 {
		return model.NotFound("argument", argumentID)
	}
	if err := argument.CheckDelete(argumentID, b.Edges); err != nil {
		return err
	}
	b.Arguments = append(b.Arguments[:ai:ai], b.Arguments[ai+1:]...)
	b.Edges = dropEdges(b.Edges, func(e model.MappingEdge) bool { return e.Source == argumentID })
	return nil
}

// ForArgument returns the edges leaving one argument
func ForArgument(edges []model.MappingEdge, argumentID string) []model.MappingEdge {
	var out []model.MappingEdge
	for _, e := range edges {
		if e.Source == argumentID {
			out = append(out, e)
		}
	}
	return out
}

func (b *Board) onConfirm(ai int, standardKey string) {
	a := &b.Arguments[ai]
	a.StandardKey = standardKey
	if a.Status == model.StatusVerified {
		a.Status = model.StatusMapped
	}
	a.UpdatedAt = b.now()
}

// onUnconfirm runs after the confirmed edge argumentID→standardKey was
// downgraded or removed. The argument keeps a standard only while some
// confirmed edge still backs it.
func (b *Board) onUnconfirm(argumentID, standardKey string) {
	ai := b.argumentIndex(argumentID)
	if ai < 0 {
		return
	}
	a := &b.Arguments[ai]
	backing := ""
	for _, e := range b.Edges {
		if e.Source == argumentID && e.Confirmed {
			backing = e.Target
			break
		}
	}
	if a.StandardKey == standardKey {
		a.StandardKey = backing
	}
	if backing == "" && a.Status == model.StatusMapped {
		a.Status = model.StatusVerified
	}
	a.UpdatedAt = b.now()
}

func (b *Board) argumentIndex(id string) int {
	for i, a := range b.Arguments {
		if a.ID == id {
			return i
		}
	}
	return -1
}

func (b *Board) edgeIndex(id string) int {
	for i, e := range b.Edges {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func (b *Board) pairIndex(source, target string) int {
	for i, e := range b.Edges {
		if e.Source == source && e.Target == target {
			return i
		}
	}
	return -1
}

func dropEdges(edges []model.MappingEdge, drop func(model.MappingEdge) bool) []model.MappingEdge {
	out := edges[:0:0]
	for _, e := range edges {
		if !drop(e) {
			out = append(out, e)
		}
	}
	return out
}

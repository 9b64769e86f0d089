package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/ppiankov/petitrace/internal/model"
	_ "modernc.org/sqlite"
)

// Record tables. Every row is keyed by (project_id, id) and carries the
// record as JSON; seq keeps the in-memory order.
const (
	tableSnippets    = "snippets"
	tableEntities    = "entities"
	tableRelations   = "relations"
	tableSuggestions = "merge_suggestions"
	tableHistory     = "merge_history"
	tableArguments   = "arguments"
	tableEdges       = "mapping_edges"
	tableSections    = "sections"
)

var recordTables = []string{
	tableSnippets, tableEntities, tableRelations, tableSuggestions,
	tableHistory, tableArguments, tableEdges, tableSections,
}

// SQLite is a Store backed by a sqlite file
type SQLite struct {
	sql *sql.DB
}

// Open opens or creates the database at path
func Open(path string) (*SQLite, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening database: %w", err)
	}

	schema := `
CREATE TABLE IF NOT EXISTS projects (
  id         TEXT PRIMARY KEY,
  data       TEXT NOT NULL,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);`
	for _, t := range recordTables {
		schema += fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
  project_id TEXT NOT NULL,
  id         TEXT NOT NULL,
  seq        INTEGER NOT NULL,
  data       TEXT NOT NULL,
  PRIMARY KEY (project_id, id)
);
CREATE INDEX IF NOT EXISTS idx_%[1]s_seq ON %[1]s(project_id, seq);`, t)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLite{sql: db}, nil
}

// Close closes the database
func (d *SQLite) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// Projects lists stored project ids
func (d *SQLite) Projects(ctx context.Context) ([]string, error) {
	rows, err := d.sql.QueryContext(ctx, "SELECT id FROM projects ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Load reads a project. A project never saved is not found.
func (d *SQLite) Load(ctx context.Context, projectID string) (*Snapshot, error) {
	var data string
	err := d.sql.QueryRowContext(ctx, "SELECT data FROM projects WHERE id = ?", projectID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFound("project", projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading project %s: %w", projectID, err)
	}

	snap := &Snapshot{}
	if err := json.Unmarshal([]byte(data), snap); err != nil {
		return nil, fmt.Errorf("decoding project %s: %w", projectID, err)
	}
	snap.ProjectID = projectID

	if snap.Snippets, err = loadRows[model.Snippet](ctx, d.sql, tableSnippets, projectID); err != nil {
		return nil, err
	}
	if snap.Entities, err = loadRows[model.Entity](ctx, d.sql, tableEntities, projectID); err != nil {
		return nil, err
	}
	if snap.Relations, err = loadRows[model.Relation](ctx, d.sql, tableRelations, projectID); err != nil {
		return nil, err
	}
	if snap.Suggestions, err = loadRows[model.MergeSuggestion](ctx, d.sql, tableSuggestions, projectID); err != nil {
		return nil, err
	}
	if snap.History, err = loadRows[model.MergeRecord](ctx, d.sql, tableHistory, projectID); err != nil {
		return nil, err
	}
	if snap.Arguments, err = loadRows[model.Argument](ctx, d.sql, tableArguments, projectID); err != nil {
		return nil, err
	}
	if snap.Edges, err = loadRows[model.MappingEdge](ctx, d.sql, tableEdges, projectID); err != nil {
		return nil, err
	}
	if snap.Sections, err = loadRows[model.Section](ctx, d.sql, tableSections, projectID); err != nil {
		return nil, err
	}
	return snap, nil
}

// Save replaces every record of the project in one transaction
func (d *SQLite) Save(ctx context.Context, snap *Snapshot) (err error) {
	if snap.ProjectID == "" {
		return fmt.Errorf("%w: project id is required", model.ErrInvalidInput)
	}
	header, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `INSERT INTO projects(id, data, updated_at) VALUES(?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = CURRENT_TIMESTAMP`, snap.ProjectID, string(header)); err != nil {
		return err
	}

	pid := snap.ProjectID
	if err = saveRows(ctx, tx, tableSnippets, pid, snap.Snippets, func(s model.Snippet) string { return s.ID }); err != nil {
		return err
	}
	if err = saveRows(ctx, tx, tableEntities, pid, snap.Entities, func(e model.Entity) string { return e.ID }); err != nil {
		return err
	}
	if err = saveRows(ctx, tx, tableRelations, pid, snap.Relations, func(r model.Relation) string { return r.ID }); err != nil {
		return err
	}
	if err = saveRows(ctx, tx, tableSuggestions, pid, snap.Suggestions, func(s model.MergeSuggestion) string { return s.ID }); err != nil {
		return err
	}
	if err = saveRows(ctx, tx, tableHistory, pid, snap.History, nil); err != nil {
		return err
	}
	if err = saveRows(ctx, tx, tableArguments, pid, snap.Arguments, func(a model.Argument) string { return a.ID }); err != nil {
		return err
	}
	if err = saveRows(ctx, tx, tableEdges, pid, snap.Edges, func(e model.MappingEdge) string { return e.ID }); err != nil {
		return err
	}
	if err = saveRows(ctx, tx, tableSections, pid, snap.Sections, func(s model.Section) string { return s.ID }); err != nil {
		return err
	}
	return tx.Commit()
}

// saveRows replaces the project's rows in table. Records without an id
// (nil idOf) are keyed by position.
func saveRows[T any](ctx context.Context, tx *sql.Tx, table, projectID string, items []T, idOf func(T) string) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE project_id = ?", projectID); err != nil {
		return fmt.Errorf("clearing %s: %w", table, err)
	}
	if len(items) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO "+table+"(project_id, id, seq, data) VALUES(?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, item := range items {
		id := strconv.Itoa(i)
		if idOf != nil {
			id = idOf(item)
		}
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("encoding %s %s: %w", table, id, err)
		}
		if _, err := stmt.ExecContext(ctx, projectID, id, i, string(data)); err != nil {
			return fmt.Errorf("saving %s %s: %w", table, id, err)
		}
	}
	return nil
}

func loadRows[T any](ctx context.Context, db *sql.DB, table, projectID string) ([]T, error) {
	rows, err := db.QueryContext(ctx, "SELECT data FROM "+table+" WHERE project_id = ? ORDER BY seq", projectID)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", table, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var item T
		if err := json.Unmarshal([]byte(data), &item); err != nil {
			return nil, fmt.Errorf("decoding %s row: %w", table, err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

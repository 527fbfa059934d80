package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"termdock/internal/api"
)

// Projects exposes the project registry and the active-project selection.
// Implements api.ProjectRegistry.
type Projects struct {
	s *Store
}

// Projects returns the project registry view.
func (s *Store) Projects() *Projects {
	return &Projects{s: s}
}

// List returns all projects, most recently opened first.
func (p *Projects) List(ctx context.Context) ([]api.ProjectInfo, error) {
	rows, err := p.s.db.QueryContext(ctx,
		"SELECT project_id, name, path, last_opened FROM projects ORDER BY last_opened DESC, name")
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var infos []api.ProjectInfo
	for rows.Next() {
		info, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// Add registers a project path. The name defaults to the directory base.
func (p *Projects) Add(ctx context.Context, name, path string) (api.ProjectInfo, error) {
	if path == "" {
		return api.ProjectInfo{}, fmt.Errorf("project path is required")
	}
	if name == "" {
		name = filepath.Base(path)
	}
	info := api.ProjectInfo{ID: newID("prj"), Name: name, Path: path}
	_, err := p.s.db.ExecContext(ctx,
		"INSERT INTO projects (project_id, name, path) VALUES (?, ?, ?)",
		info.ID, info.Name, info.Path)
	if err != nil {
		return api.ProjectInfo{}, fmt.Errorf("add project %s: %w", path, err)
	}
	return info, nil
}

// Open marks a project active, stamps last_opened, and publishes
// project.changed.
func (p *Projects) Open(ctx context.Context, id string) (api.ProjectInfo, error) {
	now := time.Now().UTC()

	tx, err := p.s.db.BeginTx(ctx, nil)
	if err != nil {
		return api.ProjectInfo{}, fmt.Errorf("open project: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		"UPDATE projects SET active = 1, last_opened = ? WHERE project_id = ?",
		now.Format(time.RFC3339), id)
	if err != nil {
		return api.ProjectInfo{}, fmt.Errorf("open project %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return api.ProjectInfo{}, fmt.Errorf("project not found: %s", id)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE projects SET active = 0 WHERE project_id != ?", id); err != nil {
		return api.ProjectInfo{}, fmt.Errorf("deactivate projects: %w", err)
	}

	row := tx.QueryRowContext(ctx,
		"SELECT project_id, name, path, last_opened FROM projects WHERE project_id = ?", id)
	info, err := scanProject(row)
	if err != nil {
		return api.ProjectInfo{}, err
	}
	if err := tx.Commit(); err != nil {
		return api.ProjectInfo{}, fmt.Errorf("open project %s: %w", id, err)
	}

	p.s.bus.Publish(api.ChanProjectChanged, api.ProjectEvent{Project: info})
	return info, nil
}

// Current returns the active project.
func (p *Projects) Current(ctx context.Context) (api.ProjectInfo, error) {
	row := p.s.db.QueryRowContext(ctx,
		"SELECT project_id, name, path, last_opened FROM projects WHERE active = 1 LIMIT 1")
	info, err := scanProject(row)
	if err == sql.ErrNoRows {
		return api.ProjectInfo{}, fmt.Errorf("no active project")
	}
	return info, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (api.ProjectInfo, error) {
	var info api.ProjectInfo
	var lastOpened sql.NullString
	if err := row.Scan(&info.ID, &info.Name, &info.Path, &lastOpened); err != nil {
		if err == sql.ErrNoRows {
			return api.ProjectInfo{}, err
		}
		return api.ProjectInfo{}, fmt.Errorf("scan project: %w", err)
	}
	if lastOpened.Valid && lastOpened.String != "" {
		if t, err := time.Parse(time.RFC3339, lastOpened.String); err == nil {
			info.LastOpened = t
		}
	}
	return info, nil
}

var _ api.ProjectRegistry = (*Projects)(nil)

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"termdock/internal/api"
)

// Agents exposes the agent registry. Implements api.AgentRegistry.
type Agents struct {
	s *Store
}

// Agents returns the agent registry view.
func (s *Store) Agents() *Agents {
	return &Agents{s: s}
}

// List returns all agents, name order.
func (a *Agents) List(ctx context.Context) ([]api.AgentSpec, error) {
	rows, err := a.s.db.QueryContext(ctx,
		"SELECT agent_id, name, command, args, description FROM agents ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var specs []api.AgentSpec
	for rows.Next() {
		var spec api.AgentSpec
		var args, description sql.NullString
		if err := rows.Scan(&spec.ID, &spec.Name, &spec.Command, &args, &description); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		if args.Valid && args.String != "" {
			if err := json.Unmarshal([]byte(args.String), &spec.Args); err != nil {
				return nil, fmt.Errorf("parse agent args: %w", err)
			}
		}
		spec.Description = description.String
		specs = append(specs, spec)
	}
	return specs, rows.Err()
}

// Create inserts a new agent. Name must be unique.
func (a *Agents) Create(ctx context.Context, spec api.AgentSpec) (api.AgentSpec, error) {
	if spec.Name == "" || spec.Command == "" {
		return api.AgentSpec{}, fmt.Errorf("agent name and command are required")
	}
	spec.ID = newID("agt")

	args, err := marshalArgs(spec.Args)
	if err != nil {
		return api.AgentSpec{}, err
	}
	_, err = a.s.db.ExecContext(ctx,
		"INSERT INTO agents (agent_id, name, command, args, description, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		spec.ID, spec.Name, spec.Command, args, spec.Description, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return api.AgentSpec{}, fmt.Errorf("create agent %s: %w", spec.Name, err)
	}
	return spec, nil
}

// Update rewrites an existing agent by id.
func (a *Agents) Update(ctx context.Context, spec api.AgentSpec) (api.AgentSpec, error) {
	if spec.ID == "" {
		return api.AgentSpec{}, fmt.Errorf("agent id is required")
	}
	args, err := marshalArgs(spec.Args)
	if err != nil {
		return api.AgentSpec{}, err
	}
	res, err := a.s.db.ExecContext(ctx,
		"UPDATE agents SET name = ?, command = ?, args = ?, description = ? WHERE agent_id = ?",
		spec.Name, spec.Command, args, spec.Description, spec.ID)
	if err != nil {
		return api.AgentSpec{}, fmt.Errorf("update agent %s: %w", spec.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return api.AgentSpec{}, fmt.Errorf("agent not found: %s", spec.ID)
	}
	return spec, nil
}

// Delete removes an agent by id.
func (a *Agents) Delete(ctx context.Context, id string) error {
	res, err := a.s.db.ExecContext(ctx, "DELETE FROM agents WHERE agent_id = ?", id)
	if err != nil {
		return fmt.Errorf("delete agent %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("agent not found: %s", id)
	}
	return nil
}

func marshalArgs(args []string) (string, error) {
	if len(args) == 0 {
		return "", nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("marshal args: %w", err)
	}
	return string(data), nil
}

var _ api.AgentRegistry = (*Agents)(nil)

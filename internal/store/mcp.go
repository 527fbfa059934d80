package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"termdock/internal/api"
)

// MCPServers exposes the MCP server registry. Implements api.MCPRegistry.
type MCPServers struct {
	s *Store
}

// MCPServers returns the MCP registry view.
func (s *Store) MCPServers() *MCPServers {
	return &MCPServers{s: s}
}

// List returns all registered servers, name order.
func (m *MCPServers) List(ctx context.Context) ([]api.MCPServerSpec, error) {
	rows, err := m.s.db.QueryContext(ctx,
		"SELECT server_id, name, transport, command, args, url FROM mcp_servers ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list mcp servers: %w", err)
	}
	defer rows.Close()

	var specs []api.MCPServerSpec
	for rows.Next() {
		var spec api.MCPServerSpec
		var command, args, url sql.NullString
		if err := rows.Scan(&spec.ID, &spec.Name, &spec.Transport, &command, &args, &url); err != nil {
			return nil, fmt.Errorf("scan mcp server: %w", err)
		}
		spec.Command = command.String
		spec.URL = url.String
		if args.Valid && args.String != "" {
			if err := json.Unmarshal([]byte(args.String), &spec.Args); err != nil {
				return nil, fmt.Errorf("parse mcp args: %w", err)
			}
		}
		specs = append(specs, spec)
	}
	return specs, rows.Err()
}

// Register inserts a server definition. Name must be unique.
func (m *MCPServers) Register(ctx context.Context, spec api.MCPServerSpec) (api.MCPServerSpec, error) {
	if spec.Name == "" {
		return api.MCPServerSpec{}, fmt.Errorf("mcp server name is required")
	}
	switch spec.Transport {
	case "stdio":
		if spec.Command == "" {
			return api.MCPServerSpec{}, fmt.Errorf("stdio transport requires a command")
		}
	case "http":
		if spec.URL == "" {
			return api.MCPServerSpec{}, fmt.Errorf("http transport requires a url")
		}
	default:
		return api.MCPServerSpec{}, fmt.Errorf("unknown transport: %s", spec.Transport)
	}
	spec.ID = newID("mcp")

	args, err := marshalArgs(spec.Args)
	if err != nil {
		return api.MCPServerSpec{}, err
	}
	_, err = m.s.db.ExecContext(ctx,
		"INSERT INTO mcp_servers (server_id, name, transport, command, args, url, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		spec.ID, spec.Name, spec.Transport, spec.Command, args, spec.URL,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return api.MCPServerSpec{}, fmt.Errorf("register mcp server %s: %w", spec.Name, err)
	}
	return spec, nil
}

// Unregister removes a server by id.
func (m *MCPServers) Unregister(ctx context.Context, id string) error {
	res, err := m.s.db.ExecContext(ctx, "DELETE FROM mcp_servers WHERE server_id = ?", id)
	if err != nil {
		return fmt.Errorf("unregister mcp server %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mcp server not found: %s", id)
	}
	return nil
}

var _ api.MCPRegistry = (*MCPServers)(nil)

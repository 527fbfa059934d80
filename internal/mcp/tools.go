package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"termdock/internal/api"
)

func (s *Server) handleSpawnSession(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input SpawnSessionInput,
) (*gomcp.CallToolResult, SpawnSessionOutput, error) {
	var result api.SpawnResult
	err := s.surface.Invoke(ctx, api.OpSessionSpawn, api.SpawnParams{
		Command: input.Command,
		Args:    input.Args,
		Dir:     input.Dir,
	}, &result)
	if err != nil {
		return nil, SpawnSessionOutput{}, fmt.Errorf("spawn session: %w", err)
	}
	return nil, SpawnSessionOutput{SessionID: result.SessionID, PID: result.PID}, nil
}

func (s *Server) handleWriteSession(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input WriteSessionInput,
) (*gomcp.CallToolResult, WriteSessionOutput, error) {
	if input.SessionID == "" {
		return nil, WriteSessionOutput{}, fmt.Errorf("'sessionId' is required")
	}
	err := s.surface.Invoke(ctx, api.OpSessionWrite, api.WriteParams{
		SessionID: input.SessionID,
		Data:      []byte(input.Text),
	}, nil)
	if err != nil {
		return nil, WriteSessionOutput{}, fmt.Errorf("write session: %w", err)
	}
	return nil, WriteSessionOutput{Status: "written"}, nil
}

func (s *Server) handleKillSession(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input KillSessionInput,
) (*gomcp.CallToolResult, KillSessionOutput, error) {
	if input.SessionID == "" {
		return nil, KillSessionOutput{}, fmt.Errorf("'sessionId' is required")
	}
	err := s.surface.Invoke(ctx, api.OpSessionKill, api.KillParams{SessionID: input.SessionID}, nil)
	if err != nil {
		return nil, KillSessionOutput{}, fmt.Errorf("kill session: %w", err)
	}
	return nil, KillSessionOutput{Status: "killed"}, nil
}

func (s *Server) handleListSessions(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input ListSessionsInput,
) (*gomcp.CallToolResult, ListSessionsOutput, error) {
	var result api.SessionListResult
	if err := s.surface.Invoke(ctx, api.OpSessionList, nil, &result); err != nil {
		return nil, ListSessionsOutput{}, fmt.Errorf("list sessions: %w", err)
	}
	out := ListSessionsOutput{Sessions: make([]SessionEntry, 0, len(result.Sessions))}
	for _, info := range result.Sessions {
		out.Sessions = append(out.Sessions, SessionEntry{
			SessionID: info.ID,
			Command:   info.Command,
			Dir:       info.Dir,
			Running:   info.Running,
		})
	}
	return nil, out, nil
}

func (s *Server) handleGetConfig(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input GetConfigInput,
) (*gomcp.CallToolResult, GetConfigOutput, error) {
	var doc api.ConfigDocument
	if err := s.surface.Invoke(ctx, api.OpConfigGet, nil, &doc); err != nil {
		return nil, GetConfigOutput{}, fmt.Errorf("get config: %w", err)
	}
	return nil, GetConfigOutput{Config: string(doc)}, nil
}

func (s *Server) handleSetConfig(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input SetConfigInput,
) (*gomcp.CallToolResult, SetConfigOutput, error) {
	if input.Config == "" {
		return nil, SetConfigOutput{}, fmt.Errorf("'config' is required")
	}
	if !json.Valid([]byte(input.Config)) {
		return nil, SetConfigOutput{}, fmt.Errorf("'config' must be valid JSON")
	}
	err := s.surface.Invoke(ctx, api.OpConfigSet, api.ConfigDocument(input.Config), nil)
	if err != nil {
		return nil, SetConfigOutput{}, fmt.Errorf("set config: %w", err)
	}
	return nil, SetConfigOutput{Status: "updated"}, nil
}

func (s *Server) handleListAgents(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input ListAgentsInput,
) (*gomcp.CallToolResult, ListAgentsOutput, error) {
	var result api.AgentListResult
	if err := s.surface.Invoke(ctx, api.OpAgentList, nil, &result); err != nil {
		return nil, ListAgentsOutput{}, fmt.Errorf("list agents: %w", err)
	}
	out := ListAgentsOutput{Agents: make([]AgentEntry, 0, len(result.Agents))}
	for _, spec := range result.Agents {
		out.Agents = append(out.Agents, AgentEntry{ID: spec.ID, Name: spec.Name, Command: spec.Command})
	}
	return nil, out, nil
}

func (s *Server) handleListProjects(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input ListProjectsInput,
) (*gomcp.CallToolResult, ListProjectsOutput, error) {
	var result api.ProjectListResult
	if err := s.surface.Invoke(ctx, api.OpProjectList, nil, &result); err != nil {
		return nil, ListProjectsOutput{}, fmt.Errorf("list projects: %w", err)
	}
	out := ListProjectsOutput{Projects: make([]ProjectEntry, 0, len(result.Projects))}
	for _, info := range result.Projects {
		out.Projects = append(out.Projects, ProjectEntry{ID: info.ID, Name: info.Name, Path: info.Path})
	}
	return nil, out, nil
}

func (s *Server) handleOpenProject(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input OpenProjectInput,
) (*gomcp.CallToolResult, OpenProjectOutput, error) {
	if input.ProjectID == "" {
		return nil, OpenProjectOutput{}, fmt.Errorf("'projectId' is required")
	}
	var info api.ProjectInfo
	err := s.surface.Invoke(ctx, api.OpProjectOpen, api.OpenParams{ID: input.ProjectID}, &info)
	if err != nil {
		return nil, OpenProjectOutput{}, fmt.Errorf("open project: %w", err)
	}
	return nil, OpenProjectOutput{ID: info.ID, Name: info.Name, Path: info.Path}, nil
}

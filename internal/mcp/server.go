// Package mcp exposes the capability surface as MCP tools over stdio, so AI
// agents can drive terminal sessions through the daemon.
package mcp

import (
	"context"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"termdock/internal/api"
)

// Server is the termdock MCP server. Tool calls are forwarded to the
// capability surface, which in practice is a remote connection to the
// daemon.
type Server struct {
	surface api.Surface
	version string
	server  *gomcp.Server
}

// Option configures the MCP server.
type Option func(*Server)

// WithVersion sets the server version string.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// NewServer creates an MCP server forwarding to surface.
func NewServer(surface api.Surface, opts ...Option) *Server {
	s := &Server{
		surface: surface,
		version: "dev",
	}
	for _, opt := range opts {
		opt(s)
	}

	s.server = gomcp.NewServer(
		&gomcp.Implementation{
			Name:    "termdock",
			Version: s.version,
		},
		nil,
	)
	s.registerTools()
	return s
}

// Run starts the MCP server on stdin/stdout. It blocks until the client
// disconnects or the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "spawn_session",
		Description: "Start a terminal session running the configured agent or an explicit command",
	}, s.handleSpawnSession)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "write_session",
		Description: "Write text to a terminal session's input",
	}, s.handleWriteSession)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "kill_session",
		Description: "Terminate a terminal session",
	}, s.handleKillSession)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "list_sessions",
		Description: "List terminal sessions and their status",
	}, s.handleListSessions)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_config",
		Description: "Read the settings document",
	}, s.handleGetConfig)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "set_config",
		Description: "Replace the settings document. Takes the full document, not a patch",
	}, s.handleSetConfig)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "list_agents",
		Description: "List configured agent commands",
	}, s.handleListAgents)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "list_projects",
		Description: "List known projects",
	}, s.handleListProjects)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "open_project",
		Description: "Switch the active project",
	}, s.handleOpenProject)
}

package api

import (
	"context"
	"encoding/json"
	"time"
)

// SpawnParams are the arguments for session.spawn. Command defaults to the
// configured agent command when empty.
type SpawnParams struct {
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	Dir     string   `json:"dir,omitempty"`
	Rows    uint16   `json:"rows,omitempty"`
	Cols    uint16   `json:"cols,omitempty"`
}

// SpawnResult is the success payload of session.spawn.
type SpawnResult struct {
	SessionID string `json:"sessionId"`
	PID       int    `json:"pid"`
}

// WriteParams are the arguments for session.write.
type WriteParams struct {
	SessionID string `json:"sessionId"`
	Data      []byte `json:"data"`
}

// ResizeParams are the arguments for session.resize.
type ResizeParams struct {
	SessionID string `json:"sessionId"`
	Rows      uint16 `json:"rows"`
	Cols      uint16 `json:"cols"`
}

// KillParams are the arguments for session.kill.
type KillParams struct {
	SessionID string `json:"sessionId"`
}

// SessionInfo describes one terminal session.
type SessionInfo struct {
	ID        string    `json:"id"`
	Command   string    `json:"command"`
	Dir       string    `json:"dir"`
	PID       int       `json:"pid"`
	Running   bool      `json:"running"`
	CreatedAt time.Time `json:"createdAt"`
}

// SessionListResult is the success payload of session.list.
type SessionListResult struct {
	Sessions []SessionInfo `json:"sessions"`
}

// ConfigDocument is the configuration payload carried by config.get,
// config.set and the config.changed channel. The surface treats it as
// opaque; its schema belongs to the config store.
type ConfigDocument = json.RawMessage

// AgentSpec describes a configured agent entry.
type AgentSpec struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Command     string   `json:"command"`
	Args        []string `json:"args,omitempty"`
	Description string   `json:"description,omitempty"`
}

// AgentListResult is the success payload of agent.list.
type AgentListResult struct {
	Agents []AgentSpec `json:"agents"`
}

// HotkeyBinding maps a key chord to an operation invocation.
type HotkeyBinding struct {
	ID     string          `json:"id"`
	Chord  string          `json:"chord"`
	Op     Op              `json:"op"`
	Params json.RawMessage `json:"params,omitempty"`
}

// HotkeyListResult is the success payload of hotkey.list.
type HotkeyListResult struct {
	Bindings []HotkeyBinding `json:"bindings"`
}

// UnbindParams are the arguments for hotkey.unbind.
type UnbindParams struct {
	ID string `json:"id"`
}

// MCPServerSpec describes a registered MCP server.
type MCPServerSpec struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Transport string   `json:"transport"` // "stdio" or "http"
	Command   string   `json:"command,omitempty"`
	Args      []string `json:"args,omitempty"`
	URL       string   `json:"url,omitempty"`
}

// MCPListResult is the success payload of mcp.list.
type MCPListResult struct {
	Servers []MCPServerSpec `json:"servers"`
}

// UnregisterParams are the arguments for mcp.unregister.
type UnregisterParams struct {
	ID string `json:"id"`
}

// ProjectInfo describes a known project.
type ProjectInfo struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	LastOpened time.Time `json:"lastOpened,omitempty"`
}

// ProjectListResult is the success payload of project.list.
type ProjectListResult struct {
	Projects []ProjectInfo `json:"projects"`
}

// OpenParams are the arguments for project.open.
type OpenParams struct {
	ID string `json:"id"`
}

// Event payloads.

// OutputEvent is carried on session.output. Data is raw terminal bytes.
type OutputEvent struct {
	SessionID string `json:"sessionId"`
	Data      []byte `json:"data"`
}

// ExitEvent is carried on session.exit.
type ExitEvent struct {
	SessionID string `json:"sessionId"`
	ExitCode  int    `json:"exitCode"`
}

// HotkeyEvent is carried on hotkey.fired.
type HotkeyEvent struct {
	ID    string `json:"id"`
	Chord string `json:"chord"`
}

// ProjectEvent is carried on project.changed.
type ProjectEvent struct {
	Project ProjectInfo `json:"project"`
}

// Provider interfaces. The backend implements these; the local adapter and
// the daemon handler table route operations to them by name.

// SessionController controls terminal sessions.
type SessionController interface {
	Spawn(ctx context.Context, p SpawnParams) (SpawnResult, error)
	Write(ctx context.Context, sessionID string, data []byte) error
	Resize(ctx context.Context, sessionID string, rows, cols uint16) error
	Kill(ctx context.Context, sessionID string) error
	List(ctx context.Context) ([]SessionInfo, error)
}

// ConfigStore reads and writes the configuration document.
type ConfigStore interface {
	Get(ctx context.Context) (ConfigDocument, error)
	Set(ctx context.Context, doc ConfigDocument) error
}

// AgentRegistry manages configured agents.
type AgentRegistry interface {
	List(ctx context.Context) ([]AgentSpec, error)
	Create(ctx context.Context, spec AgentSpec) (AgentSpec, error)
	Update(ctx context.Context, spec AgentSpec) (AgentSpec, error)
	Delete(ctx context.Context, id string) error
}

// HotkeyRegistry manages hotkey bindings.
type HotkeyRegistry interface {
	List(ctx context.Context) ([]HotkeyBinding, error)
	Bind(ctx context.Context, b HotkeyBinding) (HotkeyBinding, error)
	Unbind(ctx context.Context, id string) error
}

// MCPRegistry manages MCP server definitions.
type MCPRegistry interface {
	List(ctx context.Context) ([]MCPServerSpec, error)
	Register(ctx context.Context, spec MCPServerSpec) (MCPServerSpec, error)
	Unregister(ctx context.Context, id string) error
}

// ProjectRegistry manages projects and the active-project selection.
type ProjectRegistry interface {
	List(ctx context.Context) ([]ProjectInfo, error)
	Open(ctx context.Context, id string) (ProjectInfo, error)
	Current(ctx context.Context) (ProjectInfo, error)
}

// Providers bundles every capability provider a backend exposes.
type Providers struct {
	Sessions SessionController
	Config   ConfigStore
	Agents   AgentRegistry
	Hotkeys  HotkeyRegistry
	MCP      MCPRegistry
	Projects ProjectRegistry
}

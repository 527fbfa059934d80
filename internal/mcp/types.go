package mcp

// Tool input/output types. The SDK derives JSON schemas from these structs,
// so field tags and comments double as the tool contract.

// SpawnSessionInput starts a terminal session.
type SpawnSessionInput struct {
	Command string   `json:"command,omitempty" jsonschema:"command to run; empty uses the configured default agent"`
	Args    []string `json:"args,omitempty" jsonschema:"command arguments"`
	Dir     string   `json:"dir,omitempty" jsonschema:"working directory"`
}

// SpawnSessionOutput reports the new session.
type SpawnSessionOutput struct {
	SessionID string `json:"sessionId"`
	PID       int    `json:"pid"`
}

// WriteSessionInput sends input to a session.
type WriteSessionInput struct {
	SessionID string `json:"sessionId" jsonschema:"target session id"`
	Text      string `json:"text" jsonschema:"text to write to the session's input"`
}

// WriteSessionOutput acknowledges the write.
type WriteSessionOutput struct {
	Status string `json:"status"`
}

// KillSessionInput terminates a session.
type KillSessionInput struct {
	SessionID string `json:"sessionId" jsonschema:"session id to kill"`
}

// KillSessionOutput acknowledges the kill.
type KillSessionOutput struct {
	Status string `json:"status"`
}

// ListSessionsInput has no parameters.
type ListSessionsInput struct{}

// SessionEntry is one session in a listing.
type SessionEntry struct {
	SessionID string `json:"sessionId"`
	Command   string `json:"command"`
	Dir       string `json:"dir,omitempty"`
	Running   bool   `json:"running"`
}

// ListSessionsOutput lists sessions.
type ListSessionsOutput struct {
	Sessions []SessionEntry `json:"sessions"`
}

// GetConfigInput has no parameters.
type GetConfigInput struct{}

// GetConfigOutput carries the settings document as JSON text.
type GetConfigOutput struct {
	Config string `json:"config"`
}

// SetConfigInput replaces the settings document.
type SetConfigInput struct {
	Config string `json:"config" jsonschema:"full settings document as JSON text"`
}

// SetConfigOutput acknowledges the update.
type SetConfigOutput struct {
	Status string `json:"status"`
}

// ListAgentsInput has no parameters.
type ListAgentsInput struct{}

// AgentEntry is one configured agent.
type AgentEntry struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Command string `json:"command"`
}

// ListAgentsOutput lists configured agents.
type ListAgentsOutput struct {
	Agents []AgentEntry `json:"agents"`
}

// ListProjectsInput has no parameters.
type ListProjectsInput struct{}

// ProjectEntry is one known project.
type ProjectEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// ListProjectsOutput lists projects.
type ListProjectsOutput struct {
	Projects []ProjectEntry `json:"projects"`
}

// OpenProjectInput switches the active project.
type OpenProjectInput struct {
	ProjectID string `json:"projectId" jsonschema:"project id to activate"`
}

// OpenProjectOutput reports the now-active project.
type OpenProjectOutput struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

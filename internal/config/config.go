// Package config owns the on-disk settings document: loading, validation,
// persistence, environment overrides, and change notification.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// DefaultDaemonPort is the TCP port the backend daemon listens on when the
// settings file does not say otherwise.
const DefaultDaemonPort = 3456

// Settings is the top-level configuration document.
type Settings struct {
	Daemon   DaemonSettings  `json:"daemon"`
	Agent    AgentSettings   `json:"agent"`
	Terminal TermSettings    `json:"terminal"`
	Logging  LoggingSettings `json:"logging"`
}

// DaemonSettings hold backend listener configuration.
type DaemonSettings struct {
	Port      int  `json:"port"`
	LocalOnly bool `json:"localOnly"`
}

// AgentSettings select the default agent command for new sessions.
type AgentSettings struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// TermSettings control terminal session behavior.
type TermSettings struct {
	ScrollbackBytes int `json:"scrollbackBytes"`
}

// LoggingSettings control the log output.
type LoggingSettings struct {
	Level string `json:"level"` // debug, info, warn, error
	Dir   string `json:"dir,omitempty"`
}

// Default returns the settings used when no file exists yet.
func Default() Settings {
	return Settings{
		Daemon:   DaemonSettings{Port: DefaultDaemonPort, LocalOnly: true},
		Terminal: TermSettings{ScrollbackBytes: 256 * 1024},
		Logging:  LoggingSettings{Level: "info"},
	}
}

// Validate checks the document and returns warnings for recoverable
// problems. A non-nil error means the document must be rejected; warnings
// mean the corresponding field falls back to its default.
func (s *Settings) Validate() ([]string, error) {
	var warnings []string

	if s.Daemon.Port < 0 || s.Daemon.Port > 65535 {
		return nil, fmt.Errorf("daemon.port must be between 0 and 65535, got %d", s.Daemon.Port)
	}
	if s.Daemon.Port == 0 {
		s.Daemon.Port = DefaultDaemonPort
	}
	if s.Terminal.ScrollbackBytes < 0 {
		warnings = append(warnings, "terminal.scrollbackBytes is negative, using default")
		s.Terminal.ScrollbackBytes = Default().Terminal.ScrollbackBytes
	}
	switch s.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		warnings = append(warnings, "logging.level "+strconv.Quote(s.Logging.Level)+" is unknown, using info")
		s.Logging.Level = "info"
	}
	return warnings, nil
}

// Dir returns the configuration directory, honoring TERMDOCK_DIR.
func Dir() (string, error) {
	if d := os.Getenv("TERMDOCK_DIR"); d != "" {
		return d, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".termdock"), nil
}

// Path returns the settings file path inside dir.
func Path(dir string) string {
	return filepath.Join(dir, "settings.json")
}

// Load reads and validates the settings file. A missing file yields the
// defaults; a malformed or invalid file is an error.
func Load(path string) (Settings, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil, nil
		}
		return Settings{}, nil, fmt.Errorf("read settings: %w", err)
	}

	s := Default()
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, nil, fmt.Errorf("parse settings: %w", err)
	}
	warnings, err := s.Validate()
	if err != nil {
		return Settings{}, warnings, err
	}
	applyEnv(&s)
	return s, warnings, nil
}

// Save writes the settings file atomically: temp file in the same directory,
// then rename.
func Save(path string, s Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), ".settings-*.json")
	if err != nil {
		return fmt.Errorf("create temp settings: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}

// applyEnv overlays environment overrides on top of the file contents.
//
// Environment variables:
//   - TERMDOCK_PORT: daemon listener port
//   - TERMDOCK_AGENT_CMD: default agent command
//   - TERMDOCK_LOG_LEVEL: log level
//   - TERMDOCK_LOCAL_ONLY: "true"/"1"/"yes" to bind loopback only
func applyEnv(s *Settings) {
	if p := os.Getenv("TERMDOCK_PORT"); p != "" {
		if port, err := strconv.Atoi(p); err == nil && port > 0 && port <= 65535 {
			s.Daemon.Port = port
		}
	}
	if cmd := os.Getenv("TERMDOCK_AGENT_CMD"); cmd != "" {
		s.Agent.Command = cmd
		s.Agent.Args = nil
	}
	if lvl := os.Getenv("TERMDOCK_LOG_LEVEL"); lvl != "" {
		s.Logging.Level = lvl
	}
	if v := os.Getenv("TERMDOCK_LOCAL_ONLY"); v != "" {
		s.Daemon.LocalOnly = envBool("TERMDOCK_LOCAL_ONLY")
	}
}

// envBool returns true if the env var is set to a truthy value ("true", "1", "yes").
func envBool(key string) bool {
	v := os.Getenv(key)
	return v == "true" || v == "1" || v == "yes"
}

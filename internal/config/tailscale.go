package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// DefaultTailscalePort is the default port for the tsnet remote listener.
const DefaultTailscalePort = 9100

// TailscaleConfig holds configuration for the optional tsnet listener that
// exposes the daemon over a tailnet instead of the LAN.
type TailscaleConfig struct {
	Enabled    bool   // Whether the tsnet listener is enabled
	Hostname   string // tsnet hostname (e.g., "termdock-alice")
	Port       int    // Listener port (default 9100)
	StateDir   string // Directory for tsnet state persistence
	AuthKey    string // Tailscale auth key (loaded from env)
	ControlURL string // Control plane URL (empty = Tailscale SaaS; set for Headscale)
}

// LoadTailscaleConfig loads tsnet configuration from environment variables.
//
// Environment variables:
//   - TERMDOCK_TS_ENABLED: "true"/"1"/"yes" to enable (default: false)
//   - TERMDOCK_TS_HOSTNAME: tsnet hostname (required when enabled)
//   - TERMDOCK_TS_PORT: listener port (default: 9100)
//   - TERMDOCK_TS_AUTHKEY: Tailscale auth key (required when enabled)
//   - TERMDOCK_TS_STATE_DIR: state directory (default: <dir>/tsnet)
//   - TERMDOCK_TS_CONTROL_URL: control plane URL (optional, for Headscale)
func LoadTailscaleConfig(dir string) TailscaleConfig {
	cfg := TailscaleConfig{
		Port:     DefaultTailscalePort,
		StateDir: filepath.Join(dir, "tsnet"),
	}

	if envBool("TERMDOCK_TS_ENABLED") {
		cfg.Enabled = true
	}
	if h := os.Getenv("TERMDOCK_TS_HOSTNAME"); h != "" {
		cfg.Hostname = h
	}
	if p := os.Getenv("TERMDOCK_TS_PORT"); p != "" {
		if port, err := strconv.Atoi(p); err == nil {
			cfg.Port = port
		}
	}
	cfg.AuthKey = os.Getenv("TERMDOCK_TS_AUTHKEY")
	if d := os.Getenv("TERMDOCK_TS_STATE_DIR"); d != "" {
		cfg.StateDir = d
	}
	cfg.ControlURL = os.Getenv("TERMDOCK_TS_CONTROL_URL")

	return cfg
}

// Validate checks that the configuration is valid when enabled.
// Returns nil if disabled or valid.
func (c *TailscaleConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Hostname == "" {
		return fmt.Errorf("TERMDOCK_TS_HOSTNAME is required when the tsnet listener is enabled")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("TERMDOCK_TS_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.AuthKey == "" {
		return fmt.Errorf("TERMDOCK_TS_AUTHKEY is required when the tsnet listener is enabled")
	}
	return nil
}

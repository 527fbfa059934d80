// Package cli implements the client side of the command line: daemon
// lifecycle management, connecting to a running daemon, and the interactive
// attach loop.
package cli

import (
	"context"
	"fmt"
	"os"

	"termdock/internal/config"
	"termdock/internal/daemon"
	"termdock/internal/remote"
)

// ResolvePort picks the daemon port: explicit override, then the port file
// of a running daemon, then the settings file, then the default.
func ResolvePort(dir string, override int) int {
	if override > 0 {
		return override
	}
	if port, err := daemon.ReadPortFile(daemon.PortFilePath(dir)); err == nil {
		return port
	}
	settings, _, err := config.Load(config.Path(dir))
	if err == nil && settings.Daemon.Port > 0 {
		return settings.Daemon.Port
	}
	return config.DefaultDaemonPort
}

// Connect dials the daemon and completes the sync handshake.
func Connect(ctx context.Context, dir string, portOverride int) (*remote.Conn, error) {
	port := ResolvePort(dir, portOverride)
	conn := remote.New(remote.Options{Port: port})
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("daemon is not running on port %d. Start it with: termdock daemon start\n  (%v)", port, err)
	}
	return conn, nil
}

// TermdockDir resolves the termdock directory or exits with an error. Used
// by commands that cannot proceed without it.
func TermdockDir() string {
	dir, err := config.Dir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	return dir
}

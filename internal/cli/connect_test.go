package cli

import (
	"testing"

	"termdock/internal/config"
	"termdock/internal/daemon"
)

func TestResolvePortOverrideWins(t *testing.T) {
	dir := t.TempDir()
	if err := daemon.WritePortFile(daemon.PortFilePath(dir), 4000); err != nil {
		t.Fatal(err)
	}
	if got := ResolvePort(dir, 5000); got != 5000 {
		t.Errorf("Expected override 5000, got %d", got)
	}
}

func TestResolvePortPrefersPortFile(t *testing.T) {
	dir := t.TempDir()
	settings := config.Default()
	settings.Daemon.Port = 4100
	if err := config.Save(config.Path(dir), settings); err != nil {
		t.Fatal(err)
	}
	if err := daemon.WritePortFile(daemon.PortFilePath(dir), 4000); err != nil {
		t.Fatal(err)
	}
	if got := ResolvePort(dir, 0); got != 4000 {
		t.Errorf("Expected port-file port 4000, got %d", got)
	}
}

func TestResolvePortFallsBackToSettings(t *testing.T) {
	dir := t.TempDir()
	settings := config.Default()
	settings.Daemon.Port = 4100
	if err := config.Save(config.Path(dir), settings); err != nil {
		t.Fatal(err)
	}
	if got := ResolvePort(dir, 0); got != 4100 {
		t.Errorf("Expected settings port 4100, got %d", got)
	}
}

func TestResolvePortDefault(t *testing.T) {
	if got := ResolvePort(t.TempDir(), 0); got != config.DefaultDaemonPort {
		t.Errorf("Expected default port %d, got %d", config.DefaultDaemonPort, got)
	}
}

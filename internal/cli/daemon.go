package cli

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"termdock/internal/daemon"
)

// DaemonStart launches the daemon as a detached background process by
// re-executing the current binary with "daemon run".
func DaemonStart(dir string, port int) error {
	pidPath := daemon.PIDFilePath(dir)

	running, info, err := daemon.CheckPIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("check daemon status: %w", err)
	}
	if running {
		return fmt.Errorf("daemon is already running (PID %d, port %d)", info.PID, info.Port)
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("get executable path: %w", err)
	}

	args := []string{"daemon", "run"}
	if port > 0 {
		args = append(args, "--port", fmt.Sprintf("%d", port))
	}
	cmd := exec.Command(executable, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // detach from the terminal
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon process: %w", err)
	}
	// Release, don't Wait: the parent exits immediately and the daemon is
	// adopted by init.
	if err := cmd.Process.Release(); err != nil {
		return fmt.Errorf("release daemon process: %w", err)
	}

	// Wait for the port file, which the daemon writes once it listens.
	portPath := daemon.PortFilePath(dir)
	timeout := time.After(10 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-timeout:
			return fmt.Errorf("daemon did not become ready within 10s")
		case <-ticker.C:
			if _, err := daemon.ReadPortFile(portPath); err == nil {
				return nil
			}
		}
	}
}

// DaemonStop signals the running daemon with SIGTERM and waits for it to
// exit.
func DaemonStop(dir string) error {
	pidPath := daemon.PIDFilePath(dir)
	running, info, err := daemon.CheckPIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("check daemon status: %w", err)
	}
	if !running {
		return fmt.Errorf("daemon is not running")
	}

	process, err := os.FindProcess(info.PID)
	if err != nil {
		return fmt.Errorf("find daemon process: %w", err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal daemon: %w", err)
	}

	timeout := time.After(10 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-timeout:
			return fmt.Errorf("daemon (PID %d) did not exit within 10s", info.PID)
		case <-ticker.C:
			if still, _, _ := daemon.CheckPIDFile(pidPath); !still {
				return nil
			}
		}
	}
}

// StatusResult describes a daemon's lifecycle state for status output.
type StatusResult struct {
	Running   bool      `json:"running"`
	PID       int       `json:"pid,omitempty"`
	Port      int       `json:"port,omitempty"`
	StartedAt time.Time `json:"startedAt,omitempty"`
}

// DaemonStatus reports whether a daemon is running and where it listens.
func DaemonStatus(dir string) (StatusResult, error) {
	running, info, err := daemon.CheckPIDFile(daemon.PIDFilePath(dir))
	if err != nil {
		return StatusResult{}, fmt.Errorf("check daemon status: %w", err)
	}
	if !running {
		return StatusResult{}, nil
	}
	return StatusResult{
		Running:   true,
		PID:       info.PID,
		Port:      info.Port,
		StartedAt: info.StartedAt,
	}, nil
}

// FormatDaemonStatus renders a StatusResult for humans.
func FormatDaemonStatus(r StatusResult) string {
	var b strings.Builder
	if !r.Running {
		b.WriteString("daemon: not running\n")
		return b.String()
	}
	fmt.Fprintf(&b, "daemon: running (PID %d)\n", r.PID)
	fmt.Fprintf(&b, "port:   %d\n", r.Port)
	if !r.StartedAt.IsZero() {
		fmt.Fprintf(&b, "uptime: %s\n", time.Since(r.StartedAt).Round(time.Second))
	}
	return b.String()
}

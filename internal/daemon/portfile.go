package daemon

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Port files let clients discover where a running daemon listens without
// parsing the settings file.

// PortFilePath returns the standard port file path inside the termdock
// directory.
func PortFilePath(dir string) string {
	return filepath.Join(dir, "var", "daemon.port")
}

// PIDFilePath returns the standard PID file path inside the termdock
// directory.
func PIDFilePath(dir string) string {
	return filepath.Join(dir, "var", "daemon.pid")
}

// FindAvailablePort returns the first free TCP port in [minPort, maxPort].
func FindAvailablePort(minPort, maxPort int) (int, error) {
	if minPort > maxPort {
		return 0, fmt.Errorf("invalid port range: min (%d) > max (%d)", minPort, maxPort)
	}
	if minPort < 1 || maxPort > 65535 {
		return 0, fmt.Errorf("port range must be between 1 and 65535")
	}
	for port := minPort; port <= maxPort; port++ {
		if isPortAvailable(port) {
			return port, nil
		}
	}
	return 0, fmt.Errorf("no available port in range %d-%d", minPort, maxPort)
}

func isPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", port))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

// WritePortFile writes the port number atomically: temp file, then rename.
func WritePortFile(path string, port int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create port file directory: %w", err)
	}
	tempPath := path + ".tmp"
	content := fmt.Sprintf("%d\n", port)
	if err := os.WriteFile(tempPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("write port file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("finalize port file: %w", err)
	}
	return nil
}

// ReadPortFile reads and validates the port number.
func ReadPortFile(path string) (int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		// Preserve os.IsNotExist checks on the caller side.
		return 0, err
	}
	portStr := strings.TrimSpace(string(content))
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("invalid port in file: %s", portStr)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port out of valid range: %d", port)
	}
	return port, nil
}

// RemovePortFile removes the port file. Missing files are fine.
func RemovePortFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove port file: %w", err)
	}
	return nil
}

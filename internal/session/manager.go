// Package session runs terminal sessions on PTYs and publishes their output
// and exit notifications on the event bus.
package session

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"termdock/internal/api"
	"termdock/internal/logging"
	"termdock/internal/pubsub"
)

// DefaultRingSize bounds the per-session replay buffer.
const DefaultRingSize = 256 * 1024

var (
	ulidMu      sync.Mutex
	ulidEntropy = ulid.Monotonic(rand.Reader, 0)
)

// generateID returns a "ses_" prefixed ULID.
func generateID() string {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	return "ses_" + ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy).String()
}

// Options configure a Manager.
type Options struct {
	// DefaultCommand runs when SpawnParams.Command is empty. Falls back to
	// $SHELL, then /bin/sh.
	DefaultCommand string
	DefaultArgs    []string

	// RingSize bounds each session's replay buffer. Zero means
	// DefaultRingSize.
	RingSize int
}

type session struct {
	id        string
	command   string
	dir       string
	createdAt time.Time

	ptmx *os.File
	cmd  *exec.Cmd
	ring *outputRing

	mu      sync.Mutex
	running bool
}

// Manager owns all live sessions. It implements api.SessionController.
type Manager struct {
	opts Options
	bus  *pubsub.Publisher
	log  *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*session
	active   string // most recently spawned session still running
}

// NewManager creates a Manager publishing on bus.
func NewManager(opts Options, bus *pubsub.Publisher) *Manager {
	if opts.RingSize == 0 {
		opts.RingSize = DefaultRingSize
	}
	return &Manager{
		opts:     opts,
		bus:      bus,
		log:      logging.L().Named("session"),
		sessions: make(map[string]*session),
	}
}

// Spawn starts a new PTY session and begins streaming its output.
func (m *Manager) Spawn(ctx context.Context, p api.SpawnParams) (api.SpawnResult, error) {
	command := p.Command
	args := p.Args
	if command == "" {
		command = m.opts.DefaultCommand
		args = m.opts.DefaultArgs
	}
	if command == "" {
		command = os.Getenv("SHELL")
		args = nil
	}
	if command == "" {
		command = "/bin/sh"
	}

	cmd := exec.Command(command, args...)
	cmd.Dir = p.Dir
	cmd.Env = append(os.Environ(),
		"TERM=xterm-256color",
		"COLORTERM=truecolor",
	)

	ptmx, err := pty.Start(cmd)
	if err != nil {
		m.log.Error("pty start failed",
			zap.String("command", command),
			zap.String("dir", p.Dir),
			zap.Error(err))
		return api.SpawnResult{}, fmt.Errorf("start %s: %w", command, err)
	}

	rows, cols := p.Rows, p.Cols
	if rows == 0 {
		rows = 24
	}
	if cols == 0 {
		cols = 80
	}
	_ = pty.Setsize(ptmx, &pty.Winsize{Rows: rows, Cols: cols})

	s := &session{
		id:        generateID(),
		command:   command,
		dir:       p.Dir,
		createdAt: time.Now(),
		ptmx:      ptmx,
		cmd:       cmd,
		ring:      newOutputRing(m.opts.RingSize),
		running:   true,
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	m.active = s.id
	m.mu.Unlock()

	go m.readOutput(s)
	go m.waitForExit(s)

	m.log.Info("session spawned",
		zap.String("id", s.id),
		zap.String("command", command),
		zap.Int("pid", cmd.Process.Pid))
	return api.SpawnResult{SessionID: s.id, PID: cmd.Process.Pid}, nil
}

func (m *Manager) readOutput(s *session) {
	buf := make([]byte, 4096)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			s.ring.Write(data)
			m.bus.Publish(api.ChanSessionOutput, api.OutputEvent{
				SessionID: s.id,
				Data:      data,
			})
		}
		if err != nil {
			if err != io.EOF {
				m.log.Debug("pty read ended", zap.String("id", s.id), zap.Error(err))
			}
			return
		}
	}
}

func (m *Manager) waitForExit(s *session) {
	err := s.cmd.Wait()
	code := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	m.mu.Lock()
	if m.active == s.id {
		m.active = ""
	}
	m.mu.Unlock()

	m.log.Info("session exited", zap.String("id", s.id), zap.Int("exitCode", code))
	m.bus.Publish(api.ChanSessionExit, api.ExitEvent{SessionID: s.id, ExitCode: code})
}

func (m *Manager) get(id string) (*session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	return s, nil
}

// Write sends input bytes to a session's PTY.
func (m *Manager) Write(ctx context.Context, sessionID string, data []byte) error {
	s, err := m.get(sessionID)
	if err != nil {
		return err
	}
	if _, err := s.ptmx.Write(data); err != nil {
		return fmt.Errorf("write session %s: %w", sessionID, err)
	}
	return nil
}

// Resize changes a session's terminal dimensions.
func (m *Manager) Resize(ctx context.Context, sessionID string, rows, cols uint16) error {
	s, err := m.get(sessionID)
	if err != nil {
		return err
	}
	if err := pty.Setsize(s.ptmx, &pty.Winsize{Rows: rows, Cols: cols}); err != nil {
		return fmt.Errorf("resize session %s: %w", sessionID, err)
	}
	return nil
}

// Kill terminates a session's process and removes it from the table. The
// exit event still fires from the process waiter.
func (m *Manager) Kill(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
		if m.active == sessionID {
			m.active = ""
		}
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("session not found: %s", sessionID)
	}

	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.ptmx.Close()
	m.log.Info("session killed", zap.String("id", sessionID))
	return nil
}

// List returns all tracked sessions, oldest first.
func (m *Manager) List(ctx context.Context) ([]api.SessionInfo, error) {
	m.mu.RLock()
	infos := make([]api.SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		s.mu.Lock()
		running := s.running
		s.mu.Unlock()
		pid := 0
		if s.cmd.Process != nil {
			pid = s.cmd.Process.Pid
		}
		infos = append(infos, api.SessionInfo{
			ID:        s.id,
			Command:   s.command,
			Dir:       s.dir,
			PID:       pid,
			Running:   running,
			CreatedAt: s.createdAt,
		})
	}
	m.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.Before(infos[j].CreatedAt) })
	return infos, nil
}

// ActiveID returns the id of the most recently spawned live session, empty
// if none.
func (m *Manager) ActiveID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// BufferedOutput returns the replay buffer for a session, nil if the
// session is unknown.
func (m *Manager) BufferedOutput(sessionID string) []byte {
	s, err := m.get(sessionID)
	if err != nil {
		return nil
	}
	return s.ring.Bytes()
}

// CloseAll kills every session. Used at daemon shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*session)
	m.active = ""
	m.mu.Unlock()

	for _, s := range all {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		_ = s.ptmx.Close()
	}
}

var _ api.SessionController = (*Manager)(nil)

// Package bridge exposes a single api.Surface whose transport is decided at
// initialization: in-process providers for a local backend, or a remote
// connection to a daemon. Callers never branch on the mode themselves.
package bridge

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"termdock/internal/api"
	"termdock/internal/local"
	"termdock/internal/logging"
	"termdock/internal/pubsub"
	"termdock/internal/remote"
)

// Mode selects the transport behind the facade.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

// Options configure Initialize.
type Options struct {
	Mode Mode

	// Providers back the surface in local mode. Bus carries their events;
	// nil means a fresh publisher with no producers attached.
	Providers api.Providers
	Bus       *pubsub.Publisher

	// Remote holds the connection options in remote mode. Zero fields get
	// the package defaults.
	Remote remote.Options
}

// Bridge is the process-wide surface. The zero value is unusable until
// Initialize succeeds; every call before that fails fast with
// api.ErrNotInitialized rather than queueing.
type Bridge struct {
	mu      sync.RWMutex
	mode    Mode
	surface api.Surface
	conn    *remote.Conn // non-nil in remote mode
	ready   bool

	log *zap.Logger
}

// New returns an uninitialized Bridge.
func New() *Bridge {
	return &Bridge{log: logging.L().Named("bridge")}
}

// Initialize wires the surface for the selected mode. In local mode this is
// synchronous and cannot fail; in remote mode it dials the daemon and waits
// for the sync handshake. Safe to call again after a failed remote
// initialization.
func (b *Bridge) Initialize(ctx context.Context, opts Options) error {
	switch opts.Mode {
	case ModeLocal:
		bus := opts.Bus
		if bus == nil {
			bus = pubsub.NewPublisher()
		}
		adapter := local.NewAdapter(opts.Providers, bus)
		b.mu.Lock()
		b.mode = ModeLocal
		b.surface = adapter
		b.conn = nil
		b.ready = true
		b.mu.Unlock()
		b.log.Info("surface initialized", zap.String("mode", string(ModeLocal)))
		return nil

	case ModeRemote:
		conn := remote.New(opts.Remote)
		if err := conn.Connect(ctx); err != nil {
			return err
		}
		b.mu.Lock()
		b.mode = ModeRemote
		b.surface = conn
		b.conn = conn
		b.ready = true
		b.mu.Unlock()
		b.log.Info("surface initialized",
			zap.String("mode", string(ModeRemote)),
			zap.String("state", string(conn.State())))
		return nil

	default:
		return api.NewUnavailable("", "unknown bridge mode "+string(opts.Mode))
	}
}

// Mode reports the active transport mode, empty before initialization.
func (b *Bridge) Mode() Mode {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.mode
}

// IsReady reports whether the surface can take calls.
func (b *Bridge) IsReady() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.ready {
		return false
	}
	if b.conn != nil {
		return b.conn.State() == remote.StateReady
	}
	return true
}

// Conn returns the remote connection, or nil in local mode.
func (b *Bridge) Conn() *remote.Conn {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.conn
}

// Retry re-runs the remote connect protocol after the reconnect machinery
// gave up. No-op in local mode.
func (b *Bridge) Retry(ctx context.Context) error {
	b.mu.RLock()
	conn := b.conn
	b.mu.RUnlock()
	if conn == nil {
		return nil
	}
	return conn.Connect(ctx)
}

// Invoke forwards to the active surface.
func (b *Bridge) Invoke(ctx context.Context, op api.Op, params any, result any) error {
	b.mu.RLock()
	surface := b.surface
	ready := b.ready
	b.mu.RUnlock()
	if !ready || surface == nil {
		return api.ErrNotInitialized
	}
	return surface.Invoke(ctx, op, params, result)
}

// Subscribe forwards to the active surface.
func (b *Bridge) Subscribe(ch api.Channel, fn api.EventHandler) (api.Subscription, error) {
	b.mu.RLock()
	surface := b.surface
	ready := b.ready
	b.mu.RUnlock()
	if !ready || surface == nil {
		return nil, api.ErrNotInitialized
	}
	return surface.Subscribe(ch, fn)
}

// Close shuts the remote connection down if one exists.
func (b *Bridge) Close() error {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.surface = nil
	b.ready = false
	b.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

var _ api.Surface = (*Bridge)(nil)

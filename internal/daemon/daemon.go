package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"termdock/internal/api"
	"termdock/internal/config"
	"termdock/internal/journal"
	"termdock/internal/local"
	"termdock/internal/logging"
	"termdock/internal/pubsub"
	"termdock/internal/session"
	"termdock/internal/store"
	"termdock/internal/websocket"
	"termdock/internal/wire"
)

// Options configure a Daemon.
type Options struct {
	Dir  string // termdock directory; empty means config.Dir()
	Port int    // overrides the settings file when > 0

	// WebSocketPort enables the browser bridge when > 0; -1 disables it,
	// 0 picks a free port in the default range.
	WebSocketPort int
}

// Daemon bundles the backend: providers, event bus, protocol server, and
// the optional websocket and tailnet listeners.
type Daemon struct {
	opts Options
	dir  string
	log  *zap.Logger

	bus      *pubsub.Publisher
	cfg      *config.Store
	sessions *session.Manager
	registry *store.Store
	adapter  *local.Adapter
	server   *Server
	ws       *websocket.Bridge
	tailnet  *TailnetListener
	events   *journal.Journal

	addr   net.Addr
	wsPort int
}

// New wires a Daemon from the settings on disk. Nothing listens until Run.
func New(opts Options) (*Daemon, error) {
	dir := opts.Dir
	if dir == "" {
		var err error
		dir, err = config.Dir()
		if err != nil {
			return nil, err
		}
	}

	bus := pubsub.NewPublisher()

	cfgStore, err := config.NewStore(config.Path(dir), bus)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	settings := cfgStore.Settings()

	sessions := session.NewManager(session.Options{
		DefaultCommand: settings.Agent.Command,
		DefaultArgs:    settings.Agent.Args,
		RingSize:       settings.Terminal.ScrollbackBytes,
	}, bus)

	registry, err := store.Open(filepath.Join(dir, "registry.db"), bus)
	if err != nil {
		cfgStore.Close()
		return nil, fmt.Errorf("open registry: %w", err)
	}

	adapter := local.NewAdapter(api.Providers{
		Sessions: sessions,
		Config:   cfgStore,
		Agents:   registry.Agents(),
		Hotkeys:  registry.Hotkeys(),
		MCP:      registry.MCPServers(),
		Projects: registry.Projects(),
	}, bus)

	d := &Daemon{
		opts:     opts,
		dir:      dir,
		log:      logging.L().Named("daemon"),
		bus:      bus,
		cfg:      cfgStore,
		sessions: sessions,
		registry: registry,
		adapter:  adapter,
	}
	d.server = NewServer(adapter, d.buildSnapshot)
	return d, nil
}

// Surface returns the daemon's in-process capability surface.
func (d *Daemon) Surface() api.Surface { return d.adapter }

// Bus returns the daemon's event bus.
func (d *Daemon) Bus() *pubsub.Publisher { return d.bus }

// Addr returns the protocol listener address, nil before Run.
func (d *Daemon) Addr() net.Addr { return d.addr }

// WebSocketPort returns the browser bridge port, 0 when disabled.
func (d *Daemon) WebSocketPort() int { return d.wsPort }

// buildSnapshot captures the state a freshly connected client needs to
// catch up: live sessions, the active one with its buffered output, the
// settings document, and the active project.
func (d *Daemon) buildSnapshot() *wire.Snapshot {
	snap := &wire.Snapshot{}

	active := d.sessions.ActiveID()
	snap.ActiveSessionID = active
	snap.SessionActive = active != ""
	if active != "" {
		snap.BufferedOutput = d.sessions.BufferedOutput(active)
	}

	if infos, err := d.sessions.List(context.Background()); err == nil {
		if data, err := json.Marshal(infos); err == nil {
			snap.Sessions = data
		}
	}
	if doc, err := d.cfg.Get(context.Background()); err == nil {
		snap.Config = doc
	}
	if proj, err := d.registry.Projects().Current(context.Background()); err == nil {
		snap.ActiveProject = proj.ID
	}
	if addr, ok := d.addr.(*net.TCPAddr); ok {
		snap.BackendPort = addr.Port
	}
	return snap
}

// Run starts listening and blocks until ctx is canceled.
func (d *Daemon) Run(ctx context.Context) error {
	settings := d.cfg.Settings()

	port := settings.Daemon.Port
	if d.opts.Port > 0 {
		port = d.opts.Port
	}
	addr, err := d.server.Listen(fmt.Sprintf(":%d", port), settings.Daemon.LocalOnly)
	if err != nil {
		return err
	}
	d.addr = addr
	d.log.Info("daemon listening", zap.String("addr", addr.String()))

	// Event frames fan out to every protocol client.
	d.bus.Tap(func(ch api.Channel, payload []byte) {
		d.server.Broadcast(ch, payload)
	})

	if j, err := journal.Open(filepath.Join(d.dir, "log", "events.jsonl")); err != nil {
		d.log.Warn("event journal disabled", zap.Error(err))
	} else {
		d.events = j
		d.bus.Tap(func(ch api.Channel, payload []byte) {
			if err := j.Record(ch, payload); err != nil {
				d.log.Debug("journal write failed", zap.Error(err))
			}
		})
	}

	if err := d.cfg.Watch(); err != nil {
		d.log.Warn("settings watch disabled", zap.Error(err))
	}

	if d.opts.WebSocketPort >= 0 {
		wsPort := d.opts.WebSocketPort
		if wsPort == 0 {
			wsPort, err = FindAvailablePort(websocket.DefaultPortRangeMin, websocket.DefaultPortRangeMax)
			if err != nil {
				d.log.Warn("websocket bridge disabled", zap.Error(err))
			}
		}
		if wsPort > 0 {
			ws := websocket.NewBridge(d.adapter, d.buildSnapshot)
			if err := ws.Start(wsPort); err != nil {
				d.log.Warn("websocket bridge failed to start", zap.Error(err))
			} else {
				d.ws = ws
				d.wsPort = wsPort
				d.bus.Tap(ws.Broadcast)
				if err := WritePortFile(wsPortFilePath(d.dir), wsPort); err != nil {
					d.log.Warn("write websocket port file", zap.Error(err))
				}
				d.log.Info("websocket bridge listening", zap.Int("port", wsPort))
			}
		}
	}

	switch ts, err := startTailnetListener(config.LoadTailscaleConfig(d.dir)); {
	case err == nil:
		d.tailnet = ts
		d.server.Serve(ts)
		d.log.Info("tailnet listener up",
			zap.String("hostname", ts.Hostname()),
			zap.Int("port", ts.Port()))
	case errors.Is(err, errTailnetDisabled):
	default:
		d.log.Warn("tailnet listener unavailable", zap.Error(err))
	}

	tcpPort := port
	if a, ok := addr.(*net.TCPAddr); ok {
		tcpPort = a.Port
	}
	if err := WritePIDFile(PIDFilePath(d.dir), PIDInfo{
		PID:       os.Getpid(),
		Port:      tcpPort,
		StartedAt: time.Now().UTC(),
	}); err != nil {
		d.log.Warn("write PID file", zap.Error(err))
	}
	if err := WritePortFile(PortFilePath(d.dir), tcpPort); err != nil {
		d.log.Warn("write port file", zap.Error(err))
	}

	<-ctx.Done()
	return d.shutdown()
}

func (d *Daemon) shutdown() error {
	d.log.Info("daemon shutting down")

	if d.ws != nil {
		_ = d.ws.Stop()
	}
	if d.tailnet != nil {
		_ = d.tailnet.Close()
	}
	err := d.server.Stop()
	d.sessions.CloseAll()
	if d.events != nil {
		_ = d.events.Close()
	}
	_ = d.cfg.Close()
	_ = d.registry.Close()
	_ = RemovePortFile(PortFilePath(d.dir))
	_ = RemovePIDFile(PIDFilePath(d.dir))
	return err
}

func wsPortFilePath(dir string) string {
	return filepath.Join(dir, "var", "ws.port")
}

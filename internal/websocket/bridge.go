// Package websocket exposes the daemon's envelope protocol to browser
// clients. Frames are the same JSON envelopes as on the TCP listener, one
// per websocket text message instead of one per line.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"termdock/internal/api"
	"termdock/internal/logging"
	"termdock/internal/transport"
	"termdock/internal/wire"
)

// Default port range the daemon scans when no explicit websocket port is
// configured.
const (
	DefaultPortRangeMin = 9000
	DefaultPortRangeMax = 9999
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	sendBuffer   = 256
)

// SnapshotFunc builds the sync snapshot sent as the first frame to every
// client.
type SnapshotFunc func() *wire.Snapshot

// Bridge upgrades HTTP connections and serves the envelope protocol over
// them.
type Bridge struct {
	surface  api.Surface
	snapshot SnapshotFunc
	upgrader websocket.Upgrader
	log      *zap.Logger

	httpServer *http.Server

	mu       sync.RWMutex
	conns    map[*wsConn]struct{}
	shutdown bool
	wg       sync.WaitGroup
}

type wsConn struct {
	id     string
	conn   *websocket.Conn
	sendCh chan []byte
	mu     sync.Mutex
	closed bool
}

// NewBridge creates a Bridge dispatching to surface.
func NewBridge(surface api.Surface, snapshot SnapshotFunc) *Bridge {
	b := &Bridge{
		surface:  surface,
		snapshot: snapshot,
		log:      logging.L().Named("websocket"),
		conns:    make(map[*wsConn]struct{}),
		upgrader: websocket.Upgrader{
			// Local bridge; the browser UI connects from file:// or
			// localhost origins.
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", b.handleUpgrade)
	b.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return b
}

// Start begins listening on the given port.
func (b *Bridge) Start(port int) error {
	b.httpServer.Addr = fmt.Sprintf("127.0.0.1:%d", port)
	ln, err := net.Listen("tcp", b.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("websocket listen on %s: %w", b.httpServer.Addr, err)
	}
	go func() {
		if err := b.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			b.log.Warn("websocket server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Stop closes all clients and shuts the HTTP server down.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	b.shutdown = true
	conns := make([]*wsConn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, c := range conns {
		c.close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown websocket server: %w", err)
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		b.log.Warn("timed out waiting for websocket clients")
	}
	return nil
}

// Broadcast sends an event frame to every connected client. Matches the
// pubsub TapFunc signature so the daemon can tap the bus straight into the
// bridge.
func (b *Bridge) Broadcast(ch api.Channel, payload []byte) {
	frame, err := wire.Event(string(ch), payload).Encode()
	if err != nil {
		b.log.Warn("encode event frame", zap.Error(err))
		return
	}

	b.mu.RLock()
	conns := make([]*wsConn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.RUnlock()

	for _, c := range conns {
		if err := c.send(frame); err != nil {
			b.log.Debug("drop websocket client on broadcast failure", zap.Error(err))
			b.remove(c)
		}
	}
}

// ClientCount returns the number of live websocket clients.
func (b *Bridge) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.conns)
}

func (b *Bridge) remove(c *wsConn) {
	b.mu.Lock()
	_, ok := b.conns[c]
	if ok {
		delete(b.conns, c)
	}
	b.mu.Unlock()
	if ok {
		c.close()
	}
}

func (b *Bridge) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	// Hold the lock across the shutdown check and wg.Add to keep Stop's
	// wg.Wait from racing the Add.
	b.mu.Lock()
	if b.shutdown {
		b.mu.Unlock()
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.wg.Done()
		b.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	go b.handleConnection(conn)
}

func (b *Bridge) handleConnection(conn *websocket.Conn) {
	defer b.wg.Done()

	c := &wsConn{id: uuid.NewString(), conn: conn, sendCh: make(chan []byte, sendBuffer)}
	b.mu.Lock()
	b.conns[c] = struct{}{}
	b.mu.Unlock()
	defer b.remove(c)

	log := b.log.With(zap.String("client", c.id))
	log.Debug("websocket client connected", zap.String("remote", conn.RemoteAddr().String()))
	defer log.Debug("websocket client disconnected")

	snap := &wire.Snapshot{}
	if b.snapshot != nil {
		snap = b.snapshot()
	}
	frame, err := wire.Sync(snap).Encode()
	if err != nil || c.send(frame) != nil {
		return
	}

	errCh := make(chan error, 2)
	go func() { errCh <- c.writeLoop() }()
	go func() { errCh <- b.readLoop(c) }()
	<-errCh
}

func (b *Bridge) readLoop(c *wsConn) error {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				return fmt.Errorf("read: %w", err)
			}
			return nil
		}
		env, err := wire.Decode(message)
		if err != nil {
			b.log.Warn("drop malformed frame", zap.Error(err))
			continue
		}
		if env.Kind != wire.KindRequest {
			b.log.Warn("drop unexpected frame", zap.String("kind", string(env.Kind)))
			continue
		}
		go b.handleRequest(c, env)
	}
}

func (b *Bridge) handleRequest(c *wsConn, env *wire.Envelope) {
	op := api.Op(env.Channel)
	var params any
	if len(env.Arguments) > 0 {
		params = env.Arguments[0]
	}

	ctx := transport.WithTransport(context.Background(), transport.TransportWebSocket)
	var result json.RawMessage
	err := b.surface.Invoke(ctx, op, params, &result)

	var resp *wire.Envelope
	if err != nil {
		resp = wire.ErrorResponse(env.ID, err.Error())
	} else {
		resp = wire.SuccessResponse(env.ID, result)
	}
	frame, encErr := resp.Encode()
	if encErr != nil {
		b.log.Warn("encode response", zap.Error(encErr))
		return
	}
	if sendErr := c.send(frame); sendErr != nil {
		b.remove(c)
	}
}

func (c *wsConn) writeLoop() error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.sendCh:
			if !ok {
				return nil
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

func (c *wsConn) send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("connection closed")
	}
	select {
	case c.sendCh <- msg:
		return nil
	default:
		return fmt.Errorf("send buffer full")
	}
}

func (c *wsConn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.sendCh)
	c.mu.Unlock()
	_ = c.conn.Close()
}

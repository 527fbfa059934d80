// Package daemon runs the backend: a TCP server speaking the line-delimited
// envelope protocol, dispatching operations to the capability providers and
// broadcasting events to every connected client.
package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"termdock/internal/api"
	"termdock/internal/logging"
	"termdock/internal/transport"
	"termdock/internal/wire"
)

// SnapshotFunc builds the sync snapshot sent as the first frame of every
// client connection.
type SnapshotFunc func() *wire.Snapshot

// Server accepts client connections and serves the envelope protocol over
// them. Requests run concurrently per connection; responses and events are
// serialized by a per-connection writer lock.
type Server struct {
	surface  api.Surface
	snapshot SnapshotFunc
	log      *zap.Logger

	mu        sync.RWMutex
	listeners []net.Listener
	conns     map[*serverConn]struct{}
	shutdown  bool
	wg        sync.WaitGroup
}

type serverConn struct {
	id   string
	conn net.Conn
	wmu  sync.Mutex
}

func (c *serverConn) send(env *wire.Envelope) error {
	frame, err := env.Encode()
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err = c.conn.Write(frame)
	return err
}

// NewServer creates a Server dispatching to surface. snapshot may be nil,
// in which case clients get an empty snapshot.
func NewServer(surface api.Surface, snapshot SnapshotFunc) *Server {
	return &Server{
		surface:  surface,
		snapshot: snapshot,
		log:      logging.L().Named("daemon"),
		conns:    make(map[*serverConn]struct{}),
	}
}

// Listen starts accepting on addr. localOnly binds loopback only.
func (s *Server) Listen(addr string, localOnly bool) (net.Addr, error) {
	if localOnly {
		host, port, err := net.SplitHostPort(addr)
		if err == nil && (host == "" || host == "0.0.0.0" || host == "::") {
			addr = net.JoinHostPort("127.0.0.1", port)
		}
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.Serve(ln)
	return ln.Addr(), nil
}

// Serve accepts connections from an externally created listener. Used for
// the tsnet listener alongside the TCP one.
func (s *Server) Serve(ln net.Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, ln)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ln)
	}()
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.RLock()
			shutdown := s.shutdown
			s.mu.RUnlock()
			if shutdown {
				return
			}
			s.log.Warn("accept error", zap.Error(err))
			continue
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// Stop closes the listeners and all live connections, then waits for the
// connection handlers to finish.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.shutdown = true
	listeners := s.listeners
	s.listeners = nil
	conns := make([]*serverConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, ln := range listeners {
		_ = ln.Close()
	}
	for _, c := range conns {
		_ = c.conn.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.log.Warn("timed out waiting for connections to drain")
	}
	return nil
}

// Broadcast sends an event frame to every connected client. Connections
// that fail to take the frame are dropped.
func (s *Server) Broadcast(ch api.Channel, payload []byte) {
	env := wire.Event(string(ch), payload)

	s.mu.RLock()
	conns := make([]*serverConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		if err := c.send(env); err != nil {
			s.log.Debug("drop client on broadcast failure", zap.Error(err))
			s.drop(c)
		}
	}
}

// ClientCount returns the number of live client connections.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

func (s *Server) drop(c *serverConn) {
	s.mu.Lock()
	_, ok := s.conns[c]
	if ok {
		delete(s.conns, c)
	}
	s.mu.Unlock()
	if ok {
		_ = c.conn.Close()
	}
}

// handleConnection serves one client: sync frame first, then the
// request/response loop until the peer goes away.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	c := &serverConn{id: uuid.NewString(), conn: conn}
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	defer s.drop(c)

	log := s.log.With(zap.String("client", c.id))
	log.Debug("client connected", zap.String("remote", conn.RemoteAddr().String()))
	defer log.Debug("client disconnected")

	snap := &wire.Snapshot{}
	if s.snapshot != nil {
		snap = s.snapshot()
	}
	if err := c.send(wire.Sync(snap)); err != nil {
		s.log.Debug("send sync frame", zap.Error(err))
		return
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		env, err := wire.Decode(line)
		if err != nil {
			s.log.Warn("drop malformed frame", zap.Error(err))
			continue
		}
		if env.Kind != wire.KindRequest {
			s.log.Warn("drop unexpected frame", zap.String("kind", string(env.Kind)))
			continue
		}
		go s.handleRequest(c, env)
	}
}

func (s *Server) handleRequest(c *serverConn, env *wire.Envelope) {
	op := api.Op(env.Channel)
	var params any
	if len(env.Arguments) > 0 {
		params = env.Arguments[0]
	}

	ctx := transport.WithTransport(context.Background(), transport.TransportTCP)
	var result json.RawMessage
	err := s.surface.Invoke(ctx, op, params, &result)

	var resp *wire.Envelope
	if err != nil {
		s.log.Debug("request failed",
			zap.String("op", string(op)),
			zap.String("transport", transport.FromContext(ctx).String()),
			zap.Error(err))
		resp = wire.ErrorResponse(env.ID, err.Error())
	} else {
		resp = wire.SuccessResponse(env.ID, result)
	}
	if sendErr := c.send(resp); sendErr != nil {
		s.log.Debug("drop client on response failure", zap.Error(sendErr))
		s.drop(c)
	}
}
